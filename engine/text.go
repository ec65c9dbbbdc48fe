package engine

import (
	"fmt"
	"net/netip"
	"sort"
	"strconv"
	"strings"

	"github.com/kestrelnet/lpmcore/radix"
)

// MalformedError reports a bad route-spec line, carrying the 0-based
// argument index so the caller can point at the offending field
// (spec.md §7's Malformed kind, grounded in the original element's
// errh->error("argument %d ...", i) convention).
type MalformedError struct {
	Line  string
	Index int
	Msg   string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("lpmcore: malformed route-spec %q (argument %d): %s", e.Line, e.Index, e.Msg)
}

// routeSpec is one parsed "ADDR/MASK [GW] OUT" line.
type routeSpec struct {
	Prefix netip.Prefix
	GW     netip.Addr
	Port   int
}

func parseRouteSpec(line string) (routeSpec, error) {
	fields := strings.Fields(line)
	switch len(fields) {
	case 2:
		pfx, err := netip.ParsePrefix(fields[0])
		if err != nil {
			return routeSpec{}, &MalformedError{Line: line, Index: 0, Msg: err.Error()}
		}
		port, err := strconv.Atoi(fields[1])
		if err != nil {
			return routeSpec{}, &MalformedError{Line: line, Index: 1, Msg: err.Error()}
		}
		return routeSpec{Prefix: pfx.Masked(), Port: port}, nil
	case 3:
		pfx, err := netip.ParsePrefix(fields[0])
		if err != nil {
			return routeSpec{}, &MalformedError{Line: line, Index: 0, Msg: err.Error()}
		}
		gw, err := netip.ParseAddr(fields[1])
		if err != nil {
			return routeSpec{}, &MalformedError{Line: line, Index: 1, Msg: err.Error()}
		}
		port, err := strconv.Atoi(fields[2])
		if err != nil {
			return routeSpec{}, &MalformedError{Line: line, Index: 2, Msg: err.Error()}
		}
		return routeSpec{Prefix: pfx.Masked(), GW: gw, Port: port}, nil
	default:
		return routeSpec{}, &MalformedError{Line: line, Index: len(fields), Msg: "expected ADDR/MASK [GW] OUT"}
	}
}

// ConfigureErrors collects the Malformed errors accumulated by Configure.
// A non-empty ConfigureErrors means the engine refused to initialize
// (spec.md §6/§7: "if any occur, the engine refuses to initialize").
type ConfigureErrors []error

func (c ConfigureErrors) Error() string {
	lines := make([]string, len(c))
	for i, err := range c {
		lines[i] = err.Error()
	}
	return strings.Join(lines, "\n")
}

// Configure parses an ordered list of route-spec strings and inserts
// them all. Parse errors are accumulated; if any occurred, nothing is
// inserted and the returned error is non-nil (a ConfigureErrors).
func (e *Engine) Configure(routes []string) error {
	specs := make([]routeSpec, 0, len(routes))
	var errs ConfigureErrors
	for _, line := range routes {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		spec, err := parseRouteSpec(line)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		specs = append(specs, spec)
	}
	if len(errs) > 0 {
		e.log.Error().Int("count", len(errs)).Msg("configure: refusing to initialize")
		return errs
	}

	for _, spec := range specs {
		if err := e.AddRoute(spec.Prefix, spec.GW, spec.Port); err != nil {
			return err
		}
	}
	e.ApplyPending()
	return nil
}

// ctrlOp is one line of a Ctrl batch: "add"/"set"/"remove" plus its
// route-spec fields.
type ctrlOp struct {
	Op   string
	Spec routeSpec
}

// Ctrl applies a multi-line batch of add/set/remove operations as one
// atomic apply pass (spec.md §6's ctrl handler): every line is parsed
// first, and if all parse cleanly they are applied in order followed by
// a single ApplyPending, rather than one apply per line.
func (e *Engine) Ctrl(lines []string) error {
	ops := make([]ctrlOp, 0, len(lines))
	var errs ConfigureErrors
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		op := fields[0]
		if op != "add" && op != "set" && op != "remove" {
			errs = append(errs, &MalformedError{Line: line, Index: 0, Msg: "expected add/set/remove"})
			continue
		}
		rest := ""
		if len(fields) > 1 {
			rest = fields[1]
		}
		if op == "remove" {
			pfx, err := netip.ParsePrefix(strings.TrimSpace(rest))
			if err != nil {
				errs = append(errs, &MalformedError{Line: line, Index: 1, Msg: err.Error()})
				continue
			}
			ops = append(ops, ctrlOp{Op: op, Spec: routeSpec{Prefix: pfx.Masked()}})
			continue
		}
		spec, err := parseRouteSpec(rest)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ops = append(ops, ctrlOp{Op: op, Spec: spec})
	}
	if len(errs) > 0 {
		return errs
	}

	for _, op := range ops {
		switch op.Op {
		case "add":
			if err := e.AddRoute(op.Spec.Prefix, op.Spec.GW, op.Spec.Port); err != nil {
				return err
			}
		case "set":
			if err := e.SetRoute(op.Spec.Prefix, op.Spec.GW, op.Spec.Port); err != nil {
				return err
			}
		case "remove":
			if _, _, err := e.RemoveRoute(op.Spec.Prefix); err != nil {
				return err
			}
		}
	}
	e.ApplyPending()
	return nil
}

// DumpRoutes renders every stored prefix (both families, default routes
// first) as tab-separated "prefix/len\tgw\tport\n" lines, matching
// spec.md §6. The output is accepted back by Configure unchanged.
func (e *Engine) DumpRoutes() string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var b strings.Builder
	dumpDefault := func(fam *family, zero netip.Prefix) {
		if !fam.haveDefault {
			return
		}
		fmt.Fprintf(&b, "%s\t%s\t%d\n", zero, gwString(fam.defaultGW), fam.defaultPort)
	}
	dumpDefault(&e.v4, netip.MustParsePrefix("0.0.0.0/0"))
	dumpDefault(&e.v6, netip.MustParsePrefix("::/0"))

	dumpFamily := func(fam *family) {
		type row struct {
			pfx  netip.Prefix
			id   int
		}
		var rows []row
		fam.trie.Walk(func(pfx netip.Prefix, id int) int {
			rows = append(rows, row{pfx, id})
			return radix.WalkContinue
		})
		sort.Slice(rows, func(i, j int) bool {
			return rows[i].pfx.String() < rows[j].pfx.String()
		})
		for _, r := range rows {
			gw, port, _ := fam.nexthops.Get(r.id)
			fmt.Fprintf(&b, "%s\t%s\t%d\n", r.pfx, gwString(gw), port)
		}
	}
	dumpFamily(&e.v4)
	dumpFamily(&e.v6)

	return b.String()
}

func gwString(gw netip.Addr) string {
	if !gw.IsValid() || gw.IsUnspecified() {
		return "0.0.0.0"
	}
	return gw.String()
}

// Status renders a human-readable summary: prefix counts, unique
// nexthops, the last apply pass's duration, the accelerator type, and
// (when the v4 family carries an accelerator) its direct-hit slot count
// plus either secondary-block usage (DIR-24-8) or chunk, fragment, and
// range-pool byte counts (DXR).
func (e *Engine) Status() string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var b strings.Builder
	fmt.Fprintf(&b, "v4 prefixes\t%d\n", e.v4.trie.Size())
	fmt.Fprintf(&b, "v4 nexthops\t%d\n", e.v4.nexthops.Count())
	fmt.Fprintf(&b, "v6 prefixes\t%d\n", e.v6.trie.Size())
	fmt.Fprintf(&b, "v6 nexthops\t%d\n", e.v6.nexthops.Count())
	fmt.Fprintf(&b, "last apply\t%s\n", e.lastApply)

	switch accel := e.v4.accel.(type) {
	case nil:
		fmt.Fprintf(&b, "accelerator\tnone\n")
	default:
		fmt.Fprintf(&b, "accelerator\t%T\n", accel)
		if s, ok := accelStats(accel); ok {
			fmt.Fprint(&b, s)
		}
	}
	return b.String()
}

package engine

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kestrelnet/lpmcore/dir24"
	"github.com/kestrelnet/lpmcore/dxr"
)

// accelStats renders an accelerator's Stats() as additional status()
// lines, type-switching because dir24.Table and dxr.Table each expose a
// differently shaped Stats method (spec.md §6: "fragment counts" only
// apply to DXR).
func accelStats(accel Accelerator) (string, bool) {
	switch t := accel.(type) {
	case *dir24.Table:
		directHits, secondaryUsed, secondaryCap := t.Stats()
		return fmt.Sprintf(
			"direct hits\t%d\nsecondary blocks used\t%d\nsecondary blocks total\t%d\n",
			directHits, secondaryUsed, secondaryCap,
		), true
	case *dxr.Table:
		directHits, chunksShort, chunksLong, fragsShort, fragsLong, poolBytes := t.Stats()
		return fmt.Sprintf(
			"direct hits\t%d\nshort chunks\t%d\nlong chunks\t%d\nshort fragments\t%d\nlong fragments\t%d\nrange pool bytes\t%d\n",
			directHits, chunksShort, chunksLong, fragsShort, fragsLong, poolBytes,
		), true
	default:
		return "", false
	}
}

// collector implements prometheus.Collector over an Engine's live state,
// grounded in psaab-bpfrx's pkg/api/metrics.go bpfrxCollector pattern:
// a handful of *prometheus.Desc built once, populated by reading the
// engine's own accessors on each scrape rather than maintained
// incrementally alongside every mutation.
type collector struct {
	e *Engine

	prefixes       *prometheus.Desc
	nexthops       *prometheus.Desc
	lastApply      *prometheus.Desc
	directHitRatio *prometheus.Desc
	fragments      *prometheus.Desc
	rangePoolBytes *prometheus.Desc
}

// Collectors returns the prometheus.Collector exposing status() as
// gauges/counters (spec.md §6's status(), surfaced per SPEC_FULL.md §4
// ambient-stack metrics section).
func (e *Engine) Collectors() []prometheus.Collector {
	return []prometheus.Collector{&collector{
		e: e,
		prefixes: prometheus.NewDesc(
			"lpmcore_prefixes", "Number of stored prefixes.", []string{"family"}, nil),
		nexthops: prometheus.NewDesc(
			"lpmcore_nexthops", "Number of interned nexthop ids.", []string{"family"}, nil),
		lastApply: prometheus.NewDesc(
			"lpmcore_last_apply_seconds", "Duration of the most recent accelerator apply pass.", nil, nil),
		directHitRatio: prometheus.NewDesc(
			"lpmcore_direct_hit_ratio", "Fraction of direct-table slots resolved without a range/secondary access.", nil, nil),
		fragments: prometheus.NewDesc(
			"lpmcore_fragments", "Number of range fragments installed, by format.", []string{"format"}, nil),
		rangePoolBytes: prometheus.NewDesc(
			"lpmcore_range_pool_bytes", "Live bytes held by the DXR range pool.", nil, nil),
	}}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.prefixes
	ch <- c.nexthops
	ch <- c.lastApply
	ch <- c.directHitRatio
	ch <- c.fragments
	ch <- c.rangePoolBytes
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	e := c.e
	e.mu.RLock()
	defer e.mu.RUnlock()
	v4size, v6size := e.v4.trie.Size(), e.v6.trie.Size()
	v4nh, v6nh := e.v4.nexthops.Count(), e.v6.nexthops.Count()
	lastApply := e.lastApply
	accel := e.v4.accel

	ch <- prometheus.MustNewConstMetric(c.prefixes, prometheus.GaugeValue, float64(v4size), "v4")
	ch <- prometheus.MustNewConstMetric(c.prefixes, prometheus.GaugeValue, float64(v6size), "v6")
	ch <- prometheus.MustNewConstMetric(c.nexthops, prometheus.GaugeValue, float64(v4nh), "v4")
	ch <- prometheus.MustNewConstMetric(c.nexthops, prometheus.GaugeValue, float64(v6nh), "v6")
	ch <- prometheus.MustNewConstMetric(c.lastApply, prometheus.GaugeValue, lastApply.Seconds())

	switch t := accel.(type) {
	case *dir24.Table:
		directHits, _, _ := t.Stats()
		ch <- prometheus.MustNewConstMetric(c.directHitRatio, prometheus.GaugeValue, ratio(directHits, dir24.PrimarySize))
	case *dxr.Table:
		directHits, _, _, fragsShort, fragsLong, poolBytes := t.Stats()
		ch <- prometheus.MustNewConstMetric(c.directHitRatio, prometheus.GaugeValue, ratio(directHits, t.DirectSize()))
		ch <- prometheus.MustNewConstMetric(c.fragments, prometheus.GaugeValue, float64(fragsShort), "short")
		ch <- prometheus.MustNewConstMetric(c.fragments, prometheus.GaugeValue, float64(fragsLong), "long")
		ch <- prometheus.MustNewConstMetric(c.rangePoolBytes, prometheus.GaugeValue, float64(poolBytes))
	}
}

func ratio(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

package main

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(addCmd, setCmd, removeCmd, lookupCmd, tableCmd, flushCmd, statusCmd, statCmd)
}

var addCmd = &cobra.Command{
	Use:   "add PREFIX [GW] PORT",
	Short: "add a route, failing if the exact prefix already exists",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		pfx, gw, port, err := parseRouteArgs(args)
		if err != nil {
			return err
		}
		if err := eng.AddRoute(pfx, gw, port); err != nil {
			return err
		}
		eng.ApplyPending()
		return nil
	},
}

var setCmd = &cobra.Command{
	Use:   "set PREFIX [GW] PORT",
	Short: "insert or overwrite a route",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		pfx, gw, port, err := parseRouteArgs(args)
		if err != nil {
			return err
		}
		if err := eng.SetRoute(pfx, gw, port); err != nil {
			return err
		}
		eng.ApplyPending()
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove PREFIX",
	Short: "remove a route, failing if the exact prefix is absent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pfx, err := netip.ParsePrefix(args[0])
		if err != nil {
			return err
		}
		if _, _, err := eng.RemoveRoute(pfx); err != nil {
			return err
		}
		eng.ApplyPending()
		return nil
	},
}

var lookupCmd = &cobra.Command{
	Use:   "lookup ADDRESS",
	Short: "resolve an address to (port, gateway)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := netip.ParseAddr(args[0])
		if err != nil {
			return err
		}
		port, gw := eng.Lookup(addr)
		fmt.Fprintf(os.Stdout, "%d\t%s\n", port, gwString(gw))
		return nil
	},
}

var tableCmd = &cobra.Command{
	Use:   "table",
	Short: "dump every stored route as tab-separated prefix/len, gw, port",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprint(os.Stdout, eng.DumpRoutes())
		return nil
	},
}

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "clear every route in both families",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng.Flush()
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "print prefix/nexthop counts and accelerator stats",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprint(os.Stdout, eng.Status())
		return nil
	},
}

var statCmd = &cobra.Command{
	Use:   "stat",
	Short: "alias for status, matching the original element's short-form handler name",
	RunE:  statusCmd.RunE,
}

func parseRouteArgs(args []string) (pfx netip.Prefix, gw netip.Addr, port int, err error) {
	pfx, err = netip.ParsePrefix(args[0])
	if err != nil {
		return pfx, gw, 0, err
	}
	if len(args) == 3 {
		gw, err = netip.ParseAddr(args[1])
		if err != nil {
			return pfx, gw, 0, err
		}
		port, err = strconv.Atoi(args[2])
		return pfx, gw, port, err
	}
	port, err = strconv.Atoi(args[1])
	return pfx, gw, port, err
}

func gwString(gw netip.Addr) string {
	if !gw.IsValid() || gw.IsUnspecified() {
		return "0.0.0.0"
	}
	return gw.String()
}

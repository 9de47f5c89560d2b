package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"grimm.is/leasenet/internal/brand"
	"grimm.is/leasenet/internal/config"
)

// RunCheck validates a scenario file and prints a summary of it.
func RunCheck(configFile string, verbose bool, w io.Writer) error {
	if len(configFile) == 0 {
		return fmt.Errorf("usage: %s check [-v] <config-file>", brand.BinaryName)
	}

	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	n := cfg.Network
	fmt.Fprintf(w, "Configuration valid!\n")
	fmt.Fprintf(w, "Seed: %d\n", cfg.Seed)
	fmt.Fprintf(w, "Duration: %s\n", cfg.RunFor)
	fmt.Fprintf(w, "Pool: %s-%s (%d addresses)\n", n.PoolStart, n.PoolEnd, poolSize(n))
	fmt.Fprintf(w, "Lease time: %s\n", n.LeaseDuration)
	fmt.Fprintf(w, "Clients: %d\n", len(cfg.Clients))
	fmt.Fprintf(w, "Adversaries: %d\n", len(cfg.Adversaries))
	if cfg.Security.Enabled {
		fmt.Fprintf(w, "Admission: %d requests per %s, block after %d\n",
			cfg.Security.MaxRequests, cfg.Security.WindowDuration, cfg.Security.BlockAfter)
	}

	if !verbose {
		return nil
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CLIENT\tIDENTITY\tSTART\tHOSTNAME\tPRIMARY")
	for _, c := range cfg.Clients {
		hostname := c.Hostname
		if hostname == "" {
			hostname = n.Friendly[c.Identity]
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", c.Name, c.Identity, c.StartAt, dash(hostname), c.Primary)
	}
	if len(cfg.Adversaries) > 0 {
		fmt.Fprintln(tw, "\t\t\t\t")
		fmt.Fprintln(tw, "ADVERSARY\tMODE\tRATE\tSTART\tSTOP")
		for _, a := range cfg.Adversaries {
			stop := "-"
			if a.StopAt > 0 {
				stop = a.StopAt.String()
			}
			fmt.Fprintf(tw, "%s\t%s\t%g/s\t%s\t%s\n", a.Name, a.Mode, a.Rate, a.StartAt, stop)
		}
	}
	return tw.Flush()
}

func poolSize(n *config.NetworkConfig) int {
	size := 0
	for a := n.PoolStart; a.IsValid() && !n.PoolEnd.Less(a); a = a.Next() {
		size++
	}
	return size
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

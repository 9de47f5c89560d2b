package cmd

import (
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"grimm.is/leasenet/internal/audit"
	"grimm.is/leasenet/internal/brand"
	"grimm.is/leasenet/internal/clock"
)

// RunJournal handles the "journal" command. Without -run it lists the
// journaled runs; with it, the events of that run.
func RunJournal(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("journal", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		db     string
		run    string
		action string
		limit  int
	)
	fs.StringVar(&db, "db", brand.DefaultJournalPath(), "Journal database")
	fs.StringVar(&run, "run", "", "Show events of this run ID (\"last\" for the newest)")
	fs.StringVar(&action, "action", "", "Only show events of this type (e.g. lease.granted)")
	fs.IntVar(&limit, "n", 0, "Maximum number of events (0 for all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := audit.NewStore(db)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer store.Close()

	runs, err := store.Runs()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)

	if run == "" {
		fmt.Fprintln(tw, "RUN\tSTARTED\tSEED\tEVENTS\tLABEL")
		for _, r := range runs {
			n, err := store.Count(r.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n",
				r.ID, r.Started.Format("2006-01-02 15:04:05"), r.Seed, n, dash(r.Label))
		}
		return tw.Flush()
	}

	if run == "last" {
		if len(runs) == 0 {
			return fmt.Errorf("journal %s has no runs", db)
		}
		run = runs[len(runs)-1].ID
	}
	evts, err := store.Query(run, action, limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(tw, "SIM_TIME\tACTION\tSUBJECT\tADDRESS\tDETAILS")
	for _, e := range evts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			clock.Offset(e.Timestamp), e.Action, dash(e.Subject), dash(e.Address), formatDetails(e.Details))
	}
	return tw.Flush()
}

func formatDetails(d map[string]any) string {
	if len(d) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, d[k]))
	}
	return strings.Join(parts, " ")
}

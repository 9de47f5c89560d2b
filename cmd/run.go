package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"grimm.is/leasenet/internal/audit"
	"grimm.is/leasenet/internal/brand"
	"grimm.is/leasenet/internal/config"
	"grimm.is/leasenet/internal/logging"
	"grimm.is/leasenet/internal/simulation"
)

// RunOptions are the parsed flags of the "run" command.
type RunOptions struct {
	ConfigFile string
	Duration   time.Duration
	Seed       uint64
	Level      string
	JSON       bool
	Journal    string
	Label      string
	Report     string
	Metrics    string
}

// ParseRunFlags parses the arguments of the "run" command.
func ParseRunFlags(args []string, stderr io.Writer) (RunOptions, error) {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var opts RunOptions
	var verbose bool
	fs.StringVar(&opts.ConfigFile, "config", "", "Scenario file (built-in scenario when empty)")
	fs.StringVar(&opts.ConfigFile, "c", "", "Scenario file (short)")
	fs.DurationVar(&opts.Duration, "duration", 0, "Override the simulated duration")
	fs.Uint64Var(&opts.Seed, "seed", 0, "Override the random seed")
	fs.StringVar(&opts.Level, "level", "info", "Log level (debug, info, warn, error)")
	fs.BoolVar(&verbose, "v", false, "Debug logging (same as -level debug)")
	fs.BoolVar(&opts.JSON, "json", false, "Log as JSON")
	fs.StringVar(&opts.Journal, "journal", "", "Record lifecycle events to a SQLite journal (\"default\" for the state dir)")
	fs.StringVar(&opts.Label, "label", "", "Label stored with the journaled run")
	fs.StringVar(&opts.Report, "report", "-", "Where to write the YAML report (\"-\" for stdout, empty to skip)")
	fs.StringVar(&opts.Metrics, "metrics", "", "Where to write final metrics in Prometheus text format")

	if err := fs.Parse(args); err != nil {
		return RunOptions{}, err
	}
	if fs.NArg() > 0 {
		opts.ConfigFile = fs.Arg(0)
	}
	if verbose {
		opts.Level = "debug"
	}
	if opts.Journal == "default" {
		opts.Journal = brand.DefaultJournalPath()
	}
	return opts, nil
}

// RunSimulation handles the "run" command.
func RunSimulation(args []string, stdout, stderr io.Writer) error {
	opts, err := ParseRunFlags(args, stderr)
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(opts.Level)
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{Level: level, Output: stderr, JSON: opts.JSON})
	logging.SetDefault(logger)

	cfg, err := loadScenario(opts)
	if err != nil {
		return err
	}

	simOpts := simulation.Options{Logger: logger, Label: opts.Label}
	if opts.Journal != "" {
		store, err := audit.NewStore(opts.Journal)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer store.Close()
		simOpts.Journal = store
	}

	sim, err := simulation.Build(cfg, simOpts)
	if err != nil {
		return fmt.Errorf("build simulation: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, runErr := sim.Run(ctx)
	if report != nil {
		if err := writeOutput(opts.Report, stdout, report.WriteYAML); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		if err := writeOutput(opts.Metrics, stdout, sim.Metrics().WriteText); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return runErr
}

func loadScenario(opts RunOptions) (*config.Config, error) {
	cfg := config.Default()
	if opts.ConfigFile != "" {
		var err error
		if cfg, err = config.LoadFile(opts.ConfigFile); err != nil {
			return nil, fmt.Errorf("configuration invalid: %w", err)
		}
	}
	if opts.Duration > 0 {
		cfg.RunFor = opts.Duration
		cfg.Duration = opts.Duration.String()
	}
	if opts.Seed != 0 {
		cfg.Seed = opts.Seed
	}
	return cfg, nil
}

// writeOutput sends output to stdout for "-" and to a file otherwise.
// An empty destination skips it.
func writeOutput(dest string, stdout io.Writer, write func(io.Writer) error) error {
	switch dest {
	case "":
		return nil
	case "-":
		return write(stdout)
	}
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

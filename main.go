package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"grimm.is/leasenet/cmd"
	"grimm.is/leasenet/internal/brand"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = cmd.RunSimulation(os.Args[2:], os.Stdout, os.Stderr)

	case "check":
		checkFlags := flag.NewFlagSet("check", flag.ExitOnError)
		verbose := checkFlags.Bool("v", false, "Verbose output")
		checkFlags.Parse(os.Args[2:])
		err = cmd.RunCheck(checkFlags.Arg(0), *verbose, os.Stdout)

	case "journal":
		err = cmd.RunJournal(os.Args[2:], os.Stdout, os.Stderr)

	case "version":
		fmt.Printf("%s %s (%s)\n", brand.Name, brand.Version, brand.GitCommit)

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `%s - %s

Usage:
  %s <command> [options]

Commands:
  run [flags] [scenario.hcl]   Run a scenario and print the end-of-run report
  check [-v] <scenario.hcl>    Validate a scenario file
  journal [flags]              List journaled runs or show one run's events
  version                      Show version
  help                         Show this help

Run flags:
  -c, -config <file>   Scenario file (built-in two-client scenario when omitted)
  -duration <d>        Override the simulated duration
  -seed <n>            Override the random seed
  -journal <path>      Record lifecycle events to a SQLite journal ("default" for %s)
  -report <path>       YAML report destination ("-" for stdout)
  -metrics <path>      Prometheus text metrics destination
  -json, -v, -level    Logging

Journal flags:
  -db <path>           Journal database
  -run <id|last>       Show the events of one run
  -action <type>       Filter events by type
  -n <count>           Limit the number of events
`, brand.BinaryName, brand.Description, brand.BinaryName, brand.DefaultJournalPath())
}

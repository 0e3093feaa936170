// Command postexperiment loads the shots of an experiment, evaluates
// diagnostics on them and plots the results.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/postexperiment/internal/version"
)

// errUsage is returned for bad command lines; run prints the usage for it.
var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 2
	}

	command, rest := args[0], args[1:]
	var err error
	switch command {
	case "version":
		fmt.Fprintf(stdout, "postexperiment version %s\n", version.String())
	case "list":
		err = handleList(ctx, rest, stdout)
	case "eval":
		err = handleEval(ctx, rest, stdout)
	case "plot":
		err = handlePlot(ctx, rest, stdout)
	case "cache":
		err = handleCache(ctx, rest, stdout)
	case "help", "-h", "--help":
		printUsage(stdout)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", command)
		printUsage(stderr)
		return 2
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, errUsage):
		fmt.Fprintf(stderr, "Error: %v\n\n", err)
		printUsage(stderr)
		return 2
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `postexperiment - postprocessing of shot based experiments

Usage: postexperiment <command> [options]

Commands:
  version    Show the version
  list       List the shots of the series
  eval       Evaluate a diagnostic on every shot
  plot       Plot the mean of a diagnostic, or a scalar diagnostic across shots
  cache      Maintain the result cache (gc | stats)
  help       Show this help message

Common Flags:
  -config <file>    Run configuration (.json, .yaml or .yml)
                    Defaults to postexperiment.yaml
  -workers <n>      Evaluate n shots concurrently (overrides the configuration)

Examples:
  postexperiment list -config run.yaml
  postexperiment eval -config run.yaml -diag focus_sigma_x
  postexperiment eval -config run.yaml -diag focus_sigma_x -group energy
  postexperiment plot -config run.yaml -diag focus -out focus.png
  postexperiment plot -config run.yaml -diag focus_sigma_x -out sigma.html
  postexperiment cache -config run.yaml gc
`)
}

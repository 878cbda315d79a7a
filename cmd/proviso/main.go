// Command proviso runs program declarations with delayed obligations
// from definition files and reports their status.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/proviso-lang/proviso/pkg/config"
	"github.com/proviso-lang/proviso/pkg/vernac"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}
	switch args[0] {
	case "run":
		return runPrograms(args[1:], stdout, stderr)
	case "obligations":
		return runObligations(args[1:], stdout, stderr)
	case "libraries":
		return runLibraries(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		usage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		usage(stderr)
		return 2
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: proviso <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "commands:")
	fmt.Fprintln(w, "  run          load program files, auto-solve obligations, report status")
	fmt.Fprintln(w, "  obligations  load program files and list their obligations")
	fmt.Fprintln(w, "  libraries    verify required support libraries are loaded")
}

// runPrograms implements `proviso run`.
//
// Exit codes:
//
//	0 = all programs defined (or obligations intentionally left open)
//	1 = obligations remain and -check was set
//	2 = runtime error
func runPrograms(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("run", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		profilePath string
		jsonOutput  bool
		checkClose  bool
		solveAll    bool
		tacticName  string
	)
	cmd.StringVar(&profilePath, "profile", "", "Session profile (YAML)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output status as JSON to stdout")
	cmd.BoolVar(&checkClose, "check", false, "Fail if any obligations remain open")
	cmd.BoolVar(&solveAll, "solve", false, "Attempt all obligations with default strategies after loading")
	cmd.StringVar(&tacticName, "tactic", "", "Tactic to use with -solve instead of per-obligation defaults")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() == 0 {
		fmt.Fprintln(stderr, "run: no program files given")
		return 2
	}

	cfg := config.Load()
	if profilePath != "" {
		profile, err := config.LoadProfile(profilePath)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 2
		}
		profile.Apply(cfg)
	}
	session, err := vernac.NewSession(cfg, newLogger(cfg, stderr))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	ctx := context.Background()
	for _, path := range cmd.Args() {
		progress, err := session.RunProgramFile(ctx, path)
		if err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", path, err)
			return 2
		}
		if !jsonOutput {
			fmt.Fprintf(stdout, "%s: %s\n", path, progress)
		}
	}

	if solveAll {
		if _, err := session.SolveAllObligations(ctx, tacticName); err != nil {
			fmt.Fprintln(stderr, err)
			return 2
		}
	}

	status, err := session.ShowObligations("")
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	if jsonOutput {
		if err := json.NewEncoder(stdout).Encode(status); err != nil {
			fmt.Fprintln(stderr, err)
			return 2
		}
	} else {
		for _, row := range status {
			state := "open"
			if row.Solved {
				state = "solved"
			}
			fmt.Fprintf(stdout, "%s/%s [%s]: %s\n", row.Program, row.Name, state, row.Goal)
		}
	}

	if checkClose {
		if err := session.CheckSolvedObligations(); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
	}
	return 0
}

// runObligations implements `proviso obligations`: load only, then list.
func runObligations(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("obligations", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		profilePath string
		jsonOutput  bool
	)
	cmd.StringVar(&profilePath, "profile", "", "Session profile (YAML)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output status as JSON to stdout")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() == 0 {
		fmt.Fprintln(stderr, "obligations: no program files given")
		return 2
	}

	cfg := config.Load()
	if profilePath != "" {
		profile, err := config.LoadProfile(profilePath)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 2
		}
		profile.Apply(cfg)
	}
	session, err := vernac.NewSession(cfg, newLogger(cfg, stderr))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	ctx := context.Background()
	for _, path := range cmd.Args() {
		if _, err := session.RunProgramFile(ctx, path); err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", path, err)
			return 2
		}
	}

	status, err := session.ShowObligations("")
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	if jsonOutput {
		if err := json.NewEncoder(stdout).Encode(status); err != nil {
			fmt.Fprintln(stderr, err)
			return 2
		}
		return 0
	}
	for _, row := range status {
		state := "open"
		if row.Solved {
			state = "solved"
		}
		fmt.Fprintf(stdout, "%s/%s [%s]: %s\n", row.Program, row.Name, state, row.Goal)
	}
	return 0
}

// runLibraries implements `proviso libraries`.
func runLibraries(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("libraries", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var profilePath string
	cmd.StringVar(&profilePath, "profile", "", "Session profile (YAML) listing required libraries (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if profilePath == "" {
		fmt.Fprintln(stderr, "libraries: -profile is required")
		return 2
	}

	cfg := config.Load()
	profile, err := config.LoadProfile(profilePath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	profile.Apply(cfg)
	session, err := vernac.NewSession(cfg, newLogger(cfg, stderr))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	if err := session.CheckProgramLibraries(profile.Libraries); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintln(stdout, "all required libraries loaded")
	return 0
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

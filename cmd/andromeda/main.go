// Command andromeda is the CLI entry point: `andromeda run <path>` loads
// the script preamble (if present alongside the target script) followed by the
// target script, drives the event loop to completion, and maps the
// terminal outcome to a process exit code.
//
// Generalized from a comparable cmd/noisefs-cli command-dispatch shape
// (subcommand string, flag parsing, exit-code-on-error convention).
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dop251/goja"

	"github.com/andromeda-rt/andromeda/internal/config"
	"github.com/andromeda-rt/andromeda/internal/obslog"
	"github.com/andromeda-rt/andromeda/pkg/host"
)

const preambleFileName = "preamble.js"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 2 || args[0] != "run" {
		fmt.Fprintln(os.Stderr, "usage: andromeda run <path> [script args...]")
		return 2
	}
	scriptPath := args[1]
	cliArgs := args[2:]

	cfg, err := config.Load(configPathFor(scriptPath), config.PresetDefault)
	if err != nil {
		fmt.Fprintf(os.Stderr, "andromeda: config: %v\n", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "andromeda: config: %v\n", err)
		return 1
	}

	log := obslog.New(&obslog.Config{
		Level: logLevelFromString(cfg.LogLevel),
		Format: logFormatFromString(cfg.LogFormat),
		Output: os.Stderr,
		EnableRedaction: true,
	})
	obslog.InitGlobal(&obslog.Config{Level: logLevelFromString(cfg.LogLevel), Output: os.Stderr, EnableRedaction: true})

	rt, err := host.New(cfg, log, cliArgs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "andromeda: init: %v\n", err)
		return 1
	}

	source, err := loadSource(scriptPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "andromeda: %v\n", err)
		return 1
	}

	exitCode := 0
	if _, err := rt.VM.RunString(source); err != nil {
		reportScriptError(log, err)
		exitCode = 1
	}

	// Drives timers, microtasks, and any pool work the script scheduled
	// to completion. A script that opens a listener keeps the loop alive
	// via its own KeepAlive/Release pair (pkg/host's HOST.http.serve) until closed or the
	// process receives a signal.
	rt.Loop.RunUntilIdle(context.Background())

	return exitCode
}

// loadSource concatenates the preamble (if it sits next to the target
// script) with the target script itself: preamble followed by the target
// script, in that order.
func loadSource(scriptPath string) (string, error) {
	var combined string
	preamblePath := filepath.Join(filepath.Dir(scriptPath), preambleFileName)
	if data, err := os.ReadFile(preamblePath); err == nil {
		combined += string(data) + "\n"
	}
	data, err := os.ReadFile(scriptPath)
	if err != nil {
		return "", fmt.Errorf("reading script %s: %w", scriptPath, err)
	}
	return combined + string(data), nil
}

func configPathFor(scriptPath string) string {
	return filepath.Join(filepath.Dir(scriptPath), "andromeda.json")
}

func reportScriptError(log *obslog.Logger, err error) {
	if exc, ok := err.(*goja.Exception); ok {
		log.Errorf("uncaught exception: %v", exc.Value())
		return
	}
	log.Errorf("script error: %v", err)
}

func logLevelFromString(s string) obslog.Level {
	switch s {
	case "debug":
		return obslog.DebugLevel
	case "warn":
		return obslog.WarnLevel
	case "error":
		return obslog.ErrorLevel
	default:
		return obslog.InfoLevel
	}
}

func logFormatFromString(s string) obslog.Format {
	if s == "json" {
		return obslog.JSONFormat
	}
	return obslog.TextFormat
}

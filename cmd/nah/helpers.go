package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/nah-dev/nah/internal/fetch"
	"github.com/nah-dev/nah/internal/log"
	"github.com/nah-dev/nah/internal/manifest"
	"github.com/nah-dev/nah/internal/registry"
)

// openRoot resolves the effective root (flag > $NAH_ROOT > config) and
// returns a registry handle.
func openRoot() (*registry.Root, error) {
	path := userCfg.EffectiveRoot(rootFlag)
	return registry.Open(path, log.Default())
}

// fail prints the error and exits with its mapped code.
func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	exitWithCode(exitCodeFor(err))
}

// wantJSON reports whether output should be machine readable.
func wantJSON() bool {
	return jsonFlag || userCfg.JSON
}

// wantTrace reports whether compositions attach their decision log.
func wantTrace() bool {
	return traceFlag || userCfg.Trace
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fail(err)
	}
}

// findApp looks up an app record by parsed reference, latest version
// when none was given.
func findApp(snap *registry.Snapshot, ref *fetch.Reference) *manifest.AppRecord {
	if ref.Version != "" {
		return snap.FindApp(ref.ID, ref.Version)
	}
	return snap.LatestApp(ref.ID)
}

// printWarnings renders warnings to stderr in text mode.
func printWarnings(warnings []manifest.Warning) {
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "Warning (%s): %s\n", w.Kind, w.Message)
	}
}

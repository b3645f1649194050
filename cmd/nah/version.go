package main

import (
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/nah-dev/nah/internal/manifest"
)

// buildVersion derives the `nah --version` string from Go build
// metadata: the module tag for released builds, a dev pseudo-version
// with commit info otherwise.
func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	if v := info.Main.Version; v != "" && v != "(devel)" {
		return v
	}

	settings := make(map[string]string, len(info.Settings))
	for _, s := range info.Settings {
		settings[s.Key] = s.Value
	}
	rev := settings["vcs.revision"]
	if rev == "" {
		return "dev"
	}
	// Keep the first 12 hex digits, as Go pseudo-versions do.
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if settings["vcs.modified"] == "true" {
		return "dev-" + rev + "-dirty"
	}
	return "dev-" + rev
}

// versionTemplate renders the binary version together with the document
// schemas this build reads and writes, so hosts can check compatibility
// of a root populated by another release.
func versionTemplate() string {
	schemas := strings.Join([]string{
		manifest.SchemaNap,
		manifest.SchemaNak,
		manifest.SchemaHost,
		manifest.SchemaAppRecord,
		manifest.SchemaNakRecord,
		manifest.SchemaProvenance,
	}, ", ")
	return fmt.Sprintf("nah {{.Version}} (schemas: %s)\n", schemas)
}

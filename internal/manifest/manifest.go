// Package manifest defines the typed documents nah exchanges on disk:
// NAP and NAK package manifests, the host environment file, and the
// install records the registry owns. All documents are JSON with an
// explicit $schema discriminator.
package manifest

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/nah-dev/nah/internal/fault"
	"github.com/nah-dev/nah/internal/nakver"
)

// Schema identifiers for the document types.
const (
	SchemaNap        = "nap.v1"
	SchemaNak        = "nak.v1"
	SchemaHost       = "nah.v1"
	SchemaAppRecord  = "app-record.v1"
	SchemaNakRecord  = "nak-record.v1"
	SchemaProvenance = "nak.compose.v1"
)

// Warning is a recoverable anomaly found while parsing or composing.
type Warning struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// idRe matches reverse-DNS identifiers: at least two lowercase
// alphanumeric segments joined by dots, dashes allowed inside segments.
var idRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?(\.[a-z0-9]([a-z0-9-]*[a-z0-9])?)+$`)

// ValidateID checks an app or NAK identifier.
func ValidateID(id string) error {
	if id == "" {
		return fault.New(fault.KindInvalidManifest, "identifier must not be empty")
	}
	if !idRe.MatchString(id) {
		return fault.New(fault.KindInvalidManifest, "identifier %q is not reverse-DNS", id)
	}
	return nil
}

// NapManifest is the app package manifest (nap.v1).
type NapManifest struct {
	Schema string     `json:"$schema"`
	App    AppSection `json:"app"`
}

// AppSection is the single top-level section of a NAP manifest.
type AppSection struct {
	Identity    AppIdentity    `json:"identity"`
	Execution   AppExecution   `json:"execution"`
	Layout      AppLayout      `json:"layout,omitempty"`
	Permissions AppPermissions `json:"permissions,omitempty"`
}

// AppIdentity names the app and its optional NAK requirement.
type AppIdentity struct {
	ID            string `json:"id"`
	Version       string `json:"version"`
	NakID         string `json:"nak_id,omitempty"`
	NakVersionReq string `json:"nak_version_req,omitempty"`
}

// AppExecution describes how the app is launched.
type AppExecution struct {
	Entrypoint  string   `json:"entrypoint"`
	Arguments   []string `json:"arguments,omitempty"`
	Environment EnvMap   `json:"environment,omitempty"`
}

// AppLayout lists payload directories relative to the app root.
type AppLayout struct {
	LibDirs   []string `json:"lib_dirs,omitempty"`
	AssetDirs []string `json:"asset_dirs,omitempty"`
}

// AppPermissions is declarative permission metadata. The core records
// it; enforcement belongs to the host runner.
type AppPermissions struct {
	Filesystem []string `json:"filesystem,omitempty"`
	Network    []string `json:"network,omitempty"`
}

// NakManifest is the kit package manifest (nak.v1).
type NakManifest struct {
	Schema string     `json:"$schema"`
	Nak    NakSection `json:"nak"`
}

// NakSection is the single top-level section of a NAK manifest.
type NakSection struct {
	Identity    NakIdentity       `json:"identity"`
	Paths       NakPaths          `json:"paths,omitempty"`
	Environment EnvMap            `json:"environment,omitempty"`
	Loaders     map[string]Loader `json:"loaders,omitempty"`
	Execution   NakExecution      `json:"execution,omitempty"`
}

// NakIdentity names the kit.
type NakIdentity struct {
	ID      string `json:"id"`
	Version string `json:"version"`
}

// NakPaths lists payload directories relative to the NAK root.
type NakPaths struct {
	ResourceRoot string   `json:"resource_root,omitempty"`
	LibDirs      []string `json:"lib_dirs,omitempty"`
}

// Loader is an optional binary inside a NAK that wraps the app
// entrypoint. ArgsTemplate strings may contain {PLACEHOLDER} tokens.
type Loader struct {
	ExecPath     string   `json:"exec_path"`
	ArgsTemplate []string `json:"args_template,omitempty"`
}

// NakExecution holds launch defaults the kit contributes.
type NakExecution struct {
	Cwd string `json:"cwd,omitempty"`
}

// HostManifest is the per-root host environment file (nah.v1).
type HostManifest struct {
	Schema      string        `json:"$schema"`
	Environment EnvMap        `json:"environment,omitempty"`
	Paths       HostPaths     `json:"paths,omitempty"`
	Overrides   HostOverrides `json:"overrides,omitempty"`
}

// HostPaths contributes host-level library search directories.
type HostPaths struct {
	LibraryPrepend []string `json:"library_prepend,omitempty"`
	LibraryAppend  []string `json:"library_append,omitempty"`
}

// HostOverrides gates app-supplied environment overrides.
type HostOverrides struct {
	AllowEnvOverrides bool     `json:"allow_env_overrides"`
	AllowedEnvKeys    []string `json:"allowed_env_keys,omitempty"`
}

// knownTopLevel maps a schema to the keys its documents may carry.
var knownTopLevel = map[string]map[string]bool{
	SchemaNap:  {"$schema": true, "app": true},
	SchemaNak:  {"$schema": true, "nak": true},
	SchemaHost: {"$schema": true, "environment": true, "paths": true, "overrides": true},
}

// checkTopLevel verifies the $schema discriminator and reports unknown
// top-level keys as warnings.
func checkTopLevel(data []byte, wantSchema string) ([]Warning, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fault.Wrap(fault.KindInvalidManifest, err, "document is not a JSON object")
	}

	schemaRaw, ok := raw["$schema"]
	if !ok {
		return nil, fault.New(fault.KindInvalidManifest, "missing $schema")
	}
	var schema string
	if err := json.Unmarshal(schemaRaw, &schema); err != nil || schema != wantSchema {
		return nil, fault.New(fault.KindInvalidManifest, "unsupported schema %s, want %s", strings.Trim(string(schemaRaw), `"`), wantSchema)
	}

	var warnings []Warning
	for key := range raw {
		if !knownTopLevel[wantSchema][key] {
			warnings = append(warnings, Warning{
				Kind:    "unknown_field",
				Message: fmt.Sprintf("unknown top-level key %q", key),
			})
		}
	}
	return warnings, nil
}

// ParseNap parses and validates a nap.v1 document.
func ParseNap(data []byte) (*NapManifest, []Warning, error) {
	warnings, err := checkTopLevel(data, SchemaNap)
	if err != nil {
		return nil, nil, err
	}
	var m NapManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, nil, fault.Wrap(fault.KindInvalidManifest, err, "parsing nap manifest")
	}
	if err := m.Validate(); err != nil {
		return nil, nil, err
	}
	return &m, warnings, nil
}

// Validate checks identity, version, requirement, and path shape.
func (m *NapManifest) Validate() error {
	if err := ValidateID(m.App.Identity.ID); err != nil {
		return err
	}
	if _, err := nakver.Parse(m.App.Identity.Version); err != nil {
		return fault.Wrap(fault.KindInvalidManifest, err, "app %s", m.App.Identity.ID)
	}
	if m.App.Identity.NakID != "" {
		if err := ValidateID(m.App.Identity.NakID); err != nil {
			return err
		}
		if m.App.Identity.NakVersionReq == "" {
			return fault.New(fault.KindInvalidManifest, "nak_id without nak_version_req")
		}
		if _, err := nakver.ParseRange(m.App.Identity.NakVersionReq); err != nil {
			return fault.Wrap(fault.KindInvalidManifest, err, "app %s", m.App.Identity.ID)
		}
	}
	if m.App.Execution.Entrypoint == "" {
		return fault.New(fault.KindInvalidManifest, "app %s has no entrypoint", m.App.Identity.ID)
	}
	paths := append([]string{m.App.Execution.Entrypoint}, m.App.Layout.LibDirs...)
	paths = append(paths, m.App.Layout.AssetDirs...)
	for _, p := range paths {
		if err := validateRelPath(p); err != nil {
			return err
		}
	}
	return nil
}

// ParseNak parses and validates a nak.v1 document. A legacy singular
// "loader" key is accepted and surfaced as loaders["default"] with a
// warning; writes always emit the plural form.
func ParseNak(data []byte) (*NakManifest, []Warning, error) {
	warnings, err := checkTopLevel(data, SchemaNak)
	if err != nil {
		return nil, nil, err
	}
	var m NakManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, nil, fault.Wrap(fault.KindInvalidManifest, err, "parsing nak manifest")
	}

	// Legacy singular loader form.
	var legacy struct {
		Nak struct {
			Loader *Loader `json:"loader"`
		} `json:"nak"`
	}
	if err := json.Unmarshal(data, &legacy); err == nil && legacy.Nak.Loader != nil {
		if len(m.Nak.Loaders) > 0 {
			return nil, nil, fault.New(fault.KindInvalidManifest, "both loader and loaders present")
		}
		m.Nak.Loaders = map[string]Loader{"default": *legacy.Nak.Loader}
		warnings = append(warnings, Warning{
			Kind:    "legacy_loader",
			Message: "singular loader key is deprecated, emitted as loaders.default",
		})
	}

	if err := m.Validate(); err != nil {
		return nil, nil, err
	}
	return &m, warnings, nil
}

// Validate checks identity, version, and path shape.
func (m *NakManifest) Validate() error {
	if err := ValidateID(m.Nak.Identity.ID); err != nil {
		return err
	}
	if _, err := nakver.Parse(m.Nak.Identity.Version); err != nil {
		return fault.Wrap(fault.KindInvalidManifest, err, "nak %s", m.Nak.Identity.ID)
	}
	paths := append([]string{}, m.Nak.Paths.LibDirs...)
	if m.Nak.Paths.ResourceRoot != "" {
		paths = append(paths, m.Nak.Paths.ResourceRoot)
	}
	for _, p := range paths {
		if err := validateRelPath(p); err != nil {
			return err
		}
	}
	for name, l := range m.Nak.Loaders {
		if l.ExecPath == "" {
			return fault.New(fault.KindInvalidManifest, "loader %q has no exec_path", name)
		}
		if err := validateRelPath(l.ExecPath); err != nil {
			return err
		}
	}
	return nil
}

// ParseHost parses and validates a nah.v1 host document.
func ParseHost(data []byte) (*HostManifest, []Warning, error) {
	warnings, err := checkTopLevel(data, SchemaHost)
	if err != nil {
		return nil, nil, err
	}
	var m HostManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, nil, fault.Wrap(fault.KindInvalidManifest, err, "parsing host manifest")
	}
	return &m, warnings, nil
}

// validateRelPath enforces the manifest path rules: relative, no
// traversal out of the package root.
func validateRelPath(p string) error {
	if p == "" {
		return fault.New(fault.KindInvalidManifest, "empty path")
	}
	if strings.HasPrefix(p, "/") {
		return fault.New(fault.KindInvalidManifest, "absolute path not allowed: %s", p)
	}
	clean := strings.Split(p, "/")
	depth := 0
	for _, seg := range clean {
		switch seg {
		case "", ".":
		case "..":
			depth--
			if depth < 0 {
				return fault.New(fault.KindInvalidManifest, "path escapes package root: %s", p)
			}
		default:
			depth++
		}
	}
	return nil
}

// Encode marshals a document the way nah writes all JSON files:
// two-space indent and a trailing newline, so emitted files are
// byte-stable across read/write cycles.
func Encode(doc any) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	return append(data, '\n'), nil
}

package manifest

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/nah-dev/nah/internal/fault"
	"github.com/nah-dev/nah/internal/nakver"
)

// TrustState is the integrity evaluation state of an installed package.
type TrustState string

const (
	TrustUnknown  TrustState = "unknown"
	TrustVerified TrustState = "verified"
	TrustRejected TrustState = "rejected"
	TrustExpired  TrustState = "expired"
)

// Trust captures how and when a package's integrity was evaluated.
type Trust struct {
	State       TrustState `json:"state"`
	Source      string     `json:"source,omitempty"`
	EvaluatedAt time.Time  `json:"evaluated_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	InputsHash  string     `json:"inputs_hash,omitempty"`
	Details     string     `json:"details,omitempty"`
}

// Provenance records where an installed package came from.
type Provenance struct {
	PackageHash string    `json:"package_hash,omitempty"`
	InstalledAt time.Time `json:"installed_at"`
	InstalledBy string    `json:"installed_by,omitempty"`
	Source      string    `json:"source"`
}

// AppRecord is the host-owned install record for one app (app-record.v1).
type AppRecord struct {
	Schema     string             `json:"$schema"`
	Install    AppInstall         `json:"install"`
	App        AppRecordIdentity  `json:"app"`
	Nak        AppRecordNak       `json:"nak,omitempty"`
	Paths      AppRecordPaths     `json:"paths"`
	Provenance Provenance         `json:"provenance"`
	Trust      Trust              `json:"trust"`
	Overrides  AppRecordOverrides `json:"overrides,omitempty"`
}

// AppInstall carries the per-install identity.
type AppInstall struct {
	InstanceID string `json:"instance_id"`
}

// AppRecordIdentity freezes the app identity at install time.
type AppRecordIdentity struct {
	ID            string `json:"id"`
	Version       string `json:"version"`
	NakID         string `json:"nak_id,omitempty"`
	NakVersionReq string `json:"nak_version_req,omitempty"`
}

// AppRecordNak is the NAK pin chosen at install time.
type AppRecordNak struct {
	ID              string `json:"id,omitempty"`
	Version         string `json:"version,omitempty"`
	RecordRef       string `json:"record_ref,omitempty"`
	SelectionReason string `json:"selection_reason,omitempty"`
}

// AppRecordPaths locates the installed payload.
type AppRecordPaths struct {
	InstallRoot string `json:"install_root"`
}

// AppRecordOverrides are host-applied per-install adjustments.
type AppRecordOverrides struct {
	Environment EnvMap            `json:"environment,omitempty"`
	Arguments   ArgumentOverrides `json:"arguments,omitempty"`
	Paths       PathOverrides     `json:"paths,omitempty"`
}

// ArgumentOverrides prepend or append launch arguments.
type ArgumentOverrides struct {
	Prepend []string `json:"prepend,omitempty"`
	Append  []string `json:"append,omitempty"`
}

// PathOverrides prepend library search directories.
type PathOverrides struct {
	LibraryPrepend []string `json:"library_prepend,omitempty"`
}

// NakRecord is the install record for one NAK (nak-record.v1). All paths
// are the absolute projection of the NAK manifest under Paths.Root.
type NakRecord struct {
	Schema      string            `json:"$schema"`
	Nak         NakIdentity       `json:"nak"`
	Paths       NakRecordPaths    `json:"paths"`
	Environment EnvMap            `json:"environment,omitempty"`
	Loaders     map[string]Loader `json:"loaders,omitempty"`
	Execution   NakExecution      `json:"execution,omitempty"`
	Provenance  Provenance        `json:"provenance"`
}

// NakRecordPaths locates the installed kit payload.
type NakRecordPaths struct {
	Root         string   `json:"root"`
	ResourceRoot string   `json:"resource_root,omitempty"`
	LibDirs      []string `json:"lib_dirs,omitempty"`
}

// ParseAppRecord parses and validates an app-record.v1 document.
func ParseAppRecord(data []byte) (*AppRecord, error) {
	var r AppRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fault.Wrap(fault.KindInvalidManifest, err, "parsing app record")
	}
	if r.Schema != SchemaAppRecord {
		return nil, fault.New(fault.KindInvalidManifest, "unsupported schema %q, want %s", r.Schema, SchemaAppRecord)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate checks the record invariants.
func (r *AppRecord) Validate() error {
	if r.Install.InstanceID == "" {
		return fault.New(fault.KindInvalidManifest, "app record missing instance_id")
	}
	if err := ValidateID(r.App.ID); err != nil {
		return err
	}
	if _, err := nakver.Parse(r.App.Version); err != nil {
		return fault.Wrap(fault.KindInvalidManifest, err, "app record %s", r.App.ID)
	}
	if r.Paths.InstallRoot == "" || !strings.HasPrefix(r.Paths.InstallRoot, "/") {
		return fault.New(fault.KindInvalidManifest, "install_root must be absolute, got %q", r.Paths.InstallRoot)
	}
	if r.App.NakVersionReq != "" {
		if _, err := nakver.ParseRange(r.App.NakVersionReq); err != nil {
			return fault.Wrap(fault.KindInvalidManifest, err, "app record %s", r.App.ID)
		}
	}
	switch r.Trust.State {
	case TrustUnknown, TrustVerified, TrustRejected, TrustExpired:
	case "":
		return fault.New(fault.KindInvalidManifest, "app record missing trust state")
	default:
		return fault.New(fault.KindInvalidManifest, "unknown trust state %q", r.Trust.State)
	}
	return nil
}

// ParseNakRecord parses and validates a nak-record.v1 document.
func ParseNakRecord(data []byte) (*NakRecord, error) {
	var r NakRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fault.Wrap(fault.KindInvalidManifest, err, "parsing nak record")
	}
	if r.Schema != SchemaNakRecord {
		return nil, fault.New(fault.KindInvalidManifest, "unsupported schema %q, want %s", r.Schema, SchemaNakRecord)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate enforces the absolute-projection invariant: every path must
// start with the record root.
func (r *NakRecord) Validate() error {
	if err := ValidateID(r.Nak.ID); err != nil {
		return err
	}
	if _, err := nakver.Parse(r.Nak.Version); err != nil {
		return fault.Wrap(fault.KindInvalidManifest, err, "nak record %s", r.Nak.ID)
	}
	root := r.Paths.Root
	if root == "" || !strings.HasPrefix(root, "/") {
		return fault.New(fault.KindInvalidManifest, "nak record root must be absolute, got %q", root)
	}
	under := func(p string) bool {
		return p == root || strings.HasPrefix(p, root+"/")
	}
	if r.Paths.ResourceRoot != "" && !under(r.Paths.ResourceRoot) {
		return fault.New(fault.KindInvalidManifest, "resource_root outside nak root: %s", r.Paths.ResourceRoot)
	}
	for _, d := range r.Paths.LibDirs {
		if !under(d) {
			return fault.New(fault.KindInvalidManifest, "lib_dir outside nak root: %s", d)
		}
	}
	for name, l := range r.Loaders {
		if !under(l.ExecPath) {
			return fault.New(fault.KindInvalidManifest, "loader %q exec_path outside nak root: %s", name, l.ExecPath)
		}
	}
	return nil
}

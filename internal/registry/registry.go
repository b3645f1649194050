// Package registry owns the on-disk NAH root:
//
//	<root>/
//	  host/nah.json
//	  apps/<id>-<version>/
//	  naks/<id>/<version>/
//	  registry/apps/<id>@<version>.json
//	  registry/naks/<id>@<version>.json
//
// Records are written via atomic rename; readers never observe partial
// documents. Writers serialize the publish phase through the root lock.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nah-dev/nah/internal/fault"
	"github.com/nah-dev/nah/internal/fsutil"
	"github.com/nah-dev/nah/internal/log"
	"github.com/nah-dev/nah/internal/manifest"
)

const (
	hostFileName = "nah.json"
	// legacyHostFileName is accepted on read for roots populated by
	// older releases; writes always emit nah.json.
	legacyHostFileName = "host.json"
)

// Root is a handle on one NAH root directory.
type Root struct {
	path   string
	logger *log.Logger
}

// Open returns a handle on the root at path. The directory need not
// exist yet; EnsureLayout creates it.
func Open(path string, logger *log.Logger) (*Root, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fault.Wrap(fault.KindIOError, err, "resolving root %s", path)
	}
	if logger == nil {
		logger = log.Noop()
	}
	return &Root{path: abs, logger: logger}, nil
}

// Path returns the absolute root directory.
func (r *Root) Path() string {
	return r.path
}

// EnsureLayout creates the standard subdirectories.
func (r *Root) EnsureLayout() error {
	for _, sub := range []string{"host", "apps", "naks", filepath.Join("registry", "apps"), filepath.Join("registry", "naks")} {
		if err := os.MkdirAll(filepath.Join(r.path, sub), 0755); err != nil {
			return fault.Wrap(fault.KindIOError, err, "creating %s", sub)
		}
	}
	return nil
}

// AppDir returns the payload directory for an installed app.
func (r *Root) AppDir(id, version string) string {
	return filepath.Join(r.path, "apps", fmt.Sprintf("%s-%s", id, version))
}

// NakDir returns the payload directory for an installed NAK.
func (r *Root) NakDir(id, version string) string {
	return filepath.Join(r.path, "naks", id, version)
}

func (r *Root) appRecordPath(id, version string) string {
	return filepath.Join(r.path, "registry", "apps", fmt.Sprintf("%s@%s.json", id, version))
}

func (r *Root) nakRecordPath(id, version string) string {
	return filepath.Join(r.path, "registry", "naks", fmt.Sprintf("%s@%s.json", id, version))
}

// RecordRef is the registry-internal reference stored in app records to
// name the pinned NAK record.
func RecordRef(id, version string) string {
	return id + "@" + version
}

// ReadHost loads the host environment file. A missing file yields an
// empty host environment; the legacy host.json name is accepted with a
// warning.
func (r *Root) ReadHost() (*manifest.HostManifest, []manifest.Warning, error) {
	path := filepath.Join(r.path, "host", hostFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		legacy := filepath.Join(r.path, "host", legacyHostFileName)
		data, err = os.ReadFile(legacy)
		if os.IsNotExist(err) {
			return &manifest.HostManifest{Schema: manifest.SchemaHost}, nil, nil
		}
		if err != nil {
			return nil, nil, fault.Wrap(fault.KindIOError, err, "reading %s", legacy)
		}
		host, warnings, perr := manifest.ParseHost(data)
		if perr != nil {
			return nil, nil, perr
		}
		warnings = append(warnings, manifest.Warning{
			Kind:    "legacy_host_filename",
			Message: "host/host.json is deprecated, rename to host/nah.json",
		})
		return host, warnings, nil
	}
	if err != nil {
		return nil, nil, fault.Wrap(fault.KindIOError, err, "reading %s", path)
	}
	return manifest.ParseHost(data)
}

// WriteHost writes the host environment file atomically under the
// canonical name.
func (r *Root) WriteHost(host *manifest.HostManifest) error {
	host.Schema = manifest.SchemaHost
	data, err := manifest.Encode(host)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(r.path, "host"), 0755); err != nil {
		return fault.Wrap(fault.KindIOError, err, "creating host directory")
	}
	return fsutil.AtomicWrite(filepath.Join(r.path, "host", hostFileName), data, 0644)
}

// ReadAppRecord loads one app install record.
func (r *Root) ReadAppRecord(id, version string) (*manifest.AppRecord, error) {
	path := r.appRecordPath(id, version)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fault.New(fault.KindNotInstalled, "app %s@%s is not installed", id, version)
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindIOError, err, "reading %s", path)
	}
	return manifest.ParseAppRecord(data)
}

// WriteAppRecord persists an app record atomically.
func (r *Root) WriteAppRecord(rec *manifest.AppRecord) error {
	rec.Schema = manifest.SchemaAppRecord
	if err := rec.Validate(); err != nil {
		return err
	}
	data, err := manifest.Encode(rec)
	if err != nil {
		return err
	}
	path := r.appRecordPath(rec.App.ID, rec.App.Version)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fault.Wrap(fault.KindIOError, err, "creating registry directory")
	}
	return fsutil.AtomicWrite(path, data, 0644)
}

// ReadNakRecord loads one NAK install record.
func (r *Root) ReadNakRecord(id, version string) (*manifest.NakRecord, error) {
	path := r.nakRecordPath(id, version)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fault.New(fault.KindNotInstalled, "nak %s@%s is not installed", id, version)
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindIOError, err, "reading %s", path)
	}
	return manifest.ParseNakRecord(data)
}

// WriteNakRecord persists a NAK record atomically.
func (r *Root) WriteNakRecord(rec *manifest.NakRecord) error {
	rec.Schema = manifest.SchemaNakRecord
	if err := rec.Validate(); err != nil {
		return err
	}
	data, err := manifest.Encode(rec)
	if err != nil {
		return err
	}
	path := r.nakRecordPath(rec.Nak.ID, rec.Nak.Version)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fault.Wrap(fault.KindIOError, err, "creating registry directory")
	}
	return fsutil.AtomicWrite(path, data, 0644)
}

// RemoveApp deletes an app's record and payload. The caller must hold
// the root lock.
func (r *Root) RemoveApp(id, version string) error {
	if _, err := r.ReadAppRecord(id, version); err != nil {
		return err
	}
	if err := os.Remove(r.appRecordPath(id, version)); err != nil {
		return fault.Wrap(fault.KindIOError, err, "removing app record %s@%s", id, version)
	}
	if err := os.RemoveAll(r.AppDir(id, version)); err != nil {
		return fault.Wrap(fault.KindIOError, err, "removing app payload %s@%s", id, version)
	}
	r.logger.Info("app removed", "id", id, "version", version)
	return nil
}

// RemoveNak deletes a NAK's record and payload. It refuses while any
// app record pins the NAK. The caller must hold the root lock.
func (r *Root) RemoveNak(id, version string) error {
	if _, err := r.ReadNakRecord(id, version); err != nil {
		return err
	}

	snap, err := r.Scan()
	if err != nil {
		return err
	}
	var referrers []string
	for _, app := range snap.Apps {
		if app.Nak.ID == id && app.Nak.Version == version {
			referrers = append(referrers, app.App.ID+"@"+app.App.Version)
		}
	}
	if len(referrers) > 0 {
		return fault.New(fault.KindNakInUse, "nak %s@%s is referenced by installed apps", id, version).
			WithDetail("referrers", strings.Join(referrers, ","))
	}

	if err := os.Remove(r.nakRecordPath(id, version)); err != nil {
		return fault.Wrap(fault.KindIOError, err, "removing nak record %s@%s", id, version)
	}
	if err := os.RemoveAll(r.NakDir(id, version)); err != nil {
		return fault.Wrap(fault.KindIOError, err, "removing nak payload %s@%s", id, version)
	}
	// Drop the now-empty per-id directory, ignoring failure when other
	// versions remain.
	os.Remove(filepath.Join(r.path, "naks", id))
	r.logger.Info("nak removed", "id", id, "version", version)
	return nil
}

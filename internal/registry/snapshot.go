package registry

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/nah-dev/nah/internal/fault"
	"github.com/nah-dev/nah/internal/manifest"
	"github.com/nah-dev/nah/internal/nakver"
)

// Snapshot is a point-in-time read of every install record. One
// composition works against one snapshot; writers publishing through
// atomic renames cannot corrupt it.
type Snapshot struct {
	Apps []*manifest.AppRecord
	Naks []*manifest.NakRecord
}

// Scan reads every record under registry/apps and registry/naks.
// Records that fail to parse abort the scan: a corrupt registry should
// be surfaced, not silently skipped.
func (r *Root) Scan() (*Snapshot, error) {
	snap := &Snapshot{}

	appsDir := filepath.Join(r.path, "registry", "apps")
	if err := eachRecord(appsDir, func(data []byte) error {
		rec, err := manifest.ParseAppRecord(data)
		if err != nil {
			return err
		}
		snap.Apps = append(snap.Apps, rec)
		return nil
	}); err != nil {
		return nil, err
	}

	naksDir := filepath.Join(r.path, "registry", "naks")
	if err := eachRecord(naksDir, func(data []byte) error {
		rec, err := manifest.ParseNakRecord(data)
		if err != nil {
			return err
		}
		snap.Naks = append(snap.Naks, rec)
		return nil
	}); err != nil {
		return nil, err
	}

	return snap, nil
}

func eachRecord(dir string, fn func(data []byte) error) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fault.Wrap(fault.KindIOError, err, "reading %s", dir)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fault.Wrap(fault.KindIOError, err, "reading record %s", entry.Name())
		}
		if err := fn(data); err != nil {
			return err
		}
	}
	return nil
}

// FindApp returns the app record for (id, version), or nil.
func (s *Snapshot) FindApp(id, version string) *manifest.AppRecord {
	for _, rec := range s.Apps {
		if rec.App.ID == id && rec.App.Version == version {
			return rec
		}
	}
	return nil
}

// LatestApp returns the highest-version record for id, or nil.
func (s *Snapshot) LatestApp(id string) *manifest.AppRecord {
	var best *manifest.AppRecord
	var bestVer *nakver.Version
	for _, rec := range s.Apps {
		if rec.App.ID != id {
			continue
		}
		v, err := nakver.Parse(rec.App.Version)
		if err != nil {
			continue
		}
		if bestVer == nil || v.GreaterThan(bestVer) {
			best, bestVer = rec, v
		}
	}
	return best
}

// FindNak returns the NAK record for (id, version), or nil.
func (s *Snapshot) FindNak(id, version string) *manifest.NakRecord {
	for _, rec := range s.Naks {
		if rec.Nak.ID == id && rec.Nak.Version == version {
			return rec
		}
	}
	return nil
}

// NakVersions returns all installed records for a NAK id.
func (s *Snapshot) NakVersions(id string) []*manifest.NakRecord {
	var out []*manifest.NakRecord
	for _, rec := range s.Naks {
		if rec.Nak.ID == id {
			out = append(out, rec)
		}
	}
	return out
}

// LatestNak returns the highest-version record for id, or nil.
func (s *Snapshot) LatestNak(id string) *manifest.NakRecord {
	var best *manifest.NakRecord
	var bestVer *nakver.Version
	for _, rec := range s.NakVersions(id) {
		v, err := nakver.Parse(rec.Nak.Version)
		if err != nil {
			continue
		}
		if bestVer == nil || v.GreaterThan(bestVer) {
			best, bestVer = rec, v
		}
	}
	return best
}

// Package ingest installs packages into a NAH root: it fetches the
// artifact, verifies its digest, extracts it to a staging directory,
// validates the manifest, pins the NAK for apps, and atomically
// publishes payload and install record under the root lock.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/nah-dev/nah/internal/archive"
	"github.com/nah-dev/nah/internal/fault"
	"github.com/nah-dev/nah/internal/fetch"
	"github.com/nah-dev/nah/internal/fsutil"
	"github.com/nah-dev/nah/internal/hashio"
	"github.com/nah-dev/nah/internal/log"
	"github.com/nah-dev/nah/internal/manifest"
	"github.com/nah-dev/nah/internal/registry"
	"github.com/nah-dev/nah/internal/resolver"
)

// Installer drives package ingestion against one root.
type Installer struct {
	root    *registry.Root
	fetcher *fetch.Fetcher
	logger  *log.Logger

	// now and newInstanceID are injection points for tests.
	now           func() time.Time
	newInstanceID func() string
}

// New creates an Installer. A nil fetcher gets the default client.
func New(root *registry.Root, fetcher *fetch.Fetcher, logger *log.Logger) *Installer {
	if fetcher == nil {
		fetcher = fetch.New(nil, logger)
	}
	if logger == nil {
		logger = log.Noop()
	}
	return &Installer{
		root:          root,
		fetcher:       fetcher,
		logger:        logger,
		now:           time.Now,
		newInstanceID: uuid.NewString,
	}
}

// Options tune one install.
type Options struct {
	// Force reinstalls over an existing record, producing a new
	// instance id.
	Force bool

	// Digest is the expected sha256 for file references to archives.
	// When set it is verified and the install is stamped verified.
	// Directory sources are copied without checking it.
	Digest string

	// InstalledBy is recorded in provenance (typically the invoking
	// user).
	InstalledBy string
}

// Result reports what was installed. Exactly one of App or Nak is set.
type Result struct {
	App      *manifest.AppRecord
	Nak      *manifest.NakRecord
	Warnings []manifest.Warning
}

// Install ingests the package behind rawRef.
func (i *Installer) Install(ctx context.Context, rawRef string, opts Options) (*Result, error) {
	ref, err := fetch.Parse(rawRef)
	if err != nil {
		return nil, err
	}
	if ref.Scheme == fetch.SchemeInstalled {
		return nil, fault.New(fault.KindInvalidReference, "reference %s is already an installed package", rawRef)
	}

	if err := i.root.EnsureLayout(); err != nil {
		return nil, err
	}

	staged, packageHash, verified, err := i.stagePayload(ctx, ref, opts)
	if err != nil {
		return nil, err
	}
	defer staged.Cleanup()

	kind, err := detectManifest(staged.Dir())
	if err != nil {
		return nil, err
	}

	switch kind {
	case "nap.json":
		return i.installApp(staged, ref, packageHash, verified, opts)
	default:
		return i.installNak(staged, ref, packageHash, verified, opts)
	}
}

// stagePayload materializes the package tree in a staging directory and
// reports the archive digest and whether it was verified against a
// declared value.
func (i *Installer) stagePayload(ctx context.Context, ref *fetch.Reference, opts Options) (*fsutil.Staging, string, bool, error) {
	staged, err := fsutil.NewStaging(filepath.Join(i.root.Path(), "apps", "incoming"), "ingest")
	if err != nil {
		return nil, "", false, fault.Wrap(fault.KindIOError, err, "creating staging directory")
	}

	// Directory sources are copied as-is; archives are fetched then
	// extracted.
	if ref.Scheme == fetch.SchemeFile {
		info, err := os.Stat(ref.Path)
		if err != nil {
			staged.Cleanup()
			return nil, "", false, fault.Wrap(fault.KindIOError, err, "reading %s", ref.Path)
		}
		if info.IsDir() {
			if err := fsutil.CopyDir(ref.Path, staged.Dir()); err != nil {
				staged.Cleanup()
				return nil, "", false, err
			}
			return staged, "", false, nil
		}
	}

	tmp, err := os.CreateTemp("", "nah-ingest-*.pkg")
	if err != nil {
		staged.Cleanup()
		return nil, "", false, fault.Wrap(fault.KindIOError, err, "creating temp file")
	}
	tmp.Close()
	defer os.Remove(tmp.Name())

	digest, err := i.fetcher.Fetch(ctx, ref, tmp.Name(), opts.Digest)
	if err != nil {
		staged.Cleanup()
		return nil, "", false, err
	}
	verified := ref.Scheme == fetch.SchemeHTTPS || opts.Digest != ""

	if err := archive.Extract(ctx, tmp.Name(), staged.Dir()); err != nil {
		staged.Cleanup()
		return nil, "", false, err
	}
	return staged, digest, verified, nil
}

// detectManifest finds the manifest file at the staged root.
func detectManifest(dir string) (string, error) {
	_, napErr := os.Stat(filepath.Join(dir, "nap.json"))
	_, nakErr := os.Stat(filepath.Join(dir, "nak.json"))
	switch {
	case napErr == nil && nakErr == nil:
		return "", fault.New(fault.KindInvalidManifest, "package carries both nap.json and nak.json")
	case napErr == nil:
		return "nap.json", nil
	case nakErr == nil:
		return "nak.json", nil
	default:
		return "", fault.New(fault.KindInvalidManifest, "package has no manifest at its root")
	}
}

func (i *Installer) trust(verified bool) manifest.Trust {
	if verified {
		return manifest.Trust{
			State:       manifest.TrustVerified,
			Source:      "content-hash",
			EvaluatedAt: i.now().UTC(),
		}
	}
	return manifest.Trust{State: manifest.TrustUnknown}
}

func (i *Installer) installApp(staged *fsutil.Staging, ref *fetch.Reference, packageHash string, verified bool, opts Options) (*Result, error) {
	data, err := os.ReadFile(filepath.Join(staged.Dir(), "nap.json"))
	if err != nil {
		return nil, fault.Wrap(fault.KindIOError, err, "reading staged manifest")
	}
	man, warnings, err := manifest.ParseNap(data)
	if err != nil {
		return nil, err
	}
	id, version := man.App.Identity.ID, man.App.Identity.Version
	logger := i.logger.ForPackage("app", id, version)
	logger.Warnings(warnings)

	lock, err := i.root.Lock()
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	if _, err := i.root.ReadAppRecord(id, version); err == nil && !opts.Force {
		return nil, fmt.Errorf("app %s@%s is already installed (use --force to reinstall)", id, version)
	}

	rec := &manifest.AppRecord{
		Schema:  manifest.SchemaAppRecord,
		Install: manifest.AppInstall{InstanceID: i.newInstanceID()},
		App: manifest.AppRecordIdentity{
			ID:            id,
			Version:       version,
			NakID:         man.App.Identity.NakID,
			NakVersionReq: man.App.Identity.NakVersionReq,
		},
		Paths: manifest.AppRecordPaths{InstallRoot: i.root.AppDir(id, version)},
		Provenance: manifest.Provenance{
			PackageHash: packageHash,
			InstalledAt: i.now().UTC(),
			InstalledBy: opts.InstalledBy,
			Source:      ref.String(),
		},
		Trust: i.trust(verified),
	}

	// Pin the NAK before anything is published, so a failed resolution
	// leaves no trace.
	if man.App.Identity.NakID != "" {
		snap, err := i.root.Scan()
		if err != nil {
			return nil, err
		}
		sel, err := resolver.Resolve(man.App.Identity.NakID, man.App.Identity.NakVersionReq, snap)
		if err != nil {
			return nil, err
		}
		rec.Nak = manifest.AppRecordNak{
			ID:              sel.Record.Nak.ID,
			Version:         sel.Record.Nak.Version,
			RecordRef:       registry.RecordRef(sel.Record.Nak.ID, sel.Record.Nak.Version),
			SelectionReason: sel.Reason,
		}
		logger.Info("nak pinned", "nak", sel.Record.Nak.ID, "version", sel.Record.Nak.Version)
	}

	if err := staged.Promote(i.root.AppDir(id, version), opts.Force); err != nil {
		return nil, fault.Wrap(fault.KindIOError, err, "publishing app payload")
	}
	if err := i.root.WriteAppRecord(rec); err != nil {
		return nil, err
	}
	logger.Info("app installed", "instance", rec.Install.InstanceID)
	return &Result{App: rec, Warnings: warnings}, nil
}

func (i *Installer) installNak(staged *fsutil.Staging, ref *fetch.Reference, packageHash string, verified bool, opts Options) (*Result, error) {
	data, err := os.ReadFile(filepath.Join(staged.Dir(), "nak.json"))
	if err != nil {
		return nil, fault.Wrap(fault.KindIOError, err, "reading staged manifest")
	}
	man, warnings, err := manifest.ParseNak(data)
	if err != nil {
		return nil, err
	}
	id, version := man.Nak.Identity.ID, man.Nak.Identity.Version
	root := i.root.NakDir(id, version)

	rec, err := projectNakRecord(man, root)
	if err != nil {
		return nil, err
	}
	rec.Provenance = manifest.Provenance{
		PackageHash: packageHash,
		InstalledAt: i.now().UTC(),
		InstalledBy: opts.InstalledBy,
		Source:      ref.String(),
	}

	lock, err := i.root.Lock()
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	if _, err := i.root.ReadNakRecord(id, version); err == nil && !opts.Force {
		return nil, fmt.Errorf("nak %s@%s is already installed (use --force to reinstall)", id, version)
	}

	if err := staged.Promote(root, opts.Force); err != nil {
		return nil, fault.Wrap(fault.KindIOError, err, "publishing nak payload")
	}
	if err := i.root.WriteNakRecord(rec); err != nil {
		return nil, err
	}
	i.logger.Info("nak installed", "id", id, "version", version)
	return &Result{Nak: rec, Warnings: warnings}, nil
}

// projectNakRecord turns the relative paths of a NAK manifest into the
// absolute projection stored in its install record.
func projectNakRecord(man *manifest.NakManifest, root string) (*manifest.NakRecord, error) {
	rec := &manifest.NakRecord{
		Schema:      manifest.SchemaNakRecord,
		Nak:         man.Nak.Identity,
		Paths:       manifest.NakRecordPaths{Root: root},
		Environment: man.Nak.Environment,
		Execution:   man.Nak.Execution,
	}
	if man.Nak.Paths.ResourceRoot != "" {
		abs, err := fsutil.SafeJoin(root, man.Nak.Paths.ResourceRoot)
		if err != nil {
			return nil, err
		}
		rec.Paths.ResourceRoot = abs
	}
	for _, d := range man.Nak.Paths.LibDirs {
		abs, err := fsutil.SafeJoin(root, d)
		if err != nil {
			return nil, err
		}
		rec.Paths.LibDirs = append(rec.Paths.LibDirs, abs)
	}
	if len(man.Nak.Loaders) > 0 {
		rec.Loaders = make(map[string]manifest.Loader, len(man.Nak.Loaders))
		for name, l := range man.Nak.Loaders {
			abs, err := fsutil.SafeJoin(root, l.ExecPath)
			if err != nil {
				return nil, err
			}
			rec.Loaders[name] = manifest.Loader{ExecPath: abs, ArgsTemplate: l.ArgsTemplate}
		}
	}
	return rec, nil
}

// Pack builds a .nap or .nak archive from a payload directory after
// validating its manifest. It returns the archive digest.
func Pack(srcDir, outPath string) (string, error) {
	kind, err := detectManifest(srcDir)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(srcDir, kind))
	if err != nil {
		return "", fault.Wrap(fault.KindIOError, err, "reading manifest")
	}
	if kind == "nap.json" {
		if _, _, err := manifest.ParseNap(data); err != nil {
			return "", err
		}
	} else {
		if _, _, err := manifest.ParseNak(data); err != nil {
			return "", err
		}
	}

	if err := archive.Pack(srcDir, outPath); err != nil {
		return "", err
	}
	digest, err := hashio.SumFile(outPath)
	if err != nil {
		return "", fault.Wrap(fault.KindIOError, err, "hashing %s", outPath)
	}
	return digest, nil
}

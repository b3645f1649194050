// Package nakcompose merges several NAKs into one materialized NAK:
// file trees are unioned under a conflict policy, lib dirs and
// environments are concatenated in input order, one input contributes
// the loaders, and a fresh nak.json is synthesized at the output root.
package nakcompose

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nah-dev/nah/internal/archive"
	"github.com/nah-dev/nah/internal/fault"
	"github.com/nah-dev/nah/internal/fetch"
	"github.com/nah-dev/nah/internal/fsutil"
	"github.com/nah-dev/nah/internal/hashio"
	"github.com/nah-dev/nah/internal/log"
	"github.com/nah-dev/nah/internal/manifest"
	"github.com/nah-dev/nah/internal/registry"
)

// ConflictPolicy decides what happens when two inputs carry the same
// path with different bytes.
type ConflictPolicy string

const (
	ConflictError ConflictPolicy = "error"
	ConflictFirst ConflictPolicy = "first"
	ConflictLast  ConflictPolicy = "last"
)

// SourceType classifies where an input came from.
type SourceType string

const (
	SourceInstalled SourceType = "installed"
	SourceDir       SourceType = "dir"
	SourceFile      SourceType = "file"
)

// Input is one resolved compose input. Conflicts reference inputs by
// their index in the resolved list.
type Input struct {
	Type     SourceType
	Source   string // the reference as given
	Dir      string // payload directory
	Manifest *manifest.NakManifest
	SHA256   string // digest of the source archive, file inputs only

	cleanup func()
}

// Conflict is one same-path/different-bytes collision.
type Conflict struct {
	Path   string `json:"path"`
	First  int    `json:"first_input"`
	Second int    `json:"second_input"`
}

// Options control one compose run.
type Options struct {
	// ID and Version identify the synthesized NAK. Both are required.
	ID      string
	Version string

	// Output is the destination: a directory, or a .nak file to
	// repackage deterministically.
	Output string

	OnConflict   ConflictPolicy
	LoaderFrom   string // input NAK id contributing the loaders
	ResourceRoot string // override when inputs disagree
	AddLibDirs   []string
	AddEnv       manifest.EnvMap // applied as set after the fold

	// ProvenancePath, when set, writes a nak.compose.v1 document there.
	ProvenancePath string
}

// Result reports what was produced.
type Result struct {
	Manifest  *manifest.NakManifest
	Output    string
	Conflicts []Conflict // resolved ones, for reporting
}

// Composer runs NAK composition against one registry root.
type Composer struct {
	root   *registry.Root
	logger *log.Logger
}

// New creates a Composer. root may be nil when no installed references
// will be used.
func New(root *registry.Root, logger *log.Logger) *Composer {
	if logger == nil {
		logger = log.Noop()
	}
	return &Composer{root: root, logger: logger}
}

// Compose resolves refs, merges them, and writes the output NAK.
func (c *Composer) Compose(ctx context.Context, refs []string, opts Options) (*Result, error) {
	if len(refs) == 0 {
		return nil, fault.New(fault.KindInvalidReference, "nak compose needs at least one input")
	}
	if opts.ID == "" || opts.Version == "" {
		return nil, fault.New(fault.KindInvalidManifest, "composed NAK needs an id and version")
	}
	if opts.OnConflict == "" {
		opts.OnConflict = ConflictError
	}

	inputs, err := c.resolveInputs(ctx, refs)
	defer func() {
		for _, in := range inputs {
			if in.cleanup != nil {
				in.cleanup()
			}
		}
	}()
	if err != nil {
		return nil, err
	}

	staging, err := fsutil.NewStaging(opts.Output, "nak-compose")
	if err != nil {
		return nil, fault.Wrap(fault.KindIOError, err, "staging compose output")
	}
	defer staging.Cleanup()

	conflicts, err := c.mergeTrees(ctx, inputs, staging.Dir(), opts.OnConflict)
	if err != nil {
		return nil, err
	}

	synth, err := c.synthesize(inputs, opts)
	if err != nil {
		return nil, err
	}
	data, err := manifest.Encode(synth)
	if err != nil {
		return nil, err
	}
	if err := fsutil.AtomicWrite(filepath.Join(staging.Dir(), "nak.json"), data, 0644); err != nil {
		return nil, err
	}

	output := opts.Output
	if strings.HasSuffix(output, ".nak") {
		if err := archive.Pack(staging.Dir(), output); err != nil {
			return nil, err
		}
	} else {
		if err := staging.Promote(output, false); err != nil {
			return nil, fault.Wrap(fault.KindIOError, err, "promoting composed NAK")
		}
	}

	if opts.ProvenancePath != "" {
		if err := c.writeProvenance(inputs, opts); err != nil {
			return nil, err
		}
	}

	c.logger.Info("nak composed", "id", opts.ID, "version", opts.Version, "inputs", len(inputs), "output", output)
	return &Result{Manifest: synth, Output: output, Conflicts: conflicts}, nil
}

// resolveInputs materializes every reference as a readable directory
// with a parsed manifest.
func (c *Composer) resolveInputs(ctx context.Context, refs []string) ([]*Input, error) {
	var inputs []*Input
	for _, raw := range refs {
		in, err := c.resolveOne(ctx, raw)
		if err != nil {
			return inputs, fmt.Errorf("input %s: %w", raw, err)
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}

func (c *Composer) resolveOne(ctx context.Context, raw string) (*Input, error) {
	ref, err := fetch.Parse(raw)
	if err != nil {
		return nil, err
	}

	switch ref.Scheme {
	case fetch.SchemeInstalled:
		if c.root == nil {
			return nil, fault.New(fault.KindNotInstalled, "no registry root to resolve %s", raw)
		}
		snap, err := c.root.Scan()
		if err != nil {
			return nil, err
		}
		var rec *manifest.NakRecord
		if ref.Version != "" {
			rec = snap.FindNak(ref.ID, ref.Version)
		} else {
			rec = snap.LatestNak(ref.ID)
		}
		if rec == nil {
			return nil, fault.New(fault.KindNotInstalled, "nak %s is not installed", raw)
		}
		return c.inputFromDir(SourceInstalled, raw, rec.Paths.Root, "")

	case fetch.SchemeFile:
		info, err := os.Stat(ref.Path)
		if err != nil {
			return nil, fault.Wrap(fault.KindIOError, err, "reading %s", ref.Path)
		}
		if info.IsDir() {
			return c.inputFromDir(SourceDir, raw, ref.Path, "")
		}
		digest, err := hashio.SumFile(ref.Path)
		if err != nil {
			return nil, fault.Wrap(fault.KindIOError, err, "hashing %s", ref.Path)
		}
		tmp, err := os.MkdirTemp("", "nah-compose-input-")
		if err != nil {
			return nil, fault.Wrap(fault.KindIOError, err, "creating temp dir")
		}
		if err := archive.Extract(ctx, ref.Path, tmp); err != nil {
			os.RemoveAll(tmp)
			return nil, err
		}
		in, err := c.inputFromDir(SourceFile, raw, tmp, digest)
		if err != nil {
			os.RemoveAll(tmp)
			return nil, err
		}
		in.cleanup = func() { os.RemoveAll(tmp) }
		return in, nil

	default:
		return nil, fault.New(fault.KindInvalidReference, "https inputs are not supported for nak compose, install first: %s", raw)
	}
}

func (c *Composer) inputFromDir(typ SourceType, source, dir, digest string) (*Input, error) {
	data, err := os.ReadFile(filepath.Join(dir, "nak.json"))
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalidManifest, err, "input has no nak.json")
	}
	man, warnings, err := manifest.ParseNak(data)
	if err != nil {
		return nil, err
	}
	c.logger.ForPackage("input", man.Nak.Identity.ID, man.Nak.Identity.Version).Warnings(warnings)
	return &Input{Type: typ, Source: source, Dir: dir, Manifest: man, SHA256: digest}, nil
}

// mergeTrees unions the payload trees into dest. Returns resolved
// conflicts; with policy error any conflict aborts after all are found.
func (c *Composer) mergeTrees(ctx context.Context, inputs []*Input, dest string, policy ConflictPolicy) ([]Conflict, error) {
	// origin tracks which input supplied each relative path.
	origin := make(map[string]int)
	var conflicts []Conflict

	for idx, in := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, fault.Wrap(fault.KindIOError, err, "compose cancelled")
		}
		files, err := fsutil.ListFiles(in.Dir)
		if err != nil {
			return nil, err
		}
		for _, rel := range files {
			if rel == "nak.json" {
				continue
			}
			src := filepath.Join(in.Dir, filepath.FromSlash(rel))
			dst := filepath.Join(dest, filepath.FromSlash(rel))

			prev, exists := origin[rel]
			if !exists {
				if err := fsutil.CopyFile(src, dst); err != nil {
					return nil, fault.Wrap(fault.KindIOError, err, "copying %s", rel)
				}
				origin[rel] = idx
				continue
			}

			srcSum, err := hashio.SumFile(src)
			if err != nil {
				return nil, fault.Wrap(fault.KindIOError, err, "hashing %s", rel)
			}
			dstSum, err := hashio.SumFile(dst)
			if err != nil {
				return nil, fault.Wrap(fault.KindIOError, err, "hashing %s", rel)
			}
			if srcSum == dstSum {
				// Identical bytes deduplicate silently.
				continue
			}

			conflicts = append(conflicts, Conflict{Path: rel, First: prev, Second: idx})
			switch policy {
			case ConflictLast:
				if err := fsutil.CopyFile(src, dst); err != nil {
					return nil, fault.Wrap(fault.KindIOError, err, "copying %s", rel)
				}
				origin[rel] = idx
			case ConflictFirst:
				// keep what is there
			case ConflictError:
				// keep collecting so the report is complete
			}
		}
	}

	if policy == ConflictError && len(conflicts) > 0 {
		parts := make([]string, 0, len(conflicts))
		for _, cf := range conflicts {
			parts = append(parts, fmt.Sprintf("%s (inputs %d and %d)", cf.Path, cf.First, cf.Second))
		}
		return nil, fault.New(fault.KindFileConflict, "%d conflicting files", len(conflicts)).
			WithDetail("conflicts", strings.Join(parts, "; "))
	}
	return conflicts, nil
}

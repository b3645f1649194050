// Package engine wires the registry, resolver, and composer together
// for callers that want one call from an app reference to a Launch
// Contract. It owns the I/O the pure composer refuses to do: reading
// records, the app manifest, and the host environment file.
package engine

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/nah-dev/nah/internal/compose"
	"github.com/nah-dev/nah/internal/fault"
	"github.com/nah-dev/nah/internal/fetch"
	"github.com/nah-dev/nah/internal/log"
	"github.com/nah-dev/nah/internal/manifest"
	"github.com/nah-dev/nah/internal/registry"
	"github.com/nah-dev/nah/internal/resolver"
)

// Engine composes launch contracts against one root.
type Engine struct {
	root   *registry.Root
	logger *log.Logger
}

// New creates an Engine.
func New(root *registry.Root, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Noop()
	}
	return &Engine{root: root, logger: logger}
}

// ProcessEnvSnapshot captures the current process environment as the
// base map the composer folds against.
func ProcessEnvSnapshot() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

// ComposeLaunch resolves rawRef to an installed app and composes its
// contract. Registry-level failures (unknown reference, unreadable
// root) come back as the error; composition failures, including pin
// drift, are reported in the Result the way the composer reports them.
func (e *Engine) ComposeLaunch(rawRef string, opts compose.Options) (compose.Result, error) {
	ref, err := fetch.Parse(rawRef)
	if err != nil {
		return compose.Result{}, err
	}
	if ref.Scheme != fetch.SchemeInstalled {
		return compose.Result{}, fault.New(fault.KindInvalidReference, "run needs an installed app reference, got %s", rawRef)
	}

	snap, err := e.root.Scan()
	if err != nil {
		return compose.Result{}, err
	}

	var rec *manifest.AppRecord
	if ref.Version != "" {
		rec = snap.FindApp(ref.ID, ref.Version)
	} else {
		rec = snap.LatestApp(ref.ID)
	}
	if rec == nil {
		return compose.Result{}, fault.New(fault.KindNotInstalled, "app %s is not installed", rawRef)
	}

	var warnings []manifest.Warning

	nak, err := resolver.VerifyPin(rec, snap)
	if err != nil {
		if fe, ok := err.(*fault.Error); ok && fe.Kind == fault.KindNakPinDrifted {
			return compose.Result{Warnings: warnings, Err: fe}, nil
		}
		return compose.Result{}, err
	}

	man, manWarnings, err := e.readAppManifest(rec)
	if err != nil {
		return compose.Result{}, err
	}
	warnings = append(warnings, manWarnings...)

	host, hostWarnings, err := e.root.ReadHost()
	if err != nil {
		return compose.Result{}, err
	}
	warnings = append(warnings, hostWarnings...)

	res := compose.Compose(compose.AppInput{Record: rec, Manifest: man}, nak, host, opts)
	res.Warnings = append(warnings, res.Warnings...)
	return res, nil
}

func (e *Engine) readAppManifest(rec *manifest.AppRecord) (*manifest.NapManifest, []manifest.Warning, error) {
	path := filepath.Join(rec.Paths.InstallRoot, "nap.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fault.Wrap(fault.KindIOError, err, "reading installed manifest %s", path)
	}
	return manifest.ParseNap(data)
}

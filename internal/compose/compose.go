// Package compose turns an installed app, its pinned NAK, and the host
// environment into a Launch Contract: the fully materialized
// description of what the host runner should execve. Compose is pure.
// It performs no I/O and no logging; everything it has to say comes
// back in the Result.
package compose

import (
	"fmt"
	"time"

	"github.com/nah-dev/nah/internal/envops"
	"github.com/nah-dev/nah/internal/fault"
	"github.com/nah-dev/nah/internal/fsutil"
	"github.com/nah-dev/nah/internal/manifest"
	"github.com/nah-dev/nah/internal/nakver"
	"github.com/nah-dev/nah/internal/platform"
)

// Contract is the composed launch description. Every path is absolute
// and every environment value is a literal: nothing is left for the
// host runner to interpret.
type Contract struct {
	App         ContractApp       `json:"app"`
	Nak         ContractNak       `json:"nak"`
	Execution   ContractExecution `json:"execution"`
	Environment []envops.KV       `json:"environment"`
	Trust       ContractTrust     `json:"trust"`
}

// ContractApp identifies the app being launched.
type ContractApp struct {
	ID         string `json:"id"`
	Version    string `json:"version"`
	Root       string `json:"root"`
	Entrypoint string `json:"entrypoint"`
}

// ContractNak identifies the kit, empty when the app uses none.
type ContractNak struct {
	ID      string `json:"id,omitempty"`
	Version string `json:"version,omitempty"`
	Root    string `json:"root,omitempty"`
}

// ContractExecution is what the runner executes.
type ContractExecution struct {
	Binary            string   `json:"binary"`
	Cwd               string   `json:"cwd"`
	Arguments         []string `json:"arguments"`
	LibraryPathEnvKey string   `json:"library_path_env_key"`
	LibraryPaths      []string `json:"library_paths"`
}

// ContractTrust carries the install-time trust evaluation forward.
type ContractTrust struct {
	State  string `json:"state"`
	Source string `json:"source,omitempty"`
}

// AppInput bundles the app install record with the manifest read from
// its install root. The caller loads both; Compose touches no disk.
type AppInput struct {
	Record   *manifest.AppRecord
	Manifest *manifest.NapManifest
}

// Options tune one composition.
type Options struct {
	// Target selects the platform constants. Zero means the build target.
	Target platform.Target

	// ProcessEnv is the inherited environment snapshot used as the base
	// for prepend/append and as the placeholder fall-through. Compose
	// never reads os.Environ itself.
	ProcessEnv map[string]string

	// Loader names the NAK loader to use when the kit defines several.
	Loader string

	// Trace enables the decision log.
	Trace bool

	// Clock stamps trace lines. Nil means time.Now.
	Clock func() time.Time
}

// TraceLine is one entry of the decision log.
type TraceLine struct {
	Step   string    `json:"step"`
	Detail string    `json:"detail"`
	At     time.Time `json:"at"`
}

// Result is everything a composition can produce. Err set means no
// contract; warnings accompany either outcome.
type Result struct {
	Contract *Contract          `json:"contract,omitempty"`
	Warnings []manifest.Warning `json:"warnings,omitempty"`
	Trace    []TraceLine        `json:"trace,omitempty"`
	Err      *fault.Error       `json:"-"`
}

type composer struct {
	opts     Options
	clock    func() time.Time
	warnings []manifest.Warning
	trace    []TraceLine
}

func (c *composer) tracef(step, format string, args ...any) {
	if !c.opts.Trace {
		return
	}
	c.trace = append(c.trace, TraceLine{Step: step, Detail: fmt.Sprintf(format, args...), At: c.clock()})
}

func (c *composer) warnf(kind, format string, args ...any) {
	c.warnings = append(c.warnings, manifest.Warning{Kind: kind, Message: fmt.Sprintf(format, args...)})
}

func (c *composer) fail(err error) Result {
	var fe *fault.Error
	if e, ok := err.(*fault.Error); ok {
		fe = e
	} else {
		fe = fault.Wrap(fault.KindInvalidManifest, err, "composition failed")
	}
	return Result{Warnings: c.warnings, Trace: c.trace, Err: fe}
}

// Compose produces a Launch Contract. nak may be nil when the app
// declares no kit. host may be nil, meaning an empty host environment.
func Compose(app AppInput, nak *manifest.NakRecord, host *manifest.HostManifest, opts Options) Result {
	c := &composer{opts: opts, clock: opts.Clock}
	if c.clock == nil {
		c.clock = time.Now
	}
	if host == nil {
		host = &manifest.HostManifest{}
	}
	target := opts.Target
	if target == (platform.Target{}) {
		target = platform.Current()
	}

	rec := app.Record
	man := app.Manifest

	// Step 1: the pinned NAK must still satisfy the app's requirement.
	if rec.App.NakID != "" {
		if nak == nil {
			return c.fail(fault.New(fault.KindNakPinDrifted,
				"app %s requires NAK %s but none was supplied", rec.App.ID, rec.App.NakID))
		}
		if err := checkPin(rec, nak); err != nil {
			return c.fail(err)
		}
		c.tracef("verify_pin", "nak %s@%s satisfies %s", nak.Nak.ID, nak.Nak.Version, rec.App.NakVersionReq)
	}

	appRoot := rec.Paths.InstallRoot
	entry, err := fsutil.SafeJoin(appRoot, man.App.Execution.Entrypoint)
	if err != nil {
		return c.fail(err)
	}

	// Step 2: library search path, first occurrence wins.
	libraryPaths, err := c.libraryPaths(rec, man, nak, host, appRoot)
	if err != nil {
		return c.fail(err)
	}

	// Step 3: library path key is a static target constant.
	libKey := target.LibraryPathKey()
	c.tracef("library_path_key", "%s (target %s)", libKey, target)

	// Step 4: fold the environment layers, then substitute.
	wellKnown := c.wellKnown(rec, man, nak, appRoot, entry)
	env, sub, err := c.foldEnvironment(rec, man, nak, host, wellKnown)
	if err != nil {
		return c.fail(err)
	}

	// Step 5: binary and arguments.
	binary, args, err := c.execution(rec, man, nak, sub, entry)
	if err != nil {
		return c.fail(err)
	}

	// Step 6: working directory.
	cwd := appRoot
	if nak != nil && nak.Execution.Cwd != "" {
		cwd, err = sub.Expand(nak.Execution.Cwd)
		if err != nil {
			return c.fail(err)
		}
	}
	c.tracef("cwd", "%s", cwd)

	// Step 7: assemble.
	contract := &Contract{
		App: ContractApp{
			ID:         rec.App.ID,
			Version:    rec.App.Version,
			Root:       appRoot,
			Entrypoint: entry,
		},
		Execution: ContractExecution{
			Binary:            binary,
			Cwd:               cwd,
			Arguments:         args,
			LibraryPathEnvKey: libKey,
			LibraryPaths:      libraryPaths,
		},
		Environment: env,
		Trust: ContractTrust{
			State:  string(rec.Trust.State),
			Source: rec.Trust.Source,
		},
	}
	if nak != nil {
		contract.Nak = ContractNak{ID: nak.Nak.ID, Version: nak.Nak.Version, Root: nak.Paths.Root}
	}
	c.tracef("emit", "contract for %s@%s", rec.App.ID, rec.App.Version)

	return Result{Contract: contract, Warnings: c.warnings, Trace: c.trace}
}

func checkPin(rec *manifest.AppRecord, nak *manifest.NakRecord) error {
	if nak.Nak.ID != rec.App.NakID {
		return fault.New(fault.KindNakPinDrifted, "supplied NAK %s does not match required %s", nak.Nak.ID, rec.App.NakID)
	}
	if rec.App.NakVersionReq == "" {
		return nil
	}
	rng, err := nakver.ParseRange(rec.App.NakVersionReq)
	if err != nil {
		return fault.Wrap(fault.KindInvalidManifest, err, "nak requirement for %s", rec.App.ID)
	}
	v, err := nakver.Parse(nak.Nak.Version)
	if err != nil {
		return fault.Wrap(fault.KindInvalidManifest, err, "nak version %s", nak.Nak.Version)
	}
	if !rng.Matches(v) {
		return fault.New(fault.KindNakPinDrifted,
			"pinned NAK %s@%s no longer satisfies %s", nak.Nak.ID, nak.Nak.Version, rec.App.NakVersionReq)
	}
	return nil
}

// libraryPaths concatenates the five library path sources in their
// fixed order and deduplicates preserving first occurrence.
func (c *composer) libraryPaths(rec *manifest.AppRecord, man *manifest.NapManifest, nak *manifest.NakRecord, host *manifest.HostManifest, appRoot string) ([]string, error) {
	var ordered []string
	ordered = append(ordered, host.Paths.LibraryPrepend...)
	ordered = append(ordered, rec.Overrides.Paths.LibraryPrepend...)
	if nak != nil {
		ordered = append(ordered, nak.Paths.LibDirs...)
	}
	for _, d := range man.App.Layout.LibDirs {
		abs, err := fsutil.SafeJoin(appRoot, d)
		if err != nil {
			return nil, err
		}
		ordered = append(ordered, abs)
	}
	ordered = append(ordered, host.Paths.LibraryAppend...)

	seen := make(map[string]bool, len(ordered))
	out := make([]string, 0, len(ordered))
	for _, p := range ordered {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	c.tracef("library_paths", "%d entries after dedup", len(out))
	return out, nil
}

// wellKnown builds the placeholder table available to templates.
func (c *composer) wellKnown(rec *manifest.AppRecord, man *manifest.NapManifest, nak *manifest.NakRecord, appRoot, entry string) map[string]string {
	wk := map[string]string{
		"NAH_APP_ROOT":    appRoot,
		"NAH_APP_ENTRY":   entry,
		"NAH_APP_ID":      rec.App.ID,
		"NAH_APP_VERSION": rec.App.Version,
	}
	if nak != nil {
		wk["NAH_NAK_ROOT"] = nak.Paths.Root
		wk["NAH_NAK_ID"] = nak.Nak.ID
		wk["NAH_NAK_VERSION"] = nak.Nak.Version
		wk["NAH_NAK_RESOURCE_ROOT"] = nak.Paths.ResourceRoot
	} else {
		wk["NAH_NAK_ROOT"] = ""
		wk["NAH_NAK_ID"] = ""
		wk["NAH_NAK_VERSION"] = ""
		wk["NAH_NAK_RESOURCE_ROOT"] = ""
	}
	return wk
}

// foldEnvironment folds NAK → host → app manifest → gated record
// overrides, substitutes placeholders, and injects the NAH keys.
func (c *composer) foldEnvironment(rec *manifest.AppRecord, man *manifest.NapManifest, nak *manifest.NakRecord, host *manifest.HostManifest, wellKnown map[string]string) ([]envops.KV, *envops.Substituter, error) {
	acc := envops.NewAccumulator(c.opts.ProcessEnv)
	if nak != nil {
		acc.Apply(nak.Environment)
	}
	acc.Apply(host.Environment)
	acc.Apply(man.App.Execution.Environment)
	acc.Apply(c.gateOverrides(rec.Overrides.Environment, host.Overrides))

	folded := acc.Result()
	c.tracef("env_fold", "%d keys after fold", len(folded))

	sub := envops.NewSubstituter(wellKnown, folded, c.opts.ProcessEnv)
	resolved, subWarnings, err := sub.ResolveAll()
	if err != nil {
		return nil, nil, err
	}
	c.warnings = append(c.warnings, subWarnings...)

	// Inject the NAH keys last; they cannot be overridden.
	injected := []envops.KV{
		{Key: "NAH_APP_ID", Value: wellKnown["NAH_APP_ID"]},
		{Key: "NAH_APP_VERSION", Value: wellKnown["NAH_APP_VERSION"]},
		{Key: "NAH_APP_ROOT", Value: wellKnown["NAH_APP_ROOT"]},
		{Key: "NAH_NAK_ID", Value: wellKnown["NAH_NAK_ID"]},
		{Key: "NAH_NAK_VERSION", Value: wellKnown["NAH_NAK_VERSION"]},
		{Key: "NAH_NAK_ROOT", Value: wellKnown["NAH_NAK_ROOT"]},
	}
	byKey := make(map[string]int, len(resolved))
	for i, kv := range resolved {
		byKey[kv.Key] = i
	}
	for _, kv := range injected {
		if i, ok := byKey[kv.Key]; ok {
			if resolved[i].Value != kv.Value {
				c.warnf("injected_key_overridden", "environment key %s is reserved, using injected value", kv.Key)
			}
			resolved[i] = kv
			continue
		}
		resolved = append(resolved, kv)
	}
	c.tracef("env_inject", "injected %d NAH keys", len(injected))
	return resolved, sub, nil
}

// gateOverrides filters app record environment overrides through the
// host policy. Disallowed keys are dropped with a warning.
func (c *composer) gateOverrides(overrides manifest.EnvMap, policy manifest.HostOverrides) manifest.EnvMap {
	if len(overrides) == 0 {
		return nil
	}
	if !policy.AllowEnvOverrides {
		for _, e := range overrides {
			c.warnf("override_blocked", "environment override %s dropped: host disallows overrides", e.Key)
		}
		return nil
	}
	if len(policy.AllowedEnvKeys) == 0 {
		return overrides
	}
	allowed := make(map[string]bool, len(policy.AllowedEnvKeys))
	for _, k := range policy.AllowedEnvKeys {
		allowed[k] = true
	}
	var out manifest.EnvMap
	for _, e := range overrides {
		if !allowed[e.Key] {
			c.warnf("override_blocked", "environment override %s dropped: not in allowed_env_keys", e.Key)
			continue
		}
		out = append(out, e)
	}
	return out
}

// execution selects the binary and assembles the final argument list.
func (c *composer) execution(rec *manifest.AppRecord, man *manifest.NapManifest, nak *manifest.NakRecord, sub *envops.Substituter, entry string) (string, []string, error) {
	var binary string
	var core []string

	loader, loaderName := c.selectLoader(nak)
	if loader != nil {
		binary = loader.ExecPath
		for _, tmpl := range loader.ArgsTemplate {
			arg, err := sub.Expand(tmpl)
			if err != nil {
				return "", nil, err
			}
			core = append(core, arg)
		}
		core = append(core, man.App.Execution.Arguments...)
		c.tracef("binary", "loader %q: %s", loaderName, binary)
	} else {
		binary = entry
		core = append(core, man.App.Execution.Arguments...)
		c.tracef("binary", "entrypoint: %s", binary)
	}

	args := make([]string, 0, len(core)+len(rec.Overrides.Arguments.Prepend)+len(rec.Overrides.Arguments.Append))
	args = append(args, rec.Overrides.Arguments.Prepend...)
	args = append(args, core...)
	args = append(args, rec.Overrides.Arguments.Append...)
	c.tracef("arguments", "%d arguments", len(args))
	return binary, args, nil
}

// selectLoader picks the loader to wrap the entrypoint with: the one
// named in options, else "default", else the sole loader. When several
// exist and none is named, the lexicographically first is used with a
// warning so launches stay deterministic.
func (c *composer) selectLoader(nak *manifest.NakRecord) (*manifest.Loader, string) {
	if nak == nil || len(nak.Loaders) == 0 {
		return nil, ""
	}
	if c.opts.Loader != "" {
		if l, ok := nak.Loaders[c.opts.Loader]; ok {
			return &l, c.opts.Loader
		}
		c.warnf("loader_not_found", "loader %q not defined by %s, falling back", c.opts.Loader, nak.Nak.ID)
	}
	if l, ok := nak.Loaders["default"]; ok {
		return &l, "default"
	}
	var first string
	for name := range nak.Loaders {
		if first == "" || name < first {
			first = name
		}
	}
	if len(nak.Loaders) > 1 {
		c.warnf("loader_ambiguous", "nak %s defines %d loaders and none is named default, using %q", nak.Nak.ID, len(nak.Loaders), first)
	}
	l := nak.Loaders[first]
	return &l, first
}

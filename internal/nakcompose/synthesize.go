package nakcompose

import (
	"strings"

	"github.com/nah-dev/nah/internal/fault"
	"github.com/nah-dev/nah/internal/manifest"
)

// synthesize builds the nak.json of the composed NAK from the inputs
// and options: lib dirs concatenated, environments folded, loaders from
// exactly one input, resource root by agreement or override.
func (c *Composer) synthesize(inputs []*Input, opts Options) (*manifest.NakManifest, error) {
	out := &manifest.NakManifest{
		Schema: manifest.SchemaNak,
		Nak: manifest.NakSection{
			Identity: manifest.NakIdentity{ID: opts.ID, Version: opts.Version},
		},
	}

	// Lib dirs: input order, then --add-lib-dirs, first occurrence wins.
	var libDirs []string
	seen := map[string]bool{}
	add := func(d string) {
		if !seen[d] {
			seen[d] = true
			libDirs = append(libDirs, d)
		}
	}
	for _, in := range inputs {
		for _, d := range in.Manifest.Nak.Paths.LibDirs {
			add(d)
		}
	}
	for _, d := range opts.AddLibDirs {
		add(d)
	}
	out.Nak.Paths.LibDirs = libDirs

	// Environment: fold input operation maps, then --add-env as set.
	layers := make([]manifest.EnvMap, 0, len(inputs)+1)
	for _, in := range inputs {
		layers = append(layers, in.Manifest.Nak.Environment)
	}
	var addEnv manifest.EnvMap
	for _, e := range opts.AddEnv {
		addEnv = append(addEnv, manifest.EnvEntry{
			Key: e.Key,
			Val: manifest.EnvValue{Op: manifest.OpSet, Value: e.Val.Value},
		})
	}
	layers = append(layers, addEnv)
	out.Nak.Environment = foldOps(layers)

	// Loaders: at most one input may contribute them unless named.
	loaderInput, err := selectLoaderInput(inputs, opts.LoaderFrom)
	if err != nil {
		return nil, err
	}
	if loaderInput != nil {
		out.Nak.Loaders = loaderInput.Manifest.Nak.Loaders
		out.Nak.Execution.Cwd = loaderInput.Manifest.Nak.Execution.Cwd
	}
	if out.Nak.Execution.Cwd == "" {
		for _, in := range inputs {
			if cwd := in.Manifest.Nak.Execution.Cwd; cwd != "" {
				out.Nak.Execution.Cwd = cwd
				break
			}
		}
	}

	// Resource root: all non-empty inputs must agree, or the option
	// decides.
	root, err := resolveResourceRoot(inputs, opts.ResourceRoot)
	if err != nil {
		return nil, err
	}
	out.Nak.Paths.ResourceRoot = root

	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// foldOps folds layered operation maps into a single operation map that
// reproduces the fold at launch time. Keys only ever prepended (or only
// appended) stay that op so they still compose with the host
// environment; anything mixed collapses to set.
func foldOps(layers []manifest.EnvMap) manifest.EnvMap {
	type slot struct {
		val manifest.EnvValue
	}
	var order []string
	acc := map[string]*slot{}

	for _, layer := range layers {
		for _, e := range layer {
			cur, ok := acc[e.Key]
			if !ok {
				v := e.Val
				acc[e.Key] = &slot{val: v}
				order = append(order, e.Key)
				continue
			}
			cur.val = combine(cur.val, e.Val)
		}
	}

	var out manifest.EnvMap
	for _, key := range order {
		out = append(out, manifest.EnvEntry{Key: key, Val: acc[key].val})
	}
	return out
}

// combine folds next onto cur per the §4.H table, preserving a single
// representable operation.
func combine(cur, next manifest.EnvValue) manifest.EnvValue {
	sep := next.SeparatorOrDefault()
	switch next.Op {
	case manifest.OpSet, manifest.OpUnset:
		return next
	case manifest.OpPrepend:
		switch cur.Op {
		case manifest.OpUnset:
			return manifest.EnvValue{Op: manifest.OpSet, Value: next.Value, Separator: next.Separator}
		case manifest.OpPrepend:
			return manifest.EnvValue{Op: manifest.OpPrepend, Value: next.Value + sep + cur.Value, Separator: cur.Separator}
		default: // set or append
			return manifest.EnvValue{Op: manifest.OpSet, Value: next.Value + sep + cur.Value, Separator: cur.Separator}
		}
	case manifest.OpAppend:
		switch cur.Op {
		case manifest.OpUnset:
			return manifest.EnvValue{Op: manifest.OpSet, Value: next.Value, Separator: next.Separator}
		case manifest.OpAppend:
			return manifest.EnvValue{Op: manifest.OpAppend, Value: cur.Value + sep + next.Value, Separator: cur.Separator}
		default:
			return manifest.EnvValue{Op: manifest.OpSet, Value: cur.Value + sep + next.Value, Separator: cur.Separator}
		}
	}
	return next
}

// selectLoaderInput applies the loader rule: zero or one input with
// loaders wins by default; two or more require --loader-from.
func selectLoaderInput(inputs []*Input, loaderFrom string) (*Input, error) {
	var withLoaders []*Input
	for _, in := range inputs {
		if len(in.Manifest.Nak.Loaders) > 0 {
			withLoaders = append(withLoaders, in)
		}
	}
	switch {
	case len(withLoaders) == 0:
		return nil, nil
	case loaderFrom != "":
		for _, in := range withLoaders {
			if in.Manifest.Nak.Identity.ID == loaderFrom {
				return in, nil
			}
		}
		return nil, fault.New(fault.KindAmbiguousLoaders, "no input with loaders has id %s", loaderFrom)
	case len(withLoaders) == 1:
		return withLoaders[0], nil
	default:
		ids := make([]string, 0, len(withLoaders))
		for _, in := range withLoaders {
			ids = append(ids, in.Manifest.Nak.Identity.ID)
		}
		return nil, fault.New(fault.KindAmbiguousLoaders,
			"multiple inputs define loaders, pass --loader-from").
			WithDetail("candidates", strings.Join(ids, ","))
	}
}

func resolveResourceRoot(inputs []*Input, override string) (string, error) {
	if override != "" {
		if strings.HasPrefix(override, "/") {
			return "", fault.New(fault.KindInvalidManifest, "resource root must be relative: %s", override)
		}
		return override, nil
	}
	var roots []string
	for _, in := range inputs {
		if r := in.Manifest.Nak.Paths.ResourceRoot; r != "" {
			roots = append(roots, r)
		}
	}
	if len(roots) == 0 {
		return "", nil
	}
	first := roots[0]
	for _, r := range roots[1:] {
		if r != first {
			return "", fault.New(fault.KindInvalidManifest,
				"inputs disagree on resource_root (%s vs %s), pass --resource-root", first, r)
		}
	}
	return first, nil
}

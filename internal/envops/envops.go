// Package envops implements the layered environment algebra: folding
// set/prepend/append/unset operations across NAK, host, and app layers,
// then resolving {PLACEHOLDER} tokens in dependency order.
package envops

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/nah-dev/nah/internal/fault"
	"github.com/nah-dev/nah/internal/manifest"
)

// KV is one resolved environment assignment.
type KV struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// entryState tracks how a key got its current accumulator value.
type entryState int

const (
	statePresent entryState = iota
	// stateTombstone marks a key erased by unset. Later prepend/append
	// treat it as absent and do not fall back to the base environment.
	stateTombstone
)

// Accumulator folds environment operations. Keys the fold never touches
// stay out of the result; prepend/append on an untouched key extend the
// base (inherited process) value when one exists.
type Accumulator struct {
	base    map[string]string
	order   []string
	entries map[string]*accEntry
}

type accEntry struct {
	value string
	state entryState
}

// NewAccumulator creates an accumulator over a base environment
// snapshot. The snapshot is typically the inherited process environment
// captured by the caller; the accumulator never reads os.Environ.
func NewAccumulator(base map[string]string) *Accumulator {
	return &Accumulator{
		base:    base,
		entries: make(map[string]*accEntry),
	}
}

// Apply folds one layer in declaration order.
func (a *Accumulator) Apply(layer manifest.EnvMap) {
	for _, e := range layer {
		a.applyOne(e.Key, e.Val)
	}
}

func (a *Accumulator) applyOne(key string, val manifest.EnvValue) {
	cur, touched := a.entries[key]
	sep := val.SeparatorOrDefault()

	switch val.Op {
	case manifest.OpSet:
		a.set(key, val.Value)
	case manifest.OpPrepend:
		switch {
		case touched && cur.state == statePresent:
			cur.value = val.Value + sep + cur.value
		case !touched:
			if base, ok := a.base[key]; ok {
				a.set(key, val.Value+sep+base)
			} else {
				a.set(key, val.Value)
			}
		default: // tombstone
			a.set(key, val.Value)
		}
	case manifest.OpAppend:
		switch {
		case touched && cur.state == statePresent:
			cur.value = cur.value + sep + val.Value
		case !touched:
			if base, ok := a.base[key]; ok {
				a.set(key, base+sep+val.Value)
			} else {
				a.set(key, val.Value)
			}
		default:
			a.set(key, val.Value)
		}
	case manifest.OpUnset:
		if touched {
			cur.state = stateTombstone
			cur.value = ""
		} else {
			a.entries[key] = &accEntry{state: stateTombstone}
			a.order = append(a.order, key)
		}
	}
}

func (a *Accumulator) set(key, value string) {
	if cur, ok := a.entries[key]; ok {
		cur.value = value
		cur.state = statePresent
		return
	}
	a.entries[key] = &accEntry{value: value}
	a.order = append(a.order, key)
}

// Result returns the touched keys in first-touch order, skipping
// tombstones. Values are still unsubstituted.
func (a *Accumulator) Result() []KV {
	var out []KV
	for _, key := range a.order {
		e := a.entries[key]
		if e.state != statePresent {
			continue
		}
		out = append(out, KV{Key: key, Value: e.value})
	}
	return out
}

// placeholderRe matches {TOKEN} where TOKEN is an identifier.
var placeholderRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Substituter resolves placeholders against well-known NAH keys, the
// folded environment (in dependency order), and finally the inherited
// process environment.
type Substituter struct {
	wellKnown map[string]string
	procEnv   map[string]string

	pending  map[string]string
	order    []string
	resolved map[string]string
	visiting map[string]bool
	warnings []manifest.Warning
}

// NewSubstituter prepares resolution over the folded env list.
func NewSubstituter(wellKnown map[string]string, env []KV, procEnv map[string]string) *Substituter {
	s := &Substituter{
		wellKnown: wellKnown,
		procEnv:   procEnv,
		pending:   make(map[string]string, len(env)),
		resolved:  make(map[string]string),
		visiting:  make(map[string]bool),
	}
	for _, kv := range env {
		s.pending[kv.Key] = kv.Value
		s.order = append(s.order, kv.Key)
	}
	return s
}

// ResolveAll substitutes every environment value and returns the final
// ordered list plus any fall-through warnings.
func (s *Substituter) ResolveAll() ([]KV, []manifest.Warning, error) {
	out := make([]KV, 0, len(s.order))
	for _, key := range s.order {
		value, err := s.resolveKey(key)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, KV{Key: key, Value: value})
	}
	return out, s.warnings, nil
}

// Expand substitutes placeholders in a free-standing template (loader
// arguments, cwd). Call after ResolveAll so env references are cheap.
func (s *Substituter) Expand(template string) (string, error) {
	return s.expand(template, "")
}

// Warnings returns fall-through warnings gathered so far.
func (s *Substituter) Warnings() []manifest.Warning {
	return s.warnings
}

func (s *Substituter) resolveKey(key string) (string, error) {
	if v, ok := s.resolved[key]; ok {
		return v, nil
	}
	if s.visiting[key] {
		cycle := s.currentCycle()
		return "", fault.New(fault.KindEnvCycle, "placeholder cycle involving %s", strings.Join(cycle, ", "))
	}
	raw, ok := s.pending[key]
	if !ok {
		return "", fmt.Errorf("internal: resolveKey(%s) on unknown key", key)
	}
	s.visiting[key] = true
	value, err := s.expand(raw, key)
	delete(s.visiting, key)
	if err != nil {
		return "", err
	}
	s.resolved[key] = value
	return value, nil
}

func (s *Substituter) currentCycle() []string {
	keys := make([]string, 0, len(s.visiting))
	for k := range s.visiting {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// expand replaces every {TOKEN} in template. self is the env key being
// resolved, or empty for free-standing templates.
func (s *Substituter) expand(template, self string) (string, error) {
	var firstErr error
	result := placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		if firstErr != nil {
			return match
		}
		token := match[1 : len(match)-1]

		if v, ok := s.wellKnown[token]; ok {
			return v
		}
		if token == self {
			firstErr = fault.New(fault.KindEnvCycle, "placeholder cycle involving %s", token)
			return match
		}
		if _, ok := s.pending[token]; ok {
			v, err := s.resolveKey(token)
			if err != nil {
				firstErr = err
				return match
			}
			return v
		}
		if v, ok := s.procEnv[token]; ok {
			s.warnings = append(s.warnings, manifest.Warning{
				Kind:    "placeholder_fallthrough",
				Message: fmt.Sprintf("placeholder {%s} resolved from inherited process environment", token),
			})
			return v
		}
		firstErr = fault.New(fault.KindUnknownPlaceholder, "unknown placeholder {%s}", token)
		return match
	})
	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

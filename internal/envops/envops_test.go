package envops

import (
	"encoding/json"
	"testing"

	"github.com/nah-dev/nah/internal/fault"
	"github.com/nah-dev/nah/internal/manifest"
)

func envMap(t *testing.T, doc string) manifest.EnvMap {
	t.Helper()
	var m manifest.EnvMap
	if err := json.Unmarshal([]byte(doc), &m); err != nil {
		t.Fatalf("parsing env map %s: %v", doc, err)
	}
	return m
}

func TestFoldSet(t *testing.T) {
	acc := NewAccumulator(nil)
	acc.Apply(envMap(t, `{"A": "1", "B": "2"}`))
	acc.Apply(envMap(t, `{"A": "3"}`))

	got := acc.Result()
	if len(got) != 2 {
		t.Fatalf("result = %v", got)
	}
	// Re-set keeps the original position.
	if got[0] != (KV{"A", "3"}) || got[1] != (KV{"B", "2"}) {
		t.Errorf("result = %v", got)
	}
}

func TestFoldPrependAppendChain(t *testing.T) {
	// Scenario: NAK, host, and app each prepend onto PATH with the
	// process environment providing the base value.
	acc := NewAccumulator(map[string]string{"PATH": "/usr/bin"})
	acc.Apply(envMap(t, `{"PATH": {"op": "prepend", "value": "/nak/bin"}}`))
	acc.Apply(envMap(t, `{"PATH": {"op": "prepend", "value": "/host/bin"}}`))
	acc.Apply(envMap(t, `{"PATH": {"op": "prepend", "value": "/app/bin"}}`))

	got := acc.Result()
	if len(got) != 1 || got[0].Value != "/app/bin:/host/bin:/nak/bin:/usr/bin" {
		t.Errorf("PATH = %v, want /app/bin:/host/bin:/nak/bin:/usr/bin", got)
	}
}

func TestFoldAppend(t *testing.T) {
	acc := NewAccumulator(map[string]string{"MANPATH": "/usr/man"})
	acc.Apply(envMap(t, `{"MANPATH": {"op": "append", "value": "/nak/man"}}`))
	got := acc.Result()
	if got[0].Value != "/usr/man:/nak/man" {
		t.Errorf("MANPATH = %q", got[0].Value)
	}
}

func TestFoldPrependWithoutBase(t *testing.T) {
	acc := NewAccumulator(nil)
	acc.Apply(envMap(t, `{"X": {"op": "prepend", "value": "a"}}`))
	acc.Apply(envMap(t, `{"X": {"op": "prepend", "value": "b"}}`))
	got := acc.Result()
	if got[0].Value != "b:a" {
		t.Errorf("X = %q, want b:a", got[0].Value)
	}
}

func TestFoldCustomSeparator(t *testing.T) {
	acc := NewAccumulator(nil)
	acc.Apply(envMap(t, `{"LIST": {"op": "set", "value": "one"}}`))
	acc.Apply(envMap(t, `{"LIST": {"op": "append", "value": "two", "separator": ";"}}`))
	got := acc.Result()
	if got[0].Value != "one;two" {
		t.Errorf("LIST = %q, want one;two", got[0].Value)
	}
}

func TestFoldUnset(t *testing.T) {
	acc := NewAccumulator(map[string]string{"SECRET": "base"})
	acc.Apply(envMap(t, `{"SECRET": "sensitive", "KEEP": "yes"}`))
	acc.Apply(envMap(t, `{"SECRET": {"op": "unset"}}`))

	got := acc.Result()
	if len(got) != 1 || got[0].Key != "KEEP" {
		t.Errorf("result = %v, want only KEEP", got)
	}
}

func TestFoldPrependAfterUnsetIgnoresBase(t *testing.T) {
	// An unset key is a tombstone: a later prepend starts fresh rather
	// than resurrecting the base value.
	acc := NewAccumulator(map[string]string{"PATH": "/usr/bin"})
	acc.Apply(envMap(t, `{"PATH": {"op": "unset"}}`))
	acc.Apply(envMap(t, `{"PATH": {"op": "prepend", "value": "/only/bin"}}`))

	got := acc.Result()
	if len(got) != 1 || got[0].Value != "/only/bin" {
		t.Errorf("PATH = %v, want /only/bin", got)
	}
}

func TestFoldLayerAssociativityWithoutUnset(t *testing.T) {
	// (nak ⊕ host) ⊕ app must equal nak ⊕ (host ⊕ app) when no op is
	// unset. Folding the three layers one at a time onto one accumulator
	// is the left association; the right association folds nak and then
	// a single layer holding host ⊕ app, composed by hand.
	nak := envMap(t, `{"PATH": {"op": "prepend", "value": "/nak"}, "A": "na"}`)
	host := envMap(t, `{"PATH": {"op": "prepend", "value": "/host"}, "B": {"op": "append", "value": "hb"}}`)
	app := envMap(t, `{"PATH": {"op": "prepend", "value": "/app"}, "A": {"op": "append", "value": "aa"}}`)
	base := map[string]string{"PATH": "/usr/bin"}

	left := NewAccumulator(base)
	left.Apply(nak)
	left.Apply(host)
	left.Apply(app)

	// Right association: host ⊕ app combined first (PATH prepends
	// "/app" onto "/host", B and A keep their appends), then applied to
	// the nak fold. With no unset in any layer the grouping cannot change
	// the outcome.
	hostApp := envMap(t, `{"PATH": {"op": "prepend", "value": "/app:/host"}, "B": {"op": "append", "value": "hb"}, "A": {"op": "append", "value": "aa"}}`)
	right := NewAccumulator(base)
	right.Apply(nak)
	right.Apply(hostApp)

	l, r := left.Result(), right.Result()
	if len(l) != len(r) {
		t.Fatalf("lengths differ: %v vs %v", l, r)
	}
	for i := range l {
		if l[i] != r[i] {
			t.Errorf("entry %d: %v vs %v", i, l[i], r[i])
		}
	}
}

func TestSubstituteWellKnown(t *testing.T) {
	wellKnown := map[string]string{
		"NAH_APP_ROOT": "/nah/apps/com.example.app-1.0.0",
		"NAH_NAK_ROOT": "/nah/naks/com.example.sdk/1.2.3",
	}
	env := []KV{{Key: "SDK_HOME", Value: "{NAH_NAK_ROOT}/sdk"}}

	s := NewSubstituter(wellKnown, env, nil)
	got, warnings, err := s.ResolveAll()
	if err != nil {
		t.Fatalf("ResolveAll() error = %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("warnings = %v", warnings)
	}
	if got[0].Value != "/nah/naks/com.example.sdk/1.2.3/sdk" {
		t.Errorf("SDK_HOME = %q", got[0].Value)
	}
}

func TestSubstituteDependencyOrder(t *testing.T) {
	// B references A even though B is declared first; resolution follows
	// dependencies, not declaration order.
	env := []KV{
		{Key: "B", Value: "{A}/sub"},
		{Key: "A", Value: "/base"},
	}
	s := NewSubstituter(nil, env, nil)
	got, _, err := s.ResolveAll()
	if err != nil {
		t.Fatalf("ResolveAll() error = %v", err)
	}
	if got[0].Value != "/base/sub" || got[1].Value != "/base" {
		t.Errorf("resolved = %v", got)
	}
}

func TestSubstituteCycle(t *testing.T) {
	env := []KV{
		{Key: "A", Value: "{B}"},
		{Key: "B", Value: "{A}"},
	}
	s := NewSubstituter(nil, env, nil)
	_, _, err := s.ResolveAll()
	if fault.KindOf(err) != fault.KindEnvCycle {
		t.Errorf("error = %v, want env_cycle", err)
	}
}

func TestSubstituteSelfCycle(t *testing.T) {
	env := []KV{{Key: "A", Value: "x{A}"}}
	s := NewSubstituter(nil, env, nil)
	_, _, err := s.ResolveAll()
	if fault.KindOf(err) != fault.KindEnvCycle {
		t.Errorf("error = %v, want env_cycle", err)
	}
}

func TestSubstituteProcessEnvFallthrough(t *testing.T) {
	env := []KV{{Key: "A", Value: "{HOME}/data"}}
	s := NewSubstituter(nil, env, map[string]string{"HOME": "/home/u"})
	got, warnings, err := s.ResolveAll()
	if err != nil {
		t.Fatalf("ResolveAll() error = %v", err)
	}
	if got[0].Value != "/home/u/data" {
		t.Errorf("A = %q", got[0].Value)
	}
	if len(warnings) != 1 || warnings[0].Kind != "placeholder_fallthrough" {
		t.Errorf("warnings = %v, want placeholder_fallthrough", warnings)
	}
}

func TestSubstituteUnknownPlaceholder(t *testing.T) {
	env := []KV{{Key: "A", Value: "{NOPE}"}}
	s := NewSubstituter(nil, env, nil)
	_, _, err := s.ResolveAll()
	if fault.KindOf(err) != fault.KindUnknownPlaceholder {
		t.Errorf("error = %v, want unknown_placeholder", err)
	}
}

func TestExpandTemplate(t *testing.T) {
	wellKnown := map[string]string{"NAH_APP_ENTRY": "/nah/apps/a/bin/app"}
	env := []KV{{Key: "MODE", Value: "fast"}}
	s := NewSubstituter(wellKnown, env, nil)
	if _, _, err := s.ResolveAll(); err != nil {
		t.Fatal(err)
	}

	got, err := s.Expand("--app={NAH_APP_ENTRY} --mode={MODE}")
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if got != "--app=/nah/apps/a/bin/app --mode=fast" {
		t.Errorf("Expand() = %q", got)
	}

	if _, err := s.Expand("{MISSING}"); fault.KindOf(err) != fault.KindUnknownPlaceholder {
		t.Errorf("Expand(missing) error = %v, want unknown_placeholder", err)
	}
}

package main

import (
	"errors"
	"strings"
	"testing"

	"github.com/nah-dev/nah/internal/fault"
)

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		kind fault.Kind
		want int
	}{
		{fault.KindInvalidReference, ExitUsage},
		{fault.KindInsecureScheme, ExitUsage},
		{fault.KindNotInstalled, ExitNotFound},
		{fault.KindNakNotInstalled, ExitNotFound},
		{fault.KindHashMismatch, ExitIntegrity},
		{fault.KindArchiveUnsafe, ExitIntegrity},
		{fault.KindInvalidManifest, ExitComposition},
		{fault.KindNakVersionUnsatisfiable, ExitComposition},
		{fault.KindNakPinDrifted, ExitComposition},
		{fault.KindAmbiguousLoaders, ExitComposition},
		{fault.KindFileConflict, ExitComposition},
		{fault.KindEnvCycle, ExitComposition},
		{fault.KindUnknownPlaceholder, ExitComposition},
		{fault.KindIOError, ExitFilesystem},
		{fault.KindPathEscape, ExitFilesystem},
	}
	for _, tt := range tests {
		err := fault.New(tt.kind, "x")
		if got := exitCodeFor(err); got != tt.want {
			t.Errorf("exitCodeFor(%s) = %d, want %d", tt.kind, got, tt.want)
		}
	}

	if got := exitCodeFor(errors.New("plain")); got != ExitGeneral {
		t.Errorf("exitCodeFor(plain) = %d, want %d", got, ExitGeneral)
	}
}

func TestParseAddEnv(t *testing.T) {
	env, err := parseAddEnv([]string{"A=1", "B=two=words"})
	if err != nil {
		t.Fatalf("parseAddEnv() error = %v", err)
	}
	if len(env) != 2 {
		t.Fatalf("env = %+v", env)
	}
	if env[0].Key != "A" || env[0].Val.Value != "1" {
		t.Errorf("env[0] = %+v", env[0])
	}
	if env[1].Key != "B" || env[1].Val.Value != "two=words" {
		t.Errorf("env[1] = %+v", env[1])
	}

	if _, err := parseAddEnv([]string{"NOVALUE"}); err == nil {
		t.Error("pair without = should fail")
	}
	if _, err := parseAddEnv([]string{"=x"}); err == nil {
		t.Error("empty key should fail")
	}
}

func TestBuildVersion(t *testing.T) {
	if buildVersion() == "" {
		t.Error("buildVersion() returned empty string")
	}
}

func TestVersionTemplateListsSchemas(t *testing.T) {
	tmpl := versionTemplate()
	for _, want := range []string{"{{.Version}}", "nap.v1", "nak.v1", "nah.v1", "app-record.v1", "nak-record.v1", "nak.compose.v1"} {
		if !strings.Contains(tmpl, want) {
			t.Errorf("version template missing %q: %s", want, tmpl)
		}
	}
}

func TestDetermineLogLevelFlags(t *testing.T) {
	defer func() { quietFlag, verboseFlag, debugFlag = false, false, false }()

	debugFlag = true
	if determineLogLevel().String() != "DEBUG" {
		t.Error("debug flag should win")
	}
	debugFlag, verboseFlag = false, true
	if determineLogLevel().String() != "INFO" {
		t.Error("verbose flag should give INFO")
	}
	verboseFlag, quietFlag = false, true
	if determineLogLevel().String() != "ERROR" {
		t.Error("quiet flag should give ERROR")
	}
}

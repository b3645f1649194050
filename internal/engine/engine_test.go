package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nah-dev/nah/internal/compose"
	"github.com/nah-dev/nah/internal/fault"
	"github.com/nah-dev/nah/internal/ingest"
	"github.com/nah-dev/nah/internal/platform"
	"github.com/nah-dev/nah/internal/registry"
)

const napDoc = `{
  "$schema": "nap.v1",
  "app": {
    "identity": {
      "id": "com.example.app",
      "version": "1.0.0",
      "nak_id": "com.example.sdk",
      "nak_version_req": ">=1.2.0 <2.0.0"
    },
    "execution": {"entrypoint": "bin/app"}
  }
}`

func nakDoc(version string) string {
	return `{
  "$schema": "nak.v1",
  "nak": {
    "identity": {"id": "com.example.sdk", "version": "` + version + `"}
  }
}`
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func setupRoot(t *testing.T) (*registry.Root, *ingest.Installer) {
	t.Helper()
	root, err := registry.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	return root, ingest.New(root, nil, nil)
}

func linuxOpts() compose.Options {
	return compose.Options{Target: platform.Target{OS: "linux", Arch: "amd64"}}
}

func TestComposeLaunchEndToEnd(t *testing.T) {
	root, inst := setupRoot(t)
	ctx := context.Background()

	for _, v := range []string{"1.1.0", "1.2.3", "2.0.0"} {
		dir := writeTree(t, map[string]string{"nak.json": nakDoc(v)})
		if _, err := inst.Install(ctx, "file:"+dir, ingest.Options{}); err != nil {
			t.Fatalf("installing nak %s: %v", v, err)
		}
	}
	appDir := writeTree(t, map[string]string{"nap.json": napDoc, "bin/app": "#!app"})
	if _, err := inst.Install(ctx, "file:"+appDir, ingest.Options{}); err != nil {
		t.Fatalf("installing app: %v", err)
	}

	e := New(root, nil)
	res, err := e.ComposeLaunch("com.example.app", linuxOpts())
	if err != nil {
		t.Fatalf("ComposeLaunch() error = %v", err)
	}
	if res.Err != nil {
		t.Fatalf("composition failed: %v", res.Err)
	}
	contract := res.Contract
	if contract.Nak.Version != "1.2.3" {
		t.Errorf("nak version = %s, want pinned 1.2.3", contract.Nak.Version)
	}
	if contract.Execution.Binary != filepath.Join(root.AppDir("com.example.app", "1.0.0"), "bin", "app") {
		t.Errorf("binary = %s", contract.Execution.Binary)
	}
}

func TestComposeLaunchNotInstalled(t *testing.T) {
	root, _ := setupRoot(t)
	e := New(root, nil)
	_, err := e.ComposeLaunch("com.example.ghost", linuxOpts())
	if fault.KindOf(err) != fault.KindNotInstalled {
		t.Errorf("error = %v, want not_installed", err)
	}
}

func TestComposeLaunchPinDriftAfterRemoval(t *testing.T) {
	root, inst := setupRoot(t)
	ctx := context.Background()

	for _, v := range []string{"1.2.3", "2.0.1"} {
		dir := writeTree(t, map[string]string{"nak.json": nakDoc(v)})
		if _, err := inst.Install(ctx, "file:"+dir, ingest.Options{}); err != nil {
			t.Fatal(err)
		}
	}
	appDir := writeTree(t, map[string]string{"nap.json": napDoc, "bin/app": "#!app"})
	if _, err := inst.Install(ctx, "file:"+appDir, ingest.Options{}); err != nil {
		t.Fatal(err)
	}

	// Force out the pinned NAK from under the app. RemoveNak refuses
	// while referenced, so drop the record directly the way an older
	// release might have.
	if err := os.Remove(filepath.Join(root.Path(), "registry", "naks", "com.example.sdk@1.2.3.json")); err != nil {
		t.Fatal(err)
	}

	e := New(root, nil)
	res, err := e.ComposeLaunch("com.example.app", linuxOpts())
	if err != nil {
		t.Fatalf("ComposeLaunch() error = %v", err)
	}
	if res.Contract != nil {
		t.Error("no contract expected on pin drift")
	}
	if res.Err == nil || res.Err.Kind != fault.KindNakPinDrifted {
		t.Errorf("err = %v, want nak_pin_drifted", res.Err)
	}
}

func TestComposeLaunchLatestVersionSelection(t *testing.T) {
	root, inst := setupRoot(t)
	ctx := context.Background()

	nakDir := writeTree(t, map[string]string{"nak.json": nakDoc("1.2.3")})
	if _, err := inst.Install(ctx, "file:"+nakDir, ingest.Options{}); err != nil {
		t.Fatal(err)
	}

	for _, v := range []string{"1.0.0", "1.1.0"} {
		doc := `{
  "$schema": "nap.v1",
  "app": {
    "identity": {"id": "com.example.app", "version": "` + v + `", "nak_id": "com.example.sdk", "nak_version_req": ">=1.0.0 <2.0.0"},
    "execution": {"entrypoint": "bin/app"}
  }
}`
		dir := writeTree(t, map[string]string{"nap.json": doc, "bin/app": "x"})
		if _, err := inst.Install(ctx, "file:"+dir, ingest.Options{}); err != nil {
			t.Fatal(err)
		}
	}

	e := New(root, nil)
	res, err := e.ComposeLaunch("com.example.app", linuxOpts())
	if err != nil {
		t.Fatal(err)
	}
	if res.Err != nil {
		t.Fatal(res.Err)
	}
	if res.Contract.App.Version != "1.1.0" {
		t.Errorf("version = %s, want latest 1.1.0", res.Contract.App.Version)
	}

	res, err = e.ComposeLaunch("com.example.app@1.0.0", linuxOpts())
	if err != nil {
		t.Fatal(err)
	}
	if res.Contract.App.Version != "1.0.0" {
		t.Errorf("version = %s, want explicit 1.0.0", res.Contract.App.Version)
	}
}

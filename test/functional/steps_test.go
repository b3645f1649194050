package functional

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// aCleanNahRoot is a no-op: the Before hook provisions a fresh root.
func aCleanNahRoot(ctx context.Context) (context.Context, error) {
	return ctx, nil
}

// anAppPayload writes an app payload directory under the scenario
// workspace, named payloads/<id>.
func anAppPayload(ctx context.Context, id, version, nakID, nakRange string) (context.Context, error) {
	state := getState(ctx)
	if state == nil {
		return ctx, fmt.Errorf("no test state")
	}
	dir := filepath.Join(state.workDir, "payloads", id)
	manifest := fmt.Sprintf(`{
  "$schema": "nap.v1",
  "app": {
    "identity": {"id": %q, "version": %q, "nak_id": %q, "nak_version_req": %q},
    "execution": {"entrypoint": "bin/app"}
  }
}`, id, version, nakID, nakRange)
	if err := writeTree(dir, map[string]string{
		"nap.json": manifest,
		"bin/app":  "#!/bin/sh\necho app-ran\n",
	}); err != nil {
		return ctx, err
	}
	return ctx, os.Chmod(filepath.Join(dir, "bin", "app"), 0o755)
}

// aNakPayload writes a NAK payload directory named payloads/<id>-<version>.
func aNakPayload(ctx context.Context, id, version string) (context.Context, error) {
	state := getState(ctx)
	if state == nil {
		return ctx, fmt.Errorf("no test state")
	}
	dir := filepath.Join(state.workDir, "payloads", id+"-"+version)
	manifest := fmt.Sprintf(`{
  "$schema": "nak.v1",
  "nak": {
    "identity": {"id": %q, "version": %q},
    "paths": {"lib_dirs": ["lib"]}
  }
}`, id, version)
	return ctx, writeTree(dir, map[string]string{
		"nak.json":    manifest,
		"lib/libk.so": "lib-bytes-" + version,
	})
}

// iRun executes a command line, replacing the leading "nah" with the
// test binary and {payloads} with the scenario payload directory.
func iRun(ctx context.Context, command string) (context.Context, error) {
	state := getState(ctx)
	if state == nil {
		return ctx, fmt.Errorf("no test state")
	}

	command = strings.ReplaceAll(command, "{payloads}", filepath.Join(state.workDir, "payloads"))
	args := strings.Fields(command)
	if len(args) > 0 && args[0] == "nah" {
		args[0] = state.binPath
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = state.workDir
	cmd.Env = append(os.Environ(),
		"NAH_ROOT="+state.rootDir,
		"NAH_NO_PROGRESS=1",
	)

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	state.stdout = stdout.String()
	state.stderr = stderr.String()
	state.exitCode = 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		state.exitCode = exitErr.ExitCode()
	} else if err != nil {
		return ctx, err
	}
	return ctx, nil
}

func theExitCodeIs(ctx context.Context, want int) error {
	state := getState(ctx)
	if state.exitCode != want {
		return fmt.Errorf("exit code = %d, want %d\nstdout:\n%s\nstderr:\n%s",
			state.exitCode, want, state.stdout, state.stderr)
	}
	return nil
}

func stdoutContains(ctx context.Context, want string) error {
	state := getState(ctx)
	if !strings.Contains(state.stdout, want) {
		return fmt.Errorf("stdout does not contain %q:\n%s", want, state.stdout)
	}
	return nil
}

func stderrContains(ctx context.Context, want string) error {
	state := getState(ctx)
	if !strings.Contains(state.stderr, want) {
		return fmt.Errorf("stderr does not contain %q:\n%s", want, state.stderr)
	}
	return nil
}

func writeTree(root string, files map[string]string) error {
	for rel, content := range files {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

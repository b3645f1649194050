package functional

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cucumber/godog"
)

type stateKeyType struct{}

var stateKey = stateKeyType{}

type testState struct {
	binPath  string
	rootDir  string
	workDir  string
	stdout   string
	stderr   string
	exitCode int
}

func getState(ctx context.Context) *testState {
	if s, ok := ctx.Value(stateKey).(*testState); ok {
		return s
	}
	return nil
}

func setState(ctx context.Context, s *testState) context.Context {
	return context.WithValue(ctx, stateKey, s)
}

func TestFeatures(t *testing.T) {
	binPath := os.Getenv("NAH_TEST_BINARY")
	if binPath == "" {
		t.Skip("NAH_TEST_BINARY not set; build cmd/nah and point NAH_TEST_BINARY at it")
	}
	absBin, err := filepath.Abs(binPath)
	if err != nil {
		t.Fatalf("resolving binary path: %v", err)
	}

	opts := &godog.Options{
		Format:   "pretty",
		Paths:    []string{"features"},
		TestingT: t,
	}

	suite := godog.TestSuite{
		ScenarioInitializer: func(ctx *godog.ScenarioContext) {
			initializeScenario(ctx, absBin)
		},
		Options: opts,
	}
	if suite.Run() != 0 {
		t.Fatal("functional tests failed")
	}
}

func initializeScenario(ctx *godog.ScenarioContext, binPath string) {
	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		workDir, err := os.MkdirTemp("", "nah-functional-")
		if err != nil {
			return ctx, err
		}
		state := &testState{
			binPath: binPath,
			rootDir: filepath.Join(workDir, "root"),
			workDir: workDir,
		}
		return setState(ctx, state), nil
	})
	ctx.After(func(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		if state := getState(ctx); state != nil {
			os.RemoveAll(state.workDir)
		}
		return ctx, nil
	})

	ctx.Step(`^a clean nah root$`, aCleanNahRoot)
	ctx.Step(`^an app payload "([^"]+)" version "([^"]+)" requiring nak "([^"]+)" range "([^"]+)"$`, anAppPayload)
	ctx.Step(`^a nak payload "([^"]+)" version "([^"]+)"$`, aNakPayload)
	ctx.Step(`^I run "([^"]+)"$`, iRun)
	ctx.Step(`^the exit code is (\d+)$`, theExitCodeIs)
	ctx.Step(`^stdout contains "([^"]+)"$`, stdoutContains)
	ctx.Step(`^stderr contains "([^"]+)"$`, stderrContains)
}

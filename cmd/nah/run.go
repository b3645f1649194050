package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nah-dev/nah/internal/compose"
	"github.com/nah-dev/nah/internal/engine"
	"github.com/nah-dev/nah/internal/log"
)

var runDryRun bool

var runCmd = &cobra.Command{
	Use:   "run <id>[@<version>] [-- extra args]",
	Short: "Compose and execute an installed app",
	Long: `Compose the launch contract for an installed app and execute it:
set the contract environment, join the library paths into the
platform's library path variable, chdir to the contract cwd, and run
the binary. The child's exit status is propagated offset by 64.

With --dry-run the contract is printed instead of executed.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		root, err := openRoot()
		if err != nil {
			fail(err)
		}

		eng := engine.New(root, log.Default())
		res, err := eng.ComposeLaunch(args[0], compose.Options{
			ProcessEnv: engine.ProcessEnvSnapshot(),
			Trace:      wantTrace(),
		})
		if err != nil {
			fail(err)
		}
		printWarnings(res.Warnings)
		if res.Err != nil {
			fail(res.Err)
		}
		contract := res.Contract

		if runDryRun {
			printJSON(res)
			return
		}

		childArgs := append([]string(nil), contract.Execution.Arguments...)
		childArgs = append(childArgs, args[1:]...)

		child := exec.Command(contract.Execution.Binary, childArgs...)
		child.Dir = contract.Execution.Cwd
		child.Stdin = os.Stdin
		child.Stdout = os.Stdout
		child.Stderr = os.Stderr

		env := os.Environ()
		for _, kv := range contract.Environment {
			env = append(env, kv.Key+"="+kv.Value)
		}
		if len(contract.Execution.LibraryPaths) > 0 {
			env = append(env, contract.Execution.LibraryPathEnvKey+"="+strings.Join(contract.Execution.LibraryPaths, ":"))
		}
		child.Env = env

		if err := child.Run(); err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				exitWithCode(ExitChildBase + exitErr.ExitCode())
			}
			fmt.Fprintf(os.Stderr, "Error: executing %s: %v\n", contract.Execution.Binary, err)
			exitWithCode(ExitFilesystem)
		}
	},
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Print the contract instead of executing")
}

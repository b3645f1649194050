package main

import (
	"github.com/spf13/cobra"

	"github.com/nah-dev/nah/internal/compose"
	"github.com/nah-dev/nah/internal/engine"
	"github.com/nah-dev/nah/internal/fault"
	"github.com/nah-dev/nah/internal/fetch"
	"github.com/nah-dev/nah/internal/log"
)

var showContract bool

var showCmd = &cobra.Command{
	Use:   "show <id>[@<version>]",
	Short: "Show an installed package record, or its composed contract",
	Long: `Show the install record of an app or NAK. With --contract the app's
launch contract is composed and printed instead of executed.

Examples:
  nah show com.example.app
  nah show com.example.sdk@1.2.3
  nah show com.example.app --contract --trace`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		root, err := openRoot()
		if err != nil {
			fail(err)
		}

		if showContract {
			eng := engine.New(root, log.Default())
			res, err := eng.ComposeLaunch(args[0], compose.Options{
				ProcessEnv: engine.ProcessEnvSnapshot(),
				Trace:      wantTrace(),
			})
			if err != nil {
				fail(err)
			}
			if res.Err != nil {
				printWarnings(res.Warnings)
				fail(res.Err)
			}
			printWarnings(res.Warnings)
			printJSON(res)
			return
		}

		ref, err := fetch.Parse(args[0])
		if err != nil {
			fail(err)
		}
		snap, err := root.Scan()
		if err != nil {
			fail(err)
		}

		// An id can name an app or a NAK; apps win on collision.
		if rec := findApp(snap, ref); rec != nil {
			printJSON(rec)
			return
		}
		if ref.Version != "" {
			if rec := snap.FindNak(ref.ID, ref.Version); rec != nil {
				printJSON(rec)
				return
			}
		} else if rec := snap.LatestNak(ref.ID); rec != nil {
			printJSON(rec)
			return
		}
		fail(fault.New(fault.KindNotInstalled, "nothing installed matches %s", args[0]))
	},
}

func init() {
	showCmd.Flags().BoolVar(&showContract, "contract", false, "Compose and print the launch contract")
}

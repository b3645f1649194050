package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nah-dev/nah/internal/fault"
	"github.com/nah-dev/nah/internal/fetch"
)

var removeCmd = &cobra.Command{
	Use:   "remove <id>@<version>",
	Short: "Remove an installed app or NAK",
	Long: `Remove an installed package: its registry record and payload. A NAK
that is still pinned by an installed app cannot be removed.

Examples:
  nah remove com.example.app@1.0.0
  nah remove com.example.sdk@1.1.0`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ref, err := fetch.Parse(args[0])
		if err != nil {
			fail(err)
		}
		if ref.Scheme != fetch.SchemeInstalled || ref.Version == "" {
			fail(fault.New(fault.KindInvalidReference, "remove wants <id>@<version>, got %s", args[0]))
		}

		root, err := openRoot()
		if err != nil {
			fail(err)
		}
		lock, err := root.Lock()
		if err != nil {
			fail(err)
		}
		defer lock.Release()

		// The reference does not say which kind it is; try the app
		// record first, then the NAK.
		if _, err := root.ReadAppRecord(ref.ID, ref.Version); err == nil {
			if err := root.RemoveApp(ref.ID, ref.Version); err != nil {
				fail(err)
			}
			fmt.Printf("Removed app %s@%s\n", ref.ID, ref.Version)
			return
		}
		if _, err := root.ReadNakRecord(ref.ID, ref.Version); err == nil {
			if err := root.RemoveNak(ref.ID, ref.Version); err != nil {
				fail(err)
			}
			fmt.Printf("Removed NAK %s@%s\n", ref.ID, ref.Version)
			return
		}
		fail(fault.New(fault.KindNotInstalled, "%s is not installed", args[0]))
	},
}

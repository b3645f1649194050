package main

import (
	"fmt"
	"io"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/nah-dev/nah/internal/fetch"
	"github.com/nah-dev/nah/internal/ingest"
	"github.com/nah-dev/nah/internal/log"
	"github.com/nah-dev/nah/internal/progress"
)

var (
	installForce  bool
	installDigest string
)

var installCmd = &cobra.Command{
	Use:   "install <reference>",
	Short: "Install a .nap or .nak package into the NAH root",
	Long: `Install a package from a local file, a directory, or an HTTPS URL.

HTTPS references must carry their digest in the URL fragment; file
references to archives can supply one with --sha256. Directory sources
are copied without a digest check. Verified digests are recorded in the
install record's trust state.

Examples:
  nah install file:./app.nap
  nah install file:./sdk-payload/
  nah install file:./sdk-1.2.3.nak --sha256 <hex>
  nah install https://pkgs.example.com/sdk-1.2.3.nak#sha256=<hex>`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		root, err := openRoot()
		if err != nil {
			fail(err)
		}

		fetcher := fetch.New(nil, log.Default())
		if progress.ShouldShow() {
			fetcher.WrapBody = func(r io.Reader, total int64) io.Reader {
				return progress.NewReader(r, total, cmd.OutOrStdout())
			}
		}

		installedBy := ""
		if u, err := user.Current(); err == nil {
			installedBy = u.Username
		}

		inst := ingest.New(root, fetcher, log.Default())
		res, err := inst.Install(globalCtx, args[0], ingest.Options{
			Force:       installForce,
			Digest:      installDigest,
			InstalledBy: installedBy,
		})
		if err != nil {
			fail(err)
		}

		if wantJSON() {
			printJSON(res)
			return
		}
		printWarnings(res.Warnings)
		switch {
		case res.App != nil:
			fmt.Printf("Installed app %s@%s\n", res.App.App.ID, res.App.App.Version)
			if res.App.Nak.ID != "" {
				fmt.Printf("Pinned NAK %s@%s (%s)\n", res.App.Nak.ID, res.App.Nak.Version, res.App.Nak.SelectionReason)
			}
		case res.Nak != nil:
			fmt.Printf("Installed NAK %s@%s\n", res.Nak.Nak.ID, res.Nak.Nak.Version)
		}
	},
}

func init() {
	installCmd.Flags().BoolVar(&installForce, "force", false, "Reinstall over an existing record")
	installCmd.Flags().StringVar(&installDigest, "sha256", "", "Expected sha256 for file references")
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nah-dev/nah/internal/ingest"
)

var packCmd = &cobra.Command{
	Use:   "pack <payload-dir> <output.nap|output.nak>",
	Short: "Build a deterministic package archive from a payload directory",
	Long: `Pack a directory carrying a nap.json or nak.json manifest into a
gzipped tar package. Identical trees always produce identical bytes,
so the printed digest is stable.

Examples:
  nah pack ./myapp ./myapp-1.0.0.nap
  nah pack ./sdk ./sdk-1.2.3.nak`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		digest, err := ingest.Pack(args[0], args[1])
		if err != nil {
			fail(err)
		}
		if wantJSON() {
			printJSON(map[string]string{"output": args[1], "sha256": digest})
			return
		}
		fmt.Printf("Packed %s\n", args[1])
		fmt.Printf("sha256: %s\n", digest)
	},
}

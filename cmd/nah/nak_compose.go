package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nah-dev/nah/internal/fault"
	"github.com/nah-dev/nah/internal/log"
	"github.com/nah-dev/nah/internal/manifest"
	"github.com/nah-dev/nah/internal/nakcompose"
)

var nakCmd = &cobra.Command{
	Use:   "nak",
	Short: "Operations on app kits",
}

var (
	composeID           string
	composeVersion      string
	composeOutput       string
	composeOnConflict   string
	composeLoaderFrom   string
	composeResourceRoot string
	composeAddLibDirs   []string
	composeAddEnv       []string
	composeProvenance   string
)

var nakComposeCmd = &cobra.Command{
	Use:   "compose <input>...",
	Short: "Merge several NAKs into one materialized NAK",
	Long: `Merge the file trees, lib dirs, environments, and loaders of several
NAKs into a new one. Inputs are installed references (id[@version]),
directories, or .nak files via file:. The output is a directory, or a
deterministic .nak archive when --output ends in .nak.

Examples:
  nah nak compose com.example.gfx com.example.audio \
      --id com.example.bundle --version 1.0.0 --output ./bundle.nak
  nah nak compose file:./a.nak file:./b.nak \
      --id com.example.ab --version 0.1.0 --output ./ab \
      --on-conflict last --loader-from com.example.a`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		root, err := openRoot()
		if err != nil {
			fail(err)
		}

		addEnv, err := parseAddEnv(composeAddEnv)
		if err != nil {
			fail(err)
		}

		policy := nakcompose.ConflictPolicy(composeOnConflict)
		switch policy {
		case nakcompose.ConflictError, nakcompose.ConflictFirst, nakcompose.ConflictLast:
		default:
			fail(fault.New(fault.KindInvalidReference, "--on-conflict must be error, first, or last"))
		}

		composer := nakcompose.New(root, log.Default())
		res, err := composer.Compose(globalCtx, args, nakcompose.Options{
			ID:             composeID,
			Version:        composeVersion,
			Output:         composeOutput,
			OnConflict:     policy,
			LoaderFrom:     composeLoaderFrom,
			ResourceRoot:   composeResourceRoot,
			AddLibDirs:     composeAddLibDirs,
			AddEnv:         addEnv,
			ProvenancePath: composeProvenance,
		})
		if err != nil {
			fail(err)
		}

		if wantJSON() {
			printJSON(res)
			return
		}
		fmt.Printf("Composed %s@%s -> %s\n", composeID, composeVersion, res.Output)
		for _, c := range res.Conflicts {
			fmt.Printf("Resolved conflict: %s (inputs %d and %d)\n", c.Path, c.First, c.Second)
		}
	},
}

// parseAddEnv turns KEY=VALUE pairs into set operations.
func parseAddEnv(pairs []string) (manifest.EnvMap, error) {
	var env manifest.EnvMap
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("--add-env wants KEY=VALUE, got %q", pair)
		}
		// Round-trip through JSON so the value carries the literal form.
		var val manifest.EnvValue
		data, _ := json.Marshal(value)
		if err := json.Unmarshal(data, &val); err != nil {
			return nil, err
		}
		env = append(env, manifest.EnvEntry{Key: key, Val: val})
	}
	return env, nil
}

func init() {
	nakComposeCmd.Flags().StringVar(&composeID, "id", "", "Identity of the composed NAK (required)")
	nakComposeCmd.Flags().StringVar(&composeVersion, "version", "", "Version of the composed NAK (required)")
	nakComposeCmd.Flags().StringVar(&composeOutput, "output", "", "Output directory or .nak file (required)")
	nakComposeCmd.Flags().StringVar(&composeOnConflict, "on-conflict", "error", "File conflict policy: error, first, last")
	nakComposeCmd.Flags().StringVar(&composeLoaderFrom, "loader-from", "", "Input NAK id contributing the loaders")
	nakComposeCmd.Flags().StringVar(&composeResourceRoot, "resource-root", "", "Resource root when inputs disagree")
	nakComposeCmd.Flags().StringSliceVar(&composeAddLibDirs, "add-lib-dirs", nil, "Extra lib dirs appended after the inputs")
	nakComposeCmd.Flags().StringArrayVar(&composeAddEnv, "add-env", nil, "Extra KEY=VALUE set operations")
	nakComposeCmd.Flags().StringVar(&composeProvenance, "provenance", "", "Write a nak.compose.v1 provenance document here")
	nakComposeCmd.MarkFlagRequired("id")
	nakComposeCmd.MarkFlagRequired("version")
	nakComposeCmd.MarkFlagRequired("output")

	nakCmd.AddCommand(nakComposeCmd)
}

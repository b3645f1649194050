package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nah-dev/nah/internal/userconfig"
)

var configCmd = &cobra.Command{
	Use:   "config [<key> [<value>]]",
	Short: "Show or change user defaults",
	Long: `Without arguments, print the current configuration. With a key, print
that value. With a key and a value, set it.

Keys: root, json, trace

Examples:
  nah config
  nah config root
  nah config root /srv/nah
  nah config json true`,
	Args: cobra.MaximumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := userconfig.Load()
		if err != nil {
			fail(err)
		}

		switch len(args) {
		case 0:
			if wantJSON() {
				printJSON(cfg)
				return
			}
			fmt.Printf("root = %s\n", cfg.Root)
			fmt.Printf("json = %v\n", cfg.JSON)
			fmt.Printf("trace = %v\n", cfg.Trace)
		case 1:
			value, err := cfg.Get(args[0])
			if err != nil {
				fail(err)
			}
			fmt.Println(value)
		case 2:
			if err := cfg.Set(args[0], args[1]); err != nil {
				fail(err)
			}
			if err := cfg.Save(); err != nil {
				fail(err)
			}
			fmt.Printf("%s = %s\n", args[0], args[1])
		}
	},
}

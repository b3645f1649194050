package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed apps and NAKs",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		root, err := openRoot()
		if err != nil {
			fail(err)
		}
		snap, err := root.Scan()
		if err != nil {
			fail(err)
		}

		if wantJSON() {
			printJSON(snap)
			return
		}

		type row struct{ id, version, extra string }
		var apps, naks []row
		for _, rec := range snap.Apps {
			extra := ""
			if rec.Nak.ID != "" {
				extra = fmt.Sprintf("nak %s@%s", rec.Nak.ID, rec.Nak.Version)
			}
			apps = append(apps, row{rec.App.ID, rec.App.Version, extra})
		}
		for _, rec := range snap.Naks {
			naks = append(naks, row{rec.Nak.ID, rec.Nak.Version, ""})
		}
		sortRows := func(rows []row) {
			sort.Slice(rows, func(i, j int) bool {
				if rows[i].id != rows[j].id {
					return rows[i].id < rows[j].id
				}
				return rows[i].version < rows[j].version
			})
		}
		sortRows(apps)
		sortRows(naks)

		if len(apps) == 0 && len(naks) == 0 {
			fmt.Println("Nothing installed.")
			return
		}
		if len(apps) > 0 {
			fmt.Println("Apps:")
			for _, r := range apps {
				if r.extra != "" {
					fmt.Printf("  %s@%s  (%s)\n", r.id, r.version, r.extra)
				} else {
					fmt.Printf("  %s@%s\n", r.id, r.version)
				}
			}
		}
		if len(naks) > 0 {
			fmt.Println("NAKs:")
			for _, r := range naks {
				fmt.Printf("  %s@%s\n", r.id, r.version)
			}
		}
	},
}

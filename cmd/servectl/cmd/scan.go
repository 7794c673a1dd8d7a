package cmd

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List every model and version found in the configured repository paths",
	RunE: func(c *cobra.Command, args []string) error {
		a, err := buildApp(context.Background())
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.store.Scan()
		if err != nil {
			return err
		}

		for _, e := range entries {
			color.New(color.FgCyan, color.Bold).Printf("%s\n", e.Name)
			for _, v := range e.Versions {
				fmt.Printf("  version %d  fingerprint %s  size %s\n", v.Version, v.ModKey, humanize.Bytes(uint64(v.SizeBytes)))
			}
		}
		if len(entries) == 0 {
			fmt.Println("no models found")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

package cmd

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/servecore/runtime/internal/backend"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show load state for every known model version",
	RunE: func(c *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.srv.Init(ctx); err != nil {
			return err
		}

		fmt.Printf("live=%v ready=%v\n\n", a.srv.IsLive(), a.srv.IsReady())

		for _, st := range a.mgr.ListModels() {
			stateColor(st.State).Printf("%-8s", st.State)
			fmt.Printf(" %-24s version=%-4d generation=%-4d refs=%-3d", st.Name, st.Version, st.Generation, st.Refcount)
			if st.Error != "" {
				color.New(color.FgRed).Printf("  %s", st.Error)
			}
			fmt.Println()
		}
		return nil
	},
}

func stateColor(s backend.State) *color.Color {
	switch s {
	case backend.Ready:
		return color.New(color.FgGreen, color.Bold)
	case backend.Loading, backend.Unloading:
		return color.New(color.FgYellow)
	case backend.Unavailable:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgWhite)
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

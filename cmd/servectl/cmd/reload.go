package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Trigger an immediate model repository poll cycle",
	RunE: func(c *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.srv.PollModelRepository(ctx); err != nil {
			return err
		}
		fmt.Println("poll cycle complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reloadCmd)
}

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var loadCmd = &cobra.Command{
	Use:   "load <model>",
	Short: "Explicitly load or reload the latest repository version of a model",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		name := args[0]
		bar := progressbar.NewOptions(-1,
			progressbar.OptionSetDescription(fmt.Sprintf("loading %s", name)),
			progressbar.OptionSpinnerType(14),
		)
		done := make(chan error, 1)
		go func() { done <- a.srv.LoadModel(ctx, name) }()

		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case err := <-done:
				bar.Finish()
				if err != nil {
					return err
				}
				fmt.Printf("\n%s is ready\n", name)
				return nil
			case <-ticker.C:
				bar.Add(1)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(loadCmd)
}

package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/servecore/runtime/internal/request"
)

var inferModel string
var inferTimeoutMs int

var inferCmd = &cobra.Command{
	Use:   "infer",
	Short: "Submit the reference simple_string request against a loaded model",
	Long: `infer builds the sixteen-element simple_string fixture (INPUT0
counting 1..16, INPUT1 all 1s) and submits it to the named model,
printing whatever OUTPUT0/OUTPUT1 come back.`,
	RunE: func(c *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.mgr.Bootstrap(ctx, a.cfg.StartupModelSet()); err != nil {
			return err
		}

		req := request.New(inferModel)
		req.SetTimeoutMicroseconds(int64(inferTimeoutMs) * 1000)

		in0 := make([]string, 16)
		in1 := make([]string, 16)
		for i := 0; i < 16; i++ {
			in0[i] = strconv.Itoa(i + 1)
			in1[i] = "1"
		}
		if err := req.AddOriginalInput(request.Input{Name: "INPUT0", Shape: []int64{1, 16}, Data: []byte(strings.Join(in0, "\n"))}); err != nil {
			return err
		}
		if err := req.AddOriginalInput(request.Input{Name: "INPUT1", Shape: []int64{1, 16}, Data: []byte(strings.Join(in1, "\n"))}); err != nil {
			return err
		}
		req.AddRequestedOutput("OUTPUT0")
		req.AddRequestedOutput("OUTPUT1")

		ctx, cancel := context.WithTimeout(ctx, time.Duration(inferTimeoutMs)*time.Millisecond)
		defer cancel()

		resp, err := a.srv.InferAsync(ctx, req)
		if err != nil {
			return err
		}
		for _, o := range resp.Outputs {
			fmt.Printf("%s: %s\n", o.Name, string(o.Buffer))
		}
		return nil
	},
}

func init() {
	inferCmd.Flags().StringVar(&inferModel, "model", "", "model name to infer against")
	inferCmd.Flags().IntVar(&inferTimeoutMs, "timeout-ms", 5000, "request timeout in milliseconds")
	inferCmd.MarkFlagRequired("model")
	rootCmd.AddCommand(inferCmd)
}

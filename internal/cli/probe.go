package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/raaihank/arguana-embed/internal/dataset"
	"github.com/raaihank/arguana-embed/internal/embeddings"
)

func newProbeCommand(a *app) *cobra.Command {
	var maxBatch int

	cmd := &cobra.Command{
		Use:   "probe <input>",
		Short: "Find the largest batch size the configured devices can encode",
		Long: `Probe batch sizes with the longest text of the input file, shrinking
by one sample per device after every out-of-memory failure.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			devices, err := a.devices()
			if err != nil {
				return err
			}
			if devices.IsCPU() {
				fmt.Fprintln(cmd.OutOrStdout(), "cpu placement always embeds one text at a time: batch size 1")
				return nil
			}

			records, err := dataset.ReadTexts(args[0], a.cfg.Dataset)
			if err != nil {
				return err
			}
			texts := make([]string, 0, len(records))
			for _, rec := range records {
				texts = append(texts, rec.Text)
			}

			model, err := a.loadModel(ctx)
			if err != nil {
				return err
			}
			defer model.Close()

			if maxBatch <= 0 {
				maxBatch = a.cfg.Model.BatchSize
			}
			size, err := embeddings.OptimalBatchSize(ctx, model, texts, maxBatch)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s on %s: batch size %d\n", model.CacheKey(), devices, size)
			return nil
		},
	}

	cmd.Flags().IntVar(&maxBatch, "max-batch", 0, "upper bound for the probe (default is the configured batch size)")
	return cmd
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raaihank/arguana-embed/internal/dataset"
)

func newEmbedCommand(a *app) *cobra.Command {
	var (
		output     string
		textColumn string
		idColumn   string
		chunkSize  int
		useCache   bool
		useStore   bool
		skipIndex  bool
	)

	cmd := &cobra.Command{
		Use:   "embed <input>",
		Short: "Embed every text of a CSV, Parquet or JSON Lines file",
		Long: `Embed every distinct text of the input file with the configured model.

Vectors are written to --output (Parquet when the name ends in .parquet,
JSON Lines otherwise) and stored in PostgreSQL when --store is set or the
store is enabled in the config file.`,
		Example: `  arguana-embed embed arguments.csv -o arguments.parquet
  arguana-embed embed corpus.jsonl --model specterv2 --devices 0,1 --auto-batch
  arguana-embed embed corpus.parquet --store --cache`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("text-column") {
				a.cfg.Dataset.TextColumn = textColumn
			}
			if cmd.Flags().Changed("id-column") {
				a.cfg.Dataset.IDColumn = idColumn
			}
			if cmd.Flags().Changed("chunk-size") {
				a.cfg.Dataset.ChunkSize = chunkSize
			}
			if skipIndex {
				a.cfg.Dataset.CreateIndex = false
			}
			withStore := useStore || a.cfg.Store.Enabled
			if output == "" && !withStore {
				return fmt.Errorf("nothing to do: set --output or --store")
			}
			return a.runEmbed(cmd, args[0], output, useCache || a.cfg.Cache.Enabled, withStore)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&output, "output", "o", "", "output file (.parquet or .jsonl)")
	flags.StringVar(&textColumn, "text-column", "", "column holding the text (default from config)")
	flags.StringVar(&idColumn, "id-column", "", "column holding the record id (default from config)")
	flags.IntVar(&chunkSize, "chunk-size", 0, "texts embedded and stored per chunk")
	flags.BoolVar(&useCache, "cache", false, "look up and store vectors in Redis")
	flags.BoolVar(&useStore, "store", false, "store vectors in PostgreSQL")
	flags.BoolVar(&skipIndex, "skip-index", false, "skip creating the vector index")

	return cmd
}

func (a *app) runEmbed(cmd *cobra.Command, input, output string, withCache, withStore bool) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if _, err := os.Stat(input); err != nil {
		return fmt.Errorf("input file: %w", err)
	}

	opts, err := a.embedOptions()
	if err != nil {
		return err
	}

	svc, err := a.openServices(withCache, withStore)
	if err != nil {
		return err
	}
	defer svc.close(a.log.Logger)
	opts.Cache = svc.vectorCache()

	model, err := a.loadModel(ctx)
	if err != nil {
		return err
	}
	defer model.Close()

	progress := newProgressReporter(cmd.ErrOrStderr(), "Embedding", a.quiet)
	opts.Progress = progress.Update

	var sink dataset.Sink
	if svc.store != nil {
		sink = svc.store
	}

	pipeline := dataset.NewPipeline(model, opts, sink, a.cfg.Dataset, a.log.WithModel(model.CacheKey(), opts.Devices.String()).Logger)
	result, err := pipeline.ProcessFile(ctx, input, output)
	progress.Finish()
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			a.log.Warn("Embedding interrupted", zap.Int64("embedded", result.Embedded))
		}
		return err
	}

	if !a.quiet {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "✓ Embedded %d unique texts of %d records in %s\n",
			result.Embedded, result.TotalRecords, result.Duration.Round(time.Millisecond))
		if result.Skipped > 0 {
			fmt.Fprintf(out, "  Skipped: %d\n", result.Skipped)
		}
		if sink != nil {
			fmt.Fprintf(out, "  Stored:  %d\n", result.Stored)
		}
		if output != "" {
			fmt.Fprintf(out, "  Output:  %s\n", output)
		}
	}
	return nil
}

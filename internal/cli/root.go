// Package cli implements the arguana-embed command line.
package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/raaihank/arguana-embed/internal/config"
	"github.com/raaihank/arguana-embed/internal/embeddings"
	"github.com/raaihank/arguana-embed/internal/hub"
	"github.com/raaihank/arguana-embed/internal/logger"
)

var (
	// Version information, set via ldflags at build time
	Version   = "dev"
	GitCommit = "none"
	BuildDate = "unknown"
)

// app carries state shared by every subcommand of one invocation
type app struct {
	v       *viper.Viper
	cfgFile string
	quiet   bool

	cfg *config.Config
	log *logger.Logger
}

// Execute runs the root command. This is called by main.main().
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCommand builds the command tree around a fresh viper instance
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "arguana-embed",
		Short: "Batch text embedding with pretrained retrieval encoders",
		Long: `arguana-embed turns lists of texts into dense vectors using one of
several pretrained encoders (ernie, e5, simcse, roberta, simlm, splade,
scibert, specter2, sentence-bert and ance families).

Embeddings can be written to Parquet or JSON Lines, cached in Redis,
stored in PostgreSQL with pgvector, or served over HTTP.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is ./config.yaml)")
	flags.BoolVarP(&a.quiet, "quiet", "q", false, "suppress progress output")
	flags.StringP("model", "m", "", "model family to load")
	flags.StringP("devices", "d", "", `"cpu" or comma separated accelerator ids, e.g. "0,1"`)
	flags.String("checkpoint", "", "fine-tuned checkpoint name under the checkpoint directory")
	flags.IntP("batch-size", "b", 0, "texts per forward pass on accelerators")
	flags.Bool("auto-batch", false, "probe for the largest batch size that fits")
	flags.String("log-level", "", "log level (debug, info, warn, error)")

	bindFlag(a.v, "model.name", flags.Lookup("model"))
	bindFlag(a.v, "model.devices", flags.Lookup("devices"))
	bindFlag(a.v, "model.checkpoint", flags.Lookup("checkpoint"))
	bindFlag(a.v, "model.batch_size", flags.Lookup("batch-size"))
	bindFlag(a.v, "model.auto_batch", flags.Lookup("auto-batch"))
	bindFlag(a.v, "logging.level", flags.Lookup("log-level"))

	root.AddCommand(
		newEmbedCommand(a),
		newProbeCommand(a),
		newServeCommand(a),
		newSearchCommand(a),
		newModelsCommand(a),
		newVersionCommand(),
	)
	return root
}

func bindFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", key, err))
	}
}

// setup loads configuration and builds the logger before any subcommand runs
func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWith(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled: true,
			Path:    cfg.Logging.File.Path,
		}
	}

	log, err := logger.New(loggerConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.log = log

	if used := a.v.ConfigFileUsed(); used != "" {
		log.Debug("Using config file", zap.String("path", used))
	}
	return nil
}

// devices parses the configured device placement
func (a *app) devices() (embeddings.DeviceSpec, error) {
	return embeddings.ParseDevices(a.cfg.Model.Devices)
}

// embedOptions returns driver options for the configured devices and batching
func (a *app) embedOptions() (embeddings.EmbedOptions, error) {
	devices, err := a.devices()
	if err != nil {
		return embeddings.EmbedOptions{}, err
	}
	return embeddings.EmbedOptions{
		Devices:   devices,
		BatchSize: a.cfg.Model.BatchSize,
		AutoBatch: a.cfg.Model.AutoBatch,
	}, nil
}

// loadModel resolves artifacts through the model hub and loads the configured model
func (a *app) loadModel(ctx context.Context) (*embeddings.Model, error) {
	devices, err := a.devices()
	if err != nil {
		return nil, err
	}

	resolver := hub.NewResolver(a.cfg.Hub, &http.Client{Timeout: a.cfg.Hub.Timeout}, a.log.WithComponent("hub").Logger)
	loader := embeddings.NewLoader(resolver, a.cfg.Model.LoaderConfig(), a.log.WithComponent("loader").Logger)

	model, err := loader.Load(ctx, a.cfg.Model.Name, devices, a.cfg.Model.Checkpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to load model %s: %w", a.cfg.Model.Name, err)
	}
	return model, nil
}

package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raaihank/arguana-embed/internal/config"
	"github.com/raaihank/arguana-embed/internal/server"
	"github.com/raaihank/arguana-embed/internal/websocket"
)

func newServeCommand(a *app) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the configured model over HTTP",
		Long: `Load the configured model once and serve POST /embed, POST /search,
GET /models, GET /stats and GET /health. When the websocket section is
enabled, the progress of every request is streamed to WebSocket clients
and can be followed in a browser at GET /dashboard.

Log level and rate limits are reloaded when the config file changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}
			return a.runServe(cmd)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (default from config)")
	return cmd
}

func (a *app) runServe(cmd *cobra.Command) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a.log.Info("Starting arguana-embed server",
		zap.String("version", Version),
		zap.String("commit", GitCommit),
		zap.String("build_date", BuildDate),
		zap.String("model", a.cfg.Model.Name),
		zap.Int("port", a.cfg.Server.Port),
	)

	svc, err := a.openServices(a.cfg.Cache.Enabled, a.cfg.Store.Enabled)
	if err != nil {
		return err
	}
	defer svc.close(a.log.Logger)

	model, err := a.loadModel(ctx)
	if err != nil {
		return err
	}
	defer model.Close()

	deps := server.Deps{Cache: svc.vectorCache()}
	if svc.store != nil {
		deps.Store = svc.store
	}
	if a.cfg.WebSocket.Enabled {
		ws := a.cfg.WebSocket
		deps.Hub = websocket.NewHub(websocket.HubConfig{
			MaxConnections:  ws.MaxConnections,
			ReadBufferSize:  ws.ReadBufferSize,
			WriteBufferSize: ws.WriteBufferSize,
			PingInterval:    ws.PingInterval,
			PongTimeout:     ws.PongTimeout,
			WriteTimeout:    ws.WriteTimeout,
			MaxMessageSize:  ws.MaxMessageSize,
			AllowedOrigins:  ws.AllowedOrigins,
		}, a.log.WithComponent("websocket").Logger)
	}

	srv, err := server.New(a.cfg, a.log, model, deps)
	if err != nil {
		return err
	}

	if a.v.ConfigFileUsed() != "" {
		a.watchConfig(srv)
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start(ctx)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		return err
	case sig := <-shutdown:
		a.log.Info("Shutdown signal received", zap.String("signal", sig.String()))
	}

	// Give outstanding requests 30 seconds to complete
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()

	if err := srv.Stop(stopCtx); err != nil {
		a.log.Error("Failed to shutdown server gracefully", zap.Error(err))
		return err
	}

	a.log.Info("Server shutdown complete")
	return nil
}

// watchConfig applies log level and rate limit changes without a restart
func (a *app) watchConfig(srv *server.Server) {
	current := *a.cfg
	config.Watch(a.v, func(next *config.Config) {
		if next.Logging.Level != current.Logging.Level {
			if err := a.log.SetLevel(next.Logging.Level); err != nil {
				a.log.Warn("Ignoring log level change", zap.Error(err))
			} else {
				a.log.Info("Log level updated", zap.String("level", next.Logging.Level))
			}
		}
		if next.Server.RateLimit != current.Server.RateLimit || next.Server.Burst != current.Server.Burst {
			srv.SetRateLimit(next.Server.RateLimit, next.Server.Burst)
		}
		if next.Model != current.Model {
			a.log.Warn("Model settings changed, restart to apply",
				zap.String("model", next.Model.Name),
				zap.String("devices", next.Model.Devices))
		}
		current = *next
	}, func(err error) {
		a.log.Error("Configuration reload failed", zap.Error(err))
	})
	a.log.Info("Watching config file for changes", zap.String("path", a.v.ConfigFileUsed()))
}

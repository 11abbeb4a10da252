package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/joho/godotenv"
	"github.com/layer-3/passport/adapters/store"
	"github.com/layer-3/passport/config"
	transport "github.com/layer-3/passport/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:           "passport",
	Short:         "Authentication and session service",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		go a.sessions.RunSweeper(ctx, cfg.Session.SweepInterval)

		// Setup Gin router
		router := transport.SetupRouter(a.auth, promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
		srv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		errc := make(chan error, 1)
		go func() {
			logger.Info("Starting server", watermill.LogFields{"addr": cfg.HTTP.Addr})
			errc <- srv.ListenAndServe()
		}()

		select {
		case err := <-errc:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("failed to start server: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		logger.Info("Shutting down", nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Store.Driver == "memory" {
			return errors.New("the memory store has no schema to migrate")
		}

		db, err := store.Open(cmd.Context(), cfg.Store.Driver, cfg.Store.DSN)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.Migrate(cmd.Context(), logger); err != nil {
			return err
		}

		version, dirty, err := db.MigrationVersion(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%t)\n", version, dirty)
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired sessions once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.auth.SweepExpired(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "swept %d expired sessions\n", n)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (yaml, json or toml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(sweepCmd)
}

func loadConfig() (*config.Config, watermill.LoggerAdapter, error) {
	cfg, err := config.Load(viper.New(), configFile)
	if err != nil {
		return nil, nil, err
	}
	return cfg, watermill.NewStdLogger(cfg.Log.Debug, cfg.Log.Trace), nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Fatalf("passport: %v", err)
	}
}

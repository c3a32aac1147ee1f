package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"notitap/internal/config"
	"notitap/internal/configflow"
	"notitap/internal/entry"
	"notitap/internal/homeassistant"
	"notitap/internal/host"
	"notitap/internal/integration"
	"notitap/internal/notification"
	"notitap/internal/server"
	"notitap/internal/util"
)

var (
	version = "dev"
	commit  = "unknown"
)

func init() {
	_ = godotenv.Load() //nolint:errcheck // .env is optional
}

var rootCmd = &cobra.Command{
	Use:   "notitap",
	Short: "Relay mobile notification taps onto the Home Assistant event bus",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Connect to Home Assistant and start the notitap server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("notitap %s (%s)\n", version, commit)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger := util.NewLogger(false)
		logger.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func openEntries(cfg *config.Config, logger *slog.Logger) (entry.Store, error) {
	if !cfg.PersistEntries() {
		logger.Warn("STORAGE_PATH is empty, config entries are kept in memory")
		return entry.NewMemoryStore(), nil
	}
	store, err := entry.NewSQLiteStore(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open entry store: %w", err)
	}
	return store, nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := util.NewLogger(cfg.VerboseLogging)
	logger.Info("Starting notitap", "version", version)

	entries, err := openEntries(cfg, logger)
	if err != nil {
		return err
	}
	defer entries.Close()

	ha := homeassistant.NewClient(homeassistant.Options{
		URL:            cfg.HassURL,
		Token:          cfg.HassToken,
		ReconnectDelay: cfg.HassReconnectDelay,
		RequestTimeout: cfg.HassRequestTimeout,
	}, logger.With("component", "homeassistant"))

	services := host.NewServices(logger)
	commands := host.NewCommands()

	tap := integration.New(integration.Config{
		NotifyDomain:  cfg.NotifyDomain,
		NotifyService: cfg.NotifyService,
	}, ha, ha, services, commands, logger)
	if err := tap.Setup(); err != nil {
		return fmt.Errorf("failed to set up %s: %w", notification.Domain, err)
	}
	defer tap.Unload()

	flows := configflow.NewManager(entries, logger)
	flows.Register(notification.Domain, integration.ConfigFlow{})

	srv := server.New(cfg, server.Deps{
		Services:      services,
		Commands:      commands,
		Flows:         flows,
		Entries:       entries,
		HomeAssistant: ha,
		Domain:        notification.Domain,
	}, version, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	haErr := make(chan error, 1)
	go func() {
		haErr <- ha.Run(ctx)
	}()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
		return <-serverErr
	case err := <-haErr:
		if errors.Is(err, context.Canceled) {
			return <-serverErr
		}
		stop()
		<-serverErr
		return fmt.Errorf("home assistant connection stopped: %w", err)
	case err := <-serverErr:
		return err
	}
}

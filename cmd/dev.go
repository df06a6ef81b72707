package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/TechWithDunamix/tavo/internal/config"
	"github.com/TechWithDunamix/tavo/internal/logging"
	"github.com/TechWithDunamix/tavo/internal/server"
)

var devCmd = &cobra.Command{
	Use:   "dev",
	Short: "Start the development server with hot reload",
	Long: `Start the development server. Watches the project tree, rebuilds
changed entries on demand, pushes live updates to connected browsers,
and supervises the API backend process.

Examples:
  tavo dev                         # Serve on the configured port
  tavo dev --port 3000             # Override the port
  tavo dev --no-hot-reload         # Disable live updates`,
	RunE: runDev,
}

func init() {
	rootCmd.AddCommand(devCmd)

	devCmd.Flags().IntP("port", "p", 8000, "Port to serve on")
	devCmd.Flags().String("host", "127.0.0.1", "Host to bind to")
	devCmd.Flags().Bool("no-hot-reload", false, "Disable live updates")

	viper.BindPFlag("server.port", devCmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", devCmd.Flags().Lookup("host"))
}

func runDev(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	cfg.Server.Environment = "development"
	if noHot, _ := cmd.Flags().GetBool("no-hot-reload"); noHot {
		cfg.Dev.HotReload = false
	}

	logger := newLogger(cfg)

	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "shutting down...")
		cancel()
	}()

	fmt.Printf("tavo dev server at http://%s\n", cfg.Address())
	return srv.Start(ctx)
}

func newLogger(cfg *config.Config) logging.Logger {
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
	})
}

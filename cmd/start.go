package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/TechWithDunamix/tavo/internal/build"
	"github.com/TechWithDunamix/tavo/internal/config"
	"github.com/TechWithDunamix/tavo/internal/server"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Serve a production build",
	Long: `Serve a previously built application. Requires the manifest written
by "tavo build"; no watcher, no live updates, generic error pages.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)

	startCmd.Flags().IntP("port", "p", 8000, "Port to serve on")
	startCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	startCmd.Flags().IntP("workers", "w", 4, "Backend worker processes")

	viper.BindPFlag("server.port", startCmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", startCmd.Flags().Lookup("host"))
	viper.BindPFlag("build.workers", startCmd.Flags().Lookup("workers"))
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	cfg.Server.Environment = "production"
	logger := newLogger(cfg)

	manifest, err := build.LoadManifest(cfg.Build.OutputDir)
	if err != nil {
		return fmt.Errorf("loading manifest (run \"tavo build\" first): %w", err)
	}

	srv, err := server.NewProduction(cfg, manifest, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	fmt.Printf("tavo serving production build at http://%s\n", cfg.Address())
	return srv.Start(ctx)
}

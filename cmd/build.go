package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/TechWithDunamix/tavo/internal/build"
	"github.com/TechWithDunamix/tavo/internal/config"
	"github.com/TechWithDunamix/tavo/internal/router"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build all entries for production",
	Long: `Compile every registered entry and every view route, write the
artifacts and the manifest to the output directory, and exit non-zero
if any entry fails.`,
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().StringP("output", "o", "dist", "Output directory")
	buildCmd.Flags().Bool("minify", true, "Minify artifacts")

	viper.BindPFlag("build.output_dir", buildCmd.Flags().Lookup("output"))
	viper.BindPFlag("build.minify", buildCmd.Flags().Lookup("minify"))
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger := newLogger(cfg)

	table, err := router.Build(cfg.Routes.AppDir, cfg.Routes.APIDir)
	if err != nil {
		return err
	}

	compiler := build.NewExecCompiler(cfg.Build.Bundler, cfg.Build.Target, cfg.Build.Minify)
	graph := build.NewGraph(compiler, cfg.Build.OutputDir, logger, nil)
	for name, source := range cfg.Build.Entries {
		graph.RegisterEntry(name, source)
	}
	for _, e := range table.Entries() {
		if e.Kind == router.KindView {
			graph.RegisterEntry("view:"+e.Pattern, e.ArtifactRef)
		}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := graph.BuildAll(ctx); err != nil {
		return err
	}
	if err := graph.Manifest().Save(cfg.Build.OutputDir); err != nil {
		return err
	}

	fmt.Printf("built %d entries into %s\n", len(graph.Entries()), cfg.Build.OutputDir)
	return nil
}

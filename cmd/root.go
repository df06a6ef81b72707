// Package cmd provides the tavo command-line interface.
//
// Configuration is resolved from three sources, highest priority first:
//
//  1. Command-line flags (--port, --host, ...)
//  2. Environment variables with the TAVO_ prefix
//     (TAVO_SERVER_PORT, TAVO_BUILD_BUNDLER, ...)
//  3. The .tavo.yml configuration file in the project directory
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "tavo",
	Short: "Full-stack dev server with file-based routing and hot reload",
	Long: `Tavo serves a full-stack application from a single process: file-based
view and API routing, on-demand bundling through an external bundler,
server-side rendering, live updates over websocket, and a supervised
API backend.

Quick Start:
  tavo dev                        Start the development server
  tavo build                      Produce a production build
  tavo start                      Serve a production build
  tavo routes                     Print the resolved route table`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Accept underscored flag spellings (--log_level) alongside dashed ones.
	rootCmd.PersistentFlags().SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .tavo.yml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")

	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("TAVO_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".tavo")
	}

	viper.SetEnvPrefix("TAVO")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

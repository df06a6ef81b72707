package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/TechWithDunamix/tavo/internal/config"
	"github.com/TechWithDunamix/tavo/internal/router"
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Print the resolved route table",
	Long: `Discover routes from the app and api directories and print the
resolved table, including each route's kind, pattern, parameters, and
backing source file.

Examples:
  tavo routes                      # Human-readable table
  tavo routes --format yaml        # Machine-readable output`,
	RunE: runRoutes,
}

func init() {
	rootCmd.AddCommand(routesCmd)
	routesCmd.Flags().StringP("format", "f", "table", "Output format (table, yaml)")
}

type routeListing struct {
	Kind    string   `yaml:"kind"`
	Pattern string   `yaml:"pattern"`
	Params  []string `yaml:"params,omitempty"`
	Source  string   `yaml:"source"`
}

func runRoutes(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	table, err := router.Build(cfg.Routes.AppDir, cfg.Routes.APIDir)
	if err != nil {
		return err
	}

	listings := make([]routeListing, 0, len(table.Entries()))
	for _, e := range table.Entries() {
		listings = append(listings, routeListing{
			Kind:    string(e.Kind),
			Pattern: e.Pattern,
			Params:  e.ParamNames,
			Source:  e.ArtifactRef,
		})
	}
	sort.Slice(listings, func(i, j int) bool {
		if listings[i].Kind != listings[j].Kind {
			return listings[i].Kind < listings[j].Kind
		}
		return listings[i].Pattern < listings[j].Pattern
	})

	format, _ := cmd.Flags().GetString("format")
	switch format {
	case "yaml":
		return yaml.NewEncoder(os.Stdout).Encode(listings)
	case "table":
		title := cases.Title(language.English)
		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KIND\tPATTERN\tPARAMS\tSOURCE")
		for _, l := range listings {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				title.String(l.Kind), l.Pattern, strings.Join(l.Params, ","), l.Source)
		}
		return w.Flush()
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

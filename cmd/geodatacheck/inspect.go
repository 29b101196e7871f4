package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/shpitdev/geodatacheck/internal/app"
	"github.com/shpitdev/geodatacheck/internal/version"
	"github.com/shpitdev/geodatacheck/pkg/columns"
	"github.com/shpitdev/geodatacheck/pkg/rules"
)

func newColumnsCmd(g *globalFlags) *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "columns",
		Short: "Show how input columns map to logical fields, without any lookup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if input == "" {
				return usageError{errors.New("columns requires --input")}
			}
			cfg, err := g.load()
			if err != nil {
				return err
			}
			rep, err := app.DetectColumns(cmd.Context(), input, cfg)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "FIELD\tCOLUMN")
			for _, f := range columns.Fields {
				col, ok := rep.Mapping[f]
				if !ok {
					col = "-"
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\n", f, col)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "input CSV")
	return cmd
}

func newRulesCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List the validation rule catalogue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat := rules.Catalogue()
			switch format {
			case "yaml":
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				defer enc.Close()
				return enc.Encode(cat)
			case "table", "":
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(tw, "ID\tPHASE\tSEVERITY\tTITLE")
				for _, r := range cat {
					_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.Phase, r.Severity, r.Title)
				}
				return tw.Flush()
			default:
				return usageError{fmt.Errorf("--format %q: expected table or yaml", format)}
			}
		},
	}
	cmd.Flags().StringVar(&format, "format", "table", "output format: table|yaml")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Current)
		},
	}
}

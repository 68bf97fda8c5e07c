// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/Query-farm/tickq/tickq"
	"github.com/spf13/cobra"
)

var functionsJSON bool

var functionsCmd = &cobra.Command{
	Use:   "functions [name]",
	Short: "List the functions of the catalog, or describe one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := loadCatalog(cmd.Context())
		if err != nil {
			return err
		}
		if functionsJSON {
			return tickq.WriteDescribeDocument(os.Stdout, catalog)
		}
		if len(args) == 0 {
			for _, name := range catalog.ListFunctions() {
				fmt.Println(name)
			}
			return nil
		}
		fn, err := catalog.Function(args[0])
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "%s\t(time zone %s, %s enforcement)\n", fn.Name, fn.TimeZone, fn.Enforcement)
		fmt.Fprintln(tw, "ARGUMENT\tTYPE\tREQUIRED")
		for _, a := range fn.Arguments {
			fmt.Fprintf(tw, "%s\t%s\t%t\n", a.Name, tickq.FormatDType(a.Type, a.Width), fn.IsRequired(a))
		}
		fmt.Fprintln(tw, "RESULT\tTYPE\t")
		for _, r := range fn.Results {
			fmt.Fprintf(tw, "%s\t%s\t\n", r.Name, tickq.FormatDType(r.Type, r.Width))
		}
		return tw.Flush()
	},
}

func init() {
	functionsCmd.Flags().BoolVar(&functionsJSON, "json", false, "print the describe document")
}

// loadCatalog reads the configured describe document, or returns the
// built-in functions.
func loadCatalog(ctx context.Context) (*tickq.Catalog, error) {
	if cfg.Catalog.Path == "" {
		return tickq.DefaultCatalog(), nil
	}
	f, err := os.Open(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	defer f.Close()
	return tickq.LoadCatalog(ctx, tickq.DocumentIntrospector{Reader: f})
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/dblp-coauthors/internal/query"
	"github.com/pdiddy/dblp-coauthors/internal/resolve"
	"github.com/pdiddy/dblp-coauthors/pkg/types"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve [name]",
	Short: "Resolve an author name to database authors",
	Long: `Resolve looks up an author name. An exact match on the normalized name
wins; otherwise a full-text match on name tokens is tried, then a
case-insensitive substring match.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().Int("limit", 0, "maximum authors returned by fuzzy matching (default: max-author-resolve)")
	resolveCmd.Flags().Bool("exact", false, "only accept an exact name match")
	resolveCmd.Flags().Bool("json", false, "output results as JSON")

	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	exact, _ := cmd.Flags().GetBool("exact")
	opts := resolve.Options{ExactOnly: exact}
	if cmd.Flags().Changed("limit") {
		limit, _ := cmd.Flags().GetInt("limit")
		opts.Limit = &limit
	}

	svc := query.New(serviceConfig())
	matches, err := svc.ResolveAuthors(cmd.Context(), strings.Join(args, " "), opts)
	if err != nil {
		return err
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	return formatResolveOutput(cmd.OutOrStdout(), matches, jsonOutput)
}

func formatResolveOutput(w io.Writer, matches []types.Author, jsonOutput bool) error {
	if jsonOutput {
		return writeJSON(w, matches)
	}

	if len(matches) == 0 {
		fmt.Fprintln(w, "No authors found.")
		return nil
	}
	fmt.Fprintf(w, "%-10s  %s\n", "ID", "Name")
	fmt.Fprintln(w, strings.Repeat("-", 50))
	for _, m := range matches {
		fmt.Fprintf(w, "%-10d  %s\n", m.ID, m.Name)
	}
	fmt.Fprintf(w, "\n%d authors\n", len(matches))
	return nil
}

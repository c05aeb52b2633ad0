// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/dblp-coauthors/internal/query"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show publication and author counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := query.New(serviceConfig()).Stats(cmd.Context())
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if asJSON(cmd) {
			return writeJSON(w, st)
		}
		fmt.Fprintf(w, "Publications: %d\n", st.Publications)
		fmt.Fprintf(w, "Authors:      %d\n", st.Authors)
		fmt.Fprintf(w, "Source:       %s (%s)\n", st.DataSource, st.DataDate)
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the database exists and has a compatible schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		h := query.New(serviceConfig()).Health(cmd.Context())
		w := cmd.OutOrStdout()
		if asJSON(cmd) {
			if err := writeJSON(w, h); err != nil {
				return err
			}
		} else if h.OK {
			fmt.Fprintf(w, "ok: %s\n", h.DBPath)
		} else {
			fmt.Fprintf(w, "unavailable: %s\n", h.Error)
		}
		if !h.OK {
			return fmt.Errorf("database unavailable")
		}
		return nil
	},
}

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "List the downloaded and generated pipeline files",
	RunE: func(cmd *cobra.Command, args []string) error {
		files := query.New(serviceConfig()).Files()
		if asJSON(cmd) {
			return writeJSON(cmd.OutOrStdout(), files)
		}
		formatFiles(cmd.OutOrStdout(), files)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{statsCmd, healthCmd, filesCmd} {
		c.Flags().Bool("json", false, "output as JSON")
		rootCmd.AddCommand(c)
	}
}

func asJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatFiles(w io.Writer, files query.Files) {
	keys := slices.Sorted(maps.Keys(files))
	fmt.Fprintf(w, "%-7s  %-6s  %12s  %s\n", "File", "Exists", "Size", "Path")
	fmt.Fprintln(w, strings.Repeat("-", 70))
	for _, k := range keys {
		f := files[k]
		fmt.Fprintf(w, "%-7s  %-6t  %12d  %s\n", k, f.Exists, f.Size, f.Path)
	}
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/dblp-coauthors/internal/coauthor"
	"github.com/pdiddy/dblp-coauthors/internal/query"
)

var pairsCmd = &cobra.Command{
	Use:   "pairs",
	Short: "List co-authored publications between two author lists",
	Long: `Pairs matches every left author against every right author and lists the
publications they wrote together, newest first.

Authors are given with repeated --left and --right flags or in a YAML
request file (--request). Names are matched exactly unless --fuzzy is set.
Use --out to save the request and its result; the saved file can be passed
back to --request.`,
	RunE: runPairs,
}

func init() {
	addPairsFlags(pairsCmd)
	rootCmd.AddCommand(pairsCmd)
}

func addPairsFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringArray("left", nil, "left-side author name (repeatable)")
	f.StringArray("right", nil, "right-side author name (repeatable)")
	f.String("request", "", "YAML request file")
	f.String("out", "", "write the request and result to this YAML file")
	f.Int("limit-per-pair", 0, "maximum publications listed per pair (default: unlimited)")
	f.Int("author-limit", 0, "maximum authors resolved per fuzzy name")
	f.Int("year-min", 0, "only publications from this year on")
	f.Bool("fuzzy", false, "resolve names by full-text and substring matching")
	f.Bool("items", false, "print the publications of each non-empty pair")
	f.Bool("json", false, "output the result as JSON")
}

// pairsRequest builds the request from --request, then applies any flags
// given on the command line.
func pairsRequest(cmd *cobra.Command) (coauthor.Request, error) {
	req := coauthor.Request{ExactBaseMatch: true}
	if path, _ := cmd.Flags().GetString("request"); path != "" {
		rf, err := coauthor.ReadRequestFile(path)
		if err != nil {
			return req, err
		}
		req = rf.Request
	}

	flags := cmd.Flags()
	if flags.Changed("left") {
		req.Left, _ = flags.GetStringArray("left")
	}
	if flags.Changed("right") {
		req.Right, _ = flags.GetStringArray("right")
	}
	for name, dst := range map[string]**int{
		"limit-per-pair": &req.LimitPerPair,
		"author-limit":   &req.AuthorLimit,
		"year-min":       &req.YearMin,
	} {
		if flags.Changed(name) {
			v, _ := flags.GetInt(name)
			*dst = &v
		}
	}
	if flags.Changed("fuzzy") {
		fuzzy, _ := flags.GetBool("fuzzy")
		req.ExactBaseMatch = !fuzzy
	}
	return req, nil
}

func runPairs(cmd *cobra.Command, args []string) error {
	req, err := pairsRequest(cmd)
	if err != nil {
		return err
	}

	svc := query.New(serviceConfig())
	res, err := svc.CoauthorPairs(cmd.Context(), req)
	if err != nil {
		return err
	}

	if out, _ := cmd.Flags().GetString("out"); out != "" {
		if err := coauthor.WriteResultFile(out, req, res); err != nil {
			return err
		}
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	items, _ := cmd.Flags().GetBool("items")
	return formatPairsOutput(cmd.OutOrStdout(), res, jsonOutput, items)
}

func formatPairsOutput(w io.Writer, res *coauthor.Result, jsonOutput, items bool) error {
	if jsonOutput {
		return writeJSON(w, res)
	}

	width := len("Left")
	for _, l := range res.LeftAuthors {
		width = max(width, len(l))
	}
	fmt.Fprintf(w, "%-*s", width, "Left")
	for _, r := range res.RightAuthors {
		fmt.Fprintf(w, "  %s", r)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("-", width+2*len(res.RightAuthors)+len(strings.Join(res.RightAuthors, ""))))
	for _, l := range res.LeftAuthors {
		fmt.Fprintf(w, "%-*s", width, l)
		for _, r := range res.RightAuthors {
			fmt.Fprintf(w, "  %*d", len(r), res.Matrix[l][r])
		}
		fmt.Fprintln(w)
	}

	if items {
		for _, p := range res.Pairs {
			if p.Count == 0 {
				continue
			}
			fmt.Fprintf(w, "\n%s / %s (%d)\n", p.Left, p.Right, p.Count)
			for _, it := range p.Items {
				year := "----"
				if it.Year != nil {
					year = fmt.Sprint(*it.Year)
				}
				venue := ""
				if it.Venue != nil {
					venue = " [" + *it.Venue + "]"
				}
				fmt.Fprintf(w, "  %s  %s%s\n", year, it.Title, venue)
			}
		}
	}

	fmt.Fprintf(w, "\n%d pairs\n", res.PairCount)
	return nil
}

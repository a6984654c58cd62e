package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/jobfeed/internal/model"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate posting statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		asJSON, _ := cmd.Flags().GetBool("json")

		env, err := initEnv(ctx, "read")
		if err != nil {
			return err
		}
		defer env.Close()

		stats, err := env.Aggregates.Stats(ctx)
		if err != nil {
			return eris.Wrap(err, "stats")
		}
		if asJSON {
			return writeJSON(os.Stdout, stats)
		}
		formatStats(os.Stdout, stats)
		return nil
	},
}

var statsSkillsCmd = &cobra.Command{
	Use:   "skills",
	Short: "Rank skills by the number of active postings that ask for them",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		limit, _ := cmd.Flags().GetInt("limit")

		env, err := initEnv(ctx, "read")
		if err != nil {
			return err
		}
		defer env.Close()

		skills, err := env.Aggregates.TopSkills(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "stats skills")
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "SKILL\tPOSTINGS")
		for _, s := range skills {
			_, _ = fmt.Fprintf(w, "%s\t%d\n", s.Skill, s.Count)
		}
		return w.Flush()
	},
}

var statsTrendsCmd = &cobra.Command{
	Use:   "trends",
	Short: "Show new postings per day",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		days, _ := cmd.Flags().GetInt("days")

		env, err := initEnv(ctx, "read")
		if err != nil {
			return err
		}
		defer env.Close()

		points, err := env.Aggregates.Trends(ctx, days)
		if err != nil {
			return eris.Wrap(err, "stats trends")
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "DATE\tNEW")
		for _, p := range points {
			_, _ = fmt.Fprintf(w, "%s\t%d\n", p.Date, p.Count)
		}
		return w.Flush()
	},
}

func init() {
	statsCmd.Flags().Bool("json", false, "print the raw snapshot as JSON")
	statsSkillsCmd.Flags().Int("limit", 20, "number of skills to show")
	statsTrendsCmd.Flags().Int("days", 30, "window in days, today included")

	statsCmd.AddCommand(statsSkillsCmd)
	statsCmd.AddCommand(statsTrendsCmd)
	rootCmd.AddCommand(statsCmd)
}

// formatStats writes the snapshot as labelled sections, largest bucket
// first.
func formatStats(out io.Writer, s *model.Stats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total postings:\t%d\n", s.Total)
	section := func(title string, m map[string]int) {
		if len(m) == 0 {
			return
		}
		_, _ = fmt.Fprintf(w, "\n%s\n", title)
		for _, k := range sortedByCount(m) {
			_, _ = fmt.Fprintf(w, "  %s\t%d\n", k, m[k])
		}
	}
	section("By status", s.ByStatus)
	section("By country", s.ByCountry)
	section("By industry", s.ByIndustry)
	section("By category", s.ByCategory)

	if len(s.AvgSalaryByCategory) > 0 {
		_, _ = fmt.Fprintln(w, "\nAverage salary")
		keys := make([]string, 0, len(s.AvgSalaryByCategory))
		for k := range s.AvgSalaryByCategory {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			_, _ = fmt.Fprintf(w, "  %s\t%.0f\n", k, s.AvgSalaryByCategory[k])
		}
	}
	if len(s.TopSkills) > 0 {
		_, _ = fmt.Fprintln(w, "\nTop skills")
		for _, sk := range s.TopSkills {
			_, _ = fmt.Fprintf(w, "  %s\t%d\n", sk.Skill, sk.Count)
		}
	}
	_ = w.Flush()
}

// sortedByCount orders keys by descending count, then name.
func sortedByCount(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if m[keys[i]] != m[keys[j]] {
			return m[keys[i]] > m[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/AobaIwaki123/phrase-radar/internal/similarity"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var compareCmd = &cobra.Command{
	Use:   "compare <phrase-a> <phrase-b>",
	Short: "Score two phrases",
	Long: `Normalize two phrases, score them and report whether they would be marked
as duplicates.

Example:
  $ phrase-radar compare "testing issues" "isues testin"
  0.845  duplicate (threshold 0.60)`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd, false)
		if err != nil {
			return err
		}
		threshold, _ := cmd.Flags().GetFloat64("threshold")
		if !cmd.Flags().Changed("threshold") {
			threshold = a.cfg.GitHub.Similarity
		}
		explain, _ := cmd.Flags().GetBool("explain")

		res, err := a.comparer.Explain(args[0], args[1])
		if err != nil {
			return err
		}
		printComparison(cmd.OutOrStdout(), res, threshold, explain)
		return nil
	},
}

var normalizeCmd = &cobra.Command{
	Use:   "normalize <phrase>...",
	Short: "Print phrases as the comparer sees them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd, false)
		if err != nil {
			return err
		}
		for _, p := range args {
			fmt.Fprintf(cmd.OutOrStdout(), "%q\n", a.comparer.Normalize(p))
		}
		return nil
	},
}

func init() {
	compareCmd.Flags().Float64("threshold", similarity.DefaultThreshold, "Duplicate threshold (defaults to github.similarity_threshold)")
	compareCmd.Flags().Bool("explain", false, "Show the best match of every word")
	rootCmd.AddCommand(compareCmd)
	rootCmd.AddCommand(normalizeCmd)
}

func printComparison(w io.Writer, res similarity.Result, threshold float64, explain bool) {
	green := color.New(color.FgGreen).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	verdict := gray("distinct")
	if res.Score >= threshold {
		verdict = green("duplicate")
	}
	fmt.Fprintf(w, "%.3f  %s (threshold %.2f)\n", res.Score, verdict, threshold)

	if !explain {
		return
	}
	fmt.Fprintf(w, "  short: %s\n", strings.Join(res.Short, " "))
	fmt.Fprintf(w, "  long:  %s\n", strings.Join(res.Long, " "))
	for _, m := range res.Matches {
		fmt.Fprintf(w, "  %-16s -> %-16s %.3f\n", m.Word, m.Match, m.Score)
	}
	fmt.Fprintf(w, "  direct %.3f, penalty %.3f\n", res.Direct, res.Direct-res.Score)
}

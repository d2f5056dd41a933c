package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/AobaIwaki123/phrase-radar/internal/config"
	"github.com/AobaIwaki123/phrase-radar/internal/github"
	"github.com/AobaIwaki123/phrase-radar/internal/triage"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan <owner/repo>",
	Short: "Report duplicate pairs among the open issues of a repository",
	Long: `List the open issues of a repository and print every pair whose titles
score at or above the threshold. Nothing is labeled or commented.

Requires GITHUB_PAT.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd, false)
		if err != nil {
			return err
		}
		defer a.logger.Sync() //nolint:errcheck

		owner, repo, ok := strings.Cut(args[0], "/")
		if !ok || owner == "" || repo == "" {
			return fmt.Errorf("expected owner/repo, got %q", args[0])
		}

		threshold, _ := cmd.Flags().GetFloat64("threshold")
		if !cmd.Flags().Changed("threshold") {
			threshold = a.cfg.GitHub.Similarity
		}
		policy, err := triage.NewPolicy(config.DefaultRepoConfig(threshold))
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		gh, err := github.NewClient(ctx, os.Getenv("GITHUB_PAT"), a.cfg.GitHub.BaseURL, a.cfg.GitHub.RequestsPerSecond, a.logger)
		if err != nil {
			return err
		}
		issues, err := gh.ListOpenIssues(ctx, owner, repo, a.cfg.GitHub.MaxCandidates)
		if err != nil {
			return err
		}

		scanner := triage.NewScanner(a.comparer, a.cfg.GitHub.Workers, a.logger)
		pairs, err := scanner.Pairs(ctx, policy, issues)
		if err != nil {
			return err
		}
		printPairs(cmd.OutOrStdout(), len(issues), pairs)
		return nil
	},
}

func init() {
	scanCmd.Flags().Float64("threshold", 0, "Duplicate threshold (defaults to github.similarity_threshold)")
	rootCmd.AddCommand(scanCmd)
}

func printPairs(w io.Writer, total int, pairs []triage.Pair) {
	if len(pairs) == 0 {
		fmt.Fprintf(w, "No duplicates among %d open issues\n", total)
		return
	}

	yellow := color.New(color.FgYellow).SprintFunc()
	fmt.Fprintf(w, "%s %d possible duplicate pairs among %d open issues:\n", yellow("⚠"), len(pairs), total)
	for _, p := range pairs {
		fmt.Fprintf(w, "  %3.0f%%  #%d %s\n        #%d %s\n", p.Score*100, p.A.Number, p.A.Title, p.B.Number, p.B.Title)
	}
}

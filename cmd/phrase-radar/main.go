package main

import (
	"fmt"
	"os"

	"github.com/AobaIwaki123/phrase-radar/internal/config"
	"github.com/AobaIwaki123/phrase-radar/internal/dictionary"
	"github.com/AobaIwaki123/phrase-radar/internal/logging"
	"github.com/AobaIwaki123/phrase-radar/internal/similarity"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "phrase-radar",
	Short: "Flag GitHub issues whose titles duplicate open issues",
	Long: `phrase-radar compares issue titles word by word and marks new issues that
look like duplicates of open ones with a label and a reference comment.

Run "phrase-radar serve" to receive GitHub webhooks, or use "compare",
"normalize" and "scan" to inspect scores from the command line.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default $CONFIG_PATH or configs/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Override log level (debug, info, warn, error)")
}

func main() {
	// Load .env if present (local dev convenience)
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app bundles what every command builds from the configuration.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	comparer *similarity.Comparer
}

func loadApp(cmd *cobra.Command, requireFile bool) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	var cfg *config.Config
	if _, err := os.Stat(path); err != nil && !requireFile {
		d := config.Default()
		cfg = &d
	} else {
		c, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = c
	}

	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	comparer, err := newComparer(cfg.Similarity)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, comparer: comparer}, nil
}

func newComparer(sc config.SimilarityConfig) (*similarity.Comparer, error) {
	opts := []similarity.Option{similarity.WithPenalty(sc.Penalty)}
	if sc.DictionaryPath != "" {
		d, err := dictionary.Load(sc.DictionaryPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, similarity.WithDictionary(d))
	}
	return similarity.NewComparer(opts...), nil
}

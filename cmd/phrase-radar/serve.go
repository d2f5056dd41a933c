package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AobaIwaki123/phrase-radar/internal/github"
	"github.com/AobaIwaki123/phrase-radar/internal/storage"
	"github.com/AobaIwaki123/phrase-radar/internal/triage"
	"github.com/AobaIwaki123/phrase-radar/internal/webhook"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Receive GitHub issue webhooks and mark duplicates",
	Long: `Start the webhook server.

Environment:
  GITHUB_WEBHOOK_SECRET  secret used to verify X-Hub-Signature-256
  GITHUB_PAT             token used for the GitHub API`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd, true)
		if err != nil {
			return err
		}
		defer a.logger.Sync() //nolint:errcheck
		return serve(cmd.Context(), a)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, a *app) error {
	cfg, logger := a.cfg, a.logger

	secret := os.Getenv("GITHUB_WEBHOOK_SECRET")
	if secret == "" {
		return errors.New("GITHUB_WEBHOOK_SECRET is not set")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	gh, err := github.NewClient(ctx, os.Getenv("GITHUB_PAT"), cfg.GitHub.BaseURL, cfg.GitHub.RequestsPerSecond, logger)
	if err != nil {
		return err
	}

	var opts []webhook.Option
	if cfg.GCP.CatalogEnabled() {
		bq, err := storage.NewBQClient(ctx, cfg.GCP, logger)
		if err != nil {
			return err
		}
		defer bq.Close()
		opts = append(opts, webhook.WithCatalog(bq))
		logger.Info("using BigQuery issue catalog",
			zap.String("project", cfg.GCP.ProjectID),
			zap.String("table", cfg.GCP.BQDataset+"."+cfg.GCP.BQTable))
	}

	scanner := triage.NewScanner(a.comparer, cfg.GitHub.Workers, logger)
	h := webhook.NewHandler(cfg, gh, scanner, secret, logger, opts...)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           webhook.NewRouter(h, cfg.Server.Path),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("phrase-radar listening", zap.String("addr", srv.Addr), zap.String("path", cfg.Server.Path))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
	h.Wait()
	return nil
}

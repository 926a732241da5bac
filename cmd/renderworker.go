package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/parcelworks/cma-engine/internal/render"
)

var renderWorkerOnce bool

var renderWorkerCmd = &cobra.Command{
	Use:   "render-worker",
	Short: "Run the PDF render queue worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cfg.Render.WebhookURL == "" {
			return eris.New("render webhook URL is required (CMA_RENDER_WEBHOOK_URL)")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		worker := render.NewWorker(
			st,
			render.NewWebhookRenderer(cfg.Render.WebhookURL),
			time.Duration(cfg.Render.PollIntervalSecs)*time.Second,
			cfg.Render.Concurrency,
		)

		if renderWorkerOnce {
			return worker.RunOnce(ctx)
		}

		zap.L().Info("render worker started",
			zap.Int("poll_interval_secs", cfg.Render.PollIntervalSecs),
			zap.Int("concurrency", cfg.Render.Concurrency),
		)
		if err := worker.Run(ctx); err != nil && !eris.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	renderWorkerCmd.Flags().BoolVar(&renderWorkerOnce, "once", false, "drain one batch and exit")
	rootCmd.AddCommand(renderWorkerCmd)
}

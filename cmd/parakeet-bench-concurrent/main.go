package main

import (
	"context"
	"fmt"
	"time"

	"github.com/K3das/parakeet/bench"
	tritonhttp "github.com/K3das/parakeet/inference/triton-http"
	"github.com/K3das/parakeet/messages"
	"github.com/K3das/parakeet/notify"
	"github.com/K3das/parakeet/store"
	"github.com/K3das/parakeet/utils"
	"github.com/caarlos0/env/v9"
	"go.uber.org/zap"
)

var CommitHash = ""

type config struct {
	PostgresDSN       string `env:"POSTGRES_DSN"`
	DiscordWebhookURL string `env:"DISCORD_WEBHOOK_URL"`

	Client tritonhttp.ClientOptions
	Bench  bench.Options
}

const environmentPrefix = "PARAKEET_"

func main() {
	parentLogger := utils.NewLogger("parakeet-bench-concurrent")
	if CommitHash != "" {
		parentLogger = parentLogger.With(zap.String("commit", CommitHash))
	}
	defer parentLogger.Sync()

	log := parentLogger.Named("main")
	log.With(zap.String("min_log_level", parentLogger.Level().String())).Info("starting")

	cfg := config{}
	if err := env.ParseWithOptions(&cfg, env.Options{
		Prefix: environmentPrefix,
	}); err != nil {
		log.Fatal("failed to parse config", zap.Error(err))
	}

	messageProvider, err := messages.NewMessageProvider()
	if err != nil {
		log.Fatal("failed to create message provider", zap.Error(err))
	}

	notifier, err := notify.New(parentLogger, cfg.DiscordWebhookURL)
	if err != nil {
		log.Fatal("failed to create notifier", zap.Error(err))
	}

	var s *store.Store
	if cfg.PostgresDSN != "" {
		s = store.NewStore(context.Background(), parentLogger)
		if err := s.Connect(context.Background(), cfg.PostgresDSN); err != nil {
			log.Fatal("failed to connect store", zap.Error(err))
		}
		defer s.Close()
	}

	client, err := tritonhttp.NewClient(cfg.Client)
	if err != nil {
		log.Fatal("failed to create inference client", zap.Error(err))
	}

	runner, err := bench.NewRunner(parentLogger.Named("bench"), client, cfg.Bench,
		bench.WithFileHook(func(report *bench.Report, f bench.FileResult) {
			out, err := messageProvider.Render(messages.BenchFile, report.FileContext(f))
			if err != nil {
				log.Error("failed to render file result", zap.String("file", f.File), zap.Error(err))
				return
			}
			fmt.Println(out.Content)
		}),
	)
	if err != nil {
		log.Fatal("failed to create runner", zap.Error(err))
	}

	err = utils.Run(log, func(ctx context.Context) error {
		if ready, err := client.ModelReady(ctx, cfg.Bench.Model); err != nil || !ready {
			log.Warn("model not reported ready", zap.String("model", cfg.Bench.Model), zap.Error(err))
		}

		report, err := runner.Concurrent(ctx)
		if err != nil {
			return err
		}

		out, err := messageProvider.Render(messages.BenchThroughput, report.ThroughputContext(time.Now()))
		if err != nil {
			return fmt.Errorf("rendering summary: %w", err)
		}
		fmt.Println(out.Content)
		notifier.Send(ctx, out)

		if s != nil {
			if _, err := s.RecordReport(ctx, report); err != nil {
				log.Error("failed to record report", zap.Error(err))
			}
		}
		return nil
	})
	if err != nil {
		log.Fatal("benchmark failed", zap.Error(err))
	}
}

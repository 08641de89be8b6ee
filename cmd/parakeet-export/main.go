package main

import (
	"context"
	"fmt"

	"github.com/K3das/parakeet/export"
	"github.com/K3das/parakeet/messages"
	"github.com/K3das/parakeet/notify"
	"github.com/K3das/parakeet/onnx/ort"
	"github.com/K3das/parakeet/source"
	"github.com/K3das/parakeet/utils"
	"github.com/caarlos0/env/v9"
	"go.uber.org/zap"
)

var CommitHash = ""

type config struct {
	ORTLibrary        string `env:"ORT_LIBRARY"`
	DiscordWebhookURL string `env:"DISCORD_WEBHOOK_URL"`

	Export export.Options
	Source source.Options
}

const environmentPrefix = "PARAKEET_"

func main() {
	parentLogger := utils.NewLogger("parakeet-export")
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

	ortEnv, err := ort.NewEnv(cfg.ORTLibrary)
	if err != nil {
		log.Fatal("failed to load onnxruntime", zap.Error(err))
	}
	defer ortEnv.Close()

	var result *export.Result
	err = utils.Run(log, func(ctx context.Context) error {
		src, err := source.New(ctx, cfg.Source, cfg.Export.ModelName)
		if err != nil {
			return fmt.Errorf("creating model source: %w", err)
		}

		result, err = export.New(parentLogger, src, ortEnv, cfg.Export).Run(ctx)
		if err != nil {
			return err
		}

		out, err := messageProvider.Render(messages.ExportSummary, result.MessageContext())
		if err != nil {
			return fmt.Errorf("rendering summary: %w", err)
		}
		fmt.Println(out.Content)
		notifier.Send(ctx, out)
		return nil
	})
	if err != nil {
		log.Fatal("export failed", zap.Error(err))
	}

	if result.Failed() {
		log.Fatal("exported files failed validation", zap.String("dir", result.Dir))
	}
	log.Info("export done", zap.String("dir", result.Dir))
}

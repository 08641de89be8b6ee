package main

import (
	"context"
	"fmt"

	"github.com/K3das/parakeet/audio"
	"github.com/K3das/parakeet/messages"
	"github.com/K3das/parakeet/onnx/ort"
	"github.com/K3das/parakeet/transcribe"
	"github.com/K3das/parakeet/utils"
	"github.com/caarlos0/env/v9"
	"go.uber.org/zap"
)

var CommitHash = ""

type config struct {
	ORTLibrary string `env:"ORT_LIBRARY"`

	Transcribe transcribe.Options
}

const environmentPrefix = "PARAKEET_"

func main() {
	parentLogger := utils.NewLogger("parakeet-transcribe")
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

	ortEnv, err := ort.NewEnv(cfg.ORTLibrary)
	if err != nil {
		log.Fatal("failed to load onnxruntime", zap.Error(err))
	}
	defer ortEnv.Close()

	tr, err := transcribe.Open(parentLogger, ortEnv, cfg.Transcribe.ModelDir)
	if err != nil {
		log.Fatal("failed to open model", zap.Error(err), zap.String("dir", cfg.Transcribe.ModelDir))
	}
	defer tr.Close()

	err = utils.Run(log, func(ctx context.Context) error {
		clip, err := audio.LoadWAV(cfg.Transcribe.AudioPath)
		if err != nil {
			return err
		}

		result, err := tr.Transcribe(ctx, clip)
		if err != nil {
			return err
		}
		log.Info("transcribed",
			zap.String("audio", cfg.Transcribe.AudioPath),
			zap.Float64("duration", clip.Duration()),
			zap.Int("tokens", len(result.Tokens)),
		)

		out, err := messageProvider.Render(messages.Transcript, result.MessageContext(transcribe.LevelSegment))
		if err != nil {
			return fmt.Errorf("rendering transcript: %w", err)
		}
		fmt.Println(out.Content)
		return nil
	})
	if err != nil {
		log.Fatal("transcription failed", zap.Error(err))
	}
}

package export

import (
	"context"
	"fmt"

	"github.com/K3das/parakeet/utils"
	"github.com/goccy/go-yaml"
	"go.uber.org/zap"
)

// the training config is small; anything bigger is not a config
const maxConfigBytes = 4 << 20

// ModelConfig is what the exporter needs from the training config, with
// fallbacks applied.
type ModelConfig struct {
	VocabSize         int
	SampleRate        int
	NMels             int
	TDTDurations      []int
	SubsamplingFactor int
	TokenizerType     string
}

func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		VocabSize:         1024,
		SampleRate:        16000,
		NMels:             80,
		TDTDurations:      []int{0, 1, 2, 3, 4},
		SubsamplingFactor: 8,
		TokenizerType:     "bpe",
	}
}

// nemoConfig mirrors the relevant keys of a NeMo model_config.yaml.
type nemoConfig struct {
	Preprocessor struct {
		SampleRate *int `yaml:"sample_rate"`
		Features   *int `yaml:"features"`
	} `yaml:"preprocessor"`
	Encoder struct {
		SubsamplingFactor *int `yaml:"subsampling_factor"`
	} `yaml:"encoder"`
	Decoder struct {
		VocabSize *int `yaml:"vocab_size"`
	} `yaml:"decoder"`
	ModelDefaults struct {
		TDTDurations []int `yaml:"tdt_durations"`
	} `yaml:"model_defaults"`
	Tokenizer struct {
		Type *string `yaml:"type"`
	} `yaml:"tokenizer"`
}

// ParseModelConfig decodes a NeMo-style config, keeping defaults for
// absent keys.
func ParseModelConfig(data []byte) (ModelConfig, error) {
	cfg := DefaultModelConfig()

	var raw nemoConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return cfg, fmt.Errorf("decoding model config: %w", err)
	}

	if v := raw.Decoder.VocabSize; v != nil && *v > 0 {
		cfg.VocabSize = *v
	}
	if v := raw.Preprocessor.SampleRate; v != nil && *v > 0 {
		cfg.SampleRate = *v
	}
	if v := raw.Preprocessor.Features; v != nil && *v > 0 {
		cfg.NMels = *v
	}
	if v := raw.Encoder.SubsamplingFactor; v != nil && *v > 0 {
		cfg.SubsamplingFactor = *v
	}
	if len(raw.ModelDefaults.TDTDurations) > 0 {
		cfg.TDTDurations = raw.ModelDefaults.TDTDurations
	}
	if v := raw.Tokenizer.Type; v != nil && *v != "" {
		cfg.TokenizerType = *v
	}
	return cfg, nil
}

func (e *Exporter) readModelConfig(ctx context.Context) ModelConfig {
	log := e.log.With(zap.String("file", e.options.Files.Config))

	rc, err := e.source.Open(ctx, e.options.Files.Config)
	if err != nil {
		log.Warn("model config unavailable, using defaults", zap.Error(err))
		return DefaultModelConfig()
	}
	defer rc.Close()

	data, err := utils.ReadAllLimit(rc, maxConfigBytes)
	if err != nil {
		log.Warn("reading model config failed, using defaults", zap.Error(err))
		return DefaultModelConfig()
	}

	cfg, err := ParseModelConfig(data)
	if err != nil {
		log.Warn("model config unparsable, using defaults", zap.Error(err))
		return DefaultModelConfig()
	}
	return cfg
}

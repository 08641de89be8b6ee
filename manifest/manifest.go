// Package manifest reads and writes model_config.json, the description of an
// exported model directory.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const FileName = "model_config.json"

type Files struct {
	Encoder   string `json:"encoder"`
	Decoder   string `json:"decoder"`
	Joint     string `json:"joint"`
	Tokenizer string `json:"tokenizer,omitempty"`
}

type Manifest struct {
	ModelName     string `json:"model_name"`
	VocabSize     int    `json:"vocab_size"`
	EncoderDim    int64  `json:"encoder_dim"`
	DecoderDim    int64  `json:"decoder_dim"`
	SampleRate    int    `json:"sample_rate"`
	NMels         int    `json:"n_mels"`
	TokenizerType string `json:"tokenizer_type"`
	Files         Files  `json:"files"`

	TDTDurations      []int `json:"tdt_durations,omitempty"`
	SubsamplingFactor int   `json:"subsampling_factor,omitempty"`
}

func Read(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	if m.Files.Encoder == "" || m.Files.Decoder == "" || m.Files.Joint == "" {
		return nil, fmt.Errorf("manifest is missing sub-network files")
	}
	return &m, nil
}

func Write(dir string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, FileName), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

// Path resolves a file named by the manifest relative to dir.
func Path(dir, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}

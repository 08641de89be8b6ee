package messages

// Non-integer numbers are passed preformatted: jsonnet prints floats with 17
// significant digits and cannot represent infinity.

type BenchFileContext struct {
	Mode        string  `json:"mode"`
	File        string  `json:"file"`
	OutputShape []int64 `json:"output_shape"`
	Missing     bool    `json:"missing"`
	Duration    string  `json:"duration"`
	InferTime   string  `json:"infer_time"`
	Ratio       string  `json:"ratio"`
}

type BenchSummaryContext struct {
	Model       string `json:"model"`
	Files       int    `json:"files"`
	Missing     int    `json:"missing"`
	TotalTime   string `json:"total_time"`
	AverageRTFx string `json:"average_rtfx"`
	Timestamp   string `json:"timestamp"`
}

type BenchThroughputContext struct {
	Model      string `json:"model"`
	Files      int    `json:"files"`
	Elapsed    string `json:"elapsed"`
	TotalAudio string `json:"total_audio"`
	Throughput string `json:"throughput"`
	Timestamp  string `json:"timestamp"`
}

type ExportValidationContext struct {
	File  string `json:"file"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type ExportFileContext struct {
	Name   string `json:"name"`
	SizeMB string `json:"size_mb"`
}

type ExportSummaryContext struct {
	ModelName  string                    `json:"model_name"`
	Dir        string                    `json:"dir"`
	EncoderDim int64                     `json:"encoder_dim"`
	DecoderDim int64                     `json:"decoder_dim"`
	Validation []ExportValidationContext `json:"validation"`
	Files      []ExportFileContext       `json:"files"`
}

type TranscriptStampContext struct {
	Text  string `json:"text"`
	Start string `json:"start"`
	End   string `json:"end"`
}

type TranscriptLevelContext struct {
	// Name is char, word or segment.
	Name   string                   `json:"name"`
	Stamps []TranscriptStampContext `json:"stamps"`
}

type TranscriptContext struct {
	Text   string                   `json:"text"`
	Levels []TranscriptLevelContext `json:"levels"`
}

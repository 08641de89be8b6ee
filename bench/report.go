package bench

import (
	"time"

	"github.com/K3das/parakeet/messages"
)

// Missing counts the files the server returned no output for.
func (r *Report) Missing() int {
	n := 0
	for _, f := range r.Files {
		if f.Missing {
			n++
		}
	}
	return n
}

func (r *Report) FileContext(f FileResult) messages.BenchFileContext {
	return messages.BenchFileContext{
		Mode:        r.Mode,
		File:        f.File,
		OutputShape: f.OutputShape,
		Missing:     f.Missing,
		Duration:    formatFloat(f.Duration, 2),
		InferTime:   formatFloat(f.InferTime.Seconds(), 3),
		Ratio:       formatFloat(f.Ratio, 3),
	}
}

func (r *Report) SummaryContext(now time.Time) messages.BenchSummaryContext {
	return messages.BenchSummaryContext{
		Model:       r.Model,
		Files:       len(r.Files),
		Missing:     r.Missing(),
		TotalTime:   formatFloat(r.TotalTime.Seconds(), 2),
		AverageRTFx: formatFloat(r.AverageRTFx, 3),
		Timestamp:   now.UTC().Format(time.RFC3339),
	}
}

func (r *Report) ThroughputContext(now time.Time) messages.BenchThroughputContext {
	return messages.BenchThroughputContext{
		Model:      r.Model,
		Files:      len(r.Files),
		Elapsed:    formatFloat(r.TotalTime.Seconds(), 2),
		TotalAudio: formatFloat(r.TotalAudio, 2),
		Throughput: formatFloat(r.Throughput, 2),
		Timestamp:  now.UTC().Format(time.RFC3339),
	}
}

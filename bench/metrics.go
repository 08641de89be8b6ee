package bench

import (
	"math"
	"strconv"
	"time"
)

// RTFx is audio seconds processed per second of inference, +Inf when the
// inference took no measurable time.
func RTFx(audioSeconds float64, infer time.Duration) float64 {
	if infer <= 0 {
		return math.Inf(1)
	}
	return audioSeconds / infer.Seconds()
}

// RTF is seconds of inference per second of audio, +Inf for empty audio.
func RTF(infer time.Duration, audioSeconds float64) float64 {
	if audioSeconds <= 0 {
		return math.Inf(1)
	}
	return infer.Seconds() / audioSeconds
}

// Throughput is audio seconds per wall-clock second.
func Throughput(audioSeconds float64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return math.Inf(1)
	}
	return audioSeconds / elapsed.Seconds()
}

func formatFloat(v float64, prec int) string {
	switch {
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	case math.IsNaN(v):
		return "nan"
	}
	return strconv.FormatFloat(v, 'f', prec, 64)
}

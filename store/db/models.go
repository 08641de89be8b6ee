package db

import (
	"github.com/jackc/pgx/v5/pgtype"
)

type BenchRun struct {
	ID                int64
	Mode              string
	Model             string
	Files             int32
	Missing           int32
	TotalTimeSeconds  float64
	TotalAudioSeconds float64
	AverageRtfx       float64
	Throughput        float64
	CreatedAt         pgtype.Timestamptz
}

type BenchResult struct {
	RunID           int64
	Position        int32
	File            string
	DurationSeconds float64
	InferSeconds    float64
	Ratio           float64
	OutputShape     []int64
	Missing         bool
}

package store

import (
	"context"
	"fmt"

	"github.com/K3das/parakeet/bench"
	"github.com/K3das/parakeet/store/db"
	"go.uber.org/zap"
)

// RecordReport writes the run and one row per file in a single transaction
// and returns the run id.
func (s *Store) RecordReport(ctx context.Context, report *bench.Report) (int64, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	q := s.Queries.WithTx(tx)

	run, err := q.CreateBenchRun(ctx, db.CreateBenchRunParams{
		Mode:              report.Mode,
		Model:             report.Model,
		Files:             int32(len(report.Files)),
		Missing:           int32(report.Missing()),
		TotalTimeSeconds:  report.TotalTime.Seconds(),
		TotalAudioSeconds: report.TotalAudio,
		AverageRtfx:       report.AverageRTFx,
		Throughput:        report.Throughput,
	})
	if err != nil {
		return 0, fmt.Errorf("creating run: %w", err)
	}

	for i, f := range report.Files {
		shape := f.OutputShape
		if shape == nil {
			shape = []int64{}
		}
		err := q.CreateBenchResult(ctx, db.CreateBenchResultParams{
			RunID:           run.ID,
			Position:        int32(i),
			File:            f.File,
			DurationSeconds: f.Duration,
			InferSeconds:    f.InferTime.Seconds(),
			Ratio:           f.Ratio,
			OutputShape:     shape,
			Missing:         f.Missing,
		})
		if err != nil {
			return 0, fmt.Errorf("creating result for %s: %w", f.File, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing: %w", err)
	}

	s.log.Info("recorded report",
		zap.Int64("run_id", run.ID),
		zap.String("mode", report.Mode),
		zap.Int("files", len(report.Files)),
	)
	return run.ID, nil
}

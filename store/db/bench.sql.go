package db

import (
	"context"
)

const createBenchRun = `
INSERT INTO bench_runs (
    mode, model, files, missing, total_time_seconds, total_audio_seconds, average_rtfx, throughput
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8
)
RETURNING id, mode, model, files, missing, total_time_seconds, total_audio_seconds, average_rtfx, throughput, created_at
`

type CreateBenchRunParams struct {
	Mode              string
	Model             string
	Files             int32
	Missing           int32
	TotalTimeSeconds  float64
	TotalAudioSeconds float64
	AverageRtfx       float64
	Throughput        float64
}

func (q *Queries) CreateBenchRun(ctx context.Context, arg CreateBenchRunParams) (BenchRun, error) {
	row := q.db.QueryRow(ctx, createBenchRun,
		arg.Mode,
		arg.Model,
		arg.Files,
		arg.Missing,
		arg.TotalTimeSeconds,
		arg.TotalAudioSeconds,
		arg.AverageRtfx,
		arg.Throughput,
	)
	var i BenchRun
	err := row.Scan(
		&i.ID,
		&i.Mode,
		&i.Model,
		&i.Files,
		&i.Missing,
		&i.TotalTimeSeconds,
		&i.TotalAudioSeconds,
		&i.AverageRtfx,
		&i.Throughput,
		&i.CreatedAt,
	)
	return i, err
}

const createBenchResult = `
INSERT INTO bench_results (
    run_id, position, file, duration_seconds, infer_seconds, ratio, output_shape, missing
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8
)
`

type CreateBenchResultParams struct {
	RunID           int64
	Position        int32
	File            string
	DurationSeconds float64
	InferSeconds    float64
	Ratio           float64
	OutputShape     []int64
	Missing         bool
}

func (q *Queries) CreateBenchResult(ctx context.Context, arg CreateBenchResultParams) error {
	_, err := q.db.Exec(ctx, createBenchResult,
		arg.RunID,
		arg.Position,
		arg.File,
		arg.DurationSeconds,
		arg.InferSeconds,
		arg.Ratio,
		arg.OutputShape,
		arg.Missing,
	)
	return err
}

const getBenchRun = `
SELECT id, mode, model, files, missing, total_time_seconds, total_audio_seconds, average_rtfx, throughput, created_at
FROM bench_runs
WHERE id = $1
`

func (q *Queries) GetBenchRun(ctx context.Context, id int64) (BenchRun, error) {
	row := q.db.QueryRow(ctx, getBenchRun, id)
	var i BenchRun
	err := row.Scan(
		&i.ID,
		&i.Mode,
		&i.Model,
		&i.Files,
		&i.Missing,
		&i.TotalTimeSeconds,
		&i.TotalAudioSeconds,
		&i.AverageRtfx,
		&i.Throughput,
		&i.CreatedAt,
	)
	return i, err
}

const listBenchResults = `
SELECT run_id, position, file, duration_seconds, infer_seconds, ratio, output_shape, missing
FROM bench_results
WHERE run_id = $1
ORDER BY position
`

func (q *Queries) ListBenchResults(ctx context.Context, runID int64) ([]BenchResult, error) {
	rows, err := q.db.Query(ctx, listBenchResults, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []BenchResult
	for rows.Next() {
		var i BenchResult
		if err := rows.Scan(
			&i.RunID,
			&i.Position,
			&i.File,
			&i.DurationSeconds,
			&i.InferSeconds,
			&i.Ratio,
			&i.OutputShape,
			&i.Missing,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

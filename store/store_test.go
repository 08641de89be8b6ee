package store

import (
	"context"
	"math"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/K3das/parakeet/bench"
	"go.uber.org/zap"
)

func connect(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("PARAKEET_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PARAKEET_TEST_POSTGRES_DSN not set")
	}

	s := NewStore(context.Background(), zap.NewNop())
	if err := s.Connect(context.Background(), dsn); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestMigrationsEmbedded(t *testing.T) {
	for _, name := range []string{"migrations/0001_bench.up.sql", "migrations/0001_bench.down.sql"} {
		data, err := migrations.ReadFile(name)
		if err != nil || len(data) == 0 {
			t.Fatalf("%s: %v", name, err)
		}
	}
}

func TestCloseWithoutConnect(t *testing.T) {
	NewStore(context.Background(), zap.NewNop()).Close()
	var s *Store
	s.Close()
}

func TestRecordReport(t *testing.T) {
	s := connect(t)
	ctx := context.Background()

	report := &bench.Report{
		Mode:  bench.ModeSequential,
		Model: "combined",
		Files: []bench.FileResult{
			{File: "a.wav", Duration: 2, InferTime: 500 * time.Millisecond, Ratio: 4, OutputShape: []int64{1, 26, 1030}},
			{File: "b.wav", Duration: 1, InferTime: 0, Missing: true},
			{File: "c.wav", Duration: 1, InferTime: 0, Ratio: math.Inf(1), OutputShape: []int64{1, 13, 1030}},
		},
		TotalTime:   time.Second,
		TotalAudio:  4,
		AverageRTFx: math.Inf(1),
	}

	id, err := s.RecordReport(ctx, report)
	if err != nil {
		t.Fatalf("RecordReport: %v", err)
	}

	run, err := s.GetBenchRun(ctx, id)
	if err != nil {
		t.Fatalf("GetBenchRun: %v", err)
	}
	if run.Mode != bench.ModeSequential || run.Files != 3 || run.Missing != 1 || !math.IsInf(run.AverageRtfx, 1) {
		t.Fatalf("run = %+v", run)
	}

	results, err := s.ListBenchResults(ctx, id)
	if err != nil {
		t.Fatalf("ListBenchResults: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("%d results", len(results))
	}
	if results[0].File != "a.wav" || !reflect.DeepEqual(results[0].OutputShape, []int64{1, 26, 1030}) || results[0].InferSeconds != 0.5 {
		t.Errorf("a.wav = %+v", results[0])
	}
	if !results[1].Missing || len(results[1].OutputShape) != 0 {
		t.Errorf("b.wav = %+v", results[1])
	}
}

func TestRecordReportIsAtomic(t *testing.T) {
	s := connect(t)
	ctx := context.Background()

	// duplicate positions cannot happen through RecordReport, so break the
	// transaction with a file name Postgres rejects
	report := &bench.Report{
		Mode:  bench.ModeConcurrent,
		Model: "atomic-" + time.Now().Format(time.RFC3339Nano),
		Files: []bench.FileResult{
			{File: "ok.wav", Duration: 1},
			{File: "bad\x00.wav", Duration: 1},
		},
	}
	if _, err := s.RecordReport(ctx, report); err == nil {
		t.Fatal("expected an error for an invalid file name")
	}

	var n int
	if err := s.conn.QueryRow(ctx, "SELECT count(*) FROM bench_runs WHERE model = $1", report.Model).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("%d runs left behind by a failed transaction", n)
	}
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pdiddy/dblp-coauthors/internal/apperr"
	"github.com/pdiddy/dblp-coauthors/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// jobFunc adapts a function to Job.
type jobFunc func(ctx context.Context, cfg types.PipelineConfig, emit Emitter) (*types.RunResult, error)

func (f jobFunc) Run(ctx context.Context, cfg types.PipelineConfig, emit Emitter) (*types.RunResult, error) {
	return f(ctx, cfg, emit)
}

// blockingJob runs until it is stopped.
func blockingJob(started chan<- struct{}) Job {
	return jobFunc(func(ctx context.Context, _ types.PipelineConfig, emit Emitter) (*types.RunResult, error) {
		emit.Log("working")
		close(started)
		<-ctx.Done()
		return nil, fmt.Errorf("download_xml_gz: %w", apperr.ErrCancelled)
	})
}

func testConfig(t *testing.T) types.PipelineConfig {
	t.Helper()
	return types.DefaultPipelineConfig(t.TempDir())
}

func wait(t *testing.T, r *Runner) types.PipelineState {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st, err := r.Wait(ctx)
	require.NoError(t, err)
	return st
}

func TestRunner_InitialState(t *testing.T) {
	r := NewRunner(jobFunc(nil))
	st := r.Snapshot()
	assert.Equal(t, types.StatusIdle, st.Status)
	assert.Empty(t, st.Logs)
	assert.Nil(t, st.StartedAt)

	// Wait without a run returns at once.
	st = wait(t, r)
	assert.Equal(t, types.StatusIdle, st.Status)
}

func TestRunner_DoubleStart(t *testing.T) {
	started := make(chan struct{})
	r := NewRunner(blockingJob(started))

	st, err := r.Start(testConfig(t))
	require.NoError(t, err)
	assert.Equal(t, types.StatusRunning, st.Status)
	assert.NotEmpty(t, st.RunID)
	assert.NotNil(t, st.StartedAt)
	assert.Equal(t, []string{"Pipeline start requested."}, st.Logs)
	<-started

	_, err = r.Start(testConfig(t))
	assert.ErrorIs(t, err, apperr.ErrAlreadyRunning)
	assert.True(t, apperr.IsClientError(err))

	r.Stop()
	final := wait(t, r)
	assert.Equal(t, types.StatusStopped, final.Status)
	assert.Equal(t, st.RunID, final.RunID)
}

func TestRunner_InvalidConfig(t *testing.T) {
	r := NewRunner(jobFunc(func(context.Context, types.PipelineConfig, Emitter) (*types.RunResult, error) {
		t.Fatal("job must not run")
		return nil, nil
	}))

	cfg := testConfig(t)
	cfg.BatchSize = 10
	_, err := r.Start(cfg)
	assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
	assert.Equal(t, types.StatusIdle, r.Snapshot().Status)
}

func TestRunner_StopIsIdempotent(t *testing.T) {
	started := make(chan struct{})
	r := NewRunner(blockingJob(started))
	_, err := r.Start(testConfig(t))
	require.NoError(t, err)
	<-started

	st := r.Stop()
	assert.Equal(t, types.StatusStopping, st.Status)
	assert.Equal(t, "Stop requested.", st.Message)
	r.Stop()

	final := wait(t, r)
	assert.Equal(t, types.StatusStopped, final.Status)
	assert.Equal(t, "stopped", final.Step)
	assert.Equal(t, "Stopped.", final.Message)
	assert.NotNil(t, final.FinishedAt)
	assert.Equal(t, 1, countLines(final.Logs, "Stop requested."))
	assert.Equal(t, "Pipeline stopped.", final.Logs[len(final.Logs)-1])

	// Stopping a finished runner changes nothing.
	after := r.Stop()
	assert.Equal(t, types.StatusStopped, after.Status)
}

func TestRunner_StopDuringDecompression(t *testing.T) {
	cfg := testConfig(t)
	dec := &blockingDecompressor{entered: make(chan struct{})}
	idx := &recordingIndexer{}
	p := &Pipeline{
		Fetcher:      &fakeFetcher{},
		Decompressor: dec,
		NewIndexer:   func(types.PipelineConfig) Indexer { return idx },
	}
	r := NewRunner(p)

	_, err := r.Start(cfg)
	require.NoError(t, err)
	<-dec.entered

	assert.Equal(t, types.StatusStopping, r.Stop().Status)

	final := wait(t, r)
	assert.Equal(t, types.StatusStopped, final.Status)
	assert.Zero(t, idx.calls.Load(), "index build never starts")
	assert.NoFileExists(t, cfg.DBPath())
}

func TestRunner_ErrorStatus(t *testing.T) {
	r := NewRunner(jobFunc(func(context.Context, types.PipelineConfig, Emitter) (*types.RunResult, error) {
		return nil, fmt.Errorf("download_dtd: %w", &apperr.TransferError{URL: "https://dblp.org/xml/dblp.dtd", Err: errors.New("HTTP 500")})
	}))
	_, err := r.Start(testConfig(t))
	require.NoError(t, err)

	final := wait(t, r)
	assert.Equal(t, types.StatusError, final.Status)
	assert.Equal(t, "error", final.Step)
	assert.Contains(t, final.Message, "HTTP 500")
	assert.True(t, strings.HasPrefix(final.Logs[len(final.Logs)-1], "Pipeline error: "))
	assert.Nil(t, final.Result)
}

func TestRunner_PanicBecomesError(t *testing.T) {
	r := NewRunner(jobFunc(func(context.Context, types.PipelineConfig, Emitter) (*types.RunResult, error) {
		panic("index out of range")
	}))
	_, err := r.Start(testConfig(t))
	require.NoError(t, err)

	final := wait(t, r)
	assert.Equal(t, types.StatusError, final.Status)
	assert.Contains(t, final.Message, "panic")
	assert.Contains(t, final.Message, "index out of range")

	// The runner is usable again.
	_, err = r.Reset()
	assert.NoError(t, err)
}

func TestRunner_Reset(t *testing.T) {
	started := make(chan struct{})
	r := NewRunner(blockingJob(started))
	_, err := r.Start(testConfig(t))
	require.NoError(t, err)
	<-started

	_, err = r.Reset()
	assert.ErrorIs(t, err, apperr.ErrResetWhileRunning)

	r.Stop()
	wait(t, r)

	st, err := r.Reset()
	require.NoError(t, err)
	assert.Equal(t, types.StatusIdle, st.Status)
	assert.Equal(t, []string{"Reset."}, st.Logs)
	assert.Nil(t, st.FinishedAt)
}

func TestRunner_CompletedRunAndLogRing(t *testing.T) {
	result := &types.RunResult{ProcessedRecords: 42, ElapsedSeconds: 1.5, RecordsPerSec: 28}
	r := NewRunner(jobFunc(func(_ context.Context, _ types.PipelineConfig, emit Emitter) (*types.RunResult, error) {
		for i := range 50 {
			emit.Log(fmt.Sprintf("line %d", i))
		}
		emit.Progress(PhaseBuild, types.Progress{"processed_records": 40, "records_per_sec": 27})
		return result, nil
	}), WithMaxLogLines(10))

	_, err := r.Start(testConfig(t))
	require.NoError(t, err)
	final := wait(t, r)

	assert.Equal(t, types.StatusCompleted, final.Status)
	assert.Equal(t, "completed", final.Step)
	assert.Equal(t, "Completed.", final.Message)
	require.Len(t, final.Logs, 10)
	assert.Equal(t, "line 41", final.Logs[0])
	assert.Equal(t, "Pipeline completed.", final.Logs[9])
	assert.Equal(t, float64(42), final.Progress["processed_records"])
	assert.Equal(t, 1.5, final.Progress["elapsed_seconds"])
	require.NotNil(t, final.Result)
	assert.Equal(t, 42, final.Result.ProcessedRecords)

	// A finished runner accepts a new start.
	_, err = r.Start(testConfig(t))
	require.NoError(t, err)
	wait(t, r)
}

func TestRunner_SnapshotIsDeepCopy(t *testing.T) {
	r := NewRunner(jobFunc(func(_ context.Context, _ types.PipelineConfig, emit Emitter) (*types.RunResult, error) {
		emit.Progress(PhaseDownloadDTD, types.Progress{"downloaded_bytes": 10})
		return &types.RunResult{}, nil
	}))
	_, err := r.Start(testConfig(t))
	require.NoError(t, err)
	wait(t, r)

	before := r.Snapshot()
	mutated := r.Snapshot()
	mutated.Progress["downloaded_bytes"] = -1
	mutated.Logs[0] = "tampered"
	*mutated.StartedAt = time.Time{}
	mutated.Result.ProcessedRecords = 99

	assert.Empty(t, cmp.Diff(before, r.Snapshot()))
}

func TestRunner_Metrics(t *testing.T) {
	m := NewMetrics()
	textfile := filepath.Join(t.TempDir(), "dblp.prom")
	job := jobFunc(func(_ context.Context, _ types.PipelineConfig, emit Emitter) (*types.RunResult, error) {
		emit.Progress(PhaseDecompress, types.Progress{"written_bytes": 2048})
		return &types.RunResult{ProcessedRecords: 7}, nil
	})
	r := NewRunner(job, WithMetrics(m), WithMetricsTextfile(textfile))

	_, err := r.Start(testConfig(t))
	require.NoError(t, err)
	wait(t, r)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.runs.WithLabelValues("completed")))
	assert.Equal(t, float64(2048), testutil.ToFloat64(m.progress.WithLabelValues(PhaseDecompress, "written_bytes")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.duration))

	data, err := os.ReadFile(textfile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `dblp_pipeline_runs_total{status="completed"} 1`)
}

func TestRunner_LogsWithoutHoldingState(t *testing.T) {
	var (
		r        *Runner
		terminal []types.RunStatus
	)
	// Every log entry reads the state, which blocks if the runner logs
	// while holding its lock.
	hook := func(e zapcore.Entry) error {
		st := r.Snapshot()
		if e.Message == "pipeline completed" {
			terminal = append(terminal, st.Status)
		}
		return nil
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(io.Discard), zapcore.DebugLevel)
	logger := zap.New(core, zap.Hooks(hook))

	textfile := filepath.Join(t.TempDir(), "dblp.prom")
	job := jobFunc(func(_ context.Context, _ types.PipelineConfig, emit Emitter) (*types.RunResult, error) {
		emit.Log("downloading")
		emit.Progress(PhaseDecompress, types.Progress{"written_bytes": 1})
		return &types.RunResult{}, nil
	})
	r = NewRunner(job, WithLogger(logger), WithMetrics(NewMetrics()), WithMetricsTextfile(textfile))

	_, err := r.Start(testConfig(t))
	require.NoError(t, err)
	st := wait(t, r)

	assert.Equal(t, types.StatusCompleted, st.Status)
	assert.Equal(t, []types.RunStatus{types.StatusCompleted}, terminal)
	assert.FileExists(t, textfile)
}

func countLines(lines []string, want string) int {
	n := 0
	for _, l := range lines {
		if l == want {
			n++
		}
	}
	return n
}

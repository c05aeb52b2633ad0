// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"

	"github.com/pdiddy/dblp-coauthors/internal/apperr"
	"github.com/pdiddy/dblp-coauthors/pkg/types"
)

const eventBuffer = 256

// Job is the work a Runner drives. *Pipeline implements it.
type Job interface {
	Run(ctx context.Context, cfg types.PipelineConfig, emit Emitter) (*types.RunResult, error)
}

// Runner owns the pipeline state machine. At most one run is active.
//
// Each run has two goroutines: the run goroutine executes the Job and sends
// events; the owner goroutine applies them to the state under mu. Snapshot
// copies the state under the same lock.
type Runner struct {
	job         Job
	logger      *zap.Logger
	metrics     *Metrics
	textfile    string
	maxLogLines int

	mu      sync.Mutex
	state   types.PipelineState
	active  bool
	cancel  context.CancelFunc
	done    chan struct{}
	started time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger that receives every applied log event.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithMetrics records runs and progress in m.
func WithMetrics(m *Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithMetricsTextfile writes the metrics to path whenever a run finishes.
// It has no effect without WithMetrics.
func WithMetricsTextfile(path string) Option {
	return func(r *Runner) { r.textfile = path }
}

// WithMaxLogLines bounds the log ring kept in the state.
func WithMaxLogLines(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxLogLines = n
		}
	}
}

// NewRunner returns an idle runner for job.
func NewRunner(job Job, opts ...Option) *Runner {
	r := &Runner{
		job:         job,
		logger:      zap.NewNop(),
		maxLogLines: types.DefaultMaxLogLines,
		state:       types.IdleState(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches a run with cfg and returns the state right after the
// transition to running.
func (r *Runner) Start(cfg types.PipelineConfig) (types.PipelineState, error) {
	r.mu.Lock()
	if r.active {
		defer r.mu.Unlock()
		return r.state.Clone(), apperr.ErrAlreadyRunning
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		defer r.mu.Unlock()
		return r.state.Clone(), fmt.Errorf("%w: %v", apperr.ErrInvalidRequest, err)
	}

	now := time.Now().UTC()
	r.started = now
	r.state = types.PipelineState{
		RunID:     ulid.Make().String(),
		Status:    types.StatusRunning,
		Step:      "starting",
		StartedAt: &now,
		Progress:  types.Progress{},
		Logs:      []string{},
	}
	r.appendLog("Pipeline start requested.")
	if r.metrics != nil {
		r.metrics.resetProgress()
	}

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan Event, eventBuffer)
	done := make(chan struct{})
	r.active, r.cancel, r.done = true, cancel, done
	st := r.state.Clone()
	r.mu.Unlock()

	log := r.logger.With(zap.String("run_id", st.RunID))
	log.Info("pipeline started", zap.String("data_dir", cfg.DataDir), zap.Bool("rebuild", cfg.Rebuild))

	go r.own(events, done, log)
	go r.run(ctx, cfg, events)

	return st, nil
}

// run executes the job and always ends with exactly one EventDone.
func (r *Runner) run(ctx context.Context, cfg types.PipelineConfig, events chan<- Event) {
	defer close(events)

	var (
		result *types.RunResult
		err    error
	)
	recovered := panics.Try(func() {
		result, err = r.job.Run(ctx, cfg, chanEmitter{ch: events})
	})
	if perr := recovered.AsError(); perr != nil {
		result, err = nil, fmt.Errorf("pipeline panic: %w", perr)
	}
	events <- Event{Kind: EventDone, Result: result, Err: err}
}

// own applies events until the run goroutine closes the channel. State
// changes happen under mu; logging and the metrics textfile are written
// after it is released.
func (r *Runner) own(events <-chan Event, done chan struct{}, log *zap.Logger) {
	defer close(done)
	for ev := range events {
		r.apply(ev)
		switch ev.Kind {
		case EventLog:
			log.Info(ev.Message)
		case EventProgress:
			log.Debug("progress", zap.String("phase", ev.Phase), zap.Any("payload", ev.Progress))
		case EventDone:
			r.logTerminal(ev, log)
		}
	}
	r.mu.Lock()
	r.active = false
	r.cancel()
	r.mu.Unlock()

	if r.metrics != nil && r.textfile != "" {
		if err := r.metrics.WriteTextfile(r.textfile); err != nil {
			log.Warn("metrics textfile not written", zap.Error(err))
		}
	}
}

func (r *Runner) apply(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Kind {
	case EventLog:
		r.appendLog(ev.Message)
		r.state.Message = ev.Message
	case EventProgress:
		r.state.Step = ev.Phase
		maps.Copy(r.state.Progress, ev.Progress)
		if r.metrics != nil {
			r.metrics.observeProgress(ev.Phase, ev.Progress)
		}
	case EventDone:
		r.finish(ev)
	}
}

// finish moves the state to its terminal status. Callers hold mu.
func (r *Runner) finish(ev Event) {
	now := time.Now().UTC()
	r.state.FinishedAt = &now

	switch status := terminalStatus(ev.Err); status {
	case types.StatusCompleted:
		r.state.Status = status
		r.state.Message = "Completed."
		r.state.Result = ev.Result
		if res := ev.Result; res != nil {
			r.state.Progress["processed_records"] = float64(res.ProcessedRecords)
			r.state.Progress["elapsed_seconds"] = res.ElapsedSeconds
			r.state.Progress["records_per_sec"] = res.RecordsPerSec
		}
		r.appendLog("Pipeline completed.")
	case types.StatusStopped:
		r.state.Status = status
		r.state.Message = "Stopped."
		r.appendLog("Pipeline stopped.")
	default:
		r.state.Status = status
		r.state.Message = ev.Err.Error()
		r.appendLog("Pipeline error: " + ev.Err.Error())
	}
	r.state.Step = string(r.state.Status)

	if r.metrics != nil {
		r.metrics.observeRun(r.state.Status, now.Sub(r.started))
	}
}

func terminalStatus(err error) types.RunStatus {
	switch {
	case err == nil:
		return types.StatusCompleted
	case errors.Is(err, apperr.ErrCancelled):
		return types.StatusStopped
	default:
		return types.StatusError
	}
}

func (r *Runner) logTerminal(ev Event, log *zap.Logger) {
	switch terminalStatus(ev.Err) {
	case types.StatusCompleted:
		log.Info("pipeline completed")
	case types.StatusStopped:
		log.Info("pipeline stopped")
	default:
		log.Error("pipeline failed", zap.Error(ev.Err))
	}
}

// Stop requests cancellation of the active run. It is idempotent and
// returns immediately; the terminal status is set once the run unwinds.
func (r *Runner) Stop() types.PipelineState {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active {
		r.cancel()
	}
	if r.state.Status == types.StatusRunning {
		r.state.Status = types.StatusStopping
		r.state.Message = "Stop requested."
		r.appendLog("Stop requested.")
	}
	return r.state.Clone()
}

// Reset returns an inactive runner to idle.
func (r *Runner) Reset() (types.PipelineState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active {
		return r.state.Clone(), apperr.ErrResetWhileRunning
	}
	r.state = types.IdleState()
	r.appendLog("Reset.")
	return r.state.Clone(), nil
}

// Snapshot returns a deep copy of the current state.
func (r *Runner) Snapshot() types.PipelineState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone()
}

// Wait blocks until the active run, if any, has fully finished and returns
// the resulting state.
func (r *Runner) Wait(ctx context.Context) (types.PipelineState, error) {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return r.Snapshot(), ctx.Err()
		}
	}
	return r.Snapshot(), nil
}

// appendLog adds a line to the bounded log ring. Callers hold mu.
func (r *Runner) appendLog(msg string) {
	logs := append(r.state.Logs, msg)
	if over := len(logs) - r.maxLogLines; over > 0 {
		logs = slices.Delete(logs, 0, over)
	}
	r.state.Logs = logs
}

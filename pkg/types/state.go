// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"maps"
	"slices"
	"time"
)

// RunStatus is the pipeline state machine status.
type RunStatus string

const (
	StatusIdle      RunStatus = "idle"
	StatusRunning   RunStatus = "running"
	StatusStopping  RunStatus = "stopping"
	StatusStopped   RunStatus = "stopped"
	StatusCompleted RunStatus = "completed"
	StatusError     RunStatus = "error"
)

// Terminal reports whether no further transition happens without a new run.
func (s RunStatus) Terminal() bool {
	return s == StatusStopped || s == StatusCompleted || s == StatusError
}

// Progress is a phase payload of numeric counters.
type Progress map[string]float64

// ProgressFunc receives progress reports from a stage.
type ProgressFunc func(phase string, payload Progress)

// RunResult aggregates the statistics of a completed run.
type RunResult struct {
	ProcessedRecords int     `json:"processed_records" yaml:"processed_records"`
	ElapsedSeconds   float64 `json:"elapsed_seconds" yaml:"elapsed_seconds"`
	BuildSeconds     float64 `json:"build_seconds" yaml:"build_seconds"`
	RecordsPerSec    float64 `json:"records_per_sec" yaml:"records_per_sec"`
	XMLGzPath        string  `json:"xml_gz_path" yaml:"xml_gz_path"`
	XMLPath          string  `json:"xml_path" yaml:"xml_path"`
	DTDPath          string  `json:"dtd_path" yaml:"dtd_path"`
	DBPath           string  `json:"db_path" yaml:"db_path"`
}

// PipelineState is the single source of truth read by status queries.
type PipelineState struct {
	RunID      string     `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Status     RunStatus  `json:"status" yaml:"status"`
	Step       string     `json:"step" yaml:"step"`
	Message    string     `json:"message" yaml:"message"`
	StartedAt  *time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt *time.Time `json:"finished_at" yaml:"finished_at"`
	Progress   Progress   `json:"progress" yaml:"progress"`
	Logs       []string   `json:"logs" yaml:"logs"`
	Result     *RunResult `json:"result,omitempty" yaml:"result,omitempty"`
}

// IdleState returns the state of a runner that has never run.
func IdleState() PipelineState {
	return PipelineState{
		Status:   StatusIdle,
		Step:     string(StatusIdle),
		Progress: Progress{},
		Logs:     []string{},
	}
}

// Clone returns a deep copy that shares no memory with s.
func (s PipelineState) Clone() PipelineState {
	out := s
	if s.StartedAt != nil {
		t := *s.StartedAt
		out.StartedAt = &t
	}
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		out.FinishedAt = &t
	}
	out.Progress = maps.Clone(s.Progress)
	if out.Progress == nil {
		out.Progress = Progress{}
	}
	out.Logs = slices.Clone(s.Logs)
	if out.Logs == nil {
		out.Logs = []string{}
	}
	if s.Result != nil {
		r := *s.Result
		out.Result = &r
	}
	return out
}

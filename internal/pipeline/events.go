// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"github.com/pdiddy/dblp-coauthors/pkg/types"
)

// EventKind discriminates Event.
type EventKind int

const (
	EventLog EventKind = iota
	EventProgress
	EventDone
)

func (k EventKind) String() string {
	switch k {
	case EventLog:
		return "log"
	case EventProgress:
		return "progress"
	case EventDone:
		return "done"
	}
	return "unknown"
}

// Event is sent by the run goroutine to the goroutine that owns the state.
// The run goroutine never touches PipelineState directly.
type Event struct {
	Kind EventKind

	// Message is set for EventLog.
	Message string

	// Phase and Progress are set for EventProgress.
	Phase    string
	Progress types.Progress

	// Result and Err are set for EventDone.
	Result *types.RunResult
	Err    error
}

// chanEmitter forwards stage output onto the event channel.
type chanEmitter struct {
	ch chan<- Event
}

func (e chanEmitter) Log(msg string) {
	e.ch <- Event{Kind: EventLog, Message: msg}
}

func (e chanEmitter) Progress(phase string, payload types.Progress) {
	e.ch <- Event{Kind: EventProgress, Phase: phase, Progress: payload}
}

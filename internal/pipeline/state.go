// Package pipeline wires the transcript pipeline together: audio source,
// upstream link, aggregator, and broadcaster, supervised by a lifecycle
// state machine with a control surface for the HTTP layer.
package pipeline

import "errors"

// State is a supervisor lifecycle phase.
type State string

const (
	// StateStopped is the initial and terminal state.
	StateStopped State = "STOPPED"

	// StateStarting means tasks are spawning; the audio source has not yet
	// confirmed capture.
	StateStarting State = "STARTING"

	// StateRunning means the audio source is capturing and the pipeline is
	// fully live.
	StateRunning State = "RUNNING"

	// StateDegraded means the audio source did not confirm within the
	// startup window but nothing failed hard; the link and aggregator keep
	// working.
	StateDegraded State = "DEGRADED"

	// StateStopping means shutdown is in progress: the link is closing and
	// tasks are draining.
	StateStopping State = "STOPPING"

	// StateError means an unrecoverable failure stopped the pipeline; a new
	// Start is allowed.
	StateError State = "ERROR"
)

// ErrInvalidState is returned by Start when the pipeline is not in a
// startable state.
var ErrInvalidState = errors.New("pipeline: invalid state for operation")

// CanStart reports whether Start is allowed from s.
func (s State) CanStart() bool {
	return s == StateStopped || s == StateError
}

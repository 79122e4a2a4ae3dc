// package lifecycle implements the track processing state machine.
//
// Every user or worker driven change to a track's status goes through one of the functions here.
// They mutate the track in memory only; callers persist the result with a version-checked write.
package lifecycle

import (
	"fmt"

	"github.com/desertthunder/trackline/internal/models"
	"github.com/desertthunder/trackline/internal/shared"
)

// StoppedMessage is stored as the error message of a manually stopped track.
const StoppedMessage = "Processing was manually stopped"

// Rejection reasons reported per item by bulk operations.
const (
	ReasonAlreadyProcessing = "already processing"
	ReasonNotStoppable      = "not processing or pending"
	ReasonNotFailed         = "not failed"
	ReasonNotRetryable      = "not failed or stopped"
	ReasonNotPending        = "not pending"
	ReasonNotProcessing     = "not processing"
)

// TransitionError is returned when a transition is not allowed from the track's current status.
type TransitionError struct {
	Action string
	From   models.Status
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s track: %s (status %s)", e.Action, e.Reason, e.From)
}

// Unwrap lets callers match [shared.ErrInvalidState].
func (e *TransitionError) Unwrap() error {
	return shared.ErrInvalidState
}

func reject(action string, from models.Status, reason string) error {
	return &TransitionError{Action: action, From: from, Reason: reason}
}

// Start moves a track to pending from any status except processing.
//
// With force a processing track may be restarted and the current media paths are
// cleared and returned so the caller can delete the files.
func Start(t *models.Track, force bool) ([]string, error) {
	if t.Status == models.StatusProcessing && !force {
		return nil, reject("start", t.Status, ReasonAlreadyProcessing)
	}

	var stale []string
	if force {
		stale = t.MediaPaths()
		t.AudioPath, t.ImagePath, t.VideoPath = nil, nil, nil
	}

	toPending(t)
	return stale, nil
}

// Stop moves a pending or processing track to stopped. Progress is left as is.
func Stop(t *models.Track) error {
	if t.Status != models.StatusPending && t.Status != models.StatusProcessing {
		return reject("stop", t.Status, ReasonNotStoppable)
	}
	msg := StoppedMessage
	t.Status = models.StatusStopped
	t.ErrorMessage = &msg
	return nil
}

// Retry moves a failed track back to pending. allowStopped also accepts stopped tracks,
// which is what bulk retries do.
func Retry(t *models.Track, allowStopped bool) error {
	switch {
	case t.Status == models.StatusFailed:
	case allowStopped && t.Status == models.StatusStopped:
	case allowStopped:
		return reject("retry", t.Status, ReasonNotRetryable)
	default:
		return reject("retry", t.Status, ReasonNotFailed)
	}
	toPending(t)
	return nil
}

func toPending(t *models.Track) {
	t.Status = models.StatusPending
	t.Progress = 0
	t.ErrorMessage = nil
}

// Begin is called by a worker that picked up a pending track.
func Begin(t *models.Track) error {
	if t.Status != models.StatusPending {
		return reject("begin", t.Status, ReasonNotPending)
	}
	t.Status = models.StatusProcessing
	t.Progress = 0
	t.ErrorMessage = nil
	return nil
}

// Advance records worker progress. Values are clamped to 0..100 and never go backwards.
func Advance(t *models.Track, pct int) error {
	if t.Status != models.StatusProcessing {
		return reject("advance", t.Status, ReasonNotProcessing)
	}
	pct = max(0, min(pct, 100))
	if pct > t.Progress {
		t.Progress = pct
	}
	return nil
}

// Complete marks a processing track as done.
func Complete(t *models.Track) error {
	if t.Status != models.StatusProcessing {
		return reject("complete", t.Status, ReasonNotProcessing)
	}
	t.Status = models.StatusCompleted
	t.Progress = 100
	t.ErrorMessage = nil
	return nil
}

// Fail marks a processing track as failed with msg. Progress is frozen.
func Fail(t *models.Track, msg string) error {
	if t.Status != models.StatusProcessing {
		return reject("fail", t.Status, ReasonNotProcessing)
	}
	if msg == "" {
		msg = "processing failed"
	}
	t.Status = models.StatusFailed
	t.ErrorMessage = &msg
	return nil
}

// Apply runs the user facing action on t. bulk selects the bulk retry rules.
// Delete is accepted from every status and leaves t untouched.
func Apply(t *models.Track, action models.Action, force, bulk bool) ([]string, error) {
	switch action {
	case models.ActionStart:
		return Start(t, force)
	case models.ActionStop:
		return nil, Stop(t)
	case models.ActionRetry:
		return nil, Retry(t, bulk)
	case models.ActionDelete:
		return t.MediaPaths(), nil
	default:
		return nil, fmt.Errorf("%w: unknown action %q", shared.ErrInvalidInput, action)
	}
}

// Can reports whether action is allowed from status using the bulk rules.
func Can(action models.Action, status models.Status) bool {
	t := &models.Track{Status: status}
	_, err := Apply(t, action, false, true)
	return err == nil
}

// DefaultStatuses is the status filter a bulk action uses when the caller gives none.
// A nil result means the action has no default and an explicit filter is required.
func DefaultStatuses(action models.Action) []models.Status {
	switch action {
	case models.ActionStart:
		return []models.Status{models.StatusPending, models.StatusFailed, models.StatusStopped}
	case models.ActionStop:
		return []models.Status{models.StatusProcessing, models.StatusPending}
	case models.ActionRetry:
		return []models.Status{models.StatusFailed}
	default:
		return nil
	}
}

// Enqueues reports whether a successful action is followed by a processing job.
func Enqueues(action models.Action) bool {
	return action == models.ActionStart || action == models.ActionRetry
}

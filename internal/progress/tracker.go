package progress

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/desertthunder/trackline/internal/models"
	"github.com/desertthunder/trackline/internal/shared"
)

// Tracker is the single writer of one progress record.
type Tracker struct {
	mu    sync.Mutex
	store Store
	key   string
	ttl   time.Duration
	last  models.ProgressRecord
}

// NewTracker binds a tracker to key in store.
func NewTracker(store Store, key string, ttl time.Duration) *Tracker {
	return &Tracker{store: store, key: key, ttl: ttl}
}

// Key returns the session key being written.
func (t *Tracker) Key() string { return t.key }

// Begin writes the initial starting record.
func (t *Tracker) Begin(ctx context.Context, total int, msg string) error {
	return t.write(ctx, func(r *models.ProgressRecord) {
		*r = models.ProgressRecord{Status: models.ProgressStarting, Total: total, Message: msg}
	})
}

// Update applies fn to the current record and moves it to running.
func (t *Tracker) Update(ctx context.Context, fn func(*models.ProgressRecord)) error {
	return t.write(ctx, func(r *models.ProgressRecord) {
		fn(r)
		if !r.Terminal() {
			r.Status = models.ProgressRunning
		}
		r.Progress = r.Percent()
	})
}

// Finish marks the record completed.
func (t *Tracker) Finish(ctx context.Context, msg string) error {
	return t.write(ctx, func(r *models.ProgressRecord) {
		r.Status = models.ProgressCompleted
		r.Progress = 100
		r.Message = msg
	})
}

// Failed marks the record failed with cause. Counters are kept.
func (t *Tracker) Failed(ctx context.Context, cause error) error {
	return t.write(ctx, func(r *models.ProgressRecord) {
		msg := cause.Error()
		r.Status = models.ProgressFailed
		r.Error = &msg
		r.Message = "Import failed"
	})
}

// Last returns the most recently written record.
func (t *Tracker) Last() models.ProgressRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return clone(t.last)
}

func (t *Tracker) write(ctx context.Context, fn func(*models.ProgressRecord)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.store.Get(ctx, t.key)
	switch {
	case errors.Is(err, shared.ErrProgressNotFound):
		rec = clone(t.last)
	case err != nil:
		return err
	}

	fn(&rec)
	if err := t.store.Put(ctx, t.key, rec, t.ttl); err != nil {
		return err
	}
	t.last = clone(rec)
	return nil
}

// Package audit writes the append-only trail of reservation mutations.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/field-reservation/internal/model"
	"github.com/iliyamo/field-reservation/internal/queue"
	"github.com/iliyamo/field-reservation/internal/repository"
)

// Publisher fans stored entries out to other consumers.
type Publisher interface {
	Publish(ctx context.Context, ev queue.AuditEvent) error
}

// Recorder stores one audit entry per committed mutation.  A store error
// is retried with linear backoff; if every attempt fails the error is
// logged and swallowed, since the mutation has already been committed.
// Stored entries are published in the background; Wait blocks until
// pending publishes finish.
type Recorder struct {
	store          repository.AuditStore
	pub            Publisher
	attempts       int
	backoff        time.Duration
	publishTimeout time.Duration
	now            func() time.Time
	inflight       sync.WaitGroup
}

// Option customises a Recorder.
type Option func(*Recorder)

// WithPublisher publishes an AuditEvent after each stored entry.
func WithPublisher(p Publisher) Option {
	return func(r *Recorder) { r.pub = p }
}

// WithRetry sets the number of store attempts and the base backoff.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(r *Recorder) {
		if attempts > 0 {
			r.attempts = attempts
		}
		if backoff >= 0 {
			r.backoff = backoff
		}
	}
}

// WithPublishTimeout bounds each background publish.
func WithPublishTimeout(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.publishTimeout = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder returns a Recorder writing to store.
func NewRecorder(store repository.AuditStore, opts ...Option) *Recorder {
	r := &Recorder{
		store:          store,
		attempts:       3,
		backoff:        100 * time.Millisecond,
		publishTimeout: 5 * time.Second,
		now:            time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Record stores an entry for action with detail marshalled as JSON.  It
// returns the stored entry, or nil when recording failed.  Cancellation of
// ctx does not abort recording.
func (r *Recorder) Record(ctx context.Context, action model.AuditAction, detail any) *model.AuditLogEntry {
	raw, err := json.Marshal(detail)
	if err != nil {
		log.Printf("audit: marshal %s detail failed: %v", action, err)
		return nil
	}
	ctx = context.WithoutCancel(ctx)

	entry := &model.AuditLogEntry{Time: r.now().UTC(), Action: action, Detail: raw}
	if err := r.append(ctx, entry); err != nil {
		log.Printf("audit: giving up on %s entry after %d attempts: %v", action, r.attempts, err)
		return nil
	}

	if r.pub != nil {
		r.publish(ctx, entry)
	}
	return entry
}

// publish sends entry to the publisher without holding up the caller.
func (r *Recorder) publish(ctx context.Context, entry *model.AuditLogEntry) {
	ev := queue.AuditEvent{
		EventID:    uuid.NewString(),
		AuditID:    entry.ID,
		Action:     string(entry.Action),
		Detail:     entry.Detail,
		RecordedAt: entry.Time.Format(time.RFC3339Nano),
	}
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		ctx, cancel := context.WithTimeout(ctx, r.publishTimeout)
		defer cancel()
		if err := r.pub.Publish(ctx, ev); err != nil {
			log.Printf("audit: publish entry %d failed: %v", ev.AuditID, err)
		}
	}()
}

// Wait blocks until every background publish has returned.
func (r *Recorder) Wait() {
	r.inflight.Wait()
}

func (r *Recorder) append(ctx context.Context, entry *model.AuditLogEntry) error {
	var err error
	for i := 1; i <= r.attempts; i++ {
		if err = r.store.AppendAudit(ctx, entry); err == nil {
			return nil
		}
		log.Printf("audit: append attempt %d/%d failed: %v", i, r.attempts, err)
		if i < r.attempts {
			time.Sleep(time.Duration(i) * r.backoff)
		}
	}
	return fmt.Errorf("append audit: %w", err)
}

// Package audit is the append-only, hash-chained history of every
// state-affecting action on a deal.
package audit

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/alfredjeanlab/icgate/internal/model"
	"github.com/alfredjeanlab/icgate/internal/store"
)

// DefaultPageSize is the number of entries History fetches per store round trip.
const DefaultPageSize = 200

// Log appends and reads audit entries through a store.Store.
type Log struct {
	store    store.Store
	pageSize int
	now      func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithPageSize sets the History page size. Values < 1 are ignored.
func WithPageSize(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.pageSize = n
		}
	}
}

// WithClock overrides the time source used for entries without a timestamp.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// New creates a Log reading committed history from s.
func New(s store.Store, opts ...Option) *Log {
	l := &Log{store: s, pageSize: DefaultPageSize, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Timestamp normalizes t to the precision the durable store keeps, so a
// hash computed before the write still verifies after a read.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// Append assigns the next sequence number for e.DealID, hashes payload into
// the chain and writes the entry through tx. It returns the assigned
// sequence number. Any error must abort the enclosing transaction.
func (l *Log) Append(ctx context.Context, tx store.Store, e *model.AuditEntry, payload any) (int64, error) {
	if !e.Kind.IsValid() {
		return 0, fmt.Errorf("append audit: unknown action kind %q", e.Kind)
	}

	raw, err := Canonical(payload)
	if err != nil {
		return 0, fmt.Errorf("append audit: %w", err)
	}

	var prevHash string
	seq := int64(1)
	last, err := tx.LastAudit(ctx, e.DealID)
	switch {
	case err == nil:
		seq = last.Seq + 1
		prevHash = last.EntryHash
	case errors.Is(err, store.ErrNotFound):
	default:
		return 0, fmt.Errorf("append audit: reading chain head: %w", err)
	}

	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now()
	}
	e.CreatedAt = Timestamp(e.CreatedAt)
	e.Seq = seq
	e.Payload = raw
	e.PayloadHash = HashPayload(raw)
	e.PrevHash = prevHash
	e.EntryHash = HashEntry(e)

	if err := tx.AppendAudit(ctx, e); err != nil {
		return 0, fmt.Errorf("append audit seq %d: %w", seq, err)
	}
	return seq, nil
}

// History returns the committed entries of a deal in sequence order. The
// sequence is lazy: pages are fetched as the caller ranges, keyed on the
// last seen sequence number. Ranging again restarts from the filter.
func (l *Log) History(ctx context.Context, dealID string, filter model.AuditFilter) iter.Seq2[*model.AuditEntry, error] {
	return func(yield func(*model.AuditEntry, error) bool) {
		f := filter
		remaining := filter.Limit
		for {
			page := l.pageSize
			if remaining > 0 && remaining < page {
				page = remaining
			}
			f.Limit = page

			entries, err := l.store.ListAudit(ctx, dealID, f)
			if err != nil {
				yield(nil, fmt.Errorf("audit history for %s: %w", dealID, err))
				return
			}
			for _, e := range entries {
				if !yield(e, nil) {
					return
				}
			}
			if remaining > 0 {
				remaining -= len(entries)
				if remaining <= 0 {
					return
				}
			}
			if len(entries) < page {
				return
			}
			f.SinceSeq = entries[len(entries)-1].Seq
		}
	}
}

// Entries drains History into a slice.
func (l *Log) Entries(ctx context.Context, dealID string, filter model.AuditFilter) ([]*model.AuditEntry, error) {
	var out []*model.AuditEntry
	for e, err := range l.History(ctx, dealID, filter) {
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// VerifyDeal reads the full history of a deal and checks its chain.
func (l *Log) VerifyDeal(ctx context.Context, dealID string) (Report, error) {
	entries, err := l.Entries(ctx, dealID, model.AuditFilter{})
	if err != nil {
		return Report{}, err
	}
	r := Verify(entries)
	r.DealID = dealID
	return r, nil
}

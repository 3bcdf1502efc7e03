package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/icgate/internal/store"
)

// Destination receives a complete export.
type Destination interface {
	Name() string
	Write(ctx context.Context, data []byte) error
}

// Scheduler exports the audit trail to its destinations on an interval.
// A destination is only written when the audit content changed since its
// last successful write; the header timestamp does not count as a change.
type Scheduler struct {
	store        store.Store
	destinations []Destination
	interval     time.Duration
	logger       *slog.Logger
	now          func() time.Time

	mu        sync.Mutex
	delivered map[string][sha256.Size]byte

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(s store.Store, destinations []Destination, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:        s,
		destinations: destinations,
		interval:     interval,
		logger:       logger,
		now:          time.Now,
		delivered:    make(map[string][sha256.Size]byte),
	}
}

// Start exports once right away and then once per interval until Stop.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.RunOnce(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = s.RunOnce(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for an in-flight export.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// contentDigest hashes everything after the header line.
func contentDigest(data []byte) [sha256.Size]byte {
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		data = data[i+1:]
	}
	return sha256.Sum256(data)
}

// RunOnce exports and writes to every destination that has not yet
// received this content. A failing destination does not stop the others;
// their errors are joined and they are retried on the next run.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var buf bytes.Buffer
	if err := ExportJSONL(ctx, s.store, &buf, s.now()); err != nil {
		s.logger.Error("archive export failed", "err", err)
		return err
	}
	data := buf.Bytes()
	digest := contentDigest(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		errs    []error
		skipped int
	)
	for _, dest := range s.destinations {
		name := dest.Name()
		if last, ok := s.delivered[name]; ok && last == digest {
			skipped++
			continue
		}
		if err := dest.Write(ctx, data); err != nil {
			s.logger.Error("archive write failed", "destination", name, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		s.delivered[name] = digest
	}

	s.logger.Info("archive completed",
		"destinations", len(s.destinations),
		"unchanged", skipped,
		"failed", len(errs),
		"bytes", len(data),
	)
	return errors.Join(errs...)
}

// Package memory implements store.Store in process memory. Each deal is a
// copy-on-write shard: writers serialize on the shard mutex and publish a
// new immutable version on commit, readers load the committed version
// without locking.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/alfredjeanlab/icgate/internal/model"
	"github.com/alfredjeanlab/icgate/internal/store"
)

// dealState is one immutable committed version of a deal's rows.
type dealState struct {
	deal      *model.Deal
	artifacts map[string]*model.ArtifactSubmission // key: gate|type
	votes     map[string]*model.Vote               // key: gate|member
	audit     []*model.AuditEntry
}

func (s *dealState) clone() *dealState {
	return &dealState{
		deal:      s.deal.Clone(),
		artifacts: maps.Clone(s.artifacts),
		votes:     maps.Clone(s.votes),
		audit:     slices.Clip(s.audit),
	}
}

type shard struct {
	mu        sync.Mutex
	committed atomic.Pointer[dealState]
	retired   bool // guarded by mu; set once the shard is dropped from the map
}

// Store is an in-memory store.Store.
type Store struct {
	mu     sync.RWMutex
	shards map[string]*shard

	nextAuditID atomic.Int64
	closed      atomic.Bool
}

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// New returns an empty in-memory store.
func New() *Store {
	return &Store{shards: make(map[string]*shard)}
}

func (s *Store) shard(dealID string, create bool) *shard {
	s.mu.RLock()
	sh, ok := s.shards[dealID]
	s.mu.RUnlock()
	if ok || !create {
		return sh
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sh, ok = s.shards[dealID]; ok {
		return sh
	}
	sh = &shard{}
	sh.committed.Store(&dealState{
		artifacts: map[string]*model.ArtifactSubmission{},
		votes:     map[string]*model.Vote{},
	})
	s.shards[dealID] = sh
	return sh
}

// lockShard returns the deal's shard locked, creating it if needed. A shard
// retired while the caller waited for its lock is looked up again.
func (s *Store) lockShard(dealID string) *shard {
	for {
		sh := s.shard(dealID, true)
		sh.mu.Lock()
		if !sh.retired {
			return sh
		}
		sh.mu.Unlock()
	}
}

// release drops a shard whose committed state still holds no deal, so a
// failed write against an unknown id leaves nothing behind. The caller holds
// sh.mu.
func (s *Store) release(dealID string, sh *shard) {
	if sh.committed.Load().deal != nil {
		return
	}
	s.mu.Lock()
	if s.shards[dealID] == sh {
		delete(s.shards, dealID)
	}
	s.mu.Unlock()
	sh.retired = true
}

// snapshot returns the committed state of a deal, or nil.
func (s *Store) snapshot(dealID string) *dealState {
	sh := s.shard(dealID, false)
	if sh == nil {
		return nil
	}
	st := sh.committed.Load()
	if st.deal == nil {
		return nil
	}
	return st
}

func (s *Store) checkOpen() error {
	if s.closed.Load() {
		return fmt.Errorf("memory store closed: %w", store.ErrUnavailable)
	}
	return nil
}

// RunInDealTransaction locks the deal's shard, runs fn against a private
// copy and publishes the copy if fn succeeds.
func (s *Store) RunInDealTransaction(ctx context.Context, dealID string, fn func(tx store.Store) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	sh := s.lockShard(dealID)
	defer func() {
		s.release(dealID, sh)
		sh.mu.Unlock()
	}()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &txStore{parent: s, dealID: dealID, state: sh.committed.Load().clone()}
	if err := fn(tx); err != nil {
		return err
	}
	tx.done = true
	sh.committed.Store(tx.state)
	return nil
}

// Non-transactional writes run as a single-statement transaction.

func (s *Store) CreateDeal(ctx context.Context, deal *model.Deal) error {
	return s.RunInDealTransaction(ctx, deal.ID, func(tx store.Store) error {
		return tx.CreateDeal(ctx, deal)
	})
}

func (s *Store) UpdateDeal(ctx context.Context, deal *model.Deal) error {
	return s.RunInDealTransaction(ctx, deal.ID, func(tx store.Store) error {
		return tx.UpdateDeal(ctx, deal)
	})
}

func (s *Store) UpsertArtifact(ctx context.Context, a *model.ArtifactSubmission) error {
	return s.RunInDealTransaction(ctx, a.DealID, func(tx store.Store) error {
		return tx.UpsertArtifact(ctx, a)
	})
}

func (s *Store) UpsertVote(ctx context.Context, v *model.Vote) error {
	return s.RunInDealTransaction(ctx, v.DealID, func(tx store.Store) error {
		return tx.UpsertVote(ctx, v)
	})
}

func (s *Store) AppendAudit(ctx context.Context, entry *model.AuditEntry) error {
	return s.RunInDealTransaction(ctx, entry.DealID, func(tx store.Store) error {
		return tx.AppendAudit(ctx, entry)
	})
}

func (s *Store) GetDeal(_ context.Context, id string) (*model.Deal, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	st := s.snapshot(id)
	if st == nil {
		return nil, store.ErrNotFound
	}
	return st.deal.Clone(), nil
}

func (s *Store) ListDeals(_ context.Context, filter model.DealFilter) ([]*model.Deal, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	ids := slices.Collect(maps.Keys(s.shards))
	s.mu.RUnlock()
	sort.Strings(ids)

	var out []*model.Deal
	for _, id := range ids {
		st := s.snapshot(id)
		if st == nil || !dealMatches(st.deal, filter) {
			continue
		}
		out = append(out, st.deal.Clone())
	}
	return paginate(out, filter.Offset, filter.Limit), nil
}

func (s *Store) ListArtifacts(_ context.Context, dealID string, gate model.Gate) ([]*model.ArtifactSubmission, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	st := s.snapshot(dealID)
	if st == nil {
		return nil, nil
	}
	return listArtifacts(st, gate), nil
}

func (s *Store) ListVotes(_ context.Context, dealID string, gate model.Gate) ([]*model.Vote, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	st := s.snapshot(dealID)
	if st == nil {
		return nil, nil
	}
	return listVotes(st, gate), nil
}

func (s *Store) ListAudit(_ context.Context, dealID string, filter model.AuditFilter) ([]*model.AuditEntry, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	st := s.snapshot(dealID)
	if st == nil {
		return nil, nil
	}
	return listAudit(st, filter), nil
}

func (s *Store) LastAudit(_ context.Context, dealID string) (*model.AuditEntry, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	st := s.snapshot(dealID)
	if st == nil || len(st.audit) == 0 {
		return nil, store.ErrNotFound
	}
	return st.audit[len(st.audit)-1].Clone(), nil
}

// Ping reports whether the store is still open.
func (s *Store) Ping(context.Context) error {
	return s.checkOpen()
}

// Close marks the store unavailable; later calls fail with ErrUnavailable.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

// txStore operates on a private copy of one deal's state.
type txStore struct {
	parent *Store
	dealID string
	state  *dealState
	done   bool
}

// Compile-time check that txStore implements store.Store.
var _ store.Store = (*txStore)(nil)

func (t *txStore) check(dealID string) error {
	if t.done {
		return fmt.Errorf("transaction already committed")
	}
	if dealID != t.dealID {
		return fmt.Errorf("transaction for deal %s cannot touch deal %s", t.dealID, dealID)
	}
	return t.parent.checkOpen()
}

func (t *txStore) CreateDeal(_ context.Context, deal *model.Deal) error {
	if err := t.check(deal.ID); err != nil {
		return err
	}
	if t.state.deal != nil {
		return fmt.Errorf("deal %s: %w", deal.ID, store.ErrConflict)
	}
	t.state.deal = deal.Clone()
	return nil
}

func (t *txStore) GetDeal(_ context.Context, id string) (*model.Deal, error) {
	if err := t.check(id); err != nil {
		return nil, err
	}
	if t.state.deal == nil {
		return nil, store.ErrNotFound
	}
	return t.state.deal.Clone(), nil
}

func (t *txStore) ListDeals(ctx context.Context, filter model.DealFilter) ([]*model.Deal, error) {
	return t.parent.ListDeals(ctx, filter)
}

func (t *txStore) UpdateDeal(_ context.Context, deal *model.Deal) error {
	if err := t.check(deal.ID); err != nil {
		return err
	}
	if t.state.deal == nil {
		return store.ErrNotFound
	}
	t.state.deal = deal.Clone()
	return nil
}

func (t *txStore) UpsertArtifact(_ context.Context, a *model.ArtifactSubmission) error {
	if err := t.check(a.DealID); err != nil {
		return err
	}
	if t.state.deal == nil {
		return fmt.Errorf("deal %s: %w", a.DealID, store.ErrNotFound)
	}
	t.state.artifacts[key(a.Gate, a.ArtifactType)] = a.Clone()
	return nil
}

func (t *txStore) ListArtifacts(_ context.Context, dealID string, gate model.Gate) ([]*model.ArtifactSubmission, error) {
	if err := t.check(dealID); err != nil {
		return nil, err
	}
	return listArtifacts(t.state, gate), nil
}

func (t *txStore) UpsertVote(_ context.Context, v *model.Vote) error {
	if err := t.check(v.DealID); err != nil {
		return err
	}
	if t.state.deal == nil {
		return fmt.Errorf("deal %s: %w", v.DealID, store.ErrNotFound)
	}
	t.state.votes[key(v.Gate, v.MemberID)] = v.Clone()
	return nil
}

func (t *txStore) ListVotes(_ context.Context, dealID string, gate model.Gate) ([]*model.Vote, error) {
	if err := t.check(dealID); err != nil {
		return nil, err
	}
	return listVotes(t.state, gate), nil
}

func (t *txStore) AppendAudit(_ context.Context, entry *model.AuditEntry) error {
	if err := t.check(entry.DealID); err != nil {
		return err
	}
	if t.state.deal == nil {
		return fmt.Errorf("deal %s: %w", entry.DealID, store.ErrNotFound)
	}
	if n := len(t.state.audit); n > 0 && entry.Seq <= t.state.audit[n-1].Seq {
		return fmt.Errorf("audit seq %d for deal %s: %w", entry.Seq, entry.DealID, store.ErrConflict)
	}
	entry.ID = t.parent.nextAuditID.Add(1)
	t.state.audit = append(t.state.audit, entry.Clone())
	return nil
}

func (t *txStore) ListAudit(_ context.Context, dealID string, filter model.AuditFilter) ([]*model.AuditEntry, error) {
	if err := t.check(dealID); err != nil {
		return nil, err
	}
	return listAudit(t.state, filter), nil
}

func (t *txStore) LastAudit(_ context.Context, dealID string) (*model.AuditEntry, error) {
	if err := t.check(dealID); err != nil {
		return nil, err
	}
	if len(t.state.audit) == 0 {
		return nil, store.ErrNotFound
	}
	return t.state.audit[len(t.state.audit)-1].Clone(), nil
}

// RunInDealTransaction on a txStore reuses the existing transaction (no nesting).
func (t *txStore) RunInDealTransaction(_ context.Context, dealID string, fn func(tx store.Store) error) error {
	if err := t.check(dealID); err != nil {
		return err
	}
	return fn(t)
}

func (t *txStore) Ping(ctx context.Context) error { return t.parent.Ping(ctx) }

// Close is a no-op for a transaction store; the parent store owns the data.
func (t *txStore) Close() error { return nil }

func key(g model.Gate, k string) string {
	return string(g) + "|" + k
}

func listArtifacts(st *dealState, gate model.Gate) []*model.ArtifactSubmission {
	var out []*model.ArtifactSubmission
	for k, a := range st.artifacts {
		if strings.HasPrefix(k, string(gate)+"|") {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ArtifactType < out[j].ArtifactType })
	return out
}

func listVotes(st *dealState, gate model.Gate) []*model.Vote {
	var out []*model.Vote
	for k, v := range st.votes {
		if strings.HasPrefix(k, string(gate)+"|") {
			out = append(out, v.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemberID < out[j].MemberID })
	return out
}

func listAudit(st *dealState, filter model.AuditFilter) []*model.AuditEntry {
	var out []*model.AuditEntry
	for _, e := range st.audit {
		if !filter.Matches(e) {
			continue
		}
		out = append(out, e.Clone())
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

func dealMatches(d *model.Deal, f model.DealFilter) bool {
	if len(f.Gates) > 0 && !slices.Contains(f.Gates, d.CurrentGate) {
		return false
	}
	if f.Terminal != nil && d.Terminal != *f.Terminal {
		return false
	}
	return true
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

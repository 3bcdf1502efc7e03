// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/icgate/internal/model"
	"github.com/alfredjeanlab/icgate/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewWithDB wraps an existing handle without running migrations.
func NewWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) CreateDeal(ctx context.Context, deal *model.Deal) error {
	return queryCreateDeal(ctx, s.db, deal)
}

func (s *PostgresStore) GetDeal(ctx context.Context, id string) (*model.Deal, error) {
	return queryGetDeal(ctx, s.db, id)
}

func (s *PostgresStore) ListDeals(ctx context.Context, filter model.DealFilter) ([]*model.Deal, error) {
	return queryListDeals(ctx, s.db, filter)
}

func (s *PostgresStore) UpdateDeal(ctx context.Context, deal *model.Deal) error {
	return queryUpdateDeal(ctx, s.db, deal)
}

func (s *PostgresStore) UpsertArtifact(ctx context.Context, a *model.ArtifactSubmission) error {
	return queryUpsertArtifact(ctx, s.db, a)
}

func (s *PostgresStore) ListArtifacts(ctx context.Context, dealID string, gate model.Gate) ([]*model.ArtifactSubmission, error) {
	return queryListArtifacts(ctx, s.db, dealID, gate)
}

func (s *PostgresStore) UpsertVote(ctx context.Context, v *model.Vote) error {
	return queryUpsertVote(ctx, s.db, v)
}

func (s *PostgresStore) ListVotes(ctx context.Context, dealID string, gate model.Gate) ([]*model.Vote, error) {
	return queryListVotes(ctx, s.db, dealID, gate)
}

func (s *PostgresStore) AppendAudit(ctx context.Context, entry *model.AuditEntry) error {
	return queryAppendAudit(ctx, s.db, entry)
}

func (s *PostgresStore) ListAudit(ctx context.Context, dealID string, filter model.AuditFilter) ([]*model.AuditEntry, error) {
	return queryListAudit(ctx, s.db, dealID, filter)
}

func (s *PostgresStore) LastAudit(ctx context.Context, dealID string) (*model.AuditEntry, error) {
	return queryLastAudit(ctx, s.db, dealID)
}

// RunInDealTransaction begins a transaction, takes a transaction-scoped
// advisory lock keyed by the deal id, calls fn with a txStore bound to the
// transaction, and commits on success or rolls back on error. The advisory
// lock serializes writers on one deal across every server instance, and
// also covers deals that do not exist yet.
func (s *PostgresStore) RunInDealTransaction(ctx context.Context, dealID string, fn func(tx store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", classify(err))
	}

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, dealID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("lock deal %s: %w", dealID, classify(err))
	}

	txS := &txStore{tx: tx, dealID: dealID}
	if err := fn(txS); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", classify(err))
	}
	return nil
}

// txStore implements store.Store using a *sql.Tx.
type txStore struct {
	tx     *sql.Tx
	dealID string
}

// Compile-time check that txStore implements store.Store.
var _ store.Store = (*txStore)(nil)

func (s *txStore) CreateDeal(ctx context.Context, deal *model.Deal) error {
	return queryCreateDeal(ctx, s.tx, deal)
}

func (s *txStore) GetDeal(ctx context.Context, id string) (*model.Deal, error) {
	return queryGetDeal(ctx, s.tx, id)
}

func (s *txStore) ListDeals(ctx context.Context, filter model.DealFilter) ([]*model.Deal, error) {
	return queryListDeals(ctx, s.tx, filter)
}

func (s *txStore) UpdateDeal(ctx context.Context, deal *model.Deal) error {
	return queryUpdateDeal(ctx, s.tx, deal)
}

func (s *txStore) UpsertArtifact(ctx context.Context, a *model.ArtifactSubmission) error {
	return queryUpsertArtifact(ctx, s.tx, a)
}

func (s *txStore) ListArtifacts(ctx context.Context, dealID string, gate model.Gate) ([]*model.ArtifactSubmission, error) {
	return queryListArtifacts(ctx, s.tx, dealID, gate)
}

func (s *txStore) UpsertVote(ctx context.Context, v *model.Vote) error {
	return queryUpsertVote(ctx, s.tx, v)
}

func (s *txStore) ListVotes(ctx context.Context, dealID string, gate model.Gate) ([]*model.Vote, error) {
	return queryListVotes(ctx, s.tx, dealID, gate)
}

func (s *txStore) AppendAudit(ctx context.Context, entry *model.AuditEntry) error {
	return queryAppendAudit(ctx, s.tx, entry)
}

func (s *txStore) ListAudit(ctx context.Context, dealID string, filter model.AuditFilter) ([]*model.AuditEntry, error) {
	return queryListAudit(ctx, s.tx, dealID, filter)
}

func (s *txStore) LastAudit(ctx context.Context, dealID string) (*model.AuditEntry, error) {
	return queryLastAudit(ctx, s.tx, dealID)
}

// RunInDealTransaction on a txStore reuses the existing transaction (no
// nesting). Only the deal already locked may be used.
func (s *txStore) RunInDealTransaction(_ context.Context, dealID string, fn func(tx store.Store) error) error {
	if dealID != s.dealID {
		return fmt.Errorf("transaction for deal %s cannot lock deal %s", s.dealID, dealID)
	}
	return fn(s)
}

// Ping is a no-op inside a transaction; the connection is already in use.
func (s *txStore) Ping(context.Context) error {
	return nil
}

// Close is a no-op for a transaction store; the parent store owns the connection.
func (s *txStore) Close() error {
	return nil
}

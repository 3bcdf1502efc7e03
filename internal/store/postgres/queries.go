package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/icgate/internal/model"
	"github.com/alfredjeanlab/icgate/internal/store"
)

// dealColumns is the column list used for SELECT statements on deal_gate_state.
const dealColumns = `deal_id, name, current_gate, entered_at, terminal, created_at, created_by, updated_at`

const artifactColumns = `deal_id, gate, artifact_type, reference_id, submitted_by, submitted_at,
	valid, invalid_reason, invalidated_by, invalidated_at`

const voteColumns = `deal_id, gate, member_id, choice, cast_by, cast_at`

const auditColumns = `id, deal_id, seq, kind, gate, actor, actor_role, payload,
	payload_hash, prev_hash, entry_hash, created_at`

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// classify maps driver errors onto the store sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %w", store.ErrConflict, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
}

func queryCreateDeal(ctx context.Context, db executor, d *model.Deal) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO deal_gate_state (
			deal_id, name, current_gate, entered_at, terminal, created_at, created_by, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID,
		nullString(d.Name),
		string(d.CurrentGate),
		d.EnteredAt,
		d.Terminal,
		d.CreatedAt,
		nullString(d.CreatedBy),
		d.UpdatedAt,
	)
	return classify(err)
}

func queryGetDeal(ctx context.Context, db executor, id string) (*model.Deal, error) {
	row := db.QueryRowContext(ctx, `SELECT `+dealColumns+` FROM deal_gate_state WHERE deal_id = $1`, id)
	d, err := scanDeal(row)
	if err != nil {
		return nil, classify(err)
	}
	return d, nil
}

func queryListDeals(ctx context.Context, db executor, filter model.DealFilter) ([]*model.Deal, error) {
	var (
		whereClauses []string
		args         []any
		argIdx       int
	)

	nextArg := func() string {
		argIdx++
		return fmt.Sprintf("$%d", argIdx)
	}

	if len(filter.Gates) > 0 {
		placeholders := make([]string, len(filter.Gates))
		for i, g := range filter.Gates {
			placeholders[i] = nextArg()
			args = append(args, string(g))
		}
		whereClauses = append(whereClauses, "current_gate IN ("+strings.Join(placeholders, ", ")+")")
	}

	if filter.Terminal != nil {
		whereClauses = append(whereClauses, "terminal = "+nextArg())
		args = append(args, *filter.Terminal)
	}

	query := `SELECT ` + dealColumns + ` FROM deal_gate_state`
	if len(whereClauses) > 0 {
		query += " WHERE " + strings.Join(whereClauses, " AND ")
	}
	query += " ORDER BY deal_id ASC"

	if filter.Limit > 0 {
		query += " LIMIT " + nextArg()
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET " + nextArg()
		args = append(args, filter.Offset)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var deals []*model.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, classify(err)
		}
		deals = append(deals, d)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return deals, nil
}

func queryUpdateDeal(ctx context.Context, db executor, d *model.Deal) error {
	res, err := db.ExecContext(ctx, `
		UPDATE deal_gate_state
		SET name = $2, current_gate = $3, entered_at = $4, terminal = $5, updated_at = $6
		WHERE deal_id = $1`,
		d.ID,
		nullString(d.Name),
		string(d.CurrentGate),
		d.EnteredAt,
		d.Terminal,
		d.UpdatedAt,
	)
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func queryUpsertArtifact(ctx context.Context, db executor, a *model.ArtifactSubmission) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO artifact_submissions (
			deal_id, gate, artifact_type, reference_id, submitted_by, submitted_at,
			valid, invalid_reason, invalidated_by, invalidated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (deal_id, gate, artifact_type) DO UPDATE SET
			reference_id   = EXCLUDED.reference_id,
			submitted_by   = EXCLUDED.submitted_by,
			submitted_at   = EXCLUDED.submitted_at,
			valid          = EXCLUDED.valid,
			invalid_reason = EXCLUDED.invalid_reason,
			invalidated_by = EXCLUDED.invalidated_by,
			invalidated_at = EXCLUDED.invalidated_at`,
		a.DealID,
		string(a.Gate),
		a.ArtifactType,
		a.ReferenceID,
		a.SubmittedBy,
		a.SubmittedAt,
		a.Valid,
		nullString(a.InvalidReason),
		nullString(a.InvalidatedBy),
		nullTimePtr(a.InvalidatedAt),
	)
	return classify(err)
}

func queryListArtifacts(ctx context.Context, db executor, dealID string, gate model.Gate) ([]*model.ArtifactSubmission, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+artifactColumns+`
		FROM artifact_submissions
		WHERE deal_id = $1 AND gate = $2
		ORDER BY artifact_type ASC`,
		dealID, string(gate),
	)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	arts, err := scanArtifacts(rows)
	return arts, classify(err)
}

func queryUpsertVote(ctx context.Context, db executor, v *model.Vote) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO votes (deal_id, gate, member_id, choice, cast_by, cast_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (deal_id, gate, member_id) DO UPDATE SET
			choice  = EXCLUDED.choice,
			cast_by = EXCLUDED.cast_by,
			cast_at = EXCLUDED.cast_at`,
		v.DealID,
		string(v.Gate),
		v.MemberID,
		string(v.Choice),
		v.CastBy,
		v.CastAt,
	)
	return classify(err)
}

func queryListVotes(ctx context.Context, db executor, dealID string, gate model.Gate) ([]*model.Vote, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+voteColumns+`
		FROM votes
		WHERE deal_id = $1 AND gate = $2
		ORDER BY member_id ASC`,
		dealID, string(gate),
	)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	votes, err := scanVotes(rows)
	return votes, classify(err)
}

func queryAppendAudit(ctx context.Context, db executor, e *model.AuditEntry) error {
	err := db.QueryRowContext(ctx, `
		INSERT INTO audit_log (
			deal_id, seq, kind, gate, actor, actor_role, payload,
			payload_hash, prev_hash, entry_hash, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		e.DealID,
		e.Seq,
		string(e.Kind),
		string(e.Gate),
		e.Actor,
		nullString(e.ActorRole),
		jsonbBytes(e.Payload),
		e.PayloadHash,
		e.PrevHash,
		e.EntryHash,
		e.CreatedAt,
	).Scan(&e.ID)
	return classify(err)
}

func queryListAudit(ctx context.Context, db executor, dealID string, filter model.AuditFilter) ([]*model.AuditEntry, error) {
	args := []any{dealID, filter.SinceSeq}
	argIdx := len(args)
	nextArg := func() string {
		argIdx++
		return fmt.Sprintf("$%d", argIdx)
	}

	query := `SELECT ` + auditColumns + ` FROM audit_log WHERE deal_id = $1 AND seq > $2`
	if filter.From != nil {
		query += " AND created_at >= " + nextArg()
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		query += " AND created_at < " + nextArg()
		args = append(args, *filter.To)
	}
	if len(filter.Kinds) > 0 {
		placeholders := make([]string, len(filter.Kinds))
		for i, k := range filter.Kinds {
			placeholders[i] = nextArg()
			args = append(args, string(k))
		}
		query += " AND kind IN (" + strings.Join(placeholders, ", ") + ")"
	}
	query += " ORDER BY seq ASC"
	if filter.Limit > 0 {
		query += " LIMIT " + nextArg()
		args = append(args, filter.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	entries, err := scanAuditEntries(rows)
	return entries, classify(err)
}

func queryLastAudit(ctx context.Context, db executor, dealID string) (*model.AuditEntry, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+auditColumns+`
		FROM audit_log
		WHERE deal_id = $1
		ORDER BY seq DESC
		LIMIT 1`,
		dealID,
	)
	e, err := scanAuditEntry(row)
	if err != nil {
		return nil, classify(err)
	}
	return e, nil
}

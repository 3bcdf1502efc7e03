package postgres

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/alfredjeanlab/icgate/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanDeal scans a single row into a model.Deal.
// The row must contain columns in the order defined by dealColumns.
func scanDeal(row scannable) (*model.Deal, error) {
	var d model.Deal
	var (
		name      sql.NullString
		createdBy sql.NullString
	)
	err := row.Scan(
		&d.ID,
		&name,
		&d.CurrentGate,
		&d.EnteredAt,
		&d.Terminal,
		&d.CreatedAt,
		&createdBy,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Name = name.String
	d.CreatedBy = createdBy.String
	return &d, nil
}

func scanArtifact(row scannable) (*model.ArtifactSubmission, error) {
	var a model.ArtifactSubmission
	var (
		invalidReason sql.NullString
		invalidatedBy sql.NullString
		invalidatedAt sql.NullTime
	)
	err := row.Scan(
		&a.DealID,
		&a.Gate,
		&a.ArtifactType,
		&a.ReferenceID,
		&a.SubmittedBy,
		&a.SubmittedAt,
		&a.Valid,
		&invalidReason,
		&invalidatedBy,
		&invalidatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.InvalidReason = invalidReason.String
	a.InvalidatedBy = invalidatedBy.String
	if invalidatedAt.Valid {
		t := invalidatedAt.Time
		a.InvalidatedAt = &t
	}
	return &a, nil
}

func scanArtifacts(rows *sql.Rows) ([]*model.ArtifactSubmission, error) {
	var arts []*model.ArtifactSubmission
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		arts = append(arts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return arts, nil
}

func scanVotes(rows *sql.Rows) ([]*model.Vote, error) {
	var votes []*model.Vote
	for rows.Next() {
		var v model.Vote
		if err := rows.Scan(&v.DealID, &v.Gate, &v.MemberID, &v.Choice, &v.CastBy, &v.CastAt); err != nil {
			return nil, err
		}
		votes = append(votes, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return votes, nil
}

// scanAuditEntry scans a single row into a model.AuditEntry.
// The row must contain columns in the order defined by auditColumns.
func scanAuditEntry(row scannable) (*model.AuditEntry, error) {
	var e model.AuditEntry
	var (
		actorRole sql.NullString
		payload   []byte
	)
	err := row.Scan(
		&e.ID,
		&e.DealID,
		&e.Seq,
		&e.Kind,
		&e.Gate,
		&e.Actor,
		&actorRole,
		&payload,
		&e.PayloadHash,
		&e.PrevHash,
		&e.EntryHash,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.ActorRole = actorRole.String
	if len(payload) > 0 {
		e.Payload = json.RawMessage(payload)
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

func scanAuditEntries(rows *sql.Rows) ([]*model.AuditEntry, error) {
	var entries []*model.AuditEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// nullTimePtr converts a *time.Time to a sql.NullTime.
func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullString converts an empty string to a NULL sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// jsonbBytes returns nil for empty JSON so the column stores NULL.
func jsonbBytes(m json.RawMessage) []byte {
	if len(m) == 0 {
		return nil
	}
	return []byte(m)
}

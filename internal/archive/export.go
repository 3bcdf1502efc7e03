// Package archive exports the audit trail as JSONL and ships it to
// off-box destinations on a schedule.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/alfredjeanlab/icgate/internal/audit"
	"github.com/alfredjeanlab/icgate/internal/model"
	"github.com/alfredjeanlab/icgate/internal/store"
)

// FormatVersion is written into every export header.
const FormatVersion = "1"

// Header is the first JSONL record of an export.
type Header struct {
	Version    string    `json:"version"`
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	DealCount  int       `json:"deal_count"`
	EntryCount int       `json:"entry_count"`
}

// DealRecord precedes a deal's audit entries and carries the result of
// verifying its chain at export time.
type DealRecord struct {
	Deal       *model.Deal `json:"deal"`
	Entries    int         `json:"entries"`
	HeadHash   string      `json:"head_hash,omitempty"`
	ChainValid bool        `json:"chain_valid"`
	BrokenSeq  int64       `json:"broken_seq,omitempty"`
}

type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ExportJSONL writes every deal and its full audit history to w. Deals
// are ordered by id and entries by sequence, so two exports of the same
// store are byte-identical apart from the header timestamp.
func ExportJSONL(ctx context.Context, s store.Store, w io.Writer, now time.Time) error {
	deals, err := s.ListDeals(ctx, model.DealFilter{})
	if err != nil {
		return fmt.Errorf("list deals: %w", err)
	}
	slices.SortFunc(deals, func(a, b *model.Deal) int { return strings.Compare(a.ID, b.ID) })

	histories := make([][]*model.AuditEntry, len(deals))
	total := 0
	for i, d := range deals {
		entries, err := s.ListAudit(ctx, d.ID, model.AuditFilter{})
		if err != nil {
			return fmt.Errorf("list audit for %s: %w", d.ID, err)
		}
		histories[i] = entries
		total += len(entries)
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(Header{
		Version:    FormatVersion,
		Type:       "header",
		Timestamp:  now.UTC(),
		DealCount:  len(deals),
		EntryCount: total,
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	for i, d := range deals {
		report := audit.Verify(histories[i])
		rec := DealRecord{
			Deal:       d,
			Entries:    report.Entries,
			HeadHash:   report.HeadHash,
			ChainValid: report.Valid,
			BrokenSeq:  report.BrokenSeq,
		}
		if err := enc.Encode(record{Type: "deal", Data: rec}); err != nil {
			return fmt.Errorf("encode deal %s: %w", d.ID, err)
		}
		for _, e := range histories[i] {
			if err := enc.Encode(record{Type: "audit", Data: e}); err != nil {
				return fmt.Errorf("encode audit %s#%d: %w", d.ID, e.Seq, err)
			}
		}
	}
	return nil
}

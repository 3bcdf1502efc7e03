package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/icgate/internal/model"
)

// Canonical encodes v as JSON with sorted object keys and no insignificant
// whitespace. Raw JSON input is re-encoded so that bytes read back from a
// store that reorders keys (Postgres JSONB) hash the same as when written.
// A nil payload encodes as an empty object.
func Canonical(v any) (json.RawMessage, error) {
	var raw []byte
	switch p := v.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encoding payload: %w", err)
		}
		raw = b
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage("{}"), nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	// encoding/json sorts map keys.
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	return out, nil
}

// HashPayload returns the hex sha256 of the canonical form of raw.
func HashPayload(raw json.RawMessage) string {
	if c, err := Canonical(raw); err == nil {
		raw = c
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// HashEntry computes the chained hash of e from its PrevHash and content.
func HashEntry(e *model.AuditEntry) string {
	fields := []string{
		e.PrevHash,
		strconv.FormatInt(e.Seq, 10),
		e.DealID,
		string(e.Kind),
		string(e.Gate),
		e.Actor,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
		e.PayloadHash,
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(sum[:])
}

// Report is the result of checking a deal's chain.
type Report struct {
	DealID    string `json:"deal_id"`
	Entries   int    `json:"entries"`
	Valid     bool   `json:"valid"`
	BrokenSeq int64  `json:"broken_seq,omitempty"`
	Problem   string `json:"problem,omitempty"`
	HeadHash  string `json:"head_hash,omitempty"`
}

// Verify recomputes the chain over a deal's complete history, starting at
// sequence 1, and reports the first entry that does not check out.
func Verify(entries []*model.AuditEntry) Report {
	r := Report{Entries: len(entries), Valid: true}
	if len(entries) > 0 {
		r.DealID = entries[0].DealID
	}

	var prev string
	var lastSeq int64
	for _, e := range entries {
		problem := ""
		switch {
		case e.DealID != r.DealID:
			problem = fmt.Sprintf("entry belongs to deal %s", e.DealID)
		case e.Seq != lastSeq+1:
			problem = fmt.Sprintf("sequence gap: expected %d", lastSeq+1)
		case e.PrevHash != prev:
			problem = "previous hash does not match chain"
		case e.PayloadHash != HashPayload(e.Payload):
			problem = "payload hash mismatch"
		case e.EntryHash != HashEntry(e):
			problem = "entry hash mismatch"
		}
		if problem != "" {
			r.Valid = false
			r.BrokenSeq = e.Seq
			r.Problem = problem
			return r
		}
		prev = e.EntryHash
		lastSeq = e.Seq
	}
	r.HeadHash = prev
	return r
}

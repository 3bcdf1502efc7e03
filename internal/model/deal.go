package model

import "time"

// Deal is an asset moving through the approval gates. It owns exactly one
// live gate state; earlier states are only recoverable from the audit log.
type Deal struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	CurrentGate Gate      `json:"current_gate"`
	EnteredAt   time.Time `json:"entered_at"`
	Terminal    bool      `json:"terminal"`
	CreatedAt   time.Time `json:"created_at"`
	CreatedBy   string    `json:"created_by,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Clone returns a shallow copy of the deal.
func (d *Deal) Clone() *Deal {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

// DealFilter narrows ListDeals results.
type DealFilter struct {
	Gates    []Gate `json:"gates,omitempty"`
	Terminal *bool  `json:"terminal,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

// Actor is the already-authenticated identity behind a command.
type Actor struct {
	ID   string `json:"id"`
	Role string `json:"role,omitempty"`
}

// String returns the actor id, annotated with the role when present.
func (a Actor) String() string {
	if a.Role == "" {
		return a.ID
	}
	return a.ID + " (" + a.Role + ")"
}

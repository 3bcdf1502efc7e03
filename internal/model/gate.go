package model

import (
	"fmt"
	"strings"
)

// Gate is one stage of the investment-committee approval sequence.
type Gate string

const (
	GateScreen Gate = "screen"
	GateIOI    Gate = "ioi"
	GateLOI    Gate = "loi"
	GateIC1    Gate = "ic1"
	GateIC2    Gate = "ic2"
	GateClose  Gate = "close"
)

// AllGates lists every gate in approval order.
var AllGates = []Gate{GateScreen, GateIOI, GateLOI, GateIC1, GateIC2, GateClose}

var gateDisplay = map[Gate]string{
	GateScreen: "Screen",
	GateIOI:    "IOI",
	GateLOI:    "LOI",
	GateIC1:    "IC1",
	GateIC2:    "IC2",
	GateClose:  "Close",
}

// String returns the string representation of the gate.
func (g Gate) String() string {
	return string(g)
}

// DisplayName returns the human-facing name ("IOI", "Close", ...).
func (g Gate) DisplayName() string {
	if d, ok := gateDisplay[g]; ok {
		return d
	}
	return string(g)
}

// IsValid checks whether the gate is a known value.
func (g Gate) IsValid() bool {
	return g.Index() >= 0
}

// Index returns the position of the gate in AllGates, or -1 if unknown.
func (g Gate) Index() int {
	for i, x := range AllGates {
		if x == g {
			return i
		}
	}
	return -1
}

// Next returns the immediate successor. ok is false for Close and unknown gates.
func (g Gate) Next() (Gate, bool) {
	i := g.Index()
	if i < 0 || i+1 >= len(AllGates) {
		return "", false
	}
	return AllGates[i+1], true
}

// Prev returns the immediate predecessor. ok is false for Screen and unknown gates.
func (g Gate) Prev() (Gate, bool) {
	i := g.Index()
	if i <= 0 {
		return "", false
	}
	return AllGates[i-1], true
}

// Before reports whether g comes strictly before other in approval order.
func (g Gate) Before(other Gate) bool {
	return g.Index() < other.Index()
}

// IsTerminal reports whether the gate ends the lifecycle.
func (g Gate) IsTerminal() bool {
	return g == GateClose
}

// ParseGate accepts either the wire value ("ioi") or the display name ("IOI").
func ParseGate(s string) (Gate, error) {
	g := Gate(strings.ToLower(strings.TrimSpace(s)))
	if !g.IsValid() {
		return "", fmt.Errorf("unknown gate %q", s)
	}
	return g, nil
}

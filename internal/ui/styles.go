package ui

import (
	"fmt"
	"strings"

	"github.com/alfredjeanlab/icgate/internal/model"
)

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent = 74  // blue
	colorCmd    = 250 // light gray
	colorMuted  = 245 // medium gray
	colorPass   = 114 // green
	colorFail   = 203 // red
	colorWait   = 179 // amber
)

var noColor bool

func paint(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return paint(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return paint(colorMuted, s) }

// RenderCommand returns s styled as a command name (light gray).
func RenderCommand(s string) string { return paint(colorCmd, s) }

// RenderGateTrack draws the gate sequence with the current gate
// highlighted and passed gates muted, e.g. "Screen > [IOI] > LOI ...".
func RenderGateTrack(current model.Gate) string {
	parts := make([]string, len(model.AllGates))
	for i, g := range model.AllGates {
		name := g.DisplayName()
		switch {
		case g == current:
			parts[i] = paint(colorAccent, "["+name+"]")
		case g.Before(current):
			parts[i] = paint(colorMuted, name)
		default:
			parts[i] = name
		}
	}
	return strings.Join(parts, " > ")
}

// RenderOutcome colors a quorum outcome status.
func RenderOutcome(s model.OutcomeStatus) string {
	switch s {
	case model.OutcomeApproved:
		return paint(colorPass, string(s))
	case model.OutcomeRejected:
		return paint(colorFail, string(s))
	default:
		return paint(colorWait, string(s))
	}
}

// RenderChoice colors a vote choice.
func RenderChoice(c model.VoteChoice) string {
	switch c {
	case model.ChoiceApprove:
		return paint(colorPass, string(c))
	case model.ChoiceReject:
		return paint(colorFail, string(c))
	default:
		return paint(colorMuted, string(c))
	}
}

// RenderCheck renders a pass/fail mark.
func RenderCheck(ok bool) string {
	if ok {
		return paint(colorPass, "✓")
	}
	return paint(colorFail, "✗")
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}

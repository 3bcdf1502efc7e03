package ui

import (
	"os"
	"strings"

	"golang.org/x/term"
)

// ShouldUseColor reports whether stdout gets ANSI colors.
func ShouldUseColor() bool {
	return ColorFor(os.Stdout)
}

// ColorFor decides color for f. ICGATE_COLOR=always|never overrides
// everything except NO_COLOR; otherwise CLICOLOR_FORCE, CLICOLOR and
// TTY detection apply in that order.
func ColorFor(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(os.Getenv("ICGATE_COLOR"))) {
	case "always":
		return true
	case "never":
		return false
	}
	if strings.TrimSpace(os.Getenv("CLICOLOR_FORCE")) == "1" {
		return true
	}
	if strings.TrimSpace(os.Getenv("CLICOLOR")) == "0" {
		return false
	}
	return f != nil && term.IsTerminal(int(f.Fd()))
}

package main

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/icgate/internal/model"
	"github.com/alfredjeanlab/icgate/internal/ui"
)

var (
	// Section titles such as "Gates:" or "Flags:".
	reSection = regexp.MustCompile(`(?m)^([A-Z][^\n]*:)\s*$`)

	// Subcommand rows in a command listing.
	reSubcommand = regexp.MustCompile(`(?m)^(  )([a-z][\w-]*)(  )`)

	reFlagValue = regexp.MustCompile(`(--?[\w-]+\s+)(string|strings|int|int64|duration|stringSlice)\b`)

	reDefault = regexp.MustCompile(`\(default (?:"[^"]*"|[^)]*)\)`)

	// Gate display names ("IOI", "IC1", ...) in descriptions.
	reGateName = gateNamePattern()
)

func gateNamePattern() *regexp.Regexp {
	names := make([]string, 0, len(model.AllGates))
	for _, g := range model.AllGates {
		names = append(names, regexp.QuoteMeta(g.DisplayName()))
	}
	return regexp.MustCompile(`\b(` + strings.Join(names, "|") + `)\b`)
}

// colorizedHelpFunc renders cobra's usage text, colored when the output
// supports it.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, _ []string) {
		if noColor || !ui.ShouldUseColor() {
			_ = cmd.Usage()
			return
		}
		out := cmd.OutOrStdout()
		var buf bytes.Buffer
		cmd.SetOut(&buf)
		_ = cmd.Usage()
		cmd.SetOut(out)
		fmt.Fprint(out, colorizeHelpOutput(buf.String()))
	}
}

// colorizeHelpOutput styles one help text line by line. Gate names are
// highlighted only outside section titles.
func colorizeHelpOutput(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if reSection.MatchString(line) {
			lines[i] = ui.RenderAccent(strings.TrimSpace(line))
			continue
		}
		line = reSubcommand.ReplaceAllStringFunc(line, func(m string) string {
			p := reSubcommand.FindStringSubmatch(m)
			return p[1] + ui.RenderCommand(p[2]) + p[3]
		})
		line = reFlagValue.ReplaceAllStringFunc(line, func(m string) string {
			p := reFlagValue.FindStringSubmatch(m)
			return p[1] + ui.RenderMuted(p[2])
		})
		line = reDefault.ReplaceAllStringFunc(line, ui.RenderMuted)
		lines[i] = reGateName.ReplaceAllStringFunc(line, ui.RenderAccent)
	}
	return strings.Join(lines, "\n")
}

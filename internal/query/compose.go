package query

import (
	"fmt"
	"strings"

	"holodex/internal/intent"
)

// section headers in their fixed output order
const (
	sectionIntent   = "[INTENT]"
	sectionFindings = "[FINDINGS]"
	sectionHealth   = "[HEALTH/ALERTS]"
	sectionActions  = "[NEXT ACTIONS]"
)

// narrowIntents get the line cap. GENERAL fans out to every
// component, so it runs with a doubled cap rather than no cap at
// all; only RESEARCH output is unbounded.
var narrowIntents = map[intent.Intent]bool{
	intent.CodeLocation: true,
	intent.DocLookup:    true,
	intent.ModuleHealth: true,
}

type composer struct {
	// lineCap bounds content lines (headers excluded) for narrow
	// intents; 0 disables the cap
	lineCap int
}

// compose renders the four sections in fixed order. Empty sections
// are omitted entirely rather than rendered as bare headers.
func (c *composer) compose(res *Result) string {
	limit := 0
	if c.lineCap > 0 {
		switch {
		case narrowIntents[res.Intent]:
			limit = c.lineCap
		case res.Intent == intent.General:
			limit = 2 * c.lineCap
		}
	}

	var b strings.Builder
	remaining := limit

	writeSection := func(header string, lines []string) {
		lines = dedupeLines(lines)
		if limit > 0 {
			if remaining <= 0 {
				return
			}
			if len(lines) > remaining {
				lines = lines[:remaining]
			}
			remaining -= len(lines)
		}
		if len(lines) == 0 {
			return
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(header)
		b.WriteString("\n")
		for _, line := range lines {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	intentLines := []string{
		fmt.Sprintf("%s (confidence %.2f)", res.Intent, res.Confidence),
	}
	writeSection(sectionIntent, intentLines)
	writeSection(sectionFindings, res.Findings)
	writeSection(sectionHealth, res.Alerts)
	writeSection(sectionActions, res.Actions)

	return strings.TrimRight(b.String(), "\n")
}

// dedupeLines collapses exact duplicates into one line with a count
// suffix, preserving first-occurrence order
func dedupeLines(lines []string) []string {
	counts := make(map[string]int, len(lines))
	var order []string
	for _, line := range lines {
		if counts[line] == 0 {
			order = append(order, line)
		}
		counts[line]++
	}
	out := make([]string, 0, len(order))
	for _, line := range order {
		if n := counts[line]; n > 1 {
			out = append(out, fmt.Sprintf("%s (x%d)", line, n))
		} else {
			out = append(out, line)
		}
	}
	return out
}

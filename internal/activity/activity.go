// Package activity encodes and decodes per-ticket activity logs. A log is
// a single append-only markdown document; entries are self-delimited blocks
// and are never edited or removed individually.
package activity

import (
	"fmt"
	"strings"
	"time"

	"github.com/taskforce-io/taskforce/pkg/board"
)

// markers are the header glyphs per entry type. Unknown types fall back to
// the note glyph.
var markers = map[board.EntryType]string{
	board.EntryCreated:   "🟢",
	board.EntryClaimed:   "🔵",
	board.EntryUpdate:    "🟡",
	board.EntryBlocked:   "🔴",
	board.EntryCompleted: "✅",
	board.EntryNote:      "📝",
}

// Render produces one log block: a marker header with the upper-cased type
// and timestamp, agent and message lines, an optional details section, and
// a horizontal rule. The output appends cleanly after any prior block.
func Render(entryType board.EntryType, agent, message, details string, now time.Time) string {
	marker, ok := markers[entryType]
	if !ok {
		marker = markers[board.EntryNote]
	}

	lines := []string{
		fmt.Sprintf("## %s %s — %s", marker, strings.ToUpper(string(entryType)), now.UTC().Format(time.RFC3339)),
		"**Agent:** " + agent,
		"**Message:** " + message,
	}
	if details != "" {
		lines = append(lines, "**Details:**\n"+details)
	}
	lines = append(lines, "---", "")
	return strings.Join(lines, "\n") + "\n"
}

// LineKind tags a decoded log line for display purposes.
type LineKind string

const (
	LineHeading LineKind = "heading" // entry header ("## ...")
	LineLabel   LineKind = "label"   // bold label ("**Agent:** ...")
	LineRule    LineKind = "rule"    // horizontal rule
	LineBlank   LineKind = "blank"
	LineText    LineKind = "text" // anything else, passed through
)

// Line is one display-oriented line of a decoded log.
type Line struct {
	Kind LineKind `json:"kind"`
	Text string   `json:"text"`
}

// Parse splits a log document into display lines. The mapping is one-way:
// it reconstructs visual structure but is never parsed back into entries.
func Parse(text string) []Line {
	if text == "" {
		return nil
	}
	raw := strings.Split(text, "\n")
	lines := make([]Line, 0, len(raw))
	for _, l := range raw {
		switch {
		case strings.HasPrefix(l, "## "):
			lines = append(lines, Line{Kind: LineHeading, Text: strings.TrimPrefix(l, "## ")})
		case strings.HasPrefix(l, "**"):
			lines = append(lines, Line{Kind: LineLabel, Text: l})
		case l == "---":
			lines = append(lines, Line{Kind: LineRule})
		case l == "":
			lines = append(lines, Line{Kind: LineBlank})
		default:
			lines = append(lines, Line{Kind: LineText, Text: l})
		}
	}
	return lines
}

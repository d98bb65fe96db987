package persona

import (
	"regexp"
	"strings"

	"github.com/normanking/concierge/internal/agents"
)

// ═══════════════════════════════════════════════════════════════════════════════
// HAND-OFF MARKERS
// ═══════════════════════════════════════════════════════════════════════════════

// markerPrefix opens a hand-off marker: [HANDOFF:<agent>:<reason>].
const markerPrefix = "[HANDOFF:"

// maxMarkerLength caps how much text the stream filter holds back while
// waiting for a marker to close.
const maxMarkerLength = 256

var markerPattern = regexp.MustCompile(`(?i)\[HANDOFF:\s*([A-Za-z_]+)\s*(?::\s*([^\]]*))?\]`)

// Handoff is a specialist's request that another agent continue.
type Handoff struct {
	From   agents.Agent `json:"from"`
	To     agents.Agent `json:"to"`
	Reason string       `json:"reason"`
}

// DetectHandoff finds the first hand-off marker in content naming a known
// agent. Every marker is removed from the returned text.
func DetectHandoff(content string) (*Handoff, string) {
	matches := markerPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil, content
	}

	var h *Handoff
	for _, m := range matches {
		if to, ok := agents.Parse(m[1]); ok {
			h = &Handoff{To: to, Reason: strings.TrimSpace(m[2])}
			break
		}
	}

	cleaned := markerPattern.ReplaceAllString(content, "")
	return h, strings.TrimSpace(cleaned)
}

// MarkerFilter removes hand-off markers from a stream of content deltas.
// Text that could be the start of a marker is held back until it either
// closes or proves not to be one. A MarkerFilter is not safe for concurrent use.
type MarkerFilter struct {
	pending strings.Builder
	markers []string
}

// Write accepts the next delta and returns the text safe to show now.
func (f *MarkerFilter) Write(delta string) string {
	f.pending.WriteString(delta)
	buf := f.pending.String()
	f.pending.Reset()

	var out strings.Builder
	for {
		idx := strings.IndexByte(buf, '[')
		if idx < 0 {
			out.WriteString(buf)
			return out.String()
		}
		out.WriteString(buf[:idx])
		rest := buf[idx:]

		upper := strings.ToUpper(rest)
		switch {
		case len(rest) < len(markerPrefix) && strings.HasPrefix(markerPrefix, upper):
			f.pending.WriteString(rest)
			return out.String()

		case strings.HasPrefix(upper, markerPrefix):
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				if len(rest) > maxMarkerLength {
					out.WriteString(rest)
					return out.String()
				}
				f.pending.WriteString(rest)
				return out.String()
			}
			f.markers = append(f.markers, rest[:end+1])
			buf = rest[end+1:]

		default:
			out.WriteByte('[')
			buf = rest[1:]
		}
	}
}

// Flush returns any held-back text that never became a complete marker.
func (f *MarkerFilter) Flush() string {
	s := f.pending.String()
	f.pending.Reset()
	return s
}

// Markers returns the complete markers removed so far.
func (f *MarkerFilter) Markers() []string {
	return append([]string(nil), f.markers...)
}

package tools

import (
	"sort"
	"strings"
	"time"
)

// DefaultTimeout applies to tools absent from the timeout table.
const DefaultTimeout = 10 * time.Second

// TimeoutTable resolves per-tool timeouts. Keys are exact tool names or
// "prefix*" patterns; exact names win, then the longest matching prefix.
type TimeoutTable struct {
	exact    map[string]time.Duration
	prefixes []prefixTimeout
	fallback time.Duration
}

type prefixTimeout struct {
	prefix  string
	timeout time.Duration
}

// NewTimeoutTable builds a table. A non-positive fallback becomes DefaultTimeout.
func NewTimeoutTable(entries map[string]time.Duration, fallback time.Duration) *TimeoutTable {
	if fallback <= 0 {
		fallback = DefaultTimeout
	}
	t := &TimeoutTable{exact: make(map[string]time.Duration), fallback: fallback}
	for name, d := range entries {
		if d <= 0 {
			continue
		}
		if strings.HasSuffix(name, "*") {
			t.prefixes = append(t.prefixes, prefixTimeout{prefix: strings.TrimSuffix(name, "*"), timeout: d})
			continue
		}
		t.exact[name] = d
	}
	sort.Slice(t.prefixes, func(i, j int) bool {
		return len(t.prefixes[i].prefix) > len(t.prefixes[j].prefix)
	})
	return t
}

// Lookup returns the timeout for a tool. Never zero.
func (t *TimeoutTable) Lookup(tool string) time.Duration {
	if d, ok := t.exact[tool]; ok {
		return d
	}
	for _, p := range t.prefixes {
		if strings.HasPrefix(tool, p.prefix) {
			return p.timeout
		}
	}
	return t.fallback
}

// Default returns the fallback timeout.
func (t *TimeoutTable) Default() time.Duration {
	return t.fallback
}

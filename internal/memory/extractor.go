// Package memory extracts durable facts about the user from a finished turn
// and stores them as memories. Extraction runs after the reply is delivered
// and never affects it.
package memory

import (
	"context"
	"regexp"
	"strings"
	"unicode"
)

// Categories used for extracted memories.
const (
	CategoryFact       = "fact"
	CategoryPreference = "preference"
	CategoryPerson     = "person"
	CategoryPlace      = "place"
)

// Turn is one completed exchange.
type Turn struct {
	UserID      string
	ThreadID    string
	Agent       string
	UserMessage string
	Response    string
}

// Fact is a candidate memory.
type Fact struct {
	Content    string  `yaml:"content" json:"content"`
	Category   string  `yaml:"category" json:"category"`
	Importance float64 `yaml:"importance" json:"importance"`
}

// Extractor finds facts worth remembering in a turn.
type Extractor interface {
	Extract(ctx context.Context, turn Turn) ([]Fact, error)
}

// ═══════════════════════════════════════════════════════════════════════════════
// HEURISTIC EXTRACTOR
// ═══════════════════════════════════════════════════════════════════════════════

type pattern struct {
	re         *regexp.Regexp
	category   string
	importance float64
	render     func(m []string) string
}

// clause stops at sentence punctuation.
const clause = `([^.!?\n]+)`

var patterns = []pattern{
	{
		re:       regexp.MustCompile(`(?i)\bremember (?:that )?` + clause),
		category: CategoryFact, importance: 0.9,
		render: func(m []string) string { return thirdPerson(m[1]) },
	},
	{
		re:       regexp.MustCompile(`(?i)\bmy name is ([\p{L}' -]+)`),
		category: CategoryPerson, importance: 0.9,
		render: func(m []string) string { return "User's name is " + strings.TrimSpace(m[1]) },
	},
	{
		re:       regexp.MustCompile(`(?i)\bi(?:'m| am) allergic to ` + clause),
		category: CategoryFact, importance: 0.9,
		render: func(m []string) string { return "User is allergic to " + strings.TrimSpace(m[1]) },
	},
	{
		re:       regexp.MustCompile(`(?i)\bi live in ` + clause),
		category: CategoryPlace, importance: 0.8,
		render: func(m []string) string { return "User lives in " + strings.TrimSpace(m[1]) },
	},
	{
		re:       regexp.MustCompile(`(?i)\bi work (at|for) ` + clause),
		category: CategoryFact, importance: 0.7,
		render: func(m []string) string { return "User works " + strings.ToLower(m[1]) + " " + strings.TrimSpace(m[2]) },
	},
	{
		re:       regexp.MustCompile(`(?i)\bmy favou?rite (\w+) is ` + clause),
		category: CategoryPreference, importance: 0.7,
		render: func(m []string) string {
			return "User's favorite " + strings.ToLower(m[1]) + " is " + strings.TrimSpace(m[2])
		},
	},
	{
		re:       regexp.MustCompile(`(?i)\bi (prefer|love|hate|don't like) ` + clause),
		category: CategoryPreference, importance: 0.6,
		render: func(m []string) string {
			verb := map[string]string{"prefer": "prefers", "love": "loves", "hate": "hates", "don't like": "doesn't like"}[strings.ToLower(m[1])]
			return "User " + verb + " " + strings.TrimSpace(m[2])
		},
	},
}

// minFactLength drops fragments too short to be useful.
const minFactLength = 10

// HeuristicExtractor recognises explicit self-statements in the user's
// message ("remember that...", "my name is...", "I live in..."). Questions
// are ignored.
type HeuristicExtractor struct{}

// NewHeuristicExtractor creates a heuristic extractor.
func NewHeuristicExtractor() *HeuristicExtractor { return &HeuristicExtractor{} }

// Extract implements Extractor.
func (h *HeuristicExtractor) Extract(_ context.Context, turn Turn) ([]Fact, error) {
	var facts []Fact
	for _, sentence := range splitSentences(turn.UserMessage) {
		if strings.HasSuffix(sentence, "?") {
			continue
		}
		for _, p := range patterns {
			m := p.re.FindStringSubmatch(sentence)
			if m == nil {
				continue
			}
			content := tidy(p.render(m))
			if len(content) < minFactLength {
				continue
			}
			facts = append(facts, Fact{Content: content, Category: p.category, Importance: p.importance})
			break
		}
	}
	return dedupe(facts), nil
}

var sentenceEnd = regexp.MustCompile(`[^.!?\n]+[.!?]?`)

func splitSentences(text string) []string {
	var out []string
	for _, s := range sentenceEnd.FindAllString(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

var firstPerson = []struct{ from, to string }{
	{"i'm ", "User is "},
	{"i am ", "User is "},
	{"i have ", "User has "},
	{"i ", "User "},
	{"my ", "User's "},
}

// thirdPerson rewrites a leading first-person subject.
func thirdPerson(s string) string {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	for _, fp := range firstPerson {
		if strings.HasPrefix(lower, fp.from) {
			return fp.to + s[len(fp.from):]
		}
	}
	return s
}

func tidy(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimRight(s, " ,;:")
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func dedupe(facts []Fact) []Fact {
	seen := make(map[string]bool, len(facts))
	out := facts[:0]
	for _, f := range facts {
		key := strings.ToLower(f.Content)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, f)
	}
	return out
}

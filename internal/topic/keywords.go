package topic

import (
	"sort"
	"strings"
	"unicode"
)

// MaxMessageKeywords is how many keywords are taken from a single message.
const MaxMessageKeywords = 5

// minKeywordLen drops short tokens ("it", "on", "a").
const minKeywordLen = 3

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true, "not": true,
	"you": true, "your": true, "yours": true, "all": true, "any": true, "can": true,
	"had": true, "her": true, "was": true, "one": true, "our": true, "out": true,
	"has": true, "have": true, "him": true, "his": true, "how": true, "its": true,
	"may": true, "new": true, "now": true, "old": true, "see": true, "two": true,
	"way": true, "who": true, "did": true, "get": true, "got": true, "let": true,
	"put": true, "say": true, "she": true, "too": true, "use": true, "that": true,
	"this": true, "with": true, "from": true, "they": true, "them": true, "then": true,
	"than": true, "what": true, "when": true, "where": true, "which": true, "while": true,
	"will": true, "would": true, "could": true, "should": true, "there": true, "their": true,
	"these": true, "those": true, "about": true, "into": true, "just": true, "like": true,
	"make": true, "more": true, "most": true, "much": true, "some": true, "such": true,
	"very": true, "been": true, "being": true, "were": true, "does": true, "doing": true,
	"also": true, "only": true, "over": true, "after": true, "before": true, "again": true,
	"here": true, "why": true, "want": true, "need": true, "please": true, "thanks": true,
	"thank": true, "know": true, "tell": true, "show": true, "give": true, "help": true,
	"okay": true, "yes": true, "yeah": true, "hey": true, "hello": true,
	"i'm": true, "it's": true, "what's": true, "don't": true, "can't": true, "let's": true,
	"something": true, "anything": true, "thing": true, "things": true, "really": true,
	"maybe": true, "other": true, "another": true, "going": true, "think": true,
}

// tokenize lowercases s and splits it into word tokens, keeping inner
// apostrophes so contractions can be matched against stopwords.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '_'
	})
}

// ExtractKeywords returns up to n keywords from msg: stopwords and short
// tokens removed, deduplicated, longest first. Ties keep the more frequent
// token, then the earlier one.
func ExtractKeywords(msg string, n int) []string {
	if n <= 0 {
		return nil
	}

	type candidate struct {
		word  string
		count int
		first int
	}
	seen := make(map[string]*candidate)
	var order []*candidate

	for i, tok := range tokenize(msg) {
		tok = strings.TrimSuffix(strings.Trim(tok, "'"), "'s")
		if len([]rune(tok)) < minKeywordLen || stopwords[tok] || isNumber(tok) {
			continue
		}
		if c, ok := seen[tok]; ok {
			c.count++
			continue
		}
		c := &candidate{word: tok, count: 1, first: i}
		seen[tok] = c
		order = append(order, c)
	}

	sort.SliceStable(order, func(i, j int) bool {
		li, lj := len([]rune(order[i].word)), len([]rune(order[j].word))
		if li != lj {
			return li > lj
		}
		if order[i].count != order[j].count {
			return order[i].count > order[j].count
		}
		return order[i].first < order[j].first
	})

	if len(order) > n {
		order = order[:n]
	}
	out := make([]string, len(order))
	for i, c := range order {
		out[i] = c.word
	}
	return out
}

func isNumber(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// related reports whether two keywords refer to the same thing, allowing
// simple inflections ("stock"/"stocks", "invest"/"investing").
func related(a, b string) bool {
	if a == b {
		return true
	}
	if len(a) < 4 || len(b) < 4 {
		return false
	}
	return strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}

// Overlap is the fraction of message keywords that relate to a topic keyword.
// Zero when the message has no keywords.
func Overlap(message, topic []string) float64 {
	if len(message) == 0 || len(topic) == 0 {
		return 0
	}
	hits := 0
	for _, m := range message {
		for _, t := range topic {
			if related(m, t) {
				hits++
				break
			}
		}
	}
	return float64(hits) / float64(len(message))
}

// mergeKeywords prepends fresh keywords to existing ones, deduplicated and
// capped at max.
func mergeKeywords(fresh, existing []string, max int) []string {
	out := make([]string, 0, max)
	seen := make(map[string]bool, max)
	for _, list := range [][]string{fresh, existing} {
		for _, k := range list {
			if seen[k] || len(out) >= max {
				continue
			}
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

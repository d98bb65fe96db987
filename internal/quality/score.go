// Package quality scores responses with surface heuristics, detects implicit
// feedback in the user's next message and tracks per-agent quality trends.
package quality

import (
	"math"
	"regexp"
	"strings"

	"github.com/normanking/concierge/internal/topic"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RESPONSE SCORING
// ═══════════════════════════════════════════════════════════════════════════════

// DefaultCacheThreshold is the overall score a response needs to be worth caching.
const DefaultCacheThreshold = 0.7

// Weights blends sub-scores into the overall score.
type Weights struct {
	Relevance    float64
	Completeness float64
	Clarity      float64
	Accuracy     float64
	Helpfulness  float64
}

// DefaultWeights sum to 1.
var DefaultWeights = Weights{
	Relevance:    0.25,
	Completeness: 0.20,
	Clarity:      0.15,
	Accuracy:     0.20,
	Helpfulness:  0.20,
}

// QualityScore is a heuristic assessment of one response. Every score is in [0,1].
type QualityScore struct {
	Overall      float64 `json:"overall"`
	Relevance    float64 `json:"relevance"`
	Completeness float64 `json:"completeness"`
	Clarity      float64 `json:"clarity"`
	// Accuracy is a proxy: the mean of relevance and completeness.
	Accuracy    float64 `json:"accuracy"`
	Helpfulness float64 `json:"helpfulness"`

	HasCode      bool `json:"hasCode"`
	HasCitations bool `json:"hasCitations"`
	IsStructured bool `json:"isStructured"`
	IsActionable bool `json:"isActionable"`

	// Feedback is the signed strength of the last applied feedback signal.
	Feedback float64 `json:"feedback,omitempty"`
}

// features are the surface properties the sub-scores reward.
type features struct {
	code, citations, structured, actionable bool
}

func detectFeatures(response, lower string) features {
	return features{
		code:       strings.Contains(response, "```") || strings.Count(response, "`") >= 2,
		citations:  citationPattern.MatchString(lower),
		structured: listPattern.MatchString(response) || headerPattern.MatchString(response),
		actionable: actionablePattern.MatchString(lower),
	}
}

var hedges = []string{
	"i think", "maybe", "perhaps", "might be", "possibly", "not sure",
	"i'm not certain", "it seems", "probably", "could be", "i believe", "i guess",
}

var (
	listPattern       = regexp.MustCompile(`(?m)^\s*(\d+[.)]|[-*•])\s+\S`)
	headerPattern     = regexp.MustCompile(`(?m)^#{1,6}\s+\S`)
	citationPattern   = regexp.MustCompile(`https?://|\[\d+\]|according to|source:`)
	actionablePattern = regexp.MustCompile(`\b(you can|you should|try|run|click|open|use|set|install|go to)\b`)
	sentenceSplit     = regexp.MustCompile(`[.!?]+\s+`)
)

// Score rates response as an answer to query using DefaultWeights.
func Score(response, query string) QualityScore {
	return ScoreWithWeights(response, query, DefaultWeights)
}

// ScoreWithWeights rates response with custom weights.
func ScoreWithWeights(response, query string, w Weights) QualityScore {
	response = strings.TrimSpace(response)
	if response == "" {
		return QualityScore{}
	}
	lower := strings.ToLower(response)
	f := detectFeatures(response, lower)

	s := QualityScore{
		Relevance:    relevance(lower, query),
		Completeness: completeness(response, f),
		Clarity:      clarity(lower),
		Helpfulness:  helpfulness(f),
		HasCode:      f.code,
		HasCitations: f.citations,
		IsStructured: f.structured,
		IsActionable: f.actionable,
	}
	s.Accuracy = (s.Relevance + s.Completeness) / 2
	s.Overall = clamp01(w.Relevance*s.Relevance +
		w.Completeness*s.Completeness +
		w.Clarity*s.Clarity +
		w.Accuracy*s.Accuracy +
		w.Helpfulness*s.Helpfulness)
	return s
}

// IsWorthCaching reports whether s clears threshold. A non-positive
// threshold uses DefaultCacheThreshold.
func IsWorthCaching(s QualityScore, threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultCacheThreshold
	}
	return s.Overall >= threshold
}

// relevance is the fraction of query keywords present in the response.
func relevance(lowerResponse, query string) float64 {
	keywords := topic.ExtractKeywords(query, 10)
	if len(keywords) == 0 {
		return 0.5
	}
	hits := 0
	for _, k := range keywords {
		stem := k
		if len(stem) > 5 {
			stem = stem[:len(stem)-2]
		}
		if strings.Contains(lowerResponse, stem) {
			hits++
		}
	}
	return float64(hits) / float64(len(keywords))
}

// completeness rewards a substantive length and visible structure.
func completeness(response string, f features) float64 {
	words := len(strings.Fields(response))
	var s float64
	switch {
	case words < 5:
		s = 0.2
	case words < 20:
		s = 0.5
	case words < 150:
		s = 0.8
	case words <= 600:
		s = 1.0
	default:
		s = 0.85
	}
	if f.structured || strings.Contains(response, "\n\n") {
		s += 0.1
	}
	return clamp01(s)
}

// clarity penalises hedging and very long sentences.
func clarity(lower string) float64 {
	s := 1.0
	for _, h := range hedges {
		s -= 0.1 * float64(strings.Count(lower, h))
	}

	sentences := sentenceSplit.Split(lower, -1)
	words := len(strings.Fields(lower))
	if len(sentences) > 0 && float64(words)/float64(len(sentences)) > 35 {
		s -= 0.1
	}
	return math.Max(0.2, clamp01(s))
}

// helpfulness rewards actionable, cited or code-bearing answers.
func helpfulness(f features) float64 {
	s := 0.4
	if f.structured || f.actionable {
		s += 0.2
	}
	if f.citations {
		s += 0.2
	}
	if f.code {
		s += 0.2
	}
	return clamp01(s)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

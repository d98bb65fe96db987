package quality

import (
	"strings"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════════
// FEEDBACK SIGNALS
// ═══════════════════════════════════════════════════════════════════════════════

// DefaultFollowupWindow is how soon a follow-up question counts as a signal.
const DefaultFollowupWindow = 2 * time.Minute

// feedbackWeight bounds how far one signal moves a score.
const feedbackWeight = 0.3

// FeedbackType says whether the user gave feedback on purpose.
type FeedbackType string

const (
	FeedbackExplicit FeedbackType = "explicit"
	FeedbackImplicit FeedbackType = "implicit"
)

// Signal is the direction of a feedback signal.
type Signal string

const (
	SignalPositive Signal = "positive"
	SignalNegative Signal = "negative"
	SignalNeutral  Signal = "neutral"
)

// Source is the cue a feedback signal was derived from.
type Source string

const (
	SourceThumbs     Source = "thumbs"
	SourceRegenerate Source = "regenerate"
	SourceFollowup   Source = "followup"
	SourceAbandon    Source = "abandon"
	SourceSentiment  Source = "sentiment"
)

// FeedbackSignal is evidence about how the previous response landed.
type FeedbackSignal struct {
	Type   FeedbackType `json:"type"`
	Signal Signal       `json:"signal"`
	Source Source       `json:"source"`
	// Strength is in [0,1]; Signal carries the direction.
	Strength  float64   `json:"strength"`
	Timestamp time.Time `json:"timestamp"`
	// Evidence is the phrase that triggered the signal.
	Evidence string `json:"evidence,omitempty"`
}

// IsPositive reports whether the signal is favourable.
func (s *FeedbackSignal) IsPositive() bool {
	return s != nil && s.Signal == SignalPositive
}

// Direction returns the strength signed by the signal's direction, in [-1,1].
// Neutral signals return 0.
func (s *FeedbackSignal) Direction() float64 {
	if s == nil {
		return 0
	}
	strength := clamp01(s.Strength)
	switch s.Signal {
	case SignalPositive:
		return strength
	case SignalNegative:
		return -strength
	default:
		return 0
	}
}

func implicitSignal(sig Signal, src Source, strength float64, evidence string) *FeedbackSignal {
	return &FeedbackSignal{
		Type:      FeedbackImplicit,
		Signal:    sig,
		Source:    src,
		Strength:  strength,
		Timestamp: time.Now(),
		Evidence:  evidence,
	}
}

var regeneratePhrases = []string{
	"try again", "regenerate", "redo that", "one more time", "that's not what i",
	"not what i asked", "doesn't answer", "didn't answer", "you misunderstood",
	"wrong answer", "start over",
}

var negativePhrases = []string{
	"that's wrong", "incorrect", "not helpful", "useless", "doesn't work",
	"didn't work", "not right", "no, that", "terrible", "that's bad", "not working",
}

var strongPositivePhrases = []string{
	"perfect", "exactly", "that worked", "awesome", "brilliant", "love it", "spot on",
}

var positivePhrases = []string{
	"thanks", "thank you", "great", "helpful", "nice", "cool", "good answer", "got it",
}

var questionStarts = []string{
	"what", "why", "how", "when", "where", "which", "who", "can", "could",
	"does", "do", "is", "are", "should", "would", "will",
}

// DetectImplicitFeedback inspects the user's next message for surface cues
// about prevResponse: regeneration requests, sentiment words and quick
// follow-up questions. It returns nil when there is no signal.
func DetectImplicitFeedback(next, prevResponse string, elapsed, followupWindow time.Duration) *FeedbackSignal {
	next = strings.ToLower(strings.TrimSpace(next))
	if next == "" || strings.TrimSpace(prevResponse) == "" {
		return nil
	}
	if followupWindow <= 0 {
		followupWindow = DefaultFollowupWindow
	}

	if p := findPhrase(next, regeneratePhrases); p != "" {
		return implicitSignal(SignalNegative, SourceRegenerate, 0.8, p)
	}
	if p := findPhrase(next, negativePhrases); p != "" {
		return implicitSignal(SignalNegative, SourceSentiment, 0.5, p)
	}
	if p := findPhrase(next, strongPositivePhrases); p != "" {
		return implicitSignal(SignalPositive, SourceSentiment, 0.8, p)
	}
	if p := findPhrase(next, positivePhrases); p != "" {
		return implicitSignal(SignalPositive, SourceSentiment, 0.5, p)
	}
	if elapsed >= 0 && elapsed <= followupWindow && isQuestion(next) {
		return implicitSignal(SignalNegative, SourceFollowup, 0.2, "quick follow-up question")
	}
	return nil
}

// ExplicitFeedback converts a thumbs up/down into a full-strength signal.
func ExplicitFeedback(positive bool) *FeedbackSignal {
	sig := &FeedbackSignal{
		Type:      FeedbackExplicit,
		Signal:    SignalNegative,
		Source:    SourceThumbs,
		Strength:  1,
		Timestamp: time.Now(),
		Evidence:  "thumbs down",
	}
	if positive {
		sig.Signal, sig.Evidence = SignalPositive, "thumbs up"
	}
	return sig
}

// AdjustScoreWithFeedback returns a copy of s moved toward 1 by a positive
// signal or toward 0 by a negative one, proportionally to the remaining
// headroom. The result stays in [0,1].
func AdjustScoreWithFeedback(s QualityScore, signal *FeedbackSignal) QualityScore {
	strength := signal.Direction()
	if strength == 0 {
		return s
	}

	out := s
	if strength > 0 {
		out.Overall = s.Overall + strength*feedbackWeight*(1-s.Overall)
	} else {
		out.Overall = s.Overall + strength*feedbackWeight*s.Overall
	}
	out.Overall = clamp01(out.Overall)
	out.Feedback = strength
	return out
}

func findPhrase(text string, phrases []string) string {
	padded := " " + strings.Join(strings.FieldsFunc(text, func(r rune) bool {
		return r == ' ' || r == ',' || r == '!' || r == '.' || r == '?' || r == '\n' || r == '\t'
	}), " ") + " "
	for _, p := range phrases {
		if strings.Contains(padded, " "+strings.ReplaceAll(p, ",", "")+" ") {
			return p
		}
	}
	return ""
}

func isQuestion(text string) bool {
	if strings.HasSuffix(text, "?") {
		return true
	}
	first := strings.Fields(text)
	if len(first) == 0 {
		return false
	}
	for _, q := range questionStarts {
		if first[0] == q {
			return true
		}
	}
	return false
}

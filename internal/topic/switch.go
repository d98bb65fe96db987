package topic

import "strings"

// DefaultContinuityThreshold is the keyword overlap above which a message is
// treated as continuing the current topic.
const DefaultContinuityThreshold = 0.3

// DefaultSwitchPhrases mark an explicit change of subject.
var DefaultSwitchPhrases = []string{
	"by the way",
	"btw",
	"another thing",
	"on another note",
	"on a different note",
	"different question",
	"unrelated",
	"switching gears",
	"change of topic",
	"changing the subject",
	"new topic",
	"quick question",
	"also, can you",
	"one more thing",
}

// Switch is the result of topic switch detection for an incoming message.
type Switch struct {
	// Switched is true when the message contains an explicit switch phrase.
	Switched bool `json:"switched"`
	// Phrase is the matched switch phrase.
	Phrase string `json:"phrase,omitempty"`
	// Continuation is true when there is no switch phrase and the keyword
	// overlap with the current topic exceeds the threshold.
	Continuation bool `json:"continuation"`
	// Overlap is the message/topic keyword overlap ratio.
	Overlap float64 `json:"overlap"`
	// Keywords extracted from the message.
	Keywords []string `json:"keywords,omitempty"`
}

// FindSwitchPhrase returns the first phrase present in message as a whole
// word sequence, or "".
func FindSwitchPhrase(message string, phrases []string) string {
	padded := " " + strings.Join(tokenize(message), " ") + " "
	for _, p := range phrases {
		norm := " " + strings.Join(tokenize(p), " ") + " "
		if strings.TrimSpace(norm) == "" {
			continue
		}
		if strings.Contains(padded, norm) {
			return p
		}
	}
	return ""
}

// DetectTopicSwitch compares an incoming message with the current topic.
func DetectTopicSwitch(message string, c *Context, phrases []string, threshold float64) Switch {
	sw := Switch{Keywords: ExtractKeywords(message, MaxMessageKeywords)}
	if phrase := FindSwitchPhrase(message, phrases); phrase != "" {
		sw.Switched = true
		sw.Phrase = phrase
	}
	if c.IsEmpty() {
		return sw
	}
	sw.Overlap = Overlap(sw.Keywords, c.Keywords)
	sw.Continuation = !sw.Switched && sw.Overlap > threshold
	return sw
}

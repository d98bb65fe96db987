package router

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/normanking/concierge/internal/agents"
)

// RuleKind selects how a rule's value is matched.
type RuleKind string

const (
	// KindKeyword matches a single whole word.
	KindKeyword RuleKind = "keyword"
	// KindPhrase matches a whole-word sequence.
	KindPhrase RuleKind = "phrase"
	// KindPattern matches a regular expression against the lowercased message.
	KindPattern RuleKind = "pattern"
)

// Rule claims messages for an agent.
type Rule struct {
	Agent agents.Agent `yaml:"agent"`
	Kind  RuleKind     `yaml:"kind"`
	Value string       `yaml:"value"`

	re *regexp.Regexp
}

// Keywords builds one keyword rule per word.
func Keywords(agent agents.Agent, words ...string) []Rule {
	out := make([]Rule, len(words))
	for i, w := range words {
		out[i] = Rule{Agent: agent, Kind: KindKeyword, Value: strings.ToLower(w)}
	}
	return out
}

// Phrases builds one phrase rule per phrase.
func Phrases(agent agents.Agent, phrases ...string) []Rule {
	out := make([]Rule, len(phrases))
	for i, p := range phrases {
		out[i] = Rule{Agent: agent, Kind: KindPhrase, Value: strings.ToLower(p)}
	}
	return out
}

// Pattern builds a regular-expression rule. It panics on an invalid
// expression, like regexp.MustCompile.
func Pattern(agent agents.Agent, expr string) Rule {
	return Rule{Agent: agent, Kind: KindPattern, Value: expr, re: regexp.MustCompile(expr)}
}

// DefaultPriority breaks ties when several agents match.
func DefaultPriority() []agents.Agent {
	return []agents.Agent{agents.Coding, agents.Research, agents.Scheduling, agents.Home, agents.Finance, agents.Image}
}

// DefaultRules returns the built-in vocabularies.
func DefaultRules() []Rule {
	var rules []Rule

	// Coding
	rules = append(rules, Keywords(agents.Coding,
		"code", "coding", "function", "functions", "bug", "bugs", "debug", "debugging",
		"compile", "compiler", "repo", "repository", "git", "github", "commit", "sql",
		"python", "golang", "javascript", "typescript", "java", "rust", "kotlin",
		"api", "endpoint", "refactor", "regex", "stacktrace", "traceback", "exception",
		"segfault", "docker", "kubernetes", "script", "programming", "algorithm",
		"json", "yaml", "html", "css", "dockerfile", "makefile",
	)...)
	rules = append(rules, Phrases(agents.Coding,
		"pull request", "stack trace", "unit test", "unit tests", "merge conflict",
		"code review", "null pointer", "syntax error",
	)...)
	rules = append(rules,
		Pattern(agents.Coding, "```"),
		Pattern(agents.Coding, `\b(write|create|generate|implement)\s+.{0,30}(function|class|method|script|program)\b`),
		Pattern(agents.Coding, `\berror:\s*`),
		Pattern(agents.Coding, `\bselect\s+[\w*,\s]+\s+from\s+\w+`),
		Pattern(agents.Coding, `\w+\.(go|py|js|ts|rs|java|rb|sql)\b`),
	)

	// Research
	rules = append(rules, Keywords(agents.Research,
		"research", "search", "weather", "forecast", "news", "explain", "history",
		"define", "definition", "wikipedia", "article", "articles", "paper", "papers",
		"sources", "summarize", "summarise", "population", "headlines",
	)...)
	rules = append(rules, Phrases(agents.Research,
		"look up", "find out", "who is", "who was", "tell me about", "how does",
		"latest news", "fact check",
	)...)

	// Scheduling
	rules = append(rules, Keywords(agents.Scheduling,
		"calendar", "schedule", "scheduled", "reschedule", "meeting", "meetings",
		"appointment", "appointments", "remind", "reminder", "reminders", "email",
		"emails", "inbox", "agenda", "deadline", "availability",
	)...)
	rules = append(rules, Phrases(agents.Scheduling,
		"set up a call", "book a", "free time", "block off",
	)...)
	rules = append(rules, Pattern(agents.Scheduling, `\bat\s+\d{1,2}(:\d{2})?\s*(am|pm)\b`))

	// Home automation
	rules = append(rules, Keywords(agents.Home,
		"light", "lights", "lamp", "lamps", "thermostat", "heating", "ac", "lock",
		"unlock", "locks", "door", "garage", "blinds", "curtains", "fan", "vacuum",
		"sprinkler", "dim", "brightness", "temperature",
	)...)
	rules = append(rules, Phrases(agents.Home,
		"turn on", "turn off", "switch on", "switch off", "living room", "bedroom",
		"front door",
	)...)
	rules = append(rules, Pattern(agents.Home, `\bset\s+(the\s+)?(heat|temperature|thermostat)\s+to\s+\d+`))

	// Finance
	rules = append(rules, Keywords(agents.Finance,
		"stock", "stocks", "portfolio", "budget", "budgets", "spending", "spend",
		"spent", "invest", "investing", "investment", "investments", "savings",
		"expense", "expenses", "crypto", "bitcoin", "dividend", "dividends",
		"market", "markets", "mortgage", "loan", "rebalance", "retirement", "401k",
		"ira", "taxes", "income", "salary", "finances",
	)...)
	rules = append(rules, Phrases(agents.Finance,
		"net worth", "credit card", "interest rate", "bank account",
	)...)
	rules = append(rules, Pattern(agents.Finance, `\$\d`))

	// Image generation
	rules = append(rules, Keywords(agents.Image,
		"draw", "drawing", "image", "picture", "illustration", "sketch", "logo",
		"render", "painting", "wallpaper",
	)...)
	rules = append(rules, Phrases(agents.Image, "generate an image", "make a picture")...)

	return rules
}

// Classification is the outcome of matching a message against rules.
type Classification struct {
	// Agent is the highest-priority matching agent, or "" when nothing matched.
	Agent agents.Agent
	// Candidates are all matching agents, highest priority first.
	Candidates []agents.Agent
	// Matches maps each matching agent to the rule values that fired.
	Matches map[agents.Agent][]string
}

// Matched reports whether any rule fired.
func (c Classification) Matched() bool {
	return c.Agent != ""
}

// Ambiguous reports whether more than one agent matched.
func (c Classification) Ambiguous() bool {
	return len(c.Candidates) > 1
}

// Classify matches message against rules. The first agent in priority order
// with a match wins; matching agents missing from priority rank after it in
// name order. Classify is pure and deterministic.
func Classify(message string, rules []Rule, priority []agents.Agent) Classification {
	lower := strings.ToLower(message)
	tokens := words(lower)
	tokenSet := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		tokenSet[t] = true
	}
	padded := " " + strings.Join(tokens, " ") + " "

	c := Classification{Matches: map[agents.Agent][]string{}}
	for _, r := range rules {
		if r.matches(lower, tokenSet, padded) {
			c.Matches[r.Agent] = append(c.Matches[r.Agent], r.Value)
		}
	}
	if len(c.Matches) == 0 {
		return c
	}

	rank := make(map[agents.Agent]int, len(priority))
	for i, a := range priority {
		rank[a] = i
	}
	for a := range c.Matches {
		c.Candidates = append(c.Candidates, a)
	}
	sort.Slice(c.Candidates, func(i, j int) bool {
		ri, iok := rank[c.Candidates[i]]
		rj, jok := rank[c.Candidates[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return c.Candidates[i] < c.Candidates[j]
		}
	})
	c.Agent = c.Candidates[0]
	return c
}

func (r Rule) matches(lower string, tokens map[string]bool, padded string) bool {
	switch r.Kind {
	case KindKeyword:
		return tokens[r.Value]
	case KindPhrase:
		norm := strings.Join(words(r.Value), " ")
		return norm != "" && strings.Contains(padded, " "+norm+" ")
	case KindPattern:
		re := r.re
		if re == nil {
			var err error
			if re, err = regexp.Compile(r.Value); err != nil {
				return false
			}
		}
		return re.MatchString(lower)
	default:
		return false
	}
}

// words lowercases s and splits it into word tokens, stripping possessives.
func words(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.TrimSuffix(strings.Trim(f, "'"), "'s")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

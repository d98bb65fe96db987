// Package enrich assembles the per-request context block appended to an
// agent's system prompt: local time, location, weather, stored memories and
// relevant documents. Every part is fetched independently; a failing part is
// logged and left empty.
package enrich

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/normanking/concierge/internal/config"
	"github.com/normanking/concierge/internal/data"
	"github.com/normanking/concierge/internal/topic"
)

// MemorySource returns a user's most important memories.
type MemorySource interface {
	TopMemories(ctx context.Context, userID string, minImportance float64, limit int) ([]*data.Memory, error)
}

// DocumentSource lists a user's documents.
type DocumentSource interface {
	ListDocuments(ctx context.Context, userID string, limit int) ([]*data.Document, error)
}

// documentScanLimit bounds how many documents are scored per request.
const documentScanLimit = 50

// Context is the assembled enrichment for one request.
type Context struct {
	Now       time.Time
	Location  string
	Weather   *Weather
	Memories  []*data.Memory
	Documents []*data.Document
}

// Enricher builds Contexts.
type Enricher struct {
	cfg       config.EnrichConfig
	loc       *time.Location
	weather   WeatherProvider
	memories  MemorySource
	documents DocumentSource
	memLimit  int
	docLimit  int
	now       func() time.Time
}

// Option configures an Enricher.
type Option func(*Enricher)

// WithWeather sets the weather provider.
func WithWeather(w WeatherProvider) Option {
	return func(e *Enricher) { e.weather = w }
}

// WithMemories sets the memory source and how many memories to include.
func WithMemories(src MemorySource, limit int) Option {
	return func(e *Enricher) {
		e.memories = src
		if limit > 0 {
			e.memLimit = limit
		}
	}
}

// WithDocuments sets the document source and how many documents to include.
func WithDocuments(src DocumentSource, limit int) Option {
	return func(e *Enricher) {
		e.documents = src
		if limit > 0 {
			e.docLimit = limit
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Enricher) { e.now = now }
}

// New creates an Enricher. Unknown timezones fall back to local time.
func New(cfg config.EnrichConfig, opts ...Option) *Enricher {
	loc := time.Local
	if cfg.Timezone != "" && cfg.Timezone != "Local" {
		if l, err := time.LoadLocation(cfg.Timezone); err == nil {
			loc = l
		} else {
			log.Warn().Err(err).Str("timezone", cfg.Timezone).Msg("unknown timezone, using local time")
		}
	}
	e := &Enricher{
		cfg:      cfg,
		loc:      loc,
		memLimit: 5,
		docLimit: 3,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Build gathers every part concurrently. It never fails; parts that error
// are logged and omitted.
func (e *Enricher) Build(ctx context.Context, userID, message string) *Context {
	out := &Context{
		Now:      e.now().In(e.loc),
		Location: e.cfg.Location,
	}

	var g errgroup.Group

	if e.weather != nil && (e.cfg.Latitude != 0 || e.cfg.Longitude != 0) {
		g.Go(func() error {
			w, err := e.weather.Current(ctx, e.cfg.Latitude, e.cfg.Longitude)
			if err != nil {
				log.Warn().Err(err).Msg("weather enrichment failed")
				return nil
			}
			out.Weather = w
			return nil
		})
	}

	if e.memories != nil && userID != "" {
		g.Go(func() error {
			mems, err := e.memories.TopMemories(ctx, userID, e.cfg.MemoryMinImportance, e.memLimit)
			if err != nil {
				log.Warn().Err(err).Str("user_id", userID).Msg("memory enrichment failed")
				return nil
			}
			out.Memories = mems
			return nil
		})
	}

	if e.documents != nil && userID != "" {
		g.Go(func() error {
			docs, err := e.documents.ListDocuments(ctx, userID, documentScanLimit)
			if err != nil {
				log.Warn().Err(err).Str("user_id", userID).Msg("document enrichment failed")
				return nil
			}
			out.Documents = RelevantDocuments(message, docs, e.cfg.DocumentMinRelevance, e.docLimit)
			return nil
		})
	}

	_ = g.Wait()
	return out
}

type scoredDoc struct {
	doc   *data.Document
	score float64
}

// RelevantDocuments keeps documents whose keyword overlap with message is at
// least minRelevance, best first, at most limit.
func RelevantDocuments(message string, docs []*data.Document, minRelevance float64, limit int) []*data.Document {
	msgKeywords := topic.ExtractKeywords(message, 10)
	if len(msgKeywords) == 0 || len(docs) == 0 {
		return nil
	}

	var scored []scoredDoc
	for _, d := range docs {
		docKeywords := topic.ExtractKeywords(d.Title+" "+d.Content, 30)
		s := topic.Overlap(msgKeywords, docKeywords)
		if s > 0 && s >= minRelevance {
			scored = append(scored, scoredDoc{doc: d, score: s})
		}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	out := make([]*data.Document, len(scored))
	for i, s := range scored {
		out[i] = s.doc
	}
	return out
}

// documentExcerpt bounds how much of a document reaches the prompt.
const documentExcerpt = 600

// Prompt renders the context block for the system prompt.
func (c *Context) Prompt() string {
	if c == nil {
		return ""
	}
	var sb strings.Builder

	sb.WriteString("## Context\n")
	sb.WriteString(fmt.Sprintf("- Current time: %s\n", c.Now.Format("Monday, January 2, 2006 15:04 MST")))
	if c.Location != "" {
		sb.WriteString(fmt.Sprintf("- Location: %s\n", c.Location))
	}
	if c.Weather != nil {
		sb.WriteString(fmt.Sprintf("- Weather: %s\n", c.Weather))
	}

	if len(c.Memories) > 0 {
		sb.WriteString("\n## What you know about the user\n")
		for _, m := range c.Memories {
			sb.WriteString("- ")
			sb.WriteString(m.Content)
			sb.WriteString("\n")
		}
	}

	if len(c.Documents) > 0 {
		sb.WriteString("\n## Relevant documents\n")
		for _, d := range c.Documents {
			sb.WriteString(fmt.Sprintf("### %s\n", d.Title))
			content := []rune(strings.TrimSpace(d.Content))
			if len(content) > documentExcerpt {
				content = append(content[:documentExcerpt], '…')
			}
			sb.WriteString(string(content))
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

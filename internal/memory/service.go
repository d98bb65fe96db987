package memory

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/normanking/concierge/internal/data"
)

// Sink stores memories.
type Sink interface {
	AddMemory(ctx context.Context, m *data.Memory) (bool, error)
}

// Service runs extractors over a turn and stores the results.
type Service struct {
	extractors []Extractor
	sink       Sink
}

// NewService creates a service. Extractors run in order; later duplicates
// of an earlier fact are skipped.
func NewService(sink Sink, extractors ...Extractor) *Service {
	if len(extractors) == 0 {
		extractors = []Extractor{NewHeuristicExtractor()}
	}
	return &Service{extractors: extractors, sink: sink}
}

// Process extracts and stores facts from turn. An extractor failure is
// logged and the others still run; it returns how many new memories were stored.
func (s *Service) Process(ctx context.Context, turn Turn) (int, error) {
	if turn.UserID == "" {
		return 0, nil
	}

	var facts []Fact
	for _, ex := range s.extractors {
		found, err := ex.Extract(ctx, turn)
		if err != nil {
			log.Warn().Err(err).Str("thread_id", turn.ThreadID).Msg("memory extractor failed")
			continue
		}
		facts = append(facts, found...)
	}
	facts = dedupe(facts)

	stored := 0
	for _, f := range facts {
		inserted, err := s.sink.AddMemory(ctx, &data.Memory{
			UserID:     turn.UserID,
			Content:    f.Content,
			Category:   f.Category,
			Importance: f.Importance,
		})
		if err != nil {
			return stored, fmt.Errorf("store memory: %w", err)
		}
		if inserted {
			stored++
		}
	}

	if stored > 0 {
		log.Info().
			Str("user_id", turn.UserID).
			Str("thread_id", turn.ThreadID).
			Int("stored", stored).
			Msg("memories extracted")
	}
	return stored, nil
}

package dedup

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rkgudboy/patient-data-extraction/internal/domain/patient"
)

// Engine decides whether submitted records duplicate stored ones. It holds no
// mutable state and is safe for concurrent use.
type Engine struct {
	retriever *Retriever
	cfg       Config
	metrics   *Metrics
	logger    zerolog.Logger
}

// NewEngine creates an Engine reading from store. metrics may be nil.
func NewEngine(store patient.RecordStore, cfg Config, metrics *Metrics, logger zerolog.Logger) *Engine {
	return &Engine{
		retriever: NewRetriever(store, cfg.StoreTimeout, cfg.CandidateLimit, metrics),
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger.With().Str("component", "dedup").Logger(),
	}
}

// AnalyzeDuplicates looks up exact duplicates of r, suggests near-identical
// stored names and validates r against its country rules. Duplicate detection
// and validation are independent signals.
func (e *Engine) AnalyzeDuplicates(ctx context.Context, r *patient.Record) (*patient.DuplicateAnalysisResult, error) {
	if r == nil {
		e.metrics.observeOperation("analyze", "invalid")
		return nil, fmt.Errorf("%w: record is required", ErrInvalidInput)
	}

	duplicates, err := e.retriever.ExactLookup(ctx, r)
	if err != nil {
		e.metrics.observeOperation("analyze", "store_unavailable")
		e.logger.Warn().Err(err).Str("country", string(r.Country)).Msg("duplicate analysis failed")
		return nil, err
	}

	result := &patient.DuplicateAnalysisResult{
		IsDuplicate:      len(duplicates) > 0,
		Duplicates:       nonNil(duplicates),
		Suggestions:      []patient.FieldSuggestion{},
		ValidationErrors: patient.Validate(r),
	}
	for _, d := range duplicates {
		sim := NameSimilarity(r.Name, d.Name)
		if sim > e.cfg.SuggestionThreshold {
			result.Suggestions = append(result.Suggestions, patient.FieldSuggestion{
				Field:          "name",
				SuggestedValue: d.Name,
				Confidence:     sim,
			})
		}
	}

	outcome := "unique"
	if result.IsDuplicate {
		outcome = "duplicate"
	}
	e.metrics.observeOperation("analyze", outcome)
	e.logger.Debug().
		Str("country", string(r.Country)).
		Int("duplicates", len(result.Duplicates)).
		Int("suggestions", len(result.Suggestions)).
		Int("validation_errors", len(result.ValidationErrors)).
		Msg("duplicate analysis complete")
	return result, nil
}

// FindMatches returns exact matches and broad-lookup candidates scoring above
// the partial match threshold, best first. Candidates with equal scores keep
// the store's order. A failure of either lookup fails the whole call.
func (e *Engine) FindMatches(ctx context.Context, r *patient.Record) (*patient.MatchResult, error) {
	if r == nil || (strings.TrimSpace(r.Name) == "" && !r.HasIdentifiers()) {
		e.metrics.observeOperation("match", "invalid")
		return nil, fmt.Errorf("%w: record needs a name or at least one identifier", ErrInvalidInput)
	}

	exact, err := e.retriever.ExactLookup(ctx, r)
	if err != nil {
		e.metrics.observeOperation("match", "store_unavailable")
		return nil, err
	}

	exclude := make([]uuid.UUID, 0, len(exact))
	seen := make(map[uuid.UUID]struct{}, len(exact))
	for _, m := range exact {
		exclude = append(exclude, m.ID)
		seen[m.ID] = struct{}{}
	}

	candidates, err := e.retriever.BroadLookup(ctx, r, exclude)
	if err != nil {
		e.metrics.observeOperation("match", "store_unavailable")
		return nil, err
	}

	partial := []patient.MatchCandidate{}
	for _, c := range candidates {
		if _, dup := seen[c.ID]; dup {
			continue
		}
		score := OverallScore(*r, c)
		if score > e.cfg.PartialMatchThreshold {
			partial = append(partial, patient.MatchCandidate{Record: c, Score: score})
		}
	}
	sort.SliceStable(partial, func(i, j int) bool {
		return partial[i].Score > partial[j].Score
	})

	e.metrics.observeOperation("match", "ok")
	e.metrics.observePartialMatches(len(partial))
	e.logger.Debug().
		Int("exact_matches", len(exact)).
		Int("candidates", len(candidates)).
		Int("partial_matches", len(partial)).
		Msg("match search complete")

	return &patient.MatchResult{
		ExactMatches:   nonNil(exact),
		PartialMatches: partial,
	}, nil
}

func nonNil(records []patient.StoredRecord) []patient.StoredRecord {
	if records == nil {
		return []patient.StoredRecord{}
	}
	return records
}

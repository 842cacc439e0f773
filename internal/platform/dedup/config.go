package dedup

import (
	"fmt"
	"time"
)

// Config tunes the engine. The zero value is not usable; start from
// DefaultConfig.
type Config struct {
	// PartialMatchThreshold is the score a broad-lookup candidate must exceed
	// to be reported as a partial match.
	PartialMatchThreshold float64
	// SuggestionThreshold is the name similarity a duplicate must exceed for
	// its name to be offered as a suggestion.
	SuggestionThreshold float64
	// CandidateLimit caps the broad lookup result size.
	CandidateLimit int
	// StoreTimeout bounds every individual store call.
	StoreTimeout time.Duration
	// BatchConcurrency bounds the number of records analyzed at once by
	// AnalyzeBatch.
	BatchConcurrency int
}

func DefaultConfig() Config {
	return Config{
		PartialMatchThreshold: 0.5,
		SuggestionThreshold:   0.8,
		CandidateLimit:        50,
		StoreTimeout:          5 * time.Second,
		BatchConcurrency:      4,
	}
}

func (c Config) Validate() error {
	if c.PartialMatchThreshold < 0 || c.PartialMatchThreshold > 1 {
		return fmt.Errorf("partial match threshold must be within [0,1], got %v", c.PartialMatchThreshold)
	}
	if c.SuggestionThreshold < 0 || c.SuggestionThreshold > 1 {
		return fmt.Errorf("suggestion threshold must be within [0,1], got %v", c.SuggestionThreshold)
	}
	if c.CandidateLimit <= 0 {
		return fmt.Errorf("candidate limit must be positive, got %d", c.CandidateLimit)
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("store timeout must be positive, got %s", c.StoreTimeout)
	}
	if c.BatchConcurrency <= 0 {
		return fmt.Errorf("batch concurrency must be positive, got %d", c.BatchConcurrency)
	}
	return nil
}

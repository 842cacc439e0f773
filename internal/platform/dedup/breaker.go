package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/rkgudboy/patient-data-extraction/internal/domain/patient"
)

// BreakerConfig configures the circuit breaker guarding the record store.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the circuit.
	MaxFailures uint32
	// OpenTimeout is how long the circuit stays open before probing again.
	OpenTimeout time.Duration
	// HalfOpenMaxRequests is the number of probe requests allowed while half-open.
	HalfOpenMaxRequests uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures:         5,
		OpenTimeout:         30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// BreakerStore wraps a RecordStore so that a failing store is reported as
// unavailable immediately instead of every request waiting out the timeout.
type BreakerStore struct {
	store   patient.RecordStore
	breaker *gobreaker.CircuitBreaker
}

const breakerName = "record-store"

func NewBreakerStore(store patient.RecordStore, cfg BreakerConfig, metrics *Metrics, logger zerolog.Logger) *BreakerStore {
	settings := gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: cfg.HalfOpenMaxRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		// A caller giving up is not a store fault.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.setBreakerOpen(name, to == gobreaker.StateOpen)
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("record store circuit breaker state changed")
		},
	}
	metrics.setBreakerOpen(breakerName, false)
	return &BreakerStore{store: store, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (b *BreakerStore) FindExact(ctx context.Context, q patient.ExactQuery) ([]patient.StoredRecord, error) {
	return b.execute(func() ([]patient.StoredRecord, error) {
		return b.store.FindExact(ctx, q)
	})
}

func (b *BreakerStore) SearchCandidates(ctx context.Context, q patient.CandidateQuery) ([]patient.StoredRecord, error) {
	return b.execute(func() ([]patient.StoredRecord, error) {
		return b.store.SearchCandidates(ctx, q)
	})
}

// State returns "closed", "half-open" or "open".
func (b *BreakerStore) State() string {
	return b.breaker.State().String()
}

func (b *BreakerStore) execute(fn func() ([]patient.StoredRecord, error)) ([]patient.StoredRecord, error) {
	res, err := b.breaker.Execute(func() (interface{}, error) {
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if err != nil {
		return nil, err
	}
	records, _ := res.([]patient.StoredRecord)
	return records, nil
}

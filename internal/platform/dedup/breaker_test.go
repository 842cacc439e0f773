package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/rkgudboy/patient-data-extraction/internal/domain/patient"
)

var identifierQuery = patient.ExactQuery{
	Identifiers: []patient.IdentifierClause{{Key: "nhs_number", Value: "1234567890"}},
}

func TestBreakerStore_OpensAfterConsecutiveFailures(t *testing.T) {
	store := newMemStore()
	store.exactErr = errors.New("connection refused")
	metrics := NewMetrics(prometheus.NewRegistry())

	b := NewBreakerStore(store, BreakerConfig{MaxFailures: 2, OpenTimeout: time.Minute, HalfOpenMaxRequests: 1}, metrics, zerolog.Nop())

	for i := 0; i < 2; i++ {
		if _, err := b.FindExact(context.Background(), identifierQuery); err == nil {
			t.Fatalf("call %d: expected store error", i+1)
		}
	}
	if b.State() != "open" {
		t.Fatalf("expected open breaker, got %s", b.State())
	}

	_, err := b.FindExact(context.Background(), identifierQuery)
	if !errors.Is(err, ErrStoreUnavailable) || !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("expected ErrStoreUnavailable wrapping the open state, got %v", err)
	}
	if exact, _ := store.calls(); exact != 2 {
		t.Errorf("expected the open breaker to short-circuit, store saw %d calls", exact)
	}
	if got := testutil.ToFloat64(metrics.BreakerState.WithLabelValues("record-store")); got != 1 {
		t.Errorf("expected breaker gauge 1, got %v", got)
	}
}

func TestBreakerStore_PassesThroughResults(t *testing.T) {
	store := newMemStore()
	rec := store.add(ukRecord("Jane Smith", 40, "1234567890"))
	b := NewBreakerStore(store, DefaultBreakerConfig(), nil, zerolog.Nop())

	got, err := b.FindExact(context.Background(), identifierQuery)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].ID != rec.ID {
		t.Errorf("expected stored record, got %+v", got)
	}

	cands, err := b.SearchCandidates(context.Background(), patient.CandidateQuery{Name: "Jane", Country: patient.CountryUK, Limit: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cands) != 1 {
		t.Errorf("expected 1 candidate, got %d", len(cands))
	}
	if b.State() != "closed" {
		t.Errorf("expected closed breaker, got %s", b.State())
	}
}

func TestBreakerStore_CancellationDoesNotTrip(t *testing.T) {
	store := newMemStore()
	store.exactErr = context.Canceled
	b := NewBreakerStore(store, BreakerConfig{MaxFailures: 1, OpenTimeout: time.Minute, HalfOpenMaxRequests: 1}, nil, zerolog.Nop())

	for i := 0; i < 3; i++ {
		if _, err := b.FindExact(context.Background(), identifierQuery); !errors.Is(err, context.Canceled) {
			t.Fatalf("call %d: expected context.Canceled, got %v", i+1, err)
		}
	}
	if b.State() != "closed" {
		t.Errorf("expected cancellations to leave the breaker closed, got %s", b.State())
	}
}

func TestBreakerStore_EngineReportsUnavailable(t *testing.T) {
	store := newMemStore()
	store.exactErr = errors.New("connection refused")
	b := NewBreakerStore(store, BreakerConfig{MaxFailures: 1, OpenTimeout: time.Minute, HalfOpenMaxRequests: 1}, nil, zerolog.Nop())
	engine := newTestEngine(b)

	r := ukRecord("Jane Smith", 40, "1234567890")
	for i := 0; i < 3; i++ {
		if _, err := engine.AnalyzeDuplicates(context.Background(), &r); !errors.Is(err, ErrStoreUnavailable) {
			t.Fatalf("call %d: expected ErrStoreUnavailable, got %v", i+1, err)
		}
	}
	if exact, _ := store.calls(); exact != 1 {
		t.Errorf("expected one store call before the breaker opened, got %d", exact)
	}
}

package dedup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rkgudboy/patient-data-extraction/internal/domain/patient"
)

var tracer = otel.Tracer("github.com/rkgudboy/patient-data-extraction/internal/platform/dedup")

// Retriever issues the exact and broad candidate queries against a store.
type Retriever struct {
	store   patient.RecordStore
	timeout time.Duration
	limit   int
	metrics *Metrics
}

func NewRetriever(store patient.RecordStore, timeout time.Duration, limit int, metrics *Metrics) *Retriever {
	return &Retriever{store: store, timeout: timeout, limit: limit, metrics: metrics}
}

// exactQuery builds one clause per unique identifier the record carries and a
// demographic clause when name, age and country are all known.
func exactQuery(r *patient.Record) patient.ExactQuery {
	var q patient.ExactQuery
	for _, key := range patient.UniqueIdentifierKeys(r.Country) {
		if v, ok := r.Identifier(key); ok {
			q.Identifiers = append(q.Identifiers, patient.IdentifierClause{Key: key, Value: v})
		}
	}
	name := patient.CanonicalName(r.Name)
	if name != "" && r.Age > 0 && r.Country != "" {
		q.Demographic = &patient.DemographicClause{Name: name, Age: r.Age, Country: r.Country}
	}
	return q
}

// ExactLookup returns stored records sharing a unique identifier or
// name+age+country with r. A record with no qualifying fields never reaches
// the store.
func (rt *Retriever) ExactLookup(ctx context.Context, r *patient.Record) ([]patient.StoredRecord, error) {
	q := exactQuery(r)
	if q.Empty() {
		return nil, nil
	}

	ctx, span := tracer.Start(ctx, "dedup.ExactLookup", trace.WithAttributes(
		attribute.Int("dedup.identifier_clauses", len(q.Identifiers)),
		attribute.Bool("dedup.demographic_clause", q.Demographic != nil),
	))
	defer span.End()

	records, err := rt.call(ctx, "exact", func(ctx context.Context) ([]patient.StoredRecord, error) {
		return rt.store.FindExact(ctx, q)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "exact lookup failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("dedup.results", len(records)))
	return records, nil
}

// BroadLookup fuzzy-searches by name within r's country, skipping exclude.
// Records without a name are not searched.
func (rt *Retriever) BroadLookup(ctx context.Context, r *patient.Record, exclude []uuid.UUID) ([]patient.StoredRecord, error) {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return nil, nil
	}

	ctx, span := tracer.Start(ctx, "dedup.BroadLookup", trace.WithAttributes(
		attribute.String("dedup.country", string(r.Country)),
		attribute.Int("dedup.excluded", len(exclude)),
		attribute.Int("dedup.limit", rt.limit),
	))
	defer span.End()

	q := patient.CandidateQuery{Name: name, Country: r.Country, Exclude: exclude, Limit: rt.limit}
	records, err := rt.call(ctx, "broad", func(ctx context.Context) ([]patient.StoredRecord, error) {
		return rt.store.SearchCandidates(ctx, q)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "broad lookup failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("dedup.results", len(records)))
	return records, nil
}

// call runs fn under the store timeout and maps every failure, timeouts
// included, to ErrStoreUnavailable.
func (rt *Retriever) call(ctx context.Context, kind string, fn func(context.Context) ([]patient.StoredRecord, error)) ([]patient.StoredRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, rt.timeout)
	defer cancel()

	start := time.Now()
	records, err := fn(ctx)
	rt.metrics.observeLookup(kind, start, err)
	if err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			return nil, fmt.Errorf("%s lookup: %w", kind, err)
		}
		return nil, fmt.Errorf("%w: %s lookup: %w", ErrStoreUnavailable, kind, err)
	}
	return records, nil
}

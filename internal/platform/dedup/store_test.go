package dedup

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rkgudboy/patient-data-extraction/internal/domain/patient"
)

// memStore is an in-memory RecordStore. Records are kept in insertion order,
// which stands in for creation order.
type memStore struct {
	mu      sync.Mutex
	records []patient.StoredRecord

	exactErr      error
	broadErr      error
	delay         time.Duration
	ignoreExclude bool

	exactCalls    int
	broadCalls    int
	lastCandidate patient.CandidateQuery
	inFlight      int
	maxInFlight   int
}

func newMemStore(records ...patient.Record) *memStore {
	s := &memStore{}
	for _, r := range records {
		s.add(r)
	}
	return s
}

func (s *memStore) add(r patient.Record) patient.StoredRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := patient.StoredRecord{
		Record:    r,
		ID:        uuid.New(),
		CreatedAt: time.Date(2024, 1, 1, 0, 0, len(s.records), 0, time.UTC),
	}
	s.records = append(s.records, rec)
	return rec
}

func (s *memStore) enter(ctx context.Context) error {
	s.mu.Lock()
	s.inFlight++
	if s.inFlight > s.maxInFlight {
		s.maxInFlight = s.inFlight
	}
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *memStore) leave() {
	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()
}

func (s *memStore) FindExact(ctx context.Context, q patient.ExactQuery) ([]patient.StoredRecord, error) {
	s.mu.Lock()
	s.exactCalls++
	s.mu.Unlock()

	defer s.leave()
	if err := s.enter(ctx); err != nil {
		return nil, err
	}
	if s.exactErr != nil {
		return nil, s.exactErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []patient.StoredRecord
	for _, rec := range s.records {
		if matchesExact(rec, q) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func matchesExact(rec patient.StoredRecord, q patient.ExactQuery) bool {
	for _, c := range q.Identifiers {
		if v, ok := rec.Identifier(c.Key); ok && v == c.Value {
			return true
		}
	}
	if d := q.Demographic; d != nil {
		return strings.EqualFold(patient.CanonicalName(rec.Name), d.Name) && rec.Age == d.Age && rec.Country == d.Country
	}
	return false
}

func (s *memStore) SearchCandidates(ctx context.Context, q patient.CandidateQuery) ([]patient.StoredRecord, error) {
	s.mu.Lock()
	s.broadCalls++
	s.lastCandidate = q
	s.mu.Unlock()

	defer s.leave()
	if err := s.enter(ctx); err != nil {
		return nil, err
	}
	if s.broadErr != nil {
		return nil, s.broadErr
	}

	excluded := make(map[uuid.UUID]bool, len(q.Exclude))
	if !s.ignoreExclude {
		for _, id := range q.Exclude {
			excluded[id] = true
		}
	}

	s.mu.Lock()
	var out []patient.StoredRecord
	for _, rec := range s.records {
		if excluded[rec.ID] || (q.Country != "" && rec.Country != q.Country) {
			continue
		}
		out = append(out, rec)
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return NameSimilarity(q.Name, out[i].Name) > NameSimilarity(q.Name, out[j].Name)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *memStore) calls() (exact, broad int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exactCalls, s.broadCalls
}

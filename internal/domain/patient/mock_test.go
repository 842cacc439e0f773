package patient

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type mockRepo struct {
	mu      sync.Mutex
	records map[uuid.UUID]*StoredRecord
	err     error
}

func newMockRepo() *mockRepo {
	return &mockRepo{records: make(map[uuid.UUID]*StoredRecord)}
}

func (m *mockRepo) Create(_ context.Context, r *StoredRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	cp := *r
	m.records[r.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*StoredRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	r, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *mockRepo) UpdateStatus(_ context.Context, id uuid.UUID, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	r.Status = status
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return ErrNotFound
	}
	delete(m.records, id)
	return nil
}

func (m *mockRepo) List(_ context.Context, limit, offset int) ([]*StoredRecord, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, 0, m.err
	}
	all := make([]*StoredRecord, 0, len(m.records))
	for _, r := range m.records {
		cp := *r
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *mockRepo) FindExact(context.Context, ExactQuery) ([]StoredRecord, error) {
	return nil, nil
}

func (m *mockRepo) SearchCandidates(context.Context, CandidateQuery) ([]StoredRecord, error) {
	return nil, nil
}

// stubAnalyzer flags a record as duplicate when its name is in duplicates and
// runs the real validation rules.
type stubAnalyzer struct {
	duplicates map[string]StoredRecord
	err        error
	calls      int
}

func (a *stubAnalyzer) AnalyzeDuplicates(_ context.Context, r *Record) (*DuplicateAnalysisResult, error) {
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	res := &DuplicateAnalysisResult{
		Duplicates:       []StoredRecord{},
		Suggestions:      []FieldSuggestion{},
		ValidationErrors: Validate(r),
	}
	if d, ok := a.duplicates[r.Name]; ok {
		res.IsDuplicate = true
		res.Duplicates = append(res.Duplicates, d)
	}
	return res, nil
}

func validUK(name string) *Record {
	return &Record{Name: name, Age: 40, Country: CountryUK,
		Identifiers: map[string]string{"nhs_number": "1234567890"}}
}

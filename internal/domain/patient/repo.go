package patient

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Store errors. Stores return these (optionally wrapped) so callers can map
// them without knowing the backend.
var (
	ErrNotFound         = errors.New("patient record not found")
	ErrStoreUnavailable = errors.New("record store unavailable")
)

// IdentifierClause matches records whose identifier Key equals Value.
type IdentifierClause struct {
	Key   string
	Value string
}

// DemographicClause matches records with the same name, age and country.
// Names compare case-insensitively after whitespace runs collapse; Name is
// expected in CanonicalName form.
type DemographicClause struct {
	Name    string
	Age     int
	Country Country
}

// ExactQuery is a disjunction: a record matches if any clause matches.
type ExactQuery struct {
	Identifiers []IdentifierClause
	Demographic *DemographicClause
}

func (q ExactQuery) Empty() bool {
	return len(q.Identifiers) == 0 && q.Demographic == nil
}

// CandidateQuery is a fuzzy name search scoped to Country, or to every
// country when Country is empty.
type CandidateQuery struct {
	Name    string
	Country Country
	Exclude []uuid.UUID
	Limit   int
}

// RecordStore is the read capability the deduplication engine depends on.
// FindExact returns records in creation order. SearchCandidates returns at
// most Limit records, closest names first, with a deterministic tiebreak.
type RecordStore interface {
	FindExact(ctx context.Context, q ExactQuery) ([]StoredRecord, error)
	SearchCandidates(ctx context.Context, q CandidateQuery) ([]StoredRecord, error)
}

type Repository interface {
	RecordStore

	Create(ctx context.Context, r *StoredRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*StoredRecord, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*StoredRecord, int, error)
}

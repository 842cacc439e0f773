package patient

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// Country is one of the supported jurisdictions.
type Country string

const (
	CountryUS Country = "US"
	CountryUK Country = "UK"
	CountryJP Country = "JP"
	CountryIN Country = "IN"
)

// Supported reports whether the country has a rule table entry.
func (c Country) Supported() bool {
	_, ok := countryRules[c]
	return ok
}

// Status tracks where a record is in the intake lifecycle.
type Status string

const (
	StatusExtracted Status = "extracted"
	StatusConfirmed Status = "confirmed"
	StatusDuplicate Status = "duplicate"
)

func (s Status) Valid() bool {
	switch s {
	case StatusExtracted, StatusConfirmed, StatusDuplicate:
		return true
	}
	return false
}

// Age bounds for a record. Zero means the age was not extracted.
const (
	MinAge = 1
	MaxAge = 120
)

// Record is a person's identity submission as extracted from a form.
// Identifier keys are scoped to Country; a missing key means unknown.
type Record struct {
	Name        string            `json:"name"`
	Age         int               `json:"age,omitempty"`
	Country     Country           `json:"country"`
	Identifiers map[string]string `json:"identifiers,omitempty"`
	SourceURL   string            `json:"source_url,omitempty"`
	Status      Status            `json:"status,omitempty"`
}

// Identifier returns the value for key and whether the record carries it.
// Blank values are treated as absent.
func (r *Record) Identifier(key string) (string, bool) {
	v, ok := r.Identifiers[key]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// HasIdentifiers reports whether at least one non-blank identifier is present.
func (r *Record) HasIdentifiers() bool {
	for _, v := range r.Identifiers {
		if v != "" {
			return true
		}
	}
	return false
}

// CanonicalName applies NFC, trims and collapses whitespace runs to a single
// space. Case is kept.
func CanonicalName(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}

// StoredRecord is a Record held by the record store.
type StoredRecord struct {
	Record
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// MatchCandidate pairs a stored record with its overall similarity score.
type MatchCandidate struct {
	Record StoredRecord `json:"record"`
	Score  float64      `json:"score"`
}

// FieldSuggestion offers a corrected value for a field without forcing it.
type FieldSuggestion struct {
	Field          string  `json:"field"`
	SuggestedValue string  `json:"suggested_value"`
	Confidence     float64 `json:"confidence"`
}

// DuplicateAnalysisResult combines duplicate detection and validation.
// A record can be a duplicate and invalid at the same time.
type DuplicateAnalysisResult struct {
	IsDuplicate      bool              `json:"is_duplicate"`
	Duplicates       []StoredRecord    `json:"duplicates"`
	Suggestions      []FieldSuggestion `json:"suggestions"`
	ValidationErrors []string          `json:"validation_errors"`
}

// MatchResult partitions stored records into exact and scored partial matches.
// PartialMatches is sorted by descending score.
type MatchResult struct {
	ExactMatches   []StoredRecord   `json:"exact_matches"`
	PartialMatches []MatchCandidate `json:"partial_matches"`
}

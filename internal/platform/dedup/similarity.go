package dedup

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/rkgudboy/patient-data-extraction/internal/domain/patient"
)

// Weights of the partial scores in OverallScore.
const (
	nameWeight       = 0.4
	ageWeight        = 0.2
	countryWeight    = 0.1
	identifierWeight = 0.3

	// ageDecayYears is the age gap at which the age score reaches zero.
	ageDecayYears = 10.0
)

// normalizeName lowercases the canonical form of a name.
func normalizeName(s string) string {
	return strings.ToLower(patient.CanonicalName(s))
}

// NameSimilarity returns 1 - editDistance/maxLen over the normalized names,
// measured in Unicode code points. The result is in [0,1].
func NameSimilarity(a, b string) float64 {
	a, b = normalizeName(a), normalizeName(b)
	if a == b {
		return 1.0
	}

	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}
	if maxLen == 0 {
		return 1.0
	}

	d := levenshtein.ComputeDistance(a, b)
	return float64(maxLen-d) / float64(maxLen)
}

func ageSimilarity(a, b int) float64 {
	if a == b {
		return 1.0
	}
	return math.Max(0, 1-math.Abs(float64(a-b))/ageDecayYears)
}

// identifierSimilarity averages exact equality over keys both records carry.
// ok is false when the records share no identifier keys.
func identifierSimilarity(a, b *patient.Record) (score float64, ok bool) {
	var common, equal int
	for key, av := range a.Identifiers {
		if av == "" {
			continue
		}
		bv, present := b.Identifier(key)
		if !present {
			continue
		}
		common++
		if av == bv {
			equal++
		}
	}
	if common == 0 {
		return 0, false
	}
	return float64(equal) / float64(common), true
}

// OverallScore is the weighted mean of the partial scores both records have
// data for. Weights are renormalized over the included components; with no
// component included the score is 0.
func OverallScore(query patient.Record, candidate patient.StoredRecord) float64 {
	var sum, total float64
	include := func(weight, score float64) {
		sum += weight * score
		total += weight
	}

	if strings.TrimSpace(query.Name) != "" && strings.TrimSpace(candidate.Name) != "" {
		include(nameWeight, NameSimilarity(query.Name, candidate.Name))
	}
	if query.Age > 0 && candidate.Age > 0 {
		include(ageWeight, ageSimilarity(query.Age, candidate.Age))
	}
	if query.Country != "" && candidate.Country != "" {
		s := 0.0
		if query.Country == candidate.Country {
			s = 1.0
		}
		include(countryWeight, s)
	}
	if s, ok := identifierSimilarity(&query, &candidate.Record); ok {
		include(identifierWeight, s)
	}

	if total == 0 {
		return 0
	}
	return sum / total
}

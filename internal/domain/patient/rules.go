package patient

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// IdentifierRule describes one identifier key accepted for a country.
type IdentifierRule struct {
	Key      string
	Label    string
	Required bool
	// Unique identifiers identify a single person and drive exact lookup.
	Unique bool
	// Pattern is optional; Format is the human-readable form used in messages.
	Pattern *regexp.Regexp
	Format  string
}

// CountryRules lists the identifier rules of a country in declared order.
type CountryRules struct {
	Country     Country
	Identifiers []IdentifierRule
}

var countryRules = map[Country]CountryRules{
	CountryUS: {
		Country: CountryUS,
		Identifiers: []IdentifierRule{
			{Key: "mrn", Label: "medical record number", Required: true,
				Pattern: regexp.MustCompile(`^[A-Za-z0-9]{6,12}$`), Format: "6 to 12 letters or digits"},
			{Key: "ssn", Label: "social security number", Unique: true,
				Pattern: regexp.MustCompile(`^\d{3}-\d{2}-\d{4}$`), Format: "NNN-NN-NNNN"},
		},
	},
	CountryUK: {
		Country: CountryUK,
		Identifiers: []IdentifierRule{
			{Key: "nhs_number", Label: "NHS number", Required: true, Unique: true,
				Pattern: regexp.MustCompile(`^\d{10}$`), Format: "10 digits"},
			{Key: "hospital_number", Label: "hospital number"},
		},
	},
	CountryJP: {
		Country: CountryJP,
		Identifiers: []IdentifierRule{
			{Key: "insurance_number", Label: "health insurance number", Required: true,
				Pattern: regexp.MustCompile(`^\d{8}$`), Format: "8 digits"},
			{Key: "my_number", Label: "individual number", Unique: true,
				Pattern: regexp.MustCompile(`^\d{12}$`), Format: "12 digits"},
		},
	},
	CountryIN: {
		Country: CountryIN,
		Identifiers: []IdentifierRule{
			{Key: "abha_number", Label: "ABHA number", Required: true, Unique: true,
				Pattern: regexp.MustCompile(`^\d{2}-\d{4}-\d{4}-\d{4}$`), Format: "NN-NNNN-NNNN-NNNN"},
			{Key: "aadhaar_number", Label: "Aadhaar number", Unique: true,
				Pattern: regexp.MustCompile(`^\d{12}$`), Format: "12 digits"},
		},
	},
}

// RulesFor returns the rule entry for a country.
func RulesFor(c Country) (CountryRules, bool) {
	r, ok := countryRules[c]
	return r, ok
}

// SupportedCountries returns the rule table keys in a stable order.
func SupportedCountries() []Country {
	out := make([]Country, 0, len(countryRules))
	for c := range countryRules {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// UniqueIdentifierKeys returns the keys of a country that identify a single
// person, in declared order.
func UniqueIdentifierKeys(c Country) []string {
	var keys []string
	for _, rule := range countryRules[c].Identifiers {
		if rule.Unique {
			keys = append(keys, rule.Key)
		}
	}
	return keys
}

// ValidIdentifierKey reports whether key is accepted for the country.
func ValidIdentifierKey(c Country, key string) bool {
	for _, rule := range countryRules[c].Identifiers {
		if rule.Key == key {
			return true
		}
	}
	return false
}

// Storable reports whether a record fits the store at all: its country is
// supported and every identifier key is accepted for that country. Forced
// intake cannot override these.
func Storable(r *Record) bool {
	if !r.Country.Supported() {
		return false
	}
	for key := range r.Identifiers {
		if !ValidIdentifierKey(r.Country, key) {
			return false
		}
	}
	return true
}

// Validate checks a record against its country's rules and returns one message
// per violation. Messages follow the table order: name, age, country, then the
// country's identifiers as declared, then identifier keys the country does not
// accept. A compliant record yields an empty, non-nil slice.
func Validate(r *Record) []string {
	errs := []string{}

	if strings.TrimSpace(r.Name) == "" {
		errs = append(errs, "name is required")
	}
	switch {
	case r.Age == 0:
		errs = append(errs, "age is required")
	case r.Age < MinAge || r.Age > MaxAge:
		errs = append(errs, fmt.Sprintf("age must be between %d and %d", MinAge, MaxAge))
	}

	rules, ok := countryRules[r.Country]
	if !ok {
		if r.Country == "" {
			errs = append(errs, "country is required")
		} else {
			errs = append(errs, fmt.Sprintf("country %q is not supported", string(r.Country)))
		}
		return errs
	}

	for _, rule := range rules.Identifiers {
		value, present := r.Identifier(rule.Key)
		if !present {
			if rule.Required {
				errs = append(errs, fmt.Sprintf("%s is required for %s", rule.Key, r.Country))
			}
			continue
		}
		if rule.Pattern != nil && !rule.Pattern.MatchString(value) {
			errs = append(errs, fmt.Sprintf("%s must be %s", rule.Key, rule.Format))
		}
	}

	var unknown []string
	for key := range r.Identifiers {
		if !ValidIdentifierKey(r.Country, key) {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	for _, key := range unknown {
		errs = append(errs, fmt.Sprintf("%s is not a valid identifier for %s", key, r.Country))
	}

	return errs
}

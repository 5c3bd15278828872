package domain

import (
	"strings"
)

// RawAnswer is one symptom answer as delivered by the assessment front end.
// The symptom field may be a canonical key, an alias, or free-form text; the
// severity is user-reported and may be anything.
type RawAnswer struct {
	Symptom   string `json:"symptom"`
	Severity  string `json:"severity"`
	Frequency string `json:"frequency,omitempty"`
}

// Normalizer converts a submission event's raw answer payload into canonical
// symptom tuples using the taxonomy's alias index.
type Normalizer struct {
	taxonomy *Taxonomy
}

// NewNormalizer creates a normalizer bound to an immutable taxonomy.
func NewNormalizer(taxonomy *Taxonomy) *Normalizer {
	return &Normalizer{taxonomy: taxonomy}
}

// Normalize maps raw answers to canonical (symptom_key, severity, frequency)
// tuples. Answers naming symptoms outside the taxonomy are collected into
// skipped, never silently dropped. When the same canonical symptom appears
// more than once in one payload the last answer wins, so a submission event
// contributes at most one tuple per symptom.
func (n *Normalizer) Normalize(answers []RawAnswer) (tuples []SymptomTuple, skipped []string) {
	index := make(map[string]int)
	for _, a := range answers {
		raw := strings.TrimSpace(a.Symptom)
		if raw == "" {
			continue
		}
		key, ok := n.taxonomy.Resolve(raw)
		if !ok {
			skipped = append(skipped, raw)
			continue
		}
		tuple := SymptomTuple{
			SymptomKey: key,
			Severity:   ParseSeverity(a.Severity),
			Frequency:  strings.TrimSpace(a.Frequency),
		}
		if i, dup := index[key]; dup {
			tuples[i] = tuple
			continue
		}
		index[key] = len(tuples)
		tuples = append(tuples, tuple)
	}
	return tuples, skipped
}

package domain

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// SymptomDef describes one canonical symptom in the taxonomy.
type SymptomDef struct {
	Key         string   `json:"key"`
	DisplayName string   `json:"display_name"`
	Category    string   `json:"category"`
	Aliases     []string `json:"aliases,omitempty"`
}

// Taxonomy is the versioned, immutable symptom taxonomy plus the
// symptom-to-biomarker correlation table. It is built once at process start,
// validated, and shared read-only across the engine.
type Taxonomy struct {
	version      string
	symptoms     map[string]SymptomDef
	correlations map[string][]string
	aliases      map[string]string
}

// taxonomyFile is the on-disk JSON shape accepted by LoadTaxonomyFile.
type taxonomyFile struct {
	Version      string                `json:"version"`
	Symptoms     map[string]SymptomDef `json:"symptoms"`
	Correlations map[string][]string   `json:"correlations"`
}

// NewTaxonomy validates and assembles a taxonomy. Correlation keys must name
// symptoms that exist in the taxonomy, and biomarker keys must be non-empty;
// violations are ValidationErrors raised at load time, never at merge time.
func NewTaxonomy(version string, symptoms map[string]SymptomDef, correlations map[string][]string) (*Taxonomy, error) {
	if strings.TrimSpace(version) == "" {
		return nil, NewValidationError("version", "taxonomy version is required", version)
	}
	if len(symptoms) == 0 {
		return nil, NewValidationError("symptoms", "taxonomy must define at least one symptom", nil)
	}

	defs := make(map[string]SymptomDef, len(symptoms))
	aliases := make(map[string]string)
	for key, def := range symptoms {
		key = canonicalKey(key)
		if key == "" {
			return nil, NewValidationError("symptoms", "empty symptom key", key)
		}
		if def.DisplayName == "" {
			return nil, NewValidationError("symptoms", fmt.Sprintf("symptom %q has no display name", key), def)
		}
		if def.Category == "" {
			return nil, NewValidationError("symptoms", fmt.Sprintf("symptom %q has no category", key), def)
		}
		def.Key = key
		defs[key] = def
		aliases[key] = key
		for _, alias := range def.Aliases {
			aliases[canonicalKey(alias)] = key
		}
	}

	corr := make(map[string][]string, len(correlations))
	for key, biomarkers := range correlations {
		key = canonicalKey(key)
		if _, ok := defs[key]; !ok {
			return nil, NewValidationError("correlations", fmt.Sprintf("correlation references unknown symptom %q", key), key)
		}
		seen := make(map[string]bool, len(biomarkers))
		var list []string
		for _, b := range biomarkers {
			b = canonicalKey(b)
			if b == "" {
				return nil, NewValidationError("correlations", fmt.Sprintf("symptom %q correlates to an empty biomarker key", key), biomarkers)
			}
			if !seen[b] {
				seen[b] = true
				list = append(list, b)
			}
		}
		corr[key] = list
	}

	return &Taxonomy{
		version:      version,
		symptoms:     defs,
		correlations: corr,
		aliases:      aliases,
	}, nil
}

// LoadTaxonomyFile reads a taxonomy from a JSON file.
func LoadTaxonomyFile(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading taxonomy file: %w", err)
	}
	var tf taxonomyFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parsing taxonomy file: %w", err)
	}
	return NewTaxonomy(tf.Version, tf.Symptoms, tf.Correlations)
}

// Version returns the taxonomy version identifier.
func (t *Taxonomy) Version() string {
	return t.version
}

// Lookup returns the definition for a canonical symptom key.
func (t *Taxonomy) Lookup(key string) (SymptomDef, bool) {
	def, ok := t.symptoms[canonicalKey(key)]
	return def, ok
}

// Resolve maps a reported symptom name, canonical key or alias, to the
// canonical key.
func (t *Taxonomy) Resolve(raw string) (string, bool) {
	key, ok := t.aliases[canonicalKey(raw)]
	return key, ok
}

// DisplayName returns the display name for a canonical key, or the key
// itself when unknown.
func (t *Taxonomy) DisplayName(key string) string {
	if def, ok := t.Lookup(key); ok {
		return def.DisplayName
	}
	return key
}

// CorrelatedBiomarkers returns the biomarkers clinically associated with a
// symptom. A symptom with no mapping yields an empty slice, not an error.
func (t *Taxonomy) CorrelatedBiomarkers(key string) []string {
	src := t.correlations[canonicalKey(key)]
	out := make([]string, len(src))
	copy(out, src)
	return out
}

// SymptomCount returns the number of canonical symptoms defined.
func (t *Taxonomy) SymptomCount() int {
	return len(t.symptoms)
}

func canonicalKey(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.ReplaceAll(key, "-", "_")
	return key
}

// DefaultTaxonomy returns the built-in taxonomy and correlation table shipped
// with the engine. Deployments can override it with a JSON file via config.
func DefaultTaxonomy() *Taxonomy {
	symptoms := map[string]SymptomDef{
		"fatigue":             {DisplayName: "Fatigue", Category: "energy", Aliases: []string{"tiredness", "exhaustion", "low energy"}},
		"brain_fog":           {DisplayName: "Brain Fog", Category: "cognitive", Aliases: []string{"poor concentration", "mental fog"}},
		"headache":            {DisplayName: "Headache", Category: "cognitive", Aliases: []string{"migraine"}},
		"insomnia":            {DisplayName: "Insomnia", Category: "sleep", Aliases: []string{"trouble sleeping", "poor sleep"}},
		"anxiety":             {DisplayName: "Anxiety", Category: "mood", Aliases: []string{"nervousness"}},
		"low_mood":            {DisplayName: "Low Mood", Category: "mood", Aliases: []string{"depressed mood", "mood swings"}},
		"joint_pain":          {DisplayName: "Joint Pain", Category: "musculoskeletal", Aliases: []string{"achy joints"}},
		"muscle_cramps":       {DisplayName: "Muscle Cramps", Category: "musculoskeletal", Aliases: []string{"muscle spasms"}},
		"hair_loss":           {DisplayName: "Hair Loss", Category: "skin_hair", Aliases: []string{"hair thinning"}},
		"dry_skin":            {DisplayName: "Dry Skin", Category: "skin_hair"},
		"bloating":            {DisplayName: "Bloating", Category: "digestive", Aliases: []string{"abdominal bloating"}},
		"constipation":        {DisplayName: "Constipation", Category: "digestive"},
		"weight_gain":         {DisplayName: "Weight Gain", Category: "metabolic", Aliases: []string{"unexplained weight gain"}},
		"sugar_cravings":      {DisplayName: "Sugar Cravings", Category: "metabolic"},
		"heart_palpitations":  {DisplayName: "Heart Palpitations", Category: "cardiovascular", Aliases: []string{"racing heart"}},
		"frequent_infections": {DisplayName: "Frequent Infections", Category: "immune", Aliases: []string{"getting sick often"}},
		"low_libido":          {DisplayName: "Low Libido", Category: "hormonal"},
		"cold_intolerance":    {DisplayName: "Cold Intolerance", Category: "hormonal", Aliases: []string{"always cold"}},
	}

	correlations := map[string][]string{
		"fatigue":             {"vitamin_d", "ferritin", "vitamin_b12", "tsh"},
		"brain_fog":           {"vitamin_b12", "tsh", "fasting_glucose"},
		"headache":            {"magnesium", "ferritin"},
		"insomnia":            {"cortisol", "magnesium"},
		"anxiety":             {"cortisol", "tsh", "magnesium"},
		"low_mood":            {"vitamin_d", "tsh", "vitamin_b12"},
		"joint_pain":          {"crp", "vitamin_d", "uric_acid"},
		"muscle_cramps":       {"magnesium", "potassium", "vitamin_d"},
		"hair_loss":           {"ferritin", "tsh", "zinc"},
		"dry_skin":            {"tsh", "omega_3_index"},
		"bloating":            {"crp"},
		"weight_gain":         {"tsh", "hba1c", "cortisol"},
		"sugar_cravings":      {"hba1c", "fasting_glucose"},
		"heart_palpitations":  {"tsh", "magnesium", "ferritin"},
		"frequent_infections": {"vitamin_d", "zinc", "wbc"},
		"low_libido":          {"testosterone", "estradiol", "tsh"},
		"cold_intolerance":    {"tsh", "ferritin"},
	}

	t, err := NewTaxonomy("2024.1", symptoms, correlations)
	if err != nil {
		// The built-in table is validated by tests; a failure here is a
		// programming error.
		panic(fmt.Sprintf("default taxonomy invalid: %v", err))
	}
	return t
}

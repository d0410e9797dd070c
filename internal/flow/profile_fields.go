package flow

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/NutriNest/internal/models"
)

// FieldKey names an editable profile field.
type FieldKey string

const (
	FieldBabyName    FieldKey = "baby_name"
	FieldDOB         FieldKey = "dob"
	FieldGender      FieldKey = "gender"
	FieldBirthWeight FieldKey = "birth_weight"
	FieldFeeding     FieldKey = "feeding"
	FieldPreferences FieldKey = "preferences"
	FieldAllergies   FieldKey = "allergies"
	FieldFoods       FieldKey = "foods"
	FieldLocation    FieldKey = "location"
	FieldWeight      FieldKey = "weight"
	FieldHeight      FieldKey = "height"
)

// Outcome messages of a field update.
const (
	fieldUpdated = "Updated"
	fieldSkipped = "Skipped"
)

// FieldError is a correctable input problem shown back to the parent.
type FieldError struct {
	Message string
}

func (e *FieldError) Error() string { return e.Message }

func invalid(msg string) error { return &FieldError{Message: msg} }

type fieldDef struct {
	prompt string
	apply  func(p *models.BabyProfile, value string, now time.Time) error
}

var (
	dobPattern        = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})`)
	preferenceSplit   = regexp.MustCompile(`[,.\s]+`)
	skipValues        = map[string]bool{"skip": true, "-": true, "—": true}
	genderSynonyms    = map[string]string{"male": models.GenderMale, "boy": models.GenderMale, "m": models.GenderMale, "female": models.GenderFemale, "girl": models.GenderFemale, "f": models.GenderFemale, "other": models.GenderOther, "prefer not to say": models.GenderOther}
	feedingSynonyms   = map[string]models.FeedingType{"breastfed": models.FeedingBreastfed, "breast": models.FeedingBreastfed, "bf": models.FeedingBreastfed, "formula": models.FeedingFormula, "formula-fed": models.FeedingFormula, "mixed": models.FeedingMixed, "both": models.FeedingMixed}
	preferenceSynonym = map[string]models.Preference{"veg": models.PreferenceVeg, "vegetarian": models.PreferenceVeg, "egg": models.PreferenceEgg, "eggs": models.PreferenceEgg, "non_veg": models.PreferenceNonVeg, "nonveg": models.PreferenceNonVeg, "non-veg": models.PreferenceNonVeg}
)

var fieldDefs = map[FieldKey]fieldDef{
	FieldBabyName: {
		prompt: "Enter baby's name:",
		apply: func(p *models.BabyProfile, v string, _ time.Time) error {
			p.Name = v
			return nil
		},
	},
	FieldDOB: {
		prompt: "Enter date of birth (YYYY-MM-DD):",
		apply: func(p *models.BabyProfile, v string, now time.Time) error {
			dob, err := ParseDOB(v, now)
			if err != nil {
				return err
			}
			p.DOB = dob
			return nil
		},
	},
	FieldGender: {
		prompt: "Enter gender: male, female, or other",
		apply: func(p *models.BabyProfile, v string, _ time.Time) error {
			g, ok := genderSynonyms[strings.ToLower(v)]
			if !ok {
				return invalid("Use: male, female, or other")
			}
			p.Gender = g
			return nil
		},
	},
	FieldBirthWeight: {
		prompt: "Enter birth weight in kg (e.g. 2.8):",
		apply: func(p *models.BabyProfile, v string, _ time.Time) error {
			w, err := parseMeasure(v, 10, "Birth weight should be between 0 and 10 kg", "Enter a number (e.g. 2.8)")
			if err != nil {
				return err
			}
			p.BirthWeightKg = &w
			return nil
		},
	},
	FieldFeeding: {
		prompt: "Enter feeding type: breastfed, formula, or mixed",
		apply: func(p *models.BabyProfile, v string, _ time.Time) error {
			ft, ok := feedingSynonyms[strings.ToLower(v)]
			if !ok {
				return invalid("Use: breastfed, formula, or mixed")
			}
			p.FeedingType = ft
			return nil
		},
	},
	FieldPreferences: {
		prompt: "Enter diet: veg, egg, non_veg (comma-separated for multiple)",
		apply: func(p *models.BabyProfile, v string, _ time.Time) error {
			prefs := ParsePreferences(v)
			if len(prefs) == 0 {
				return invalid("Use: veg, egg, non_veg (comma-separated)")
			}
			p.Preferences = prefs
			return nil
		},
	},
	FieldAllergies: {
		prompt: "Enter allergies (comma-separated) or 'none':",
		apply: func(p *models.BabyProfile, v string, _ time.Time) error {
			if strings.EqualFold(v, "none") {
				p.Allergies = []string{}
				return nil
			}
			p.Allergies = SplitList(v)
			return nil
		},
	},
	FieldFoods: {
		prompt: "Enter foods already introduced (comma-separated):",
		apply: func(p *models.BabyProfile, v string, _ time.Time) error {
			p.MergeFoods(SplitList(v))
			return nil
		},
	},
	FieldLocation: {
		prompt: "Enter city/location:",
		apply: func(p *models.BabyProfile, v string, _ time.Time) error {
			p.Location = v
			return nil
		},
	},
	FieldWeight: {
		prompt: "Enter current weight in kg (e.g. 7.5):",
		apply: func(p *models.BabyProfile, v string, _ time.Time) error {
			w, err := parseMeasure(v, 50, "Weight should be between 0 and 50 kg", "Enter a number (e.g. 7.5)")
			if err != nil {
				return err
			}
			p.CurrentWeightKg = &w
			return nil
		},
	},
	FieldHeight: {
		prompt: "Enter height in cm (e.g. 68):",
		apply: func(p *models.BabyProfile, v string, _ time.Time) error {
			h, err := parseMeasure(v, 150, "Height should be between 0 and 150 cm", "Enter a number (e.g. 68)")
			if err != nil {
				return err
			}
			p.HeightCm = &h
			return nil
		},
	},
}

// FieldPrompt returns the question asked for a field.
func FieldPrompt(key FieldKey) string {
	if def, ok := fieldDefs[key]; ok {
		return def.prompt
	}
	return "Enter value:"
}

// IsSkip reports whether value means "leave this field alone".
func IsSkip(value string) bool {
	v := strings.TrimSpace(value)
	return v == "" || skipValues[strings.ToLower(v)]
}

// ApplyField parses value and writes it into p. It returns "Skipped" or
// "Updated" on success and a *FieldError when the value is not acceptable.
// p is left untouched on error.
func ApplyField(p *models.BabyProfile, key FieldKey, value string, now time.Time) (string, error) {
	value = strings.TrimSpace(value)
	if IsSkip(value) {
		return fieldSkipped, nil
	}
	def, ok := fieldDefs[key]
	if !ok {
		return "", invalid("Unknown field")
	}
	if err := def.apply(p, value, now); err != nil {
		return "", err
	}
	return fieldUpdated, nil
}

// ParseDOB accepts YYYY-MM-DD dates that exist and are not in the future.
func ParseDOB(value string, now time.Time) (time.Time, error) {
	m := dobPattern.FindStringSubmatch(strings.TrimSpace(value))
	if m == nil {
		return time.Time{}, invalid("Use YYYY-MM-DD (e.g. 2024-05-15)")
	}
	y, _ := strconv.Atoi(m[1])
	mo, _ := strconv.Atoi(m[2])
	d, _ := strconv.Atoi(m[3])
	dob := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.UTC)
	if dob.Year() != y || int(dob.Month()) != mo || dob.Day() != d {
		return time.Time{}, invalid("Invalid date")
	}
	if dob.After(models.DateOnly(now)) {
		return time.Time{}, invalid("Date cannot be in the future")
	}
	return dob, nil
}

// ParsePreferences maps free text onto canonical preferences, deduplicated
// in first-seen order.
func ParsePreferences(value string) []models.Preference {
	var prefs []models.Preference
	seen := make(map[models.Preference]bool)
	for _, tok := range preferenceSplit.Split(strings.ToLower(value), -1) {
		pr, ok := preferenceSynonym[strings.TrimSpace(tok)]
		if !ok || seen[pr] {
			continue
		}
		seen[pr] = true
		prefs = append(prefs, pr)
	}
	return prefs
}

// SplitList splits a comma list, trimming and dropping empty items.
func SplitList(value string) []string {
	out := []string{}
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parseMeasure reads a positive number below max. A comma decimal separator is accepted.
func parseMeasure(value string, max float64, rangeMsg, formatMsg string) (float64, error) {
	f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(value), ",", "."), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, invalid(formatMsg)
	}
	if f <= 0 || f >= max {
		return 0, invalid(rangeMsg)
	}
	return f, nil
}

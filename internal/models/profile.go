package models

import (
	"strings"
	"time"
)

// DateLayout is the wire and storage format for calendar dates.
const DateLayout = "2006-01-02"

// DefaultBabyID is the baby id assigned at onboarding.
const DefaultBabyID = "default"

// DefaultOnboardingAgeDays is the assumed age of a freshly onboarded baby (about 6 months).
const DefaultOnboardingAgeDays = 180

// FeedingType is how the baby is currently milk-fed.
type FeedingType string

const (
	FeedingBreastfed FeedingType = "breastfed"
	FeedingFormula   FeedingType = "formula"
	FeedingMixed     FeedingType = "mixed"
)

// Preference is a dietary preference of the family.
type Preference string

const (
	PreferenceVeg    Preference = "veg"
	PreferenceEgg    Preference = "egg"
	PreferenceNonVeg Preference = "non_veg"
)

// Gender values accepted on a profile.
const (
	GenderMale   = "male"
	GenderFemale = "female"
	GenderOther  = "other"
)

// BabyProfile is the persisted description of one baby, keyed by (Phone, BabyID).
type BabyProfile struct {
	BabyID          string       `json:"baby_id"`
	Phone           string       `json:"phone,omitempty"`
	DOB             time.Time    `json:"dob"`
	Name            string       `json:"baby_name,omitempty"`
	Gender          string       `json:"gender,omitempty"`
	BirthWeightKg   *float64     `json:"birth_weight_kg,omitempty"`
	CurrentWeightKg *float64     `json:"current_weight_kg,omitempty"`
	HeightCm        *float64     `json:"height_cm,omitempty"`
	FeedingType     FeedingType  `json:"feeding_type"`
	Preferences     []Preference `json:"preferences"`
	Allergies       []string     `json:"allergies"`
	FoodsIntroduced []string     `json:"foods_introduced"`
	Location        string       `json:"location,omitempty"`
	UpdatedAt       time.Time    `json:"updated_at,omitempty"`
}

// NewDefaultProfile builds the onboarding profile for a phone number.
func NewDefaultProfile(phone string, today time.Time) *BabyProfile {
	dob := DateOnly(today).AddDate(0, 0, -DefaultOnboardingAgeDays)
	return &BabyProfile{
		BabyID:          DefaultBabyID,
		Phone:           phone,
		DOB:             dob,
		FeedingType:     FeedingMixed,
		Preferences:     []Preference{PreferenceVeg},
		Allergies:       []string{},
		FoodsIntroduced: []string{},
	}
}

// AgeInMonths returns completed months between DOB and ref, floored at zero.
func (p *BabyProfile) AgeInMonths(ref time.Time) int {
	return AgeInMonths(p.DOB, ref)
}

// AgeInMonths counts whole calendar months from dob to ref.
// A month is only complete once ref's day of month reaches dob's.
func AgeInMonths(dob, ref time.Time) int {
	by, bm, bd := dob.Date()
	ry, rm, rd := ref.Date()
	months := (ry-by)*12 + int(rm-bm)
	if rd < bd {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}

// RuleContext returns the ephemeral projection used for prompt building.
func (p *BabyProfile) RuleContext(ref time.Time) RuleContext {
	prefs := make([]string, 0, len(p.Preferences))
	for _, pr := range p.Preferences {
		prefs = append(prefs, string(pr))
	}
	return RuleContext{
		AgeMonths:   p.AgeInMonths(ref),
		Allergies:   append([]string(nil), p.Allergies...),
		Preferences: prefs,
	}
}

// Clone returns a deep copy so working copies never alias persisted slices.
func (p *BabyProfile) Clone() *BabyProfile {
	if p == nil {
		return nil
	}
	c := *p
	c.Preferences = append([]Preference(nil), p.Preferences...)
	c.Allergies = append([]string(nil), p.Allergies...)
	c.FoodsIntroduced = append([]string(nil), p.FoodsIntroduced...)
	c.BirthWeightKg = cloneFloat(p.BirthWeightKg)
	c.CurrentWeightKg = cloneFloat(p.CurrentWeightKg)
	c.HeightCm = cloneFloat(p.HeightCm)
	return &c
}

// PreferenceStrings returns the preferences as plain strings.
func (p *BabyProfile) PreferenceStrings() []string {
	out := make([]string, 0, len(p.Preferences))
	for _, pr := range p.Preferences {
		out = append(out, string(pr))
	}
	return out
}

// MergeFoods appends foods not already present, comparing case-insensitively.
// Existing order is kept and the number of foods actually added is returned.
func (p *BabyProfile) MergeFoods(foods []string) int {
	seen := make(map[string]bool, len(p.FoodsIntroduced))
	for _, f := range p.FoodsIntroduced {
		seen[strings.ToLower(strings.TrimSpace(f))] = true
	}
	added := 0
	for _, f := range foods {
		f = strings.TrimSpace(f)
		key := strings.ToLower(f)
		if f == "" || seen[key] {
			continue
		}
		seen[key] = true
		p.FoodsIntroduced = append(p.FoodsIntroduced, f)
		added++
	}
	return added
}

// DateOnly truncates t to midnight UTC of its calendar day.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// RuleContext is the slice of a profile that prompt building and filtering need.
type RuleContext struct {
	AgeMonths   int
	Allergies   []string
	Preferences []string
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

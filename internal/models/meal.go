package models

import (
	"fmt"
	"strings"
	"time"
)

// MealsPerPlan is the number of meals a daily plan carries.
const MealsPerPlan = 4

// Meal is one slot in a daily plan. It is never stored on its own.
type Meal struct {
	Time     string `json:"time"`
	Name     string `json:"name"`
	Item     string `json:"item"`
	Quantity string `json:"quantity"`
	Texture  string `json:"texture"`
	Notes    string `json:"notes,omitempty"`
}

// MealPlan is a validated day of meals for a given age snapshot.
type MealPlan struct {
	PlanDate    time.Time `json:"plan_date"`
	AgeInMonths int       `json:"age_in_months"`
	Meals       []Meal    `json:"meals"`
	Notes       string    `json:"notes,omitempty"`
}

// WhatsAppText renders the plan with WhatsApp markdown.
func (p *MealPlan) WhatsAppText() string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Meal Plan - %s*\n\n", p.PlanDate.Format(DateLayout))
	for _, m := range p.Meals {
		fmt.Fprintf(&b, "*%s* (%s)\n", m.Name, m.Time)
		b.WriteString(m.Item + "\n")
		fmt.Fprintf(&b, "  Qty: %s | Texture: %s\n", m.Quantity, m.Texture)
		if m.Notes != "" {
			b.WriteString("  " + m.Notes + "\n")
		}
		b.WriteString("\n")
	}
	if p.Notes != "" {
		fmt.Fprintf(&b, "_%s_", p.Notes)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Story is a generated bedtime story.
type Story struct {
	AgeBucket string `json:"age_bucket"`
	Language  string `json:"language"`
	Text      string `json:"text"`
}

// WhatsAppText renders the story with a heading.
func (s *Story) WhatsAppText() string {
	return "*Bedtime Story* 🌙\n\n" + s.Text
}

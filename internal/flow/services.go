package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/NutriNest/internal/models"
	"github.com/BTreeMap/NutriNest/internal/rules"
	"github.com/BTreeMap/NutriNest/internal/store"
)

// User-facing notices shared by services.
const (
	NoProfileMessage   = "No profile found. Send START to create your baby's profile first."
	profileCardFoodMax = 8
)

// Clock returns the current time; tests substitute a fixed one.
type Clock func() time.Time

// ProfileService handles profile lookup, onboarding and formatting.
type ProfileService struct {
	store store.ProfileStore
	rules *rules.Engine
	now   Clock
}

// NewProfileService creates a ProfileService.
func NewProfileService(st store.ProfileStore, engine *rules.Engine, now Clock) *ProfileService {
	if now == nil {
		now = time.Now
	}
	return &ProfileService{store: st, rules: engine, now: now}
}

// Get returns the phone's default profile, or nil when none exists.
func (s *ProfileService) Get(ctx context.Context, phone string) (*models.BabyProfile, error) {
	return s.store.GetProfile(ctx, phone, "")
}

// Save persists p as the phone's default profile.
func (s *ProfileService) Save(ctx context.Context, phone string, p *models.BabyProfile) error {
	p.UpdatedAt = s.now().UTC()
	if err := s.store.SaveProfile(ctx, phone, p); err != nil {
		slog.Error("ProfileService.Save: failed", "phone", phone, "error", err)
		return err
	}
	return nil
}

// CreateDefault saves and returns the onboarding profile for phone.
func (s *ProfileService) CreateDefault(ctx context.Context, phone string) (*models.BabyProfile, error) {
	p := models.NewDefaultProfile(phone, s.now())
	if err := s.Save(ctx, phone, p); err != nil {
		return nil, err
	}
	slog.Info("ProfileService.CreateDefault: onboarded", "phone", phone)
	return p, nil
}

// Format renders the profile card for WhatsApp.
func (s *ProfileService) Format(p *models.BabyProfile) string {
	foods := p.FoodsIntroduced
	if len(foods) > profileCardFoodMax {
		foods = foods[:profileCardFoodMax]
	}
	lines := []string{
		"*Baby Profile*",
		"Name: " + orDefault(p.Name, "-"),
		fmt.Sprintf("Age: %d months", p.AgeInMonths(s.now())),
		"Gender: " + orDefault(p.Gender, "-"),
		"Birth weight: " + formatKg(p.BirthWeightKg) + " kg",
		"Feeding: " + string(p.FeedingType),
		"Preferences: " + orDefault(strings.Join(p.PreferenceStrings(), ", "), "any"),
		"Allergies: " + orDefault(strings.Join(p.Allergies, ", "), "none"),
		"Foods introduced: " + orDefault(strings.Join(foods, ", "), "none"),
		"Location: " + orDefault(p.Location, "-"),
		"",
		s.rules.Disclaimer(),
	}
	return strings.Join(lines, "\n")
}

// Summary is the one-paragraph profile context given to the conversational model.
func (s *ProfileService) Summary(p *models.BabyProfile) string {
	rc := s.rules.RuleContext(p, s.now())
	return fmt.Sprintf("Age: %d months. Feeding: %s. Preferences: %s. Allergies: %s. Foods introduced: %s. Location: %s.",
		rc.AgeMonths,
		p.FeedingType,
		orDefault(strings.Join(rc.Preferences, ", "), "any"),
		orDefault(strings.Join(rc.Allergies, ", "), "none"),
		orDefault(strings.Join(p.FoodsIntroduced, ", "), "none"),
		orDefault(p.Location, "not set"),
	)
}

func formatKg(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// MealPlanService produces today's meal plan for a phone.
type MealPlanService struct {
	gen      *Generator
	profiles store.ProfileStore
	rules    *rules.Engine
	now      Clock
}

// NewMealPlanService creates a MealPlanService.
func NewMealPlanService(gen *Generator, profiles store.ProfileStore, engine *rules.Engine, now Clock) *MealPlanService {
	if now == nil {
		now = time.Now
	}
	return &MealPlanService{gen: gen, profiles: profiles, rules: engine, now: now}
}

// TodayPlan returns today's plan. Failures carry a models.Notice with the
// text to show the parent.
func (s *MealPlanService) TodayPlan(ctx context.Context, phone string, c MealConstraints) (*models.MealPlan, error) {
	p, err := s.profiles.GetProfile(ctx, phone, "")
	if err != nil {
		slog.Error("MealPlanService.TodayPlan: profile lookup failed", "phone", phone, "error", err)
		return nil, models.NewNotice(s.failure("your meal plan"), err)
	}
	if p == nil {
		return nil, models.NewNotice(NoProfileMessage, nil)
	}
	plan, err := s.gen.GenerateMealPlan(ctx, p, s.now(), c)
	if err != nil {
		slog.Error("MealPlanService.TodayPlan: generation failed", "phone", phone, "error", err)
		return nil, models.NewNotice(s.failure("your meal plan"), err)
	}
	return plan, nil
}

func (s *MealPlanService) failure(what string) string {
	return fmt.Sprintf("Sorry, we couldn't generate %s. %s", what, s.rules.Disclaimer())
}

// StoryService produces bedtime stories for a phone.
type StoryService struct {
	gen      *Generator
	profiles store.ProfileStore
	rules    *rules.Engine
	now      Clock
}

// NewStoryService creates a StoryService.
func NewStoryService(gen *Generator, profiles store.ProfileStore, engine *rules.Engine, now Clock) *StoryService {
	if now == nil {
		now = time.Now
	}
	return &StoryService{gen: gen, profiles: profiles, rules: engine, now: now}
}

// Story returns a bedtime story. Failures carry a models.Notice.
func (s *StoryService) Story(ctx context.Context, phone, language string) (*models.Story, error) {
	p, err := s.profiles.GetProfile(ctx, phone, "")
	if err != nil {
		slog.Error("StoryService.Story: profile lookup failed", "phone", phone, "error", err)
		return nil, models.NewNotice(s.failure(), err)
	}
	if p == nil {
		return nil, models.NewNotice(NoProfileMessage, nil)
	}
	story, err := s.gen.GenerateStory(ctx, p, language, s.now())
	if err != nil {
		slog.Error("StoryService.Story: generation failed", "phone", phone, "error", err)
		return nil, models.NewNotice(s.failure(), err)
	}
	return story, nil
}

func (s *StoryService) failure() string {
	return "Sorry, we couldn't generate a story. " + s.rules.Disclaimer()
}

package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/NutriNest/internal/genai"
	"github.com/BTreeMap/NutriNest/internal/models"
	"github.com/BTreeMap/NutriNest/internal/rules"
	"github.com/openai/openai-go"
)

// Token budgets for generation calls.
const (
	MealPlanMaxTokens = 1024
	StoryMaxTokens    = 512
)

// DefaultStoryLanguage is used when no language is requested.
const DefaultStoryLanguage = "en"

// FallbackStoryText replaces an empty model answer.
const FallbackStoryText = "Once upon a time, in a cozy home in India, a little baby went to sleep. The end."

const generationSystemPrompt = `You are a pediatric nutrition assistant following WHO and Indian Academy of Pediatrics complementary feeding guidelines.
You must never suggest unsafe foods or incorrect textures.
Never add salt, sugar, or honey for babies under 12 months.
Never suggest whole nuts for young children.
Do not give medical advice - only nutrition guidance.
Use simple Indian foods. Quantities in spoons. Output valid JSON when asked.`

const mealPlanPromptTemplate = `Generate a daily meal plan (exactly 4 meals) for a baby.

Context:
- Age: %d months
- Feeding type: %s
- Preferences: %s
- Allergies (AVOID these): %s
- Foods already introduced (prioritise rotation): %s
- Location: %s
- Current weight (kg): %s

Rules (MUST follow):
- Use ONLY age-appropriate textures: %s
- Quantities in spoons (e.g. 2-3 spoons)
- Simple Indian foods
- 4 meals: breakfast, mid-morning, lunch, evening/dinner
- No salt, sugar, honey if under 12 months
%s
Respond with ONLY a JSON object, no other text:
{
  "meals": [
    {"time": "07:00-09:00", "name": "breakfast", "item": "...", "quantity": "...", "texture": "..."},
    ...
  ],
  "notes": "optional brief note"
}

Output exactly 4 meals. Valid texture values: %s`

const storyPromptTemplate = `Create a 60-90 second bedtime story suitable for a baby.
- Age bucket: %s
- Language: %s
- Use simple language, Indian context, gentle moral
- No scary elements
- Warm and soothing tone

Output ONLY the story text, nothing else.`

// mealSlots are the positional defaults for the four daily meals.
var mealSlots = [models.MealsPerPlan]struct{ time, name string }{
	{"07:00-09:00", "breakfast"},
	{"10:00-11:00", "mid_morning"},
	{"12:00-14:00", "lunch"},
	{"16:00-18:00", "evening"},
}

var fencedBlock = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)```")

// MealConstraints are per-request adjustments to a meal plan.
type MealConstraints struct {
	Exclude  []string // foods to avoid today, enforced like allergies
	Include  []string // foods to try to include
	SwapMeal string   // meal slot the parent wants replaced
}

func (c MealConstraints) empty() bool {
	return len(c.Exclude) == 0 && len(c.Include) == 0 && c.SwapMeal == ""
}

// Generator turns profiles into meal plans and stories using the LLM and
// the rule engine.
type Generator struct {
	llm   genai.ChatService
	rules *rules.Engine
}

// NewGenerator creates a Generator.
func NewGenerator(llm genai.ChatService, engine *rules.Engine) *Generator {
	return &Generator{llm: llm, rules: engine}
}

// MealPlanPrompt builds the user prompt for a plan. It is deterministic for a
// given profile, date and constraints.
func (g *Generator) MealPlanPrompt(p *models.BabyProfile, date time.Time, c MealConstraints) string {
	rc := g.rules.RuleContext(p, date)
	allowed := strings.Join(g.rules.AllowedTextures(rc.AgeMonths), ", ")
	weight := "not provided"
	if p.CurrentWeightKg != nil {
		weight = strconv.FormatFloat(*p.CurrentWeightKg, 'f', -1, 64)
	}
	return fmt.Sprintf(mealPlanPromptTemplate,
		rc.AgeMonths,
		p.FeedingType,
		orDefault(strings.Join(rc.Preferences, ", "), "any"),
		orDefault(strings.Join(rc.Allergies, ", "), "none"),
		orDefault(strings.Join(p.FoodsIntroduced, ", "), "starting solids"),
		orDefault(p.Location, "India"),
		weight,
		allowed,
		constraintLines(c),
		allowed,
	)
}

func constraintLines(c MealConstraints) string {
	if c.empty() {
		return ""
	}
	var b strings.Builder
	b.WriteString("\nParent requests for today:\n")
	if len(c.Exclude) > 0 {
		fmt.Fprintf(&b, "- Do NOT use: %s\n", strings.Join(c.Exclude, ", "))
	}
	if len(c.Include) > 0 {
		fmt.Fprintf(&b, "- Try to include: %s\n", strings.Join(c.Include, ", "))
	}
	if c.SwapMeal != "" {
		fmt.Fprintf(&b, "- Offer a different option for: %s\n", c.SwapMeal)
	}
	return b.String()
}

// GenerateMealPlan asks the model for a day of meals and runs the result
// through the rule engine. Malformed model output yields fewer meals, never
// an error; only a failed model call is returned as an error.
func (g *Generator) GenerateMealPlan(ctx context.Context, p *models.BabyProfile, date time.Time, c MealConstraints) (*models.MealPlan, error) {
	date = models.DateOnly(date)
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(generationSystemPrompt),
		openai.UserMessage(g.MealPlanPrompt(p, date, c)),
	}
	raw, err := g.llm.Chat(ctx, messages, genai.MaxTokens(MealPlanMaxTokens))
	if err != nil {
		return nil, fmt.Errorf("meal plan generation failed: %w", err)
	}

	candidates := ParseMeals(raw)
	meals := g.rules.ValidateAndFilterMeals(p, candidates, date, c.Exclude...)
	if len(meals) > models.MealsPerPlan {
		meals = meals[:models.MealsPerPlan]
	}
	slog.Debug("Generator.GenerateMealPlan: plan ready", "candidates", len(candidates), "meals", len(meals))
	return &models.MealPlan{
		PlanDate:    date,
		AgeInMonths: p.AgeInMonths(date),
		Meals:       meals,
		Notes:       g.rules.Disclaimer(),
	}, nil
}

// ParseMeals decodes the model's meal JSON, tolerating a fenced code block
// wrapper. Up to the first four entries are kept with blank fields backfilled
// by position. Undecodable input yields no meals.
func ParseMeals(raw string) []models.Meal {
	text := strings.TrimSpace(raw)
	if strings.Contains(text, "```") {
		if m := fencedBlock.FindStringSubmatch(text); m != nil {
			text = strings.TrimSpace(m[1])
		}
	}

	var payload struct {
		Meals []json.RawMessage `json:"meals"`
	}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		slog.Warn("ParseMeals: failed to parse meal plan JSON", "error", err, "raw", truncate(raw, 200))
		return nil
	}

	entries := payload.Meals
	if len(entries) > models.MealsPerPlan {
		entries = entries[:models.MealsPerPlan]
	}
	meals := make([]models.Meal, 0, len(entries))
	for i, entry := range entries {
		var fields map[string]any
		if err := json.Unmarshal(entry, &fields); err != nil || fields == nil {
			continue
		}
		slot := mealSlots[i]
		meals = append(meals, models.Meal{
			Time:     orDefault(field(fields, "time"), slot.time),
			Name:     orDefault(field(fields, "name"), slot.name),
			Item:     orDefault(field(fields, "item"), "Consult pediatrician"),
			Quantity: orDefault(field(fields, "quantity"), "-"),
			Texture:  orDefault(field(fields, "texture"), "soft"),
			Notes:    field(fields, "notes"),
		})
	}
	return meals
}

// field renders a JSON value as trimmed text; null and absent are empty.
func field(fields map[string]any, key string) string {
	v, ok := fields[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// GenerateStory asks the model for a bedtime story matched to the baby's age
// bucket. An empty answer is replaced with FallbackStoryText.
func (g *Generator) GenerateStory(ctx context.Context, p *models.BabyProfile, language string, now time.Time) (*models.Story, error) {
	language = orDefault(strings.TrimSpace(language), DefaultStoryLanguage)
	bucket := g.rules.AgeBucket(p.AgeInMonths(now))
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(generationSystemPrompt),
		openai.UserMessage(fmt.Sprintf(storyPromptTemplate, bucket, language)),
	}
	text, err := g.llm.Chat(ctx, messages, genai.MaxTokens(StoryMaxTokens))
	if err != nil {
		return nil, fmt.Errorf("story generation failed: %w", err)
	}
	return &models.Story{
		AgeBucket: bucket,
		Language:  language,
		Text:      orDefault(strings.TrimSpace(text), FallbackStoryText),
	}, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

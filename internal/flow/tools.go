package flow

import (
	"encoding/json"
	"strings"

	"github.com/BTreeMap/NutriNest/internal/genai"
	"github.com/openai/openai-go"
)

// Tool names exposed to the conversational model.
const (
	ToolGetMealPlan       = "get_meal_plan"
	ToolGetStory          = "get_story"
	ToolLogFoodIntroduced = "log_food_introduced"
	ToolUpdateProfile     = "update_profile"
)

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

// ToolDefinitions returns the fixed tool catalog.
func ToolDefinitions() []openai.ChatCompletionToolParam {
	return []openai.ChatCompletionToolParam{
		genai.FunctionTool(ToolGetMealPlan,
			"Get today's age-appropriate meal plan (4 meals) for the baby. Pass constraints when the parent asks to avoid, include or swap foods.",
			map[string]any{
				"exclude_foods": stringProp("Comma-separated foods to avoid today"),
				"swap_meal":     stringProp("Meal to replace, e.g. breakfast or lunch"),
				"include_foods": stringProp("Comma-separated foods to try to include"),
			}),
		genai.FunctionTool(ToolGetStory,
			"Get a short bedtime story for the baby.",
			nil),
		genai.FunctionTool(ToolLogFoodIntroduced,
			"Record foods the baby has now tried so future plans rotate them.",
			map[string]any{
				"foods": stringProp("Comma-separated foods, e.g. ragi, banana"),
			}, "foods"),
		genai.FunctionTool(ToolUpdateProfile,
			"Update one or more baby profile fields the parent mentioned. Only pass fields that were stated.",
			map[string]any{
				"baby_name":         stringProp("Baby's name"),
				"gender":            stringProp("male, female or other"),
				"birth_weight_kg":   stringProp("Birth weight in kg, e.g. 2.8"),
				"dob":               stringProp("Date of birth as YYYY-MM-DD"),
				"allergies":         stringProp("Comma-separated allergies, or none"),
				"feeding_type":      stringProp("breastfed, formula or mixed"),
				"preferences":       stringProp("Diet: veg, egg, non_veg (comma-separated)"),
				"foods_introduced":  stringProp("Comma-separated foods to add to the introduced list"),
				"location":          stringProp("City or location"),
				"current_weight_kg": stringProp("Current weight in kg, e.g. 7.5"),
				"height_cm":         stringProp("Height in cm, e.g. 68"),
			}),
	}
}

// ToolInvocation is one decoded tool call. The concrete types are
// MealPlanCall, StoryCall, LogFoodsCall, UpdateProfileCall and UnknownCall.
type ToolInvocation interface {
	toolName() string
}

// MealPlanCall requests today's plan with optional constraints.
type MealPlanCall struct {
	Constraints MealConstraints
}

// StoryCall requests a bedtime story.
type StoryCall struct{}

// LogFoodsCall records newly introduced foods.
type LogFoodsCall struct {
	Foods []string
}

// ProfileFieldUpdate is one raw field value from update_profile.
type ProfileFieldUpdate struct {
	Key   FieldKey
	Label string
	Value string
}

// UpdateProfileCall carries the fields present in an update_profile call, in catalog order.
type UpdateProfileCall struct {
	Fields []ProfileFieldUpdate
}

// UnknownCall is a tool name outside the catalog.
type UnknownCall struct {
	Name string
}

func (MealPlanCall) toolName() string      { return ToolGetMealPlan }
func (StoryCall) toolName() string         { return ToolGetStory }
func (LogFoodsCall) toolName() string      { return ToolLogFoodIntroduced }
func (UpdateProfileCall) toolName() string { return ToolUpdateProfile }
func (c UnknownCall) toolName() string     { return c.Name }

// updateProfileArgs maps update_profile arguments to profile fields.
var updateProfileArgs = []struct {
	arg   string
	key   FieldKey
	label string
}{
	{"baby_name", FieldBabyName, "name"},
	{"gender", FieldGender, "gender"},
	{"birth_weight_kg", FieldBirthWeight, "birth weight"},
	{"dob", FieldDOB, "date of birth"},
	{"allergies", FieldAllergies, "allergies"},
	{"feeding_type", FieldFeeding, "feeding type"},
	{"preferences", FieldPreferences, "preferences"},
	{"foods_introduced", FieldFoods, "foods introduced"},
	{"location", FieldLocation, "location"},
	{"current_weight_kg", FieldWeight, "current weight"},
	{"height_cm", FieldHeight, "height"},
}

// DecodeToolCall turns a raw model tool call into its typed variant.
// Malformed arguments decode as an empty argument set.
func DecodeToolCall(call genai.ToolCall) ToolInvocation {
	args := map[string]any{}
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil || args == nil {
			args = map[string]any{}
		}
	}

	switch call.Name {
	case ToolGetMealPlan:
		return MealPlanCall{Constraints: MealConstraints{
			Exclude:  SplitList(field(args, "exclude_foods")),
			Include:  SplitList(field(args, "include_foods")),
			SwapMeal: field(args, "swap_meal"),
		}}
	case ToolGetStory:
		return StoryCall{}
	case ToolLogFoodIntroduced:
		return LogFoodsCall{Foods: SplitList(field(args, "foods"))}
	case ToolUpdateProfile:
		var c UpdateProfileCall
		for _, a := range updateProfileArgs {
			v := field(args, a.arg)
			if strings.TrimSpace(v) == "" {
				continue
			}
			c.Fields = append(c.Fields, ProfileFieldUpdate{Key: a.key, Label: a.label, Value: v})
		}
		return c
	default:
		return UnknownCall{Name: call.Name}
	}
}

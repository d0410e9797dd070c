package flow

import (
	"encoding/json"
	"slices"
	"testing"

	"github.com/BTreeMap/NutriNest/internal/genai"
)

func TestToolDefinitions_Names(t *testing.T) {
	var names []string
	for _, tool := range ToolDefinitions() {
		names = append(names, tool.Function.Name)
	}
	want := []string{ToolGetMealPlan, ToolGetStory, ToolLogFoodIntroduced, ToolUpdateProfile}
	if !slices.Equal(names, want) {
		t.Errorf("tool names = %v, want %v", names, want)
	}
}

func TestDecodeToolCall(t *testing.T) {
	inv := DecodeToolCall(genai.ToolCall{Name: ToolGetMealPlan, Arguments: json.RawMessage(`{"exclude_foods":"banana, egg","swap_meal":"lunch"}`)})
	mp, ok := inv.(MealPlanCall)
	if !ok {
		t.Fatalf("expected MealPlanCall, got %T", inv)
	}
	if !slices.Equal(mp.Constraints.Exclude, []string{"banana", "egg"}) || mp.Constraints.SwapMeal != "lunch" || len(mp.Constraints.Include) != 0 {
		t.Errorf("unexpected constraints %+v", mp.Constraints)
	}

	inv = DecodeToolCall(genai.ToolCall{Name: ToolLogFoodIntroduced, Arguments: json.RawMessage(`{not json`)})
	if lf, ok := inv.(LogFoodsCall); !ok || len(lf.Foods) != 0 {
		t.Errorf("malformed arguments should decode empty, got %#v", inv)
	}

	inv = DecodeToolCall(genai.ToolCall{Name: ToolUpdateProfile, Arguments: json.RawMessage(`{"location":"Pune","baby_name":"Anu","height_cm":"  ","current_weight_kg":7.2}`)})
	up, ok := inv.(UpdateProfileCall)
	if !ok {
		t.Fatalf("expected UpdateProfileCall, got %T", inv)
	}
	var keys []FieldKey
	for _, f := range up.Fields {
		keys = append(keys, f.Key)
	}
	if !slices.Equal(keys, []FieldKey{FieldBabyName, FieldLocation, FieldWeight}) {
		t.Errorf("unexpected field order %v", keys)
	}
	if up.Fields[2].Value != "7.2" {
		t.Errorf("numeric argument should stringify, got %q", up.Fields[2].Value)
	}

	if _, ok := DecodeToolCall(genai.ToolCall{Name: ToolGetStory}).(StoryCall); !ok {
		t.Error("expected StoryCall")
	}
	if u, ok := DecodeToolCall(genai.ToolCall{Name: "send_email"}).(UnknownCall); !ok || u.Name != "send_email" {
		t.Error("expected UnknownCall")
	}
}

package flow

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/BTreeMap/NutriNest/internal/genai"
	"github.com/BTreeMap/NutriNest/internal/models"
)

func call(name string, args any) genai.ToolCall {
	raw, _ := json.Marshal(args)
	return genai.ToolCall{ID: "call_" + name, Name: name, Arguments: raw}
}

func TestConversationFlow_RecordsHistoryOnlyOnAnswer(t *testing.T) {
	d := newTestDeps(t)
	ctx := context.Background()

	d.llm.finalText = "Ragi is a great first food."
	if got := d.convo.Handle(ctx, "+1", "is ragi ok?"); got != "Ragi is a great first food." {
		t.Fatalf("unexpected reply %q", got)
	}
	history, _ := d.store.GetConversation(ctx, "+1")
	if len(history) != 2 || history[0].Role != models.RoleUser || history[1].Content != "Ragi is a great first food." {
		t.Fatalf("unexpected history %+v", history)
	}

	d.llm.finalText = ""
	if got := d.convo.Handle(ctx, "+1", "hmm"); got != ConversationNoAnswer {
		t.Errorf("expected no-answer reply, got %q", got)
	}
	d.llm.toolsErr = errors.New("rate limited")
	if got := d.convo.Handle(ctx, "+1", "again"); got != ConversationFailure {
		t.Errorf("expected failure reply, got %q", got)
	}
	history, _ = d.store.GetConversation(ctx, "+1")
	if len(history) != 2 {
		t.Errorf("failed turns must not be recorded, got %d entries", len(history))
	}
}

func TestConversationFlow_BuildsContextFromProfileAndHistory(t *testing.T) {
	d := newTestDeps(t)
	ctx := context.Background()
	d.store.SaveProfile(ctx, "+1", fiveMonthOld())
	d.store.AppendConversation(ctx, "+1", models.RoleUser, "hello")
	d.store.AppendConversation(ctx, "+1", models.RoleAssistant, "hi there")
	d.llm.finalText = "ok"

	d.convo.Handle(ctx, "+1", "what next?")
	if len(d.llm.toolMessages) != 1 {
		t.Fatalf("expected one model call, got %d", len(d.llm.toolMessages))
	}
	msgs := d.llm.toolMessages[0]
	if len(msgs) != 4 {
		t.Fatalf("expected system + 2 history + user, got %d", len(msgs))
	}
	raw, _ := json.Marshal(msgs[0])
	if !strings.Contains(string(raw), "Age: 5 months. Feeding: breastfed.") {
		t.Errorf("system prompt missing profile summary: %s", raw)
	}
}

func TestConversationFlow_NoProfileThenDefaultPlan(t *testing.T) {
	d := newTestDeps(t)
	ctx := context.Background()

	d.llm.toolRounds = [][]genai.ToolCall{{call(ToolGetMealPlan, map[string]string{})}}
	d.llm.finalText = "Please send START."
	d.convo.Handle(ctx, "+1", "what should she eat today?")
	if len(d.llm.toolResults) != 1 || d.llm.toolResults[0] != NoProfileMessage {
		t.Fatalf("expected no-profile tool result, got %v", d.llm.toolResults)
	}

	if _, err := d.profiles.CreateDefault(ctx, "+1"); err != nil {
		t.Fatalf("CreateDefault failed: %v", err)
	}
	d.llm.chatReplies = []string{`{"meals":[
		{"time":"07:00-09:00","name":"breakfast","item":"ragi porridge","quantity":"2 spoons","texture":"smooth_puree"},
		{"time":"10:00-11:00","name":"mid_morning","item":"mashed banana","quantity":"2 spoons","texture":"mashed"},
		{"time":"12:00-14:00","name":"lunch","item":"moong dal khichdi","quantity":"3 spoons","texture":"chopped"},
		{"time":"16:00-18:00","name":"evening","item":"apple puree","quantity":"2 spoons","texture":"smooth_puree"}
	]}`}
	d.llm.toolResults = nil
	d.convo.Handle(ctx, "+1", "what should she eat today?")

	if len(d.llm.toolResults) != 1 {
		t.Fatalf("expected one tool result, got %d", len(d.llm.toolResults))
	}
	text := d.llm.toolResults[0]
	if got := strings.Count(text, "Qty:"); got != models.MealsPerPlan {
		t.Fatalf("expected %d meals in plan, got %d:\n%s", models.MealsPerPlan, got, text)
	}
	allowed := d.engine.AllowedTextures(5)
	for _, line := range strings.Split(text, "\n") {
		if i := strings.Index(line, "Texture: "); i >= 0 {
			if tex := strings.TrimSpace(line[i+len("Texture: "):]); !slices.Contains(allowed, tex) {
				t.Errorf("texture %q not allowed at 5 months", tex)
			}
		}
	}
	lower := strings.ToLower(text)
	for _, banned := range []string{"salt", "sugar", "honey", "jaggery"} {
		if strings.Contains(lower, banned) {
			t.Errorf("plan mentions %q", banned)
		}
	}
}

func TestConversationFlow_LogFoods(t *testing.T) {
	d := newTestDeps(t)
	ctx := context.Background()
	d.store.SaveProfile(ctx, "+1", fiveMonthOld())
	d.llm.toolRounds = [][]genai.ToolCall{
		{call(ToolLogFoodIntroduced, map[string]string{"foods": "Banana, rice, carrot"})},
		{call(ToolLogFoodIntroduced, map[string]string{"foods": "banana"})},
		{call(ToolLogFoodIntroduced, map[string]string{})},
	}
	d.llm.finalText = "Noted!"
	d.convo.Handle(ctx, "+1", "she had banana and carrot")

	want := []string{
		"Logged 2 new food(s). Foods introduced: rice, Banana, carrot.",
		"Those foods were already logged.",
		"No foods given to log.",
	}
	if !slices.Equal(d.llm.toolResults, want) {
		t.Errorf("tool results = %q, want %q", d.llm.toolResults, want)
	}
	p, _ := d.store.GetProfile(ctx, "+1", "")
	if strings.Join(p.FoodsIntroduced, ",") != "rice,Banana,carrot" {
		t.Errorf("unexpected foods %v", p.FoodsIntroduced)
	}
}

func TestConversationFlow_UpdateProfile(t *testing.T) {
	d := newTestDeps(t)
	ctx := context.Background()
	d.store.SaveProfile(ctx, "+1", fiveMonthOld())
	d.llm.toolRounds = [][]genai.ToolCall{
		{call(ToolUpdateProfile, map[string]string{
			"baby_name":         "Aarav",
			"current_weight_kg": "900",
			"location":          "Chennai",
			"dob":               "not a date",
		})},
		{call(ToolUpdateProfile, map[string]string{"height_cm": "abc"})},
		{call(ToolUpdateProfile, map[string]string{
			"current_weight_kg": "NaN",
			"height_cm":         "Inf",
			"feeding_type":      "mixed",
		})},
		{call(ToolUpdateProfile, map[string]string{
			"foods_introduced": "Rice",
			"gender":           "girl",
		})},
	}
	d.llm.finalText = "Done."
	d.convo.Handle(ctx, "+1", "his name is Aarav, we live in Chennai")

	want := []string{
		"Profile updated: name, location.",
		"No valid profile fields to update.",
		"Profile updated: feeding type.",
		"Profile updated: gender.",
	}
	if !slices.Equal(d.llm.toolResults, want) {
		t.Errorf("tool results = %q, want %q", d.llm.toolResults, want)
	}
	p, _ := d.store.GetProfile(ctx, "+1", "")
	if p.Name != "Aarav" || p.Location != "Chennai" || p.CurrentWeightKg != nil || p.HeightCm != nil {
		t.Errorf("unexpected profile %+v", p)
	}
	if !p.DOB.Equal(fiveMonthOld().DOB) {
		t.Error("invalid dob must leave the stored value untouched")
	}
	if p.FeedingType != models.FeedingMixed || p.Gender != models.GenderFemale {
		t.Errorf("valid fields beside rejected ones were not applied: %+v", p)
	}
	if strings.Join(p.FoodsIntroduced, ",") != "rice" {
		t.Errorf("unexpected foods %v", p.FoodsIntroduced)
	}
}

func TestConversationFlow_UnknownToolAndStory(t *testing.T) {
	d := newTestDeps(t)
	ctx := context.Background()
	d.store.SaveProfile(ctx, "+1", fiveMonthOld())
	d.llm.chatReplies = []string{"Once upon a time."}
	d.llm.toolRounds = [][]genai.ToolCall{
		{call("get_weather", nil), call(ToolGetStory, nil)},
	}
	d.llm.finalText = "Here is a story."
	if got := d.convo.Handle(ctx, "+1", "tell a story"); got != "Here is a story." {
		t.Fatalf("unexpected reply %q", got)
	}
	if d.llm.toolResults[0] != "Unknown tool: get_weather" {
		t.Errorf("unexpected unknown-tool result %q", d.llm.toolResults[0])
	}
	if d.llm.toolResults[1] != "*Bedtime Story* 🌙\n\nOnce upon a time." {
		t.Errorf("unexpected story result %q", d.llm.toolResults[1])
	}
}

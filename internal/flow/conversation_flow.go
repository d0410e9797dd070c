package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/NutriNest/internal/genai"
	"github.com/BTreeMap/NutriNest/internal/models"
	"github.com/BTreeMap/NutriNest/internal/store"
	"github.com/openai/openai-go"
)

// Conversational defaults.
const (
	DefaultToolIterations  = 5
	ConversationMaxTokens  = 1024
	ConversationFailure    = "Sorry, I couldn't process that. Try commands: START, PROFILE, TODAY, STORY."
	ConversationNoAnswer   = "I'm not sure how to help with that. Try: TODAY for meals, STORY for a bedtime story."
	NoProfileContext       = "No profile yet. If user asks for meal plan or story, the tool will return a message asking them to send START first."
	conversationPromptBase = `You are a friendly pediatric nutrition assistant for parents. Follow WHO and Indian Academy of Pediatrics guidelines.
You have access to tools: get_meal_plan (today's 4 meals), get_story (bedtime story), log_food_introduced (record foods the baby has tried) and update_profile (change profile details the parent tells you). Use them when the user asks for meals or a story, mentions a new food, or shares profile details.
For general questions about feeding, textures, food safety, answer briefly. Never give medical advice - say "Consult your pediatrician for medical concerns."
Keep responses short and WhatsApp-friendly (no long paragraphs).

Baby profile context:
%s
`
)

// ConversationFlow answers free text with the LLM and the tool catalog.
type ConversationFlow struct {
	llm           genai.ChatService
	profiles      *ProfileService
	meals         *MealPlanService
	stories       *StoryService
	history       store.ConversationStore
	maxIterations int
	now           Clock
}

// ConversationOption configures a ConversationFlow.
type ConversationOption func(*ConversationFlow)

// WithMaxToolIterations bounds the tool-calling loop.
func WithMaxToolIterations(n int) ConversationOption {
	return func(f *ConversationFlow) {
		if n > 0 {
			f.maxIterations = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now Clock) ConversationOption {
	return func(f *ConversationFlow) {
		if now != nil {
			f.now = now
		}
	}
}

// NewConversationFlow wires the conversational router.
func NewConversationFlow(llm genai.ChatService, profiles *ProfileService, meals *MealPlanService, stories *StoryService, history store.ConversationStore, opts ...ConversationOption) *ConversationFlow {
	f := &ConversationFlow{
		llm:           llm,
		profiles:      profiles,
		meals:         meals,
		stories:       stories,
		history:       history,
		maxIterations: DefaultToolIterations,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Handle runs one conversational turn and always returns text for the parent.
// History is only extended when the turn produced an answer.
func (f *ConversationFlow) Handle(ctx context.Context, phone, userMessage string) string {
	messages, err := f.buildMessages(ctx, phone, userMessage)
	if err != nil {
		slog.Error("ConversationFlow.Handle: failed to build messages", "phone", phone, "error", err)
		return ConversationFailure
	}

	exec := func(ctx context.Context, call genai.ToolCall) (string, error) {
		return f.executeTool(ctx, phone, call)
	}
	reply, err := f.llm.ChatWithTools(ctx, messages, ToolDefinitions(), exec,
		genai.MaxTokens(ConversationMaxTokens), genai.MaxIterations(f.maxIterations))
	if err != nil {
		slog.Error("ConversationFlow.Handle: conversation failed", "phone", phone, "error", err)
		return ConversationFailure
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return ConversationNoAnswer
	}

	if err := f.history.AppendConversation(ctx, phone, models.RoleUser, userMessage); err != nil {
		slog.Warn("ConversationFlow.Handle: failed to record user message", "phone", phone, "error", err)
	} else if err := f.history.AppendConversation(ctx, phone, models.RoleAssistant, reply); err != nil {
		slog.Warn("ConversationFlow.Handle: failed to record reply", "phone", phone, "error", err)
	}
	return reply
}

// buildMessages assembles system prompt, bounded history and the new message.
func (f *ConversationFlow) buildMessages(ctx context.Context, phone, userMessage string) ([]openai.ChatCompletionMessageParamUnion, error) {
	profileContext := NoProfileContext
	p, err := f.profiles.Get(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("profile lookup failed: %w", err)
	}
	if p != nil {
		profileContext = f.profiles.Summary(p)
	}

	history, err := f.history.GetConversation(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("history lookup failed: %w", err)
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	messages = append(messages, openai.SystemMessage(fmt.Sprintf(conversationPromptBase, profileContext)))
	for _, h := range history {
		switch h.Role {
		case models.RoleUser:
			messages = append(messages, openai.UserMessage(h.Content))
		case models.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(h.Content))
		}
	}
	messages = append(messages, openai.UserMessage(userMessage))
	slog.Debug("ConversationFlow.buildMessages: context ready", "phone", phone, "history", len(history), "hasProfile", p != nil)
	return messages, nil
}

// executeTool dispatches one decoded tool call. Notices become the tool
// result so the model can relay them; other errors fail the turn.
func (f *ConversationFlow) executeTool(ctx context.Context, phone string, call genai.ToolCall) (string, error) {
	inv := DecodeToolCall(call)
	slog.Info("ConversationFlow.executeTool", "phone", phone, "tool", inv.toolName(), "args", genai.FormatArgumentsForLog(call.Arguments))

	var (
		result string
		err    error
	)
	switch c := inv.(type) {
	case MealPlanCall:
		var plan *models.MealPlan
		if plan, err = f.meals.TodayPlan(ctx, phone, c.Constraints); err == nil {
			result = plan.WhatsAppText()
		}
	case StoryCall:
		var story *models.Story
		if story, err = f.stories.Story(ctx, phone, DefaultStoryLanguage); err == nil {
			result = story.WhatsAppText()
		}
	case LogFoodsCall:
		result, err = f.logFoods(ctx, phone, c.Foods)
	case UpdateProfileCall:
		result, err = f.updateProfile(ctx, phone, c)
	case UnknownCall:
		slog.Warn("ConversationFlow.executeTool: unknown tool", "phone", phone, "tool", c.Name)
		result = "Unknown tool: " + c.Name
	}

	if msg, ok := models.NoticeMessage(err); ok {
		return msg, nil
	}
	return result, err
}

// logFoods merges foods into the introduced list.
func (f *ConversationFlow) logFoods(ctx context.Context, phone string, foods []string) (string, error) {
	p, err := f.requireProfile(ctx, phone)
	if err != nil {
		return "", err
	}
	if len(foods) == 0 {
		return "No foods given to log.", nil
	}
	added := p.MergeFoods(foods)
	if added == 0 {
		return "Those foods were already logged.", nil
	}
	if err := f.profiles.Save(ctx, phone, p); err != nil {
		return "", fmt.Errorf("failed to save foods: %w", err)
	}
	return fmt.Sprintf("Logged %d new food(s). Foods introduced: %s.", added, strings.Join(p.FoodsIntroduced, ", ")), nil
}

// updateProfile applies each field independently and saves when any applied.
func (f *ConversationFlow) updateProfile(ctx context.Context, phone string, c UpdateProfileCall) (string, error) {
	p, err := f.requireProfile(ctx, phone)
	if err != nil {
		return "", err
	}
	var applied []string
	for _, fu := range c.Fields {
		if IsSkip(fu.Value) {
			continue
		}
		foods := len(p.FoodsIntroduced)
		if _, err := ApplyField(p, fu.Key, fu.Value, f.now()); err != nil {
			var fe *FieldError
			if !errors.As(err, &fe) {
				return "", err
			}
			slog.Debug("ConversationFlow.updateProfile: skipped invalid field", "phone", phone, "field", fu.Key, "reason", fe.Message)
			continue
		}
		if fu.Key == FieldFoods && len(p.FoodsIntroduced) == foods {
			continue
		}
		applied = append(applied, fu.Label)
	}
	if len(applied) == 0 {
		return "No valid profile fields to update.", nil
	}
	if err := f.profiles.Save(ctx, phone, p); err != nil {
		return "", fmt.Errorf("failed to save profile: %w", err)
	}
	return "Profile updated: " + strings.Join(applied, ", ") + ".", nil
}

func (f *ConversationFlow) requireProfile(ctx context.Context, phone string) (*models.BabyProfile, error) {
	p, err := f.profiles.Get(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("profile lookup failed: %w", err)
	}
	if p == nil {
		return nil, models.NewNotice(NoProfileMessage, nil)
	}
	return p, nil
}

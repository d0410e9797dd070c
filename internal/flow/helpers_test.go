package flow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/NutriNest/internal/genai"
	"github.com/BTreeMap/NutriNest/internal/rules"
	"github.com/BTreeMap/NutriNest/internal/store"
	"github.com/openai/openai-go"
)

// NewMockStateManager creates a mock state manager for testing
func NewMockStateManager() StateManager {
	return NewStoreBasedStateManager(store.NewInMemoryStore())
}

// mockChatService scripts LLM behaviour. Chat replies are consumed in order;
// ChatWithTools runs each scripted round of tool calls through the executor
// and then returns finalText.
type mockChatService struct {
	mu          sync.Mutex
	chatReplies []string
	chatErr     error
	chatCalls   [][]openai.ChatCompletionMessageParamUnion

	toolRounds   [][]genai.ToolCall
	finalText    string
	toolsErr     error
	toolResults  []string
	toolMessages [][]openai.ChatCompletionMessageParamUnion
}

func (m *mockChatService) Chat(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, opts ...genai.CallOption) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chatCalls = append(m.chatCalls, messages)
	if m.chatErr != nil {
		return "", m.chatErr
	}
	if len(m.chatReplies) == 0 {
		return "", nil
	}
	reply := m.chatReplies[0]
	m.chatReplies = m.chatReplies[1:]
	return reply, nil
}

func (m *mockChatService) ChatWithTools(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam, exec genai.ToolExecutor, opts ...genai.CallOption) (string, error) {
	m.toolMessages = append(m.toolMessages, messages)
	if m.toolsErr != nil {
		return "", m.toolsErr
	}
	for _, round := range m.toolRounds {
		for _, call := range round {
			res, err := exec(ctx, call)
			if err != nil {
				return "", err
			}
			m.toolResults = append(m.toolResults, res)
		}
	}
	return m.finalText, nil
}

// fixedClock pins "now" for deterministic ages.
func fixedClock(y int, mo time.Month, d int) Clock {
	t := time.Date(y, mo, d, 10, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

type testDeps struct {
	store    *store.InMemoryStore
	llm      *mockChatService
	engine   *rules.Engine
	gen      *Generator
	profiles *ProfileService
	meals    *MealPlanService
	stories  *StoryService
	convo    *ConversationFlow
	now      Clock
}

func newTestDeps(t *testing.T) *testDeps {
	t.Helper()
	engine, err := rules.NewEngine()
	if err != nil {
		t.Fatalf("rules.NewEngine failed: %v", err)
	}
	st := store.NewInMemoryStore()
	llm := &mockChatService{}
	now := fixedClock(2024, time.July, 14)
	gen := NewGenerator(llm, engine)
	profiles := NewProfileService(st, engine, now)
	meals := NewMealPlanService(gen, st, engine, now)
	stories := NewStoryService(gen, st, engine, now)
	return &testDeps{
		store:    st,
		llm:      llm,
		engine:   engine,
		gen:      gen,
		profiles: profiles,
		meals:    meals,
		stories:  stories,
		convo:    NewConversationFlow(llm, profiles, meals, stories, st, WithClock(now)),
		now:      now,
	}
}

package messaging

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/NutriNest/internal/flow"
	"github.com/BTreeMap/NutriNest/internal/genai"
	"github.com/BTreeMap/NutriNest/internal/rules"
	"github.com/BTreeMap/NutriNest/internal/store"
	"github.com/openai/openai-go"
)

// stubChat answers every Chat with chatReply and every tool conversation with toolReply.
type stubChat struct {
	mu        sync.Mutex
	chatReply string
	toolReply string
	toolCalls int
}

func (s *stubChat) Chat(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, opts ...genai.CallOption) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatReply, nil
}

func (s *stubChat) ChatWithTools(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam, exec genai.ToolExecutor, opts ...genai.CallOption) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolCalls++
	return s.toolReply, nil
}

type routerDeps struct {
	store  *store.InMemoryStore
	llm    *stubChat
	router *Router
}

func newTestRouter(t *testing.T, opts ...RouterOption) *routerDeps {
	t.Helper()
	engine, err := rules.NewEngine()
	if err != nil {
		t.Fatalf("rules.NewEngine failed: %v", err)
	}
	st := store.NewInMemoryStore()
	llm := &stubChat{}
	now := func() time.Time { return time.Date(2024, time.July, 14, 10, 0, 0, 0, time.UTC) }
	gen := flow.NewGenerator(llm, engine)
	profiles := flow.NewProfileService(st, engine, now)
	meals := flow.NewMealPlanService(gen, st, engine, now)
	stories := flow.NewStoryService(gen, st, engine, now)
	update := flow.NewProfileUpdateFlow(flow.NewStoreBasedStateManager(st), profiles.Save, now)
	convo := flow.NewConversationFlow(llm, profiles, meals, stories, st, flow.WithClock(now))
	return &routerDeps{
		store:  st,
		llm:    llm,
		router: NewRouter(profiles, meals, stories, update, convo, nil, opts...),
	}
}

// recordingRouter echoes input and tracks how many turns overlap per phone.
type recordingRouter struct {
	mu        sync.Mutex
	calls     int
	active    map[string]int
	maxActive int
	delay     time.Duration
}

func (r *recordingRouter) Route(ctx context.Context, phone, text string) string {
	r.mu.Lock()
	if r.active == nil {
		r.active = make(map[string]int)
	}
	r.calls++
	r.active[phone]++
	if r.active[phone] > r.maxActive {
		r.maxActive = r.active[phone]
	}
	r.mu.Unlock()

	time.Sleep(r.delay)

	r.mu.Lock()
	r.active[phone]--
	r.mu.Unlock()
	return "echo: " + text
}

func (r *recordingRouter) stats() (calls, maxActive int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls, r.maxActive
}

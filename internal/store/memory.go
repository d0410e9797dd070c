package store

import (
	"context"
	"sync"
	"time"

	"github.com/BTreeMap/NutriNest/internal/models"
)

// InMemoryStore keeps everything in process memory. Data is lost on restart.
type InMemoryStore struct {
	mu            sync.RWMutex
	limit         int
	profiles      map[string]map[string]*models.BabyProfile
	defaultBaby   map[string]string
	conversations map[string][]models.ConversationMessage
	flowStates    map[string]models.FlowState
	dedup         map[string]*DedupRecord
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore(opts ...Option) *InMemoryStore {
	cfg := applyOptions(opts)
	return &InMemoryStore{
		limit:         cfg.ConversationLimit,
		profiles:      make(map[string]map[string]*models.BabyProfile),
		defaultBaby:   make(map[string]string),
		conversations: make(map[string][]models.ConversationMessage),
		flowStates:    make(map[string]models.FlowState),
		dedup:         make(map[string]*DedupRecord),
	}
}

func (s *InMemoryStore) GetProfile(ctx context.Context, phone, babyID string) (*models.BabyProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if babyID == "" {
		babyID = s.defaultBaby[phone]
		if babyID == "" {
			return nil, nil
		}
	}
	p, ok := s.profiles[phone][babyID]
	if !ok {
		return nil, nil
	}
	return p.Clone(), nil
}

func (s *InMemoryStore) SaveProfile(ctx context.Context, phone string, p *models.BabyProfile) error {
	if p == nil {
		return ErrNilProfile
	}
	c := p.Clone()
	c.Phone = phone
	if c.BabyID == "" {
		c.BabyID = models.DefaultBabyID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profiles[phone] == nil {
		s.profiles[phone] = make(map[string]*models.BabyProfile)
	}
	s.profiles[phone][c.BabyID] = c
	s.defaultBaby[phone] = c.BabyID
	return nil
}

func (s *InMemoryStore) GetConversation(ctx context.Context, phone string) ([]models.ConversationMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ConversationMessage(nil), s.conversations[phone]...), nil
}

func (s *InMemoryStore) AppendConversation(ctx context.Context, phone, role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := append(s.conversations[phone], models.ConversationMessage{Role: role, Content: content, Timestamp: time.Now().UTC()})
	if len(msgs) > s.limit {
		msgs = append([]models.ConversationMessage(nil), msgs[len(msgs)-s.limit:]...)
	}
	s.conversations[phone] = msgs
	return nil
}

func flowKey(phone string, flowType models.FlowType) string {
	return phone + "|" + string(flowType)
}

func (s *InMemoryStore) SaveFlowState(ctx context.Context, state models.FlowState) error {
	data := make(map[models.DataKey]string, len(state.StateData))
	for k, v := range state.StateData {
		data[k] = v
	}
	state.StateData = data
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flowStates[flowKey(state.Phone, state.FlowType)] = state
	return nil
}

func (s *InMemoryStore) GetFlowState(ctx context.Context, phone string, flowType models.FlowType) (*models.FlowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.flowStates[flowKey(phone, flowType)]
	if !ok {
		return nil, nil
	}
	data := make(map[models.DataKey]string, len(st.StateData))
	for k, v := range st.StateData {
		data[k] = v
	}
	st.StateData = data
	return &st, nil
}

func (s *InMemoryStore) DeleteFlowState(ctx context.Context, phone string, flowType models.FlowType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flowStates, flowKey(phone, flowType))
	return nil
}

func (s *InMemoryStore) IsDuplicate(ctx context.Context, messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.dedup[messageID]
	return ok, nil
}

func (s *InMemoryStore) RecordInbound(ctx context.Context, messageID, phone string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedup[messageID]; ok {
		return false, nil
	}
	s.dedup[messageID] = &DedupRecord{MessageID: messageID, Phone: phone, ReceivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.dedup[messageID]; ok {
		now := time.Now()
		rec.ProcessedAt = &now
	}
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }

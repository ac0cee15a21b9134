package store

import (
	"context"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// InMemoryStore keeps everything in process memory. Used by tests and the console chat.
type InMemoryStore struct {
	mu            sync.RWMutex
	threads       map[string]string
	taggerThreads map[string]string
	messages      map[string][]models.Message
	leads         map[string]models.Lead
	statuses      map[string]models.ConversationStatus
}

var _ Store = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		threads:       make(map[string]string),
		taggerThreads: make(map[string]string),
		messages:      make(map[string][]models.Message),
		leads:         make(map[string]models.Lead),
		statuses:      make(map[string]models.ConversationStatus),
	}
}

func (s *InMemoryStore) GetThreadID(_ context.Context, conversationID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threads[conversationID], nil
}

func (s *InMemoryStore) SetThreadID(_ context.Context, conversationID, threadID string) error {
	if err := validateConversationID(conversationID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[conversationID] = threadID
	return nil
}

func (s *InMemoryStore) GetTaggerThreadID(_ context.Context, conversationID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.taggerThreads[conversationID], nil
}

func (s *InMemoryStore) SetTaggerThreadID(_ context.Context, conversationID, threadID string) error {
	if err := validateConversationID(conversationID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taggerThreads[conversationID] = threadID
	return nil
}

func (s *InMemoryStore) AppendMessage(_ context.Context, conversationID string, msg models.Message) error {
	if err := validateConversationID(conversationID); err != nil {
		return err
	}
	msg.Timestamp = stamp(msg.Timestamp)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	return nil
}

// History returns a copy of the conversation in insertion order.
func (s *InMemoryStore) History(_ context.Context, conversationID string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[conversationID]
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *InMemoryStore) UpsertLeadFacts(_ context.Context, phone string, facts models.LeadFacts) (models.Lead, error) {
	if err := validatePhone(phone); err != nil {
		return models.Lead{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	lead := s.leads[phone]
	lead.Phone = phone
	lead.Facts = lead.Facts.Merge(facts)
	lead.UpdatedAt = time.Now().UTC()
	s.leads[phone] = lead
	return lead, nil
}

func (s *InMemoryStore) GetLead(_ context.Context, phone string) (models.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lead, ok := s.leads[phone]
	if !ok {
		return models.Lead{}, ErrNotFound
	}
	return lead, nil
}

func (s *InMemoryStore) UpdateConversationStatus(_ context.Context, conversationID string, status models.ConversationStatus) error {
	if err := validateConversationID(conversationID); err != nil {
		return err
	}
	if err := status.Validate(); err != nil {
		return err
	}
	status.UpdatedAt = stamp(status.UpdatedAt)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[conversationID] = status
	return nil
}

func (s *InMemoryStore) GetConversationStatus(_ context.Context, conversationID string) (models.ConversationStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.statuses[conversationID]
	if !ok {
		return models.ConversationStatus{}, ErrNotFound
	}
	return status, nil
}

func (s *InMemoryStore) Close() error { return nil }

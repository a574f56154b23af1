package chat

import (
	"sort"
	"sync"
	"time"

	"github.com/libroom/chatkit/internal/model"
)

// Store holds the conversation list, most recently active first. Exactly one
// entry per conversation id; any event touching a conversation promotes it to
// the front.
type Store struct {
	mu    sync.RWMutex
	convs []model.Conversation
}

func NewStore() *Store {
	return &Store{}
}

// ReplaceAll swaps local state wholesale for a full refresh from the backend.
func (s *Store) ReplaceAll(list []model.Conversation) {
	convs := make([]model.Conversation, len(list))
	copy(convs, list)
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
	s.mu.Lock()
	s.convs = convs
	s.mu.Unlock()
}

func (s *Store) Snapshot() []model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Conversation, len(s.convs))
	copy(out, s.convs)
	return out
}

func (s *Store) Get(id string) (model.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.convs {
		if s.convs[i].ID == id {
			return s.convs[i], true
		}
	}
	return model.Conversation{}, false
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.convs)
}

// UpsertFromEvent merges a pushed conversation delta. An existing entry keeps
// fields the delta leaves empty; either way the conversation moves to the
// front of the ordering. Covers the new-chat case when the id is unknown.
func (s *Store) UpsertFromEvent(c model.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(c.ID)
	if idx < 0 {
		s.convs = append([]model.Conversation{c}, s.convs...)
		return
	}

	cur := s.convs[idx]
	if c.Name != "" {
		cur.Name = c.Name
	}
	if c.Participants != nil {
		cur.Participants = c.Participants
	}
	if c.AdminID != "" {
		cur.AdminID = c.AdminID
	}
	if c.LastMessage != nil {
		cur.LastMessage = c.LastMessage
	}
	cur.IsGroup = c.IsGroup
	if c.UpdatedAt.After(cur.UpdatedAt) {
		cur.UpdatedAt = c.UpdatedAt
	}
	s.promote(idx, cur)
}

// SetLastMessage records a new last-message snapshot and promotes the
// conversation. Returns false when the conversation is unknown.
func (s *Store) SetLastMessage(id string, m model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return false
	}
	cur := s.convs[idx]
	msg := m
	cur.LastMessage = &msg
	ts := m.UpdatedAt
	if ts.IsZero() {
		ts = m.CreatedAt
	}
	if ts.After(cur.UpdatedAt) {
		cur.UpdatedAt = ts
	}
	s.promote(idx, cur)
	return true
}

// RederiveLastMessage replaces the snapshot after a deletion. The deletion is
// itself the most recent mutation, so the conversation still promotes, with
// updatedAt set to now rather than the (older) surviving message's timestamp.
func (s *Store) RederiveLastMessage(id string, m *model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return false
	}
	cur := s.convs[idx]
	cur.LastMessage = m
	cur.UpdatedAt = time.Now()
	s.promote(idx, cur)
	return true
}

func (s *Store) RemoveByID(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return false
	}
	s.convs = append(s.convs[:idx], s.convs[idx+1:]...)
	return true
}

// callers hold s.mu
func (s *Store) indexOf(id string) int {
	for i := range s.convs {
		if s.convs[i].ID == id {
			return i
		}
	}
	return -1
}

// callers hold s.mu
func (s *Store) promote(idx int, c model.Conversation) {
	s.convs = append(s.convs[:idx], s.convs[idx+1:]...)
	s.convs = append([]model.Conversation{c}, s.convs...)
}

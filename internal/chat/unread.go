package chat

import "sync"

// UnreadIndex counts messages received for conversations that are not the
// active one. The active conversation never has an entry: selecting a
// conversation removes its entry rather than zeroing it.
type UnreadIndex struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewUnreadIndex() *UnreadIndex {
	return &UnreadIndex{counts: make(map[string]int)}
}

func (u *UnreadIndex) Increment(conversationID string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.counts[conversationID]++
	return u.counts[conversationID]
}

// Decrement backs a count off when an unread message is deleted before the
// conversation was ever opened. The entry disappears at zero.
func (u *UnreadIndex) Decrement(conversationID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if n, ok := u.counts[conversationID]; ok {
		if n <= 1 {
			delete(u.counts, conversationID)
		} else {
			u.counts[conversationID] = n - 1
		}
	}
}

func (u *UnreadIndex) Clear(conversationID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.counts, conversationID)
}

func (u *UnreadIndex) Count(conversationID string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.counts[conversationID]
}

// Has reports whether an entry exists at all, distinct from a zero count.
func (u *UnreadIndex) Has(conversationID string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	_, ok := u.counts[conversationID]
	return ok
}

func (u *UnreadIndex) Snapshot() map[string]int {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make(map[string]int, len(u.counts))
	for id, n := range u.counts {
		out[id] = n
	}
	return out
}

package chat

import (
	"sort"
	"sync"
	"time"

	"github.com/libroom/chatkit/internal/model"
	"github.com/libroom/chatkit/internal/socket"
)

// Emitter is the slice of the socket connection the session needs. Emits are
// fire-and-forget and dropped while disconnected, so callers check
// IsConnected before emitting typing traffic.
type Emitter interface {
	Emit(event string, payload any) error
	IsConnected() bool
}

type State int

const (
	Idle State = iota
	Joining
	Active
)

func (s State) String() string {
	switch s {
	case Joining:
		return "joining"
	case Active:
		return "active"
	default:
		return "idle"
	}
}

// Session tracks the currently open conversation: its state machine
// (Idle -> Joining -> Active), the visible message list (newest first) and
// both sides of the typing indicator.
//
// Every Begin bumps an epoch; a history fetch result is only applied when its
// epoch still matches, so a slow fetch for a conversation the user already
// left can never clobber the new session.
type Session struct {
	mu      sync.Mutex
	emitter Emitter

	debounce time.Duration // self-typing quiescence window
	expiry   time.Duration // remote typing staleness bound

	state          State
	conversationID string
	epoch          uint64
	messages       []model.Message

	selfTyping    bool
	remoteTyping  bool
	debounceTimer *time.Timer
	expiryTimer   *time.Timer
	selfSeq       uint64
	remoteSeq     uint64
}

func NewSession(e Emitter, debounce, expiry time.Duration) *Session {
	return &Session{
		emitter:  e,
		debounce: debounce,
		expiry:   expiry,
	}
}

// Begin moves the session to Joining for the given conversation and returns
// the epoch the eventual history fetch must present to ApplyHistory.
func (s *Session) Begin(conversationID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopTimersLocked()
	s.selfTyping = false
	s.remoteTyping = false
	s.state = Joining
	s.conversationID = conversationID
	s.messages = nil
	s.epoch++
	return s.epoch
}

// ApplyHistory installs the fetched history and moves to Active. Messages
// that arrived over the socket while the fetch was in flight are merged in.
// Returns false for a stale epoch; the result is then discarded.
func (s *Session) ApplyHistory(epoch uint64, history []model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if epoch != s.epoch || s.state == Idle {
		return false
	}

	merged := make([]model.Message, 0, len(history)+len(s.messages))
	seen := make(map[string]bool, len(history)+len(s.messages))
	for _, m := range append(append([]model.Message{}, s.messages...), history...) {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		merged = append(merged, m)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.After(merged[j].CreatedAt)
	})

	s.messages = merged
	s.state = Active
	return true
}

// End closes the session and returns to Idle. A pending history fetch is
// invalidated; a lingering self-typing flag emits its stop event.
func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopTimersLocked()
	if s.selfTyping && s.emitter.IsConnected() {
		s.emitter.Emit(socket.EventStopTyping, s.conversationID)
	}
	s.selfTyping = false
	s.remoteTyping = false
	s.state = Idle
	s.conversationID = ""
	s.messages = nil
	s.epoch++
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// IsActive reports whether the given conversation is the open one (Joining
// counts: messages for it already belong to the visible history).
func (s *Session) IsActive(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != Idle && s.conversationID == conversationID
}

func (s *Session) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Insert places a message into the visible history at its timestamp-ordered
// position (newest first) rather than blindly on top, so late deliveries land
// in chronological place. Duplicates by id are dropped.
func (s *Session) Insert(m model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Idle || m.ChatID != s.conversationID {
		return false
	}
	for i := range s.messages {
		if s.messages[i].ID == m.ID {
			return false
		}
	}
	idx := len(s.messages)
	for i := range s.messages {
		if !s.messages[i].CreatedAt.After(m.CreatedAt) {
			idx = i
			break
		}
	}
	s.messages = append(s.messages, model.Message{})
	copy(s.messages[idx+1:], s.messages[idx:])
	s.messages[idx] = m
	return true
}

func (s *Session) Remove(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.messages {
		if s.messages[i].ID == messageID {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return true
		}
	}
	return false
}

// KeyStroke registers self-typing activity: the first keystroke emits the
// typing event, and each one pushes the trailing stop-typing emit out by the
// debounce window.
func (s *Session) KeyStroke() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Idle || !s.emitter.IsConnected() {
		return
	}
	conversationID := s.conversationID
	if !s.selfTyping {
		s.selfTyping = true
		s.emitter.Emit(socket.EventTyping, conversationID)
	}

	s.selfSeq++
	seq := s.selfSeq
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}
	s.debounceTimer = time.AfterFunc(s.debounce, func() {
		s.debounceFired(seq, conversationID)
	})
}

func (s *Session) debounceFired(seq uint64, conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq != s.selfSeq || !s.selfTyping {
		return
	}
	s.selfTyping = false
	if s.emitter.IsConnected() {
		s.emitter.Emit(socket.EventStopTyping, conversationID)
	}
}

// StopTypingNow emits stop-typing immediately, used when a message is sent.
func (s *Session) StopTypingNow() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Idle {
		return
	}
	s.selfSeq++
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}
	s.selfTyping = false
	if s.emitter.IsConnected() {
		s.emitter.Emit(socket.EventStopTyping, s.conversationID)
	}
}

// SetRemoteTyping raises the peer-typing flag for the open conversation and
// arms the staleness bound: a peer that vanishes without emitting stop-typing
// stops showing as typing once the expiry elapses.
func (s *Session) SetRemoteTyping(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Idle || conversationID != s.conversationID {
		return
	}
	s.remoteTyping = true

	s.remoteSeq++
	seq := s.remoteSeq
	if s.expiryTimer != nil {
		s.expiryTimer.Stop()
	}
	s.expiryTimer = time.AfterFunc(s.expiry, func() {
		s.expiryFired(seq)
	})
}

func (s *Session) expiryFired(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.remoteSeq {
		return
	}
	s.remoteTyping = false
}

func (s *Session) ClearRemoteTyping(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conversationID != s.conversationID {
		return
	}
	s.remoteSeq++
	if s.expiryTimer != nil {
		s.expiryTimer.Stop()
	}
	s.remoteTyping = false
}

func (s *Session) RemoteTyping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteTyping
}

func (s *Session) SelfTyping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selfTyping
}

// callers hold s.mu
func (s *Session) stopTimersLocked() {
	s.selfSeq++
	s.remoteSeq++
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
		s.debounceTimer = nil
	}
	if s.expiryTimer != nil {
		s.expiryTimer.Stop()
		s.expiryTimer = nil
	}
}

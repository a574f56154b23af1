package chat

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/libroom/chatkit/internal/api"
	"github.com/libroom/chatkit/internal/model"
	"github.com/libroom/chatkit/internal/notify"
	"github.com/libroom/chatkit/internal/socket"
)

// Snapshotter is the warm-start persistence behind the store. Unread counts
// are deliberately absent: they are session-local and die with the process.
type Snapshotter interface {
	SaveConversations([]model.Conversation) error
	LoadConversations() ([]model.Conversation, error)
	SaveMessages(conversationID string, msgs []model.Message) error
	SetActiveConversation(id string) error
	ActiveConversation() (string, error)
	ClearActiveConversation() error
}

type UpdateKind int

const (
	UpdateConversations UpdateKind = iota
	UpdateMessages
	UpdateTyping
	UpdateConnection
)

// Update is a coarse re-render hint for the UI; state is read back through
// the controller's accessors.
type Update struct {
	Kind           UpdateKind
	ConversationID string
}

// Controller is the root owner of the chat state: the one socket connection,
// the conversation store, the active session, the unread index and the
// outbound dispatcher. Components receive it as an explicit dependency; no
// global socket state exists anywhere.
type Controller struct {
	opts     Options
	store    *Store
	unread   *UnreadIndex
	session  *Session
	dispatch *Dispatcher

	ctx     context.Context
	subs    []socket.Subscription
	updates chan Update
}

type Options struct {
	API      *api.Client
	Conn     *socket.Conn
	Notifier *notify.Notifier
	Cache    Snapshotter // nil disables warm start

	UserID    string
	SocketURL string
	Token     string

	TypingDebounce time.Duration
	TypingExpiry   time.Duration
}

func NewController(opts Options) *Controller {
	if opts.TypingDebounce <= 0 {
		opts.TypingDebounce = 3 * time.Second
	}
	if opts.TypingExpiry <= 0 {
		opts.TypingExpiry = 10 * time.Second
	}

	store := NewStore()
	unread := NewUnreadIndex()
	session := NewSession(opts.Conn, opts.TypingDebounce, opts.TypingExpiry)
	return &Controller{
		opts:     opts,
		store:    store,
		unread:   unread,
		session:  session,
		dispatch: NewDispatcher(opts.API, store, session, unread, opts.Conn, opts.Notifier, opts.UserID),
		updates:  make(chan Update, 64),
	}
}

func (c *Controller) Store() *Store           { return c.store }
func (c *Controller) Unread() *UnreadIndex    { return c.unread }
func (c *Controller) Session() *Session       { return c.session }
func (c *Controller) Dispatcher() *Dispatcher { return c.dispatch }
func (c *Controller) Updates() <-chan Update  { return c.updates }

func (c *Controller) Metadata(conv *model.Conversation) model.ChatMetadata {
	return model.Metadata(conv, c.opts.UserID)
}

// Start warm-starts from the cache, attaches the socket handlers, dials, and
// refreshes the conversation list. A previously open conversation is
// reselected the way the original client rejoined its stored chat.
func (c *Controller) Start(ctx context.Context) error {
	c.ctx = ctx

	if c.opts.Cache != nil {
		if convs, err := c.opts.Cache.LoadConversations(); err != nil {
			log.Printf("[controller] cache load: %v", err)
		} else if len(convs) > 0 {
			c.store.ReplaceAll(convs)
			c.publish(UpdateConversations, "")
		}
	}

	c.registerHandlers()

	if err := c.opts.Conn.Dial(ctx, c.opts.SocketURL, c.opts.Token); err != nil {
		return err
	}

	if err := c.RefreshConversations(ctx); err != nil {
		return err
	}

	if c.opts.Cache != nil {
		if id, err := c.opts.Cache.ActiveConversation(); err == nil && id != "" {
			if _, ok := c.store.Get(id); ok {
				if err := c.Select(ctx, id); err != nil {
					log.Printf("[controller] reselect %s: %v", id, err)
				}
			}
		}
	}
	return nil
}

// Close deregisters every socket handler before disconnecting, so a later
// Start cannot double-handle events.
func (c *Controller) Close() error {
	for _, sub := range c.subs {
		c.opts.Conn.Off(sub)
	}
	c.subs = nil
	c.session.End()
	return c.opts.Conn.Close()
}

// RefreshConversations replaces local state wholesale from the backend.
func (c *Controller) RefreshConversations(ctx context.Context) error {
	convs, err := c.opts.API.Conversations(ctx)
	if err != nil {
		c.opts.Notifier.Error(api.UserMessage(err))
		return err
	}
	c.store.ReplaceAll(convs)
	c.saveConversations()
	c.publish(UpdateConversations, "")
	return nil
}

// Select opens a conversation: part the previous room, clear the target's
// unread entry, join the new room, then fetch history. Join always precedes
// the fetch — the transport only delivers room events to members. A fetch
// that completes after another Select is discarded by the epoch check.
func (c *Controller) Select(ctx context.Context, conversationID string) error {
	prev := c.session.ConversationID()
	if prev == conversationID && c.session.State() != Idle {
		return nil
	}
	if prev != "" {
		c.opts.Conn.Emit(socket.EventLeaveChat, prev)
	}

	c.unread.Clear(conversationID)
	epoch := c.session.Begin(conversationID)
	c.opts.Conn.Emit(socket.EventJoinChat, conversationID)
	c.publish(UpdateMessages, conversationID)

	msgs, err := c.opts.API.Messages(ctx, conversationID)
	if err != nil {
		c.opts.Notifier.Error(api.UserMessage(err))
		return err
	}
	if !c.session.ApplyHistory(epoch, msgs) {
		return nil
	}

	if c.opts.Cache != nil {
		if err := c.opts.Cache.SaveMessages(conversationID, msgs); err != nil {
			log.Printf("[controller] cache messages: %v", err)
		}
		c.opts.Cache.SetActiveConversation(conversationID)
	}
	c.publish(UpdateMessages, conversationID)
	return nil
}

// CloseConversation returns to the no-chat-selected state.
func (c *Controller) CloseConversation() {
	id := c.session.ConversationID()
	if id == "" {
		return
	}
	c.opts.Conn.Emit(socket.EventLeaveChat, id)
	c.session.End()
	if c.opts.Cache != nil {
		c.opts.Cache.ClearActiveConversation()
	}
	c.publish(UpdateMessages, "")
}

func (c *Controller) registerHandlers() {
	on := func(event string, h socket.Handler) {
		c.subs = append(c.subs, c.opts.Conn.On(event, h))
	}

	on(socket.EventConnected, func(json.RawMessage) {
		log.Printf("[controller] socket connected")
		c.publish(UpdateConnection, "")
	})
	on(socket.EventDisconnect, func(json.RawMessage) {
		log.Printf("[controller] socket disconnected")
		c.publish(UpdateConnection, "")
	})
	on(socket.EventTyping, func(payload json.RawMessage) {
		if id, ok := decodeID(payload); ok {
			c.session.SetRemoteTyping(id)
			c.publish(UpdateTyping, id)
		}
	})
	on(socket.EventStopTyping, func(payload json.RawMessage) {
		if id, ok := decodeID(payload); ok {
			c.session.ClearRemoteTyping(id)
			c.publish(UpdateTyping, id)
		}
	})
	on(socket.EventMessageReceived, func(payload json.RawMessage) {
		var msg model.Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Printf("[controller] messageReceived payload: %v", err)
			return
		}
		c.onMessageReceived(msg)
	})
	on(socket.EventMessageDeleted, func(payload json.RawMessage) {
		var msg model.Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Printf("[controller] messageDeleted payload: %v", err)
			return
		}
		c.onMessageDeleted(msg)
	})
	on(socket.EventNewChat, func(payload json.RawMessage) {
		var conv model.Conversation
		if err := json.Unmarshal(payload, &conv); err != nil {
			log.Printf("[controller] newChat payload: %v", err)
			return
		}
		c.store.UpsertFromEvent(conv)
		c.saveConversations()
		c.publish(UpdateConversations, conv.ID)
	})
	on(socket.EventLeaveChat, func(payload json.RawMessage) {
		var conv model.Conversation
		if err := json.Unmarshal(payload, &conv); err != nil {
			log.Printf("[controller] leaveChat payload: %v", err)
			return
		}
		c.onChatLeave(conv)
	})
	on(socket.EventUpdateGroupName, func(payload json.RawMessage) {
		var conv model.Conversation
		if err := json.Unmarshal(payload, &conv); err != nil {
			log.Printf("[controller] updateGroupName payload: %v", err)
			return
		}
		c.store.UpsertFromEvent(conv)
		c.saveConversations()
		c.publish(UpdateConversations, conv.ID)
	})
}

// onMessageReceived attributes an incoming message to the visible history or
// to a background conversation's unread count, never both.
func (c *Controller) onMessageReceived(msg model.Message) {
	if c.session.IsActive(msg.ChatID) {
		c.session.Insert(msg)
		c.publish(UpdateMessages, msg.ChatID)
	} else {
		c.unread.Increment(msg.ChatID)
	}

	if !c.store.SetLastMessage(msg.ChatID, msg) {
		log.Printf("[controller] message for unknown conversation %s", msg.ChatID)
	}
	c.saveConversations()
	c.publish(UpdateConversations, msg.ChatID)
}

func (c *Controller) onMessageDeleted(msg model.Message) {
	if c.session.IsActive(msg.ChatID) {
		c.session.Remove(msg.ID)
		c.publish(UpdateMessages, msg.ChatID)
	} else {
		c.unread.Decrement(msg.ChatID)
	}

	ctx, cancel := context.WithTimeout(c.baseCtx(), 15*time.Second)
	defer cancel()
	c.dispatch.ReconcileDeletedMessage(ctx, msg)
	c.saveConversations()
	c.publish(UpdateConversations, msg.ChatID)
}

// onChatLeave handles the server declaring this client removed from a
// conversation (kicked, group dissolved, peer deleted the chat).
func (c *Controller) onChatLeave(conv model.Conversation) {
	if c.session.IsActive(conv.ID) {
		c.session.End()
		if c.opts.Cache != nil {
			c.opts.Cache.ClearActiveConversation()
		}
		c.publish(UpdateMessages, "")
	}
	c.store.RemoveByID(conv.ID)
	c.unread.Clear(conv.ID)
	c.saveConversations()
	c.publish(UpdateConversations, conv.ID)
}

func (c *Controller) saveConversations() {
	if c.opts.Cache == nil {
		return
	}
	if err := c.opts.Cache.SaveConversations(c.store.Snapshot()); err != nil {
		log.Printf("[controller] cache conversations: %v", err)
	}
}

func (c *Controller) baseCtx() context.Context {
	if c.ctx != nil {
		return c.ctx
	}
	return context.Background()
}

func (c *Controller) publish(kind UpdateKind, conversationID string) {
	select {
	case c.updates <- Update{Kind: kind, ConversationID: conversationID}:
	default:
	}
}

// decodeID reads the conversation-id payload used by the typing events. The
// server sends a bare JSON string.
func decodeID(payload json.RawMessage) (string, bool) {
	var id string
	if err := json.Unmarshal(payload, &id); err != nil {
		return "", false
	}
	return id, id != ""
}

package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/libroom/chatkit/internal/api"
	"github.com/libroom/chatkit/internal/chattest"
	"github.com/libroom/chatkit/internal/model"
	"github.com/libroom/chatkit/internal/notify"
)

type dispatcherFixture struct {
	server   *chattest.Server
	me       model.User
	peer     model.User
	store    *Store
	session  *Session
	unread   *UnreadIndex
	emitter  *fakeEmitter
	notifier *notify.Notifier
	notices  <-chan notify.Notice
	d        *Dispatcher
}

func newDispatcherFixture(t *testing.T, connected bool) *dispatcherFixture {
	t.Helper()
	server := chattest.NewServer()
	t.Cleanup(server.Close)

	me := server.AddUser("amrita")
	peer := server.AddUser("bogdan")

	emitter := &fakeEmitter{connected: connected}
	store := NewStore()
	session := NewSession(emitter, 20*time.Millisecond, 40*time.Millisecond)
	unread := NewUnreadIndex()
	notifier := notify.New()
	client := api.New(server.BaseURL(), server.Token(me), 10*time.Second)

	return &dispatcherFixture{
		server:   server,
		me:       me,
		peer:     peer,
		store:    store,
		session:  session,
		unread:   unread,
		emitter:  emitter,
		notifier: notifier,
		notices:  notifier.Subscribe(),
		d:        NewDispatcher(client, store, session, unread, emitter, notifier, me.ID),
	}
}

func (f *dispatcherFixture) lastNotice(t *testing.T) notify.Notice {
	t.Helper()
	select {
	case n := <-f.notices:
		return n
	case <-time.After(time.Second):
		t.Fatal("expected a notice")
		return notify.Notice{}
	}
}

func TestSendMessageUpdatesSessionAndStore(t *testing.T) {
	f := newDispatcherFixture(t, true)
	conv := f.server.AddDirectConversation(f.me, f.peer, time.Now())
	f.store.ReplaceAll([]model.Conversation{conv})
	epoch := f.session.Begin(conv.ID)
	f.session.ApplyHistory(epoch, nil)

	if err := f.d.SendMessage(context.Background(), conv.ID, "hello there"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	msgs := f.session.Messages()
	if len(msgs) != 1 || msgs[0].Content != "hello there" {
		t.Fatalf("message not in session history: %+v", msgs)
	}
	got, _ := f.store.Get(conv.ID)
	if got.LastMessage == nil || got.LastMessage.Content != "hello there" {
		t.Fatal("last-message snapshot not updated")
	}
	// sending always emits stopTyping
	events := f.emitter.emitted()
	if len(events) == 0 || events[len(events)-1] != "stopTyping" {
		t.Fatalf("expected trailing stopTyping, got %v", events)
	}
}

func TestSendMessageWhileDisconnected(t *testing.T) {
	f := newDispatcherFixture(t, false)
	conv := f.server.AddDirectConversation(f.me, f.peer, time.Now())
	f.store.ReplaceAll([]model.Conversation{conv})
	epoch := f.session.Begin(conv.ID)
	f.session.ApplyHistory(epoch, nil)

	err := f.d.SendMessage(context.Background(), conv.ID, "into the void")
	if err == nil {
		t.Fatal("expected an error while disconnected")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if len(f.session.Messages()) != 0 {
		t.Fatal("disconnected send must not mutate the message list")
	}
	got, _ := f.store.Get(conv.ID)
	if got.LastMessage != nil {
		t.Fatal("disconnected send must not touch the store")
	}
	f.lastNotice(t)

	// the server never saw the message either
	msgs, err := api.New(f.server.BaseURL(), f.server.Token(f.me), time.Second).Messages(context.Background(), conv.ID)
	if err != nil {
		t.Fatalf("fetch messages: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatal("message reached the server despite the guard")
	}
}

func TestSendMessageEmptyContent(t *testing.T) {
	f := newDispatcherFixture(t, true)
	conv := f.server.AddDirectConversation(f.me, f.peer, time.Now())
	f.store.ReplaceAll([]model.Conversation{conv})

	err := f.d.SendMessage(context.Background(), conv.ID, "")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestCreateGroupChatValidation(t *testing.T) {
	f := newDispatcherFixture(t, true)

	// no participants: rejected client-side, no conversation appears anywhere
	_, err := f.d.CreateGroupChat(context.Background(), "lonely club", nil)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if n := f.lastNotice(t); n.Level != notify.Error {
		t.Fatalf("expected an error notice, got %+v", n)
	}
	if f.store.Len() != 0 {
		t.Fatal("rejected group leaked into the store")
	}

	// one participant is still too few
	_, err = f.d.CreateGroupChat(context.Background(), "duo", []string{f.peer.ID})
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	// missing name is its own validation failure
	_, err = f.d.CreateGroupChat(context.Background(), "", []string{f.peer.ID, f.me.ID})
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestCreateGroupChatWithTwoParticipants(t *testing.T) {
	f := newDispatcherFixture(t, true)
	third := f.server.AddUser("chen")

	conv, err := f.d.CreateGroupChat(context.Background(), "book club", []string{f.peer.ID, third.ID})
	if err != nil {
		t.Fatalf("CreateGroupChat: %v", err)
	}
	if !conv.IsGroup || conv.Name != "book club" {
		t.Fatalf("unexpected conversation: %+v", conv)
	}
	if _, ok := f.store.Get(conv.ID); !ok {
		t.Fatal("created group missing from the store")
	}
}

func TestCreateDirectChatAlreadyExists(t *testing.T) {
	f := newDispatcherFixture(t, true)
	existing := f.server.AddDirectConversation(f.me, f.peer, time.Now())
	f.store.ReplaceAll([]model.Conversation{existing})

	conv, err := f.d.CreateDirectChat(context.Background(), f.peer.ID)
	if err != nil {
		t.Fatalf("CreateDirectChat: %v", err)
	}
	if conv.ID != existing.ID {
		t.Fatalf("expected the existing conversation, got %s", conv.ID)
	}
	if n := f.lastNotice(t); n.Level != notify.Info {
		t.Fatalf("existing chat should surface an info notice, got %+v", n)
	}
	if f.store.Len() != 1 {
		t.Fatal("existing chat was duplicated in the store")
	}
}

func TestCreateDirectChatFresh(t *testing.T) {
	f := newDispatcherFixture(t, true)

	conv, err := f.d.CreateDirectChat(context.Background(), f.peer.ID)
	if err != nil {
		t.Fatalf("CreateDirectChat: %v", err)
	}
	if _, ok := f.store.Get(conv.ID); !ok {
		t.Fatal("fresh chat missing from the store")
	}
	if n := f.lastNotice(t); n.Level != notify.Success {
		t.Fatalf("expected success notice, got %+v", n)
	}
}

func TestDeleteMessageRederivesLastMessage(t *testing.T) {
	f := newDispatcherFixture(t, true)
	conv := f.server.AddDirectConversation(f.me, f.peer, time.Now())
	older := f.server.SeedMessage(conv.ID, f.peer, "older", time.Now().Add(-time.Minute))
	newest := f.server.SeedMessage(conv.ID, f.me, "newest", time.Now())

	seeded, _, err := loadConversation(f, conv.ID)
	if err != nil {
		t.Fatalf("load conversation: %v", err)
	}
	f.store.ReplaceAll([]model.Conversation{seeded})
	epoch := f.session.Begin(conv.ID)
	f.session.ApplyHistory(epoch, []model.Message{newest, older})

	if err := f.d.DeleteMessage(context.Background(), conv.ID, newest.ID); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}

	if got := f.session.Messages(); len(got) != 1 || got[0].ID != older.ID {
		t.Fatalf("session history wrong after delete: %+v", got)
	}
	got, _ := f.store.Get(conv.ID)
	if got.LastMessage == nil || got.LastMessage.ID != older.ID {
		t.Fatalf("snapshot must fall back to the surviving message, got %+v", got.LastMessage)
	}
}

func TestGroupAdminGuard(t *testing.T) {
	f := newDispatcherFixture(t, true)
	group := f.server.AddGroupConversation("club", f.peer, f.me) // peer is admin
	f.store.ReplaceAll([]model.Conversation{group})

	if err := f.d.RenameGroup(context.Background(), group.ID, "renamed"); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin, got %v", err)
	}
	if err := f.d.DeleteGroup(context.Background(), group.ID); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin, got %v", err)
	}
	if _, ok := f.store.Get(group.ID); !ok {
		t.Fatal("failed delete must leave the conversation in place")
	}
}

func TestDeleteGroupClosesActiveSession(t *testing.T) {
	f := newDispatcherFixture(t, true)
	group := f.server.AddGroupConversation("club", f.me, f.peer)
	f.store.ReplaceAll([]model.Conversation{group})
	epoch := f.session.Begin(group.ID)
	f.session.ApplyHistory(epoch, nil)
	f.unread.Increment(group.ID)

	if err := f.d.DeleteGroup(context.Background(), group.ID); err != nil {
		t.Fatalf("DeleteGroup: %v", err)
	}
	if f.session.State() != Idle {
		t.Fatal("deleting the open group must close the session")
	}
	if _, ok := f.store.Get(group.ID); ok {
		t.Fatal("group still in store after delete")
	}
	if f.unread.Has(group.ID) {
		t.Fatal("unread entry must be cleared with the group")
	}
}

func loadConversation(f *dispatcherFixture, id string) (model.Conversation, bool, error) {
	convs, err := api.New(f.server.BaseURL(), f.server.Token(f.me), time.Second).Conversations(context.Background())
	if err != nil {
		return model.Conversation{}, false, err
	}
	for _, c := range convs {
		if c.ID == id {
			return c, true, nil
		}
	}
	return model.Conversation{}, false, nil
}

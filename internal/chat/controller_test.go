package chat

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libroom/chatkit/internal/api"
	"github.com/libroom/chatkit/internal/cache"
	"github.com/libroom/chatkit/internal/chattest"
	"github.com/libroom/chatkit/internal/model"
	"github.com/libroom/chatkit/internal/notify"
	"github.com/libroom/chatkit/internal/socket"
)

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

type controllerFixture struct {
	server  *chattest.Server
	me      model.User
	peer    model.User
	peerAPI *api.Client
	ctrl    *Controller
}

func newControllerFixture(t *testing.T, cache Snapshotter) *controllerFixture {
	t.Helper()
	server := chattest.NewServer()
	t.Cleanup(server.Close)

	me := server.AddUser("amrita")
	peer := server.AddUser("bogdan")

	f := &controllerFixture{
		server:  server,
		me:      me,
		peer:    peer,
		peerAPI: api.New(server.BaseURL(), server.Token(peer), 10*time.Second),
	}
	f.ctrl = f.newController(t, cache)
	return f
}

// newController builds a fresh controller for f.me without starting it.
func (f *controllerFixture) newController(t *testing.T, cache Snapshotter) *Controller {
	t.Helper()
	ctrl := NewController(Options{
		API:       api.New(f.server.BaseURL(), f.server.Token(f.me), 10*time.Second),
		Conn:      socket.New(),
		Notifier:  notify.New(),
		Cache:     cache,
		UserID:    f.me.ID,
		SocketURL: f.server.SocketURL(),
		Token:     f.server.Token(f.me),
		// expiry well past waitFor: the indicator can only clear through a
		// relayed stopTyping, not by timing out mid-assertion
		TypingDebounce: 50 * time.Millisecond,
		TypingExpiry:   10 * time.Second,
	})
	t.Cleanup(func() { ctrl.Close() })
	return ctrl
}

func (f *controllerFixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.ctrl.Start(context.Background()))
}

func TestStartFetchesConversations(t *testing.T) {
	f := newControllerFixture(t, nil)
	older := f.server.AddDirectConversation(f.me, f.peer, time.Now().Add(-time.Hour))
	group := f.server.AddGroupConversation("book club", f.me, f.peer)

	f.start(t)

	convs := f.ctrl.Store().Snapshot()
	require.Len(t, convs, 2)
	assert.Equal(t, group.ID, convs[0].ID, "most recent conversation should lead")
	assert.Equal(t, older.ID, convs[1].ID)
}

func TestSelectJoinsRoomAndLoadsHistory(t *testing.T) {
	f := newControllerFixture(t, nil)
	conv := f.server.AddDirectConversation(f.me, f.peer, time.Now())
	seeded := f.server.SeedMessage(conv.ID, f.peer, "hi there", time.Now())

	f.start(t)
	require.NoError(t, f.ctrl.Select(context.Background(), conv.ID))

	assert.Equal(t, Active, f.ctrl.Session().State())
	msgs := f.ctrl.Session().Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, seeded.ID, msgs[0].ID)

	assert.Eventually(t, func() bool {
		return f.server.Joined(conv.ID, f.me.ID)
	}, waitFor, tick, "select must join the conversation's room")
}

func TestSwitchingConversationsLeavesPreviousRoom(t *testing.T) {
	f := newControllerFixture(t, nil)
	a := f.server.AddDirectConversation(f.me, f.peer, time.Now().Add(-time.Minute))
	third := f.server.AddUser("chen")
	b := f.server.AddDirectConversation(f.me, third, time.Now())

	f.start(t)
	require.NoError(t, f.ctrl.Select(context.Background(), a.ID))
	assert.Eventually(t, func() bool { return f.server.Joined(a.ID, f.me.ID) }, waitFor, tick)

	require.NoError(t, f.ctrl.Select(context.Background(), b.ID))
	assert.Eventually(t, func() bool {
		return f.server.Joined(b.ID, f.me.ID) && !f.server.Joined(a.ID, f.me.ID)
	}, waitFor, tick, "switching must part the old room before joining the new one")
}

// A message for a background conversation raises its unread count; opening
// that conversation clears the count and shows the message; the previously
// open conversation keeps its own history.
func TestUnreadLifecycleAcrossSwitches(t *testing.T) {
	f := newControllerFixture(t, nil)
	a := f.server.AddDirectConversation(f.me, f.peer, time.Now().Add(-time.Minute))
	third := f.server.AddUser("chen")
	b := f.server.AddDirectConversation(f.me, third, time.Now())

	f.start(t)
	require.NoError(t, f.ctrl.Select(context.Background(), a.ID))

	pushed := f.server.PushMessage(b.ID, third, "psst", time.Now())

	assert.Eventually(t, func() bool {
		return f.ctrl.Unread().Count(b.ID) == 1
	}, waitFor, tick, "background message should raise the unread count")
	assert.Empty(t, f.ctrl.Session().Messages(), "background message must not enter the open history")
	assert.False(t, f.ctrl.Unread().Has(a.ID), "open conversation never accrues unread")

	require.NoError(t, f.ctrl.Select(context.Background(), b.ID))
	assert.False(t, f.ctrl.Unread().Has(b.ID), "opening the conversation clears its unread entry")
	msgs := f.ctrl.Session().Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, pushed.ID, msgs[0].ID)

	require.NoError(t, f.ctrl.Select(context.Background(), a.ID))
	assert.False(t, f.ctrl.Unread().Has(b.ID), "returning to A must not resurrect B's cleared count")
}

func TestIncomingMessageForOpenConversation(t *testing.T) {
	f := newControllerFixture(t, nil)
	conv := f.server.AddDirectConversation(f.me, f.peer, time.Now())

	f.start(t)
	require.NoError(t, f.ctrl.Select(context.Background(), conv.ID))

	pushed := f.server.PushMessage(conv.ID, f.peer, "hello", time.Now())

	assert.Eventually(t, func() bool {
		msgs := f.ctrl.Session().Messages()
		return len(msgs) == 1 && msgs[0].ID == pushed.ID
	}, waitFor, tick)
	assert.False(t, f.ctrl.Unread().Has(conv.ID))

	got, ok := f.ctrl.Store().Get(conv.ID)
	require.True(t, ok)
	require.NotNil(t, got.LastMessage)
	assert.Equal(t, pushed.ID, got.LastMessage.ID)
}

func TestNewChatEventInsertsConversation(t *testing.T) {
	f := newControllerFixture(t, nil)
	f.start(t)

	conv, _, err := f.peerAPI.CreateDirectChat(context.Background(), f.me.ID)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, ok := f.ctrl.Store().Get(conv.ID)
		return ok
	}, waitFor, tick, "newChat push should insert the conversation")
}

func TestGroupRenamePropagates(t *testing.T) {
	f := newControllerFixture(t, nil)
	group := f.server.AddGroupConversation("book club", f.peer, f.me) // peer is admin

	f.start(t)

	_, err := f.peerAPI.RenameGroup(context.Background(), group.ID, "reading circle")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		got, ok := f.ctrl.Store().Get(group.ID)
		return ok && got.Name == "reading circle"
	}, waitFor, tick)
}

func TestGroupDeletedRemotely(t *testing.T) {
	f := newControllerFixture(t, nil)
	group := f.server.AddGroupConversation("book club", f.peer, f.me)

	f.start(t)
	require.NoError(t, f.ctrl.Select(context.Background(), group.ID))
	f.ctrl.Unread().Increment(group.ID)

	require.NoError(t, f.peerAPI.DeleteGroup(context.Background(), group.ID))

	assert.Eventually(t, func() bool {
		_, ok := f.ctrl.Store().Get(group.ID)
		return !ok
	}, waitFor, tick)
	assert.Equal(t, Idle, f.ctrl.Session().State(), "dissolved group must close the open session")
	assert.False(t, f.ctrl.Unread().Has(group.ID))
}

func TestRemoteTypingIndicator(t *testing.T) {
	f := newControllerFixture(t, nil)
	conv := f.server.AddDirectConversation(f.me, f.peer, time.Now())

	f.start(t)
	require.NoError(t, f.ctrl.Select(context.Background(), conv.ID))
	require.Eventually(t, func() bool { return f.server.Joined(conv.ID, f.me.ID) }, waitFor, tick)

	peerConn := socket.New()
	require.NoError(t, peerConn.Dial(context.Background(), f.server.SocketURL(), f.server.Token(f.peer)))
	defer peerConn.Close()
	require.NoError(t, peerConn.Emit(socket.EventJoinChat, conv.ID))
	require.NoError(t, peerConn.Emit(socket.EventTyping, conv.ID))

	assert.Eventually(t, func() bool {
		return f.ctrl.Session().RemoteTyping()
	}, waitFor, tick, "relayed typing should raise the indicator")

	require.NoError(t, peerConn.Emit(socket.EventStopTyping, conv.ID))
	assert.Eventually(t, func() bool {
		return !f.ctrl.Session().RemoteTyping()
	}, waitFor, tick, "relayed stopTyping should clear the indicator")
}

// Deleting a background conversation's last message rederives that snapshot
// from the same conversation's remaining history, never from the open one.
func TestBackgroundDeletionRederivesFromOwnHistory(t *testing.T) {
	f := newControllerFixture(t, nil)
	a := f.server.AddDirectConversation(f.me, f.peer, time.Now())
	open := f.server.SeedMessage(a.ID, f.me, "open chat message", time.Now())

	third := f.server.AddUser("chen")
	b := f.server.AddDirectConversation(f.me, third, time.Now())
	survivor := f.server.SeedMessage(b.ID, third, "older", time.Now().Add(-time.Minute))
	doomed := f.server.SeedMessage(b.ID, third, "newest", time.Now())

	f.start(t)
	require.NoError(t, f.ctrl.Select(context.Background(), a.ID))

	thirdAPI := api.New(f.server.BaseURL(), f.server.Token(third), 10*time.Second)
	_, err := thirdAPI.DeleteMessage(context.Background(), b.ID, doomed.ID)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		got, ok := f.ctrl.Store().Get(b.ID)
		return ok && got.LastMessage != nil && got.LastMessage.ID == survivor.ID
	}, waitFor, tick, "snapshot must fall back to B's own surviving message")

	got, ok := f.ctrl.Store().Get(b.ID)
	require.True(t, ok)
	assert.NotEqual(t, open.ID, got.LastMessage.ID, "rederived snapshot must never borrow from another conversation")
	msgs := f.ctrl.Session().Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, open.ID, msgs[0].ID, "open history untouched by the background deletion")
}

func TestCloseConversation(t *testing.T) {
	f := newControllerFixture(t, nil)
	conv := f.server.AddDirectConversation(f.me, f.peer, time.Now())

	f.start(t)
	require.NoError(t, f.ctrl.Select(context.Background(), conv.ID))

	f.ctrl.CloseConversation()
	assert.Equal(t, Idle, f.ctrl.Session().State())
	assert.Eventually(t, func() bool {
		return !f.server.Joined(conv.ID, f.me.ID)
	}, waitFor, tick, "closing must part the room")
}

func TestWarmStartReselectsOpenConversation(t *testing.T) {
	c, err := cache.Open(filepath.Join(t.TempDir(), "chatkit.db"))
	require.NoError(t, err)
	defer c.Close()

	f := newControllerFixture(t, c)
	conv := f.server.AddDirectConversation(f.me, f.peer, time.Now())
	f.server.SeedMessage(conv.ID, f.peer, "before restart", time.Now())

	f.start(t)
	require.NoError(t, f.ctrl.Select(context.Background(), conv.ID))
	require.NoError(t, f.ctrl.Close())

	restarted := f.newController(t, c)
	require.NoError(t, restarted.Start(context.Background()))

	assert.Equal(t, conv.ID, restarted.Session().ConversationID(), "restart should reopen the stored conversation")
	assert.Equal(t, Active, restarted.Session().State())
	assert.Len(t, restarted.Session().Messages(), 1)
}

func TestSelectSameConversationIsIdempotent(t *testing.T) {
	f := newControllerFixture(t, nil)
	conv := f.server.AddDirectConversation(f.me, f.peer, time.Now())
	f.server.SeedMessage(conv.ID, f.peer, "only once", time.Now())

	f.start(t)
	require.NoError(t, f.ctrl.Select(context.Background(), conv.ID))
	require.NoError(t, f.ctrl.Select(context.Background(), conv.ID))

	assert.Len(t, f.ctrl.Session().Messages(), 1)
	assert.Equal(t, Active, f.ctrl.Session().State())
}

package chat

import (
	"context"
	"errors"
	"log"

	"github.com/go-playground/validator/v10"
	"github.com/libroom/chatkit/internal/api"
	"github.com/libroom/chatkit/internal/model"
	"github.com/libroom/chatkit/internal/notify"
)

// ErrNotAdmin is returned when a group action needs admin rights the current
// user does not have. The backend enforces this too; the client check only
// saves a doomed round trip.
var ErrNotAdmin = errors.New("chat: not the group admin")

// ValidationError is raised before any network call when an action's input is
// rejected client-side.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return "chat: " + e.Message }

type sendMessageInput struct {
	ConversationID string `validate:"required"`
	Content        string `validate:"required"`
}

type directChatInput struct {
	PeerID string `validate:"required"`
}

type groupChatInput struct {
	Name         string   `validate:"required"`
	Participants []string `validate:"required,min=2"`
}

type renameGroupInput struct {
	ConversationID string `validate:"required"`
	Name           string `validate:"required"`
}

// Dispatcher performs the outbound actions. Each one is request/response
// against the backend; local state changes only after the server confirms, so
// a failure needs no rollback — it surfaces a notice and leaves state alone.
type Dispatcher struct {
	api      *api.Client
	store    *Store
	session  *Session
	unread   *UnreadIndex
	emitter  Emitter
	notifier *notify.Notifier
	validate *validator.Validate
	userID   string
}

func NewDispatcher(apiClient *api.Client, store *Store, session *Session, unread *UnreadIndex, emitter Emitter, notifier *notify.Notifier, userID string) *Dispatcher {
	return &Dispatcher{
		api:      apiClient,
		store:    store,
		session:  session,
		unread:   unread,
		emitter:  emitter,
		notifier: notifier,
		validate: validator.New(),
		userID:   userID,
	}
}

func (d *Dispatcher) invalid(msg string) error {
	d.notifier.Error(msg)
	return &ValidationError{Message: msg}
}

func (d *Dispatcher) fail(err error) error {
	d.notifier.Error(api.UserMessage(err))
	return err
}

// SendMessage posts the message and, on confirmation, places it into the
// visible history, refreshes the conversation's last-message snapshot and
// stops the typing indicator. While disconnected nothing is sent and nothing
// mutates.
func (d *Dispatcher) SendMessage(ctx context.Context, conversationID, content string) error {
	in := sendMessageInput{ConversationID: conversationID, Content: content}
	if err := d.validate.Struct(in); err != nil {
		return d.invalid("Message content is required")
	}
	if !d.emitter.IsConnected() {
		return d.invalid("Not connected, message not sent")
	}

	msg, err := d.api.SendMessage(ctx, conversationID, content)
	if err != nil {
		return d.fail(err)
	}

	d.session.Insert(msg)
	if !d.store.SetLastMessage(conversationID, msg) {
		log.Printf("[dispatcher] sent message for unknown conversation %s", conversationID)
	}
	d.session.StopTypingNow()
	return nil
}

// DeleteMessage removes the message after server confirmation and reconciles
// the conversation's last-message snapshot if it pointed at the deleted one.
func (d *Dispatcher) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	if conversationID == "" || messageID == "" {
		return d.invalid("No message selected")
	}

	msg, err := d.api.DeleteMessage(ctx, conversationID, messageID)
	if err != nil {
		return d.fail(err)
	}

	d.session.Remove(msg.ID)
	d.ReconcileDeletedMessage(ctx, msg)
	return nil
}

// ReconcileDeletedMessage re-derives the last-message snapshot when the
// deleted message was the conversation's current one. The replacement always
// comes from the same conversation's remaining history.
func (d *Dispatcher) ReconcileDeletedMessage(ctx context.Context, deleted model.Message) {
	conv, ok := d.store.Get(deleted.ChatID)
	if !ok || conv.LastMessage == nil || conv.LastMessage.ID != deleted.ID {
		return
	}

	msgs, err := d.api.Messages(ctx, deleted.ChatID)
	if err != nil {
		log.Printf("[dispatcher] last-message rederive for %s: %v", deleted.ChatID, err)
		return
	}
	var latest *model.Message
	if len(msgs) > 0 {
		latest = &msgs[0]
	}
	d.store.RederiveLastMessage(deleted.ChatID, latest)
}

// CreateDirectChat starts a one-to-one chat. The backend answers with the
// existing conversation when there already is one; that is a notice, not an
// error, and must not duplicate the list entry.
func (d *Dispatcher) CreateDirectChat(ctx context.Context, peerID string) (model.Conversation, error) {
	if err := d.validate.Struct(directChatInput{PeerID: peerID}); err != nil {
		return model.Conversation{}, d.invalid("Please select a user")
	}

	conv, existed, err := d.api.CreateDirectChat(ctx, peerID)
	if err != nil {
		return model.Conversation{}, d.fail(err)
	}
	if existed {
		d.notifier.Info("Chat with selected user already exists")
		return conv, nil
	}
	d.store.UpsertFromEvent(conv)
	d.notifier.Success("Chat created")
	return conv, nil
}

func (d *Dispatcher) CreateGroupChat(ctx context.Context, name string, participantIDs []string) (model.Conversation, error) {
	in := groupChatInput{Name: name, Participants: participantIDs}
	if err := d.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Field() == "Name" {
			return model.Conversation{}, d.invalid("Group name is required")
		}
		return model.Conversation{}, d.invalid("There must be at least 2 group participants")
	}

	conv, err := d.api.CreateGroupChat(ctx, name, participantIDs)
	if err != nil {
		return model.Conversation{}, d.fail(err)
	}
	d.store.UpsertFromEvent(conv)
	d.notifier.Success("Group chat created")
	return conv, nil
}

func (d *Dispatcher) RenameGroup(ctx context.Context, conversationID, name string) error {
	in := renameGroupInput{ConversationID: conversationID, Name: name}
	if err := d.validate.Struct(in); err != nil {
		return d.invalid("Group name is required")
	}
	if err := d.requireAdmin(conversationID); err != nil {
		return err
	}

	conv, err := d.api.RenameGroup(ctx, conversationID, name)
	if err != nil {
		return d.fail(err)
	}
	d.store.UpsertFromEvent(conv)
	d.notifier.Success("Group name updated to " + conv.Name)
	return nil
}

func (d *Dispatcher) AddParticipant(ctx context.Context, conversationID, userID string) error {
	if err := d.requireAdmin(conversationID); err != nil {
		return err
	}
	conv, err := d.api.AddParticipant(ctx, conversationID, userID)
	if err != nil {
		return d.fail(err)
	}
	d.store.UpsertFromEvent(conv)
	d.notifier.Success("Participant added")
	return nil
}

func (d *Dispatcher) RemoveParticipant(ctx context.Context, conversationID, userID string) error {
	if err := d.requireAdmin(conversationID); err != nil {
		return err
	}
	conv, err := d.api.RemoveParticipant(ctx, conversationID, userID)
	if err != nil {
		return d.fail(err)
	}
	d.store.UpsertFromEvent(conv)
	d.notifier.Success("Participant removed")
	return nil
}

// DeleteGroup removes the group; if it was the open conversation the session
// closes with it.
func (d *Dispatcher) DeleteGroup(ctx context.Context, conversationID string) error {
	if err := d.requireAdmin(conversationID); err != nil {
		return err
	}
	if err := d.api.DeleteGroup(ctx, conversationID); err != nil {
		return d.fail(err)
	}
	d.removeLocally(conversationID)
	d.notifier.Success("Group deleted")
	return nil
}

func (d *Dispatcher) DeleteDirectChat(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return d.invalid("No chat selected")
	}
	if err := d.api.DeleteDirectChat(ctx, conversationID); err != nil {
		return d.fail(err)
	}
	d.removeLocally(conversationID)
	d.notifier.Success("Chat deleted")
	return nil
}

func (d *Dispatcher) AvailableUsers(ctx context.Context) ([]model.User, error) {
	users, err := d.api.AvailableUsers(ctx)
	if err != nil {
		return nil, d.fail(err)
	}
	return users, nil
}

func (d *Dispatcher) removeLocally(conversationID string) {
	if d.session.IsActive(conversationID) {
		d.session.End()
	}
	d.store.RemoveByID(conversationID)
	d.unread.Clear(conversationID)
}

func (d *Dispatcher) requireAdmin(conversationID string) error {
	conv, ok := d.store.Get(conversationID)
	if !ok {
		return d.invalid("Unknown conversation")
	}
	if conv.IsGroup && conv.AdminID != "" && conv.AdminID != d.userID {
		d.notifier.Error("You are not the admin of the group")
		return ErrNotAdmin
	}
	return nil
}

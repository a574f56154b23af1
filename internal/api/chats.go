package api

import (
	"context"
	"net/http"

	"github.com/libroom/chatkit/internal/model"
)

// Endpoint surface consumed by the chat client. Paths match the backend's
// /api/v1 routing.

func (c *Client) Conversations(ctx context.Context) ([]model.Conversation, error) {
	var list []model.Conversation
	_, err := c.do(ctx, http.MethodGet, "/chats", nil, &list)
	return list, err
}

func (c *Client) AvailableUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	_, err := c.do(ctx, http.MethodGet, "/chats/users", nil, &users)
	return users, err
}

// Messages returns a conversation's history, newest first.
func (c *Client) Messages(ctx context.Context, chatID string) ([]model.Message, error) {
	var msgs []model.Message
	_, err := c.do(ctx, http.MethodGet, "/chat/messages/"+chatID, nil, &msgs)
	return msgs, err
}

func (c *Client) SendMessage(ctx context.Context, chatID, content string) (model.Message, error) {
	var msg model.Message
	_, err := c.do(ctx, http.MethodPost, "/chat/messages/"+chatID, map[string]string{"content": content}, &msg)
	return msg, err
}

func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID string) (model.Message, error) {
	var msg model.Message
	_, err := c.do(ctx, http.MethodDelete, "/chat/messages/"+chatID+"/"+messageID, nil, &msg)
	return msg, err
}

// CreateDirectChat returns the conversation and whether it already existed
// (the backend answers 200 for an existing chat, 201 for a fresh one).
func (c *Client) CreateDirectChat(ctx context.Context, peerID string) (model.Conversation, bool, error) {
	var conv model.Conversation
	status, err := c.do(ctx, http.MethodPost, "/chats/c/"+peerID, nil, &conv)
	return conv, status == http.StatusOK, err
}

func (c *Client) CreateGroupChat(ctx context.Context, name string, participantIDs []string) (model.Conversation, error) {
	var conv model.Conversation
	body := map[string]any{"name": name, "participants": participantIDs}
	_, err := c.do(ctx, http.MethodPost, "/chats/group", body, &conv)
	return conv, err
}

func (c *Client) GroupInfo(ctx context.Context, chatID string) (model.Conversation, error) {
	var conv model.Conversation
	_, err := c.do(ctx, http.MethodGet, "/chats/group/"+chatID, nil, &conv)
	return conv, err
}

func (c *Client) RenameGroup(ctx context.Context, chatID, name string) (model.Conversation, error) {
	var conv model.Conversation
	_, err := c.do(ctx, http.MethodPatch, "/chats/group/"+chatID, map[string]string{"name": name}, &conv)
	return conv, err
}

func (c *Client) DeleteGroup(ctx context.Context, chatID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/chats/group/"+chatID, nil, nil)
	return err
}

func (c *Client) DeleteDirectChat(ctx context.Context, chatID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/chats/remove/"+chatID, nil, nil)
	return err
}

func (c *Client) AddParticipant(ctx context.Context, chatID, userID string) (model.Conversation, error) {
	var conv model.Conversation
	_, err := c.do(ctx, http.MethodPost, "/chats/group/"+chatID+"/"+userID, nil, &conv)
	return conv, err
}

func (c *Client) RemoveParticipant(ctx context.Context, chatID, userID string) (model.Conversation, error) {
	var conv model.Conversation
	_, err := c.do(ctx, http.MethodDelete, "/chats/group/"+chatID+"/"+userID, nil, &conv)
	return conv, err
}

// BookReviews returns the top-level reviews of a book.
func (c *Client) BookReviews(ctx context.Context, bookID string) ([]model.Review, error) {
	var reviews []model.Review
	_, err := c.do(ctx, http.MethodGet, "/reviews/"+bookID, nil, &reviews)
	return reviews, err
}

// ReviewReplies returns the direct children of one review node.
func (c *Client) ReviewReplies(ctx context.Context, reviewID string) ([]model.Review, error) {
	var reviews []model.Review
	_, err := c.do(ctx, http.MethodGet, "/reviews/replies/"+reviewID, nil, &reviews)
	return reviews, err
}

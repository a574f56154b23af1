package model

import "time"

// Wire types mirror the LibRoom backend's JSON documents. Field tags follow
// the backend's Mongo-style naming (`_id`, `chat`, `isGroupChat`).

type Avatar struct {
	URL string `json:"url"`
}

type User struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Avatar   Avatar `json:"avatar"`
}

type Attachment struct {
	URL string `json:"url"`
}

type Message struct {
	ID          string       `json:"_id"`
	ChatID      string       `json:"chat"`
	Sender      User         `json:"sender"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

type Conversation struct {
	ID           string    `json:"_id"`
	Name         string    `json:"name"`
	IsGroup      bool      `json:"isGroupChat"`
	Participants []User    `json:"participants"`
	AdminID      string    `json:"admin,omitempty"`
	LastMessage  *Message  `json:"lastMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

// Review is one node of a book's nested review thread. ReplyCount is always
// known from the server; the replies themselves are loaded lazily.
type Review struct {
	ID         string    `json:"_id"`
	BookID     string    `json:"book"`
	ParentID   string    `json:"parent,omitempty"`
	Author     User      `json:"author"`
	Content    string    `json:"content"`
	ReplyCount int       `json:"replyCount"`
	CreatedAt  time.Time `json:"createdAt"`
}

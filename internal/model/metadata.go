package model

import "fmt"

const groupAvatarURL = "https://via.placeholder.com/100x100.png"

// ChatMetadata is the display projection of a conversation for the list UI.
type ChatMetadata struct {
	Avatar      string
	Title       string
	Description string
	LastMessage string
}

// Metadata projects a conversation into its list entry. For direct chats the
// title and avatar come from the peer, never from the current user; a chat
// header naming yourself means the caller passed the wrong user id.
func Metadata(c *Conversation, currentUserID string) ChatMetadata {
	lastMessage := "No messages yet"
	if c.LastMessage != nil && c.LastMessage.Content != "" {
		lastMessage = c.LastMessage.Content
	}

	if c.IsGroup {
		if c.LastMessage != nil {
			lastMessage = c.LastMessage.Sender.Username + ": " + lastMessage
		}
		return ChatMetadata{
			Avatar:      groupAvatarURL,
			Title:       c.Name,
			Description: fmt.Sprintf("%d members in the chat", len(c.Participants)),
			LastMessage: lastMessage,
		}
	}

	var peer *User
	for i := range c.Participants {
		if c.Participants[i].ID != currentUserID {
			peer = &c.Participants[i]
			break
		}
	}
	md := ChatMetadata{LastMessage: lastMessage}
	if peer != nil {
		md.Avatar = peer.Avatar.URL
		md.Title = peer.Username
		md.Description = peer.Email
	}
	return md
}

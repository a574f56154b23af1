package model

import "testing"

func TestDirectChatMetadataUsesPeer(t *testing.T) {
	conv := Conversation{
		ID: "c1",
		Participants: []User{
			{ID: "me", Username: "amrita", Email: "amrita@libroom.test"},
			{ID: "them", Username: "bogdan", Email: "bogdan@libroom.test", Avatar: Avatar{URL: "http://img/b.png"}},
		},
	}

	md := Metadata(&conv, "me")
	if md.Title != "bogdan" {
		t.Fatalf("title must name the peer, got %q", md.Title)
	}
	if md.Description != "bogdan@libroom.test" || md.Avatar != "http://img/b.png" {
		t.Fatalf("unexpected peer projection: %+v", md)
	}
	if md.LastMessage != "No messages yet" {
		t.Fatalf("expected placeholder, got %q", md.LastMessage)
	}

	// the same conversation seen from the other side flips the projection
	md = Metadata(&conv, "them")
	if md.Title != "amrita" {
		t.Fatalf("title must flip with the viewer, got %q", md.Title)
	}
}

func TestGroupChatMetadata(t *testing.T) {
	conv := Conversation{
		ID:      "g1",
		Name:    "book club",
		IsGroup: true,
		Participants: []User{
			{ID: "me"}, {ID: "u2"}, {ID: "u3", Username: "chen"},
		},
		LastMessage: &Message{Content: "see you thursday", Sender: User{Username: "chen"}},
	}

	md := Metadata(&conv, "me")
	if md.Title != "book club" {
		t.Fatalf("group title must be the group name, got %q", md.Title)
	}
	if md.Description != "3 members in the chat" {
		t.Fatalf("unexpected description %q", md.Description)
	}
	if md.LastMessage != "chen: see you thursday" {
		t.Fatalf("group preview must name the sender, got %q", md.LastMessage)
	}
}

func TestHasParticipant(t *testing.T) {
	conv := Conversation{Participants: []User{{ID: "a"}, {ID: "b"}}}
	if !conv.HasParticipant("a") || conv.HasParticipant("z") {
		t.Fatal("participant lookup broken")
	}
}

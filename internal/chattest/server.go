// Package chattest is an in-process stand-in for the LibRoom backend: the
// REST surface and socket events the client consumes, over in-memory state.
// Integration tests run the real controller against it; it ships no
// production behavior.
package chattest

import (
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/libroom/chatkit/internal/auth"
	"github.com/libroom/chatkit/internal/model"
	"github.com/libroom/chatkit/internal/socket"
)

// Secret signs the tokens the double mints and accepts.
const Secret = "chattest-secret"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type wsClient struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsClient) writeFrame(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(struct {
		Event   string `json:"event"`
		Payload any    `json:"payload,omitempty"`
	}{Event: event, Payload: payload})
}

type Server struct {
	mu      sync.Mutex
	users   map[string]model.User
	convs   map[string]*model.Conversation
	msgs    map[string][]model.Message // conversation id -> newest first
	reviews map[string][]model.Review  // parent or book id -> direct children
	clients map[string]*wsClient       // user id -> live connection
	rooms   map[string]map[string]bool // conversation id -> joined user ids

	srv *httptest.Server
}

func NewServer() *Server {
	gin.SetMode(gin.TestMode)
	s := &Server{
		users:   make(map[string]model.User),
		convs:   make(map[string]*model.Conversation),
		msgs:    make(map[string][]model.Message),
		reviews: make(map[string][]model.Review),
		clients: make(map[string]*wsClient),
		rooms:   make(map[string]map[string]bool),
	}

	r := gin.New()
	api := r.Group("/api/v1", s.requireAuth)
	api.GET("/chats", s.listChats)
	api.GET("/chats/users", s.listUsers)
	api.POST("/chats/c/:receiverId", s.createDirectChat)
	api.POST("/chats/group", s.createGroupChat)
	api.GET("/chats/group/:chatId", s.groupInfo)
	api.PATCH("/chats/group/:chatId", s.renameGroup)
	api.DELETE("/chats/group/:chatId", s.deleteGroup)
	api.POST("/chats/group/:chatId/:participantId", s.addParticipant)
	api.DELETE("/chats/group/:chatId/:participantId", s.removeParticipant)
	api.DELETE("/chats/remove/:chatId", s.deleteDirectChat)
	api.GET("/chat/messages/:chatId", s.listMessages)
	api.POST("/chat/messages/:chatId", s.sendMessage)
	api.DELETE("/chat/messages/:chatId/:messageId", s.deleteMessage)
	api.GET("/reviews/:bookId", s.listReviews)
	api.GET("/reviews/replies/:reviewId", s.listReplies)
	r.GET("/ws", s.serveWS)

	s.srv = httptest.NewServer(r)
	return s
}

func (s *Server) Close() {
	s.mu.Lock()
	for _, cl := range s.clients {
		cl.conn.Close()
	}
	s.mu.Unlock()
	s.srv.Close()
}

// BaseURL is the REST base the api client should dial.
func (s *Server) BaseURL() string { return s.srv.URL + "/api/v1" }

// SocketURL is the websocket endpoint.
func (s *Server) SocketURL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
}

func (s *Server) Token(u model.User) string {
	tok, err := auth.NewToken(Secret, u.ID, u.Username, time.Hour)
	if err != nil {
		panic(err)
	}
	return tok
}

// --- seeding ---

func (s *Server) AddUser(username string) model.User {
	u := model.User{
		ID:       uuid.NewString(),
		Username: username,
		Email:    username + "@libroom.test",
	}
	s.mu.Lock()
	s.users[u.ID] = u
	s.mu.Unlock()
	return u
}

func (s *Server) AddDirectConversation(a, b model.User, updatedAt time.Time) model.Conversation {
	conv := model.Conversation{
		ID:           uuid.NewString(),
		IsGroup:      false,
		Participants: []model.User{a, b},
		CreatedAt:    updatedAt,
		UpdatedAt:    updatedAt,
	}
	s.mu.Lock()
	s.convs[conv.ID] = &conv
	s.mu.Unlock()
	return conv
}

func (s *Server) AddGroupConversation(name string, admin model.User, members ...model.User) model.Conversation {
	now := time.Now()
	conv := model.Conversation{
		ID:           uuid.NewString(),
		Name:         name,
		IsGroup:      true,
		AdminID:      admin.ID,
		Participants: append([]model.User{admin}, members...),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.mu.Lock()
	s.convs[conv.ID] = &conv
	s.mu.Unlock()
	return conv
}

func (s *Server) SeedMessage(conversationID string, sender model.User, content string, createdAt time.Time) model.Message {
	msg := model.Message{
		ID:        uuid.NewString(),
		ChatID:    conversationID,
		Sender:    sender,
		Content:   content,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	s.mu.Lock()
	s.insertMessageLocked(msg)
	s.mu.Unlock()
	return msg
}

func (s *Server) SeedReview(r model.Review) model.Review {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	key := r.BookID
	if r.ParentID != "" {
		key = r.ParentID
	}
	s.mu.Lock()
	s.reviews[key] = append(s.reviews[key], r)
	s.mu.Unlock()
	return r
}

// --- push helpers for tests ---

// PushMessage delivers a message as if another participant sent it: it is
// stored, the conversation snapshot updates, and every connected participant
// except the sender receives messageReceived.
func (s *Server) PushMessage(conversationID string, sender model.User, content string, createdAt time.Time) model.Message {
	msg := model.Message{
		ID:        uuid.NewString(),
		ChatID:    conversationID,
		Sender:    sender,
		Content:   content,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	s.mu.Lock()
	s.insertMessageLocked(msg)
	targets := s.participantClientsLocked(conversationID, sender.ID)
	s.mu.Unlock()

	for _, cl := range targets {
		cl.writeFrame(socket.EventMessageReceived, msg)
	}
	return msg
}

// PushEvent sends an arbitrary event to one user's connection.
func (s *Server) PushEvent(userID, event string, payload any) {
	s.mu.Lock()
	cl := s.clients[userID]
	s.mu.Unlock()
	if cl != nil {
		cl.writeFrame(event, payload)
	}
}

// Joined reports whether the user currently sits in the conversation's room.
func (s *Server) Joined(conversationID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms[conversationID][userID]
}

// --- REST handlers ---

func respond(c *gin.Context, status int, data any, message string) {
	c.JSON(status, gin.H{
		"statusCode": status,
		"data":       data,
		"message":    message,
		"success":    status < 400,
	})
}

func (s *Server) requireAuth(c *gin.Context) {
	h := c.GetHeader("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		respond(c, http.StatusUnauthorized, nil, "missing token")
		c.Abort()
		return
	}
	claims, err := auth.ParseToken(Secret, strings.TrimPrefix(h, "Bearer "))
	if err != nil {
		respond(c, http.StatusUnauthorized, nil, "invalid token")
		c.Abort()
		return
	}
	c.Set("userID", claims.UserID)
}

func currentUser(c *gin.Context) string {
	return c.GetString("userID")
}

func (s *Server) listChats(c *gin.Context) {
	uid := currentUser(c)
	s.mu.Lock()
	var list []model.Conversation
	for _, conv := range s.convs {
		if conv.HasParticipant(uid) {
			list = append(list, *conv)
		}
	}
	s.mu.Unlock()
	sort.Slice(list, func(i, j int) bool { return list[i].UpdatedAt.After(list[j].UpdatedAt) })
	respond(c, http.StatusOK, list, "")
}

func (s *Server) listUsers(c *gin.Context) {
	uid := currentUser(c)
	s.mu.Lock()
	var list []model.User
	for _, u := range s.users {
		if u.ID != uid {
			list = append(list, u)
		}
	}
	s.mu.Unlock()
	sort.Slice(list, func(i, j int) bool { return list[i].Username < list[j].Username })
	respond(c, http.StatusOK, list, "")
}

func (s *Server) createDirectChat(c *gin.Context) {
	uid := currentUser(c)
	peerID := c.Param("receiverId")

	s.mu.Lock()
	peer, ok := s.users[peerID]
	if !ok {
		s.mu.Unlock()
		respond(c, http.StatusNotFound, nil, "user not found")
		return
	}
	for _, conv := range s.convs {
		if !conv.IsGroup && conv.HasParticipant(uid) && conv.HasParticipant(peerID) {
			existing := *conv
			s.mu.Unlock()
			respond(c, http.StatusOK, existing, "chat already exists")
			return
		}
	}
	now := time.Now()
	conv := model.Conversation{
		ID:           uuid.NewString(),
		IsGroup:      false,
		Participants: []model.User{s.users[uid], peer},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.convs[conv.ID] = &conv
	peerClient := s.clients[peerID]
	s.mu.Unlock()

	if peerClient != nil {
		peerClient.writeFrame(socket.EventNewChat, conv)
	}
	respond(c, http.StatusCreated, conv, "")
}

func (s *Server) createGroupChat(c *gin.Context) {
	uid := currentUser(c)
	var req struct {
		Name         string   `json:"name"`
		Participants []string `json:"participants"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, nil, err.Error())
		return
	}
	if req.Name == "" || len(req.Participants) < 2 {
		respond(c, http.StatusBadRequest, nil, "group needs a name and at least 2 participants")
		return
	}

	s.mu.Lock()
	now := time.Now()
	conv := model.Conversation{
		ID:        uuid.NewString(),
		Name:      req.Name,
		IsGroup:   true,
		AdminID:   uid,
		CreatedAt: now,
		UpdatedAt: now,
	}
	conv.Participants = append(conv.Participants, s.users[uid])
	for _, pid := range req.Participants {
		if u, ok := s.users[pid]; ok && pid != uid {
			conv.Participants = append(conv.Participants, u)
		}
	}
	s.convs[conv.ID] = &conv
	targets := s.participantClientsLocked(conv.ID, uid)
	s.mu.Unlock()

	for _, cl := range targets {
		cl.writeFrame(socket.EventNewChat, conv)
	}
	respond(c, http.StatusCreated, conv, "")
}

func (s *Server) groupInfo(c *gin.Context) {
	s.mu.Lock()
	conv, ok := s.convs[c.Param("chatId")]
	var out model.Conversation
	if ok {
		out = *conv
	}
	s.mu.Unlock()
	if !ok {
		respond(c, http.StatusNotFound, nil, "group not found")
		return
	}
	respond(c, http.StatusOK, out, "")
}

func (s *Server) renameGroup(c *gin.Context) {
	uid := currentUser(c)
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		respond(c, http.StatusBadRequest, nil, "name is required")
		return
	}

	s.mu.Lock()
	conv, ok := s.convs[c.Param("chatId")]
	if !ok {
		s.mu.Unlock()
		respond(c, http.StatusNotFound, nil, "group not found")
		return
	}
	if conv.AdminID != uid {
		s.mu.Unlock()
		respond(c, http.StatusForbidden, nil, "only admin can rename the group")
		return
	}
	conv.Name = req.Name
	conv.UpdatedAt = time.Now()
	out := *conv
	targets := s.participantClientsLocked(conv.ID, uid)
	s.mu.Unlock()

	for _, cl := range targets {
		cl.writeFrame(socket.EventUpdateGroupName, out)
	}
	respond(c, http.StatusOK, out, "")
}

func (s *Server) deleteGroup(c *gin.Context) {
	uid := currentUser(c)
	s.mu.Lock()
	conv, ok := s.convs[c.Param("chatId")]
	if !ok {
		s.mu.Unlock()
		respond(c, http.StatusNotFound, nil, "group not found")
		return
	}
	if conv.AdminID != uid {
		s.mu.Unlock()
		respond(c, http.StatusForbidden, nil, "only admin can delete the group")
		return
	}
	out := *conv
	delete(s.convs, conv.ID)
	delete(s.msgs, conv.ID)
	delete(s.rooms, conv.ID)
	targets := s.clientsForLocked(out, uid)
	s.mu.Unlock()

	for _, cl := range targets {
		cl.writeFrame(socket.EventLeaveChat, out)
	}
	respond(c, http.StatusOK, out, "")
}

func (s *Server) addParticipant(c *gin.Context) {
	uid := currentUser(c)
	s.mu.Lock()
	conv, ok := s.convs[c.Param("chatId")]
	if !ok || conv.AdminID != uid {
		s.mu.Unlock()
		respond(c, http.StatusForbidden, nil, "only admin can add participants")
		return
	}
	u, ok := s.users[c.Param("participantId")]
	if !ok {
		s.mu.Unlock()
		respond(c, http.StatusNotFound, nil, "user not found")
		return
	}
	if !conv.HasParticipant(u.ID) {
		conv.Participants = append(conv.Participants, u)
		conv.UpdatedAt = time.Now()
	}
	out := *conv
	added := s.clients[u.ID]
	s.mu.Unlock()

	if added != nil {
		added.writeFrame(socket.EventNewChat, out)
	}
	respond(c, http.StatusOK, out, "")
}

func (s *Server) removeParticipant(c *gin.Context) {
	uid := currentUser(c)
	s.mu.Lock()
	conv, ok := s.convs[c.Param("chatId")]
	if !ok || conv.AdminID != uid {
		s.mu.Unlock()
		respond(c, http.StatusForbidden, nil, "only admin can remove participants")
		return
	}
	removedID := c.Param("participantId")
	for i := range conv.Participants {
		if conv.Participants[i].ID == removedID {
			conv.Participants = append(conv.Participants[:i], conv.Participants[i+1:]...)
			break
		}
	}
	conv.UpdatedAt = time.Now()
	out := *conv
	if set, ok := s.rooms[conv.ID]; ok {
		delete(set, removedID)
	}
	removed := s.clients[removedID]
	s.mu.Unlock()

	if removed != nil {
		removed.writeFrame(socket.EventLeaveChat, out)
	}
	respond(c, http.StatusOK, out, "")
}

func (s *Server) deleteDirectChat(c *gin.Context) {
	uid := currentUser(c)
	s.mu.Lock()
	conv, ok := s.convs[c.Param("chatId")]
	if !ok || conv.IsGroup || !conv.HasParticipant(uid) {
		s.mu.Unlock()
		respond(c, http.StatusNotFound, nil, "chat not found")
		return
	}
	out := *conv
	delete(s.convs, conv.ID)
	delete(s.msgs, conv.ID)
	delete(s.rooms, conv.ID)
	targets := s.clientsForLocked(out, uid)
	s.mu.Unlock()

	for _, cl := range targets {
		cl.writeFrame(socket.EventLeaveChat, out)
	}
	respond(c, http.StatusOK, out, "")
}

func (s *Server) listMessages(c *gin.Context) {
	s.mu.Lock()
	msgs := append([]model.Message{}, s.msgs[c.Param("chatId")]...)
	s.mu.Unlock()
	respond(c, http.StatusOK, msgs, "")
}

func (s *Server) sendMessage(c *gin.Context) {
	uid := currentUser(c)
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Content == "" {
		respond(c, http.StatusBadRequest, nil, "content is required")
		return
	}

	s.mu.Lock()
	conv, ok := s.convs[c.Param("chatId")]
	if !ok || !conv.HasParticipant(uid) {
		s.mu.Unlock()
		respond(c, http.StatusNotFound, nil, "chat not found")
		return
	}
	now := time.Now()
	msg := model.Message{
		ID:        uuid.NewString(),
		ChatID:    conv.ID,
		Sender:    s.users[uid],
		Content:   req.Content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.insertMessageLocked(msg)
	// The originator learns about its own message from this response, not
	// from a push event.
	targets := s.participantClientsLocked(conv.ID, uid)
	s.mu.Unlock()

	for _, cl := range targets {
		cl.writeFrame(socket.EventMessageReceived, msg)
	}
	respond(c, http.StatusCreated, msg, "")
}

func (s *Server) deleteMessage(c *gin.Context) {
	uid := currentUser(c)
	chatID := c.Param("chatId")
	messageID := c.Param("messageId")

	s.mu.Lock()
	msgs := s.msgs[chatID]
	var deleted *model.Message
	for i := range msgs {
		if msgs[i].ID == messageID {
			m := msgs[i]
			deleted = &m
			s.msgs[chatID] = append(msgs[:i], msgs[i+1:]...)
			break
		}
	}
	if deleted == nil {
		s.mu.Unlock()
		respond(c, http.StatusNotFound, nil, "message not found")
		return
	}
	if conv, ok := s.convs[chatID]; ok {
		if conv.LastMessage != nil && conv.LastMessage.ID == deleted.ID {
			conv.LastMessage = nil
			if rest := s.msgs[chatID]; len(rest) > 0 {
				m := rest[0]
				conv.LastMessage = &m
			}
		}
		conv.UpdatedAt = time.Now()
	}
	targets := s.participantClientsLocked(chatID, uid)
	s.mu.Unlock()

	for _, cl := range targets {
		cl.writeFrame(socket.EventMessageDeleted, *deleted)
	}
	respond(c, http.StatusOK, *deleted, "")
}

func (s *Server) listReviews(c *gin.Context) {
	s.mu.Lock()
	list := append([]model.Review{}, s.reviews[c.Param("bookId")]...)
	s.mu.Unlock()
	respond(c, http.StatusOK, list, "")
}

func (s *Server) listReplies(c *gin.Context) {
	s.mu.Lock()
	list := append([]model.Review{}, s.reviews[c.Param("reviewId")]...)
	s.mu.Unlock()
	respond(c, http.StatusOK, list, "")
}

// --- socket side ---

func (s *Server) serveWS(c *gin.Context) {
	claims, err := auth.ParseToken(Secret, c.Query("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	cl := &wsClient{conn: conn}
	s.mu.Lock()
	if old, ok := s.clients[claims.UserID]; ok {
		old.conn.Close()
	}
	s.clients[claims.UserID] = cl
	s.mu.Unlock()

	cl.writeFrame(socket.EventConnected, nil)
	go s.readLoop(claims.UserID, cl)
}

func (s *Server) readLoop(userID string, cl *wsClient) {
	defer func() {
		s.mu.Lock()
		if s.clients[userID] == cl {
			delete(s.clients, userID)
		}
		for _, set := range s.rooms {
			delete(set, userID)
		}
		s.mu.Unlock()
		cl.conn.Close()
	}()

	for {
		var frame socket.Frame
		if err := cl.conn.ReadJSON(&frame); err != nil {
			return
		}
		id, _ := frameID(frame)
		switch frame.Event {
		case socket.EventJoinChat:
			s.mu.Lock()
			if s.rooms[id] == nil {
				s.rooms[id] = make(map[string]bool)
			}
			s.rooms[id][userID] = true
			s.mu.Unlock()
		case socket.EventLeaveChat:
			s.mu.Lock()
			if set, ok := s.rooms[id]; ok {
				delete(set, userID)
			}
			s.mu.Unlock()
		case socket.EventTyping, socket.EventStopTyping:
			s.mu.Lock()
			var targets []*wsClient
			for member := range s.rooms[id] {
				if member != userID && s.clients[member] != nil {
					targets = append(targets, s.clients[member])
				}
			}
			s.mu.Unlock()
			for _, target := range targets {
				target.writeFrame(frame.Event, id)
			}
		default:
			log.Printf("[chattest] unhandled client event %q", frame.Event)
		}
	}
}

func frameID(frame socket.Frame) (string, bool) {
	var id string
	if err := json.Unmarshal(frame.Payload, &id); err != nil {
		return "", false
	}
	return id, true
}

// callers hold s.mu
func (s *Server) insertMessageLocked(msg model.Message) {
	s.msgs[msg.ChatID] = append([]model.Message{msg}, s.msgs[msg.ChatID]...)
	if conv, ok := s.convs[msg.ChatID]; ok {
		m := msg
		conv.LastMessage = &m
		conv.UpdatedAt = msg.CreatedAt
	}
}

// callers hold s.mu
func (s *Server) participantClientsLocked(conversationID, exceptUserID string) []*wsClient {
	conv, ok := s.convs[conversationID]
	if !ok {
		return nil
	}
	return s.clientsForLocked(*conv, exceptUserID)
}

// callers hold s.mu
func (s *Server) clientsForLocked(conv model.Conversation, exceptUserID string) []*wsClient {
	var out []*wsClient
	for _, p := range conv.Participants {
		if p.ID == exceptUserID {
			continue
		}
		if cl, ok := s.clients[p.ID]; ok {
			out = append(out, cl)
		}
	}
	return out
}

package cache

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/libroom/chatkit/internal/model"

	_ "modernc.org/sqlite"
)

// Cache is the local warm-start snapshot: the conversation list, recent
// message history per conversation, and the id of the conversation that was
// open. It is replaced wholesale on every successful refresh; it is never the
// source of truth.
type Cache struct {
	db *sql.DB
}

func Open(dsn string) (*Cache, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if _, err = db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, err
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Enable WAL for better concurrency
	_, _ = db.Exec(`PRAGMA journal_mode=WAL;`)

	// Wait up to 5s if locked
	_, _ = db.Exec(`PRAGMA busy_timeout = 5000;`)

	c := &Cache{db: db}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Cache) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS session_state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := c.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// SaveConversations replaces the cached list wholesale.
func (c *Cache) SaveConversations(convs []model.Conversation) error {
	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM conversations`); err != nil {
		return err
	}
	for _, conv := range convs {
		payload, err := json.Marshal(conv)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(
			`INSERT INTO conversations (id, payload, updated_at) VALUES (?, ?, ?)`,
			conv.ID, string(payload), conv.UpdatedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (c *Cache) LoadConversations() ([]model.Conversation, error) {
	rows, err := c.db.Query(`SELECT payload FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []model.Conversation
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var conv model.Conversation
		if err := json.Unmarshal([]byte(payload), &conv); err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// SaveMessages replaces the cached history of one conversation.
func (c *Cache) SaveMessages(conversationID string, msgs []model.Message) error {
	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id=?`, conversationID); err != nil {
		return err
	}
	for _, msg := range msgs {
		payload, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(
			`INSERT INTO messages (id, conversation_id, payload, created_at) VALUES (?, ?, ?, ?)`,
			msg.ID, conversationID, string(payload), msg.CreatedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (c *Cache) LoadMessages(conversationID string) ([]model.Message, error) {
	rows, err := c.db.Query(
		`SELECT payload FROM messages WHERE conversation_id=? ORDER BY created_at DESC`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var msg model.Message
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

const activeConversationKey = "active_conversation"

func (c *Cache) SetActiveConversation(id string) error {
	_, err := c.db.Exec(
		`INSERT INTO session_state (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		activeConversationKey, id,
	)
	return err
}

func (c *Cache) ActiveConversation() (string, error) {
	var id string
	err := c.db.QueryRow(
		`SELECT value FROM session_state WHERE key=?`, activeConversationKey,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return id, err
}

func (c *Cache) ClearActiveConversation() error {
	_, err := c.db.Exec(`DELETE FROM session_state WHERE key=?`, activeConversationKey)
	return err
}

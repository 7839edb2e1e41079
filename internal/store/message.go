package store

import (
	"database/sql"
	"math"
	"time"
)

// CreateMessage inserts a new message.
func (db *DB) CreateMessage(m *Message) error {
	if m.CreatedAt == 0 {
		m.CreatedAt = time.Now().UnixMilli()
	}
	if m.Status == "" {
		m.Status = StatusSent
	}
	_, err := db.Exec(`
		INSERT INTO messages (id, conversation_id, sender_id, content, status, is_deleted, is_edited, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.SenderID, m.Content, m.Status, m.Deleted, m.Edited, m.CreatedAt)
	return err
}

// FindMessagesByConversation returns messages for a conversation using keyset
// pagination by creation time, newest first. beforeTs <= 0 means no upper
// bound.
func (db *DB) FindMessagesByConversation(conversationID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = math.MaxInt64
	}
	rows, err := db.Query(`
		SELECT id, conversation_id, sender_id, content, status, is_deleted, is_edited, created_at
		FROM messages
		WHERE conversation_id = ? AND created_at < ?
		ORDER BY created_at DESC
		LIMIT ?`, conversationID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// FindUnreadMessages returns the conversation's messages that were not sent
// by excludeSender and are not yet read, oldest first. The read-sweep uses
// this to propagate receipts.
func (db *DB) FindUnreadMessages(conversationID, excludeSender string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT id, conversation_id, sender_id, content, status, is_deleted, is_edited, created_at
		FROM messages
		WHERE conversation_id = ? AND sender_id != ? AND status != 'read'
		ORDER BY created_at ASC`, conversationID, excludeSender)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// UpdateMessageStatus transitions a message's status. Moving to 'read' only
// applies to messages still in 'sent'; the read state never regresses.
func (db *DB) UpdateMessageStatus(conversationID, messageID, status string) error {
	_, err := db.Exec(`
		UPDATE messages SET status = ?
		WHERE conversation_id = ? AND id = ? AND status = 'sent'`,
		status, conversationID, messageID)
	return err
}

func collectMessages(rows *sql.Rows) ([]Message, error) {
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content,
			&m.Status, &m.Deleted, &m.Edited, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

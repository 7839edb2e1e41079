package store

import (
	"database/sql"
	"fmt"
	"time"
)

// CreateConversation inserts a conversation and its participants in one
// transaction.
func (db *DB) CreateConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	if c.UpdatedAt == 0 {
		c.UpdatedAt = now
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT INTO conversations (id, kind, group_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.Kind, c.GroupName, now, c.UpdatedAt); err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}

	for _, p := range c.Participants {
		role := p.Role
		if role == "" {
			role = RoleMember
		}
		if _, err := tx.Exec(`
			INSERT INTO participants (conversation_id, identity_id, display_name, role, unread_count)
			VALUES (?, ?, ?, ?, ?)`,
			c.ID, p.IdentityID, p.DisplayName, role, p.UnreadCount); err != nil {
			return fmt.Errorf("insert participant: %w", err)
		}
	}

	return tx.Commit()
}

// FindConversationByID returns a conversation with its participants loaded,
// or nil if it does not exist.
func (db *DB) FindConversationByID(id string) (*Conversation, error) {
	c, err := db.scanConversation(db.QueryRow(`
		SELECT id, kind, group_name, last_msg_id, last_msg_sender_id,
		       last_msg_sender_name, last_msg_content, last_msg_at, updated_at
		FROM conversations WHERE id = ?`, id))
	if err != nil || c == nil {
		return nil, err
	}
	if c.Participants, err = db.loadParticipants(c.ID); err != nil {
		return nil, err
	}
	return c, nil
}

// FindConversationsByParticipant returns the identity's conversations,
// most recently updated first, with participants loaded.
func (db *DB) FindConversationsByParticipant(identityID string) ([]Conversation, error) {
	rows, err := db.Query(`
		SELECT c.id, c.kind, c.group_name, c.last_msg_id, c.last_msg_sender_id,
		       c.last_msg_sender_name, c.last_msg_content, c.last_msg_at, c.updated_at
		FROM conversations c
		JOIN participants p ON p.conversation_id = c.id
		WHERE p.identity_id = ?
		ORDER BY c.updated_at DESC`, identityID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Conversation
	for rows.Next() {
		c, err := db.scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Participants, err = db.loadParticipants(out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// FindPrivateConversationByMembers returns the existing private conversation
// between the two identities, or nil. Used to deduplicate private threads.
func (db *DB) FindPrivateConversationByMembers(a, b string) (*Conversation, error) {
	var id string
	err := db.QueryRow(`
		SELECT c.id
		FROM conversations c
		JOIN participants pa ON pa.conversation_id = c.id AND pa.identity_id = ?
		JOIN participants pb ON pb.conversation_id = c.id AND pb.identity_id = ?
		WHERE c.kind = 'private'
		LIMIT 1`, a, b).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return db.FindConversationByID(id)
}

// UpdateConversationParticipants replaces the unread counts, roles, and
// display names of the conversation's participants in one transaction and
// bumps updated_at. The participant set itself is not changed.
func (db *DB) UpdateConversationParticipants(conversationID string, parts []Participant) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range parts {
		if _, err := tx.Exec(`
			UPDATE participants
			SET display_name = ?, role = ?, unread_count = ?
			WHERE conversation_id = ? AND identity_id = ?`,
			p.DisplayName, p.Role, p.UnreadCount, conversationID, p.IdentityID); err != nil {
			return fmt.Errorf("update participant: %w", err)
		}
	}
	if _, err := tx.Exec(`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		time.Now().UnixMilli(), conversationID); err != nil {
		return fmt.Errorf("bump conversation: %w", err)
	}

	return tx.Commit()
}

// UpdateParticipantUnread sets one participant's unread count.
func (db *DB) UpdateParticipantUnread(conversationID, identityID string, unread int) error {
	_, err := db.Exec(`
		UPDATE participants SET unread_count = ?
		WHERE conversation_id = ? AND identity_id = ?`,
		unread, conversationID, identityID)
	return err
}

// UpdateLastMessageSummary stores the denormalized last-message preview and
// bumps updated_at so conversation lists sort by recency.
func (db *DB) UpdateLastMessageSummary(conversationID string, lm LastMessage) error {
	_, err := db.Exec(`
		UPDATE conversations
		SET last_msg_id = ?, last_msg_sender_id = ?, last_msg_sender_name = ?,
		    last_msg_content = ?, last_msg_at = ?, updated_at = ?
		WHERE id = ?`,
		lm.MessageID, lm.SenderID, lm.SenderName, lm.Content, lm.Timestamp,
		time.Now().UnixMilli(), conversationID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (db *DB) scanConversation(row rowScanner) (*Conversation, error) {
	var c Conversation
	var lm LastMessage
	err := row.Scan(&c.ID, &c.Kind, &c.GroupName, &lm.MessageID, &lm.SenderID,
		&lm.SenderName, &lm.Content, &lm.Timestamp, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if lm.MessageID != "" {
		c.LastMessage = &lm
	}
	return &c, nil
}

func (db *DB) loadParticipants(conversationID string) ([]Participant, error) {
	rows, err := db.Query(`
		SELECT identity_id, display_name, role, unread_count
		FROM participants WHERE conversation_id = ?
		ORDER BY identity_id ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.IdentityID, &p.DisplayName, &p.Role, &p.UnreadCount); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

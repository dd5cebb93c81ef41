package database

import (
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/lib/pq"
)

func (db *PgSyncRepository) CreateAccount(params CreateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO accounts (username, email, password_hash, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, username, email, created_at",
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.CreatedAt,
	)

	return u, err
}

func (db *PgSyncRepository) GetAccountById(id int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, created_at, updated_at FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	return user, err
}

func (db *PgSyncRepository) GetAccountByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, password_hash, created_at, updated_at FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	return user, err
}

func (db *PgSyncRepository) CreateConversation(params CreateConversationParams) (Conversation, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Conversation{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRow(
		"INSERT INTO conversations (external_id, created_at) VALUES ($1, $2) "+
			"RETURNING id, external_id, last_message_at, created_at",
		params.ExternalId,
		time.Now().UTC(),
	)

	var conv Conversation
	if err := row.Scan(&conv.Id, &conv.ExternalId, &conv.LastMessageAt, &conv.CreatedAt); err != nil {
		return Conversation{}, err
	}

	for _, accountId := range params.ParticipantIds {
		if _, err := tx.Exec(
			"INSERT INTO conversation_participants (conversation_id, account_id) VALUES ($1, $2)",
			conv.Id, accountId,
		); err != nil {
			return Conversation{}, fmt.Errorf("add participant %d: %w", accountId, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Conversation{}, err
	}

	conv.ParticipantIds = params.ParticipantIds
	return conv, nil
}

func (db *PgSyncRepository) GetConversationByExternalId(externalId string) (Conversation, error) {
	row := db.conn.QueryRow(
		"SELECT c.id, c.external_id, c.last_message_at, c.last_message_preview, c.created_at, c.updated_at, "+
			"ARRAY_AGG(p.account_id) AS participant_ids "+
			"FROM conversations c "+
			"JOIN conversation_participants p ON p.conversation_id = c.id "+
			"WHERE c.external_id = $1 "+
			"GROUP BY c.id LIMIT 1",
		externalId,
	)

	var conv Conversation
	var participantIds pq.Int64Array
	err := row.Scan(
		&conv.Id,
		&conv.ExternalId,
		&conv.LastMessageAt,
		&conv.LastMessagePreview,
		&conv.CreatedAt,
		&conv.UpdatedAt,
		&participantIds,
	)
	if err != nil {
		return Conversation{}, err
	}

	for _, id := range participantIds {
		conv.ParticipantIds = append(conv.ParticipantIds, int(id))
	}

	return conv, nil
}

func (db *PgSyncRepository) ListConversations(accountId int) ([]Conversation, error) {
	rows, err := db.conn.Query(
		"SELECT c.id, c.external_id, c.last_message_at, c.last_message_preview, c.created_at, c.updated_at, "+
			"ARRAY_AGG(p.account_id) AS participant_ids "+
			"FROM conversations c "+
			"JOIN conversation_participants p ON p.conversation_id = c.id "+
			"WHERE c.id IN (SELECT conversation_id FROM conversation_participants WHERE account_id = $1) "+
			"GROUP BY c.id "+
			"ORDER BY c.last_message_at DESC",
		accountId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var conv Conversation
		var participantIds pq.Int64Array
		if err := rows.Scan(
			&conv.Id,
			&conv.ExternalId,
			&conv.LastMessageAt,
			&conv.LastMessagePreview,
			&conv.CreatedAt,
			&conv.UpdatedAt,
			&participantIds,
		); err != nil {
			return nil, err
		}

		for _, id := range participantIds {
			conv.ParticipantIds = append(conv.ParticipantIds, int(id))
		}

		convs = append(convs, conv)
	}

	return convs, rows.Err()
}

func (db *PgSyncRepository) IsParticipant(accountId, conversationId int) bool {
	row := db.conn.QueryRow(
		"SELECT 1 FROM conversation_participants WHERE account_id = $1 AND conversation_id = $2 LIMIT 1",
		accountId, conversationId,
	)

	var one int
	return row.Scan(&one) == nil
}

func (db *PgSyncRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	row := db.conn.QueryRow(
		"INSERT INTO messages (external_id, conversation_id, sender_id, content, created_at) "+
			"VALUES ($1, $2, $3, $4, $5) "+
			"RETURNING id, external_id, conversation_id, sender_id, content, created_at",
		params.ExternalId,
		params.ConversationId,
		params.SenderId,
		params.Content,
		params.CreatedAt,
	)

	var msg Message
	err := row.Scan(
		&msg.Id,
		&msg.ExternalId,
		&msg.ConversationId,
		&msg.SenderId,
		&msg.Content,
		&msg.CreatedAt,
	)

	return msg, err
}

func (db *PgSyncRepository) UpdateConversationOnMessage(msg Message) error {
	_, err := db.conn.Exec(
		"UPDATE conversations SET last_message_at = $2, last_message_preview = $3, updated_at = $4 "+
			"WHERE id = $1",
		msg.ConversationId,
		msg.CreatedAt,
		preview(msg.Content),
		time.Now().UTC(),
	)

	return err
}

const previewLength = 80

func preview(content string) string {
	if len(content) > previewLength {
		return content[:previewLength]
	}
	return content
}

// listMessagesQuery selects the newest page of a conversation's
// messages. A before cursor narrows the page to messages older than
// the one carrying that external id; the cursor compares on the same
// (created_at, external_id) key the ordering uses.
func listMessagesQuery(before string, limit int) string {
	query := "SELECT id, external_id, conversation_id, sender_id, content, created_at FROM messages " +
		"WHERE conversation_id = $1"

	if before != "" {
		query += " AND (created_at, external_id) < " +
			"(SELECT created_at, external_id FROM messages WHERE external_id = $2)"
	}

	return query + fmt.Sprintf(" ORDER BY created_at DESC, external_id DESC LIMIT %d", limit)
}

// ListMessages returns the newest page of messages for a conversation,
// ordered oldest-first. Fetching the newest page matters for catch-up:
// after a gap the client needs the most recent messages, not the start
// of the thread.
func (db *PgSyncRepository) ListMessages(conversationId int, before string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}

	args := []any{conversationId}
	if before != "" {
		args = append(args, before)
	}

	rows, err := db.conn.Query(listMessagesQuery(before, limit), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(
			&msg.Id,
			&msg.ExternalId,
			&msg.ConversationId,
			&msg.SenderId,
			&msg.Content,
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}

		messages = append(messages, msg)
	}

	slices.Reverse(messages)
	return messages, rows.Err()
}

func (db *PgSyncRepository) CreateNotification(params CreateNotificationParams) (Notification, error) {
	row := db.conn.QueryRow(
		"INSERT INTO notifications (recipient_id, type, message, created_at) "+
			"VALUES ($1, $2, $3, $4) "+
			"RETURNING id, recipient_id, type, message, is_read, created_at",
		params.RecipientId,
		params.Type,
		params.Message,
		time.Now().UTC(),
	)

	var n Notification
	err := row.Scan(
		&n.Id,
		&n.RecipientId,
		&n.Type,
		&n.Message,
		&n.IsRead,
		&n.CreatedAt,
	)

	return n, err
}

func (db *PgSyncRepository) ListNotifications(recipientId, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := db.conn.Query(
		"SELECT id, recipient_id, type, message, is_read, created_at FROM notifications "+
			"WHERE recipient_id = $1 "+
			fmt.Sprintf("ORDER BY created_at DESC, id DESC LIMIT %d", limit),
		recipientId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(
			&n.Id,
			&n.RecipientId,
			&n.Type,
			&n.Message,
			&n.IsRead,
			&n.CreatedAt,
		); err != nil {
			return nil, err
		}

		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

func (db *PgSyncRepository) MarkNotificationRead(recipientId, notificationId int) (Notification, error) {
	row := db.conn.QueryRow(
		"UPDATE notifications SET is_read = TRUE "+
			"WHERE id = $1 AND recipient_id = $2 "+
			"RETURNING id, recipient_id, type, message, is_read, created_at",
		notificationId,
		recipientId,
	)

	var n Notification
	err := row.Scan(
		&n.Id,
		&n.RecipientId,
		&n.Type,
		&n.Message,
		&n.IsRead,
		&n.CreatedAt,
	)

	return n, err
}

func (db *PgSyncRepository) MarkAllNotificationsRead(recipientId int) (int, error) {
	res, err := db.conn.Exec(
		"UPDATE notifications SET is_read = TRUE WHERE recipient_id = $1 AND is_read = FALSE",
		recipientId,
	)
	if err != nil {
		return 0, err
	}

	updated, err := res.RowsAffected()
	return int(updated), err
}

func (db *PgSyncRepository) DeleteNotification(recipientId, notificationId int) error {
	res, err := db.conn.Exec(
		"DELETE FROM notifications WHERE id = $1 AND recipient_id = $2",
		notificationId,
		recipientId,
	)
	if err != nil {
		return err
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return sql.ErrNoRows
	}

	return nil
}

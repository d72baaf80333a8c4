package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ngabarin/messaging/internal/models"
)

var (
	ErrNotFound       = errors.New("conversation not found")
	ErrNotParticipant = errors.New("not a participant of this conversation")
	ErrUserNotFound   = errors.New("user not found")
)

// Store runs the messaging queries against Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps a connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ListConversations returns one page of the user's conversations, most recent
// activity first, and the user's unread total across every conversation.
func (s *Store) ListConversations(ctx context.Context, userID int64, search string, page, perPage int) ([]models.Conversation, int, error) {
	offset, limit := pageWindow(page, perPage)

	rows, err := s.pool.Query(ctx, `
		SELECT
			c.id, c.type, c.name, c.last_activity_at,
			(SELECT COUNT(*) FROM messages m
			  WHERE m.conversation_id = c.id AND m.id > p.last_read_message_id AND m.sender_id <> $1),
			lm.body, lm.sender_id, lu.name, lm.created_at
		FROM conversations c
		INNER JOIN conversation_participants p ON p.conversation_id = c.id AND p.user_id = $1
		LEFT JOIN LATERAL (
			SELECT body, sender_id, created_at FROM messages
			WHERE conversation_id = c.id ORDER BY id DESC LIMIT 1
		) lm ON TRUE
		LEFT JOIN users lu ON lu.id = lm.sender_id
		WHERE $2 = '' OR c.name ILIKE '%' || $2 || '%' OR EXISTS (
			SELECT 1 FROM conversation_participants op
			INNER JOIN users ou ON ou.id = op.user_id
			WHERE op.conversation_id = c.id AND op.user_id <> $1 AND ou.name ILIKE '%' || $2 || '%'
		)
		ORDER BY c.last_activity_at DESC, c.id DESC
		LIMIT $3 OFFSET $4
	`, userID, search, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query conversations: %w", err)
	}

	conversations, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Conversation, error) {
		var (
			c          models.Conversation
			lastBody   *string
			lastSender *int64
			lastName   *string
			lastAt     *time.Time
		)
		if err := row.Scan(&c.ID, &c.Kind, &c.Name, &c.LastActivityAt, &c.UnreadCount,
			&lastBody, &lastSender, &lastName, &lastAt); err != nil {
			return c, err
		}
		if lastBody != nil {
			c.LastMessage = &models.MessageSummary{Text: *lastBody, SenderID: deref(lastSender), SenderName: deref(lastName), CreatedAt: deref(lastAt)}
		}
		return c, nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to scan conversations: %w", err)
	}

	if err := s.attachParticipants(ctx, conversations); err != nil {
		return nil, 0, err
	}

	var total int
	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages m
		INNER JOIN conversation_participants p ON p.conversation_id = m.conversation_id AND p.user_id = $1
		WHERE m.id > p.last_read_message_id AND m.sender_id <> $1
	`, userID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count unread messages: %w", err)
	}

	return conversations, total, nil
}

// GetConversation returns a conversation the user participates in.
func (s *Store) GetConversation(ctx context.Context, conversationID, userID int64) (*models.Conversation, error) {
	var c models.Conversation
	err := s.pool.QueryRow(ctx, `
		SELECT c.id, c.type, c.name, c.last_activity_at,
			(SELECT COUNT(*) FROM messages m
			  WHERE m.conversation_id = c.id AND m.id > p.last_read_message_id AND m.sender_id <> $2)
		FROM conversations c
		INNER JOIN conversation_participants p ON p.conversation_id = c.id AND p.user_id = $2
		WHERE c.id = $1
	`, conversationID, userID).Scan(&c.ID, &c.Kind, &c.Name, &c.LastActivityAt, &c.UnreadCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.missingOrForbidden(ctx, conversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	c.Participants, err = s.Participants(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Participants lists the members of a conversation, creators first.
func (s *Store) Participants(ctx context.Context, conversationID int64) ([]models.Participant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.user_id, u.name, p.role, p.is_creator
		FROM conversation_participants p
		INNER JOIN users u ON u.id = p.user_id
		WHERE p.conversation_id = $1
		ORDER BY p.is_creator DESC, p.joined_at, p.user_id
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants: %w", err)
	}

	participants, err := pgx.CollectRows(rows, scanParticipant)
	if err != nil {
		return nil, fmt.Errorf("failed to scan participants: %w", err)
	}
	return participants, nil
}

// ParticipantIDs lists the user ids of a conversation.
func (s *Store) ParticipantIDs(ctx context.Context, conversationID int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id FROM conversation_participants WHERE conversation_id = $1
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query participant ids: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("failed to scan participant ids: %w", err)
	}
	return ids, nil
}

// IsParticipant reports whether the user belongs to the conversation.
func (s *Store) IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM conversation_participants WHERE conversation_id = $1 AND user_id = $2)
	`, conversationID, userID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("failed to check participant: %w", err)
	}
	return ok, nil
}

// Messages returns one page of history. Page 1 holds the newest messages;
// the data of every page is id-ascending.
func (s *Store) Messages(ctx context.Context, conversationID int64, page, perPage int) (models.Page, error) {
	offset, limit := pageWindow(page, perPage)

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE conversation_id = $1`, conversationID).Scan(&total); err != nil {
		return models.Page{}, fmt.Errorf("failed to count messages: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT m.id, m.conversation_id, m.sender_id, u.name, m.body, m.attachments, m.created_at
		FROM messages m
		INNER JOIN users u ON u.id = m.sender_id
		WHERE m.conversation_id = $1
		ORDER BY m.id DESC
		LIMIT $2 OFFSET $3
	`, conversationID, limit, offset)
	if err != nil {
		return models.Page{}, fmt.Errorf("failed to query messages: %w", err)
	}

	data, err := pgx.CollectRows(rows, scanMessage)
	if err != nil {
		return models.Page{}, fmt.Errorf("failed to scan messages: %w", err)
	}
	for i, j := 0, len(data)-1; i < j; i, j = i+1, j-1 {
		data[i], data[j] = data[j], data[i]
	}

	return models.Page{
		Data:        data,
		CurrentPage: offset/limit + 1,
		LastPage:    lastPage(total, limit),
		PerPage:     limit,
		Total:       total,
	}, nil
}

// FindOrCreateDirect returns the direct conversation between two users,
// creating it when none exists.
func (s *Store) FindOrCreateDirect(ctx context.Context, userID, otherID int64) (*models.Conversation, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx, `
		SELECT c.id FROM conversations c
		INNER JOIN conversation_participants a ON a.conversation_id = c.id AND a.user_id = $1
		INNER JOIN conversation_participants b ON b.conversation_id = c.id AND b.user_id = $2
		WHERE c.type = 'direct'
		ORDER BY c.id
		LIMIT 1
	`, userID, otherID).Scan(&id)

	created := false
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, otherID).Scan(&exists); err != nil {
			return nil, false, fmt.Errorf("failed to check user: %w", err)
		}
		if !exists {
			return nil, false, ErrUserNotFound
		}

		if err := tx.QueryRow(ctx, `
			INSERT INTO conversations (type, created_by) VALUES ('direct', $1) RETURNING id
		`, userID).Scan(&id); err != nil {
			return nil, false, fmt.Errorf("failed to create conversation: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO conversation_participants (conversation_id, user_id, role, is_creator)
			VALUES ($1, $2, 'admin', TRUE), ($1, $3, 'member', FALSE)
		`, id, userID, otherID); err != nil {
			return nil, false, fmt.Errorf("failed to add participants: %w", err)
		}
		created = true
	case err != nil:
		return nil, false, fmt.Errorf("failed to find conversation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	c, err := s.GetConversation(ctx, id, userID)
	return c, created, err
}

// CreateMessage stores a message, bumps the conversation activity and marks
// the message read for its sender.
func (s *Store) CreateMessage(ctx context.Context, conversationID, senderID int64, body string) (*models.Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	msg := models.Message{ConversationID: conversationID, SenderID: senderID, Body: body}
	err = tx.QueryRow(ctx, `
		INSERT INTO messages (conversation_id, sender_id, body)
		SELECT $1, $2, $3
		WHERE EXISTS (SELECT 1 FROM conversation_participants WHERE conversation_id = $1 AND user_id = $2)
		RETURNING id, created_at
	`, conversationID, senderID, body).Scan(&msg.ID, &msg.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.missingOrForbidden(ctx, conversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE conversations SET last_activity_at = $2 WHERE id = $1`, conversationID, msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to update conversation activity: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE conversation_participants SET last_read_message_id = $3
		WHERE conversation_id = $1 AND user_id = $2
	`, conversationID, senderID, msg.ID); err != nil {
		return nil, fmt.Errorf("failed to update read marker: %w", err)
	}
	if err := tx.QueryRow(ctx, `SELECT name FROM users WHERE id = $1`, senderID).Scan(&msg.SenderName); err != nil {
		return nil, fmt.Errorf("failed to get sender name: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return &msg, nil
}

// MarkAsRead moves the user's read marker to the newest message.
func (s *Store) MarkAsRead(ctx context.Context, conversationID, userID int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversation_participants
		SET last_read_message_id = COALESCE((SELECT MAX(id) FROM messages WHERE conversation_id = $1), 0)
		WHERE conversation_id = $1 AND user_id = $2
	`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("failed to mark as read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrForbidden(ctx, conversationID)
	}
	return nil
}

// Leave removes the user from the conversation. A leaving creator hands the
// role to the longest-standing remaining member.
func (s *Store) Leave(ctx context.Context, conversationID, userID int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var wasCreator bool
	err = tx.QueryRow(ctx, `
		DELETE FROM conversation_participants WHERE conversation_id = $1 AND user_id = $2
		RETURNING is_creator
	`, conversationID, userID).Scan(&wasCreator)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.missingOrForbidden(ctx, conversationID)
	}
	if err != nil {
		return fmt.Errorf("failed to leave conversation: %w", err)
	}

	if wasCreator {
		if _, err := tx.Exec(ctx, `
			UPDATE conversation_participants SET is_creator = TRUE, role = 'admin'
			WHERE conversation_id = $1 AND user_id = (
				SELECT user_id FROM conversation_participants
				WHERE conversation_id = $1 ORDER BY joined_at, user_id LIMIT 1
			)
		`, conversationID); err != nil {
			return fmt.Errorf("failed to transfer creator role: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UserName returns the display name of a user.
func (s *Store) UserName(ctx context.Context, userID int64) (string, error) {
	var name string
	err := s.pool.QueryRow(ctx, `SELECT name FROM users WHERE id = $1`, userID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get user: %w", err)
	}
	return name, nil
}

// CreateUser inserts a user, or renames the one already holding email.
func (s *Store) CreateUser(ctx context.Context, name, email string) (models.User, error) {
	user := models.User{Name: name}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (name, email) VALUES ($1, NULLIF($2, ''))
		ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, name, email).Scan(&user.ID)
	if err != nil {
		return models.User{}, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

func (s *Store) attachParticipants(ctx context.Context, conversations []models.Conversation) error {
	if len(conversations) == 0 {
		return nil
	}

	index := make(map[int64]int, len(conversations))
	ids := make([]int64, len(conversations))
	for i, c := range conversations {
		index[c.ID] = i
		ids[i] = c.ID
	}

	rows, err := s.pool.Query(ctx, `
		SELECT p.conversation_id, p.user_id, u.name, p.role, p.is_creator
		FROM conversation_participants p
		INNER JOIN users u ON u.id = p.user_id
		WHERE p.conversation_id = ANY($1)
		ORDER BY p.conversation_id, p.is_creator DESC, p.joined_at, p.user_id
	`, ids)
	if err != nil {
		return fmt.Errorf("failed to query participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			convID int64
			p      models.Participant
		)
		if err := rows.Scan(&convID, &p.UserID, &p.Name, &p.Role, &p.IsCreator); err != nil {
			return fmt.Errorf("failed to scan participant: %w", err)
		}
		i := index[convID]
		conversations[i].Participants = append(conversations[i].Participants, p)
	}
	return rows.Err()
}

// missingOrForbidden tells a conversation that does not exist apart from one
// the user is not part of.
func (s *Store) missingOrForbidden(ctx context.Context, conversationID int64) error {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM conversations WHERE id = $1)`, conversationID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check conversation: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrNotParticipant
}

func scanParticipant(row pgx.CollectableRow) (models.Participant, error) {
	var p models.Participant
	err := row.Scan(&p.UserID, &p.Name, &p.Role, &p.IsCreator)
	return p, err
}

func scanMessage(row pgx.CollectableRow) (models.Message, error) {
	var (
		m           models.Message
		attachments []byte
	)
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.SenderName, &m.Body, &attachments, &m.CreatedAt)
	if len(attachments) > 0 {
		m.Attachments = json.RawMessage(attachments)
	}
	return m, err
}

func deref[T any](v *T) T {
	var zero T
	if v == nil {
		return zero
	}
	return *v
}

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/secondbrain-app/secondbrain/internal/llm"
)

const chatCols = `c.id, c.title, c.created_at, c.updated_at,
	(SELECT count(*) FROM messages m WHERE m.chat_id = c.id)`

// Store persists chats and messages.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a chat Store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// CreateChat creates a conversation. Title may be empty; the first answer
// auto-titles it.
func (s *Store) CreateChat(ctx context.Context, title string) (*Chat, error) {
	c := Chat{ID: uuid.New(), Title: title}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO chats (id, title) VALUES ($1, $2) RETURNING created_at, updated_at`,
		c.ID, title).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating chat: %w", err)
	}
	s.logger.Debug("chat created", "chat_id", c.ID)
	return &c, nil
}

// GetChat fetches one chat with its message count.
func (s *Store) GetChat(ctx context.Context, id uuid.UUID) (*Chat, error) {
	var c Chat
	err := s.pool.QueryRow(ctx, `SELECT `+chatCols+` FROM chats c WHERE c.id = $1`, id).
		Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt, &c.MessageCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrChatNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching chat %s: %w", id, err)
	}
	return &c, nil
}

// ListChats returns chats most recently updated first.
func (s *Store) ListChats(ctx context.Context, limit, offset int) ([]Chat, error) {
	const maxListLimit = 1000
	if limit <= 0 || limit > maxListLimit {
		return nil, fmt.Errorf("limit must be between 1 and %d, got %d", maxListLimit, limit)
	}

	rows, err := s.pool.Query(ctx, `SELECT `+chatCols+` FROM chats c
		ORDER BY c.updated_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing chats: %w", err)
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt, &c.MessageCount); err != nil {
			return nil, fmt.Errorf("scanning chat: %w", err)
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chats: %w", err)
	}
	return chats, nil
}

// RenameChat sets a chat's title.
func (s *Store) RenameChat(ctx context.Context, id uuid.UUID, title string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE chats SET title = $2, updated_at = now() WHERE id = $1`, id, title)
	if err != nil {
		return fmt.Errorf("renaming chat %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrChatNotFound, id)
	}
	return nil
}

// SetTitleIfEmpty sets the title only when none is set yet, reporting
// whether it did. Lets concurrent first answers race harmlessly.
func (s *Store) SetTitleIfEmpty(ctx context.Context, id uuid.UUID, title string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE chats SET title = $2, updated_at = now() WHERE id = $1 AND title = ''`, id, title)
	if err != nil {
		return false, fmt.Errorf("titling chat %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteChat removes a chat; messages cascade.
func (s *Store) DeleteChat(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chats WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting chat %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrChatNotFound, id)
	}
	s.logger.Info("chat deleted", "chat_id", id)
	return nil
}

// AddMessage appends a message and bumps the chat's updated_at.
func (s *Store) AddMessage(ctx context.Context, chatID uuid.UUID, role, content string) (*Message, error) {
	m := Message{
		ID:         uuid.New(),
		ChatID:     chatID,
		Role:       role,
		Content:    content,
		TokenCount: llm.EstimateTokens(content),
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	err = tx.QueryRow(ctx, `INSERT INTO messages (id, chat_id, role, content, token_count)
		VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
		m.ID, chatID, role, content, m.TokenCount).Scan(&m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE chats SET updated_at = now() WHERE id = $1`, chatID); err != nil {
		return nil, fmt.Errorf("touching chat: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing message: %w", err)
	}
	return &m, nil
}

// ListMessages returns a chat's messages oldest first.
func (s *Store) ListMessages(ctx context.Context, chatID uuid.UUID) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, chat_id, role, content, token_count, created_at
		FROM messages WHERE chat_id = $1 ORDER BY created_at, id`, chatID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.TokenCount, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return messages, nil
}

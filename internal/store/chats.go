package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/iammorganparry/clive/apps/usermemory/internal/models"
)

type chatRow struct {
	ID        string `db:"id"`
	UserID    string `db:"user_id"`
	Title     string `db:"title"`
	CreatedAt int64  `db:"created_at"`
}

type exchangeRow struct {
	ID        string `db:"id"`
	ChatID    string `db:"chat_id"`
	CreatedAt int64  `db:"created_at"`
}

type messageRow struct {
	ID         string `db:"id"`
	ExchangeID string `db:"exchange_id"`
	Role       string `db:"role"`
	Position   int    `db:"position"`
}

type contentRow struct {
	MessageID   string `db:"message_id"`
	ContentType string `db:"content_type"`
	TextContent string `db:"text_content"`
}

// ChatStore persists chats and their exchanges, the conversation source for extraction.
type ChatStore struct {
	db *DB
}

func NewChatStore(db *DB) *ChatStore {
	return &ChatStore{db: db}
}

// CreateChat inserts a new chat owned by userID.
func (s *ChatStore) CreateChat(ctx context.Context, userID, title string, now time.Time) (*models.Chat, error) {
	chat := &models.Chat{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now.UTC().Truncate(time.Millisecond),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (id, user_id, title, created_at) VALUES (?, ?, ?, ?)
	`, chat.ID, chat.UserID, chat.Title, toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("insert chat: %w", err)
	}
	return chat, nil
}

// GetChat returns the chat if it exists and belongs to userID.
func (s *ChatStore) GetChat(ctx context.Context, userID, id string) (*models.Chat, error) {
	var row chatRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, user_id, title, created_at FROM chats WHERE id = ? AND user_id = ?
	`, id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	return &models.Chat{ID: row.ID, UserID: row.UserID, Title: row.Title, CreatedAt: fromMillis(row.CreatedAt)}, nil
}

// DeleteChat removes a chat with its exchanges and messages. Memories that cite
// the chat are left untouched.
func (s *ChatStore) DeleteChat(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendExchange stores one exchange with its messages and content blocks in a
// single transaction. IDs are assigned here.
func (s *ChatStore) AppendExchange(ctx context.Context, chatID string, messages []*models.Message, now time.Time) (*models.Exchange, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin exchange: %w", err)
	}
	defer tx.Rollback()

	ex := &models.Exchange{
		ID:        uuid.New().String(),
		ChatID:    chatID,
		CreatedAt: now.UTC().Truncate(time.Millisecond),
		Messages:  make([]*models.Message, 0, len(messages)),
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO exchanges (id, chat_id, created_at) VALUES (?, ?, ?)`,
		ex.ID, chatID, toMillis(now)); err != nil {
		return nil, fmt.Errorf("insert exchange: %w", err)
	}

	for i, in := range messages {
		msg := &models.Message{
			ID:       uuid.New().String(),
			Role:     in.Role,
			Position: i,
			Contents: in.Contents,
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, exchange_id, role, position, created_at) VALUES (?, ?, ?, ?, ?)
		`, msg.ID, ex.ID, string(msg.Role), msg.Position, toMillis(now)); err != nil {
			return nil, fmt.Errorf("insert message: %w", err)
		}
		for j, block := range msg.Contents {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO message_contents (message_id, position, content_type, text_content) VALUES (?, ?, ?, ?)
			`, msg.ID, j, string(block.Type), block.Text); err != nil {
				return nil, fmt.Errorf("insert message content: %w", err)
			}
		}
		ex.Messages = append(ex.Messages, msg)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit exchange: %w", err)
	}
	return ex, nil
}

// GetExchange returns one exchange of the chat with its messages.
func (s *ChatStore) GetExchange(ctx context.Context, chatID, exchangeID string) (*models.Exchange, error) {
	var rows []exchangeRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, chat_id, created_at FROM exchanges WHERE id = ? AND chat_id = ?
	`, exchangeID, chatID)
	if err != nil {
		return nil, fmt.Errorf("get exchange: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	exchanges, err := s.hydrate(ctx, rows)
	if err != nil {
		return nil, err
	}
	return exchanges[0], nil
}

// RecentExchanges returns the latest n exchanges of a chat ordered oldest to newest.
func (s *ChatStore) RecentExchanges(ctx context.Context, chatID string, n int) ([]*models.Exchange, error) {
	var rows []exchangeRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, chat_id, created_at FROM exchanges
		WHERE chat_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, chatID, n)
	if err != nil {
		return nil, fmt.Errorf("recent exchanges: %w", err)
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return s.hydrate(ctx, rows)
}

// hydrate loads messages and content blocks for the given exchanges, preserving order.
func (s *ChatStore) hydrate(ctx context.Context, rows []exchangeRow) ([]*models.Exchange, error) {
	exchanges := make([]*models.Exchange, len(rows))
	if len(rows) == 0 {
		return exchanges, nil
	}
	byID := make(map[string]*models.Exchange, len(rows))
	ids := make([]string, len(rows))
	for i, r := range rows {
		ex := &models.Exchange{ID: r.ID, ChatID: r.ChatID, CreatedAt: fromMillis(r.CreatedAt), Messages: []*models.Message{}}
		exchanges[i] = ex
		byID[r.ID] = ex
		ids[i] = r.ID
	}

	query, args, err := sqlx.In(`
		SELECT id, exchange_id, role, position FROM messages
		WHERE exchange_id IN (?)
		ORDER BY exchange_id, position
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("build message query: %w", err)
	}
	var msgRows []messageRow
	if err := s.db.SelectContext(ctx, &msgRows, query, args...); err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	if len(msgRows) == 0 {
		return exchanges, nil
	}

	msgByID := make(map[string]*models.Message, len(msgRows))
	msgIDs := make([]string, len(msgRows))
	for i, r := range msgRows {
		msg := &models.Message{ID: r.ID, Role: models.Role(r.Role), Position: r.Position, Contents: []models.ContentBlock{}}
		msgByID[r.ID] = msg
		msgIDs[i] = r.ID
		byID[r.ExchangeID].Messages = append(byID[r.ExchangeID].Messages, msg)
	}

	query, args, err = sqlx.In(`
		SELECT message_id, content_type, text_content FROM message_contents
		WHERE message_id IN (?)
		ORDER BY message_id, position
	`, msgIDs)
	if err != nil {
		return nil, fmt.Errorf("build content query: %w", err)
	}
	var contentRows []contentRow
	if err := s.db.SelectContext(ctx, &contentRows, query, args...); err != nil {
		return nil, fmt.Errorf("load message contents: %w", err)
	}
	for _, r := range contentRows {
		msg := msgByID[r.MessageID]
		msg.Contents = append(msg.Contents, models.ContentBlock{Type: models.ContentType(r.ContentType), Text: r.TextContent})
	}
	return exchanges, nil
}

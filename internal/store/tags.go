package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iammorganparry/clive/apps/usermemory/internal/models"
)

type tagRow struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	Color       string `db:"color"`
	CreatedAt   int64  `db:"created_at"`
	MemoryCount int    `db:"memory_count"`
}

func (r tagRow) toModel() models.Tag {
	return models.Tag{
		ID:          r.ID,
		Name:        r.Name,
		Color:       r.Color,
		CreatedAt:   fromMillis(r.CreatedAt),
		MemoryCount: r.MemoryCount,
	}
}

// TagStore handles the global tag table. Tags are shared across users and never deleted.
type TagStore struct {
	db *DB
}

func NewTagStore(db *DB) *TagStore {
	return &TagStore{db: db}
}

// GetOrCreate returns the tag with the given normalized name, creating it with
// color if absent. An existing tag's color is never changed.
func (s *TagStore) GetOrCreate(ctx context.Context, name, color string, now time.Time) (*models.Tag, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tags (id, name, color, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO NOTHING
	`, uuid.New().String(), name, color, toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("insert tag: %w", err)
	}
	return s.GetByName(ctx, name)
}

// GetByName returns the tag with the given name or ErrNotFound.
func (s *TagStore) GetByName(ctx context.Context, name string) (*models.Tag, error) {
	var row tagRow
	err := s.db.GetContext(ctx, &row, `SELECT id, name, color, created_at FROM tags WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tag: %w", err)
	}
	t := row.toModel()
	return &t, nil
}

// ListForUser returns the tags attached to any of the user's memories, by name,
// each with the number of the user's active memories carrying it.
func (s *TagStore) ListForUser(ctx context.Context, userID string) ([]models.Tag, error) {
	var rows []tagRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT t.id, t.name, t.color, t.created_at,
			COALESCE(SUM(m.is_active), 0) AS memory_count
		FROM tags t
		JOIN memory_tags mt ON mt.tag_id = t.id
		JOIN memories m ON m.id = mt.memory_id
		WHERE m.user_id = ?
		GROUP BY t.id, t.name, t.color, t.created_at
		ORDER BY t.name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	tags := make([]models.Tag, len(rows))
	for i, r := range rows {
		tags[i] = r.toModel()
	}
	return tags, nil
}

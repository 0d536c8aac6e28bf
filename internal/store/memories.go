package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/samber/lo"

	"github.com/iammorganparry/clive/apps/usermemory/internal/models"
)

// memoryColumns is the canonical column list for all SELECT queries.
// Order must match memoryRow.
const memoryColumns = `id, user_id, chat_id, source_exchange_id, summary, raw_content,
	confidence_score, category, is_verified, is_active,
	created_at, updated_at, last_referenced`

type memoryRow struct {
	ID               string         `db:"id"`
	UserID           string         `db:"user_id"`
	ChatID           string         `db:"chat_id"`
	SourceExchangeID sql.NullString `db:"source_exchange_id"`
	Summary          string         `db:"summary"`
	RawContent       string         `db:"raw_content"`
	ConfidenceScore  float64        `db:"confidence_score"`
	Category         string         `db:"category"`
	IsVerified       bool           `db:"is_verified"`
	IsActive         bool           `db:"is_active"`
	CreatedAt        int64          `db:"created_at"`
	UpdatedAt        int64          `db:"updated_at"`
	LastReferenced   sql.NullInt64  `db:"last_referenced"`
}

func (r *memoryRow) toModel() *models.Memory {
	m := &models.Memory{
		ID:              r.ID,
		UserID:          r.UserID,
		ChatID:          r.ChatID,
		Summary:         r.Summary,
		RawContent:      r.RawContent,
		ConfidenceScore: r.ConfidenceScore,
		Category:        models.Category(r.Category),
		IsVerified:      r.IsVerified,
		IsActive:        r.IsActive,
		CreatedAt:       fromMillis(r.CreatedAt),
		UpdatedAt:       fromMillis(r.UpdatedAt),
		Tags:            []models.Tag{},
	}
	if r.SourceExchangeID.Valid {
		id := r.SourceExchangeID.String
		m.SourceExchangeID = &id
	}
	if r.LastReferenced.Valid {
		t := fromMillis(r.LastReferenced.Int64)
		m.LastReferenced = &t
	}
	return m
}

// MemoryStore handles Memory persistence on SQLite. Every read is scoped to a user.
type MemoryStore struct {
	db *DB
}

func NewMemoryStore(db *DB) *MemoryStore {
	return &MemoryStore{db: db}
}

// Insert stores a new memory. It returns ErrDuplicateKey when a memory with the
// same (user, summary prefix, category) already exists.
func (s *MemoryStore) Insert(ctx context.Context, m *models.Memory) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (
			id, user_id, chat_id, source_exchange_id, summary, summary_key, raw_content,
			confidence_score, category, is_verified, is_active,
			created_at, updated_at, last_referenced
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, summary_key, category) DO NOTHING
	`,
		m.ID, m.UserID, m.ChatID, m.SourceExchangeID, m.Summary, models.SummaryKey(m.Summary), m.RawContent,
		m.ConfidenceScore, string(m.Category), m.IsVerified, m.IsActive,
		toMillis(m.CreatedAt), toMillis(m.UpdatedAt), nullableMillis(m.LastReferenced),
	)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	if n == 0 {
		return ErrDuplicateKey
	}
	return nil
}

// GetByID fetches a single memory owned by userID, with its tags.
func (s *MemoryStore) GetByID(ctx context.Context, userID, id string) (*models.Memory, error) {
	return s.getOne(ctx, fmt.Sprintf(`SELECT %s FROM memories WHERE id = ? AND user_id = ?`, memoryColumns), id, userID)
}

// FindByDedupKey returns the memory matching the dedup key regardless of its
// active flag, or ErrNotFound.
func (s *MemoryStore) FindByDedupKey(ctx context.Context, userID, summary string, category models.Category) (*models.Memory, error) {
	return s.getOne(ctx,
		fmt.Sprintf(`SELECT %s FROM memories WHERE user_id = ? AND summary_key = ? AND category = ?`, memoryColumns),
		userID, models.SummaryKey(summary), string(category))
}

func (s *MemoryStore) getOne(ctx context.Context, query string, args ...any) (*models.Memory, error) {
	var row memoryRow
	err := s.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	m := row.toModel()
	if err := s.loadTags(ctx, []*models.Memory{m}); err != nil {
		return nil, err
	}
	return m, nil
}

// RaiseConfidence overwrites confidence and raw content only when the new score
// is strictly greater than the stored one. It reports whether a row changed.
func (s *MemoryStore) RaiseConfidence(ctx context.Context, id string, confidence float64, rawContent string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memories SET confidence_score = ?, raw_content = ?, updated_at = ?
		WHERE id = ? AND confidence_score < ?
	`, confidence, rawContent, toMillis(now), id, confidence)
	if err != nil {
		return false, fmt.Errorf("raise confidence: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("raise confidence: %w", err)
	}
	return n > 0, nil
}

// Update applies a partial update to a memory. Tags are handled by SetTags.
func (s *MemoryStore) Update(ctx context.Context, userID, id string, req *models.UpdateMemoryRequest, now time.Time) error {
	sets := []string{"updated_at = ?"}
	args := []any{toMillis(now)}

	if req.Summary != nil {
		sets = append(sets, "summary = ?", "summary_key = ?")
		args = append(args, *req.Summary, models.SummaryKey(*req.Summary))
	}
	if req.RawContent != nil {
		sets = append(sets, "raw_content = ?")
		args = append(args, *req.RawContent)
	}
	if req.ConfidenceScore != nil {
		sets = append(sets, "confidence_score = ?")
		args = append(args, models.ClampConfidence(*req.ConfidenceScore))
	}
	if req.Category != nil {
		sets = append(sets, "category = ?")
		args = append(args, string(models.ParseCategory(*req.Category)))
	}
	if req.IsActive != nil {
		sets = append(sets, "is_active = ?")
		args = append(args, *req.IsActive)
	}
	if req.IsVerified != nil {
		sets = append(sets, "is_verified = ?")
		args = append(args, *req.IsVerified)
	}

	args = append(args, id, userID)
	query := fmt.Sprintf("UPDATE memories SET %s WHERE id = ? AND user_id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("update memory: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ToggleActive flips is_active and returns the new value.
func (s *MemoryStore) ToggleActive(ctx context.Context, userID, id string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memories SET is_active = 1 - is_active, updated_at = ?
		WHERE id = ? AND user_id = ?
	`, toMillis(now), id, userID)
	if err != nil {
		return false, fmt.Errorf("toggle active: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, ErrNotFound
	}
	var active bool
	if err := s.db.GetContext(ctx, &active, `SELECT is_active FROM memories WHERE id = ?`, id); err != nil {
		return false, fmt.Errorf("read active flag: %w", err)
	}
	return active, nil
}

// List returns a filtered page of a user's memories, newest first, and the total match count.
func (s *MemoryStore) List(ctx context.Context, req *models.ListRequest) ([]*models.Memory, int, error) {
	conditions := []string{"user_id = ?"}
	args := []any{req.UserID}

	if req.Category != "" {
		conditions = append(conditions, "category = ?")
		args = append(args, string(req.Category))
	}
	if req.IsActive != nil {
		conditions = append(conditions, "is_active = ?")
		args = append(args, *req.IsActive)
	}
	if len(req.Tags) > 0 {
		conditions = append(conditions, `id IN (
			SELECT mt.memory_id FROM memory_tags mt JOIN tags t ON t.id = mt.tag_id
			WHERE t.name IN (?))`)
		args = append(args, req.Tags)
	}
	if req.Search != "" {
		pattern := "%" + escapeLike(req.Search) + "%"
		conditions = append(conditions, `(summary LIKE ? ESCAPE '\' OR raw_content LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}
	whereClause := "WHERE " + strings.Join(conditions, " AND ")

	countQuery, countArgs, err := sqlx.In(fmt.Sprintf("SELECT COUNT(*) FROM memories %s", whereClause), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}
	var total int
	if err := s.db.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("count memories: %w", err)
	}

	offset := (req.Page - 1) * req.PageSize
	selectQuery, selectArgs, err := sqlx.In(fmt.Sprintf(`
		SELECT %s
		FROM memories %s
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?
	`, memoryColumns, whereClause), append(args, req.PageSize, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("build list query: %w", err)
	}

	memories, err := s.selectMany(ctx, selectQuery, selectArgs...)
	if err != nil {
		return nil, 0, err
	}
	return memories, total, nil
}

// ListEligible returns the user's active memories at or above minConfidence, tags prefetched.
func (s *MemoryStore) ListEligible(ctx context.Context, userID string, minConfidence float64) ([]*models.Memory, error) {
	return s.selectMany(ctx, fmt.Sprintf(`
		SELECT %s FROM memories
		WHERE user_id = ? AND is_active = 1 AND confidence_score >= ?
	`, memoryColumns), userID, minConfidence)
}

// ListRecent returns active memories ordered by last reference (never-referenced
// last) then creation time. An empty category means all categories.
func (s *MemoryStore) ListRecent(ctx context.Context, userID string, category models.Category, limit int) ([]*models.Memory, error) {
	conditions := "user_id = ? AND is_active = 1"
	args := []any{userID}
	if category != "" {
		conditions += " AND category = ?"
		args = append(args, string(category))
	}
	args = append(args, limit)
	return s.selectMany(ctx, fmt.Sprintf(`
		SELECT %s FROM memories
		WHERE %s
		ORDER BY last_referenced IS NULL, last_referenced DESC, created_at DESC, id
		LIMIT ?
	`, memoryColumns, conditions), args...)
}

// TouchReferenced stamps last_referenced on the given memories. updated_at is left alone.
func (s *MemoryStore) TouchReferenced(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`UPDATE memories SET last_referenced = ? WHERE id IN (?)`, toMillis(at), ids)
	if err != nil {
		return fmt.Errorf("build touch query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("touch referenced: %w", err)
	}
	return nil
}

// Stats returns the user's raw counters. since bounds the "recent" count.
func (s *MemoryStore) Stats(ctx context.Context, userID string, since time.Time) (*models.MemoryStats, error) {
	var counts struct {
		Total    int `db:"total"`
		Active   int `db:"active"`
		Verified int `db:"verified"`
		Recent   int `db:"recent"`
	}
	err := s.db.GetContext(ctx, &counts, `
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(is_active), 0) AS active,
			COALESCE(SUM(is_verified), 0) AS verified,
			COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0) AS recent
		FROM memories WHERE user_id = ?
	`, toMillis(since), userID)
	if err != nil {
		return nil, fmt.Errorf("count stats: %w", err)
	}

	breakdown := []models.CategoryCount{}
	err = s.db.SelectContext(ctx, &breakdown, `
		SELECT category, COUNT(*) AS count
		FROM memories WHERE user_id = ? AND is_active = 1
		GROUP BY category
		ORDER BY count DESC, category
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("category breakdown: %w", err)
	}

	return &models.MemoryStats{
		TotalMemories:     counts.Total,
		ActiveMemories:    counts.Active,
		VerifiedMemories:  counts.Verified,
		RecentMemories:    counts.Recent,
		CategoryBreakdown: breakdown,
	}, nil
}

// AttachTags links tags to a memory after any it already has. Existing links are kept.
func (s *MemoryStore) AttachTags(ctx context.Context, memoryID string, tagIDs []string) error {
	if len(tagIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin attach tags: %w", err)
	}
	defer tx.Rollback()

	var next int
	if err := tx.GetContext(ctx, &next, `SELECT COALESCE(MAX(position) + 1, 0) FROM memory_tags WHERE memory_id = ?`, memoryID); err != nil {
		return fmt.Errorf("read tag position: %w", err)
	}
	for _, tagID := range tagIDs {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO memory_tags (memory_id, tag_id, position) VALUES (?, ?, ?)
			ON CONFLICT(memory_id, tag_id) DO NOTHING
		`, memoryID, tagID, next)
		if err != nil {
			return fmt.Errorf("attach tag: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			next++
		}
	}
	return tx.Commit()
}

// SetTags replaces a memory's tag links with tagIDs in order.
func (s *MemoryStore) SetTags(ctx context.Context, memoryID string, tagIDs []string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set tags: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_tags WHERE memory_id = ?`, memoryID); err != nil {
		return fmt.Errorf("clear tags: %w", err)
	}
	for i, tagID := range tagIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO memory_tags (memory_id, tag_id, position) VALUES (?, ?, ?)
			ON CONFLICT(memory_id, tag_id) DO NOTHING
		`, memoryID, tagID, i); err != nil {
			return fmt.Errorf("set tag: %w", err)
		}
	}
	return tx.Commit()
}

func (s *MemoryStore) selectMany(ctx context.Context, query string, args ...any) ([]*models.Memory, error) {
	var rows []memoryRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select memories: %w", err)
	}
	memories := make([]*models.Memory, len(rows))
	for i := range rows {
		memories[i] = rows[i].toModel()
	}
	if err := s.loadTags(ctx, memories); err != nil {
		return nil, err
	}
	return memories, nil
}

// tagLoadBatch caps the ids bound into one IN clause. SQLite rejects
// statements with more than 32766 variables.
const tagLoadBatch = 500

// loadTags fills Tags on each memory, in attachment order.
func (s *MemoryStore) loadTags(ctx context.Context, memories []*models.Memory) error {
	if len(memories) == 0 {
		return nil
	}
	byID := make(map[string]*models.Memory, len(memories))
	ids := make([]string, len(memories))
	for i, m := range memories {
		byID[m.ID] = m
		ids[i] = m.ID
	}

	for _, batch := range lo.Chunk(ids, tagLoadBatch) {
		query, args, err := sqlx.In(`
			SELECT mt.memory_id, t.id, t.name, t.color, t.created_at
			FROM memory_tags mt JOIN tags t ON t.id = mt.tag_id
			WHERE mt.memory_id IN (?)
			ORDER BY mt.memory_id, mt.position
		`, batch)
		if err != nil {
			return fmt.Errorf("build tag query: %w", err)
		}

		var rows []struct {
			MemoryID  string `db:"memory_id"`
			ID        string `db:"id"`
			Name      string `db:"name"`
			Color     string `db:"color"`
			CreatedAt int64  `db:"created_at"`
		}
		if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
			return fmt.Errorf("load tags: %w", err)
		}
		for _, r := range rows {
			if m, ok := byID[r.MemoryID]; ok {
				m.Tags = append(m.Tags, models.Tag{ID: r.ID, Name: r.Name, Color: r.Color, CreatedAt: fromMillis(r.CreatedAt)})
			}
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

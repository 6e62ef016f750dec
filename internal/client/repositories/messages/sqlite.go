package messages

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/client/models"
	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/dbx"
)

const columns = `account_id, organization_id, id, conversation_id, user_id, content, type, origin,
	root_id, important, reactions, created_at, updated_at, deleted_at`

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Get(ctx context.Context, scope models.Scope, id string) (*models.Message, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM messages WHERE account_id = ? AND organization_id = ? AND id = ?`,
		scope.AccountID, scope.OrganizationID, id)

	m, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}
	return m, nil
}

func (r *SQLiteRepository) UpsertMany(ctx context.Context, rows []models.Message) error {
	for i := range rows {
		m := &rows[i]

		reactions := m.Reactions
		if reactions == nil {
			reactions = []models.Reaction{}
		}
		rj, err := json.Marshal(reactions)
		if err != nil {
			return err
		}

		origin := m.Origin
		if origin == "" {
			origin = models.OriginUser
		}

		var root sql.NullString
		if m.RootID != nil {
			root = sql.NullString{String: *m.RootID, Valid: true}
		}

		_, err = r.db.ExecContext(ctx, `
			INSERT INTO messages (`+columns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(account_id, organization_id, id) DO UPDATE SET
				conversation_id = excluded.conversation_id,
				user_id = excluded.user_id,
				content = excluded.content,
				type = excluded.type,
				origin = excluded.origin,
				root_id = excluded.root_id,
				important = excluded.important,
				reactions = excluded.reactions,
				created_at = excluded.created_at,
				updated_at = excluded.updated_at,
				deleted_at = excluded.deleted_at
		`,
			m.AccountID, m.OrganizationID, m.ID, m.ConversationID, m.UserID, m.Content, m.Type, string(origin),
			root, m.Important, string(rj), dbx.Millis(m.CreatedAt), dbx.Millis(m.UpdatedAt), dbx.NullMillis(m.DeletedAt),
		)
		if err != nil {
			return fmt.Errorf("upsert message %s: %w", m.ID, err)
		}
	}
	return nil
}

func (r *SQLiteRepository) Tombstone(ctx context.Context, scope models.Scope, conversationID string, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	args := dbx.Args([]any{dbx.Millis(at), scope.AccountID, scope.OrganizationID, conversationID}, ids)
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages SET deleted_at = ?
		WHERE account_id = ? AND organization_id = ? AND conversation_id = ?
		  AND id IN (`+dbx.Placeholders(len(ids))+`)
	`, args...)
	if err != nil {
		return fmt.Errorf("tombstone messages: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) LatestUserMessage(ctx context.Context, scope models.Scope, conversationID string) (*models.Message, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+columns+` FROM messages
		WHERE account_id = ? AND organization_id = ? AND conversation_id = ? AND origin = ?
		ORDER BY created_at DESC
		LIMIT 1
	`, scope.AccountID, scope.OrganizationID, conversationID, string(models.OriginUser))

	m, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest message of %s: %w", conversationID, err)
	}
	return m, nil
}

// ListByConversation returns messages oldest first. A non-positive limit
// returns every row after offset.
func (r *SQLiteRepository) ListByConversation(ctx context.Context, scope models.Scope, conversationID string, offset, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+columns+` FROM messages
		WHERE account_id = ? AND organization_id = ? AND conversation_id = ?
		ORDER BY created_at, id
		LIMIT ? OFFSET ?
	`, scope.AccountID, scope.OrganizationID, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages of %s: %w", conversationID, err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		m, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, scope models.Scope, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM messages WHERE account_id = ? AND organization_id = ? AND id = ?`,
		scope.AccountID, scope.OrganizationID, id)
	if err != nil {
		return fmt.Errorf("delete message %s: %w", id, err)
	}
	return nil
}

func (r *SQLiteRepository) Truncate(ctx context.Context, scope models.Scope) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM messages WHERE account_id = ? AND organization_id = ?`,
		scope.AccountID, scope.OrganizationID)
	if err != nil {
		return fmt.Errorf("truncate messages: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*models.Message, error) {
	var (
		m                  models.Message
		origin, reactions  string
		root               sql.NullString
		createdAt, updated int64
		deletedAt          sql.NullInt64
	)
	err := s.Scan(&m.AccountID, &m.OrganizationID, &m.ID, &m.ConversationID, &m.UserID, &m.Content, &m.Type,
		&origin, &root, &m.Important, &reactions, &createdAt, &updated, &deletedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(reactions), &m.Reactions); err != nil {
		return nil, fmt.Errorf("decode reactions: %w", err)
	}
	if len(m.Reactions) == 0 {
		m.Reactions = nil
	}

	m.Origin = models.MessageOrigin(origin)
	if root.Valid {
		m.RootID = &root.String
	}
	m.CreatedAt = dbx.FromMillis(createdAt)
	m.UpdatedAt = dbx.FromMillis(updated)
	m.DeletedAt = dbx.FromNullMillis(deletedAt)
	return &m, nil
}

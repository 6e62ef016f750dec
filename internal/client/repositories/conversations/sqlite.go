package conversations

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/chatkeeper/internal/client/models"
	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/dbx"
)

const columns = `account_id, organization_id, id, kind, name, description, image_url,
	banner_image_url, owner_id, members, muted_by, last_message_at, archived, created_at, updated_at`

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Get(ctx context.Context, scope models.Scope, id string) (*models.Conversation, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM conversations WHERE account_id = ? AND organization_id = ? AND id = ?`,
		scope.AccountID, scope.OrganizationID, id)

	c, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation %s: %w", id, err)
	}
	return c, nil
}

func (r *SQLiteRepository) UpsertMany(ctx context.Context, rows []models.Conversation) error {
	for i := range rows {
		c := &rows[i]

		members, err := json.Marshal(nonNil(c.Members))
		if err != nil {
			return err
		}
		mutedBy, err := json.Marshal(nonNil(c.MutedBy))
		if err != nil {
			return err
		}

		_, err = r.db.ExecContext(ctx, `
			INSERT INTO conversations (`+columns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(account_id, organization_id, id) DO UPDATE SET
				kind = excluded.kind,
				name = excluded.name,
				description = excluded.description,
				image_url = excluded.image_url,
				banner_image_url = excluded.banner_image_url,
				owner_id = excluded.owner_id,
				members = excluded.members,
				muted_by = excluded.muted_by,
				last_message_at = excluded.last_message_at,
				archived = excluded.archived,
				created_at = excluded.created_at,
				updated_at = excluded.updated_at
		`,
			c.AccountID, c.OrganizationID, c.ID, string(c.Kind), c.Name, c.Description, c.ImageURL,
			c.BannerImageURL, c.OwnerID, string(members), string(mutedBy), dbx.NullMillis(c.LastMessageAt),
			c.Archived, dbx.Millis(c.CreatedAt), dbx.Millis(c.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("upsert conversation %s: %w", c.ID, err)
		}
	}
	return nil
}

// List returns conversations ordered by last activity, most recent first.
// A non-positive limit returns every row after offset.
func (r *SQLiteRepository) List(ctx context.Context, scope models.Scope, offset, limit int) ([]models.Conversation, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+columns+` FROM conversations
		WHERE account_id = ? AND organization_id = ?
		ORDER BY COALESCE(last_message_at, 0) DESC, id
		LIMIT ? OFFSET ?
	`, scope.AccountID, scope.OrganizationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []models.Conversation
	for rows.Next() {
		c, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, scope models.Scope, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE account_id = ? AND organization_id = ? AND id = ?`,
		scope.AccountID, scope.OrganizationID, id)
	if err != nil {
		return fmt.Errorf("delete conversation %s: %w", id, err)
	}
	return nil
}

func (r *SQLiteRepository) Truncate(ctx context.Context, scope models.Scope) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE account_id = ? AND organization_id = ?`,
		scope.AccountID, scope.OrganizationID)
	if err != nil {
		return fmt.Errorf("truncate conversations: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*models.Conversation, error) {
	var (
		c                  models.Conversation
		kind               string
		members, mutedBy   string
		lastMessageAt      sql.NullInt64
		createdAt, updated int64
	)
	err := s.Scan(&c.AccountID, &c.OrganizationID, &c.ID, &kind, &c.Name, &c.Description, &c.ImageURL,
		&c.BannerImageURL, &c.OwnerID, &members, &mutedBy, &lastMessageAt, &c.Archived, &createdAt, &updated)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(members), &c.Members); err != nil {
		return nil, fmt.Errorf("decode members: %w", err)
	}
	if err := json.Unmarshal([]byte(mutedBy), &c.MutedBy); err != nil {
		return nil, fmt.Errorf("decode muted_by: %w", err)
	}

	if len(c.Members) == 0 {
		c.Members = nil
	}
	if len(c.MutedBy) == 0 {
		c.MutedBy = nil
	}

	c.Kind = models.ConversationKind(kind)
	c.LastMessageAt = dbx.FromNullMillis(lastMessageAt)
	c.CreatedAt = dbx.FromMillis(createdAt)
	c.UpdatedAt = dbx.FromMillis(updated)
	return &c, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/xbtify/xbtclaw/internal/store"
)

const groupCols = `id, conversation_id, COALESCE(name, ''), COALESCE(description, ''), COALESCE(image_url, ''), created_at, updated_at`

func scanGroup(row rowScanner) (*store.GroupData, error) {
	var g store.GroupData
	var id string
	var created, updated int64
	if err := row.Scan(&id, &g.ConversationID, &g.Name, &g.Description, &g.ImageURL, &created, &updated); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse group id %q: %w", id, err)
	}
	g.ID = parsed
	g.CreatedAt, g.UpdatedAt = fromMillis(created), fromMillis(updated)
	return &g, nil
}

func (s *Store) GetGroupByConversationID(ctx context.Context, conversationID string) (*store.GroupData, error) {
	g, err := scanGroup(s.db.QueryRowContext(ctx,
		`SELECT `+groupCols+` FROM groups WHERE conversation_id = ?`, conversationID))
	if err != nil {
		return nil, notFound(err)
	}
	return g, nil
}

func (s *Store) CreateGroup(ctx context.Context, g *store.GroupData) (bool, error) {
	if g.ID == uuid.Nil {
		g.ID = store.GenNewID()
	}
	now := millis(time.Now())
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO groups (id, conversation_id, name, description, image_url, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (conversation_id) DO NOTHING`,
		g.ID.String(), g.ConversationID, nullStr(g.Name), nullStr(g.Description), nullStr(g.ImageURL), now, now,
	)
	if err != nil {
		return false, fmt.Errorf("insert group: %w", err)
	}
	n, _ := res.RowsAffected()
	stored, err := s.GetGroupByConversationID(ctx, g.ConversationID)
	if err != nil {
		return false, fmt.Errorf("re-read group: %w", err)
	}
	*g = *stored
	return n > 0, nil
}

func (s *Store) UpdateGroup(ctx context.Context, g *store.GroupData) error {
	g.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE groups SET name = ?, description = ?, image_url = ?, updated_at = ? WHERE id = ?`,
		nullStr(g.Name), nullStr(g.Description), nullStr(g.ImageURL), millis(g.UpdatedAt), g.ID.String(),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteGroup(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM groups WHERE id = ?`, id.String())
	return err
}

func (s *Store) ListGroups(ctx context.Context) ([]store.GroupData, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+groupCols+` FROM groups ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.GroupData
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

func (s *Store) AddMembers(ctx context.Context, groupID uuid.UUID, userIDs []uuid.UUID) (int, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	added := 0
	now := millis(time.Now())
	for _, uid := range userIDs {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO group_members (id, group_id, user_id, created_at)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT (group_id, user_id) DO NOTHING`,
			store.GenNewID().String(), groupID.String(), uid.String(), now,
		)
		if err != nil {
			return 0, fmt.Errorf("insert member %s: %w", uid, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	return added, tx.Commit()
}

func (s *Store) RemoveMembersByInboxIDs(ctx context.Context, groupID uuid.UUID, inboxIDs []string) (int, error) {
	if len(inboxIDs) == 0 {
		return 0, nil
	}
	args := append([]any{groupID.String()}, stringArgs(inboxIDs)...)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM group_members
		 WHERE group_id = ?
		   AND user_id IN (SELECT id FROM users WHERE inbox_id IN (`+placeholders(len(inboxIDs))+`))`,
		args...,
	)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) ListMembers(ctx context.Context, groupID uuid.UUID) ([]store.UserData, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userCols+`
		 FROM group_members m
		 JOIN users u ON u.id = m.user_id
		 WHERE m.group_id = ?
		 ORDER BY m.created_at`, groupID.String())
	if err != nil {
		return nil, err
	}
	return collectUsers(rows)
}

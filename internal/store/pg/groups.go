package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/xbtify/xbtclaw/internal/store"
)

// PGGroupStore implements store.GroupStore backed by Postgres.
type PGGroupStore struct {
	db *sql.DB
}

func NewPGGroupStore(db *sql.DB) *PGGroupStore {
	return &PGGroupStore{db: db}
}

const groupSelectCols = `id, conversation_id, COALESCE(name, ''), COALESCE(description, ''), COALESCE(image_url, ''), created_at, updated_at`

func scanGroup(row rowScanner) (*store.GroupData, error) {
	var g store.GroupData
	if err := row.Scan(&g.ID, &g.ConversationID, &g.Name, &g.Description, &g.ImageURL, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *PGGroupStore) GetGroupByConversationID(ctx context.Context, conversationID string) (*store.GroupData, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+groupSelectCols+` FROM groups WHERE conversation_id = $1`, conversationID)
	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return g, err
}

func (s *PGGroupStore) CreateGroup(ctx context.Context, g *store.GroupData) (bool, error) {
	if g.ID == uuid.Nil {
		g.ID = store.GenNewID()
	}
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO groups (id, conversation_id, name, description, image_url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)
		 ON CONFLICT (conversation_id) DO NOTHING`,
		g.ID, g.ConversationID, nullStr(g.Name), nullStr(g.Description), nullStr(g.ImageURL), now,
	)
	if err != nil {
		return false, fmt.Errorf("insert group: %w", err)
	}
	created := false
	if n, _ := res.RowsAffected(); n > 0 {
		created = true
	}
	stored, err := s.GetGroupByConversationID(ctx, g.ConversationID)
	if err != nil {
		return false, fmt.Errorf("re-read group: %w", err)
	}
	*g = *stored
	return created, nil
}

func (s *PGGroupStore) UpdateGroup(ctx context.Context, g *store.GroupData) error {
	g.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE groups SET name = $1, description = $2, image_url = $3, updated_at = $4 WHERE id = $5`,
		nullStr(g.Name), nullStr(g.Description), nullStr(g.ImageURL), g.UpdatedAt, g.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *PGGroupStore) DeleteGroup(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM groups WHERE id = $1`, id)
	return err
}

func (s *PGGroupStore) ListGroups(ctx context.Context) ([]store.GroupData, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+groupSelectCols+` FROM groups ORDER BY created_at`)
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

func (s *PGGroupStore) AddMembers(ctx context.Context, groupID uuid.UUID, userIDs []uuid.UUID) (int, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	added := 0
	now := time.Now()
	for _, uid := range userIDs {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO group_members (id, group_id, user_id, created_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (group_id, user_id) DO NOTHING`,
			store.GenNewID(), groupID, uid, now,
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

func (s *PGGroupStore) RemoveMembersByInboxIDs(ctx context.Context, groupID uuid.UUID, inboxIDs []string) (int, error) {
	if len(inboxIDs) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM group_members
		 WHERE group_id = $1
		   AND user_id IN (SELECT id FROM users WHERE inbox_id = ANY($2))`,
		groupID, pq.Array(inboxIDs),
	)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *PGGroupStore) ListMembers(ctx context.Context, groupID uuid.UUID) ([]store.UserData, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userSelectCols+`
		 FROM group_members m
		 JOIN users u ON u.id = m.user_id
		 WHERE m.group_id = $1
		 ORDER BY m.created_at`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.UserData
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

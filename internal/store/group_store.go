package store

import (
	"context"

	"github.com/google/uuid"
)

// GroupData mirrors one XMTP conversation. Direct conversations are
// stored as one-member groups.
type GroupData struct {
	BaseModel
	ConversationID string `json:"conversation_id"`
	Name           string `json:"name,omitempty"`
	Description    string `json:"description,omitempty"`
	ImageURL       string `json:"image_url,omitempty"`
}

// GroupStore manages the group mirror and its memberships.
type GroupStore interface {
	GetGroupByConversationID(ctx context.Context, conversationID string) (*GroupData, error)

	// CreateGroup inserts g unless a row with the same conversation id
	// exists. Either way g is overwritten with the stored row; created
	// reports whether this call inserted it.
	CreateGroup(ctx context.Context, g *GroupData) (created bool, err error)
	UpdateGroup(ctx context.Context, g *GroupData) error
	// DeleteGroup removes the group; memberships cascade.
	DeleteGroup(ctx context.Context, id uuid.UUID) error
	ListGroups(ctx context.Context) ([]GroupData, error)

	// AddMembers inserts memberships, skipping existing ones, and returns
	// the number of rows inserted.
	AddMembers(ctx context.Context, groupID uuid.UUID, userIDs []uuid.UUID) (int, error)
	RemoveMembersByInboxIDs(ctx context.Context, groupID uuid.UUID, inboxIDs []string) (int, error)
	ListMembers(ctx context.Context, groupID uuid.UUID) ([]UserData, error)
}

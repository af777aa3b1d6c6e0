package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UserData is one agent user, keyed by uuid and optionally by XMTP inbox
// and Farcaster fid.
type UserData struct {
	BaseModel
	InboxID              string       `json:"inbox_id,omitempty"`
	Username             string       `json:"username,omitempty"`
	AvatarURL            string       `json:"avatar_url,omitempty"`
	FarcasterFID         int64        `json:"farcaster_fid,omitempty"`
	FarcasterUsername    string       `json:"farcaster_username,omitempty"`
	FarcasterDisplayName string       `json:"farcaster_display_name,omitempty"`
	PaidTxHash           string       `json:"paid_tx_hash"`
	Wallets              []WalletData `json:"wallets,omitempty"`
}

// HasPaid reports whether the user unlocked the paid feature.
func (u *UserData) HasPaid() bool { return u.PaidTxHash != "" }

// PrimaryAddress returns the primary wallet, or the first one.
func (u *UserData) PrimaryAddress() string {
	for _, w := range u.Wallets {
		if w.IsPrimary {
			return w.Address
		}
	}
	if len(u.Wallets) > 0 {
		return u.Wallets[0].Address
	}
	return ""
}

// WalletData is one EVM address owned by a user.
type WalletData struct {
	Address   string    `json:"address"` // EIP-55 checksummed
	UserID    uuid.UUID `json:"user_id"`
	IsPrimary bool      `json:"is_primary"`
	ENSName   string    `json:"ens_name,omitempty"`
	BaseName  string    `json:"base_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateUserParams describes a new user and its wallets. Addresses must
// already be checksummed; the first PrimaryAddress match is flagged
// primary.
type CreateUserParams struct {
	InboxID              string
	Username             string
	AvatarURL            string
	FarcasterFID         int64
	FarcasterUsername    string
	FarcasterDisplayName string
	PrimaryAddress       string
	Addresses            []string
}

// UserStore manages users and their wallets.
type UserStore interface {
	GetUser(ctx context.Context, id uuid.UUID) (*UserData, error)
	GetUserByInboxID(ctx context.Context, inboxID string) (*UserData, error)
	GetUsersByInboxIDs(ctx context.Context, inboxIDs []string) ([]UserData, error)
	GetUserByFID(ctx context.Context, fid int64) (*UserData, error)
	GetUserByAddress(ctx context.Context, address string) (*UserData, error)

	// CreateUser inserts the user and its wallets in one transaction. If a
	// user with the same inbox id already exists it is returned instead.
	CreateUser(ctx context.Context, p CreateUserParams) (*UserData, error)
	// AttachInbox sets the inbox id of a user created without one, such
	// as a profile saved from a Farcaster lookup. It is ErrNotFound when
	// the user is missing or already carries an inbox id.
	AttachInbox(ctx context.Context, userID uuid.UUID, inboxID string) error
	SetPaidTxHash(ctx context.Context, userID uuid.UUID, txHash string) error
}

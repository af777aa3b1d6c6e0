// Package membership keeps the relational mirror of DMs and groups in step
// with what the transport reports.
package membership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/xbtify/xbtclaw/internal/content"
	"github.com/xbtify/xbtclaw/internal/metrics"
	"github.com/xbtify/xbtclaw/internal/neynar"
	"github.com/xbtify/xbtclaw/internal/store"
	"github.com/xbtify/xbtclaw/internal/transport"
)

// Group metadata field names carried by group_updated events.
const (
	FieldName             = "group_name"
	FieldDescription      = "description"
	FieldGroupDescription = "group_description"
	FieldImageURL         = "group_image_url_square"
)

// ProfileLookup finds the Farcaster profile behind an address.
// A nil user with nil error means no profile.
type ProfileLookup interface {
	UserByAddress(ctx context.Context, address string) (*neynar.User, error)
}

// Config identifies the agent and the addresses never mirrored as members.
type Config struct {
	AgentInboxID string
	AgentAddress string
	KnownAgents  []string
}

// Outcome summarizes one Reconcile call.
type Outcome struct {
	Deleted         bool
	MetadataUpdated bool
	Added           int
	Removed         int
}

// Reconciler mirrors transport membership into the store.
type Reconciler struct {
	users    store.UserStore
	groups   store.GroupStore
	profiles ProfileLookup

	agentInboxID string
	agentAddress string
	known        atomic.Pointer[map[string]bool]

	sf singleflight.Group
}

// New returns a Reconciler. profiles may be nil.
func New(users store.UserStore, groups store.GroupStore, profiles ProfileLookup, cfg Config) *Reconciler {
	r := &Reconciler{
		users:        users,
		groups:       groups,
		profiles:     profiles,
		agentInboxID: cfg.AgentInboxID,
		agentAddress: cfg.AgentAddress,
	}
	r.SetKnownAgents(cfg.KnownAgents)
	return r
}

// SetKnownAgents replaces the disallow list. Safe during operation.
func (r *Reconciler) SetKnownAgents(addrs []string) {
	m := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		if a = strings.TrimSpace(a); a != "" {
			m[strings.ToLower(a)] = true
		}
	}
	r.known.Store(&m)
}

// SetAgent records the agent identity once the transport reports it.
// Call it before messages are dispatched.
func (r *Reconciler) SetAgent(inboxID, address string) {
	r.agentInboxID = inboxID
	r.agentAddress = address
}

// IsKnownAgent reports whether address belongs to the agent or another
// known agent.
func (r *Reconciler) IsKnownAgent(address string) bool {
	if address == "" {
		return false
	}
	if strings.EqualFold(address, r.agentAddress) {
		return true
	}
	return (*r.known.Load())[strings.ToLower(address)]
}

type createResult struct {
	group   *store.GroupData
	created bool
}

// GetOrCreateGroup returns the mirror of conv, creating it and its members
// on first sight. Only the caller that created the row sees created=true.
func (r *Reconciler) GetOrCreateGroup(ctx context.Context, conv transport.Conversation) (*store.GroupData, bool, error) {
	ran := false
	v, err, _ := r.sf.Do(conv.ID(), func() (any, error) {
		ran = true
		return r.getOrCreateGroup(ctx, conv)
	})
	if err != nil {
		return nil, false, err
	}
	res := v.(createResult)
	return res.group, ran && res.created, nil
}

func (r *Reconciler) getOrCreateGroup(ctx context.Context, conv transport.Conversation) (createResult, error) {
	g, err := r.groups.GetGroupByConversationID(ctx, conv.ID())
	if err == nil {
		return createResult{group: g}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return createResult{}, fmt.Errorf("get group %s: %w", conv.ID(), err)
	}

	info := conv.Info()
	g = &store.GroupData{
		ConversationID: conv.ID(),
		Name:           info.Name,
		Description:    info.Description,
		ImageURL:       info.ImageURL,
	}
	created, err := r.groups.CreateGroup(ctx, g)
	if err != nil {
		return createResult{}, fmt.Errorf("create group %s: %w", conv.ID(), err)
	}
	if !created {
		return createResult{group: g}, nil
	}
	slog.Info("group mirrored", "conversation", conv.ID(), "group", g.ID)

	// Member failures leave the group in place; the periodic resync fills
	// the gaps.
	members, err := conv.Members(ctx)
	if err != nil {
		slog.Warn("list members failed", "conversation", conv.ID(), "error", err)
	} else if _, err := r.addMembers(ctx, g.ID, r.candidates(members, nil)); err != nil {
		slog.Warn("mirror members failed", "conversation", conv.ID(), "error", err)
	}
	return createResult{group: g, created: true}, nil
}

// GetOrCreateDM returns the mirror of a direct conversation whose only
// tracked member is the sender.
func (r *Reconciler) GetOrCreateDM(ctx context.Context, conversationID, senderInboxID, senderAddress string) (*store.GroupData, bool, error) {
	ran := false
	v, err, _ := r.sf.Do(conversationID, func() (any, error) {
		ran = true
		g, err := r.groups.GetGroupByConversationID(ctx, conversationID)
		if err == nil {
			return createResult{group: g}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return createResult{}, fmt.Errorf("get dm %s: %w", conversationID, err)
		}
		g = &store.GroupData{ConversationID: conversationID}
		created, err := r.groups.CreateGroup(ctx, g)
		if err != nil {
			return createResult{}, fmt.Errorf("create dm %s: %w", conversationID, err)
		}
		if created {
			if _, err := r.addMembers(ctx, g.ID, []candidate{{inboxID: senderInboxID, address: senderAddress}}); err != nil {
				slog.Warn("mirror dm member failed", "conversation", conversationID, "error", err)
			}
		}
		return createResult{group: g, created: created}, nil
	})
	if err != nil {
		return nil, false, err
	}
	res := v.(createResult)
	return res.group, ran && res.created, nil
}

// Reconcile applies one group_updated delta: metadata first, then removals
// (the agent leaving deletes the mirror), then additions.
func (r *Reconciler) Reconcile(ctx context.Context, g *store.GroupData, delta content.GroupUpdated, members []transport.Member) (Outcome, error) {
	var out Outcome

	if applyMetadata(g, delta.MetadataFieldChanges) {
		if err := r.groups.UpdateGroup(ctx, g); err != nil {
			return out, fmt.Errorf("update group %s: %w", g.ID, err)
		}
		out.MetadataUpdated = true
		metrics.MembershipChanges.WithLabelValues("metadata").Inc()
	}

	if len(delta.RemovedInboxes) > 0 {
		removed := make([]string, 0, len(delta.RemovedInboxes))
		for _, in := range delta.RemovedInboxes {
			if strings.EqualFold(in.InboxID, r.agentInboxID) {
				if err := r.groups.DeleteGroup(ctx, g.ID); err != nil {
					return out, fmt.Errorf("delete group %s: %w", g.ID, err)
				}
				slog.Info("agent removed from group, mirror deleted", "conversation", g.ConversationID, "group", g.ID)
				metrics.MembershipChanges.WithLabelValues("group_deleted").Inc()
				out.Deleted = true
				return out, nil
			}
			removed = append(removed, in.InboxID)
		}
		n, err := r.groups.RemoveMembersByInboxIDs(ctx, g.ID, removed)
		if err != nil {
			return out, fmt.Errorf("remove members from %s: %w", g.ID, err)
		}
		out.Removed = n
		metrics.MembershipChanges.WithLabelValues("removed").Add(float64(n))
	}

	if len(delta.AddedInboxes) > 0 {
		only := make(map[string]bool, len(delta.AddedInboxes))
		for _, in := range delta.AddedInboxes {
			only[in.InboxID] = true
		}
		n, err := r.addMembers(ctx, g.ID, r.candidates(members, only))
		if err != nil {
			return out, err
		}
		out.Added = n
	}

	if out.MetadataUpdated || out.Added > 0 || out.Removed > 0 {
		slog.Info("group reconciled",
			"conversation", g.ConversationID,
			"added", out.Added,
			"removed", out.Removed,
			"metadata", out.MetadataUpdated)
	}
	return out, nil
}

// applyMetadata copies changed fields onto g; absent fields keep their
// stored value.
func applyMetadata(g *store.GroupData, changes []content.MetadataFieldChange) bool {
	changed := false
	for _, c := range changes {
		switch c.FieldName {
		case FieldName:
			g.Name = c.NewValue
		case FieldDescription, FieldGroupDescription:
			g.Description = c.NewValue
		case FieldImageURL:
			g.ImageURL = c.NewValue
		default:
			continue
		}
		changed = true
	}
	return changed
}

type candidate struct {
	inboxID string
	address string
}

// candidates filters transport members down to mirrorable users: not the
// agent, with an Ethereum address, and not a known agent. When only is
// non-nil, members outside it are skipped.
func (r *Reconciler) candidates(members []transport.Member, only map[string]bool) []candidate {
	var out []candidate
	for _, m := range members {
		if only != nil && !only[m.InboxID] {
			continue
		}
		if strings.EqualFold(m.InboxID, r.agentInboxID) {
			continue
		}
		addr := firstEthAddress(m.Addresses)
		if addr == "" || r.IsKnownAgent(addr) {
			continue
		}
		out = append(out, candidate{inboxID: m.InboxID, address: addr})
	}
	return out
}

func firstEthAddress(addrs []string) string {
	for _, a := range addrs {
		if common.IsHexAddress(a) {
			return common.HexToAddress(a).Hex()
		}
	}
	return ""
}

func (r *Reconciler) addMembers(ctx context.Context, groupID uuid.UUID, cands []candidate) (int, error) {
	if len(cands) == 0 {
		return 0, nil
	}
	ids := make([]uuid.UUID, 0, len(cands))
	for _, c := range cands {
		u, err := r.EnsureUser(ctx, c.inboxID, c.address)
		if err != nil {
			slog.Warn("skipping member", "inbox", c.inboxID, "error", err)
			continue
		}
		ids = append(ids, u.ID)
	}
	n, err := r.groups.AddMembers(ctx, groupID, ids)
	if err != nil {
		return 0, fmt.Errorf("add members to %s: %w", groupID, err)
	}
	if n > 0 {
		metrics.MembershipChanges.WithLabelValues("added").Add(float64(n))
	}
	return n, nil
}

// EnsureUser returns the user for inboxID, creating it from address and
// its Farcaster profile when missing. A user saved earlier without an
// inbox, matched by wallet or fid, gets inboxID attached instead. Without
// an address a missing user is store.ErrNotFound.
func (r *Reconciler) EnsureUser(ctx context.Context, inboxID, address string) (*store.UserData, error) {
	u, err := r.users.GetUserByInboxID(ctx, inboxID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("get user %s: %w", inboxID, err)
	}
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("user %s: %w", inboxID, store.ErrNotFound)
	}

	primary := common.HexToAddress(address).Hex()
	if u, ok, err := r.attachExisting(ctx, inboxID, func(ctx context.Context) (*store.UserData, error) {
		return r.users.GetUserByAddress(ctx, primary)
	}); ok || err != nil {
		return u, err
	}

	params := store.CreateUserParams{
		InboxID:        inboxID,
		PrimaryAddress: primary,
		Addresses:      []string{primary},
	}
	if r.profiles != nil {
		profile, err := r.profiles.UserByAddress(ctx, primary)
		if err != nil {
			slog.Warn("farcaster profile lookup failed", "address", primary, "error", err)
		} else if profile != nil {
			applyProfile(&params, profile)
		}
	}
	if params.FarcasterFID != 0 {
		fid := params.FarcasterFID
		u, ok, err := r.attachExisting(ctx, inboxID, func(ctx context.Context) (*store.UserData, error) {
			return r.users.GetUserByFID(ctx, fid)
		})
		if ok || err != nil {
			return u, err
		}
		if u != nil {
			// fid belongs to another inbox; keep the new user unlinked.
			slog.Warn("farcaster fid already linked", "fid", fid, "inbox", inboxID, "owner", u.InboxID)
			params.FarcasterFID = 0
		}
	}

	u, err = r.users.CreateUser(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create user %s: %w", inboxID, err)
	}
	slog.Info("user created", "inbox", inboxID, "user", u.ID, "fid", u.FarcasterFID)
	return u, nil
}

// attachExisting looks a user up with find and, when it has no inbox yet,
// links it to inboxID. ok reports that the returned user is inboxID's.
// A found user owned by another inbox is returned with ok false.
func (r *Reconciler) attachExisting(ctx context.Context, inboxID string, find func(context.Context) (*store.UserData, error)) (u *store.UserData, ok bool, err error) {
	u, err = find(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("find user for %s: %w", inboxID, err)
	}
	if u.InboxID != "" {
		return u, false, nil
	}

	if err := r.users.AttachInbox(ctx, u.ID, inboxID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("attach inbox %s: %w", inboxID, err)
	}
	// Re-read: a concurrent caller may have attached first.
	u, err = r.users.GetUser(ctx, u.ID)
	if err != nil {
		return nil, false, fmt.Errorf("get user %s: %w", inboxID, err)
	}
	if u.InboxID != inboxID {
		return u, false, nil
	}
	slog.Info("inbox attached to existing user", "inbox", inboxID, "user", u.ID, "fid", u.FarcasterFID)
	return u, true, nil
}

func applyProfile(p *store.CreateUserParams, profile *neynar.User) {
	p.Username = profile.Username
	p.AvatarURL = neynar.FormatAvatar(profile.PfpURL)
	p.FarcasterFID = profile.FID
	p.FarcasterUsername = profile.Username
	p.FarcasterDisplayName = profile.DisplayName

	seen := map[string]bool{p.PrimaryAddress: true}
	for _, a := range profile.VerifiedAddresses.EthAddresses {
		if !common.IsHexAddress(a) {
			continue
		}
		addr := common.HexToAddress(a).Hex()
		if !seen[addr] {
			seen[addr] = true
			p.Addresses = append(p.Addresses, addr)
		}
	}
}

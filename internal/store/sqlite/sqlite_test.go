package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/xbtify/xbtclaw/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &Store{db: db}
}

func mustUser(t *testing.T, s *Store, inbox, addr string) *store.UserData {
	t.Helper()
	u, err := s.CreateUser(context.Background(), store.CreateUserParams{
		InboxID:        inbox,
		PrimaryAddress: addr,
		Addresses:      []string{addr},
	})
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", inbox, err)
	}
	return u
}

func TestCreateUser_IdempotentOnInbox(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := mustUser(t, s, "inbox-a", "0xAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAa")
	b := mustUser(t, s, "inbox-a", "0xAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAa")
	if a.ID != b.ID {
		t.Fatalf("second create returned %s, want %s", b.ID, a.ID)
	}
	if got := a.PrimaryAddress(); got != "0xAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAaAa" {
		t.Errorf("primary = %q", got)
	}

	byAddr, err := s.GetUserByAddress(ctx, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	if err != nil {
		t.Fatalf("GetUserByAddress: %v", err)
	}
	if byAddr.ID != a.ID {
		t.Errorf("address lookup returned %s", byAddr.ID)
	}

	if _, err := s.GetUserByInboxID(ctx, "nobody"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing inbox err = %v", err)
	}
}

func TestCreateGroup_GetOrCreateIdempotence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]uuid.UUID, 8)
	created := make([]bool, 8)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g := &store.GroupData{ConversationID: "conv-1", Name: "frens"}
			c, err := s.CreateGroup(ctx, g)
			if err != nil {
				t.Errorf("CreateGroup: %v", err)
				return
			}
			ids[i], created[i] = g.ID, c
		}()
	}
	wg.Wait()

	nCreated := 0
	for i := range ids {
		if ids[i] != ids[0] {
			t.Errorf("group id %d = %s, want %s", i, ids[i], ids[0])
		}
		if created[i] {
			nCreated++
		}
	}
	if nCreated != 1 {
		t.Errorf("created count = %d, want 1", nCreated)
	}
	groups, err := s.ListGroups(ctx)
	if err != nil {
		t.Fatalf("ListGroups: %v", err)
	}
	if len(groups) != 1 {
		t.Errorf("rows = %d, want 1", len(groups))
	}
}

func TestMembers_IdempotentAndCascade(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	g := &store.GroupData{ConversationID: "conv-1"}
	if _, err := s.CreateGroup(ctx, g); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	u1 := mustUser(t, s, "inbox-1", "0x1111111111111111111111111111111111111111")
	u2 := mustUser(t, s, "inbox-2", "0x2222222222222222222222222222222222222222")

	n, err := s.AddMembers(ctx, g.ID, []uuid.UUID{u1.ID, u2.ID})
	if err != nil || n != 2 {
		t.Fatalf("AddMembers = %d, %v", n, err)
	}
	n, err = s.AddMembers(ctx, g.ID, []uuid.UUID{u1.ID})
	if err != nil || n != 0 {
		t.Fatalf("replayed AddMembers = %d, %v", n, err)
	}

	removed, err := s.RemoveMembersByInboxIDs(ctx, g.ID, []string{"inbox-2", "unknown"})
	if err != nil || removed != 1 {
		t.Fatalf("RemoveMembersByInboxIDs = %d, %v", removed, err)
	}
	members, err := s.ListMembers(ctx, g.ID)
	if err != nil {
		t.Fatalf("ListMembers: %v", err)
	}
	if len(members) != 1 || members[0].ID != u1.ID {
		t.Fatalf("members = %+v", members)
	}

	if err := s.DeleteGroup(ctx, g.ID); err != nil {
		t.Fatalf("DeleteGroup: %v", err)
	}
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM group_members`).Scan(&count); err != nil {
		t.Fatalf("count members: %v", err)
	}
	if count != 0 {
		t.Errorf("group_members rows after delete = %d, want 0", count)
	}
	if _, err := s.GetGroupByConversationID(ctx, "conv-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("deleted group lookup err = %v", err)
	}
}

func TestUpdateGroup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	g := &store.GroupData{ConversationID: "conv-1", Name: "old"}
	if _, err := s.CreateGroup(ctx, g); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	g.Name, g.ImageURL = "new", "https://img"
	if err := s.UpdateGroup(ctx, g); err != nil {
		t.Fatalf("UpdateGroup: %v", err)
	}
	got, err := s.GetGroupByConversationID(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "new" || got.ImageURL != "https://img" || got.Description != "" {
		t.Errorf("group = %+v", got)
	}
}

func TestClaimPayment_ReplayRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u1 := mustUser(t, s, "inbox-1", "0x1111111111111111111111111111111111111111")
	u2 := mustUser(t, s, "inbox-2", "0x2222222222222222222222222222222222222222")

	unlocked := 0
	unlock := func(_ context.Context, u *store.UserData, _ *store.PaymentData) error {
		if u.PaidTxHash == "" {
			t.Error("unlock saw user without paid hash")
		}
		unlocked++
		return nil
	}

	p := &store.PaymentData{TxHash: "0xABC", UserID: u1.ID, FromAddress: "0x1", ToAddress: "0x2", Amount: "10000"}
	if err := s.ClaimPayment(ctx, p, unlock); err != nil {
		t.Fatalf("first claim: %v", err)
	}

	replay := &store.PaymentData{TxHash: "0xabc", UserID: u2.ID, FromAddress: "0x2", ToAddress: "0x2", Amount: "10000"}
	if err := s.ClaimPayment(ctx, replay, unlock); !errors.Is(err, store.ErrTxAlreadyUsed) {
		t.Fatalf("replay err = %v, want ErrTxAlreadyUsed", err)
	}
	if unlocked != 1 {
		t.Errorf("unlocked %d times, want 1", unlocked)
	}

	got2, err := s.GetUser(ctx, u2.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got2.HasPaid() {
		t.Error("replayed hash credited second user")
	}
	got1, _ := s.GetUser(ctx, u1.ID)
	if got1.PaidTxHash != "0xabc" {
		t.Errorf("paid hash = %q", got1.PaidTxHash)
	}
}

func TestClaimPayment_UnlockRunsAfterCommit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := mustUser(t, s, "inbox-1", "0x1111111111111111111111111111111111111111")

	p := &store.PaymentData{TxHash: "0xDEAD", UserID: u.ID, FromAddress: "0x1", ToAddress: "0x2", Amount: "1"}
	err := s.ClaimPayment(ctx, p, func(ctx context.Context, user *store.UserData, _ *store.PaymentData) error {
		if user.PaidTxHash != "0xdead" {
			t.Errorf("unlock user paid hash = %q", user.PaidTxHash)
		}
		// The pool holds one connection; this read only succeeds once the
		// claim transaction has released it.
		rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if _, err := s.GetPayment(rctx, "0xdead"); err != nil {
			t.Errorf("payment not visible to unlock: %v", err)
		}
		return errors.New("initializer down")
	})
	if !errors.Is(err, store.ErrUnlockFailed) {
		t.Fatalf("err = %v, want ErrUnlockFailed", err)
	}

	if _, err := s.GetPayment(ctx, "0xdead"); err != nil {
		t.Errorf("ledger row rolled back: %v", err)
	}
	got, _ := s.GetUser(ctx, u.ID)
	if !got.HasPaid() {
		t.Error("paid flag rolled back")
	}
	if err := s.ClaimPayment(ctx, p, nil); !errors.Is(err, store.ErrTxAlreadyUsed) {
		t.Errorf("second claim err = %v, want ErrTxAlreadyUsed", err)
	}
}

func TestAttachInbox(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	saved, err := s.CreateUser(ctx, store.CreateUserParams{FarcasterFID: 42, Username: "alice"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	taken := mustUser(t, s, "inbox-b", "0x2222222222222222222222222222222222222222")

	tests := []struct {
		name    string
		id      uuid.UUID
		inbox   string
		wantErr error
	}{
		{"attaches to inbox-less user", saved.ID, "inbox-a", nil},
		{"already attached", saved.ID, "inbox-c", store.ErrNotFound},
		{"user with an inbox", taken.ID, "inbox-c", store.ErrNotFound},
		{"missing user", uuid.New(), "inbox-c", store.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.AttachInbox(ctx, tt.id, tt.inbox); !errors.Is(err, tt.wantErr) {
				t.Errorf("AttachInbox err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	got, err := s.GetUserByInboxID(ctx, "inbox-a")
	if err != nil || got.ID != saved.ID || got.FarcasterFID != 42 {
		t.Errorf("GetUserByInboxID = %+v, %v", got, err)
	}
}

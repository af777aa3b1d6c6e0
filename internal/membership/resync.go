package membership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/xbtify/xbtclaw/internal/transport"
)

// DefaultResyncSchedule runs the resync every 30 minutes.
const DefaultResyncSchedule = "*/30 * * * *"

// Resync re-adds transport members missing from every tracked group.
// Conversations the transport no longer knows are skipped.
func (r *Reconciler) Resync(ctx context.Context, client transport.Client) error {
	groups, err := r.groups.ListGroups(ctx)
	if err != nil {
		return fmt.Errorf("list groups: %w", err)
	}
	added := 0
	for i := range groups {
		if err := ctx.Err(); err != nil {
			return err
		}
		g := &groups[i]
		conv, err := client.Conversation(ctx, g.ConversationID)
		if err != nil {
			if !errors.Is(err, transport.ErrNotFound) {
				slog.Warn("resync: conversation lookup failed", "conversation", g.ConversationID, "error", err)
			}
			continue
		}
		members, err := conv.Members(ctx)
		if err != nil {
			slog.Warn("resync: list members failed", "conversation", g.ConversationID, "error", err)
			continue
		}
		n, err := r.addMembers(ctx, g.ID, r.candidates(members, nil))
		if err != nil {
			slog.Warn("resync: add members failed", "conversation", g.ConversationID, "error", err)
			continue
		}
		added += n
	}
	slog.Info("membership resync done", "groups", len(groups), "added", added)
	return nil
}

// RunResync calls Resync on every tick of the cron expression until ctx
// is cancelled.
func (r *Reconciler) RunResync(ctx context.Context, client transport.Client, cronExpr string) error {
	if cronExpr == "" {
		cronExpr = DefaultResyncSchedule
	}
	if !gronx.IsValid(cronExpr) {
		return fmt.Errorf("invalid resync cron expression: %s", cronExpr)
	}
	slog.Info("membership resync scheduled", "cron", cronExpr)

	for {
		next, err := gronx.NextTickAfter(cronExpr, time.Now().UTC(), false)
		if err != nil {
			return fmt.Errorf("resync next tick: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Until(next)):
		}
		if err := r.Resync(ctx, client); err != nil && ctx.Err() == nil {
			slog.Error("membership resync failed", "error", err)
		}
	}
}

package dispatch

import (
	"context"
	"log/slog"

	"github.com/xbtify/xbtclaw/internal/content"
	"github.com/xbtify/xbtclaw/internal/payment"
	"github.com/xbtify/xbtclaw/internal/transport"
)

// armPayment watches for sender's transfer to the agent. A sender has at
// most one armed watch; arming again replaces the previous one.
func (d *Dispatcher) armPayment(ctx context.Context, conv transport.Conversation, senderInboxID, sender string) {
	// The verifier credits the transfer to the user owning the sender
	// wallet, so that row must exist before the transfer lands.
	if _, err := d.members.EnsureUser(ctx, senderInboxID, sender); err != nil {
		slog.Warn("ensure payer failed", "inbox", senderInboxID, "address", sender, "error", err)
	}

	var w *payment.Watch
	armed := make(chan struct{})
	w, err := d.verifier.Watch(context.WithoutCancel(ctx), payment.WatchRequest{
		Sender:  sender,
		Agent:   d.client.Address(),
		Timeout: d.cfg.WatchTimeout,
		OnResult: func(ctx context.Context, res payment.Result) {
			<-armed
			d.forgetWatch(sender, w)
			d.notifyPayment(ctx, conv, sender, res)
		},
	})
	close(armed)
	if err != nil {
		slog.Error("arm payment watch failed", "sender", sender, "error", err)
		return
	}

	d.mu.Lock()
	prev := d.watches[sender]
	d.watches[sender] = w
	d.mu.Unlock()
	if prev != nil {
		prev.Cancel()
	}
}

func (d *Dispatcher) forgetWatch(sender string, w *payment.Watch) {
	d.mu.Lock()
	if d.watches[sender] == w {
		delete(d.watches, sender)
	}
	d.mu.Unlock()
}

func (d *Dispatcher) cancelWatch(sender string) {
	d.mu.Lock()
	w := d.watches[sender]
	delete(d.watches, sender)
	d.mu.Unlock()
	if w != nil {
		w.Cancel()
	}
}

// PendingPayments returns the number of senders with an armed watch.
func (d *Dispatcher) PendingPayments() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.watches)
}

func (d *Dispatcher) notifyPayment(ctx context.Context, conv transport.Conversation, sender string, res payment.Result) {
	switch {
	case res.Accepted:
		if _, err := transport.SendText(ctx, conv, res.Message()); err != nil {
			slog.Error("payment notification failed", "sender", sender, "tx", res.TxHash, "error", err)
		}
	case res.Reason == payment.ReasonCancelled:
		// Replaced or shutting down.
	case res.Reason == payment.ReasonTimeout, res.Reason == payment.ReasonSubscriptionError:
		slog.Info("payment watch ended", "sender", sender, "reason", res.Reason)
	default:
		slog.Warn("payment rejected", "sender", sender, "tx", res.TxHash, "reason", res.Reason)
		if _, err := transport.SendText(ctx, conv, res.Message()); err != nil {
			slog.Error("payment notification failed", "sender", sender, "error", err)
		}
	}
}

// handleTransactionReference verifies a transaction the user points at.
// Outside direct messages, transfers that never targeted the agent are
// ignored silently.
func (d *Dispatcher) handleTransactionReference(ctx context.Context, conv transport.Conversation, msg *transport.Message, sender string, ref content.TransactionReference, direct bool) (string, error) {
	res := d.verifier.VerifyReceipt(ctx, payment.Claim{
		TxHash:    ref.Reference,
		Sender:    sender,
		Recipient: d.client.Address(),
	})
	if !direct && !res.Accepted {
		switch res.Reason {
		case payment.ReasonNoTransferLog, payment.ReasonWrongToken, payment.ReasonWrongRecipient:
			return outcomeIgnored, nil
		}
	}
	if res.Accepted {
		d.cancelWatch(sender)
	}
	if err := d.reply(ctx, conv, msg, res.Message()); err != nil {
		return "", err
	}
	return outcomePayment, nil
}

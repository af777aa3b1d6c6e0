package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/xbtify/xbtclaw/internal/actions"
	"github.com/xbtify/xbtclaw/internal/content"
	"github.com/xbtify/xbtclaw/internal/payment"
	"github.com/xbtify/xbtclaw/internal/transport"
)

// Built-in action ids.
const (
	ActionStart   = "start"
	ActionOpenApp = "open-app"
	ActionHelp    = "help"
	ActionCreate  = "xbtify_create"

	// MenuID is the id of the actions menu every welcome and hint sends.
	MenuID = "help"
)

func (d *Dispatcher) registerBuiltins() {
	buttons := []actions.MenuAction{
		{ID: ActionCreate, Label: "🤖 Create your XBT", Handler: d.handleCreate},
		{ID: ActionOpenApp, Label: "🦊 Open App", Handler: d.handleOpenApp},
	}
	d.menus = &actions.AppConfig{
		Name: "xbtify",
		Menus: map[string]actions.Menu{
			actions.MainMenuID: {ID: actions.MainMenuID, Title: ActionsMessage, Actions: buttons},
		},
		Options: actions.AppOptions{DefaultNavigationMessage: ActionsMessage},
	}
	actions.Install(d.registry, d.menus, map[string]actions.Handler{
		ActionStart: func(ctx context.Context, call *actions.Call) error {
			return call.SendText(ctx, StartMessage)
		},
		ActionHelp: func(ctx context.Context, call *actions.Call) error {
			return call.SendText(ctx, HelpHintMessage)
		},
	})
}

// sendMenu sends the create / open-app menu under message.
func (d *Dispatcher) sendMenu(ctx context.Context, conv transport.Conversation, message string) error {
	b := actions.NewBuilder(MenuID, message)
	for _, a := range d.menus.Menus[actions.MainMenuID].Actions {
		b.Add(content.Action{ID: a.ID, Label: a.Label, Style: a.Style})
	}
	return b.Send(ctx, conv, d.sessions.Get(conv.ID()))
}

func (d *Dispatcher) handleOpenApp(ctx context.Context, call *actions.Call) error {
	if _, err := call.SenderAddress(ctx); err != nil {
		slog.Warn("open-app sender has no wallet address", "conversation", call.Conversation.ID(), "error", err)
		return nil
	}
	return call.SendText(ctx, fmt.Sprintf(openAppTemplate, d.cfg.AppURL))
}

// handleCreate offers the pay button straight from the menu, skipping the
// model round trip.
func (d *Dispatcher) handleCreate(ctx context.Context, call *actions.Call) error {
	sender, err := call.SenderAddress(ctx)
	if err != nil {
		slog.Warn("create sender has no wallet address", "conversation", call.Conversation.ID(), "error", err)
		return call.SendText(ctx, payment.MsgNoSenderAddress)
	}
	msg := fmt.Sprintf("Confirm that you want to create a new xbt ai clone for this wallet address %s", sender)
	return d.offerPayment(ctx, call.Conversation, call.SenderInboxID, sender, msg)
}

// offerPayment sends the single-shot pay button and arms the transfer
// watch for sender.
func (d *Dispatcher) offerPayment(ctx context.Context, conv transport.Conversation, senderInboxID, sender, message string) error {
	agentAddr := d.client.Address()
	if !common.IsHexAddress(agentAddr) {
		slog.Error("agent address unavailable", "address", agentAddr)
		_, err := transport.SendText(ctx, conv, noAgentAddressMessage)
		return err
	}

	menu, err := actions.BuildTransferAction(d.registry, message, d.transferHandler(common.HexToAddress(agentAddr)))
	if err != nil {
		return fmt.Errorf("build transfer action: %w", err)
	}
	if err := actions.SendActions(ctx, conv, d.sessions.Get(conv.ID()), menu); err != nil {
		return err
	}
	d.armPayment(ctx, conv, senderInboxID, sender)
	return nil
}

// transferHandler checks the payer's balances and sends the wallet call
// that moves the tokens to agent.
func (d *Dispatcher) transferHandler(agent common.Address) actions.Handler {
	return func(ctx context.Context, call *actions.Call) error {
		addr, err := call.SenderAddress(ctx)
		if err != nil {
			slog.Error("transfer sender has no wallet address", "error", err)
			return call.SendText(ctx, payment.MsgNoSenderAddress)
		}
		sender := common.HexToAddress(addr)
		slog.Info("transfer requested", "from", sender.Hex(), "price", d.cfg.Price)

		pre, err := d.verifier.Preflight(ctx, sender, d.cfg.Price)
		if err != nil {
			return fmt.Errorf("balance check failed: %w", err)
		}
		if !pre.OK {
			slog.Warn("transfer preflight refused", "from", sender.Hex(), "reason", pre.Message)
			return call.SendText(ctx, pre.Message)
		}

		calls, err := payment.BuildWalletSendCalls(payment.TransferRequest{
			From:          sender,
			To:            agent,
			ChainID:       d.cfg.ChainID,
			Token:         d.verifier.Token(),
			TokenSymbol:   pre.Symbol,
			TokenDecimals: pre.Decimals,
			Amount:        pre.Amount,
			AppURL:        d.cfg.AppURL,
			Paymaster:     d.cfg.Paymaster,
		})
		if err != nil {
			return err
		}
		if _, err := call.Conversation.Send(ctx, calls); err != nil {
			return fmt.Errorf("send wallet calls: %w", err)
		}
		return nil
	}
}

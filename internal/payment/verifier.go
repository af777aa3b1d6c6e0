// Package payment verifies USDC transfers on Base that unlock the paid
// clone feature, and builds the wallet call a user signs to pay.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/xbtify/xbtclaw/internal/metrics"
	"github.com/xbtify/xbtclaw/internal/store"
)

// Base mainnet USDC.
const (
	BaseChainID         = 8453
	BaseUSDCAddress     = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	USDCDecimals        = 6
	DefaultMinAmount    = "0.01"
	DefaultWatchTimeout = 30 * time.Minute
)

var tracer = otel.Tracer("github.com/xbtify/xbtclaw/internal/payment")

// Reason is the negative verification outcome. Accepted results carry
// ReasonNone.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonInvalidHash       Reason = "invalid_hash"
	ReasonReceiptNotFound   Reason = "receipt_not_found"
	ReasonTxFailed          Reason = "tx_failed"
	ReasonNoTransferLog     Reason = "no_transfer_log"
	ReasonWrongToken        Reason = "wrong_token"
	ReasonWrongSender       Reason = "wrong_sender"
	ReasonWrongRecipient    Reason = "wrong_recipient"
	ReasonAmountTooLow      Reason = "amount_too_low"
	ReasonTxAlreadyUsed     Reason = "tx_already_used"
	ReasonUnknownUser       Reason = "unknown_user"
	ReasonPersistFailed     Reason = "persist_failed"
	ReasonTimeout           Reason = "timeout"
	ReasonCancelled         Reason = "cancelled"
	ReasonSubscriptionError Reason = "subscription_error"
)

// Chain is the subset of an EVM RPC client the verifier needs.
// *ethclient.Client satisfies it.
type Chain interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Config configures a Verifier.
type Config struct {
	Token        common.Address
	Decimals     uint8
	MinAmount    string        // decimal string, e.g. "0.01"
	WatchTimeout time.Duration // default 30m
}

// Claim is a user's assertion that TxHash paid Recipient from Sender.
type Claim struct {
	TxHash    string
	Sender    string
	Recipient string
}

// Result is the verification outcome.
type Result struct {
	Accepted bool
	Reason   Reason
	TxHash   string
	Amount   *big.Int
	UserID   string
}

// Verifier checks transfers against the configured token and records
// accepted ones in the payment ledger.
type Verifier struct {
	chain    Chain
	users    store.UserStore
	payments store.PaymentStore
	unlock   store.UnlockFunc
	token    common.Address
	decimals uint8
	min      *big.Int
	timeout  time.Duration

	mu      sync.Mutex
	watches map[*Watch]struct{}
}

// NewVerifier builds a Verifier. unlock may be nil.
func NewVerifier(chain Chain, users store.UserStore, payments store.PaymentStore, unlock store.UnlockFunc, cfg Config) (*Verifier, error) {
	if cfg.Token == (common.Address{}) {
		cfg.Token = common.HexToAddress(BaseUSDCAddress)
	}
	if cfg.Decimals == 0 {
		cfg.Decimals = USDCDecimals
	}
	if cfg.MinAmount == "" {
		cfg.MinAmount = DefaultMinAmount
	}
	if cfg.WatchTimeout <= 0 {
		cfg.WatchTimeout = DefaultWatchTimeout
	}
	min, err := ParseUnits(cfg.MinAmount, cfg.Decimals)
	if err != nil {
		return nil, fmt.Errorf("payment min amount: %w", err)
	}
	return &Verifier{
		chain:    chain,
		users:    users,
		payments: payments,
		unlock:   unlock,
		token:    cfg.Token,
		decimals: cfg.Decimals,
		min:      min,
		timeout:  cfg.WatchTimeout,
		watches:  make(map[*Watch]struct{}),
	}, nil
}

// Token returns the accepted token contract.
func (v *Verifier) Token() common.Address { return v.token }

// Decimals returns the token decimals.
func (v *Verifier) Decimals() uint8 { return v.decimals }

// MinAmount returns the minimum accepted amount in base units.
func (v *Verifier) MinAmount() *big.Int { return new(big.Int).Set(v.min) }

// VerifyReceipt checks a claimed transaction hash. Every negative outcome
// is reported through Result.Reason; it never returns an error.
func (v *Verifier) VerifyReceipt(ctx context.Context, claim Claim) Result {
	ctx, span := tracer.Start(ctx, "payment.verify_receipt",
		trace.WithAttributes(attribute.String("tx", claim.TxHash)))
	defer span.End()

	res := v.verifyReceipt(ctx, claim)
	span.SetAttributes(attribute.Bool("accepted", res.Accepted), attribute.String("reason", string(res.Reason)))
	v.record("receipt", res)
	return res
}

func (v *Verifier) verifyReceipt(ctx context.Context, claim Claim) Result {
	hash := strings.TrimSpace(claim.TxHash)
	if len(hash) != 66 || !strings.HasPrefix(hash, "0x") {
		return reject(claim.TxHash, ReasonInvalidHash)
	}
	if !common.IsHexAddress(claim.Sender) || !common.IsHexAddress(claim.Recipient) {
		return reject(hash, ReasonWrongSender)
	}
	receipt, err := v.chain.TransactionReceipt(ctx, common.HexToHash(hash))
	if err != nil || receipt == nil {
		slog.Warn("payment receipt lookup failed", "tx", hash, "error", err)
		return reject(hash, ReasonReceiptNotFound)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return reject(hash, ReasonTxFailed)
	}

	sender := common.HexToAddress(claim.Sender)
	recipient := common.HexToAddress(claim.Recipient)

	// The first matching log wins; otherwise report the most specific
	// failure seen across the transfer logs.
	worst := ReasonNoTransferLog
	for _, l := range receipt.Logs {
		if l == nil {
			continue
		}
		tr, err := DecodeTransfer(*l)
		if err != nil {
			continue
		}
		if tr.TxHash == (common.Hash{}) {
			tr.TxHash = receipt.TxHash
		}
		reason := v.check(tr, sender, recipient)
		if reason == ReasonNone {
			return v.accept(ctx, hash, tr)
		}
		if rank(reason) > rank(worst) {
			worst = reason
		}
	}
	return reject(hash, worst)
}

// check applies predicates 1-4 to a decoded transfer.
func (v *Verifier) check(tr Transfer, sender, recipient common.Address) Reason {
	switch {
	case tr.Token != v.token:
		return ReasonWrongToken
	case tr.From != sender:
		return ReasonWrongSender
	case tr.To != recipient:
		return ReasonWrongRecipient
	case tr.Value.Cmp(v.min) < 0:
		return ReasonAmountTooLow
	}
	return ReasonNone
}

func rank(r Reason) int {
	switch r {
	case ReasonWrongToken:
		return 1
	case ReasonWrongSender:
		return 2
	case ReasonWrongRecipient:
		return 3
	case ReasonAmountTooLow:
		return 4
	}
	return 0
}

// accept runs predicate 5 and persists the payment atomically.
func (v *Verifier) accept(ctx context.Context, hash string, tr Transfer) Result {
	hash = strings.ToLower(hash)
	user, err := v.users.GetUserByAddress(ctx, tr.From.Hex())
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Error("payment user lookup failed", "tx", hash, "from", tr.From.Hex(), "error", err)
			return reject(hash, ReasonPersistFailed)
		}
		return reject(hash, ReasonUnknownUser)
	}
	p := &store.PaymentData{
		TxHash:      hash,
		UserID:      user.ID,
		FromAddress: tr.From.Hex(),
		ToAddress:   tr.To.Hex(),
		Amount:      tr.Value.String(),
	}
	if err := v.payments.ClaimPayment(ctx, p, v.unlock); err != nil {
		switch {
		case errors.Is(err, store.ErrTxAlreadyUsed):
			return reject(hash, ReasonTxAlreadyUsed)
		case errors.Is(err, store.ErrUnlockFailed):
			// The payment is recorded; the feature needs a manual kick.
			slog.Error("paid feature unlock failed", "tx", hash, "user", user.ID, "error", err)
		default:
			slog.Error("payment persist failed", "tx", hash, "error", err)
			return reject(hash, ReasonPersistFailed)
		}
	}
	slog.Info("payment accepted", "tx", hash, "user", user.ID, "amount", FormatUnits(tr.Value, v.decimals))
	return Result{Accepted: true, TxHash: hash, Amount: new(big.Int).Set(tr.Value), UserID: user.ID.String()}
}

func (v *Verifier) record(source string, res Result) {
	reason := string(res.Reason)
	if res.Accepted {
		reason = "accepted"
	} else {
		slog.Info("payment rejected", "source", source, "tx", res.TxHash, "reason", reason)
	}
	metrics.PaymentResults.WithLabelValues(source, reason).Inc()
}

func reject(hash string, reason Reason) Result {
	return Result{TxHash: hash, Reason: reason}
}

// Message returns the user-facing text for a result.
func (r Result) Message() string {
	if r.Accepted {
		return PaymentReceivedMessage
	}
	switch r.Reason {
	case ReasonTxAlreadyUsed:
		return "❌ This transaction has already been used"
	case ReasonReceiptNotFound, ReasonInvalidHash:
		return "❌ Transaction not found"
	case ReasonTxFailed:
		return "❌ Transaction failed on chain"
	case ReasonAmountTooLow:
		return "❌ Payment amount is too low"
	case ReasonUnknownUser:
		return "❌ Unable to find your account, send me a message first"
	case ReasonTimeout:
		return "⌛ No payment received in time"
	}
	return "❌ Payment could not be verified"
}

// PaymentReceivedMessage is sent after an accepted payment.
const PaymentReceivedMessage = "Payment received, creating your ai clone in the background... you'll be notified when it's ready"

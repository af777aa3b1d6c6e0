package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/xbtify/xbtclaw/internal/metrics"
)

// WatchRequest arms a watch for one transfer from Sender to Agent.
type WatchRequest struct {
	Sender  string
	Agent   string
	Timeout time.Duration // zero uses the verifier default

	// OnResult runs once when the watch ends, with a context that outlives
	// the watch itself.
	OnResult func(ctx context.Context, res Result)
}

// Watch is an armed subscription. It ends on the first matching log, on
// timeout, or on Cancel.
type Watch struct {
	Sender common.Address
	Agent  common.Address

	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	result Result
}

// Cancel stops the watch. Safe to call more than once.
func (w *Watch) Cancel() { w.cancel() }

// Done is closed after the watch ends and OnResult returned.
func (w *Watch) Done() <-chan struct{} { return w.done }

// Result returns the final result; valid after Done is closed.
func (w *Watch) Result() Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.result
}

// Watch subscribes to Transfer(from=Sender, to=Agent) logs on the token
// contract. The subscription is established before Watch returns.
func (v *Verifier) Watch(ctx context.Context, req WatchRequest) (*Watch, error) {
	if !common.IsHexAddress(req.Sender) {
		return nil, fmt.Errorf("watch: invalid sender address %q", req.Sender)
	}
	if !common.IsHexAddress(req.Agent) {
		return nil, fmt.Errorf("watch: invalid agent address %q", req.Agent)
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = v.timeout
	}

	sender := common.HexToAddress(req.Sender)
	agent := common.HexToAddress(req.Agent)
	q := ethereum.FilterQuery{
		Addresses: []common.Address{v.token},
		Topics: [][]common.Hash{
			{TransferTopic},
			{common.BytesToHash(sender.Bytes())},
			{common.BytesToHash(agent.Bytes())},
		},
	}

	wctx, cancel := context.WithTimeout(ctx, timeout)
	logs := make(chan types.Log, 4)
	sub, err := v.chain.SubscribeFilterLogs(wctx, q, logs)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch: subscribe transfer logs: %w", err)
	}

	w := &Watch{Sender: sender, Agent: agent, cancel: cancel, done: make(chan struct{})}
	v.track(w, true)
	slog.Info("payment watch armed", "from", sender.Hex(), "to", agent.Hex(), "timeout", timeout)

	go func() {
		defer close(w.done)
		defer v.track(w, false)
		defer cancel()

		res := v.waitForTransfer(wctx, sub, logs, sender, agent)
		sub.Unsubscribe()
		v.record("watch", res)

		w.mu.Lock()
		w.result = res
		w.mu.Unlock()

		if req.OnResult != nil {
			nctx, ncancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer ncancel()
			req.OnResult(nctx, res)
		}
	}()
	return w, nil
}

func (v *Verifier) waitForTransfer(ctx context.Context, sub ethereum.Subscription, logs <-chan types.Log, sender, agent common.Address) Result {
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return reject("", ReasonTimeout)
			}
			return reject("", ReasonCancelled)
		case err := <-sub.Err():
			slog.Warn("payment watch subscription failed", "from", sender.Hex(), "error", err)
			return reject("", ReasonSubscriptionError)
		case l := <-logs:
			if l.Removed {
				continue
			}
			tr, err := DecodeTransfer(l)
			if err != nil {
				continue
			}
			hash := tr.TxHash.Hex()
			if reason := v.check(tr, sender, agent); reason != ReasonNone {
				return reject(hash, reason)
			}
			return v.accept(ctx, hash, tr)
		}
	}
}

func (v *Verifier) track(w *Watch, add bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if add {
		v.watches[w] = struct{}{}
		metrics.ActiveWatches.Inc()
		return
	}
	if _, ok := v.watches[w]; ok {
		delete(v.watches, w)
		metrics.ActiveWatches.Dec()
	}
}

// ActiveWatches returns the number of armed watches.
func (v *Verifier) ActiveWatches() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.watches)
}

// CancelAll cancels every armed watch and waits for them to finish.
func (v *Verifier) CancelAll() {
	v.mu.Lock()
	armed := make([]*Watch, 0, len(v.watches))
	for w := range v.watches {
		armed = append(armed, w)
	}
	v.mu.Unlock()

	for _, w := range armed {
		w.Cancel()
	}
	for _, w := range armed {
		<-w.Done()
	}
}

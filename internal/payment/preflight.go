package payment

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// Preflight messages sent back to the user.
const (
	MsgNoSenderAddress   = "❌ Unable to get sender address"
	MsgNotEnoughBalance  = "❌ User does not have enough balance"
	msgNotEnoughEthTempl = "❌ User does not have enough ETH on chain %d"
)

// PreflightResult is the outcome of the balance checks run before a
// transfer request is sent. When OK is false, Message explains why.
type PreflightResult struct {
	OK           bool
	Message      string
	Amount       *big.Int // base units to request
	Symbol       string
	Decimals     uint8
	TokenBalance *big.Int
	EthBalance   *big.Int
	GasPrice     *big.Int
}

// Preflight checks that sender can pay price (a decimal string) in the
// verifier's token. A sender holding less than price is asked for half of
// its balance, as long as that still meets the accepted minimum.
func (v *Verifier) Preflight(ctx context.Context, sender common.Address, price string) (PreflightResult, error) {
	ctx, span := tracer.Start(ctx, "payment.preflight")
	defer span.End()

	decimals, err := v.tokenDecimals(ctx)
	if err != nil {
		return PreflightResult{}, err
	}
	symbol, err := v.tokenSymbol(ctx)
	if err != nil {
		return PreflightResult{}, err
	}
	tokenBal, err := v.TokenBalance(ctx, sender)
	if err != nil {
		return PreflightResult{}, err
	}
	ethBal, err := v.chain.BalanceAt(ctx, sender, nil)
	if err != nil {
		return PreflightResult{}, fmt.Errorf("eth balance of %s: %w", sender.Hex(), err)
	}
	gasPrice, err := v.chain.SuggestGasPrice(ctx)
	if err != nil {
		return PreflightResult{}, fmt.Errorf("suggest gas price: %w", err)
	}
	amount, err := ParseUnits(price, decimals)
	if err != nil {
		return PreflightResult{}, fmt.Errorf("transfer price: %w", err)
	}

	res := PreflightResult{
		Amount:       amount,
		Symbol:       symbol,
		Decimals:     decimals,
		TokenBalance: tokenBal,
		EthBalance:   ethBal,
		GasPrice:     gasPrice,
	}
	slog.Debug("payment preflight",
		"sender", sender.Hex(),
		"token_balance", tokenBal.String(),
		"eth_balance", ethBal.String(),
		"gas_price", gasPrice.String(),
		"amount", amount.String())

	if ethBal.Cmp(gasPrice) <= 0 {
		res.Message = fmt.Sprintf(msgNotEnoughEthTempl, BaseChainID)
		return res, nil
	}
	if tokenBal.Cmp(amount) < 0 {
		if tokenBal.Sign() == 0 {
			res.Message = MsgNotEnoughBalance
			return res, nil
		}
		half := new(big.Int).Quo(tokenBal, big.NewInt(2))
		if half.Cmp(v.min) < 0 {
			res.Message = MsgNotEnoughBalance
			return res, nil
		}
		res.Amount = half
	}
	res.OK = true
	return res, nil
}

// TokenBalance returns the token balance of addr in base units.
func (v *Verifier) TokenBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	out, err := v.callToken(ctx, "balanceOf", addr)
	if err != nil {
		return nil, err
	}
	bal, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf: unexpected result %T", out[0])
	}
	return bal, nil
}

func (v *Verifier) tokenDecimals(ctx context.Context) (uint8, error) {
	out, err := v.callToken(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals: unexpected result %T", out[0])
	}
	return d, nil
}

func (v *Verifier) tokenSymbol(ctx context.Context) (string, error) {
	out, err := v.callToken(ctx, "symbol")
	if err != nil {
		return "", err
	}
	s, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("symbol: unexpected result %T", out[0])
	}
	return s, nil
}

func (v *Verifier) callToken(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	token := v.token
	raw, err := v.chain.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	out, err := erc20ABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty result", method)
	}
	return out, nil
}

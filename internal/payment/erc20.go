package payment

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const erc20ABIJSON = `[
 {"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
 {"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
 {"type":"event","name":"Transfer","anonymous":false,"inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"value","type":"uint256","indexed":false}]}
]`

var erc20ABI = mustParseABI(erc20ABIJSON)

// TransferTopic is keccak256("Transfer(address,address,uint256)").
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// ErrNotTransfer is returned by DecodeTransfer for any other log.
var ErrNotTransfer = errors.New("log is not an ERC-20 Transfer")

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("parse erc20 abi: %v", err))
	}
	return parsed
}

// Transfer is a decoded ERC-20 Transfer event.
type Transfer struct {
	Token  common.Address
	From   common.Address
	To     common.Address
	Value  *big.Int
	TxHash common.Hash
}

// DecodeTransfer decodes an ERC-20 Transfer log.
func DecodeTransfer(l types.Log) (Transfer, error) {
	if len(l.Topics) != 3 || l.Topics[0] != TransferTopic {
		return Transfer{}, ErrNotTransfer
	}
	if len(l.Data) != 32 {
		return Transfer{}, fmt.Errorf("%w: data length %d", ErrNotTransfer, len(l.Data))
	}
	return Transfer{
		Token:  l.Address,
		From:   common.BytesToAddress(l.Topics[1].Bytes()),
		To:     common.BytesToAddress(l.Topics[2].Bytes()),
		Value:  new(big.Int).SetBytes(l.Data),
		TxHash: l.TxHash,
	}, nil
}

// TransferCalldata encodes transfer(to, amount).
func TransferCalldata(to common.Address, amount *big.Int) ([]byte, error) {
	return erc20ABI.Pack("transfer", to, amount)
}

// ParseUnits converts a non-negative decimal string ("0.01") into base
// units for the given number of decimals. Signs and extra fractional
// digits are rejected rather than rounded.
func ParseUnits(value string, decimals uint8) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, errors.New("empty amount")
	}
	whole, frac, _ := strings.Cut(value, ".")
	if (whole == "" && frac == "") || !allDigits(whole) || !allDigits(frac) {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > int(decimals) {
		trimmed := strings.TrimRight(frac[decimals:], "0")
		if trimmed != "" {
			return nil, fmt.Errorf("amount %q has more than %d decimals", value, decimals)
		}
		frac = frac[:decimals]
	}
	frac += strings.Repeat("0", int(decimals)-len(frac))

	out, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return out, nil
}

func allDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// FormatUnits renders base units as a decimal string without trailing
// fractional zeros.
func FormatUnits(v *big.Int, decimals uint8) string {
	if v == nil {
		return "0"
	}
	s := new(big.Int).Abs(v).String()
	sign := ""
	if v.Sign() < 0 {
		sign = "-"
	}
	d := int(decimals)
	if d == 0 {
		return sign + s
	}
	if len(s) <= d {
		s = strings.Repeat("0", d-len(s)+1) + s
	}
	whole, frac := s[:len(s)-d], strings.TrimRight(s[len(s)-d:], "0")
	if frac == "" {
		return sign + whole
	}
	return sign + whole + "." + frac
}

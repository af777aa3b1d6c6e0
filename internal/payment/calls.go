package payment

import (
	"fmt"
	"math/big"
	"net/url"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/xbtify/xbtclaw/internal/content"
)

// Network is an EVM chain the wallet call metadata can name.
type Network struct {
	ChainID   int64
	NetworkID string
	Name      string
}

// Networks lists the chains wallet clients render by network id.
var Networks = map[int64]Network{
	1:     {ChainID: 1, NetworkID: "ethereum-mainnet", Name: "Ethereum"},
	10:    {ChainID: 10, NetworkID: "optimism-mainnet", Name: "Optimism"},
	137:   {ChainID: 137, NetworkID: "polygon-mainnet", Name: "Polygon"},
	8453:  {ChainID: 8453, NetworkID: "base-mainnet", Name: "Base"},
	42161: {ChainID: 42161, NetworkID: "arbitrum-mainnet", Name: "Arbitrum"},
}

const (
	walletFaviconURL = "https://www.google.com/s2/favicons?sz=256&domain_url=https%3A%2F%2Fwww.coinbase.com%2Fwallet"
	walletCallTitle  = "XBTify Agent"
)

// PaymasterKeys holds the gas sponsorship API keys.
type PaymasterKeys struct {
	CoinbaseCDP string
	Pimlico     string
}

// PaymasterURL returns the Coinbase CDP paymaster on Base and Pimlico
// everywhere else.
func (k PaymasterKeys) PaymasterURL(chainID int64) string {
	if chainID == BaseChainID {
		return "https://api.developer.coinbase.com/rpc/v1/base/" + k.CoinbaseCDP
	}
	return fmt.Sprintf("https://api.pimlico.io/v2/%d/rpc?apikey=%s", chainID, url.QueryEscape(k.Pimlico))
}

// TransferRequest describes an ERC-20 transfer the user is asked to sign.
type TransferRequest struct {
	From          common.Address
	To            common.Address
	ChainID       int64
	Token         common.Address
	TokenSymbol   string
	TokenDecimals uint8
	Amount        *big.Int // base units
	AppURL        string
	Paymaster     PaymasterKeys
}

// BuildWalletSendCalls builds the wallet send calls payload for req.
func BuildWalletSendCalls(req TransferRequest) (content.WalletSendCalls, error) {
	network, ok := Networks[req.ChainID]
	if !ok {
		return content.WalletSendCalls{}, fmt.Errorf("unsupported chain id: %d", req.ChainID)
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return content.WalletSendCalls{}, fmt.Errorf("transfer amount must be positive")
	}
	data, err := TransferCalldata(req.To, req.Amount)
	if err != nil {
		return content.WalletSendCalls{}, fmt.Errorf("encode transfer calldata: %w", err)
	}

	var hostname string
	if u, err := url.Parse(req.AppURL); err == nil {
		hostname = u.Hostname()
	}
	amount := FormatUnits(req.Amount, req.TokenDecimals)

	return content.WalletSendCalls{
		Version: "1.0",
		From:    req.From.Hex(),
		ChainID: hexutil.EncodeBig(big.NewInt(req.ChainID)),
		Capabilities: &content.WalletCapabilities{
			PaymasterService: &content.PaymasterService{URL: req.Paymaster.PaymasterURL(req.ChainID)},
		},
		Calls: []content.WalletCall{{
			To:   req.Token.Hex(),
			Data: hexutil.Encode(data),
			Metadata: &content.CallMetadata{
				Description:     fmt.Sprintf("Transfer %s %s on %s", amount, req.TokenSymbol, network.Name),
				TransactionType: "transfer",
				Currency:        req.TokenSymbol,
				Amount:          amount,
				Decimals:        strconv.Itoa(int(req.TokenDecimals)),
				NetworkID:       network.NetworkID,
				Hostname:        hostname,
				FaviconURL:      walletFaviconURL,
				Title:           walletCallTitle,
			},
		}},
	}, nil
}

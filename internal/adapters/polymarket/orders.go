package polymarket

// orders.go — order construction and execution via the Polymarket CLOB.
//
// Implements ports.OrderService using AuthClient for L1/L2 auth. Cost
// estimation queries the Polygon RPC for the current gas price; when the
// RPC is unreachable a flat fallback keeps the executor's profit gate
// working.

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alejandrodnm/polyarb/internal/domain"
)

const (
	// fallbackCostUSD is used when the RPC gas price query fails.
	fallbackCostUSD = 0.10

	// settlementGasUnits approximates the gas of settling one order pair
	// on the CTF exchange.
	settlementGasUnits = 150_000

	// polUSD is a conservative static conversion for the gas token.
	polUSD = 0.50
)

// clobOrderRequest is the JSON body sent to POST /order.
type clobOrderRequest struct {
	Order     clobOrderBody `json:"order"`
	Owner     string        `json:"owner"`
	OrderType string        `json:"orderType"`
}

type clobOrderBody struct {
	Salt          json.Number `json:"salt"`
	Maker         string      `json:"maker"`
	Signer        string      `json:"signer"`
	Taker         string      `json:"taker"`
	TokenID       string      `json:"tokenId"`
	MakerAmount   string      `json:"makerAmount"`
	TakerAmount   string      `json:"takerAmount"`
	Expiration    string      `json:"expiration"`
	Nonce         string      `json:"nonce"`
	FeeRateBps    string      `json:"feeRateBps"`
	Side          string      `json:"side"`
	SignatureType int         `json:"signatureType"`
	Signature     string      `json:"signature"`
}

type clobOrderResponse struct {
	ErrorMsg     string `json:"errorMsg"`
	OrderID      string `json:"orderID"`
	TakingAmount string `json:"takingAmount"`
	MakingAmount string `json:"makingAmount"`
	Status       string `json:"status"`
	Success      bool   `json:"success"`
}

// Trader implements ports.OrderService.
type Trader struct {
	auth      *AuthClient
	rpcClient *ethclient.Client
}

// NewTrader creates a Trader. rpcURL is the Polygon RPC used for gas
// price queries.
func NewTrader(auth *AuthClient, rpcURL string) (*Trader, error) {
	rpc, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("trader: dial rpc: %w", err)
	}
	return &Trader{auth: auth, rpcClient: rpc}, nil
}

// EstimateCost returns the estimated cost in USD of executing one order
// pair, derived from the current Polygon gas price.
func (t *Trader) EstimateCost(ctx context.Context) (float64, error) {
	gasPrice, err := t.rpcClient.SuggestGasPrice(ctx)
	if err != nil {
		slog.Warn("gas price query failed, using fallback", "err", err)
		return fallbackCostUSD, nil
	}

	// gasPrice (wei) × gas units → wei; wei / 1e18 → POL; × polUSD → USD
	costWei := new(big.Int).Mul(gasPrice, big.NewInt(settlementGasUnits))
	costPOL, _ := new(big.Float).Quo(
		new(big.Float).SetInt(costWei),
		big.NewFloat(1e18),
	).Float64()

	return costPOL * polUSD, nil
}

// BuildOrder constructs a limit order for the given token.
func (t *Trader) BuildOrder(tokenID string, price, size float64, side string) domain.Order {
	return domain.Order{
		TokenID: tokenID,
		Price:   price,
		Size:    size,
		Side:    side,
	}
}

// Validate checks that the order is executable.
func (t *Trader) Validate(order domain.Order) domain.OrderValidation {
	return domain.ValidateOrder(order)
}

// Submit signs the order and posts it to the CLOB. Blocks until the API
// responds.
func (t *Trader) Submit(ctx context.Context, order domain.Order) (domain.SubmitResult, error) {
	if err := t.auth.EnsureCreds(ctx); err != nil {
		return domain.SubmitResult{}, fmt.Errorf("trader.Submit: creds: %w", err)
	}

	signed, err := t.auth.buildSignedOrder(order.TokenID, order.Price, order.Size, order.Side)
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("trader.Submit: sign: %w", err)
	}

	body := clobOrderRequest{
		Order: clobOrderBody{
			Salt:          json.Number(signed.Order.Salt.String()),
			Maker:         signed.Order.Maker.Hex(),
			Signer:        signed.Order.Signer.Hex(),
			Taker:         signed.Order.Taker.Hex(),
			TokenID:       order.TokenID,
			MakerAmount:   signed.Order.MakerAmount.String(),
			TakerAmount:   signed.Order.TakerAmount.String(),
			Expiration:    signed.Order.Expiration.String(),
			Nonce:         signed.Order.Nonce.String(),
			FeeRateBps:    signed.Order.FeeRateBps.String(),
			Side:          order.Side,
			SignatureType: int(signed.Order.SignatureType.Int64()),
			Signature:     "0x" + hex.EncodeToString(signed.Signature),
		},
		Owner:     t.auth.creds.APIKey,
		OrderType: "FOK",
	}

	var resp clobOrderResponse
	if err := t.auth.doL2(ctx, http.MethodPost, "/order", body, &resp); err != nil {
		return domain.SubmitResult{}, fmt.Errorf("trader.Submit: post: %w", err)
	}

	if !resp.Success || resp.ErrorMsg != "" {
		return domain.SubmitResult{}, fmt.Errorf("trader.Submit: clob error: %s", resp.ErrorMsg)
	}

	return domain.SubmitResult{
		ExecutedPrice: executedPrice(order, resp),
		SettlementRef: resp.OrderID,
	}, nil
}

// executedPrice derives the fill price from the matched amounts, falling
// back to the requested price when the response omits them.
func executedPrice(order domain.Order, resp clobOrderResponse) float64 {
	making := parseMicroUSDC(resp.MakingAmount)
	taking := parseMicroUSDC(resp.TakingAmount)

	// BUY: made USDC for taken shares. SELL: made shares for taken USDC.
	var usdc, shares float64
	if order.Side == "BUY" {
		usdc, shares = making, taking
	} else {
		usdc, shares = taking, making
	}
	if usdc <= 0 || shares <= 0 {
		return order.Price
	}
	return usdc / shares
}

// parseMicroUSDC converts a micro-unit string (e.g. "1000000") to a float.
func parseMicroUSDC(s string) float64 {
	if s == "" {
		return 0
	}
	n := new(big.Int)
	if _, ok := n.SetString(s, 10); !ok {
		return 0
	}
	f, _ := new(big.Float).SetInt(n).Float64()
	return f / 1_000_000
}

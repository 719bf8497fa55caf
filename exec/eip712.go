package exec

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EIP-712 ORDER SIGNING - Polymarket CTF Exchange
// ═══════════════════════════════════════════════════════════════════════════════

const (
	PolygonChainID     = 137
	CTFExchangeAddress = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	zeroAddress        = "0x0000000000000000000000000000000000000000"
)

// Signature types
const (
	SignatureTypeEOA        = 0
	SignatureTypePolyProxy  = 1
	SignatureTypeGnosisSafe = 2
)

const sideBuy uint8 = 0

// Amounts on the exchange are 6-decimal fixed point
const tokenDecimals = 6

// CTFOrder is an exchange order before signing
type CTFOrder struct {
	Salt          *big.Int
	Maker         common.Address
	Signer        common.Address
	Taker         common.Address
	TokenID       *big.Int
	MakerAmount   *big.Int
	TakerAmount   *big.Int
	Expiration    *big.Int
	Nonce         *big.Int
	FeeRateBps    *big.Int
	Side          uint8
	SignatureType uint8
}

// SignedCTFOrder is an order with its signature
type SignedCTFOrder struct {
	Order     *CTFOrder
	Signature string
}

// OrderSigner signs exchange orders for one wallet
type OrderSigner struct {
	privateKey    *ecdsa.PrivateKey
	signerAddress common.Address
	funderAddress common.Address
	exchangeAddr  common.Address
	chainID       int64
	signatureType int
}

// NewOrderSigner creates a signer. A zero funder means the signer holds funds.
func NewOrderSigner(privateKey *ecdsa.PrivateKey, funder common.Address, signatureType int) *OrderSigner {
	signer := crypto.PubkeyToAddress(privateKey.PublicKey)
	if funder == (common.Address{}) {
		funder = signer
	}
	return &OrderSigner{
		privateKey:    privateKey,
		signerAddress: signer,
		funderAddress: funder,
		exchangeAddr:  common.HexToAddress(CTFExchangeAddress),
		chainID:       PolygonChainID,
		signatureType: signatureType,
	}
}

// Address returns the signing address
func (s *OrderSigner) Address() common.Address {
	return s.signerAddress
}

// BuyOrder builds an unsigned buy of quantity shares at price.
// Shares keep 2 decimals and the USDC cost 4, both rounded down.
func (s *OrderSigner) BuyOrder(tokenID string, price, quantity decimal.Decimal) (*CTFOrder, error) {
	token, ok := new(big.Int).SetString(tokenID, 10)
	if !ok {
		return nil, fmt.Errorf("invalid token id %q", tokenID)
	}

	shares := quantity.RoundFloor(2)
	cost := shares.Mul(price).RoundFloor(4)
	if !shares.IsPositive() || !cost.IsPositive() {
		return nil, fmt.Errorf("order too small: %s @ %s", quantity, price)
	}

	salt, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return nil, fmt.Errorf("salt: %w", err)
	}

	return &CTFOrder{
		Salt:          salt,
		Maker:         s.funderAddress,
		Signer:        s.signerAddress,
		Taker:         common.HexToAddress(zeroAddress),
		TokenID:       token,
		MakerAmount:   toUnits(cost),
		TakerAmount:   toUnits(shares),
		Expiration:    big.NewInt(0),
		Nonce:         big.NewInt(0),
		FeeRateBps:    big.NewInt(0),
		Side:          sideBuy,
		SignatureType: uint8(s.signatureType),
	}, nil
}

func toUnits(d decimal.Decimal) *big.Int {
	return d.Shift(tokenDecimals).BigInt()
}

// Sign produces the EIP-712 signature for an order
func (s *OrderSigner) Sign(order *CTFOrder) (*SignedCTFOrder, error) {
	typed := s.typedData(order)

	domainSeparator, err := typed.HashStruct("EIP712Domain", typed.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("hash domain: %w", err)
	}
	messageHash, err := typed.HashStruct(typed.PrimaryType, typed.Message)
	if err != nil {
		return nil, fmt.Errorf("hash message: %w", err)
	}

	raw := make([]byte, 0, 66)
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, messageHash...)
	digest := crypto.Keccak256(raw)

	sig, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}

	return &SignedCTFOrder{Order: order, Signature: fmt.Sprintf("0x%x", sig)}, nil
}

func (s *OrderSigner) typedData(order *CTFOrder) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Order": {
				{Name: "salt", Type: "uint256"},
				{Name: "maker", Type: "address"},
				{Name: "signer", Type: "address"},
				{Name: "taker", Type: "address"},
				{Name: "tokenId", Type: "uint256"},
				{Name: "makerAmount", Type: "uint256"},
				{Name: "takerAmount", Type: "uint256"},
				{Name: "expiration", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "feeRateBps", Type: "uint256"},
				{Name: "side", Type: "uint8"},
				{Name: "signatureType", Type: "uint8"},
			},
		},
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              "Polymarket CTF Exchange",
			Version:           "1",
			ChainId:           math.NewHexOrDecimal256(s.chainID),
			VerifyingContract: s.exchangeAddr.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"salt":          order.Salt.String(),
			"maker":         order.Maker.Hex(),
			"signer":        order.Signer.Hex(),
			"taker":         order.Taker.Hex(),
			"tokenId":       order.TokenID.String(),
			"makerAmount":   order.MakerAmount.String(),
			"takerAmount":   order.TakerAmount.String(),
			"expiration":    order.Expiration.String(),
			"nonce":         order.Nonce.String(),
			"feeRateBps":    order.FeeRateBps.String(),
			"side":          fmt.Sprintf("%d", order.Side),
			"signatureType": fmt.Sprintf("%d", order.SignatureType),
		},
	}
}

// orderPayload is the POST /order body; owner is the API key
type orderPayload struct {
	Order     wireOrder `json:"order"`
	Owner     string    `json:"owner"`
	OrderType string    `json:"orderType"`
	PostOnly  bool      `json:"postOnly"`
}

type wireOrder struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          string `json:"side"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

func (o *SignedCTFOrder) payload(apiKey, orderType string) orderPayload {
	side := "BUY"
	if o.Order.Side != sideBuy {
		side = "SELL"
	}
	return orderPayload{
		Order: wireOrder{
			Salt:          o.Order.Salt.Int64(),
			Maker:         o.Order.Maker.Hex(),
			Signer:        o.Order.Signer.Hex(),
			Taker:         o.Order.Taker.Hex(),
			TokenID:       o.Order.TokenID.String(),
			MakerAmount:   o.Order.MakerAmount.String(),
			TakerAmount:   o.Order.TakerAmount.String(),
			Expiration:    o.Order.Expiration.String(),
			Nonce:         o.Order.Nonce.String(),
			FeeRateBps:    o.Order.FeeRateBps.String(),
			Side:          side,
			SignatureType: int(o.Order.SignatureType),
			Signature:     o.Signature,
		},
		Owner:     apiKey,
		OrderType: orderType,
	}
}

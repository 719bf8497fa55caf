package exec

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polymomentum/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POLYMARKET EXECUTION CLIENT
// ═══════════════════════════════════════════════════════════════════════════════
//
// Fill-and-kill buys on the CLOB. Orders are EIP-712 signed locally and the
// request carries HMAC L2 headers derived from the API secret.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	PolymarketCLOB = "https://clob.polymarket.com"

	orderTypeFAK  = "FAK"
	orderTimeout  = 5 * time.Second
	maxErrorBytes = 4 << 10
)

// ErrNoFill is returned when a FAK order matched nothing
var ErrNoFill = errors.New("order not filled")

// Executor buys outcome tokens
type Executor interface {
	Buy(ctx context.Context, tokenID string, price, quantity decimal.Decimal) (types.Fill, error)
	Mode() string
}

// Credentials are the CLOB L2 API credentials
type Credentials struct {
	APIKey     string
	Secret     string
	Passphrase string
}

// ClientConfig configures a live client
type ClientConfig struct {
	BaseURL       string
	PrivateKey    string // hex, optional 0x prefix
	FunderAddress string // proxy wallet holding funds, optional
	SignatureType int
	Creds         Credentials
	Timeout       time.Duration
}

type Client struct {
	baseURL    string
	creds      Credentials
	signer     *OrderSigner
	httpClient *http.Client
	now        func() time.Time
}

// NewClient creates a live execution client
func NewClient(cfg ClientConfig) (*Client, error) {
	pkHex := strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x")
	if pkHex == "" {
		return nil, errors.New("private key required")
	}
	pk, err := crypto.HexToECDSA(pkHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	if cfg.Creds.APIKey == "" || cfg.Creds.Secret == "" || cfg.Creds.Passphrase == "" {
		return nil, errors.New("api key, secret and passphrase required")
	}

	var funder common.Address
	if cfg.FunderAddress != "" {
		if !common.IsHexAddress(cfg.FunderAddress) {
			return nil, fmt.Errorf("invalid funder address %q", cfg.FunderAddress)
		}
		funder = common.HexToAddress(cfg.FunderAddress)
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = PolymarketCLOB
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = orderTimeout
	}

	c := &Client{
		baseURL:    baseURL,
		creds:      cfg.Creds,
		signer:     NewOrderSigner(pk, funder, cfg.SignatureType),
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}

	log.Info().
		Str("mode", c.Mode()).
		Str("address", c.signer.Address().Hex()).
		Msg("🚀 Execution client initialized")

	return c, nil
}

func (c *Client) Mode() string { return "live" }

// orderResponse is the POST /order result
type orderResponse struct {
	Success      bool   `json:"success"`
	ErrorMsg     string `json:"errorMsg"`
	OrderID      string `json:"orderID"`
	Status       string `json:"status"`
	MakingAmount string `json:"makingAmount"`
	TakingAmount string `json:"takingAmount"`
}

// Buy submits a FAK buy of quantity shares limited at price
func (c *Client) Buy(ctx context.Context, tokenID string, price, quantity decimal.Decimal) (types.Fill, error) {
	start := c.now()

	order, err := c.signer.BuyOrder(tokenID, price, quantity)
	if err != nil {
		return types.Fill{}, err
	}
	signed, err := c.signer.Sign(order)
	if err != nil {
		return types.Fill{}, fmt.Errorf("sign order: %w", err)
	}

	body, err := json.Marshal(signed.payload(c.creds.APIKey, orderTypeFAK))
	if err != nil {
		return types.Fill{}, fmt.Errorf("marshal order: %w", err)
	}

	respBody, err := c.post(ctx, "/order", body)
	if err != nil {
		return types.Fill{}, err
	}

	var resp orderResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return types.Fill{}, fmt.Errorf("parse order response: %w", err)
	}
	if !resp.Success && resp.ErrorMsg != "" {
		return types.Fill{}, fmt.Errorf("order rejected: %s", resp.ErrorMsg)
	}

	fill := types.Fill{
		OrderID:    resp.OrderID,
		FilledSize: parseAmount(resp.TakingAmount),
		FillCost:   parseAmount(resp.MakingAmount),
	}

	log.Debug().
		Str("order_id", resp.OrderID).
		Str("status", resp.Status).
		Dur("latency", time.Since(start)).
		Msg("CLOB order response")

	if !fill.FilledSize.IsPositive() {
		return fill, fmt.Errorf("%w: status=%s", ErrNoFill, resp.Status)
	}
	return fill, nil
}

func parseAmount(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ═══════════════════════════════════════════════════════════════════════════════
// HTTP HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func (c *Client) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if err := c.addHeaders(req, path, body); err != nil {
		return nil, err
	}
	return c.doRequest(req)
}

func (c *Client) addHeaders(req *http.Request, path string, body []byte) error {
	timestamp := c.now().Unix()
	signature, err := l2Signature(c.creds.Secret, timestamp, req.Method, path, body)
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("POLY_ADDRESS", c.signer.Address().Hex())
	req.Header.Set("POLY_API_KEY", c.creds.APIKey)
	req.Header.Set("POLY_PASSPHRASE", c.creds.Passphrase)
	req.Header.Set("POLY_SIGNATURE", signature)
	req.Header.Set("POLY_TIMESTAMP", strconv.FormatInt(timestamp, 10))
	return nil
}

func (c *Client) doRequest(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		if len(body) > maxErrorBytes {
			body = body[:maxErrorBytes]
		}
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// l2Signature is base64url(HMAC-SHA256(secret, timestamp+method+path+body))
func l2Signature(secret string, timestamp int64, method, path string, body []byte) (string, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return "", fmt.Errorf("decode api secret: %w", err)
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte(method))
	mac.Write([]byte(path))
	mac.Write(body)
	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}

// decodeSecret accepts base64url or standard base64, padded or not
func decodeSecret(secret string) ([]byte, error) {
	s := strings.TrimSpace(secret)
	s = strings.NewReplacer("+", "-", "/", "_").Replace(s)
	s = strings.TrimRight(s, "=")
	return base64.RawURLEncoding.DecodeString(s)
}

package feeds

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SPOT PRICE FEED - Polygon crypto trades stream
// ═══════════════════════════════════════════════════════════════════════════════

const (
	PolygonCryptoWS       = "wss://socket.polygon.io/crypto"
	PriceReconnectBackoff = 2 * time.Second

	polygonTradeEvent = "XT"
	quoteCurrency     = "USD"
)

// PriceQuote is one asset price taken from a frame
type PriceQuote struct {
	Asset string
	Price decimal.Decimal
}

// PriceSink receives parsed price frames
type PriceSink interface {
	Assets() []string
	ApplyPrices(batch []PriceQuote) int
}

type polygonEvent struct {
	Ev      string      `json:"ev"`
	Pair    string      `json:"pair"`
	Price   json.Number `json:"p"`
	Status  string      `json:"status"`
	Message string      `json:"message"`
}

// PriceFeed is the Polygon protocol for an Ingestor
type PriceFeed struct {
	baseURL string
	apiKey  string
	sink    PriceSink
}

// NewPriceFeed creates the spot protocol. An empty baseURL uses PolygonCryptoWS.
func NewPriceFeed(baseURL, apiKey string, sink PriceSink) *PriceFeed {
	if baseURL == "" {
		baseURL = PolygonCryptoWS
	}
	return &PriceFeed{baseURL: baseURL, apiKey: apiKey, sink: sink}
}

func (f *PriceFeed) Name() string { return "price" }

func (f *PriceFeed) URL() string {
	if f.apiKey == "" {
		return f.baseURL
	}
	return f.baseURL + "?apiKey=" + url.QueryEscape(f.apiKey)
}

// Subscription lists every tracked asset as an XT channel
func (f *PriceFeed) Subscription() ([]byte, error) {
	assets := f.sink.Assets()
	if len(assets) == 0 {
		return nil, errors.New("no assets to subscribe")
	}
	params := make([]string, 0, len(assets))
	for _, a := range assets {
		params = append(params, polygonTradeEvent+"."+AssetToPair(a))
	}
	return json.Marshal(map[string]string{
		"action": "subscribe",
		"params": strings.Join(params, ","),
	})
}

// HandleFrame applies every trade event in the frame as a single batch
func (f *PriceFeed) HandleFrame(data []byte) error {
	events, err := parsePolygonFrame(data)
	if err != nil {
		return err
	}

	batch := make([]PriceQuote, 0, len(events))
	for _, ev := range events {
		if ev.Ev == "status" {
			log.Debug().Str("status", ev.Status).Str("msg", ev.Message).Msg("Polygon status")
			continue
		}
		if ev.Ev != polygonTradeEvent {
			continue
		}
		asset, ok := PairToAsset(ev.Pair)
		if !ok {
			continue
		}
		price, err := decimal.NewFromString(ev.Price.String())
		if err != nil || !price.IsPositive() {
			continue
		}
		batch = append(batch, PriceQuote{Asset: asset, Price: price})
	}

	if len(batch) > 0 {
		f.sink.ApplyPrices(batch)
	}
	return nil
}

func parsePolygonFrame(data []byte) ([]polygonEvent, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, errors.New("empty frame")
	}

	if trimmed[0] == '[' {
		var events []polygonEvent
		if err := json.Unmarshal(data, &events); err != nil {
			return nil, fmt.Errorf("decode polygon frame: %w", err)
		}
		return events, nil
	}

	var ev polygonEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode polygon frame: %w", err)
	}
	return []polygonEvent{ev}, nil
}

// AssetToPair maps "BTC" to "BTC-USD"
func AssetToPair(asset string) string {
	return strings.ToUpper(asset) + "-" + quoteCurrency
}

// PairToAsset maps "BTC-USD" to "BTC"
func PairToAsset(pair string) (string, bool) {
	base, quote, ok := strings.Cut(pair, "-")
	if !ok || base == "" || !strings.EqualFold(quote, quoteCurrency) {
		return "", false
	}
	return strings.ToUpper(base), true
}

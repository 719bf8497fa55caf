package feeds

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/polymomentum/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MARKET DISCOVERY - 15-minute up/down series via Gamma
// ═══════════════════════════════════════════════════════════════════════════════
//
// series?slug=<asset>-up-or-down-15m → open events with a book → events?slug=
// Keeps the soonest-expiring live market per asset.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	GammaAPI = "https://gamma-api.polymarket.com"

	discoveryTimeout = 30 * time.Second
	eventsPerSeries  = 3
	windowLength     = 15 * time.Minute
	minTimeToExpiry  = time.Minute
	discoveryUA      = "polymomentum/1.0"
)

// ErrNoMarkets is returned when discovery finds nothing tradeable
var ErrNoMarkets = errors.New("no active markets found")

// SeriesSlugs maps assets to their 15-minute series
var SeriesSlugs = map[string]string{
	"BTC": "btc-up-or-down-15m",
	"ETH": "eth-up-or-down-15m",
	"SOL": "sol-up-or-down-15m",
	"XRP": "xrp-up-or-down-15m",
}

// Discovery resolves active markets from the Gamma API
type Discovery struct {
	host       string
	httpClient *http.Client
	now        func() time.Time
}

// NewDiscovery creates a discovery client. An empty host uses GammaAPI.
func NewDiscovery(host string) *Discovery {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if host == "" {
		host = GammaAPI
	}
	return &Discovery{
		host:       host,
		httpClient: &http.Client{Timeout: discoveryTimeout},
		now:        time.Now,
	}
}

// SetClock overrides the wall clock used for expiry filtering
func (d *Discovery) SetClock(now func() time.Time) {
	d.now = now
}

// clobTokenIDs accepts a JSON array or a string holding one
type clobTokenIDs []string

func (c *clobTokenIDs) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*c = nil
		return nil
	}

	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*c = nil
			return nil
		}
		b = []byte(s)
	}

	var ids []string
	if err := json.Unmarshal(b, &ids); err != nil {
		return err
	}
	*c = ids
	return nil
}

type gammaSeries struct {
	Events []gammaSeriesEvent `json:"events"`
}

type gammaSeriesEvent struct {
	Slug            string `json:"slug"`
	Closed          bool   `json:"closed"`
	EnableOrderBook bool   `json:"enableOrderBook"`
}

type gammaEvent struct {
	Slug    string        `json:"slug"`
	Markets []gammaMarket `json:"markets"`
}

type gammaMarket struct {
	ConditionID    string       `json:"conditionId"`
	Question       string       `json:"question"`
	ClobTokenIDs   clobTokenIDs `json:"clobTokenIds"`
	EndDate        string       `json:"endDate"`
	EventStartTime string       `json:"eventStartTime"`
}

// Discover returns the soonest live market for each asset.
// An empty filter checks every known series.
func (d *Discovery) Discover(ctx context.Context, assetFilter string) ([]types.Market, error) {
	assets, err := seriesFor(assetFilter)
	if err != nil {
		return nil, err
	}

	best := make(map[string]types.Market)
	for _, asset := range assets {
		found, err := d.discoverAsset(ctx, asset)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn().Err(err).Str("asset", asset).Msg("Series lookup failed")
			continue
		}
		for _, m := range found {
			cur, ok := best[m.Asset]
			if !ok || m.Expiry.Before(cur.Expiry) {
				best[m.Asset] = m
			}
		}
	}

	if len(best) == 0 {
		return nil, ErrNoMarkets
	}

	out := make([]types.Market, 0, len(best))
	for _, m := range best {
		out = append(out, m)
		log.Info().
			Str("asset", m.Asset).
			Str("market", m.Description).
			Dur("expires_in", m.Expiry.Sub(d.now()).Round(time.Second)).
			Msg("🎯 Market discovered")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

func seriesFor(filter string) ([]string, error) {
	filter = strings.ToUpper(strings.TrimSpace(filter))
	if filter != "" {
		if _, ok := SeriesSlugs[filter]; !ok {
			return nil, fmt.Errorf("unknown asset %q", filter)
		}
		return []string{filter}, nil
	}

	assets := make([]string, 0, len(SeriesSlugs))
	for a := range SeriesSlugs {
		assets = append(assets, a)
	}
	sort.Strings(assets)
	return assets, nil
}

// discoverAsset walks one series into its candidate markets
func (d *Discovery) discoverAsset(ctx context.Context, asset string) ([]types.Market, error) {
	var series []gammaSeries
	if err := d.getJSON(ctx, "/series", SeriesSlugs[asset], &series); err != nil {
		return nil, err
	}
	if len(series) == 0 {
		return nil, nil
	}

	var slugs []string
	for _, ev := range series[0].Events {
		if ev.Closed || !ev.EnableOrderBook || ev.Slug == "" {
			continue
		}
		slugs = append(slugs, ev.Slug)
		if len(slugs) == eventsPerSeries {
			break
		}
	}

	var markets []types.Market
	for _, slug := range slugs {
		var events []gammaEvent
		if err := d.getJSON(ctx, "/events", slug, &events); err != nil {
			log.Debug().Err(err).Str("event", slug).Msg("Event lookup failed")
			continue
		}
		if len(events) == 0 {
			continue
		}
		for _, gm := range events[0].Markets {
			m, ok := d.toMarket(asset, slug, gm)
			if ok {
				markets = append(markets, m)
			}
		}
	}
	return markets, nil
}

// toMarket converts a Gamma market, dropping unusable or expiring ones
func (d *Discovery) toMarket(asset, eventSlug string, gm gammaMarket) (types.Market, bool) {
	if gm.ConditionID == "" || len(gm.ClobTokenIDs) < 2 {
		return types.Market{}, false
	}

	expiry, err := time.Parse(time.RFC3339, gm.EndDate)
	if err != nil {
		return types.Market{}, false
	}
	if expiry.Sub(d.now()) < minTimeToExpiry {
		return types.Market{}, false
	}

	start := expiry.Add(-windowLength)
	if gm.EventStartTime != "" {
		if t, err := time.Parse(time.RFC3339, gm.EventStartTime); err == nil {
			start = t
		}
	}

	question := gm.Question
	if question == "" {
		question = eventSlug
	}

	return types.Market{
		ID:          gm.ConditionID,
		Description: question,
		YesToken:    gm.ClobTokenIDs[0],
		NoToken:     gm.ClobTokenIDs[1],
		Asset:       asset,
		Expiry:      expiry,
		WindowStart: start,
	}, true
}

func (d *Discovery) getJSON(ctx context.Context, path, slug string, out any) error {
	q := url.Values{}
	q.Set("slug", slug)
	endpoint := d.host + path + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", discoveryUA)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gamma request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("gamma %s: status=%d body=%q", path, resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("gamma decode %s: %w", path, err)
	}
	return nil
}

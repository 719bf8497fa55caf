package feeds

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CLOB BOOK FEED - Polymarket market channel
// ═══════════════════════════════════════════════════════════════════════════════

const (
	PolymarketMarketWS   = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
	BookReconnectBackoff = 3 * time.Second
	BookPingInterval     = 30 * time.Second
)

// BookSink receives parsed book frames
type BookSink interface {
	TokenIDs() []string
	ApplyBooks(batch []TopOfBook) int
}

// BookFeed is the Polymarket market-channel protocol for an Ingestor
type BookFeed struct {
	url  string
	sink BookSink
}

// NewBookFeed creates the book protocol. An empty url uses PolymarketMarketWS.
func NewBookFeed(url string, sink BookSink) *BookFeed {
	if url == "" {
		url = PolymarketMarketWS
	}
	return &BookFeed{url: url, sink: sink}
}

func (f *BookFeed) Name() string { return "book" }

func (f *BookFeed) URL() string { return f.url }

// Subscription requests every token of every tracked market
func (f *BookFeed) Subscription() ([]byte, error) {
	tokens := f.sink.TokenIDs()
	if len(tokens) == 0 {
		return nil, errors.New("no tokens to subscribe")
	}
	return json.Marshal(struct {
		AssetsIDs []string `json:"assets_ids"`
		Type      string   `json:"type"`
	}{AssetsIDs: tokens, Type: "market"})
}

// HandleFrame applies all book snapshots in the frame as a single batch
func (f *BookFeed) HandleFrame(data []byte) error {
	snaps, err := ParseBookFrame(data)
	if err != nil {
		return err
	}

	batch := make([]TopOfBook, 0, len(snaps))
	for i := range snaps {
		if !snaps[i].IsBook() {
			continue
		}
		batch = append(batch, snaps[i].Top())
	}
	if len(batch) > 0 {
		f.sink.ApplyBooks(batch)
	}
	return nil
}

// ParseBookFrame decodes an array of snapshots or a single snapshot object.
// Keepalive text frames decode to nothing.
func ParseBookFrame(data []byte) ([]BookSnapshot, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("empty frame")
	}

	switch trimmed[0] {
	case '[':
		var snaps []BookSnapshot
		if err := json.Unmarshal(trimmed, &snaps); err != nil {
			return nil, fmt.Errorf("decode book frame: %w", err)
		}
		return snaps, nil
	case '{':
		var snap BookSnapshot
		if err := json.Unmarshal(trimmed, &snap); err != nil {
			return nil, fmt.Errorf("decode book frame: %w", err)
		}
		return []BookSnapshot{snap}, nil
	}

	if bytes.EqualFold(trimmed, []byte("pong")) {
		return nil, nil
	}
	return nil, fmt.Errorf("unexpected book frame %q", truncate(trimmed, 32))
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}

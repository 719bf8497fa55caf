package feeds

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/polymomentum/metrics"
)

// ═══════════════════════════════════════════════════════════════════════════════
// FEED INGESTOR - Reconnecting websocket consumer
// ═══════════════════════════════════════════════════════════════════════════════
//
//   Disconnected → Connecting → Subscribed → Streaming → Disconnected
//
// Connect failures retry after ConnectBackoff forever. A dropped stream waits
// ReconnectBackoff and re-subscribes from a fresh snapshot of the full list.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	defaultConnectBackoff = 5 * time.Second
	defaultWriteTimeout   = 5 * time.Second
	handshakeTimeout      = 10 * time.Second
)

// ConnState is the ingestor lifecycle state
type ConnState int32

const (
	Disconnected ConnState = iota
	Connecting
	Subscribed
	Streaming
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	case Streaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// Conn is the subset of *websocket.Conn the ingestor uses
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetPingHandler(h func(appData string) error)
	Close() error
}

// Dialer opens a stream connection
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
}

// Dial implements Dialer
func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = handshakeTimeout
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

// Protocol is the feed-specific half of an ingestor
type Protocol interface {
	// Name labels logs and metrics
	Name() string
	// URL is dialed on every connect attempt
	URL() string
	// Subscription is built fresh for every session
	Subscription() ([]byte, error)
	// HandleFrame parses one frame and applies it; an error skips the frame
	HandleFrame(data []byte) error
}

// IngestorConfig holds backoff and keepalive timings
type IngestorConfig struct {
	ConnectBackoff   time.Duration // wait after a failed dial
	ReconnectBackoff time.Duration // wait after a dropped stream
	PingInterval     time.Duration // client keepalive, 0 disables
	WriteTimeout     time.Duration
}

// Ingestor drives one Protocol over a reconnecting connection
type Ingestor struct {
	proto  Protocol
	dialer Dialer
	cfg    IngestorConfig

	state    atomic.Int32
	sessions atomic.Int64

	mu       sync.RWMutex
	onState  func(ConnState)
	waitFunc func(ctx context.Context, d time.Duration) bool
}

// NewIngestor creates an ingestor. A nil dialer uses WebsocketDialer.
func NewIngestor(proto Protocol, dialer Dialer, cfg IngestorConfig) *Ingestor {
	if dialer == nil {
		dialer = WebsocketDialer{}
	}
	if cfg.ConnectBackoff <= 0 {
		cfg.ConnectBackoff = defaultConnectBackoff
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = 2 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	return &Ingestor{
		proto:    proto,
		dialer:   dialer,
		cfg:      cfg,
		waitFunc: sleepCtx,
	}
}

// OnStateChange registers a transition observer
func (in *Ingestor) OnStateChange(fn func(ConnState)) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.onState = fn
}

// SetWait replaces the backoff sleeper
func (in *Ingestor) SetWait(fn func(ctx context.Context, d time.Duration) bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.waitFunc = fn
}

// State returns the current lifecycle state
func (in *Ingestor) State() ConnState {
	return ConnState(in.state.Load())
}

// Sessions returns how many subscriptions were sent
func (in *Ingestor) Sessions() int64 {
	return in.sessions.Load()
}

func (in *Ingestor) setState(s ConnState) {
	in.state.Store(int32(s))
	metrics.FeedState.WithLabelValues(in.proto.Name()).Set(float64(s))

	in.mu.RLock()
	fn := in.onState
	in.mu.RUnlock()
	if fn != nil {
		fn(s)
	}
}

func (in *Ingestor) wait(ctx context.Context, d time.Duration) bool {
	in.mu.RLock()
	fn := in.waitFunc
	in.mu.RUnlock()
	return fn(ctx, d)
}

// Run connects, streams and reconnects until ctx is cancelled
func (in *Ingestor) Run(ctx context.Context) {
	name := in.proto.Name()
	defer in.setState(Disconnected)

	for {
		if ctx.Err() != nil {
			return
		}

		in.setState(Connecting)
		log.Info().Str("feed", name).Msg("🔌 Connecting...")

		conn, err := in.dialer.Dial(ctx, in.proto.URL())
		if err != nil {
			in.setState(Disconnected)
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Str("feed", name).Dur("retry_in", in.cfg.ConnectBackoff).Msg("Connect failed")
			metrics.FeedReconnects.WithLabelValues(name, "connect_failed").Inc()
			if !in.wait(ctx, in.cfg.ConnectBackoff) {
				return
			}
			continue
		}

		err = in.session(ctx, conn)
		_ = conn.Close()
		in.setState(Disconnected)

		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Str("feed", name).Dur("retry_in", in.cfg.ReconnectBackoff).Msg("Disconnected, reconnecting")
		metrics.FeedReconnects.WithLabelValues(name, "stream_closed").Inc()
		if !in.wait(ctx, in.cfg.ReconnectBackoff) {
			return
		}
	}
}

// session subscribes and streams until the connection fails
func (in *Ingestor) session(ctx context.Context, conn Conn) error {
	name := in.proto.Name()
	in.setState(Subscribed)

	sub, err := in.proto.Subscription()
	if err != nil {
		return fmt.Errorf("%s subscription: %w", name, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
		return fmt.Errorf("%s subscribe write: %w", name, err)
	}
	in.sessions.Add(1)
	log.Info().Str("feed", name).Msg("📡 Subscribed")

	conn.SetPingHandler(func(appData string) error {
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(in.cfg.WriteTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	stop := make(chan struct{})
	defer close(stop)

	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	if in.cfg.PingInterval > 0 {
		go in.pingLoop(conn, stop)
	}

	in.setState(Streaming)

	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%s read: %w", name, err)
		}
		if typ != websocket.TextMessage && typ != websocket.BinaryMessage {
			continue
		}
		if err := in.proto.HandleFrame(data); err != nil {
			metrics.FramesSkipped.WithLabelValues(name).Inc()
			log.Debug().Err(err).Str("feed", name).Msg("Frame skipped")
		}
	}
}

// pingLoop sends periodic pings to keep the connection alive
func (in *Ingestor) pingLoop(conn Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(in.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(in.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Warn().Err(err).Str("feed", in.proto.Name()).Msg("Ping failed")
				_ = conn.Close()
				return
			}
		}
	}
}

// sleepCtx waits d or until ctx ends; false means ctx ended
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

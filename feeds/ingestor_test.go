package feeds

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type controlWrite struct {
	typ  int
	data string
}

type fakeConn struct {
	frames     chan []byte
	closed     chan struct{}
	closeOnce  sync.Once
	subscribed chan struct{}

	mu       sync.Mutex
	writes   []string
	controls []controlWrite
	onPing   func(string) error
}

func newFakeConn(frames ...string) *fakeConn {
	c := &fakeConn{
		frames:     make(chan []byte, len(frames)+1),
		closed:     make(chan struct{}),
		subscribed: make(chan struct{}, 1),
	}
	for _, f := range frames {
		c.frames <- []byte(f)
	}
	return c
}

// drop ends the stream after any queued frames
func (c *fakeConn) drop() { close(c.frames) }

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case f, ok := <-c.frames:
		if !ok {
			return 0, nil, io.EOF
		}
		return websocket.TextMessage, f, nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	c.writes = append(c.writes, string(data))
	c.mu.Unlock()
	select {
	case c.subscribed <- struct{}{}:
	default:
	}
	return nil
}

func (c *fakeConn) WriteControl(typ int, data []byte, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controls = append(c.controls, controlWrite{typ: typ, data: string(data)})
	return nil
}

func (c *fakeConn) SetPingHandler(h func(string) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPing = h
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) Writes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.writes...)
}

// fakeDialer replays a script of results, then blocks until ctx ends
type fakeDialer struct {
	mu     sync.Mutex
	script []any // Conn or error
	dials  int
}

func (d *fakeDialer) Dial(ctx context.Context, _ string) (Conn, error) {
	d.mu.Lock()
	d.dials++
	if len(d.script) == 0 {
		d.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	next := d.script[0]
	d.script = d.script[1:]
	d.mu.Unlock()

	if err, ok := next.(error); ok {
		return nil, err
	}
	return next.(Conn), nil
}

type fakeProtocol struct {
	mu     sync.Mutex
	tokens []string
	frames []string
}

func (p *fakeProtocol) Name() string { return "test" }
func (p *fakeProtocol) URL() string  { return "wss://example.test" }

func (p *fakeProtocol) Subscription() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.tokens) == 0 {
		return nil, errors.New("nothing to subscribe")
	}
	return []byte(strings.Join(p.tokens, ",")), nil
}

func (p *fakeProtocol) HandleFrame(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if string(data) == "bad" {
		return errors.New("bad frame")
	}
	p.frames = append(p.frames, string(data))
	return nil
}

func (p *fakeProtocol) setTokens(tokens ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens = tokens
}

func (p *fakeProtocol) Frames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.frames...)
}

type stateRecorder struct {
	mu     sync.Mutex
	states []ConnState
}

func (r *stateRecorder) record(s ConnState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) States() []ConnState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ConnState(nil), r.states...)
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestIngestorReconnectCycle(t *testing.T) {
	proto := &fakeProtocol{tokens: []string{"a", "b"}}

	conn1 := newFakeConn("frame-1", "bad", "frame-2")
	conn1.drop()
	conn2 := newFakeConn()
	dialer := &fakeDialer{script: []any{errors.New("connection refused"), conn1, conn2}}

	in := NewIngestor(proto, dialer, IngestorConfig{
		ConnectBackoff:   5 * time.Second,
		ReconnectBackoff: 2 * time.Second,
	})

	rec := &stateRecorder{}
	in.OnStateChange(rec.record)

	var (
		waitMu sync.Mutex
		waits  []time.Duration
	)
	in.SetWait(func(ctx context.Context, d time.Duration) bool {
		waitMu.Lock()
		waits = append(waits, d)
		waitMu.Unlock()
		if d == 2*time.Second {
			// market rolled over while disconnected
			proto.setTokens("a", "b", "c")
		}
		return ctx.Err() == nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		in.Run(ctx)
		close(done)
	}()

	waitFor(t, conn2.subscribed, "second subscription")
	cancel()
	waitFor(t, done, "Run to return")

	waitMu.Lock()
	gotWaits := append([]time.Duration(nil), waits...)
	waitMu.Unlock()
	if len(gotWaits) != 2 || gotWaits[0] != 5*time.Second || gotWaits[1] != 2*time.Second {
		t.Fatalf("backoffs got=%v want=[5s 2s]", gotWaits)
	}

	if w := conn1.Writes(); len(w) != 1 || w[0] != "a,b" {
		t.Fatalf("first subscription got=%v", w)
	}
	if w := conn2.Writes(); len(w) != 1 || w[0] != "a,b,c" {
		t.Fatalf("re-subscription must use the current list, got=%v", w)
	}

	if frames := proto.Frames(); len(frames) != 2 || frames[0] != "frame-1" || frames[1] != "frame-2" {
		t.Fatalf("bad frame must be skipped without dropping the session, got=%v", frames)
	}

	if in.Sessions() != 2 {
		t.Fatalf("sessions got=%d want=2", in.Sessions())
	}
	if in.State() != Disconnected {
		t.Fatalf("final state got=%s want=disconnected", in.State())
	}

	want := []ConnState{
		Connecting, Disconnected,
		Connecting, Subscribed, Streaming, Disconnected,
		Connecting, Subscribed, Streaming, Disconnected,
	}
	got := rec.States()
	if len(got) < len(want) {
		t.Fatalf("transitions got=%v want prefix %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transition %d got=%s want=%s (all=%v)", i, got[i], want[i], got)
		}
	}
}

func TestIngestorSubscriptionFailureReconnects(t *testing.T) {
	proto := &fakeProtocol{}
	conn1 := newFakeConn()
	conn2 := newFakeConn()
	dialer := &fakeDialer{script: []any{conn1, conn2}}

	in := NewIngestor(proto, dialer, IngestorConfig{ReconnectBackoff: 3 * time.Second})
	rec := &stateRecorder{}
	in.OnStateChange(rec.record)

	var waits []time.Duration
	in.SetWait(func(ctx context.Context, d time.Duration) bool {
		waits = append(waits, d)
		proto.setTokens("x")
		return ctx.Err() == nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		in.Run(ctx)
		close(done)
	}()

	waitFor(t, conn2.subscribed, "subscription after retry")
	cancel()
	waitFor(t, done, "Run to return")

	if len(waits) != 1 || waits[0] != 3*time.Second {
		t.Fatalf("backoffs got=%v want=[3s]", waits)
	}
	if len(conn1.Writes()) != 0 {
		t.Fatalf("nothing must be written without a subscription")
	}
	if len(rec.States()) < 3 || rec.States()[1] != Subscribed || rec.States()[2] != Disconnected {
		t.Fatalf("failed subscription transitions got=%v", rec.States())
	}
	if in.Sessions() != 1 {
		t.Fatalf("sessions got=%d want=1", in.Sessions())
	}
}

func TestIngestorSubscribesAfterEnteringSubscribed(t *testing.T) {
	proto := &fakeProtocol{tokens: []string{"a"}}
	conn := newFakeConn()
	dialer := &fakeDialer{script: []any{conn}}

	in := NewIngestor(proto, dialer, IngestorConfig{})

	var mu sync.Mutex
	writesOnSub := -1
	in.OnStateChange(func(s ConnState) {
		if s == Subscribed {
			mu.Lock()
			writesOnSub = len(conn.Writes())
			mu.Unlock()
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		in.Run(ctx)
		close(done)
	}()
	waitFor(t, conn.subscribed, "subscription")
	stateAtWrite := in.State()
	cancel()
	waitFor(t, done, "Run to return")

	mu.Lock()
	defer mu.Unlock()
	if writesOnSub != 0 {
		t.Fatalf("writes before subscribed got=%d want=0", writesOnSub)
	}
	if stateAtWrite != Subscribed && stateAtWrite != Streaming {
		t.Fatalf("state after subscription write got=%s", stateAtWrite)
	}
	if w := conn.Writes(); len(w) != 1 || w[0] != "a" {
		t.Fatalf("subscription got=%v", w)
	}
}

func TestIngestorAnswersPing(t *testing.T) {
	proto := &fakeProtocol{tokens: []string{"a"}}
	conn := newFakeConn()
	dialer := &fakeDialer{script: []any{conn}}

	in := NewIngestor(proto, dialer, IngestorConfig{})
	streaming := make(chan struct{}, 1)
	in.OnStateChange(func(s ConnState) {
		if s == Streaming {
			streaming <- struct{}{}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		in.Run(ctx)
		close(done)
	}()
	waitFor(t, streaming, "streaming")

	conn.mu.Lock()
	handler := conn.onPing
	conn.mu.Unlock()
	if handler == nil {
		t.Fatalf("ping handler not installed")
	}
	if err := handler("keepalive"); err != nil {
		t.Fatalf("ping handler: %v", err)
	}

	conn.mu.Lock()
	controls := append([]controlWrite(nil), conn.controls...)
	conn.mu.Unlock()
	if len(controls) != 1 || controls[0].typ != websocket.PongMessage || controls[0].data != "keepalive" {
		t.Fatalf("pong got=%+v", controls)
	}

	cancel()
	waitFor(t, done, "Run to return")
}

func TestIngestorStopsDuringConnectBackoff(t *testing.T) {
	proto := &fakeProtocol{tokens: []string{"a"}}
	dialer := &fakeDialer{script: []any{errors.New("refused")}}

	in := NewIngestor(proto, dialer, IngestorConfig{ConnectBackoff: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		in.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	waitFor(t, done, "Run to return")

	if in.State() != Disconnected {
		t.Fatalf("state got=%s want=disconnected", in.State())
	}
}

func TestConnStateString(t *testing.T) {
	for s, want := range map[ConnState]string{
		Disconnected: "disconnected",
		Connecting:   "connecting",
		Subscribed:   "subscribed",
		Streaming:    "streaming",
		ConnState(9): "unknown",
	} {
		if s.String() != want {
			t.Fatalf("got=%s want=%s", s, want)
		}
	}
}

package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const (
	testInterval = 5 * time.Millisecond
	eventually   = time.Second
)

type pipeConn struct {
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	ackOK     bool
	// dropOnAck closes the pipe right after queueing the shutdown ack, before
	// WriteMessage returns.
	dropOnAck bool

	mu      sync.Mutex
	written []Request
}

func newPipeConn(ackShutdown bool) *pipeConn {
	return &pipeConn{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
		ackOK:   ackShutdown,
	}
}

func (p *pipeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-p.inbound:
		return data, nil
	default:
	}
	select {
	case data := <-p.inbound:
		return data, nil
	case <-p.closed:
		return nil, io.EOF
	}
}

func (p *pipeConn) WriteMessage(data []byte) error {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return err
	}
	p.mu.Lock()
	p.written = append(p.written, req)
	p.mu.Unlock()

	if req.Method == MethodShutdown && p.ackOK {
		p.inbound <- []byte(`{"jsonrpc":"2.0","id":"shutdown","result":"OK"}`)
		if p.dropOnAck {
			_ = p.Close()
			time.Sleep(50 * time.Millisecond)
		}
	}
	return nil
}

func (p *pipeConn) CloseHandshake() error {
	return p.Close()
}

func (p *pipeConn) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

func (p *pipeConn) methods() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.written))
	for _, req := range p.written {
		out = append(out, req.Method)
	}
	return out
}

type recordingHandler struct {
	mu       sync.Mutex
	messages []Message
	failures []error
}

func (h *recordingHandler) HandleMessage(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
}

func (h *recordingHandler) HandleFailure(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = append(h.failures, err)
}

func (h *recordingHandler) counts() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages), len(h.failures)
}

func (h *recordingHandler) lastFailure() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.failures) == 0 {
		return nil
	}
	return h.failures[len(h.failures)-1]
}

func staticDialer(conn Conn) Dialer {
	return func(context.Context) (Conn, error) {
		return conn, nil
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(eventually)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(testInterval)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func connectedClient(t *testing.T, conn *pipeConn) *Client {
	t.Helper()
	c := NewClient(staticDialer(conn), ClientOptions{Attempts: 20, Interval: testInterval})
	if err := c.Connect(context.Background(), nil); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return c
}

func TestConnectAppliesGlobalOptions(t *testing.T) {
	conn := newPipeConn(true)
	c := NewClient(staticDialer(conn), ClientOptions{Attempts: 20, Interval: testInterval})

	if err := c.Connect(context.Background(), Options{"max-concurrent-downloads": "4"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if c.State() != StateOpen {
		t.Fatalf("expected open state, got %s", c.State())
	}
	if got := conn.methods(); !equalStrings(got, []string{MethodChangeGlobalOption}) {
		t.Fatalf("unexpected requests: %v", got)
	}
}

func TestConnectWithoutOptionsSendsNothing(t *testing.T) {
	conn := newPipeConn(true)
	connectedClient(t, conn)
	if got := conn.methods(); len(got) != 0 {
		t.Fatalf("expected no requests, got %v", got)
	}
}

func TestConnectRetriesDial(t *testing.T) {
	conn := newPipeConn(true)
	var dials atomic.Int32
	c := NewClient(func(context.Context) (Conn, error) {
		if dials.Add(1) < 3 {
			return nil, errors.New("connection refused")
		}
		return conn, nil
	}, ClientOptions{Attempts: 50, Interval: testInterval})

	if err := c.Connect(context.Background(), nil); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if got := dials.Load(); got != 3 {
		t.Fatalf("expected 3 dials, got %d", got)
	}
}

func TestConnectTimesOut(t *testing.T) {
	c := NewClient(func(context.Context) (Conn, error) {
		return nil, errors.New("connection refused")
	}, ClientOptions{Attempts: 3, Interval: testInterval})

	if err := c.Connect(context.Background(), nil); !errors.Is(err, ErrConnectionTimeout) {
		t.Fatalf("expected ErrConnectionTimeout, got %v", err)
	}
	if c.State() != StateClosed {
		t.Fatalf("expected closed state, got %s", c.State())
	}
	if err := c.Connect(context.Background(), nil); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen on reconnect, got %v", err)
	}
}

func TestConnectCancelledStopsDialing(t *testing.T) {
	var dials atomic.Int32
	c := NewClient(func(context.Context) (Conn, error) {
		dials.Add(1)
		return nil, errors.New("connection refused")
	}, ClientOptions{Attempts: 1000, Interval: testInterval})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := c.Connect(ctx, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
	if c.State() != StateClosed {
		t.Fatalf("expected closed state after cancellation, got %s", c.State())
	}

	// Let any attempt already in flight finish before sampling.
	time.Sleep(4 * testInterval)
	settled := dials.Load()
	time.Sleep(20 * testInterval)
	if got := dials.Load(); got != settled {
		t.Fatalf("dialing continued after cancellation: %d -> %d attempts", settled, got)
	}
}

func TestSendRequiresOpenConnection(t *testing.T) {
	c := NewClient(staticDialer(newPipeConn(true)), ClientOptions{})
	if err := c.Send(GetGlobalStat(IDSpeed)); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen, got %v", err)
	}
}

func TestShutdownWaitsForAckAndClose(t *testing.T) {
	conn := newPipeConn(true)
	c := connectedClient(t, conn)

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if c.State() != StateClosed {
		t.Fatalf("expected closed state, got %s", c.State())
	}
	if got := conn.methods(); !equalStrings(got, []string{MethodShutdown}) {
		t.Fatalf("unexpected requests: %v", got)
	}
	if err := c.Send(GetGlobalStat(IDSpeed)); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen after shutdown, got %v", err)
	}
}

func TestShutdownSucceedsWhenDaemonClosesBeforeWriteReturns(t *testing.T) {
	conn := newPipeConn(true)
	conn.dropOnAck = true
	c := connectedClient(t, conn)

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if c.State() != StateClosed {
		t.Fatalf("expected closed state, got %s", c.State())
	}
}

func TestShutdownTimesOutWithoutAck(t *testing.T) {
	conn := newPipeConn(false)
	c := NewClient(staticDialer(conn), ClientOptions{Attempts: 3, Interval: testInterval})
	if err := c.Connect(context.Background(), nil); err != nil {
		t.Fatalf("connect: %v", err)
	}

	if err := c.Shutdown(context.Background()); !errors.Is(err, ErrShutdownTimeout) {
		t.Fatalf("expected ErrShutdownTimeout, got %v", err)
	}
	if c.State() != StateClosed {
		t.Fatalf("expected closed state, got %s", c.State())
	}
}

func TestShutdownRequiresOpenConnection(t *testing.T) {
	c := NewClient(staticDialer(newPipeConn(true)), ClientOptions{})
	if err := c.Shutdown(context.Background()); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen, got %v", err)
	}
}

func TestInstallAllowsOneHandler(t *testing.T) {
	c := NewClient(staticDialer(newPipeConn(true)), ClientOptions{})
	first := &recordingHandler{}
	second := &recordingHandler{}

	if err := c.Install(first); err != nil {
		t.Fatalf("install first: %v", err)
	}
	if err := c.Install(second); !errors.Is(err, ErrBatchInFlight) {
		t.Fatalf("expected ErrBatchInFlight, got %v", err)
	}

	c.Uninstall(second)
	if err := c.Install(second); !errors.Is(err, ErrBatchInFlight) {
		t.Fatalf("uninstalling a foreign handler must be a no-op, got %v", err)
	}

	c.Uninstall(first)
	if err := c.Install(second); err != nil {
		t.Fatalf("install after uninstall: %v", err)
	}
}

func TestReadLoopDeliversToHandler(t *testing.T) {
	conn := newPipeConn(true)
	c := connectedClient(t, conn)
	defer c.Close()
	h := &recordingHandler{}
	if err := c.Install(h); err != nil {
		t.Fatalf("install: %v", err)
	}

	conn.inbound <- []byte(`{"jsonrpc":"2.0","method":"aria2.onDownloadComplete","params":[{"gid":"a"}]}`)
	conn.inbound <- []byte(`not json`)

	waitFor(t, "message and failure", func() bool {
		messages, failures := h.counts()
		return messages == 1 && failures == 1
	})

	var protoErr *ProtocolError
	if !errors.As(h.lastFailure(), &protoErr) {
		t.Fatalf("expected ProtocolError, got %v", h.lastFailure())
	}
}

func TestUnexpectedCloseFailsHandler(t *testing.T) {
	conn := newPipeConn(true)
	c := connectedClient(t, conn)
	h := &recordingHandler{}
	if err := c.Install(h); err != nil {
		t.Fatalf("install: %v", err)
	}

	_ = conn.Close()

	waitFor(t, "connection closed failure", func() bool {
		return errors.Is(h.lastFailure(), ErrConnectionClosed)
	})
	if c.State() != StateClosed {
		t.Fatalf("expected closed state, got %s", c.State())
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateConnecting: "connecting",
		StateOpen:       "open",
		StateClosing:    "closing",
		StateClosed:     "closed",
		State(9):        "state(9)",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Fatalf("State(%d).String() = %q, want %q", int(state), got, want)
		}
	}
}

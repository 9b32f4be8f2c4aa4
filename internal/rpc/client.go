package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jaa/ariadl/internal/output"
)

type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const (
	DefaultAttempts = 10
	DefaultInterval = time.Second
)

var (
	ErrConnectionTimeout = errors.New("timed out waiting for download daemon connection")
	ErrShutdownTimeout   = errors.New("timed out waiting for download daemon shutdown")
	ErrNotOpen           = errors.New("connection is not open")
	ErrConnectionClosed  = errors.New("connection closed by daemon")
	ErrBatchInFlight     = errors.New("another batch is already in flight")

	errWaitExceeded = errors.New("wait bound exceeded")
)

// Handler receives inbound traffic from the read loop. Calls are serialized:
// one message is fully handled before the next is delivered.
type Handler interface {
	HandleMessage(msg Message)
	HandleFailure(err error)
}

// Conn is a message-oriented duplex transport.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	// CloseHandshake starts an orderly close; ReadMessage keeps delivering
	// frames until the peer completes it.
	CloseHandshake() error
	Close() error
}

type Dialer func(ctx context.Context) (Conn, error)

type ClientOptions struct {
	Attempts int
	Interval time.Duration
	// Secret is the daemon's --rpc-secret; every request is authorised with
	// it when set.
	Secret string
	Logger *output.Logger
}

type Client struct {
	dial     Dialer
	attempts int
	interval time.Duration
	secret   string
	logger   *output.Logger

	mu          sync.Mutex
	state       State
	conn        Conn
	handler     Handler
	shutdownAck bool
	changed     chan struct{}
	dialing     bool
	cancelDial  context.CancelFunc

	writeMu sync.Mutex
}

func NewClient(dial Dialer, opts ClientOptions) *Client {
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	return &Client{
		dial:     dial,
		attempts: opts.Attempts,
		interval: opts.Interval,
		secret:   opts.Secret,
		logger:   opts.Logger,
		state:    StateConnecting,
		changed:  make(chan struct{}),
	}
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect must be called before any other operation. It waits for the
// connection to open, checking once per interval for at most the configured
// number of attempts, then applies options via aria2.changeGlobalOption
// without waiting for an acknowledgment.
func (c *Client) Connect(ctx context.Context, options Options) error {
	c.mu.Lock()
	if c.state == StateClosing || c.state == StateClosed {
		c.mu.Unlock()
		return fmt.Errorf("connect: %w", ErrNotOpen)
	}
	if !c.dialing && c.state == StateConnecting {
		dialCtx, cancel := context.WithCancel(context.Background())
		c.dialing = true
		c.cancelDial = cancel
		go c.dialLoop(dialCtx)
	}
	c.mu.Unlock()

	err := c.waitUntil(ctx, "connect", func() bool { return c.state == StateOpen })
	if err != nil {
		if errors.Is(err, errWaitExceeded) {
			c.Close()
			return ErrConnectionTimeout
		}
		c.Close()
		return err
	}
	c.logger.Event(output.LevelInfo, output.EventDaemonConnected, "connected to download daemon", nil)

	if len(options) > 0 {
		c.logger.Info("applying %d global option(s)", len(options))
		if err := c.Send(ChangeGlobalOption(options, "")); err != nil {
			return fmt.Errorf("apply global options: %w", err)
		}
	}
	return nil
}

// Shutdown asks the daemon to exit and closes the transport. It succeeds only
// once the transport is closed and the daemon has answered "OK".
func (c *Client) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateOpen {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("shutdown while %s: %w", state, ErrNotOpen)
	}
	conn := c.conn
	// The daemon may ack and drop the transport before the write returns.
	c.setStateLocked(StateClosing)
	if c.cancelDial != nil {
		c.cancelDial()
	}
	c.mu.Unlock()

	if err := c.write(conn, Shutdown(IDShutdown)); err != nil {
		c.Close()
		return fmt.Errorf("send shutdown: %w", err)
	}

	if err := conn.CloseHandshake(); err != nil {
		c.logger.Debug("close handshake failed, dropping transport: %v", err)
		_ = conn.Close()
	}

	err := c.waitUntil(ctx, "shutdown", func() bool { return c.state == StateClosed && c.shutdownAck })
	if err != nil {
		c.Close()
		if errors.Is(err, errWaitExceeded) {
			return ErrShutdownTimeout
		}
		return err
	}
	return nil
}

// Close drops the transport without the shutdown handshake.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelDial != nil {
		c.cancelDial()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	if c.state != StateClosed {
		c.setStateLocked(StateClosed)
	}
}

// Send writes req. Only permitted while the connection is open.
func (c *Client) Send(req Request) error {
	c.mu.Lock()
	state, conn := c.state, c.conn
	c.mu.Unlock()
	if state != StateOpen {
		return fmt.Errorf("send %s while %s: %w", req.Method, state, ErrNotOpen)
	}
	return c.write(conn, req)
}

// Install makes h the sole inbound handler.
func (c *Client) Install(h Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handler != nil {
		return ErrBatchInFlight
	}
	c.handler = h
	return nil
}

// Uninstall removes h if it is the installed handler.
func (c *Client) Uninstall(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handler == h {
		c.handler = nil
	}
}

func (c *Client) write(conn Conn, req Request) error {
	payload, err := req.WithToken(c.secret).Encode()
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(payload); err != nil {
		return fmt.Errorf("write %s: %w", req.Method, err)
	}
	return nil
}

func (c *Client) dialLoop(ctx context.Context) {
	attempt := 0
	for {
		attempt++
		conn, err := c.dial(ctx)
		if err == nil {
			c.mu.Lock()
			if c.state != StateConnecting {
				c.mu.Unlock()
				_ = conn.Close()
				return
			}
			c.conn = conn
			c.setStateLocked(StateOpen)
			c.mu.Unlock()
			go c.readLoop(conn)
			return
		}
		c.logger.Debug("dial attempt %d failed: %v", attempt, err)

		timer := time.NewTimer(c.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (c *Client) readLoop(conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.transportClosed(conn, err)
			return
		}

		msg, err := Decode(data)
		if err != nil {
			c.logger.Warn("discarding inbound frame: %v", err)
			if h := c.currentHandler(); h != nil {
				h.HandleFailure(err)
			}
			continue
		}

		c.observe(msg)
		if h := c.currentHandler(); h != nil {
			h.HandleMessage(msg)
		}
	}
}

func (c *Client) transportClosed(conn Conn, cause error) {
	_ = conn.Close()

	c.mu.Lock()
	expected := c.state == StateClosing || c.state == StateClosed
	c.setStateLocked(StateClosed)
	handler := c.handler
	c.mu.Unlock()

	if expected {
		c.logger.Debug("transport closed")
		return
	}
	c.logger.Warn("transport closed unexpectedly: %v", cause)
	if handler != nil {
		handler.HandleFailure(fmt.Errorf("%w: %v", ErrConnectionClosed, cause))
	}
}

// observe handles traffic the client itself cares about regardless of the
// installed handler.
func (c *Client) observe(msg Message) {
	if msg.ID == IDShutdown {
		if result, ok := msg.ResultString(); ok && result == "OK" {
			c.mu.Lock()
			c.shutdownAck = true
			c.notifyLocked()
			c.mu.Unlock()
			c.logger.Verbose("download daemon shutdown complete")
		}
		return
	}

	switch {
	case msg.Method == NotificationDownloadComplete,
		msg.Method == NotificationDownloadStart,
		msg.ID == IDSpeed,
		msg.ID == IDAddURL:
		return
	}
	c.logger.Verbose("[INCOMING]\n%s", msg.Pretty())
}

func (c *Client) currentHandler() Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler
}

func (c *Client) setStateLocked(state State) {
	c.state = state
	c.notifyLocked()
}

func (c *Client) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// waitUntil re-evaluates cond (under c.mu) on every state change and on every
// interval tick, failing with errWaitExceeded after c.attempts ticks.
func (c *Client) waitUntil(ctx context.Context, label string, cond func() bool) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	tries := 0
	for {
		c.mu.Lock()
		ok := cond()
		changed := c.changed
		c.mu.Unlock()
		if ok {
			return nil
		}
		if tries >= c.attempts {
			return errWaitExceeded
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		case <-ticker.C:
			tries++
			c.logger.Debug("waiting for %s %d/%d", label, tries, c.attempts)
		}
	}
}

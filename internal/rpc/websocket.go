package rpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	handshakeTimeout = 5 * time.Second
	closeFrameGrace  = time.Second
)

type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := w.conn.ReadMessage()
	return data, err
}

func (w *wsConn) WriteMessage(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) CloseHandshake() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	return w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeFrameGrace))
}

func (w *wsConn) Close() error {
	return w.conn.Close()
}

// WebSocketDialer dials the daemon's JSON-RPC endpoint, e.g.
// ws://localhost:6800/jsonrpc.
func WebSocketDialer(endpoint string) Dialer {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	return func(ctx context.Context) (Conn, error) {
		conn, _, err := dialer.DialContext(ctx, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", endpoint, err)
		}
		return &wsConn{conn: conn}, nil
	}
}

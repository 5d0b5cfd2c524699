package client

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type (
	// WebsocketFactory implements TransportFactory over gorilla websocket
	// connections to the relay server.
	WebsocketFactory struct {
		baseUrl string
	}

	// wsTransport wraps an established websocket connection.
	wsTransport struct {
		mu   sync.Mutex
		conn *websocket.Conn
	}
)

// NewWebsocketFactory creates a factory dialing the relay at baseUrl
// (ws://host:port).
func NewWebsocketFactory(baseUrl string) (*WebsocketFactory, error) {
	if baseUrl == "" {
		return nil, fmt.Errorf("%s: empty", "baseUrl")
	}
	if !strings.HasPrefix(baseUrl, "ws://") && !strings.HasPrefix(baseUrl, "wss://") {
		return nil, fmt.Errorf("%s: must use the ws/wss scheme", "baseUrl")
	}

	return &WebsocketFactory{baseUrl: strings.TrimRight(baseUrl, "/")}, nil
}

// Dial implements the TransportFactory interface. The handshake and the read
// loop run in the background; a dial failure surfaces as HandleClose with an
// abnormal closure code.
func (f *WebsocketFactory) Dial(params ConnParams, h TransportHandler) error {
	if err := params.Validate(); err != nil {
		return err
	}
	if h == nil {
		return fmt.Errorf("%s: nil", "handler")
	}

	go f.dial(params, h)

	return nil
}

// dial does the actual job.
func (f *WebsocketFactory) dial(params ConnParams, h TransportHandler) {
	wsUrl := fmt.Sprintf("%s/ws/%s/%s?drawerId=%s&drawerName=%s",
		f.baseUrl,
		url.PathEscape(params.BoardId), url.PathEscape(params.PageId),
		url.QueryEscape(params.DrawerId), url.QueryEscape(params.DrawerName),
	)

	conn, _, err := websocket.DefaultDialer.Dial(wsUrl, nil)
	if err != nil {
		h.HandleClose(websocket.CloseAbnormalClosure, fmt.Errorf("dial (%s): %w", wsUrl, err))
		return
	}

	t := &wsTransport{conn: conn}
	h.HandleOpen(t)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			code := websocket.CloseAbnormalClosure
			if closeErr, ok := err.(*websocket.CloseError); ok {
				code = closeErr.Code
			}
			if code == websocket.CloseNormalClosure {
				err = nil
			}
			h.HandleClose(code, err)
			return
		}
		h.HandleChunk(data)
	}
}

// Send implements the Transport interface.
func (t *wsTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Close implements the Transport interface.
func (t *wsTransport) Close(code int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(code, "")
	if err := t.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		// The close handshake is best-effort, the connection goes down anyway.
		return t.conn.Close()
	}

	return t.conn.Close()
}

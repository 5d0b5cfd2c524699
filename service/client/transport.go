package client

import (
	"fmt"
)

type (
	// ConnParams identifies a single (board, page, drawer) connection.
	// Reconnection re-dials with the same parameters; no session resumption
	// is attempted.
	ConnParams struct {
		BoardId    string
		PageId     string
		DrawerId   string
		DrawerName string
	}

	// Transport is one persistent duplex connection to the relay.
	Transport interface {
		// Send transmits one text message.
		Send(data []byte) error
		// Close closes the connection with the given closure code.
		Close(code int) error
	}

	// TransportHandler receives the connection lifecycle callbacks.
	// HandleChunk delivery carries no framing guarantee beyond preserving
	// the single sender order.
	TransportHandler interface {
		HandleOpen(t Transport)
		HandleChunk(data []byte)
		HandleClose(code int, err error)
	}

	// TransportFactory dials new connections; all connection events are
	// delivered through the handler.
	TransportFactory interface {
		Dial(params ConnParams, h TransportHandler) error
	}
)

// Validate checks the required connection identifiers.
func (p ConnParams) Validate() error {
	if p.BoardId == "" {
		return fmt.Errorf("%s: empty", "BoardId")
	}
	if p.PageId == "" {
		return fmt.Errorf("%s: empty", "PageId")
	}
	if p.DrawerId == "" {
		return fmt.Errorf("%s: empty", "DrawerId")
	}

	return nil
}

// String implements the stringer interface.
func (p ConnParams) String() string {
	return fmt.Sprintf("%s/%s/%s", p.BoardId, p.PageId, p.DrawerId)
}

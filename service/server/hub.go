package server

import (
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/itiky/drawsync/model"
)

type (
	// roomKey identifies one fan-out group: a single page of a board.
	roomKey struct {
		boardId string
		pageId  string
	}

	// hubClient is one websocket participant attached to a room.
	hubClient struct {
		drawerId    string
		room        roomKey
		conn        *websocket.Conn
		sendCh      chan []byte
		reassembler *model.Reassembler
	}

	// Hub keeps the per-(board, page) rooms and fans messages out to every
	// room participant except the sender.
	Hub struct {
		mu    sync.RWMutex
		rooms map[roomKey]map[*hubClient]bool
	}
)

// NewHub creates a new empty Hub object.
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[roomKey]map[*hubClient]bool),
	}
}

// register attaches a client to its room.
func (h *Hub) register(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, found := h.rooms[c.room]
	if !found {
		room = make(map[*hubClient]bool)
		h.rooms[c.room] = room
	}
	room[c] = true

	log.Printf("Hub (%s/%s): %s joined (room size: %d)", c.room.boardId, c.room.pageId, c.drawerId, len(room))
}

// unregister detaches a client and announces its departure to the room, so
// peers drop the presence marker of a drawer that vanished without a leave.
func (h *Hub) unregister(c *hubClient) {
	h.mu.Lock()
	room, found := h.rooms[c.room]
	if !found || !room[c] {
		h.mu.Unlock()
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, c.room)
	}
	close(c.sendCh)
	h.mu.Unlock()

	log.Printf("Hub (%s/%s): %s left", c.room.boardId, c.room.pageId, c.drawerId)

	raw, err := model.EncodeMessage(model.NewLeaveMessage(c.drawerId, c.room.pageId))
	if err != nil {
		return
	}
	h.broadcast(c.room, nil, raw)
}

// broadcast delivers data to every room participant except the sender.
// A participant with a saturated send buffer is dropped.
func (h *Hub) broadcast(key roomKey, sender *hubClient, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.rooms[key] {
		if c == sender {
			continue
		}
		select {
		case c.sendCh <- data:
		default:
			log.Printf("Hub (%s/%s): %s send buffer full, dropping", key.boardId, key.pageId, c.drawerId)
		}
	}
}

// BroadcastBoard delivers data to every participant of every page of a board
// (used for page lifecycle announcements).
func (h *Hub) BroadcastBoard(boardId string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for key, room := range h.rooms {
		if key.boardId != boardId {
			continue
		}
		for c := range room {
			select {
			case c.sendCh <- data:
			default:
				log.Printf("Hub (%s/%s): %s send buffer full, dropping", key.boardId, key.pageId, c.drawerId)
			}
		}
	}
}

// roomSize returns the number of participants of a room.
func (h *Hub) roomSize(key roomKey) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.rooms[key])
}

// writePump drains the client send buffer into the connection.
func (c *hubClient) writePump() {
	for data := range c.sendCh {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}

	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readPump feeds inbound messages into the service until the connection
// drops, then detaches the client.
func (c *hubClient) readPump(h *Hub, svc *Service) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		svc.handleInbound(c, data)
	}
}

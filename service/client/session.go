package client

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/itiky/drawsync/model"
	"github.com/itiky/drawsync/storage"
)

const (
	// pingInterval defeats idle-connection timeouts imposed by intermediaries.
	pingInterval = 30 * time.Second
	// reconnectDelay is the fixed backoff before re-dialing after an abnormal
	// closure.
	reconnectDelay = 2 * time.Second

	// normalClosureCode is the RFC 6455 normal closure code.
	normalClosureCode = 1000
)

// SessionState is a Session lifecycle phase.
type SessionState string

const (
	StateIdle       SessionState = "idle"
	StateConnecting SessionState = "connecting"
	StateOpen       SessionState = "open"
	StateClosed     SessionState = "closed"
)

type (
	// SessionConfig carries the Session dependencies.
	SessionConfig struct {
		// Connection identifiers (board, page, drawer)
		Params ConnParams
		// The drawing-surface record store to keep in sync
		Store *storage.Store
		// Transport dialer
		Factory TransportFactory
		// Timer/frame source (defaults to the wall clock)
		Scheduler Scheduler
		// PromptReload is invoked when a peer deletes the page this session
		// is on: the host must confirm a reload with the user instead of
		// silently editing orphaned state.
		PromptReload func(pageId string)
	}

	// Session is the top-level sync state machine. It owns the transport
	// connection lifecycle, feeds local store mutations into a ChangeBatcher
	// and pointer movements into a PresenceThrottler, and applies inbound
	// messages back onto the store.
	//
	// The protocol carries no sequence numbers or acks: per-sender order is
	// assumed from the transport and concurrent edits to the same field
	// resolve by arrival order.
	Session struct {
		mu sync.Mutex
		// Config
		params       ConnParams
		store        *storage.Store
		factory      TransportFactory
		sched        Scheduler
		promptReload func(pageId string)
		// State
		state          SessionState
		closing        bool
		transport      Transport
		reassembler    *model.Reassembler
		batcher        *ChangeBatcher
		throttler      *PresenceThrottler
		unsubscribe    func()
		pingTicker     Ticker
		reconnectTimer Timer
		reconnectWait  backoff.BackOff
	}
)

// NewSession creates a new Session object in the Idle state.
func NewSession(cfg SessionConfig) (*Session, error) {
	if err := cfg.Params.Validate(); err != nil {
		return nil, fmt.Errorf("Params: %w", err)
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("%s: nil", "Store")
	}
	if cfg.Factory == nil {
		return nil, fmt.Errorf("%s: nil", "Factory")
	}

	sched := cfg.Scheduler
	if sched == nil {
		var err error
		sched, err = NewClockScheduler(DefaultFrameDuration)
		if err != nil {
			return nil, err
		}
	}

	promptReload := cfg.PromptReload
	if promptReload == nil {
		promptReload = func(pageId string) {
			log.Printf("SyncSession: page %s deleted remotely, reload required", pageId)
		}
	}

	return &Session{
		params:        cfg.Params,
		store:         cfg.Store,
		factory:       cfg.Factory,
		sched:         sched,
		promptReload:  promptReload,
		state:         StateIdle,
		reconnectWait: backoff.NewConstantBackOff(reconnectDelay),
	}, nil
}

// String implements the stringer interface.
func (s *Session) String() string {
	return fmt.Sprintf("SyncSession (%s)", s.params)
}

// State returns the current lifecycle phase.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Open begins the session lifecycle (Idle -> Connecting). A session already
// connecting or open is left alone, guarding against duplicate concurrent
// connection attempts.
func (s *Session) Open() error {
	s.mu.Lock()
	if s.state == StateConnecting || s.state == StateOpen {
		s.mu.Unlock()
		return nil
	}
	s.closing = false
	s.state = StateConnecting
	s.mu.Unlock()

	monitor.Start()
	log.Printf("%s: connecting", s.String())

	if err := s.factory.Dial(s.params, s); err != nil {
		// Transport errors are non-fatal precursors to reconnection.
		log.Printf("%s: dial: %v", s.String(), err)

		s.mu.Lock()
		s.state = StateClosed
		s.scheduleReconnectLocked()
		s.mu.Unlock()
	}

	return nil
}

// Close tears the session down gracefully: a best-effort leave message, a
// normal transport closure and a final batch flush. No timer fires after
// Close returns.
func (s *Session) Close() {
	s.mu.Lock()

	s.closing = true
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}

	if s.state != StateOpen && s.state != StateConnecting {
		s.state = StateClosed
		s.mu.Unlock()
		monitor.Stop()
		return
	}

	t := s.transport
	if t != nil {
		raw, err := model.EncodeMessage(model.NewLeaveMessage(s.params.DrawerId, s.params.PageId))
		if err == nil {
			err = t.Send(raw)
		}
		if err != nil {
			// A failed leave must not prevent the transport closure.
			log.Printf("%s: leave: %v", s.String(), err)
		}
	}

	s.teardownLocked()
	s.state = StateClosed
	s.mu.Unlock()

	if t != nil {
		if err := t.Close(normalClosureCode); err != nil {
			log.Printf("%s: close: %v", s.String(), err)
		}
	}

	monitor.Stop()
	log.Printf("%s: closed", s.String())
}

// UpdatePointer feeds a local pointer movement into the presence throttler
// (dropped while not open).
func (s *Session) UpdatePointer(x, y float64, camera model.Camera) {
	s.mu.Lock()
	p := s.throttler
	s.mu.Unlock()

	if p == nil {
		return
	}
	p.Update(x, y, camera)
}

// HandleOpen implements the TransportHandler interface
// (Connecting -> Open).
func (s *Session) HandleOpen(t Transport) {
	s.mu.Lock()

	if s.closing {
		s.mu.Unlock()
		_ = t.Close(normalClosureCode)
		return
	}

	s.state = StateOpen
	s.transport = t
	s.reassembler = model.NewReassembler()
	s.reconnectWait.Reset()

	// The peer set is about to deliver the authoritative page state; records
	// predating this session would collide with it on id.
	s.clearStaleRecords()

	batcher, err := NewChangeBatcher(s.params.DrawerId, s.params.PageId, s.sched, t.Send)
	if err != nil {
		s.mu.Unlock()
		log.Printf("%s: batcher init: %v", s.String(), err)
		return
	}
	throttler, err := NewPresenceThrottler(s.params.BoardId, s.params.PageId, s.params.DrawerId, s.params.DrawerName, s.sched, t.Send)
	if err != nil {
		s.mu.Unlock()
		log.Printf("%s: throttler init: %v", s.String(), err)
		return
	}
	s.batcher = batcher
	s.throttler = throttler

	s.pingTicker = s.sched.Every(pingInterval, s.sendPing)
	s.unsubscribe = s.store.Subscribe(s.onStoreChange)

	s.mu.Unlock()

	log.Printf("%s: open", s.String())
}

// HandleChunk implements the TransportHandler interface: reassembles the
// chunk stream into complete messages and dispatches each one.
func (s *Session) HandleChunk(data []byte) {
	s.mu.Lock()
	r := s.reassembler
	s.mu.Unlock()

	if r == nil {
		return
	}

	msgs := r.Feed(data)
	if len(msgs) == 0 {
		return
	}
	monitor.MessagesReceived(len(msgs))

	for _, msg := range msgs {
		s.dispatch(msg)
	}
}

// HandleClose implements the TransportHandler interface
// (Open -> Closed, with reconnection scheduled on abnormal closure).
func (s *Session) HandleClose(code int, err error) {
	s.mu.Lock()

	if s.state != StateOpen && s.state != StateConnecting {
		// A connection already torn down by the owner.
		s.mu.Unlock()
		return
	}

	s.teardownLocked()
	s.state = StateClosed

	if s.closing || code == normalClosureCode {
		s.mu.Unlock()
		return
	}

	s.scheduleReconnectLocked()
	s.mu.Unlock()

	log.Printf("%s: abnormal closure (%d): %v", s.String(), code, err)
}

// dispatch applies one inbound message. Component errors stay inside the
// callback boundary; they never escape to the transport read loop.
func (s *Session) dispatch(msg model.Message) {
	switch m := msg.(type) {
	case model.SyncMessage:
		start := time.Now()
		storage.ApplyRemoteChanges(s.store, m.Payload)
		monitor.RemoteBatchApplied(time.Since(start))

	case model.PresenceMessage:
		// No self-presence, no structurally broken positions.
		if m.UserId == s.params.DrawerId || !m.IsValid() {
			return
		}
		s.store.Put(storage.SourceRemote, model.NewPresenceRecord(m, s.sched.Now()))

	case model.LeaveMessage:
		s.store.Remove(storage.SourceRemote, model.PresenceRecordId(m.DrawerId))

	case model.PingMessage:
		// keepalive only

	case model.NewPageMessage:
		recId := model.PageRecordId(m.Page.PageId)
		if _, found := s.store.Get(recId); found {
			return
		}
		s.store.Put(storage.SourceRemote, model.NewPageRecord(m.Page.PageId, m.Page.PageTitle, s.store.NextPageIndex()))

	case model.UpdatePageMessage:
		recId := model.PageRecordId(m.Page.PageId)
		rec, found := s.store.Get(recId)
		if !found {
			return
		}
		renamed := rec.Clone()
		renamed["name"] = m.Page.PageTitle
		s.store.Put(storage.SourceRemote, renamed)

	case model.DeletePageMessage:
		s.removePage(m.Page.PageId)
		if m.Page.PageId == s.params.PageId {
			// Editing a deleted page is unrecoverable, the user confirms a
			// reload instead of a silent discard.
			s.promptReload(m.Page.PageId)
		}

	default:
		log.Printf("%s: dropped message: %s", s.String(), msg.Kind())
	}
}

// removePage drops a page record and all of its shapes in one transaction.
func (s *Session) removePage(pageId string) {
	recId := model.PageRecordId(pageId)
	shapes := s.store.PageShapes(recId)

	s.store.Transact(storage.SourceRemote, func(tx *storage.Tx) {
		tx.Remove(recId)
		for _, shape := range shapes {
			tx.Remove(shape.Id())
		}
	})
}

// onStoreChange feeds user-sourced record mutations into the batcher.
// Remote-tagged events are skipped so inbound applies never loop back to the
// wire; presence records are ephemeral and never part of document sync.
func (s *Session) onStoreChange(ev storage.ChangeEvent) {
	if ev.Source != storage.SourceLocal {
		return
	}
	if ev.Record.TypeName() == model.PresenceType {
		return
	}

	s.mu.Lock()
	b := s.batcher
	s.mu.Unlock()

	if b == nil {
		return
	}
	b.Enqueue(ev)
}

// sendPing handles the keepalive ticker callback.
func (s *Session) sendPing() {
	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()

	if t == nil {
		return
	}

	raw, err := model.EncodeMessage(model.NewPingMessage())
	if err == nil {
		err = t.Send(raw)
	}
	if err != nil {
		log.Printf("%s: ping: %v", s.String(), err)
	}
}

// clearStaleRecords drops the current page shapes and every presence marker
// left over from a previous connection.
func (s *Session) clearStaleRecords() {
	pageRecId := model.PageRecordId(s.params.PageId)

	s.store.Transact(storage.SourceRemote, func(tx *storage.Tx) {
		for _, rec := range tx.All() {
			switch rec.TypeName() {
			case model.PresenceType:
				tx.Remove(rec.Id())
			case model.ShapeType, model.BindingType:
				if rec.ParentId() == pageRecId {
					tx.Remove(rec.Id())
				}
			}
		}
	})
}

// scheduleReconnectLocked arms a single re-dial attempt after the fixed
// backoff (never while the owner is tearing the session down).
func (s *Session) scheduleReconnectLocked() {
	if s.closing || s.reconnectTimer != nil {
		return
	}

	s.reconnectTimer = s.sched.After(s.reconnectWait.NextBackOff(), s.reconnect)
}

// reconnect re-enters Connecting with the same connection parameters.
func (s *Session) reconnect() {
	s.mu.Lock()
	s.reconnectTimer = nil

	if s.closing || s.state == StateConnecting || s.state == StateOpen {
		s.mu.Unlock()
		return
	}
	s.state = StateConnecting
	s.mu.Unlock()

	monitor.Reconnected()
	log.Printf("%s: reconnecting", s.String())

	if err := s.factory.Dial(s.params, s); err != nil {
		log.Printf("%s: dial: %v", s.String(), err)

		s.mu.Lock()
		s.state = StateClosed
		s.scheduleReconnectLocked()
		s.mu.Unlock()
	}
}

// teardownLocked releases the per-connection resources: the store listener,
// the batcher (with its forced final flush), the throttler and the keepalive.
func (s *Session) teardownLocked() {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	if s.batcher != nil {
		s.batcher.Close()
		s.batcher = nil
	}
	if s.throttler != nil {
		s.throttler.Close()
		s.throttler = nil
	}
	if s.pingTicker != nil {
		s.pingTicker.Stop()
		s.pingTicker = nil
	}
	s.transport = nil
	s.reassembler = nil
}

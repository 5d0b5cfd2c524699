package client

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/itiky/drawsync/model"
)

// virtualScheduler implements Scheduler over a manually advanced clock, making
// every timer-driven scenario deterministic.
type virtualScheduler struct {
	mu       sync.Mutex
	now      time.Time
	frameDur time.Duration
	seq      int
	timers   map[int]*virtualTimer
}

type virtualTimer struct {
	sched    *virtualScheduler
	id       int
	at       time.Time
	period   time.Duration
	periodic bool
	fn       func()
}

func newVirtualScheduler() *virtualScheduler {
	return &virtualScheduler{
		now:      time.Unix(0, 0),
		frameDur: DefaultFrameDuration,
		timers:   make(map[int]*virtualTimer),
	}
}

// Now implements the Scheduler interface.
func (s *virtualScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.now
}

// After implements the Scheduler interface.
func (s *virtualScheduler) After(d time.Duration, fn func()) Timer {
	return s.register(d, false, fn)
}

// Every implements the Scheduler interface.
func (s *virtualScheduler) Every(d time.Duration, fn func()) Ticker {
	return s.register(d, true, fn)
}

// RequestFrame implements the Scheduler interface.
func (s *virtualScheduler) RequestFrame(fn func()) Timer {
	return s.register(s.frameDur, false, fn)
}

// Advance moves the clock forward, firing due callbacks in their deadline
// order (callbacks run outside the scheduler lock, so they may register new
// timers which fire within the same advance).
func (s *virtualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)

	for {
		var next *virtualTimer
		for _, t := range s.timers {
			if t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) || (t.at.Equal(next.at) && t.id < next.id) {
				next = t
			}
		}
		if next == nil {
			break
		}

		if next.at.After(s.now) {
			s.now = next.at
		}
		if next.periodic {
			next.at = next.at.Add(next.period)
		} else {
			delete(s.timers, next.id)
		}

		fn := next.fn
		s.mu.Unlock()
		fn()
		s.mu.Lock()
	}

	s.now = target
	s.mu.Unlock()
}

func (s *virtualScheduler) register(d time.Duration, periodic bool, fn func()) *virtualTimer {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &virtualTimer{
		sched:    s,
		id:       s.seq,
		at:       s.now.Add(d),
		period:   d,
		periodic: periodic,
		fn:       fn,
	}
	s.seq++
	s.timers[t.id] = t

	return t
}

// Stop implements the Timer and Ticker interfaces.
func (t *virtualTimer) Stop() {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()

	delete(t.sched.timers, t.id)
}

// sendRecorder captures outbound wire messages along with their send times.
type sendRecorder struct {
	mu      sync.Mutex
	sched   *virtualScheduler
	sent    [][]byte
	sentAt  []time.Time
	failing bool
}

func newSendRecorder(sched *virtualScheduler) *sendRecorder {
	return &sendRecorder{sched: sched}
}

func (r *sendRecorder) Send(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failing {
		return errTransportDown
	}

	r.sent = append(r.sent, append([]byte(nil), data...))
	r.sentAt = append(r.sentAt, r.sched.Now())

	return nil
}

func (r *sendRecorder) SetFailing(failing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.failing = failing
}

func (r *sendRecorder) SentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.sent)
}

// Messages decodes every captured send.
func (r *sendRecorder) Messages(t *testing.T) []model.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	msgs := make([]model.Message, 0, len(r.sent))
	for _, raw := range r.sent {
		msg, err := model.ParseMessage(raw)
		require.NoError(t, err)
		msgs = append(msgs, msg)
	}

	return msgs
}

// SyncMessages decodes the captured sync sends only.
func (r *sendRecorder) SyncMessages(t *testing.T) []model.SyncMessage {
	var msgs []model.SyncMessage
	for _, msg := range r.Messages(t) {
		if sync, ok := msg.(model.SyncMessage); ok {
			msgs = append(msgs, sync)
		}
	}

	return msgs
}

// SendTimes returns the capture time of every send.
func (r *sendRecorder) SendTimes() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]time.Time(nil), r.sentAt...)
}

var errTransportDown = errors.New("transport down")

// fakeTransport implements Transport over a sendRecorder.
type fakeTransport struct {
	rec *sendRecorder

	mu        sync.Mutex
	closeCode int
	closed    bool
}

func (t *fakeTransport) Send(data []byte) error {
	return t.rec.Send(data)
}

func (t *fakeTransport) Close(code int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	t.closeCode = code

	return nil
}

func (t *fakeTransport) CloseCode() (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.closeCode, t.closed
}

// fakeFactory implements TransportFactory, opening a fakeTransport
// synchronously on each dial.
type fakeFactory struct {
	sched *virtualScheduler

	mu         sync.Mutex
	dialErr    error
	dials      []ConnParams
	transports []*fakeTransport
}

func newFakeFactory(sched *virtualScheduler) *fakeFactory {
	return &fakeFactory{sched: sched}
}

// Dial implements the TransportFactory interface.
func (f *fakeFactory) Dial(params ConnParams, h TransportHandler) error {
	f.mu.Lock()
	if f.dialErr != nil {
		defer f.mu.Unlock()
		f.dials = append(f.dials, params)
		return f.dialErr
	}

	t := &fakeTransport{rec: newSendRecorder(f.sched)}
	f.dials = append(f.dials, params)
	f.transports = append(f.transports, t)
	f.mu.Unlock()

	h.HandleOpen(t)

	return nil
}

func (f *fakeFactory) DialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.dials)
}

func (f *fakeFactory) LastTransport(t *testing.T) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()

	require.NotEmpty(t, f.transports)
	return f.transports[len(f.transports)-1]
}

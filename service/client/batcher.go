package client

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/itiky/drawsync/model"
	"github.com/itiky/drawsync/storage"
)

const (
	// idleFlushDelay is the quiescence window after the last mutation that
	// marks a drawing gesture as finished: the pending batch is then flushed
	// immediately regardless of frame timing.
	idleFlushDelay = 15 * time.Millisecond
	// minSendInterval caps the send rate (~125/s) even when frames come
	// faster; a capped flush is rescheduled, never dropped.
	minSendInterval = 8 * time.Millisecond
)

// SendFunc transmits one encoded wire message.
type SendFunc func(data []byte) error

type (
	// ChangeBatcher coalesces a burst of local record mutations into the
	// fewest possible sync sends: flushes align to frame boundaries, a short
	// idle timer caps the tail latency of a finishing gesture, and failed
	// sends restore their changes for the next flush.
	ChangeBatcher struct {
		mu sync.Mutex
		// Config
		userId string
		pageId string
		sched  Scheduler
		send   SendFunc
		// State
		pending    model.ChangeSet
		frameTimer Timer
		idleTimer  Timer
		retryTimer Timer
		lastSend   time.Time
		closed     bool
	}
)

// NewChangeBatcher creates a new ChangeBatcher object bound to an open
// transport send func.
func NewChangeBatcher(userId, pageId string, sched Scheduler, send SendFunc) (*ChangeBatcher, error) {
	if userId == "" {
		return nil, fmt.Errorf("%s: empty", "userId")
	}
	if pageId == "" {
		return nil, fmt.Errorf("%s: empty", "pageId")
	}
	if sched == nil {
		return nil, fmt.Errorf("%s: nil", "sched")
	}
	if send == nil {
		return nil, fmt.Errorf("%s: nil", "send")
	}

	return &ChangeBatcher{
		userId:  userId,
		pageId:  pageId,
		sched:   sched,
		send:    send,
		pending: model.NewChangeSet(),
	}, nil
}

// String implements the stringer interface.
func (b *ChangeBatcher) String() string {
	return fmt.Sprintf("ChangeBatcher (%s/%s)", b.userId, b.pageId)
}

// Enqueue registers a local store mutation into the pending batch and
// (re)arms the flush scheduling.
func (b *ChangeBatcher) Enqueue(ev storage.ChangeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	switch ev.Kind {
	case model.AddedChange:
		b.pending.RecordAdded(ev.Record)
	case model.UpdatedChange:
		b.pending.RecordUpdated(ev.Prior, ev.Record)
	case model.RemovedChange:
		b.pending.RecordRemoved(ev.Record)
	default:
		return
	}

	// One flush per rendered frame, coalescing everything that arrived in it.
	if b.frameTimer == nil {
		b.frameTimer = b.sched.RequestFrame(b.onFrame)
	}

	// Every mutation resets the idle window; the timer firing means the
	// gesture is done.
	if b.idleTimer != nil {
		b.idleTimer.Stop()
	}
	b.idleTimer = b.sched.After(idleFlushDelay, b.onIdle)
}

// Close forces one final flush (bypassing the rate cap) and cancels all
// outstanding timers; no trailing edits are dropped.
func (b *ChangeBatcher) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	b.stopTimersLocked()
	b.flushLocked(true)
}

// onFrame handles the per-frame flush callback.
func (b *ChangeBatcher) onFrame() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.frameTimer = nil
	if b.closed {
		return
	}
	b.flushLocked(false)
}

// onIdle handles the drawing-completed callback.
func (b *ChangeBatcher) onIdle() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.idleTimer = nil
	if b.closed {
		return
	}
	b.flushLocked(true)
}

// onRetry handles the rate cap reschedule callback.
func (b *ChangeBatcher) onRetry() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.retryTimer = nil
	if b.closed {
		return
	}
	b.flushLocked(false)
}

// flushLocked serializes and sends the pending batch.
// Empty batches never produce a send. Without force, sends closer than
// minSendInterval to the previous one are rescheduled. A failed send merges
// the in-flight changes back under whatever accumulated meanwhile, so the
// next flush retries them.
func (b *ChangeBatcher) flushLocked(force bool) {
	if b.pending.IsEmpty() {
		return
	}

	if !force {
		if since := b.sched.Now().Sub(b.lastSend); since < minSendInterval {
			if b.retryTimer == nil {
				b.retryTimer = b.sched.After(minSendInterval-since, b.onRetry)
			}
			return
		}
	}

	inFlight := b.pending
	b.pending = model.NewChangeSet()
	b.lastSend = b.sched.Now()

	start := time.Now()
	raw, err := model.EncodeMessage(model.NewSyncMessage(b.userId, b.pageId, inFlight))
	if err == nil {
		err = b.send(raw)
	}
	if err != nil {
		log.Printf("%s: flush: %v", b.String(), err)

		// No mutation is lost: in-flight entries go back under anything
		// enqueued since the swap.
		inFlight.Merge(b.pending)
		b.pending = inFlight

		if !b.closed && b.frameTimer == nil {
			b.frameTimer = b.sched.RequestFrame(b.onFrame)
		}
		return
	}

	monitor.BatchFlushed(inFlight.Size(), time.Since(start))
}

// stopTimersLocked cancels every outstanding timer.
func (b *ChangeBatcher) stopTimersLocked() {
	if b.frameTimer != nil {
		b.frameTimer.Stop()
		b.frameTimer = nil
	}
	if b.idleTimer != nil {
		b.idleTimer.Stop()
		b.idleTimer = nil
	}
	if b.retryTimer != nil {
		b.retryTimer.Stop()
		b.retryTimer = nil
	}
}

package client

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/itiky/drawsync/model"
)

// presenceSendInterval bounds cursor/camera broadcasts to ~60/s.
const presenceSendInterval = 16 * time.Millisecond

type (
	// PresenceThrottler rate-limits outbound pointer/camera broadcasts.
	// Only the newest position ever matters: updates arriving inside the
	// throttle window coalesce into the single deferred send.
	PresenceThrottler struct {
		mu sync.Mutex
		// Config
		boardId  string
		pageId   string
		userId   string
		userName string
		sched    Scheduler
		send     SendFunc
		// State
		x, y      float64
		camera    model.Camera
		hasUpdate bool
		lastSend  time.Time
		timer     Timer
		closed    bool
	}
)

// NewPresenceThrottler creates a new PresenceThrottler object bound to an
// open transport send func. The send pacing is bounded from construction:
// the first position defers a full interval too, so a reconnect storm never
// bursts.
func NewPresenceThrottler(boardId, pageId, userId, userName string, sched Scheduler, send SendFunc) (*PresenceThrottler, error) {
	if boardId == "" {
		return nil, fmt.Errorf("%s: empty", "boardId")
	}
	if pageId == "" {
		return nil, fmt.Errorf("%s: empty", "pageId")
	}
	if userId == "" {
		return nil, fmt.Errorf("%s: empty", "userId")
	}
	if sched == nil {
		return nil, fmt.Errorf("%s: nil", "sched")
	}
	if send == nil {
		return nil, fmt.Errorf("%s: nil", "send")
	}

	return &PresenceThrottler{
		boardId:  boardId,
		pageId:   pageId,
		userId:   userId,
		userName: userName,
		sched:    sched,
		send:     send,
		lastSend: sched.Now(),
	}, nil
}

// String implements the stringer interface.
func (p *PresenceThrottler) String() string {
	return fmt.Sprintf("PresenceThrottler (%s/%s)", p.userId, p.pageId)
}

// Update records the latest pointer position and sends it now if the minimum
// interval has elapsed, otherwise arms (at most) one deferred send for the
// remainder of the interval.
func (p *PresenceThrottler) Update(x, y float64, camera model.Camera) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.x, p.y, p.camera = x, y, camera
	p.hasUpdate = true

	since := p.sched.Now().Sub(p.lastSend)
	if since >= presenceSendInterval {
		p.sendLocked()
		return
	}

	if p.timer == nil {
		p.timer = p.sched.After(presenceSendInterval-since, p.onTimer)
	}
}

// Close cancels any pending deferred send without flushing (a leave message
// supersedes the last position).
func (p *PresenceThrottler) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// onTimer handles the deferred send callback.
func (p *PresenceThrottler) onTimer() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.timer = nil
	if p.closed || !p.hasUpdate {
		return
	}
	p.sendLocked()
}

// sendLocked broadcasts the latest recorded position.
func (p *PresenceThrottler) sendLocked() {
	raw, err := model.EncodeMessage(model.NewPresenceMessage(
		p.boardId, p.pageId, p.userId, p.userName, p.x, p.y, p.camera,
	))
	if err == nil {
		err = p.send(raw)
	}
	if err != nil {
		log.Printf("%s: send: %v", p.String(), err)
	}

	p.lastSend = p.sched.Now()
	p.hasUpdate = false
}

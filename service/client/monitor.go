package client

import (
	"log"
	"sync"
	"time"

	movingaverage "github.com/RobinUS2/golang-moving-average"
)

var monitor *Monitor

// Monitor keeps sync session stats.
type Monitor struct {
	sync.Mutex
	flushDur     *movingaverage.MovingAverage
	applyDur     *movingaverage.MovingAverage
	msgsSent     int
	msgsReceived int
	reconnects   int
	stopCh       chan struct{}
}

// BatchFlushed updates the outbound flush metrics.
func (m *Monitor) BatchFlushed(records int, dur time.Duration) {
	m.Lock()
	defer m.Unlock()

	m.msgsSent++
	m.flushDur.Add(float64(dur/time.Microsecond) / 1000.0)
}

// MessagesReceived increments the inbound message metric.
func (m *Monitor) MessagesReceived(count int) {
	m.Lock()
	defer m.Unlock()

	m.msgsReceived += count
}

// RemoteBatchApplied updates the inbound sync apply duration metric.
func (m *Monitor) RemoteBatchApplied(dur time.Duration) {
	m.Lock()
	defer m.Unlock()

	m.applyDur.Add(float64(dur/time.Microsecond) / 1000.0)
}

// Reconnected increments the reconnection attempts metric.
func (m *Monitor) Reconnected() {
	m.Lock()
	defer m.Unlock()

	m.reconnects++
}

// Start starts the Monitor worker.
func (m *Monitor) Start() {
	if m.stopCh != nil {
		return
	}

	m.stopCh = make(chan struct{})
	go m.worker()
}

// Stop stops the Monitor worker.
func (m *Monitor) Stop() {
	if m.stopCh == nil {
		return
	}

	close(m.stopCh)
	m.stopCh = nil
}

// worker does the actual job.
func (m *Monitor) worker() {
	const period = 5 * time.Second

	tickCh := time.Tick(period)
	stopCh := m.stopCh
	for {
		select {
		case <-stopCh:
			// Stop the monitor
			return
		case <-tickCh:
			// Print the report
			m.Lock()

			sentPerSec := float64(m.msgsSent) / (float64(period) / float64(time.Second))
			recvPerSec := float64(m.msgsReceived) / (float64(period) / float64(time.Second))
			log.Printf("Monitor:")
			log.Printf("  - Messages out / s:    %.2f", sentPerSec)
			log.Printf("  - Messages in / s:     %.2f", recvPerSec)
			log.Printf("  - Flush dur [ms]:      %.2f", m.flushDur.Avg())
			log.Printf("  - Apply dur [ms]:      %.2f", m.applyDur.Avg())
			log.Printf("  - Reconnects:          %d", m.reconnects)
			m.msgsSent = 0
			m.msgsReceived = 0

			m.Unlock()
		}
	}
}

func init() {
	monitor = &Monitor{
		flushDur: movingaverage.New(5),
		applyDur: movingaverage.New(5),
	}
}

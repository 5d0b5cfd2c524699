package server

import (
	"log"
	"sync"
	"time"

	movingaverage "github.com/RobinUS2/golang-moving-average"
)

var monitor *Monitor

// Monitor keeps relay Service stats.
type Monitor struct {
	sync.Mutex
	msgsRelayed int
	opsApplied  int
	applyDur    *movingaverage.MovingAverage
	stopCh      chan struct{}
}

// MessageRelayed increments the fan-out metric.
func (m *Monitor) MessageRelayed() {
	m.Lock()
	defer m.Unlock()

	m.msgsRelayed++
}

// SyncApplied updates the board store apply metrics.
func (m *Monitor) SyncApplied(ops int, dur time.Duration) {
	m.Lock()
	defer m.Unlock()

	m.opsApplied += ops
	m.applyDur.Add(float64(dur/time.Microsecond) / 1000.0)
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

			relayedPerSec := float64(m.msgsRelayed) / (float64(period) / float64(time.Second))
			opsPerSec := float64(m.opsApplied) / (float64(period) / float64(time.Second))
			log.Printf("Monitor:")
			log.Printf("  - Messages relayed / s: %.2f", relayedPerSec)
			log.Printf("  - Record ops / s:       %.2f", opsPerSec)
			log.Printf("  - Apply dur [ms]:       %.2f", m.applyDur.Avg())
			m.msgsRelayed = 0
			m.opsApplied = 0

			m.Unlock()
		}
	}
}

func init() {
	monitor = &Monitor{
		applyDur: movingaverage.New(5),
	}
}

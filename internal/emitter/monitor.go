package emitter

import "time"

// Monitor tracks recency of successful polls and derives a connection status.
//
// It starts CONNECTED with the construction time as the success baseline. Until the first
// success the baseline may be re-armed, so an emitter built long before Start is not
// reported as disconnected on its first check. Monitor is not safe for concurrent use;
// the Poller guards it.
type Monitor struct {
	threshold   time.Duration
	lastSuccess time.Time
	succeeded   bool
	connected   bool
	bit         bool
}

// NewMonitor returns a CONNECTED monitor whose baseline is now.
func NewMonitor(threshold time.Duration, now time.Time) *Monitor {
	return &Monitor{
		threshold:   threshold,
		lastSuccess: now,
		connected:   true,
	}
}

// Arm resets the baseline to now if no poll has succeeded yet.
func (m *Monitor) Arm(now time.Time) {
	if !m.succeeded {
		m.lastSuccess = now
	}
}

// RecordSuccess marks a successful poll. It returns a status event on DISCONNECTED → CONNECTED.
func (m *Monitor) RecordSuccess(now time.Time) (StatusEvent, bool) {
	m.lastSuccess = now
	m.succeeded = true
	if m.connected {
		return StatusEvent{}, false
	}
	m.connected = true
	return m.event(now), true
}

// Check compares the elapsed time since the last success against the threshold.
// It returns a status event on CONNECTED → DISCONNECTED only; repeated checks while
// disconnected return nothing.
func (m *Monitor) Check(now time.Time) (StatusEvent, bool) {
	if !m.connected || !m.expired(now) {
		return StatusEvent{}, false
	}
	m.connected = false
	return m.event(now), true
}

// Probe recomputes the status from the elapsed rule without changing the reported state.
func (m *Monitor) Probe(now time.Time) StatusEvent {
	return StatusEvent{
		Timestamp: now,
		Connected: !m.expired(now),
		Bit:       m.bit,
	}
}

func (m *Monitor) SetThreshold(threshold time.Duration) {
	m.threshold = threshold
}

func (m *Monitor) Threshold() time.Duration {
	return m.threshold
}

// SetBit latches or clears the alarm flag. It never emits.
func (m *Monitor) SetBit(bit bool) {
	m.bit = bit
}

func (m *Monitor) Connected() bool {
	return m.connected
}

func (m *Monitor) LastSuccess() time.Time {
	return m.lastSuccess
}

func (m *Monitor) expired(now time.Time) bool {
	return now.Sub(m.lastSuccess) > m.threshold
}

func (m *Monitor) event(now time.Time) StatusEvent {
	return StatusEvent{
		Timestamp: now,
		Connected: m.connected,
		Bit:       m.bit,
	}
}

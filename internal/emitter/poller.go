package emitter

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Fetcher retrieves one payload from the remote source.
type Fetcher[T any] func(ctx context.Context) (T, error)

// Scheduler runs tagged periodic jobs. Scheduling a tag that already exists replaces the job.
type Scheduler interface {
	Every(tag string, interval time.Duration, immediate bool, job func()) error
	Cancel(tag string)
}

// Config holds the polling and disconnection settings of an emitter.
type Config struct {
	CheckInterval       time.Duration
	DisconnectThreshold time.Duration
	MonitorInterval     time.Duration
}

// WithDefaults fills the threshold (3x the check interval) and the monitor interval
// (the threshold) when they are unset.
func (c Config) WithDefaults() Config {
	if c.DisconnectThreshold <= 0 {
		c.DisconnectThreshold = 3 * c.CheckInterval
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = c.DisconnectThreshold
	}
	return c
}

func (c Config) Validate() error {
	var fields []string
	if c.CheckInterval <= 0 {
		fields = append(fields, "checkInterval")
	}
	if c.DisconnectThreshold < 0 {
		fields = append(fields, "disconnectThreshold")
	}
	if c.MonitorInterval < 0 {
		fields = append(fields, "monitorInterval")
	}
	if len(fields) > 0 {
		return Invalid("durations must be positive", fields...)
	}
	return nil
}

// Options configure a Poller.
type Options[T any] struct {
	Type      string
	Identity  Identity
	Config    Config
	Fetch     Fetcher[T]
	Detector  ChangeDetector[T]
	Scheduler Scheduler
	// Now defaults to time.Now.
	Now func() time.Time
}

// Poller is the delta polling engine shared by emitters: it fetches on every tick, emits a
// DataEvent only when the detector reports a change and tracks connectivity with a Monitor.
type Poller[T any] struct {
	typ      string
	identity Identity
	fetch    Fetcher[T]
	detector ChangeDetector[T]
	sched    Scheduler
	now      func() time.Time
	inFlight atomic.Bool

	// deliverMu orders status computation and delivery across the poll and monitor jobs.
	// Lock order: deliverMu, then mu.
	deliverMu sync.Mutex

	mu         sync.Mutex
	cfg        Config
	monitor    *Monitor
	last       *DataEvent[T]
	running    bool
	disposed   bool
	generation uint64

	dataListeners   listenerSet[DataEvent[T]]
	statusListeners listenerSet[StatusEvent]
	pollListeners   listenerSet[PollOutcome]
}

func NewPoller[T any](opts Options[T]) (*Poller[T], error) {
	if opts.Identity.ID == "" {
		return nil, Invalid("identity is required", "id")
	}
	if opts.Fetch == nil || opts.Detector == nil || opts.Scheduler == nil {
		return nil, errors.New("emitter: fetcher, detector and scheduler are required")
	}
	cfg := opts.Config.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Poller[T]{
		typ:      opts.Type,
		identity: opts.Identity,
		fetch:    opts.Fetch,
		detector: opts.Detector,
		sched:    opts.Scheduler,
		now:      now,
		cfg:      cfg,
		monitor:  NewMonitor(cfg.DisconnectThreshold, now()),
	}, nil
}

func (p *Poller[T]) ID() string          { return p.identity.ID }
func (p *Poller[T]) Name() string        { return p.identity.Name }
func (p *Poller[T]) Description() string { return p.identity.Description }
func (p *Poller[T]) Type() string        { return p.typ }
func (p *Poller[T]) Identity() Identity  { return p.identity }

// Config returns the current polling configuration.
func (p *Poller[T]) Config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

func (p *Poller[T]) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Start schedules the poll job (first tick immediately) and the monitor job.
func (p *Poller[T]) Start() error {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return ErrDisposed
	}
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.monitor.Arm(p.now())
	cfg := p.cfg
	p.mu.Unlock()

	if err := p.sched.Every(p.pollTag(), cfg.CheckInterval, true, p.tick); err != nil {
		p.Stop()
		return fmt.Errorf("schedule poll: %w", err)
	}
	if err := p.sched.Every(p.monitorTag(), cfg.MonitorInterval, false, p.CheckConnection); err != nil {
		p.Stop()
		return fmt.Errorf("schedule monitor: %w", err)
	}
	if p.cancelIfStopped() {
		return nil
	}

	log.Printf("INFO: emitter %s: polling every %s, disconnect threshold %s", p.identity.ID, cfg.CheckInterval, cfg.DisconnectThreshold)
	return nil
}

// Stop cancels future ticks. A fetch in flight completes but its result is discarded.
func (p *Poller[T]) Stop() {
	p.mu.Lock()
	wasRunning := p.running
	p.running = false
	p.generation++
	if wasRunning {
		p.cancelJobsLocked()
	}
	p.mu.Unlock()

	if wasRunning {
		log.Printf("INFO: emitter %s: polling stopped", p.identity.ID)
	}
}

// cancelIfStopped undoes a schedule call that raced with Stop. Jobs are cancelled under
// the mutex so a later Start cannot lose its own jobs.
func (p *Poller[T]) cancelIfStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return false
	}
	p.cancelJobsLocked()
	return true
}

func (p *Poller[T]) cancelJobsLocked() {
	p.sched.Cancel(p.pollTag())
	p.sched.Cancel(p.monitorTag())
}

// Dispose stops the poller for good and drops every listener.
func (p *Poller[T]) Dispose() {
	p.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.disposed = true
	p.dataListeners.clear()
	p.statusListeners.clear()
	p.pollListeners.clear()
}

// Poll fetches once and runs change detection and connectivity tracking on the result.
// Fetch failures are returned wrapped in ErrSourceUnavailable after they have been
// accounted for by the monitor.
func (p *Poller[T]) Poll(ctx context.Context) error {
	if p.inFlight.Swap(true) {
		return ErrPollInFlight
	}
	defer p.inFlight.Store(false)

	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return ErrDisposed
	}
	gen := p.generation
	p.mu.Unlock()

	started := p.now()
	payload, fetchErr := p.fetch(ctx)
	now := p.now()
	if fetchErr != nil && !errors.Is(fetchErr, ErrSourceUnavailable) {
		fetchErr = fmt.Errorf("%w: %v", ErrSourceUnavailable, fetchErr)
	}

	p.deliverMu.Lock()
	p.mu.Lock()
	if p.disposed || gen != p.generation {
		p.mu.Unlock()
		p.deliverMu.Unlock()
		log.Printf("DEBUG: emitter %s: discarding poll result after stop", p.identity.ID)
		return nil
	}

	var (
		statuses []StatusEvent
		data     *DataEvent[T]
	)
	if fetchErr != nil {
		if evt, ok := p.monitor.Check(now); ok {
			statuses = append(statuses, p.stamp(evt))
		}
	} else {
		if evt, ok := p.monitor.RecordSuccess(now); ok {
			statuses = append(statuses, p.stamp(evt))
		}
		if p.detector.Changed(p.last, payload) {
			evt := DataEvent[T]{
				EmitterID: p.identity.ID,
				Timestamp: now,
				Payload:   payload,
			}
			p.last = &evt
			data = &evt
		}
	}
	statusFns := p.statusListeners.snapshot()
	dataFns := p.dataListeners.snapshot()
	pollFns := p.pollListeners.snapshot()
	p.mu.Unlock()

	for _, evt := range statuses {
		for _, fn := range statusFns {
			fn(evt)
		}
	}
	p.deliverMu.Unlock()

	if data != nil {
		for _, fn := range dataFns {
			fn(*data)
		}
	}
	outcome := PollOutcome{
		EmitterID: p.identity.ID,
		Timestamp: now,
		Duration:  now.Sub(started),
		Changed:   data != nil,
		Err:       fetchErr,
	}
	for _, fn := range pollFns {
		fn(outcome)
	}

	return fetchErr
}

// CheckConnection runs the disconnection check and emits on CONNECTED → DISCONNECTED.
func (p *Poller[T]) CheckConnection() {
	p.deliverMu.Lock()
	defer p.deliverMu.Unlock()
	now := p.now()

	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	evt, ok := p.monitor.Check(now)
	fns := p.statusListeners.snapshot()
	p.mu.Unlock()

	if !ok {
		return
	}
	evt = p.stamp(evt)
	log.Printf("INFO: emitter %s: disconnected, no successful poll for more than %s", p.identity.ID, p.Config().DisconnectThreshold)
	for _, fn := range fns {
		fn(evt)
	}
}

// ProbeStatus recomputes the connection status now, without waiting for the monitor job.
func (p *Poller[T]) ProbeStatus() StatusEvent {
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stamp(p.monitor.Probe(now))
}

// Current returns the last known event.
func (p *Poller[T]) Current() (DataEvent[T], bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return DataEvent[T]{}, false
	}
	return *p.last, true
}

func (p *Poller[T]) ProbeCurrent() (DataEvent[any], bool) {
	evt, ok := p.Current()
	if !ok {
		return DataEvent[any]{}, false
	}
	return evt.Erase(), true
}

// Prime installs a previously captured event as the last known state, used on restore.
func (p *Poller[T]) Prime(evt *DataEvent[T]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if evt == nil {
		p.last = nil
		return
	}
	cp := *evt
	cp.EmitterID = p.identity.ID
	p.last = &cp
}

// SetCheckInterval changes the poll interval; a running poller is rescheduled so the new
// interval applies from the next tick.
func (p *Poller[T]) SetCheckInterval(interval time.Duration) error {
	if interval <= 0 {
		return Invalid("check interval must be positive", "checkInterval")
	}

	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return ErrDisposed
	}
	p.cfg.CheckInterval = interval
	running := p.running
	p.mu.Unlock()

	if !running {
		return nil
	}
	if err := p.sched.Every(p.pollTag(), interval, false, p.tick); err != nil {
		return err
	}
	p.cancelIfStopped()
	return nil
}

func (p *Poller[T]) SetDisconnectThreshold(threshold time.Duration) error {
	if threshold <= 0 {
		return Invalid("disconnect threshold must be positive", "disconnectThreshold")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed {
		return ErrDisposed
	}
	p.cfg.DisconnectThreshold = threshold
	p.monitor.SetThreshold(threshold)
	return nil
}

// SetBit latches or clears the alarm flag reported with status events.
func (p *Poller[T]) SetBit(bit bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.monitor.SetBit(bit)
}

// ApplySettings applies the polling part of s. Position overrides are left to the
// concrete emitter.
func (p *Poller[T]) ApplySettings(ctx context.Context, s Settings) ExecutionResult {
	res := ExecutionResult{ActionID: s.ActionID}
	if s.CheckInterval < 0 || s.DisconnectThreshold < 0 {
		res.FailureReason = "durations must not be negative"
		return res
	}
	if s.CheckInterval > 0 {
		if err := p.SetCheckInterval(s.CheckInterval); err != nil {
			res.FailureReason = err.Error()
			return res
		}
	}
	if s.DisconnectThreshold > 0 {
		if err := p.SetDisconnectThreshold(s.DisconnectThreshold); err != nil {
			res.FailureReason = err.Error()
			return res
		}
	}
	res.Success = true
	return res
}

// Subscribe registers a typed data listener.
func (p *Poller[T]) Subscribe(fn func(DataEvent[T])) (cancel func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.dataListeners.add(fn)
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.dataListeners.remove(id)
	}
}

func (p *Poller[T]) OnData(fn func(DataEvent[any])) (cancel func()) {
	return p.Subscribe(func(evt DataEvent[T]) {
		fn(evt.Erase())
	})
}

// OnStatus registers a status listener. Transitions are delivered in the order they were
// computed; a listener must not call Poll or CheckConnection synchronously.
func (p *Poller[T]) OnStatus(fn func(StatusEvent)) (cancel func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.statusListeners.add(fn)
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.statusListeners.remove(id)
	}
}

func (p *Poller[T]) OnPoll(fn func(PollOutcome)) (cancel func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.pollListeners.add(fn)
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.pollListeners.remove(id)
	}
}

func (p *Poller[T]) tick() {
	if !p.Running() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.Config().CheckInterval)
	defer cancel()

	err := p.Poll(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrPollInFlight):
		log.Printf("DEBUG: emitter %s: previous poll still running, skipping tick", p.identity.ID)
	case errors.Is(err, ErrDisposed):
	default:
		log.Printf("ERROR: emitter %s: poll failed: %v", p.identity.ID, err)
	}
}

func (p *Poller[T]) stamp(evt StatusEvent) StatusEvent {
	evt.EmitterID = p.identity.ID
	return evt
}

func (p *Poller[T]) pollTag() string    { return p.identity.ID + ":poll" }
func (p *Poller[T]) monitorTag() string { return p.identity.ID + ":monitor" }

type listener[E any] struct {
	id uint64
	fn func(E)
}

// listenerSet keeps registration order. Callers hold the poller mutex.
type listenerSet[E any] struct {
	next  uint64
	items []listener[E]
}

func (s *listenerSet[E]) add(fn func(E)) uint64 {
	s.next++
	s.items = append(s.items, listener[E]{id: s.next, fn: fn})
	return s.next
}

func (s *listenerSet[E]) remove(id uint64) {
	for i, l := range s.items {
		if l.id == id {
			s.items = append(s.items[:i:i], s.items[i+1:]...)
			return
		}
	}
}

func (s *listenerSet[E]) snapshot() []func(E) {
	fns := make([]func(E), len(s.items))
	for i, l := range s.items {
		fns[i] = l.fn
	}
	return fns
}

func (s *listenerSet[E]) clear() {
	s.items = nil
}

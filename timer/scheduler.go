package timer

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/notnil/canapp/clock"
	"github.com/notnil/canapp/internal/metrics"
)

var (
	ErrUnknownTimer = errors.New("timer: unknown or deleted timer")
	ErrNilCallback  = errors.New("timer: nil callback")
)

// DefaultPollInterval is the scan interval of the worker and the effective
// resolution of every timer.
const DefaultPollInterval = 500 * time.Microsecond

// Handle identifies a timer. The zero Handle never refers to a timer.
type Handle struct {
	index uint32
	gen   uint32
}

// Valid reports whether h was ever returned by Create.
func (h Handle) Valid() bool { return h.gen != 0 }

func (h Handle) String() string {
	return fmt.Sprintf("timer#%d.%d", h.index, h.gen)
}

// Callback is invoked on expiry with the handle of the timer that fired.
type Callback func(Handle)

type slot struct {
	gen     uint32
	live    bool
	running bool
	start   uint64
	period  uint64
	cb      Callback
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithPollInterval sets the worker's scan interval. Non-positive values are
// ignored.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.poll = d
		}
	}
}

// WithClock replaces the time source timers are measured against.
func WithClock(c clock.Source) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the logger for worker lifecycle events.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// WithMetrics counts expiries and allocated timers on m. A nil m disables
// metrics.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// Scheduler owns a set of timers and the worker that fires them.
type Scheduler struct {
	poll    time.Duration
	clock   clock.Source
	log     zerolog.Logger
	metrics *metrics.Collector

	stop atomic.Bool

	// ctl serializes Run and Terminate.
	ctl  sync.Mutex
	done chan struct{}

	mu    sync.Mutex
	slots []slot
	free  []uint32
	count int
}

// NewScheduler returns a Scheduler with no worker running. Timers can be
// created and driven with Poll before Run is called.
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		poll:  DefaultPollInterval,
		clock: clock.System,
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run starts the polling worker. It is a no-op if the worker is running.
func (s *Scheduler) Run() {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	if s.done != nil {
		return
	}
	s.stop.Store(false)
	s.done = make(chan struct{})
	go s.run(s.done)
	s.log.Debug().Dur("poll", s.poll).Msg("timer worker started")
}

// Terminate stops the worker, waits for it to exit and deletes every timer.
// Handles issued before Terminate are invalid afterwards.
//
// It must not be called from a timer callback, which runs on the worker
// being joined.
func (s *Scheduler) Terminate() {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	if s.done != nil {
		s.stop.Store(true)
		<-s.done
		s.done = nil
		s.stop.Store(false)
	}

	s.mu.Lock()
	n := s.count
	for i := range s.slots {
		if s.slots[i].live {
			s.release(uint32(i))
		}
	}
	s.mu.Unlock()
	s.metrics.TimersAllocated(0)
	s.log.Debug().Int("released", n).Msg("timer worker stopped")
}

func (s *Scheduler) run(done chan struct{}) {
	defer close(done)
	for !s.stop.Load() {
		s.Poll()
		clock.Sleep(s.poll)
	}
}

// Create allocates an idle timer that calls cb on each expiry.
func (s *Scheduler) Create(cb Callback) (Handle, error) {
	if cb == nil {
		return Handle{}, ErrNilCallback
	}
	s.mu.Lock()
	var idx uint32
	if n := len(s.free); n > 0 {
		idx = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		idx = uint32(len(s.slots))
		s.slots = append(s.slots, slot{})
	}
	sl := &s.slots[idx]
	sl.gen++
	if sl.gen == 0 {
		sl.gen = 1
	}
	sl.live = true
	sl.running = false
	sl.start, sl.period = 0, 0
	sl.cb = cb
	s.count++
	h := Handle{index: idx, gen: sl.gen}
	n := s.count
	s.mu.Unlock()

	s.metrics.TimersAllocated(n)
	return h, nil
}

// Start arms the timer to expire periodMillis from now, discarding any
// previous schedule.
func (s *Scheduler) Start(h Handle, periodMillis uint32) error {
	now := s.clock.Micros()
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, err := s.lookup(h)
	if err != nil {
		return fmt.Errorf("scheduler.start: %w", err)
	}
	sl.start = now
	sl.period = uint64(periodMillis) * 1000
	sl.running = true
	return nil
}

// Restart re-arms the timer one period after its previous start, keeping a
// steady cadence when called from the timer's own callback. If that point has
// already passed by more than a period, the timer is scheduled to fire on the
// next scan instead; missed expiries are not replayed.
func (s *Scheduler) Restart(h Handle) error {
	now := s.clock.Micros()
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, err := s.lookup(h)
	if err != nil {
		return fmt.Errorf("scheduler.restart: %w", err)
	}
	sl.start += sl.period
	if elapsed(now, sl.start) > int64(sl.period) {
		sl.start = now - sl.period
	}
	sl.running = true
	return nil
}

// Stop disarms the timer. It stays allocated and can be started again.
func (s *Scheduler) Stop(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, err := s.lookup(h)
	if err != nil {
		return fmt.Errorf("scheduler.stop: %w", err)
	}
	sl.running = false
	return nil
}

// Delete releases the timer. Stale or zero handles are ignored.
func (s *Scheduler) Delete(h Handle) {
	s.mu.Lock()
	if _, err := s.lookup(h); err != nil {
		s.mu.Unlock()
		return
	}
	s.release(h.index)
	n := s.count
	s.mu.Unlock()
	s.metrics.TimersAllocated(n)
}

// Running reports whether h refers to an armed timer.
func (s *Scheduler) Running(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, err := s.lookup(h)
	return err == nil && sl.running
}

// Len returns the number of allocated timers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Poll performs one scan, firing every running timer whose period has
// elapsed. Each timer fires at most once per scan. The worker calls Poll on
// every tick; tests call it directly against a manual clock.
func (s *Scheduler) Poll() {
	now := s.clock.Micros()
	s.mu.Lock()
	for i := 0; i < len(s.slots); i++ {
		sl := &s.slots[i]
		if !sl.live || !sl.running || elapsed(now, sl.start) <= int64(sl.period) {
			continue
		}
		cb := sl.cb
		h := Handle{index: uint32(i), gen: sl.gen}
		s.mu.Unlock()
		s.metrics.TimerFired()
		cb(h)
		s.mu.Lock()
	}
	s.mu.Unlock()
}

// lookup returns the live slot for h. The caller holds mu.
func (s *Scheduler) lookup(h Handle) (*slot, error) {
	if !h.Valid() || int(h.index) >= len(s.slots) {
		return nil, ErrUnknownTimer
	}
	sl := &s.slots[h.index]
	if !sl.live || sl.gen != h.gen {
		return nil, ErrUnknownTimer
	}
	return sl, nil
}

// release tombstones the slot at idx. The caller holds mu.
func (s *Scheduler) release(idx uint32) {
	sl := &s.slots[idx]
	sl.live = false
	sl.running = false
	sl.cb = nil
	sl.gen++
	if sl.gen == 0 {
		sl.gen = 1
	}
	s.free = append(s.free, idx)
	s.count--
}

// elapsed is now-start as a signed quantity so that a start time in the
// future never reads as expired.
func elapsed(now, start uint64) int64 {
	return int64(now - start)
}

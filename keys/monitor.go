// Package keys delivers single key presses from a terminal to a callback.
//
// The terminal is switched to non-canonical, echo-free mode for the lifetime
// of the Monitor so that each byte arrives as soon as it is typed.
package keys

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/notnil/canapp/clock"
	"github.com/notnil/canapp/internal/metrics"
)

// Escape is the key code of the ESC key.
const Escape byte = 27

// DefaultPollInterval is the sleep between terminal polls.
const DefaultPollInterval = 5 * time.Millisecond

var ErrRunning = errors.New("keys: monitor already running")

// Terminal is a source of key presses.
type Terminal interface {
	// MakeRaw switches the terminal to non-canonical mode without echo and
	// returns a function that restores the previous mode.
	MakeRaw() (restore func() error, err error)
	// ReadKey returns the next pending byte without blocking. ok is false
	// when nothing is pending.
	ReadKey() (key byte, ok bool, err error)
}

// KeyHandler receives one key code per press.
type KeyHandler func(key byte)

// Option configures a Monitor.
type Option func(*Monitor)

// WithPollInterval sets the sleep between polls. Non-positive values are
// ignored.
func WithPollInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.poll = d
		}
	}
}

// WithLogger sets the logger for raw-mode and read failures.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Monitor) { m.log = l }
}

// WithMetrics counts key presses on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Monitor) { m.metrics = c }
}

// Monitor polls a Terminal on its own goroutine.
type Monitor struct {
	term    Terminal
	poll    time.Duration
	log     zerolog.Logger
	metrics *metrics.Collector

	stop atomic.Bool

	mu      sync.Mutex
	done    chan struct{}
	restore func() error
}

func NewMonitor(term Terminal, opts ...Option) *Monitor {
	m := &Monitor{
		term: term,
		poll: DefaultPollInterval,
		log:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init puts the terminal in raw mode and starts polling it, calling cb for
// every byte read. A terminal that cannot be made raw, such as redirected
// input, is still polled.
func (m *Monitor) Init(cb KeyHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done != nil {
		return ErrRunning
	}
	if m.term == nil {
		return errors.New("keys.init: no terminal")
	}

	restore, err := m.term.MakeRaw()
	if err != nil {
		m.log.Warn().Err(err).Msg("terminal raw mode unavailable")
		restore = nil
	}
	m.restore = restore

	m.stop.Store(false)
	m.done = make(chan struct{})
	go m.run(cb, m.done)
	return nil
}

// Terminate stops polling, waits for the worker to exit and restores the
// terminal mode. It is safe to call more than once.
//
// It must not be called from the key handler, which runs on the worker
// being joined.
func (m *Monitor) Terminate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done == nil {
		return
	}
	m.stop.Store(true)
	<-m.done
	m.done = nil

	if m.restore != nil {
		if err := m.restore(); err != nil {
			m.log.Warn().Err(err).Msg("terminal restore failed")
		}
		m.restore = nil
	}
}

func (m *Monitor) run(cb KeyHandler, done chan struct{}) {
	defer close(done)
	var lastErr error
	for !m.stop.Load() {
		key, ok, err := m.term.ReadKey()
		switch {
		case err != nil:
			if lastErr == nil || err.Error() != lastErr.Error() {
				ev := m.log.Warn()
				if errors.Is(err, io.EOF) {
					ev = m.log.Debug()
				}
				ev.Err(err).Msg("key read failed")
			}
			lastErr = err
		case ok:
			lastErr = nil
			m.metrics.Key()
			if cb != nil {
				cb(key)
			}
		}
		clock.Sleep(m.poll)
	}
}

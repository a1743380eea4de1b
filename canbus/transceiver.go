package canbus

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

// ConnState is the lifecycle state of a Transceiver's bus connection.
type ConnState int32

const (
	Disconnected ConnState = iota
	Connecting
	Connected
	Disconnecting
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("ConnState(%d)", int32(s))
	}
}

// DefaultPollInterval is the receive worker's sleep between drains. It is the
// latency floor for frame delivery.
const DefaultPollInterval = 500 * time.Microsecond

// Option configures a Transceiver.
type Option func(*Transceiver)

// WithPollInterval sets the receive worker's idle sleep.
func WithPollInterval(d time.Duration) Option {
	return func(t *Transceiver) {
		if d > 0 {
			t.poll = d
		}
	}
}

// WithLogger sets the logger for connection and transfer events.
func WithLogger(l zerolog.Logger) Option {
	return func(t *Transceiver) { t.log = l }
}

// WithMetrics counts frames, drops and failures on m. A nil m disables
// metrics.
func WithMetrics(m *metrics.Collector) Option {
	return func(t *Transceiver) { t.metrics = m }
}

// WithFilter drops received data frames that do not match f before they
// reach the receive callback.
func WithFilter(f FrameFilter) Option {
	return func(t *Transceiver) { t.filter = f }
}

// WithClock replaces the time source used for frame timestamps.
func WithClock(c clock.Source) Option {
	return func(t *Transceiver) {
		if c != nil {
			t.clock = c
		}
	}
}

type handlers struct {
	rx FrameHandler
	tx FrameHandler
}

// Transceiver owns one bus connection. A dedicated worker goroutine drains
// inbound frames into the receive callback; Transmit is synchronous and may
// be called from any goroutine, including from inside the receive callback.
//
// The connection mutex is held only around the read and write calls on the
// Conn, never while a callback runs.
type Transceiver struct {
	dial    Dialer
	poll    time.Duration
	log     zerolog.Logger
	metrics *metrics.Collector
	filter  FrameFilter
	clock   clock.Source

	handlers  atomic.Pointer[handlers]
	connected atomic.Bool
	stop      atomic.Bool

	// ctl serializes Connect and Disconnect.
	ctl sync.Mutex

	mu     sync.Mutex
	state  ConnState
	conn   Conn
	device string
	origin uint64
	done   chan struct{}
}

// NewTransceiver returns a disconnected Transceiver that opens connections
// with dial.
func NewTransceiver(dial Dialer, opts ...Option) *Transceiver {
	t := &Transceiver{
		dial:  dial,
		poll:  DefaultPollInterval,
		log:   zerolog.Nop(),
		clock: clock.System,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Init registers the receive and transmit-completed callbacks. Either may be
// nil. It does not open a connection.
func (t *Transceiver) Init(onReceive, onTransmit FrameHandler) {
	t.handlers.Store(&handlers{rx: onReceive, tx: onTransmit})
}

// Terminate disconnects and drops the registered callbacks.
func (t *Transceiver) Terminate() {
	t.Disconnect()
	t.handlers.Store(nil)
}

// Connect opens the named device, forcing a disconnect first if already
// connected. On failure the Transceiver stays disconnected and Connect may
// be retried.
func (t *Transceiver) Connect(device string) bool {
	return t.ConnectErr(device) == nil
}

// ConnectErr is Connect reporting why the connection could not be opened.
func (t *Transceiver) ConnectErr(device string) error {
	t.ctl.Lock()
	defer t.ctl.Unlock()

	t.disconnect()

	if device == "" {
		t.metrics.Connect(false)
		return fmt.Errorf("transceiver.connect: empty device name: %w", ErrNoDevice)
	}
	if t.dial == nil {
		t.metrics.Connect(false)
		return errors.New("transceiver.connect: no dialer configured")
	}

	t.setState(Connecting)
	conn, err := t.dial(device)
	if err != nil {
		t.setState(Disconnected)
		t.metrics.Connect(false)
		return fmt.Errorf("transceiver.connect: open %s failed: %w", device, err)
	}

	origin := t.clock.Micros()
	done := make(chan struct{})

	t.mu.Lock()
	t.conn = conn
	t.device = device
	t.origin = origin
	t.done = done
	t.state = Connected
	t.mu.Unlock()

	t.stop.Store(false)
	t.connected.Store(true)
	go t.run(conn, origin, done)

	t.metrics.Connect(true)
	t.log.Debug().Str("device", device).Msg("bus connected")
	return nil
}

// Disconnect stops the worker, waits for it to exit and closes the
// connection. It is a no-op when not connected.
//
// It must not be called from the receive callback, which runs on the worker
// being joined.
func (t *Transceiver) Disconnect() {
	t.ctl.Lock()
	defer t.ctl.Unlock()
	t.disconnect()
}

func (t *Transceiver) disconnect() {
	t.connected.Store(false)

	t.mu.Lock()
	if t.state != Connected {
		t.mu.Unlock()
		return
	}
	t.state = Disconnecting
	done := t.done
	device := t.device
	t.mu.Unlock()

	t.stop.Store(true)
	<-done

	t.mu.Lock()
	err := t.conn.Close()
	t.conn = nil
	t.device = ""
	t.origin = 0
	t.done = nil
	t.state = Disconnected
	t.mu.Unlock()
	t.stop.Store(false)

	if err != nil {
		t.log.Debug().Err(err).Str("device", device).Msg("close failed")
	}
	t.log.Debug().Str("device", device).Msg("bus disconnected")
}

// Transmit writes f to the bus. It returns false when not connected, when f
// has an invalid identifier, or when the write did not complete. Data beyond
// 8 bytes is silently truncated. On success the transmit callback receives
// the frame stamped with its transmit time.
func (t *Transceiver) Transmit(f Frame) bool {
	if !t.connected.Load() {
		t.metrics.TransmitFailed()
		return false
	}
	f = f.truncated()
	f.Error = false

	var buf [FrameSize]byte
	if err := f.encode(buf[:]); err != nil {
		t.metrics.TransmitFailed()
		t.log.Debug().Err(err).Uint32("id", f.ID).Msg("transmit rejected")
		return false
	}

	t.mu.Lock()
	if t.state != Connected {
		t.mu.Unlock()
		t.metrics.TransmitFailed()
		return false
	}
	f.Timestamp = t.clock.Micros() - t.origin
	n, err := t.conn.Write(buf[:])
	t.mu.Unlock()

	if err != nil || n != FrameSize {
		t.metrics.TransmitFailed()
		t.log.Debug().Err(err).Int("written", n).Str("frame", f.String()).Msg("transmit failed")
		return false
	}
	t.metrics.Transmitted()
	if h := t.handlers.Load(); h != nil && h.tx != nil {
		h.tx(f)
	}
	return true
}

// State returns the current connection state.
func (t *Transceiver) State() ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Connected reports whether Transmit would currently be attempted.
func (t *Transceiver) Connected() bool {
	return t.connected.Load()
}

// Device returns the connected device name, or "" when disconnected.
func (t *Transceiver) Device() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.device
}

func (t *Transceiver) setState(s ConnState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *Transceiver) run(conn Conn, origin uint64, done chan struct{}) {
	defer close(done)
	var buf [FrameSize]byte
	var lastErr error
	for !t.stop.Load() {
		err := t.drain(conn, origin, &buf)
		if err != nil && (lastErr == nil || err.Error() != lastErr.Error()) {
			t.log.Warn().Err(err).Msg("bus read failed")
		}
		lastErr = err
		clock.Sleep(t.poll)
	}
}

// drain delivers every frame currently pending on conn. It returns the read
// error that ended the drain, or nil when the socket simply ran dry.
func (t *Transceiver) drain(conn Conn, origin uint64, buf *[FrameSize]byte) error {
	for !t.stop.Load() {
		t.mu.Lock()
		n, err := conn.Read(buf[:])
		t.mu.Unlock()
		if err != nil {
			if errors.Is(err, ErrWouldBlock) {
				return nil
			}
			t.metrics.ReadError()
			return err
		}
		if n != FrameSize {
			t.metrics.ReadError()
			return fmt.Errorf("transceiver.read: short record (%d bytes)", n)
		}

		var f Frame
		f.decode(buf)
		f.Timestamp = t.clock.Micros() - origin

		switch {
		case f.Error:
			t.metrics.Dropped("error")
			continue
		case f.RTR:
			t.metrics.Dropped("rtr")
			continue
		case t.filter != nil && !t.filter(f):
			t.metrics.Dropped("filtered")
			continue
		}
		t.metrics.Received()
		if h := t.handlers.Load(); h != nil && h.rx != nil {
			h.rx(f)
		}
	}
	return nil
}

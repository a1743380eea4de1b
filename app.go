package canapp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/notnil/canapp/canbus"
	"github.com/notnil/canapp/clock"
	"github.com/notnil/canapp/config"
	"github.com/notnil/canapp/internal/logging"
	"github.com/notnil/canapp/internal/metrics"
	"github.com/notnil/canapp/keys"
	"github.com/notnil/canapp/timer"
)

var (
	// ErrConnectFailed is returned by Run when the bus could not be opened.
	ErrConnectFailed = errors.New("canapp: could not connect to CAN interface")
	ErrRunning       = errors.New("canapp: already running")
)

// Callbacks are the application's hooks. Every field is optional.
type Callbacks struct {
	// OnPreStart runs before the bus is opened. It may change the device
	// with SetDevice.
	OnPreStart func(*App)
	// OnStart runs once the bus is connected.
	OnStart func(*App)
	// OnPreStop runs first on shutdown, with every callback still delivered.
	OnPreStop func(*App)
	// OnStop runs after frame and key delivery has stopped, with the bus
	// still connected.
	OnStop func(*App)
	// OnPostStop runs after the bus is closed. It also runs when the bus
	// could not be opened.
	OnPostStop func(*App)

	OnMessage  func(*App, canbus.Frame)
	OnTransmit func(*App, canbus.Frame)
	// OnKey receives every key except ESC, which ends the run.
	OnKey func(*App, byte)
}

type Option func(*options)

type options struct {
	dial     canbus.Dialer
	term     keys.Terminal
	log      zerolog.Logger
	registry prometheus.Registerer
	clock    clock.Source
}

// WithDialer replaces the SocketCAN dialer, typically with a
// canbus.LoopbackBus in tests.
func WithDialer(d canbus.Dialer) Option {
	return func(o *options) { o.dial = d }
}

// WithTerminal replaces standard input as the key source.
func WithTerminal(t keys.Terminal) Option {
	return func(o *options) { o.term = t }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithRegistry enables metrics on reg.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(o *options) { o.registry = reg }
}

func WithClock(c clock.Source) Option {
	return func(o *options) { o.clock = c }
}

// App is one CAN node application.
type App struct {
	cfg config.Config
	cb  Callbacks
	log zerolog.Logger

	bus    *canbus.Transceiver
	timers *timer.Scheduler
	keys   *keys.Monitor
	router *canbus.Router

	state    atomic.Int32
	running  atomic.Bool
	exit     atomic.Bool
	quiesced atomic.Bool

	mu     sync.Mutex
	device string
}

// New builds an App from cfg. When cfg.Device is empty the first CAN
// interface on the host is used, falling back to config.DefaultDevice.
func New(cfg config.Config, cb Callbacks, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{
		dial:  canbus.DialSocketCAN,
		log:   zerolog.Nop(),
		clock: clock.System,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.term == nil {
		o.term = keys.Stdin()
	}

	m, err := metrics.New(o.registry)
	if err != nil {
		return nil, fmt.Errorf("canapp.new: register metrics failed: %w", err)
	}
	filter, err := canbus.ParseFilter(cfg.Filter)
	if err != nil {
		return nil, fmt.Errorf("canapp.new: parse filter failed: %w", err)
	}

	dial := o.dial
	if cfg.TraceFrames {
		dial = canbus.LoggedDialer(dial, logging.Component(o.log, "frames"), zerolog.InfoLevel, canbus.LogAll, nil)
	}

	device := cfg.Device
	if device == "" {
		if name, ok := canbus.FirstCANInterface(); ok {
			device = name
		} else {
			device = config.DefaultDevice
		}
	}

	a := &App{
		cfg:    cfg,
		cb:     cb,
		log:    o.log,
		router: canbus.NewRouter(),
		device: device,
	}
	a.bus = canbus.NewTransceiver(dial,
		canbus.WithPollInterval(cfg.BusPollInterval),
		canbus.WithLogger(logging.Component(o.log, "bus")),
		canbus.WithMetrics(m),
		canbus.WithFilter(filter),
		canbus.WithClock(o.clock),
	)
	a.timers = timer.NewScheduler(
		timer.WithPollInterval(cfg.TimerPollInterval),
		timer.WithLogger(logging.Component(o.log, "timer")),
		timer.WithMetrics(m),
		timer.WithClock(o.clock),
	)
	a.keys = keys.NewMonitor(o.term,
		keys.WithPollInterval(cfg.KeyPollInterval),
		keys.WithLogger(logging.Component(o.log, "keys")),
		keys.WithMetrics(m),
	)
	return a, nil
}

// Run starts the drivers, connects the bus and blocks until the application
// is asked to exit, then shuts everything down in order. It returns an error
// wrapping ErrConnectFailed when the bus could not be opened; the drivers are
// shut down cleanly in that case too.
func (a *App) Run(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer a.running.Store(false)
	a.exit.Store(false)
	a.quiesced.Store(false)

	a.setState(Initializing)
	a.timers.Run()
	if err := a.keys.Init(a.onKey); err != nil {
		a.log.Warn().Err(err).Msg("key input disabled")
	}
	a.bus.Init(a.onMessage, a.onTransmit)
	a.hook(a.cb.OnPreStart)

	a.setState(Connecting)
	device := a.Device()
	var runErr error
	if err := a.bus.ConnectErr(device); err != nil {
		a.setState(ConnectFailed)
		a.log.Error().Err(err).Str("device", device).Msg("could not connect to CAN interface")
		runErr = fmt.Errorf("%w %q: %w", ErrConnectFailed, device, err)
		a.setState(Stopping)
	} else {
		a.setState(Connected)
		a.log.Info().Str("device", device).Msg("connected")
		if up, err := canbus.IsInterfaceUp(device); err == nil && !up {
			a.log.Warn().Str("device", device).Msg("interface is down, frames will not be exchanged until it is brought up")
		}
		a.setState(Running)
		a.hook(a.cb.OnStart)
		a.idle(ctx)

		a.setState(Stopping)
		a.hook(a.cb.OnPreStop)
		a.quiesced.Store(true)
		a.hook(a.cb.OnStop)
		a.bus.Disconnect()
	}
	a.hook(a.cb.OnPostStop)

	a.setState(Terminating)
	a.timers.Terminate()
	a.bus.Terminate()
	a.keys.Terminate()
	a.setState(Idle)
	a.log.Debug().Msg("terminated")
	return runErr
}

func (a *App) idle(ctx context.Context) {
	t := time.NewTicker(a.cfg.IdleInterval)
	defer t.Stop()
	for !a.exit.Load() {
		select {
		case <-ctx.Done():
			a.log.Debug().Err(ctx.Err()).Msg("context done")
			return
		case <-t.C:
		}
	}
	a.log.Debug().Msg("exit requested")
}

func (a *App) hook(fn func(*App)) {
	if fn != nil {
		fn(a)
	}
}

func (a *App) onMessage(f canbus.Frame) {
	if a.quiesced.Load() {
		return
	}
	a.router.Dispatch(f)
	if a.cb.OnMessage != nil {
		a.cb.OnMessage(a, f)
	}
}

func (a *App) onTransmit(f canbus.Frame) {
	if a.quiesced.Load() {
		return
	}
	if a.cb.OnTransmit != nil {
		a.cb.OnTransmit(a, f)
	}
}

func (a *App) onKey(k byte) {
	if k == keys.Escape {
		a.Exit()
		return
	}
	if a.quiesced.Load() {
		return
	}
	if a.cb.OnKey != nil {
		a.cb.OnKey(a, k)
	}
}

// Exit asks Run to shut down. It returns immediately.
func (a *App) Exit() {
	a.exit.Store(true)
}

// Transmit sends f on the bus. It reports false when the bus is not
// connected or the frame could not be written.
func (a *App) Transmit(f canbus.Frame) bool {
	return a.bus.Transmit(f)
}

// Handle routes received frames matching filter to h in addition to
// OnMessage. It returns a function that removes the route.
func (a *App) Handle(filter canbus.FrameFilter, h canbus.FrameHandler) (cancel func()) {
	return a.router.Handle(filter, h)
}

func (a *App) Timers() *timer.Scheduler { return a.timers }

func (a *App) Bus() *canbus.Transceiver { return a.bus }

// Logger returns the application logger. Hooks log through it.
func (a *App) Logger() *zerolog.Logger { return &a.log }

// Device returns the interface Run connects to.
func (a *App) Device() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.device
}

// SetDevice changes the interface used by the next connect. Call it from
// OnPreStart to override the configured device.
func (a *App) SetDevice(name string) {
	a.mu.Lock()
	a.device = name
	a.mu.Unlock()
}

func (a *App) State() State {
	return State(a.state.Load())
}

func (a *App) setState(s State) {
	prev := State(a.state.Swap(int32(s)))
	a.log.Trace().Stringer("from", prev).Stringer("to", s).Msg("state")
}

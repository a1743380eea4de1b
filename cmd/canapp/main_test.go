package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notnil/canapp"
	"github.com/notnil/canapp/canbus"
	"github.com/notnil/canapp/config"
)

type fakeTerminal struct {
	mu      sync.Mutex
	pending []byte
}

func (f *fakeTerminal) MakeRaw() (func() error, error) { return func() error { return nil }, nil }

func (f *fakeTerminal) ReadKey() (byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return 0, false, nil
	}
	k := f.pending[0]
	f.pending = f.pending[1:]
	return k, true, nil
}

func (f *fakeTerminal) press(keys string) {
	f.mu.Lock()
	f.pending = append(f.pending, keys...)
	f.mu.Unlock()
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// newFlagCmd returns a command carrying the root flags, bound to a fresh
// rootOpts.
func newFlagCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	addRootFlags(cmd.PersistentFlags())
	require.NoError(t, cmd.ParseFlags(args))
	t.Cleanup(func() {
		rootOpts.configPath, rootOpts.device, rootOpts.logLevel = "", "", ""
		rootOpts.metricsAddr, rootOpts.filter, rootOpts.trace = "", "", false
	})
	return cmd
}

func fastConfig(device string) config.Config {
	cfg := config.Default()
	cfg.Device = device
	cfg.IdleInterval = time.Millisecond
	cfg.BusPollInterval = 100 * time.Microsecond
	cfg.TimerPollInterval = 100 * time.Microsecond
	cfg.KeyPollInterval = 200 * time.Microsecond
	return cfg
}

type harness struct {
	app  *canapp.App
	bus  *canbus.LoopbackBus
	term *fakeTerminal
	peer canbus.Conn
	errc chan error
}

func start(t *testing.T, cb canapp.Callbacks) *harness {
	t.Helper()
	h := &harness{
		bus:  canbus.NewLoopbackBus("vcan0"),
		term: &fakeTerminal{},
		errc: make(chan error, 1),
	}
	t.Cleanup(func() { _ = h.bus.Close() })

	started := make(chan struct{})
	onStart := cb.OnStart
	cb.OnStart = func(a *canapp.App) {
		if onStart != nil {
			onStart(a)
		}
		close(started)
	}

	app, err := canapp.New(fastConfig("vcan0"), cb,
		canapp.WithDialer(h.bus.Dialer()), canapp.WithTerminal(h.term))
	require.NoError(t, err)
	h.app = app

	h.peer, err = h.bus.Open("vcan0")
	require.NoError(t, err)

	go func() { h.errc <- app.Run(context.Background()) }()
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("application did not start")
	}
	t.Cleanup(func() {
		h.app.Exit()
		select {
		case <-h.errc:
		case <-time.After(5 * time.Second):
			t.Error("Run did not return")
		}
	})
	return h
}

func (h *harness) collect(t *testing.T, n int, within time.Duration) []canbus.Frame {
	t.Helper()
	var got []canbus.Frame
	require.Eventually(t, func() bool {
		for {
			f, err := canbus.ReadFrame(h.peer)
			if err != nil {
				break
			}
			got = append(got, f)
		}
		return len(got) >= n
	}, within, time.Millisecond)
	return got
}

func TestPingPongApp(t *testing.T) {
	var out syncBuffer
	h := start(t, pingPongApp(&out))
	require.NoError(t, canbus.WriteFrame(h.peer, canbus.MustFrame(0x7FE, []byte{1, 2})))

	got := h.collect(t, 1, time.Second)
	assert.Equal(t, canbus.MustFrame(0x7FF, []byte{1, 2}), got[0])
	assert.Contains(t, out.String(), "Echo all received CAN messages back with RX ID + 1")
}

func TestTxKeyApp(t *testing.T) {
	var out syncBuffer
	h := start(t, txKeyApp(&out))
	h.term.press("txtt")

	got := h.collect(t, 3, time.Second)
	for i, f := range got {
		assert.Equal(t, uint32(0x201), f.ID)
		assert.Equal(t, []byte{byte(i)}, f.Payload())
	}
}

func TestPeriodicApp(t *testing.T) {
	var out syncBuffer
	h := start(t, periodicApp(&out))
	h.term.press("e")

	got := h.collect(t, 2, 3*time.Second)
	h.term.press("d")
	assert.Equal(t, uint32(0x3F1), got[0].ID)
	assert.True(t, got[0].Extended)
	assert.Equal(t, []byte{0x00, 0xFF}, got[0].Payload())
	assert.Equal(t, []byte{0x01, 0xFE}, got[1].Payload())
	assert.Contains(t, out.String(), "ID 3F1h")
}

func TestLoggerApp(t *testing.T) {
	var out syncBuffer
	h := start(t, loggerApp(&out))
	require.NoError(t, canbus.WriteFrame(h.peer, canbus.Frame{ID: 0x100, Len: 1, Data: [8]byte{0x05}}))
	require.NoError(t, canbus.WriteFrame(h.peer, canbus.Frame{ID: 0x3F1, Extended: true, Len: 2, Data: [8]byte{0x05, 0xFA}}))

	require.Eventually(t, func() bool {
		s := out.String()
		return strings.Contains(s, "100  [1] 05") && strings.Contains(s, "3f1x [2] 05 fa")
	}, time.Second, time.Millisecond)
}

func TestTemplateApp(t *testing.T) {
	var out syncBuffer
	start(t, templateApp(&out))
	assert.Contains(t, out.String(), "connected to vcan0")
	assert.Contains(t, out.String(), "'ESC'-key quits the application")
}

func TestLoadConfigPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "canapp.toml")
	require.NoError(t, os.WriteFile(path, []byte("device = \"can1\"\nlog_level = \"debug\"\nfilter = \"100\"\n"), 0o600))

	cmd := newFlagCmd(t, "--config", path, "--log-level", "warn", "--trace")
	cfg, err := loadConfig(cmd, []string{"can2"})
	require.NoError(t, err)
	assert.Equal(t, "can2", cfg.Device)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.True(t, cfg.TraceFrames)
	assert.Equal(t, "100", cfg.Filter)
}

func TestLoadConfigRejectsBadFlag(t *testing.T) {
	cmd := newFlagCmd(t, "--log-level", "loud")
	_, err := loadConfig(cmd, nil)
	assert.Error(t, err)
}

func TestRunAppInterfaceOverride(t *testing.T) {
	bus := canbus.NewLoopbackBus("vcan1")
	defer bus.Close()

	cmd := newFlagCmd(t, "--interface", "vcan1")
	var stderr syncBuffer
	cmd.SetErr(&stderr)
	cmd.SetContext(context.Background())

	var device string
	cb := canapp.Callbacks{
		OnStart: func(a *canapp.App) {
			device = a.Bus().Device()
			a.Exit()
		},
	}
	err := runApp(cmd, []string{"vcan0"}, cb,
		canapp.WithDialer(bus.Dialer()), canapp.WithTerminal(&fakeTerminal{}))
	require.NoError(t, err)
	assert.Equal(t, "vcan1", device)
}

func TestRunAppConnectFailure(t *testing.T) {
	bus := canbus.NewLoopbackBus("vcan0")
	defer bus.Close()

	cmd := newFlagCmd(t)
	var stderr, stdout syncBuffer
	cmd.SetErr(&stderr)
	cmd.SetOut(&stdout)
	cmd.SetContext(context.Background())

	err := runApp(cmd, []string{"can5"}, canapp.Callbacks{},
		canapp.WithDialer(bus.Dialer()), canapp.WithTerminal(&fakeTerminal{}))
	require.ErrorIs(t, err, canapp.ErrConnectFailed)
	assert.Contains(t, stderr.String(), `could not connect to SocketCAN network interface "can5"`)
}

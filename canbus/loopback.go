package canbus

import (
	"fmt"
	"sync"
)

// LoopbackBus is an in-memory CAN bus for tests and simulations. Endpoints
// opened on the same device exchange frames; like SocketCAN without
// CAN_RAW_RECV_OWN_MSGS, a sender does not receive its own frames.
type LoopbackBus struct {
	mu      sync.RWMutex
	closed  bool
	devices map[string]map[*loopEndpoint]struct{}
	// strict limits Open to the devices named at construction.
	strict bool
}

const loopbackQueue = 256

// NewLoopbackBus creates a new loopback bus. When devices are given, Open
// fails with ErrNoDevice for any other name; otherwise every name is valid.
func NewLoopbackBus(devices ...string) *LoopbackBus {
	b := &LoopbackBus{devices: make(map[string]map[*loopEndpoint]struct{})}
	for _, d := range devices {
		b.devices[d] = make(map[*loopEndpoint]struct{})
		b.strict = true
	}
	return b
}

// Open creates a new endpoint attached to device.
func (b *LoopbackBus) Open(device string) (Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	eps, ok := b.devices[device]
	if !ok {
		if b.strict {
			return nil, fmt.Errorf("loopback.open: %s: %w", device, ErrNoDevice)
		}
		eps = make(map[*loopEndpoint]struct{})
		b.devices[device] = eps
	}
	ep := &loopEndpoint{
		bus:    b,
		device: device,
		ch:     make(chan [FrameSize]byte, loopbackQueue),
	}
	eps[ep] = struct{}{}
	return ep, nil
}

// Dialer returns a Dialer that opens endpoints on this bus.
func (b *LoopbackBus) Dialer() Dialer {
	return b.Open
}

// Endpoints returns the number of open endpoints on device.
func (b *LoopbackBus) Endpoints(device string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.devices[device])
}

// Close closes the bus and detaches all endpoints.
func (b *LoopbackBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, eps := range b.devices {
		for ep := range eps {
			ep.closeNoLock()
		}
	}
	b.devices = nil
	return nil
}

type loopEndpoint struct {
	bus    *LoopbackBus
	device string
	ch     chan [FrameSize]byte

	mu      sync.Mutex
	dead    bool
	dropped int
}

// Write broadcasts one can_frame record to all other endpoints on the same
// device. A receiver whose queue is full drops the frame, as a real socket
// receive queue would.
func (e *loopEndpoint) Write(p []byte) (int, error) {
	if len(p) < FrameSize {
		return 0, fmt.Errorf("canbus: need %d bytes, got %d", FrameSize, len(p))
	}
	var rec [FrameSize]byte
	copy(rec[:], p)

	e.bus.mu.RLock()
	defer e.bus.mu.RUnlock()
	if e.isDead() || e.bus.closed {
		return 0, ErrClosed
	}
	for ep := range e.bus.devices[e.device] {
		if ep == e {
			continue
		}
		ep.deliver(rec)
	}
	return FrameSize, nil
}

func (e *loopEndpoint) deliver(rec [FrameSize]byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		return
	}
	select {
	case e.ch <- rec:
	default:
		e.dropped++
	}
}

// Read returns the next pending record or ErrWouldBlock.
func (e *loopEndpoint) Read(p []byte) (int, error) {
	select {
	case rec, ok := <-e.ch:
		if !ok {
			return 0, ErrClosed
		}
		return copy(p, rec[:]), nil
	default:
	}
	if e.isDead() {
		return 0, ErrClosed
	}
	return 0, ErrWouldBlock
}

// Close detaches the endpoint from the bus.
func (e *loopEndpoint) Close() error {
	e.bus.mu.Lock()
	e.closeNoLock()
	e.bus.mu.Unlock()
	return nil
}

func (e *loopEndpoint) isDead() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dead
}

func (e *loopEndpoint) closeNoLock() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		return
	}
	e.dead = true
	close(e.ch)
	if e.bus.devices != nil {
		delete(e.bus.devices[e.device], e)
	}
}

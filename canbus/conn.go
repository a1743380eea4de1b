package canbus

import (
	"errors"
	"io"
)

// Conn is a raw frame endpoint carrying struct can_frame records.
//
// Read must not block: when no frame is pending it returns ErrWouldBlock.
// Write may block until the record is queued. Both transfer whole
// FrameSize records; a count other than FrameSize is a failed transfer.
type Conn interface {
	io.ReadWriteCloser
}

// Dialer opens a Conn on the named device.
type Dialer func(device string) (Conn, error)

var (
	// ErrWouldBlock is returned by Conn.Read when no frame is available.
	ErrWouldBlock = errors.New("canbus: no frame available")

	// ErrClosed indicates the bus or endpoint has been closed.
	ErrClosed = errors.New("canbus: closed")

	// ErrNoDevice is returned by a Dialer for an unknown device name.
	ErrNoDevice = errors.New("canbus: no such device")
)

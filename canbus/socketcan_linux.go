//go:build linux

package canbus

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// writeTimeout bounds how long a write waits for room in the socket's
// transmit queue before it is reported as failed.
const writeTimeout = 100 * time.Millisecond

// socketCAN implements Conn over a Linux SocketCAN raw socket.
type socketCAN struct {
	fd        int
	closeOnce sync.Once
	closeErr  error
}

// DialSocketCAN opens a non-blocking raw CAN socket bound to the given
// interface name (e.g. "can0", "vcan0"). Every failure releases the socket.
func DialSocketCAN(device string) (Conn, error) {
	if len(device) == 0 || len(device) >= ifNameSize {
		return nil, fmt.Errorf("canbus: invalid interface name %q", device)
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socketcan.dial: socket failed: %w", err)
	}

	netIf, err := net.InterfaceByName(device)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("socketcan.dial: resolve %s failed: %w", device, errors.Join(ErrNoDevice, err))
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("socketcan.dial: set non-blocking failed: %w", err)
	}

	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: netIf.Index}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("socketcan.dial: bind %s failed: %w", device, err)
	}
	return &socketCAN{fd: fd}, nil
}

// Read performs one non-blocking read of a can_frame record.
func (s *socketCAN) Read(p []byte) (int, error) {
	n, err := unix.Read(s.fd, p)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
			return 0, ErrWouldBlock
		}
		if err == unix.EBADF {
			return 0, ErrClosed
		}
		return 0, err
	}
	return n, nil
}

// Write writes one can_frame record, waiting up to writeTimeout for the
// transmit queue to drain when it is full.
func (s *socketCAN) Write(p []byte) (int, error) {
	deadline := time.Now().Add(writeTimeout)
	for {
		n, err := unix.Write(s.fd, p)
		if err == nil {
			return n, nil
		}
		if err != unix.EAGAIN && err != unix.EWOULDBLOCK && err != unix.ENOBUFS && err != unix.EINTR {
			return 0, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, err
		}
		fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLOUT}}
		if _, perr := unix.Poll(fds, int(remaining/time.Millisecond)+1); perr != nil && perr != unix.EINTR {
			return 0, perr
		}
	}
}

func (s *socketCAN) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = unix.Close(s.fd)
	})
	return s.closeErr
}

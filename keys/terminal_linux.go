package keys

import (
	"errors"
	"fmt"
	"io"

	"golang.org/x/sys/unix"
)

const rawClear = unix.ICANON | unix.ECHO | unix.ECHOE | unix.ECHOK | unix.ECHONL | unix.ECHOPRT | unix.ECHOKE

type fdTerminal struct {
	fd int
}

// Stdin returns the process's standard input as a Terminal.
func Stdin() Terminal {
	return &fdTerminal{fd: unix.Stdin}
}

func (t *fdTerminal) MakeRaw() (func() error, error) {
	orig, err := unix.IoctlGetTermios(t.fd, unix.TCGETS)
	if err != nil {
		return nil, fmt.Errorf("keys.raw: get termios failed: %w", err)
	}
	raw := *orig
	raw.Lflag &^= rawClear
	if err := unix.IoctlSetTermios(t.fd, unix.TCSETS, &raw); err != nil {
		return nil, fmt.Errorf("keys.raw: set termios failed: %w", err)
	}
	saved := *orig
	return func() error {
		return unix.IoctlSetTermios(t.fd, unix.TCSETS, &saved)
	}, nil
}

func (t *fdTerminal) ReadKey() (byte, bool, error) {
	fds := []unix.PollFd{{Fd: int32(t.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, 0)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("keys.read: poll failed: %w", err)
	}
	if n == 0 || fds[0].Revents&(unix.POLLIN|unix.POLLHUP) == 0 {
		return 0, false, nil
	}
	var buf [1]byte
	r, err := unix.Read(t.fd, buf[:])
	switch {
	case err != nil:
		if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("keys.read: read failed: %w", err)
	case r == 0:
		return 0, false, io.EOF
	}
	return buf[0], true, nil
}

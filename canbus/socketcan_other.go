//go:build !linux

package canbus

import (
	"errors"
	"fmt"
)

var errUnsupported = errors.New("canbus: SocketCAN requires linux")

// DialSocketCAN is only available on Linux.
func DialSocketCAN(device string) (Conn, error) {
	return nil, fmt.Errorf("socketcan.dial: %s: %w", device, errUnsupported)
}

func IsCANInterface(string) bool { return false }

func FirstCANInterface() (string, bool) { return "", false }

func IsInterfaceUp(string) (bool, error) { return false, errUnsupported }

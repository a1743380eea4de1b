//go:build linux

package canbus

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// Linux network interface helpers.

const ifNameSize = unix.IFNAMSIZ

func ioctlIfreq(name string, req uint) (*unix.Ifreq, error) {
	if len(name) == 0 || len(name) >= ifNameSize {
		return nil, fmt.Errorf("canbus: invalid interface name %q", name)
	}
	ifr, err := unix.NewIfreq(name)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, err
	}
	defer unix.Close(fd)
	if err := unix.IoctlIfreq(fd, req, ifr); err != nil {
		return nil, err
	}
	return ifr, nil
}

// IsCANInterface reports whether the named interface has the CAN hardware
// type (ARPHRD_CAN). Real and virtual (vcan) interfaces both qualify.
func IsCANInterface(name string) bool {
	ifr, err := ioctlIfreq(name, unix.SIOCGIFHWADDR)
	if err != nil {
		return false
	}
	// The union starts with the hardware address sa_family.
	return ifr.Uint16() == unix.ARPHRD_CAN
}

// FirstCANInterface returns the first CAN interface on the system.
func FirstCANInterface() (string, bool) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", false
	}
	for _, ifc := range ifaces {
		if IsCANInterface(ifc.Name) {
			return ifc.Name, true
		}
	}
	return "", false
}

// IsInterfaceUp returns true if the Linux network interface has IFF_UP set.
func IsInterfaceUp(name string) (bool, error) {
	ifr, err := ioctlIfreq(name, unix.SIOCGIFFLAGS)
	if err != nil {
		return false, err
	}
	return ifr.Uint16()&unix.IFF_UP != 0, nil
}

//go:build !linux

package keys

import "errors"

var errUnsupported = errors.New("keys: terminal input is only supported on linux")

type noTerminal struct{}

// Stdin returns a Terminal that never reports a key on this platform.
func Stdin() Terminal { return noTerminal{} }

func (noTerminal) MakeRaw() (func() error, error) { return nil, errUnsupported }

func (noTerminal) ReadKey() (byte, bool, error) { return 0, false, nil }

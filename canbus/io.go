package canbus

import (
	"fmt"
	"io"
)

// ReadFrame reads and decodes one frame from c. It returns ErrWouldBlock when
// c has nothing pending.
func ReadFrame(c io.Reader) (Frame, error) {
	var buf [FrameSize]byte
	n, err := c.Read(buf[:])
	if err != nil {
		return Frame{}, err
	}
	if n != FrameSize {
		return Frame{}, fmt.Errorf("canbus: short read (%d bytes)", n)
	}
	var f Frame
	if err := f.UnmarshalBinary(buf[:]); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// WriteFrame encodes f and writes it to c as one record.
func WriteFrame(c io.Writer, f Frame) error {
	var buf [FrameSize]byte
	if err := f.encode(buf[:]); err != nil {
		return err
	}
	n, err := c.Write(buf[:])
	if err != nil {
		return err
	}
	if n != FrameSize {
		return fmt.Errorf("canbus: short write (%d bytes)", n)
	}
	return nil
}

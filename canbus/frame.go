package canbus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Frame represents a classical CAN (2.0A/2.0B) frame.
//
// Supported features:
//   - Standard (11-bit) and Extended (29-bit) identifiers
//   - Data frames, Remote Transmission Request (RTR) and error frames on receive
//   - Data length 0-8 bytes (classical CAN)
//
// Timestamp is set by the Transceiver: microseconds since the connection's
// time origin. It is not part of the wire encoding.
type Frame struct {
	ID        uint32 // 11-bit (std) or 29-bit (ext)
	Extended  bool   // true for 29-bit identifier
	RTR       bool   // remote transmission request
	Error     bool   // error frame reported by the controller
	Len       uint8  // 0..8
	Data      [8]byte
	Timestamp uint64
}

// FrameSize is the size of the Linux struct can_frame.
const FrameSize = 16

const (
	maxStdID = 0x7FF
	maxExtID = 0x1FFFFFFF
	maxLen   = 8

	canEffFlag = 0x80000000
	canRtrFlag = 0x40000000
	canErrFlag = 0x20000000
	canEffMask = 0x1FFFFFFF
	canStdMask = 0x7FF
)

var (
	ErrInvalidID  = errors.New("canbus: invalid identifier")
	ErrInvalidLen = errors.New("canbus: invalid data length")
)

// Validate returns an error if the frame is not valid.
func (f Frame) Validate() error {
	if f.Len > maxLen {
		return ErrInvalidLen
	}
	if f.Extended {
		if f.ID > maxExtID {
			return ErrInvalidID
		}
	} else if f.ID > maxStdID {
		return ErrInvalidID
	}
	return nil
}

// MustFrame constructs a Frame and panics if invalid. Identifiers above the
// 11-bit range are marked extended.
func MustFrame(id uint32, data []byte) Frame {
	var f Frame
	f.ID = id
	if id > maxStdID {
		f.Extended = true
	}
	if len(data) > maxLen {
		panic(ErrInvalidLen)
	}
	f.Len = uint8(len(data))
	copy(f.Data[:], data)
	if err := f.Validate(); err != nil {
		panic(err)
	}
	return f
}

// Payload returns the used part of Data.
func (f Frame) Payload() []byte {
	n := f.Len
	if n > maxLen {
		n = maxLen
	}
	return f.Data[:n]
}

// truncated returns f with Len clamped to 8.
func (f Frame) truncated() Frame {
	if f.Len > maxLen {
		f.Len = maxLen
	}
	return f
}

// MarshalBinary encodes the frame to the Linux SocketCAN "struct can_frame"
// layout (16 bytes). The timestamp is not encoded.
//
// Layout (little-endian):
//
//	0..3  can_id (with flags: EFF/RTR/ERR)
//	4     can_dlc (data length code)
//	5..7  padding (set to zero)
//	8..15 data bytes
func (f Frame) MarshalBinary() ([]byte, error) {
	buf := make([]byte, FrameSize)
	if err := f.encode(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (f Frame) encode(buf []byte) error {
	if err := f.Validate(); err != nil {
		return err
	}
	id := f.ID
	if f.Extended {
		id |= canEffFlag
	}
	if f.RTR {
		id |= canRtrFlag
	}
	if f.Error {
		id |= canErrFlag
	}
	binary.LittleEndian.PutUint32(buf[0:4], id)
	buf[4] = f.Len
	buf[5], buf[6], buf[7] = 0, 0, 0
	copy(buf[8:16], f.Data[:])
	return nil
}

// UnmarshalBinary decodes a frame from the Linux SocketCAN can_frame layout.
// A length code above 8 is clamped to 8.
func (f *Frame) UnmarshalBinary(data []byte) error {
	if len(data) < FrameSize {
		return fmt.Errorf("canbus: need %d bytes, got %d", FrameSize, len(data))
	}
	f.decode((*[FrameSize]byte)(data))
	return nil
}

func (f *Frame) decode(rec *[FrameSize]byte) {
	id := binary.LittleEndian.Uint32(rec[0:4])
	f.Extended = id&canEffFlag != 0
	f.RTR = id&canRtrFlag != 0
	f.Error = id&canErrFlag != 0
	if f.Extended || f.Error {
		f.ID = id & canEffMask
	} else {
		f.ID = id & canStdMask
	}
	f.Len = rec[4]
	if f.Len > maxLen {
		f.Len = maxLen
	}
	copy(f.Data[:], rec[8:16])
}

// String renders the frame as "ID [LEN] DATA", e.g. "123 [2] DE AD".
func (f Frame) String() string {
	var b strings.Builder
	if f.Extended {
		fmt.Fprintf(&b, "%08X", f.ID)
	} else {
		fmt.Fprintf(&b, "%03X", f.ID)
	}
	fmt.Fprintf(&b, " [%d]", f.Len)
	if f.RTR {
		b.WriteString(" RTR")
		return b.String()
	}
	for _, d := range f.Payload() {
		fmt.Fprintf(&b, " %02X", d)
	}
	return b.String()
}

// Line renders the frame the way a bus logger prints it: timestamp in
// seconds, identifier with an "x" suffix for extended frames, length and data.
//
//	(1.024310) 3f1x [2] 05 fa
func (f Frame) Line() string {
	var b strings.Builder
	fmt.Fprintf(&b, "(%.6f) %x", float64(f.Timestamp)/1e6, f.ID)
	if f.Extended {
		b.WriteByte('x')
	} else {
		b.WriteByte(' ')
	}
	fmt.Fprintf(&b, " [%d]", f.Len)
	for _, d := range f.Payload() {
		fmt.Fprintf(&b, " %02x", d)
	}
	return b.String()
}

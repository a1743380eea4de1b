// Package canbus provides the CAN side of the runtime.
//
// It includes:
//   - A Frame type with validation and the Linux can_frame wire codec
//   - A Transceiver that owns one bus connection, drains received frames
//     into a callback on a worker goroutine and transmits synchronously
//   - A Linux SocketCAN Conn via golang.org/x/sys/unix, plus CAN interface
//     discovery
//   - An in-memory loopback bus for tests and simulations
//   - Frame filters, a filtered Router and a logging Conn decorator
package canbus

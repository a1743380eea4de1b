package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/notnil/canapp"
	"github.com/notnil/canapp/canbus"
	"github.com/notnil/canapp/timer"
)

const rule = "------------------------------------------------------------"

func banner(w io.Writer, title string, lines ...string) {
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, title)
	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, l)
	}
	fmt.Fprintln(w, rule)
}

// templateApp is the empty application a new node starts from.
func templateApp(w io.Writer) canapp.Callbacks {
	return canapp.Callbacks{
		OnStart: func(a *canapp.App) {
			fmt.Fprintln(w, ">>> CANAPP SocketCAN node application <<<")
			fmt.Fprintf(w, "- connected to %s\n", a.Device())
			fmt.Fprintln(w, "- 'ESC'-key quits the application")
			fmt.Fprintln(w)
		},
	}
}

func pingPongApp(w io.Writer) canapp.Callbacks {
	return canapp.Callbacks{
		OnStart: func(*canapp.App) {
			banner(w, "Ping Pong:",
				"* Echo all received CAN messages back with RX ID + 1")
		},
		OnMessage: func(a *canapp.App, f canbus.Frame) {
			f.ID++
			a.Transmit(f)
		},
	}
}

func txKeyApp(w io.Writer) canapp.Callbacks {
	msg := canbus.Frame{ID: 0x201, Len: 1}
	return canapp.Callbacks{
		OnStart: func(*canapp.App) {
			banner(w, "Transmit CAN message on key press:",
				"* Transmit a CAN message with ID 201h each time the 't' key",
				"  is pressed on the keyboard.",
				"* The first data byte of the CAN message contains an",
				"  incrementing counter.")
		},
		OnKey: func(a *canapp.App, key byte) {
			if key != 't' {
				return
			}
			a.Transmit(msg)
			msg.Data[0]++
		},
	}
}

// periodic holds state shared by the key and timer callbacks, which run on
// different goroutines.
type periodic struct {
	mu   sync.Mutex
	tick timer.Handle
	msg  canbus.Frame
}

func periodicApp(w io.Writer) canapp.Callbacks {
	p := &periodic{
		msg: canbus.Frame{ID: 0x3F1, Extended: true, Len: 2, Data: [8]byte{0x00, 0xFF}},
	}
	return canapp.Callbacks{
		OnStart: func(a *canapp.App) {
			banner(w, "Periodic CAN message transmission:",
				"* Press the 'e' key to start the periodic CAN message",
				"  transmission.",
				"* Press the 'd' key to stop it.",
				"* A 500 millisecond timer handles the transmission.",
				"* The CAN message has an 29-bit (ext) ID 3F1h and two data",
				"  bytes containing an incrementing and decrementing counter.")

			h, err := a.Timers().Create(func(h timer.Handle) {
				p.mu.Lock()
				msg := p.msg
				p.msg.Data[0]++
				p.msg.Data[1]--
				p.mu.Unlock()
				a.Transmit(msg)
				_ = a.Timers().Restart(h)
			})
			if err != nil {
				a.Logger().Error().Err(err).Msg("create timer")
				a.Exit()
				return
			}
			p.mu.Lock()
			p.tick = h
			p.mu.Unlock()
		},
		OnKey: func(a *canapp.App, key byte) {
			p.mu.Lock()
			h := p.tick
			p.mu.Unlock()
			switch key {
			case 'e':
				_ = a.Timers().Start(h, 500)
			case 'd':
				_ = a.Timers().Stop(h)
			}
		},
	}
}

func loggerApp(w io.Writer) canapp.Callbacks {
	var mu sync.Mutex
	return canapp.Callbacks{
		OnStart: func(*canapp.App) {
			banner(w, "CAN message logger:",
				"* Displays all received CAN messages on the standard output.")
		},
		OnMessage: func(_ *canapp.App, f canbus.Frame) {
			mu.Lock()
			fmt.Fprintln(w, f.Line())
			mu.Unlock()
		},
	}
}

// Package canapp runs event-driven CAN node applications.
//
// An App wires together three drivers, each polling on its own goroutine:
// a canbus.Transceiver for frames, a timer.Scheduler for periodic work and a
// keys.Monitor for terminal input. Application behavior lives entirely in
// Callbacks:
//
//	app, err := canapp.New(cfg, canapp.Callbacks{
//		OnMessage: func(a *canapp.App, f canbus.Frame) {
//			f.ID++
//			a.Transmit(f)
//		},
//	})
//	if err != nil {
//		return err
//	}
//	return app.Run(ctx)
//
// Frame, timer and key callbacks run concurrently with each other and are not
// serialized. State shared between callback kinds must be guarded by the
// application. Every callback may call back into the App, its Transceiver and
// its Scheduler.
//
// Run returns when ESC is pressed, when Exit is called or when its context is
// cancelled.
package canapp

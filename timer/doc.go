// Package timer runs millisecond periodic timers on a single polling worker.
//
// Timers are created idle, armed with Start and re-armed from their own
// callback with Restart:
//
//	h, _ := s.Create(func(h timer.Handle) {
//		send()
//		s.Restart(h)
//	})
//	s.Start(h, 500)
//
// A running timer whose period has elapsed fires on every scan until it is
// restarted, stopped or deleted. Callbacks run on the worker goroutine with no
// scheduler lock held, so they may call any Scheduler method, including Delete
// on themselves.
package timer

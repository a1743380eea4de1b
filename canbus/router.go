package canbus

import (
	"sync"
)

// FrameHandler receives one frame.
type FrameHandler func(Frame)

// Router fans frames out to any number of filtered handlers.
//
// Dispatch calls matching handlers synchronously on the caller's goroutine,
// in registration order, without holding the router lock, so a handler may
// register or cancel handlers (including itself) while running.
type Router struct {
	mu   sync.RWMutex
	subs []*route
	next uint64
}

type route struct {
	id      uint64
	filter  FrameFilter
	handler FrameHandler
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{}
}

// Handle registers handler for frames matching filter. A nil filter matches
// every frame. The returned cancel function removes the handler; it is safe
// to call more than once.
func (r *Router) Handle(filter FrameFilter, handler FrameHandler) (cancel func()) {
	if handler == nil {
		return func() {}
	}
	r.mu.Lock()
	id := r.next
	r.next++
	r.subs = append(r.subs, &route{id: id, filter: filter, handler: handler})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, s := range r.subs {
			if s.id == id {
				// Copy so a concurrent Dispatch keeps its snapshot intact.
				subs := make([]*route, 0, len(r.subs)-1)
				subs = append(subs, r.subs[:i]...)
				r.subs = append(subs, r.subs[i+1:]...)
				return
			}
		}
	}
}

// Len returns the number of registered handlers.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Dispatch delivers f to every matching handler and reports how many ran.
func (r *Router) Dispatch(f Frame) int {
	r.mu.RLock()
	snapshot := r.subs
	r.mu.RUnlock()

	n := 0
	for _, s := range snapshot {
		if s.filter == nil || s.filter(f) {
			s.handler(f)
			n++
		}
	}
	return n
}

package ws

import (
	"fmt"
	"log/slog"
	"sync"
)

// Handler receives each decoded inbound event. A returned error is logged and
// does not stop delivery to other handlers.
type Handler func(ev Event) error

// Subscription identifies a registered handler.
type Subscription uint64

type subscriber struct {
	id Subscription
	fn Handler
}

// Router decodes inbound frames and fans them out to subscribers in
// subscription order.
type Router struct {
	session *Session
	log     *slog.Logger

	mu   sync.Mutex
	next Subscription
	subs []subscriber
}

func NewRouter(session *Session, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{session: session, log: logger}
}

func (r *Router) Subscribe(h Handler) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.subs = append(r.subs, subscriber{id: r.next, fn: h})
	return r.next
}

// Unsubscribe removes a handler. It reports whether the subscription existed.
func (r *Router) Unsubscribe(id Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.subs {
		if s.id == id {
			r.subs = append(r.subs[:i:i], r.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Clear drops every subscriber.
func (r *Router) Clear() {
	r.mu.Lock()
	r.subs = nil
	r.mu.Unlock()
}

func (r *Router) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Dispatch decodes one frame and delivers it. Malformed frames and unknown
// types are logged and dropped without invoking any handler.
func (r *Router) Dispatch(data []byte) {
	conn := r.session.ConnectionID()
	ev, err := Decode(data)
	if err != nil {
		r.log.Error("message parse error", "conn", conn, "err", err, "data", truncate(data, 256))
		return
	}
	if u, ok := ev.(*Unknown); ok {
		r.log.Debug("unknown message type", "conn", conn, "type", u.Type)
		return
	}
	if info, ok := ev.(*SessionInfo); ok && info.SessionID != "" {
		r.session.setSessionID(info.SessionID)
	}
	r.Deliver(ev)
}

// Deliver fans ev out to the current subscribers.
func (r *Router) Deliver(ev Event) {
	r.mu.Lock()
	subs := make([]subscriber, len(r.subs))
	copy(subs, r.subs)
	r.mu.Unlock()

	for _, s := range subs {
		if err := r.call(s.fn, ev); err != nil {
			r.log.Error("callback error", "conn", r.session.ConnectionID(), "type", ev.EventType(), "subscription", s.id, "err", err)
		}
	}
}

func (r *Router) call(fn Handler, ev Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return fn(ev)
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n]) + "..."
}

// Package hub is the broadcast fan-out: the registry of live sessions and,
// for each one, its active subscriptions' compiled predicates. Publish
// dispatches a newly accepted event to every matching subscription without
// ever blocking on a slow consumer.
package hub

import (
	"github.com/puzpuzpuz/xsync/v3"

	"nightjar.dev/encoders/envelope"
	"nightjar.dev/event"
	"nightjar.dev/matcher"
)

// Sink is the part of a session the hub needs: a place to enqueue outbound
// frames and a way to signal that the session should start closing. It is
// an interface (rather than a concrete *session.S) so that package session
// can depend on package hub without a cycle.
type Sink interface {
	// Enqueue appends frame to the session's send queue. It must not
	// block; it returns false if the queue is full, in which case the hub
	// stops sending to this session and calls Close.
	Enqueue(frame []byte) bool
	// Close marks the session CLOSING and schedules a close frame.
	Close()
}

type entry struct {
	sink Sink
	subs *xsync.MapOf[string, *matcher.Plan]
}

// H is the broadcast hub. The zero value is not usable; use New.
type H struct {
	sessions *xsync.MapOf[string, *entry]
}

// New returns an empty hub.
func New() *H {
	return &H{sessions: xsync.NewMapOf[string, *entry]()}
}

// Register adds a session to the hub. sessionID must be unique for the
// session's lifetime.
func (h *H) Register(sessionID string, sink Sink) {
	h.sessions.Store(sessionID, &entry{
		sink: sink,
		subs: xsync.NewMapOf[string, *matcher.Plan](),
	})
}

// Unregister removes a session and all its subscriptions.
func (h *H) Unregister(sessionID string) {
	h.sessions.Delete(sessionID)
}

// Subscribe installs (or replaces) a subscription's compiled plan for a
// registered session. Unknown sessionID is a no-op: the session may have
// torn down between frame dispatch and this call.
func (h *H) Subscribe(sessionID, subID string, plan *matcher.Plan) {
	e, ok := h.sessions.Load(sessionID)
	if !ok {
		return
	}
	e.subs.Store(subID, plan)
}

// Unsubscribe removes one subscription from a session.
func (h *H) Unsubscribe(sessionID, subID string) {
	e, ok := h.sessions.Load(sessionID)
	if !ok {
		return
	}
	e.subs.Delete(subID)
}

// Publish dispatches ev to every subscription, across every session, whose
// compiled plan matches it. A session whose queue is full is marked
// CLOSING and skipped for the rest of this publish; the publisher never
// blocks on it.
func (h *H) Publish(ev *event.E) {
	h.sessions.Range(func(sessionID string, e *entry) bool {
		e.subs.Range(func(subID string, plan *matcher.Plan) bool {
			if !plan.Matches(ev) {
				return true
			}
			frame := envelope.EventFrame(nil, subID, ev)
			if !e.sink.Enqueue(frame) {
				e.sink.Close()
				return false
			}
			return true
		})
		return true
	})
}

// SessionCount reports how many sessions are currently registered, for the
// operator stats endpoint.
func (h *H) SessionCount() int {
	return h.sessions.Size()
}

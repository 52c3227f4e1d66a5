// Package bus is the in-process notification fabric between the session
// service and push transports. The service announces session lifecycle
// and pending-work events; a transport subscribed to its session reacts
// by flushing over whatever connection it holds, instead of polling.
package bus

import "time"

// Event types published by the session service.
const (
	// SessionCreated fires once when a fresh session enters the live table.
	SessionCreated = "session.created"
	// SessionResumed fires when a checkpointed session is brought back
	// after a restart.
	SessionResumed = "session.resumed"
	// SessionClosed fires after a session leaves the live table. Push
	// transports treat it as the signal to drop their connection.
	SessionClosed = "session.closed"
	// FlushPending means a UI holds state changes or queued scripts that
	// no transport has picked up yet. It fires when the session lock is
	// released with work still on the table; a bare resynchronization
	// flag does not fire it, the transport's heartbeat sweep covers that.
	FlushPending = "flush.pending"
)

// Event is one notification about a session. UI is zero for
// session-scoped events.
type Event struct {
	Type      string
	SessionID string
	UI        int
	At        time.Time
}

// NewEvent stamps an event with the current time.
func NewEvent(typ, sessionID string, ui int) Event {
	return Event{Type: typ, SessionID: sessionID, UI: ui, At: time.Now()}
}

// Handler is invoked synchronously on the publisher's goroutine, which
// may be holding nothing more than its own connection state but is
// often on the session's unlock path. Handlers must not block: a push
// transport does a non-blocking send to its own wake channel and
// returns.
type Handler func(Event) error

// Subscription is the handle to one registered handler. Cancel is
// idempotent and safe to call concurrently with deliveries.
type Subscription interface {
	ID() string
	Type() string
	IsActive() bool
	Cancel()
}

// Bus fans session events out to subscribed transports.
//
// Subscriptions are scoped: a subscriber names the session it cares
// about, or "" to receive the event type across all sessions. Delivery
// is synchronous; handler errors are joined and returned to the
// publisher, which treats them as diagnostics, not failures.
type Bus interface {
	Publish(Event) error
	Subscribe(sessionID, eventType string, h Handler) (Subscription, error)
	// Unsubscribe cancels the subscription. Safe to call with nil.
	Unsubscribe(Subscription)
	// Metrics returns a snapshot of the delivery counters.
	Metrics() Metrics
}

// Metrics counts bus activity since startup.
type Metrics struct {
	Published   uint64 `json:"published"`
	Delivered   uint64 `json:"delivered"`
	Errors      uint64 `json:"errors"`
	Subscribers uint64 `json:"subscribers"`
}

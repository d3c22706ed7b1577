package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the engine. Subscribers filter by namespace
// prefix, e.g. "chat." or "action.".
const (
	KindRemoteEvent = "remote.event" // payload *ingest.ChangeEvent

	KindChatChanged = "chat.changed" // payload ChatChange

	KindActionPending  = "action.pending"  // payload ActionUpdate
	KindActionResolved = "action.resolved" // payload ActionUpdate
	KindActionFailed   = "action.failed"   // payload ActionUpdate

	KindEngineStatus       = "engine.status"       // payload status change
	KindEngineConnected    = "engine.connected"    // no payload
	KindEngineDisconnected = "engine.disconnected" // no payload
)

// ChatChange is the localized invalidation payload: which chat's message
// set or metadata changed.
type ChatChange struct {
	ChatID string
}

// ActionUpdate describes the lifecycle of one optimistic action.
type ActionUpdate struct {
	CorrelationID string
	Kind          string
	ChatID        string
	Error         string
}

// Now builds an event stamped with the current time.
func Now(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}

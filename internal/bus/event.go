package bus

import "time"

// Event represents a coordinator event published on the bus.
//
// Kinds follow a dotted namespace convention, e.g. "presence.online",
// "presence.offline", "message.sent", "message.failed", "message.read",
// "typing.started", "typing.stopped", "connection.bound".
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

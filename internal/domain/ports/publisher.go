package ports

import "streamgate/internal/domain"

// Push message types.
const (
	EventReady          = "ready"
	EventPreloadTimeout = "preload_timeout"
	EventProgressUpdate = "progress"
	EventCompleted      = "done"
	EventPaused         = "paused"
	EventError          = "error"
)

// Publisher delivers push messages to one subscriber. Delivery is fire and
// forget; an unknown subscriber drops the message.
type Publisher interface {
	Publish(subscriber domain.SubscriberID, msgType string, data any)
}

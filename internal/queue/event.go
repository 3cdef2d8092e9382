package queue

import (
	"context"
	"time"

	"github.com/emrgen/omnistore/internal/kind"
)

// ObjectEventsTopic carries every event the engine emits after commit.
var ObjectEventsTopic = "omnistore.object.events"

type EventType string

const (
	ObjectCreated   EventType = "object.created"
	ObjectUpdated   EventType = "object.updated"
	ObjectDeleted   EventType = "object.deleted"
	ReactionChanged EventType = "reaction.changed"
	Bookmarked      EventType = "bookmark.created"
	Unbookmarked    EventType = "bookmark.deleted"
	Viewed          EventType = "object.viewed"
)

// Event is an outbound notification about an object.
type Event struct {
	Type     EventType      `json:"type"`
	Kind     kind.Kind      `json:"kind"`
	ObjectID string         `json:"objectId"`
	ActorID  string         `json:"actorId,omitempty"`
	Label    string         `json:"label,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
	At       time.Time      `json:"at"`
}

type Publisher interface {
	// Publish appends events to the queue in order.
	Publish(ctx context.Context, events ...Event) error
	// Close flushes pending events and releases the connection.
	Close() error
}

type Subscriber interface {
	// Subscribe returns a channel of events that is closed when ctx is done.
	Subscribe(ctx context.Context) (<-chan Event, error)
}

// Package publisher defines how story completion notices leave the process.
// Backends live in the memory and pubsub subpackages.
package publisher

import "context"

// Publisher sends a JSON-serialisable payload to a topic and returns the
// backend message id.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

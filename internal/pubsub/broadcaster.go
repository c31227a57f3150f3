package pubsub

import "context"

// Cluster fan-out contract (NATS in production, recorders in tests).
type Broadcaster interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Health(ctx context.Context) error
}

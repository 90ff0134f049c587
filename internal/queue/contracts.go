package queue

import (
	"context"

	"github.com/iago/content-router/internal/domain"
)

// Producer hands async route requests to a queue backend.
type Producer interface {
	Enqueue(ctx context.Context, message domain.RouteMessage) error
}

// Consumer delivers queued route requests to handler. A handler error
// counts as a failed attempt.
type Consumer interface {
	Consume(ctx context.Context, handler func(context.Context, domain.RouteMessage) error) error
}

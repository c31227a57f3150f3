package ingest

import (
	"context"

	"whalewatch/internal/domain"
)

// Handler consumes one decoded feed event.
type Handler func(ctx context.Context, ev *domain.RawEvent)

// Source delivers raw feed events to a handler until stopped.
type Source interface {
	Start(ctx context.Context, h Handler) error
	Stop() error
}

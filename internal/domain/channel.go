package domain

import "context"

// Channel is a front end (CLI, Telegram) that feeds utterances into the bus
// and renders persona responses.
type Channel interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
}

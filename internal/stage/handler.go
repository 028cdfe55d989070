package stage

import (
	"context"

	"bobine/internal/queue"
)

// Handler describes the contract the workflow manager needs from each
// pipeline stage. Prepare performs cheap validation before the item is
// marked active; Execute does the work and mutates the item in place. The
// manager persists the item after each call.
type Handler interface {
	Prepare(context.Context, *queue.Item) error
	Execute(context.Context, *queue.Item) error
	HealthCheck(context.Context) Health
}

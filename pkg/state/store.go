package state

import "context"

// Store is the shared-state contract the presence layer is built on. Every
// operation maps onto a single atomic primitive of the backing service so
// callers can compose race-safe sequences without holding process-local
// locks across instances.
//
// Numeric keys behave like Redis counters: Get on a missing key returns 0,
// Incr/Decr create the key on first use.
type Store interface {
	Get(ctx context.Context, key string) (int64, error)
	Set(ctx context.Context, key string, value int64) error
	Incr(ctx context.Context, key string) (int64, error)
	Decr(ctx context.Context, key string) (int64, error)

	// SetAdd reports whether the member was newly added.
	SetAdd(ctx context.Context, key, member string) (bool, error)
	SetRemove(ctx context.Context, key, member string) error
	SetContains(ctx context.Context, key, member string) (bool, error)
	SetCardinality(ctx context.Context, key string) (int64, error)
	SetMembers(ctx context.Context, key string) ([]string, error)

	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, keys ...string) error
}

// counter defines the cluster-wide atomic counters that key generation
// relies on.
package counter

import "context"

// Counter is a named, linearizable integer register shared by every node in
// the cluster. A counter that has never been written reads as 0.
type Counter interface {
	Get(ctx context.Context) (int64, error)

	Set(ctx context.Context, value int64) error

	// GetAndIncrement adds one and returns the value from before the increment
	GetAndIncrement(ctx context.Context) (int64, error)

	// CompareAndSet sets the counter to update only if it currently holds
	// expected. Returns whether the swap happened.
	CompareAndSet(ctx context.Context, expected int64, update int64) (bool, error)
}

// Service hands out Counters by name
type Service interface {
	Counter(name string) Counter
}

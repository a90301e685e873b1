// Package tracker keeps the shared record of which rooms each instance has
// subscribed to on the bus. Every instance writes only its own key; peers
// and operators may read any key.
package tracker

import "context"

// Store is the instance-scoped subscription record in the shared store
type Store interface {
	// MarkInterested records roomID for this instance. It reports true only
	// for the caller that actually inserted it, making it a compare-and-set.
	MarkInterested(ctx context.Context, roomID int64) (bool, error)

	// Rooms returns every room recorded for this instance.
	Rooms(ctx context.Context) ([]int64, error)

	// Clear drops this instance's record entirely.
	Clear(ctx context.Context) error

	// InstanceID returns the identity this store writes under.
	InstanceID() string
}

package payload

import (
	"context"
	"time"
)

// DeliveryWindowResolver yields optional pickup/deliver-after timestamps for
// an order. One implementation exists per upstream delivery-date integration;
// SelectResolver picks the first one whose integration is present.
type DeliveryWindowResolver interface {
	// Available reports whether this resolver's upstream integration is
	// active. Probed once at startup.
	Available() bool
	// Window returns nil timestamps when the order carries no window.
	Window(ctx context.Context, ord OrderAccessor) (pickupAfter, deliverAfter *time.Time, err error)
}

// OrderWindowResolver reads the window the checkout integration persisted on
// the order itself.
type OrderWindowResolver struct{}

func (OrderWindowResolver) Available() bool { return true }

func (OrderWindowResolver) Window(ctx context.Context, ord OrderAccessor) (*time.Time, *time.Time, error) {
	pickup, deliver := ord.DeliveryWindow()
	return pickup, deliver, nil
}

// NoWindow is the fallback when no delivery-date integration is installed.
type NoWindow struct{}

func (NoWindow) Available() bool { return true }

func (NoWindow) Window(ctx context.Context, ord OrderAccessor) (*time.Time, *time.Time, error) {
	return nil, nil, nil
}

// SelectResolver probes candidates in order and returns the first available
// one, defaulting to NoWindow.
func SelectResolver(candidates ...DeliveryWindowResolver) DeliveryWindowResolver {
	for _, c := range candidates {
		if c != nil && c.Available() {
			return c
		}
	}
	return NoWindow{}
}

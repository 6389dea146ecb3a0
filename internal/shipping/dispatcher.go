package shipping

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/fieldline/commerce/internal/domain"
)

// Consignment is a fulfillment group handed to a carrier for dispatch.
type Consignment struct {
	OrderNumber string
	Service     string
	Destination *domain.Address
	Items       []domain.LineItem
}

// Confirmation is the carrier's acknowledgement of a dispatched consignment.
type Confirmation struct {
	TrackingNumber string
	DispatchedAt   time.Time
}

// Dispatcher hands consignments to an external carrier.
type Dispatcher interface {
	Dispatch(ctx context.Context, consignment Consignment) (Confirmation, error)
}

// ManualDispatcher acknowledges every consignment immediately with a locally
// generated tracking number. It backs fulfillment services that ship outside
// any carrier integration.
type ManualDispatcher struct {
	clock func() time.Time
	newID func() string
}

// NewManualDispatcher constructs a ManualDispatcher.
func NewManualDispatcher(clock func() time.Time) *ManualDispatcher {
	if clock == nil {
		clock = time.Now
	}
	return &ManualDispatcher{
		clock: clock,
		newID: func() string { return ulid.Make().String() },
	}
}

// Dispatch acknowledges the consignment.
func (d *ManualDispatcher) Dispatch(ctx context.Context, consignment Consignment) (Confirmation, error) {
	if d == nil {
		return Confirmation{}, errors.New("shipping: dispatcher is nil")
	}
	if len(consignment.Items) == 0 {
		return Confirmation{}, errors.New("shipping: consignment has no items")
	}
	return Confirmation{
		TrackingNumber: fmt.Sprintf("MAN-%s", strings.ToUpper(d.newID())),
		DispatchedAt:   d.clock().UTC(),
	}, nil
}

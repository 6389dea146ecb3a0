package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/fieldline/commerce/internal/domain"
	"github.com/fieldline/commerce/internal/notify"
	"github.com/fieldline/commerce/internal/repositories"
	"github.com/fieldline/commerce/internal/shipping"
)

var (
	errFulfillmentRegistryRequired   = errors.New("fulfillment service: repository registry is required")
	errFulfillmentDispatcherRequired = errors.New("fulfillment service: dispatcher is required")
	errFulfillmentClockRequired      = errors.New("fulfillment service: clock is required")
)

// ErrFulfillmentInvalidInput indicates the caller supplied invalid input.
var ErrFulfillmentInvalidInput = errors.New("fulfillment service: invalid input")

// ErrFulfillmentUnavailable indicates the fulfillment service cannot fulfil the request due to missing dependencies or backend issues.
var ErrFulfillmentUnavailable = errors.New("fulfillment service: unavailable")

// ErrFulfillmentNotFound indicates the requested order or fulfillment does not exist.
var ErrFulfillmentNotFound = errors.New("fulfillment service: not found")

// ErrFulfillmentConflict indicates a concurrent modification won.
var ErrFulfillmentConflict = errors.New("fulfillment service: conflict")

// ErrFulfillmentInvalidTransition indicates the current status forbids the
// requested move.
var ErrFulfillmentInvalidTransition = errors.New("fulfillment service: invalid transition")

// FulfillmentServiceDeps wires persistence and the carrier boundary.
type FulfillmentServiceDeps struct {
	Registry    repositories.Registry
	Dispatcher  shipping.Dispatcher
	Mailer      notify.Mailer
	Publisher   EventPublisher
	Clock       func() time.Time
	Logger      func(context.Context, string, map[string]any)
	IDGenerator func() string
}

type fulfillmentService struct {
	reg        repositories.Registry
	dispatcher shipping.Dispatcher
	mailer     notify.Mailer
	publisher  EventPublisher
	newID      func() string
	now        func() time.Time
	logger     func(context.Context, string, map[string]any)
}

// NewFulfillmentService constructs a FulfillmentService enforcing dependency validation.
func NewFulfillmentService(deps FulfillmentServiceDeps) (FulfillmentService, error) {
	if deps.Registry == nil {
		return nil, errFulfillmentRegistryRequired
	}
	if deps.Dispatcher == nil {
		return nil, errFulfillmentDispatcherRequired
	}
	if deps.Clock == nil {
		return nil, errFulfillmentClockRequired
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	service := &fulfillmentService{
		reg:        deps.Registry,
		dispatcher: deps.Dispatcher,
		mailer:     deps.Mailer,
		publisher:  deps.Publisher,
		newID:      idGen,
		now:        func() time.Time { return deps.Clock().UTC() },
		logger:     logger,
	}
	return service, nil
}

// FulfillOrder builds or updates the order's fulfillment groups: every item
// not yet linked to a group is assigned to one keyed by its fulfillment
// service, creating missing groups as pending.
func (s *fulfillmentService) FulfillOrder(ctx context.Context, ref OrderRef) (Order, error) {
	if s == nil || s.reg == nil {
		return Order{}, ErrFulfillmentUnavailable
	}

	var result Order
	err := s.reg.RunInTx(ctx, func(ctx context.Context) error {
		order, err := s.resolve(ctx, ref)
		if err != nil {
			return err
		}
		if order.Cancelled || order.Status != domain.OrderStatusOpen {
			return fmt.Errorf("%w: order status is %s", ErrFulfillmentInvalidTransition, order.Status)
		}

		byService := make(map[string]*Fulfillment)
		for idx := range order.Fulfillments {
			fulfillment := &order.Fulfillments[idx]
			if !domain.IsTerminalFulfillment(fulfillment.Status) {
				byService[fulfillment.Service] = fulfillment
			}
		}

		unassigned := make(map[string][]int)
		for idx, item := range order.Items {
			if item.FulfillmentID != "" || item.FulfillmentStatus == domain.FulfillmentStatusCancelled {
				continue
			}
			service := firstNonEmpty(item.FulfillmentService, "manual")
			unassigned[service] = append(unassigned[service], idx)
		}

		services := make([]string, 0, len(unassigned))
		for service := range unassigned {
			services = append(services, service)
		}
		sort.Strings(services)

		now := s.now()
		for _, service := range services {
			indexes := unassigned[service]
			group, ok := byService[service]
			if !ok {
				created, err := s.reg.Fulfillments().Insert(ctx, Fulfillment{
					ID:        s.newID(),
					OrderID:   order.ID,
					Service:   service,
					Status:    domain.FulfillmentStatusPending,
					CreatedAt: now,
					UpdatedAt: now,
				})
				if err != nil {
					return s.translateRepoError(err)
				}
				order.Fulfillments = append(order.Fulfillments, created)
				group = &order.Fulfillments[len(order.Fulfillments)-1]
				byService[service] = group
			}

			group.TotalItems += len(indexes)
			group.TotalPending += len(indexes)
			group.UpdatedAt = now
			updated, err := s.reg.Fulfillments().Update(ctx, *group)
			if err != nil {
				return s.translateRepoError(err)
			}
			*group = updated

			for _, idx := range indexes {
				item := order.Items[idx]
				item.FulfillmentID = group.ID
				item.FulfillmentStatus = domain.FulfillmentStatusPending
				item.UpdatedAt = now
				saved, err := s.reg.Orders().UpdateItem(ctx, item)
				if err != nil {
					return s.translateRepoError(err)
				}
				order.Items[idx] = saved
			}
		}

		result, err = s.refresh(ctx, order.ID)
		return err
	})
	if err != nil {
		return Order{}, err
	}

	s.publish(ctx, "order.fulfillments.built", result.ID, map[string]any{"groups": len(result.Fulfillments)})
	return result, nil
}

// SendFulfillments dispatches the named groups, or every pending group when
// none are named. A carrier failure leaves that group pending and is logged;
// the remaining groups still dispatch.
func (s *fulfillmentService) SendFulfillments(ctx context.Context, cmd SendFulfillmentsCommand) (Order, error) {
	if s == nil || s.reg == nil {
		return Order{}, ErrFulfillmentUnavailable
	}

	order, err := s.resolve(ctx, cmd.Order)
	if err != nil {
		return Order{}, err
	}

	var subset map[string]struct{}
	if len(cmd.FulfillmentIDs) > 0 {
		subset = make(map[string]struct{}, len(cmd.FulfillmentIDs))
		for _, id := range cmd.FulfillmentIDs {
			subset[strings.TrimSpace(id)] = struct{}{}
		}
	}

	sent := 0
	for _, fulfillment := range order.Fulfillments {
		if subset != nil {
			if _, ok := subset[fulfillment.ID]; !ok {
				continue
			}
		}
		if fulfillment.Status != domain.FulfillmentStatusPending && fulfillment.Status != domain.FulfillmentStatusNone {
			continue
		}

		items := itemsInGroup(order, fulfillment.ID)
		confirmation, err := s.dispatcher.Dispatch(ctx, shipping.Consignment{
			OrderNumber: order.Number,
			Service:     fulfillment.Service,
			Destination: order.ShippingAddress,
			Items:       lineItems(items),
		})
		if err != nil {
			s.logger(ctx, "fulfillment.dispatch_failed", map[string]any{
				"fulfillmentId": fulfillment.ID,
				"service":       fulfillment.Service,
				"error":         err.Error(),
			})
			continue
		}

		now := s.now()
		fulfillment.Status = domain.FulfillmentStatusSent
		fulfillment.TotalSent += fulfillment.TotalPending
		fulfillment.TotalPending = 0
		fulfillment.TrackingNumber = confirmation.TrackingNumber
		fulfillment.UpdatedAt = now
		if _, err := s.reg.Fulfillments().Update(ctx, fulfillment); err != nil {
			return Order{}, s.translateRepoError(err)
		}

		for _, item := range items {
			item.FulfillmentStatus = domain.FulfillmentStatusSent
			item.UpdatedAt = now
			if _, err := s.reg.Orders().UpdateItem(ctx, item); err != nil {
				return Order{}, s.translateRepoError(err)
			}
		}
		sent++

		s.sendShippedNotice(ctx, order, fulfillment)
	}

	result, err := s.refresh(ctx, order.ID)
	if err != nil {
		return Order{}, err
	}

	if sent > 0 {
		s.publish(ctx, "order.fulfillments.sent", result.ID, map[string]any{"sent": sent})
	}
	return result, nil
}

// UpdateFulfillment applies a provider-side correction to one group without
// going through the dispatcher: a tracking number from an out-of-band carrier
// handoff, a status move the carrier reported directly, or both.
func (s *fulfillmentService) UpdateFulfillment(ctx context.Context, cmd UpdateFulfillmentCommand) (Order, error) {
	if s == nil || s.reg == nil {
		return Order{}, ErrFulfillmentUnavailable
	}
	id := strings.TrimSpace(cmd.FulfillmentID)
	if id == "" {
		return Order{}, fmt.Errorf("%w: fulfillment id required", ErrFulfillmentInvalidInput)
	}
	if cmd.Status == nil && cmd.TrackingNumber == nil {
		return Order{}, fmt.Errorf("%w: nothing to update", ErrFulfillmentInvalidInput)
	}

	var result Order
	err := s.reg.RunInTx(ctx, func(ctx context.Context) error {
		order, err := s.resolve(ctx, cmd.Order)
		if err != nil {
			return err
		}

		var target *Fulfillment
		for idx := range order.Fulfillments {
			if order.Fulfillments[idx].ID == id {
				target = &order.Fulfillments[idx]
				break
			}
		}
		if target == nil {
			return fmt.Errorf("%w: unknown fulfillment id", ErrFulfillmentNotFound)
		}

		now := s.now()
		statusChanged := false
		if cmd.Status != nil && *cmd.Status != target.Status {
			if !domain.CanTransitionFulfillment(target.Status, *cmd.Status) {
				return fmt.Errorf("%w: cannot move %s to %s", ErrFulfillmentInvalidTransition, target.Status, *cmd.Status)
			}
			switch *cmd.Status {
			case domain.FulfillmentStatusSent:
				target.TotalSent += target.TotalPending
				target.TotalPending = 0
			case domain.FulfillmentStatusCancelled:
				target.TotalCancelled = target.TotalItems
				target.TotalPending = 0
			}
			target.Status = *cmd.Status
			statusChanged = true
		}
		if cmd.TrackingNumber != nil {
			target.TrackingNumber = strings.TrimSpace(*cmd.TrackingNumber)
		}
		target.UpdatedAt = now
		if _, err := s.reg.Fulfillments().Update(ctx, *target); err != nil {
			return s.translateRepoError(err)
		}

		if statusChanged {
			for _, item := range itemsInGroup(order, id) {
				item.FulfillmentStatus = target.Status
				item.UpdatedAt = now
				if _, err := s.reg.Orders().UpdateItem(ctx, item); err != nil {
					return s.translateRepoError(err)
				}
			}
		}

		result, err = s.refresh(ctx, order.ID)
		return err
	})
	if err != nil {
		return Order{}, err
	}

	s.publish(ctx, "order.fulfillment.updated", result.ID, map[string]any{"fulfillmentId": id})
	return result, nil
}

// CancelFulfillment cancels a single non-terminal group and its items.
func (s *fulfillmentService) CancelFulfillment(ctx context.Context, orderRef OrderRef, fulfillmentID string) (Order, error) {
	if s == nil || s.reg == nil {
		return Order{}, ErrFulfillmentUnavailable
	}
	id := strings.TrimSpace(fulfillmentID)
	if id == "" {
		return Order{}, fmt.Errorf("%w: fulfillment id required", ErrFulfillmentInvalidInput)
	}

	var result Order
	err := s.reg.RunInTx(ctx, func(ctx context.Context) error {
		order, err := s.resolve(ctx, orderRef)
		if err != nil {
			return err
		}

		var target *Fulfillment
		for idx := range order.Fulfillments {
			if order.Fulfillments[idx].ID == id {
				target = &order.Fulfillments[idx]
				break
			}
		}
		if target == nil {
			return fmt.Errorf("%w: unknown fulfillment id", ErrFulfillmentNotFound)
		}
		if domain.IsTerminalFulfillment(target.Status) {
			return fmt.Errorf("%w: fulfillment is %s", ErrFulfillmentInvalidTransition, target.Status)
		}

		now := s.now()
		target.Status = domain.FulfillmentStatusCancelled
		target.TotalCancelled = target.TotalItems
		target.TotalPending = 0
		target.UpdatedAt = now
		if _, err := s.reg.Fulfillments().Update(ctx, *target); err != nil {
			return s.translateRepoError(err)
		}

		for _, item := range itemsInGroup(order, id) {
			item.FulfillmentStatus = domain.FulfillmentStatusCancelled
			item.UpdatedAt = now
			if _, err := s.reg.Orders().UpdateItem(ctx, item); err != nil {
				return s.translateRepoError(err)
			}
		}

		result, err = s.refresh(ctx, order.ID)
		return err
	})
	if err != nil {
		return Order{}, err
	}

	s.publish(ctx, "order.fulfillment.cancelled", result.ID, map[string]any{"fulfillmentId": id})
	return result, nil
}

// refresh reloads the order and persists a freshly derived fulfillment status.
func (s *fulfillmentService) refresh(ctx context.Context, orderID string) (Order, error) {
	order, err := s.reg.Orders().FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.translateRepoError(err)
	}

	derived := domain.ResolveFulfillmentStatus(order.Fulfillments)
	if derived == order.FulfillmentStatus {
		return order, nil
	}

	order.FulfillmentStatus = derived
	order.UpdatedAt = s.now()
	saved, err := s.reg.Orders().Update(ctx, order)
	if err != nil {
		return Order{}, s.translateRepoError(err)
	}
	saved.Items = order.Items
	saved.Transactions = order.Transactions
	saved.Fulfillments = order.Fulfillments
	saved.Refunds = order.Refunds
	return saved, nil
}

func (s *fulfillmentService) sendShippedNotice(ctx context.Context, order Order, fulfillment Fulfillment) {
	if s.mailer == nil || strings.TrimSpace(order.Email) == "" {
		return
	}
	msg := notify.Message{
		To:       order.Email,
		Template: notify.TemplateFulfillmentShipped,
		Subject:  fmt.Sprintf("Order %s shipped", order.Number),
		Data: map[string]any{
			"orderNumber":    order.Number,
			"trackingNumber": fulfillment.TrackingNumber,
			"service":        fulfillment.Service,
		},
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.logger(ctx, "fulfillment.mail_failed", map[string]any{
			"fulfillmentId": fulfillment.ID,
			"error":         err.Error(),
		})
	}
}

func (s *fulfillmentService) publish(ctx context.Context, eventType, orderID string, data map[string]any) {
	if s.publisher == nil {
		return
	}
	event := Event{
		Type:       eventType,
		ObjectKind: "order",
		ObjectID:   orderID,
		Data:       data,
		OccurredAt: s.now(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger(ctx, "fulfillment.event_publish_failed", map[string]any{
			"orderId": orderID,
			"error":   err.Error(),
		})
	}
}

func (s *fulfillmentService) resolve(ctx context.Context, ref OrderRef) (Order, error) {
	id := strings.TrimSpace(ref.ID)
	token := strings.TrimSpace(ref.Token)

	var (
		order Order
		err   error
	)
	switch {
	case id != "":
		order, err = s.reg.Orders().FindByID(ctx, id)
	case token != "":
		order, err = s.reg.Orders().FindByToken(ctx, token)
	default:
		return Order{}, fmt.Errorf("%w: order reference required", ErrFulfillmentInvalidInput)
	}
	if err != nil {
		return Order{}, s.translateRepoError(err)
	}
	return order, nil
}

func (s *fulfillmentService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrFulfillmentNotFound
		case repoErr.IsConflict():
			return ErrFulfillmentConflict
		}
	}
	return ErrFulfillmentUnavailable
}

func itemsInGroup(order Order, fulfillmentID string) []OrderItem {
	var items []OrderItem
	for _, item := range order.Items {
		if item.FulfillmentID == fulfillmentID {
			items = append(items, item)
		}
	}
	return items
}

func lineItems(items []OrderItem) []LineItem {
	out := make([]LineItem, 0, len(items))
	for _, item := range items {
		out = append(out, item.LineItem)
	}
	return out
}

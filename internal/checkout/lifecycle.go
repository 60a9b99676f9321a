package checkout

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/user"
	"github.com/xenking/kart-checkout/internal/ids"
	"github.com/xenking/kart-checkout/internal/metrics"
	"github.com/xenking/kart-checkout/internal/notify"
	"github.com/xenking/kart-checkout/internal/storage"
)

func (s *Service) startSpan(ctx context.Context, name, orderID string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("order.id", orderID)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// compensate returns an order's stock and releases its coupon. Sizes that no
// longer exist are skipped.
func (s *Service) compensate(ctx context.Context, tx storage.Tx, o *order.Order) error {
	for _, it := range o.Items {
		found, err := tx.Products().CreditStock(ctx, it.Ref(), it.Quantity)
		if err != nil {
			return errors.Wrapf(err, "credit stock of %s", it.ProductName)
		}
		if !found {
			zctx.From(ctx).Debug("Skip restock of missing size",
				zap.String("order_id", o.ID),
				zap.String("size_id", it.SizeID),
			)
		}
	}
	if o.Coupon != nil {
		err := s.engine.Release(ctx, storage.CouponRepos(tx), coupon.Type(o.Coupon.Type), o.Coupon.CouponID, o.ID)
		if err != nil {
			return errors.Wrap(err, "release coupon")
		}
	}
	return nil
}

// DeleteOrder removes an order owned by the caller, or any order for an
// admin. Live orders are compensated first.
func (s *Service) DeleteOrder(ctx context.Context, p auth.Principal, orderID string) (rerr error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "checkout.DeleteOrder", orderID)
	defer func() {
		metrics.RecordOrderOperation(metrics.OpDeleteOrder, start, rerr)
		endSpan(span, rerr)
	}()

	if err := ids.Validate(orderID, ids.Order); err != nil {
		return err
	}

	var deleted *order.Order
	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		o, err := tx.Orders().GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		if o.UserID != p.UserID && !p.IsAdmin() {
			return auth.ErrForbidden
		}
		if o.Status.Live() {
			if err := s.compensate(ctx, tx, o); err != nil {
				return err
			}
		}

		u, err := tx.Users().GetByID(ctx, o.UserID)
		switch {
		case err == nil:
			u.RemoveOrder(o.ID)
			if err := tx.Users().Save(ctx, u); err != nil {
				return errors.Wrap(err, "save user")
			}
		case !errors.Is(err, user.ErrNotFound):
			return errors.Wrap(err, "get order user")
		}

		if err := tx.Orders().Delete(ctx, o.ID); err != nil {
			return errors.Wrap(err, "delete order")
		}
		deleted = o
		return nil
	})
	if err != nil {
		return err
	}

	s.cache.Invalidate(deleted.ProductIDs()...)
	s.events.Emit(ctx, notify.OrderDeleted, notify.OrderDeletedPayload{OrderID: deleted.ID, UserID: deleted.UserID})
	zctx.From(ctx).Info("Order deleted", zap.String("order_id", deleted.ID))
	return nil
}

// UpdateOrder moves an order through its status lifecycle. Admins may update
// any order; owners only orders containing one of their products.
// Cancelling compensates stock and coupon but keeps the record.
func (s *Service) UpdateOrder(ctx context.Context, p auth.Principal, orderID, status string) (_ *order.Order, rerr error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, "checkout.UpdateOrder", orderID)
	defer func() {
		metrics.RecordOrderOperation(metrics.OpUpdateOrder, start, rerr)
		endSpan(span, rerr)
	}()

	if err := ids.Validate(orderID, ids.Order); err != nil {
		return nil, err
	}
	next, err := order.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("order.status", string(next)))

	var (
		updated *order.Order
		changed bool
	)
	err = s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		o, err := tx.Orders().GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		if !p.IsAdmin() {
			owned, err := tx.Products().IDsByOwner(ctx, p.UserID)
			if err != nil {
				return errors.Wrap(err, "list owned products")
			}
			if !o.Contains(owned) {
				return order.ErrUnauthorizedUpdate
			}
		}

		updated, changed = o, false
		if o.Status == next {
			return nil
		}
		if err := order.CanTransition(o.Status, next); err != nil {
			return err
		}
		if next == order.StatusCancelled {
			if err := s.compensate(ctx, tx, o); err != nil {
				return err
			}
		}

		now := s.now()
		if err := tx.Orders().UpdateStatus(ctx, o.ID, next, now); err != nil {
			return errors.Wrap(err, "update status")
		}
		o.Status = next
		o.UpdatedAt = now
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		if next == order.StatusCancelled {
			s.cache.Invalidate(updated.ProductIDs()...)
		}
		s.events.Emit(ctx, notify.OrderUpdated, notify.OrderPayload{Order: updated.Clone()})
		zctx.From(ctx).Info("Order status updated",
			zap.String("order_id", updated.ID),
			zap.String("status", string(next)),
		)
	}
	return updated, nil
}

// GetOrder returns an order visible to the caller: their own, any for an
// admin, or one containing a product the caller owns.
func (s *Service) GetOrder(ctx context.Context, p auth.Principal, orderID string) (*order.Order, error) {
	if err := ids.Validate(orderID, ids.Order); err != nil {
		return nil, err
	}
	repos := s.store.Tx()
	o, err := repos.Orders().GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID == p.UserID || p.IsAdmin() {
		return o, nil
	}
	if p.Role == auth.RoleOwner {
		owned, err := repos.Products().IDsByOwner(ctx, p.UserID)
		if err != nil {
			return nil, errors.Wrap(err, "list owned products")
		}
		if o.Contains(owned) {
			return o, nil
		}
	}
	return nil, auth.ErrForbidden
}

package checkout

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/user"
	"github.com/xenking/kart-checkout/internal/ids"
	"github.com/xenking/kart-checkout/internal/metrics"
	"github.com/xenking/kart-checkout/internal/notify"
	"github.com/xenking/kart-checkout/internal/storage"
)

// CreateOrderRequest is the input of CreateOrder.
type CreateOrderRequest struct {
	UserID          string
	ShippingAddress user.Address
	PaymentMethod   catalog.PaymentMethod
	// Quantities overrides cart line quantities by cart line id.
	Quantities map[string]int
	CouponCode string
}

// CreateOrderResult is the output of CreateOrder.
type CreateOrderResult struct {
	Order           *order.Order
	DiscountApplied bool
	Savings         decimal.Decimal
}

func validateCreate(req CreateOrderRequest) error {
	if !req.ShippingAddress.Complete() {
		return order.ErrMissingShippingAddress
	}
	if req.PaymentMethod == "" {
		return order.ErrMissingPaymentMethod
	}
	if !req.PaymentMethod.Valid() {
		return order.ErrInvalidPaymentMethod
	}
	return nil
}

// CreateOrder turns the user's cart into an order. Stock debits, coupon
// consumption, the order record and the cart reset commit together or not
// at all.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (_ *CreateOrderResult, rerr error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "checkout.CreateOrder")
	defer func() {
		metrics.RecordOrderOperation(metrics.OpCreateOrder, start, rerr)
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	if err := validateCreate(req); err != nil {
		return nil, err
	}
	req.CouponCode = strings.TrimSpace(req.CouponCode)

	var (
		created *order.Order
		touched []string
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		o, err := s.placeOrder(ctx, tx, req)
		if err != nil {
			return err
		}
		created = o
		touched = o.ProductIDs()
		return nil
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("order.id", created.ID))
	s.cache.Invalidate(touched...)
	s.events.Emit(ctx, notify.OrderCreated, notify.OrderPayload{Order: created.Clone()})

	zctx.From(ctx).Info("Order created",
		zap.String("order_id", created.ID),
		zap.String("user_id", created.UserID),
		zap.String("total", created.TotalAmount.StringFixed(2)),
	)
	return &CreateOrderResult{
		Order:           created,
		DiscountApplied: created.Coupon != nil,
		Savings:         created.Discount,
	}, nil
}

// debit is a stock change applied inside the transaction.
type debit struct {
	ref      catalog.StockRef
	original int
}

func (s *Service) placeOrder(ctx context.Context, tx storage.Tx, req CreateOrderRequest) (*order.Order, error) {
	u, err := tx.Users().GetByID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if !u.EmailVerified {
		return nil, order.ErrEmailNotVerified
	}
	if len(u.Cart) == 0 {
		return nil, order.ErrEmptyCart
	}

	productIDs := u.CartProductIDs()
	fetched, err := tx.Products().GetByIDs(ctx, productIDs)
	if err != nil {
		return nil, errors.Wrap(err, "get cart products")
	}
	products := make(map[string]*catalog.Product, len(fetched))
	for i := range fetched {
		products[fetched[i].ID] = &fetched[i]
	}
	if len(products) != len(productIDs) {
		return nil, order.ErrInvalidCartProducts
	}

	var rejecting []string
	for _, id := range productIDs {
		if p := products[id]; !p.Accepts(req.PaymentMethod) {
			rejecting = append(rejecting, p.Name)
		}
	}
	if len(rejecting) > 0 {
		return nil, &order.PaymentMethodNotAllowedError{
			Method:    req.PaymentMethod,
			Products:  rejecting,
			Available: catalog.CommonPaymentMethods(fetched),
		}
	}

	var (
		items    = make([]order.LineItem, 0, len(u.Cart))
		debits   []debit
		debited  = map[catalog.StockRef]bool{}
		subtotal = decimal.Zero
	)
	for _, line := range u.Cart {
		p := products[line.ProductID]
		v := p.Variant(line.VariantID)
		if v == nil {
			return nil, &catalog.VariantNotFoundError{ProductName: p.Name, VariantID: line.VariantID}
		}
		sz := v.Size(line.SizeID)
		if sz == nil {
			return nil, &catalog.SizeNotFoundError{ProductName: p.Name, SizeID: line.SizeID}
		}

		qty := line.Quantity
		if q, ok := req.Quantities[line.ID]; ok {
			qty = q
		}
		if qty < 1 {
			return nil, &order.InvalidQuantityError{ProductName: p.Name, Quantity: qty}
		}
		if sz.Stock < qty {
			return nil, &catalog.InsufficientStockError{
				ProductName: p.Name,
				SizeLabel:   sz.Label,
				Available:   sz.Stock,
				Requested:   qty,
			}
		}

		ref := catalog.StockRef{ProductID: p.ID, VariantID: v.ID, SizeID: sz.ID}
		if err := tx.Products().DebitStock(ctx, ref, qty); err != nil {
			if errors.Is(err, catalog.ErrStockConflict) {
				return nil, &catalog.InsufficientStockError{
					ProductName: p.Name,
					SizeLabel:   sz.Label,
					Available:   sz.Stock,
					Requested:   qty,
				}
			}
			return nil, errors.Wrapf(err, "debit stock of %s", p.Name)
		}
		if !debited[ref] {
			debited[ref] = true
			debits = append(debits, debit{ref: ref, original: sz.Stock})
		}
		// Later lines for the same size see the debited stock.
		sz.Stock -= qty

		subtotal = subtotal.Add(sz.Price.Mul(decimal.NewFromInt(int64(qty))))
		items = append(items, order.LineItem{
			ProductID:   p.ID,
			VariantID:   v.ID,
			SizeID:      sz.ID,
			ProductName: p.Name,
			SizeLabel:   sz.Label,
			Quantity:    qty,
			UnitPrice:   sz.Price,
		})
	}

	var applied *coupon.Result
	if req.CouponCode != "" {
		res, err := s.engine.Apply(ctx, storage.CouponRepos(tx), coupon.ApplyRequest{
			Code:       req.CouponCode,
			User:       u,
			Subtotal:   subtotal,
			ProductIDs: productIDs,
			Mode:       coupon.Commit,
		})
		if err == nil && !res.Valid {
			err = res.Err()
			metrics.RecordCouponOutcome(coupon.Commit.String(), res.Reason.Error())
		} else if err != nil {
			err = &CouponFailedError{Err: err}
		}
		if err != nil {
			if rerr := restoreStock(ctx, tx, debits); rerr != nil {
				return nil, errors.Wrap(rerr, "restore stock")
			}
			return nil, err
		}
		metrics.RecordCouponOutcome(coupon.Commit.String(), "applied")
		applied = res
	}

	now := s.now()
	o := &order.Order{
		ID:              ids.New(ids.Order),
		UserID:          u.ID,
		Items:           items,
		Subtotal:        subtotal.Round(2),
		Discount:        decimal.Zero,
		Status:          order.StatusPending,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		PaymentStatus:   order.PaymentPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if applied != nil {
		o.Discount = applied.Discount.Round(2)
		o.Coupon = &order.AppliedCoupon{
			Code:           applied.Coupon.Code,
			CouponID:       applied.Coupon.ID,
			DiscountAmount: o.Discount,
			Type:           string(applied.Coupon.Type),
		}
	}
	o.TotalAmount = decimal.Max(decimal.Zero, o.Subtotal.Sub(o.Discount)).Round(2)

	if err := tx.Orders().Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	if applied != nil {
		if err := s.consume(ctx, tx, applied, o.ID); err != nil {
			return nil, err
		}
	}

	u.Cart = nil
	u.AddOrder(o.ID)
	if err := tx.Users().Save(ctx, u); err != nil {
		return nil, errors.Wrap(err, "save user")
	}
	return o, nil
}

func (s *Service) consume(ctx context.Context, tx storage.Tx, res *coupon.Result, orderID string) error {
	err := s.engine.Consume(ctx, storage.CouponRepos(tx), res, orderID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, coupon.ErrUsageNotFound), errors.Is(err, coupon.ErrAssignmentNotFound):
		return errors.Wrap(order.ErrReservationMissing, err.Error())
	case errors.Is(err, coupon.ErrUsageLimitReached):
		return &coupon.RejectedError{
			Reason:  coupon.ErrUsageLimitReached,
			Message: coupon.RejectionMessage(coupon.ErrUsageLimitReached),
		}
	case errors.Is(err, coupon.ErrAlreadyConsumed):
		return &coupon.RejectedError{
			Reason:  coupon.ErrUniversalUsed,
			Message: coupon.RejectionMessage(coupon.ErrUniversalUsed),
		}
	default:
		return errors.Wrap(err, "consume coupon")
	}
}

// restoreStock puts every debited size back to its original stock.
func restoreStock(ctx context.Context, tx storage.Tx, debits []debit) error {
	for _, d := range debits {
		if err := tx.Products().SetStock(ctx, d.ref, d.original); err != nil {
			return errors.Wrapf(err, "restore stock of %s", d.ref.SizeID)
		}
	}
	return nil
}

package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/order"
)

type recordingSink struct {
	mu     sync.Mutex
	got    []Message
	err    error
	closed bool
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Send(_ context.Context, m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, m)
	return s.err
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.got...)
}

func TestDispatcherDelivers(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(zap.NewNop(), 8, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()

	d.Emit(ctx, OrderDeleted, OrderDeletedPayload{OrderID: "ord_1", UserID: "user_1"}, To(UserRoom("user_1")))

	require.Eventually(t, func() bool { return len(sink.messages()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	m := sink.messages()[0]
	assert.Equal(t, OrderDeleted, m.Event)
	assert.Equal(t, "user:user_1", m.Room)
	assert.True(t, sink.closed)

	d2 := jx.DecodeBytes(m.Body)
	fields := map[string]string{}
	require.NoError(t, d2.Obj(func(d *jx.Decoder, key string) error {
		if key == "payload" {
			return d.Obj(func(d *jx.Decoder, key string) error {
				v, err := d.Str()
				fields["payload."+key] = v
				return err
			})
		}
		v, err := d.Str()
		fields[key] = v
		return err
	}))
	assert.Equal(t, "orderDeleted", fields["event"])
	assert.Equal(t, "user:user_1", fields["room"])
	assert.Equal(t, "ord_1", fields["payload.orderId"])
	assert.NotEmpty(t, fields["emittedAt"])
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(zap.NewNop(), 1, sink)

	// No worker is running, so the second event cannot be queued.
	d.Emit(context.Background(), CouponCreated, nil)
	d.Emit(context.Background(), CouponUpdated, nil)

	assert.Len(t, d.queue, 1)
	m := <-d.queue
	assert.Equal(t, CouponCreated, m.Event)
}

func TestDispatcherSinkErrorDoesNotStopDelivery(t *testing.T) {
	failing := &recordingSink{err: errors.New("broker down")}
	ok := &recordingSink{}
	d := NewDispatcher(zap.NewNop(), 4, failing, ok)

	d.Emit(context.Background(), OrderCreated, nil)
	d.Emit(context.Background(), OrderUpdated, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Run(ctx))

	assert.Len(t, failing.messages(), 2)
	assert.Len(t, ok.messages(), 2)
}

func TestDispatcherDropsAfterShutdown(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(zap.NewNop(), 4, sink)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Run(ctx))

	d.Emit(context.Background(), OrderCreated, nil)
	assert.Empty(t, d.queue)
}

func TestOrderPayloadEncode(t *testing.T) {
	o := &order.Order{
		ID:          "ord_1",
		UserID:      "user_1",
		Items:       []order.LineItem{{ProductID: "prod_1", Quantity: 2, UnitPrice: decimal.NewFromInt(100)}},
		Subtotal:    decimal.NewFromInt(200),
		Discount:    decimal.NewFromInt(20),
		TotalAmount: decimal.NewFromInt(180),
		Status:      order.StatusPending,
		Coupon:      &order.AppliedCoupon{Code: "WELCOME1", DiscountAmount: decimal.NewFromInt(20), Type: "welcome"},
	}

	e := &jx.Encoder{}
	OrderPayload{Order: o}.Encode(e)

	assert.True(t, jx.Valid(e.Bytes()))
	assert.Contains(t, e.String(), `"totalAmount":"180.00"`)
	assert.Contains(t, e.String(), `"code":"WELCOME1"`)
}

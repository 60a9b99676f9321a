// Package notify delivers best-effort domain events to external sinks.
// Emitting never blocks the caller and never fails it.
package notify

import (
	"context"
	"time"

	"github.com/go-faster/jx"
)

// Event names.
const (
	OrderCreated   = "orderCreated"
	OrderUpdated   = "orderUpdated"
	OrderDeleted   = "orderDeleted"
	CouponCreated  = "couponCreated"
	CouponUpdated  = "couponUpdated"
	CouponDeleted  = "couponDeleted"
	CouponAssigned = "couponAssigned"
	// CouponIssued is sent to a user's room when issuance grants a coupon.
	CouponIssued = "coupon:assigned"
)

// RoomStaff addresses every owner and admin. The empty room is a broadcast.
const RoomStaff = "role:staff"

// UserRoom returns the room addressing a single user.
func UserRoom(userID string) string { return "user:" + userID }

// Payload is an event body able to encode itself.
type Payload interface {
	Encode(e *jx.Encoder)
}

// Emitter publishes events.
type Emitter interface {
	Emit(ctx context.Context, name string, payload Payload, opts ...Option)
}

// Option tunes a single emission.
type Option func(*Message)

// To addresses the event to room.
func To(room string) Option {
	return func(m *Message) { m.Room = room }
}

// Message is an encoded event ready for delivery.
type Message struct {
	Event     string
	Room      string
	EmittedAt time.Time
	// Body is the full JSON envelope.
	Body []byte
}

func encodeEnvelope(m *Message, payload Payload) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("event")
	e.Str(m.Event)
	e.FieldStart("room")
	e.Str(m.Room)
	e.FieldStart("emittedAt")
	e.Str(m.EmittedAt.UTC().Format(time.RFC3339Nano))
	e.FieldStart("payload")
	if payload == nil {
		e.Null()
	} else {
		payload.Encode(e)
	}
	e.ObjEnd()

	return append([]byte(nil), e.Bytes()...)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Emit(context.Context, string, Payload, ...Option) {}

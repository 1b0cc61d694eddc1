// Package notify delivers fulfillment events to subscribers on a best-effort
// basis. Publishing never blocks the caller and never fails the operation
// that produced the event.
package notify

import (
	"context"
	"time"

	"github.com/go-faster/jx"
)

// Topics published by the engine.
const (
	TopicOrderStatus     = "order.status"
	TopicCourierLocation = "courier.location"
)

// Event is a message routed to Topic and partitioned by Key.
type Event interface {
	Topic() string
	Key() string
	Encode(e *jx.Encoder)
}

// Notifier accepts events for asynchronous delivery.
type Notifier interface {
	Publish(ctx context.Context, ev Event)
}

// Nop discards every event.
type Nop struct{}

// Publish implements Notifier.
func (Nop) Publish(context.Context, Event) {}

// StatusChanged is emitted after every successful lifecycle transition,
// including placement and courier assignment.
type StatusChanged struct {
	OrderID      string
	OrderNumber  string
	CustomerID   string
	RestaurantID string
	CourierID    string
	Status       string
	Note         string
	At           time.Time
}

// Topic implements Event.
func (StatusChanged) Topic() string { return TopicOrderStatus }

// Key implements Event.
func (s StatusChanged) Key() string { return s.OrderID }

// Encode implements Event.
func (s StatusChanged) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("orderId")
	e.Str(s.OrderID)
	e.FieldStart("orderNumber")
	e.Str(s.OrderNumber)
	e.FieldStart("customerId")
	e.Str(s.CustomerID)
	e.FieldStart("restaurantId")
	e.Str(s.RestaurantID)
	if s.CourierID != "" {
		e.FieldStart("courierId")
		e.Str(s.CourierID)
	}
	e.FieldStart("status")
	e.Str(s.Status)
	if s.Note != "" {
		e.FieldStart("note")
		e.Str(s.Note)
	}
	e.FieldStart("timestamp")
	e.Str(s.At.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()
}

// LocationUpdated is emitted when a courier carrying an order reports a new position.
type LocationUpdated struct {
	CourierID string
	OrderID   string
	Lat       float64
	Lng       float64
	At        time.Time
}

// Topic implements Event.
func (LocationUpdated) Topic() string { return TopicCourierLocation }

// Key implements Event.
func (l LocationUpdated) Key() string { return l.OrderID }

// Encode implements Event.
func (l LocationUpdated) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("courierId")
	e.Str(l.CourierID)
	e.FieldStart("orderId")
	e.Str(l.OrderID)
	e.FieldStart("lat")
	e.Float64(l.Lat)
	e.FieldStart("lng")
	e.Float64(l.Lng)
	e.FieldStart("timestamp")
	e.Str(l.At.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()
}

// Marshal encodes ev to JSON.
func Marshal(ev Event) []byte {
	var e jx.Encoder
	ev.Encode(&e)
	return e.Bytes()
}

package courier_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/fulfillment/internal/domain/catalog"
	"github.com/xenking/fulfillment/internal/domain/courier"
	"github.com/xenking/fulfillment/internal/domain/order"
	"github.com/xenking/fulfillment/internal/domain/pricing"
	"github.com/xenking/fulfillment/internal/notify"
	"github.com/xenking/fulfillment/internal/storage/memory"
)

var (
	baseTime    = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	mgRoad      = catalog.Point{Lat: 12.9756, Lng: 77.6050}
	indiranagar = catalog.Point{Lat: 12.9784, Lng: 77.6408}
	mysuru      = catalog.Point{Lat: 12.2958, Lng: 76.6394}
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Publish(_ context.Context, ev notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

type fixture struct {
	svc      *courier.Service
	orders   *memory.Orders
	couriers *memory.Couriers
	earnings *memory.Earnings
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		orders:   memory.NewOrders(),
		couriers: memory.NewCouriers(),
		earnings: memory.NewEarnings(),
		notifier: &recordingNotifier{},
	}
	f.svc = courier.NewService(f.orders, f.couriers, f.earnings, courier.Config{},
		courier.WithNotifier(f.notifier),
		courier.WithClock(func() time.Time { return baseTime.Add(time.Hour) }),
	)
	return f
}

// readyOrder stores an unassigned ready order created n minutes after baseTime.
func (f *fixture) readyOrder(t *testing.T, n int, at catalog.Point) *order.Order {
	t.Helper()
	created := baseTime.Add(time.Duration(n) * time.Minute)
	o := &order.Order{
		ID:              fmt.Sprintf("order-%03d", n),
		Number:          order.NewNumber(created),
		CustomerID:      "cust-1",
		RestaurantID:    "rest-1",
		DeliveryAddress: catalog.Address{Line1: "somewhere", Location: at},
		Pricing:         pricing.Pricing{DeliveryFee: decimal.NewFromInt(30)},
		Status:          order.StatusReady,
		History:         []order.StatusEntry{{Status: order.StatusReady, At: created}},
		CreatedAt:       created,
		UpdatedAt:       created,
	}
	require.NoError(t, f.orders.Create(context.Background(), o))
	return o
}

// onlineCourier registers a courier and puts it online at the given point.
func (f *fixture) onlineCourier(t *testing.T, id string, at catalog.Point) {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.Register(ctx, id, courier.VehicleMotorcycle, "KA01AB1234")
	require.NoError(t, err)
	p, err := f.svc.ToggleOnline(ctx, id)
	require.NoError(t, err)
	require.True(t, p.IsAvailable)
	if !at.Unset() {
		_, err = f.svc.UpdateLocation(ctx, id, at)
		require.NoError(t, err)
	}
}

func TestService_ListAvailableUnsetLocation(t *testing.T) {
	tests := []struct {
		name string
		at   catalog.Point
	}{
		{name: "never reported", at: catalog.Point{}},
		{name: "zero latitude", at: catalog.Point{Lat: 0, Lng: mgRoad.Lng}},
		{name: "zero longitude", at: catalog.Point{Lat: mgRoad.Lat, Lng: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			for i := 25; i > 0; i-- {
				f.readyOrder(t, i, mysuru)
			}
			f.onlineCourier(t, "rider-1", catalog.Point{})
			_, err := f.svc.UpdateLocation(ctx, "rider-1", tt.at)
			require.NoError(t, err)

			got, err := f.svc.ListAvailable(ctx, "rider-1")
			require.NoError(t, err)
			require.Len(t, got, courier.DefaultListLimit)
			for i, o := range got {
				assert.Equal(t, fmt.Sprintf("order-%03d", i+1), o.ID, "oldest first")
			}
		})
	}
}

func TestService_ListAvailableWithinRadius(t *testing.T) {
	f := newFixture(t)
	f.readyOrder(t, 1, mysuru)
	f.readyOrder(t, 2, indiranagar)
	f.readyOrder(t, 3, mgRoad)
	f.onlineCourier(t, "rider-1", mgRoad)

	got, err := f.svc.ListAvailable(context.Background(), "rider-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "order-002", got[0].ID)
	assert.Equal(t, "order-003", got[1].ID)

	_, err = f.svc.ListAvailable(context.Background(), "ghost")
	require.ErrorIs(t, err, courier.ErrNotFound)
}

func TestService_ClaimRace(t *testing.T) {
	const riders = 12
	f := newFixture(t)
	target := f.readyOrder(t, 1, mgRoad)
	for i := range riders {
		f.onlineCourier(t, fmt.Sprintf("rider-%d", i), mgRoad)
	}

	var (
		mu      sync.Mutex
		winners []string
		losers  int
	)
	var g errgroup.Group
	for i := range riders {
		id := fmt.Sprintf("rider-%d", i)
		g.Go(func() error {
			_, err := f.svc.Claim(context.Background(), id, target.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, id)
			case errors.Is(err, order.ErrAlreadyTaken):
				losers++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Len(t, winners, 1)
	assert.Equal(t, riders-1, losers)

	stored, err := f.orders.Get(context.Background(), target.ID)
	require.NoError(t, err)
	assert.Equal(t, winners[0], stored.CourierID)
	assert.Equal(t, order.StatusPickedUp, stored.Status)
	require.Len(t, stored.History, 2)
	assert.True(t, stored.History[1].At.After(stored.History[0].At))

	for i := range riders {
		p, err := f.svc.Profile(context.Background(), fmt.Sprintf("rider-%d", i))
		require.NoError(t, err)
		if p.CourierID == winners[0] {
			assert.False(t, p.IsAvailable)
			assert.Equal(t, target.ID, p.CurrentOrderID)
			continue
		}
		assert.True(t, p.IsAvailable, "loser %s keeps availability", p.CourierID)
		assert.Empty(t, p.CurrentOrderID)
	}
}

func TestService_ClaimRejects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.readyOrder(t, 1, mgRoad)
	second := f.readyOrder(t, 2, mgRoad)

	_, err := f.svc.Register(ctx, "sleepy", courier.VehicleBicycle, "")
	require.NoError(t, err)
	_, err = f.svc.Claim(ctx, "sleepy", first.ID)
	require.ErrorIs(t, err, courier.ErrNotAvailable)

	_, err = f.svc.Claim(ctx, "ghost", first.ID)
	require.ErrorIs(t, err, courier.ErrNotFound)

	f.onlineCourier(t, "busy", mgRoad)
	_, err = f.svc.Claim(ctx, "busy", first.ID)
	require.NoError(t, err)
	_, err = f.svc.Claim(ctx, "busy", second.ID)
	require.ErrorIs(t, err, courier.ErrNotAvailable)

	f.onlineCourier(t, "late", mgRoad)
	_, err = f.svc.Claim(ctx, "late", first.ID)
	require.ErrorIs(t, err, order.ErrAlreadyTaken)

	_, err = f.svc.Claim(ctx, "late", "order-missing")
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestService_Settle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.readyOrder(t, 1, mgRoad)
	f.onlineCourier(t, "rider-1", mgRoad)

	claimed, err := f.svc.Claim(ctx, "rider-1", o.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.Settle(ctx, claimed))

	p, err := f.svc.Profile(ctx, "rider-1")
	require.NoError(t, err)
	assert.True(t, p.IsAvailable)
	assert.Empty(t, p.CurrentOrderID)
	assert.Equal(t, 1, p.Stats.Deliveries)
	assert.True(t, decimal.NewFromInt(24).Equal(p.Stats.Earnings), "earnings %s", p.Stats.Earnings)

	records, total, err := f.earnings.List(ctx, "rider-1", 10, 0)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, o.ID, records[0].OrderID)
	assert.True(t, decimal.NewFromInt(21).Equal(records[0].BaseFee))
	assert.True(t, decimal.NewFromInt(3).Equal(records[0].DistanceBonus))

	require.NoError(t, f.svc.Settle(ctx, claimed), "repeated settlement is harmless")
	p, err = f.svc.Profile(ctx, "rider-1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Stats.Deliveries)
}

func TestService_SettleWithoutCourier(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	ctx := zctx.Base(context.Background(), zap.New(core))
	f := newFixture(t)
	o := f.readyOrder(t, 1, mgRoad)
	o.Status = order.StatusDelivered

	require.NoError(t, f.svc.Settle(ctx, o))

	_, total, err := f.earnings.List(ctx, "", 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Equal(t, 1, logs.FilterMessageSnippet("no courier").Len())
}

func TestService_Register(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	p, err := f.svc.Register(ctx, "rider-1", courier.VehicleCar, "KA05MN0001")
	require.NoError(t, err)
	assert.False(t, p.IsOnline)
	assert.False(t, p.IsAvailable)
	assert.True(t, p.Location.Unset())

	_, err = f.svc.Register(ctx, "rider-1", courier.VehicleCar, "")
	require.ErrorIs(t, err, courier.ErrAlreadyRegistered)

	_, err = f.svc.Register(ctx, "rider-2", courier.VehicleType("rocket"), "")
	require.ErrorIs(t, err, courier.ErrInvalidVehicle)
}

func TestService_ToggleOnlineKeepsBusyCourierUnavailable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.readyOrder(t, 1, mgRoad)
	f.onlineCourier(t, "rider-1", mgRoad)
	_, err := f.svc.Claim(ctx, "rider-1", o.ID)
	require.NoError(t, err)

	p, err := f.svc.ToggleOnline(ctx, "rider-1")
	require.NoError(t, err)
	assert.False(t, p.IsOnline)
	assert.False(t, p.IsAvailable)

	p, err = f.svc.ToggleOnline(ctx, "rider-1")
	require.NoError(t, err)
	assert.True(t, p.IsOnline)
	assert.False(t, p.IsAvailable, "still carrying an order")
}

func TestService_UpdateLocation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.readyOrder(t, 1, mgRoad)
	f.onlineCourier(t, "rider-1", mgRoad)

	_, err := f.svc.UpdateLocation(ctx, "rider-1", catalog.Point{Lat: 91, Lng: 0})
	require.ErrorIs(t, err, courier.ErrInvalidLocation)

	_, err = f.svc.Claim(ctx, "rider-1", o.ID)
	require.NoError(t, err)

	p, err := f.svc.UpdateLocation(ctx, "rider-1", indiranagar)
	require.NoError(t, err)
	assert.Equal(t, indiranagar, p.Location)

	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	last := f.notifier.events[len(f.notifier.events)-1]
	loc, ok := last.(notify.LocationUpdated)
	require.True(t, ok, "got %T", last)
	assert.Equal(t, o.ID, loc.OrderID)
	assert.Equal(t, indiranagar.Lat, loc.Lat)
}

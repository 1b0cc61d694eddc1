package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/fulfillment/internal/domain/auth"
	"github.com/xenking/fulfillment/internal/domain/catalog"
	"github.com/xenking/fulfillment/internal/domain/coupon"
	"github.com/xenking/fulfillment/internal/domain/courier"
	"github.com/xenking/fulfillment/internal/handler"
)

type itemJSON struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Price    decimal.Decimal  `json:"price"`
	Variants []catalog.Option `json:"variants"`
	Addons   []catalog.Option `json:"addons"`
}

type restaurantJSON struct {
	ID             string          `json:"id"`
	OwnerID        string          `json:"ownerId"`
	Name           string          `json:"name"`
	DeliveryFee    decimal.Decimal `json:"deliveryFee"`
	MinOrderAmount decimal.Decimal `json:"minOrderAmount"`
	Items          []itemJSON      `json:"items"`
}

type addressJSON struct {
	ID      string `json:"id"`
	OwnerID string `json:"ownerId"`
	catalog.Address
}

type courierJSON struct {
	ID            string              `json:"id"`
	VehicleType   courier.VehicleType `json:"vehicleType"`
	VehicleNumber string              `json:"vehicleNumber"`
}

type seedFile struct {
	Restaurants []restaurantJSON `json:"restaurants"`
	Addresses   []addressJSON    `json:"addresses"`
	Couriers    []courierJSON    `json:"couriers"`
}

func loadSeed(path string) (*seedFile, error) {
	slog.Info("reading catalog file", slog.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read catalog file")
	}

	var s seedFile
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, "parse catalog JSON")
	}
	for _, c := range s.Couriers {
		if !c.VehicleType.Valid() {
			return nil, errors.Errorf("courier %s: unknown vehicle type %q", c.ID, c.VehicleType)
		}
	}
	return &s, nil
}

type catalogWriter interface {
	UpsertRestaurant(ctx context.Context, r catalog.Restaurant) error
	UpsertItem(ctx context.Context, it catalog.Item) error
	UpsertAddress(ctx context.Context, id, ownerID string, a catalog.Address) error
}

type couponWriter interface {
	Upsert(ctx context.Context, c *coupon.Coupon) error
}

type keyWriter interface {
	Upsert(ctx context.Context, k auth.APIKeyInfo) error
}

type seeder struct {
	catalog  catalogWriter
	couriers courier.Repository
	coupons  couponWriter
	keys     keyWriter
	now      func() time.Time
}

func (s seeder) seed(ctx context.Context, f *seedFile, apiKey, pepper string) error {
	if s.now == nil {
		s.now = time.Now
	}
	if err := s.seedCatalog(ctx, f); err != nil {
		return errors.Wrap(err, "seed catalog")
	}
	if err := s.seedCouriers(ctx, f.Couriers); err != nil {
		return errors.Wrap(err, "seed couriers")
	}
	if err := s.seedCoupons(ctx); err != nil {
		return errors.Wrap(err, "seed coupons")
	}
	if err := s.seedAPIKey(ctx, apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}
	return nil
}

func (s seeder) seedCatalog(ctx context.Context, f *seedFile) error {
	slog.Info("upserting restaurants", slog.Int("count", len(f.Restaurants)))

	for _, r := range f.Restaurants {
		if err := s.catalog.UpsertRestaurant(ctx, catalog.Restaurant{
			ID:             r.ID,
			OwnerID:        r.OwnerID,
			Name:           r.Name,
			IsActive:       true,
			DeliveryFee:    r.DeliveryFee,
			MinOrderAmount: r.MinOrderAmount,
		}); err != nil {
			return errors.Wrapf(err, "upsert restaurant %s", r.ID)
		}
		for _, it := range r.Items {
			if err := s.catalog.UpsertItem(ctx, catalog.Item{
				ID:           it.ID,
				RestaurantID: r.ID,
				Name:         it.Name,
				Price:        it.Price,
				Variants:     it.Variants,
				Addons:       it.Addons,
				IsAvailable:  true,
			}); err != nil {
				return errors.Wrapf(err, "upsert item %s", it.ID)
			}
		}

		slog.Info("upserted restaurant", slog.String("id", r.ID), slog.Int("items", len(r.Items)))
	}

	for _, a := range f.Addresses {
		if err := s.catalog.UpsertAddress(ctx, a.ID, a.OwnerID, a.Address); err != nil {
			return errors.Wrapf(err, "upsert address %s", a.ID)
		}
	}
	return nil
}

func (s seeder) seedCouriers(ctx context.Context, couriers []courierJSON) error {
	now := s.now().UTC()
	for _, c := range couriers {
		err := s.couriers.Create(ctx, &courier.Profile{
			CourierID:     c.ID,
			VehicleType:   c.VehicleType,
			VehicleNumber: c.VehicleNumber,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
		switch {
		case errors.Is(err, courier.ErrAlreadyRegistered):
			slog.Info("courier already registered", slog.String("id", c.ID))
		case err != nil:
			return errors.Wrapf(err, "create courier %s", c.ID)
		default:
			slog.Info("created courier", slog.String("id", c.ID))
		}
	}
	return nil
}

func (s seeder) seedCoupons(ctx context.Context) error {
	slog.Info("seeding starter coupons")

	now := s.now().UTC()
	coupons := []coupon.Coupon{
		{
			Code:                "WELCOME50",
			Description:         "50% off your first orders, up to 150",
			DiscountType:        coupon.DiscountPercentage,
			DiscountValue:       decimal.NewFromInt(50),
			MinOrderAmount:      decimal.NewFromInt(199),
			MaxDiscount:         decimal.NewFromInt(150),
			ValidFrom:           now,
			ValidUntil:          now.AddDate(1, 0, 0),
			UsageLimit:          100_000,
			IsActive:            true,
			MaxUsagePerCustomer: 3,
		},
		{
			Code:           "FLAT75",
			Description:    "75 off orders above 499",
			DiscountType:   coupon.DiscountFlat,
			DiscountValue:  decimal.NewFromInt(75),
			MinOrderAmount: decimal.NewFromInt(499),
			ValidFrom:      now,
			ValidUntil:     now.AddDate(0, 3, 0),
			UsageLimit:     10_000,
			IsActive:       true,
		},
		{
			Code:                "DOSA20",
			Description:         "20% off at Dosa Corner",
			DiscountType:        coupon.DiscountPercentage,
			DiscountValue:       decimal.NewFromInt(20),
			MaxDiscount:         decimal.NewFromInt(60),
			ValidFrom:           now,
			ValidUntil:          now.AddDate(0, 1, 0),
			UsageLimit:          500,
			IsActive:            true,
			RestaurantID:        "rest-dosa-corner",
			MaxUsagePerCustomer: 1,
		},
	}

	for i := range coupons {
		c := &coupons[i]
		if err := s.coupons.Upsert(ctx, c); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.Code)
		}

		slog.Info("upserted coupon", slog.String("code", c.Code), slog.String("description", c.Description))
	}
	return nil
}

func (s seeder) seedAPIKey(ctx context.Context, apiKey, pepper string) error {
	slog.Info("seeding gateway API key")

	if err := s.keys.Upsert(ctx, auth.APIKeyInfo{
		ID:      "gateway",
		KeyHash: handler.Hash([]byte(pepper), apiKey),
		Name:    "Edge gateway",
		Scopes:  []string{auth.ScopeAll},
	}); err != nil {
		return errors.Wrap(err, "upsert gateway API key")
	}

	slog.Info("upserted API key", slog.String("id", "gateway"), slog.String("name", "Edge gateway"))
	return nil
}

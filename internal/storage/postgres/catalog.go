package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/fulfillment/internal/domain/catalog"
)

const (
	getItemsSQL = `SELECT id, restaurant_id, name, price, variants, addons, is_available
		FROM menu_items WHERE id = ANY($1) AND restaurant_id = $2 AND is_available`

	getRestaurantSQL = `SELECT id, owner_id, name, is_active, delivery_fee, min_order_amount
		FROM restaurants WHERE id = $1`

	getAddressSQL = `SELECT line1, line2, city, pincode, lat, lng
		FROM addresses WHERE id = $1 AND owner_id = $2`

	upsertRestaurantSQL = `INSERT INTO restaurants (id, owner_id, name, is_active, delivery_fee, min_order_amount)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET owner_id = EXCLUDED.owner_id, name = EXCLUDED.name,
			is_active = EXCLUDED.is_active, delivery_fee = EXCLUDED.delivery_fee,
			min_order_amount = EXCLUDED.min_order_amount`

	upsertItemSQL = `INSERT INTO menu_items (id, restaurant_id, name, price, variants, addons, is_available)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET restaurant_id = EXCLUDED.restaurant_id, name = EXCLUDED.name,
			price = EXCLUDED.price, variants = EXCLUDED.variants, addons = EXCLUDED.addons,
			is_available = EXCLUDED.is_available`

	upsertAddressSQL = `INSERT INTO addresses (id, owner_id, line1, line2, city, pincode, lat, lng)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET owner_id = EXCLUDED.owner_id, line1 = EXCLUDED.line1,
			line2 = EXCLUDED.line2, city = EXCLUDED.city, pincode = EXCLUDED.pincode,
			lat = EXCLUDED.lat, lng = EXCLUDED.lng`
)

var (
	_ catalog.Items       = (*CatalogStore)(nil)
	_ catalog.Restaurants = (*CatalogStore)(nil)
	_ catalog.Addresses   = (*CatalogStore)(nil)
)

// CatalogStore reads the locally stored collaborator read models: menu
// items, restaurants and customer addresses.
type CatalogStore struct {
	pool *pgxpool.Pool
}

// NewCatalogStore returns a CatalogStore that uses the given pool.
func NewCatalogStore(pool *pgxpool.Pool) *CatalogStore {
	return &CatalogStore{pool: pool}
}

// GetItems returns the available items among ids that belong to restaurantID.
func (r *CatalogStore) GetItems(ctx context.Context, ids []string, restaurantID string) ([]catalog.Item, error) {
	rows, err := r.pool.Query(ctx, getItemsSQL, ids, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("getting menu items: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Item, error) {
		var (
			it               catalog.Item
			variants, addons []byte
		)
		if err := row.Scan(&it.ID, &it.RestaurantID, &it.Name, &it.Price, &variants, &addons, &it.IsAvailable); err != nil {
			return it, err
		}
		if err := json.Unmarshal(variants, &it.Variants); err != nil {
			return it, fmt.Errorf("unmarshaling variants of %q: %w", it.ID, err)
		}
		if err := json.Unmarshal(addons, &it.Addons); err != nil {
			return it, fmt.Errorf("unmarshaling addons of %q: %w", it.ID, err)
		}
		return it, nil
	})
	if err != nil {
		return nil, fmt.Errorf("getting menu items: %w", err)
	}
	return items, nil
}

// GetRestaurant returns the restaurant or catalog.ErrRestaurantNotFound.
func (r *CatalogStore) GetRestaurant(ctx context.Context, id string) (*catalog.Restaurant, error) {
	var rest catalog.Restaurant
	err := r.pool.QueryRow(ctx, getRestaurantSQL, id).Scan(
		&rest.ID, &rest.OwnerID, &rest.Name, &rest.IsActive, &rest.DeliveryFee, &rest.MinOrderAmount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrRestaurantNotFound
		}
		return nil, fmt.Errorf("getting restaurant %q: %w", id, err)
	}
	return &rest, nil
}

// GetAddress returns the address if it belongs to ownerID.
func (r *CatalogStore) GetAddress(ctx context.Context, id, ownerID string) (*catalog.Address, error) {
	var a catalog.Address
	err := r.pool.QueryRow(ctx, getAddressSQL, id, ownerID).Scan(
		&a.Line1, &a.Line2, &a.City, &a.Pincode, &a.Location.Lat, &a.Location.Lng,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrAddressNotFound
		}
		return nil, fmt.Errorf("getting address %q: %w", id, err)
	}
	return &a, nil
}

// UpsertRestaurant creates or replaces a restaurant.
func (r *CatalogStore) UpsertRestaurant(ctx context.Context, rest catalog.Restaurant) error {
	if _, err := r.pool.Exec(ctx, upsertRestaurantSQL,
		rest.ID, rest.OwnerID, rest.Name, rest.IsActive, rest.DeliveryFee, rest.MinOrderAmount,
	); err != nil {
		return fmt.Errorf("upserting restaurant %q: %w", rest.ID, err)
	}
	return nil
}

// UpsertItem creates or replaces a menu item.
func (r *CatalogStore) UpsertItem(ctx context.Context, it catalog.Item) error {
	variants, err := json.Marshal(nonNil(it.Variants))
	if err != nil {
		return fmt.Errorf("marshaling variants of %q: %w", it.ID, err)
	}
	addons, err := json.Marshal(nonNil(it.Addons))
	if err != nil {
		return fmt.Errorf("marshaling addons of %q: %w", it.ID, err)
	}
	if _, err := r.pool.Exec(ctx, upsertItemSQL,
		it.ID, it.RestaurantID, it.Name, it.Price, variants, addons, it.IsAvailable,
	); err != nil {
		return fmt.Errorf("upserting menu item %q: %w", it.ID, err)
	}
	return nil
}

// UpsertAddress creates or replaces an address owned by ownerID.
func (r *CatalogStore) UpsertAddress(ctx context.Context, id, ownerID string, a catalog.Address) error {
	if _, err := r.pool.Exec(ctx, upsertAddressSQL,
		id, ownerID, a.Line1, a.Line2, a.City, a.Pincode, a.Location.Lat, a.Location.Lng,
	); err != nil {
		return fmt.Errorf("upserting address %q: %w", id, err)
	}
	return nil
}

func nonNil(opts []catalog.Option) []catalog.Option {
	if opts == nil {
		return []catalog.Option{}
	}
	return opts
}

package memory

import (
	"context"
	"sync"

	"github.com/xenking/fulfillment/internal/domain/auth"
	"github.com/xenking/fulfillment/internal/domain/catalog"
)

var (
	_ catalog.Items       = (*Catalog)(nil)
	_ catalog.Restaurants = (*Catalog)(nil)
	_ catalog.Addresses   = (*Catalog)(nil)
	_ auth.Repository     = (*Catalog)(nil)
)

type ownedAddress struct {
	ownerID string
	address catalog.Address
}

// Catalog holds the read models of the engine's collaborators: menu items,
// restaurants, customer addresses and API keys.
type Catalog struct {
	mu          sync.RWMutex
	items       map[string]catalog.Item
	restaurants map[string]catalog.Restaurant
	addresses   map[string]ownedAddress
	keys        map[string]auth.APIKeyInfo
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		items:       make(map[string]catalog.Item),
		restaurants: make(map[string]catalog.Restaurant),
		addresses:   make(map[string]ownedAddress),
		keys:        make(map[string]auth.APIKeyInfo),
	}
}

// PutItem stores or replaces a menu item.
func (c *Catalog) PutItem(it catalog.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[it.ID] = it
}

// PutRestaurant stores or replaces a restaurant.
func (c *Catalog) PutRestaurant(r catalog.Restaurant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restaurants[r.ID] = r
}

// PutAddress stores or replaces an address owned by ownerID.
func (c *Catalog) PutAddress(id, ownerID string, a catalog.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addresses[id] = ownedAddress{ownerID: ownerID, address: a}
}

// PutAPIKey stores a key under its hash.
func (c *Catalog) PutAPIKey(k auth.APIKeyInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys[k.KeyHash] = k
}

// GetItems implements catalog.Items.
func (c *Catalog) GetItems(_ context.Context, ids []string, restaurantID string) ([]catalog.Item, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]catalog.Item, 0, len(ids))
	for _, id := range ids {
		it, ok := c.items[id]
		if !ok || !it.IsAvailable || it.RestaurantID != restaurantID {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}

// GetRestaurant implements catalog.Restaurants.
func (c *Catalog) GetRestaurant(_ context.Context, id string) (*catalog.Restaurant, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.restaurants[id]
	if !ok {
		return nil, catalog.ErrRestaurantNotFound
	}
	return &r, nil
}

// GetAddress implements catalog.Addresses.
func (c *Catalog) GetAddress(_ context.Context, id, ownerID string) (*catalog.Address, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	a, ok := c.addresses[id]
	if !ok || a.ownerID != ownerID {
		return nil, catalog.ErrAddressNotFound
	}
	return &a.address, nil
}

// FindByHash implements auth.Repository.
func (c *Catalog) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	k, ok := c.keys[hash]
	if !ok {
		return nil, auth.ErrUnknownAPIKey
	}
	return &k, nil
}

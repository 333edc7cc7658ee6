package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/teslamotors/fleet-mcp/internal/log"
	"github.com/teslamotors/fleet-mcp/pkg/account"
)

// DefaultMaxAge is the freshness window for cached vehicle data.
const DefaultMaxAge = 60 * time.Second

// Lister fetches the current vehicle list from Fleet API.
type Lister interface {
	ListVehicles(ctx context.Context) ([]account.Vehicle, error)
}

// NotFoundError indicates no cached vehicle matched an identifier.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("vehicle %q not found", e.ID)
}

// VehicleCache holds the account's vehicle list, refetching it from Fleet API once it is older
// than MaxAge. It is safe for concurrent use. Readers never observe a partially replaced list.
type VehicleCache struct {
	MaxAge time.Duration
	// Now returns the current time. Tests replace it with a synthetic clock.
	Now func() time.Time

	lister Lister

	// refreshLock serializes fetches. It's never held by readers, which only need lock.
	refreshLock sync.Mutex

	lock      sync.RWMutex
	vehicles  []account.Vehicle
	fetchedAt time.Time
	lastErr   error
}

// New returns an empty VehicleCache that fetches vehicles using lister.
func New(lister Lister) *VehicleCache {
	return &VehicleCache{
		MaxAge: DefaultMaxAge,
		Now:    time.Now,
		lister: lister,
	}
}

// Vehicles returns the cached vehicles without contacting Fleet API.
func (c *VehicleCache) Vehicles() []account.Vehicle {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.vehicles
}

// FetchedAt returns the time of the last successful fetch, or the zero time if the cache has never
// been populated.
func (c *VehicleCache) FetchedAt() time.Time {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.fetchedAt
}

// LastError returns the error from the most recent fetch attempt, or nil if it succeeded.
func (c *VehicleCache) LastError() error {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.lastErr
}

func (c *VehicleCache) stale() bool {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return len(c.vehicles) == 0 || c.Now().Sub(c.fetchedAt) > c.MaxAge
}

// Get returns the cached vehicles, fetching them first if force is true, the cache is empty, or
// the cache is older than c.MaxAge.
//
// Fetch errors are not returned. If the fetch fails, Get returns the previously cached vehicles
// (possibly none) and leaves the fetch time untouched so the next call tries again. Use
// [VehicleCache.Load] to find out whether the result is stale.
func (c *VehicleCache) Get(ctx context.Context, force bool) []account.Vehicle {
	vehicles, _ := c.Load(ctx, force)
	return vehicles
}

// Load is like [VehicleCache.Get] but also returns the error from the fetch made by this call, if
// any. The vehicles returned alongside a non-nil error are the previously cached ones. Unlike
// [VehicleCache.LastError], the error is not affected by concurrent callers.
func (c *VehicleCache) Load(ctx context.Context, force bool) ([]account.Vehicle, error) {
	if !force && !c.stale() {
		return c.Vehicles(), nil
	}

	c.refreshLock.Lock()
	defer c.refreshLock.Unlock()
	// A concurrent caller may have refreshed the cache while this one waited for the lock.
	if !force && !c.stale() {
		return c.Vehicles(), nil
	}

	vehicles, err := c.fetch(ctx)
	if err != nil {
		cached := c.Vehicles()
		if len(cached) > 0 {
			log.Warning("Serving %d cached vehicles after refresh failure: %s", len(cached), err)
		} else {
			log.Warning("Vehicle list unavailable: %s", err)
		}
		return cached, err
	}
	return vehicles, nil
}

// Refresh fetches the vehicle list and replaces the cache contents. Unlike [VehicleCache.Get], it
// returns fetch errors to the caller. The cache is unchanged if the fetch fails.
func (c *VehicleCache) Refresh(ctx context.Context) ([]account.Vehicle, error) {
	c.refreshLock.Lock()
	defer c.refreshLock.Unlock()
	return c.fetch(ctx)
}

// fetch must be called with refreshLock held.
func (c *VehicleCache) fetch(ctx context.Context) ([]account.Vehicle, error) {
	vehicles, err := c.lister.ListVehicles(ctx)
	if err != nil {
		c.lock.Lock()
		c.lastErr = err
		c.lock.Unlock()
		return nil, err
	}
	if vehicles == nil {
		vehicles = []account.Vehicle{}
	}

	c.lock.Lock()
	c.vehicles = vehicles
	c.fetchedAt = c.Now()
	c.lastErr = nil
	c.lock.Unlock()
	log.Debug("Cached %d vehicles", len(vehicles))
	return vehicles, nil
}

// Lookup returns the cached vehicle whose id exactly matches id.
func (c *VehicleCache) Lookup(id string) (*account.Vehicle, error) {
	for _, v := range c.Vehicles() {
		if v.ID.String() == id {
			v := v
			return &v, nil
		}
	}
	return nil, &NotFoundError{ID: id}
}

// Resolve returns the cached vehicle identified by tag. The tag is compared against vehicle ids
// first, then numeric vehicle_ids, then VINs.
func (c *VehicleCache) Resolve(tag string) (*account.Vehicle, error) {
	vehicles := c.Vehicles()
	matchers := []func(*account.Vehicle) bool{
		func(v *account.Vehicle) bool { return v.ID.String() == tag },
		func(v *account.Vehicle) bool { return v.VehicleID != 0 && strconv.FormatInt(v.VehicleID, 10) == tag },
		func(v *account.Vehicle) bool { return v.VIN == tag },
	}
	if tag != "" {
		for _, match := range matchers {
			for i := range vehicles {
				if match(&vehicles[i]) {
					v := vehicles[i]
					return &v, nil
				}
			}
		}
	}
	return nil, &NotFoundError{ID: tag}
}

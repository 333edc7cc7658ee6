package cache_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"github.com/teslamotors/fleet-mcp/mocks"
	"github.com/teslamotors/fleet-mcp/pkg/account"
	"github.com/teslamotors/fleet-mcp/pkg/cache"
)

var errFleetDown = errors.New("fleet api unavailable")

type testClock struct {
	lock sync.Mutex
	now  time.Time
}

func (c *testClock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.now = c.now.Add(d)
}

func testVehicles(n int) []account.Vehicle {
	vins := []string{"5YJ3E1EA7KF000001", "5YJ3E1EA7KF000002", "5YJ3E1EA7KF000003"}
	var vehicles []account.Vehicle
	for i := 0; i < n; i++ {
		vehicles = append(vehicles, account.Vehicle{
			ID:        account.VehicleTag(string(rune('1' + i))),
			VehicleID: int64(12345 + i),
			VIN:       vins[i],
			State:     account.StateOnline,
		})
	}
	return vehicles
}

func newTestCache(t *testing.T) (*cache.VehicleCache, *mocks.VehicleLister, *testClock) {
	t.Helper()
	ctrl := gomock.NewController(t)
	lister := mocks.NewVehicleLister(ctrl)
	clock := &testClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	c := cache.New(lister)
	c.Now = clock.Now
	return c, lister, clock
}

func TestFreshnessWindow(t *testing.T) {
	ctx := context.Background()
	c, lister, clock := newTestCache(t)
	lister.EXPECT().ListVehicles(gomock.Any()).Return(testVehicles(2), nil).Times(1)

	if got := c.Get(ctx, false); len(got) != 2 {
		t.Fatalf("Expected 2 vehicles, got %d", len(got))
	}

	clock.Advance(59 * time.Second)
	if got := c.Get(ctx, false); len(got) != 2 {
		t.Errorf("Expected cached vehicles, got %d", len(got))
	}

	clock.Advance(2 * time.Second)
	lister.EXPECT().ListVehicles(gomock.Any()).Return(testVehicles(3), nil).Times(1)
	if got := c.Get(ctx, false); len(got) != 3 {
		t.Errorf("Expected refreshed vehicles, got %d", len(got))
	}
	if !c.FetchedAt().Equal(clock.Now()) {
		t.Errorf("Fetch time not updated")
	}
}

func TestForceRefresh(t *testing.T) {
	ctx := context.Background()
	c, lister, _ := newTestCache(t)
	lister.EXPECT().ListVehicles(gomock.Any()).Return(testVehicles(1), nil).Times(3)

	c.Get(ctx, false)
	c.Get(ctx, true)
	c.Get(ctx, true)
}

func TestStaleDataServedOnFailure(t *testing.T) {
	ctx := context.Background()
	c, lister, clock := newTestCache(t)
	lister.EXPECT().ListVehicles(gomock.Any()).Return(testVehicles(2), nil)
	c.Get(ctx, false)
	fetchedAt := c.FetchedAt()

	clock.Advance(61 * time.Second)
	lister.EXPECT().ListVehicles(gomock.Any()).Return(nil, errFleetDown).Times(2)
	got := c.Get(ctx, false)
	if len(got) != 2 || got[0].VIN != "5YJ3E1EA7KF000001" {
		t.Errorf("Expected previous vehicles, got %v", got)
	}
	if !c.FetchedAt().Equal(fetchedAt) {
		t.Errorf("Fetch time updated after failure")
	}
	if !errors.Is(c.LastError(), errFleetDown) {
		t.Errorf("Expected LastError to report the failure, got %v", c.LastError())
	}

	// Same simulated time: the failed fetch is retried.
	if got := c.Get(ctx, false); len(got) != 2 {
		t.Errorf("Expected previous vehicles, got %v", got)
	}

	lister.EXPECT().ListVehicles(gomock.Any()).Return(testVehicles(1), nil)
	if got := c.Get(ctx, false); len(got) != 1 {
		t.Errorf("Expected recovered vehicle list, got %v", got)
	}
	if c.LastError() != nil {
		t.Errorf("LastError not cleared: %s", c.LastError())
	}
}

func TestEmptyCacheFailure(t *testing.T) {
	ctx := context.Background()
	c, lister, _ := newTestCache(t)
	lister.EXPECT().ListVehicles(gomock.Any()).Return(nil, errFleetDown)

	got := c.Get(ctx, false)
	if len(got) != 0 {
		t.Errorf("Expected no vehicles, got %v", got)
	}
	if !c.FetchedAt().IsZero() {
		t.Errorf("Fetch time set after failure")
	}
}

func TestRefreshReturnsError(t *testing.T) {
	ctx := context.Background()
	c, lister, _ := newTestCache(t)
	lister.EXPECT().ListVehicles(gomock.Any()).Return(testVehicles(1), nil)
	if _, err := c.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %s", err)
	}

	lister.EXPECT().ListVehicles(gomock.Any()).Return(nil, errFleetDown)
	if _, err := c.Refresh(ctx); !errors.Is(err, errFleetDown) {
		t.Errorf("Expected fetch error, got %v", err)
	}
	if len(c.Vehicles()) != 1 {
		t.Errorf("Failed refresh modified cache")
	}
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	c, lister, _ := newTestCache(t)
	lister.EXPECT().ListVehicles(gomock.Any()).Return([]account.Vehicle{
		{ID: "1", VehicleID: 12345, VIN: "5YJ3E1EA7KF000001"},
		{ID: "2", VehicleID: 67890, VIN: "5YJ3E1EA7KF000002"},
	}, nil)
	c.Get(ctx, false)

	for _, tag := range []string{"1", "12345", "5YJ3E1EA7KF000001"} {
		v, err := c.Resolve(tag)
		if err != nil {
			t.Errorf("Resolve(%q) failed: %s", tag, err)
			continue
		}
		if v.ID != "1" {
			t.Errorf("Resolve(%q) returned vehicle %s", tag, v.ID)
		}
	}

	for _, tag := range []string{"", "3", "unrelated"} {
		_, err := c.Resolve(tag)
		var notFound *cache.NotFoundError
		if !errors.As(err, &notFound) {
			t.Errorf("Resolve(%q): expected NotFoundError, got %v", tag, err)
		}
	}
}

func TestResolveOrder(t *testing.T) {
	ctx := context.Background()
	c, lister, _ := newTestCache(t)
	// The second vehicle's id collides with the first vehicle's vehicle_id.
	lister.EXPECT().ListVehicles(gomock.Any()).Return([]account.Vehicle{
		{ID: "1", VehicleID: 2, VIN: "VIN1"},
		{ID: "2", VehicleID: 3, VIN: "VIN2"},
	}, nil)
	c.Get(ctx, false)

	v, err := c.Resolve("2")
	if err != nil {
		t.Fatal(err)
	}
	if v.ID != "2" {
		t.Errorf("Expected id match to win over vehicle_id match, got %s", v.ID)
	}
}

func TestLookup(t *testing.T) {
	ctx := context.Background()
	c, lister, _ := newTestCache(t)
	lister.EXPECT().ListVehicles(gomock.Any()).Return(testVehicles(2), nil)
	c.Get(ctx, false)

	if v, err := c.Lookup("2"); err != nil || v.VIN != "5YJ3E1EA7KF000002" {
		t.Errorf("Lookup failed: %v %v", v, err)
	}
	// Lookup only matches ids.
	if _, err := c.Lookup("12345"); err == nil {
		t.Errorf("Lookup matched vehicle_id")
	}
}

func TestConcurrentReadersSeeCompleteLists(t *testing.T) {
	ctx := context.Background()
	c, lister, _ := newTestCache(t)
	lister.EXPECT().ListVehicles(gomock.Any()).DoAndReturn(func(context.Context) ([]account.Vehicle, error) {
		return testVehicles(3), nil
	}).AnyTimes()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(force bool) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if got := c.Get(ctx, force); len(got) != 3 {
					t.Errorf("Observed partial vehicle list of length %d", len(got))
					return
				}
			}
		}(i%2 == 0)
	}
	wg.Wait()
}

func TestLoadReportsOwnFetch(t *testing.T) {
	ctx := context.Background()
	c, lister, clock := newTestCache(t)
	lister.EXPECT().ListVehicles(gomock.Any()).Return(testVehicles(2), nil)
	if _, err := c.Load(ctx, false); err != nil {
		t.Fatalf("Load failed: %s", err)
	}

	clock.Advance(10 * time.Second)
	lister.EXPECT().ListVehicles(gomock.Any()).Return(nil, errFleetDown)
	got, err := c.Load(ctx, true)
	if !errors.Is(err, errFleetDown) {
		t.Errorf("Expected fetch error, got %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Expected previous vehicles, got %v", got)
	}

	// The cache is still fresh, so no fetch happens and no error is reported even though the
	// most recent fetch failed.
	got, err = c.Load(ctx, false)
	if err != nil || len(got) != 2 {
		t.Errorf("Expected cached vehicles without error, got %v %v", got, err)
	}
	if c.LastError() == nil {
		t.Errorf("LastError cleared without a successful fetch")
	}
}

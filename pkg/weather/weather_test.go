package weather

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func openTestStore(t *testing.T) (*Store, *testClock) {
	t.Helper()
	clock := &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), FileName), WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, clock
}

func defaults(t *testing.T, s *Store) []string {
	t.Helper()
	locs, err := s.ListLocations(context.Background())
	require.NoError(t, err)
	var out []string
	for _, l := range locs {
		if l.IsDefault {
			out = append(out, l.Name)
		}
	}
	return out
}

func TestAddLocationFirstIsDefault(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetDefault(ctx)
	assert.ErrorIs(t, err, ErrNoDefault)

	oslo, err := s.AddLocation(ctx, "Oslo", 59.91, 10.75)
	require.NoError(t, err)
	assert.True(t, oslo.IsDefault)

	lima, err := s.AddLocation(ctx, " Lima ", -12.05, -77.04)
	require.NoError(t, err)
	assert.False(t, lima.IsDefault)
	assert.Equal(t, "Lima", lima.Name)
	assert.Equal(t, oslo.OrderIndex+1, lima.OrderIndex)

	def, err := s.GetDefault(ctx)
	require.NoError(t, err)
	assert.Equal(t, oslo.ID, def.ID)
}

func TestAddLocationValidation(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	_, err := s.AddLocation(ctx, "  ", 0, 0)
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = s.AddLocation(ctx, "North of north", 91, 0)
	assert.ErrorIs(t, err, ErrInvalidCoordinate)
	_, err = s.AddLocation(ctx, "Wrapped", 0, -180.5)
	assert.ErrorIs(t, err, ErrInvalidCoordinate)
}

func TestSetDefaultKeepsExactlyOne(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	a, _ := s.AddLocation(ctx, "A", 1, 1)
	b, _ := s.AddLocation(ctx, "B", 2, 2)
	c, _ := s.AddLocation(ctx, "C", 3, 3)

	for _, loc := range []*Location{b, c, a, a} {
		require.NoError(t, s.SetDefault(ctx, loc.ID))
		assert.Equal(t, []string{loc.Name}, defaults(t, s))
	}

	assert.ErrorIs(t, s.SetDefault(ctx, "missing"), ErrLocationNotFound)
	assert.Equal(t, []string{"A"}, defaults(t, s))
}

func TestRemoveDefaultPromotesFirst(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	a, _ := s.AddLocation(ctx, "A", 1, 1)
	b, _ := s.AddLocation(ctx, "B", 2, 2)
	c, _ := s.AddLocation(ctx, "C", 3, 3)
	require.NoError(t, s.Reorder(ctx, []string{a.ID, c.ID, b.ID}))

	require.NoError(t, s.RemoveLocation(ctx, a.ID))
	assert.Equal(t, []string{"C"}, defaults(t, s))

	// Removing a non-default leaves the default alone.
	require.NoError(t, s.RemoveLocation(ctx, b.ID))
	assert.Equal(t, []string{"C"}, defaults(t, s))

	require.NoError(t, s.RemoveLocation(ctx, c.ID))
	_, err := s.GetDefault(ctx)
	assert.ErrorIs(t, err, ErrNoDefault)

	assert.ErrorIs(t, s.RemoveLocation(ctx, c.ID), ErrLocationNotFound)
}

func TestReorder(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	a, _ := s.AddLocation(ctx, "A", 1, 1)
	b, _ := s.AddLocation(ctx, "B", 2, 2)
	c, _ := s.AddLocation(ctx, "C", 3, 3)

	require.NoError(t, s.Reorder(ctx, []string{c.ID, a.ID, b.ID}))
	locs, err := s.ListLocations(ctx)
	require.NoError(t, err)
	require.Len(t, locs, 3)
	assert.Equal(t, []string{"C", "A", "B"}, []string{locs[0].Name, locs[1].Name, locs[2].Name})

	assert.ErrorIs(t, s.Reorder(ctx, []string{a.ID, b.ID}), ErrReorderMismatch)
	assert.ErrorIs(t, s.Reorder(ctx, []string{a.ID, a.ID, b.ID}), ErrReorderMismatch)
	assert.ErrorIs(t, s.Reorder(ctx, []string{a.ID, b.ID, "missing"}), ErrLocationNotFound)

	// Failed reorders roll back.
	locs, _ = s.ListLocations(ctx)
	assert.Equal(t, c.ID, locs[0].ID)
}

func TestListLocationsEmpty(t *testing.T) {
	s, _ := openTestStore(t)
	locs, err := s.ListLocations(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, locs)
	assert.Empty(t, locs)
}

func TestCacheTolerance(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, KindWeather, 48.85, 2.35, []byte(`{"t":12}`)))

	tests := []struct {
		name     string
		lat, lon float64
		hit      bool
	}{
		{"exact", 48.85, 2.35, true},
		{"inside", 48.855, 2.345, true},
		{"edge", 48.86, 2.34, true},
		{"outside lat", 48.87, 2.35, false},
		{"outside lon", 48.85, 2.37, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := s.Get(ctx, KindWeather, tt.lat, tt.lon, time.Hour)
			if !tt.hit {
				assert.ErrorIs(t, err, ErrCacheMiss)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, `{"t":12}`, string(e.Data))
			assert.Equal(t, KindWeather, e.Kind)
		})
	}

	// Kinds are separate caches.
	_, err := s.Get(ctx, KindForecast, 48.85, 2.35, 0)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestCachePutReplacesNearby(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, KindForecast, 10, 20, []byte("old")))
	require.NoError(t, s.Put(ctx, KindForecast, 10.005, 20.005, []byte("new")))

	e, err := s.Get(ctx, KindForecast, 10, 20, 0)
	require.NoError(t, err)
	assert.Equal(t, "new", string(e.Data))

	var n int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM forecast_cache`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestCacheMaxAgeAndReap(t *testing.T) {
	s, clock := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, KindWeather, 1, 1, []byte("w")))
	require.NoError(t, s.Put(ctx, KindForecast, 1, 1, []byte("f")))
	clock.Advance(2 * time.Hour)
	require.NoError(t, s.Put(ctx, KindWeather, 5, 5, []byte("fresh")))

	_, err := s.Get(ctx, KindWeather, 1, 1, time.Hour)
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = s.Get(ctx, KindWeather, 1, 1, 3*time.Hour)
	assert.NoError(t, err)

	n, err := s.ReapBefore(ctx, clock.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.ReapBefore(ctx, clock.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.Get(ctx, KindWeather, 5, 5, 0)
	assert.NoError(t, err)
}

func TestCacheRejectsUnknownKind(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	assert.ErrorIs(t, s.Put(ctx, Kind("radar"), 0, 0, nil), ErrInvalidKind)
	_, err := s.Get(ctx, Kind("radar"), 0, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidKind)
}

func TestRedisCache(t *testing.T) {
	addr := os.Getenv("NIMBUS_TEST_REDIS")
	if addr == "" {
		t.Skip("NIMBUS_TEST_REDIS not set")
	}
	c, err := NewRedisCache(&redis.Options{Addr: addr, DB: 15}, time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	ctx := context.Background()

	clock := &testClock{t: time.Now()}
	c.now = clock.Now
	_, _ = c.ReapBefore(ctx, time.Now().Add(24*time.Hour))

	require.NoError(t, c.Put(ctx, KindWeather, 35.68, 139.69, []byte("tokyo")))
	e, err := c.Get(ctx, KindWeather, 35.689, 139.699, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "tokyo", string(e.Data))

	_, err = c.Get(ctx, KindWeather, 35.70, 139.69, time.Hour)
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Put(ctx, KindWeather, 35.685, 139.695, []byte("tokyo2")))
	e, err = c.Get(ctx, KindWeather, 35.68, 139.69, 0)
	require.NoError(t, err)
	assert.Equal(t, "tokyo2", string(e.Data))

	clock.Advance(2 * time.Hour)
	_, err = c.Get(ctx, KindWeather, 35.68, 139.69, time.Hour)
	assert.ErrorIs(t, err, ErrCacheMiss)

	n, err := c.ReapBefore(ctx, clock.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

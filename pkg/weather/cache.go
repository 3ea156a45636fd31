package weather

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/forest6511/nimbusvault/internal/dbx"
)

// Kind selects the weather or forecast cache.
type Kind string

const (
	KindWeather  Kind = "weather"
	KindForecast Kind = "forecast"
)

// Kinds lists every cache kind.
var Kinds = []Kind{KindWeather, KindForecast}

// Tolerance is the coordinate match window in degrees on both axes.
const Tolerance = 0.01

// tolEpsilon absorbs float rounding at the edge of the window.
const tolEpsilon = 1e-9

// DefaultTTL is how long a cache entry is served when no max age is given.
const DefaultTTL = 3 * time.Hour

// Valid reports whether k names a known cache.
func (k Kind) Valid() bool {
	return k == KindWeather || k == KindForecast
}

func (k Kind) table() (string, error) {
	switch k {
	case KindWeather:
		return "weather_cache", nil
	case KindForecast:
		return "forecast_cache", nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKind, string(k))
}

// Entry is a cached response body for a coordinate.
type Entry struct {
	Kind      Kind
	Latitude  float64
	Longitude float64
	Data      []byte
	CachedAt  time.Time
}

// Cache stores opaque fetch results by coordinate.
type Cache interface {
	// Put stores data for (lat, lon), replacing any entry within Tolerance.
	Put(ctx context.Context, kind Kind, lat, lon float64, data []byte) error
	// Get returns the closest entry within Tolerance that is no older than
	// maxAge. A zero maxAge accepts any age. Misses return ErrCacheMiss.
	Get(ctx context.Context, kind Kind, lat, lon float64, maxAge time.Duration) (*Entry, error)
	// ReapBefore deletes entries cached strictly before cutoff.
	ReapBefore(ctx context.Context, cutoff time.Time) (int, error)
}

var _ Cache = (*Store)(nil)

// Put implements Cache.
func (s *Store) Put(ctx context.Context, kind Kind, lat, lon float64, data []byte) error {
	table, err := kind.table()
	if err != nil {
		return err
	}
	if err := ValidateCoordinates(lat, lon); err != nil {
		return err
	}
	if data == nil {
		data = []byte{}
	}
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM `+table+` WHERE latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?`,
			window(lat, lon)...); err != nil {
			return fmt.Errorf("weather: cache put: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO `+table+` (latitude, longitude, data, cached_at) VALUES (?, ?, ?, ?)`,
			lat, lon, data, s.nowMillis()); err != nil {
			return fmt.Errorf("weather: cache put: %w", err)
		}
		return nil
	})
}

// Get implements Cache.
func (s *Store) Get(ctx context.Context, kind Kind, lat, lon float64, maxAge time.Duration) (*Entry, error) {
	table, err := kind.table()
	if err != nil {
		return nil, err
	}
	var minCached int64
	if maxAge > 0 {
		minCached = s.now().Add(-maxAge).UnixMilli()
	}
	args := append(window(lat, lon), minCached, lat, lon)
	row := s.db.QueryRowContext(ctx, `
		SELECT latitude, longitude, data, cached_at FROM `+table+`
		WHERE latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ? AND cached_at >= ?
		ORDER BY abs(latitude - ?) + abs(longitude - ?), cached_at DESC
		LIMIT 1`, args...)

	e := &Entry{Kind: kind}
	var cached int64
	err = row.Scan(&e.Latitude, &e.Longitude, &e.Data, &cached)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("weather: cache get: %w", err)
	}
	e.CachedAt = time.UnixMilli(cached)
	return e, nil
}

// ReapBefore implements Cache across both kinds.
func (s *Store) ReapBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var total int64
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, k := range Kinds {
			table, _ := k.table()
			res, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE cached_at < ?`, cutoff.UnixMilli())
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("weather: cache reap: %w", err)
	}
	if total > 0 {
		s.logger.DebugContext(ctx, "cache reaped", "entries", total, "cutoff", cutoff)
	}
	return int(total), nil
}

func window(lat, lon float64) []any {
	d := Tolerance + tolEpsilon
	return []any{lat - d, lat + d, lon - d, lon + d}
}

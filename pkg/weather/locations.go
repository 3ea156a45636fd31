package weather

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/forest6511/nimbusvault/internal/dbx"
)

// Location is a saved place. Exactly one location is the default whenever
// any exist.
type Location struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	IsDefault  bool      `json:"is_default"`
	OrderIndex int       `json:"order_index"`
	CreatedAt  time.Time `json:"created_at"`
}

// LocationStore manages saved locations.
type LocationStore interface {
	AddLocation(ctx context.Context, name string, lat, lon float64) (*Location, error)
	ListLocations(ctx context.Context) ([]Location, error)
	GetLocation(ctx context.Context, id string) (*Location, error)
	GetDefault(ctx context.Context) (*Location, error)
	SetDefault(ctx context.Context, id string) error
	RemoveLocation(ctx context.Context, id string) error
	Reorder(ctx context.Context, ids []string) error
}

var _ LocationStore = (*Store)(nil)

const locationColumns = `id, name, latitude, longitude, is_default, order_index, created_at`

// ValidateCoordinates reports whether lat/lon are finite and in range.
func ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return fmt.Errorf("%w: (%v, %v)", ErrInvalidCoordinate, lat, lon)
	}
	return nil
}

// AddLocation appends a location. The first location saved becomes the
// default.
func (s *Store) AddLocation(ctx context.Context, name string, lat, lon float64) (*Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}
	if err := ValidateCoordinates(lat, lon); err != nil {
		return nil, err
	}

	loc := &Location{
		ID:        uuid.New().String(),
		Name:      name,
		Latitude:  lat,
		Longitude: lon,
		CreatedAt: time.UnixMilli(s.nowMillis()),
	}
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var count, next int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*), COALESCE(MAX(order_index) + 1, 0) FROM locations`).Scan(&count, &next); err != nil {
			return err
		}
		loc.IsDefault = count == 0
		loc.OrderIndex = next
		_, err := tx.ExecContext(ctx,
			`INSERT INTO locations (`+locationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			loc.ID, loc.Name, loc.Latitude, loc.Longitude, boolInt(loc.IsDefault), loc.OrderIndex, loc.CreatedAt.UnixMilli())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("weather: add location: %w", err)
	}
	return loc, nil
}

// ListLocations returns every location ordered by order index, then name.
func (s *Store) ListLocations(ctx context.Context) ([]Location, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+locationColumns+` FROM locations ORDER BY order_index, name COLLATE NOCASE, id`)
	if err != nil {
		return nil, fmt.Errorf("weather: list locations: %w", err)
	}
	defer rows.Close()

	out := []Location{}
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, fmt.Errorf("weather: list locations: %w", err)
		}
		out = append(out, *loc)
	}
	return out, rows.Err()
}

// GetLocation returns one location by id.
func (s *Store) GetLocation(ctx context.Context, id string) (*Location, error) {
	loc, err := scanLocation(s.db.QueryRowContext(ctx,
		`SELECT `+locationColumns+` FROM locations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLocationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("weather: get location: %w", err)
	}
	return loc, nil
}

// GetDefault returns the default location, or ErrNoDefault when none are
// saved.
func (s *Store) GetDefault(ctx context.Context) (*Location, error) {
	loc, err := scanLocation(s.db.QueryRowContext(ctx,
		`SELECT `+locationColumns+` FROM locations WHERE is_default = 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoDefault
	}
	if err != nil {
		return nil, fmt.Errorf("weather: get default: %w", err)
	}
	return loc, nil
}

// SetDefault makes id the only default location.
func (s *Store) SetDefault(ctx context.Context, id string) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := requireLocation(ctx, tx, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE locations SET is_default = 0 WHERE is_default = 1`); err != nil {
			return fmt.Errorf("weather: clear default: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE locations SET is_default = 1 WHERE id = ?`, id); err != nil {
			return fmt.Errorf("weather: set default: %w", err)
		}
		return nil
	})
}

// RemoveLocation deletes id. Removing the default promotes the first
// remaining location in list order.
func (s *Store) RemoveLocation(ctx context.Context, id string) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var wasDefault int
		err := tx.QueryRowContext(ctx, `SELECT is_default FROM locations WHERE id = ?`, id).Scan(&wasDefault)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrLocationNotFound
		}
		if err != nil {
			return fmt.Errorf("weather: remove location: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM locations WHERE id = ?`, id); err != nil {
			return fmt.Errorf("weather: remove location: %w", err)
		}
		if wasDefault == 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE locations SET is_default = 1 WHERE id = (
				SELECT id FROM locations ORDER BY order_index, name COLLATE NOCASE, id LIMIT 1
			)`)
		if err != nil {
			return fmt.Errorf("weather: promote default: %w", err)
		}
		return nil
	})
}

// Reorder assigns order indexes following ids. ids must name every saved
// location exactly once.
func (s *Store) Reorder(ctx context.Context, ids []string) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM locations`).Scan(&count); err != nil {
			return fmt.Errorf("weather: reorder: %w", err)
		}
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			seen[id] = true
		}
		if len(seen) != len(ids) || len(ids) != count {
			return ErrReorderMismatch
		}
		for i, id := range ids {
			res, err := tx.ExecContext(ctx, `UPDATE locations SET order_index = ? WHERE id = ?`, i, id)
			if err != nil {
				return fmt.Errorf("weather: reorder: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return ErrLocationNotFound
			}
		}
		return nil
	})
}

func requireLocation(ctx context.Context, q dbx.DBTX, id string) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM locations WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrLocationNotFound
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLocation(row rowScanner) (*Location, error) {
	var (
		loc       Location
		isDefault int
		created   int64
	)
	if err := row.Scan(&loc.ID, &loc.Name, &loc.Latitude, &loc.Longitude, &isDefault, &loc.OrderIndex, &created); err != nil {
		return nil, err
	}
	loc.IsDefault = isDefault == 1
	loc.CreatedAt = time.UnixMilli(created)
	return &loc, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

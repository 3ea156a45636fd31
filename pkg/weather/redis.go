package weather

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces cache keys in a shared Redis.
const KeyPrefix = "nimbus:cache:"

var _ Cache = (*RedisCache)(nil)

// RedisCache is a Cache backed by Redis. Keys sit on a 0.01° grid, so a
// tolerance lookup reads the cell and its eight neighbours. Entries expire
// through Redis TTLs; ReapBefore covers entries written with a longer TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisCache connects and pings the server. ttl <= 0 uses DefaultTTL.
func NewRedisCache(options *redis.Options, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("weather: redis ping: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl, now: time.Now}, nil
}

type redisEntry struct {
	Latitude  float64
	Longitude float64
	Data      []byte
	CachedAt  int64
}

// Put implements Cache.
func (r *RedisCache) Put(ctx context.Context, kind Kind, lat, lon float64, data []byte) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, string(kind))
	}
	if err := ValidateCoordinates(lat, lon); err != nil {
		return err
	}
	near, err := r.neighbours(ctx, kind, lat, lon)
	if err != nil {
		return err
	}
	payload, err := encodeEntry(redisEntry{Latitude: lat, Longitude: lon, Data: data, CachedAt: r.now().UnixMilli()})
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for key, e := range near {
			if withinTolerance(e, lat, lon) {
				pipe.Del(ctx, key)
			}
		}
		pipe.Set(ctx, cellKey(kind, lat, lon), payload, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("weather: redis put: %w", err)
	}
	return nil
}

// Get implements Cache.
func (r *RedisCache) Get(ctx context.Context, kind Kind, lat, lon float64, maxAge time.Duration) (*Entry, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, string(kind))
	}
	near, err := r.neighbours(ctx, kind, lat, lon)
	if err != nil {
		return nil, err
	}
	var minCached int64
	if maxAge > 0 {
		minCached = r.now().Add(-maxAge).UnixMilli()
	}

	var best *redisEntry
	bestDist := math.Inf(1)
	for _, e := range near {
		if !withinTolerance(e, lat, lon) || e.CachedAt < minCached {
			continue
		}
		d := math.Abs(e.Latitude-lat) + math.Abs(e.Longitude-lon)
		if d < bestDist || (d == bestDist && e.CachedAt > best.CachedAt) {
			e := e
			best, bestDist = &e, d
		}
	}
	if best == nil {
		return nil, ErrCacheMiss
	}
	return &Entry{
		Kind:      kind,
		Latitude:  best.Latitude,
		Longitude: best.Longitude,
		Data:      best.Data,
		CachedAt:  time.UnixMilli(best.CachedAt),
	}, nil
}

// ReapBefore implements Cache by scanning the key prefix.
func (r *RedisCache) ReapBefore(ctx context.Context, cutoff time.Time) (int, error) {
	limit := cutoff.UnixMilli()
	reaped := 0
	iter := r.client.Scan(ctx, 0, KeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := r.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return reaped, fmt.Errorf("weather: redis reap: %w", err)
		}
		e, err := decodeEntry(raw)
		if err != nil || e.CachedAt < limit {
			if err := r.client.Del(ctx, key).Err(); err != nil {
				return reaped, fmt.Errorf("weather: redis reap: %w", err)
			}
			reaped++
		}
	}
	if err := iter.Err(); err != nil {
		return reaped, fmt.Errorf("weather: redis reap: %w", err)
	}
	return reaped, nil
}

// Close closes the client.
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// neighbours returns decoded entries from the 3x3 cells around (lat, lon).
func (r *RedisCache) neighbours(ctx context.Context, kind Kind, lat, lon float64) (map[string]redisEntry, error) {
	keys := make([]string, 0, 9)
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			keys = append(keys, cellKeyAt(kind, cell(lat)+int64(dy), cell(lon)+int64(dx)))
		}
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("weather: redis get: %w", err)
	}
	out := make(map[string]redisEntry, len(keys))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		e, err := decodeEntry([]byte(s))
		if err != nil {
			continue
		}
		out[keys[i]] = e
	}
	return out, nil
}

func cell(v float64) int64 {
	return int64(math.Round(v / Tolerance))
}

func cellKey(kind Kind, lat, lon float64) string {
	return cellKeyAt(kind, cell(lat), cell(lon))
}

func cellKeyAt(kind Kind, y, x int64) string {
	return fmt.Sprintf("%s%s:%d:%d", KeyPrefix, kind, y, x)
}

func withinTolerance(e redisEntry, lat, lon float64) bool {
	d := Tolerance + tolEpsilon
	return math.Abs(e.Latitude-lat) <= d && math.Abs(e.Longitude-lon) <= d
}

func encodeEntry(e redisEntry) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeEntry(data []byte) (redisEntry, error) {
	var e redisEntry
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&e)
	return e, err
}

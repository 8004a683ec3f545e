package directory

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/coocood/freecache"
	"golang.org/x/sync/singleflight"

	"github.com/floroz/auction-client/internal/domain/auctions"
)

const (
	DefaultCacheSize = 1 << 20 // freecache minimum is 512KB
	DefaultTTL       = 10 * time.Minute
)

// CachedDirectory memoises username lookups. Concurrent lookups for the
// same id share one backend call.
type CachedDirectory struct {
	next   auctions.UserDirectory
	cache  *freecache.Cache
	ttl    int
	group  singleflight.Group
	logger *slog.Logger
}

// NewCachedDirectory wraps a directory with an in-memory cache
func NewCachedDirectory(next auctions.UserDirectory, sizeBytes int, ttl time.Duration, logger *slog.Logger) *CachedDirectory {
	if sizeBytes <= 0 {
		sizeBytes = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedDirectory{
		next:   next,
		cache:  freecache.NewCache(sizeBytes),
		ttl:    int(ttl.Seconds()),
		logger: logger,
	}
}

// Username returns the display name for a user id
func (d *CachedDirectory) Username(ctx context.Context, userID int64) (string, error) {
	key := []byte(strconv.FormatInt(userID, 10))
	if v, err := d.cache.Get(key); err == nil {
		return string(v), nil
	}

	v, err, _ := d.group.Do(string(key), func() (any, error) {
		name, err := d.next.Username(ctx, userID)
		if err != nil {
			return "", err
		}
		if setErr := d.cache.Set(key, []byte(name), d.ttl); setErr != nil {
			d.logger.Warn("Failed to cache username", "user_id", userID, "error", setErr)
		}
		return name, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Forget drops a cached entry
func (d *CachedDirectory) Forget(userID int64) {
	d.cache.Del([]byte(strconv.FormatInt(userID, 10)))
}

package hub

import (
	"context"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Directory resolves a user id to a display name. The hub does not own user
// records; implementations typically read the app's users table.
type Directory interface {
	Username(ctx context.Context, userID int64) (string, error)
}

// usernameCache lazily populates display names from the Directory on first
// lookup. Lookup failures degrade to a placeholder name rather than failing the
// operation that needed the name.
type usernameCache struct {
	cache     *ttlcache.Cache[int64, string]
	directory Directory
}

func newUsernameCache(directory Directory) *usernameCache {
	u := &usernameCache{
		cache: ttlcache.New[int64, string](
			ttlcache.WithTTL[int64, string](30 * time.Minute),
		),
		directory: directory,
	}
	go u.cache.Start()
	return u
}

func (u *usernameCache) Lookup(ctx context.Context, userID int64) string {
	if item := u.cache.Get(userID); item != nil {
		return item.Value()
	}
	name := fmt.Sprintf("user-%d", userID)
	if u.directory != nil {
		resolved, err := u.directory.Username(ctx, userID)
		if err != nil {
			logger.Err(err).Int64("user", userID).Msg("failed to resolve username")
		} else if resolved != "" {
			name = resolved
		}
	}
	u.cache.Set(userID, name, ttlcache.DefaultTTL)
	return name
}

// Cached returns the name only if a lookup already populated it. Leave
// attribution uses this: if nothing was ever resolved for the user, the
// notification goes out with a placeholder rather than blocking on I/O.
func (u *usernameCache) Cached(userID int64) (string, bool) {
	if item := u.cache.Get(userID); item != nil {
		return item.Value(), true
	}
	return fmt.Sprintf("user-%d", userID), false
}

func (u *usernameCache) Stop() {
	u.cache.Stop()
}

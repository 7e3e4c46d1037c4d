package remote

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/sidkik/remotesync/pkg/config"
	"github.com/sidkik/remotesync/pkg/errors"
)

// DefaultCacheSize is the number of connections kept open by a Cache.
const DefaultCacheSize = 6

// Cache keeps recently used remote connections open so that consecutive
// runs against the same profile don't redial. Concurrent requests for the
// same profile share one dial. Evicted connections are closed.
type Cache struct {
	dial   Dialer
	conns  *lru.Cache
	dialer singleflight.Group
}

// NewCache creates a cache holding at most size connections.
func NewCache(size int, dial Dialer) (*Cache, error) {
	conns, err := lru.NewWithEvict(size, func(key, value interface{}) {
		if err := value.(FileSystem).Close(); err != nil {
			log.WithError(err).WithField("remote", key).Debug("Failed to close remote")
		}
	})
	if err != nil {
		return nil, errors.WithContext(err, "create lru")
	}
	return &Cache{dial: dial, conns: conns}, nil
}

// Key identifies the connection used for a profile.
func Key(profile config.Profile) string {
	if profile.Protocol == config.ProtocolS3 {
		return fmt.Sprintf("s3://%s@%s/%s", profile.Username, profile.Endpoint, profile.Bucket)
	}
	return fmt.Sprintf("%s://%s@%s:%d", profile.Protocol, profile.Username, profile.Host, profile.Port)
}

// Get returns an open connection for profile, dialing if necessary.
func (c *Cache) Get(ctx context.Context, profile config.Profile) (FileSystem, error) {
	key := Key(profile)
	if conn, ok := c.conns.Get(key); ok {
		return conn.(FileSystem), nil
	}

	// The dial is shared between callers, so it's detached from ctx and only
	// bounded by the profile's connect timeout. Each caller stops waiting once
	// its own ctx is done.
	dialCtx := context.WithoutCancel(ctx)
	ch := c.dialer.DoChan(key, func() (interface{}, error) {
		if conn, ok := c.conns.Get(key); ok {
			return conn, nil
		}

		conn, err := c.dial(dialCtx, profile)
		if err != nil {
			return nil, err
		}
		c.conns.Add(key, conn)
		return conn, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(FileSystem), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Forget closes and drops the connection for profile, so that the next Get
// redials. It's used after a connection breaks.
func (c *Cache) Forget(profile config.Profile) {
	c.conns.Remove(Key(profile))
}

// Close closes every cached connection.
func (c *Cache) Close() error {
	c.conns.Purge()
	return nil
}

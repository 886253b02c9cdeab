// Package cache fronts the Graph profile lookups with Redis. When Redis is not
// configured or unreachable every call falls through to the fetch function,
// which is still de-duplicated per customer.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"messenger-console/config"
	"messenger-console/logger"
)

const ProfileCacheDuration = 24 * time.Hour

// CachedProfile is what the console needs to render a customer.
type CachedProfile struct {
	Name       string `json:"name"`
	ProfilePic string `json:"profile_pic"`
}

type ProfileCache struct {
	client  *redis.Client
	enabled bool
	group   singleflight.Group
}

// NewProfileCache connects to Redis when an address is configured. A failed
// ping leaves the cache disabled rather than failing startup.
func NewProfileCache(ctx context.Context, cfg config.RedisConfig) *ProfileCache {
	pc := &ProfileCache{}
	addr := cfg.Addr()
	if addr == "" {
		logger.LogInfo("Redis not configured, profile cache disabled")
		return pc
	}

	pc.client = redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: cfg.Username,
		Password: cfg.Password,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pc.client.Ping(pingCtx).Err(); err != nil {
		logger.LogWarn("Redis connection failed: %v", err)
		return pc
	}
	pc.enabled = true
	logger.LogInfo("Redis connected successfully")
	return pc
}

// Disabled returns a cache that never stores anything.
func Disabled() *ProfileCache {
	return &ProfileCache{}
}

func (pc *ProfileCache) Enabled() bool {
	return pc.enabled
}

func profileKey(customerID string) string {
	return fmt.Sprintf("profile:%s", customerID)
}

func (pc *ProfileCache) Get(ctx context.Context, customerID string) (CachedProfile, bool) {
	if !pc.enabled {
		return CachedProfile{}, false
	}
	data, err := pc.client.Get(ctx, profileKey(customerID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.LogWarn("Profile cache read failed for %s: %v", customerID, err)
		}
		return CachedProfile{}, false
	}
	var p CachedProfile
	if err := json.Unmarshal(data, &p); err != nil || p.Name == "" {
		return CachedProfile{}, false
	}
	return p, true
}

// Set stores a resolved profile. Profiles without a name are not stored so
// the next lookup asks Graph again.
func (pc *ProfileCache) Set(ctx context.Context, customerID string, p CachedProfile) error {
	if !pc.enabled || p.Name == "" {
		return nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return pc.client.Set(ctx, profileKey(customerID), data, ProfileCacheDuration).Err()
}

func (pc *ProfileCache) Invalidate(ctx context.Context, customerID string) error {
	if !pc.enabled {
		return nil
	}
	return pc.client.Del(ctx, profileKey(customerID)).Err()
}

// GetOrFetch returns the cached profile or calls fetch once for all concurrent
// callers asking about the same customer. Failed and nameless fetches are not
// cached.
func (pc *ProfileCache) GetOrFetch(ctx context.Context, customerID string, fetch func(context.Context) (CachedProfile, error)) (CachedProfile, error) {
	if p, ok := pc.Get(ctx, customerID); ok {
		logger.LogDebug("Cache HIT for profile: %s", customerID)
		return p, nil
	}

	v, err, _ := pc.group.Do(customerID, func() (interface{}, error) {
		p, err := fetch(ctx)
		if err != nil {
			return CachedProfile{}, err
		}
		if setErr := pc.Set(ctx, customerID, p); setErr != nil {
			logger.LogWarn("Failed to cache profile: %v", setErr)
		}
		return p, nil
	})
	if err != nil {
		return CachedProfile{}, err
	}
	return v.(CachedProfile), nil
}

// BulkGetPictures fetches picture urls for several customers in one pipeline.
func (pc *ProfileCache) BulkGetPictures(ctx context.Context, customerIDs []string) (map[string]string, error) {
	results := make(map[string]string)
	if !pc.enabled || len(customerIDs) == 0 {
		return results, nil
	}

	pipe := pc.client.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(customerIDs))
	for _, id := range customerIDs {
		cmds[id] = pipe.Get(ctx, profileKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("bulk cache get failed: %w", err)
	}

	for id, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			continue
		}
		var p CachedProfile
		if json.Unmarshal(data, &p) == nil && p.ProfilePic != "" {
			results[id] = p.ProfilePic
		}
	}
	return results, nil
}

func (pc *ProfileCache) Close() error {
	if pc.client == nil {
		return nil
	}
	return pc.client.Close()
}

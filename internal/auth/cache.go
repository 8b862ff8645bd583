package auth

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"slimtax/internal/models"
	"slimtax/internal/redis"
)

const (
	redisTokenPrefix = "auth:token:"
	// localTokenTTL bounds how long a revocation on another instance can go
	// unnoticed by this one.
	localTokenTTL = 30 * time.Second
)

type cachedSession struct {
	UserID    int64     `json:"user_id"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

// tokenCache keeps validated sessions in process memory and, when
// configured, in redis so other instances skip the database lookup.
type tokenCache struct {
	local  *gocache.Cache
	remote *redis.Client
	log    *zap.Logger
}

func newTokenCache(remote *redis.Client, log *zap.Logger) *tokenCache {
	return &tokenCache{
		local:  gocache.New(localTokenTTL, 2*localTokenTTL),
		remote: remote,
		log:    log,
	}
}

func (c *tokenCache) get(ctx context.Context, token string) (*models.Session, bool) {
	if v, ok := c.local.Get(token); ok {
		entry := v.(cachedSession)
		return entry.session(token), true
	}
	if c.remote == nil {
		return nil, false
	}
	raw, err := c.remote.Get(ctx, redisTokenPrefix+token)
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			c.log.Warn("session cache read failed", zap.Error(err))
		}
		return nil, false
	}
	var entry cachedSession
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		c.log.Warn("session cache decode failed", zap.Error(err))
		return nil, false
	}
	c.local.Set(token, entry, gocache.DefaultExpiration)
	return entry.session(token), true
}

func (c *tokenCache) put(ctx context.Context, sess *models.Session, now time.Time) {
	if sess == nil {
		return
	}
	ttl := sess.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return
	}
	entry := cachedSession{UserID: sess.UserID, Email: sess.Email, ExpiresAt: sess.ExpiresAt}
	localTTL := ttl
	if localTTL > localTokenTTL {
		localTTL = localTokenTTL
	}
	c.local.Set(sess.Token, entry, localTTL)
	if c.remote == nil {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := c.remote.Set(ctx, redisTokenPrefix+sess.Token, data, ttl); err != nil {
		c.log.Warn("session cache write failed", zap.Error(err))
	}
}

func (c *tokenCache) drop(ctx context.Context, tokens ...string) {
	if len(tokens) == 0 {
		return
	}
	keys := make([]string, 0, len(tokens))
	for _, t := range tokens {
		c.local.Delete(t)
		keys = append(keys, redisTokenPrefix+t)
	}
	if c.remote == nil {
		return
	}
	if err := c.remote.Del(ctx, keys...); err != nil {
		c.log.Warn("session cache delete failed", zap.Error(err))
	}
}

func (e cachedSession) session(token string) *models.Session {
	return &models.Session{Token: token, UserID: e.UserID, Email: e.Email, ExpiresAt: e.ExpiresAt}
}

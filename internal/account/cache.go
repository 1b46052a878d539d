package account

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/punchamoorthee/paybridge/internal/provider"
)

// Authenticator produces a live client for a key; *Engine satisfies it.
type Authenticator interface {
	Authenticate(ctx context.Context, userID string, p provider.Provider) (provider.Client, error)
}

// SessionCache keeps live provider clients keyed by (user, provider). A hit
// is probed with a balance fetch before being handed out; a failed probe
// evicts and re-authenticates. Entries live until a probe fails — failure
// detection is on the read path, so no TTL is needed beyond token expiry.
// Concurrent callers for the same key share one in-flight authentication.
type SessionCache struct {
	auth    Authenticator
	timeout time.Duration
	log     *slog.Logger

	mu       sync.Mutex
	sessions map[string]provider.Client
	group    singleflight.Group
}

func NewSessionCache(auth Authenticator, timeout time.Duration, log *slog.Logger) *SessionCache {
	return &SessionCache{
		auth:     auth,
		timeout:  timeout,
		log:      log,
		sessions: make(map[string]provider.Client),
	}
}

func (c *SessionCache) probeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	d := c.timeout
	if d <= 0 {
		d = 30 * time.Second
	}
	return context.WithTimeout(ctx, d)
}

func sessionKey(userID string, p provider.Provider) string {
	return userID + "|" + string(p)
}

// Get returns a usable client for (userID, p), authenticating on miss or
// after a failed liveness probe.
func (c *SessionCache) Get(ctx context.Context, userID string, p provider.Provider) (provider.Client, error) {
	key := sessionKey(userID, p)

	c.mu.Lock()
	client, ok := c.sessions[key]
	c.mu.Unlock()

	if ok {
		pctx, cancel := c.probeCtx(ctx)
		_, err := client.GetBalance(pctx)
		cancel()
		if err == nil {
			return client, nil
		}
		c.log.Info("session probe failed, evicting", "user", userID, "provider", p)
		c.Evict(userID, p)
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		client, err := c.auth.Authenticate(ctx, userID, p)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.sessions[key] = client
		c.mu.Unlock()
		return client, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(provider.Client), nil
}

// Put seeds the cache with a freshly authenticated client, e.g. right after
// an account link.
func (c *SessionCache) Put(userID string, p provider.Provider, client provider.Client) {
	c.mu.Lock()
	c.sessions[sessionKey(userID, p)] = client
	c.mu.Unlock()
}

// Evict drops the cached client for (userID, p), if any.
func (c *SessionCache) Evict(userID string, p provider.Provider) {
	c.mu.Lock()
	delete(c.sessions, sessionKey(userID, p))
	c.mu.Unlock()
}

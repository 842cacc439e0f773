package auth

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

// keyCache holds RSA keys from a JWKS endpoint and refetches them when a kid
// is unknown or the TTL has passed. Concurrent fetches are collapsed and
// fetches are spaced at least minRefresh apart.
type keyCache struct {
	mu          sync.RWMutex
	keys        map[string]*rsa.PublicKey
	url         string
	ttl         time.Duration
	minRefresh  time.Duration
	fetchedAt   time.Time
	attemptedAt time.Time
	client      *http.Client
	group       singleflight.Group
	now         func() time.Time
}

const (
	defaultKeyTTL     = 5 * time.Minute
	defaultMinRefresh = 30 * time.Second
)

func newKeyCache(url string, ttl time.Duration) *keyCache {
	return &keyCache{
		keys:       make(map[string]*rsa.PublicKey),
		url:        url,
		ttl:        ttl,
		minRefresh: defaultMinRefresh,
		client:     &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
}

func (c *keyCache) key(kid string) (*rsa.PublicKey, error) {
	now := c.now()
	c.mu.RLock()
	key, ok := c.keys[kid]
	fresh := now.Sub(c.fetchedAt) <= c.ttl
	c.mu.RUnlock()
	throttled := c.recentlyAttempted()
	if ok && (fresh || throttled) {
		return key, nil
	}
	if throttled {
		return nil, fmt.Errorf("key %q not found in JWKS", kid)
	}

	if _, err, _ := c.group.Do("refresh", func() (interface{}, error) {
		if c.recentlyAttempted() {
			return nil, nil
		}
		return nil, c.refresh()
	}); err != nil {
		return nil, fmt.Errorf("fetching JWKS: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok = c.keys[kid]
	if !ok {
		return nil, fmt.Errorf("key %q not found in JWKS", kid)
	}
	return key, nil
}

func (c *keyCache) recentlyAttempted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.attemptedAt.IsZero() && c.now().Sub(c.attemptedAt) < c.minRefresh
}

func (c *keyCache) refresh() error {
	c.mu.Lock()
	c.attemptedAt = c.now()
	c.mu.Unlock()

	resp, err := c.client.Get(c.url)
	if err != nil {
		return fmt.Errorf("GET %s: %w", c.url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var set jwkSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("decoding JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := rsaKey(k)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}

	c.mu.Lock()
	c.keys = keys
	c.fetchedAt = c.now()
	c.mu.Unlock()
	return nil
}

func rsaKey(k jwk) (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(n),
		E: int(new(big.Int).SetBytes(e).Int64()),
	}, nil
}

func (c *keyCache) keyfunc(token *jwt.Token) (interface{}, error) {
	kid, ok := token.Header["kid"].(string)
	if !ok || kid == "" {
		return nil, fmt.Errorf("token has no kid header")
	}
	return c.key(kid)
}

package service

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/cloo-solutions/agentkb/internal/domain"
)

// CacheKey identifies a request to the response cache. Scope is empty when
// the reply does not depend on any conversation; otherwise it names the
// session whose history went into the reply.
type CacheKey struct {
	Normalized string
	Agent      domain.AgentContext
	Model      string
	Scope      string
	Generation uint64
}

func (k CacheKey) alias() string {
	return k.Scope + "\x00" + k.Normalized + "\x00" + k.Agent.Canonical() + "\x00" + k.Model
}

// Fingerprint derives the cache key of a composed response from the request
// key and the retrieved chunk ids.
func Fingerprint(k CacheKey, docIDs []string) string {
	ids := append([]string(nil), docIDs...)
	sort.Strings(ids)

	h := sha256.New()
	for _, part := range []string{
		k.Normalized,
		k.Agent.Canonical(),
		k.Model,
		k.Scope,
		strconv.FormatUint(k.Generation, 10),
		strings.Join(ids, ","),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

type cacheEntry struct {
	response  domain.Response
	createdAt time.Time
	expiresAt time.Time
}

type cacheAlias struct {
	key        string
	generation uint64
}

// ResponseCache is a bounded TTL cache of composed responses. Entries are
// keyed by Fingerprint; an alias from (scope, query, context, model) to the
// last fingerprint lets a request hit the cache before retrieval, as long as
// the corpus generation has not changed since the entry was stored.
type ResponseCache struct {
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	group singleflight.Group

	mu      sync.Mutex
	entries map[string]*cacheEntry
	aliases map[string]cacheAlias
}

// NewResponseCache creates a cache with the given TTL and size bound.
func NewResponseCache(ttl time.Duration, maxEntries int) *ResponseCache {
	def := DefaultEngineOptions()
	if ttl <= 0 {
		ttl = def.ResponseCacheTTL
	}
	if maxEntries <= 0 {
		maxEntries = def.CacheMaxEntries
	}
	return &ResponseCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		entries:    make(map[string]*cacheEntry),
		aliases:    make(map[string]cacheAlias),
	}
}

// Lookup finds a response for the query before retrieval runs.
func (c *ResponseCache) Lookup(k CacheKey) (domain.Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ak := k.alias()
	alias, ok := c.aliases[ak]
	if !ok {
		return domain.Response{}, false
	}
	if alias.generation != k.Generation {
		delete(c.aliases, ak)
		return domain.Response{}, false
	}
	resp, ok := c.getLocked(alias.key)
	if !ok {
		delete(c.aliases, ak)
	}
	return resp, ok
}

// Get returns the unexpired entry stored under key.
func (c *ResponseCache) Get(key string) (domain.Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key)
}

func (c *ResponseCache) getLocked(key string) (domain.Response, bool) {
	e, ok := c.entries[key]
	if !ok {
		return domain.Response{}, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return domain.Response{}, false
	}
	return e.response.Clone(), true
}

// Store saves resp under key and points the alias of k at it.
func (c *ResponseCache) Store(key string, k CacheKey, resp domain.Response) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictLocked(now)
	}
	c.entries[key] = &cacheEntry{
		response:  resp.Clone(),
		createdAt: now,
		expiresAt: now.Add(c.ttl),
	}
	c.aliases[k.alias()] = cacheAlias{key: key, generation: k.Generation}
}

// evictLocked removes expired entries, then the oldest one if still full.
func (c *ResponseCache) evictLocked(now time.Time) {
	var oldestKey string
	var oldest time.Time
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			continue
		}
		if oldestKey == "" || e.createdAt.Before(oldest) {
			oldestKey, oldest = k, e.createdAt
		}
	}
	if len(c.entries) >= c.maxEntries && oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Compose runs fn at most once concurrently per key. Callers that arrive while
// fn is running wait and receive its result; shared reports whether the
// result came from another caller's run.
func (c *ResponseCache) Compose(key string, fn func() (domain.Response, error)) (domain.Response, bool, error) {
	v, err, shared := c.group.Do(key, func() (any, error) {
		return fn()
	})
	if err != nil {
		return domain.Response{}, shared, err
	}
	return v.(domain.Response).Clone(), shared, nil
}

// Sweep drops expired entries and dangling aliases.
func (c *ResponseCache) Sweep() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	for ak, alias := range c.aliases {
		if _, ok := c.entries[alias.key]; !ok {
			delete(c.aliases, ak)
		}
	}
	return removed
}

// Flush empties the cache and returns the number of entries dropped.
func (c *ResponseCache) Flush() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[string]*cacheEntry)
	c.aliases = make(map[string]cacheAlias)
	return n
}

// Len returns the number of stored entries, expired ones included.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

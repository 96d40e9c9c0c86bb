package config

import (
	"strings"
	"time"
)

// CacheConfig drives the Redis response cache middleware. Only the query
// endpoints (availability, slot listings, lab browsing) are worth
// caching; mutations are never cached. When Enabled is false or no Redis
// client could be constructed, the middleware is a pass-through.
type CacheConfig struct {
	Enabled      bool
	Methods      map[string]bool // HTTP methods to cache, upper-cased
	TTL          time.Duration
	KeyStrategy  string // which request parts form the cache key
	Prefix       string
	MaxBodyBytes int // responses larger than this are not cached
}

// LoadCacheConfig reads environment variables to build a CacheConfig.
// The short default TTL keeps availability answers honest: a booked slot
// may appear free for at most CACHE_TTL after confirmation.
func LoadCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:      envBool("CACHE_ENABLED", true),
		Methods:      parseMethods(envStr("CACHE_METHODS", "GET")),
		TTL:          envDur("CACHE_TTL", 10*time.Second),
		KeyStrategy:  envStr("CACHE_KEY_STRATEGY", "route_query"),
		Prefix:       envStr("CACHE_PREFIX", "labcache"),
		MaxBodyBytes: envInt("CACHE_MAX_BODY_BYTES", 1<<20),
	}
}

func parseMethods(s string) map[string]bool {
	m := map[string]bool{}
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(strings.ToUpper(p))
		if p != "" {
			m[p] = true
		}
	}
	return m
}

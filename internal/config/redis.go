package config

// Redis backs the distributed rate limiter and the response cache. Both
// subsystems degrade gracefully: when no connection can be established at
// startup this constructor returns nil and the middleware become
// pass-throughs.

import (
	"context"
	"crypto/tls"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient instantiates a Redis client from environment variables:
//
//	REDIS_ADDR     – host:port (default localhost:6379)
//	REDIS_HOST / REDIS_PORT – alternative to REDIS_ADDR, takes precedence
//	REDIS_PASSWORD – optional password
//	REDIS_DB       – database number (default 0)
//	REDIS_TLS      – enable TLS when truthy
//
// The returned client is nil when the server cannot be pinged.
func NewRedisClient() *redis.Client {
	addr := envStr("REDIS_ADDR", "localhost:6379")
	if host, port := os.Getenv("REDIS_HOST"), os.Getenv("REDIS_PORT"); host != "" && port != "" {
		addr = host + ":" + port
	}
	var tlsConf *tls.Config
	if envBool("REDIS_TLS", false) {
		tlsConf = &tls.Config{InsecureSkipVerify: true}
	}
	client := redis.NewClient(&redis.Options{
		Addr:      addr,
		Password:  os.Getenv("REDIS_PASSWORD"),
		DB:        envInt("REDIS_DB", 0),
		TLSConfig: tlsConf,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil
	}
	return client
}

package persist

import (
	"context"
	"errors"
	"time"

	adminauth "github.com/chimerakang/adminauth-go"
	"github.com/redis/go-redis/v9"
)

// Redis stores the record as a string value under prefix+namespace, for
// consoles that share a session across hosts.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// compile-time check
var _ adminauth.Storage = (*Redis)(nil)

// RedisOption configures the Redis storage.
type RedisOption func(*Redis)

// WithKeyPrefix sets the key prefix. Default: "adminauth:".
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = prefix }
}

// WithTTL expires the record after d. Default: no expiry.
func WithTTL(d time.Duration) RedisOption {
	return func(r *Redis) { r.ttl = d }
}

// NewRedis creates a Redis storage on client.
func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{client: client, prefix: "adminauth:"}
	for _, o := range opts {
		o(r)
	}
	return r
}

// DialRedis connects to addr and verifies the connection with PING.
func DialRedis(ctx context.Context, addr, password string, opts ...RedisOption) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password})

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return NewRedis(client, opts...), nil
}

func (r *Redis) key(namespace string) string { return r.prefix + namespace }

func (r *Redis) Load(ctx context.Context, namespace string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key(namespace)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return data, err
}

func (r *Redis) Save(ctx context.Context, namespace string, data []byte) error {
	return r.client.Set(ctx, r.key(namespace), data, r.ttl).Err()
}

func (r *Redis) Clear(ctx context.Context, namespace string) error {
	return r.client.Del(ctx, r.key(namespace)).Err()
}

// Close closes the underlying client.
func (r *Redis) Close() error { return r.client.Close() }

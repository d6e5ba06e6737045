// Package directory answers whether an endpoint id is a known, registered
// endpoint.
package directory

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Static is a fixed set of endpoints, typically from configuration.
type Static struct {
	endpoints map[string]struct{}
}

// NewStatic creates a directory containing endpoints.
func NewStatic(endpoints []string) *Static {
	s := &Static{endpoints: make(map[string]struct{}, len(endpoints))}
	for _, ep := range endpoints {
		s.endpoints[ep] = struct{}{}
	}
	return s
}

func (s *Static) Exists(endpoint string) bool {
	_, ok := s.endpoints[endpoint]
	return ok
}

// Len returns the number of endpoints.
func (s *Static) Len() int {
	return len(s.endpoints)
}

const (
	DefaultCacheSize = 4096
	DefaultCacheTTL  = 30 * time.Second
)

// Redis checks membership of a Redis set maintained by the provisioning
// side. Answers are cached for a short TTL so repeated lookups of the same
// endpoint stay off the network.
//
// Lookups fail open: when Redis cannot be reached Exists reports true, so an
// outage delays nothing but endpoint validation. Failed lookups are not
// cached.
type Redis struct {
	client  *redis.Client
	key     string
	timeout time.Duration
	cache   *expirable.LRU[string, bool]
	lookup  func(ctx context.Context, endpoint string) (bool, error)
	log     *zap.Logger
}

// RedisOptions configures a Redis directory.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	Key       string
	Timeout   time.Duration
	CacheSize int
	CacheTTL  time.Duration
}

// NewRedis creates a Redis-backed directory.
func NewRedis(opts RedisOptions, log *zap.Logger) *Redis {
	if opts.Key == "" {
		opts.Key = "endpoints"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 500 * time.Millisecond
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.Timeout,
		ReadTimeout: opts.Timeout,
	})
	r := &Redis{
		client:  client,
		key:     opts.Key,
		timeout: opts.Timeout,
		cache:   expirable.NewLRU[string, bool](opts.CacheSize, nil, opts.CacheTTL),
		log:     log,
	}
	r.lookup = r.isMember
	return r
}

func (r *Redis) Exists(endpoint string) bool {
	if ok, hit := r.cache.Get(endpoint); hit {
		return ok
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	ok, err := r.lookup(ctx, endpoint)
	if err != nil {
		r.log.Warn("endpoint directory lookup failed",
			zap.String("endpoint", endpoint),
			zap.String("key", r.key),
			zap.Error(err))
		return true
	}
	r.cache.Add(endpoint, ok)
	return ok
}

func (r *Redis) isMember(ctx context.Context, endpoint string) (bool, error) {
	return r.client.SIsMember(ctx, r.key, endpoint).Result()
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// Checker is anything that can answer an endpoint membership query.
type Checker interface {
	Exists(endpoint string) bool
}

// Any reports an endpoint as known when any of its checkers knows it.
type Any []Checker

func (a Any) Exists(endpoint string) bool {
	for _, c := range a {
		if c.Exists(endpoint) {
			return true
		}
	}
	return false
}

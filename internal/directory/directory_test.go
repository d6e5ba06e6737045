package directory

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStatic(t *testing.T) {
	d := NewStatic([]string{"1001", "1002", "1001"})
	assert.Equal(t, 2, d.Len())
	assert.True(t, d.Exists("1001"))
	assert.True(t, d.Exists("1002"))
	assert.False(t, d.Exists("9999"))
	assert.False(t, d.Exists(""))
}

func TestStaticEmpty(t *testing.T) {
	d := NewStatic(nil)
	assert.False(t, d.Exists("1001"))
}

func unusedAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()
	return addr
}

func TestRedisFailsOpen(t *testing.T) {
	r := NewRedis(RedisOptions{Addr: unusedAddr(t), Timeout: 100 * time.Millisecond}, zap.NewNop())
	defer r.Close()

	assert.Error(t, r.Ping(context.Background()))
	assert.True(t, r.Exists("1001"), "unreachable directory should not reject endpoints")
}

func TestRedisDefaults(t *testing.T) {
	r := NewRedis(RedisOptions{Addr: "127.0.0.1:6379"}, nil)
	defer r.Close()

	assert.Equal(t, "endpoints", r.key)
	assert.Equal(t, 500*time.Millisecond, r.timeout)
	assert.NotNil(t, r.log)
	assert.NotNil(t, r.cache)
}

// countingLookup answers from members and counts round trips.
func countingLookup(members map[string]bool, err error) (func(context.Context, string) (bool, error), *int) {
	calls := 0
	return func(_ context.Context, endpoint string) (bool, error) {
		calls++
		if err != nil {
			return false, err
		}
		return members[endpoint], nil
	}, &calls
}

func TestRedisCachesAnswers(t *testing.T) {
	r := NewRedis(RedisOptions{Addr: unusedAddr(t)}, zap.NewNop())
	defer r.Close()
	lookup, calls := countingLookup(map[string]bool{"1001": true}, nil)
	r.lookup = lookup

	assert.True(t, r.Exists("1001"))
	assert.True(t, r.Exists("1001"))
	assert.False(t, r.Exists("9999"))
	assert.False(t, r.Exists("9999"))
	assert.Equal(t, 2, *calls, "repeated lookups should be served from the cache")
}

func TestRedisCacheExpires(t *testing.T) {
	r := NewRedis(RedisOptions{Addr: unusedAddr(t), CacheTTL: 20 * time.Millisecond}, zap.NewNop())
	defer r.Close()
	lookup, calls := countingLookup(map[string]bool{"1001": true}, nil)
	r.lookup = lookup

	assert.True(t, r.Exists("1001"))
	time.Sleep(60 * time.Millisecond)
	assert.True(t, r.Exists("1001"))
	assert.Equal(t, 2, *calls)
}

func TestRedisDoesNotCacheFailures(t *testing.T) {
	r := NewRedis(RedisOptions{Addr: unusedAddr(t)}, zap.NewNop())
	defer r.Close()
	lookup, calls := countingLookup(nil, errors.New("connection refused"))
	r.lookup = lookup

	assert.True(t, r.Exists("1001"))
	assert.True(t, r.Exists("1001"))
	assert.Equal(t, 2, *calls)
}

func TestAny(t *testing.T) {
	d := Any{NewStatic([]string{"1001"}), NewStatic([]string{"2001"})}
	assert.True(t, d.Exists("1001"))
	assert.True(t, d.Exists("2001"))
	assert.False(t, d.Exists("3001"))
	assert.False(t, Any(nil).Exists("1001"))
}

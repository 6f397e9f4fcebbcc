package sentiment

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis 以 hook 截获 GET/SET，在内存中应答，不建立连接。
type fakeRedis struct {
	mu   sync.Mutex
	data map[string][]byte
	ttl  map[string]time.Duration
}

func newFakeRedis() (*fakeRedis, *redis.Client) {
	f := &fakeRedis{data: map[string][]byte{}, ttl: map[string]time.Duration{}}
	client := redis.NewClient(&redis.Options{Addr: "fake:6379"})
	client.AddHook(f)
	return f, client
}

func (f *fakeRedis) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return nil, &net.OpError{Op: "dial", Net: network, Err: assert.AnError}
	}
}

func (f *fakeRedis) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func (f *fakeRedis) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		args := cmd.Args()
		key, _ := args[1].(string)
		switch c := cmd.(type) {
		case *redis.StringCmd:
			val, ok := f.data[key]
			if !ok {
				c.SetErr(redis.Nil)
				return redis.Nil
			}
			c.SetVal(string(val))
		case *redis.StatusCmd:
			switch v := args[2].(type) {
			case []byte:
				f.data[key] = append([]byte(nil), v...)
			case string:
				f.data[key] = []byte(v)
			}
			delete(f.ttl, key)
			if len(args) >= 5 {
				n, _ := args[4].(int64)
				switch strings.ToLower(args[3].(string)) {
				case "ex":
					f.ttl[key] = time.Duration(n) * time.Second
				case "px":
					f.ttl[key] = time.Duration(n) * time.Millisecond
				}
			}
			c.SetVal("OK")
		default:
			return next(ctx, cmd)
		}
		return nil
	}
}

func (f *fakeRedis) put(key, val string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = []byte(val)
}

func TestRedisCacheRoundTrip(t *testing.T) {
	fake, client := newFakeRedis()
	cache := newRedisCache(client, "confluence", 24*time.Hour)
	defer cache.Close()
	ctx := context.Background()

	points, err := cache.Load(ctx)
	require.NoError(t, err, "missing key is an empty cache")
	assert.Nil(t, points)

	want := []Point{
		{Value: 44, Classification: "Fear", Timestamp: day0},
		{Value: 15, Classification: "Extreme Fear", Timestamp: day0.Add(24 * time.Hour)},
	}
	require.NoError(t, cache.Store(ctx, want))

	got, err := cache.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for i := range want {
		assert.Equal(t, want[i].Value, got[i].Value)
		assert.Equal(t, want[i].Classification, got[i].Classification)
		assert.True(t, want[i].Timestamp.Equal(got[i].Timestamp))
	}

	assert.Contains(t, fake.data, "confluence:fear_greed:history")
	assert.Equal(t, 24*time.Hour, fake.ttl["confluence:fear_greed:history"])
}

func TestRedisCacheKeyWithoutPrefix(t *testing.T) {
	fake, client := newFakeRedis()
	cache := newRedisCache(client, "", time.Hour)
	defer cache.Close()

	require.NoError(t, cache.Store(context.Background(), []Point{{Value: 50, Timestamp: day0}}))
	assert.Contains(t, fake.data, historyKey)
	assert.Equal(t, time.Hour, fake.ttl[historyKey])
}

func TestRedisCacheDecodeError(t *testing.T) {
	fake, client := newFakeRedis()
	cache := newRedisCache(client, "confluence", time.Hour)
	defer cache.Close()

	fake.put("confluence:fear_greed:history", "{not json")
	points, err := cache.Load(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "decode cached history")
	assert.Nil(t, points)
}

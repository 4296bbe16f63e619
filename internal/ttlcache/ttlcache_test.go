package ttlcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAndGet(t *testing.T) {
	c := New(time.Minute, time.Minute)
	c.Set("k", 42)
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestGetMissReportsFalse(t *testing.T) {
	c := New(time.Minute, time.Minute)
	_, ok := c.Get("missing")
	assert.False(t, ok)
}

func TestEntryExpiresAfterTTL(t *testing.T) {
	c := New(10*time.Millisecond, 10*time.Millisecond)
	c.Set("k", "v")
	_, ok := c.Get("k")
	require.True(t, ok)
	time.Sleep(40 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestSetWithTTLOverridesDefault(t *testing.T) {
	c := New(time.Hour, time.Hour)
	c.SetWithTTL("k", "v", 10*time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestInvalidate(t *testing.T) {
	c := New(time.Minute, time.Minute)
	c.Set("k", "v")
	c.Invalidate("k")
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestInvalidatePrefixDropsOnlyMatching(t *testing.T) {
	c := New(time.Minute, time.Minute)
	c.Set("dir/a", 1)
	c.Set("dir/b", 2)
	c.Set("other", 3)
	c.InvalidatePrefix("dir/")
	_, ok := c.Get("dir/a")
	assert.False(t, ok)
	_, ok = c.Get("dir/b")
	assert.False(t, ok)
	_, ok = c.Get("other")
	assert.True(t, ok)
}

func TestFlushDropsEverything(t *testing.T) {
	c := New(time.Minute, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Flush()
	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestGetOrLoadCachesResult(t *testing.T) {
	c := New(time.Minute, time.Minute)
	var loads int32
	load := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&loads, 1)
		return "loaded", nil
	}
	v, err := c.GetOrLoad(context.Background(), "k", load)
	require.NoError(t, err)
	assert.Equal(t, "loaded", v)

	v2, err := c.GetOrLoad(context.Background(), "k", load)
	require.NoError(t, err)
	assert.Equal(t, "loaded", v2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&loads))
}

func TestGetOrLoadPropagatesError(t *testing.T) {
	c := New(time.Minute, time.Minute)
	wantErr := errors.New("upstream failed")
	_, err := c.GetOrLoad(context.Background(), "k", func(ctx context.Context) (any, error) {
		return nil, wantErr
	})
	require.Error(t, err)
	_, ok := c.Get("k")
	assert.False(t, ok, "a failed load must not poison the cache")
}

func TestGetOrLoadDeduplicatesConcurrentMisses(t *testing.T) {
	c := New(time.Minute, time.Minute)
	var loads int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	results := make([]any, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			v, err := c.GetOrLoad(context.Background(), "shared", func(ctx context.Context) (any, error) {
				atomic.AddInt32(&loads, 1)
				time.Sleep(20 * time.Millisecond)
				return "value", nil
			})
			require.NoError(t, err)
			results[i] = v
		}(i)
	}
	close(start)
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&loads))
	for _, r := range results {
		assert.Equal(t, "value", r)
	}
}

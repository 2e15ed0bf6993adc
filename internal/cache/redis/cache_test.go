package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCommands struct {
	values map[string]string
	ttls   map[string]time.Duration
	err    error
}

func newFakeCommands() *fakeCommands {
	return &fakeCommands{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeCommands) Get(_ context.Context, key string) *goredis.StringCmd {
	if f.err != nil {
		return goredis.NewStringResult("", f.err)
	}
	v, ok := f.values[key]
	if !ok {
		return goredis.NewStringResult("", goredis.Nil)
	}
	return goredis.NewStringResult(v, nil)
}

func (f *fakeCommands) Set(_ context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd {
	if f.err != nil {
		return goredis.NewStatusResult("", f.err)
	}
	f.values[key] = string(value.([]byte))
	f.ttls[key] = expiration
	return goredis.NewStatusResult("OK", nil)
}

func TestCacheRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fake := newFakeCommands()
	c := &Cache{client: fake}

	_, ok, err := c.Get(ctx, "search:1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "search:1", []byte(`{"n":1}`), 2*time.Minute))
	assert.Equal(t, 2*time.Minute, fake.ttls["search:1"])

	got, ok, err := c.Get(ctx, "search:1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"n":1}`, string(got))
}

func TestCachePropagatesErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := &Cache{client: &fakeCommands{err: errors.New("connection refused")}}

	_, ok, err := c.Get(ctx, "k")
	require.ErrorContains(t, err, "connection refused")
	assert.False(t, ok)
	require.ErrorContains(t, c.Set(ctx, "k", []byte("v"), time.Minute), "connection refused")
}

func TestDialRequiresAddr(t *testing.T) {
	t.Parallel()

	_, err := Dial(context.Background(), Config{})
	require.Error(t, err)
}

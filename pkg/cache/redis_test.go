package cache

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cachedDecision struct {
	Allowed bool   `json:"allowed"`
	Source  string `json:"source"`
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestRedis_GetSet(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedis(t)
	c := NewRedis[cachedDecision](client, "test", quietLogger())

	c.Set(ctx, "decision:u1:-:patient.read", cachedDecision{Allowed: true, Source: "role:Pharmacist"}, time.Minute)

	got, ok := c.Get(ctx, "decision:u1:-:patient.read")
	require.True(t, ok)
	assert.Equal(t, "role:Pharmacist", got.Source)
	assert.True(t, mr.Exists("test:decision:u1:-:patient.read"))

	mr.FastForward(2 * time.Minute)
	_, ok = c.Get(ctx, "decision:u1:-:patient.read")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Sweep(ctx))
}

func TestRedis_DeletePrefix(t *testing.T) {
	ctx := context.Background()
	_, client := setupRedis(t)
	c := NewRedis[cachedDecision](client, "test", quietLogger())

	c.Set(ctx, "decision:u1:w1:a", cachedDecision{}, time.Minute)
	c.Set(ctx, "decision:u1:-:b", cachedDecision{}, time.Minute)
	c.Set(ctx, "decision:u2:w1:a", cachedDecision{}, time.Minute)
	assert.Equal(t, 3, c.Len())

	c.DeletePrefix(ctx, "decision:u1:")
	_, ok := c.Get(ctx, "decision:u2:w1:a")
	assert.True(t, ok)
	assert.Equal(t, 1, c.Len())

	c.Delete(ctx, "decision:u2:w1:a")
	assert.Equal(t, 0, c.Len())
}

func TestRedis_PurgeOnlyTouchesNamespace(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedis(t)
	c := NewRedis[cachedDecision](client, "test", quietLogger())

	require.NoError(t, mr.Set("other:key", "keep"))
	c.Set(ctx, "decision:u1:-:a", cachedDecision{}, time.Minute)

	c.Purge(ctx)
	assert.Equal(t, 0, c.Len())
	assert.True(t, mr.Exists("other:key"))
}

func TestRedis_CorruptEntryIsDropped(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedis(t)
	c := NewRedis[cachedDecision](client, "test", quietLogger())

	require.NoError(t, mr.Set("test:decision:u1:-:a", "{not json"))

	_, ok := c.Get(ctx, "decision:u1:-:a")
	assert.False(t, ok)
	assert.False(t, mr.Exists("test:decision:u1:-:a"))
}

func TestRedis_UnavailableReadsAsMiss(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedis(t)
	c := NewRedis[cachedDecision](client, "test", quietLogger())
	mr.Close()

	c.Set(ctx, "decision:u1:-:a", cachedDecision{Allowed: true}, time.Minute)
	_, ok := c.Get(ctx, "decision:u1:-:a")
	assert.False(t, ok)
	c.DeletePrefix(ctx, "decision:u1:")
	assert.Equal(t, 0, c.Len())
}

func TestNew_Redis(t *testing.T) {
	_, client := setupRedis(t)
	c, err := New[cachedDecision](Options{Backend: BackendRedis, Redis: client, Namespace: "ns"})
	require.NoError(t, err)
	assert.IsType(t, &Redis[cachedDecision]{}, c)
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `decision:u\*:\[a\]\?`, escapeGlob("decision:u*:[a]?"))
}

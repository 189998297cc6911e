package sessions

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/sharedrop/internal/common"
	"github.com/dmitrijs2005/sharedrop/internal/server/models"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis keeps hashes in a map and answers SCAN in pages of one key.
type fakeRedis struct {
	hashes  map[string]map[string]string
	ttls    map[string]time.Duration
	hsetErr error
	scanErr error
	order   []string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{hashes: map[string]map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	if f.hsetErr != nil {
		return redis.NewIntResult(0, f.hsetErr)
	}
	h := map[string]string{}
	for i := 0; i+1 < len(values); i += 2 {
		h[values[i].(string)] = values[i+1].(string)
	}
	if _, ok := f.hashes[key]; !ok {
		f.order = append(f.order, key)
	}
	f.hashes[key] = h
	return redis.NewIntResult(int64(len(h)), nil)
}

func (f *fakeRedis) Expire(ctx context.Context, key string, d time.Duration) *redis.BoolCmd {
	f.ttls[key] = d
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) HGetAll(ctx context.Context, key string) *redis.StringStringMapCmd {
	h, ok := f.hashes[key]
	if !ok {
		h = map[string]string{}
	}
	return redis.NewStringStringMapResult(h, nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := f.hashes[k]; ok {
			delete(f.hashes, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd {
	if f.scanErr != nil {
		return redis.NewScanCmdResult(nil, 0, f.scanErr)
	}
	prefix := strings.TrimSuffix(match, "*")
	var keys []string
	for _, k := range f.order {
		if _, ok := f.hashes[k]; ok && strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	if int(cursor) >= len(keys) {
		return redis.NewScanCmdResult(nil, 0, nil)
	}
	next := cursor + 1
	if int(next) >= len(keys) {
		next = 0
	}
	return redis.NewScanCmdResult([]string{keys[cursor]}, next, nil)
}

func TestRedisRegistry_PutGet(t *testing.T) {
	ctx := context.Background()
	fr := newFakeRedis()
	r := NewRedisRegistry(fr, 0)

	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	in := &models.UploadSession{
		SessionID:   "up-1",
		ObjectKey:   "uploads/2025/03/01/1-0-abcdefgh.pdf",
		Owner:       "sender@example.com",
		Filename:    "a.pdf",
		ContentType: "application/pdf",
		CreatedAt:   created,
	}
	require.NoError(t, r.Put(ctx, in))
	assert.Equal(t, DefaultTTL, fr.ttls["upload:session:up-1"])

	got, err := r.Get(ctx, "up-1")
	require.NoError(t, err)
	assert.Equal(t, in, got)
}

func TestRedisRegistry_GetMissing(t *testing.T) {
	r := NewRedisRegistry(newFakeRedis(), time.Hour)
	_, err := r.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, common.ErrSessionNotFound)
}

func TestRedisRegistry_PutError(t *testing.T) {
	fr := newFakeRedis()
	fr.hsetErr = errors.New("conn refused")
	r := NewRedisRegistry(fr, time.Hour)
	err := r.Put(context.Background(), &models.UploadSession{SessionID: "x"})
	assert.ErrorContains(t, err, "conn refused")
}

func TestRedisRegistry_DeleteAndListOlderThan(t *testing.T) {
	ctx := context.Background()
	fr := newFakeRedis()
	r := NewRedisRegistry(fr, time.Hour)
	now := time.Now().UTC()

	for i, age := range []time.Duration{72 * time.Hour, time.Minute, 30 * time.Hour} {
		require.NoError(t, r.Put(ctx, &models.UploadSession{
			SessionID: string(rune('a' + i)),
			CreatedAt: now.Add(-age),
		}))
	}

	stale, err := r.ListOlderThan(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	var ids []string
	for _, s := range stale {
		ids = append(ids, s.SessionID)
	}
	assert.ElementsMatch(t, []string{"a", "c"}, ids)

	require.NoError(t, r.Delete(ctx, "a"))
	stale, err = r.ListOlderThan(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "c", stale[0].SessionID)
}

func TestRedisRegistry_ScanError(t *testing.T) {
	fr := newFakeRedis()
	fr.scanErr = errors.New("boom")
	_, err := NewRedisRegistry(fr, time.Hour).ListOlderThan(context.Background(), time.Now())
	assert.ErrorContains(t, err, "redis scan")
}

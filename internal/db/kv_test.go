package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKV(t *testing.T) *KV {
	t.Helper()
	database, err := Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return NewKV(database)
}

func TestKV_GetMissingKeys(t *testing.T) {
	kv := newTestKV(t)

	values, err := kv.Get(context.Background(), "nope", "also-nope")
	require.NoError(t, err)
	require.Empty(t, values)
}

func TestKV_SetThenGet(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()

	err := kv.Set(ctx, Patch{
		"recording": true,
		"serverUrl": "https://example.test/api",
		"raw":       json.RawMessage(`{"a":1}`),
	})
	require.NoError(t, err)

	values, err := kv.Get(ctx, "recording", "serverUrl", "raw", "missing")
	require.NoError(t, err)
	require.Len(t, values, 3)
	require.JSONEq(t, `true`, string(values["recording"]))
	require.JSONEq(t, `"https://example.test/api"`, string(values["serverUrl"]))
	require.JSONEq(t, `{"a":1}`, string(values["raw"]))

	var url string
	found, err := Decode(values, "serverUrl", &url)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "https://example.test/api", url)

	found, err = Decode(values, "missing", &url)
	require.NoError(t, err)
	require.False(t, found)
}

func TestKV_SetOverwrites(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, Patch{"n": 1}))
	require.NoError(t, kv.Set(ctx, Patch{"n": 2}))

	values, err := kv.Get(ctx, "n")
	require.NoError(t, err)
	require.JSONEq(t, `2`, string(values["n"]))
}

func TestKV_NilDeletes(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, Patch{"a": 1, "b": 2}))
	require.NoError(t, kv.Set(ctx, Patch{"a": nil}))

	values, err := kv.Get(ctx, "a", "b")
	require.NoError(t, err)
	require.NotContains(t, values, "a")
	require.Contains(t, values, "b")
}

func TestKV_SetIsAtomicOnEncodeFailure(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, Patch{"a": "before"}))

	// Channels cannot be JSON-encoded; nothing from this patch may land.
	err := kv.Set(ctx, Patch{"a": "after", "bad": make(chan int)})
	require.Error(t, err)

	values, err := kv.Get(ctx, "a", "bad")
	require.NoError(t, err)
	require.JSONEq(t, `"before"`, string(values["a"]))
	require.NotContains(t, values, "bad")
}

func TestKV_GetManyKeysAcrossChunks(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()

	patch := Patch{}
	keys := make([]string, 0, 1200)
	for i := 0; i < 1200; i++ {
		k := fmt.Sprintf("k:%04d", i)
		patch[k] = i
		keys = append(keys, k)
	}
	require.NoError(t, kv.Set(ctx, patch))

	values, err := kv.Get(ctx, keys...)
	require.NoError(t, err)
	require.Len(t, values, 1200)
	require.JSONEq(t, `1199`, string(values["k:1199"]))
}

func TestKV_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := Init(dir)
	require.NoError(t, err)
	require.NoError(t, NewKV(first).Set(ctx, Patch{"deviceId": "dev-1"}))
	require.NoError(t, first.Close())

	second, err := Init(dir)
	require.NoError(t, err)
	defer second.Close()

	values, err := NewKV(second).Get(ctx, "deviceId")
	require.NoError(t, err)
	require.JSONEq(t, `"dev-1"`, string(values["deviceId"]))
}

func TestPatch_Merge(t *testing.T) {
	p := Patch{"a": 1, "b": 2}
	p.Merge(Patch{"b": 3, "c": nil})

	require.Equal(t, 1, p["a"])
	require.Equal(t, 3, p["b"])
	v, ok := p["c"]
	require.True(t, ok)
	require.Nil(t, v)
}

func TestKV_UpdateReadModifyWrite(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := kv.Update(ctx, func(r Reader) (Patch, error) {
				values, err := r.Get(ctx, "counter")
				if err != nil {
					return nil, err
				}
				var n int
				if _, err := Decode(values, "counter", &n); err != nil {
					return nil, err
				}
				return Patch{"counter": n + 1}, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	values, err := kv.Get(ctx, "counter")
	require.NoError(t, err)
	require.JSONEq(t, fmt.Sprint(workers), string(values["counter"]))
}

func TestKV_UpdateErrorWritesNothing(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := kv.Update(ctx, func(r Reader) (Patch, error) {
		return Patch{"a": 1}, boom
	})
	require.ErrorIs(t, err, boom)

	values, err := kv.Get(ctx, "a")
	require.NoError(t, err)
	require.Empty(t, values)
}

// openSharedKVs opens two independent stores on one database file, as two
// spr processes do.
func openSharedKVs(t *testing.T) (*KV, *KV) {
	t.Helper()
	dir := t.TempDir()
	first, err := Init(dir)
	require.NoError(t, err)
	t.Cleanup(func() { first.Close() })
	second, err := Init(dir)
	require.NoError(t, err)
	t.Cleanup(func() { second.Close() })
	return NewKV(first), NewKV(second)
}

func readQueue(t *testing.T, r Reader) []string {
	t.Helper()
	values, err := r.Get(context.Background(), "syncQueue")
	require.NoError(t, err)
	var q []string
	_, err = Decode(values, "syncQueue", &q)
	require.NoError(t, err)
	return q
}

func TestKV_UpdateAcrossStoresKeepsBothWrites(t *testing.T) {
	daemon, cli := openSharedKVs(t)
	ctx := context.Background()
	require.NoError(t, daemon.Set(ctx, Patch{"syncQueue": []string{"a"}}))

	cliDone := make(chan error, 1)
	err := daemon.Update(ctx, func(r Reader) (Patch, error) {
		q := readQueue(t, r)
		require.Equal(t, []string{"a"}, q)

		// The other store enqueues while this cycle sits between read and write.
		go func() {
			cliDone <- cli.Update(ctx, func(r Reader) (Patch, error) {
				values, err := r.Get(ctx, "syncQueue")
				if err != nil {
					return nil, err
				}
				var q []string
				if _, err := Decode(values, "syncQueue", &q); err != nil {
					return nil, err
				}
				return Patch{"syncQueue": append(q, "b")}, nil
			})
		}()
		time.Sleep(200 * time.Millisecond)

		return Patch{"syncQueue": q[1:]}, nil
	})
	require.NoError(t, err)
	require.NoError(t, <-cliDone)

	require.Equal(t, []string{"b"}, readQueue(t, daemon))
	require.Equal(t, []string{"b"}, readQueue(t, cli))
}

func TestKV_UpdateAcrossStoresCounter(t *testing.T) {
	a, b := openSharedKVs(t)
	ctx := context.Background()

	incr := func(kv *KV) error {
		return kv.Update(ctx, func(r Reader) (Patch, error) {
			values, err := r.Get(ctx, "counter")
			if err != nil {
				return nil, err
			}
			var n int
			if _, err := Decode(values, "counter", &n); err != nil {
				return nil, err
			}
			return Patch{"counter": n + 1}, nil
		})
	}

	const perStore = 10
	var wg sync.WaitGroup
	for _, kv := range []*KV{a, b} {
		for i := 0; i < perStore; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, incr(kv))
			}()
		}
	}
	wg.Wait()

	values, err := a.Get(ctx, "counter")
	require.NoError(t, err)
	require.JSONEq(t, fmt.Sprint(2*perStore), string(values["counter"]))
}

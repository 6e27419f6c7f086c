package store

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/tally/internal/registry"
	"github.com/conneroisu/tally/internal/scheduler"
)

func openTemp(t *testing.T, buckets ...string) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "tally.db"), buckets...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore(t *testing.T) {
	s := openTemp(t, "entries", "settings")

	require.NoError(t, s.Put("settings", []byte("currency"), []byte("EUR")))
	v, err := s.Get("settings", []byte("currency"))
	require.NoError(t, err)
	assert.Equal(t, []byte("EUR"), v)

	missing, err := s.Get("settings", []byte("nope"))
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, s.Delete("settings", []byte("currency")))
	v, err = s.Get("settings", []byte("currency"))
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestAppendKeepsSequenceOrder(t *testing.T) {
	s := openTemp(t, "entries")

	for _, v := range []string{"a", "b", "c"} {
		_, err := s.Append("entries", []byte(v))
		require.NoError(t, err)
	}

	all, err := s.All("entries")
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, kv := range all {
		assert.Equal(t, uint64(i+1), UnmarshalSeq(kv.Key))
	}
	assert.Equal(t, []byte("c"), all[2].Value)
}

func TestUnknownBucket(t *testing.T) {
	s := openTemp(t)
	require.Error(t, s.Put("ghost", []byte("k"), []byte("v")))
	_, err := s.All("ghost")
	require.Error(t, err)
}

func TestPing(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "tally.db"))
	require.NoError(t, err)
	assert.NoError(t, s.Ping())
	require.NoError(t, s.Close())
	assert.Error(t, s.Ping())
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tally.db")
	s, err := Open(path, "entries")
	require.NoError(t, err)
	_, err = s.Append("entries", []byte("kept"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path, "entries")
	require.NoError(t, err)
	defer s.Close()
	all, err := s.All("entries")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, path, s.Path())
}

type inbox struct {
	mu   sync.Mutex
	msgs []any
}

func (b *inbox) send(msg any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, msg)
}

func (b *inbox) all() []any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]any(nil), b.msgs...)
}

func TestManager(t *testing.T) {
	s := openTemp(t, "entries")
	reg := registry.New(scheduler.New(nil, nil), nil, nil)
	require.NoError(t, reg.Register(Name, Manager(s, nil, nil)))

	var app inbox
	require.NoError(t, reg.Setup(app.send))

	type saved struct {
		seq uint64
		err error
	}
	tag := func(v any) any { return []any{"ledger", v} }

	reg.Dispatch(registry.MapBag(tag, registry.Batch(
		AppendCmd("entries", []byte(`{"amount":5}`), func(seq uint64, err error) any { return saved{seq, err} }),
		PutCmd("entries", MarshalSeq(99), []byte("x"), nil),
	)), nil)

	require.Eventually(t, func() bool { return len(app.all()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []any{"ledger", saved{seq: 1}}, app.all()[0])

	require.Eventually(t, func() bool {
		v, _ := s.Get("entries", MarshalSeq(99))
		return v != nil
	}, time.Second, time.Millisecond)

	reg.Dispatch(LoadCmd("entries", func(kvs []KV, err error) any { return len(kvs) }), nil)
	require.Eventually(t, func() bool { return len(app.all()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, 2, app.all()[1])

	reg.Dispatch(DeleteCmd("missing-bucket", []byte("k"), func(err error) any { return err != nil }), nil)
	require.Eventually(t, func() bool { return len(app.all()) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, true, app.all()[2])
}

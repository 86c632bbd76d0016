package mediacache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, kv KV) *Cache {
	t.Helper()
	return New(context.Background(), kv, Namespace("alisa"), zerolog.Nop())
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "hello world", Normalize("  Hello World \n"))

	long := strings.Repeat("Ж", 300)
	got := Normalize(long)
	assert.Equal(t, KeyLimit, len([]rune(got)))
	assert.Equal(t, strings.Repeat("ж", KeyLimit), got)
}

func TestBoundedEviction(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, NewMemoryStore())

	for i := 0; i < MaxSize+1; i++ {
		c.Put(ctx, fmt.Sprintf("phrase %d", i), fmt.Sprintf("https://video/%d", i))
	}

	assert.Equal(t, MaxSize, c.Len())
	_, ok := c.Get("phrase 0")
	assert.False(t, ok, "first inserted key should be evicted")
	for i := 1; i <= MaxSize; i++ {
		url, ok := c.Get(fmt.Sprintf("phrase %d", i))
		require.True(t, ok, "phrase %d", i)
		assert.Equal(t, fmt.Sprintf("https://video/%d", i), url)
	}
}

func TestUpdateInPlace(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, NewMemoryStore())

	c.Put(ctx, "k", "urlA")
	c.Put(ctx, "other", "urlX")
	c.Put(ctx, " K ", "urlB")

	entries := c.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "k", entries[0].Key)
	assert.Equal(t, "urlB", entries[0].URL)

	url, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "urlB", url)
}

func TestReloadFromStore(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryStore()

	first := newTestCache(t, kv)
	first.Put(ctx, "Привет", "https://video/1")

	second := newTestCache(t, kv)
	url, ok := second.Get("привет")
	require.True(t, ok)
	assert.Equal(t, "https://video/1", url)

	other := New(ctx, kv, Namespace("maks"), zerolog.Nop())
	_, ok = other.Get("привет")
	assert.False(t, ok, "namespaces are isolated")
}

func TestMalformedStateStartsEmpty(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryStore()
	require.NoError(t, kv.Set(ctx, Namespace("alisa"), entriesKey, []byte("{not json")))

	c := newTestCache(t, kv)
	assert.Equal(t, 0, c.Len())
}

type failingKV struct {
	*MemoryStore
	deletes int
}

func (f *failingKV) Set(context.Context, string, string, []byte) error {
	return errors.New("quota exceeded")
}

func (f *failingKV) Delete(ctx context.Context, namespace, key string) error {
	f.deletes++
	return f.MemoryStore.Delete(ctx, namespace, key)
}

func TestPersistFailureIsFailOpen(t *testing.T) {
	ctx := context.Background()
	kv := &failingKV{MemoryStore: NewMemoryStore()}
	c := newTestCache(t, kv)

	assert.NotPanics(t, func() { c.Put(ctx, "hello", "https://video/1") })
	assert.Equal(t, 1, kv.deletes)
	assert.Equal(t, 0, c.Len())

	// keeps accepting writes
	c.Put(ctx, "again", "https://video/2")
	assert.Equal(t, 2, kv.deletes)
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Get(ctx, "ns", "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Set(ctx, "ns", "k", []byte("v1")))
	require.NoError(t, store.Set(ctx, "ns", "k", []byte("v2")))
	got, err := store.Get(ctx, "ns", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)

	c := New(ctx, store, Namespace("alisa"), zerolog.Nop())
	c.Put(ctx, "hello", "https://video/1")
	reloaded := New(ctx, store, Namespace("alisa"), zerolog.Nop())
	url, ok := reloaded.Get("HELLO")
	require.True(t, ok)
	assert.Equal(t, "https://video/1", url)

	require.NoError(t, store.Delete(ctx, "ns", "k"))
	_, err = store.Get(ctx, "ns", "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

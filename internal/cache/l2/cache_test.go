// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package l2

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/pdiddy/docudactyl/pkg/types"
)

var fp = strings.Repeat("ab12", 16)

func sample() types.ParseResult {
	return types.ParseResult{
		Status:    types.StatusOK,
		Kind:      types.KindPDF,
		PageCount: 2,
		WordCount: 300,
		CharCount: 1800,
		SHA256:    fp,
		Title:     "Shared",
		MIMEType:  "application/pdf",
	}
}

func newRedisCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(types.L2Config{Endpoint: mr.Addr()})
	require.NoError(t, err)
	c := New(store, types.L2Config{Namespace: "test", TTL: time.Hour}, nil)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestRedisRoundTrip(t *testing.T) {
	c, mr := newRedisCache(t)
	ctx := context.Background()

	_, ok := c.Lookup(ctx, fp)
	assert.False(t, ok)

	c.Store(ctx, fp, sample())
	got, ok := c.Lookup(ctx, fp)
	require.True(t, ok)
	assert.Equal(t, sample(), got)

	assert.True(t, mr.Exists("test:"+fp))
	assert.Equal(t, time.Hour, mr.TTL("test:"+fp))

	st := c.Stats()
	assert.Equal(t, uint64(1), st.Hits)
	assert.Equal(t, uint64(1), st.Misses)
	assert.Equal(t, uint64(1), st.Stores)
}

func TestRedisTTLExpiry(t *testing.T) {
	c, mr := newRedisCache(t)
	ctx := context.Background()
	c.Store(ctx, fp, sample())
	mr.FastForward(2 * time.Hour)
	_, ok := c.Lookup(ctx, fp)
	assert.False(t, ok)
}

func TestRedisCountByNamespace(t *testing.T) {
	c, mr := newRedisCache(t)
	ctx := context.Background()
	for _, f := range []string{"a1", "b2", "c3"} {
		c.Store(ctx, f, sample())
	}
	payload, err := msgpack.Marshal(map[string]int{"k": 1})
	require.NoError(t, err)
	c.StoreStages(ctx, "a1", types.StagesFast, payload)
	require.NoError(t, mr.Set("other:zz", "x"))

	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)
}

func TestStagesRoundTrip(t *testing.T) {
	c, _ := newRedisCache(t)
	ctx := context.Background()
	payload, err := msgpack.Marshal(map[string]string{"language": "latin"})
	require.NoError(t, err)

	c.StoreStages(ctx, fp, types.StagesAnalysis, payload)
	mask, blob, ok := c.LookupStages(ctx, fp)
	require.True(t, ok)
	assert.Equal(t, types.StagesAnalysis, mask)
	assert.Equal(t, payload, blob)

	_, _, ok = c.LookupStages(ctx, "unknown")
	assert.False(t, ok)
}

func TestUnreachableDegrades(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	c, err := Connect(context.Background(), types.L2Config{
		Backend:   types.L2Redis,
		Endpoint:  addr,
		OpTimeout: 200 * time.Millisecond,
	}, nil)
	require.NoError(t, err)
	require.NotNil(t, c)
	defer c.Close()

	ctx := context.Background()
	c.Store(ctx, fp, sample())
	_, ok := c.Lookup(ctx, fp)
	assert.False(t, ok)
	_, _, ok = c.LookupStages(ctx, fp)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, c.Stats().Failures, uint64(2))
}

func TestConnectConfigErrors(t *testing.T) {
	ctx := context.Background()

	c, err := Connect(ctx, types.L2Config{Backend: types.L2None}, nil)
	require.NoError(t, err)
	assert.Nil(t, c)

	_, err = Connect(ctx, types.L2Config{Backend: "memcached"}, nil)
	assert.Error(t, err)
	_, err = Connect(ctx, types.L2Config{Backend: types.L2Redis}, nil)
	assert.Error(t, err)
	_, err = Connect(ctx, types.L2Config{Backend: types.L2S3}, nil)
	assert.Error(t, err)
	_, err = Connect(ctx, types.L2Config{Backend: types.L2Postgres}, nil)
	assert.Error(t, err)
}

func TestNilAndClosedCache(t *testing.T) {
	ctx := context.Background()
	var c *Cache
	_, ok := c.Lookup(ctx, fp)
	assert.False(t, ok)
	c.Store(ctx, fp, sample())
	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, c.Close())
	assert.Equal(t, Stats{}, c.Stats())

	live, _ := newRedisCache(t)
	require.NoError(t, live.Close())
	require.NoError(t, live.Close())
	_, ok = live.Lookup(ctx, fp)
	assert.False(t, ok)
}

func TestKeyFormat(t *testing.T) {
	c := New(nil, types.L2Config{}, nil)
	assert.Equal(t, "ddac:"+fp, c.Key(fp))
	c = New(nil, types.L2Config{Namespace: "prod"}, nil)
	assert.Equal(t, "prod:abc", c.Key("abc"))
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `a\*b\?c\[d\]`, escapeGlob("a*b?c[d]"))
}

// fakeS3 is an in-memory bucket.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	failing bool
}

type fakeObject struct {
	data []byte
	meta map[string]string
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string]fakeObject{}} }

var errFakeDown = errors.New("connection refused")

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return nil, errFakeDown
	}
	o, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(o.data)), Metadata: o.meta}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return nil, errFakeDown
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = fakeObject{data: data, meta: in.Metadata}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.failing {
		return nil, errFakeDown
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			out.Contents = append(out.Contents, s3types.Object{Key: aws.String(k)})
		}
	}
	return out, nil
}

func TestS3Store(t *testing.T) {
	fake := newFakeS3()
	store := newS3Store(fake, "bucket")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	c := New(store, types.L2Config{Namespace: "s3"}, nil)
	ctx := context.Background()

	_, ok := c.Lookup(ctx, fp)
	assert.False(t, ok)

	c.Store(ctx, fp, sample())
	got, ok := c.Lookup(ctx, fp)
	require.True(t, ok)
	assert.Equal(t, sample(), got)

	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	now = now.Add(8 * 24 * time.Hour)
	_, ok = c.Lookup(ctx, fp)
	assert.False(t, ok, "past the recorded deadline")

	fake.failing = true
	c.Store(ctx, "other", sample())
	_, ok = c.Lookup(ctx, "other")
	assert.False(t, ok)
}

func TestSQLStore(t *testing.T) {
	ctx := context.Background()
	db, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	store, err := NewSQLStore(ctx, db, "BLOB")
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)
	store.now = func() time.Time { return now }

	c := New(store, types.L2Config{Namespace: "pg", TTL: time.Minute}, nil)
	defer c.Close()

	c.Store(ctx, fp, sample())
	c.Store(ctx, "second", sample())
	got, ok := c.Lookup(ctx, fp)
	require.True(t, ok)
	assert.Equal(t, sample(), got)

	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	now = now.Add(2 * time.Minute)
	_, ok = c.Lookup(ctx, fp)
	assert.False(t, ok)
	n, err = c.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	c.Store(ctx, fp, sample())
	_, ok = c.Lookup(ctx, fp)
	assert.True(t, ok, "expired row replaced by a new write")
}

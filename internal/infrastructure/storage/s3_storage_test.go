package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/billflow/backend/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNewS3ObjectStorage_Validation(t *testing.T) {
	ctx := context.Background()

	t.Run("nil config returns error", func(t *testing.T) {
		_, err := NewS3ObjectStorage(ctx, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "configuration is required")
	})

	t.Run("missing bucket returns error", func(t *testing.T) {
		_, err := NewS3ObjectStorage(ctx, &config.StorageConfig{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bucket is required")
	})

	t.Run("half configured credentials return error", func(t *testing.T) {
		_, err := NewS3ObjectStorage(ctx, &config.StorageConfig{Bucket: "archive", AccessKeyID: "key"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be set together")
	})

	t.Run("valid config creates storage", func(t *testing.T) {
		s, err := NewS3ObjectStorage(ctx, &config.StorageConfig{
			Bucket:          "archive",
			Endpoint:        "minio:9000",
			AccessKeyID:     "key",
			SecretAccessKey: "secret",
			UsePathStyle:    true,
		}, WithLogger(zaptest.NewLogger(t)))
		require.NoError(t, err)
		assert.Equal(t, "archive", s.Bucket())
	})
}

func TestS3ObjectStorage_ObjectKey(t *testing.T) {
	s := &S3ObjectStorage{prefix: "usage"}
	assert.Equal(t, "usage/2026/03/01/batch.jsonl", s.objectKey("/2026/03/01/batch.jsonl"))

	s.prefix = ""
	assert.Equal(t, "a/b", s.objectKey("a/b"))
}

// fakeS3 answers path-style PUT and HEAD object requests
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[r.URL.Path] = string(body)
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodHead:
		if _, ok := f.objects[r.URL.Path]; ok {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestS3ObjectStorage_PutAndExists(t *testing.T) {
	fake := &fakeS3{objects: map[string]string{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	ctx := context.Background()
	s, err := NewS3ObjectStorage(ctx, &config.StorageConfig{
		Bucket:          "archive",
		Prefix:          "usage",
		Endpoint:        srv.URL,
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		UsePathStyle:    true,
	})
	require.NoError(t, err)

	payload := `{"id":"e1","user_id":"u1"}` + "\n"
	require.NoError(t, s.Put(ctx, "2026/03/01/b1.jsonl", []byte(payload), "application/x-ndjson"))

	fake.mu.Lock()
	stored, ok := fake.objects["/archive/usage/2026/03/01/b1.jsonl"]
	fake.mu.Unlock()
	require.True(t, ok)
	assert.True(t, strings.Contains(stored, `"user_id":"u1"`))

	exists, err := s.Exists(ctx, "2026/03/01/b1.jsonl")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.Exists(ctx, "2026/03/01/missing.jsonl")
	require.NoError(t, err)
	assert.False(t, exists)

	assert.Error(t, s.Put(ctx, "", nil, ""))
}

func TestMemoryObjectStorage(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryObjectStorage()

	require.NoError(t, m.Put(ctx, "b", []byte("2"), "text/plain"))
	require.NoError(t, m.Put(ctx, "a", []byte("1"), "text/plain"))
	assert.Error(t, m.Put(ctx, "", nil, ""))

	ok, err := m.Exists(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	b, ok := m.Get("b")
	require.True(t, ok)
	assert.Equal(t, "2", string(b))
	assert.Equal(t, []string{"a", "b"}, m.Keys())
}

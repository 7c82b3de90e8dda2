package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Ayash-Bera/arena/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Embed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "embed-small", req.Model)
		assert.Equal(t, "hello", req.Input)

		w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`))
	}))
	defer server.Close()

	client := NewClient(config.EmbeddingConfig{Endpoint: server.URL, APIKey: "test-key", Model: "embed-small"}, logrus.New())
	vector, err := client.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vector)
}

func TestClient_EmbedError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("bad key"))
	}))
	defer server.Close()

	client := NewClient(config.EmbeddingConfig{Endpoint: server.URL}, logrus.New())
	_, err := client.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

type mapStore struct {
	mu      sync.Mutex
	vectors map[string][]float32
	failGet bool
}

func (s *mapStore) GetEmbedding(ctx context.Context, key string) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet {
		return nil, errors.New("redis down")
	}
	return s.vectors[key], nil
}

func (s *mapStore) SetEmbedding(ctx context.Context, key string, vector []float32, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vectors[key] = vector
	return nil
}

type countingEmbedder struct {
	calls int
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	return []float32{float32(len(text)), 1}, nil
}

func TestCached_Embed(t *testing.T) {
	store := &mapStore{vectors: map[string][]float32{}}
	next := &countingEmbedder{}
	cached := NewCached(next, store, time.Hour, logrus.New())

	first, err := cached.Embed(context.Background(), "abc")
	require.NoError(t, err)
	second, err := cached.Embed(context.Background(), "abc")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, next.calls)
	assert.Contains(t, store.vectors, Key("abc"))
}

func TestCached_StoreFailureFallsThrough(t *testing.T) {
	store := &mapStore{vectors: map[string][]float32{}, failGet: true}
	next := &countingEmbedder{}
	cached := NewCached(next, store, time.Hour, logrus.New())

	vector, err := cached.Embed(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 1}, vector)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2, 3}, []float32{2, 4, 6}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 0}))
}

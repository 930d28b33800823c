package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/retry"
)

func newTestClient(t *testing.T, url string, dim int) *Client {
	t.Helper()
	c, err := NewClient(Config{APIKey: "test", BaseURL: url, Dimension: dim}, observability.NopLogger())
	require.NoError(t, err)
	return c.WithRetryPolicy(retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})
}

func TestClient_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test", r.Header.Get("Authorization"))

		var req EmbeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Input, 2)

		// Out of order on purpose.
		json.NewEncoder(w).Encode(EmbeddingResponse{Data: []EmbeddingData{
			{Index: 1, Embedding: []float32{0, 1}},
			{Index: 0, Embedding: []float32{1, 0}},
		}})
	}))
	defer srv.Close()

	vecs, err := newTestClient(t, srv.URL, 2).Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
}

func TestClient_RetriesTransientStatus(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(EmbeddingResponse{Data: []EmbeddingData{{Index: 0, Embedding: []float32{1, 0}}}})
	}))
	defer srv.Close()

	vec, err := newTestClient(t, srv.URL, 2).EmbedSingle(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, vec)
	assert.Equal(t, int32(2), hits.Load())
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key","type":"auth"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, 2).Embed(context.Background(), []string{"q"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
	assert.Equal(t, int32(1), hits.Load())
}

func TestClient_DimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(EmbeddingResponse{Data: []EmbeddingData{{Index: 0, Embedding: []float32{1, 0, 0}}}})
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL, 2).Embed(context.Background(), []string{"q"})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{Dimension: 2}, nil)
	assert.Error(t, err)
	_, err = NewClient(Config{APIKey: "k"}, nil)
	assert.Error(t, err)
}

func TestMockClient(t *testing.T) {
	m := NewMockClient(32)
	ctx := context.Background()

	a, err := m.EmbedSingle(ctx, "Affordable insulin for Medicare patients")
	require.NoError(t, err)
	b, err := m.EmbedSingle(ctx, "affordable INSULIN for medicare patients!")
	require.NoError(t, err)
	assert.Equal(t, a, b, "tokenization ignores case and punctuation")
	assert.Len(t, a, 32)
	assert.Equal(t, 2, m.Calls())

	boom := errors.New("rate limited")
	m.FailNext(1, boom)
	_, err = m.Embed(ctx, []string{"x"})
	assert.ErrorIs(t, err, boom)
	_, err = m.Embed(ctx, []string{"x"})
	assert.NoError(t, err)
}

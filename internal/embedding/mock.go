package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"
)

// MockClient is an offline Embedder. Texts are hashed token-by-token into a
// fixed number of buckets, so texts sharing words end up close together.
type MockClient struct {
	dimension int
	calls     atomic.Int64

	mu       sync.Mutex
	failNext int
	failErr  error
}

// NewMockClient creates a deterministic mock embedder.
func NewMockClient(dimension int) *MockClient {
	if dimension <= 0 {
		dimension = 64
	}
	return &MockClient{dimension: dimension}
}

// FailNext makes the next n Embed calls return err.
func (c *MockClient) FailNext(n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = n
	c.failErr = err
}

// Calls returns how many Embed calls were made.
func (c *MockClient) Calls() int {
	return int(c.calls.Load())
}

// Embed hashes each text into a normalized vector.
func (c *MockClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.failNext > 0 {
		c.failNext--
		err := c.failErr
		c.mu.Unlock()
		return nil, err
	}
	c.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = c.vector(text)
	}
	return out, nil
}

// EmbedSingle generates a mock embedding for a single text.
func (c *MockClient) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// Model returns the mock model name.
func (c *MockClient) Model() string {
	return "mock-hashing-embedder"
}

// Dimension returns the embedding dimension.
func (c *MockClient) Dimension() int {
	return c.dimension
}

func (c *MockClient) vector(text string) []float32 {
	v := make([]float32, c.dimension)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		h := fnv.New32a()
		h.Write([]byte(tok))
		v[h.Sum32()%uint32(c.dimension)] += 1
	}

	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= norm
	}
	return v
}

var _ Embedder = (*MockClient)(nil)

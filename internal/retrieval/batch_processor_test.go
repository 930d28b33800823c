package retrieval

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/intent"
)

type echoAnswerer struct {
	delay  time.Duration
	active atomic.Int32
	peak   atomic.Int32
}

func (e *echoAnswerer) Answer(ctx context.Context, question string, _ []intent.Turn) (*Answer, error) {
	n := e.active.Add(1)
	defer e.active.Add(-1)
	for {
		p := e.peak.Load()
		if n <= p || e.peak.CompareAndSwap(p, n) {
			break
		}
	}

	select {
	case <-time.After(e.delay):
	case <-ctx.Done():
		return nil, &Error{Kind: KindRetrieval, Op: "retrieve", Err: ctx.Err()}
	}
	if strings.Contains(question, "fail") {
		return &Answer{Text: GenericFailureMessage}, &Error{Kind: KindGeneration, Op: "generate"}
	}
	return &Answer{Text: "re: " + question}, nil
}

func TestNewBatchProcessor_Defaults(t *testing.T) {
	bp := NewBatchProcessor(&echoAnswerer{}, 0, 0)
	assert.Equal(t, 4, bp.maxWorkers)
	assert.Equal(t, 2*time.Minute, bp.timeout)
}

func TestBatchProcessor_AnswerAll(t *testing.T) {
	eng := &echoAnswerer{delay: 5 * time.Millisecond}
	bp := NewBatchProcessor(eng, 2, time.Second)

	questions := []string{"a", "b", "please fail", "d", "e"}
	results, err := bp.AnswerAll(context.Background(), questions)
	require.NoError(t, err)
	require.Len(t, results, 5)

	for i, r := range results {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, questions[i], r.Question)
	}
	assert.Equal(t, "re: a", results[0].Answer.Text)
	assert.Equal(t, "generation", results[2].Kind)
	assert.NotEmpty(t, results[2].Error)
	assert.Empty(t, results[4].Error)
	assert.LessOrEqual(t, eng.peak.Load(), int32(2))
}

func TestBatchProcessor_Timeout(t *testing.T) {
	bp := NewBatchProcessor(&echoAnswerer{delay: time.Second}, 1, 20*time.Millisecond)

	results, err := bp.AnswerAll(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
	for _, r := range results {
		assert.NotEmpty(t, r.Error)
	}
}

func TestBatchProcessor_Empty(t *testing.T) {
	results, err := NewBatchProcessor(&echoAnswerer{}, 1, time.Second).AnswerAll(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

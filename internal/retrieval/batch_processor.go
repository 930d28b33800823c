package retrieval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/intent"
)

// Answerer answers one question.
type Answerer interface {
	Answer(ctx context.Context, question string, history []intent.Turn) (*Answer, error)
}

// BatchItem is the outcome for one question of a batch.
type BatchItem struct {
	Index    int     `json:"index"`
	Question string  `json:"question"`
	Answer   *Answer `json:"answer,omitempty"`
	Error    string  `json:"error,omitempty"`
	Kind     string  `json:"error_kind,omitempty"`
}

// BatchProcessor answers independent questions in parallel.
type BatchProcessor struct {
	engine     Answerer
	maxWorkers int
	timeout    time.Duration
}

// NewBatchProcessor creates a new batch processor.
func NewBatchProcessor(engine Answerer, maxWorkers int, timeout time.Duration) *BatchProcessor {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &BatchProcessor{
		engine:     engine,
		maxWorkers: maxWorkers,
		timeout:    timeout,
	}
}

// AnswerAll answers every question without shared history. Results keep input
// order. On timeout the unanswered items carry the context error.
func (bp *BatchProcessor) AnswerAll(ctx context.Context, questions []string) ([]BatchItem, error) {
	results := make([]BatchItem, len(questions))
	if len(questions) == 0 {
		return results, nil
	}

	processCtx, cancel := context.WithTimeout(ctx, bp.timeout)
	defer cancel()

	work := make(chan int, len(questions))
	for i := range questions {
		results[i] = BatchItem{Index: i, Question: questions[i]}
		work <- i
	}
	close(work)

	var wg sync.WaitGroup
	for w := 0; w < bp.maxWorkers && w < len(questions); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				if err := processCtx.Err(); err != nil {
					results[i].Error = err.Error()
					continue
				}
				ans, err := bp.engine.Answer(processCtx, questions[i], nil)
				results[i].Answer = ans
				if err != nil {
					results[i].Error = err.Error()
					if k := KindOf(err); k != 0 {
						results[i].Kind = k.String()
					}
				}
			}
		}()
	}
	wg.Wait()

	if err := processCtx.Err(); err != nil && ctx.Err() == nil {
		return results, fmt.Errorf("batch processing timeout after %v", bp.timeout)
	}
	return results, ctx.Err()
}

package retrieval

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/evidence"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/generation"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/intent"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/linker"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/planner"
)

// ErrEmptyQuestion is returned for blank questions.
var ErrEmptyQuestion = errors.New("question is empty")

// Classifier classifies questions.
type Classifier interface {
	Classify(question string, history []intent.Turn) intent.Classification
}

// AnswerLinker rewrites citations in generated text.
type AnswerLinker interface {
	Link(ctx context.Context, text string) (string, []linker.Link)
}

// Answer is the engine's response to one question.
type Answer struct {
	Text        string           `json:"text"`
	Bundle      *evidence.Bundle `json:"bundle"`
	Links       []linker.Link    `json:"links"`
	Diagnostics Diagnostics      `json:"diagnostics"`
}

// Diagnostics explains how an answer was produced.
type Diagnostics struct {
	RequestID      string                `json:"request_id"`
	Classification intent.Classification `json:"classification"`
	Stage          Stage                 `json:"stage"`
	StagesTried    []Stage               `json:"stages_tried"`
	Plans          []string              `json:"plans"`
	Errors         []ErrorInfo           `json:"errors,omitempty"`
	// Degraded marks GENERIC answers built from overview evidence only.
	Degraded  bool   `json:"degraded"`
	Generator string `json:"generator"`
	LatencyMs int64  `json:"latency_ms"`
	Cached    bool   `json:"cached"`
}

// ErrorInfo is the serializable form of an *Error.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Op      string `json:"op"`
	Message string `json:"message"`
}

func describe(errs []*Error) []ErrorInfo {
	if len(errs) == 0 {
		return nil
	}
	out := make([]ErrorInfo, len(errs))
	for i, e := range errs {
		msg := ""
		if e.Err != nil {
			msg = e.Err.Error()
		}
		out[i] = ErrorInfo{Kind: e.Kind.String(), Op: e.Op, Message: msg}
	}
	return out
}

// EngineMetrics counts engine outcomes since start.
type EngineMetrics struct {
	mu                 sync.Mutex
	Requests           int64
	CacheHits          int64
	RetrievalFailures  int64
	GenerationFailures int64
	ByStage            map[Stage]int64
	TotalLatencyMs     int64
}

func (m *EngineMetrics) record(fn func(m *EngineMetrics)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m)
}

// MetricsSnapshot is a copy of EngineMetrics safe to serialize.
type MetricsSnapshot struct {
	Requests           int64           `json:"requests"`
	CacheHits          int64           `json:"cache_hits"`
	RetrievalFailures  int64           `json:"retrieval_failures"`
	GenerationFailures int64           `json:"generation_failures"`
	ByStage            map[Stage]int64 `json:"by_stage"`
	AvgLatencyMs       float64         `json:"avg_latency_ms"`
}

// EngineOptions are the engine's collaborators. Linker and Cache are optional.
type EngineOptions struct {
	Classifier Classifier
	Paths      *Paths
	Controller *FallbackController
	Generator  generation.Generator
	Linker     AnswerLinker
	Cache      *ResponseCache
	Logger     *observability.Logger
}

// Engine answers questions: classify, retrieve with escalation, generate, link.
type Engine struct {
	classifier Classifier
	paths      *Paths
	controller *FallbackController
	generator  generation.Generator
	linker     AnswerLinker
	cache      *ResponseCache
	logger     *observability.Logger
	metrics    *EngineMetrics
	now        func() time.Time
}

// NewEngine validates the options and builds an Engine.
func NewEngine(opts EngineOptions) (*Engine, error) {
	switch {
	case opts.Classifier == nil:
		return nil, &Error{Kind: KindConfig, Op: "new engine", Err: errors.New("classifier is required")}
	case opts.Paths == nil:
		return nil, &Error{Kind: KindConfig, Op: "new engine", Err: errors.New("retrieval paths are required")}
	case opts.Controller == nil:
		return nil, &Error{Kind: KindConfig, Op: "new engine", Err: errors.New("fallback controller is required")}
	case opts.Generator == nil:
		return nil, &Error{Kind: KindConfig, Op: "new engine", Err: errors.New("generator is required")}
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Engine{
		classifier: opts.Classifier,
		paths:      opts.Paths,
		controller: opts.Controller,
		generator:  opts.Generator,
		linker:     opts.Linker,
		cache:      opts.Cache,
		logger:     logger.WithComponent("engine"),
		metrics:    &EngineMetrics{ByStage: make(map[Stage]int64)},
		now:        time.Now,
	}, nil
}

// Classify runs only the intent classifier.
func (e *Engine) Classify(question string, history []intent.Turn) intent.Classification {
	return e.classifier.Classify(strings.TrimSpace(question), history)
}

// Plan returns the plans the planner would run for the question's categories.
func (e *Engine) Plan(question string, history []intent.Turn) (intent.Classification, []planner.QueryPlan) {
	c := e.Classify(question, history)
	if e.paths.Planner == nil {
		return c, nil
	}
	return c, e.paths.Planner.Plan(c, nil)
}

// Answer answers a question. On generation failure the answer is still
// returned, carrying GenericFailureMessage, the evidence and diagnostics,
// together with an *Error of KindGeneration.
func (e *Engine) Answer(ctx context.Context, question string, history []intent.Turn) (*Answer, error) {
	start := e.now()
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	requestID := observability.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
		ctx = observability.ContextWithRequestID(ctx, requestID)
	}
	log := e.logger.WithContext(ctx)
	e.metrics.record(func(m *EngineMetrics) { m.Requests++ })

	if e.cache != nil {
		if cached, ok := e.cache.Get(ctx, question, history); ok {
			cached.Diagnostics.RequestID = requestID
			cached.Diagnostics.Cached = true
			cached.Diagnostics.LatencyMs = e.now().Sub(start).Milliseconds()
			e.metrics.record(func(m *EngineMetrics) { m.CacheHits++ })
			return cached, nil
		}
	}

	c := e.classifier.Classify(question, history)
	log.Info().
		Strs("categories", categoryNames(c.Categories)).
		Float64("confidence", c.Confidence).
		Msg("Classified question")

	trace, err := e.controller.Retrieve(ctx, e.paths.ForRequest(), question, c)
	ans := &Answer{
		Bundle: trace.Bundle,
		Diagnostics: Diagnostics{
			RequestID:      requestID,
			Classification: c,
			Stage:          trace.Stage,
			StagesTried:    trace.StagesTried,
			Plans:          trace.Plans,
			Errors:         describe(trace.Errors),
			Degraded:       trace.Degraded,
			Generator:      e.generator.Name(),
		},
	}
	if ans.Bundle == nil {
		ans.Bundle = &evidence.Bundle{}
	}

	finish := func() {
		ans.Diagnostics.LatencyMs = e.now().Sub(start).Milliseconds()
		e.metrics.record(func(m *EngineMetrics) {
			m.ByStage[trace.Stage]++
			m.TotalLatencyMs += ans.Diagnostics.LatencyMs
		})
	}

	if err != nil {
		ans.Text = GenericFailureMessage
		finish()
		e.metrics.record(func(m *EngineMetrics) { m.RetrievalFailures++ })
		log.Error().Err(err).Strs("stages", stageNames(trace.StagesTried)).Msg("Retrieval failed")
		return ans, err
	}

	text, err := e.generator.Generate(ctx, generation.Request{Question: question, History: history, Bundle: ans.Bundle})
	if err != nil {
		gerr := &Error{Kind: KindGeneration, Op: "generate", Err: err}
		ans.Text = GenericFailureMessage
		ans.Diagnostics.Errors = append(ans.Diagnostics.Errors, describe([]*Error{gerr})...)
		finish()
		e.metrics.record(func(m *EngineMetrics) { m.GenerationFailures++ })
		log.Error().Err(err).Str("generator", e.generator.Name()).Msg("Generation failed")
		return ans, gerr
	}

	if e.linker != nil {
		text, ans.Links = e.linker.Link(ctx, text)
	}
	ans.Text = text
	finish()

	log.Info().
		Str("stage", string(trace.Stage)).
		Int("evidence", len(ans.Bundle.Items)).
		Int("links", len(ans.Links)).
		Bool("degraded", trace.Degraded).
		Int64("latency_ms", ans.Diagnostics.LatencyMs).
		Msg("Answered question")

	if e.cache != nil && !trace.Degraded {
		_ = e.cache.Set(ctx, question, history, ans)
	}
	return ans, nil
}

// Metrics returns a snapshot of the engine counters.
func (e *Engine) Metrics() MetricsSnapshot {
	e.metrics.mu.Lock()
	defer e.metrics.mu.Unlock()

	s := MetricsSnapshot{
		Requests:           e.metrics.Requests,
		CacheHits:          e.metrics.CacheHits,
		RetrievalFailures:  e.metrics.RetrievalFailures,
		GenerationFailures: e.metrics.GenerationFailures,
		ByStage:            make(map[Stage]int64, len(e.metrics.ByStage)),
	}
	var answered int64
	for stage, n := range e.metrics.ByStage {
		s.ByStage[stage] = n
		answered += n
	}
	if answered > 0 {
		s.AvgLatencyMs = float64(e.metrics.TotalLatencyMs) / float64(answered)
	}
	return s
}

func categoryNames(cats []intent.Category) []string {
	out := make([]string, len(cats))
	for i, c := range cats {
		out[i] = string(c)
	}
	return out
}

func stageNames(stages []Stage) []string {
	out := make([]string, len(stages))
	for i, s := range stages {
		out[i] = string(s)
	}
	return out
}

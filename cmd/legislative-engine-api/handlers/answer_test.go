package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/intent"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/planner"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/retrieval"
)

type fakeEngine struct {
	answer  *retrieval.Answer
	err     error
	history []intent.Turn
}

func (f *fakeEngine) Answer(_ context.Context, _ string, history []intent.Turn) (*retrieval.Answer, error) {
	f.history = history
	return f.answer, f.err
}

func (f *fakeEngine) Classify(question string, _ []intent.Turn) intent.Classification {
	return intent.Classification{Question: question, Categories: []intent.Category{intent.CategoryTopic}, Confidence: 0.7}
}

func (f *fakeEngine) Plan(question string, history []intent.Turn) (intent.Classification, []planner.QueryPlan) {
	return f.Classify(question, history), []planner.QueryPlan{{Name: "topic_bills", Type: planner.TypeLookup}}
}

func (f *fakeEngine) Metrics() retrieval.MetricsSnapshot {
	return retrieval.MetricsSnapshot{Requests: 3}
}

type fakeBatch struct {
	err error
}

func (f *fakeBatch) AnswerAll(_ context.Context, questions []string) ([]retrieval.BatchItem, error) {
	out := make([]retrieval.BatchItem, len(questions))
	for i, q := range questions {
		out[i] = retrieval.BatchItem{Index: i, Question: q, Answer: &retrieval.Answer{Text: "a" + q}}
	}
	return out, f.err
}

func okAnswer() *retrieval.Answer {
	return &retrieval.Answer{
		Text:        "It caps insulin costs.",
		Diagnostics: retrieval.Diagnostics{Stage: retrieval.StageFast, RequestID: "r1"},
	}
}

func do(t *testing.T, h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestAnswer(t *testing.T) {
	engine := &fakeEngine{answer: okAnswer()}
	h := NewAnswerHandler(observability.NopLogger(), engine, &fakeBatch{})

	rec := do(t, h.Answer, `{"question":"What is HR 1234 about?","conversationContext":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var dto AnswerResponseDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	assert.Equal(t, "It caps insulin costs.", dto.Answer)
	assert.Equal(t, "FAST", dto.Stage)
	assert.NotNil(t, dto.Links)
	assert.Nil(t, dto.Evidence)
	assert.Equal(t, []intent.Turn{{Role: "user", Content: "hi"}}, engine.history)
}

func TestAnswer_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		answer *retrieval.Answer
		err    error
		want   int
	}{
		{"bad json", `{`, nil, nil, http.StatusBadRequest},
		{"blank question", `{"question":"  "}`, nil, nil, http.StatusBadRequest},
		{"generation failure keeps answer", `{"question":"q"}`, &retrieval.Answer{Text: retrieval.GenericFailureMessage},
			&retrieval.Error{Kind: retrieval.KindGeneration, Op: "generate", Err: errors.New("boom")}, http.StatusBadGateway},
		{"retrieval failure", `{"question":"q"}`, nil,
			&retrieval.Error{Kind: retrieval.KindRetrieval, Op: "retrieve"}, http.StatusInternalServerError},
		{"timeout", `{"question":"q"}`, nil, context.DeadlineExceeded, http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAnswerHandler(observability.NopLogger(), &fakeEngine{answer: tt.answer, err: tt.err}, &fakeBatch{})
			rec := do(t, h.Answer, tt.body)
			assert.Equal(t, tt.want, rec.Code)
			if tt.answer != nil {
				assert.Contains(t, rec.Body.String(), retrieval.GenericFailureMessage)
			}
		})
	}
}

func TestBatch(t *testing.T) {
	h := NewAnswerHandler(observability.NopLogger(), &fakeEngine{}, &fakeBatch{})

	rec := do(t, h.Batch, `{"questions":["x","y"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var dto BatchResponseDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	require.Len(t, dto.Results, 2)
	assert.Equal(t, "ay", dto.Results[1].Answer.Text)

	assert.Equal(t, http.StatusBadRequest, do(t, h.Batch, `{"questions":[]}`).Code)

	many := `{"questions":["` + strings.Repeat(`q","`, maxBatchQuestions) + `q"]}`
	assert.Equal(t, http.StatusBadRequest, do(t, h.Batch, many).Code)

	slow := NewAnswerHandler(observability.NopLogger(), &fakeEngine{}, &fakeBatch{err: errors.New("batch processing timeout")})
	assert.Equal(t, http.StatusGatewayTimeout, do(t, slow.Batch, `{"questions":["x"]}`).Code)
}

func TestClassifyPlanStats(t *testing.T) {
	h := NewAnswerHandler(observability.NopLogger(), &fakeEngine{}, &fakeBatch{})

	rec := do(t, h.Classify, `{"question":"healthcare bills"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"topic"`)

	rec = do(t, h.Plan, `{"question":"healthcare bills"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var plan PlanResponseDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plan))
	require.Len(t, plan.Plans, 1)
	assert.Equal(t, "topic_bills", plan.Plans[0].Name)

	rec = httptest.NewRecorder()
	h.Stats(rec, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	assert.Contains(t, rec.Body.String(), `"requests":3`)
}

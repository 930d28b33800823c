package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/api/rpc"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/intent"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/planner"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/retrieval"
)

type stubEngine struct{}

func (stubEngine) Answer(_ context.Context, q string, _ []intent.Turn) (*retrieval.Answer, error) {
	return &retrieval.Answer{Text: "echo " + q, Diagnostics: retrieval.Diagnostics{Stage: retrieval.StageStandard}}, nil
}

func (stubEngine) Classify(q string, _ []intent.Turn) intent.Classification {
	return intent.Classification{Question: q}
}

func (stubEngine) Plan(q string, _ []intent.Turn) (intent.Classification, []planner.QueryPlan) {
	return intent.Classification{Question: q}, nil
}

func (stubEngine) Metrics() retrieval.MetricsSnapshot { return retrieval.MetricsSnapshot{} }

func (stubEngine) AnswerAll(context.Context, []string) ([]retrieval.BatchItem, error) {
	return nil, nil
}

func newTestServer(t *testing.T, ready func(context.Context) error) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewRouter(observability.NopLogger(), Services{
		Engine: stubEngine{},
		Batch:  stubEngine{},
		RPC:    stubEngine{},
		Ready:  ready,
	}, RouterConfig{AllowedOrigins: []string{"*"}}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRouter_HealthAndReady(t *testing.T) {
	srv := newTestServer(t, func(context.Context) error { return errors.New("db down") })

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, err = http.Get(srv.URL + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRouter_Answer(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, err := http.Post(srv.URL+"/v1/answer", "application/json", strings.NewReader(`{"question":"hi"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(srv.URL + "/v1/answer")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp2.StatusCode)
}

func TestRouter_RPC(t *testing.T) {
	srv := newTestServer(t, nil)

	client := rpc.NewClient(srv.Client(), srv.URL)
	resp, err := client.CallUnary(context.Background(), connect.NewRequest(&rpc.AnswerRequest{Question: "hi"}))
	require.NoError(t, err)
	assert.Equal(t, "echo hi", resp.Msg.Text)
	assert.Equal(t, "STANDARD", resp.Msg.Stage)
}

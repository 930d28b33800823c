package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/evidence"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/intent"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/retry"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/storage"
)

func testBundle() *evidence.Bundle {
	hr := storage.EntityRef{Type: storage.EntityBill, ID: "hr1234"}
	s := storage.EntityRef{Type: storage.EntityBill, ID: "s2960"}
	return &evidence.Bundle{
		Items: []evidence.Item{
			{Key: hr.String(), Ref: &hr, Score: 0.9, Sources: []string{"embedding"}, Content: "H.R. 1234: Lower Insulin Costs Act\nCaps insulin copays."},
			{Key: s.String(), Ref: &s, Score: 0.4, Sources: []string{"fingerprint"}, Content: "S. 2960: Rural Broadband Act"},
		},
		TotalCount: 2,
	}
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt(Request{Question: " What does HR 1234 do? ", Bundle: testBundle()}, 0)
	assert.Equal(t, 2, p.Included)
	assert.Contains(t, p.User, "Question: What does HR 1234 do?")
	assert.Contains(t, p.User, "[1] bill:hr1234")
	assert.Contains(t, p.User, "[2] bill:s2960")
	assert.NotEmpty(t, p.System)
}

func TestBuildPrompt_DropsLowestRankedFirst(t *testing.T) {
	full := BuildPrompt(Request{Question: "q", Bundle: testBundle()}, 0)
	p := BuildPrompt(Request{Question: "q", Bundle: testBundle()}, len(full.User)-10)

	assert.Equal(t, 1, p.Included)
	assert.Contains(t, p.User, "hr1234")
	assert.NotContains(t, p.User, "s2960")
	assert.LessOrEqual(t, len(p.User), len(full.User)-10)
}

func TestBuildPrompt_NoEvidence(t *testing.T) {
	p := BuildPrompt(Request{Question: "q"}, 100)
	assert.Equal(t, 0, p.Included)
	assert.Contains(t, p.User, "(no evidence found)")
}

func TestExtractiveGenerator(t *testing.T) {
	g := NewExtractiveGenerator(1)

	out, err := g.Generate(context.Background(), Request{Question: "q", Bundle: testBundle()})
	require.NoError(t, err)
	assert.Contains(t, out, "H.R. 1234: Lower Insulin Costs Act")
	assert.NotContains(t, out, "Caps insulin")
	assert.NotContains(t, out, "S. 2960")

	out, err = g.Generate(context.Background(), Request{Question: "q"})
	require.NoError(t, err)
	assert.Contains(t, out, "couldn't find")
}

func newTestChat(t *testing.T, url string) *ChatClient {
	t.Helper()
	c, err := NewChatClient(ChatConfig{APIKey: "test", BaseURL: url, Model: "test/model"}, observability.NopLogger())
	require.NoError(t, err)
	return c.WithRetryPolicy(retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})
}

func reply(w http.ResponseWriter, text string) {
	json.NewEncoder(w).Encode(ChatResponse{Choices: []Choice{{Message: Message{Role: "assistant", Content: text}}}})
}

func TestChatClient_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test", r.Header.Get("Authorization"))

		var req ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test/model", req.Model)
		require.Len(t, req.Messages, 4)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "user", req.Messages[1].Role)
		assert.Equal(t, "assistant", req.Messages[2].Role)
		assert.True(t, strings.HasPrefix(req.Messages[3].Content, "Question: Who sponsored it?"))

		reply(w, "  **H.R. 1234: Lower Insulin Costs Act** was sponsored by Rep. Smith.  ")
	}))
	defer srv.Close()

	out, err := newTestChat(t, srv.URL).Generate(context.Background(), Request{
		Question: "Who sponsored it?",
		History: []intent.Turn{
			{Content: "What is HR 1234?"},
			{Role: "assistant", Content: "An insulin bill."},
		},
		Bundle: testBundle(),
	})
	require.NoError(t, err)
	assert.Equal(t, "**H.R. 1234: Lower Insulin Costs Act** was sponsored by Rep. Smith.", out)
}

func TestChatClient_RetriesTransientStatus(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		reply(w, "ok")
	}))
	defer srv.Close()

	out, err := newTestChat(t, srv.URL).Generate(context.Background(), Request{Question: "q"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(2), hits.Load())
}

func TestChatClient_PermanentFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"unauthorized", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(ChatResponse{Error: &APIError{Message: "bad key", Type: "auth"}})
		}},
		{"empty completion", func(w http.ResponseWriter, r *http.Request) { reply(w, "   ") }},
		{"no choices", func(w http.ResponseWriter, r *http.Request) { json.NewEncoder(w).Encode(ChatResponse{}) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				tt.handler(w, r)
			}))
			defer srv.Close()

			_, err := newTestChat(t, srv.URL).Generate(context.Background(), Request{Question: "q"})
			require.Error(t, err)
			assert.Equal(t, int32(1), hits.Load())
		})
	}
}

func TestNewChatClient_RequiresKeyAndModel(t *testing.T) {
	_, err := NewChatClient(ChatConfig{Model: "m"}, nil)
	assert.Error(t, err)
	_, err = NewChatClient(ChatConfig{APIKey: "k"}, nil)
	assert.Error(t, err)
}

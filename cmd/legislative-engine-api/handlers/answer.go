// Package handlers provides HTTP handlers for the Legislative Engine API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/evidence"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/intent"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/linker"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/planner"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/retrieval"
)

// maxBatchQuestions caps POST /v1/answer/batch.
const maxBatchQuestions = 20

// Engine is the subset of retrieval.Engine the handlers use.
type Engine interface {
	Answer(ctx context.Context, question string, history []intent.Turn) (*retrieval.Answer, error)
	Classify(question string, history []intent.Turn) intent.Classification
	Plan(question string, history []intent.Turn) (intent.Classification, []planner.QueryPlan)
	Metrics() retrieval.MetricsSnapshot
}

// BatchAnswerer answers several independent questions.
type BatchAnswerer interface {
	AnswerAll(ctx context.Context, questions []string) ([]retrieval.BatchItem, error)
}

// AnswerHandler handles question answering requests.
type AnswerHandler struct {
	logger *observability.Logger
	engine Engine
	batch  BatchAnswerer
}

// NewAnswerHandler creates a new answer handler.
func NewAnswerHandler(logger *observability.Logger, engine Engine, batch BatchAnswerer) *AnswerHandler {
	return &AnswerHandler{
		logger: logger,
		engine: engine,
		batch:  batch,
	}
}

// ConversationMessage represents a conversation turn.
type ConversationMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AnswerRequestDTO is the body of POST /v1/answer, /v1/classify and /v1/plan.
type AnswerRequestDTO struct {
	Question            string                `json:"question"`
	ConversationContext []ConversationMessage `json:"conversationContext,omitempty"`
	IncludeEvidence     bool                  `json:"includeEvidence,omitempty"`
}

// AnswerResponseDTO is the body returned by POST /v1/answer.
type AnswerResponseDTO struct {
	Answer      string                 `json:"answer"`
	Links       []linker.Link          `json:"links"`
	Stage       string                 `json:"stage"`
	Degraded    bool                   `json:"degraded"`
	Evidence    *evidence.Bundle       `json:"evidence,omitempty"`
	Diagnostics *retrieval.Diagnostics `json:"diagnostics"`
	Error       string                 `json:"error,omitempty"`
}

// BatchRequestDTO is the body of POST /v1/answer/batch.
type BatchRequestDTO struct {
	Questions []string `json:"questions"`
}

// BatchResponseDTO is the body returned by POST /v1/answer/batch.
type BatchResponseDTO struct {
	Results []retrieval.BatchItem `json:"results"`
	Error   string                `json:"error,omitempty"`
}

// PlanResponseDTO is the body returned by POST /v1/plan.
type PlanResponseDTO struct {
	Classification intent.Classification `json:"classification"`
	Plans          []planner.QueryPlan   `json:"plans"`
}

// Answer handles POST /v1/answer.
func (h *AnswerHandler) Answer(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	ans, err := h.engine.Answer(r.Context(), req.Question, toTurns(req.ConversationContext))
	if err != nil && ans == nil {
		h.logger.WithContext(r.Context()).Error().Err(err).Msg("Answer failed")
		h.writeError(w, statusFor(err), "answer failed", err.Error())
		return
	}

	dto := AnswerResponseDTO{
		Answer:      ans.Text,
		Links:       ans.Links,
		Stage:       string(ans.Diagnostics.Stage),
		Degraded:    ans.Diagnostics.Degraded,
		Diagnostics: &ans.Diagnostics,
	}
	if dto.Links == nil {
		dto.Links = []linker.Link{}
	}
	if req.IncludeEvidence {
		dto.Evidence = ans.Bundle
	}

	status := http.StatusOK
	if err != nil {
		// The answer still carries the generic message and diagnostics.
		h.logger.WithContext(r.Context()).Error().Err(err).Msg("Answer degraded by error")
		dto.Error = err.Error()
		status = statusFor(err)
	}
	h.writeJSON(w, status, dto)
}

// Batch handles POST /v1/answer/batch.
func (h *AnswerHandler) Batch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if len(req.Questions) == 0 {
		h.writeError(w, http.StatusBadRequest, "questions are required", "")
		return
	}
	if len(req.Questions) > maxBatchQuestions {
		h.writeError(w, http.StatusBadRequest, "too many questions", "")
		return
	}

	results, err := h.batch.AnswerAll(r.Context(), req.Questions)
	resp := BatchResponseDTO{Results: results}
	status := http.StatusOK
	if err != nil {
		h.logger.WithContext(r.Context()).Warn().Err(err).Int("questions", len(req.Questions)).Msg("Batch incomplete")
		resp.Error = err.Error()
		status = http.StatusGatewayTimeout
	}
	h.writeJSON(w, status, resp)
}

// Classify handles POST /v1/classify.
func (h *AnswerHandler) Classify(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, h.engine.Classify(req.Question, toTurns(req.ConversationContext)))
}

// Plan handles POST /v1/plan.
func (h *AnswerHandler) Plan(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	c, plans := h.engine.Plan(req.Question, toTurns(req.ConversationContext))
	if plans == nil {
		plans = []planner.QueryPlan{}
	}
	h.writeJSON(w, http.StatusOK, PlanResponseDTO{Classification: c, Plans: plans})
}

// Stats handles GET /v1/stats.
func (h *AnswerHandler) Stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.Metrics())
}

func (h *AnswerHandler) decode(w http.ResponseWriter, r *http.Request) (AnswerRequestDTO, bool) {
	var req AnswerRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return req, false
	}
	if strings.TrimSpace(req.Question) == "" {
		h.writeError(w, http.StatusBadRequest, "question is required", "")
		return req, false
	}
	return req, true
}

func toTurns(msgs []ConversationMessage) []intent.Turn {
	turns := make([]intent.Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, intent.Turn{Role: m.Role, Content: m.Content})
	}
	return turns
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, retrieval.ErrEmptyQuestion):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, retrieval.ErrGeneration):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (h *AnswerHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (h *AnswerHandler) writeError(w http.ResponseWriter, status int, message, detail string) {
	resp := map[string]string{
		"error":   message,
		"message": message,
	}
	if detail != "" {
		resp["detail"] = detail
	}
	h.writeJSON(w, status, resp)
}

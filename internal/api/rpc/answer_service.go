// Package rpc exposes the answer engine as a Connect service. Messages are
// plain Go structs carried by a JSON codec, so no generated code is needed.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/evidence"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/intent"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/linker"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/legislative-engine/internal/retrieval"
)

const (
	// ServiceName is the fully-qualified Connect service name.
	ServiceName = "legislative.v1.AnswerService"
	// AnswerProcedure is the path of the Answer RPC.
	AnswerProcedure = "/" + ServiceName + "/Answer"
)

// Answerer answers one question.
type Answerer interface {
	Answer(ctx context.Context, question string, history []intent.Turn) (*retrieval.Answer, error)
}

// Turn is one prior conversation message.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AnswerRequest is the Answer RPC request message.
type AnswerRequest struct {
	Question           string `json:"question"`
	History            []Turn `json:"history,omitempty"`
	IncludeEvidence    bool   `json:"include_evidence,omitempty"`
	IncludeDiagnostics bool   `json:"include_diagnostics,omitempty"`
}

// AnswerResponse is the Answer RPC response message.
type AnswerResponse struct {
	Text        string                 `json:"text"`
	Links       []linker.Link          `json:"links"`
	Stage       string                 `json:"stage"`
	Degraded    bool                   `json:"degraded"`
	RequestID   string                 `json:"request_id"`
	Evidence    *evidence.Bundle       `json:"evidence,omitempty"`
	Diagnostics *retrieval.Diagnostics `json:"diagnostics,omitempty"`
}

// AnswerService implements the Connect answer service.
type AnswerService struct {
	logger *observability.Logger
	engine Answerer
}

// NewAnswerService creates a new answer service.
func NewAnswerService(logger *observability.Logger, engine Answerer) *AnswerService {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &AnswerService{
		logger: logger.WithComponent("rpc"),
		engine: engine,
	}
}

// Answer implements the Answer RPC.
func (s *AnswerService) Answer(ctx context.Context, req *connect.Request[AnswerRequest]) (*connect.Response[AnswerResponse], error) {
	msg := req.Msg
	if strings.TrimSpace(msg.Question) == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("question is required"))
	}

	history := make([]intent.Turn, 0, len(msg.History))
	for _, t := range msg.History {
		history = append(history, intent.Turn{Role: t.Role, Content: t.Content})
	}

	ans, err := s.engine.Answer(ctx, msg.Question, history)
	if err != nil {
		s.logger.WithContext(ctx).Error().Err(err).Msg("Answer failed")
		return nil, toConnectError(err)
	}

	resp := &AnswerResponse{
		Text:      ans.Text,
		Links:     ans.Links,
		Stage:     string(ans.Diagnostics.Stage),
		Degraded:  ans.Diagnostics.Degraded,
		RequestID: ans.Diagnostics.RequestID,
	}
	if msg.IncludeEvidence {
		resp.Evidence = ans.Bundle
	}
	if msg.IncludeDiagnostics {
		d := ans.Diagnostics
		resp.Diagnostics = &d
	}
	return connect.NewResponse(resp), nil
}

// NewHandler returns the mount path and handler for the service.
func NewHandler(svc *AnswerService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(JSONCodec{})}, opts...)
	return AnswerProcedure, connect.NewUnaryHandler(AnswerProcedure, svc.Answer, opts...)
}

// NewClient returns a Connect client for the Answer RPC at baseURL.
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *connect.Client[AnswerRequest, AnswerResponse] {
	opts = append([]connect.ClientOption{connect.WithCodec(JSONCodec{})}, opts...)
	return connect.NewClient[AnswerRequest, AnswerResponse](httpClient, strings.TrimRight(baseURL, "/")+AnswerProcedure, opts...)
}

func toConnectError(err error) error {
	switch {
	case errors.Is(err, retrieval.ErrEmptyQuestion):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	}
	switch retrieval.KindOf(err) {
	case retrieval.KindGeneration:
		return connect.NewError(connect.CodeUnavailable, err)
	case retrieval.KindConfig:
		return connect.NewError(connect.CodeFailedPrecondition, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}

// JSONCodec marshals messages with encoding/json. It replaces Connect's
// default "json" codec, which only accepts protobuf messages.
type JSONCodec struct{}

// Name implements connect.Codec.
func (JSONCodec) Name() string { return "json" }

// Marshal implements connect.Codec.
func (JSONCodec) Marshal(msg any) ([]byte, error) { return json.Marshal(msg) }

// Unmarshal implements connect.Codec.
func (JSONCodec) Unmarshal(data []byte, msg any) error { return json.Unmarshal(data, msg) }

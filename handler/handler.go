package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"miroir-agent/internal/usecase"
)

const (
	headerCorrelationID = "X-Correlation-Id"
	cacheControl        = "s-maxage=86400, stale-while-revalidate"

	outcomeOK          = "ok"
	outcomeSoftFailure = "bad_json_from_ai"
	outcomePreflight   = "preflight"

	errMethodNotAllowed = "method_not_allowed"
	errBadRequest       = "bad_request"
	errOpenAI           = "openai_error"
	errServer           = "server_error"
)

type Reader interface {
	Read(ctx context.Context, in usecase.ReadInput) (usecase.ReadOutput, error)
}

// Recorder receives one observation per handled request.
type Recorder interface {
	Observe(outcome string, status int, d time.Duration)
	ObserveSoftFailure()
}

type Handler struct {
	reader  Reader
	metrics Recorder
}

type Option func(*Handler)

func WithRecorder(r Recorder) Option {
	return func(h *Handler) {
		h.metrics = r
	}
}

type readRequest struct {
	Axes    json.RawMessage `json:"axes"`
	Parents json.RawMessage `json:"parents"`
	Locale  string          `json:"locale"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func NewHandler(r Reader, opts ...Option) (*Handler, error) {
	if r == nil {
		return nil, errors.New("handler: reader must not be nil")
	}
	h := &Handler{reader: r}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Handle serves one API Gateway proxy event. Failures are always reported as
// HTTP responses; the returned error is always nil.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (resp events.APIGatewayProxyResponse, err error) {
	start := time.Now()
	correlationID := headerValue(event.Headers, headerCorrelationID)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	outcome := errServer

	defer func() {
		if rec := recover(); rec != nil {
			slog.ErrorContext(ctx, "panic while handling request", "correlation_id", correlationID, "panic", rec)
			outcome = errServer
			resp = jsonResponse(http.StatusInternalServerError, errorResponse{Error: errServer, Detail: fmt.Sprint(rec)})
			err = nil
		}
		resp.Headers = withDefaultHeaders(resp.Headers, correlationID)
		h.observe(ctx, correlationID, outcome, resp.StatusCode, time.Since(start))
	}()

	resp, outcome = h.dispatch(ctx, event, correlationID)
	return resp, nil
}

func (h *Handler) dispatch(ctx context.Context, event events.APIGatewayProxyRequest, correlationID string) (events.APIGatewayProxyResponse, string) {
	switch strings.ToUpper(event.HTTPMethod) {
	case http.MethodOptions:
		return events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}, outcomePreflight
	case http.MethodPost:
	default:
		return jsonResponse(http.StatusMethodNotAllowed, errorResponse{Error: errMethodNotAllowed}), errMethodNotAllowed
	}

	req, err := decodeBody(event)
	if err != nil {
		return jsonResponse(http.StatusBadRequest, errorResponse{Error: errBadRequest, Detail: "invalid JSON body"}), errBadRequest
	}

	out, err := h.reader.Read(ctx, usecase.ReadInput{
		Locale:        req.Locale,
		Axes:          req.Axes,
		Parents:       req.Parents,
		CorrelationID: correlationID,
	})
	if err != nil {
		return errorToResponse(ctx, correlationID, err)
	}

	resp := rawJSONResponse(http.StatusOK, out.Envelope)
	resp.Headers["Cache-Control"] = cacheControl
	if out.SoftFailure {
		if h.metrics != nil {
			h.metrics.ObserveSoftFailure()
		}
		return resp, outcomeSoftFailure
	}
	return resp, outcomeOK
}

// decodeBody parses the raw event body. An empty body reads as {}.
func decodeBody(event events.APIGatewayProxyRequest) (readRequest, error) {
	body := event.Body
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return readRequest{}, fmt.Errorf("handler: decode base64 body: %w", err)
		}
		body = string(decoded)
	}
	if strings.TrimSpace(body) == "" {
		body = "{}"
	}

	var req readRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return readRequest{}, fmt.Errorf("handler: decode body: %w", err)
	}
	return req, nil
}

func errorToResponse(ctx context.Context, correlationID string, err error) (events.APIGatewayProxyResponse, string) {
	var uerr *usecase.Error
	if !errors.As(err, &uerr) {
		slog.ErrorContext(ctx, "unexpected error", "correlation_id", correlationID, "err", err)
		return jsonResponse(http.StatusInternalServerError, errorResponse{Error: errServer, Detail: err.Error()}), errServer
	}

	switch uerr.Code {
	case usecase.ErrorBadRequest:
		return jsonResponse(http.StatusBadRequest, errorResponse{Error: errBadRequest, Detail: uerr.Detail}), errBadRequest
	case usecase.ErrorMissingCredential, usecase.ErrorUpstream:
		slog.ErrorContext(ctx, "openai call failed", "correlation_id", correlationID, "reason", uerr.Reason, "err", uerr.Err)
		return jsonResponse(http.StatusInternalServerError, errorResponse{Error: errOpenAI, Detail: uerr.Detail}), string(uerr.Code)
	default:
		slog.ErrorContext(ctx, "request failed", "correlation_id", correlationID, "reason", uerr.Reason, "err", uerr.Err)
		return jsonResponse(http.StatusInternalServerError, errorResponse{Error: errServer, Detail: uerr.Detail}), errServer
	}
}

func (h *Handler) observe(ctx context.Context, correlationID, outcome string, status int, elapsed time.Duration) {
	slog.InfoContext(ctx, "request handled",
		"correlation_id", correlationID,
		"status", status,
		"outcome", outcome,
		"latency_ms", elapsed.Milliseconds(),
	)
	if h.metrics != nil {
		h.metrics.Observe(outcome, status, elapsed)
	}
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	b, err := json.Marshal(v)
	if err != nil {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Headers: map[string]string{}}
	}
	return rawJSONResponse(status, b)
}

func rawJSONResponse(status int, body []byte) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}

func withDefaultHeaders(headers map[string]string, correlationID string) map[string]string {
	if headers == nil {
		headers = map[string]string{}
	}
	headers["Access-Control-Allow-Origin"] = "*"
	headers["Access-Control-Allow-Methods"] = "POST, OPTIONS"
	headers["Access-Control-Allow-Headers"] = "Content-Type, Authorization"
	headers[headerCorrelationID] = correlationID
	return headers
}

// headerValue looks a header up case-insensitively; API Gateway preserves the
// client's casing.
func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

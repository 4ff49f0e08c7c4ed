package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"miroir-agent/internal/domain"
)

const (
	DefaultLocale = "fr"
	DefaultModel  = "gpt-4o"

	temperature = 0.7
	topP        = 0.9

	softFailureCode = "bad_json_from_ai"
)

type LLMClient interface {
	Chat(ctx context.Context, req domain.ChatRequest) (string, error)
}

// Journal records produced readings. Optional.
type Journal interface {
	RecordReading(ctx context.Context, r domain.Reading) error
}

type upstreamBodyer interface {
	HTTPStatusCode() int
	ResponseBody() string
}

type MirrorService struct {
	llm     LLMClient
	journal Journal
	model   string
}

type ReadInput struct {
	Locale        string
	Axes          json.RawMessage
	Parents       json.RawMessage
	CorrelationID string
}

// ReadOutput is the body to return with a 200. SoftFailure is set when the
// model answered with something that was not JSON; Envelope then wraps the
// bad_json_from_ai marker.
type ReadOutput struct {
	Envelope    json.RawMessage
	SoftFailure bool
}

type softFailure struct {
	Error   string `json:"error"`
	Content string `json:"content"`
}

type envelope struct {
	Cards json.RawMessage `json:"cards"`
}

// NewMirrorService creates the service. journal may be nil.
func NewMirrorService(llm LLMClient, journal Journal, model string) (*MirrorService, error) {
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultModel
	}
	return &MirrorService{llm: llm, journal: journal, model: model}, nil
}

func (s *MirrorService) Model() string {
	return s.model
}

func (s *MirrorService) Read(ctx context.Context, in ReadInput) (ReadOutput, error) {
	if !isJSONObject(in.Axes) {
		return ReadOutput{}, newError(ErrorBadRequest, "missing_axes", `missing "axes" object`, nil)
	}
	if !isJSONObject(in.Parents) {
		return ReadOutput{}, newError(ErrorBadRequest, "missing_parents", `missing "parents" object`, nil)
	}
	if strings.TrimSpace(in.Locale) == "" {
		in.Locale = DefaultLocale
	}

	messages, err := buildPromptMessages(in)
	if err != nil {
		return ReadOutput{}, newError(ErrorInternal, "prompt_build_error", err.Error(), err)
	}

	content, err := s.llm.Chat(ctx, domain.ChatRequest{
		Model:        s.model,
		Messages:     messages,
		Temperature:  temperature,
		TopP:         topP,
		JSONResponse: true,
	})
	if err != nil {
		return ReadOutput{}, classifyChatError(err)
	}

	out, err := normalize(content)
	if err != nil {
		return ReadOutput{}, newError(ErrorInternal, "envelope_encode_error", err.Error(), err)
	}

	s.record(ctx, in, out)
	return out, nil
}

func classifyChatError(err error) *Error {
	if errors.Is(err, domain.ErrMissingCredential) {
		return newError(ErrorMissingCredential, "openai_key_missing", "OPENAI_API_KEY is not configured", err)
	}
	var upstream upstreamBodyer
	if errors.As(err, &upstream) {
		return newError(ErrorUpstream, "openai_error", upstream.ResponseBody(), err)
	}
	return newError(ErrorInternal, "openai_call_error", err.Error(), err)
}

// normalize turns the model content into the {"cards": ...} envelope.
// Content that already carries a top-level cards key is returned unchanged.
func normalize(content string) (ReadOutput, error) {
	raw := strings.TrimSpace(content)
	if raw == "" {
		raw = "{}"
	}

	if !json.Valid([]byte(raw)) {
		marker, err := json.Marshal(softFailure{Error: softFailureCode, Content: content})
		if err != nil {
			return ReadOutput{}, err
		}
		wrapped, err := json.Marshal(envelope{Cards: marker})
		if err != nil {
			return ReadOutput{}, err
		}
		return ReadOutput{Envelope: wrapped, SoftFailure: true}, nil
	}

	if hasCardsKey([]byte(raw)) {
		return ReadOutput{Envelope: json.RawMessage(raw)}, nil
	}
	wrapped, err := json.Marshal(envelope{Cards: json.RawMessage(raw)})
	if err != nil {
		return ReadOutput{}, err
	}
	return ReadOutput{Envelope: wrapped}, nil
}

func hasCardsKey(raw []byte) bool {
	if !isJSONObject(raw) {
		return false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return false
	}
	_, ok := fields["cards"]
	return ok
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func (s *MirrorService) record(ctx context.Context, in ReadInput, out ReadOutput) {
	if s.journal == nil {
		return
	}
	err := s.journal.RecordReading(ctx, domain.Reading{
		CorrelationID: in.CorrelationID,
		Locale:        in.Locale,
		Axes:          in.Axes,
		Parents:       in.Parents,
		Result:        out.Envelope,
		SoftFailure:   out.SoftFailure,
		Model:         s.model,
	})
	if err != nil {
		slog.WarnContext(ctx, "failed to record reading", "correlation_id", in.CorrelationID, "err", err)
	}
}

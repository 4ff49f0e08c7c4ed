package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"miroir-agent/internal/domain"
)

// ---------------------------------------------------------------------------
// chatURL helper
// ---------------------------------------------------------------------------

func TestChatURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://api.openai.com/v1", "https://api.openai.com/v1/chat/completions"},
		{"https://api.openai.com/v1/", "https://api.openai.com/v1/chat/completions"},
		{"http://localhost:8080", "http://localhost:8080/v1/chat/completions"},
		{"", "https://api.openai.com/v1/chat/completions"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, chatURL(tc.base), "base=%q", tc.base)
	}
}

// ---------------------------------------------------------------------------
// key resolution
// ---------------------------------------------------------------------------

type fakeKeys struct {
	key   string
	err   error
	calls int
}

func (f *fakeKeys) APIKey(_ context.Context) (string, error) {
	f.calls++
	return f.key, f.err
}

func TestResolveAPIKey_StaticWinsOverSource(t *testing.T) {
	src := &fakeKeys{key: "sk-from-ssm"}
	c := NewClient(WithAPIKey("sk-static"), WithKeySource(src))

	key, err := c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-static", key)
	require.Zero(t, src.calls)
}

func TestResolveAPIKey_FromSource(t *testing.T) {
	c := NewClient(WithKeySource(&fakeKeys{key: "sk-from-ssm"}))
	key, err := c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-from-ssm", key)
}

func TestResolveAPIKey_Missing(t *testing.T) {
	_, err := NewClient().resolveAPIKey(context.Background())
	require.ErrorIs(t, err, domain.ErrMissingCredential)

	_, err = NewClient(WithKeySource(&fakeKeys{key: "  "})).resolveAPIKey(context.Background())
	require.ErrorIs(t, err, domain.ErrMissingCredential)
}

func TestResolveAPIKey_SourceError(t *testing.T) {
	_, err := NewClient(WithKeySource(&fakeKeys{err: errors.New("ssm unavailable")})).resolveAPIKey(context.Background())
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrMissingCredential)
	require.Contains(t, err.Error(), "ssm unavailable")
}

// ---------------------------------------------------------------------------
// Client.Chat
// ---------------------------------------------------------------------------

func newTestClient(t *testing.T, srv *httptest.Server, opts ...Option) *Client {
	t.Helper()
	base := []Option{
		WithAPIKey("sk-test"),
		WithBaseURL(srv.URL),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
	}
	return NewClient(append(base, opts...)...)
}

func testRequest() domain.ChatRequest {
	return domain.ChatRequest{
		Model:        "gpt-mock",
		Messages:     []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}},
		Temperature:  0.7,
		TopP:         0.9,
		JSONResponse: true,
	}
}

func TestClient_Chat_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.Empty(t, r.Header.Get("OpenAI-Organization"))
		require.Empty(t, r.Header.Get("OpenAI-Project"))

		reqBody, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var got map[string]any
		require.NoError(t, json.Unmarshal(reqBody, &got))
		require.Equal(t, "gpt-mock", got["model"])
		require.InDelta(t, 0.7, got["temperature"], 1e-9)
		require.InDelta(t, 0.9, got["top_p"], 1e-9)
		require.Equal(t, map[string]any{"type": "json_object"}, got["response_format"])

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-123",
			"object": "chat.completion",
			"created": 1670000000,
			"choices": [{
				"index": 0,
				"message": { "role": "assistant", "content": "{\"cards\":{}}" }
			}]
		}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	resp, err := c.Chat(context.Background(), testRequest())
	require.NoError(t, err)
	require.Equal(t, `{"cards":{}}`, resp)
}

func TestClient_Chat_ForwardsOrganizationAndProject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "org-123", r.Header.Get("OpenAI-Organization"))
		require.Equal(t, "proj_abc", r.Header.Get("OpenAI-Project"))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{}"}}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, WithOrganization("org-123"), WithProject(" proj_abc "))
	_, err := c.Chat(context.Background(), testRequest())
	require.NoError(t, err)
}

func TestClient_Chat_OmitsUnsetSampling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqBody, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NotContains(t, string(reqBody), "temperature")
		require.NotContains(t, string(reqBody), "top_p")
		require.NotContains(t, string(reqBody), "response_format")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Chat(context.Background(), domain.ChatRequest{Model: "gpt-mock"})
	require.NoError(t, err)
}

func TestClient_Chat_MissingKey_NoRequestSent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	_, err := c.Chat(context.Background(), testRequest())
	require.ErrorIs(t, err, domain.ErrMissingCredential)
	require.Zero(t, hits.Load())
}

func TestClient_Chat_Non200_KeepsRawBody(t *testing.T) {
	const upstream = `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}` + "\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		_, _ = w.Write([]byte(upstream))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Chat(context.Background(), testRequest())
	require.Error(t, err)
	require.Contains(t, err.Error(), "unexpected status")

	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, 401, statusErr.HTTPStatusCode())
	require.Equal(t, upstream, statusErr.ResponseBody())
}

func TestClient_Chat_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`not-a-json`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Chat(context.Background(), testRequest())
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode response")
}

func TestClient_Chat_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	content, err := c.Chat(context.Background(), testRequest())
	require.NoError(t, err)
	require.Empty(t, content)
}

func TestClient_Chat_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	c.httpClient = &http.Client{Timeout: 50 * time.Millisecond}
	_, err := c.Chat(context.Background(), testRequest())
	require.Error(t, err)
}

func TestClient_Chat_NetworkError(t *testing.T) {
	c := NewClient(WithAPIKey("sk-test"), WithBaseURL("http://127.0.0.1:1"))
	c.httpClient = &http.Client{Timeout: 100 * time.Millisecond}

	_, err := c.Chat(context.Background(), testRequest())
	require.Error(t, err)
	require.Contains(t, err.Error(), "request failed")
}

func TestClient_Chat_EmptyModel(t *testing.T) {
	_, err := NewClient(WithAPIKey("sk-test")).Chat(context.Background(), domain.ChatRequest{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "model")
}

func TestClient_Chat_SingleAttemptOn500(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(500)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Chat(context.Background(), testRequest())
	require.Error(t, err)
	require.Contains(t, err.Error(), "500")
	require.Equal(t, int32(1), hits.Load())
}

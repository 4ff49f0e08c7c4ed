package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmAPI is the minimal AWS SSM interface required by TokenSource.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// tokenPayload is the JSON shape accepted for the stored API token.
type tokenPayload struct {
	Token string `json:"token"`
}

// TokenSource reads the upstream API key from a SecureString parameter.
// A successfully read key is kept for the life of the process; a failed read
// is attempted again on the next call.
type TokenSource struct {
	api  ssmAPI
	name string

	mu    sync.Mutex
	token string
}

// TokenParameterName returns the parameter holding the API key under prefix.
func TokenParameterName(prefix string) string {
	return strings.TrimRight(strings.TrimSpace(prefix), "/") + "/open-ai-token"
}

// NewTokenSource creates a TokenSource reading the named parameter.
func NewTokenSource(api ssmAPI, name string) (*TokenSource, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("paramstore: name is required")
	}
	return &TokenSource{api: api, name: name}, nil
}

// APIKey returns the cached token, fetching it on first use.
func (s *TokenSource) APIKey(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" {
		return s.token, nil
	}

	raw, err := s.getParameter(ctx)
	if err != nil {
		return "", err
	}
	token, err := decodeToken(raw)
	if err != nil {
		return "", err
	}
	s.token = token
	return token, nil
}

func (s *TokenSource) getParameter(ctx context.Context) (string, error) {
	if s.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	withDecryption := true
	out, err := s.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &s.name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", s.name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("paramstore: parameter missing value")
	}
	return *out.Parameter.Value, nil
}

// decodeToken accepts either {"token":"..."} or the bare key.
func decodeToken(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		var tp tokenPayload
		if err := json.Unmarshal([]byte(raw), &tp); err != nil {
			return "", fmt.Errorf("paramstore: unmarshal token value as JSON: %w", err)
		}
		raw = strings.TrimSpace(tp.Token)
	}
	if raw == "" {
		return "", errors.New("paramstore: API token is empty")
	}
	return raw, nil
}

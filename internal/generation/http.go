package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/cantora-backend/pkg/enums"
)

const responseBodyReadLimit int64 = 1 << 20

var errHTTPBaseURLRequired = errors.New("generation base url is required")

// HTTPProvider calls a generation service speaking the
// {ok, lyrics, stylePrompt, error, missingPronunciations} envelope.
type HTTPProvider struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// HTTPOption configures optional provider behavior.
type HTTPOption func(*HTTPProvider)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(p *HTTPProvider) {
		if client != nil {
			p.httpClient = client
		}
	}
}

// WithAPIKey sets the bearer token sent with each call.
func WithAPIKey(key string) HTTPOption {
	return func(p *HTTPProvider) {
		p.apiKey = strings.TrimSpace(key)
	}
}

// NewHTTPProvider builds the HTTP generation client.
func NewHTTPProvider(baseURL string, opts ...HTTPOption) (*HTTPProvider, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errHTTPBaseURLRequired
	}
	p := &HTTPProvider{
		baseURL: trimmed,
		// per-call deadlines come from the gateway context
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

type httpEnvelope struct {
	OK                    bool          `json:"ok"`
	Lyrics                []LyricOption `json:"lyrics"`
	StylePrompt           string        `json:"stylePrompt"`
	Error                 string        `json:"error"`
	MissingPronunciations []string      `json:"missingPronunciations"`
}

func (p *HTTPProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	path, err := pathFor(req.Kind)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal generation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build generation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
	if err != nil {
		return nil, fmt.Errorf("read generation response: %w", err)
	}

	var envelope httpEnvelope
	decodeErr := json.Unmarshal(body, &envelope)

	if len(envelope.MissingPronunciations) > 0 {
		return nil, &ProviderError{StatusCode: resp.StatusCode, MissingPronunciations: envelope.MissingPronunciations}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := envelope.Error
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return nil, &ProviderError{StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode generation response: %w", decodeErr)
	}
	if !envelope.OK {
		return nil, &ProviderError{StatusCode: resp.StatusCode, Message: envelope.Error}
	}
	return &Response{Lyrics: envelope.Lyrics, StylePrompt: strings.TrimSpace(envelope.StylePrompt)}, nil
}

func pathFor(kind enums.GenerationKind) (string, error) {
	switch kind {
	case enums.GenerationKindLyrics:
		return "/generate-lyrics", nil
	case enums.GenerationKindStylePrompt:
		return "/generate-style-prompt", nil
	default:
		return "", fmt.Errorf("unsupported generation kind %q", kind)
	}
}

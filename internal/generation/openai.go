package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/angelmondragon/cantora-backend/pkg/config"
	"github.com/angelmondragon/cantora-backend/pkg/enums"
)

const defaultOpenAIModel = "gpt-4o-mini"

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIProvider generates lyrics and style prompts with chat completions.
type OpenAIProvider struct {
	client chatClient
	model  string
}

// NewOpenAIProvider builds a provider from configuration. httpClient may be nil.
func NewOpenAIProvider(cfg config.OpenAIConfig, httpClient *http.Client) (*OpenAIProvider, error) {
	token := strings.TrimSpace(cfg.APIKey)
	if token == "" {
		return nil, fmt.Errorf("openai api key required")
	}
	clientCfg := openai.DefaultConfig(token)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.OrgID != "" {
		clientCfg.OrgID = cfg.OrgID
	}
	if httpClient != nil {
		clientCfg.HTTPClient = httpClient
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(clientCfg), model: model}, nil
}

type lyricsCompletion struct {
	Lyrics                []LyricOption `json:"lyrics"`
	MissingPronunciations []string      `json:"missingPronunciations"`
}

func (p *OpenAIProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	switch req.Kind {
	case enums.GenerationKindLyrics:
		return p.generateLyrics(ctx, req)
	case enums.GenerationKindStylePrompt:
		return p.generateStylePrompt(ctx, req)
	default:
		return nil, fmt.Errorf("unsupported generation kind %q", req.Kind)
	}
}

func (p *OpenAIProvider) generateLyrics(ctx context.Context, req Request) (*Response, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: lyricsSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: lyricsUserPrompt(req)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Temperature:    0.9,
	})
	if err != nil {
		return nil, err
	}
	content, err := firstChoice(resp)
	if err != nil {
		return nil, err
	}
	var parsed lyricsCompletion
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("decode lyrics completion: %w", err)
	}
	if missing := unresolvedTerms(parsed.MissingPronunciations, req.Briefing.Pronunciations); len(missing) > 0 {
		return nil, &ProviderError{MissingPronunciations: missing}
	}
	return &Response{Lyrics: parsed.Lyrics}, nil
}

func (p *OpenAIProvider) generateStylePrompt(ctx context.Context, req Request) (*Response, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: stylePromptSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: stylePromptUserPrompt(req)},
		},
		Temperature: 0.7,
	})
	if err != nil {
		return nil, err
	}
	content, err := firstChoice(resp)
	if err != nil {
		return nil, err
	}
	return &Response{StylePrompt: strings.TrimSpace(content)}, nil
}

func firstChoice(resp openai.ChatCompletionResponse) (string, error) {
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// unresolvedTerms drops terms the customer already spelled out.
func unresolvedTerms(terms []string, known map[string]string) []string {
	out := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		if _, ok := known[term]; ok {
			continue
		}
		out = append(out, term)
	}
	return out
}

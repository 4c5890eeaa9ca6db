package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/angelmondragon/cantora-backend/pkg/config"
	"github.com/angelmondragon/cantora-backend/pkg/enums"
)

func completionServer(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"upstream overloaded","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID: "cmpl-1",
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestOpenAIProvider(t *testing.T, srv *httptest.Server) *OpenAIProvider {
	t.Helper()
	provider, err := NewOpenAIProvider(config.OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"}, srv.Client())
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return provider
}

func TestOpenAIProviderParsesLyrics(t *testing.T) {
	srv := completionServer(t, http.StatusOK, `{"lyrics":[{"title":"Marina","content":"No mar te conheci"}],"missingPronunciations":[]}`)
	provider := newTestOpenAIProvider(t, srv)

	resp, err := provider.Generate(context.Background(), lyricsRequest())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(resp.Lyrics) != 1 || resp.Lyrics[0].Content != "No mar te conheci" {
		t.Fatalf("unexpected lyrics %+v", resp.Lyrics)
	}
}

func TestOpenAIProviderReportsUnresolvedPronunciations(t *testing.T) {
	srv := completionServer(t, http.StatusOK, `{"lyrics":[],"missingPronunciations":["Thaís","Ygor"]}`)
	provider := newTestOpenAIProvider(t, srv)
	req := lyricsRequest()
	req.Briefing.Pronunciations = map[string]string{"Ygor": "Í-gor"}

	_, err := provider.Generate(context.Background(), req)
	if Classify(err) != enums.GenerationOutcomeMissingPronunciation {
		t.Fatalf("expected missing pronunciation, got %v", err)
	}
	providerErr, ok := err.(*ProviderError)
	if !ok || len(providerErr.MissingPronunciations) != 1 || providerErr.MissingPronunciations[0] != "Thaís" {
		t.Fatalf("expected only the unresolved term, got %v", err)
	}
}

func TestOpenAIProviderStylePrompt(t *testing.T) {
	srv := completionServer(t, http.StatusOK, "  samba-enredo, cuíca, coro animado \n")
	provider := newTestOpenAIProvider(t, srv)

	resp, err := provider.Generate(context.Background(), Request{Kind: enums.GenerationKindStylePrompt, Briefing: Briefing{MusicStyle: "samba", IsInstrumental: true}})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.StylePrompt != "samba-enredo, cuíca, coro animado" {
		t.Fatalf("unexpected style prompt %q", resp.StylePrompt)
	}
}

func TestOpenAIProviderServerErrorIsTransient(t *testing.T) {
	srv := completionServer(t, http.StatusServiceUnavailable, "")
	provider := newTestOpenAIProvider(t, srv)

	_, err := provider.Generate(context.Background(), lyricsRequest())
	if Classify(err) != enums.GenerationOutcomeTransient {
		t.Fatalf("expected transient, got %v", err)
	}
}

func TestLyricsPromptIncludesPronunciationsSorted(t *testing.T) {
	req := lyricsRequest()
	req.Briefing.Pronunciations = map[string]string{"Ygor": "Í-gor", "Thaís": "Ta-ís"}
	prompt := lyricsUserPrompt(req)

	first := strings.Index(prompt, "Thaís sounds like")
	second := strings.Index(prompt, "Ygor sounds like")
	if first < 0 || second < 0 || first > second {
		t.Fatalf("expected sorted pronunciations in prompt:\n%s", prompt)
	}
	if !strings.Contains(prompt, "Write 2 distinct lyric option(s).") {
		t.Fatalf("expected option count in prompt:\n%s", prompt)
	}
}

package generation

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/angelmondragon/cantora-backend/pkg/config"
)

// NewProvider selects the configured provider.
func NewProvider(cfg *config.Config, httpClient *http.Client) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Generation.Provider)) {
	case config.GenerationProviderHTTP:
		return NewHTTPProvider(cfg.Generation.HTTPBaseURL, WithHTTPClient(httpClient), WithAPIKey(cfg.Generation.HTTPAPIKey))
	case "", config.GenerationProviderOpenAI:
		return NewOpenAIProvider(cfg.OpenAI, httpClient)
	default:
		return nil, fmt.Errorf("unsupported generation provider %q", cfg.Generation.Provider)
	}
}

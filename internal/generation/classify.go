package generation

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/angelmondragon/cantora-backend/pkg/enums"
)

var transientStatusCodes = map[int]struct{}{
	http.StatusInternalServerError: {},
	http.StatusBadGateway:          {},
	http.StatusServiceUnavailable:  {},
}

var transientPhrases = []string{"timeout", "timed out", "temporary", "temporarily", "try again"}

// Classify maps a provider error onto a retry decision. Only 500, 502 and 503
// responses, timeouts and messages asking the caller to try again are transient.
func Classify(err error) enums.GenerationOutcomeStatus {
	if err == nil {
		return enums.GenerationOutcomeSuccess
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) && len(providerErr.MissingPronunciations) > 0 {
		return enums.GenerationOutcomeMissingPronunciation
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return enums.GenerationOutcomeTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return enums.GenerationOutcomeTransient
	}

	if status := statusCode(err); status > 0 {
		if _, ok := transientStatusCodes[status]; ok {
			return enums.GenerationOutcomeTransient
		}
	}

	msg := strings.ToLower(err.Error())
	for _, phrase := range transientPhrases {
		if strings.Contains(msg, phrase) {
			return enums.GenerationOutcomeTransient
		}
	}
	return enums.GenerationOutcomeFatal
}

func statusCode(err error) int {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.StatusCode
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

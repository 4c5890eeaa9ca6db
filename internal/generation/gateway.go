package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/cantora-backend/pkg/enums"
	"github.com/angelmondragon/cantora-backend/pkg/logger"
	"github.com/angelmondragon/cantora-backend/pkg/metrics"
)

// Policy bounds retries for one call site.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Invoker is the gateway surface the orchestrator depends on.
type Invoker interface {
	Invoke(ctx context.Context, req Request, timeout time.Duration, policy Policy) Outcome
}

// Gateway calls a provider under a per-attempt deadline and retries transient failures.
type Gateway struct {
	provider Provider
	metrics  *metrics.FulfillmentMetrics
	logg     *logger.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// GatewayOption configures optional gateway behavior.
type GatewayOption func(*Gateway)

// WithMetrics records attempt outcomes and latency.
func WithMetrics(m *metrics.FulfillmentMetrics) GatewayOption {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// WithLogger logs failed attempts.
func WithLogger(logg *logger.Logger) GatewayOption {
	return func(g *Gateway) {
		g.logg = logg
	}
}

// WithSleep replaces the backoff wait, used by tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) GatewayOption {
	return func(g *Gateway) {
		if fn != nil {
			g.sleep = fn
		}
	}
}

// NewGateway wraps the provider.
func NewGateway(provider Provider, opts ...GatewayOption) (*Gateway, error) {
	if provider == nil {
		return nil, fmt.Errorf("generation provider required")
	}
	g := &Gateway{provider: provider, sleep: sleepContext}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

// Invoke runs the request and never panics or returns a bare error: every result,
// including a provider panic, is folded into the Outcome. Missing pronunciations
// are returned as reported without retrying.
func (g *Gateway) Invoke(ctx context.Context, req Request, timeout time.Duration, policy Policy) Outcome {
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var outcome Outcome
	for attempt := 1; attempt <= attempts; attempt++ {
		outcome = g.attempt(ctx, req, timeout)
		outcome.Attempts = attempt

		if !outcome.Status.Retryable() || attempt == attempts {
			break
		}
		if ctx.Err() != nil {
			break
		}
		if g.logg != nil {
			logCtx := g.logg.WithFields(ctx, map[string]any{
				"generation_kind": req.Kind,
				"attempt":         attempt,
				"backoff_ms":      policy.Backoff.Milliseconds(),
			})
			g.logg.Warn(logCtx, "transient generation failure, retrying")
		}
		if err := g.sleep(ctx, policy.Backoff); err != nil {
			break
		}
	}
	return outcome
}

type providerResult struct {
	resp *Response
	err  error
}

// attempt races the provider against the deadline. A provider that ignores its
// context keeps running in the background; its result is dropped.
func (g *Gateway) attempt(ctx context.Context, req Request, timeout time.Duration) Outcome {
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	started := time.Now()
	if err := callCtx.Err(); err != nil {
		outcome := Outcome{Status: Classify(err), Err: err}
		g.metrics.ObserveGeneration(string(req.Kind), string(outcome.Status), time.Since(started))
		return outcome
	}

	done := make(chan providerResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- providerResult{err: &panicError{value: r}}
			}
		}()
		resp, err := g.provider.Generate(callCtx, req)
		done <- providerResult{resp: resp, err: err}
	}()

	var outcome Outcome
	select {
	case res := <-done:
		outcome = g.outcomeFor(callCtx, req, res)
	case <-callCtx.Done():
		outcome = Outcome{Status: Classify(callCtx.Err()), Err: callCtx.Err()}
	}
	g.metrics.ObserveGeneration(string(req.Kind), string(outcome.Status), time.Since(started))
	return outcome
}

func (g *Gateway) outcomeFor(callCtx context.Context, req Request, res providerResult) Outcome {
	var panicErr *panicError
	if errors.As(res.err, &panicErr) {
		return Outcome{Status: enums.GenerationOutcomeFatal, Err: res.err}
	}
	err := res.err
	if err == nil && callCtx.Err() != nil {
		err = callCtx.Err()
	}
	if err == nil {
		if emptyErr := validateResponse(req.Kind, res.resp); emptyErr != nil {
			return Outcome{Status: enums.GenerationOutcomeFatal, Err: emptyErr}
		}
		return Outcome{Status: enums.GenerationOutcomeSuccess, Response: res.resp}
	}

	status := Classify(err)
	out := Outcome{Status: status, Err: err}
	if status == enums.GenerationOutcomeMissingPronunciation {
		var providerErr *ProviderError
		if errors.As(err, &providerErr) {
			out.MissingPronunciations = providerErr.MissingPronunciations
		}
	}
	return out
}

// panicError carries a recovered provider panic out of the call goroutine.
type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("generation provider panic: %v", e.value)
}

func validateResponse(kind enums.GenerationKind, resp *Response) error {
	if resp == nil {
		return errors.New("empty generation response")
	}
	switch kind {
	case enums.GenerationKindLyrics:
		for _, opt := range resp.Lyrics {
			if opt.Content != "" {
				return nil
			}
		}
		return errors.New("generation returned no lyrics")
	case enums.GenerationKindStylePrompt:
		if resp.StylePrompt == "" {
			return errors.New("generation returned an empty style prompt")
		}
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/cantora-backend/api/responses"
	pkgerrors "github.com/angelmondragon/cantora-backend/pkg/errors"
	"github.com/angelmondragon/cantora-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/cantora-backend/pkg/redis"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"

	flowIdempotencyTTL   = 24 * time.Hour
	creditIdempotencyTTL = 7 * 24 * time.Hour
	// pendingClaimTTL bounds how long a crashed request can block its key.
	pendingClaimTTL = 2 * time.Minute
)

type idempotencyRule struct {
	name   string
	method string
	prefix string
	suffix string
	ttl    time.Duration
}

func (r idempotencyRule) matches(method, path string) bool {
	return r.method == method && strings.HasPrefix(path, r.prefix) && strings.HasSuffix(path, r.suffix)
}

// Credit consumption keeps its key for a week: a replayed charge is the costliest mistake.
var idempotencyRules = []idempotencyRule{
	{name: "consume_credit", method: http.MethodPost, prefix: "/api/v1/orders/", suffix: "/consume-credit", ttl: creditIdempotencyTTL},
	{name: "process", method: http.MethodPost, prefix: "/api/v1/orders/", suffix: "/process", ttl: flowIdempotencyTTL},
	{name: "approve", method: http.MethodPost, prefix: "/api/v1/orders/", suffix: "/approve", ttl: flowIdempotencyTTL},
	{name: "admin", method: http.MethodPost, prefix: "/api/admin/v1/orders/", ttl: flowIdempotencyTTL},
}

type idempotencyRecord struct {
	Pending     bool              `json:"pending,omitempty"`
	Claim       string            `json:"claim,omitempty"`
	Status      int               `json:"status,omitempty"`
	Body        string            `json:"body,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	RequestHash string            `json:"request_hash"`
}

func (rec idempotencyRecord) encode() string {
	raw, _ := json.Marshal(rec)
	return string(raw)
}

// Idempotency requires an Idempotency-Key on mutating order routes and replays
// the first stored response for repeats with the same body. The key holds a
// pending claim while its request runs, so a concurrent duplicate is refused,
// and the claim is swapped for the response only if it is still ours.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rule, ok := matchRule(r)
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := logg.WithField(r.Context(), "idempotency_rule", rule.name)

			clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if clientKey == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			}
			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			key := store.IdempotencyKey(requestScope(r), clientKey)
			hash := hashBody(body)
			claim := idempotencyRecord{Pending: true, Claim: uuid.NewString(), RequestHash: hash}.encode()

			claimed, err := store.SetNX(ctx, key, claim, pendingClaimTTL)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key"))
				return
			}
			if !claimed {
				existing, err := store.Get(ctx, key)
				switch {
				case errors.Is(err, redis.Nil):
					// the holder finished without a replayable response between our calls
					responses.WriteError(ctx, logg, w, errInFlight())
				case err != nil:
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
				default:
					replayOrRefuse(ctx, logg, w, existing, hash)
				}
				return
			}

			capture := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r)
			settle(context.WithoutCancel(ctx), logg, store, key, claim, rule.ttl, capture, hash)
		})
	}
}

// settle replaces our claim with the captured response, or frees the key when
// the response should not be replayed.
func settle(ctx context.Context, logg *logger.Logger, store pkgredis.IdempotencyStore, key, claim string, ttl time.Duration, capture *responseCapture, hash string) {
	status := capture.statusOrOK()
	if !replayable(status) {
		if _, err := store.CompareAndDelete(ctx, key, claim); err != nil {
			logg.Error(ctx, "idempotency.release_failed", err)
		}
		return
	}
	final := idempotencyRecord{
		Status:      status,
		Body:        base64.StdEncoding.EncodeToString(capture.body.Bytes()),
		RequestHash: hash,
	}
	if ct := capture.Header().Get("Content-Type"); ct != "" {
		final.Headers = map[string]string{"Content-Type": ct}
	}
	swapped, err := store.CompareAndSwap(ctx, key, claim, final.encode(), ttl)
	switch {
	case err != nil:
		logg.Error(ctx, "idempotency.persist_failed", err)
	case !swapped:
		logg.Warn(ctx, "idempotency claim expired before the response was stored")
	}
}

func replayOrRefuse(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, stored, requestHash string) {
	var record idempotencyRecord
	if err := json.Unmarshal([]byte(stored), &record); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	switch {
	case record.RequestHash != requestHash:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
	case record.Pending:
		responses.WriteError(ctx, logg, w, errInFlight())
	default:
		logg.Debug(ctx, "idempotency.replayed")
		if ct := record.Headers["Content-Type"]; ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		w.Header().Set(replayedHeader, "true")
		w.WriteHeader(record.Status)
		if decoded, err := base64.StdEncoding.DecodeString(record.Body); err == nil {
			_, _ = w.Write(decoded)
		}
	}
}

func errInFlight() error {
	return pkgerrors.New(pkgerrors.CodeActionInProgress, "request with this Idempotency-Key is in progress")
}

// requestScope ties a key to the caller and the exact order route.
func requestScope(r *http.Request) string {
	return strings.Join([]string{UserIDFromContext(r.Context()), r.Method, r.URL.Path}, "|")
}

// replayable excludes conflicts, throttling and server errors so the client can retry.
func replayable(status int) bool {
	return status < http.StatusInternalServerError &&
		status != http.StatusConflict &&
		status != http.StatusTooManyRequests
}

func hashBody(payload []byte) string {
	sum := sha256.Sum256(payload)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// matchRule checks the chi pattern first; subrouter middleware runs before the
// full pattern is known, so the raw path is the fallback.
func matchRule(r *http.Request) (idempotencyRule, bool) {
	candidates := []string{r.URL.Path}
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		candidates = []string{rctx.RoutePattern(), r.URL.Path}
	}
	for _, path := range candidates {
		if rule, ok := ruleFor(r.Method, path); ok {
			return rule, true
		}
	}
	return idempotencyRule{}, false
}

func ruleFor(method, path string) (idempotencyRule, bool) {
	for _, rule := range idempotencyRules {
		if rule.matches(method, path) {
			return rule, true
		}
	}
	return idempotencyRule{}, false
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *responseCapture) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseCapture) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *responseCapture) statusOrOK() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

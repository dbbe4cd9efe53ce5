package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/dropday-backend/api/responses"
	pkgerrors "github.com/angelmondragon/dropday-backend/pkg/errors"
	"github.com/angelmondragon/dropday-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/dropday-backend/pkg/redis"
)

const (
	// IdempotencyKeyHeader is the client-supplied replay key.
	IdempotencyKeyHeader    = "Idempotency-Key"
	idempotencyReplayHeader = "Idempotent-Replayed"

	standardReplayTTL = 24 * time.Hour
	moneyReplayTTL    = 7 * 24 * time.Hour
	inFlightTTL       = 2 * time.Minute
)

// ReplayStore persists captured responses. It is satisfied by *redis.Client.
type ReplayStore interface {
	pkgredis.IdempotencyStore
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// replayRule covers one mutating route. Pattern segments written as * match
// exactly one non-empty path segment.
type replayRule struct {
	method   string
	pattern  string
	ttl      time.Duration
	optional bool
}

var replayRules = []replayRule{
	{method: http.MethodPost, pattern: "/api/v1/checkout", ttl: moneyReplayTTL, optional: true},
	{method: http.MethodPost, pattern: "/api/v1/orders/*/cancel", ttl: moneyReplayTTL},
	{method: http.MethodPost, pattern: "/api/v1/orders/*/dispute", ttl: moneyReplayTTL},
	{method: http.MethodPost, pattern: "/api/v1/disputes/*/notes", ttl: standardReplayTTL},
	{method: http.MethodPost, pattern: "/api/v1/seller/orders/*/status", ttl: standardReplayTTL},
	{method: http.MethodPatch, pattern: "/api/v1/seller/stock/*", ttl: standardReplayTTL},
	{method: http.MethodPost, pattern: "/api/v1/rider/deliveries/*/assign", ttl: standardReplayTTL},
	{method: http.MethodPost, pattern: "/api/v1/rider/deliveries/*/status", ttl: standardReplayTTL},
	{method: http.MethodPost, pattern: "/api/admin/v1/orders/*/confirm-payment", ttl: moneyReplayTTL},
	{method: http.MethodPost, pattern: "/api/admin/v1/orders/*/cancel", ttl: moneyReplayTTL},
	{method: http.MethodPost, pattern: "/api/admin/v1/escrow/*/release", ttl: moneyReplayTTL},
	{method: http.MethodPost, pattern: "/api/admin/v1/disputes/*/review", ttl: standardReplayTTL},
	{method: http.MethodPost, pattern: "/api/admin/v1/disputes/*/resolve", ttl: moneyReplayTTL},
	{method: http.MethodPost, pattern: "/api/admin/v1/disputes/*/close", ttl: moneyReplayTTL},
	{method: http.MethodPost, pattern: "/api/admin/v1/outbox/dead-letters/*/replay", ttl: standardReplayTTL},
}

func (r replayRule) matches(method, path string) bool {
	if r.method != method {
		return false
	}
	want := strings.Split(strings.Trim(r.pattern, "/"), "/")
	got := strings.Split(strings.Trim(path, "/"), "/")
	if len(want) != len(got) {
		return false
	}
	for i, seg := range want {
		if got[i] == "" || (seg != "*" && seg != got[i]) {
			return false
		}
	}
	return true
}

func ruleFor(method, path string) (replayRule, bool) {
	for _, rule := range replayRules {
		if rule.matches(method, path) {
			return rule, true
		}
	}
	return replayRule{}, false
}

// replayRecord is what lands in redis. A record without a status marks a
// request that is still being served.
type replayRecord struct {
	Fingerprint string `json:"fingerprint"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

func (r replayRecord) inFlight() bool { return r.Status == 0 }

// Idempotency makes the mutating routes in replayRules safe to retry. The
// first request with a key reserves it, later requests with the same key and
// body get the captured response back, and a different body under the same
// key is rejected. 5xx responses release the key so the client can retry.
func Idempotency(store ReplayStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rule, ok := ruleFor(r.Method, r.URL.Path)
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			clientKey := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
			if clientKey == "" {
				if rule.optional {
					next.ServeHTTP(w, r)
					return
				}
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, IdempotencyKeyHeader+" header required"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			key := store.IdempotencyKey(replayScope(r), clientKey)
			fingerprint := fingerprint(body)

			pending, _ := json.Marshal(replayRecord{Fingerprint: fingerprint})
			reserved, err := store.SetNX(ctx, key, string(pending), inFlightTTL)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve idempotency key"))
				return
			}
			if !reserved {
				replayExisting(ctx, w, store, logg, key, fingerprint)
				return
			}

			capture := &responseCapture{ResponseWriter: w}
			settled := false
			defer func() {
				if !settled {
					release(ctx, store, logg, key)
				}
			}()
			next.ServeHTTP(capture, r)
			settled = true

			status := capture.statusOrOK()
			if status >= http.StatusInternalServerError {
				release(ctx, store, logg, key)
				return
			}
			done, err := json.Marshal(replayRecord{
				Fingerprint: fingerprint,
				Status:      status,
				ContentType: capture.Header().Get("Content-Type"),
				Body:        capture.body.Bytes(),
			})
			if err == nil {
				err = store.Set(context.WithoutCancel(ctx), key, string(done), rule.ttl)
			}
			if err != nil && logg != nil {
				logg.Error(logg.WithField(ctx, "idempotency_key", key), "store idempotent response", err)
			}
		})
	}
}

func replayExisting(ctx context.Context, w http.ResponseWriter, store ReplayStore, logg *logger.Logger, key, fingerprint string) {
	raw, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		// Released between SetNX and Get; the first request failed.
		responses.WriteError(ctx, logg, w, inFlightError())
		return
	}
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read idempotency record"))
		return
	}
	var record replayRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	switch {
	case record.Fingerprint != fingerprint:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with a different request body"))
	case record.inFlight():
		responses.WriteError(ctx, logg, w, inFlightError())
	default:
		if record.ContentType != "" {
			w.Header().Set("Content-Type", record.ContentType)
		}
		w.Header().Set(idempotencyReplayHeader, "true")
		w.WriteHeader(record.Status)
		_, _ = w.Write(record.Body)
	}
}

func inFlightError() error {
	return pkgerrors.NewReason(pkgerrors.CodeConflict, pkgerrors.ReasonRequestInFlight,
		"a request with this idempotency key is still being processed")
}

func release(ctx context.Context, store ReplayStore, logg *logger.Logger, key string) {
	if err := store.Del(context.WithoutCancel(ctx), key); err != nil && logg != nil {
		logg.Error(logg.WithField(ctx, "idempotency_key", key), "release idempotency key", err)
	}
}

// replayScope keeps keys private to the caller and the route.
func replayScope(r *http.Request) string {
	return strings.Join([]string{UserIDFromContext(r.Context()), r.Method, r.URL.Path}, "|")
}

func fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *responseCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (c *responseCapture) statusOrOK() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}

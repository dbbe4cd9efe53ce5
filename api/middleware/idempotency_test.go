package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/dropday-backend/pkg/auth"
	"github.com/angelmondragon/dropday-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/dropday-backend/pkg/errors"
)

type fakeStore struct {
	data map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]string)}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (f *fakeStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	f.data[key], _ = value.(string)
	return nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	str, _ := value.(string)
	f.data[key] = str
	return true, nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("fake:%s:%s", scope, id)
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.data, key)
	}
	return nil
}

func buyerRequest(method, url, body string, userID uuid.UUID) *http.Request {
	req := httptest.NewRequest(method, url, strings.NewReader(body))
	ctx := auth.WithPrincipal(req.Context(), auth.Principal{UserID: userID, Roles: []enums.Role{enums.RoleBuyer}})
	return req.WithContext(ctx)
}

func TestRuleForSelection(t *testing.T) {
	id := uuid.NewString()
	tests := []struct {
		name     string
		method   string
		path     string
		want     time.Duration
		optional bool
		ok       bool
	}{
		{"checkout", http.MethodPost, "/api/v1/checkout", moneyReplayTTL, true, true},
		{"order cancel", http.MethodPost, "/api/v1/orders/" + id + "/cancel", moneyReplayTTL, false, true},
		{"open dispute", http.MethodPost, "/api/v1/orders/" + id + "/dispute", moneyReplayTTL, false, true},
		{"stock edit", http.MethodPatch, "/api/v1/seller/stock/" + id, standardReplayTTL, false, true},
		{"assign", http.MethodPost, "/api/v1/rider/deliveries/" + id + "/assign", standardReplayTTL, false, true},
		{"confirm payment", http.MethodPost, "/api/admin/v1/orders/" + id + "/confirm-payment", moneyReplayTTL, false, true},
		{"resolve", http.MethodPost, "/api/admin/v1/disputes/" + id + "/resolve", moneyReplayTTL, false, true},
		{"dead letter replay", http.MethodPost, "/api/admin/v1/outbox/dead-letters/" + id + "/replay", standardReplayTTL, false, true},
		{"location", http.MethodPost, "/api/v1/rider/deliveries/" + id + "/location", 0, false, false},
		{"stock history", http.MethodPatch, "/api/v1/seller/stock/" + id + "/history", 0, false, false},
		{"empty segment", http.MethodPost, "/api/v1/orders//cancel", 0, false, false},
		{"read", http.MethodGet, "/api/v1/orders/" + id, 0, false, false},
	}

	for _, tt := range tests {
		rule, ok := ruleFor(tt.method, tt.path)
		if ok != tt.ok {
			t.Fatalf("%s: expected ok=%v got %v", tt.name, tt.ok, ok)
		}
		if !ok {
			continue
		}
		if rule.ttl != tt.want {
			t.Fatalf("%s: expected ttl=%v got %v", tt.name, tt.want, rule.ttl)
		}
		if rule.optional != tt.optional {
			t.Fatalf("%s: expected optional=%v", tt.name, tt.optional)
		}
	}
}

func TestIdempotencyMiddlewareRequiresHeader(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	handlerCalled := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusOK)
	})

	path := "/api/v1/orders/" + uuid.NewString() + "/cancel"
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, buyerRequest(http.MethodPost, path, `{"reason":"x"}`, uuid.New()))

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if handlerCalled {
		t.Fatalf("handler should not run without idempotency key")
	}
}

func TestIdempotencyMiddlewareOptionalKeyPassesThrough(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	})

	for i := 0; i < 2; i++ {
		resp := httptest.NewRecorder()
		mw(handler).ServeHTTP(resp, buyerRequest(http.MethodPost, "/api/v1/checkout", `{}`, uuid.New()))
		if resp.Code != http.StatusCreated {
			t.Fatalf("expected 201 got %d", resp.Code)
		}
	}
	if calls != 2 || len(store.data) != 0 {
		t.Fatalf("expected no caching without a key, calls=%d stored=%d", calls, len(store.data))
	}
}

func TestIdempotencyMiddlewareReplaysStoredResponse(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	buyer := uuid.New()
	req := buyerRequest(http.MethodPost, "/api/v1/checkout", `{"items":[]}`, buyer)
	req.Header.Set(IdempotencyKeyHeader, "abc")
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected first response 201 got %d", resp.Code)
	}

	replay := buyerRequest(http.MethodPost, "/api/v1/checkout", `{"items":[]}`, buyer)
	replay.Header.Set(IdempotencyKeyHeader, "abc")
	rec := httptest.NewRecorder()
	mw(handler).ServeHTTP(rec, replay)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected replay status 201 got %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("expected content-type header preserved")
	}
	if rec.Header().Get(idempotencyReplayHeader) != "true" {
		t.Fatalf("expected replay marker header")
	}
	if strings.TrimSpace(rec.Body.String()) != `{"ok":true}` {
		t.Fatalf("expected stored body got %s", rec.Body.String())
	}
	if calls != 1 {
		t.Fatalf("handler executed %d times, expected 1", calls)
	}

	other := buyerRequest(http.MethodPost, "/api/v1/checkout", `{"items":[]}`, uuid.New())
	other.Header.Set(IdempotencyKeyHeader, "abc")
	mw(handler).ServeHTTP(httptest.NewRecorder(), other)
	if calls != 2 {
		t.Fatalf("keys must be scoped per user, handler ran %d times", calls)
	}
}

func TestIdempotencyMiddlewareSkipsServerErrors(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	buyer := uuid.New()
	for i := 0; i < 2; i++ {
		req := buyerRequest(http.MethodPost, "/api/v1/checkout", `{}`, buyer)
		req.Header.Set(IdempotencyKeyHeader, "retry-me")
		mw(handler).ServeHTTP(httptest.NewRecorder(), req)
	}
	if calls != 2 {
		t.Fatalf("expected 5xx responses to stay retryable, calls=%d", calls)
	}
	if len(store.data) != 0 {
		t.Fatalf("expected the key to be released, stored=%v", store.data)
	}
}

func TestIdempotencyMiddlewareRejectsConcurrentDuplicate(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	buyer := uuid.New()
	body := `{"items":[{"unit":"a","qty":1}]}`

	var second *httptest.ResponseRecorder
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if second == nil {
			// The duplicate arrives while the first checkout is still running.
			dup := buyerRequest(http.MethodPost, "/api/v1/checkout", body, buyer)
			dup.Header.Set(IdempotencyKeyHeader, "double-tap")
			second = httptest.NewRecorder()
			Idempotency(store, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatalf("duplicate must not reach the handler")
			})).ServeHTTP(second, dup)
		}
		w.WriteHeader(http.StatusCreated)
	})

	req := buyerRequest(http.MethodPost, "/api/v1/checkout", body, buyer)
	req.Header.Set(IdempotencyKeyHeader, "double-tap")
	first := httptest.NewRecorder()
	mw(handler).ServeHTTP(first, req)

	if first.Code != http.StatusCreated {
		t.Fatalf("expected first 201 got %d", first.Code)
	}
	if second.Code != http.StatusConflict {
		t.Fatalf("expected in-flight duplicate to get 409 got %d", second.Code)
	}
	var payload struct {
		Error struct {
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(second.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse error response: %v", err)
	}
	if payload.Error.Details["reason"] != string(pkgerrors.ReasonRequestInFlight) {
		t.Fatalf("expected in-flight reason, got %v", payload.Error.Details)
	}
}

func TestIdempotencyMiddlewareReleasesKeyOnPanic(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	req := buyerRequest(http.MethodPost, "/api/v1/checkout", `{}`, uuid.New())
	req.Header.Set(IdempotencyKeyHeader, "boom")

	func() {
		defer func() { _ = recover() }()
		mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("handler blew up")
		})).ServeHTTP(httptest.NewRecorder(), req)
	}()

	if len(store.data) != 0 {
		t.Fatalf("expected reservation released after panic, stored=%v", store.data)
	}
}

func TestIdempotencyMiddlewareDetectsBodyChange(t *testing.T) {
	store := newFakeStore()
	mw := Idempotency(store, nil)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	buyer := uuid.New()
	path := "/api/v1/orders/" + uuid.NewString() + "/cancel"
	req := buyerRequest(http.MethodPost, path, `{"reason":"a"}`, buyer)
	req.Header.Set(IdempotencyKeyHeader, "xyz")
	mw(handler).ServeHTTP(httptest.NewRecorder(), req)

	replay := buyerRequest(http.MethodPost, path, `{"reason":"b"}`, buyer)
	replay.Header.Set(IdempotencyKeyHeader, "xyz")
	resp := httptest.NewRecorder()
	mw(handler).ServeHTTP(resp, replay)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse error response: %v", err)
	}
	if payload.Error.Code != string(pkgerrors.CodeIdempotency) {
		t.Fatalf("expected error code %s got %s", pkgerrors.CodeIdempotency, payload.Error.Code)
	}
}

package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	pkgAuth "github.com/angelmondragon/dropday-backend/pkg/auth"
	"github.com/angelmondragon/dropday-backend/pkg/config"
	"github.com/angelmondragon/dropday-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/dropday-backend/pkg/errors"
)

func testJWT() config.JWTConfig {
	return config.JWTConfig{Secret: "test-secret", Issuer: "dropday-test"}
}

func mintToken(t *testing.T, userID uuid.UUID, roles ...enums.Role) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(testJWT(), time.Now(), time.Hour, pkgAuth.Principal{UserID: userID, Roles: roles})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return payload.Error.Code
}

func TestAuthSeedsPrincipal(t *testing.T) {
	userID := uuid.New()
	var got pkgAuth.Principal
	handler := Auth(testJWT(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = pkgAuth.PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("Authorization", "Bearer "+mintToken(t, userID, enums.RoleBuyer))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", rec.Code)
	}
	if got.UserID != userID || !got.Has(enums.RoleBuyer) {
		t.Fatalf("unexpected principal %+v", got)
	}
}

func TestAuthRejectsMissingAndInvalidTokens(t *testing.T) {
	handler := Auth(testJWT(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler must not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))
	if rec.Code != http.StatusUnauthorized || errorCode(t, rec) != string(pkgerrors.CodeUnauthorized) {
		t.Fatalf("expected 401 for missing token, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rec.Code)
	}
}

func TestAuthAcceptsQueryTokenOnlyForGet(t *testing.T) {
	token := mintToken(t, uuid.New(), enums.RoleBuyer)
	calls := 0
	handler := Auth(testJWT(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/live?access_token="+token, nil))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/checkout?access_token="+token, nil))

	if calls != 1 {
		t.Fatalf("expected only the GET request to authenticate, calls=%d", calls)
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected POST with query token to be rejected, got %d", rec.Code)
	}
}

func TestRequireRole(t *testing.T) {
	userID := uuid.New()
	handler := Auth(testJWT(), nil)(RequireRole(nil, enums.RoleRider, enums.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	cases := []struct {
		roles []enums.Role
		want  int
	}{
		{[]enums.Role{enums.RoleRider}, http.StatusNoContent},
		{[]enums.Role{enums.RoleBuyer, enums.RoleAdmin}, http.StatusNoContent},
		{[]enums.Role{enums.RoleBuyer}, http.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+mintToken(t, userID, tc.roles...))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("roles %v: expected %d got %d", tc.roles, tc.want, rec.Code)
		}
	}
}

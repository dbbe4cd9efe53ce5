package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/dropday-backend/pkg/errors"
	"github.com/angelmondragon/dropday-backend/pkg/pagination"
)

type quoteBody struct {
	Quantity int    `json:"quantity" validate:"required,gt=0"`
	Reason   string `json:"reason" validate:"required,max=5"`
}

func TestDecodeJSONBody(t *testing.T) {
	var body quoteBody
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"quantity":2,"reason":"ok"}`))
	if err := DecodeJSONBody(req, &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Quantity != 2 {
		t.Fatalf("unexpected body %+v", body)
	}

	cases := map[string]string{
		"empty":   ``,
		"unknown": `{"quantity":1,"reason":"x","extra":true}`,
		"invalid": `{"quantity":-1,"reason":"toolong"}`,
	}
	for name, raw := range cases {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(raw))
		err := DecodeJSONBody(req, &quoteBody{})
		if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"quantity":-1,"reason":"toolong"}`))
	typed := pkgerrors.As(DecodeJSONBody(req, &quoteBody{}))
	details, ok := typed.Details().(map[string]string)
	if !ok || details["quantity"] != "must be greater than 0" || details["reason"] != "must be at most 5" {
		t.Fatalf("unexpected details %v", typed.Details())
	}
}

type cartBody struct {
	Note  string     `json:"note" validate:"omitempty,notblank"`
	Items []cartItem `json:"items" validate:"required,min=1,dive"`
}

type cartItem struct {
	Quantity int `json:"quantity" validate:"gt=0"`
}

func TestDecodeJSONBodyReportsNestedPaths(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"note":"   ","items":[{"quantity":1},{"quantity":0}]}`))
	typed := pkgerrors.As(DecodeJSONBody(req, &cartBody{}))
	if typed == nil {
		t.Fatal("expected validation error")
	}
	details := typed.Details().(map[string]string)
	if details["items[1].quantity"] != "must be greater than 0" {
		t.Fatalf("unexpected details %v", details)
	}
	if details["note"] != "must not be blank" {
		t.Fatalf("expected blank note rejected, got %v", details)
	}
}

func TestDecodeJSONBodyRejectsTrailingAndOversized(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"quantity":1,"reason":"ok"}{"quantity":2}`))
	if err := DecodeJSONBody(req, &quoteBody{}); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected trailing object rejected, got %v", err)
	}

	huge := `{"quantity":1,"reason":"` + strings.Repeat("a", MaxBodyBytes) + `"}`
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(huge))
	typed := pkgerrors.As(DecodeJSONBody(req, &quoteBody{}))
	if typed == nil || typed.Message() != "request body too large" {
		t.Fatalf("expected size rejection, got %v", typed)
	}
}

func TestParsePagination(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=10&cursor=abc", nil)
	params, err := ParsePagination(req)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if params.Limit != 10 || params.Cursor != "abc" {
		t.Fatalf("unexpected params %+v", params)
	}

	params, err = ParsePagination(httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil || params.Limit != pagination.DefaultLimit {
		t.Fatalf("expected default limit, got %+v err=%v", params, err)
	}

	if _, err := ParsePagination(httptest.NewRequest(http.MethodGet, "/?limit=1000", nil)); err == nil {
		t.Fatalf("expected out of range limit to fail")
	}
}

func TestURLParamUUID(t *testing.T) {
	id := uuid.New()
	withParam := func(value string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rc := chi.NewRouteContext()
		rc.URLParams.Add("orderId", value)
		return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
	}

	got, err := URLParamUUID(withParam(id.String()), "orderId")
	if err != nil || got != id {
		t.Fatalf("expected %s got %s err=%v", id, got, err)
	}
	if _, err := URLParamUUID(withParam("nope"), "orderId"); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestParseQueryUUIDAndBool(t *testing.T) {
	id := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/?orderId="+id.String()+"&unreadOnly=true", nil)
	got, err := ParseQueryUUID(req, "orderId")
	if err != nil || got == nil || *got != id {
		t.Fatalf("unexpected uuid %v err=%v", got, err)
	}
	missing, err := ParseQueryUUID(req, "deliveryId")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for absent parameter")
	}
	unread, err := ParseQueryBool(req, "unreadOnly")
	if err != nil || !unread {
		t.Fatalf("expected unreadOnly=true")
	}
}

func TestSanitize(t *testing.T) {
	if got := SanitizeString("  héllo world ", 5); got != "héllo" {
		t.Fatalf("unexpected %q", got)
	}
	blank := "   "
	if SanitizeOptional(&blank, 10) != nil {
		t.Fatalf("expected blank optional to collapse to nil")
	}
	if SanitizeOptional(nil, 10) != nil {
		t.Fatalf("expected nil passthrough")
	}
}

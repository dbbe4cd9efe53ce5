package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/dropday-backend/api/controllers"
	"github.com/angelmondragon/dropday-backend/internal/delivery"
	"github.com/angelmondragon/dropday-backend/internal/disputes"
	"github.com/angelmondragon/dropday-backend/internal/orders"
	pkgAuth "github.com/angelmondragon/dropday-backend/pkg/auth"
	"github.com/angelmondragon/dropday-backend/pkg/config"
	"github.com/angelmondragon/dropday-backend/pkg/db/models"
	"github.com/angelmondragon/dropday-backend/pkg/enums"
	"github.com/angelmondragon/dropday-backend/pkg/geo"
	"github.com/angelmondragon/dropday-backend/pkg/logger"
	"github.com/angelmondragon/dropday-backend/pkg/outbox"
	"github.com/angelmondragon/dropday-backend/pkg/pagination"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error {
	return nil
}

type memStore struct {
	mu       sync.Mutex
	data     map[string]string
	counters map[string]int64
}

func newMemStore() *memStore {
	return &memStore{data: map[string]string{}, counters: map[string]int64{}}
}

func (m *memStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value.(string)
	return nil
}

func (m *memStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = value.(string)
	return true, nil
}

func (m *memStore) IdempotencyKey(scope, id string) string {
	return "idem:" + scope + ":" + id
}

func (m *memStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memStore) IncrWithTTL(_ context.Context, key string, _ time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[key]++
	return m.counters[key], nil
}

type stubOrders struct {
	orders.Service
	cancels int
}

func (s *stubOrders) ListForBuyer(context.Context, pkgAuth.Principal, pagination.Params, orders.ListFilters) (*orders.OrderList, error) {
	return &orders.OrderList{}, nil
}

func (s *stubOrders) Cancel(_ context.Context, _ pkgAuth.Principal, id uuid.UUID, _ string) (*models.Order, error) {
	s.cancels++
	return &models.Order{ID: id, Status: enums.OrderStatusCancelled}, nil
}

type stubDelivery struct {
	delivery.Service
}

func (stubDelivery) UpdateLocation(_ context.Context, _ pkgAuth.Principal, id uuid.UUID, point geo.Point) (*models.Delivery, error) {
	return &models.Delivery{ID: id, RiderLatitude: &point.Lat, RiderLongitude: &point.Lng}, nil
}

type stubDisputes struct {
	disputes.Service
	notes []string
}

func (s *stubDisputes) AddNotes(_ context.Context, _ pkgAuth.Principal, id uuid.UUID, notes string) (*models.Dispute, error) {
	s.notes = append(s.notes, notes)
	return &models.Dispute{ID: id, SellerNotes: &notes, Status: enums.DisputeStatusOpen}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App:      config.AppConfig{Env: "test"},
		JWT:      config.JWTConfig{Secret: "router-secret", Issuer: "dropday-test"},
		Delivery: config.DeliveryConfig{LocationUpdatesPerMinute: 2},
	}
}

func token(t *testing.T, cfg *config.Config, roles ...enums.Role) string {
	t.Helper()
	tok, err := pkgAuth.MintAccessToken(cfg.JWT, time.Now(), time.Hour, pkgAuth.Principal{UserID: uuid.New(), Roles: roles})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return tok
}

func newTestRouter(cfg *config.Config, svc Services) (http.Handler, *memStore) {
	store := newMemStore()
	reg := prometheus.NewRegistry()
	pingers := map[string]controllers.Pinger{"db": stubPinger{}, "redis": stubPinger{}}
	return NewRouter(cfg, logger.Nop(), reg, store, pingers, svc), store
}

func do(h http.Handler, method, path, bearer, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	cfg := testConfig()
	h, _ := newTestRouter(cfg, Services{})

	for _, path := range []string{"/health/live", "/health/ready", "/metrics"} {
		rec := do(h, http.MethodGet, path, "", "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d", path, rec.Code)
		}
	}
}

func TestAPIRequiresToken(t *testing.T) {
	cfg := testConfig()
	h, _ := newTestRouter(cfg, Services{Orders: &stubOrders{}})

	rec := do(h, http.MethodGet, "/api/v1/orders", "", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}

	rec = do(h, http.MethodGet, "/api/v1/orders", token(t, cfg, enums.RoleBuyer), "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRoleGroupsAreEnforced(t *testing.T) {
	cfg := testConfig()
	h, _ := newTestRouter(cfg, Services{Orders: &stubOrders{}})
	buyer := token(t, cfg, enums.RoleBuyer)

	cases := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/seller/orders"},
		{http.MethodGet, "/api/v1/rider/deliveries/available"},
		{http.MethodGet, "/api/admin/v1/disputes"},
	}
	for _, tc := range cases {
		rec := do(h, tc.method, tc.path, buyer, "", nil)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("%s %s: expected 403 got %d", tc.method, tc.path, rec.Code)
		}
	}

	rider := token(t, cfg, enums.RoleRider)
	rec := do(h, http.MethodGet, "/api/v1/orders", rider, "", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("rider on buyer list: expected 403 got %d", rec.Code)
	}
}

func TestCancelRequiresIdempotencyKeyAndReplays(t *testing.T) {
	cfg := testConfig()
	svc := &stubOrders{}
	h, _ := newTestRouter(cfg, Services{Orders: svc})
	buyer := token(t, cfg, enums.RoleBuyer)
	path := "/api/v1/orders/" + uuid.NewString() + "/cancel"

	rec := do(h, http.MethodPost, path, buyer, `{"reason":"late"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without key got %d", rec.Code)
	}

	headers := map[string]string{"Idempotency-Key": "cancel-1"}
	first := do(h, http.MethodPost, path, buyer, `{"reason":"late"}`, headers)
	second := do(h, http.MethodPost, path, buyer, `{"reason":"late"}`, headers)
	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("expected 200s got %d and %d", first.Code, second.Code)
	}
	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatalf("expected replay header on second call")
	}
	if svc.cancels != 1 {
		t.Fatalf("expected one cancel, got %d", svc.cancels)
	}
}

func TestRiderLocationIsRateLimited(t *testing.T) {
	cfg := testConfig()
	h, _ := newTestRouter(cfg, Services{Delivery: stubDelivery{}})
	rider := token(t, cfg, enums.RoleRider)
	path := "/api/v1/rider/deliveries/" + uuid.NewString() + "/location"
	body := `{"latitude":6.5,"longitude":3.4}`

	for i := 0; i < cfg.Delivery.LocationUpdatesPerMinute; i++ {
		rec := do(h, http.MethodPost, path, rider, body, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("update %d: expected 200 got %d: %s", i, rec.Code, rec.Body.String())
		}
	}
	rec := do(h, http.MethodPost, path, rider, body, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestDisputeNotesOpenToEveryParty(t *testing.T) {
	cfg := testConfig()
	svc := &stubDisputes{}
	h, _ := newTestRouter(cfg, Services{Disputes: svc})
	path := "/api/v1/disputes/" + uuid.NewString() + "/notes"

	for i, role := range []enums.Role{enums.RoleSeller, enums.RoleBuyer, enums.RoleAdmin} {
		headers := map[string]string{"Idempotency-Key": "notes-" + string(role)}
		rec := do(h, http.MethodPost, path, token(t, cfg, role), `{"notes":"item was shipped intact"}`, headers)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d: %s", role, rec.Code, rec.Body.String())
		}
		if len(svc.notes) != i+1 {
			t.Fatalf("%s: expected %d service calls, got %d", role, i+1, len(svc.notes))
		}
	}
	if svc.notes[0] != "item was shipped intact" {
		t.Fatalf("unexpected notes %q", svc.notes[0])
	}
}

type stubDeadLetters struct {
	filter   outbox.DeadLetterFilter
	replayed []uuid.UUID
}

func (s *stubDeadLetters) List(_ context.Context, filter outbox.DeadLetterFilter) ([]models.DeadLetter, error) {
	s.filter = filter
	return []models.DeadLetter{{ID: uuid.New(), EventType: enums.EventEscrowReleased, Topic: "dd-payments"}}, nil
}

func (s *stubDeadLetters) Replay(_ context.Context, id uuid.UUID) (*models.DeadLetter, error) {
	s.replayed = append(s.replayed, id)
	return &models.DeadLetter{ID: id, EventID: uuid.New(), EventType: enums.EventEscrowReleased}, nil
}

func TestDeadLetterRoutesAreAdminOnly(t *testing.T) {
	cfg := testConfig()
	store := &stubDeadLetters{}
	h, _ := newTestRouter(cfg, Services{DeadLetters: store})
	orderID := uuid.New()
	listPath := "/api/admin/v1/outbox/dead-letters?orderId=" + orderID.String() + "&eventType=escrow_released"

	rec := do(h, http.MethodGet, listPath, token(t, cfg, enums.RoleSeller), "", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("seller: expected 403 got %d", rec.Code)
	}

	rec = do(h, http.MethodGet, listPath, token(t, cfg, enums.RoleAdmin), "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin list: expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	if store.filter.OrderID == nil || *store.filter.OrderID != orderID || store.filter.EventType != enums.EventEscrowReleased {
		t.Fatalf("filter not passed through: %+v", store.filter)
	}
	if !strings.Contains(rec.Body.String(), "dd-payments") {
		t.Fatalf("expected dead letter in body: %s", rec.Body.String())
	}

	rec = do(h, http.MethodGet, "/api/admin/v1/outbox/dead-letters?eventType=bogus", token(t, cfg, enums.RoleAdmin), "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown event type: expected 400 got %d", rec.Code)
	}

	id := uuid.New()
	rec = do(h, http.MethodPost, "/api/admin/v1/outbox/dead-letters/"+id.String()+"/replay", token(t, cfg, enums.RoleAdmin), "",
		map[string]string{"Idempotency-Key": "replay-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("replay: expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	if len(store.replayed) != 1 || store.replayed[0] != id {
		t.Fatalf("expected replay of %s, got %v", id, store.replayed)
	}
}

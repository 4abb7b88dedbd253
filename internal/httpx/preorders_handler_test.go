package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-preorders/internal/auth"
	"github.com/ariefcatur/go-preorders/internal/catalog"
	"github.com/ariefcatur/go-preorders/internal/preorders"
	"github.com/ariefcatur/go-preorders/internal/sales"
	"github.com/shopspring/decimal"
)

type fakeService struct {
	mu          sync.Mutex
	createCalls int
	createErr   error
	updateErr   error
	statusCalls int
	lastActor   auth.Actor
	lastConfirm preorders.ConfirmInput
	store       map[string]*preorders.Preorder
}

func newFakeService() *fakeService {
	return &fakeService{store: map[string]*preorders.Preorder{}}
}

func (f *fakeService) Create(_ context.Context, in preorders.CreateInput) (*preorders.Preorder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return nil, f.createErr
	}
	p := &preorders.Preorder{
		ID:       fmt.Sprintf("p-%d", f.createCalls),
		Customer: preorders.CustomerRef{ID: in.CustomerID},
		Status:   preorders.StatusPending,
		Total:    decimal.RequireFromString("31.00"),
		Version:  1,
	}
	f.store[p.ID] = p
	return p, nil
}

func (f *fakeService) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls
}

func (f *fakeService) List(context.Context) ([]preorders.Preorder, error) { return nil, nil }

func (f *fakeService) Get(_ context.Context, id string) (*preorders.Preorder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.store[id]; ok {
		return p, nil
	}
	return nil, preorders.ErrPreorderNotFound
}

func (f *fakeService) Status(_ context.Context, id string) (*preorders.StatusView, error) {
	f.statusCalls++
	p, ok := f.store[id]
	if !ok {
		return nil, preorders.ErrPreorderNotFound
	}
	return &preorders.StatusView{ID: p.ID, Status: p.Status, Version: p.Version}, nil
}

func (f *fakeService) ListByCustomer(_ context.Context, id string) ([]preorders.Preorder, error) {
	return nil, fmt.Errorf("%w: %s", preorders.ErrNoPreorders, id)
}

func (f *fakeService) Update(_ context.Context, id string, _ preorders.UpdateInput) (*preorders.Preorder, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return f.Get(context.Background(), id)
}

func (f *fakeService) Delete(context.Context, string) error { return nil }

func (f *fakeService) Confirm(_ context.Context, actor auth.Actor, in preorders.ConfirmInput) (*preorders.ConfirmResult, error) {
	f.lastActor = actor
	f.lastConfirm = in
	p := &preorders.Preorder{ID: "p-1", Status: preorders.StatusCancelled, Version: 2}
	if !in.Confirmed {
		return &preorders.ConfirmResult{Preorder: p}, nil
	}
	p.Status = preorders.StatusConfirmed
	return &preorders.ConfirmResult{Preorder: p, Sale: &sales.Sale{
		ID:       "s-1",
		SellerID: actor.ID,
		Total:    decimal.RequireFromString("31.00"),
		Balance:  decimal.RequireFromString("31.00"),
		Status:   sales.StatusPending,
	}}, nil
}

func (f *fakeService) ListProducts(context.Context) ([]catalog.ProductStock, error) { return nil, nil }

func (f *fakeService) GetSale(_ context.Context, id string) (*sales.Sale, error) {
	return nil, fmt.Errorf("%w: %s", sales.ErrSaleNotFound, id)
}

type memCache struct {
	mu       sync.Mutex
	idem     map[string]string
	statuses map[string][]byte
	deleted  map[string]bool
}

func newMemCache() *memCache {
	return &memCache{idem: map[string]string{}, statuses: map[string][]byte{}, deleted: map[string]bool{}}
}

func (m *memCache) ClaimIdempotency(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.idem[key]; ok {
		return false, nil
	}
	m.idem[key] = ""
	return true, nil
}

func (m *memCache) ReleaseIdempotency(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.idem, key)
	return nil
}

func (m *memCache) IdempotentPreorder(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.idem[key], nil
}

func (m *memCache) RememberPreorder(_ context.Context, key, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idem[key] = id
	return nil
}

func (m *memCache) Status(_ context.Context, id string, out any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.statuses[id]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, out)
}

func (m *memCache) SetStatus(_ context.Context, id string, v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := json.Marshal(v)
	m.statuses[id] = b
	return err
}

func (m *memCache) MarkDeleted(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, id)
	m.deleted[id] = true
	return nil
}

func (m *memCache) Deleted(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleted[id], nil
}

type testServer struct {
	svc    *fakeService
	cache  *memCache
	tokens *auth.Authenticator
	srv    *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		svc:    newFakeService(),
		cache:  newMemCache(),
		tokens: auth.NewAuthenticator("test-secret"),
	}
	r := NewRouter(nil, 5*time.Second)
	h := &PreordersHandler{Service: ts.svc, Cache: ts.cache, Tokens: ts.tokens}
	h.Register(r)
	ts.srv = httptest.NewServer(r)
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) token(t *testing.T, id string, perms ...string) string {
	t.Helper()
	tok, err := ts.tokens.Issue(auth.Actor{ID: id, Permissions: perms}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return tok
}

func (ts *testServer) do(t *testing.T, method, path, token, body string, headers ...string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, ts.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

const createBody = `{"clienteId":"c1","productos":[{"producto":"A","cantidad":2}],"fechaEntrega":"2025-01-10"}`

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodGet, "/preorders", "", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", resp.StatusCode)
	}
	if body["success"] != false || body["code"] != "UNAUTHORIZED" {
		t.Errorf("Unexpected error body %v", body)
	}

	resp, _ = ts.do(t, http.MethodGet, "/preorders", "garbage", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 for invalid token, got %d", resp.StatusCode)
	}

	tok := ts.token(t, "u1", auth.PermGetPreorder)
	resp, _ = ts.do(t, http.MethodGet, "/preorders", tok, "")
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403 without scope, got %d", resp.StatusCode)
	}

	resp, _ = ts.do(t, http.MethodGet, "/healthz", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected healthz to be public, got %d", resp.StatusCode)
	}
}

func TestCreateIdempotent(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.token(t, "u1", auth.PermCreatePreorder)

	resp, body := ts.do(t, http.MethodPost, "/preorders", tok, createBody, "Idempotency-Key", "k-1")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d (%v)", resp.StatusCode, body)
	}
	first := body["preventa"].(map[string]any)["_id"]
	if body["success"] != true || first != "p-1" {
		t.Errorf("Unexpected create body %v", body)
	}

	resp, body = ts.do(t, http.MethodPost, "/preorders", tok, createBody, "Idempotency-Key", "k-1")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 on replay, got %d", resp.StatusCode)
	}
	if got := body["preventa"].(map[string]any)["_id"]; got != first {
		t.Errorf("Replay returned %v, want %v", got, first)
	}
	if ts.svc.createCalls != 1 {
		t.Errorf("Expected one Create call, got %d", ts.svc.createCalls)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"daily limit", preorders.ErrDailyLimitReached, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"past date", fmt.Errorf("%w: 2020-01-01", preorders.ErrDeliveryDateInPast), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"missing product", fmt.Errorf("%w: X", catalog.ErrProductNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"missing stock", catalog.ErrStockNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"unexpected", errors.New("connection reset"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.svc.createErr = tc.err
			tok := ts.token(t, "u1", auth.PermCreatePreorder)

			resp, body := ts.do(t, http.MethodPost, "/preorders", tok, createBody)
			if resp.StatusCode != tc.status {
				t.Errorf("Expected %d, got %d", tc.status, resp.StatusCode)
			}
			if body["code"] != tc.code {
				t.Errorf("Expected code %s, got %v", tc.code, body["code"])
			}
			if body["request_id"] == "" || body["request_id"] == nil {
				t.Error("Expected request_id in error body")
			}
			if tc.status == http.StatusInternalServerError && body["message"] != "internal server error" {
				t.Errorf("Internal error leaked: %v", body["message"])
			}
		})
	}
}

func TestUpdateVersionConflict(t *testing.T) {
	ts := newTestServer(t)
	ts.svc.updateErr = preorders.ErrVersionConflict
	tok := ts.token(t, "u1", auth.PermUpdatePreorder)

	resp, _ := ts.do(t, http.MethodPut, "/preorders/p-1", tok, `{"notas":"x","version":1}`)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409, got %d", resp.StatusCode)
	}

	resp, _ = ts.do(t, http.MethodPut, "/preorders/p-1", tok, `{not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed body, got %d", resp.StatusCode)
	}
}

func TestConfirm(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.token(t, "seller-7", auth.PermConfirmDelivery)

	resp, _ := ts.do(t, http.MethodPost, "/preorders/confirm", tok, `{"clienteId":"c1","fechaEntrega":"2025-01-10"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 without confirmacion, got %d", resp.StatusCode)
	}

	resp, body := ts.do(t, http.MethodPost, "/preorders/confirm", tok,
		`{"clienteId":"c1","fechaEntrega":"2025-01-10","confirmacion":true}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d (%v)", resp.StatusCode, body)
	}
	venta := body["venta"].(map[string]any)
	if venta["vendedor"] != "seller-7" || venta["saldoVenta"] != "31" {
		t.Errorf("Unexpected sale %v", venta)
	}
	if ts.svc.lastActor.ID != "seller-7" || ts.svc.lastConfirm.CustomerID != "c1" {
		t.Errorf("Actor or input not passed through: %+v %+v", ts.svc.lastActor, ts.svc.lastConfirm)
	}

	resp, body = ts.do(t, http.MethodPost, "/preorders/confirm", tok,
		`{"clienteId":"c1","fechaEntrega":"2025-01-10","confirmacion":false}`)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 on cancel, got %d", resp.StatusCode)
	}
	if _, ok := body["venta"]; ok {
		t.Error("Cancellation must not return a sale")
	}
	if got := ts.cache.statuses["p-1"]; !strings.Contains(string(got), string(preorders.StatusCancelled)) {
		t.Errorf("Expected cached Cancelada status, got %s", got)
	}
}

func TestStatusUsesCache(t *testing.T) {
	ts := newTestServer(t)
	ts.svc.store["p-9"] = &preorders.Preorder{ID: "p-9", Status: preorders.StatusPending, Version: 3}
	tok := ts.token(t, "u1", auth.PermAll)

	for i := 0; i < 2; i++ {
		resp, body := ts.do(t, http.MethodGet, "/preorders/p-9/status", tok, "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected 200, got %d", resp.StatusCode)
		}
		if body["estado"] != "Pendiente" || body["version"] != float64(3) {
			t.Errorf("Unexpected status body %v", body)
		}
	}
	if ts.svc.statusCalls != 1 {
		t.Errorf("Expected one service lookup, got %d", ts.svc.statusCalls)
	}

	resp, _ := ts.do(t, http.MethodGet, "/preorders/customer/c1", tok, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for customer without preorders, got %d", resp.StatusCode)
	}
	resp, _ = ts.do(t, http.MethodGet, "/sales/s-404", tok, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown sale, got %d", resp.StatusCode)
	}
}

func TestCreateIdempotencyClaim(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.token(t, "u1", auth.PermCreatePreorder)

	// A key claimed by a request still in flight.
	if _, err := ts.cache.ClaimIdempotency(context.Background(), "busy"); err != nil {
		t.Fatalf("ClaimIdempotency: %v", err)
	}
	resp, body := ts.do(t, http.MethodPost, "/preorders", tok, createBody, "Idempotency-Key", "busy")
	if resp.StatusCode != http.StatusConflict || body["code"] != "CONFLICT" {
		t.Errorf("Expected 409 for in-flight key, got %d (%v)", resp.StatusCode, body)
	}
	if ts.svc.createCalls != 0 {
		t.Errorf("In-flight key must not reach Create, got %d calls", ts.svc.createCalls)
	}

	// A failed create frees the key for a retry.
	ts.svc.createErr = preorders.ErrDailyLimitReached
	resp, _ = ts.do(t, http.MethodPost, "/preorders", tok, createBody, "Idempotency-Key", "retry")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", resp.StatusCode)
	}
	ts.svc.createErr = nil
	resp, _ = ts.do(t, http.MethodPost, "/preorders", tok, createBody, "Idempotency-Key", "retry")
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("Expected 201 on retry after failure, got %d", resp.StatusCode)
	}
}

func TestCreateConcurrentSameKey(t *testing.T) {
	ts := newTestServer(t)
	tok := ts.token(t, "u1", auth.PermCreatePreorder)

	const n = 8
	var wg sync.WaitGroup
	codes := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodPost, ts.srv.URL+"/preorders", strings.NewReader(createBody))
			req.Header.Set("Authorization", "Bearer "+tok)
			req.Header.Set("Idempotency-Key", "same")
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Errorf("Do: %v", err)
				return
			}
			resp.Body.Close()
			codes <- resp.StatusCode
		}()
	}
	wg.Wait()
	close(codes)

	created := 0
	for code := range codes {
		switch code {
		case http.StatusCreated:
			created++
		case http.StatusOK, http.StatusConflict:
		default:
			t.Errorf("Unexpected status %d", code)
		}
	}
	if created != 1 || ts.svc.calls() != 1 {
		t.Errorf("Expected exactly one create, got %d responses and %d calls", created, ts.svc.calls())
	}
}

func TestStatusAfterDelete(t *testing.T) {
	ts := newTestServer(t)
	ts.svc.store["p-9"] = &preorders.Preorder{ID: "p-9", Status: preorders.StatusPending, Version: 1}
	tok := ts.token(t, "u1", auth.PermAll)

	if resp, _ := ts.do(t, http.MethodGet, "/preorders/p-9/status", tok, ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if resp, _ := ts.do(t, http.MethodDelete, "/preorders/p-9", tok, ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 on delete, got %d", resp.StatusCode)
	}
	// A late event may still rewrite the status entry; the tombstone wins.
	_ = ts.cache.SetStatus(context.Background(), "p-9", preorders.StatusView{ID: "p-9", Status: preorders.StatusPending, Version: 1})

	resp, body := ts.do(t, http.MethodGet, "/preorders/p-9/status", tok, "")
	if resp.StatusCode != http.StatusNotFound || body["code"] != "NOT_FOUND" {
		t.Errorf("Expected 404 for deleted preorder, got %d (%v)", resp.StatusCode, body)
	}
}

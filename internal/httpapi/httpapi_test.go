package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/cache"
	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/domain"
	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/events"
	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/gateway"
	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/service"
	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/store/memory"
)

const testSecret = "test-secret-key-with-enough-length!!"

func newTestAPI(t *testing.T) (*API, http.Handler) {
	t.Helper()
	repo := memory.NewSeeded()
	svc := service.New(repo, map[string]gateway.Gateway{}, events.NoopPublisher{}, cache.NoopReceiptCache{}, "station-1")
	auth := NewAuthManager(testSecret, time.Hour, repo)
	api := New(svc, auth, "http://127.0.0.1:3000")
	return api, api.Handler()
}

func doJSON(t *testing.T, handler http.Handler, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func loginAs(t *testing.T, handler http.Handler, username string, password string) string {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/auth/login", "", domain.LoginRequest{
		Username: username,
		Password: password,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed with status %d: %s", rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if resp.AccessToken == "" {
		t.Fatalf("expected access token")
	}
	return resp.AccessToken
}

func TestLoginRejectsBadPassword(t *testing.T) {
	_, handler := newTestAPI(t)
	rec := doJSON(t, handler, http.MethodPost, "/api/auth/login", "", domain.LoginRequest{
		Username: "kiosk",
		Password: "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRecordRequiresAuth(t *testing.T) {
	_, handler := newTestAPI(t)
	rec := doJSON(t, handler, http.MethodPost, "/api/checkout/record", "", domain.RecordRequest{})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRecordAndPublicReceiptLookup(t *testing.T) {
	_, handler := newTestAPI(t)
	token := loginAs(t, handler, "kiosk", "kiosk123")

	rec := doJSON(t, handler, http.MethodPost, "/api/checkout/record", token, domain.RecordRequest{
		StationID: "station-3",
		CartItems: []domain.CartLineItem{{SKU: "SKU-COLA-01", UnitPriceCents: 250, Qty: 2}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created domain.RecordResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode record response: %v", err)
	}

	// Receipt lookup needs no token: possession of the receipt token is the
	// authorization.
	lookup := doJSON(t, handler, http.MethodGet, "/api/receipts/"+created.ReceiptToken, "", nil)
	if lookup.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", lookup.Code)
	}
	var found domain.ReceiptLookupResponse
	if err := json.Unmarshal(lookup.Body.Bytes(), &found); err != nil {
		t.Fatalf("decode receipt response: %v", err)
	}
	if !found.Found || found.Receipt == nil || found.Receipt.PurchaseID != created.PurchaseID {
		t.Fatalf("unexpected receipt lookup: %+v", found)
	}
}

func TestReceiptLookupUnknownToken(t *testing.T) {
	_, handler := newTestAPI(t)
	rec := doJSON(t, handler, http.MethodGet, "/api/receipts/deadbeef", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var resp domain.ReceiptLookupResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Found {
		t.Fatalf("expected found=false")
	}
}

func TestRecordInsufficientStockReturnsConflict(t *testing.T) {
	_, handler := newTestAPI(t)
	token := loginAs(t, handler, "kiosk", "kiosk123")

	rec := doJSON(t, handler, http.MethodPost, "/api/checkout/record", token, domain.RecordRequest{
		CartItems: []domain.CartLineItem{{SKU: "SKU-CANDY-01", UnitPriceCents: 100, Qty: 999}},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Code   string         `json:"code"`
		Detail map[string]any `json:"detail"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Code != "insufficient_stock" {
		t.Fatalf("expected insufficient_stock code, got %q", body.Code)
	}
	if body.Detail["sku"] != "SKU-CANDY-01" {
		t.Fatalf("expected sku detail, got %+v", body.Detail)
	}
}

func TestRecordUnresolvableProduct(t *testing.T) {
	_, handler := newTestAPI(t)
	token := loginAs(t, handler, "kiosk", "kiosk123")

	rec := doJSON(t, handler, http.MethodPost, "/api/checkout/record", token, domain.RecordRequest{
		CartItems: []domain.CartLineItem{{SKU: "SKU-GHOST-01", UnitPriceCents: 100, Qty: 1}},
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestFinalizeUnknownProvider(t *testing.T) {
	_, handler := newTestAPI(t)
	token := loginAs(t, handler, "kiosk", "kiosk123")

	rec := doJSON(t, handler, http.MethodPost, "/api/payments/cashapp/finalize", token, domain.FinalizeRequest{
		PaymentRef: "bill-1",
		CartItems:  []domain.CartLineItem{{SKU: "SKU-COLA-01", UnitPriceCents: 250, Qty: 1}},
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateOperatorRequiresAdmin(t *testing.T) {
	_, handler := newTestAPI(t)
	kioskToken := loginAs(t, handler, "kiosk", "kiosk123")

	rec := doJSON(t, handler, http.MethodPost, "/api/users", kioskToken, map[string]string{
		"username": "lane-4",
		"password": "secret99",
		"role":     "kiosk",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	adminToken := loginAs(t, handler, "admin", "admin123")
	rec = doJSON(t, handler, http.MethodPost, "/api/users", adminToken, map[string]string{
		"username": "lane-4",
		"password": "secret99",
		"role":     "kiosk",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestLoginRateLimited(t *testing.T) {
	_, handler := newTestAPI(t)

	var last int
	for i := 0; i < 6; i++ {
		rec := doJSON(t, handler, http.MethodPost, "/api/auth/login", "", domain.LoginRequest{
			Username: "kiosk",
			Password: "wrong",
		})
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after repeated failures, got %d", last)
	}
}

func TestInvalidBearerToken(t *testing.T) {
	_, handler := newTestAPI(t)
	rec := doJSON(t, handler, http.MethodPost, "/api/checkout/record", "not-a-jwt", domain.RecordRequest{
		CartItems: []domain.CartLineItem{{SKU: "SKU-COLA-01", Qty: 1}},
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

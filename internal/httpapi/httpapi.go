package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/domain"
	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/inventory"
	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/service"
	"github.com/nikadamzafran88/rfid-checkout-web-sub000/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string) *API {
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("POST /api/auth/login", a.handleLogin)
	mux.HandleFunc("POST /api/users", a.requireRole(a.handleCreateOperator, "admin"))
	mux.HandleFunc("POST /api/checkout/record", a.requireRole(a.handleRecord, "kiosk", "admin"))
	mux.HandleFunc("POST /api/payments/{provider}/finalize", a.requireRole(a.handleFinalize, "kiosk", "admin"))
	// Receipt lookup is public: the unguessable token is the authorization.
	mux.HandleFunc("GET /api/receipts/{token}", a.handleGetReceipt)

	return a.cors(mux)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientIP(r)) {
		writeError(w, http.StatusTooManyRequests, "too many login attempts")
		return
	}

	var req domain.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	resp, err := a.auth.Login(req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCreateOperator(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Role == "" {
		req.Role = "kiosk"
	}
	if err := a.auth.CreateOperator(req.Username, req.Password, req.Role); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"username": strings.ToLower(strings.TrimSpace(req.Username)), "role": req.Role})
}

func (a *API) handleRecord(w http.ResponseWriter, r *http.Request) {
	var req domain.RecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	resp, err := a.service.RecordAndDecrement(r.Context(), req)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleFinalize(w http.ResponseWriter, r *http.Request) {
	var req domain.FinalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Provider = r.PathValue("provider")
	resp, err := a.service.FinalizePayment(r.Context(), req)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	status := http.StatusCreated
	if resp.AlreadyFinalized {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (a *API) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := a.service.GetReceipt(r.Context(), r.PathValue("token"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, domain.ReceiptLookupResponse{Found: false})
			return
		}
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.ReceiptLookupResponse{Found: true, Receipt: receipt})
}

type errorBody struct {
	Error  string         `json:"error"`
	Code   string         `json:"code,omitempty"`
	Detail map[string]any `json:"detail,omitempty"`
}

// writeDomainError maps the engine's error taxonomy onto HTTP statuses with
// enough structured detail to drive a kiosk-facing message.
func (a *API) writeDomainError(w http.ResponseWriter, err error) {
	body := errorBody{Error: err.Error()}
	status := http.StatusInternalServerError

	var insufficient *inventory.InsufficientStockError
	var amount *service.AmountMismatchError
	switch {
	case errors.As(err, &insufficient):
		status = http.StatusConflict
		body.Code = "insufficient_stock"
		body.Detail = map[string]any{
			"sku":           insufficient.SKU,
			"current_stock": insufficient.CurrentStock,
			"requested":     insufficient.Requested,
		}
	case errors.As(err, &amount):
		status = http.StatusConflict
		body.Code = "amount_mismatch"
		body.Detail = map[string]any{
			"expected_cents": amount.ExpectedCents,
			"paid_cents":     amount.PaidCents,
		}
	case errors.Is(err, store.ErrNoInventoryRecord):
		status = http.StatusUnprocessableEntity
		body.Code = "no_inventory_record"
	case errors.Is(err, service.ErrPaymentNotConfirmed):
		status = http.StatusPaymentRequired
		body.Code = "payment_not_confirmed"
	case errors.Is(err, service.ErrReferenceMismatch):
		status = http.StatusConflict
		body.Code = "reference_mismatch"
	case errors.Is(err, service.ErrUnknownProvider):
		status = http.StatusNotFound
		body.Code = "unknown_provider"
	case errors.Is(err, store.ErrInvalidRequest):
		status = http.StatusBadRequest
		body.Code = "invalid_request"
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
		body.Code = "not_found"
	case errors.Is(err, store.ErrTransactionConflict):
		status = http.StatusServiceUnavailable
		body.Code = "transaction_conflict"
	default:
		log.Printf("[httpapi] internal error: %v", err)
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}

func (a *API) requireRole(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		actor, err := a.auth.ParseToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		allowed := false
		for _, role := range roles {
			if actor.Role == role {
				allowed = true
				break
			}
		}
		if !allowed {
			writeError(w, http.StatusForbidden, "insufficient role")
			return
		}
		next(w, r)
	}
}

func (a *API) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[httpapi] write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fitpos/backend/internal/domain"
	"fitpos/backend/internal/service"
	"fitpos/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	logger        *zap.Logger
	loginLimiter  *attemptLimiter
	csrfSecret    []byte
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		// Fall back to a deterministic secret if crypto/rand fails (should not happen in practice).
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		logger:        logger,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		csrfSecret:    csrfSecret,
	}
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (expressed as Unix time truncated to the hour). The token is hex-encoded.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	now := time.Now().UTC()
	bucket := now.Truncate(time.Hour).Unix()
	return a.csrfTokenForHour(bucket)
}

// validateCSRFToken checks whether the provided token matches the current or
// previous hour bucket, giving a 2-hour validity window.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	now := time.Now().UTC()
	currentBucket := now.Truncate(time.Hour).Unix()
	prevBucket := currentBucket - 3600

	expected1 := a.csrfTokenForHour(currentBucket)
	expected2 := a.csrfTokenForHour(prevBucket)

	return hmac.Equal([]byte(token), []byte(expected1)) ||
		hmac.Equal([]byte(token), []byte(expected2))
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

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("/api/v1/auth/csrf-token", a.handleCSRFToken)

	mux.HandleFunc("/api/v1/products", a.requireAuth(a.handleProducts, "receptionist", "manager", "admin"))
	mux.HandleFunc("/api/v1/membership-plans", a.requireAuth(a.handleMembershipPlans, "receptionist", "manager", "admin"))

	mux.HandleFunc("/api/v1/sales", a.requireAuth(a.handleSales, "receptionist", "manager", "admin"))
	mux.HandleFunc("/api/v1/sales/", a.requireAuth(a.handleSaleActions, "receptionist", "manager", "admin"))

	mux.HandleFunc("/api/v1/shifts/summary", a.requireAuth(a.handleShiftSummary, "receptionist", "manager", "admin"))
	mux.HandleFunc("/api/v1/shifts/items", a.requireAuth(a.handleShiftItems, "receptionist", "manager", "admin"))

	mux.HandleFunc("/api/v1/closures", a.requireAuth(a.handleClosures, "receptionist", "manager", "admin"))
	mux.HandleFunc("/api/v1/closures/today", a.requireAuth(a.handleTodayClosure, "receptionist", "manager", "admin"))
	mux.HandleFunc("/api/v1/closures/", a.requireAuth(a.handleClosureActions, "receptionist", "manager", "admin"))

	mux.HandleFunc("/api/v1/reports/sales-summary", a.requireAuth(a.handleSalesSummary, "manager", "admin"))
	mux.HandleFunc("/api/v1/stock-movements", a.requireAuth(a.handleStockMovements, "manager", "admin"))
	mux.HandleFunc("/api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, "admin"))
	mux.HandleFunc("/api/v1/staff", a.requireAuth(a.handleStaff, "admin"))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			a.writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			a.writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			a.writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		a.writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		a.writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless CSRF token valid for the current hour
// bucket. Clients include it in the X-CSRF-Token header on mutating requests.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

// csrfExemptPaths lists paths that are exempt from CSRF validation. Login is
// excluded because it is called without a prior CSRF token fetch.
var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	method := r.Method
	if method != http.MethodPost && method != http.MethodPut && method != http.MethodPatch {
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	token := strings.TrimSpace(r.Header.Get("X-CSRF-Token"))
	if !a.validateCSRFToken(token) {
		a.writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}

	products, err := a.service.ListProducts(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		a.writeError(w, statusFromError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleMembershipPlans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}

	plans, err := a.service.ListMembershipPlans(r.Context())
	if err != nil {
		a.writeError(w, statusFromError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": plans})
}

func (a *API) handleSales(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req domain.SaleCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		sale, err := a.service.CreateSale(r.Context(), req)
		if err != nil {
			a.writeError(w, statusFromError(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, sale)
	case http.MethodGet:
		filter, err := a.saleFilterFromQuery(r)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		sales, total, err := a.service.ListSales(r.Context(), filter)
		if err != nil {
			a.writeError(w, statusFromError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"sales": sales,
			"total": total,
			"page":  filter.Page,
		})
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) saleFilterFromQuery(r *http.Request) (domain.SaleListFilter, error) {
	q := r.URL.Query()
	filter := domain.SaleListFilter{
		SellerID: strings.TrimSpace(q.Get("seller_id")),
		Page:     parsePositiveInt(q.Get("page"), 1),
		PageSize: parsePositiveInt(q.Get("page_size"), 20),
	}

	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status, err := domain.ParseSaleStatus(raw)
		if err != nil {
			return domain.SaleListFilter{}, err
		}
		filter.Status = status
	}
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return domain.SaleListFilter{}, fmt.Errorf("from must be RFC3339")
		}
		filter.From = from.UTC()
	}
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return domain.SaleListFilter{}, fmt.Errorf("to must be RFC3339")
		}
		filter.To = to.UTC()
	}

	// Receptionists only see their own sales.
	if actor, ok := service.ActorFromContext(r.Context()); ok && actor.Role == "receptionist" {
		filter.SellerID = actor.UserID
	}
	return filter, nil
}

func (a *API) handleSaleActions(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/sales/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		a.writeError(w, http.StatusBadRequest, errors.New("missing sale id"))
		return
	}
	saleID := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		sale, err := a.service.GetSale(r.Context(), saleID)
		if err != nil {
			a.writeError(w, statusFromError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, sale)
	case len(parts) == 2 && parts[1] == "reverse" && r.Method == http.MethodPost:
		var req domain.SaleReversalRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		record, err := a.service.ReverseSale(r.Context(), saleID, req)
		if err != nil {
			a.writeError(w, statusFromError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, record)
	case len(parts) == 2 && parts[1] == "reversal" && r.Method == http.MethodGet:
		record, err := a.service.GetReversal(r.Context(), saleID)
		if err != nil {
			a.writeError(w, statusFromError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, record)
	default:
		a.writeMethodNotAllowed(w)
	}
}

// sellerIDForQuery resolves the seller scoping for shift endpoints: staff can
// only read their own shift unless they are a manager or admin.
func sellerIDForQuery(r *http.Request) (string, error) {
	actor, ok := service.ActorFromContext(r.Context())
	if !ok {
		return "", errors.New("missing actor")
	}
	requested := strings.TrimSpace(r.URL.Query().Get("seller_id"))
	if requested == "" || requested == actor.UserID {
		return actor.UserID, nil
	}
	if actor.Role == "manager" || actor.Role == "admin" {
		return requested, nil
	}
	return "", errors.New("cannot read another seller's shift")
}

func shiftStartFromQuery(r *http.Request) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("start"))
	if raw == "" {
		now := time.Now().UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	start, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("start must be RFC3339")
	}
	return start.UTC(), nil
}

func (a *API) handleShiftSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}

	sellerID, err := sellerIDForQuery(r)
	if err != nil {
		a.writeError(w, http.StatusForbidden, err)
		return
	}
	start, err := shiftStartFromQuery(r)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	summary, err := a.service.ShiftSummary(r.Context(), sellerID, start)
	if err != nil {
		a.writeError(w, statusFromError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleShiftItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}

	sellerID, err := sellerIDForQuery(r)
	if err != nil {
		a.writeError(w, http.StatusForbidden, err)
		return
	}
	start, err := shiftStartFromQuery(r)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	items, err := a.service.ShiftItemsSold(r.Context(), sellerID, start)
	if err != nil {
		a.writeError(w, statusFromError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleClosures(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req domain.ClosureRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		closure, err := a.service.CloseShift(r.Context(), req)
		if err != nil {
			a.writeError(w, statusFromError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, closure)
	case http.MethodGet:
		filter, err := a.closureFilterFromQuery(r)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		closures, total, err := a.service.ListClosures(r.Context(), filter)
		if err != nil {
			a.writeError(w, statusFromError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"closures": closures,
			"total":    total,
			"page":     filter.Page,
		})
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) closureFilterFromQuery(r *http.Request) (domain.ClosureListFilter, error) {
	q := r.URL.Query()
	filter := domain.ClosureListFilter{
		SellerID: strings.TrimSpace(q.Get("seller_id")),
		Page:     parsePositiveInt(q.Get("page"), 1),
		PageSize: parsePositiveInt(q.Get("page_size"), 20),
	}

	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status, err := domain.ParseClosureStatus(raw)
		if err != nil {
			return domain.ClosureListFilter{}, err
		}
		filter.Status = status
	}
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		from, err := time.ParseInLocation("2006-01-02", raw, time.UTC)
		if err != nil {
			return domain.ClosureListFilter{}, fmt.Errorf("from must be YYYY-MM-DD")
		}
		filter.From = from
	}
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		to, err := time.ParseInLocation("2006-01-02", raw, time.UTC)
		if err != nil {
			return domain.ClosureListFilter{}, fmt.Errorf("to must be YYYY-MM-DD")
		}
		filter.To = to
	}

	if actor, ok := service.ActorFromContext(r.Context()); ok && actor.Role == "receptionist" {
		filter.SellerID = actor.UserID
	}
	return filter, nil
}

func (a *API) handleTodayClosure(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}

	sellerID, err := sellerIDForQuery(r)
	if err != nil {
		a.writeError(w, http.StatusForbidden, err)
		return
	}

	closure, err := a.service.TodayClosure(r.Context(), sellerID)
	if err != nil {
		a.writeError(w, statusFromError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, closure)
}

func (a *API) handleClosureActions(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/closures/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		a.writeError(w, http.StatusBadRequest, errors.New("missing closure id"))
		return
	}
	closureID := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		closure, err := a.service.GetClosure(r.Context(), closureID)
		if err != nil {
			a.writeError(w, statusFromError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, closure)
	case len(parts) == 2 && parts[1] == "review" && r.Method == http.MethodPost:
		actor, ok := service.ActorFromContext(r.Context())
		if !ok || (actor.Role != "admin" && actor.Role != "manager") {
			a.writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}
		var req domain.ClosureReviewRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		closure, err := a.service.ReviewClosure(r.Context(), closureID, req)
		if err != nil {
			a.writeError(w, statusFromError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, closure)
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleSalesSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}

	q := r.URL.Query()
	now := time.Now().UTC()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, time.UTC)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, fmt.Errorf("from must be YYYY-MM-DD"))
			return
		}
		from = parsed
	}
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, time.UTC)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, fmt.Errorf("to must be YYYY-MM-DD"))
			return
		}
		to = parsed.AddDate(0, 0, 1)
	}

	summary, err := a.service.GetSalesSummary(r.Context(), from, to)
	if err != nil {
		a.writeError(w, statusFromError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleStockMovements(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}

	q := r.URL.Query()
	limit := parsePositiveInt(q.Get("limit"), 50)
	if limit > 500 {
		limit = 500
	}
	movements, err := a.service.ListStockMovements(r.Context(), strings.TrimSpace(q.Get("product_id")), limit)
	if err != nil {
		a.writeError(w, statusFromError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}

	q := r.URL.Query()
	limit := parsePositiveInt(q.Get("limit"), 100)
	if limit > 1000 {
		limit = 1000
	}

	var from, to time.Time
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, fmt.Errorf("from must be RFC3339"))
			return
		}
		from = parsed.UTC()
	}
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, fmt.Errorf("to must be RFC3339"))
			return
		}
		to = parsed.UTC()
	}

	logs, err := a.service.ListAuditLogs(r.Context(), from, to, limit)
	if err != nil {
		a.writeError(w, statusFromError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit_logs": logs})
}

func (a *API) handleStaff(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req StaffCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		user, err := a.auth.CreateStaff(r.Context(), req)
		if err != nil {
			a.writeError(w, statusFromError(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, user)
	case http.MethodGet:
		users, err := a.service.ListStaff(r.Context())
		if err != nil {
			a.writeError(w, statusFromError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"staff": users})
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !a.checkCSRF(w, r) {
			return
		}

		requestID := uuid.NewString()
		w.Header().Set("X-Request-ID", requestID)

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		a.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(startedAt)),
		)
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveInt(raw string, fallback int) int {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil || parsed < 1 {
		return fallback
	}
	return parsed
}

func statusFromError(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrAlreadyReversed),
		errors.Is(err, store.ErrReversalWindowExpired):
		return http.StatusConflict
	case errors.Is(err, store.ErrInsufficientPayment),
		errors.Is(err, store.ErrInvalidDateRange),
		errors.Is(err, store.ErrInvalidRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeMethodNotAllowed(w http.ResponseWriter) {
	a.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeError redacts 5xx messages so internal details (SQL errors, paths)
// never reach clients; 4xx messages are user-facing and pass through.
func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		a.logger.Error("internal error", zap.Int("status", status), zap.Error(err))
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

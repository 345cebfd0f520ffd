package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"caisse/backend/internal/domain"
	"caisse/backend/internal/ledger"
	"caisse/backend/internal/report"
	"caisse/backend/internal/service"
)

const maxBodyBytes = 1 << 20

type API struct {
	service       *service.Service
	auth          *AuthManager
	logger        *zap.Logger
	secretLimiter *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		service:       svc,
		auth:          auth,
		logger:        logger.With(zap.String("component", "http")),
		secretLimiter: newAttemptLimiter(10, time.Minute),
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/invoices", a.handleInvoices)
	mux.HandleFunc("/revenue", a.handleRevenue)
	mux.HandleFunc("/admin/reconcile", a.requireAuth(a.handleReconcile, domain.RoleAdmin))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, candidate := range allowed {
		if role == candidate {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleInvoices(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.handleInvoicePost(w, r)
	case http.MethodGet:
		limit := parsePositiveLimit(r.URL.Query().Get("limit"), 1000, 10000)
		numbers, err := a.service.InvoiceNumbers(r.Context(), limit)
		if err != nil {
			a.internalError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":             true,
			"count":          len(numbers),
			"invoiceNumbers": numbers,
		})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleInvoicePost(w http.ResponseWriter, r *http.Request) {
	// Only failed secrets count against the limiter; a correct one always passes.
	if !a.auth.ValidateIngestSecret(r.Header.Get("X-Secret")) {
		key := "ingest:" + clientKey(r)
		if !a.secretLimiter.Allow(key) {
			writeError(w, http.StatusTooManyRequests, errors.New("too many failed secret attempts"))
			return
		}
		a.logger.Warn("ingest rejected", zap.String("client", clientKey(r)))
		writeError(w, http.StatusUnauthorized, ErrUnauthorized)
		return
	}

	raw, err := decodeObject(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := a.service.Ingest(r.Context(), raw)
	if err != nil {
		if errors.Is(err, domain.ErrAmountOutOfRange) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"ok":    false,
				"error": err.Error(),
				"hint":  "amounts are limited to 10000000000000.00",
			})
			return
		}
		if errors.Is(err, ledger.ErrNegativeTotal) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"ok":    false,
				"error": err.Error(),
				"hint":  "vendor totals drifted from invoices; run POST /admin/reconcile",
			})
			return
		}
		a.internalError(w, r, err)
		return
	}

	if result.Enqueued == 0 {
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":       true,
			"enqueued": 0,
			"reason":   result.Reason,
			"message":  "no positive amount found, invoice not recorded",
			"hint":     "send montant_ttc/total or line items with a unit price",
			"invoice":  result.Invoice,
		})
		return
	}

	message := "invoice updated"
	if result.Created {
		message = "invoice recorded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"enqueued": 1,
		"created":  result.Created,
		"message":  message,
		"invoice":  result.Invoice,
	})
}

func (a *API) handleRevenue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	query := r.URL.Query()

	if vendorID := strings.TrimSpace(query.Get("vendorId")); vendorID != "" {
		total, err := a.service.VendorRevenue(r.Context(), vendorID)
		if err != nil {
			a.internalError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":       true,
			"vendorId": total.VendorID,
			"total":    total.Total,
		})
		return
	}

	limit := parsePositiveLimit(query.Get("limit"), 0, ledger.MaxRecentLimit)
	snapshot, err := a.service.RevenueSnapshot(r.Context(), limit)
	if err != nil {
		a.internalError(w, r, err)
		return
	}

	switch strings.ToLower(query.Get("format")) {
	case "", "json":
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":          true,
			"totals":      snapshot.Totals,
			"recent":      snapshot.Recent,
			"generatedAt": snapshot.GeneratedAt,
		})
	case "csv":
		var buf bytes.Buffer
		if err := report.WriteCSV(&buf, snapshot); err != nil {
			a.internalError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"revenue-%s.csv\"", snapshot.GeneratedAt.Format("2006-01-02")))
		_, _ = w.Write(buf.Bytes())
	default:
		writeError(w, http.StatusBadRequest, errors.New("format must be json or csv"))
	}
}

func (a *API) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	dryRun := false
	if raw := strings.TrimSpace(r.URL.Query().Get("dryRun")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("dryRun must be true or false"))
			return
		}
		dryRun = parsed
	}

	result, err := a.service.Reconcile(r.Context(), dryRun)
	if err != nil {
		if errors.Is(err, service.ErrForbidden) {
			writeError(w, http.StatusForbidden, err)
			return
		}
		a.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "report": result})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}

		w.Header().Set("X-Request-ID", requestID)
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Secret, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(startedAt)),
			zap.String("request_id", requestID))
	})
}

// decodeObject reads a JSON object body. Numbers stay json.Number so amounts
// keep their exact decimal text.
func decodeObject(r *http.Request) (map[string]any, error) {
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()

	var payload any
	if err := decoder.Decode(&payload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errors.New("request body too large")
		}
		if errors.Is(err, io.EOF) {
			return nil, errors.New("request body is empty")
		}
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	object, ok := payload.(map[string]any)
	if !ok {
		return nil, errors.New("request body must be a JSON object")
	}
	return object, nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func (a *API) internalError(w http.ResponseWriter, r *http.Request, err error) {
	a.logger.Error("request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("request_id", w.Header().Get("X-Request-ID")),
		zap.Error(err))
	writeError(w, http.StatusInternalServerError, err)
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx details stay in the logs.
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"ok":    false,
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/punchamoorthee/quorumvault/internal/domain"
	"github.com/punchamoorthee/quorumvault/internal/models"
	"github.com/punchamoorthee/quorumvault/internal/vault"
)

const (
	principalHeader = "X-Principal"
	requestIDHeader = "X-Request-ID"
)

// Metrics
var (
	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vault_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vault_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method", "endpoint"})
)

type Handler struct {
	vault *vault.Vault
	log   *zap.Logger
}

func NewHandler(v *vault.Vault, log *zap.Logger) *Handler {
	return &Handler{vault: v, log: log}
}

// NewRouter wires every vault endpoint plus /health and /metrics.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(h.requestID)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/deposits", h.Deposit).Methods("POST")
	v1.HandleFunc("/vault/receive", h.ReceiveValue).Methods("POST")
	v1.HandleFunc("/assets/{asset}/balance", h.GetBalance).Methods("GET")

	v1.HandleFunc("/withdrawals", h.CreateWithdrawal).Methods("POST")
	v1.HandleFunc("/withdrawals/{id:[0-9]+}", h.GetWithdrawal).Methods("GET")
	v1.HandleFunc("/withdrawals/{id:[0-9]+}/voters", h.GetVoters).Methods("GET")
	v1.HandleFunc("/withdrawals/{id:[0-9]+}/eligible", h.GetEligibility).Methods("GET")
	v1.HandleFunc("/withdrawals/{id:[0-9]+}/votes", h.Vote).Methods("POST")
	v1.HandleFunc("/withdrawals/{id:[0-9]+}/process", h.Process).Methods("POST")
	v1.HandleFunc("/creators/{principal}/withdrawals", h.ListByCreator).Methods("GET")

	v1.HandleFunc("/withdrawals/{id:[0-9]+}/pause", h.TogglePause).Methods("POST")
	v1.HandleFunc("/withdrawals/{id:[0-9]+}/accelerated", h.SetAccelerated).Methods("PUT")
	v1.HandleFunc("/withdrawals/{id:[0-9]+}", h.ForceDelete).Methods("DELETE")
	v1.HandleFunc("/withdrawals/{id:[0-9]+}/last-impactful-vote-time", h.OverrideVoteTime).Methods("PUT")
	v1.HandleFunc("/settings", h.GetSettings).Methods("GET")
	v1.HandleFunc("/settings/quorum", h.SetQuorum).Methods("PUT")
	v1.HandleFunc("/settings/delay", h.SetDelay).Methods("PUT")
	v1.HandleFunc("/voters", h.AddVoter).Methods("POST")
	v1.HandleFunc("/voters/{principal}", h.RemoveVoter).Methods("DELETE")

	return r
}

// requestID tags every request with a correlation id, reusing the caller's
// when present.
func (h *Handler) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func caller(r *http.Request) domain.Principal {
	return domain.Principal(r.Header.Get(principalHeader))
}

// requestIDVar parses the {id} route variable. Ids that do not parse map to
// 0, which is never issued.
func requestIDVar(r *http.Request) uint64 {
	id, _ := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	return id
}

// statusFor maps vault errors onto HTTP status codes.
func statusFor(err error) int {
	switch vault.KindOf(err) {
	case vault.KindInvalidInput, vault.KindInsufficientBalance:
		return http.StatusUnprocessableEntity
	case vault.KindNotFound:
		return http.StatusNotFound
	case vault.KindUnauthorized:
		return http.StatusForbidden
	case vault.KindDuplicateVote, vault.KindQuorumNotMet, vault.KindDelayNotElapsed, vault.KindRequestPaused:
		return http.StatusConflict
	case vault.KindLedgerTransferFailed:
		return http.StatusBadGateway
	case vault.KindUnsupported:
		return http.StatusMethodNotAllowed
	default:
		return http.StatusInternalServerError
	}
}

// Helpers
func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload interface{}, method, endpoint string) {
	httpReqTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func (h *Handler) respondError(w http.ResponseWriter, code int, msg, method, endpoint string) {
	h.respondJSON(w, code, models.ErrorResponse{Error: msg}, method, endpoint)
}

func (h *Handler) respondVaultError(w http.ResponseWriter, r *http.Request, err error, method, endpoint string) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("endpoint", endpoint), zap.String("request_id", r.Header.Get(requestIDHeader)), zap.Error(err))
		msg = "Internal Server Error"
	}
	h.respondJSON(w, code, models.ErrorResponse{Error: msg, Code: vault.CodeOf(err)}, method, endpoint)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}, method, endpoint string) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", method, endpoint)
		return false
	}
	return true
}

package api

import (
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/punchamoorthee/quorumvault/internal/domain"
	"github.com/punchamoorthee/quorumvault/internal/models"
	"github.com/punchamoorthee/quorumvault/internal/vault"
)

const maxDelaySeconds = math.MaxInt64 / int64(time.Second)

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", "/deposits"))
	defer timer.ObserveDuration()

	var req models.DepositRequest
	if !h.decode(w, r, &req, "POST", "/deposits") {
		return
	}

	balance, err := h.vault.Deposit(r.Context(), caller(r), domain.Asset(req.Asset), req.Amount)
	if err != nil {
		h.respondVaultError(w, r, err, "POST", "/deposits")
		return
	}
	h.respondJSON(w, http.StatusCreated, models.BalanceResponse{Asset: req.Asset, Balance: balance}, "POST", "/deposits")
}

// ReceiveValue answers bare value transfers that bypass the deposit path.
func (h *Handler) ReceiveValue(w http.ResponseWriter, r *http.Request) {
	var req models.DepositRequest
	if !h.decode(w, r, &req, "POST", "/vault/receive") {
		return
	}
	err := h.vault.ReceiveValue(r.Context(), domain.Asset(req.Asset), req.Amount)
	h.respondVaultError(w, r, err, "POST", "/vault/receive")
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	asset := mux.Vars(r)["asset"]
	balance, err := h.vault.Balance(r.Context(), domain.Asset(asset))
	if err != nil {
		h.respondVaultError(w, r, err, "GET", "/assets/{asset}/balance")
		return
	}
	h.respondJSON(w, http.StatusOK, models.BalanceResponse{Asset: asset, Balance: balance}, "GET", "/assets/{asset}/balance")
}

func (h *Handler) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", "/withdrawals"))
	defer timer.ObserveDuration()

	var req models.CreateWithdrawalRequest
	if !h.decode(w, r, &req, "POST", "/withdrawals") {
		return
	}

	id, err := h.vault.CreateWithdrawalRequest(r.Context(), caller(r), domain.Principal(req.To), domain.Asset(req.Asset), req.Amount)
	if err != nil {
		h.respondVaultError(w, r, err, "POST", "/withdrawals")
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/withdrawals/%d", id))
	h.respondJSON(w, http.StatusCreated, models.NewWithdrawal(h.vault.Request(id), h.vault.AdminData(id)), "POST", "/withdrawals")
}

func (h *Handler) GetWithdrawal(w http.ResponseWriter, r *http.Request) {
	id := requestIDVar(r)
	req := h.vault.Request(id)
	if !req.Exists() {
		h.respondError(w, http.StatusNotFound, "Withdrawal request not found", "GET", "/withdrawals/{id}")
		return
	}
	h.respondJSON(w, http.StatusOK, models.NewWithdrawal(req, h.vault.AdminData(id)), "GET", "/withdrawals/{id}")
}

func (h *Handler) GetVoters(w http.ResponseWriter, r *http.Request) {
	id := requestIDVar(r)
	if !h.vault.Request(id).Exists() {
		h.respondError(w, http.StatusNotFound, "Withdrawal request not found", "GET", "/withdrawals/{id}/voters")
		return
	}
	h.respondJSON(w, http.StatusOK, h.vault.VotedVoters(id), "GET", "/withdrawals/{id}/voters")
}

func (h *Handler) GetEligibility(w http.ResponseWriter, r *http.Request) {
	id := requestIDVar(r)
	ok, err := h.vault.IsEligible(r.Context(), id)
	if err != nil {
		h.respondVaultError(w, r, err, "GET", "/withdrawals/{id}/eligible")
		return
	}
	h.respondJSON(w, http.StatusOK, models.EligibilityResponse{ID: id, Eligible: ok}, "GET", "/withdrawals/{id}/eligible")
}

func (h *Handler) Vote(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", "/withdrawals/{id}/votes"))
	defer timer.ObserveDuration()

	id := requestIDVar(r)
	var req models.VoteRequest
	if !h.decode(w, r, &req, "POST", "/withdrawals/{id}/votes") {
		return
	}

	if err := h.vault.Vote(r.Context(), caller(r), id, req.Approve); err != nil {
		h.respondVaultError(w, r, err, "POST", "/withdrawals/{id}/votes")
		return
	}
	h.respondJSON(w, http.StatusOK, models.NewWithdrawal(h.vault.Request(id), h.vault.AdminData(id)), "POST", "/withdrawals/{id}/votes")
}

func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", "/withdrawals/{id}/process"))
	defer timer.ObserveDuration()

	id := requestIDVar(r)
	req := h.vault.Request(id)

	if err := h.vault.Process(r.Context(), caller(r), id); err != nil {
		h.respondVaultError(w, r, err, "POST", "/withdrawals/{id}/process")
		return
	}
	h.respondJSON(w, http.StatusOK, req, "POST", "/withdrawals/{id}/process")
}

func (h *Handler) ListByCreator(w http.ResponseWriter, r *http.Request) {
	p := domain.Principal(mux.Vars(r)["principal"])
	h.respondJSON(w, http.StatusOK, h.vault.RequestsByCreator(p), "GET", "/creators/{principal}/withdrawals")
}

func (h *Handler) TogglePause(w http.ResponseWriter, r *http.Request) {
	id := requestIDVar(r)
	paused, err := h.vault.TogglePause(r.Context(), caller(r), id)
	if err != nil {
		h.respondVaultError(w, r, err, "POST", "/withdrawals/{id}/pause")
		return
	}
	h.respondJSON(w, http.StatusOK, models.PauseResponse{ID: id, Paused: paused}, "POST", "/withdrawals/{id}/pause")
}

func (h *Handler) SetAccelerated(w http.ResponseWriter, r *http.Request) {
	id := requestIDVar(r)
	var req models.AcceleratedRequest
	if !h.decode(w, r, &req, "PUT", "/withdrawals/{id}/accelerated") {
		return
	}
	if err := h.vault.SetAccelerated(r.Context(), caller(r), id, req.Accelerated); err != nil {
		h.respondVaultError(w, r, err, "PUT", "/withdrawals/{id}/accelerated")
		return
	}
	h.respondJSON(w, http.StatusOK, models.NewWithdrawal(h.vault.Request(id), h.vault.AdminData(id)), "PUT", "/withdrawals/{id}/accelerated")
}

func (h *Handler) ForceDelete(w http.ResponseWriter, r *http.Request) {
	id := requestIDVar(r)
	if err := h.vault.ForceDelete(r.Context(), caller(r), id); err != nil {
		h.respondVaultError(w, r, err, "DELETE", "/withdrawals/{id}")
		return
	}
	httpReqTotal.WithLabelValues("DELETE", "/withdrawals/{id}", "204").Inc()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) OverrideVoteTime(w http.ResponseWriter, r *http.Request) {
	id := requestIDVar(r)
	var req models.TimestampRequest
	if !h.decode(w, r, &req, "PUT", "/withdrawals/{id}/last-impactful-vote-time") {
		return
	}
	if err := h.vault.OverrideLastImpactfulVoteTime(r.Context(), caller(r), id, req.Timestamp); err != nil {
		h.respondVaultError(w, r, err, "PUT", "/withdrawals/{id}/last-impactful-vote-time")
		return
	}
	h.respondJSON(w, http.StatusOK, models.NewWithdrawal(h.vault.Request(id), h.vault.AdminData(id)), "PUT", "/withdrawals/{id}/last-impactful-vote-time")
}

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.settings(), "GET", "/settings")
}

func (h *Handler) SetQuorum(w http.ResponseWriter, r *http.Request) {
	var req models.QuorumRequest
	if !h.decode(w, r, &req, "PUT", "/settings/quorum") {
		return
	}
	if err := h.vault.SetRequiredApproveVotes(r.Context(), caller(r), req.RequiredApproveVotes); err != nil {
		h.respondVaultError(w, r, err, "PUT", "/settings/quorum")
		return
	}
	h.respondJSON(w, http.StatusOK, h.settings(), "PUT", "/settings/quorum")
}

func (h *Handler) SetDelay(w http.ResponseWriter, r *http.Request) {
	var req models.DelayRequest
	if !h.decode(w, r, &req, "PUT", "/settings/delay") {
		return
	}
	// Larger values would wrap around when converted to a Duration.
	if req.DelaySeconds < 0 || req.DelaySeconds > maxDelaySeconds {
		h.respondVaultError(w, r, vault.ErrInvalidDelay, "PUT", "/settings/delay")
		return
	}
	if err := h.vault.SetWithdrawalDelay(r.Context(), caller(r), time.Duration(req.DelaySeconds)*time.Second); err != nil {
		h.respondVaultError(w, r, err, "PUT", "/settings/delay")
		return
	}
	h.respondJSON(w, http.StatusOK, h.settings(), "PUT", "/settings/delay")
}

func (h *Handler) AddVoter(w http.ResponseWriter, r *http.Request) {
	var req models.VoterRequest
	if !h.decode(w, r, &req, "POST", "/voters") {
		return
	}
	if err := h.vault.AddVoter(r.Context(), caller(r), domain.Principal(req.Principal)); err != nil {
		h.respondVaultError(w, r, err, "POST", "/voters")
		return
	}
	h.respondJSON(w, http.StatusCreated, req, "POST", "/voters")
}

func (h *Handler) RemoveVoter(w http.ResponseWriter, r *http.Request) {
	p := domain.Principal(mux.Vars(r)["principal"])
	if err := h.vault.RemoveVoter(r.Context(), caller(r), p); err != nil {
		h.respondVaultError(w, r, err, "DELETE", "/voters/{principal}")
		return
	}
	httpReqTotal.WithLabelValues("DELETE", "/voters/{principal}", "204").Inc()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) settings() models.SettingsResponse {
	s := h.vault.Settings()
	return models.SettingsResponse{
		RequiredApproveVotes: s.RequiredApproveVotes,
		DelaySeconds:         int64(s.WithdrawalDelay / time.Second),
		NextRequestID:        h.vault.NextRequestID(),
	}
}

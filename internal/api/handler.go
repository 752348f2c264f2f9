package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/tracker/internal/domain"
	"github.com/mtlprog/tracker/internal/valuation"
)

// Wallet is the ledger as seen by the API.
type Wallet interface {
	valuation.Ledger
	TotalValue() decimal.Decimal
	AddHolding(ctx context.Context, asset domain.Asset, quantity decimal.Decimal) error
	RemoveHolding(ctx context.Context, assetID string, quantity decimal.Decimal) error
}

// Valuer produces valuation snapshots.
type Valuer interface {
	Refresh(ctx context.Context, ledger valuation.Ledger, now time.Time, policy valuation.Policy) (domain.ValuationSnapshot, error)
}

// Market serves asset browsing.
type Market interface {
	Page(ctx context.Context, search string, page int) ([]domain.Asset, error)
	Asset(ctx context.Context, id string) (domain.Asset, error)
	History(ctx context.Context, id, timeframe string, now time.Time) ([]domain.HistoryPoint, error)
	Markets(ctx context.Context, id string) ([]domain.Market, error)
}

// Handler provides HTTP endpoints for the wallet and market API.
type Handler struct {
	wallet Wallet
	valuer Valuer
	market Market
	policy valuation.Policy
	now    func() time.Time
}

// NewHandler creates a new API handler. policy is applied to valuation requests;
// ?force=true overrides its ForceFresh flag.
func NewHandler(wallet Wallet, valuer Valuer, market Market, policy valuation.Policy) *Handler {
	return &Handler{
		wallet: wallet,
		valuer: valuer,
		market: market,
		policy: policy,
		now:    time.Now,
	}
}

type walletResponse struct {
	Holdings      []domain.Holding `json:"holdings"`
	TotalValueUSD decimal.Decimal  `json:"totalValueUsd"`
}

type amountRequest struct {
	AssetID string      `json:"assetId"`
	Amount  json.Number `json:"amount"`
}

func (h *Handler) walletView() walletResponse {
	return walletResponse{
		Holdings:      h.wallet.Holdings(),
		TotalValueUSD: h.wallet.TotalValue(),
	}
}

// GetWallet handles GET /api/v1/wallet. It never contacts the price source.
func (h *Handler) GetWallet(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.walletView())
}

// AddHolding handles POST /api/v1/wallet/holdings.
func (h *Handler) AddHolding(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.AssetID == "" {
		writeError(w, http.StatusBadRequest, "assetId is required")
		return
	}
	amount, err := domain.ParseAmount(req.Amount.String())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	asset, err := h.market.Asset(r.Context(), req.AssetID)
	if err != nil {
		writeDomainError(w, "failed to fetch asset", err)
		return
	}
	if err := h.wallet.AddHolding(r.Context(), asset, amount); err != nil {
		writeDomainError(w, "failed to add holding", err)
		return
	}
	writeJSON(w, http.StatusOK, h.walletView())
}

// RemoveHolding handles POST /api/v1/wallet/holdings/{id}/remove.
func (h *Handler) RemoveHolding(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	amount, err := domain.ParseAmount(req.Amount.String())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.wallet.RemoveHolding(r.Context(), r.PathValue("id"), amount); err != nil {
		writeDomainError(w, "failed to remove holding", err)
		return
	}
	writeJSON(w, http.StatusOK, h.walletView())
}

// GetValuation handles GET /api/v1/wallet/valuation.
func (h *Handler) GetValuation(w http.ResponseWriter, r *http.Request) {
	policy := h.policy
	if f := r.URL.Query().Get("force"); f != "" {
		force, err := strconv.ParseBool(f)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid force flag")
			return
		}
		policy.ForceFresh = force
	}

	snap, err := h.valuer.Refresh(r.Context(), h.wallet, h.now(), policy)
	if err != nil {
		slog.Error("failed to refresh valuation", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// writeDomainError maps domain errors to HTTP statuses.
func writeDomainError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount), errors.Is(err, domain.ErrInvalidPrice):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrAssetNotFound), errors.Is(err, domain.ErrNoHistory):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		slog.Error(msg, "error", err)
		writeError(w, http.StatusInternalServerError, msg)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal JSON response", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.Warn("failed to write HTTP response body", "error", err)
		return
	}
	_, _ = w.Write([]byte("\n"))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

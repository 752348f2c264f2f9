package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/samber/lo"

	"github.com/mtlprog/tracker/internal/domain"
	"github.com/mtlprog/tracker/internal/market"
)

type assetListResponse struct {
	Page   int            `json:"page"`
	Sort   *market.Sort   `json:"sort,omitempty"`
	Assets []domain.Asset `json:"assets"`
}

type assetResponse struct {
	Asset domain.Asset      `json:"asset"`
	Stats market.AssetStats `json:"stats"`
}

type historyResponse struct {
	Timeframe string                `json:"timeframe"`
	Interval  string                `json:"interval"`
	Points    []domain.HistoryPoint `json:"points"`
}

// ListAssets handles GET /api/v1/assets.
func (h *Handler) ListAssets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page := 1
	if p := q.Get("page"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid page")
			return
		}
		page = max(n, 1)
	}

	var order *market.Sort
	if s := q.Get("sort"); s != "" {
		key, err := market.ParseSortKey(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		dir := market.Asc
		switch q.Get("dir") {
		case "", string(market.Asc):
		case string(market.Desc):
			dir = market.Desc
		default:
			writeError(w, http.StatusBadRequest, "dir must be asc or desc")
			return
		}
		order = &market.Sort{Key: key, Direction: dir}
	}

	// click is a header click applied on top of the current order.
	if c := q.Get("click"); c != "" {
		key, err := market.ParseSortKey(c)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		next := market.NextSort(lo.FromPtr(order), key)
		order = &next
	}

	assets, err := h.market.Page(r.Context(), q.Get("search"), page)
	if err != nil {
		slog.Error("failed to list assets", "error", err)
		writeError(w, http.StatusBadGateway, "price source unavailable")
		return
	}
	if order != nil {
		assets = market.SortAssets(assets, order.Key, order.Direction)
	}
	if assets == nil {
		assets = []domain.Asset{}
	}

	writeJSON(w, http.StatusOK, assetListResponse{Page: page, Sort: order, Assets: assets})
}

// GetAsset handles GET /api/v1/assets/{id}.
func (h *Handler) GetAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := h.market.Asset(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, "failed to fetch asset", err)
		return
	}
	writeJSON(w, http.StatusOK, assetResponse{Asset: asset, Stats: market.Stats(asset)})
}

// GetHistory handles GET /api/v1/assets/{id}/history.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	tf := market.LookupTimeframe(r.URL.Query().Get("timeframe"))

	points, err := h.market.History(r.Context(), r.PathValue("id"), tf.Key, h.now())
	if err != nil {
		writeDomainError(w, "failed to fetch history", err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Timeframe: tf.Key, Interval: tf.Interval, Points: points})
}

// GetMarkets handles GET /api/v1/assets/{id}/markets.
func (h *Handler) GetMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := h.market.Markets(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, "failed to fetch markets", err)
		return
	}
	if markets == nil {
		markets = []domain.Market{}
	}
	writeJSON(w, http.StatusOK, markets)
}

package coincap

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/samber/lo"

	"github.com/mtlprog/tracker/internal/domain"
)

// Valid history sampling intervals.
var validIntervals = map[string]bool{
	"m1": true, "m5": true, "m15": true, "m30": true,
	"h1": true, "h2": true, "h6": true, "h12": true,
	"d1": true,
}

// GetAsset fetches the current record for a single asset.
func (c *Client) GetAsset(ctx context.Context, id string) (domain.Asset, error) {
	var resp envelope[*assetDTO]
	if err := c.getJSON(ctx, "/assets/"+url.PathEscape(id), nil, &resp); err != nil {
		return domain.Asset{}, fmt.Errorf("fetching asset %s: %w", id, err)
	}
	if resp.Data == nil || resp.Data.ID == "" {
		return domain.Asset{}, fmt.Errorf("fetching asset %s: %w", id, domain.ErrAssetNotFound)
	}
	return resp.Data.toDomain(), nil
}

// ListAssets returns a page of assets ordered by rank, optionally filtered by a search term.
func (c *Client) ListAssets(ctx context.Context, search string, limit, offset int) ([]domain.Asset, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	if search != "" {
		q.Set("search", search)
	}

	var resp envelope[[]assetDTO]
	if err := c.getJSON(ctx, "/assets", q, &resp); err != nil {
		return nil, fmt.Errorf("listing assets: %w", err)
	}
	return lo.Map(resp.Data, func(a assetDTO, _ int) domain.Asset { return a.toDomain() }), nil
}

// GetHistory returns the price series of an asset between start and end.
// Zero start or end are omitted from the request.
func (c *Client) GetHistory(ctx context.Context, id, interval string, start, end time.Time) ([]domain.HistoryPoint, error) {
	if !validIntervals[interval] {
		return nil, fmt.Errorf("invalid history interval %q", interval)
	}

	q := url.Values{}
	q.Set("interval", interval)
	if !start.IsZero() {
		q.Set("start", strconv.FormatInt(start.UnixMilli(), 10))
	}
	if !end.IsZero() {
		q.Set("end", strconv.FormatInt(end.UnixMilli(), 10))
	}

	var resp envelope[[]historyDTO]
	if err := c.getJSON(ctx, "/assets/"+url.PathEscape(id)+"/history", q, &resp); err != nil {
		return nil, fmt.Errorf("fetching history for %s: %w", id, err)
	}
	return lo.Map(resp.Data, func(h historyDTO, _ int) domain.HistoryPoint { return h.toDomain() }), nil
}

// GetMarkets returns the exchange markets trading an asset.
func (c *Client) GetMarkets(ctx context.Context, id string) ([]domain.Market, error) {
	var resp envelope[[]marketDTO]
	if err := c.getJSON(ctx, "/assets/"+url.PathEscape(id)+"/markets", nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching markets for %s: %w", id, err)
	}
	return lo.Map(resp.Data, func(m marketDTO, _ int) domain.Market { return m.toDomain() }), nil
}

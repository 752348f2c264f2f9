// Package stream subscribes to the CoinCap websocket price feed for held assets
// and periodically pushes the latest prices into the wallet.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/mtlprog/tracker/internal/domain"
)

const maxDelay = time.Minute

// PriceSink is the wallet side of the stream.
type PriceSink interface {
	Holdings() []domain.Holding
	UpdatePrice(ctx context.Context, assetID string, priceUSD decimal.Decimal) error
}

// Option configures a Stream.
type Option func(*Stream)

// WithBaseDelay sets the first reconnect delay.
func WithBaseDelay(d time.Duration) Option {
	return func(s *Stream) { s.baseDelay = d }
}

// WithReadTimeout drops the connection when no message arrives within d.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Stream) { s.readTimeout = d }
}

// Stream buffers the latest price per asset and flushes the buffer on an interval.
type Stream struct {
	url           string
	sink          PriceSink
	flushInterval time.Duration
	baseDelay     time.Duration
	readTimeout   time.Duration

	mu         sync.Mutex
	pending    map[string]decimal.Decimal
	conn       *websocket.Conn
	subscribed []string

	resubscribe atomic.Bool
}

// New creates a Stream for the feed at rawURL, e.g. wss://ws.coincap.io/prices.
func New(rawURL string, sink PriceSink, flushInterval time.Duration, opts ...Option) *Stream {
	s := &Stream{
		url:           rawURL,
		sink:          sink,
		flushInterval: flushInterval,
		baseDelay:     time.Second,
		readTimeout:   time.Minute,
		pending:       make(map[string]decimal.Decimal),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run streams until ctx is cancelled. Buffered prices are flushed one last time on exit.
func (s *Stream) Run(ctx context.Context) error {
	slog.Info("PriceStream: starting", "url", s.url, "flush_interval", s.flushInterval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.flushLoop(gctx)
		return nil
	})
	g.Go(func() error {
		s.connectLoop(gctx)
		return nil
	})
	_ = g.Wait()

	s.flush(context.WithoutCancel(ctx))
	slog.Info("PriceStream: shutting down")
	return nil
}

func (s *Stream) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.flush(ctx)
			s.checkSubscription()
		}
	}
}

func (s *Stream) connectLoop(ctx context.Context) {
	retry := 0
	for ctx.Err() == nil {
		ids := s.heldIDs()
		if len(ids) == 0 {
			sleep(ctx, s.flushInterval)
			continue
		}

		connected, err := s.session(ctx, ids)
		if ctx.Err() != nil {
			return
		}
		if connected {
			retry = 0
		}
		if s.resubscribe.Swap(false) {
			continue
		}

		delay := backoff(s.baseDelay, retry)
		slog.Warn("PriceStream: connection lost", "error", err, "retry", retry, "delay", delay)
		retry++
		sleep(ctx, delay)
	}
}

// session dials, reads until the connection fails, and reports whether the dial succeeded.
func (s *Stream) session(ctx context.Context, ids []string) (bool, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.subscribeURL(ids), nil)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	s.conn = conn
	s.subscribed = ids
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		_ = conn.Close()
	}()

	slog.Info("PriceStream: connected", "assets", len(ids))
	for {
		if s.readTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		s.handle(msg)
	}
}

// handle buffers a message such as {"bitcoin":"6929.82"}. Unparseable or negative
// prices are skipped.
func (s *Stream) handle(msg []byte) {
	var prices map[string]string
	if err := json.Unmarshal(msg, &prices); err != nil {
		slog.Debug("PriceStream: ignoring message", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, raw := range prices {
		p, err := decimal.NewFromString(raw)
		if err != nil || p.IsNegative() {
			continue
		}
		s.pending[id] = p
	}
}

func (s *Stream) flush(ctx context.Context) {
	s.mu.Lock()
	batch := s.pending
	s.pending = make(map[string]decimal.Decimal, len(batch))
	s.mu.Unlock()

	for id, price := range batch {
		if err := s.sink.UpdatePrice(ctx, id, price); err != nil {
			slog.Warn("PriceStream: price update failed", "asset", id, "error", err)
		}
	}
	if len(batch) > 0 {
		slog.Debug("PriceStream: flushed", "prices", len(batch))
	}
}

// checkSubscription drops the connection when the held assets changed, so the next
// session subscribes to the new set.
func (s *Stream) checkSubscription() {
	ids := s.heldIDs()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil || slices.Equal(ids, s.subscribed) {
		return
	}
	s.resubscribe.Store(true)
	_ = s.conn.Close()
}

func (s *Stream) heldIDs() []string {
	return lo.Map(s.sink.Holdings(), func(h domain.Holding, _ int) string { return h.AssetID })
}

func (s *Stream) subscribeURL(ids []string) string {
	u, err := url.Parse(s.url)
	if err != nil {
		return fmt.Sprintf("%s?assets=%s", s.url, strings.Join(ids, ","))
	}
	q := u.Query()
	q.Set("assets", strings.Join(ids, ","))
	u.RawQuery = q.Encode()
	return u.String()
}

func backoff(base time.Duration, retry int) time.Duration {
	if retry > 30 {
		return maxDelay
	}
	return min(base*time.Duration(1<<retry), maxDelay)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

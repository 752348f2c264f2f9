package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/tracker/internal/domain"
)

type mockSink struct {
	mu       sync.Mutex
	holdings []domain.Holding
	prices   map[string]decimal.Decimal
}

func newMockSink(ids ...string) *mockSink {
	m := &mockSink{prices: make(map[string]decimal.Decimal)}
	for _, id := range ids {
		m.holdings = append(m.holdings, domain.Holding{AssetID: id, Quantity: decimal.NewFromInt(1)})
	}
	return m
}

func (m *mockSink) Holdings() []domain.Holding {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Holding(nil), m.holdings...)
}

func (m *mockSink) UpdatePrice(_ context.Context, id string, p decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[id] = p
	return nil
}

func (m *mockSink) price(id string) (decimal.Decimal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prices[id]
	return p, ok
}

func newWSServer(t *testing.T, handler func(*http.Request, *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(r, conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return strings.Replace(srv.URL, "http://", "ws://", 1) + "/prices"
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestStreamFlushesPrices(t *testing.T) {
	var gotAssets atomic.Value
	srv := newWSServer(t, func(r *http.Request, conn *websocket.Conn) {
		gotAssets.Store(r.URL.Query().Get("assets"))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"bitcoin":"31000.5","ethereum":"2100"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"bitcoin":"31001"}`))
		time.Sleep(500 * time.Millisecond)
	})

	sink := newMockSink("bitcoin", "ethereum")
	s := New(wsURL(srv), sink, 20*time.Millisecond, WithBaseDelay(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, func() bool {
		p, ok := sink.price("bitcoin")
		return ok && p.Equal(decimal.NewFromInt(31001))
	})
	if p, _ := sink.price("ethereum"); !p.Equal(decimal.NewFromInt(2100)) {
		t.Errorf("ethereum = %s, want 2100", p)
	}
	if got, _ := gotAssets.Load().(string); got != "bitcoin,ethereum" {
		t.Errorf("assets query = %q, want bitcoin,ethereum", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestStreamReconnects(t *testing.T) {
	var connects atomic.Int32
	srv := newWSServer(t, func(_ *http.Request, _ *websocket.Conn) {
		connects.Add(1)
	})

	s := New(wsURL(srv), newMockSink("bitcoin"), 20*time.Millisecond, WithBaseDelay(5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	waitFor(t, func() bool { return connects.Load() >= 3 })
}

func TestStreamWaitsForHoldings(t *testing.T) {
	var connects atomic.Int32
	srv := newWSServer(t, func(_ *http.Request, _ *websocket.Conn) {
		connects.Add(1)
	})

	s := New(wsURL(srv), newMockSink(), 10*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)

	if connects.Load() != 0 {
		t.Errorf("connects = %d, want 0 with no holdings", connects.Load())
	}
}

func TestStreamResubscribesWhenHoldingsChange(t *testing.T) {
	var mu sync.Mutex
	var queries []string
	srv := newWSServer(t, func(r *http.Request, conn *websocket.Conn) {
		mu.Lock()
		queries = append(queries, r.URL.Query().Get("assets"))
		mu.Unlock()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	sink := newMockSink("bitcoin")
	s := New(wsURL(srv), sink, 20*time.Millisecond, WithBaseDelay(5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(queries) == 1
	})

	sink.mu.Lock()
	sink.holdings = append(sink.holdings, domain.Holding{AssetID: "solana"})
	sink.mu.Unlock()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(queries) >= 2 && queries[len(queries)-1] == "bitcoin,solana"
	})
}

func TestHandleSkipsInvalidPrices(t *testing.T) {
	s := New("ws://unused", newMockSink(), time.Second)

	s.handle([]byte(`{"bitcoin":"30000","ethereum":"abc","solana":"-1"}`))
	s.handle([]byte(`not json`))
	s.handle([]byte(`{"bitcoin":"30500"}`))

	if len(s.pending) != 1 {
		t.Fatalf("pending = %v, want only bitcoin", s.pending)
	}
	if !s.pending["bitcoin"].Equal(decimal.NewFromInt(30500)) {
		t.Errorf("bitcoin = %s, want latest 30500", s.pending["bitcoin"])
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		retry int
		want  time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{10, maxDelay},
		{64, maxDelay},
	}
	for _, tt := range tests {
		if got := backoff(time.Second, tt.retry); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.retry, got, tt.want)
		}
	}
}

package httpserver_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainbook/api/httpserver"
	"chainbook/domain/book"
	"chainbook/domain/ledger"
	"chainbook/service"
)

func newTestServer(t *testing.T) (*httptest.Server, *service.Service) {
	t.Helper()
	svc := service.New(service.Deps{
		State:  book.NewState(),
		Ledger: ledger.New(),
	})
	ts := httptest.NewServer(httpserver.New(svc, nil).Router())
	t.Cleanup(ts.Close)
	return ts, svc
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestMarketLifecycleOverHTTP(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/markets", map[string]string{
		"base": "ETH", "quote": "USD", "controller": "gov",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var m book.Market
	decode(t, resp, &m)
	assert.NotZero(t, m.ID)

	resp = doJSON(t, http.MethodPost, ts.URL+"/markets", map[string]string{
		"base": "ETH", "quote": "USD",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, ts.URL+"/markets", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var markets []book.Market
	decode(t, resp, &markets)
	assert.Len(t, markets, 1)
}

func TestOrderFlowOverHTTP(t *testing.T) {
	ts, svc := newTestServer(t)
	m, err := svc.CreateMarket("ETH", "USD", "gov")
	require.NoError(t, err)

	resp := doJSON(t, http.MethodPost, ts.URL+"/accounts/alice/deposit", map[string]any{
		"asset": "ETH", "amount": 100,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, ts.URL+"/orders", map[string]any{
		"market_id": m.ID, "owner": "alice", "side": "ask", "price": 100, "amount": 10,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res book.SubmitResult
	decode(t, resp, &res)
	require.True(t, res.Accepted)
	require.NotZero(t, res.OrderID)

	resp = doJSON(t, http.MethodGet, fmt.Sprintf("%s/markets/%d/book?side=ask", ts.URL, m.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var levels []book.BookLevel
	decode(t, resp, &levels)
	require.Len(t, levels, 1)
	assert.Equal(t, book.BookLevel{Price: 100, Volume: 10}, levels[0])

	resp = doJSON(t, http.MethodGet, fmt.Sprintf("%s/markets/%d/book/orders?side=ask", ts.URL, m.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var entries []book.BookEntry
	decode(t, resp, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, "alice", entries[0].Owner)

	resp = doJSON(t, http.MethodDelete, fmt.Sprintf("%s/orders/%d?owner=alice", ts.URL, res.OrderID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cancel map[string]bool
	decode(t, resp, &cancel)
	assert.True(t, cancel["removed"])
}

func TestSnapshotOverHTTP(t *testing.T) {
	ts, svc := newTestServer(t)
	m, err := svc.CreateMarket("ETH", "USD", "gov")
	require.NoError(t, err)
	require.NoError(t, svc.Deposit("alice", "ETH", 10))
	_, err = svc.SubmitLimitOrder(m.ID, "alice", false, 101, 1)
	require.NoError(t, err)

	resp := doJSON(t, http.MethodGet, fmt.Sprintf("%s/markets/%d/snapshot", ts.URL, m.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap service.Snapshot
	decode(t, resp, &snap)
	assert.Equal(t, m.ID, snap.MarketID)
	require.Len(t, snap.Asks, 1)
	assert.EqualValues(t, 101, snap.Asks[0].Price)
}

func TestErrorMapping(t *testing.T) {
	ts, svc := newTestServer(t)
	m, err := svc.CreateMarket("ETH", "USD", "gov")
	require.NoError(t, err)

	// unknown market
	resp := doJSON(t, http.MethodGet, ts.URL+"/markets/999/book?side=ask", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// bad side
	resp = doJSON(t, http.MethodGet, fmt.Sprintf("%s/markets/%d/book?side=sideways", ts.URL, m.ID), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// bad order type
	resp = doJSON(t, http.MethodPost, ts.URL+"/orders", map[string]any{
		"market_id": m.ID, "owner": "alice", "side": "ask", "type": "stop", "price": 100, "amount": 1,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// no funds
	resp = doJSON(t, http.MethodPost, ts.URL+"/orders", map[string]any{
		"market_id": m.ID, "owner": "alice", "side": "ask", "price": 100, "amount": 1,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	// a cancel must name its owner: no wildcard cancellation
	resp = doJSON(t, http.MethodDelete, ts.URL+"/orders/1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// malformed body
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/orders", bytes.NewBufferString("{nope"))
	require.NoError(t, err)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)

	resp = doJSON(t, http.MethodGet, ts.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

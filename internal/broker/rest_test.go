package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/futuresfunk/internal/config"
)

func testBrokerConfig() config.BrokerConfig {
	return config.BrokerConfig{
		Username:              "trader",
		Password:              "secret",
		AppID:                 "FuturesFunk",
		AppVersion:            "1.0",
		DeviceID:              "device-1",
		Demo:                  true,
		HeartbeatSeconds:      25,
		RequestTimeoutSeconds: 5,
		ReauthMarginMinutes:   60,
		RequestsPerSecond:     100,
		RequestBurst:          100,
	}
}

// newTestRESTClient points both REST hosts at the given handler.
func newTestRESTClient(t *testing.T, handler http.Handler) *restClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	rc := newRESTClient(testBrokerConfig())
	rc.http.SetBaseURL(srv.URL)
	rc.md.SetBaseURL(srv.URL)
	return rc
}

// seedSession installs a valid token and account so tests can exercise
// endpoints without an auth round trip.
func seedSession(rc *restClient) {
	rc.mu.Lock()
	rc.accessToken = "seeded-token"
	rc.mdToken = "seeded-md-token"
	rc.tokenExpiry = time.Now().Add(4 * time.Hour)
	rc.accountID = 7
	rc.mu.Unlock()
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestAuthenticate(t *testing.T) {
	t.Run("Success stores tokens and expiry", func(t *testing.T) {
		var gotBody map[string]any
		mux := http.NewServeMux()
		mux.HandleFunc("/auth/accesstokenrequest", func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			writeJSON(t, w, map[string]any{
				"accessToken":    "tok-trading",
				"mdAccessToken":  "tok-md",
				"userId":         42,
				"expirationTime": time.Now().Add(24 * time.Hour).Format(time.RFC3339),
			})
		})

		rc := newTestRESTClient(t, mux)
		require.NoError(t, rc.authenticate(context.Background()))

		assert.Equal(t, "trader", gotBody["name"])
		assert.Equal(t, "secret", gotBody["password"])
		assert.Equal(t, "FuturesFunk", gotBody["appId"])
		assert.Equal(t, "device-1", gotBody["deviceId"])
		assert.NotContains(t, gotBody, "cid", "API key fields ride along only when configured")

		assert.Equal(t, "tok-trading", rc.token())
		assert.Equal(t, "tok-md", rc.marketToken())
	})

	t.Run("Market token falls back to session token", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/auth/accesstokenrequest", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, map[string]any{"accessToken": "only-token"})
		})

		rc := newTestRESTClient(t, mux)
		require.NoError(t, rc.authenticate(context.Background()))
		assert.Equal(t, "only-token", rc.marketToken())
	})

	t.Run("Penalty ticket is rejected", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/auth/accesstokenrequest", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, map[string]any{"p-ticket": "abc123", "p-time": 60})
		})

		rc := newTestRESTClient(t, mux)
		err := rc.authenticate(context.Background())
		require.ErrorIs(t, err, ErrRejected)
		assert.Contains(t, err.Error(), "penalty")
	})

	t.Run("Error text surfaces in the error", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/auth/accesstokenrequest", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, map[string]any{"errorText": "Incorrect username or password"})
		})

		rc := newTestRESTClient(t, mux)
		err := rc.authenticate(context.Background())
		require.ErrorIs(t, err, ErrRejected)
		assert.Contains(t, err.Error(), "Incorrect username or password")
	})
}

func TestEnsureAuthenticated(t *testing.T) {
	t.Run("No session at all", func(t *testing.T) {
		rc := newTestRESTClient(t, http.NewServeMux())
		require.ErrorIs(t, rc.ensureAuthenticated(context.Background()), ErrNotAuthenticated)
	})

	t.Run("Renews proactively near expiry", func(t *testing.T) {
		var authCalls atomic.Int32
		mux := http.NewServeMux()
		mux.HandleFunc("/auth/accesstokenrequest", func(w http.ResponseWriter, r *http.Request) {
			authCalls.Add(1)
			writeJSON(t, w, map[string]any{
				"accessToken":    "fresh-token",
				"expirationTime": time.Now().Add(24 * time.Hour).Format(time.RFC3339),
			})
		})

		rc := newTestRESTClient(t, mux)
		rc.mu.Lock()
		rc.accessToken = "stale-token"
		rc.tokenExpiry = time.Now().Add(10 * time.Minute) // inside the 60m margin
		rc.mu.Unlock()

		require.NoError(t, rc.ensureAuthenticated(context.Background()))
		assert.Equal(t, int32(1), authCalls.Load())
		assert.Equal(t, "fresh-token", rc.token())
	})

	t.Run("Leaves a healthy token alone", func(t *testing.T) {
		rc := newTestRESTClient(t, http.NewServeMux())
		seedSession(rc)
		require.NoError(t, rc.ensureAuthenticated(context.Background()))
		assert.Equal(t, "seeded-token", rc.token())
	})
}

func TestDoReauthenticatesOnUnauthorized(t *testing.T) {
	var authCalls, listCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/accesstokenrequest", func(w http.ResponseWriter, r *http.Request) {
		authCalls.Add(1)
		writeJSON(t, w, map[string]any{
			"accessToken":    "renewed-token",
			"expirationTime": time.Now().Add(24 * time.Hour).Format(time.RFC3339),
		})
	})
	mux.HandleFunc("/account/list", func(w http.ResponseWriter, r *http.Request) {
		if listCalls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(t, w, []Account{{ID: 7, Name: "DEMO1", Active: true}})
	})

	rc := newTestRESTClient(t, mux)
	seedSession(rc)

	require.NoError(t, rc.loadAccounts(context.Background()))
	assert.Equal(t, int32(1), authCalls.Load(), "exactly one reactive re-auth")
	assert.Equal(t, int32(2), listCalls.Load())
	assert.Equal(t, int64(7), rc.currentAccountID())

	accounts := rc.accountList()
	require.Len(t, accounts, 1)
	assert.Equal(t, "DEMO1", accounts[0].Name)
}

func TestPlaceOrder(t *testing.T) {
	t.Run("Sends broker order shape", func(t *testing.T) {
		var gotBody map[string]any
		mux := http.NewServeMux()
		mux.HandleFunc("/order/placeorder", func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			writeJSON(t, w, map[string]any{"orderId": 991})
		})

		rc := newTestRESTClient(t, mux)
		seedSession(rc)

		result, err := rc.placeOrder(context.Background(), OrderRequest{
			Symbol: "MNQH5",
			Action: ActionBuy,
			Qty:    2,
			Type:   OrderTypeMarket,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(991), result.OrderID)

		assert.Equal(t, "trader", gotBody["accountSpec"])
		assert.Equal(t, float64(7), gotBody["accountId"])
		assert.Equal(t, "Buy", gotBody["action"])
		assert.Equal(t, "MNQH5", gotBody["symbol"])
		assert.Equal(t, float64(2), gotBody["orderQty"])
		assert.Equal(t, "Market", gotBody["orderType"])
		assert.Equal(t, true, gotBody["isAutomated"])
		assert.NotContains(t, gotBody, "price", "market orders carry no price")
		assert.NotContains(t, gotBody, "stopPrice")
	})

	t.Run("Limit order carries the price", func(t *testing.T) {
		var gotBody map[string]any
		mux := http.NewServeMux()
		mux.HandleFunc("/order/placeorder", func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			writeJSON(t, w, map[string]any{"orderId": 992})
		})

		rc := newTestRESTClient(t, mux)
		seedSession(rc)

		_, err := rc.placeOrder(context.Background(), OrderRequest{
			Symbol: "MNQH5",
			Action: ActionSell,
			Qty:    1,
			Type:   OrderTypeLimit,
			Price:  18250.25,
		})
		require.NoError(t, err)
		assert.Equal(t, 18250.25, gotBody["price"])
	})

	t.Run("Rejection without order id", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/order/placeorder", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, map[string]any{"failureReason": "RiskCheckFailed", "failureText": "Insufficient margin"})
		})

		rc := newTestRESTClient(t, mux)
		seedSession(rc)

		_, err := rc.placeOrder(context.Background(), OrderRequest{
			Symbol: "MNQH5", Action: ActionBuy, Qty: 1, Type: OrderTypeMarket,
		})
		require.ErrorIs(t, err, ErrRejected)
		assert.Contains(t, err.Error(), "Insufficient margin")
	})
}

func TestPlaceOSO(t *testing.T) {
	var gotBody map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/order/placeoso", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		writeJSON(t, w, map[string]any{"orderId": 993})
	})

	rc := newTestRESTClient(t, mux)
	seedSession(rc)

	result, err := rc.placeOSO(context.Background(), BracketRequest{
		Symbol:     "MNQH5",
		Action:     ActionBuy,
		Qty:        1,
		StopLoss:   18150.0,
		TakeProfit: 18280.0,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(993), result.OrderID)

	assert.Equal(t, "Buy", gotBody["action"])
	assert.Equal(t, "Market", gotBody["orderType"])

	bracket1, ok := gotBody["bracket1"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Sell", bracket1["action"], "exit legs flip the entry side")
	assert.Equal(t, "Stop", bracket1["orderType"])
	assert.Equal(t, 18150.0, bracket1["stopPrice"])

	bracket2, ok := gotBody["bracket2"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Sell", bracket2["action"])
	assert.Equal(t, "Limit", bracket2["orderType"])
	assert.Equal(t, 18280.0, bracket2["price"])
}

func TestFindContract(t *testing.T) {
	var lookups atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/contract/find", func(w http.ResponseWriter, r *http.Request) {
		lookups.Add(1)
		switch r.URL.Query().Get("name") {
		case "MNQH5":
			writeJSON(t, w, Contract{ID: 123, Name: "MNQH5"})
		default:
			writeJSON(t, w, Contract{})
		}
	})

	rc := newTestRESTClient(t, mux)
	seedSession(rc)
	ctx := context.Background()

	contract, err := rc.findContract(ctx, "MNQH5")
	require.NoError(t, err)
	assert.Equal(t, int64(123), contract.ID)

	// Second resolution hits the cache
	_, err = rc.findContract(ctx, "MNQH5")
	require.NoError(t, err)
	assert.Equal(t, int32(1), lookups.Load())

	assert.Equal(t, "MNQH5", rc.symbolForContract(123))
	assert.Equal(t, "999", rc.symbolForContract(999), "unknown ids fall back to their decimal form")

	_, err = rc.findContract(ctx, "BOGUS")
	require.ErrorIs(t, err, ErrContractNotFound)
}

func TestOrderAndPositionLists(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/order/list", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7", r.URL.Query().Get("accountId"))
		writeJSON(t, w, []map[string]any{
			{"id": 1, "accountId": 7, "contractId": 123, "action": "Buy", "ordStatus": "Working", "timestamp": "2025-01-07T14:30:00Z"},
			{"id": 2, "accountId": 7, "contractId": 456, "action": "Sell", "ordStatus": "Filled", "timestamp": "2025-01-07T14:31:00Z"},
		})
	})
	mux.HandleFunc("/position/list", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []map[string]any{
			{"id": 11, "accountId": 7, "contractId": 123, "netPos": -2, "netPrice": 18190.0, "timestamp": "2025-01-07T14:30:00Z"},
		})
	})

	rc := newTestRESTClient(t, mux)
	seedSession(rc)
	rc.contractMu.Lock()
	rc.contracts["MNQH5"] = Contract{ID: 123, Name: "MNQH5"}
	rc.symbolByID[123] = "MNQH5"
	rc.contractMu.Unlock()

	orders, err := rc.orderList(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "MNQH5", orders[0].Symbol)
	assert.Equal(t, StatusWorking, orders[0].Status)
	assert.Equal(t, "456", orders[1].Symbol, "uncached contract keeps its id as symbol")
	assert.Equal(t, StatusFilled, orders[1].Status)

	positions, err := rc.positionList(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "MNQH5", positions[0].Symbol)
	assert.Equal(t, -2, positions[0].NetPos)
	assert.Equal(t, 18190.0, positions[0].NetPrice)
}

func TestGetChart(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/md/getChart", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "MNQH5", q.Get("symbol"))
		assert.Equal(t, "MinuteBar", q.Get("chartType"))
		assert.Equal(t, "1", q.Get("interval"))
		assert.NotEmpty(t, q.Get("startTimestamp"))
		assert.NotEmpty(t, q.Get("endTimestamp"))

		writeJSON(t, w, map[string]any{"bars": []map[string]any{
			{"timestamp": "2025-01-07T14:30:00Z", "open": 1.0, "high": 2.0, "low": 0.5, "close": 1.5, "volume": 10},
			{"open": 9.0, "close": 9.5}, // no timestamp, skipped
			{"timestamp": "2025-01-07T14:31:00Z", "open": 1.5, "high": 2.5, "low": 1.0, "close": 2.0, "upVolume": 6, "downVolume": 4},
		}})
	})

	rc := newTestRESTClient(t, mux)
	seedSession(rc)

	to := time.Now().UTC()
	bars, err := rc.getChart(context.Background(), "MNQH5", 1, to.Add(-time.Hour), to)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 1.5, bars[0].Close)
	assert.Equal(t, int64(10), bars[0].Volume)
	assert.Equal(t, int64(10), bars[1].Volume, "split volume sums up")
	assert.True(t, bars[0].Timestamp.Before(bars[1].Timestamp), "bars stay oldest-first")
}

func TestBalanceSnapshot(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/cashBalance/getCashBalanceSnapshot", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7", r.URL.Query().Get("accountId"))
		writeJSON(t, w, map[string]any{
			"totalCashValue": 50000.5,
			"openPnL":        -12.5,
			"realizedPnL":    130.0,
		})
	})

	rc := newTestRESTClient(t, mux)
	seedSession(rc)

	balance, err := rc.balanceSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 50000.5, balance.TotalCashValue)
	assert.Equal(t, -12.5, balance.OpenPnL)
	assert.Equal(t, 130.0, balance.RealizedPnL)
}

func TestCancelAndModifyOrder(t *testing.T) {
	t.Run("Cancel failure text is rejected", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/order/cancelorder", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, map[string]any{"failureText": "Order already filled"})
		})

		rc := newTestRESTClient(t, mux)
		seedSession(rc)

		err := rc.cancelOrder(context.Background(), 991)
		require.ErrorIs(t, err, ErrRejected)
		assert.Contains(t, err.Error(), "Order already filled")
	})

	t.Run("Modify sends only changed fields", func(t *testing.T) {
		var gotBody map[string]any
		mux := http.NewServeMux()
		mux.HandleFunc("/order/modifyorder", func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			writeJSON(t, w, map[string]any{})
		})

		rc := newTestRESTClient(t, mux)
		seedSession(rc)

		require.NoError(t, rc.modifyOrder(context.Background(), 991, OrderModification{StopPrice: 18175.5}))
		assert.Equal(t, float64(991), gotBody["orderId"])
		assert.Equal(t, 18175.5, gotBody["stopPrice"])
		assert.NotContains(t, gotBody, "orderQty")
		assert.NotContains(t, gotBody, "price")
	})
}

package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"fundbook/infra/identity"
	"fundbook/infra/ledger"
	"fundbook/infra/store"
	exitwal "fundbook/infra/wal/exit"
	"fundbook/service"
)

const (
	sellerAddr = "0x1111111111111111111111111111111111111111"
	buyerAddr  = "0x4444444444444444444444444444444444444444"
	fund       = "0x2222222222222222222222222222222222222222"
)

func newTestServer(t *testing.T) (*httptest.Server, *ledger.Simulator) {
	t.Helper()
	outbox, err := exitwal.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = outbox.Close() })

	ids, err := identity.NewStaticResolver(map[string]string{"seller": sellerAddr, "buyer": buyerAddr})
	require.NoError(t, err)

	sim := ledger.NewSimulator()
	svc := service.New(service.Options{}, service.Deps{
		Store:      store.New(store.NewMemoryBackend()),
		Outbox:     outbox,
		Identity:   ids,
		Settlement: sim,
		Fallback:   sim,
		Log:        zap.NewNop(),
	})
	t.Cleanup(svc.Close)

	ts := httptest.NewServer(NewServer(svc, ids, zap.NewNop()).Handler())
	t.Cleanup(ts.Close)
	return ts, sim
}

func do(t *testing.T, ts *httptest.Server, method, path, caller, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if caller != "" {
		req.Header.Set(callerHeader, caller)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestSubmitMatchAndSettle(t *testing.T) {
	ts, sim := newTestServer(t)

	resp, body := do(t, ts, "POST", "/orders", "seller",
		`{"side":"SELL","instrument":"`+fund+`","tokenAmount":"100","pricePerToken":5}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "PENDING", body["status"])
	sellID := body["orderId"].(string)

	resp, body = do(t, ts, "POST", "/orders", "buyer",
		`{"side":"BUY","instrument":"`+fund+`","tokenAmount":100,"pricePerToken":"5"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "SETTLED", body["status"])
	counter := body["counterOrder"].(map[string]any)
	assert.Equal(t, sellID, counter["orderId"])
	assert.Equal(t, "100", counter["tokenAmount"])
	assert.Len(t, sim.Settlements(), 1)

	resp, body = do(t, ts, "GET", "/orders/"+sellID, "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "SETTLED", body["status"])
	assert.NotEmpty(t, body["settlementTxHash"])
}

func TestSubmitRejections(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, _ := do(t, ts, "POST", "/orders", "", `{}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = do(t, ts, "POST", "/orders", "stranger",
		`{"side":"SELL","instrument":"`+fund+`","tokenAmount":"1","pricePerToken":"1"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := do(t, ts, "POST", "/orders", "seller",
		`{"side":"SELL","instrument":"`+fund+`","tokenAmount":"1.5","pricePerToken":"1"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "integer")

	resp, body = do(t, ts, "POST", "/orders", "seller",
		`{"side":"HOLD","instrument":"`+fund+`","tokenAmount":"1","pricePerToken":"1"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "side", body["field"])

	resp, _ = do(t, ts, "POST", "/orders", "seller", `{"side":"SELL","bogus":1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCancelStatusCodes(t *testing.T) {
	ts, _ := newTestServer(t)

	_, body := do(t, ts, "POST", "/orders", "seller",
		`{"side":"SELL","instrument":"`+fund+`","tokenAmount":"100","pricePerToken":"5"}`)
	id := body["orderId"].(string)

	resp, body := do(t, ts, "DELETE", "/orders/"+id, "buyer", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "NOT_MAKER", body["reason"])

	resp, body = do(t, ts, "DELETE", "/orders/"+id, "seller", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["cancelled"])

	resp, body = do(t, ts, "DELETE", "/orders/"+id, "seller", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "NOT_PENDING", body["reason"])

	resp, _ = do(t, ts, "DELETE", "/orders/nope", "seller", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListAndQueries(t *testing.T) {
	ts, _ := newTestServer(t)

	do(t, ts, "POST", "/orders", "seller",
		`{"side":"SELL","instrument":"`+fund+`","tokenAmount":"100","pricePerToken":"5"}`)
	do(t, ts, "POST", "/orders", "buyer",
		`{"side":"BUY","instrument":"`+fund+`","tokenAmount":"50","pricePerToken":"4"}`)

	req, err := http.NewRequest("GET", ts.URL+"/orders?side=sell&instrument="+fund, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	var list []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	require.Len(t, list, 1)
	assert.Equal(t, "SELL", list[0]["side"])

	resp, body := do(t, ts, "GET", "/orders/matching-probability?instrument="+fund+"&periodHours=1", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0.5, body["probability"])

	resp, _ = do(t, ts, "GET", "/orders/matching-probability?periodHours=x", "", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = do(t, ts, "GET", "/orders/reservations", "buyer", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, buyerAddr, body["wallet"])
	assert.Equal(t, "200", body["cashNotional"])

	resp, body = do(t, ts, "GET", "/orders/reservations?wallet="+sellerAddr, "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{fund: "100"}, body["tokens"])

	resp, _ = do(t, ts, "GET", "/healthz", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReconciliationListsStuckPairs(t *testing.T) {
	ts, sim := newTestServer(t)
	sim.FailSettlements(-1)

	do(t, ts, "POST", "/orders", "seller",
		`{"side":"SELL","instrument":"`+fund+`","tokenAmount":"100","pricePerToken":"5"}`)
	_, body := do(t, ts, "POST", "/orders", "buyer",
		`{"side":"BUY","instrument":"`+fund+`","tokenAmount":"100","pricePerToken":"5"}`)
	assert.Equal(t, "MATCHED", body["status"])

	req, err := http.NewRequest("GET", ts.URL+"/orders/reconciliation", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var stuck []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stuck))
	require.Len(t, stuck, 1)
	assert.Equal(t, body["orderId"], stuck[0]["buyOrderId"])
}

func TestAmountJSON(t *testing.T) {
	var a Amount
	require.NoError(t, json.Unmarshal([]byte(`"123"`), &a))
	assert.Equal(t, Amount(123), a)
	require.NoError(t, json.Unmarshal([]byte(`456`), &a))
	assert.Equal(t, Amount(456), a)
	assert.Error(t, json.Unmarshal([]byte(`"99999999999999999999"`), &a))
	assert.Error(t, json.Unmarshal([]byte(`"abc"`), &a))

	b, err := json.Marshal(Amount(7))
	require.NoError(t, err)
	assert.Equal(t, `"7"`, string(b))
}

func TestWriteJSONLogsEncodingFailureOnServerLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := NewServer(nil, nil, zap.New(core))

	rec := httptest.NewRecorder()
	s.writeJSON(rec, http.StatusOK, map[string]any{"ch": make(chan int)})

	entries := logs.FilterMessage("encoding JSON response").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "http", entries[0].LoggerName)
}

package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"veilmarket/confidential"
	"veilmarket/native/arbiter"
	"veilmarket/native/escrow"
	"veilmarket/native/reputation"
	"veilmarket/observability"
)

type memState struct {
	escrows map[[32]byte]*escrow.Escrow
}

func (m *memState) EscrowPut(e *escrow.Escrow) error {
	sanitized, err := escrow.SanitizeEscrow(e)
	if err != nil {
		return err
	}
	m.escrows[sanitized.ID] = sanitized
	return nil
}

func (m *memState) EscrowGet(id [32]byte) (*escrow.Escrow, bool) {
	esc, ok := m.escrows[id]
	if !ok {
		return nil, false
	}
	return esc.Clone(), true
}

type memKV struct {
	entries map[string][]byte
}

func (m *memKV) KVGet(key []byte, out interface{}) (bool, error) {
	raw, ok := m.entries[string(key)]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, out)
}

func (m *memKV) KVPut(key []byte, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.entries[string(key)] = raw
	return nil
}

type testHarness struct {
	server    *httptest.Server
	auth      *Authenticator
	engine    *escrow.Engine
	conf      *confidential.MemoryLedger
	buyer     [20]byte
	seller    [20]byte
	arbAddr   [20]byte
	authority [20]byte
	now       int64
}

func addr(fill byte) [20]byte {
	var a [20]byte
	for i := range a {
		a[i] = fill
	}
	return a
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	conf, err := confidential.NewMemoryLedger("CSOL")
	require.NoError(t, err)

	h := &testHarness{
		conf:      conf,
		buyer:     addr(0x01),
		seller:    addr(0x02),
		arbAddr:   addr(0x03),
		authority: addr(0xAD),
		now:       1_000_000,
	}
	pool := arbiter.NewPool(h.authority)
	require.NoError(t, pool.Add(h.authority, h.arbAddr, big.NewInt(1000)))

	rep := reputation.NewLedger(&memKV{entries: make(map[string][]byte)})

	engine := escrow.NewEngine()
	engine.SetState(&memState{escrows: make(map[[32]byte]*escrow.Escrow)})
	engine.SetConfidential(conf)
	engine.SetReputation(rep)
	engine.SetArbiters(pool)
	engine.SetParams(escrow.Params{
		FeeBps:             250,
		SellerStakeBps:     1000,
		AcceptanceDeadline: 86400,
		ShippingDeadline:   604800,
		DeliveryDeadline:   1209600,
		DisputeWindow:      604800,
		ArbiterDeadline:    259200,
	})
	engine.SetTreasury(addr(0xFE))
	engine.SetAuthority(h.authority)
	engine.SetNowFunc(func() int64 { return h.now })
	h.engine = engine

	registry := prometheus.NewRegistry()
	engine.SetEmitter(observability.NewEventMetrics(registry))

	auth, err := NewAuthenticator([]byte("test-secret"))
	require.NoError(t, err)
	h.auth = auth

	srv := NewServer(engine, rep, auth, NewRateLimiter(10_000), nil)
	srv.SetFaucet(conf)
	srv.SetMetricsRegistry(registry)
	h.server = httptest.NewServer(srv.Router())
	t.Cleanup(h.server.Close)

	for _, owner := range [][20]byte{h.buyer, h.seller} {
		require.NoError(t, conf.Fund(owner, big.NewInt(1_000_000)))
	}
	return h
}

func (h *testHarness) token(t *testing.T, caller [20]byte) string {
	t.Helper()
	token, err := h.auth.Issue(caller, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func (h *testHarness) do(t *testing.T, method, path string, caller *[20]byte, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, h.server.URL+path, &buf)
	require.NoError(t, err)
	if caller != nil {
		req.Header.Set("Authorization", "Bearer "+h.token(t, *caller))
	}
	resp, err := h.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (h *testHarness) createOrder(t *testing.T, orderID uint64, amount string) orderView {
	t.Helper()
	resp := h.do(t, http.MethodPost, "/v1/orders", &h.buyer, createOrderRequest{
		OrderID: orderID,
		Amount:  amount,
		Seed:    1,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeBody[orderView](t, resp)
}

func TestHealthzUnauthenticated(t *testing.T) {
	h := newHarness(t)
	resp, err := http.Get(h.server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestOrdersRequireAuth(t *testing.T) {
	h := newHarness(t)
	resp := h.do(t, http.MethodPost, "/v1/orders", nil, createOrderRequest{OrderID: 1, Amount: "100"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateOrderEndpoint(t *testing.T) {
	h := newHarness(t)
	view := h.createOrder(t, 1, "1000")
	require.Equal(t, "created", view.State)
	require.Equal(t, "1000", view.Amount)
	require.Equal(t, "25", view.PlatformFee)
	require.NotEmpty(t, view.ID)
}

func TestCreateOrderBadAmount(t *testing.T) {
	h := newHarness(t)
	resp := h.do(t, http.MethodPost, "/v1/orders", &h.buyer, createOrderRequest{OrderID: 1, Amount: "not-a-number"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFullLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t)
	view := h.createOrder(t, 1, "1000")
	path := "/v1/orders/" + view.ID

	resp := h.do(t, http.MethodPost, path+"/accept", &h.seller, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	accepted := decodeBody[orderView](t, resp)
	require.Equal(t, "accepted", accepted.State)
	require.Equal(t, "100", accepted.SellerStake)

	resp = h.do(t, http.MethodPost, path+"/ship", &h.seller, map[string]string{"trackingNumber": "TRACK-9"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = h.do(t, http.MethodPost, path+"/deliver", &h.buyer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The dispute window has not elapsed yet.
	resp = h.do(t, http.MethodPost, path+"/finalize", &h.buyer, nil)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	h.now += 604800 + 1
	resp = h.do(t, http.MethodPost, path+"/finalize", &h.buyer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	final := decodeBody[orderView](t, resp)
	require.Equal(t, "completed", final.State)
}

func TestDisputeOverHTTP(t *testing.T) {
	h := newHarness(t)
	view := h.createOrder(t, 1, "1000")
	path := "/v1/orders/" + view.ID

	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, path+"/accept", &h.seller, nil).StatusCode)
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, path+"/ship", &h.seller, map[string]string{"trackingNumber": "T"}).StatusCode)
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, path+"/deliver", &h.buyer, nil).StatusCode)

	resp := h.do(t, http.MethodPost, path+"/dispute", &h.buyer, map[string]string{"reason": "damaged on arrival"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	disputed := decodeBody[orderView](t, resp)
	require.Equal(t, "disputed", disputed.State)

	// Only the assigned arbiter may resolve.
	resp = h.do(t, http.MethodPost, path+"/resolve", &h.buyer, map[string]string{"winner": "buyer"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = h.do(t, http.MethodPost, path+"/resolve", &h.arbAddr, map[string]string{"winner": "buyer"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resolved := decodeBody[orderView](t, resp)
	require.Equal(t, "refunded", resolved.State)
}

func TestGetOrderNotFound(t *testing.T) {
	h := newHarness(t)
	missing := fmt.Sprintf("%064x", 0xBEEF)
	resp := h.do(t, http.MethodGet, "/v1/orders/"+missing, &h.buyer, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetOrderBadID(t *testing.T) {
	h := newHarness(t)
	resp := h.do(t, http.MethodGet, "/v1/orders/zzzz", &h.buyer, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReputationEndpoint(t *testing.T) {
	h := newHarness(t)
	h.createOrder(t, 1, "1000")

	buyerHex := fmt.Sprintf("%x", h.buyer)
	resp := h.do(t, http.MethodGet, "/v1/reputation/"+buyerHex, &h.buyer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rec := decodeBody[reputationView](t, resp)
	require.Equal(t, uint64(500), rec.Score)

	resp = h.do(t, http.MethodGet, "/v1/reputation/"+fmt.Sprintf("%x", addr(0x99)), &h.buyer, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFaucetEndpoint(t *testing.T) {
	h := newHarness(t)
	stranger := addr(0x55)
	resp := h.do(t, http.MethodPost, "/v1/faucet", &stranger, map[string]string{"amount": "5000"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	id, err := h.conf.AccountOf(stranger)
	require.NoError(t, err)
	require.Zero(t, h.conf.Balance(id).Cmp(big.NewInt(5000)))
}

func TestMetricsEndpointExposed(t *testing.T) {
	h := newHarness(t)
	h.createOrder(t, 1, "1000")
	resp, err := http.Get(h.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestApplyReputationAuthorityOnly(t *testing.T) {
	h := newHarness(t)
	userHex := "0x" + fmt.Sprintf("%x", h.seller)
	resp := h.do(t, http.MethodPost, "/v1/reputation/apply", &h.buyer, map[string]interface{}{"user": userHex, "score": 640})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRateLimiting(t *testing.T) {
	h := newHarness(t)
	srv := NewServer(h.engine, nil, h.auth, NewRateLimiter(1), nil)
	limited := httptest.NewServer(srv.Router())
	defer limited.Close()

	token := h.token(t, h.buyer)
	status := func() int {
		req, err := http.NewRequest(http.MethodGet, limited.URL+"/v1/orders/"+fmt.Sprintf("%064x", 1), nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := limited.Client().Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}
	require.NotEqual(t, http.StatusTooManyRequests, status())
	require.Equal(t, http.StatusTooManyRequests, status())
}

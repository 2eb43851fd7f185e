package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/noncer/internal/chain/eth"
	"github.com/mrz1836/noncer/internal/chain/eth/ethtest"
	"github.com/mrz1836/noncer/internal/counter"
	"github.com/mrz1836/noncer/internal/metrics"
	"github.com/mrz1836/noncer/internal/nonce"
	"github.com/mrz1836/noncer/internal/output"
)

// Hardhat's first development account.
const testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var (
	testAddress = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	recipient   = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
)

type testServer struct {
	url   string
	node  *ethtest.Node
	store *counter.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	node := ethtest.NewNode()
	source := eth.NewSourceFromClient(node.Dial(t), nil)
	t.Cleanup(source.Close)

	key, err := crypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)
	signer, err := eth.NewLocalSigner(key, source)
	require.NoError(t, err)

	m := &metrics.Metrics{}
	store := counter.NewMemoryStore()
	alloc, err := nonce.New(signer, store, nonce.WithMetrics(m))
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))

	ts := httptest.NewServer(NewHandler(alloc,
		WithMetrics(reg),
		WithHealthCheck(store.Ping),
	))
	t.Cleanup(ts.Close)

	return &testServer{url: ts.URL, node: node, store: store}
}

func (s *testServer) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, s.url+path, r)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func transfer() TxRequest {
	return TxRequest{To: recipient, Value: "1000", Gas: 21000, GasPrice: "1000000000"}
}

func (s *testServer) send(t *testing.T, req TxRequest) TxResponse {
	t.Helper()
	status, body := s.do(t, http.MethodPost, "/v1/transactions", req)
	require.Equal(t, http.StatusOK, status, string(body))
	return decode[TxResponse](t, body)
}

func (s *testServer) next(t *testing.T) uint64 {
	t.Helper()
	status, body := s.do(t, http.MethodGet, "/v1/nonce", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	return decode[NonceResponse](t, body).Nonce
}

func TestAddress(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	status, body := s.do(t, http.MethodGet, "/v1/address", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, testAddress.Hex(), decode[AddressResponse](t, body).Address)
}

func TestNonceLifecycle(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	s.node.SetCounts(testAddress, 3, 5)

	status, body := s.do(t, http.MethodGet, "/v1/nonce", nil)
	require.Equal(t, http.StatusOK, status)
	got := decode[NonceResponse](t, body)
	assert.Equal(t, uint64(5), got.Nonce)
	assert.Equal(t, "pending", got.Tag)
	assert.Equal(t, "ready", got.State)

	status, body = s.do(t, http.MethodGet, "/v1/nonce?tag=confirmed", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, uint64(3), decode[NonceResponse](t, body).Nonce)

	assert.Equal(t, uint64(5), s.send(t, transfer()).Nonce)
	assert.Equal(t, uint64(6), s.send(t, transfer()).Nonce)
	assert.Equal(t, uint64(7), s.next(t))

	status, body = s.do(t, http.MethodPut, "/v1/nonce", map[string]uint64{"nonce": 20})
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, uint64(20), s.next(t))
	assert.Equal(t, uint64(20), s.send(t, transfer()).Nonce)

	explicit := transfer()
	n := uint64(30)
	explicit.Nonce = &n
	assert.Equal(t, uint64(30), s.send(t, explicit).Nonce)
	assert.Equal(t, uint64(31), s.send(t, transfer()).Nonce)

	status, body = s.do(t, http.MethodPost, "/v1/nonce/increment", map[string]int64{"count": 2})
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, int64(4), decode[IncrementResponse](t, body).Delta)
	assert.Equal(t, uint64(34), s.next(t))

	sent := s.node.Sent()
	require.Len(t, sent, 5)
	nonces := make([]uint64, 0, len(sent))
	for _, tx := range sent {
		nonces = append(nonces, tx.Nonce())
	}
	assert.Equal(t, []uint64{5, 6, 20, 30, 31}, nonces)
}

func TestIncrement_DefaultCount(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	status, body := s.do(t, http.MethodPost, "/v1/nonce/increment", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, int64(1), decode[IncrementResponse](t, body).Delta)

	status, body = s.do(t, http.MethodPost, "/v1/nonce/increment", map[string]int64{"count": 0})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_COUNT", decode[output.ErrorOutput](t, body).Error.Code)
}

func TestResync(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	s.node.SetCounts(testAddress, 0, 2)

	assert.Equal(t, uint64(2), s.send(t, transfer()).Nonce)
	assert.Equal(t, uint64(3), s.next(t))

	// A lost submission: the chain never saw nonce 3.
	s.node.SetSendErr(errors.New("boom"))
	status, _ := s.do(t, http.MethodPost, "/v1/transactions", transfer())
	assert.Equal(t, http.StatusBadGateway, status)
	s.node.SetSendErr(nil)
	assert.Equal(t, uint64(4), s.next(t))

	s.node.SetCounts(testAddress, 0, 3)
	status, body := s.do(t, http.MethodPost, "/v1/nonce/resync", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, uint64(3), decode[NonceResponse](t, body).Nonce)
	assert.Equal(t, uint64(3), s.send(t, transfer()).Nonce)
}

func TestConcurrentSends(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	s.node.SetCounts(testAddress, 0, 10)

	const n = 25
	var wg sync.WaitGroup
	nonces := make(chan uint64, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			nonces <- s.send(t, transfer()).Nonce
		}()
	}
	wg.Wait()
	close(nonces)

	seen := make(map[uint64]bool)
	for got := range nonces {
		assert.False(t, seen[got], "nonce %d handed out twice", got)
		seen[got] = true
	}
	for want := uint64(10); want < 10+n; want++ {
		assert.True(t, seen[want], "nonce %d missing", want)
	}
}

func TestDryRun(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	s.node.SetCounts(testAddress, 0, 4)

	req := transfer()
	req.DryRun = true
	got := s.send(t, req)
	assert.False(t, got.Sent)
	assert.Equal(t, uint64(4), got.Nonce)
	assert.NotEmpty(t, got.Raw)
	assert.Empty(t, s.node.Sent())
	assert.Zero(t, s.store.Calls(), "dry runs do not touch the counter store")
}

func TestDynamicFeeTransaction(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	got := s.send(t, TxRequest{
		To:                   recipient,
		Gas:                  50000,
		MaxFeePerGas:         "40000000000",
		MaxPriorityFeePerGas: "2000000000",
		Data:                 "0xa9059cbb",
	})
	assert.Equal(t, uint64(0), got.Nonce)

	sent := s.node.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, uint8(2), sent[0].Type())
	assert.Equal(t, []byte{0xa9, 0x05, 0x9c, 0xbb}, sent[0].Data())
}

func TestSign(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	status, body := s.do(t, http.MethodPost, "/v1/sign", SignRequest{Message: "hello"})
	require.Equal(t, http.StatusOK, status)

	got := decode[SignResponse](t, body)
	sig, err := hexutil.Decode(got.Signature)
	require.NoError(t, err)
	signer, err := eth.RecoverMessageSigner([]byte("hello"), sig)
	require.NoError(t, err)
	assert.Equal(t, testAddress, signer)
}

func TestErrors(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"bad tag", http.MethodGet, "/v1/nonce?tag=earliest", nil, http.StatusBadRequest, "INVALID_TAG"},
		{"missing nonce", http.MethodPut, "/v1/nonce", map[string]string{}, http.StatusBadRequest, "INVALID_NONCE"},
		{"unknown field", http.MethodPut, "/v1/nonce", map[string]int{"value": 1}, http.StatusBadRequest, "INVALID_INPUT"},
		{"bad address", http.MethodPost, "/v1/transactions", TxRequest{To: "0x1234", Gas: 21000, GasPrice: "1"}, http.StatusBadRequest, "INVALID_ADDRESS"},
		{"no gas price", http.MethodPost, "/v1/transactions", TxRequest{To: recipient, Gas: 21000}, http.StatusBadRequest, "INVALID_GAS_PRICE"},
		{"bad value", http.MethodPost, "/v1/transactions", TxRequest{To: recipient, Value: "-1", Gas: 21000, GasPrice: "1"}, http.StatusBadRequest, "INVALID_INPUT"},
		{"bad data", http.MethodPost, "/v1/transactions", TxRequest{To: recipient, Gas: 21000, GasPrice: "1", Data: "zz"}, http.StatusBadRequest, "INVALID_INPUT"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, body := s.do(t, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.status, status, string(body))
			assert.Equal(t, tc.code, decode[output.ErrorOutput](t, body).Error.Code)
		})
	}
}

func TestStoreUnavailable(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	s.store.SetUnavailable(true)

	status, body := s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "STORE_UNAVAILABLE", decode[output.ErrorOutput](t, body).Error.Code)

	status, body = s.do(t, http.MethodPost, "/v1/transactions", transfer())
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "STORE_UNAVAILABLE", decode[output.ErrorOutput](t, body).Error.Code)
	assert.Empty(t, s.node.Sent())

	s.store.SetUnavailable(false)
	status, _ = s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestChainUnavailable(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	s.node.SetCountErr(errors.New("node down"))

	status, body := s.do(t, http.MethodGet, "/v1/nonce", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "CHAIN_SOURCE_UNAVAILABLE", decode[output.ErrorOutput](t, body).Error.Code)

	s.node.SetCountErr(nil)
	assert.Equal(t, uint64(0), s.next(t), "a failed baseline fetch is retried")
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	s.send(t, transfer())

	status, body := s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "noncer_allocations_total 1")
	assert.Contains(t, string(body), "noncer_baseline_fetches_total 1")
}

func TestServe_Shutdown(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, ln, handler) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/") //nolint:noctx // test request
	require.NoError(t, err)
	data, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "ok", strings.TrimSpace(string(data)))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

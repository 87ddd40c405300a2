package rpc

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"escrowd/core"
	"escrowd/native/common"
	"escrowd/native/escrow"
	"escrowd/rpc/middleware"
	"escrowd/storage"
)

const (
	depositorHex   = "0x0000000000000000000000000000000000000001"
	beneficiaryHex = "0x0000000000000000000000000000000000000002"
	outsiderHex    = "0x0000000000000000000000000000000000000003"
	arbitratorHex  = "0x0000000000000000000000000000000000000004"
	ownerHex       = "0x000000000000000000000000000000000000000a"
	testSecret     = "rpc-test-secret"
)

type testEnv struct {
	t       *testing.T
	now     int64
	node    *core.Node
	server  *Server
	handler http.Handler
}

func newTestEnv(t *testing.T, mutate func(*Config, *core.Config)) *testEnv {
	t.Helper()
	env := &testEnv{t: t, now: 1_700_000_000}
	owner, _ := escrow.ParseAddress(ownerHex)
	nodeCfg := core.Config{Owner: owner, Clock: func() int64 { return env.now }}
	cfg := Config{}
	if mutate != nil {
		mutate(&cfg, &nodeCfg)
	}
	node, err := core.NewNode(storage.NewMemDB(), nodeCfg)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	depositor, _ := escrow.ParseAddress(depositorHex)
	if err := node.ApplyGenesis(map[[20]byte]*big.Int{depositor: big.NewInt(1_000_000)}); err != nil {
		t.Fatalf("genesis: %v", err)
	}
	env.node = node
	env.server = NewServer(node, cfg, nil)
	env.handler = env.server.Handler()
	t.Cleanup(func() { _ = node.Close() })
	return env
}

func marshalParam(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal param: %v", err)
	}
	return raw
}

func decodeRPCResponse(t *testing.T, rec *httptest.ResponseRecorder) (json.RawMessage, *RPCError) {
	t.Helper()
	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return resp.Result, resp.Error
}

func (env *testEnv) post(body []byte, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) callWithToken(method, token string, params map[string]interface{}) (json.RawMessage, *RPCError) {
	env.t.Helper()
	req := RPCRequest{JSONRPC: jsonRPCVersion, Method: method, ID: 1}
	if params != nil {
		req.Params = []json.RawMessage{marshalParam(env.t, params)}
	}
	body, err := json.Marshal(req)
	if err != nil {
		env.t.Fatalf("marshal request: %v", err)
	}
	return decodeRPCResponse(env.t, env.post(body, token))
}

func (env *testEnv) call(method string, params map[string]interface{}) (json.RawMessage, *RPCError) {
	env.t.Helper()
	return env.callWithToken(method, "", params)
}

func (env *testEnv) mustCall(method string, params map[string]interface{}, out interface{}) {
	env.t.Helper()
	result, rpcErr := env.call(method, params)
	if rpcErr != nil {
		env.t.Fatalf("%s: unexpected error %+v", method, rpcErr)
	}
	if out != nil {
		if err := json.Unmarshal(result, out); err != nil {
			env.t.Fatalf("%s: decode result: %v", method, err)
		}
	}
}

func errorKind(t *testing.T, rpcErr *RPCError) string {
	t.Helper()
	data, ok := rpcErr.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("expected structured error data, got %#v", rpcErr.Data)
	}
	kind, _ := data["kind"].(string)
	return kind
}

func TestHandleRejectsMalformedEnvelopes(t *testing.T) {
	env := newTestEnv(t, nil)
	cases := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   int
	}{
		{"empty body", "", http.StatusBadRequest, codeInvalidRequest},
		{"bad json", "{", http.StatusBadRequest, codeParseError},
		{"wrong version", `{"jsonrpc":"1.0","method":"escrow_params","id":1}`, http.StatusBadRequest, codeInvalidRequest},
		{"missing method", `{"jsonrpc":"2.0","id":1}`, http.StatusBadRequest, codeInvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","method":"escrow_mint","id":1}`, http.StatusNotFound, codeMethodNotFound},
		{"two params", `{"jsonrpc":"2.0","method":"escrow_getAgreement","params":[{},{}],"id":1}`, http.StatusBadRequest, codeEscrowInvalidParams},
		{"unknown field", `{"jsonrpc":"2.0","method":"escrow_getAgreement","params":[{"idd":1}],"id":1}`, http.StatusBadRequest, codeEscrowInvalidParams},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.post([]byte(tc.body), "")
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			_, rpcErr := decodeRPCResponse(t, rec)
			if rpcErr == nil || rpcErr.Code != tc.wantCode {
				t.Fatalf("expected code %d, got %+v", tc.wantCode, rpcErr)
			}
		})
	}
}

func TestHandleRejectsOversizedBody(t *testing.T) {
	env := newTestEnv(t, nil)
	body := []byte(`{"jsonrpc":"2.0","method":"escrow_params","params":[{"detailsHash":"` + strings.Repeat("a", maxRequestBytes) + `"}],"id":1}`)
	rec := env.post(body, "")
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Fatalf("healthz = %d %s", rec.Code, rec.Body.String())
	}
	env.mustCall("escrow_params", nil, nil)
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "escrowd_rpc") {
		t.Fatalf("metrics missing rpc collectors")
	}
}

func TestRequestIDEchoed(t *testing.T) {
	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(`{"jsonrpc":"2.0","method":"escrow_params","id":1}`))
	req.Header.Set(middleware.RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get(middleware.RequestIDHeader); got != "req-123" {
		t.Fatalf("request id = %q", got)
	}
	rec = env.post([]byte(`{"jsonrpc":"2.0","method":"escrow_params","id":1}`), "")
	if rec.Header().Get(middleware.RequestIDHeader) == "" {
		t.Fatalf("expected generated request id")
	}
}

func TestCallerRequiredInDevMode(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.post([]byte(`{"jsonrpc":"2.0","method":"escrow_createAgreement","params":[{"beneficiary":"`+beneficiaryHex+`"}],"id":1}`), "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	_, rpcErr := decodeRPCResponse(t, rec)
	if rpcErr == nil || rpcErr.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized, got %+v", rpcErr)
	}
}

func signToken(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"iss": "escrowd-test",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestAuthenticatedCallerComesFromToken(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config, _ *core.Config) {
		cfg.Auth = middleware.AuthConfig{Enabled: true, HMACSecret: testSecret, Issuer: "escrowd-test"}
	})
	rec := env.post([]byte(`{"jsonrpc":"2.0","method":"escrow_params","id":1}`), "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d", rec.Code)
	}

	token := signToken(t, depositorHex)
	var created agreementJSON
	result, rpcErr := env.callWithToken("escrow_createAgreement", token, map[string]interface{}{
		"beneficiary": beneficiaryHex,
		"value":       "100",
	})
	if rpcErr != nil {
		t.Fatalf("create: %+v", rpcErr)
	}
	if err := json.Unmarshal(result, &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Depositor != depositorHex {
		t.Fatalf("depositor = %s", created.Depositor)
	}

	_, rpcErr = env.callWithToken("escrow_cancelAgreement", token, map[string]interface{}{
		"id":     created.ID,
		"caller": beneficiaryHex,
	})
	if rpcErr == nil || rpcErr.Code != codeUnauthorized {
		t.Fatalf("spoofed caller must be rejected, got %+v", rpcErr)
	}

	_, rpcErr = env.callWithToken("escrow_cancelAgreement", signToken(t, beneficiaryHex), map[string]interface{}{"id": created.ID})
	if rpcErr == nil || rpcErr.Code != codeEscrowForbidden {
		t.Fatalf("beneficiary cancel must be forbidden, got %+v", rpcErr)
	}
}

func TestQuotaMapsToRateLimited(t *testing.T) {
	env := newTestEnv(t, func(_ *Config, node *core.Config) {
		node.Quota = common.Quota{MaxRequestsPerMin: 1}
	})
	params := map[string]interface{}{"caller": depositorHex, "beneficiary": beneficiaryHex, "value": "1"}
	env.mustCall("escrow_createAgreement", params, nil)
	_, rpcErr := env.call("escrow_createAgreement", params)
	if rpcErr == nil || rpcErr.Code != codeRateLimited {
		t.Fatalf("expected quota error, got %+v", rpcErr)
	}
}

func TestPausedModuleRejectsMutations(t *testing.T) {
	env := newTestEnv(t, func(_ *Config, node *core.Config) {
		node.Pauses = common.StaticPauses{escrow.ModuleName: true}
	})
	_, rpcErr := env.call("escrow_createAgreement", map[string]interface{}{
		"caller": depositorHex, "beneficiary": beneficiaryHex, "value": "1",
	})
	if rpcErr == nil || rpcErr.Code != codeEscrowPaused {
		t.Fatalf("expected paused error, got %+v", rpcErr)
	}
	env.mustCall("escrow_poolMembers", nil, nil)
}

func TestMetricsLabelDispatchedMethod(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config, _ *core.Config) {
		cfg.Observability = middleware.ObservabilityConfig{Enabled: true, MetricsPrefix: "escrowd_dispatch"}
	})
	env.mustCall("escrow_poolMembers", nil, nil)
	env.post([]byte(`{"jsonrpc":"2.0","method":"escrow_mint","id":1}`), "")

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`escrowd_dispatch_requests_total{code="200",route="/rpc",rpc_method="escrow_poolMembers"} 1`,
		`escrowd_dispatch_requests_total{code="404",route="/rpc",rpc_method="unknown"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %s", want)
		}
	}
}

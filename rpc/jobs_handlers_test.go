package rpc

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"basilisk/core"
	"basilisk/crypto"
	"basilisk/storage"
)

const testRPCToken = "rpc-test-token"

type testEnv struct {
	server *Server
	node   *core.Node
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("BASILISK_RPC_TOKEN", testRPCToken)
	node := core.NewNode(storage.NewMemDB())
	return &testEnv{server: NewServer(node), node: node}
}

func testBech32(t *testing.T, fill byte) string {
	t.Helper()
	raw := bytes.Repeat([]byte{fill}, 20)
	return crypto.MustNewAddress(crypto.BSKPrefix, raw).String()
}

func testRawAddr(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func decodeRPCResponse(t *testing.T, recorder *httptest.ResponseRecorder) (json.RawMessage, *RPCError) {
	t.Helper()
	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (%s)", err, recorder.Body.String())
	}
	return resp.Result, resp.Error
}

func (env *testEnv) post(t *testing.T, method string, params interface{}, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	body := map[string]interface{}{
		"jsonrpc": jsonRPCVersion,
		"id":      1,
		"method":  method,
	}
	if params != nil {
		body["params"] = []interface{}{params}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("Authorization", "Bearer "+testRPCToken)
	}
	recorder := httptest.NewRecorder()
	env.server.Router().ServeHTTP(recorder, req)
	return recorder
}

func TestMutatingMethodsRequireAuth(t *testing.T) {
	env := newTestEnv(t)
	recorder := env.post(t, "jobs_create", map[string]interface{}{
		"requester": testBech32(t, 0x10),
		"token":     "BSK",
		"amount":    100,
	}, false)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
	_, rpcErr := decodeRPCResponse(t, recorder)
	if rpcErr == nil || rpcErr.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized error, got %+v", rpcErr)
	}
}

func TestMethodNotFound(t *testing.T) {
	env := newTestEnv(t)
	recorder := env.post(t, "jobs_unknown", nil, true)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
	_, rpcErr := decodeRPCResponse(t, recorder)
	if rpcErr == nil || rpcErr.Code != codeMethodNotFound {
		t.Fatalf("expected method not found, got %+v", rpcErr)
	}
}

func TestStringRequestIDEchoedBack(t *testing.T) {
	env := newTestEnv(t)
	payload := []byte(`{"jsonrpc":"2.0","id":"req-42","method":"jobs_config"}`)
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	env.server.Router().ServeHTTP(recorder, req)

	var resp struct {
		ID    json.RawMessage `json:"id"`
		Error *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (%s)", err, recorder.Body.String())
	}
	// Not a parse error; jobs_config on an empty node reports not_found.
	if resp.Error != nil && resp.Error.Code == codeParseError {
		t.Fatalf("string id rejected as parse error: %+v", resp.Error)
	}
	if string(resp.ID) != `"req-42"` {
		t.Fatalf("expected id echoed verbatim, got %s", resp.ID)
	}
}

func TestJobsCreateInvalidBech32(t *testing.T) {
	env := newTestEnv(t)
	recorder := env.post(t, "jobs_create", map[string]interface{}{
		"requester":    "invalid",
		"token":        "BSK",
		"amount":       100,
		"description":  "work",
		"deadlineDays": 7,
	}, true)
	_, rpcErr := decodeRPCResponse(t, recorder)
	if rpcErr == nil {
		t.Fatalf("expected error")
	}
	if rpcErr.Code != codeJobsInvalidParams || rpcErr.Message != "invalid_params" {
		t.Fatalf("unexpected error %+v", rpcErr)
	}
}

func TestJobsCreateBadToken(t *testing.T) {
	env := newTestEnv(t)
	recorder := env.post(t, "jobs_create", map[string]interface{}{
		"requester":    testBech32(t, 0x10),
		"token":        "DOGE",
		"amount":       100,
		"description":  "work",
		"deadlineDays": 7,
	}, true)
	_, rpcErr := decodeRPCResponse(t, recorder)
	if rpcErr == nil || rpcErr.Code != codeJobsInvalidParams {
		t.Fatalf("expected invalid_params, got %+v", rpcErr)
	}
}

func TestJobsGetNotFound(t *testing.T) {
	env := newTestEnv(t)
	recorder := env.post(t, "jobs_get", map[string]interface{}{"jobId": "missing"}, false)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
	_, rpcErr := decodeRPCResponse(t, recorder)
	if rpcErr == nil || rpcErr.Code != codeJobsNotFound || rpcErr.Message != "not_found" {
		t.Fatalf("unexpected error %+v", rpcErr)
	}
}

func TestJobsLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	requester := testRawAddr(0x10)
	if err := env.node.SetBalance(requester, "BSK", big.NewInt(1_000)); err != nil {
		t.Fatalf("fund requester: %v", err)
	}

	recorder := env.post(t, "jobs_initialize", map[string]interface{}{
		"admin":      testBech32(t, 0x01),
		"arbitrator": testBech32(t, 0x02),
	}, true)
	if _, rpcErr := decodeRPCResponse(t, recorder); rpcErr != nil {
		t.Fatalf("initialize: %+v", rpcErr)
	}

	recorder = env.post(t, "jobs_create", map[string]interface{}{
		"requester":    testBech32(t, 0x10),
		"jobId":        "J1",
		"token":        "BSK",
		"amount":       1_000,
		"description":  "build the thing",
		"deadlineDays": 7,
	}, true)
	result, rpcErr := decodeRPCResponse(t, recorder)
	if rpcErr != nil {
		t.Fatalf("create: %+v", rpcErr)
	}
	var created jobJSON
	if err := json.Unmarshal(result, &created); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if created.JobID != "J1" || created.Status != "open" || created.Amount != 1_000 {
		t.Fatalf("unexpected job %+v", created)
	}
	if created.Requester != testBech32(t, 0x10) {
		t.Fatalf("requester not bech32 encoded: %q", created.Requester)
	}

	recorder = env.post(t, "jobs_accept", map[string]interface{}{
		"caller": testBech32(t, 0x20),
		"jobId":  "J1",
	}, true)
	result, rpcErr = decodeRPCResponse(t, recorder)
	if rpcErr != nil {
		t.Fatalf("accept: %+v", rpcErr)
	}
	var accepted jobJSON
	if err := json.Unmarshal(result, &accepted); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if accepted.Status != "in_progress" || accepted.Agent == nil {
		t.Fatalf("unexpected job after accept %+v", accepted)
	}

	recorder = env.post(t, "jobs_vault", map[string]interface{}{"jobId": "J1"}, false)
	result, rpcErr = decodeRPCResponse(t, recorder)
	if rpcErr != nil {
		t.Fatalf("vault: %+v", rpcErr)
	}
	var vault map[string]string
	if err := json.Unmarshal(result, &vault); err != nil {
		t.Fatalf("decode vault: %v", err)
	}
	if vault["balance"] != "1000" {
		t.Fatalf("expected vault balance 1000, got %q", vault["balance"])
	}

	recorder = env.post(t, "jobs_balance", map[string]interface{}{
		"address": testBech32(t, 0x10),
		"token":   "bsk",
	}, false)
	result, rpcErr = decodeRPCResponse(t, recorder)
	if rpcErr != nil {
		t.Fatalf("balance: %+v", rpcErr)
	}
	var balance map[string]string
	if err := json.Unmarshal(result, &balance); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	if balance["balance"] != "0" || balance["token"] != "BSK" {
		t.Fatalf("unexpected balance payload %+v", balance)
	}
}

func TestJobsCreateGeneratesIDWhenMissing(t *testing.T) {
	env := newTestEnv(t)
	requester := testRawAddr(0x10)
	if err := env.node.SetBalance(requester, "BSK", big.NewInt(500)); err != nil {
		t.Fatalf("fund requester: %v", err)
	}
	recorder := env.post(t, "jobs_create", map[string]interface{}{
		"requester":    testBech32(t, 0x10),
		"token":        "BSK",
		"amount":       500,
		"description":  "auto id",
		"deadlineDays": 3,
	}, true)
	result, rpcErr := decodeRPCResponse(t, recorder)
	if rpcErr != nil {
		t.Fatalf("create: %+v", rpcErr)
	}
	var created jobJSON
	if err := json.Unmarshal(result, &created); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if created.JobID == "" {
		t.Fatalf("expected generated job id")
	}
	if len(created.JobID) != 36 {
		t.Fatalf("expected uuid-shaped id, got %q", created.JobID)
	}
}

func TestJobsResolveForbiddenForNonArbitrator(t *testing.T) {
	env := newTestEnv(t)
	requester := testRawAddr(0x10)
	agent := testRawAddr(0x20)
	if err := env.node.SetBalance(requester, "BSK", big.NewInt(1_000)); err != nil {
		t.Fatalf("fund requester: %v", err)
	}
	if _, err := env.node.JobsInitialize(testRawAddr(0x01), testRawAddr(0x02)); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := env.node.JobsCreate(requester, "J1", "BSK", 1_000, "work", 7); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.node.JobsAccept(agent, "J1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := env.node.JobsSubmit(agent, "J1", "https://example.com/work", "v1"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := env.node.JobsReject(requester, "J1", "redo"); err != nil {
		t.Fatalf("reject: %v", err)
	}

	recorder := env.post(t, "jobs_resolve", map[string]interface{}{
		"caller":   testBech32(t, 0x10),
		"jobId":    "J1",
		"agentPct": 50,
	}, true)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", recorder.Code)
	}
	_, rpcErr := decodeRPCResponse(t, recorder)
	if rpcErr == nil || rpcErr.Code != codeJobsForbidden || rpcErr.Message != "forbidden" {
		t.Fatalf("unexpected error %+v", rpcErr)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	recorder := httptest.NewRecorder()
	env.server.Router().ServeHTTP(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
}

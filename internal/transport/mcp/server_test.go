package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"layerforge.ai/internal/protocol"
	"layerforge.ai/internal/sim/assembly"
	"layerforge.ai/internal/sim/catalogs"
	"layerforge.ai/internal/sim/engine"
	"layerforge.ai/internal/sim/memworld"
	"layerforge.ai/internal/sim/tuning"
)

type testResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func startServer(t *testing.T, cfg Config) *httptest.Server {
	t.Helper()
	protos := &catalogs.Builtin().Prototypes
	mgr := assembly.NewManager(memworld.New(protos), protos, assembly.Config{}, nil)
	eng := engine.New(mgr, engine.Config{TickInterval: time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = eng.Run(ctx) }()

	cfg.Engine = eng
	s, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return ts
}

func post(t *testing.T, url string, body []byte, headers map[string]string) (*http.Response, testResponse) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer res.Body.Close()
	var out testResponse
	if res.StatusCode == http.StatusOK {
		if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return res, out
}

func callTool(t *testing.T, url, name string, args any) testResponse {
	t.Helper()
	body, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": 1, "method": "tools/call",
		"params": map[string]any{"name": name, "arguments": args},
	})
	res, out := post(t, url, body, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", res.StatusCode)
	}
	return out
}

func TestInitializeAndListTools(t *testing.T) {
	ts := startServer(t, Config{})

	_, init := post(t, ts.URL, []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`), nil)
	if init.Error != nil || !strings.Contains(string(init.Result), mcpProtocolVersion) {
		t.Fatalf("initialize=%s err=%+v", init.Result, init.Error)
	}

	for _, method := range []string{"tools/list", "list_tools"} {
		_, lt := post(t, ts.URL, []byte(`{"jsonrpc":"2.0","id":2,"method":"`+method+`"}`), nil)
		var res struct {
			Tools []struct {
				Name        string         `json:"name"`
				InputSchema map[string]any `json:"inputSchema"`
			} `json:"tools"`
		}
		if err := json.Unmarshal(lt.Result, &res); err != nil {
			t.Fatalf("%s: %v", method, err)
		}
		if len(res.Tools) != len(tools) || res.Tools[1].Name != "layerforge.create" {
			t.Fatalf("%s: tools=%+v", method, res.Tools)
		}
	}

	_, bad := post(t, ts.URL, []byte(`{"jsonrpc":"2.0","id":3,"method":"resources/list"}`), nil)
	if bad.Error == nil || bad.Error.Code != codeMethodNotFound {
		t.Fatalf("unknown method: %+v", bad.Error)
	}
	res, _ := post(t, ts.URL, []byte(`{"jsonrpc":"1.0","method":"initialize"}`), nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad jsonrpc version: status=%d", res.StatusCode)
	}
}

func TestToolCallsReachEngine(t *testing.T) {
	ts := startServer(t, Config{})

	out := callTool(t, ts.URL, "layerforge.create", map[string]any{"name": "base", "surface": "nauvis", "area": []float64{0, 0, 8, 8}})
	if out.Error != nil {
		t.Fatalf("create: %+v", out.Error)
	}
	var created ToolResult
	_ = json.Unmarshal(out.Result, &created)
	if !created.Ack.Accepted || created.Ack.AssemblyID == "" {
		t.Fatalf("create ack=%+v", created.Ack)
	}

	out = callTool(t, ts.URL, "layerforge.diagnostics", map[string]any{"assembly_id": created.Ack.AssemblyID})
	var diags ToolResult
	_ = json.Unmarshal(out.Result, &diags)
	if diags.Diagnostics == nil || diags.Diagnostics.AssemblyID != created.Ack.AssemblyID {
		t.Fatalf("diagnostics=%s", out.Result)
	}

	out = callTool(t, ts.URL, "layerforge.refresh", map[string]any{"assembly_id": "00000000-0000-0000-0000-000000000001"})
	var rejected ToolResult
	_ = json.Unmarshal(out.Result, &rejected)
	if rejected.Ack.Accepted || rejected.Ack.Code != protocol.ErrNotFound {
		t.Fatalf("unknown id ack=%+v", rejected.Ack)
	}

	cases := []struct {
		name     string
		tool     string
		args     any
		code     int
		protoErr string
	}{
		{"unknown tool", "layerforge.nope", map[string]any{}, codeMethodNotFound, ""},
		{"missing required", "layerforge.refresh", map[string]any{}, codeToolFailed, protocol.ErrBadRequest},
		{"unknown argument", "layerforge.list", map[string]any{"colour": "red"}, codeToolFailed, protocol.ErrBadRequest},
		{"wrong type", "layerforge.create", map[string]any{"name": "x", "surface": "nauvis", "area": "big"}, codeToolFailed, protocol.ErrBadRequest},
	}
	for _, tc := range cases {
		out := callTool(t, ts.URL, tc.tool, tc.args)
		if out.Error == nil || out.Error.Code != tc.code || out.Error.Data == nil {
			t.Fatalf("%s: error=%+v", tc.name, out.Error)
		}
		if out.Error.Data.Code != tc.protoErr || out.Error.Data.Tool != tc.tool {
			t.Fatalf("%s: data=%+v", tc.name, out.Error.Data)
		}
	}
}

func TestToolCallsAreRateLimited(t *testing.T) {
	ts := startServer(t, Config{Limits: tuning.Limits{CommandsWindowMs: 3600 * 1000, CommandsMax: 1}})
	if out := callTool(t, ts.URL, "layerforge.list", nil); out.Error != nil {
		t.Fatalf("first call: %+v", out.Error)
	}
	out := callTool(t, ts.URL, "layerforge.list", nil)
	if out.Error == nil || !strings.Contains(out.Error.Message, "too many") {
		t.Fatalf("second call: %+v", out.Error)
	}
	if out.Error.Data == nil || out.Error.Data.Code != protocol.ErrRateLimit {
		t.Fatalf("second call data: %+v", out.Error.Data)
	}
}

func signedHeaders(secret, clientID, nonce string, ts time.Time, body []byte) map[string]string {
	tsStr := strconv.FormatInt(ts.UnixMilli(), 10)
	return map[string]string{
		headerClientID:  clientID,
		headerTS:        tsStr,
		headerNonce:     nonce,
		headerSignature: signHMAC([]byte(secret), canonicalString(tsStr, http.MethodPost, "/", clientID, nonce, body)),
	}
}

func TestSignedRequests(t *testing.T) {
	ts := startServer(t, Config{HMACSecret: "topsecret"})
	body := []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)

	if res, _ := post(t, ts.URL, body, nil); res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unsigned: status=%d", res.StatusCode)
	}
	h := signedHeaders("topsecret", "agent-1", "n1", time.Now(), body)
	if res, out := post(t, ts.URL, body, h); res.StatusCode != http.StatusOK || out.Error != nil {
		t.Fatalf("signed: status=%d err=%+v", res.StatusCode, out.Error)
	}
	if res, _ := post(t, ts.URL, body, h); res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("replay: status=%d", res.StatusCode)
	}
	wrong := signedHeaders("other", "agent-1", "n2", time.Now(), body)
	if res, _ := post(t, ts.URL, body, wrong); res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong secret: status=%d", res.StatusCode)
	}
}

func TestVerifyHMAC(t *testing.T) {
	secret := []byte("topsecret")
	now := time.UnixMilli(1700000000000)
	body := []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)

	cases := []struct {
		name   string
		at     time.Time
		mutate func(h map[string]string)
		ok     bool
	}{
		{"valid", now, func(map[string]string) {}, true},
		{"upper case signature", now, func(h map[string]string) { h[headerSignature] = strings.ToUpper(h[headerSignature]) }, true},
		{"missing nonce", now, func(h map[string]string) { delete(h, headerNonce) }, false},
		{"missing client", now, func(h map[string]string) { delete(h, headerClientID) }, false},
		{"bad timestamp", now, func(h map[string]string) { h[headerTS] = "soon" }, false},
		{"stale", now.Add(-maxClockSkew - time.Second), func(map[string]string) {}, false},
		{"other client", now, func(h map[string]string) { h[headerClientID] = "agent-2" }, false},
	}
	for _, tc := range cases {
		h := signedHeaders("topsecret", "agent-1", "n1", tc.at, body)
		tc.mutate(h)
		req, _ := http.NewRequest(http.MethodPost, "http://example.invalid/", bytes.NewReader(body))
		for k, v := range h {
			req.Header.Set(k, v)
		}
		res := verifyHMAC(req, body, secret, now)
		if (res.Status == 0) != tc.ok {
			t.Fatalf("%s: status=%d msg=%s", tc.name, res.Status, res.Message)
		}
		if tc.ok && res.ClientID != "agent-1" {
			t.Fatalf("%s: client=%q", tc.name, res.ClientID)
		}
	}
}

func TestReplayGuardExpires(t *testing.T) {
	g := newReplayGuard(2 * time.Second)
	now := time.Unix(1700000000, 0)
	if !g.allow("a", "sig", now) {
		t.Fatalf("first use rejected")
	}
	if g.allow("a", "sig", now.Add(time.Second)) {
		t.Fatalf("replay inside ttl accepted")
	}
	if !g.allow("b", "sig", now.Add(time.Second)) {
		t.Fatalf("other client rejected")
	}
	if !g.allow("a", "sig", now.Add(3*time.Second)) {
		t.Fatalf("reuse after ttl rejected")
	}
}

func TestNewServerNeedsEngine(t *testing.T) {
	if _, err := NewServer(Config{}); err == nil {
		t.Fatalf("nil engine accepted")
	}
}

var _ Submitter = (*engine.Engine)(nil)

func TestToolFailureCodes(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w: missing assembly_id", errBadArguments), protocol.ErrBadRequest},
		{engine.ErrBusy, protocol.ErrBusy},
		{context.DeadlineExceeded, protocol.ErrInternal},
	}
	for _, tc := range cases {
		resp := toolFailure(json.RawMessage(`7`), "layerforge.save", tc.err)
		if resp.Error == nil || resp.Error.Code != codeToolFailed || resp.Error.Data.Code != tc.want {
			t.Fatalf("%v: %+v", tc.err, resp.Error)
		}
	}
}

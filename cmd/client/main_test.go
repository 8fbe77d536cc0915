package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"layerforge.ai/internal/protocol"
	"layerforge.ai/internal/sim/assembly"
	"layerforge.ai/internal/sim/catalogs"
	"layerforge.ai/internal/sim/engine"
	"layerforge.ai/internal/sim/memworld"
	"layerforge.ai/internal/sim/tuning"
	"layerforge.ai/internal/transport/ws"
)

func TestReadCommands(t *testing.T) {
	in := `# setup
{"op":"create","name":"base","surface":"nauvis","area":[0,0,8,8]}

{"op":"list","req_id":"mine"}
`
	cmds, err := readCommands(strings.NewReader(in))
	if err != nil {
		t.Fatalf("readCommands: %v", err)
	}
	if len(cmds) != 2 || cmds[0].Op != protocol.OpCreate || cmds[0].Area == nil || cmds[1].ReqID != "mine" {
		t.Fatalf("cmds=%+v", cmds)
	}

	for _, bad := range []string{`{"name":"x"}`, `{"op":`} {
		if _, err := readCommands(strings.NewReader(bad)); err == nil {
			t.Fatalf("accepted %q", bad)
		}
	}
}

func TestRunAgainstServer(t *testing.T) {
	protos := &catalogs.Builtin().Prototypes
	mgr := assembly.NewManager(memworld.New(protos), protos, assembly.Config{}, nil)
	eng := engine.New(mgr, engine.Config{TickInterval: time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = eng.Run(ctx) }()

	srv := ws.NewServer(eng, protocol.CatalogDigest{}, tuning.Limits{ClientOutbox: 16}, log.New(io.Discard, "", 0))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	cmds, _ := readCommands(strings.NewReader(`{"op":"create","req_id":"c1","name":"base","surface":"nauvis","area":[0,0,8,8]}
{"op":"list","req_id":"l1"}`))
	var out bytes.Buffer
	s := &session{conn: conn, out: &out, wait: 100 * time.Millisecond}
	hello := protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, ClientName: "test"}
	if err := s.run(ctx, hello, cmds, false); err != nil {
		t.Fatalf("run: %v", err)
	}

	var acks []protocol.AckMsg
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		base, err := protocol.DecodeBase([]byte(line))
		if err != nil {
			t.Fatalf("bad line %q", line)
		}
		if base.Type != protocol.TypeAck {
			continue
		}
		var a protocol.AckMsg
		_ = json.Unmarshal([]byte(line), &a)
		acks = append(acks, a)
	}
	if len(acks) != 2 || !acks[0].Accepted || acks[0].AckFor != "c1" || acks[1].AckFor != "l1" || len(acks[1].Assemblies) != 1 {
		t.Fatalf("acks=%+v", acks)
	}
	if !strings.HasPrefix(out.String(), `{"type":"WELCOME"`) {
		t.Fatalf("first line not WELCOME: %s", out.String())
	}
}

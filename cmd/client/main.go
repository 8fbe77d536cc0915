package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"layerforge.ai/internal/protocol"
)

// Sends commands read as JSON lines to a running server and prints every
// message it gets back, one per line.
//
//	echo '{"op":"list"}' | client -url ws://localhost:8080/v1/ws
func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name     = flag.String("name", "client", "client name sent in HELLO")
		assembly = flag.String("assembly", "", "assembly id to subscribe to on connect")
		in       = flag.String("in", "-", "file with one command per line, - for stdin")
		wait     = flag.Duration("wait", 500*time.Millisecond, "how long to wait for trailing messages after the last ack")
		follow   = flag.Bool("follow", false, "keep printing messages until interrupted")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[client] ", log.LstdFlags|log.Lmicroseconds)

	var r io.Reader = os.Stdin
	if *in != "-" {
		f, err := os.Open(*in)
		if err != nil {
			logger.Fatalf("open: %v", err)
		}
		defer f.Close()
		r = f
	}
	cmds, err := readCommands(r)
	if err != nil {
		logger.Fatalf("commands: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, *url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	s := &session{conn: conn, out: os.Stdout, wait: *wait}
	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      *name,
		AssemblyID:      *assembly,
	}
	if err := s.run(ctx, hello, cmds, *follow); err != nil {
		logger.Fatalf("%v", err)
	}
}

// readCommands parses one COMMAND per non-blank line. Lines starting with
// # are skipped. Type, protocol version and req_id are filled in by send.
func readCommands(r io.Reader) ([]protocol.CommandMsg, error) {
	var out []protocol.CommandMsg
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var cmd protocol.CommandMsg
		if err := json.Unmarshal([]byte(text), &cmd); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if cmd.Op == "" {
			return nil, fmt.Errorf("line %d: missing op", line)
		}
		out = append(out, cmd)
	}
	return out, sc.Err()
}

type session struct {
	conn *websocket.Conn
	out  io.Writer
	wait time.Duration
}

func (s *session) run(ctx context.Context, hello protocol.HelloMsg, cmds []protocol.CommandMsg, follow bool) error {
	go func() {
		<-ctx.Done()
		_ = s.conn.Close()
	}()

	if err := s.conn.WriteJSON(hello); err != nil {
		return fmt.Errorf("send HELLO: %w", err)
	}
	base, err := s.read()
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	if base.Type != protocol.TypeWelcome {
		return fmt.Errorf("handshake: got %s", base.Type)
	}

	for i := range cmds {
		cmd := cmds[i]
		cmd.Type = protocol.TypeCommand
		cmd.ProtocolVersion = protocol.Version
		if cmd.ReqID == "" {
			cmd.ReqID = uuid.NewString()
		}
		if err := s.conn.WriteJSON(cmd); err != nil {
			return fmt.Errorf("send %s: %w", cmd.Op, err)
		}
		if err := s.awaitAck(cmd.ReqID); err != nil {
			return fmt.Errorf("%s: %w", cmd.Op, err)
		}
	}

	if follow {
		for {
			if _, err := s.read(); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
	return s.drain()
}

// read prints the next message and returns its routing header.
func (s *session) read() (protocol.BaseMessage, error) {
	_, msg, err := s.conn.ReadMessage()
	if err != nil {
		return protocol.BaseMessage{}, err
	}
	fmt.Fprintln(s.out, string(msg))
	return protocol.DecodeBase(msg)
}

func (s *session) awaitAck(reqID string) error {
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}
		fmt.Fprintln(s.out, string(msg))
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeAck:
			var ack protocol.AckMsg
			if err := json.Unmarshal(msg, &ack); err == nil && ack.AckFor == reqID {
				return nil
			}
		case protocol.TypeError:
			var e protocol.ErrorMsg
			_ = json.Unmarshal(msg, &e)
			return fmt.Errorf("server error %s: %s", e.Code, e.Message)
		}
	}
}

// drain prints whatever arrives until the connection has been quiet for
// the wait period.
func (s *session) drain() error {
	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.wait))
		if _, err := s.read(); err != nil {
			var ne interface{ Timeout() bool }
			if errors.As(err, &ne) && ne.Timeout() {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
	}
}

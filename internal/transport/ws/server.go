package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"layerforge.ai/internal/protocol"
	"layerforge.ai/internal/sim/assembly"
	"layerforge.ai/internal/sim/engine"
	"layerforge.ai/internal/sim/tuning"
)

type Server struct {
	engine   *engine.Engine
	bus      *assembly.EventBus
	catalogs protocol.CatalogDigest
	limits   tuning.Limits
	log      *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(e *engine.Engine, cats protocol.CatalogDigest, limits tuning.Limits, logger *log.Logger) *Server {
	if limits.ClientOutbox <= 0 {
		limits.ClientOutbox = 64
	}
	return &Server{
		engine:   e,
		bus:      e.Bus(),
		catalogs: cats,
		limits:   limits,
		log:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// session is one connected client. subs is shared between the reader and
// the event pump.
type session struct {
	id  string
	out chan []byte

	mu   sync.Mutex
	subs map[uuid.UUID]struct{}

	dropped int
}

func (s *session) subscribe(id uuid.UUID) {
	s.mu.Lock()
	s.subs[id] = struct{}{}
	s.mu.Unlock()
}

func (s *session) unsubscribe(id uuid.UUID) {
	s.mu.Lock()
	delete(s.subs, id)
	s.mu.Unlock()
}

func (s *session) subscribed(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subs[id]
	return ok
}

// send queues v without blocking; a slow client loses messages.
func (s *session) send(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case s.out <- b:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		sess := s.handshake(ctx, conn)
		if sess == nil {
			return
		}
		s.log.Printf("session %s connected", sess.id)

		events, unsubscribe := s.bus.Subscribe(s.limits.ClientOutbox)
		defer unsubscribe()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Event pump.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-events:
					if !ok {
						return
					}
					s.forward(sess, ev)
				}
			}
		}()

		limiter := s.newLimiter()
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			s.handleMessage(ctx, sess, limiter, msg)
		}
		sess.mu.Lock()
		dropped := sess.dropped
		sess.mu.Unlock()
		s.log.Printf("session %s closed (dropped=%d)", sess.id, dropped)
	}
}

func (s *Server) newLimiter() *rate.Limiter {
	if s.limits.CommandsMax <= 0 || s.limits.CommandsWindowMs <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	window := time.Duration(s.limits.CommandsWindowMs) * time.Millisecond
	every := window / time.Duration(s.limits.CommandsMax)
	return rate.NewLimiter(rate.Every(every), s.limits.CommandsMax)
}

func (s *Server) forward(sess *session, ev assembly.Event) {
	switch ev.Kind {
	case assembly.EventRefreshed:
		if sess.subscribed(ev.AssemblyID) {
			sess.send(engine.DiagnosticsMessage(ev.AssemblyID, ev.Seq, ev.Diagnostics))
		}
	case assembly.EventDeleted:
		sess.unsubscribe(ev.AssemblyID)
	}
}

func (s *Server) handleMessage(ctx context.Context, sess *session, limiter *rate.Limiter, msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeCommand {
		sess.send(errorMsg(protocol.ErrProtoBadRequest, "expected COMMAND"))
		return
	}
	if err := protocol.Validate(protocol.SchemaCommand, msg); err != nil {
		sess.send(errorMsg(protocol.ErrProtoBadRequest, err.Error()))
		return
	}
	var cmd protocol.CommandMsg
	if err := json.Unmarshal(msg, &cmd); err != nil {
		sess.send(errorMsg(protocol.ErrProtoBadRequest, err.Error()))
		return
	}
	if cmd.ProtocolVersion != protocol.Version {
		sess.send(reject(cmd.ReqID, protocol.ErrProtoBadRequest, "bad protocol_version"))
		return
	}
	if !limiter.Allow() {
		sess.send(reject(cmd.ReqID, protocol.ErrRateLimit, "too many commands"))
		return
	}
	reply, err := s.engine.Submit(ctx, sess.id, cmd)
	if err != nil {
		sess.send(reject(cmd.ReqID, protocol.ErrBusy, err.Error()))
		return
	}
	s.deliver(sess, cmd, reply)
}

func (s *Server) deliver(sess *session, cmd protocol.CommandMsg, reply engine.Reply) {
	sess.send(reply.Ack)
	if !reply.Ack.Accepted {
		return
	}
	switch cmd.Op {
	case protocol.OpSubscribe:
		if id, err := uuid.Parse(cmd.AssemblyID); err == nil {
			sess.subscribe(id)
		}
	case protocol.OpDelete:
		if id, err := uuid.Parse(cmd.AssemblyID); err == nil {
			sess.unsubscribe(id)
		}
	}
	if reply.Diagnostics != nil {
		sess.send(reply.Diagnostics)
	}
	if reply.Diff != nil {
		sess.send(reply.Diff)
	}
}

func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, "expected HELLO")
		return nil
	}
	if err := protocol.Validate(protocol.SchemaHello, msg); err != nil {
		closeWith(conn, "bad HELLO")
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, "bad protocol_version")
		return nil
	}

	sess := &session{
		id:   uuid.NewString(),
		out:  make(chan []byte, s.limits.ClientOutbox),
		subs: map[uuid.UUID]struct{}{},
	}
	list, err := s.engine.Submit(ctx, sess.id, protocol.CommandMsg{ReqID: "hello", Op: protocol.OpList})
	if err != nil {
		closeWith(conn, "server busy")
		return nil
	}
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.id,
		Catalogs:        s.catalogs,
		Assemblies:      list.Ack.Assemblies,
	}
	if err := writeJSON(conn, welcome); err != nil {
		return nil
	}

	if hello.AssemblyID != "" {
		cmd := protocol.CommandMsg{ReqID: "hello", Op: protocol.OpSubscribe, AssemblyID: hello.AssemblyID}
		reply, err := s.engine.Submit(ctx, sess.id, cmd)
		if err != nil {
			closeWith(conn, "server busy")
			return nil
		}
		s.deliver(sess, cmd, reply)
	}
	return sess
}

func closeWith(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func reject(reqID, code, msg string) protocol.AckMsg {
	return protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          reqID,
		Code:            code,
		Message:         msg,
	}
}

func errorMsg(code, msg string) protocol.ErrorMsg {
	return protocol.ErrorMsg{Type: protocol.TypeError, ProtocolVersion: protocol.Version, Code: code, Message: msg}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

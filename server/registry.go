package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cyberinferno/go-gamenet/dispatch"
	"github.com/cyberinferno/go-gamenet/logger"
	"github.com/cyberinferno/go-gamenet/metrics"
	"github.com/cyberinferno/go-gamenet/presence"
	"github.com/cyberinferno/go-gamenet/protocol"
)

const presenceTimeout = 2 * time.Second

// register adds sess to the session map and allocates its UDP ID.
func (s *Server) register(sess *Session) (uint16, error) {
	if s.ctx.Err() != nil {
		return 0, ErrStopped
	}

	if _, loaded := s.sessions.LoadOrStore(sess.token, sess); loaded {
		return 0, fmt.Errorf("duplicate session token %s", sess.token)
	}

	id, err := s.idAlloc.Allocate(func(id uint16) bool {
		_, loaded := s.udpIDs.LoadOrStore(id, sess.token)
		return !loaded
	})
	if err != nil {
		s.sessions.CompareAndDelete(sess.token, sess)
		return 0, fmt.Errorf("allocate udp id after %d attempts: %w", s.idAlloc.MaxAttempts(), err)
	}

	sess.udpID.Store(int32(id))
	sess.registered.Store(true)
	s.metrics.SessionOpened()

	return id, nil
}

// unregister drops every registry entry owned by sess. Called once from
// Session.Close.
func (s *Server) unregister(sess *Session) {
	if id := sess.udpID.Load(); id > 0 {
		s.udpIDs.CompareAndDelete(uint16(id), sess.token)
	}

	if s.sessions.CompareAndDelete(sess.token, sess) && sess.registered.Load() {
		s.metrics.SessionClosed()
		s.removePresence(sess)
	}
}

// RegisterOpcode installs h for opcode. A later registration for the same
// opcode replaces the earlier one.
func (s *Server) RegisterOpcode(opcode byte, h Handler) {
	if opcode == protocol.OpControl {
		s.log.Warn("registering handler for the control opcode", logger.Field{Key: "opcode", Value: opcode})
	}

	s.handlers.Register(opcode, h)
}

// UnregisterOpcode removes the handler for opcode.
func (s *Server) UnregisterOpcode(opcode byte) {
	s.handlers.Unregister(opcode)
}

// OpcodeExists reports whether a handler is registered for opcode.
func (s *Server) OpcodeExists(opcode byte) bool {
	return s.handlers.Exists(opcode)
}

// Opcodes lists the registered opcodes in ascending order.
func (s *Server) Opcodes() []byte {
	return s.handlers.Opcodes()
}

// Dispatch invokes the handler for msg. Unknown opcodes and handler failures
// are logged and swallowed; the session stays open.
func (s *Server) Dispatch(sess *Session, msg protocol.Message) {
	transport := msg.Transport().String()
	s.metrics.Received(transport)

	start := time.Now()
	err := s.handlers.Invoke(sess, msg)
	s.metrics.ObserveHandler(transport, time.Since(start))
	if err == nil {
		return
	}

	fields := []logger.Field{
		{Key: "token", Value: sess.token},
		{Key: "opcode", Value: fmt.Sprintf("0x%02X", msg.Opcode())},
		{Key: "transport", Value: transport},
		logger.Err(err),
	}

	if errors.Is(err, dispatch.ErrUnknownOpcode) {
		s.metrics.DispatchFault(metrics.FaultUnknownOpcode)
		s.log.Warn("no handler for opcode", fields...)
		return
	}

	s.metrics.DispatchFault(metrics.FaultHandlerError)
	s.log.Error("handler failed", fields...)
}

// SessionExists reports whether token belongs to a registered session.
func (s *Server) SessionExists(token string) bool {
	return s.sessions.Has(token)
}

// GetSession returns the session for token.
func (s *Server) GetSession(token string) (*Session, bool) {
	return s.sessions.Load(token)
}

// SessionCount returns the number of registered sessions.
func (s *Server) SessionCount() int {
	return s.sessions.Len()
}

// Tokens returns a snapshot of all registered session tokens.
func (s *Server) Tokens() []string {
	return s.sessions.Keys()
}

// UDPIDCount returns the number of allocated UDP IDs.
func (s *Server) UDPIDCount() int {
	return s.udpIDs.Len()
}

// SessionByUDPID resolves an ephemeral UDP ID to its session.
func (s *Server) SessionByUDPID(id uint16) (*Session, bool) {
	token, ok := s.udpIDs.Load(id)
	if !ok {
		return nil, false
	}

	return s.sessions.Load(token)
}

// RemoveSession closes the session for token, sending it a disconnect notice.
// Unknown tokens are ignored.
func (s *Server) RemoveSession(token string, reason string) {
	if sess, ok := s.sessions.Load(token); ok {
		sess.Close(true, reason)
	}
}

// Send sends an opcode and body to the session for token. Unknown tokens and
// closed sessions are silently skipped.
func (s *Server) Send(token string, opcode byte, body []byte, transport protocol.Transport) {
	sess, ok := s.sessions.Load(token)
	if !ok {
		return
	}

	_ = sess.Send(opcode, body, transport)
}

// SendText sends text as a UTF-8 body.
func (s *Server) SendText(token string, opcode byte, text string, transport protocol.Transport) {
	s.Send(token, opcode, []byte(text), transport)
}

// SendMany sends the same message to each token in tokens.
func (s *Server) SendMany(tokens []string, opcode byte, body []byte, transport protocol.Transport) {
	for _, token := range tokens {
		s.Send(token, opcode, body, transport)
	}
}

// Broadcast sends the message to every registered session.
func (s *Server) Broadcast(opcode byte, body []byte, transport protocol.Transport) {
	for _, sess := range s.sessions.Values() {
		_ = sess.Send(opcode, body, transport)
	}
}

func (s *Server) notifyStopping() {
	notice := protocol.StoppingNotice()
	s.Broadcast(notice[0], notice[1:], protocol.TCP)
}

func (s *Server) presenceRecord(sess *Session) presence.Record {
	return presence.Record{
		Token:       sess.token,
		Node:        s.cfg.Name,
		RemoteAddr:  sess.tcpAddr.String(),
		UDPID:       uint16(max(sess.udpID.Load(), 0)),
		Permission:  sess.Permission(),
		ConnectedAt: sess.connectedAt,
	}
}

// publishPresence and removePresence are serialised per session. A closed
// session is never published.
func (s *Server) publishPresence(sess *Session) {
	if s.presence == nil {
		return
	}

	sess.presenceMu.Lock()
	defer sess.presenceMu.Unlock()

	if !sess.IsConnected() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()

	if err := s.presence.Publish(ctx, s.presenceRecord(sess), s.cfg.PresenceTTL); err != nil {
		sess.log.Warn("presence publish failed", logger.Err(err))
	}
}

func (s *Server) removePresence(sess *Session) {
	if s.presence == nil {
		return
	}

	sess.presenceMu.Lock()
	defer sess.presenceMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()

	if err := s.presence.Remove(ctx, sess.token); err != nil {
		sess.log.Warn("presence remove failed", logger.Err(err))
	}
}

// presenceLoop republishes every live session before its record expires.
func (s *Server) presenceLoop() error {
	ticker := time.NewTicker(s.cfg.PresenceTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return nil
		case <-ticker.C:
			for _, sess := range s.sessions.Values() {
				s.publishPresence(sess)
			}
		}
	}
}

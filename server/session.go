package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/go-gamenet/logger"
	"github.com/cyberinferno/go-gamenet/protocol"
	"github.com/cyberinferno/go-gamenet/utils"
)

// TokenLength is the length of generated session tokens.
const TokenLength = 16

// UnassignedUDPID is the UDPID of a session that has no UDP ID yet.
const UnassignedUDPID = -1

// User is the application-side object bound to a session.
type User interface {
	// OnSessionAttached is called when the user is bound to s.
	OnSessionAttached(s *Session)

	// OnDisconnected is called once when the session closes.
	OnDisconnected()
}

// Session is the server-side state of one connected client. It owns the TCP
// connection; the Server only references it through its session map.
type Session struct {
	server      *Server
	token       string
	seq         uint32
	conn        net.Conn
	tcpAddr     net.Addr
	connectedAt time.Time
	log         logger.Logger

	writeMu    sync.Mutex
	presenceMu sync.Mutex

	permission    atomic.Int32
	connected     atomic.Bool
	authenticated atomic.Bool
	registered    atomic.Bool
	udpEnabled    atomic.Bool
	udpID         atomic.Int32
	udpAddr       atomic.Pointer[net.UDPAddr]

	userMu sync.RWMutex
	user   User

	ctx    context.Context
	cancel context.CancelFunc
}

func newSession(srv *Server, conn net.Conn, seq uint32) *Session {
	token := utils.GenerateRandomString(TokenLength)
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		server:      srv,
		token:       token,
		seq:         seq,
		conn:        conn,
		tcpAddr:     conn.RemoteAddr(),
		connectedAt: time.Now(),
		ctx:         ctx,
		cancel:      cancel,
		log: srv.log.With(
			logger.Field{Key: "token", Value: token},
			logger.Field{Key: "seq", Value: seq},
			logger.Field{Key: "remote", Value: conn.RemoteAddr().String()},
		),
	}

	s.connected.Store(true)
	s.udpID.Store(UnassignedUDPID)

	if tcp, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		s.udpAddr.Store(&net.UDPAddr{IP: tcp.IP, Port: tcp.Port, Zone: tcp.Zone})
	}

	return s
}

// Token returns the session's unique identifier.
func (s *Session) Token() string { return s.token }

// Seq returns the connection sequence number assigned at accept time.
func (s *Session) Seq() uint32 { return s.seq }

// Permission returns the access level set by the application.
func (s *Session) Permission() int { return int(s.permission.Load()) }

// SetPermission changes the access level.
func (s *Session) SetPermission(level int) { s.permission.Store(int32(level)) }

// IsConnected reports whether Close has not yet been called.
func (s *Session) IsConnected() bool { return s.connected.Load() }

// IsAuthenticated reports the application's authentication flag.
func (s *Session) IsAuthenticated() bool { return s.authenticated.Load() }

// SetAuthenticated sets the application's authentication flag.
func (s *Session) SetAuthenticated(v bool) { s.authenticated.Store(v) }

// UDPEnabled reports whether UDP sends reach this client.
func (s *Session) UDPEnabled() bool { return s.udpEnabled.Load() }

// UDPID returns the ephemeral UDP ID, or UnassignedUDPID.
func (s *Session) UDPID() int { return int(s.udpID.Load()) }

// TCPAddr returns the client's TCP address.
func (s *Session) TCPAddr() net.Addr { return s.tcpAddr }

// UDPAddr returns the last observed UDP address of the client.
func (s *Session) UDPAddr() *net.UDPAddr { return s.udpAddr.Load() }

// ConnectedAt returns when the connection was accepted.
func (s *Session) ConnectedAt() time.Time { return s.connectedAt }

// Context is cancelled when the session closes.
func (s *Session) Context() context.Context { return s.ctx }

// RemoteIP returns the client's IP, IPv4 form when it is IPv4-mapped.
func (s *Session) RemoteIP() string {
	tcp, ok := s.tcpAddr.(*net.TCPAddr)
	if !ok {
		host, _, err := net.SplitHostPort(s.tcpAddr.String())
		if err != nil {
			return s.tcpAddr.String()
		}

		return host
	}

	if v4 := tcp.IP.To4(); v4 != nil {
		return v4.String()
	}

	return tcp.IP.String()
}

// EnableUDP points UDP sends at the client's TCP IP on port and enables them.
// It has no effect until the session holds a UDP ID.
func (s *Session) EnableUDP(port int) bool {
	if s.udpID.Load() <= 0 {
		return false
	}

	addr := &net.UDPAddr{Port: port}
	if current := s.udpAddr.Load(); current != nil {
		addr.IP = current.IP
		addr.Zone = current.Zone
	}

	s.udpAddr.Store(addr)
	s.udpEnabled.Store(true)
	return true
}

// observeUDP records the sender of a datagram carrying this session's ID.
func (s *Session) observeUDP(addr net.Addr) {
	udp, ok := addr.(*net.UDPAddr)
	if !ok {
		resolved, err := net.ResolveUDPAddr("udp", addr.String())
		if err != nil {
			return
		}

		udp = resolved
	}

	s.udpAddr.Store(udp)
	s.udpEnabled.Store(true)
}

// User returns the bound application user, if any.
func (s *Session) User() User {
	s.userMu.RLock()
	defer s.userMu.RUnlock()
	return s.user
}

// SetUser binds u to the session and calls u.OnSessionAttached.
func (s *Session) SetUser(u User) {
	s.userMu.Lock()
	s.user = u
	s.userMu.Unlock()

	if u != nil {
		u.OnSessionAttached(s)
	}
}

// Send writes one message. Over TCP it is framed on the session's connection;
// over UDP it goes through the server's UDP socket to the last observed
// address and is dropped if UDP is not enabled. Sends on a closed session are
// no-ops.
//
// Parameters:
//   - opcode: Message type
//   - body: Message body; not retained
//   - transport: protocol.TCP or protocol.UDP
//
// Returns:
//   - A write error; the session is already closed when one is returned
func (s *Session) Send(opcode byte, body []byte, transport protocol.Transport) error {
	if !s.connected.Load() {
		return nil
	}

	if transport == protocol.UDP {
		if !s.udpEnabled.Load() {
			return nil
		}

		return s.server.sendUDP(s, protocol.EncodeMessage(opcode, body))
	}

	if err := s.writePayload(protocol.EncodeMessage(opcode, body)); err != nil {
		if errors.Is(err, protocol.ErrFrameTooLarge) {
			return err
		}

		s.Close(false, "send failed")
		return err
	}

	s.server.metrics.Sent(protocol.TCP.String())
	return nil
}

// SendText sends text as a UTF-8 body.
func (s *Session) SendText(opcode byte, text string, transport protocol.Transport) error {
	return s.Send(opcode, []byte(text), transport)
}

// SendPreferUDP sends over UDP when it is enabled and over TCP otherwise.
func (s *Session) SendPreferUDP(opcode byte, body []byte) error {
	if s.udpEnabled.Load() {
		return s.Send(opcode, body, protocol.UDP)
	}

	return s.Send(opcode, body, protocol.TCP)
}

// writePayload frames payload onto the TCP connection.
func (s *Session) writePayload(payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.writeLocked(payload)
}

// writeLocked is writePayload for callers already holding writeMu.
func (s *Session) writeLocked(payload []byte) error {
	if timeout := s.server.cfg.WriteTimeout; timeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}

	return protocol.WriteFrame(s.conn, payload)
}

// Close ends the session. Only the first call has effect: it cancels the
// session context, optionally sends a disconnect notice, closes the
// connection, notifies the bound user and drops the session from the server.
//
// Parameters:
//   - notifyPeer: Send a best-effort disconnect notice before closing
//   - reason: Logged with the close
func (s *Session) Close(notifyPeer bool, reason string) {
	if !s.connected.CompareAndSwap(true, false) {
		return
	}

	s.cancel()

	if notifyPeer {
		s.writeMu.Lock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = protocol.WriteFrame(s.conn, protocol.DisconnectNotice())
		s.writeMu.Unlock()
	}

	_ = s.conn.Close()

	if u := s.User(); u != nil {
		u.OnDisconnected()
	}

	s.server.unregister(s)

	if reason != "" {
		s.log.Info("session closed", logger.Field{Key: "reason", Value: reason})
	} else {
		s.log.Debug("session closed")
	}
}

// handshake reads the first frame and reports whether it is a valid
// handshake request.
func (s *Session) handshake() bool {
	if timeout := s.server.cfg.HandshakeTimeout; timeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(timeout))
		defer func() { _ = s.conn.SetReadDeadline(time.Time{}) }()
	}

	payload, err := protocol.ReadFrame(s.conn)
	if err != nil {
		s.log.Debug("handshake read failed", logger.Err(err))
		return false
	}

	if !protocol.IsHandshake(payload) {
		s.log.Debug("invalid handshake", logger.Field{Key: "payload", Value: fmt.Sprintf("%x", payload)})
		return false
	}

	return true
}

// readLoop delivers frames to the server until the connection fails or ctx
// or the session is cancelled, then closes the session.
func (s *Session) readLoop(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() {
		s.Close(false, "server stopping")
	})
	defer stop()

	reason := ""
	defer func() {
		s.Close(false, reason)
	}()

	readTimeout := s.server.cfg.ReadTimeout
	for s.connected.Load() {
		if readTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(readTimeout))
		}

		payload, err := protocol.ReadFrame(s.conn)
		if err != nil {
			reason = s.readFailure(err)
			return
		}

		opcode, body, ok := protocol.SplitPayload(payload)
		if !ok {
			s.log.Debug("received empty frame")
			continue
		}

		if len(body) == 0 {
			s.log.Debug("received empty payload", logger.Field{Key: "opcode", Value: fmt.Sprintf("0x%02X", opcode)})
		}

		s.server.Dispatch(s, protocol.NewMessage(protocol.TCP, opcode, body))
	}
}

func (s *Session) readFailure(err error) string {
	if !s.connected.Load() {
		return ""
	}

	if errors.Is(err, io.EOF) {
		return "connection closed by peer"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "read timeout"
	}

	if errors.Is(err, protocol.ErrShortFrame) {
		return "truncated frame"
	}

	return "read error: " + err.Error()
}

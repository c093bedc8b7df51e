// Package server is the game server's network transport core. A Server accepts
// TCP connections, runs the handshake, keeps one Session per client, maps
// ephemeral UDP IDs back to sessions, and routes every decoded message to the
// handler registered for its opcode.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cyberinferno/go-gamenet/dispatch"
	"github.com/cyberinferno/go-gamenet/idgenerator"
	"github.com/cyberinferno/go-gamenet/logger"
	"github.com/cyberinferno/go-gamenet/metrics"
	"github.com/cyberinferno/go-gamenet/presence"
	"github.com/cyberinferno/go-gamenet/protocol"
	"github.com/cyberinferno/go-gamenet/safemap"
	"github.com/cyberinferno/go-gamenet/safeset"
	"github.com/cyberinferno/go-gamenet/taskqueue"
)

var (
	// ErrAlreadyRunning is returned by Start on a running server.
	ErrAlreadyRunning = errors.New("server: already running")

	// ErrStopped is returned by Start after Stop; a Server is single-use.
	ErrStopped = errors.New("server: stopped")

	// ErrUDPIDExhausted is returned when no free UDP ID could be allocated.
	ErrUDPIDExhausted = idgenerator.ErrExhausted
)

// Handler processes a message received on a session.
type Handler = dispatch.Handler[*Session]

// TaskRunner executes work items on named background lanes.
type TaskRunner interface {
	Submit(name string, fn func())
}

// ConnectHook runs after a session completes its handshake and is registered,
// before its read loop starts. Applications typically bind their User here.
type ConnectHook func(s *Session)

// Config holds the transport settings.
type Config struct {
	// Name identifies this server in logs and presence records.
	Name string
	// TCPAddress is the "host:port" the TCP listener binds to.
	TCPAddress string
	// UDPAddress is the "host:port" the UDP socket binds to.
	UDPAddress string
	// HandshakeTimeout bounds the wait for the first frame; 0 disables it.
	HandshakeTimeout time.Duration
	// ReadTimeout closes sessions idle for longer than this; 0 disables it.
	ReadTimeout time.Duration
	// WriteTimeout bounds each TCP write; 0 disables it.
	WriteTimeout time.Duration
	// UDPBufferSize is the receive buffer size for one datagram.
	UDPBufferSize int
	// UDPIDAttempts bounds random draws per UDP ID allocation.
	UDPIDAttempts int
	// UDPLane is the task runner lane UDP dispatch runs on.
	UDPLane string
	// PresenceTTL is the lifetime of presence records; records are refreshed
	// every PresenceTTL/2. 0 publishes records without expiry.
	PresenceTTL time.Duration
}

// DefaultConfig returns a Config for the given addresses with the remaining
// fields at their defaults.
func DefaultConfig(tcpAddress, udpAddress string) Config {
	return Config{
		Name:             "gameserver",
		TCPAddress:       tcpAddress,
		UDPAddress:       udpAddress,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		UDPBufferSize:    64 * 1024,
		UDPIDAttempts:    idgenerator.DefaultMaxAttempts,
		UDPLane:          "udp_calls",
	}
}

// Option customises a Server.
type Option func(*Server)

// WithTaskRunner sets the runner UDP dispatch is offloaded to. Without it the
// server creates and owns a taskqueue.Runner.
func WithTaskRunner(r TaskRunner) Option {
	return func(s *Server) { s.tasks = r }
}

// WithPresence publishes session records to dir.
func WithPresence(dir presence.Directory) Option {
	return func(s *Server) { s.presence = dir }
}

// WithMetrics records transport metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithConnectHook sets the hook run after each successful handshake.
func WithConnectHook(h ConnectHook) Option {
	return func(s *Server) { s.onConnect = h }
}

// Server is the session registry. It owns the TCP listener, the UDP socket,
// the session map, the UDP-ID map and the opcode dispatch table.
type Server struct {
	cfg       Config
	log       logger.Logger
	tasks     TaskRunner
	ownTasks  *taskqueue.Runner
	presence  presence.Directory
	metrics   *metrics.Metrics
	onConnect ConnectHook

	listener net.Listener
	udpConn  net.PacketConn

	pending  *safeset.SafeSet[*Session]
	sessions *safemap.SafeMap[string, *Session]
	udpIDs   *safemap.SafeMap[uint16, string]
	handlers *dispatch.Table[*Session]
	idAlloc  *idgenerator.Uint16Allocator
	seq      *idgenerator.Sequence

	running  atomic.Bool
	stopped  atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc
	loops    *errgroup.Group
	sessWG   sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}
}

// NewServer creates a Server. Call RegisterOpcode for every message type, then
// Start.
//
// Parameters:
//   - cfg: Transport settings
//   - log: Logger; nil discards output
//   - opts: Optional collaborators
//
// Returns:
//   - A Server ready to Start
func NewServer(cfg Config, log logger.Logger, opts ...Option) *Server {
	if log == nil {
		log = logger.NewNopLogger()
	}

	if cfg.Name == "" {
		cfg.Name = "gameserver"
	}

	if cfg.UDPBufferSize <= 0 {
		cfg.UDPBufferSize = 64 * 1024
	}

	if cfg.UDPLane == "" {
		cfg.UDPLane = "udp_calls"
	}

	s := &Server{
		cfg:      cfg,
		log:      log.With(logger.Field{Key: "server", Value: cfg.Name}),
		pending:  safeset.NewSafeSet[*Session](),
		sessions: safemap.NewSafeMap[string, *Session](),
		udpIDs:   safemap.NewSafeMap[uint16, string](),
		handlers: dispatch.NewTable[*Session](),
		idAlloc:  idgenerator.NewUint16Allocator(cfg.UDPIDAttempts),
		seq:      idgenerator.NewSequence(0),
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.tasks == nil {
		s.ownTasks = taskqueue.NewRunner(s.log)
		s.tasks = s.ownTasks
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Start binds the TCP listener and UDP socket and starts the accept loop and
// the UDP receive loop.
//
// Returns:
//   - ErrAlreadyRunning or ErrStopped if the server cannot be started
//   - An error if either socket fails to bind
func (s *Server) Start() error {
	if s.stopped.Load() {
		return ErrStopped
	}

	if s.running.Load() {
		return ErrAlreadyRunning
	}

	ln, err := net.Listen("tcp", s.cfg.TCPAddress)
	if err != nil {
		s.log.Error("tcp listen failed", logger.Err(err))
		return fmt.Errorf("server %s failed to listen on tcp %s: %w", s.cfg.Name, s.cfg.TCPAddress, err)
	}

	pc, err := net.ListenPacket("udp", s.cfg.UDPAddress)
	if err != nil {
		_ = ln.Close()
		s.log.Error("udp listen failed", logger.Err(err))
		return fmt.Errorf("server %s failed to listen on udp %s: %w", s.cfg.Name, s.cfg.UDPAddress, err)
	}

	s.listener = ln
	s.udpConn = pc
	s.running.Store(true)

	s.loops = &errgroup.Group{}
	s.loops.Go(s.acceptLoop)
	s.loops.Go(s.udpLoop)
	if s.presence != nil && s.cfg.PresenceTTL > 0 {
		s.loops.Go(s.presenceLoop)
	}

	s.log.Info("server started",
		logger.Field{Key: "tcp", Value: ln.Addr().String()},
		logger.Field{Key: "udp", Value: pc.LocalAddr().String()},
	)

	return nil
}

// Stop shuts the server down: optionally tells every client the server is
// stopping, cancels the shared context, closes every session and closes both
// sockets. Only the first call has effect.
//
// Stop does not wait for the loops, read goroutines and handlers still in
// flight to exit, so it may be called from a handler. Use Wait or Done for
// that.
//
// Parameters:
//   - notify: Broadcast the server-stopping notice before teardown
func (s *Server) Stop(notify bool) {
	s.stopOnce.Do(func() {
		s.stop(notify)
	})
}

// Wait blocks until a stopped server has drained. It must not be called from
// a handler.
func (s *Server) Wait() {
	<-s.done
}

// Done is closed once the server has stopped and every loop, session
// goroutine and owned task lane has exited.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

func (s *Server) stop(notify bool) {
	s.stopped.Store(true)
	wasRunning := s.running.Swap(false)

	if notify {
		s.notifyStopping()
	}

	s.cancel()

	for _, sess := range s.pending.Snapshot() {
		sess.Close(false, "server stopped")
	}

	for _, sess := range s.sessions.Values() {
		sess.Close(false, "server stopped")
	}

	if s.listener != nil {
		_ = s.listener.Close()
	}

	if s.udpConn != nil {
		_ = s.udpConn.Close()
	}

	s.handlers.Clear()

	go s.drain(wasRunning)
}

// drain waits for everything Stop cancelled, then clears what a late
// registration may have left behind.
func (s *Server) drain(wasRunning bool) {
	defer close(s.done)

	// The accept loop must exit before sessWG.Wait so no Add races the wait.
	if s.loops != nil {
		if err := s.loops.Wait(); err != nil {
			s.log.Warn("server loop exited with error", logger.Err(err))
		}
	}

	s.sessWG.Wait()

	if s.ownTasks != nil {
		s.ownTasks.Close()
	}

	s.pending.Reset()
	s.sessions.Clear()
	s.udpIDs.Clear()

	if wasRunning {
		s.log.Info("server stopped")
	}
}

// Running reports whether the server is accepting connections.
func (s *Server) Running() bool {
	return s.running.Load()
}

// Name returns the configured server name.
func (s *Server) Name() string {
	return s.cfg.Name
}

// TCPAddr returns the bound TCP address, or nil before Start.
func (s *Server) TCPAddr() net.Addr {
	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// UDPAddr returns the bound UDP address, or nil before Start.
func (s *Server) UDPAddr() net.Addr {
	if s.udpConn == nil {
		return nil
	}

	return s.udpConn.LocalAddr()
}

// Context is cancelled when the server stops.
func (s *Server) Context() context.Context {
	return s.ctx
}

func (s *Server) acceptLoop() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.log.Debug("accept loop stopped")
				return nil
			}

			s.log.Error("accept error", logger.Err(err))
			select {
			case <-s.ctx.Done():
				return nil
			case <-time.After(50 * time.Millisecond):
			}

			continue
		}

		s.metrics.Accepted()
		s.sessWG.Add(1)
		go s.serve(conn)
	}
}

// serve runs one connection from handshake to close.
func (s *Server) serve(conn net.Conn) {
	defer s.sessWG.Done()

	sess := newSession(s, conn, s.seq.Next())

	// Stop closes pending sessions after cancelling the context, so a session
	// added here is either seen by Stop or sees the cancellation below.
	s.pending.Add(sess)
	defer s.pending.Remove(sess)

	if s.ctx.Err() != nil {
		sess.Close(false, "server stopping")
		return
	}

	if !sess.handshake() {
		if !sess.IsConnected() {
			return
		}

		s.metrics.HandshakeFailed()
		_ = sess.writePayload(protocol.HandshakeReply(false, 0))
		sess.Close(false, "handshake failed")
		return
	}

	// The session is visible to Send and Broadcast from register on; holding
	// writeMu until the reply is out keeps the reply the first frame.
	sess.writeMu.Lock()
	udpID, err := s.register(sess)
	if err != nil {
		_ = sess.writeLocked(protocol.HandshakeReply(false, 0))
		sess.writeMu.Unlock()

		s.metrics.HandshakeFailed()
		sess.log.Error("session registration failed", logger.Err(err))
		sess.Close(false, "registration failed")
		return
	}

	err = sess.writeLocked(protocol.HandshakeReply(true, udpID))
	sess.writeMu.Unlock()
	if err != nil {
		sess.Close(false, "handshake reply failed")
		return
	}

	s.publishPresence(sess)

	sess.log.Debug("session connected", logger.Field{Key: "udp_id", Value: udpID})
	if s.onConnect != nil {
		s.onConnect(sess)
	}

	sess.readLoop(s.ctx)
}

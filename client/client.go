// Package client is a protocol client for the game server. It dials the TCP
// endpoint, performs the handshake, and then exchanges framed messages over
// TCP and ID-prefixed datagrams over UDP. Received messages are delivered on a
// channel; connection state changes are reported to an optional handler.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/go-gamenet/logger"
	"github.com/cyberinferno/go-gamenet/protocol"
)

var (
	// ErrHandshakeRejected is returned by Dial when the server replies with a
	// failed handshake.
	ErrHandshakeRejected = errors.New("client: handshake rejected")

	// ErrNotConnected is returned by sends on a closed client.
	ErrNotConnected = errors.New("client: not connected")

	// ErrNoUDP is returned by SendUDP when no UDP address was configured.
	ErrNoUDP = errors.New("client: udp not configured")
)

// ConnectionState represents the current state of the client.
type ConnectionState int

const (
	Connecting   ConnectionState = iota // Dial in progress
	Connected                           // Handshake completed
	Disconnected                        // Server closed the connection or a read failed
	Closed                              // Close was called
)

// String returns a human-readable name for the connection state.
func (cs ConnectionState) String() string {
	switch cs {
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Disconnected:
		return "Disconnected"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ConnectionStateEvent is passed to the handler registered with
// Config.OnConnectionState.
type ConnectionStateEvent struct {
	State     ConnectionState // The new connection state
	Address   string          // The server's TCP address
	Timestamp time.Time       // When the state change occurred
	Error     error           // Non-nil if the change was caused by an error
}

// ConnectionStateHandler is called from the client's goroutines and must be
// safe for concurrent use.
type ConnectionStateHandler func(event ConnectionStateEvent)

// Config holds the client settings.
type Config struct {
	// Address is the server's TCP "host:port".
	Address string
	// UDPAddress is the server's UDP "host:port"; empty disables UDP.
	UDPAddress string
	// ConnectionTimeout bounds the TCP dial.
	ConnectionTimeout time.Duration
	// HandshakeTimeout bounds the wait for the handshake reply.
	HandshakeTimeout time.Duration
	// WriteTimeout is the max duration of a single TCP write; 0 means none.
	WriteTimeout time.Duration
	// InboxSize is the capacity of the Messages channel.
	InboxSize int
	// UDPBufferSize is the receive buffer size for one datagram.
	UDPBufferSize int
	// OnConnectionState is notified of state changes; may be nil.
	OnConnectionState ConnectionStateHandler
	// Logger receives client diagnostics; nil discards them.
	Logger logger.Logger
}

// DefaultConfig returns a Config with defaults for the given addresses.
//
// Parameters:
//   - address: The server's TCP "host:port"
//   - udpAddress: The server's UDP "host:port", or "" for TCP only
//
// Returns:
//   - A Config with ConnectionTimeout 10s, HandshakeTimeout 10s,
//     WriteTimeout 10s, InboxSize 64 and UDPBufferSize 64KiB
func DefaultConfig(address, udpAddress string) Config {
	return Config{
		Address:           address,
		UDPAddress:        udpAddress,
		ConnectionTimeout: 10 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      10 * time.Second,
		InboxSize:         64,
		UDPBufferSize:     64 * 1024,
	}
}

// Client is a connected, handshaken protocol client. It is safe for
// concurrent use.
type Client struct {
	config Config
	log    logger.Logger
	conn   net.Conn
	udp    net.Conn
	udpID  uint16

	writeMu sync.Mutex

	mu    sync.RWMutex
	state ConnectionState

	inbox     chan protocol.Message
	done      chan struct{}
	closing   chan struct{}
	closeOnce sync.Once
	doneOnce  sync.Once
	wg        sync.WaitGroup
}

// Dial connects to the server, performs the handshake and starts the receive
// loops.
//
// Parameters:
//   - ctx: Bounds the dial and the handshake
//   - config: Client settings (e.g. from DefaultConfig)
//
// Returns:
//   - A connected Client; call Close when done
//   - ErrHandshakeRejected if the server refused the handshake, or the dial
//     or I/O error
func Dial(ctx context.Context, config Config) (*Client, error) {
	if config.InboxSize < 0 {
		config.InboxSize = 0
	}

	if config.UDPBufferSize <= 0 {
		config.UDPBufferSize = 64 * 1024
	}

	log := config.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	c := &Client{
		config:  config,
		log:     log.With(logger.Field{Key: "server", Value: config.Address}),
		state:   Connecting,
		inbox:   make(chan protocol.Message, config.InboxSize),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}
	c.emitConnectionState(Connecting, nil)

	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(Disconnected, err)
		return nil, err
	}

	c.conn = conn
	c.wg.Add(1)
	go c.readLoop()

	if c.udp != nil {
		c.wg.Add(1)
		go c.udpLoop()
	}

	go func() {
		c.wg.Wait()
		close(c.inbox)
	}()

	c.setState(Connected, nil)
	c.log.Debug("connected", logger.Field{Key: "udp_id", Value: c.udpID})

	return c, nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: c.config.ConnectionTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", c.config.Address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.config.Address, err)
	}

	id, err := handshake(ctx, conn, c.config.HandshakeTimeout)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	c.udpID = id

	if c.config.UDPAddress != "" {
		udp, err := dialer.DialContext(ctx, "udp", c.config.UDPAddress)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("dial udp %s: %w", c.config.UDPAddress, err)
		}

		c.udp = udp
	}

	return conn, nil
}

func handshake(ctx context.Context, conn net.Conn, timeout time.Duration) (uint16, error) {
	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}

	if !deadline.IsZero() {
		_ = conn.SetDeadline(deadline)
		defer func() { _ = conn.SetDeadline(time.Time{}) }()
	}

	if err := protocol.WriteFrame(conn, protocol.HandshakeRequest); err != nil {
		return 0, fmt.Errorf("send handshake: %w", err)
	}

	reply, err := protocol.ReadFrame(conn)
	if err != nil {
		return 0, fmt.Errorf("read handshake reply: %w", err)
	}

	id, ok := protocol.ParseHandshakeReply(reply)
	if !ok {
		return 0, ErrHandshakeRejected
	}

	return id, nil
}

// UDPID returns the ephemeral ID assigned by the server.
func (c *Client) UDPID() uint16 {
	return c.udpID
}

// LocalUDPAddr returns the local address of the UDP socket, or nil without UDP.
func (c *Client) LocalUDPAddr() net.Addr {
	if c.udp == nil {
		return nil
	}

	return c.udp.LocalAddr()
}

// GetState returns the current connection state.
func (c *Client) GetState() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected reports whether the client is in the Connected state.
func (c *Client) IsConnected() bool {
	return c.GetState() == Connected
}

// Messages delivers every message received over TCP or UDP, control messages
// included. It is closed once both receive loops have exited.
func (c *Client) Messages() <-chan protocol.Message {
	return c.inbox
}

// Done is closed when the TCP connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Send writes one framed message over TCP.
//
// Parameters:
//   - opcode: Message type
//   - body: Message body; not modified
//
// Returns:
//   - ErrNotConnected, a framing error, or the write error
func (c *Client) Send(opcode byte, body []byte) error {
	return c.SendRaw(protocol.EncodeMessage(opcode, body))
}

// SendRaw frames payload as-is, without interpreting it as opcode and body.
func (c *Client) SendRaw(payload []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.config.WriteTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
			return err
		}
	}

	return protocol.WriteFrame(c.conn, payload)
}

// SendText sends text as a UTF-8 body over TCP.
func (c *Client) SendText(opcode byte, text string) error {
	return c.Send(opcode, []byte(text))
}

// SendUDP sends one datagram carrying the client's UDP ID.
//
// Parameters:
//   - opcode: Message type
//   - body: Message body; not modified
//
// Returns:
//   - ErrNoUDP, ErrNotConnected or the write error
func (c *Client) SendUDP(opcode byte, body []byte) error {
	if c.udp == nil {
		return ErrNoUDP
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	datagram := protocol.EncodeDatagram(c.udpID, opcode, body)
	if len(datagram) > protocol.MaxDatagramSize {
		return fmt.Errorf("%w: datagram of %d bytes", protocol.ErrFrameTooLarge, len(datagram))
	}

	_, err := c.udp.Write(datagram)
	return err
}

// Close shuts the client down and waits for its goroutines. Idempotent.
func (c *Client) Close() error {
	var err error

	c.closeOnce.Do(func() {
		close(c.closing)
		err = c.conn.Close()
		if c.udp != nil {
			_ = c.udp.Close()
		}

		c.wg.Wait()
		c.markDone()
		c.setState(Closed, nil)
	})

	return err
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	defer c.markDone()

	for {
		payload, err := protocol.ReadFrame(c.conn)
		if err != nil {
			if !c.isClosing() {
				c.log.Debug("tcp read ended", logger.Err(err))
				c.setState(Disconnected, err)
				if c.udp != nil {
					_ = c.udp.Close()
				}
			}

			return
		}

		opcode, body, ok := protocol.SplitPayload(payload)
		if !ok {
			continue
		}

		if !c.deliver(protocol.NewMessage(protocol.TCP, opcode, body)) {
			return
		}
	}
}

func (c *Client) udpLoop() {
	defer c.wg.Done()

	buf := make([]byte, c.config.UDPBufferSize)
	for {
		n, err := c.udp.Read(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || c.isClosing() {
				return
			}

			// ICMP port-unreachable surfaces as a read error on connected
			// UDP sockets; keep reading.
			c.log.Debug("udp read error", logger.Err(err))
			select {
			case <-c.done:
				return
			default:
				continue
			}
		}

		opcode, body, ok := protocol.SplitPayload(buf[:n])
		if !ok {
			continue
		}

		payload := make([]byte, len(body))
		copy(payload, body)

		if !c.deliver(protocol.NewMessage(protocol.UDP, opcode, payload)) {
			return
		}
	}
}

func (c *Client) deliver(msg protocol.Message) bool {
	select {
	case c.inbox <- msg:
		return true
	case <-c.closing:
		return false
	}
}

func (c *Client) markDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *Client) isClosing() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}

func (c *Client) setState(state ConnectionState, err error) {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return
	}

	c.state = state
	c.mu.Unlock()

	c.emitConnectionState(state, err)
}

func (c *Client) emitConnectionState(state ConnectionState, err error) {
	handler := c.config.OnConnectionState
	if handler == nil {
		return
	}

	go handler(ConnectionStateEvent{
		State:     state,
		Address:   c.config.Address,
		Timestamp: time.Now(),
		Error:     err,
	})
}

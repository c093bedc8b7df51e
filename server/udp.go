package server

import (
	"errors"
	"fmt"
	"net"

	"github.com/cyberinferno/go-gamenet/logger"
	"github.com/cyberinferno/go-gamenet/protocol"
)

// errUDPNotReady is returned when a UDP send has no socket or address yet.
var errUDPNotReady = errors.New("server: udp not ready")

// udpLoop drains the UDP socket. Only ID resolution happens here; handler
// execution is submitted to the task runner so slow handlers never stall
// the socket.
func (s *Server) udpLoop() error {
	buf := make([]byte, s.cfg.UDPBufferSize)

	for {
		n, addr, err := s.udpConn.ReadFrom(buf)
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.log.Debug("udp loop stopped")
				return nil
			}

			s.log.Warn("udp read error", logger.Err(err))
			continue
		}

		id, ok := protocol.PeekDatagramID(buf[:n])
		if !ok {
			s.log.Debug("dropping datagram without id", logger.Field{Key: "from", Value: addr.String()})
			continue
		}

		token, ok := s.udpIDs.Load(id)
		if !ok {
			s.metrics.UnknownUDPID()
			s.log.Debug("dropping datagram for unknown udp id",
				logger.Field{Key: "udp_id", Value: id},
				logger.Field{Key: "from", Value: addr.String()},
			)
			continue
		}

		datagram, err := protocol.DecodeDatagram(buf[:n])
		if err != nil {
			s.log.Debug("dropping malformed datagram",
				logger.Field{Key: "udp_id", Value: id},
				logger.Field{Key: "from", Value: addr.String()},
				logger.Err(err),
			)
			continue
		}

		body := make([]byte, len(datagram.Body))
		copy(body, datagram.Body)
		msg := protocol.NewMessage(protocol.UDP, datagram.Opcode, body)

		s.tasks.Submit(s.cfg.UDPLane, func() {
			s.handleDatagram(token, addr, msg)
		})
	}
}

func (s *Server) handleDatagram(token string, from net.Addr, msg protocol.Message) {
	sess, ok := s.sessions.Load(token)
	if !ok || !sess.IsConnected() {
		return
	}

	sess.observeUDP(from)
	s.Dispatch(sess, msg)
}

// sendUDP writes payload ([opcode][body]) to the session's observed UDP
// address.
func (s *Server) sendUDP(sess *Session, payload []byte) error {
	addr := sess.UDPAddr()
	if s.udpConn == nil || addr == nil {
		return errUDPNotReady
	}

	if len(payload) > protocol.MaxDatagramSize {
		return fmt.Errorf("%w: datagram of %d bytes", protocol.ErrFrameTooLarge, len(payload))
	}

	if _, err := s.udpConn.WriteTo(payload, addr); err != nil {
		if s.ctx.Err() == nil {
			sess.log.Debug("udp send failed", logger.Err(err))
		}

		return err
	}

	s.metrics.Sent(protocol.UDP.String())
	return nil
}

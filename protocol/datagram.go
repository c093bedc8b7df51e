package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cyberinferno/go-gamenet/utils"
)

const (
	// DatagramIDSize is the size of the ephemeral session ID that prefixes
	// every client-to-server datagram.
	DatagramIDSize = 2

	// MaxDatagramSize is the largest UDP payload deliverable over IPv4.
	MaxDatagramSize = 65507
)

// ErrShortDatagram is returned when a datagram is too small to hold an ID and
// an opcode.
var ErrShortDatagram = errors.New("protocol: short datagram")

// Datagram is a decoded client-to-server UDP datagram.
type Datagram struct {
	SessionID uint16
	Opcode    byte
	Body      []byte
}

// DecodeDatagram parses [ID][opcode][body]. Body aliases b.
func DecodeDatagram(b []byte) (Datagram, error) {
	if len(b) < DatagramIDSize+1 {
		return Datagram{}, fmt.Errorf("%w: %d bytes", ErrShortDatagram, len(b))
	}

	return Datagram{
		SessionID: binary.LittleEndian.Uint16(b),
		Opcode:    b[DatagramIDSize],
		Body:      b[DatagramIDSize+1:],
	}, nil
}

// EncodeDatagram builds a client-to-server datagram.
func EncodeDatagram(sessionID uint16, opcode byte, body []byte) []byte {
	var id [DatagramIDSize]byte
	binary.LittleEndian.PutUint16(id[:], sessionID)
	return utils.JoinBytes(id[:], []byte{opcode}, body)
}

// PeekDatagramID returns the session ID of a datagram without copying it.
func PeekDatagramID(b []byte) (uint16, bool) {
	if len(b) < DatagramIDSize {
		return 0, false
	}

	return binary.LittleEndian.Uint16(b), true
}

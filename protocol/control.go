package protocol

import (
	"bytes"
	"encoding/binary"
)

// OpControl is the opcode reserved for connection control messages. The first
// body byte selects the control subcode.
const OpControl byte = 0xFF

// Control subcodes carried in the first body byte of an OpControl message.
const (
	ControlHandshake  byte = 0x01
	ControlDisconnect byte = 0x03
	ControlStopping   byte = 0x04
)

// Handshake result bytes.
const (
	HandshakeFailed byte = 0x00
	HandshakeOK     byte = 0x01
)

// HandshakeRequest is the exact payload a client sends as its first frame.
var HandshakeRequest = []byte{OpControl, ControlHandshake}

// IsHandshake reports whether payload is exactly HandshakeRequest.
func IsHandshake(payload []byte) bool {
	return bytes.Equal(payload, HandshakeRequest)
}

// HandshakeReply builds the frame payload the server sends in response to a
// handshake: OpControl, ControlHandshake, the result byte and, on success,
// the UDP session ID.
//
// Parameters:
//   - ok: Whether the handshake succeeded
//   - udpID: The allocated UDP session ID; ignored when ok is false
//
// Returns:
//   - The reply payload
func HandshakeReply(ok bool, udpID uint16) []byte {
	if !ok {
		return []byte{OpControl, ControlHandshake, HandshakeFailed}
	}

	reply := []byte{OpControl, ControlHandshake, HandshakeOK, 0, 0}
	binary.LittleEndian.PutUint16(reply[3:], udpID)
	return reply
}

// ParseHandshakeReply decodes a HandshakeReply payload.
//
// Returns:
//   - The UDP session ID (zero on failure)
//   - true if the payload is a successful handshake reply
//   - false if it is a failure reply or not a handshake reply at all
func ParseHandshakeReply(payload []byte) (uint16, bool) {
	if len(payload) < 3 || payload[0] != OpControl || payload[1] != ControlHandshake {
		return 0, false
	}

	if payload[2] != HandshakeOK || len(payload) < 5 {
		return 0, false
	}

	return binary.LittleEndian.Uint16(payload[3:5]), true
}

// StoppingNotice is the payload broadcast to every session before shutdown.
func StoppingNotice() []byte {
	return []byte{OpControl, ControlStopping}
}

// DisconnectNotice is the farewell payload sent to a peer that is being closed
// by the server.
func DisconnectNotice() []byte {
	return []byte{OpControl, ControlDisconnect}
}

// Package protocol implements the wire format shared by the game server and its
// clients: length-prefixed TCP frames, ID-prefixed UDP datagrams, the
// connection handshake, and the Message envelope handed to opcode handlers.
//
// All multi-byte integers are little-endian.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/cyberinferno/go-gamenet/utils"
)

const (
	// HeaderSize is the size of the TCP frame length prefix.
	HeaderSize = 2

	// MaxPayloadSize is the largest payload a single TCP frame can carry.
	MaxPayloadSize = 0xFFFF
)

var (
	// ErrShortFrame is returned when the stream ends in the middle of a frame.
	ErrShortFrame = errors.New("protocol: short frame")

	// ErrFrameTooLarge is returned when a payload exceeds MaxPayloadSize.
	ErrFrameTooLarge = errors.New("protocol: frame too large")
)

// ReadFrame reads one length-prefixed frame from r and returns its payload.
// The length prefix counts only the payload bytes that follow it.
//
// Parameters:
//   - r: The stream to read from
//
// Returns:
//   - The frame payload (possibly empty), freshly allocated
//   - io.EOF if the stream ended cleanly before any header byte, an error
//     wrapping ErrShortFrame if it ended mid-frame, or the underlying read error
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: header: %w", ErrShortFrame, err)
		}

		return nil, err
	}

	length := binary.LittleEndian.Uint16(header[:])
	payload := make([]byte, length)
	if length == 0 {
		return payload, nil
	}

	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: want %d bytes: %w", ErrShortFrame, length, io.ErrUnexpectedEOF)
		}

		return nil, err
	}

	return payload, nil
}

// EncodeFrame prefixes payload with its exact length.
//
// Parameters:
//   - payload: The frame payload, opcode byte included
//
// Returns:
//   - The encoded frame
//   - ErrFrameTooLarge if payload is longer than MaxPayloadSize
func EncodeFrame(payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}

	frame := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint16(frame, uint16(len(payload)))
	copy(frame[HeaderSize:], payload)
	return frame, nil
}

// WriteFrame encodes payload and writes it to w in a single Write call so that
// concurrent writers serialised by a mutex never interleave partial frames.
func WriteFrame(w io.Writer, payload []byte) error {
	frame, err := EncodeFrame(payload)
	if err != nil {
		return err
	}

	_, err = w.Write(frame)
	return err
}

// EncodeMessage builds a frame payload from an opcode and its body.
func EncodeMessage(opcode byte, body []byte) []byte {
	return utils.PrependByte(opcode, body)
}

// SplitPayload separates a frame payload into its opcode and body. ok is false
// for an empty payload, which carries no opcode.
func SplitPayload(payload []byte) (opcode byte, body []byte, ok bool) {
	if len(payload) == 0 {
		return 0, nil, false
	}

	return payload[0], payload[1:], true
}

// Package dispatch routes decoded messages to the handler registered for their
// opcode. A Table is generic over the session type so it carries no dependency
// on the server package.
package dispatch

import (
	"errors"
	"fmt"
	"slices"

	"github.com/cyberinferno/go-gamenet/protocol"
	"github.com/cyberinferno/go-gamenet/safemap"
)

// ErrUnknownOpcode is returned by Invoke when no handler is registered for the
// message's opcode.
var ErrUnknownOpcode = errors.New("dispatch: unknown opcode")

// Handler processes one message received from session s.
type Handler[S any] func(s S, msg protocol.Message) error

// HandlerError reports a handler that returned an error or panicked.
type HandlerError struct {
	Opcode byte
	Panic  any
	Err    error
}

// Error implements error.
func (e *HandlerError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("dispatch: handler for opcode 0x%02X panicked: %v", e.Opcode, e.Panic)
	}

	return fmt.Sprintf("dispatch: handler for opcode 0x%02X failed: %v", e.Opcode, e.Err)
}

// Unwrap returns the handler's error, if any.
func (e *HandlerError) Unwrap() error {
	return e.Err
}

// Table maps opcodes to handlers. Registering an opcode twice replaces the
// earlier handler. Safe for concurrent use.
type Table[S any] struct {
	handlers *safemap.SafeMap[byte, Handler[S]]
}

// NewTable returns an empty Table.
func NewTable[S any]() *Table[S] {
	return &Table[S]{handlers: safemap.NewSafeMap[byte, Handler[S]]()}
}

// Register installs h for opcode, replacing any previous handler. A nil
// handler removes the opcode.
func (t *Table[S]) Register(opcode byte, h Handler[S]) {
	if h == nil {
		t.handlers.Delete(opcode)
		return
	}

	t.handlers.Store(opcode, h)
}

// Unregister removes the handler for opcode. Removing an absent opcode is a
// no-op.
func (t *Table[S]) Unregister(opcode byte) {
	t.handlers.Delete(opcode)
}

// Exists reports whether a handler is registered for opcode.
func (t *Table[S]) Exists(opcode byte) bool {
	return t.handlers.Has(opcode)
}

// Lookup returns the handler registered for opcode.
func (t *Table[S]) Lookup(opcode byte) (Handler[S], bool) {
	return t.handlers.Load(opcode)
}

// Opcodes returns the registered opcodes in ascending order.
func (t *Table[S]) Opcodes() []byte {
	ops := t.handlers.Keys()
	slices.Sort(ops)
	return ops
}

// Len returns the number of registered opcodes.
func (t *Table[S]) Len() int {
	return t.handlers.Len()
}

// Clear removes every handler.
func (t *Table[S]) Clear() {
	t.handlers.Clear()
}

// Invoke runs the handler registered for msg's opcode. Panics raised by the
// handler are recovered so that one failing handler cannot take down the
// goroutine that delivered the message.
//
// Parameters:
//   - s: The session the message arrived on
//   - msg: The decoded message
//
// Returns:
//   - nil if the handler ran and succeeded
//   - An error wrapping ErrUnknownOpcode if no handler is registered
//   - A *HandlerError if the handler failed or panicked
func (t *Table[S]) Invoke(s S, msg protocol.Message) (err error) {
	h, ok := t.handlers.Load(msg.Opcode())
	if !ok {
		return fmt.Errorf("%w: 0x%02X", ErrUnknownOpcode, msg.Opcode())
	}

	defer func() {
		if r := recover(); r != nil {
			err = &HandlerError{Opcode: msg.Opcode(), Panic: r}
		}
	}()

	if herr := h(s, msg); herr != nil {
		return &HandlerError{Opcode: msg.Opcode(), Err: herr}
	}

	return nil
}

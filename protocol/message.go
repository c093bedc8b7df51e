package protocol

// Transport identifies the channel a message travelled on.
type Transport int

const (
	TCP Transport = iota
	UDP
)

// String returns "tcp" or "udp".
func (t Transport) String() string {
	switch t {
	case TCP:
		return "tcp"
	case UDP:
		return "udp"
	default:
		return "unknown"
	}
}

// Message is the immutable envelope delivered to opcode handlers. The payload
// belongs to the message; handlers that keep it beyond the call or share it
// across goroutines must copy it.
type Message struct {
	transport Transport
	opcode    byte
	payload   []byte
}

// NewMessage builds a Message. payload is retained, not copied.
func NewMessage(transport Transport, opcode byte, payload []byte) Message {
	if payload == nil {
		payload = []byte{}
	}

	return Message{transport: transport, opcode: opcode, payload: payload}
}

// Transport returns the channel the message arrived on.
func (m Message) Transport() Transport { return m.transport }

// Opcode returns the message type discriminator.
func (m Message) Opcode() byte { return m.opcode }

// Payload returns the command body with the opcode stripped.
func (m Message) Payload() []byte { return m.payload }

// Len returns the body length.
func (m Message) Len() int { return len(m.payload) }

// Text interprets the body as UTF-8.
func (m Message) Text() string { return string(m.payload) }

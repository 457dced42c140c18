package msgsock

import "io"

// Message is the unit of exchange on the wire: a 32-bit identifier used
// to route the message plus an opaque byte payload. The same type
// carries both directions; by convention a handler tags its response
// with the id of the request it answers, though the framing layer does
// not enforce that.
type Message struct {
	id   uint32
	body []byte
}

// NewMessage builds a message from an id and payload. A nil or empty
// payload is valid and frames as a zero-length body.
func NewMessage(id uint32, body []byte) Message {
	return Message{id: id, body: body}
}

// ID returns the routing identifier.
func (m Message) ID() uint32 {
	return m.id
}

// Body returns the raw payload.
func (m Message) Body() []byte {
	return m.body
}

// Length returns the payload length in bytes.
func (m Message) Length() int {
	return len(m.body)
}

// NotFoundID is the reserved id of the response returned when no
// handler is registered for a message id.
const NotFoundID uint32 = 404

var notFoundBody = []byte("Route not found")

// NotFound returns the reserved no-handler response. Receiving it means
// the peer accepted the frame but had no route for its id; the
// connection stays usable.
func NotFound() Message {
	return NewMessage(NotFoundID, notFoundBody)
}

// Codec is the interface for message encoding and decoding. The default
// is FrameCodec; applications with their own framing can replace it via
// CustomCodecOption.
//
// Decode reads from an io.Reader, which lets the codec pull exactly the
// bytes one complete message needs. This is what absorbs TCP
// fragmentation: a read that delivers half a message leaves Decode
// blocked until the rest arrives, and a read that delivers two messages
// leaves the second buffered for the next Decode.
type Codec interface {
	// Decode reads and decodes one complete message from the reader.
	Decode(r io.Reader) (Message, error)
	// Encode encodes a message into the raw bytes to transmit.
	Encode(Message) ([]byte, error)
}

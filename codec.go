package msgsock

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// HeaderSize is the fixed size of the wire header:
// id (uint32, little-endian) followed by payload length (uint32,
// little-endian). There is no magic number, version byte or checksum.
const HeaderSize = 8

// ErrMalformedHeader is returned when fewer than HeaderSize bytes are
// supplied to DecodeHeader.
var ErrMalformedHeader = errors.New("malformed header")

// Encode frames a message as header(id, len(payload)) followed by the
// payload bytes. It never fails; payloads larger than 4GiB are outside
// the wire contract.
func Encode(id uint32, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], id)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf
}

// DecodeHeader extracts the message id and declared payload length from
// a header. The caller must supply at least HeaderSize bytes.
func DecodeHeader(b []byte) (id uint32, length uint32, err error) {
	if len(b) < HeaderSize {
		return 0, 0, ErrMalformedHeader
	}
	id = binary.LittleEndian.Uint32(b[0:4])
	length = binary.LittleEndian.Uint32(b[4:8])
	return id, length, nil
}

// FrameCodec is the Codec for the fixed-header wire format. Its Decode
// reads exactly one complete message from the stream, so partial reads
// and coalesced messages are invisible to callers.
//
// MaxPayload, when non-zero, rejects any frame whose declared payload
// length exceeds it before the body is allocated or read. Without a
// limit a hostile peer can force an allocation of up to 4GiB with a
// single 8-byte header.
type FrameCodec struct {
	MaxPayload uint32
}

// Decode reads one header and its payload. It blocks until the full
// frame is available or the underlying reader fails.
func (c FrameCodec) Decode(r io.Reader) (Message, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Message{}, err
	}

	id, length, err := DecodeHeader(header[:])
	if err != nil {
		return Message{}, err
	}

	if c.MaxPayload > 0 && length > c.MaxPayload {
		return Message{}, ErrMessageTooLarge
	}

	var body []byte
	if length > 0 {
		body = make([]byte, length)
		if _, err := io.ReadFull(r, body); err != nil {
			return Message{}, err
		}
	}

	return NewMessage(id, body), nil
}

// Encode frames the message for transmission.
func (c FrameCodec) Encode(m Message) ([]byte, error) {
	return Encode(m.ID(), m.Body()), nil
}

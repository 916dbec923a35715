package transport

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Opcode identifies the kind of a framed message.
type Opcode byte

// Opcodes of the peer protocol.
const (
	OpGet       Opcode = 1
	OpSet       Opcode = 2
	OpRemove    Opcode = 3
	OpHeartbeat Opcode = 4
	OpNodeInfo  Opcode = 5
	OpResponse  Opcode = 6
	OpError     Opcode = 7
)

func (o Opcode) String() string {
	switch o {
	case OpGet:
		return "GET"
	case OpSet:
		return "SET"
	case OpRemove:
		return "REMOVE"
	case OpHeartbeat:
		return "HEARTBEAT"
	case OpNodeInfo:
		return "NODE_INFO"
	case OpResponse:
		return "RESPONSE"
	case OpError:
		return "ERROR"
	default:
		return fmt.Sprintf("Opcode(%d)", byte(o))
	}
}

func (o Opcode) isRequest() bool {
	return o >= OpGet && o <= OpNodeInfo
}

const (
	lengthSize = 4
	idSize     = 16
	bodyHeader = idSize + 1

	// MaxFrameSize bounds the body of a single frame.
	MaxFrameSize = 64 << 20
)

// Message is one frame on a peer connection. Responses carry the ID of
// the request they answer.
type Message struct {
	ID      uuid.UUID
	Op      Opcode
	Payload []byte
}

// WriteMessage writes m as a length-prefixed frame.
func WriteMessage(w io.Writer, m Message) error {
	n := bodyHeader + len(m.Payload)
	if n > MaxFrameSize {
		return fmt.Errorf("%w: frame of %d bytes exceeds %d", ErrFrameTooLarge, n, MaxFrameSize)
	}

	buf := make([]byte, lengthSize+n)
	binary.BigEndian.PutUint32(buf, uint32(n))
	copy(buf[lengthSize:], m.ID[:])
	buf[lengthSize+idSize] = byte(m.Op)
	copy(buf[lengthSize+bodyHeader:], m.Payload)

	_, err := w.Write(buf)
	return err
}

// ReadMessage reads one frame from r.
func ReadMessage(r io.Reader) (Message, error) {
	var hdr [lengthSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Message{}, err
	}

	n := binary.BigEndian.Uint32(hdr[:])
	if n < bodyHeader {
		return Message{}, fmt.Errorf("%w: frame of %d bytes is shorter than its header", ErrMalformedFrame, n)
	}
	if n > MaxFrameSize {
		return Message{}, fmt.Errorf("%w: frame of %d bytes exceeds %d", ErrFrameTooLarge, n, MaxFrameSize)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Message{}, err
	}

	var m Message
	copy(m.ID[:], body[:idSize])
	m.Op = Opcode(body[idSize])
	if len(body) > bodyHeader {
		m.Payload = body[bodyHeader:]
	}
	return m, nil
}

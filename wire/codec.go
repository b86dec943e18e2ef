package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// HeaderSize is the fixed packet header size: 1 byte kind + 4 bytes sequence.
const HeaderSize = 5

// DefaultMaxPayloadSize is the default limit on the encoded payload.
const DefaultMaxPayloadSize = 65536

var (
	// ErrMalformedPacket is reported for any packet which cannot be decoded:
	// truncated, unknown kind, or a payload failing typed decoding.
	ErrMalformedPacket = errors.New("malformed packet")

	// ErrPayloadTooLarge is reported when the encoded payload exceeds the
	// configured limit. It is raised on the sender, before any bytes leave
	// the process.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// Codec encodes and decodes packets. The zero value uses
// DefaultMaxPayloadSize.
type Codec struct {
	MaxPayloadSize int
}

func (c Codec) maxPayloadSize() int {
	if c.MaxPayloadSize <= 0 {
		return DefaultMaxPayloadSize
	}
	return c.MaxPayloadSize
}

// Encode serializes a packet. The payload, if any, is appended to the
// 5-byte header as a self-describing msgpack map, so fields may be added
// without breaking older decoders.
func (c Codec) Encode(p Packet) ([]byte, error) {
	var payload []byte
	var err error

	switch p.Kind {
	case KindRequest:
		if p.Request == nil {
			return nil, errors.New("request packet without payload")
		}
		payload, err = msgpack.Marshal(p.Request)
	case KindResult:
		if p.Result == nil {
			return nil, errors.New("result packet without payload")
		}
		payload, err = msgpack.Marshal(p.Result)
	case KindAck:
	default:
		return nil, errors.Errorf("unknown packet kind %d", p.Kind)
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if len(payload) > c.maxPayloadSize() {
		return nil, errors.Wrapf(ErrPayloadTooLarge, "%d bytes, limit %d",
			len(payload), c.maxPayloadSize())
	}

	buf := make([]byte, HeaderSize, HeaderSize+len(payload))
	buf[0] = byte(p.Kind)
	binary.BigEndian.PutUint32(buf[1:], p.Seq)
	return append(buf, payload...), nil
}

// Decode deserializes a packet.
func (c Codec) Decode(data []byte) (Packet, error) {
	if len(data) < HeaderSize {
		return Packet{}, errors.Wrapf(ErrMalformedPacket, "truncated: %d bytes", len(data))
	}

	p := Packet{
		Kind: Kind(data[0]),
		Seq:  binary.BigEndian.Uint32(data[1:HeaderSize]),
	}
	payload := data[HeaderSize:]

	switch p.Kind {
	case KindRequest:
		p.Request = &Request{}
		if err := msgpack.Unmarshal(payload, p.Request); err != nil {
			return Packet{}, errors.Wrapf(ErrMalformedPacket, "request payload: %s", err)
		}
	case KindResult:
		p.Result = &Result{}
		if err := msgpack.Unmarshal(payload, p.Result); err != nil {
			return Packet{}, errors.Wrapf(ErrMalformedPacket, "result payload: %s", err)
		}
	case KindAck:
		if len(payload) != 0 {
			return Packet{}, errors.Wrapf(ErrMalformedPacket, "ack with %d payload bytes", len(payload))
		}
	default:
		return Packet{}, errors.Wrapf(ErrMalformedPacket, "unknown kind %d", data[0])
	}

	return p, nil
}

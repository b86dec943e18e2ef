package wire_test

import (
	"math"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/outofforest/shelly/wire"
)

func TestRoundTrip(t *testing.T) {
	requireT := require.New(t)

	c := wire.Codec{}
	packets := []wire.Packet{
		{Kind: wire.KindRequest, Seq: 1, Request: &wire.Request{Content: "df -h"}},
		{Kind: wire.KindRequest, Seq: 0, Request: &wire.Request{Content: ""}},
		{Kind: wire.KindRequest, Seq: math.MaxUint32, Request: &wire.Request{Content: "héllo\n\x00"}},
		{Kind: wire.KindAck, Seq: 42},
		{Kind: wire.KindResult, Seq: 7, Result: &wire.Result{Content: "ok"}},
		{Kind: wire.KindResult, Seq: 7, Result: &wire.Result{Content: "boom", IsError: true}},
	}

	for _, p := range packets {
		data, err := c.Encode(p)
		requireT.NoError(err)

		decoded, err := c.Decode(data)
		requireT.NoError(err)
		requireT.Equal(p, decoded)
	}
}

func TestAckIsExactlyHeader(t *testing.T) {
	requireT := require.New(t)

	data, err := wire.Codec{}.Encode(wire.Packet{Kind: wire.KindAck, Seq: 256})
	requireT.NoError(err)
	requireT.Len(data, wire.HeaderSize)
	requireT.Equal([]byte{0x02, 0x00, 0x00, 0x01, 0x00}, data)
}

func TestTruncatedPacket(t *testing.T) {
	requireT := require.New(t)

	c := wire.Codec{}
	for _, data := range [][]byte{nil, {}, {0x01}, {0x01, 0x00, 0x00, 0x00}} {
		_, err := c.Decode(data)
		requireT.ErrorIs(err, wire.ErrMalformedPacket)
	}
}

func TestUnknownKind(t *testing.T) {
	requireT := require.New(t)

	_, err := wire.Codec{}.Decode([]byte{0xff, 0x00, 0x00, 0x00, 0x01})
	requireT.ErrorIs(err, wire.ErrMalformedPacket)

	_, err = wire.Codec{}.Decode([]byte{0x00, 0x00, 0x00, 0x00, 0x01})
	requireT.ErrorIs(err, wire.ErrMalformedPacket)
}

func TestMalformedPayload(t *testing.T) {
	requireT := require.New(t)

	// Valid envelope, garbage payload.
	_, err := wire.Codec{}.Decode([]byte{0x01, 0x00, 0x00, 0x00, 0x01, 0xc1})
	requireT.ErrorIs(err, wire.ErrMalformedPacket)

	// An ack must not carry payload bytes.
	_, err = wire.Codec{}.Decode([]byte{0x02, 0x00, 0x00, 0x00, 0x01, 0x00})
	requireT.ErrorIs(err, wire.ErrMalformedPacket)
}

func TestPayloadTooLarge(t *testing.T) {
	requireT := require.New(t)

	_, err := wire.Codec{}.Encode(wire.Packet{
		Kind:    wire.KindRequest,
		Seq:     1,
		Request: &wire.Request{Content: strings.Repeat("x", 70000)},
	})
	requireT.ErrorIs(err, wire.ErrPayloadTooLarge)

	data, err := wire.Codec{}.Encode(wire.Packet{
		Kind:    wire.KindRequest,
		Seq:     1,
		Request: &wire.Request{Content: strings.Repeat("x", 60000)},
	})
	requireT.NoError(err)
	requireT.Greater(len(data), 60000)

	_, err = wire.Codec{MaxPayloadSize: 16}.Encode(wire.Packet{
		Kind:    wire.KindRequest,
		Seq:     1,
		Request: &wire.Request{Content: strings.Repeat("x", 17)},
	})
	requireT.ErrorIs(err, wire.ErrPayloadTooLarge)
}

func TestUnknownPayloadFieldsAreSkipped(t *testing.T) {
	requireT := require.New(t)

	payload, err := msgpack.Marshal(map[string]any{
		"content":  "hello",
		"is_error": true,
		"added":    "by a newer sender",
	})
	requireT.NoError(err)

	data := append([]byte{0x03, 0x00, 0x00, 0x00, 0x09}, payload...)
	decoded, err := wire.Codec{}.Decode(data)
	requireT.NoError(err)
	requireT.Equal(wire.Packet{
		Kind:   wire.KindResult,
		Seq:    9,
		Result: &wire.Result{Content: "hello", IsError: true},
	}, decoded)
}

func TestEncodeRequiresPayload(t *testing.T) {
	requireT := require.New(t)

	_, err := wire.Codec{}.Encode(wire.Packet{Kind: wire.KindRequest, Seq: 1})
	requireT.Error(err)
	requireT.False(errors.Is(err, wire.ErrPayloadTooLarge))

	_, err = wire.Codec{}.Encode(wire.Packet{Kind: wire.KindResult, Seq: 1})
	requireT.Error(err)
}

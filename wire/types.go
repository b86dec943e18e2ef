package wire

// Kind identifies the type of a packet.
type Kind uint8

const (
	// KindRequest is sent by a peer to the server.
	KindRequest Kind = 0x01

	// KindAck is sent by the server to confirm a received request.
	KindAck Kind = 0x02

	// KindResult is sent by the server once the request has been handled.
	KindResult Kind = 0x03
)

// Request is the payload of a request packet.
type Request struct {
	Content string `msgpack:"content"`
}

// Result is the payload of a result packet.
type Result struct {
	Content string `msgpack:"content"`
	IsError bool   `msgpack:"is_error"`
}

// Packet is the unit exchanged on the wire. Request is set only for
// KindRequest, Result only for KindResult, acks carry no payload.
type Packet struct {
	Kind    Kind
	Seq     uint32
	Request *Request
	Result  *Result
}

package shelly

import (
	"context"
	"net"
	"net/netip"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
	"github.com/outofforest/shelly/wire"
)

// UserRequest is handed to the orchestrator for each newly classified
// request. The orchestrator resolves Reply with exactly one response, or
// closes it without a value to signal failure.
type UserRequest struct {
	Content string
	Peer    netip.AddrPort
	Reply   chan UserResponse
}

// UserResponse resolves a UserRequest.
type UserResponse struct {
	Content string
	IsError bool
}

// ServerConfig defines server configuration.
type ServerConfig struct {
	// ListenAddr is the UDP address to bind to.
	ListenAddr string
	// MaxPayloadSize limits the payload of a single packet in both
	// directions.
	MaxPayloadSize int
	// DedupCapacity is the maximum number of remembered sequences per peer.
	DedupCapacity int
	// DedupTTL is the maximum age of a remembered sequence.
	DedupTTL time.Duration
	// ExchangeTimeout bounds the orchestrator round-trip for one request.
	ExchangeTimeout time.Duration
	// HandoffBuffer is the capacity of the orchestrator hand-off channel.
	HandoffBuffer int
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:      ":9700",
		MaxPayloadSize:  wire.DefaultMaxPayloadSize,
		DedupCapacity:   256,
		DedupTTL:        5 * time.Minute,
		ExchangeTimeout: 5 * time.Minute,
		HandoffBuffer:   1024,
	}
}

// Server turns the unreliable datagram socket into acknowledged,
// deduplicated request/result exchanges with the orchestrator.
type Server struct {
	config   ServerConfig
	conn     *net.UDPConn
	codec    wire.Codec
	dedup    *dedupTable
	requests chan UserRequest
}

// NewServer creates a server on an already bound socket and returns the
// hand-off channel the orchestrator consumes from.
func NewServer(conn *net.UDPConn, config ServerConfig) (*Server, <-chan UserRequest) {
	requests := make(chan UserRequest, config.HandoffBuffer)
	return &Server{
		config:   config,
		conn:     conn,
		codec:    wire.Codec{MaxPayloadSize: config.MaxPayloadSize},
		dedup:    newDedupTable(config.DedupCapacity, config.DedupTTL),
		requests: requests,
	}, requests
}

// Run runs the receive loop until the context is cancelled. Cancellation is
// also how a vanished orchestrator is signalled; in-flight exchanges are not
// cancelled retroactively but their completions are abandoned.
func (s *Server) Run(ctx context.Context) error {
	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("watchdog", parallel.Fail, func(ctx context.Context) error {
			<-ctx.Done()
			// Unblocks the blocked read.
			_ = s.conn.Close()
			return errors.WithStack(ctx.Err())
		})
		spawn("receiver", parallel.Fail, func(ctx context.Context) error {
			return s.runReceiver(ctx, spawn)
		})

		return nil
	})
}

func (s *Server) runReceiver(ctx context.Context, spawn parallel.SpawnFn) error {
	log := logger.Get(ctx)
	log.Info("Listening", zap.Stringer("addr", s.conn.LocalAddr()))

	buf := make([]byte, wire.HeaderSize+s.config.MaxPayloadSize+1024)
	for {
		n, peer, err := s.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if ctx.Err() != nil {
				return errors.WithStack(ctx.Err())
			}
			return errors.WithStack(err)
		}

		s.handleDatagram(spawn, log, buf[:n], peer)
	}
}

func (s *Server) handleDatagram(
	spawn parallel.SpawnFn,
	log *zap.Logger,
	data []byte,
	peer netip.AddrPort,
) {
	if len(data) > wire.HeaderSize+s.config.MaxPayloadSize {
		log.Warn("Dropping oversized packet",
			zap.Stringer("peer", peer), zap.Int("bytes", len(data)))
		return
	}

	p, err := s.codec.Decode(data)
	if err != nil {
		log.Warn("Dropping malformed packet", zap.Stringer("peer", peer), zap.Error(err))
		return
	}

	if p.Kind != wire.KindRequest {
		// Acks and results are sent only by the server. Receiving one is a
		// protocol violation by the peer, not an error of ours.
		log.Debug("Ignoring unexpected packet kind",
			zap.Stringer("peer", peer), zap.Uint8("kind", uint8(p.Kind)))
		return
	}

	class, cached := s.dedup.Classify(peer, p.Seq)
	switch class {
	case classResolved:
		log.Debug("Replaying cached result", zap.Stringer("peer", peer), zap.Uint32("seq", p.Seq))
		s.send(log, cached, peer)
	case classPending:
		log.Debug("Duplicate request still in flight",
			zap.Stringer("peer", peer), zap.Uint32("seq", p.Seq))
		s.sendAck(log, p.Seq, peer)
	case classNew:
		log.Info("New request", zap.Stringer("peer", peer), zap.Uint32("seq", p.Seq),
			zap.Int("contentLen", len(p.Request.Content)))

		// The ack goes out before the orchestrator is involved, so ack
		// latency never depends on orchestrator latency.
		s.sendAck(log, p.Seq, peer)

		content := p.Request.Content
		seq := p.Seq
		spawn("exchange", parallel.Continue, func(ctx context.Context) error {
			return s.runExchange(ctx, peer, seq, content)
		})
	}
}

// runExchange hands one request to the orchestrator, waits for its reply and
// delivers the result packet. Each exchange runs independently, so results
// for different sequences may overtake each other; peers correlate by
// sequence.
func (s *Server) runExchange(
	ctx context.Context,
	peer netip.AddrPort,
	seq uint32,
	content string,
) error {
	log := logger.Get(ctx)

	reply := make(chan UserResponse, 1)
	select {
	case s.requests <- UserRequest{Content: content, Peer: peer, Reply: reply}:
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	}

	var resp UserResponse
	select {
	case r, ok := <-reply:
		if !ok {
			log.Warn("Reply channel closed without response",
				zap.Stringer("peer", peer), zap.Uint32("seq", seq))
			r = UserResponse{Content: "no response from handler", IsError: true}
		}
		resp = r
	case <-time.After(s.config.ExchangeTimeout):
		log.Warn("Orchestrator response timed out",
			zap.Stringer("peer", peer), zap.Uint32("seq", seq))
		resp = UserResponse{Content: "response timeout", IsError: true}
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	}

	data, err := s.codec.Encode(wire.Packet{
		Kind:   wire.KindResult,
		Seq:    seq,
		Result: &wire.Result{Content: resp.Content, IsError: resp.IsError},
	})
	if err != nil {
		log.Warn("Result does not fit into a packet",
			zap.Stringer("peer", peer), zap.Uint32("seq", seq), zap.Error(err))
		data, err = s.codec.Encode(wire.Packet{
			Kind:   wire.KindResult,
			Seq:    seq,
			Result: &wire.Result{Content: "result too large", IsError: true},
		})
		if err != nil {
			return errors.WithStack(err)
		}
	}

	s.dedup.Resolve(peer, seq, data)
	s.send(log, data, peer)
	return nil
}

func (s *Server) sendAck(log *zap.Logger, seq uint32, peer netip.AddrPort) {
	data, err := s.codec.Encode(wire.Packet{Kind: wire.KindAck, Seq: seq})
	if err != nil {
		log.Error("Encoding ack failed", zap.Error(err))
		return
	}
	s.send(log, data, peer)
}

func (s *Server) send(log *zap.Logger, data []byte, peer netip.AddrPort) {
	if _, err := s.conn.WriteToUDPAddrPort(data, peer); err != nil {
		log.Warn("Send failed", zap.Stringer("peer", peer), zap.Error(err))
	}
}

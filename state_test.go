package shelly

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/outofforest/shelly/wire"
)

func TestExchangeHappyPath(t *testing.T) {
	requireT := require.New(t)

	e := newExchange(1, 3)
	requireT.Equal(phaseAwaitingAck, e.phase)

	requireT.Equal(actAwaitResult, e.OnPacket(wire.Packet{Kind: wire.KindAck, Seq: 1}))
	requireT.Equal(phaseAwaitingResult, e.phase)

	requireT.Equal(actFinish, e.OnPacket(wire.Packet{
		Kind:   wire.KindResult,
		Seq:    1,
		Result: &wire.Result{Content: "out"},
	}))
	requireT.Equal(phaseDone, e.phase)
	requireT.Equal(wire.Result{Content: "out"}, e.result)
	requireT.NoError(e.err)
}

func TestExchangeStalePacketsIgnored(t *testing.T) {
	requireT := require.New(t)

	e := newExchange(2, 3)

	// Ack and result from a prior exchange.
	requireT.Equal(actWait, e.OnPacket(wire.Packet{Kind: wire.KindAck, Seq: 1}))
	requireT.Equal(actWait, e.OnPacket(wire.Packet{
		Kind:   wire.KindResult,
		Seq:    1,
		Result: &wire.Result{Content: "stale"},
	}))
	requireT.Equal(phaseAwaitingAck, e.phase)

	// A duplicate ack after the first one changes nothing.
	requireT.Equal(actAwaitResult, e.OnPacket(wire.Packet{Kind: wire.KindAck, Seq: 2}))
	requireT.Equal(actWait, e.OnPacket(wire.Packet{Kind: wire.KindAck, Seq: 2}))
	requireT.Equal(phaseAwaitingResult, e.phase)
}

func TestExchangeResultWithoutAck(t *testing.T) {
	requireT := require.New(t)

	e := newExchange(5, 3)

	requireT.Equal(actFinish, e.OnPacket(wire.Packet{
		Kind:   wire.KindResult,
		Seq:    5,
		Result: &wire.Result{Content: "cached", IsError: true},
	}))
	requireT.Equal(phaseDone, e.phase)
	requireT.True(e.result.IsError)
}

func TestExchangeRetryCeiling(t *testing.T) {
	requireT := require.New(t)

	e := newExchange(1, 3)

	requireT.Equal(actResend, e.OnTimeout())
	requireT.Equal(actResend, e.OnTimeout())
	requireT.Equal(3, e.attempts)

	requireT.Equal(actFinish, e.OnTimeout())
	requireT.Equal(phaseFailed, e.phase)
	requireT.ErrorIs(e.err, ErrNotResponding)
}

func TestExchangeSharedRetryAccounting(t *testing.T) {
	requireT := require.New(t)

	e := newExchange(1, 3)

	requireT.Equal(actAwaitResult, e.OnPacket(wire.Packet{Kind: wire.KindAck, Seq: 1}))

	// Result timeout resends and drops back to awaiting the ack.
	requireT.Equal(actResend, e.OnTimeout())
	requireT.Equal(phaseAwaitingAck, e.phase)

	requireT.Equal(actAwaitResult, e.OnPacket(wire.Packet{Kind: wire.KindAck, Seq: 1}))
	requireT.Equal(actResend, e.OnTimeout())

	// Third attempt is the last one.
	requireT.Equal(actFinish, e.OnTimeout())
	requireT.ErrorIs(e.err, ErrNotResponding)
}

package shelly

import (
	"github.com/pkg/errors"

	"github.com/outofforest/shelly/wire"
)

// ErrNotResponding is reported when the retry ceiling is exhausted without
// receiving an acknowledgement or result.
var ErrNotResponding = errors.New("shelly not responding")

type exchangePhase int

const (
	phaseAwaitingAck exchangePhase = iota
	phaseAwaitingResult
	phaseDone
	phaseFailed
)

// exchangeAction tells the I/O driver what to do after a transition.
type exchangeAction int

const (
	// actWait keeps waiting on the current timer.
	actWait exchangeAction = iota
	// actAwaitResult switches to the result timer.
	actAwaitResult
	// actResend resends the request packet and restarts the ack timer.
	actResend
	// actFinish means the exchange reached Done or Failed.
	actFinish
)

// exchange is the state machine of one request/result round-trip. It is
// pure: transitions consume decoded packets and timer expirations, the
// caller performs all I/O.
type exchange struct {
	seq        uint32
	maxRetries int

	phase    exchangePhase
	attempts int
	result   wire.Result
	err      error
}

func newExchange(seq uint32, maxRetries int) *exchange {
	return &exchange{
		seq:        seq,
		maxRetries: maxRetries,
		phase:      phaseAwaitingAck,
		attempts:   1,
	}
}

// OnPacket feeds a received packet into the machine. Packets for another
// sequence are stale datagrams from a previous exchange and are ignored.
func (e *exchange) OnPacket(p wire.Packet) exchangeAction {
	if p.Seq != e.seq {
		return actWait
	}

	switch {
	case p.Kind == wire.KindAck && e.phase == phaseAwaitingAck:
		e.phase = phaseAwaitingResult
		return actAwaitResult
	case p.Kind == wire.KindResult && p.Result != nil &&
		(e.phase == phaseAwaitingAck || e.phase == phaseAwaitingResult):
		// A result while still awaiting the ack confirms receipt implicitly.
		e.phase = phaseDone
		e.result = *p.Result
		return actFinish
	default:
		return actWait
	}
}

// OnTimeout handles expiration of the current phase's timer. Resending from
// the result phase is safe: server-side deduplication either re-acks or
// replays the cached result. Retry accounting is shared between both phases.
func (e *exchange) OnTimeout() exchangeAction {
	if e.phase != phaseAwaitingAck && e.phase != phaseAwaitingResult {
		return actFinish
	}

	if e.attempts >= e.maxRetries {
		e.phase = phaseFailed
		e.err = errors.WithStack(ErrNotResponding)
		return actFinish
	}

	e.attempts++
	e.phase = phaseAwaitingAck
	return actResend
}

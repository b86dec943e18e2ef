package shelly

import (
	"net/netip"
	"sync"
	"time"
)

type classification int

const (
	// classNew means the sequence has not been seen within the dedup window.
	classNew classification = iota
	// classPending means the sequence was seen but no result is cached yet.
	classPending
	// classResolved means the cached result for the sequence is available.
	classResolved
)

type dedupEntry struct {
	createdAt time.Time
	// result holds the encoded result packet once the exchange resolved.
	result []byte
}

type peerWindow struct {
	mu      sync.Mutex
	entries map[uint32]*dedupEntry
	// order keeps sequences in insertion order for capacity eviction.
	order []uint32
}

// dedupTable remembers recently seen sequences per peer. A sequence
// re-observed after its entry has been evicted is indistinguishable from a
// new one; deduplication is guaranteed only within the window.
type dedupTable struct {
	capacity int
	ttl      time.Duration

	mu    sync.RWMutex
	peers map[netip.AddrPort]*peerWindow
}

func newDedupTable(capacity int, ttl time.Duration) *dedupTable {
	return &dedupTable{
		capacity: capacity,
		ttl:      ttl,
		peers:    map[netip.AddrPort]*peerWindow{},
	}
}

func (t *dedupTable) peer(key netip.AddrPort) *peerWindow {
	t.mu.RLock()
	w, exists := t.peers[key]
	t.mu.RUnlock()
	if exists {
		return w
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if w, exists := t.peers[key]; exists {
		return w
	}
	w = &peerWindow{entries: map[uint32]*dedupEntry{}}
	t.peers[key] = w
	return w
}

// Classify reports how a received request relates to the peer's window and
// creates a pending entry when the sequence is new. The returned bytes are
// the cached result packet, set only for classResolved.
func (t *dedupTable) Classify(key netip.AddrPort, seq uint32) (classification, []byte) {
	w := t.peer(key)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.evict(t.ttl, t.capacity)

	if e, exists := w.entries[seq]; exists {
		if e.result != nil {
			return classResolved, e.result
		}
		return classPending, nil
	}

	w.entries[seq] = &dedupEntry{createdAt: time.Now()}
	w.order = append(w.order, seq)
	return classNew, nil
}

// Resolve caches the encoded result packet for the sequence. The entry
// transitions pending to resolved at most once; a resolve racing an eviction
// is dropped.
func (t *dedupTable) Resolve(key netip.AddrPort, seq uint32, result []byte) {
	w := t.peer(key)

	w.mu.Lock()
	defer w.mu.Unlock()

	if e, exists := w.entries[seq]; exists && e.result == nil {
		e.result = result
	}
}

// evict removes entries older than ttl, then the oldest-inserted entries
// while over capacity. Called with the peer lock held.
func (w *peerWindow) evict(ttl time.Duration, capacity int) {
	now := time.Now()

	kept := w.order[:0]
	for _, seq := range w.order {
		e, exists := w.entries[seq]
		if !exists {
			continue
		}
		if now.Sub(e.createdAt) >= ttl {
			delete(w.entries, seq)
			continue
		}
		kept = append(kept, seq)
	}
	w.order = kept

	for len(w.order) > capacity {
		delete(w.entries, w.order[0])
		w.order = w.order[1:]
	}
}

package drv

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/reactorlang/runtime/internal/reactive"
	"github.com/reactorlang/runtime/internal/reactive/basis"
	"github.com/reactorlang/runtime/internal/reactive/eval"
)

// stamped is a (value, basis) pair tagged with the transactions it
// causally traces back to, buffered per input name while try_advance looks
// for a consistent batch.
type stamped struct {
	seq   uint64
	value eval.Expr
	basis basis.Stamp
	preds []reactive.TxnID
}

// buffer bounds the per-input "input_buffers[i]" from §3/§4.3 to at most cap
// pending entries, per the "Buffer growth" note in §9: unbounded flight
// would otherwise grow the buffer without limit. Eviction is LRU over
// insertion order (no entry is ever re-read after being peeked, so LRU
// order coincides with arrival order here), via hashicorp/golang-lru/v2.
type buffer struct {
	cache  *lru.Cache[uint64, stamped]
	nextSeq uint64
}

func newBuffer(cap int) *buffer {
	c, err := lru.New[uint64, stamped](cap)
	if err != nil {
		// Only returns an error for cap <= 0, which callers never pass.
		panic(err)
	}
	return &buffer{cache: c}
}

// push appends a newly arrived stamped value, returning it with its
// assigned sequence number.
func (b *buffer) push(value eval.Expr, st basis.Stamp, predTxns []reactive.TxnID) stamped {
	s := stamped{seq: b.nextSeq, value: value, basis: st, preds: predTxns}
	b.nextSeq++
	b.cache.Add(s.seq, s)
	return s
}

// mostRecentCompatible scans entries newest-first and returns the first one
// whose basis is compatible with running, per the try_advance candidate
// rule in §4.3 step 2.
func (b *buffer) mostRecentCompatible(running basis.Stamp) (stamped, bool) {
	keys := b.cache.Keys()
	for i := len(keys) - 1; i >= 0; i-- {
		if v, ok := b.cache.Peek(keys[i]); ok && v.basis.Compatible(running) {
			return v, true
		}
	}
	return stamped{}, false
}

// dropThrough evicts every buffered entry with seq <= adopted.seq: once a
// strictly newer entry has been applied, everything older is no longer
// needed (§4.3 "Buffer retention").
func (b *buffer) dropThrough(adopted stamped) {
	for _, k := range b.cache.Keys() {
		if k <= adopted.seq {
			b.cache.Remove(k)
		}
	}
}

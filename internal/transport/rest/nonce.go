package rest

import (
	"sync"
	"time"
)

// NonceSource produces strictly increasing nonces derived from the wall clock
// plus a configured offset. The offset compensates clock skew against venues
// that reject nonces behind their own time. Safe for concurrent callers.
type NonceSource struct {
	mu     sync.Mutex
	offset int64
	last   int64
}

func NewNonceSource(offset int64) *NonceSource {
	return &NonceSource{offset: offset}
}

// Next returns the next nonce. When the clock reads at or behind the last
// issued value (burst of calls within one tick of the clock), the value is
// bumped instead so the sequence never repeats.
func (n *NonceSource) Next() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	nonce := time.Now().UnixNano() + n.offset
	if nonce <= n.last {
		nonce = n.last + 1
	}
	n.last = nonce
	return nonce
}

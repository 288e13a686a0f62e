package blackboard

import (
	"sync/atomic"
	"time"
)

// NonceSource issues strictly increasing command nonces. Values are
// wall-clock milliseconds, bumped by one when the clock has not advanced,
// so a receiver can compare them with its own activation time.
type NonceSource struct {
	last atomic.Int64
	now  func() int64
}

// NewNonceSource creates a source seeded from the wall clock.
func NewNonceSource() *NonceSource {
	return &NonceSource{now: func() int64 { return time.Now().UnixMilli() }}
}

// Next returns a nonce greater than every nonce previously returned.
func (n *NonceSource) Next() int64 {
	for {
		last := n.last.Load()
		next := max(n.now(), last+1)
		if n.last.CompareAndSwap(last, next) {
			return next
		}
	}
}

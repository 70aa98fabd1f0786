package event

import "sync/atomic"

// Gate coalesces re-entrant calls: Run executes fn unless another Run on
// the same gate is already in progress, in which case it returns false
// without calling fn.
//
// Used around "content changed" propagation so a placement that mutates
// the document cannot trigger a nested rebuild.
type Gate struct {
	busy atomic.Bool
}

// Run calls fn if the gate is free and reports whether it did.
func (g *Gate) Run(fn func()) bool {
	if !g.busy.CompareAndSwap(false, true) {
		return false
	}
	defer g.busy.Store(false)
	fn()
	return true
}

package torrent

import "sync/atomic"

// PendingOps counts persistence requests that have not been answered yet.
type PendingOps struct {
	n atomic.Int64
}

func (p *PendingOps) Add() int64 {
	return p.n.Add(1)
}

// Done records one answer. It reports false, and leaves the counter at zero,
// when nothing was pending.
func (p *PendingOps) Done() (int64, bool) {
	for {
		cur := p.n.Load()
		if cur <= 0 {
			return 0, false
		}
		if p.n.CompareAndSwap(cur, cur-1) {
			return cur - 1, true
		}
	}
}

func (p *PendingOps) Load() int64 {
	return p.n.Load()
}

package guard

import "sync/atomic"

type peakValue struct {
	v atomic.Int64
}

func (p *peakValue) set(n int64) {
	p.v.Store(n)
}

func (p *peakValue) get() int64 {
	return p.v.Load()
}

func (p *peakValue) raise(n int64) {
	for {
		cur := p.v.Load()
		if n <= cur || p.v.CompareAndSwap(cur, n) {
			return
		}
	}
}

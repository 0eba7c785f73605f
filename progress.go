package dashkit

import "sync"

// ProgressFunc receives upload progress as a percentage in [0, 100].
type ProgressFunc func(percent int)

// progressTracker turns byte counts into monotonic percentages and drops
// repeats, so callers see each value at most once.
type progressTracker struct {
	mu   sync.Mutex
	last int
	fn   ProgressFunc
}

func newProgressTracker(fn ProgressFunc) *progressTracker {
	return &progressTracker{last: -1, fn: fn}
}

func (p *progressTracker) bytes(sent, total int64) {
	if total <= 0 {
		return
	}
	pct := int(sent * 100 / total)
	// 100 is reserved for a confirmed upload.
	if pct >= 100 {
		pct = 99
	}
	p.report(pct)
}

func (p *progressTracker) report(pct int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pct <= p.last {
		return
	}
	p.last = pct
	p.fn(pct)
}

func (p *progressTracker) complete() {
	p.report(100)
}

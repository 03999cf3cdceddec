package orchestrator

import (
	"sync"
	"sync/atomic"
)

// progressCell publishes a 0-100 value that never decreases.
type progressCell struct {
	value atomic.Int32

	// mu serializes mirrors so a slower writer cannot store an older value
	mu       sync.Mutex
	mirrored int32
	mirror   func(int)
}

func newProgressCell(mirror func(int)) *progressCell {
	return &progressCell{mirrored: -1, mirror: mirror}
}

// Advance raises the cell to pct and reports whether the value changed.
func (p *progressCell) Advance(pct int) bool {
	if pct > 100 {
		pct = 100
	}
	for {
		cur := p.value.Load()
		if int32(pct) <= cur {
			return false
		}
		if p.value.CompareAndSwap(cur, int32(pct)) {
			break
		}
	}
	p.publish()
	return true
}

// Load returns the last published value.
func (p *progressCell) Load() int {
	return int(p.value.Load())
}

func (p *progressCell) publish() {
	if p.mirror == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	cur := p.value.Load()
	if cur <= p.mirrored {
		return
	}
	p.mirrored = cur
	p.mirror(int(cur))
}

// pageCounter turns per-provider page completions into overall progress.
type pageCounter struct {
	done  atomic.Int64
	total int64
	cell  *progressCell
}

func (c *pageCounter) pageDone() {
	done := c.done.Add(1)
	if c.total <= 0 {
		return
	}
	pct := done * 100 / c.total
	// 100 is published only once the run has really completed.
	if pct >= 100 {
		pct = 99
	}
	c.cell.Advance(int(pct))
}

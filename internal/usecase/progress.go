package usecase

import "sync"

// tracker is the shared progress counter. The lock covers the increment and
// the callback together, so reported done values are monotonically
// non-decreasing even with concurrent dispatch units.
type tracker struct {
	mu       sync.Mutex
	done     int
	total    int
	callback func(done, total int)
}

func newTracker(total int, callback func(done, total int)) *tracker {
	return &tracker{total: total, callback: callback}
}

func (t *tracker) report() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callback(t.done, t.total)
}

func (t *tracker) addOne() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done++
	t.callback(t.done, t.total)
}

func (t *tracker) addBulk(amount int) {
	if amount <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done += amount
	t.callback(t.done, t.total)
}

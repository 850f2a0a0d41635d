package loop

import "time"

// timerEntry is one armed timer. It lives both in the `timers` map (keyed
// by id, for O(1) lookup/removal) and in the timerHeap (ordered by
// deadline). No third-party timer-wheel library appears anywhere in the
// retrieved pack, so the min-heap comes from the standard library's
// container/heap — see DESIGN.md.
type timerEntry struct {
	id       int64
	cb       TimerFunc
	deadline time.Time
	mode     ScheduleMode
	period   time.Duration // for SchedulePeriodic / the periodic phase of ScheduleOnceThenPeriodic
	index    int
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	return h[i].deadline.Before(h[j].deadline)
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x interface{}) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	e.index = -1
	return e
}

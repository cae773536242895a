package serial

import (
	"container/heap"
	"sync"
)

// Tuning constants for the planner-feed latency estimator, grounded on
// spec.md §4.1 "percentile estimator" design notes. Mirrors the teacher's
// defaults.go pattern of named constants backing a functional-options
// config rather than inline magic numbers.
const (
	defaultQueueSize        = 10000
	defaultHeapRatio        = 0.95
	defaultIgnoreAbove      = 1.0   // seconds
	// defaultThreshold is DEFAULT_THRESHOLD: the fixed fallback percentile
	// used while the window holds no sample, and one of the two bars a
	// latency can clear for isFedFast.
	defaultThreshold = 0.13 // seconds
)

// percentileEstimator tracks the HeapRatio-th percentile of a bounded
// stream of confirmation latencies using two heaps: a max-heap of the
// lower HeapRatio fraction of samples and a min-heap of the remaining
// upper fraction. The percentile value is always the max of the low heap.
// Samples older than QueueSize are dropped lazily: each sample carries a
// sequence number, and a FIFO of those sequence numbers bounds removal
// instead of rebalancing on every push.
type percentileEstimator struct {
	mu sync.Mutex

	queueSize   int
	heapRatio   float64
	ignoreAbove float64
	fallback    float64

	low  lowHeap
	high highHeap

	order []sampleRef // FIFO of everything currently counted, oldest first
	seq   uint64
}

type sample struct {
	seq   uint64
	value float64
	// removed is set once this sample has been lazily evicted; the heap
	// pop loop skips entries whose removed flag is set instead of
	// searching the heap for them.
	removed *bool
}

type sampleRef struct {
	seq     uint64
	value   float64
	inLow   bool
	removed *bool
}

type lowHeap []*sample  // max-heap: largest value at the root
type highHeap []*sample // min-heap: smallest value at the root

func (h lowHeap) Len() int            { return len(h) }
func (h lowHeap) Less(i, j int) bool  { return h[i].value > h[j].value }
func (h lowHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *lowHeap) Push(x interface{}) { *h = append(*h, x.(*sample)) }
func (h *lowHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func (h highHeap) Len() int            { return len(h) }
func (h highHeap) Less(i, j int) bool  { return h[i].value < h[j].value }
func (h highHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *highHeap) Push(x interface{}) { *h = append(*h, x.(*sample)) }
func (h *highHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func newPercentileEstimator() *percentileEstimator {
	return &percentileEstimator{
		queueSize:   defaultQueueSize,
		heapRatio:   defaultHeapRatio,
		ignoreAbove: defaultIgnoreAbove,
		fallback:    defaultThreshold,
	}
}

// record adds a confirmation-latency sample, in seconds. Samples above
// ignoreAbove are dropped outright: spec.md notes these are almost always
// caused by a long-running G-code (e.g. G28 homing), not by planner
// starvation, and would otherwise skew the threshold upward.
func (p *percentileEstimator) record(seconds float64) {
	if seconds > p.ignoreAbove {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.seq++
	removed := false
	s := &sample{seq: p.seq, value: seconds, removed: &removed}

	p.placeAndRebalance(s)
	p.order = append(p.order, sampleRef{seq: s.seq, value: s.value, removed: s.removed})

	for len(p.order) > p.queueSize {
		p.evictOldest()
	}
}

func (p *percentileEstimator) placeAndRebalance(s *sample) {
	if p.low.Len() == 0 || s.value <= p.low[0].value {
		heap.Push(&p.low, s)
	} else {
		heap.Push(&p.high, s)
	}
	p.rebalance()
}

// rebalance keeps len(low) == ceil(heapRatio * total), moving the
// boundary element across heaps as needed.
func (p *percentileEstimator) rebalance() {
	total := p.countLive(lowHeap(p.low)) + p.countLive(highHeap(p.high))
	if total == 0 {
		return
	}
	target := int(float64(total)*p.heapRatio + 0.999999)
	if target < 1 {
		target = 1
	}

	for p.countLive(lowHeap(p.low)) > target && p.low.Len() > 0 {
		top := heap.Pop(&p.low).(*sample)
		if *top.removed {
			continue
		}
		heap.Push(&p.high, top)
	}
	for p.countLive(lowHeap(p.low)) < target && p.high.Len() > 0 {
		top := heap.Pop(&p.high).(*sample)
		if *top.removed {
			continue
		}
		heap.Push(&p.low, top)
	}
}

func (p *percentileEstimator) countLive(h interface{ Len() int }) int {
	var samples []*sample
	switch v := h.(type) {
	case lowHeap:
		samples = v
	case highHeap:
		samples = v
	default:
		return h.Len()
	}
	n := 0
	for _, s := range samples {
		if !*s.removed {
			n++
		}
	}
	return n
}

// evictOldest lazily removes the single oldest counted sample by flipping
// its removed flag; it is skipped the next time its heap is popped past.
func (p *percentileEstimator) evictOldest() {
	oldest := p.order[0]
	p.order = p.order[1:]
	*oldest.removed = true
	p.pruneRemoved()
}

// pruneRemoved drops removed entries sitting at the root of either heap so
// the root value stays accurate without a full rebuild; removed entries
// below the root stay in the heap until popped, and countLive skips them.
func (p *percentileEstimator) pruneRemoved() {
	for p.low.Len() > 0 && *p.low[0].removed {
		heap.Pop(&p.low)
	}
	for p.high.Len() > 0 && *p.high[0].removed {
		heap.Pop(&p.high)
	}
}

// threshold returns the current percentile estimate, falling back to
// defaultThreshold until the window holds at least one sample.
func (p *percentileEstimator) threshold() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruneRemoved()
	if p.low.Len() == 0 {
		return p.fallback
	}
	return p.low[0].value
}

// isFedFast reports whether the given confirmation latency, in seconds, is
// at or below either the computed rolling percentile or the fixed
// DEFAULT_THRESHOLD (spec.md §4.2 "planner-feed estimator"). It backs
// Queue.IsFedFast; the Command Engine does not call it.
func (p *percentileEstimator) isFedFast(seconds float64) bool {
	return seconds <= p.threshold() || seconds <= defaultThreshold
}

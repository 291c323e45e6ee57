package gc

import (
	"sync"
	"time"

	"github.com/RowanDark/strintern/heap"
	"github.com/RowanDark/strintern/logging"
)

// RootSource is a runtime structure holding strong roots.
type RootSource interface {
	VisitRoots(v RootVisitor, flags VisitRootFlags)
}

// SystemWeakHolder is a runtime structure holding weak roots that the
// collector clears once their referents die.
type SystemWeakHolder interface {
	SweepSystemWeaks(v IsMarkedVisitor)
	ChangeWeakRootState(state WeakRootState)
}

type Options struct {
	Logger *logging.Logger
}

// Result summarises one collection.
type Result struct {
	Cycle    int
	Marked   int
	Freed    int
	Duration time.Duration
}

// Collector is a stop-the-world mark/sweep collector over a heap.Heap.
// Strings hold no references, so marking is just root visiting.
type Collector struct {
	mu     sync.Mutex
	heap   *heap.Heap
	roots  []RootSource
	weaks  []SystemWeakHolder
	logger *logging.Logger
	cycles int
}

// NewCollector creates a collector for h and installs it as h's collect
// hook, so allocation on a full heap triggers a collection.
func NewCollector(h *heap.Heap, opts Options) *Collector {
	c := &Collector{heap: h, logger: opts.Logger.With("gc")}
	h.SetCollectHook(func() { c.Collect() })
	return c
}

func (c *Collector) AddRootSource(src RootSource) {
	c.mu.Lock()
	c.roots = append(c.roots, src)
	c.mu.Unlock()
}

func (c *Collector) AddSystemWeakHolder(holder SystemWeakHolder) {
	c.mu.Lock()
	c.weaks = append(c.weaks, holder)
	c.mu.Unlock()
}

// Cycles returns the number of completed collections.
func (c *Collector) Cycles() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cycles
}

// Collect runs one full collection. Weak roots are inaccessible from the
// start of marking until system weaks have been swept.
func (c *Collector) Collect() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := time.Now()

	for _, w := range c.weaks {
		w.ChangeWeakRootState(WeakRootStateNoReadsOrWrites)
	}

	c.heap.ClearMarks()
	marked := c.heap.MarkPinned()
	marker := RootVisitorFunc(func(root *Root, info RootInfo) {
		if c.heap.Mark(root.Read()) {
			marked++
		}
	})
	for _, src := range c.roots {
		src.VisitRoots(marker, VisitRootFlagAllRoots)
	}

	for _, w := range c.weaks {
		w.SweepSystemWeaks(c.heap)
	}
	freed := c.heap.Sweep()

	for _, w := range c.weaks {
		w.ChangeWeakRootState(WeakRootStateNormal)
	}

	c.cycles++
	res := Result{Cycle: c.cycles, Marked: marked, Freed: freed, Duration: time.Since(start)}
	c.logger.Debugf("cycle %d: marked=%d freed=%d duration=%s", res.Cycle, res.Marked, res.Freed, res.Duration)
	return res
}

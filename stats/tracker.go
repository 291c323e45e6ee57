package stats

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/RowanDark/strintern/logging"
)

type Options struct {
	Logger   *logging.Logger
	Interval time.Duration
}

// Tracker counts intern table events. A nil *Tracker ignores every call.
type Tracker struct {
	mu    sync.RWMutex
	start time.Time

	strongHits    int
	weakHits      int
	promotions    int
	strongInserts int
	weakInserts   int
	raceLosses    int
	allocFailures int
	weakWaits     int
	sweeps        int
	swept         int
	moved         int
	freezes       int
	imageLoads    int
	imageEntries  int

	logger   *logging.Logger
	interval time.Duration
	ticker   *time.Ticker
	done     chan struct{}
	stopOnce sync.Once
}

type Snapshot struct {
	StrongHits    int
	WeakHits      int
	Promotions    int
	StrongInserts int
	WeakInserts   int
	RaceLosses    int
	AllocFailures int
	WeakWaits     int
	Sweeps        int
	Swept         int
	Moved         int
	Freezes       int
	ImageLoads    int
	ImageEntries  int
	Duration      time.Duration
}

func NewTracker(opts Options) *Tracker {
	interval := opts.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Tracker{
		logger:   opts.Logger,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (t *Tracker) Start(ctxDone <-chan struct{}) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.start = time.Now()
	t.mu.Unlock()

	if t.logger == nil {
		return
	}

	t.ticker = time.NewTicker(t.interval)
	go func() {
		for {
			select {
			case <-t.ticker.C:
				t.logSnapshot(false)
			case <-ctxDone:
				return
			case <-t.done:
				return
			}
		}
	}()
}

func (t *Tracker) Stop() Snapshot {
	if t == nil {
		return Snapshot{}
	}
	t.stopOnce.Do(func() {
		close(t.done)
		if t.ticker != nil {
			t.ticker.Stop()
		}
	})
	return t.Snapshot()
}

func (t *Tracker) update(fn func()) {
	if t == nil {
		return
	}
	t.mu.Lock()
	fn()
	t.mu.Unlock()
}

// RecordHit counts an intern call answered by an existing entry.
func (t *Tracker) RecordHit(strong bool) {
	t.update(func() {
		if strong {
			t.strongHits++
		} else {
			t.weakHits++
		}
	})
}

func (t *Tracker) RecordPromotion() {
	t.update(func() { t.promotions++ })
}

func (t *Tracker) RecordInsert(strong bool) {
	t.update(func() {
		if strong {
			t.strongInserts++
		} else {
			t.weakInserts++
		}
	})
}

// RecordRaceLost counts a freshly allocated candidate discarded because
// another caller interned equal content first.
func (t *Tracker) RecordRaceLost() {
	t.update(func() { t.raceLosses++ })
}

func (t *Tracker) RecordAllocationFailure() {
	t.update(func() { t.allocFailures++ })
}

func (t *Tracker) RecordWeakWait() {
	t.update(func() { t.weakWaits++ })
}

func (t *Tracker) RecordSweep(cleared, moved int) {
	t.update(func() {
		t.sweeps++
		t.swept += cleared
		t.moved += moved
	})
}

func (t *Tracker) RecordFreeze() {
	t.update(func() { t.freezes++ })
}

func (t *Tracker) RecordImageLoad(entries int) {
	t.update(func() {
		t.imageLoads++
		t.imageEntries += entries
	})
}

func (t *Tracker) Snapshot() Snapshot {
	if t == nil {
		return Snapshot{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	duration := time.Duration(0)
	if !t.start.IsZero() {
		duration = time.Since(t.start)
	}
	return Snapshot{
		StrongHits:    t.strongHits,
		WeakHits:      t.weakHits,
		Promotions:    t.promotions,
		StrongInserts: t.strongInserts,
		WeakInserts:   t.weakInserts,
		RaceLosses:    t.raceLosses,
		AllocFailures: t.allocFailures,
		WeakWaits:     t.weakWaits,
		Sweeps:        t.sweeps,
		Swept:         t.swept,
		Moved:         t.moved,
		Freezes:       t.freezes,
		ImageLoads:    t.imageLoads,
		ImageEntries:  t.imageEntries,
		Duration:      duration,
	}
}

// Calls is the number of intern calls that produced a result.
func (s Snapshot) Calls() int {
	return s.StrongHits + s.WeakHits + s.Promotions + s.StrongInserts + s.WeakInserts
}

// HitRate is the percentage of intern calls answered without a new entry.
func (s Snapshot) HitRate() float64 {
	calls := s.Calls()
	if calls == 0 {
		return 0
	}
	return (float64(s.StrongHits+s.WeakHits+s.Promotions) / float64(calls)) * 100
}

func (s Snapshot) Outcomes() map[string]int {
	return map[string]int{
		"strong_hit":    s.StrongHits,
		"weak_hit":      s.WeakHits,
		"promoted":      s.Promotions,
		"strong_insert": s.StrongInserts,
		"weak_insert":   s.WeakInserts,
	}
}

func (t *Tracker) logSnapshot(final bool) {
	if t == nil || t.logger == nil {
		return
	}
	snapshot := t.Snapshot()
	if final {
		t.logger.Infof("Intern statistics: %s", Render(snapshot))
		return
	}
	t.logger.Infof("Stats update: %s", Render(snapshot))
}

// Render formats a snapshot as a single line of key=value fields.
func Render(s Snapshot) string {
	parts := []string{
		fmt.Sprintf("calls=%d", s.Calls()),
		fmt.Sprintf("hit_rate=%.1f%%", s.HitRate()),
		fmt.Sprintf("races_lost=%d", s.RaceLosses),
		fmt.Sprintf("alloc_failures=%d", s.AllocFailures),
		fmt.Sprintf("sweeps=%d", s.Sweeps),
		fmt.Sprintf("swept=%d", s.Swept),
		fmt.Sprintf("freezes=%d", s.Freezes),
	}
	if s.ImageLoads > 0 {
		parts = append(parts, fmt.Sprintf("images=%d(%d entries)", s.ImageLoads, s.ImageEntries))
	}
	if s.Duration > 0 {
		parts = append(parts, fmt.Sprintf("duration=%s", s.Duration.Truncate(time.Millisecond)))
	}
	if s.Calls() > 0 {
		parts = append(parts, fmt.Sprintf("outcomes=%s", FormatBreakdown(s.Outcomes(), 3)))
	}
	return strings.Join(parts, " | ")
}

// FormatBreakdown renders the largest non-zero counts, highest first.
func FormatBreakdown(counts map[string]int, limit int) string {
	if limit <= 0 {
		limit = len(counts)
	}
	type item struct {
		name  string
		count int
	}
	entries := make([]item, 0, len(counts))
	for name, count := range counts {
		if count == 0 {
			continue
		}
		entries = append(entries, item{name: name, count: count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count == entries[j].count {
			return entries[i].name < entries[j].name
		}
		return entries[i].count > entries[j].count
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	formatted := make([]string, 0, len(entries))
	for _, entry := range entries {
		formatted = append(formatted, fmt.Sprintf("%s=%d", entry.name, entry.count))
	}
	return strings.Join(formatted, ", ")
}

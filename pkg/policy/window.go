package policy

import "time"

// slidingWindow counts events over a rolling period using fixed-granularity
// buckets. It is not safe for concurrent use; callers hold their own lock.
//
//  1. Add increments the bucket for the current instant
//  2. Buckets older than the window are cleared
//  3. Sum totals the remaining buckets
type slidingWindow struct {
	window     time.Duration
	bucketSize time.Duration
	buckets    []windowBucket
	head       int
}

type windowBucket struct {
	start time.Time
	count int64
}

// newSlidingWindow creates a window with buckets of bucketSize. A window
// shorter than bucketSize uses a single bucket.
func newSlidingWindow(window, bucketSize time.Duration) *slidingWindow {
	if bucketSize <= 0 {
		bucketSize = window
	}
	n := int(window / bucketSize)
	if n == 0 {
		n = 1
	}
	return &slidingWindow{
		window:     window,
		bucketSize: bucketSize,
		buckets:    make([]windowBucket, n+1),
	}
}

func (w *slidingWindow) add(now time.Time, v int64) {
	w.prune(now)
	w.bucketFor(now).count += v
}

func (w *slidingWindow) sum(now time.Time) int64 {
	w.prune(now)
	var total int64
	for i := range w.buckets {
		if !w.buckets[i].start.IsZero() {
			total += w.buckets[i].count
		}
	}
	return total
}

// oldest returns the start of the oldest live bucket.
func (w *slidingWindow) oldest(now time.Time) (time.Time, bool) {
	w.prune(now)
	var oldest time.Time
	for i := range w.buckets {
		b := w.buckets[i]
		if !b.start.IsZero() && b.count > 0 && (oldest.IsZero() || b.start.Before(oldest)) {
			oldest = b.start
		}
	}
	return oldest, !oldest.IsZero()
}

// prune clears buckets that ended before now-window.
func (w *slidingWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	for i := range w.buckets {
		b := w.buckets[i]
		if !b.start.IsZero() && !b.start.Add(w.bucketSize).After(cutoff) {
			w.buckets[i] = windowBucket{}
		}
	}
}

func (w *slidingWindow) bucketFor(now time.Time) *windowBucket {
	start := now.Truncate(w.bucketSize)
	if w.buckets[w.head].start.Equal(start) {
		return &w.buckets[w.head]
	}
	for i := range w.buckets {
		if w.buckets[i].start.Equal(start) {
			return &w.buckets[i]
		}
	}

	target := -1
	for i := range w.buckets {
		if w.buckets[i].start.IsZero() {
			target = i
			break
		}
	}
	if target < 0 {
		target = 0
		for i := 1; i < len(w.buckets); i++ {
			if w.buckets[i].start.Before(w.buckets[target].start) {
				target = i
			}
		}
	}
	w.buckets[target] = windowBucket{start: start}
	w.head = target
	return &w.buckets[target]
}

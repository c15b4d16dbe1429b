// Package syncqueue implements the Sync Queue component (spec §4.7): a
// priority queue of pending per-file operations with path-keyed dedup and
// attempt backoff.
package syncqueue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// Kind is the type of change a queue entry represents.
type Kind int

const (
	KindCreate Kind = iota
	KindWrite
	KindDelete
)

// Direction says which side initiates the sync action for an entry: the
// local side pushing its content to the server, or pulling the server's
// content locally.
type Direction int

const (
	Push Direction = iota
	Pull
)

// priorityClass orders entries: permission files first, then small files,
// then large files, per spec §3's "Change event. ... Priority is derived".
type priorityClass int

const (
	PriorityPermissionFile priorityClass = iota
	PrioritySmallFile
	PriorityLargeFile
)

// Entry is a queue entry: a change event plus retry bookkeeping.
type Entry struct {
	Path           string
	Kind           Kind
	Direction      Direction
	Priority       priorityClass
	LocalHash      string
	RemoteHash     string
	DetectedAt     time.Time
	Attempts       int
	NextEligibleAt time.Time

	index int // heap.Interface bookkeeping
}

// maxAttempts is the number of failed attempts before an entry is parked in
// the dead-letter set and surfaced as "sync failed", per spec §4.7.
const maxAttempts = 8

// backoffBase and backoffCap tune the exponential-with-jitter backoff
// computed by go-retry between attempts.
const (
	backoffBase = 500 * time.Millisecond
	backoffCap  = 2 * time.Minute
)

// entryHeap implements container/heap.Interface over *Entry, ordered by
// (priority asc, detected_at asc) as spec §4.7 requires. No pack repo
// vendors a generic priority-queue library (see DESIGN.md); container/heap
// is the stdlib building block this wraps.
type entryHeap []*Entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}

	return h[i].DetectedAt.Before(h[j].DetectedAt)
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*Entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]

	return e
}

// Queue is a thread-safe priority queue of Entry values, deduplicated by
// path, with a dead-letter set for entries that exceed maxAttempts.
type Queue struct {
	mu         sync.Mutex
	heap       entryHeap
	byPath     map[string]*Entry
	deadLetter map[string]*Entry
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{
		byPath:     make(map[string]*Entry),
		deadLetter: make(map[string]*Entry),
	}
}

// Push inserts or merges a change for e.Path. If an entry for the same path
// is already queued, it collapses to the newer event while preserving the
// earlier DetectedAt, per spec §4.7's dedup rule.
func (q *Queue) Push(e *Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, ok := q.byPath[e.Path]; ok {
		earliest := existing.DetectedAt
		if e.DetectedAt.Before(earliest) {
			earliest = e.DetectedAt
		}

		existing.Kind = e.Kind
		existing.Direction = e.Direction
		existing.Priority = e.Priority
		existing.LocalHash = e.LocalHash
		existing.RemoteHash = e.RemoteHash
		existing.DetectedAt = earliest
		heap.Fix(&q.heap, existing.index)

		return
	}

	q.byPath[e.Path] = e
	heap.Push(&q.heap, e)
}

// Pop removes and returns the highest-priority entry whose NextEligibleAt
// has passed. Returns nil, false if nothing is eligible right now.
func (q *Queue) Pop(now time.Time) (*Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	// Scan in heap order; an entry not yet eligible is skipped for now
	// rather than removed. With a small working set this linear scan over
	// the (rarely deep) heap slice is simpler and cheap enough.
	best := -1

	for i, e := range q.heap {
		if e.NextEligibleAt.After(now) {
			continue
		}

		if best == -1 || q.heap.Less(i, best) {
			best = i
		}
	}

	if best == -1 {
		return nil, false
	}

	e := heap.Remove(&q.heap, best).(*Entry)
	delete(q.byPath, e.Path)

	return e, true
}

// Requeue re-inserts e after a failed attempt, incrementing Attempts and
// setting NextEligibleAt via exponential backoff. If Attempts exceeds
// maxAttempts, e is parked in the dead-letter set instead and false is
// returned.
func (q *Queue) Requeue(e *Entry, now time.Time) bool {
	e.Attempts++

	if e.Attempts > maxAttempts {
		q.mu.Lock()
		q.deadLetter[e.Path] = e
		q.mu.Unlock()

		return false
	}

	e.NextEligibleAt = now.Add(backoffDelay(e.Attempts))

	q.mu.Lock()
	q.byPath[e.Path] = e
	heap.Push(&q.heap, e)
	q.mu.Unlock()

	return true
}

// backoffDelay computes the exponential-with-jitter delay for the given
// attempt count using go-retry's backoff helper.
func backoffDelay(attempt int) time.Duration {
	b, err := retry.NewExponential(backoffBase)
	if err != nil {
		return backoffCap
	}

	b = retry.WithCappedDuration(backoffCap, b)
	b = retry.WithJitterPercent(20, b)

	var delay time.Duration

	for i := 0; i <= attempt; i++ {
		d, stop := b.Next()
		if stop {
			return backoffCap
		}

		delay = d
	}

	return delay
}

// DeadLetters returns a snapshot of every entry parked in the dead-letter
// set, surfaced to the user as "sync failed" per spec §4.7.
func (q *Queue) DeadLetters() []*Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*Entry, 0, len(q.deadLetter))
	for _, e := range q.deadLetter {
		out = append(out, e)
	}

	return out
}

// Len returns the number of entries currently eligible-or-waiting in the
// queue (excluding dead letters).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.heap)
}

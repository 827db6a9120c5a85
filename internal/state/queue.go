package state

import (
	"container/heap"
	"sync"
	"time"
)

// TimingQueue is a thread-safe min-priority queue of polling jobs keyed on
// fire time, with insertion order as tiebreak. No two live entries ever
// share the same fire time: Push bumps a colliding time forward by one
// second until it is unique, so re-running the scheduler cannot produce
// duplicate fire times either.
type TimingQueue struct {
	mu   sync.Mutex
	h    timingHeap
	seq  int64
	used map[int64]struct{} // unix seconds of live entries
}

type timingEntry struct {
	fireTime time.Time
	seq      int64
	job      Job
}

func NewTimingQueue() *TimingQueue {
	return &TimingQueue{used: make(map[int64]struct{})}
}

// Push inserts a job, bumping the fire time by 1s while it collides with an
// entry already in the queue. It returns the fire time actually used.
func (q *TimingQueue) Push(fireTime time.Time, job Job) time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()

	fireTime = fireTime.Truncate(time.Second)
	for {
		if _, taken := q.used[fireTime.Unix()]; !taken {
			break
		}
		fireTime = fireTime.Add(time.Second)
	}
	q.used[fireTime.Unix()] = struct{}{}

	q.seq++
	heap.Push(&q.h, timingEntry{fireTime: fireTime, seq: q.seq, job: job})
	return fireTime
}

// Peek returns the head entry without removing it.
func (q *TimingQueue) Peek() (time.Time, Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return time.Time{}, Job{}, false
	}
	e := q.h[0]
	return e.fireTime, e.job, true
}

// Pop removes and returns the head entry.
func (q *TimingQueue) Pop() (time.Time, Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return time.Time{}, Job{}, false
	}
	e := heap.Pop(&q.h).(timingEntry)
	delete(q.used, e.fireTime.Unix())
	return e.fireTime, e.job, true
}

func (q *TimingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}

type timingHeap []timingEntry

func (h timingHeap) Len() int { return len(h) }

func (h timingHeap) Less(i, j int) bool {
	if h[i].fireTime.Equal(h[j].fireTime) {
		return h[i].seq < h[j].seq
	}
	return h[i].fireTime.Before(h[j].fireTime)
}

func (h timingHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timingHeap) Push(x any) { *h = append(*h, x.(timingEntry)) }

func (h *timingHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

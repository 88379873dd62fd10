package scheduler

import (
	"container/heap"
	"time"
)

// Entry is one key due at DueAt.
type Entry struct {
	Key   string
	DueAt time.Time
	index int
}

// entryHeap orders by DueAt, then key for a stable pop order.
type entryHeap []*Entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].DueAt.Equal(h[j].DueAt) {
		return h[i].Key < h[j].Key
	}
	return h[i].DueAt.Before(h[j].DueAt)
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

// Queue is a min-heap of due entries keyed by Key. It is not safe for
// concurrent use; Scheduler guards it.
type Queue struct {
	h     entryHeap
	byKey map[string]*Entry
}

func NewQueue() *Queue {
	return &Queue{byKey: make(map[string]*Entry)}
}

// Push adds key or moves it to dueAt if already queued.
func (q *Queue) Push(key string, dueAt time.Time) {
	if e, ok := q.byKey[key]; ok {
		e.DueAt = dueAt
		heap.Fix(&q.h, e.index)
		return
	}
	e := &Entry{Key: key, DueAt: dueAt}
	heap.Push(&q.h, e)
	q.byKey[key] = e
}

func (q *Queue) Remove(key string) bool {
	e, ok := q.byKey[key]
	if !ok {
		return false
	}
	heap.Remove(&q.h, e.index)
	delete(q.byKey, key)
	return true
}

// PopDue removes and returns every key due at or before now, earliest first.
func (q *Queue) PopDue(now time.Time) []string {
	var keys []string
	for q.h.Len() > 0 && !q.h[0].DueAt.After(now) {
		e := heap.Pop(&q.h).(*Entry)
		delete(q.byKey, e.Key)
		keys = append(keys, e.Key)
	}
	return keys
}

// Peek returns the earliest entry without removing it.
func (q *Queue) Peek() (Entry, bool) {
	if q.h.Len() == 0 {
		return Entry{}, false
	}
	return *q.h[0], true
}

func (q *Queue) Len() int { return q.h.Len() }

func (q *Queue) Contains(key string) bool {
	_, ok := q.byKey[key]
	return ok
}

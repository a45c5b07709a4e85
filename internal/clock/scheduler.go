// Copyright 2020-2022 JackTrip Labs, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package clock

import (
	"container/heap"
	"sync"
	"time"
)

// firingGraceWindow is how close to a deadline an action must be before
// it is considered "in flight" and therefore no longer cancellable.
const firingGraceWindow = 2 * time.Millisecond

// Action is invoked by the Scheduler once its target instant arrives.
// skew is actual-fire-time minus target (positive means late).
type Action func(firedAt time.Time, skew time.Duration)

type scheduledItem struct {
	target time.Time
	seq    uint64
	action Action
	cancel bool
	index  int
}

type itemHeap []*scheduledItem

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].target.Equal(h[j].target) {
		return h[i].seq < h[j].seq
	}
	return h[i].target.Before(h[j].target)
}
func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *itemHeap) Push(x interface{}) {
	item := x.(*scheduledItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Handle lets a caller cancel a previously scheduled Action.
type Handle struct {
	item *scheduledItem
	s    *Scheduler
}

// Cancel removes the action if its deadline has not yet entered the
// current tick. Returns false once firing is imminent or already done.
func (h Handle) Cancel() bool {
	return h.s.cancel(h.item)
}

// Scheduler runs Actions at their target wall-clock instant using a
// single worker goroutine that sleeps until the next deadline instead
// of busy-polling, per the no-polling requirement of the spec.
type Scheduler struct {
	clock Clock
	mu    sync.Mutex
	heap  itemHeap
	seq   uint64
	wake  chan struct{}
	done  chan struct{}
}

// NewScheduler constructs a Scheduler and starts its worker goroutine.
func NewScheduler(c Clock) *Scheduler {
	s := &Scheduler{
		clock: c,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	heap.Init(&s.heap)
	go s.run()
	return s
}

// Stop terminates the worker goroutine. Pending actions never fire.
func (s *Scheduler) Stop() {
	close(s.done)
}

// Schedule queues action to run at (or as soon after as the OS allows)
// the given wall-clock instant.
func (s *Scheduler) Schedule(at time.Time, action Action) Handle {
	s.mu.Lock()
	s.seq++
	item := &scheduledItem{target: at, seq: s.seq, action: action}
	heap.Push(&s.heap, item)
	earliest := s.heap[0] == item
	s.mu.Unlock()

	if earliest {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	return Handle{item: item, s: s}
}

func (s *Scheduler) cancel(item *scheduledItem) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.index < 0 || item.index >= len(s.heap) || s.heap[item.index] != item {
		return false
	}
	if s.clock.Now().Add(firingGraceWindow).After(item.target) {
		return false
	}
	item.cancel = true
	heap.Remove(&s.heap, item.index)
	return true
}

func (s *Scheduler) run() {
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	for {
		s.mu.Lock()
		var next time.Time
		hasNext := len(s.heap) > 0
		if hasNext {
			next = s.heap[0].target
		}
		s.mu.Unlock()

		var wait time.Duration
		if hasNext {
			wait = time.Until(next)
			if wait < 0 {
				wait = 0
			}
		} else {
			wait = time.Hour
		}
		timer.Reset(wait)

		select {
		case <-s.done:
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
			continue
		case <-timer.C:
			s.fireDue()
		}
	}
}

// fireDue pops and runs every item whose target has arrived.
func (s *Scheduler) fireDue() {
	now := s.clock.Now()
	for {
		s.mu.Lock()
		if len(s.heap) == 0 || s.heap[0].target.After(now) {
			s.mu.Unlock()
			return
		}
		item := heap.Pop(&s.heap).(*scheduledItem)
		s.mu.Unlock()

		if item.cancel {
			continue
		}
		firedAt := s.clock.Now()
		skew := firedAt.Sub(item.target)
		item.action(firedAt, skew)
	}
}

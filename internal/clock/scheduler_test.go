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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSchedulerFiresInOrder(t *testing.T) {
	assert := assert.New(t)
	s := NewScheduler(NewSystem())
	defer s.Stop()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(3)

	now := time.Now()
	s.Schedule(now.Add(30*time.Millisecond), func(time.Time, time.Duration) {
		mu.Lock()
		order = append(order, 3)
		mu.Unlock()
		wg.Done()
	})
	s.Schedule(now.Add(10*time.Millisecond), func(time.Time, time.Duration) {
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
		wg.Done()
	})
	s.Schedule(now.Add(20*time.Millisecond), func(time.Time, time.Duration) {
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
		wg.Done()
	})

	wg.Wait()
	assert.Equal([]int{1, 2, 3}, order)
}

func TestSchedulerCancel(t *testing.T) {
	assert := assert.New(t)
	s := NewScheduler(NewSystem())
	defer s.Stop()

	fired := false
	h := s.Schedule(time.Now().Add(50*time.Millisecond), func(time.Time, time.Duration) {
		fired = true
	})
	assert.True(h.Cancel())
	time.Sleep(80 * time.Millisecond)
	assert.False(fired)
}

func TestSchedulerCancelTooLateFails(t *testing.T) {
	assert := assert.New(t)
	s := NewScheduler(NewSystem())
	defer s.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	h := s.Schedule(time.Now().Add(1*time.Millisecond), func(time.Time, time.Duration) {
		wg.Done()
	})
	wg.Wait()
	assert.False(h.Cancel())
}

func TestSchedulerSkewReported(t *testing.T) {
	assert := assert.New(t)
	s := NewScheduler(NewSystem())
	defer s.Stop()

	done := make(chan time.Duration, 1)
	target := time.Now().Add(20 * time.Millisecond)
	s.Schedule(target, func(firedAt time.Time, skew time.Duration) {
		done <- skew
	})
	skew := <-done
	assert.True(skew >= 0)
	assert.True(skew < 10*time.Millisecond)
}

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

package eventbus

import (
	"sync"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
)

func TestPublishDeliversInOrderPerSubscriber(t *testing.T) {
	assert := assert.New(t)
	b := New(logr.Discard())

	var mu sync.Mutex
	var seen []int
	b.Subscribe(KindNodeDiscovered, Inline, func(e Event) {
		mu.Lock()
		seen = append(seen, e.Payload.(int))
		mu.Unlock()
	})

	for i := 0; i < 5; i++ {
		b.Publish(Event{Kind: KindNodeDiscovered, Payload: i})
	}
	assert.Equal([]int{0, 1, 2, 3, 4}, seen)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	assert := assert.New(t)
	b := New(logr.Discard())

	count := 0
	sub := b.Subscribe(KindNodeLost, Inline, func(Event) { count++ })
	b.Publish(Event{Kind: KindNodeLost})
	b.Unsubscribe(sub)
	b.Publish(Event{Kind: KindNodeLost})
	assert.Equal(1, count)
}

func TestPanickingHandlerIsRemoved(t *testing.T) {
	assert := assert.New(t)
	b := New(logr.Discard())

	b.Subscribe(KindVoiceWake, Inline, func(Event) {
		panic("boom")
	})
	assert.NotPanics(func() {
		b.Publish(Event{Kind: KindVoiceWake})
	})
	b.mu.RLock()
	defer b.mu.RUnlock()
	assert.Empty(b.subs[KindVoiceWake])
}

func TestDifferentKindsAreIsolated(t *testing.T) {
	assert := assert.New(t)
	b := New(logr.Discard())

	var aCount, bCount int
	b.Subscribe(KindVoiceWake, Inline, func(Event) { aCount++ })
	b.Subscribe(KindVoiceCommand, Inline, func(Event) { bCount++ })

	b.Publish(Event{Kind: KindVoiceWake})
	assert.Equal(1, aCount)
	assert.Equal(0, bCount)
}

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

package discovery

import (
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"

	"github.com/skeleton-crew/agentd/internal/eventbus"
	"github.com/skeleton-crew/agentd/internal/model"
)

func TestObserveNewNodeEmitsDiscovered(t *testing.T) {
	assert := assert.New(t)
	bus := eventbus.New(logr.Discard())
	var got eventbus.Event
	bus.Subscribe(eventbus.KindNodeDiscovered, eventbus.Inline, func(e eventbus.Event) { got = e })

	table := NewNodeTable(logr.Discard(), bus, time.Minute)
	table.Observe(model.NodeDescriptor{ID: "n1", Name: "studio-a", Host: "10.0.0.5"})

	assert.Equal(eventbus.KindNodeDiscovered, got.Kind)
	snap := table.Snapshot()
	assert.Equal(1, len(snap))
	assert.Equal(model.NodeOnline, snap["n1"].Status)
}

func TestObserveUpdateEmitsUpdated(t *testing.T) {
	assert := assert.New(t)
	bus := eventbus.New(logr.Discard())
	var updates int
	bus.Subscribe(eventbus.KindNodeUpdated, eventbus.Inline, func(eventbus.Event) { updates++ })

	table := NewNodeTable(logr.Discard(), bus, time.Minute)
	table.Observe(model.NodeDescriptor{ID: "n1", Name: "studio-a", Host: "10.0.0.5"})
	table.Observe(model.NodeDescriptor{ID: "n1", Name: "studio-a-renamed", Host: "10.0.0.5"})

	assert.Equal(1, updates)
}

func TestSweepExpiredMarksOfflineWithoutRemoving(t *testing.T) {
	assert := assert.New(t)
	bus := eventbus.New(logr.Discard())
	var lost string
	bus.Subscribe(eventbus.KindNodeLost, eventbus.Inline, func(e eventbus.Event) { lost = e.Payload.(string) })

	table := NewNodeTable(logr.Discard(), bus, 10*time.Millisecond)
	table.Observe(model.NodeDescriptor{ID: "n1", Host: "10.0.0.5"})
	time.Sleep(20 * time.Millisecond)
	table.SweepExpired()

	assert.Equal("n1", lost)
	snap := table.Snapshot()
	assert.Equal(1, len(snap))
	assert.Equal(model.NodeOffline, snap["n1"].Status)
}

func TestObserveHostChangeEmitsCollision(t *testing.T) {
	assert := assert.New(t)
	bus := eventbus.New(logr.Discard())
	var collisions int
	bus.Subscribe(eventbus.KindIDCollision, eventbus.Inline, func(eventbus.Event) { collisions++ })

	table := NewNodeTable(logr.Discard(), bus, time.Minute)
	table.Observe(model.NodeDescriptor{ID: "n1", Host: "10.0.0.5", Name: "a"})
	table.Observe(model.NodeDescriptor{ID: "n1", Host: "10.0.0.9", Name: "a"})

	assert.Equal(1, collisions)
}

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

// Package eventbus implements the daemon's typed publish-subscribe hub.
// It replaces the GUI-background-thread signal bridge of the source
// system: the GUI is just one subscriber among several here, and the
// core never assumes one exists.
package eventbus

import (
	"sync"

	"github.com/go-logr/logr"
)

// Kind identifies an event type flowing through the bus.
type Kind string

// Event kinds emitted by core components, per spec §4.9.
const (
	KindNodeDiscovered        Kind = "node_discovered"
	KindNodeLost              Kind = "node_lost"
	KindNodeUpdated           Kind = "node_updated"
	KindServiceRegistered     Kind = "service_registered"
	KindServiceUpdated        Kind = "service_updated"
	KindServiceUnregistered   Kind = "service_unregistered"
	KindJackPortChanged       Kind = "jack_port_changed"
	KindJackConnectionChanged Kind = "jack_connection_changed"
	KindJackTransportChanged  Kind = "jack_transport_changed"
	KindTransportSkewReported Kind = "transport_skew_reported"
	KindVoiceWake             Kind = "voice_wake"
	KindVoiceCommand          Kind = "voice_command"
	KindVoiceWakeTimeout      Kind = "wake_timeout"
	KindToolInvocationStarted Kind = "tool_invocation_started"
	KindToolInvocationFinished Kind = "tool_invocation_finished"
	KindIDCollision           Kind = "id_collision"
)

// Event is a single published occurrence. Payload is kind-specific.
type Event struct {
	Kind    Kind
	Payload interface{}
}

// Handler reacts to an Event. Panics are recovered by the bus.
type Handler func(Event)

// Executor runs fn on whatever execution context a subscriber chose
// (e.g. a UI main-thread queue vs a worker pool). The default, Async,
// spawns a goroutine per event so slow subscribers never block Publish.
type Executor func(fn func())

// Async is the default Executor: each delivery runs on its own goroutine.
func Async(fn func()) { go fn() }

// Inline runs fn synchronously, useful in tests that assert ordering.
func Inline(fn func()) { fn() }

type subscription struct {
	id       uint64
	kind     Kind
	handler  Handler
	executor Executor
}

// Bus owns no state beyond its subscription tables, per spec §4.9.
type Bus struct {
	log  logr.Logger
	mu   sync.RWMutex
	subs map[Kind][]*subscription
	next uint64
}

// New constructs an empty Bus.
func New(log logr.Logger) *Bus {
	return &Bus{log: log, subs: make(map[Kind][]*subscription)}
}

// Subscription is an opaque handle returned by Subscribe, used to Unsubscribe.
type Subscription struct {
	kind Kind
	id   uint64
}

// Subscribe registers handler for kind, delivered via executor (Async if nil).
func (b *Bus) Subscribe(kind Kind, executor Executor, handler Handler) Subscription {
	if executor == nil {
		executor = Async
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	sub := &subscription{id: b.next, kind: kind, handler: handler, executor: executor}
	b.subs[kind] = append(b.subs[kind], sub)
	return Subscription{kind: kind, id: sub.id}
}

// Unsubscribe removes a previously registered subscription.
func (b *Bus) Unsubscribe(s Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(s.kind, s.id)
}

func (b *Bus) removeLocked(kind Kind, id uint64) {
	list := b.subs[kind]
	for i, s := range list {
		if s.id == id {
			b.subs[kind] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Publish delivers event to every subscriber of its kind through that
// subscriber's Executor. An Inline subscriber runs on the publisher's
// goroutine: it sees events in publish order, and Publish waits for its
// handler to return. An Async subscriber gets each event on a goroutine
// of its own: Publish does not wait for it, and the order in which its
// handlers run is not defined. Inter-subscriber order is not guaranteed.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	list := make([]*subscription, len(b.subs[event.Kind]))
	copy(list, b.subs[event.Kind])
	b.mu.RUnlock()

	for _, sub := range list {
		sub := sub
		sub.executor(func() {
			defer func() {
				if r := recover(); r != nil {
					b.log.Info("event subscriber panicked; removing subscription",
						"kind", event.Kind, "panic", r)
					b.mu.Lock()
					b.removeLocked(sub.kind, sub.id)
					b.mu.Unlock()
				}
			}()
			sub.handler(event)
		})
	}
}

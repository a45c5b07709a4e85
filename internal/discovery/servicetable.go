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
	"sync"

	"github.com/go-logr/logr"

	"github.com/skeleton-crew/agentd/internal/eventbus"
	"github.com/skeleton-crew/agentd/internal/model"
)

// ServiceAction is the kind of change carried on the service channel.
type ServiceAction string

// Service channel actions.
const (
	ServiceRegistered   ServiceAction = "registered"
	ServiceUpdated      ServiceAction = "updated"
	ServiceUnregistered ServiceAction = "unregistered"
)

// ServiceEvent is one message published on the service channel, keyed
// by topic (the service's Type) for subscriber filtering.
type ServiceEvent struct {
	Action  ServiceAction            `json:"action"`
	Service model.ServiceDescriptor  `json:"service"`
}

// ServiceTable is a copy-on-write projection of every known service
// across every known node, maintained from local registration calls and
// from service-channel deltas received from peers.
type ServiceTable struct {
	log logr.Logger
	bus *eventbus.Bus

	mu   sync.Mutex
	snap map[string]model.ServiceDescriptor // key: ServiceDescriptor.Key()
}

// NewServiceTable constructs an empty ServiceTable.
func NewServiceTable(log logr.Logger, bus *eventbus.Bus) *ServiceTable {
	return &ServiceTable{
		log:  log.WithName("servicetable"),
		bus:  bus,
		snap: make(map[string]model.ServiceDescriptor),
	}
}

// Snapshot returns the current service table, keyed by "node_id/name".
func (t *ServiceTable) Snapshot() map[string]model.ServiceDescriptor {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

// ByType returns every known service whose Type matches typ, or every
// service if typ is empty (the wildcard subscription).
func (t *ServiceTable) ByType(typ model.ServiceType) []model.ServiceDescriptor {
	snap := t.Snapshot()
	out := make([]model.ServiceDescriptor, 0, len(snap))
	for _, s := range snap {
		if typ == "" || s.Type == typ {
			out = append(out, s)
		}
	}
	return out
}

// Apply installs a ServiceEvent into the table and republishes it on the
// Event Bridge as the corresponding typed event.
func (t *ServiceTable) Apply(ev ServiceEvent) {
	key := ev.Service.Key()
	t.mu.Lock()
	next := cloneServices(t.snap)
	switch ev.Action {
	case ServiceUnregistered:
		delete(next, key)
	default:
		next[key] = ev.Service
	}
	t.snap = next
	t.mu.Unlock()

	switch ev.Action {
	case ServiceRegistered:
		t.bus.Publish(eventbus.Event{Kind: eventbus.KindServiceRegistered, Payload: ev.Service})
	case ServiceUpdated:
		t.bus.Publish(eventbus.Event{Kind: eventbus.KindServiceUpdated, Payload: ev.Service})
	case ServiceUnregistered:
		t.bus.Publish(eventbus.Event{Kind: eventbus.KindServiceUnregistered, Payload: ev.Service})
	}
}

func cloneServices(in map[string]model.ServiceDescriptor) map[string]model.ServiceDescriptor {
	out := make(map[string]model.ServiceDescriptor, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

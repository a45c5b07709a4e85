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

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"

	"github.com/skeleton-crew/agentd/internal/eventbus"
	"github.com/skeleton-crew/agentd/internal/model"
)

func TestServiceTableApplyRegisteredThenUnregistered(t *testing.T) {
	assert := assert.New(t)
	bus := eventbus.New(logr.Discard())
	table := NewServiceTable(logr.Discard(), bus)

	svc := model.ServiceDescriptor{NodeID: "n1", Type: model.ServiceSTTEngine, Name: "whisper"}
	table.Apply(ServiceEvent{Action: ServiceRegistered, Service: svc})
	assert.Equal(1, len(table.Snapshot()))

	table.Apply(ServiceEvent{Action: ServiceUnregistered, Service: svc})
	assert.Equal(0, len(table.Snapshot()))
}

func TestServiceTableByTypeWildcard(t *testing.T) {
	assert := assert.New(t)
	bus := eventbus.New(logr.Discard())
	table := NewServiceTable(logr.Discard(), bus)

	table.Apply(ServiceEvent{Action: ServiceRegistered, Service: model.ServiceDescriptor{NodeID: "n1", Type: model.ServiceSTTEngine, Name: "a"}})
	table.Apply(ServiceEvent{Action: ServiceRegistered, Service: model.ServiceDescriptor{NodeID: "n1", Type: model.ServiceTTSEngine, Name: "b"}})

	assert.Equal(2, len(table.ByType("")))
	assert.Equal(1, len(table.ByType(model.ServiceSTTEngine)))
}

func TestServiceTablePublishesTypedEvents(t *testing.T) {
	assert := assert.New(t)
	bus := eventbus.New(logr.Discard())
	var kinds []eventbus.Kind
	bus.Subscribe(eventbus.KindServiceRegistered, eventbus.Inline, func(e eventbus.Event) { kinds = append(kinds, e.Kind) })
	bus.Subscribe(eventbus.KindServiceUnregistered, eventbus.Inline, func(e eventbus.Event) { kinds = append(kinds, e.Kind) })

	table := NewServiceTable(logr.Discard(), bus)
	svc := model.ServiceDescriptor{NodeID: "n1", Type: model.ServiceSTTEngine, Name: "whisper"}
	table.Apply(ServiceEvent{Action: ServiceRegistered, Service: svc})
	table.Apply(ServiceEvent{Action: ServiceUnregistered, Service: svc})

	assert.Equal([]eventbus.Kind{eventbus.KindServiceRegistered, eventbus.KindServiceUnregistered}, kinds)
}

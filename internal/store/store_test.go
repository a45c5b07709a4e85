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

package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeleton-crew/agentd/internal/model"
)

func TestSaveAndListNodes(t *testing.T) {
	assert := assert.New(t)
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	node := model.NodeDescriptor{
		ID: "indigo", Name: "Indigo", Host: "192.168.32.7", ControlPort: 6000,
		Roles: []model.Role{model.RoleAudioHub}, Tags: map[string]string{"room": "studio-a"},
		Status: model.NodeOnline, LastSeen: time.Now().Truncate(time.Second),
	}
	require.NoError(t, s.SaveNode(node))

	nodes, err := s.Nodes()
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal("indigo", nodes[0].ID)
	assert.Equal([]model.Role{model.RoleAudioHub}, nodes[0].Roles)
	assert.Equal("studio-a", nodes[0].Tags["room"])
}

func TestSaveNodeUpserts(t *testing.T) {
	assert := assert.New(t)
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	node := model.NodeDescriptor{ID: "indigo", Name: "Indigo", Status: model.NodeOnline, LastSeen: time.Now()}
	require.NoError(t, s.SaveNode(node))
	node.Status = model.NodeOffline
	require.NoError(t, s.SaveNode(node))

	nodes, err := s.Nodes()
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(model.NodeOffline, nodes[0].Status)
}

func TestSaveAndListInvocations(t *testing.T) {
	assert := assert.New(t)
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	start := time.Now().Truncate(time.Second)
	inv := model.ToolInvocation{
		ID: "inv-1", ToolName: "jack_status", CallerID: "indigo",
		StartedAt: start, EndedAt: start.Add(time.Millisecond), Outcome: model.OutcomeOK,
	}
	require.NoError(t, s.SaveInvocation(inv))

	invs, err := s.Invocations(10)
	require.NoError(t, err)
	require.Len(t, invs, 1)
	assert.Equal("jack_status", invs[0].ToolName)
	assert.Equal(model.OutcomeOK, invs[0].Outcome)
}

func TestNoopStoreIsInert(t *testing.T) {
	assert := assert.New(t)
	var s Store = Noop{}
	assert.NoError(s.SaveNode(model.NodeDescriptor{}))
	nodes, err := s.Nodes()
	assert.NoError(err)
	assert.Empty(nodes)
	assert.NoError(s.SaveInvocation(model.ToolInvocation{}))
	invs, err := s.Invocations(0)
	assert.NoError(err)
	assert.Empty(invs)
	assert.NoError(s.Close())
}

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

package voice

import (
	"sync"

	"github.com/skeleton-crew/agentd/internal/model"
)

// AliasTable resolves a normalized spoken phrase to a canonical command
// name, checked node-scoped first then globally.
type AliasTable struct {
	mu      sync.RWMutex
	byNode  map[string]map[string]string // nodeID -> normalized phrase -> command
	global  map[string]string            // normalized phrase -> command
}

// NewAliasTable constructs an AliasTable from a flat list of aliases.
func NewAliasTable(aliases []model.CommandAlias) *AliasTable {
	t := &AliasTable{byNode: make(map[string]map[string]string), global: make(map[string]string)}
	for _, a := range aliases {
		t.Add(a)
	}
	return t
}

// Add installs one alias, scoped to a.NodeID if set, else global.
func (t *AliasTable) Add(a model.CommandAlias) {
	t.mu.Lock()
	defer t.mu.Unlock()
	phrase := Normalize(a.Phrase)
	if a.NodeID == "" {
		t.global[phrase] = a.Command
		return
	}
	m, ok := t.byNode[a.NodeID]
	if !ok {
		m = make(map[string]string)
		t.byNode[a.NodeID] = m
	}
	m[phrase] = a.Command
}

// Resolve looks up normalizedPhrase for nodeID, checking node-scoped
// aliases first then the global table. Returns "", false on a miss.
func (t *AliasTable) Resolve(nodeID, normalizedPhrase string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if m, ok := t.byNode[nodeID]; ok {
		if cmd, ok := m[normalizedPhrase]; ok {
			return cmd, true
		}
	}
	cmd, ok := t.global[normalizedPhrase]
	return cmd, ok
}

// Command is the result of a successful command-extraction match.
type Command struct {
	TargetNode string
	Command    string
	RawText    string
	Confidence float64
}

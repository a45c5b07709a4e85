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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/skeleton-crew/agentd/internal/model"
)

func TestWakeGateCheckOpensWindowOnSuffixMatch(t *testing.T) {
	assert := assert.New(t)
	gate := NewWakeGate(map[string]string{"n1": "hey studio"}, time.Minute)
	now := time.Now()

	assert.Equal("", gate.Check("nothing relevant", now))
	assert.Equal("n1", gate.Check("okay hey studio", now))
	assert.True(gate.IsOpen("n1", now))
}

func TestWakeGateWindowExpiresAfterDuration(t *testing.T) {
	assert := assert.New(t)
	gate := NewWakeGate(map[string]string{"n1": "hey studio"}, 10*time.Millisecond)
	now := time.Now()

	gate.Check("hey studio", now)
	assert.True(gate.IsOpen("n1", now))
	assert.False(gate.IsOpen("n1", now.Add(20*time.Millisecond)))
}

func TestWakeGateSweepExpiredRemovesAndReportsOnce(t *testing.T) {
	assert := assert.New(t)
	gate := NewWakeGate(map[string]string{"n1": "hey studio"}, 10*time.Millisecond)
	now := time.Now()

	gate.Check("hey studio", now)
	expired := gate.SweepExpired(now.Add(20 * time.Millisecond))
	assert.Equal([]string{"n1"}, expired)

	// Already removed: a second sweep reports nothing further.
	assert.Empty(gate.SweepExpired(now.Add(30 * time.Millisecond)))
}

func TestWakeGateCloseEndsWindowImmediately(t *testing.T) {
	assert := assert.New(t)
	gate := NewWakeGate(map[string]string{"n1": "hey studio"}, time.Minute)
	now := time.Now()

	gate.Check("hey studio", now)
	gate.Close("n1")
	assert.False(gate.IsOpen("n1", now))
	assert.Empty(gate.OpenNodes(now))
}

func TestNormalizeLowercasesStripsPunctuationAndCollapsesWhitespace(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("start the transport", Normalize("  Start, the   Transport!! "))
}

func TestAliasTableResolvesNodeScopedBeforeGlobal(t *testing.T) {
	assert := assert.New(t)
	table := NewAliasTable([]model.CommandAlias{
		{Phrase: "play", Command: "transport_start"},
		{Phrase: "play", Command: "special_start", NodeID: "n1"},
	})

	cmd, ok := table.Resolve("n1", Normalize("play"))
	assert.True(ok)
	assert.Equal("special_start", cmd)

	cmd, ok = table.Resolve("n2", Normalize("play"))
	assert.True(ok)
	assert.Equal("transport_start", cmd)

	_, ok = table.Resolve("n2", Normalize("unknown phrase"))
	assert.False(ok)
}

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

package transport

import (
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
)

func TestAddRemoveAgentIsIdempotent(t *testing.T) {
	assert := assert.New(t)
	c := NewCoordinator(logr.Discard())
	c.AddAgent("10.0.0.5:6000", "studio-a")
	c.AddAgent("10.0.0.5:6000", "studio-a")
	assert.Equal(1, len(c.Agents()))

	c.RemoveAgent("10.0.0.5:6000")
	c.RemoveAgent("10.0.0.5:6000")
	assert.Equal(0, len(c.Agents()))
}

func TestQueryAllWithNoAgentsReturnsEmpty(t *testing.T) {
	assert := assert.New(t)
	c := NewCoordinator(logr.Discard())
	results := c.QueryAll(0)
	assert.Empty(results)
}

func TestQueryAllUnreachableAgentReportsError(t *testing.T) {
	assert := assert.New(t)
	c := NewCoordinator(logr.Discard())
	c.AddAgent("127.0.0.1:1", "unreachable")
	results := c.QueryAll(50 * time.Millisecond)
	status, ok := results["127.0.0.1:1"]
	assert.True(ok)
	assert.Error(status.Err)
}

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

package registry

import (
	"errors"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"

	"github.com/skeleton-crew/agentd/internal/eventbus"
	"github.com/skeleton-crew/agentd/internal/skerr"
)

func newTestRegistry() *Registry {
	return New(logr.Discard(), eventbus.New(logr.Discard()), 4)
}

func echoTool() Tool {
	return Tool{
		Name: "echo",
		Fields: []Field{
			{Name: "msg", Type: FieldString, Required: true},
		},
		Handler: func(args map[string]interface{}, callerID string) (interface{}, error) {
			return args["msg"], nil
		},
	}
}

func TestRegisterRejectsCollision(t *testing.T) {
	assert := assert.New(t)
	r := newTestRegistry()
	assert.NoError(r.Register(echoTool()))
	err := r.Register(echoTool())
	assert.True(skerr.Is(err, skerr.KindToolExists))
}

func TestExecuteUnknownToolFails(t *testing.T) {
	assert := assert.New(t)
	r := newTestRegistry()
	_, err := r.Execute("nope", nil, "caller-1")
	assert.True(skerr.Is(err, skerr.KindToolNotFound))
}

func TestExecuteValidatesRequiredFields(t *testing.T) {
	assert := assert.New(t)
	r := newTestRegistry()
	assert.NoError(r.Register(echoTool()))

	_, err := r.Execute("echo", map[string]interface{}{}, "caller-1")
	assert.True(skerr.Is(err, skerr.KindInvalidArgs))

	serr, ok := err.(*skerr.Error)
	assert.True(ok)
	assert.Equal(1, len(serr.Fields))
	assert.Equal("msg", serr.Fields[0].Field)
}

func TestExecuteSucceedsAndRecordsHistory(t *testing.T) {
	assert := assert.New(t)
	r := newTestRegistry()
	assert.NoError(r.Register(echoTool()))

	result, err := r.Execute("echo", map[string]interface{}{"msg": "hi"}, "caller-1")
	assert.NoError(err)
	assert.Equal("hi", result)

	hist := r.History(HistoryFilter{})
	assert.Equal(1, len(hist))
	assert.Equal("echo", hist[0].ToolName)
	assert.Equal("caller-1", hist[0].CallerID)
	assert.Equal("ok", string(hist[0].Outcome))
}

func TestExecuteRecordsHandlerErrorOutcome(t *testing.T) {
	assert := assert.New(t)
	r := newTestRegistry()
	assert.NoError(r.Register(Tool{
		Name:   "boom",
		Fields: nil,
		Handler: func(map[string]interface{}, string) (interface{}, error) {
			return nil, skerr.New(skerr.KindInternal, "exploded")
		},
	}))

	_, err := r.Execute("boom", nil, "caller-2")
	assert.Error(err)

	hist := r.History(HistoryFilter{ToolName: "boom"})
	assert.Equal(1, len(hist))
	assert.Equal("error", string(hist[0].Outcome))
	assert.Equal("internal", hist[0].ErrorKind)
}

func TestExecuteWrapsNonSkerrHandlerErrors(t *testing.T) {
	assert := assert.New(t)
	r := newTestRegistry()
	assert.NoError(r.Register(Tool{
		Name: "plain-error",
		Handler: func(map[string]interface{}, string) (interface{}, error) {
			return nil, errors.New("unexpected")
		},
	}))

	_, err := r.Execute("plain-error", nil, "caller-3")
	assert.Error(err)
	hist := r.History(HistoryFilter{Limit: 1})
	assert.Equal("internal", hist[0].ErrorKind)
}

func TestHistoryRingIsBounded(t *testing.T) {
	assert := assert.New(t)
	r := newTestRegistry()
	assert.NoError(r.Register(echoTool()))

	for i := 0; i < 10; i++ {
		_, err := r.Execute("echo", map[string]interface{}{"msg": "x"}, "caller-1")
		assert.NoError(err)
	}
	hist := r.History(HistoryFilter{})
	assert.Equal(4, len(hist))
}

func TestHistoryFilterByCaller(t *testing.T) {
	assert := assert.New(t)
	r := newTestRegistry()
	assert.NoError(r.Register(echoTool()))

	_, _ = r.Execute("echo", map[string]interface{}{"msg": "a"}, "alice")
	_, _ = r.Execute("echo", map[string]interface{}{"msg": "b"}, "bob")

	hist := r.History(HistoryFilter{CallerID: "alice"})
	assert.Equal(1, len(hist))
	assert.Equal("alice", hist[0].CallerID)
}

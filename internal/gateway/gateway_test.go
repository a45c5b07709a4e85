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

package gateway

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeleton-crew/agentd/internal/skerr"
)

type stubExecutor struct {
	result interface{}
	err    error
	gotName string
	gotArgs map[string]interface{}
	gotCaller string
}

func (s *stubExecutor) Execute(name string, args map[string]interface{}, callerID string) (interface{}, error) {
	s.gotName, s.gotArgs, s.gotCaller = name, args, callerID
	return s.result, s.err
}

func newTestServer(exec Executor) *httptest.Server {
	router := mux.NewRouter()
	NewServer(logr.Discard(), exec).Register(router)
	return httptest.NewServer(router)
}

func TestInvokeRoundTripOK(t *testing.T) {
	assert := assert.New(t)
	exec := &stubExecutor{result: map[string]interface{}{"status": "not_running"}}
	srv := newTestServer(exec)
	defer srv.Close()

	client := NewClient(logr.Discard(), time.Second)
	resp, err := client.Invoke(srv.URL, Request{
		RequestID: "req-1", ToolName: "jack_status", Args: map[string]interface{}{}, CallerID: "indigo",
	}, 0)
	require.NoError(t, err)
	assert.Equal("req-1", resp.RequestID)
	assert.Equal("ok", resp.Outcome)
	assert.Equal("jack_status", exec.gotName)
	assert.Equal("indigo", exec.gotCaller)
}

func TestInvokeSurfacesToolError(t *testing.T) {
	assert := assert.New(t)
	exec := &stubExecutor{err: skerr.New(skerr.KindToolNotFound, "no such tool: bogus")}
	srv := newTestServer(exec)
	defer srv.Close()

	client := NewClient(logr.Discard(), time.Second)
	resp, err := client.Invoke(srv.URL, Request{RequestID: "req-2", ToolName: "bogus", CallerID: "indigo"}, 0)
	require.NoError(t, err)
	assert.Equal("error", resp.Outcome)
	assert.Equal(string(skerr.KindToolNotFound), resp.ErrorKind)
}

func TestInvokeUnreachablePeerSurfacesRemoteTimeout(t *testing.T) {
	assert := assert.New(t)
	exec := &stubExecutor{result: "ok"}
	router := mux.NewRouter()
	srv := httptest.NewServer(router)
	defer srv.Close()
	_ = exec

	client := NewClient(logr.Discard(), 10*time.Millisecond)
	_, err := client.Invoke("http://127.0.0.1:1", Request{RequestID: "req-3", ToolName: "jack_status"}, 10*time.Millisecond)
	assert.True(skerr.Is(err, skerr.KindRemoteTimeout))
}

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

// Package gateway exposes the Tool Registry over the network: any node
// may invoke another node's tools, identified only by caller_id (the
// LAN-trusted assumption of spec.md §4.8/§9). It is mounted on the same
// gorilla/mux router as the rest of the daemon's HTTP surface, the way
// the teacher mounts /ping and /info alongside each other in cmd/main.go.
package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/mux"

	"github.com/skeleton-crew/agentd/internal/skerr"
)

// InvokePath is the HTTP path remote callers POST invocations to.
const InvokePath = "/v1/tools/invoke"

// Request is one remote tool invocation, per spec.md §4.8.
type Request struct {
	RequestID string                 `json:"request_id"`
	ToolName  string                 `json:"tool_name"`
	Args      map[string]interface{} `json:"args"`
	CallerID  string                 `json:"caller_id"`
}

// Response carries a remote invocation's outcome back to the caller.
type Response struct {
	RequestID string      `json:"request_id"`
	Outcome   string      `json:"outcome"` // "ok" | "error"
	Result    interface{} `json:"result,omitempty"`
	ErrorKind string      `json:"error_kind,omitempty"`
	Message   string      `json:"message,omitempty"`
}

// Executor is the subset of internal/registry.Registry the gateway
// dispatches into. Kept as a seam so this package never imports registry.
type Executor interface {
	Execute(name string, args map[string]interface{}, callerID string) (interface{}, error)
}

// Server exposes Executor's tools over HTTP. Each remote invocation is
// recorded in the local audit log with caller_id preserved, because
// Execute itself performs that recording -- the gateway adds no audit
// logic of its own.
type Server struct {
	log      logr.Logger
	executor Executor
}

// NewServer constructs a Server dispatching into executor.
func NewServer(log logr.Logger, executor Executor) *Server {
	return &Server{log: log.WithName("gateway"), executor: executor}
}

// Register mounts the invocation endpoint on router.
func (s *Server) Register(router *mux.Router) {
	router.HandleFunc(InvokePath, s.handleInvoke).Methods(http.MethodPost)
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Outcome: "error", ErrorKind: string(skerr.KindMalformed), Message: err.Error()})
		return
	}

	result, err := s.executor.Execute(req.ToolName, req.Args, req.CallerID)
	if err != nil {
		resp := Response{RequestID: req.RequestID, Outcome: "error"}
		if serr, ok := err.(*skerr.Error); ok {
			resp.ErrorKind = string(serr.Kind)
			resp.Message = serr.Message
		} else {
			resp.ErrorKind = string(skerr.KindInternal)
			resp.Message = err.Error()
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	writeJSON(w, http.StatusOK, Response{RequestID: req.RequestID, Outcome: "ok", Result: result})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Client calls a peer's gateway over HTTP, matching spec.md's
// request/response contract. The daemon's voice-command dispatcher uses
// it when a command's target node differs from the local one.
type Client struct {
	log            logr.Logger
	defaultTimeout time.Duration
}

// NewClient constructs a Client with defaultTimeout applied to
// invocations that don't specify their own (5s default per spec.md §5).
func NewClient(log logr.Logger, defaultTimeout time.Duration) *Client {
	if defaultTimeout <= 0 {
		defaultTimeout = 5 * time.Second
	}
	return &Client{
		log:            log.WithName("gateway.client"),
		defaultTimeout: defaultTimeout,
	}
}

// Invoke sends req to peerHTTPOrigin (e.g. "http://10.0.0.5:9000") and
// waits up to timeout (or the client default) for a reply. Any transport
// failure -- a timeout, or a refused or unreachable connection --
// surfaces as remote_timeout locally; the remote side still completes and
// records its own history regardless of whether this call observes it.
func (c *Client) Invoke(peerHTTPOrigin string, req Request, timeout time.Duration) (*Response, error) {
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	u, err := url.Parse(peerHTTPOrigin)
	if err != nil {
		return nil, skerr.New(skerr.KindMalformed, "invalid peer origin: %s", err.Error())
	}
	u.Path = InvokePath

	body, err := json.Marshal(req)
	if err != nil {
		return nil, skerr.New(skerr.KindInternal, "encode request: %s", err.Error())
	}

	httpReq, err := http.NewRequest(http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, skerr.New(skerr.KindInternal, "build request: %s", err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, skerr.New(skerr.KindRemoteTimeout, "invoke %s on %s: %s", req.ToolName, peerHTTPOrigin, err.Error())
	}
	defer resp.Body.Close()

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, skerr.New(skerr.KindInternal, "decode response: %s", err.Error())
	}
	return &out, nil
}

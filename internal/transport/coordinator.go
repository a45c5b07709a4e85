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
	"net"
	"strings"
	"sync"
	"time"

	goping "github.com/go-ping/ping"
	"github.com/go-logr/logr"
)

// DefaultQueryTimeout bounds how long query_all waits for a single
// agent's reply before giving up on it.
const DefaultQueryTimeout = 2 * time.Second

// AgentEndpoint is one member of the coordinator's agent set.
type AgentEndpoint struct {
	Name string
	Addr string // host:port, UDP
}

// AgentStatus augments a /transport/state reply with network RTT,
// gathered the same way the teacher's heartbeat loop gathers it: a
// bounded go-ping run against the agent's host.
type AgentStatus struct {
	Endpoint AgentEndpoint
	State    string
	Frame    uint64
	Now      float64
	RTT      time.Duration
	Err      error
}

// Coordinator holds a set of agent endpoints and broadcasts transport
// commands to them. Broadcast is best-effort UDP-style: send failures
// are logged per agent and never abort the others.
type Coordinator struct {
	log logr.Logger

	mu     sync.RWMutex
	agents map[string]AgentEndpoint
}

// NewCoordinator constructs an empty Coordinator.
func NewCoordinator(log logr.Logger) *Coordinator {
	return &Coordinator{log: log.WithName("transport.coordinator"), agents: make(map[string]AgentEndpoint)}
}

// AddAgent idempotently adds endpoint to the membership set.
func (c *Coordinator) AddAgent(endpoint, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agents[endpoint] = AgentEndpoint{Name: name, Addr: endpoint}
}

// RemoveAgent idempotently removes endpoint from the membership set.
func (c *Coordinator) RemoveAgent(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.agents, endpoint)
}

// Agents returns a snapshot of the current membership set.
func (c *Coordinator) Agents() []AgentEndpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]AgentEndpoint, 0, len(c.agents))
	for _, a := range c.agents {
		out = append(out, a)
	}
	return out
}

// StartAll broadcasts /transport/start with target instant now+preRoll
// to every agent and returns that instant.
func (c *Coordinator) StartAll(preRoll time.Duration) time.Time {
	target := time.Now().Add(preRoll)
	c.broadcast(Message{Address: AddrStart, TargetInstant: timeToSecondsPtr(target)})
	return target
}

// StopAll broadcasts /transport/stop with target instant now+preRoll.
func (c *Coordinator) StopAll(preRoll time.Duration) time.Time {
	target := time.Now().Add(preRoll)
	c.broadcast(Message{Address: AddrStop, TargetInstant: timeToSecondsPtr(target)})
	return target
}

// LocateAndStartAll broadcasts /transport/locate_start with frame and
// target instant now+preRoll.
func (c *Coordinator) LocateAndStartAll(frame uint64, preRoll time.Duration) time.Time {
	target := time.Now().Add(preRoll)
	c.broadcast(Message{Address: AddrLocateStart, Frame: frame, TargetInstant: timeToSecondsPtr(target)})
	return target
}

func (c *Coordinator) broadcast(m Message) {
	data, err := Encode(m)
	if err != nil {
		c.log.Info("failed to encode transport message", "error", err.Error())
		return
	}
	for _, agent := range c.Agents() {
		if err := send(agent.Addr, data); err != nil {
			c.log.Info("failed to send transport message to agent", "agent", agent.Name, "error", err.Error())
		}
	}
}

func send(addr string, data []byte) error {
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return err
	}
	conn, err := net.DialUDP("udp4", nil, udpAddr)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Write(data)
	return err
}

// QueryAll fans out /transport/query to every agent, collecting replies
// into a snapshot keyed by endpoint address, with a per-agent timeout.
// Agents that did not reply in time appear with their Err populated.
func (c *Coordinator) QueryAll(timeout time.Duration) map[string]AgentStatus {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	agents := c.Agents()
	results := make(map[string]AgentStatus, len(agents))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, agent := range agents {
		agent := agent
		wg.Add(1)
		go func() {
			defer wg.Done()
			status := c.queryOne(agent, timeout)
			mu.Lock()
			results[agent.Addr] = status
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

func (c *Coordinator) queryOne(agent AgentEndpoint, timeout time.Duration) AgentStatus {
	status := AgentStatus{Endpoint: agent}

	udpAddr, err := net.ResolveUDPAddr("udp4", agent.Addr)
	if err != nil {
		status.Err = err
		return status
	}
	conn, err := net.DialUDP("udp4", nil, udpAddr)
	if err != nil {
		status.Err = err
		return status
	}
	defer conn.Close()

	data, err := Encode(Message{Address: AddrQuery})
	if err != nil {
		status.Err = err
		return status
	}
	if _, err := conn.Write(data); err != nil {
		status.Err = err
		return status
	}

	conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 2048)
	n, err := conn.Read(buf)
	if err != nil {
		status.Err = err
		return status
	}
	reply, err := Decode(buf[:n])
	if err != nil {
		status.Err = err
		return status
	}
	status.State = reply.State
	status.Frame = reply.Frame
	status.Now = reply.Now
	status.RTT = pingRTT(agent.Addr)
	return status
}

// pingRTT runs a single-packet ICMP ping against host, exactly the way
// the teacher's server-mode loop uses go-ping to augment its heartbeat
// with RTT statistics. A ping failure (e.g. missing raw-socket
// capability) yields a zero RTT rather than failing the query.
func pingRTT(endpoint string) time.Duration {
	host := endpoint
	if idx := strings.LastIndex(endpoint, ":"); idx >= 0 {
		host = endpoint[:idx]
	}
	pinger, err := goping.NewPinger(host)
	if err != nil {
		return 0
	}
	pinger.Count = 1
	pinger.Timeout = 500 * time.Millisecond
	if err := pinger.Run(); err != nil {
		return 0
	}
	stats := pinger.Statistics()
	if stats == nil || stats.PacketsRecv == 0 {
		return 0
	}
	return stats.AvgRtt
}

func timeToSecondsPtr(t time.Time) *float64 {
	s := float64(t.UnixNano()) / 1e9
	return &s
}

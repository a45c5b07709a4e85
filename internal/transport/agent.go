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
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/skeleton-crew/agentd/internal/clock"
	"github.com/skeleton-crew/agentd/internal/eventbus"
	"github.com/skeleton-crew/agentd/internal/model"
	"github.com/skeleton-crew/agentd/internal/skerr"
)

// skewWarnThreshold is the actual-vs-target deviation above which a
// fired action is logged as a warning, per spec.md §4.5.
const skewWarnThreshold = 5 * time.Millisecond

// AgentState is one of the Transport Agent's coarse states.
type AgentState string

// Agent states.
const (
	StateIdle   AgentState = "idle"
	StateArmed  AgentState = "armed"
	StateFiring AgentState = "firing"
)

// JackController is the subset of the JACK Adapter the Transport Agent
// drives. internal/jackadapter.Adapter satisfies this interface.
type JackController interface {
	TransportStart() error
	TransportStop() error
	TransportLocate(frame uint64) error
	Status() model.TransportState
}

// Agent is a stateful receiver of coordinated transport messages. Only
// one action may be armed at a time: a later arming message with a
// later target supersedes an earlier one, whose scheduled fire is
// cancelled.
type Agent struct {
	log   logr.Logger
	bus   *eventbus.Bus
	clock clock.Clock
	sched *clock.Scheduler
	jack  JackController

	mu      sync.Mutex
	state   AgentState
	armedAt time.Time
	handle  *clock.Handle
}

// NewAgent constructs an Agent in the idle state.
func NewAgent(log logr.Logger, bus *eventbus.Bus, c clock.Clock, sched *clock.Scheduler, jack JackController) *Agent {
	return &Agent{
		log:   log.WithName("transport.agent"),
		bus:   bus,
		clock: c,
		sched: sched,
		jack:  jack,
		state: StateIdle,
	}
}

// Handle dispatches one decoded wire Message and returns an optional
// reply Message (only /transport/query produces one).
func (a *Agent) Handle(m Message) (*Message, error) {
	switch m.Address {
	case AddrStart:
		return nil, a.arm(m.TargetInstant, model.ActionStart, 0)
	case AddrStop:
		return nil, a.arm(m.TargetInstant, model.ActionStop, 0)
	case AddrLocate:
		return nil, a.jack.TransportLocate(m.Frame)
	case AddrLocateStart:
		return nil, a.arm(m.TargetInstant, model.ActionLocateThenStart, m.Frame)
	case AddrQuery:
		status := a.jack.Status()
		reply := Message{
			Address: AddrState,
			State:   string(status.State),
			Frame:   status.Frame,
			Now:     float64(time.Now().UnixNano()) / 1e9,
		}
		return &reply, nil
	default:
		return nil, skerr.New(skerr.KindMalformed, "unknown transport address: %s", m.Address)
	}
}

// arm schedules kind to fire at target (or immediately if target is
// nil). A later arm while already armed supersedes the earlier one.
func (a *Agent) arm(target *float64, kind model.ActionKind, frame uint64) error {
	if target == nil {
		return a.fireNow(kind, frame, time.Time{})
	}

	instant := secondsToTime(*target)
	now := a.clock.Now()
	if instant.Before(now) {
		return skerr.New(skerr.KindTargetInPast, "target instant %s is before now %s", instant, now)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == StateArmed {
		if !instant.After(a.armedAt) {
			return nil // earlier or equal target does not supersede
		}
		if a.handle != nil {
			a.handle.Cancel()
		}
	}

	a.state = StateArmed
	a.armedAt = instant
	h := a.sched.Schedule(instant, func(firedAt time.Time, skew time.Duration) {
		a.fire(kind, frame, instant, firedAt, skew)
	})
	a.handle = &h
	return nil
}

func (a *Agent) fireNow(kind model.ActionKind, frame uint64, target time.Time) error {
	a.mu.Lock()
	a.state = StateFiring
	a.mu.Unlock()
	err := a.runAction(kind, frame)
	a.mu.Lock()
	a.state = StateIdle
	a.mu.Unlock()
	return err
}

func (a *Agent) fire(kind model.ActionKind, frame uint64, target, firedAt time.Time, skew time.Duration) {
	a.mu.Lock()
	a.state = StateFiring
	a.mu.Unlock()

	if err := a.runAction(kind, frame); err != nil {
		a.log.Info("scheduled transport action failed", "kind", kind, "error", err.Error())
	}
	if skew > skewWarnThreshold {
		a.log.Info("transport action fired outside skew threshold", "kind", kind, "skew", skew)
	}
	a.bus.Publish(eventbus.Event{Kind: eventbus.KindTransportSkewReported, Payload: skew})

	a.mu.Lock()
	a.state = StateIdle
	a.mu.Unlock()
}

func (a *Agent) runAction(kind model.ActionKind, frame uint64) error {
	switch kind {
	case model.ActionStart:
		return a.jack.TransportStart()
	case model.ActionStop:
		return a.jack.TransportStop()
	case model.ActionLocateThenStart:
		if err := a.jack.TransportLocate(frame); err != nil {
			return err
		}
		return a.jack.TransportStart()
	default:
		return skerr.New(skerr.KindMalformed, "unknown action kind: %s", kind)
	}
}

// State reports the agent's current coarse state.
func (a *Agent) State() AgentState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func secondsToTime(seconds float64) time.Time {
	return time.Unix(0, int64(seconds*float64(time.Second)))
}

// ListenUDP runs a UDP server on addr, decoding and dispatching every
// incoming Message until stop is closed. Malformed datagrams are
// dropped with a counter increment rather than crashing the listener.
func (a *Agent) ListenUDP(addr string, stop <-chan struct{}) error {
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	malformed := 0
	buf := make([]byte, 2048)
	for {
		select {
		case <-stop:
			return nil
		default:
		}
		conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			continue
		}
		msg, err := Decode(buf[:n])
		if err != nil {
			malformed++
			a.log.Info("dropped malformed transport message", "count", malformed)
			continue
		}
		reply, err := a.Handle(msg)
		if err != nil {
			a.log.Info("transport message handling failed", "address", msg.Address, "error", err.Error())
			continue
		}
		if reply != nil {
			data, err := Encode(*reply)
			if err != nil {
				continue
			}
			conn.WriteToUDP(data, from)
		}
	}
}

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

// Package model holds the data types shared across node daemon
// components: the discovery registry, the tool registry, the gateway,
// and the JACK adapter all exchange these shapes.
package model

import "time"

// Role is drawn from the closed vocabulary a node may declare.
type Role string

// Declared node roles.
const (
	RoleAudioHub             Role = "audio_hub"
	RoleSTTRealtime          Role = "stt_realtime"
	RoleSTTBatch             Role = "stt_batch"
	RoleTTS                  Role = "tts"
	RoleLLM                  Role = "llm"
	RoleRAG                  Role = "rag"
	RoleTransportAgent       Role = "transport_agent"
	RoleTransportCoordinator Role = "transport_coordinator"
)

// NodeStatus is the liveness state of a NodeDescriptor.
type NodeStatus string

// Node status values.
const (
	NodeOnline   NodeStatus = "online"
	NodeDegraded NodeStatus = "degraded"
	NodeOffline  NodeStatus = "offline"
)

// NodeDescriptor identifies one peer daemon on the LAN.
type NodeDescriptor struct {
	ID          string            `json:"id" db:"id"`
	Name        string            `json:"name" db:"name"`
	Host        string            `json:"host" db:"host"`
	ControlPort uint16            `json:"control_port" db:"control_port"`
	Roles       []Role            `json:"roles"`
	Tags        map[string]string `json:"tags"`
	Status      NodeStatus        `json:"status" db:"status"`
	LastSeen    time.Time         `json:"last_seen" db:"last_seen"`
}

// HasRole reports whether n declares role.
func (n NodeDescriptor) HasRole(role Role) bool {
	for _, r := range n.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ServiceType is drawn from a closed enum of capability kinds.
type ServiceType string

// Declared service types.
const (
	ServiceSTTEngine            ServiceType = "stt_engine"
	ServiceTTSEngine            ServiceType = "tts_engine"
	ServiceJackClient           ServiceType = "jack_client"
	ServiceTransportAgent       ServiceType = "transport_agent"
	ServiceTransportCoordinator ServiceType = "transport_coordinator"
	ServiceVoiceCommand         ServiceType = "voice_command"
	ServiceRemoteJack           ServiceType = "remote_jack"
)

// Availability is the current usability state of a ServiceDescriptor.
type Availability string

// Availability values.
const (
	Available   Availability = "available"
	Busy        Availability = "busy"
	Unavailable Availability = "unavailable"
)

// Health is the current health state of a ServiceDescriptor.
type Health string

// Health values.
const (
	Healthy   Health = "healthy"
	Degraded  Health = "degraded"
	Unhealthy Health = "unhealthy"
)

// ServiceDescriptor advertises one capability a node offers. Owned by
// the advertising node; its lifetime is bounded by that node's liveness.
type ServiceDescriptor struct {
	NodeID       string            `json:"node_id" db:"node_id"`
	Type         ServiceType       `json:"type" db:"type"`
	Name         string            `json:"name" db:"name"`
	Endpoint     string            `json:"endpoint" db:"endpoint"`
	Capabilities map[string]string `json:"capabilities"`
	Availability Availability      `json:"availability" db:"availability"`
	Health       Health            `json:"health" db:"health"`
}

// Key uniquely identifies a service within a node's set of services.
func (s ServiceDescriptor) Key() string { return s.NodeID + "/" + s.Name }

// Direction of a JackPort.
type Direction string

// Port directions.
const (
	DirectionSource Direction = "source"
	DirectionSink   Direction = "sink"
)

// PortType of a JackPort.
type PortType string

// Port types.
const (
	PortAudio PortType = "audio"
	PortMIDI  PortType = "midi"
)

// JackPort describes one discovered port in the local JACK graph.
type JackPort struct {
	Name      string    `json:"name"`
	Direction Direction `json:"direction"`
	Type      PortType  `json:"type"`
	Physical  bool      `json:"physical"`
	Terminal  bool      `json:"terminal"`
}

// JackConnection is an ordered (source, sink) pair.
type JackConnection struct {
	Source string `json:"source"`
	Sink   string `json:"sink"`
}

// TransportStateKind is one of the JACK transport's coarse states.
type TransportStateKind string

// Transport state values.
const (
	TransportStopped  TransportStateKind = "stopped"
	TransportRolling  TransportStateKind = "rolling"
	TransportStarting TransportStateKind = "starting"
	TransportStopping TransportStateKind = "stopping"
)

// TransportState is the local JACK transport's observable state.
type TransportState struct {
	State      TransportStateKind `json:"state"`
	Frame      uint64             `json:"frame"`
	SampleRate uint32             `json:"sample_rate"`
}

// ActionKind is the kind of work a ScheduledAction performs.
type ActionKind string

// Scheduled action kinds.
const (
	ActionStart           ActionKind = "start"
	ActionStop            ActionKind = "stop"
	ActionLocateThenStart ActionKind = "locate_then_start"
)

// ScheduledAction is a pending transport command owned by an agent.
type ScheduledAction struct {
	TargetInstant time.Time  `json:"target_instant"`
	Kind          ActionKind `json:"kind"`
	TargetFrame   uint64     `json:"target_frame,omitempty"`
}

// InvocationOutcome is the disposition of a completed ToolInvocation.
type InvocationOutcome string

// Invocation outcomes.
const (
	OutcomeOK    InvocationOutcome = "ok"
	OutcomeError InvocationOutcome = "error"
)

// ToolInvocation is one audited call into the tool registry.
type ToolInvocation struct {
	ID        string                 `json:"id" db:"id"`
	ToolName  string                 `json:"tool_name" db:"tool_name"`
	Arguments map[string]interface{} `json:"arguments"`
	CallerID  string                 `json:"caller_id" db:"caller_id"`
	StartedAt time.Time              `json:"started_at" db:"started_at"`
	EndedAt   time.Time              `json:"ended_at" db:"ended_at"`
	Outcome   InvocationOutcome      `json:"outcome" db:"outcome"`
	Result    interface{}            `json:"result,omitempty"`
	ErrorKind string                 `json:"error_kind,omitempty" db:"error_kind"`
	ErrorMsg  string                 `json:"error_message,omitempty" db:"error_message"`
}

// CommandAlias maps a spoken phrase to a canonical command name,
// optionally scoped to a single node.
type CommandAlias struct {
	Phrase  string `json:"phrase"`
	Command string `json:"command"`
	NodeID  string `json:"node_id,omitempty"`
}

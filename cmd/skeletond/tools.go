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

package main

import (
	"time"

	"github.com/skeleton-crew/agentd/internal/discovery"
	"github.com/skeleton-crew/agentd/internal/jackadapter"
	"github.com/skeleton-crew/agentd/internal/model"
	"github.com/skeleton-crew/agentd/internal/recorder"
	"github.com/skeleton-crew/agentd/internal/registry"
	"github.com/skeleton-crew/agentd/internal/skerr"
	"github.com/skeleton-crew/agentd/internal/transport"
)

// registerTools installs the core tools spec.md §4.3 names, wiring each
// handler closure to the JACK adapter, recorder, discovery registry, and
// transport coordinator the daemon already constructed in run().
func registerTools(reg *registry.Registry, jackAdapter *jackadapter.Adapter, rec *recorder.Recorder, disc *discovery.Discovery, self model.NodeDescriptor, coordinator *transport.Coordinator) {
	must := func(err error) {
		if err != nil {
			log.Error(err, "failed to register tool")
		}
	}

	must(reg.Register(registry.Tool{
		Name:        "jack_status",
		Description: "Report the local JACK server's running status, port list, connection map, and transport state.",
		Handler: func(args map[string]interface{}, callerID string) (interface{}, error) {
			return jackAdapter.Snapshot(), nil
		},
	}))

	must(reg.Register(registry.Tool{
		Name:        "list_jack_ports",
		Description: "List local JACK ports, optionally filtered by direction and type.",
		Fields: []registry.Field{
			{Name: "direction", Type: registry.FieldString, Enum: []string{"source", "sink"}},
			{Name: "type", Type: registry.FieldString, Enum: []string{"audio", "midi"}},
		},
		Handler: func(args map[string]interface{}, callerID string) (interface{}, error) {
			ports, err := jackAdapter.ListPorts()
			if err != nil {
				return nil, err
			}
			filter := jackadapter.PortFilter{
				Direction: model.Direction(stringArg(args, "direction")),
				Type:      model.PortType(stringArg(args, "type")),
			}
			return jackadapter.FilterPorts(ports, filter), nil
		},
	}))

	must(reg.Register(registry.Tool{
		Name:        "connect_jack_ports",
		Description: "Connect a JACK source port to a sink port.",
		Fields: []registry.Field{
			{Name: "source", Type: registry.FieldString, Required: true},
			{Name: "sink", Type: registry.FieldString, Required: true},
		},
		Handler: func(args map[string]interface{}, callerID string) (interface{}, error) {
			src, sink := stringArg(args, "source"), stringArg(args, "sink")
			if err := jackAdapter.Connect(src, sink); err != nil {
				return nil, err
			}
			return model.JackConnection{Source: src, Sink: sink}, nil
		},
	}))

	must(reg.Register(registry.Tool{
		Name:        "disconnect_jack_ports",
		Description: "Disconnect a JACK source port from a sink port.",
		Fields: []registry.Field{
			{Name: "source", Type: registry.FieldString, Required: true},
			{Name: "sink", Type: registry.FieldString, Required: true},
		},
		Handler: func(args map[string]interface{}, callerID string) (interface{}, error) {
			src, sink := stringArg(args, "source"), stringArg(args, "sink")
			if err := jackAdapter.Disconnect(src, sink); err != nil {
				return nil, err
			}
			return model.JackConnection{Source: src, Sink: sink}, nil
		},
	}))

	must(reg.Register(registry.Tool{
		Name:        "jack_transport_start",
		Description: "Start the local JACK transport immediately.",
		Handler: func(args map[string]interface{}, callerID string) (interface{}, error) {
			return nil, jackAdapter.TransportStart()
		},
	}))

	must(reg.Register(registry.Tool{
		Name:        "jack_transport_stop",
		Description: "Stop the local JACK transport immediately.",
		Handler: func(args map[string]interface{}, callerID string) (interface{}, error) {
			return nil, jackAdapter.TransportStop()
		},
	}))

	must(reg.Register(registry.Tool{
		Name:        "jack_transport_locate",
		Description: "Relocate the local JACK transport playhead to frame.",
		Fields: []registry.Field{
			{Name: "frame", Type: registry.FieldInt, Required: true},
		},
		Handler: func(args map[string]interface{}, callerID string) (interface{}, error) {
			return nil, jackAdapter.TransportLocate(uint64(intArg(args, "frame")))
		},
	}))

	must(reg.Register(registry.Tool{
		Name:        "record_start",
		Description: "Begin capturing the voice input port to FLAC segments published through an HLS playlist.",
		Handler: func(args map[string]interface{}, callerID string) (interface{}, error) {
			invocationID := stringArg(args, "invocation_id")
			if invocationID == "" {
				invocationID = callerID
			}
			if err := rec.StartSession(invocationID); err != nil {
				return nil, err
			}
			return map[string]string{"invocation_id": invocationID}, nil
		},
	}))

	must(reg.Register(registry.Tool{
		Name:        "record_stop",
		Description: "End a recording session started by record_start and return its segment filenames.",
		Fields: []registry.Field{
			{Name: "invocation_id", Type: registry.FieldString, Required: true},
		},
		Handler: func(args map[string]interface{}, callerID string) (interface{}, error) {
			segments, err := rec.StopSession(stringArg(args, "invocation_id"))
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"segments": segments}, nil
		},
	}))

	must(reg.Register(registry.Tool{
		Name:        "get_node_status",
		Description: "Report this node's descriptor and live JACK status, or a peer's last-known descriptor.",
		Fields: []registry.Field{
			{Name: "node_id", Type: registry.FieldString},
		},
		Handler: func(args map[string]interface{}, callerID string) (interface{}, error) {
			nodeID := stringArg(args, "node_id")
			if nodeID == "" || nodeID == self.ID {
				return map[string]interface{}{"node": self, "jack": jackAdapter.Snapshot()}, nil
			}
			node, ok := disc.Nodes.Snapshot()[nodeID]
			if !ok {
				return nil, skerr.New(skerr.KindEndpointMissing, "unknown node: %s", nodeID)
			}
			return map[string]interface{}{"node": node}, nil
		},
	}))

	must(reg.Register(registry.Tool{
		Name:        "list_services",
		Description: "List known services, optionally filtered to one node.",
		Fields: []registry.Field{
			{Name: "node_id", Type: registry.FieldString},
		},
		Handler: func(args map[string]interface{}, callerID string) (interface{}, error) {
			nodeID := stringArg(args, "node_id")
			nodes := disc.Nodes.Snapshot()
			out := make([]model.ServiceDescriptor, 0)
			for _, svc := range disc.Services.Snapshot() {
				if nodeID != "" && svc.NodeID != nodeID {
					continue
				}
				if node, ok := nodes[svc.NodeID]; ok && node.Status != model.NodeOnline {
					svc.Availability = model.Unavailable
				}
				out = append(out, svc)
			}
			return out, nil
		},
	}))

	must(reg.Register(registry.Tool{
		Name:        "trigger_voice_command",
		Description: "Record a voice-pipeline command event as a tool invocation (the pipeline's own dispatch path into this node's registry).",
		Fields: []registry.Field{
			{Name: "command", Type: registry.FieldString, Required: true},
			{Name: "raw_text", Type: registry.FieldString},
			{Name: "confidence", Type: registry.FieldFloat},
		},
		Handler: func(args map[string]interface{}, callerID string) (interface{}, error) {
			return map[string]interface{}{
				"command":    stringArg(args, "command"),
				"raw_text":   stringArg(args, "raw_text"),
				"confidence": floatArg(args, "confidence"),
			}, nil
		},
	}))

	// coordinate_transport is the handler closure spec.md §2's data flow
	// names but never gives a name to: "the Registry invokes handlers
	// that may touch ... the Transport Coordinator". Without it the
	// Coordinator's start_all/stop_all/locate_and_start_all/query_all
	// operations (spec.md §4.6) would only be reachable from tests.
	must(reg.Register(registry.Tool{
		Name:        "coordinate_transport",
		Description: "Drive the Transport Coordinator: start, stop, or locate-then-start every agent's JACK transport with a shared pre-roll, or query their current state.",
		Fields: []registry.Field{
			{Name: "operation", Type: registry.FieldString, Required: true, Enum: []string{"start", "stop", "locate_start", "query"}},
			{Name: "frame", Type: registry.FieldInt},
			{Name: "pre_roll_ms", Type: registry.FieldFloat},
			{Name: "timeout_ms", Type: registry.FieldFloat},
		},
		Handler: func(args map[string]interface{}, callerID string) (interface{}, error) {
			preRoll := time.Duration(floatArg(args, "pre_roll_ms")) * time.Millisecond
			switch stringArg(args, "operation") {
			case "start":
				return map[string]interface{}{"target_instant": coordinator.StartAll(preRoll)}, nil
			case "stop":
				return map[string]interface{}{"target_instant": coordinator.StopAll(preRoll)}, nil
			case "locate_start":
				target := coordinator.LocateAndStartAll(uint64(intArg(args, "frame")), preRoll)
				return map[string]interface{}{"target_instant": target}, nil
			case "query":
				timeout := time.Duration(floatArg(args, "timeout_ms")) * time.Millisecond
				return coordinator.QueryAll(timeout), nil
			default:
				return nil, skerr.New(skerr.KindInvalidArgs, "unknown operation: %s", stringArg(args, "operation"))
			}
		},
	}))
}

func stringArg(args map[string]interface{}, name string) string {
	s, _ := args[name].(string)
	return s
}

func intArg(args map[string]interface{}, name string) int64 {
	switch v := args[name].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func floatArg(args map[string]interface{}, name string) float64 {
	switch v := args[name].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

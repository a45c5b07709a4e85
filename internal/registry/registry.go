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

// Package registry implements the process-wide, schema-driven tool
// dispatcher: register a Tool, execute it by name with validated
// arguments, and query a bounded audit history.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/skeleton-crew/agentd/internal/eventbus"
	"github.com/skeleton-crew/agentd/internal/model"
	"github.com/skeleton-crew/agentd/internal/skerr"
)

// FieldType is the closed vocabulary of parameter schema types.
type FieldType string

// Parameter field types.
const (
	FieldString FieldType = "string"
	FieldInt    FieldType = "int"
	FieldFloat  FieldType = "float"
	FieldBool   FieldType = "bool"
)

// Field describes one argument accepted by a Tool.
type Field struct {
	Name     string
	Type     FieldType
	Required bool
	// Enum, when non-empty, restricts a string field to one of these values.
	Enum []string
}

// Handler executes a validated tool call. args has already been checked
// against the Tool's Fields; keys the Fields do not declare are passed
// through unchecked.
type Handler func(args map[string]interface{}, callerID string) (interface{}, error)

// Tool is one registered, schema-validated operation.
type Tool struct {
	Name        string
	Description string
	Fields      []Field
	Handler     Handler
}

// Registry is a process-wide dispatcher of named Tools. Safe for
// concurrent registration and invocation.
type Registry struct {
	log logr.Logger
	bus *eventbus.Bus

	mu    sync.RWMutex
	tools map[string]Tool

	history *ring
}

// New constructs an empty Registry with a bounded history of historySize
// invocations.
func New(log logr.Logger, bus *eventbus.Bus, historySize int) *Registry {
	return &Registry{
		log:     log.WithName("registry"),
		bus:     bus,
		tools:   make(map[string]Tool),
		history: newRing(historySize),
	}
}

// Register adds tool to the registry. Fails with tool_exists on a name
// collision.
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; exists {
		return skerr.New(skerr.KindToolExists, "tool already registered: %s", tool.Name)
	}
	r.tools[tool.Name] = tool
	return nil
}

// Lookup returns the registered Tool by name, for callers (e.g. the
// gateway) that need its schema without invoking it.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Execute validates args against name's schema, invokes its handler,
// and records the invocation. Parameter validation, the audit
// start-record, the handler call, and the audit end-record form one
// observational unit: a caller never observes a started-but-unfinished
// invocation in History.
func (r *Registry) Execute(name string, args map[string]interface{}, callerID string) (interface{}, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, skerr.New(skerr.KindToolNotFound, "no such tool: %s", name)
	}

	if diags := validate(tool.Fields, args); len(diags) > 0 {
		return nil, skerr.Invalid(diags...)
	}

	inv := model.ToolInvocation{
		ID:        uuid.NewString(),
		ToolName:  name,
		Arguments: args,
		CallerID:  callerID,
		StartedAt: time.Now(),
	}
	r.bus.Publish(eventbus.Event{Kind: eventbus.KindToolInvocationStarted, Payload: inv})

	result, err := tool.Handler(args, callerID)

	inv.EndedAt = time.Now()
	if err != nil {
		inv.Outcome = model.OutcomeError
		if serr, ok := err.(*skerr.Error); ok {
			inv.ErrorKind = string(serr.Kind)
			inv.ErrorMsg = serr.Message
		} else {
			inv.ErrorKind = string(skerr.KindInternal)
			inv.ErrorMsg = err.Error()
		}
	} else {
		inv.Outcome = model.OutcomeOK
		inv.Result = result
	}
	r.history.push(inv)
	r.bus.Publish(eventbus.Event{Kind: eventbus.KindToolInvocationFinished, Payload: inv})

	return result, err
}

// HistoryFilter narrows History results. A zero value returns everything.
type HistoryFilter struct {
	ToolName string
	CallerID string
	Limit    int
}

// History returns recent invocations from the bounded ring buffer,
// most recent first, matching filter.
func (r *Registry) History(filter HistoryFilter) []model.ToolInvocation {
	all := r.history.snapshot()
	out := make([]model.ToolInvocation, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		inv := all[i]
		if filter.ToolName != "" && inv.ToolName != filter.ToolName {
			continue
		}
		if filter.CallerID != "" && inv.CallerID != filter.CallerID {
			continue
		}
		out = append(out, inv)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

func validate(fields []Field, args map[string]interface{}) []skerr.FieldDiagnostic {
	var diags []skerr.FieldDiagnostic
	for _, f := range fields {
		v, present := args[f.Name]
		if !present {
			if f.Required {
				diags = append(diags, skerr.FieldDiagnostic{Field: f.Name, Message: "required field missing"})
			}
			continue
		}
		if msg := checkType(f, v); msg != "" {
			diags = append(diags, skerr.FieldDiagnostic{Field: f.Name, Message: msg})
		}
	}
	return diags
}

func checkType(f Field, v interface{}) string {
	switch f.Type {
	case FieldString:
		s, ok := v.(string)
		if !ok {
			return "expected string"
		}
		if len(f.Enum) > 0 && !contains(f.Enum, s) {
			return fmt.Sprintf("must be one of %v", f.Enum)
		}
	case FieldInt:
		switch n := v.(type) {
		case int, int32, int64, uint, uint32, uint64:
		case float64:
			// encoding/json decodes all numbers into interface{} as
			// float64, the shape every remote-gateway invocation
			// arrives in; require it to be integral.
			if n != float64(int64(n)) {
				return "expected int"
			}
		default:
			return "expected int"
		}
	case FieldFloat:
		switch v.(type) {
		case float32, float64:
		default:
			return "expected float"
		}
	case FieldBool:
		if _, ok := v.(bool); !ok {
			return "expected bool"
		}
	}
	return ""
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

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

// Package skerr defines the stable wire error kinds shared by every
// node daemon component: the tool registry, the JACK adapter, discovery,
// and the transport agent all return one of these instead of a bare error.
package skerr

import "fmt"

// Kind is a stable wire identifier for an error class.
type Kind string

// Wire-stable error kinds.
const (
	KindInvalidArgs      Kind = "invalid_args"
	KindToolNotFound     Kind = "tool_not_found"
	KindToolExists       Kind = "tool_exists"
	KindJackUnavailable  Kind = "jack_unavailable"
	KindEndpointMissing  Kind = "endpoint_missing"
	KindDirectionMismatch Kind = "direction_mismatch"
	KindAlreadyConnected Kind = "already_connected"
	KindNotConnected     Kind = "not_connected"
	KindTargetInPast     Kind = "target_in_past"
	KindRemoteTimeout    Kind = "remote_timeout"
	KindIDCollision      Kind = "id_collision"
	KindMalformed        Kind = "malformed"
	KindInternal         Kind = "internal"
)

// retryable reports whether a fresh attempt is generally worth making
// for a given error kind, per spec's resource-error propagation policy.
var retryable = map[Kind]bool{
	KindJackUnavailable: true,
	KindRemoteTimeout:   true,
	KindInternal:        false,
}

// FieldDiagnostic describes why a single field failed schema validation.
type FieldDiagnostic struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the carrier type returned across every tool/wire boundary.
type Error struct {
	Kind      Kind              `json:"kind"`
	Message   string            `json:"message"`
	Retryable bool              `json:"retryable"`
	Fields    []FieldDiagnostic `json:"fields,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New constructs an Error, looking up the default retryability for kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:      kind,
		Message:   fmt.Sprintf(format, args...),
		Retryable: retryable[kind],
	}
}

// Invalid constructs an invalid_args error carrying per-field diagnostics.
func Invalid(fields ...FieldDiagnostic) *Error {
	return &Error{
		Kind:    KindInvalidArgs,
		Message: "invalid arguments",
		Fields:  fields,
	}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	se, ok := err.(*Error)
	return ok && se.Kind == kind
}

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

// Package transport implements the distributed transport coordination
// wire protocol and the two roles that speak it: the Transport Agent
// (receiver, one per audio node) and the Transport Coordinator
// (sender, fans commands out to a set of agents).
package transport

import "encoding/json"

// Address is one of the small set of address-pattern message kinds.
type Address string

// Wire addresses, exactly as listed in spec.md §4.5.
const (
	AddrStart       Address = "/transport/start"
	AddrStop        Address = "/transport/stop"
	AddrLocate      Address = "/transport/locate"
	AddrLocateStart Address = "/transport/locate_start"
	AddrQuery       Address = "/transport/query"
	AddrState       Address = "/transport/state"
)

// Message is one wire envelope. Arguments are typed per Address:
//   - Start/Stop: optional TargetInstant (seconds since epoch, float64)
//   - Locate: Frame (uint64)
//   - LocateStart: Frame, TargetInstant
//   - Query: no arguments
//   - State: State, Frame, Now
//
// All timestamps are seconds-since-epoch doubles, per spec.md §6.
type Message struct {
	Address       Address `json:"address"`
	TargetInstant *float64 `json:"target_instant,omitempty"`
	Frame         uint64  `json:"frame,omitempty"`
	State         string  `json:"state,omitempty"`
	Now           float64 `json:"now,omitempty"`
}

// Encode serializes m using the wire's compact tagged encoding. JSON is
// used here for the same reason as the discovery beacon: self-describing,
// small payloads, and no pack repo demonstrates a custom binary OSC-style
// framer to imitate instead.
func Encode(m Message) ([]byte, error) { return json.Marshal(m) }

// Decode parses a wire message. Any failure is reported to the caller
// as a plain error; callers are expected to translate that into the
// malformed error kind and drop the message with a counter increment
// per spec.md §6.
func Decode(data []byte) (Message, error) {
	var m Message
	err := json.Unmarshal(data, &m)
	return m, err
}

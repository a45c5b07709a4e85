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

package discovery

import (
	"encoding/json"
	"math/rand"
	"net"
	"time"

	"github.com/go-logr/logr"

	"github.com/skeleton-crew/agentd/internal/model"
)

// DefaultBeaconPort is the LAN-scope UDP port beacons are sent/received on.
const DefaultBeaconPort = 5557

// WireVersion is the beacon payload's schema version.
const WireVersion = 1

// beaconInterval is the nominal period between broadcasts.
const beaconInterval = 2 * time.Second

// beaconJitter is the maximum +/- jitter applied to beaconInterval.
const beaconJitter = 250 * time.Millisecond

// beaconPayload is the wire shape of one UDP announcement, per spec §6.
// JSON is used for the payload (an Open Question decision, see DESIGN.md):
// it is self-describing, keeps the beacon readable on the wire for
// debugging with tcpdump/netcat, and every field is already small.
type beaconPayload struct {
	WireVersion int               `json:"wire_version"`
	NodeID      string            `json:"node_id"`
	NodeName    string            `json:"node_name"`
	Host        string            `json:"host"`
	ControlPort uint16            `json:"control_port"`
	Roles       []model.Role      `json:"roles"`
	Tags        map[string]string `json:"tags"`
	TimestampMs int64             `json:"timestamp_ms"`
}

// Beacon broadcasts and listens for node announcements on a LAN-scope
// UDP socket.
type Beacon struct {
	log      logr.Logger
	self     model.NodeDescriptor
	broadcastAddr *net.UDPAddr
	table    *NodeTable
}

// NewBeacon constructs a Beacon that announces self and feeds discovered
// peers into table. broadcastAddr is the LAN broadcast address paired
// with DefaultBeaconPort (e.g. "255.255.255.255:5557" or a subnet
// directed-broadcast address).
func NewBeacon(log logr.Logger, self model.NodeDescriptor, broadcastAddr string, table *NodeTable) (*Beacon, error) {
	addr, err := net.ResolveUDPAddr("udp4", broadcastAddr)
	if err != nil {
		return nil, err
	}
	return &Beacon{log: log.WithName("beacon"), self: self, broadcastAddr: addr, table: table}, nil
}

// Run sends jittered beacons and listens for peer beacons until stop is
// closed. It launches the sender and listener as two cooperative,
// non-blocking loops and returns once both have exited.
func (b *Beacon) Run(stop <-chan struct{}) error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: DefaultBeaconPort})
	if err != nil {
		return err
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.sendLoop(conn, stop)
	}()
	b.listenLoop(conn, stop)
	<-done
	return nil
}

func (b *Beacon) sendLoop(conn *net.UDPConn, stop <-chan struct{}) {
	for {
		wait := beaconInterval + time.Duration(rand.Int63n(int64(2*beaconJitter))) - beaconJitter
		select {
		case <-stop:
			return
		case <-time.After(wait):
			b.sendOnce(conn)
		}
	}
}

func (b *Beacon) sendOnce(conn *net.UDPConn) {
	payload := beaconPayload{
		WireVersion: WireVersion,
		NodeID:      b.self.ID,
		NodeName:    b.self.Name,
		Host:        b.self.Host,
		ControlPort: b.self.ControlPort,
		Roles:       b.self.Roles,
		Tags:        b.self.Tags,
		TimestampMs: time.Now().UnixMilli(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		b.log.Info("failed to encode beacon", "error", err.Error())
		return
	}
	if _, err := conn.WriteToUDP(data, b.broadcastAddr); err != nil {
		b.log.Info("failed to send beacon", "error", err.Error())
	}
}

func (b *Beacon) listenLoop(conn *net.UDPConn, stop <-chan struct{}) {
	buf := make([]byte, 4096)
	for {
		select {
		case <-stop:
			return
		default:
		}
		conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			continue
		}
		var payload beaconPayload
		if err := json.Unmarshal(buf[:n], &payload); err != nil {
			continue
		}
		if payload.NodeID == b.self.ID {
			continue // ignore our own broadcasts
		}
		b.table.Observe(model.NodeDescriptor{
			ID:          payload.NodeID,
			Name:        payload.NodeName,
			Host:        payload.Host,
			ControlPort: payload.ControlPort,
			Roles:       payload.Roles,
			Tags:        payload.Tags,
			LastSeen:    time.UnixMilli(payload.TimestampMs),
		})
	}
}

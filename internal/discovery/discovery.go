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

// Package discovery implements the two complementary mechanisms peers
// use to find each other and each other's capabilities: a UDP beacon
// for node liveness, and a websocket-based service channel for
// capability pub/sub.
package discovery

import (
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/mux"

	"github.com/skeleton-crew/agentd/internal/eventbus"
	"github.com/skeleton-crew/agentd/internal/model"
)

// Discovery bundles the node table, service table, beacon, and service
// channel server for a single local node.
type Discovery struct {
	log logr.Logger
	bus *eventbus.Bus
	self model.NodeDescriptor

	Nodes    *NodeTable
	Services *ServiceTable
	Channel  *ServiceChannelServer

	beacon *Beacon
	stop   chan struct{}
}

// New constructs a Discovery for self. broadcastAddr is the LAN
// broadcast address paired with DefaultBeaconPort; liveness is the node
// liveness window (DefaultLivenessWindow if zero).
func New(log logr.Logger, bus *eventbus.Bus, self model.NodeDescriptor, broadcastAddr string, liveness time.Duration) (*Discovery, error) {
	nodes := NewNodeTable(log, bus, liveness)
	services := NewServiceTable(log, bus)
	channel := NewServiceChannelServer(log, services)

	beacon, err := NewBeacon(log, self, broadcastAddr, nodes)
	if err != nil {
		return nil, err
	}

	return &Discovery{
		log:      log.WithName("discovery"),
		bus:      bus,
		self:     self,
		Nodes:    nodes,
		Services: services,
		Channel:  channel,
		beacon:   beacon,
		stop:     make(chan struct{}),
	}, nil
}

// RegisterHTTPRoutes mounts the service channel subscription endpoint.
func (d *Discovery) RegisterHTTPRoutes(router *mux.Router) {
	d.Channel.Register(router)
}

// Start launches the beacon and the liveness sweeper as background
// goroutines. It returns immediately.
func (d *Discovery) Start() {
	go func() {
		if err := d.beacon.Run(d.stop); err != nil {
			d.log.Info("beacon stopped", "error", err.Error())
		}
	}()
	go d.Nodes.Run(d.stop)
}

// Stop terminates the beacon and sweeper goroutines.
func (d *Discovery) Stop() {
	close(d.stop)
}

// RegisterService publishes a new local service to every subscriber and
// installs it in the local projection.
func (d *Discovery) RegisterService(svc model.ServiceDescriptor) {
	ev := ServiceEvent{Action: ServiceRegistered, Service: svc}
	d.Services.Apply(ev)
	d.Channel.Publish(ev)
}

// UpdateService publishes a change to an already-registered local service.
func (d *Discovery) UpdateService(svc model.ServiceDescriptor) {
	ev := ServiceEvent{Action: ServiceUpdated, Service: svc}
	d.Services.Apply(ev)
	d.Channel.Publish(ev)
}

// UnregisterService publishes removal of a local service.
func (d *Discovery) UnregisterService(svc model.ServiceDescriptor) {
	ev := ServiceEvent{Action: ServiceUnregistered, Service: svc}
	d.Services.Apply(ev)
	d.Channel.Publish(ev)
}

// Subscribe connects to a peer's service channel, given its HTTP origin
// (e.g. "http://10.0.0.5:9000"), and begins forwarding its deltas into
// the local Services projection in the background.
func (d *Discovery) Subscribe(peerHTTPOrigin string) error {
	client, err := NewServiceChannelClient(d.log, d.Services, peerHTTPOrigin)
	if err != nil {
		return err
	}
	go client.Run(d.stop)
	return nil
}

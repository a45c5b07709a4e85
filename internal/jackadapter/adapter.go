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

// Package jackadapter wraps a local JACK server connection: port and
// connection graph inspection, transport control, and reconnection
// after jackd restarts. Port-registration notifications arrive on the
// JACK realtime callback thread, which must never allocate or block,
// so they are funneled through a buffered channel to a dedicated
// worker goroutine exactly as the teacher's AutoConnector does.
package jackadapter

import (
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/xthexder/go-jack"

	"github.com/skeleton-crew/agentd/internal/eventbus"
	"github.com/skeleton-crew/agentd/internal/model"
	"github.com/skeleton-crew/agentd/internal/skerr"
	"github.com/skeleton-crew/agentd/internal/supervisor"
)

// reconnectBackoff is the fixed schedule from spec.md §7: 1, 2, 5, 10s,
// then every 30s until a connection succeeds.
var reconnectBackoff = []time.Duration{
	1 * time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second, 30 * time.Second,
}

// clientName is the JACK client name this adapter registers under.
const clientName = "skeletond"

// JackUnitName is the systemd unit restarted when reconnection attempts
// are exhausted and a supervisor is configured.
const JackUnitName = "jack.service"

// Adapter owns the local JACK client connection. It is safe for
// concurrent use; all graph mutation funnels through ClientLock exactly
// as the teacher's AutoConnector serializes on its own lock.
type Adapter struct {
	log        logr.Logger
	bus        *eventbus.Bus
	supervisor supervisor.Supervisor

	ClientLock          sync.Mutex
	client              *jack.Client
	registrationChannel chan jack.PortId

	closeOnce sync.Once
	done      chan struct{}
	running   bool
}

// New constructs an Adapter. sup may be nil, in which case a failed
// reconnect never attempts to restart a systemd unit.
func New(log logr.Logger, bus *eventbus.Bus, sup supervisor.Supervisor) *Adapter {
	return &Adapter{
		log:                 log.WithName("jackadapter"),
		bus:                 bus,
		supervisor:          sup,
		registrationChannel: make(chan jack.PortId, 200),
		done:                make(chan struct{}),
	}
}

// Start opens the JACK client and begins the registration-notification
// worker loop. It does not block; reconnection happens in the background.
func (a *Adapter) Start() error {
	if err := a.connect(); err != nil {
		a.log.Info("initial JACK connection failed, will retry in background", "error", err.Error())
		// Wake the worker so it enters the reconnect backoff.
		select {
		case a.registrationChannel <- jack.PortId(0):
		default:
		}
	}
	go a.run()
	return nil
}

// Stop closes the JACK client and terminates the worker loop.
func (a *Adapter) Stop() {
	a.closeOnce.Do(func() { close(a.done) })
	a.teardown()
}

func (a *Adapter) connect() error {
	a.ClientLock.Lock()
	defer a.ClientLock.Unlock()
	if a.client != nil {
		return nil
	}
	client, code := jack.ClientOpen(clientName, jack.NoStartServer)
	if client == nil || code != 0 {
		return skerr.New(skerr.KindJackUnavailable, "open JACK client: %s", jack.StrError(code))
	}
	if code := client.SetPortRegistrationCallback(a.handlePortRegistration); code != 0 {
		client.Close()
		return skerr.New(skerr.KindJackUnavailable, "set port registration callback: %s", jack.StrError(code))
	}
	client.OnShutdown(a.onShutdown)
	if code := client.Activate(); code != 0 {
		client.Close()
		return skerr.New(skerr.KindJackUnavailable, "activate JACK client: %s", jack.StrError(code))
	}
	a.client = client
	a.running = true
	a.log.Info("JACK client connected", "name", client.GetName())
	return nil
}

// handlePortRegistration runs on the JACK realtime thread; it must only
// ever enqueue, never touch the graph directly. Registrations and
// unregistrations are both enqueued, so either one leads run to publish
// jack_port_changed.
func (a *Adapter) handlePortRegistration(port jack.PortId, register bool) {
	select {
	case a.registrationChannel <- port:
	default:
		a.log.Info("registration channel full, dropping notification")
	}
	_ = register
}

// onShutdown runs when jackd disappears out from under the client.
func (a *Adapter) onShutdown() {
	a.ClientLock.Lock()
	a.client = nil
	a.running = false
	a.ClientLock.Unlock()
	a.log.Info("JACK server shut down, will attempt reconnect")
	select {
	case a.registrationChannel <- jack.PortId(0):
	default:
	}
}

func (a *Adapter) teardown() {
	a.ClientLock.Lock()
	defer a.ClientLock.Unlock()
	if a.client != nil {
		a.client.Close()
		a.client = nil
	}
	a.running = false
}

// run drives the reconnect backoff and publishes graph-change events
// whenever a registration notification arrives.
func (a *Adapter) run() {
	attempt := 0
	for {
		select {
		case <-a.done:
			return
		case <-a.registrationChannel:
			a.ClientLock.Lock()
			connected := a.client != nil
			a.ClientLock.Unlock()
			if connected {
				attempt = 0
				a.bus.Publish(eventbus.Event{Kind: eventbus.KindJackPortChanged})
				continue
			}
			wait := reconnectBackoff[attempt]
			if attempt < len(reconnectBackoff)-1 {
				attempt++
			}
			time.Sleep(wait)
			if err := a.connect(); err != nil {
				a.log.Info("JACK reconnect attempt failed", "error", err.Error(), "next_wait", wait)
				if attempt == len(reconnectBackoff)-1 && a.supervisor != nil {
					if rerr := a.supervisor.Restart(JackUnitName); rerr != nil {
						a.log.Info("could not restart JACK service unit", "unit", JackUnitName, "error", rerr.Error())
					}
				}
				select {
				case a.registrationChannel <- jack.PortId(0):
				default:
				}
			}
		}
	}
}

// Status reports whether the adapter currently holds a live JACK
// connection. A disconnected adapter reports a synthetic "not running"
// record instead of erroring, so callers can always render node status.
func (a *Adapter) Status() model.TransportState {
	a.ClientLock.Lock()
	defer a.ClientLock.Unlock()
	if a.client == nil {
		return model.TransportState{State: model.TransportStopped}
	}
	state, _ := a.client.TransportQuery()
	return model.TransportState{
		State:      transportKind(state),
		Frame:      uint64(a.client.GetFrameTime()),
		SampleRate: a.client.GetSampleRate(),
	}
}

// Running reports whether a JACK client connection is currently held.
func (a *Adapter) Running() bool {
	a.ClientLock.Lock()
	defer a.ClientLock.Unlock()
	return a.running
}

func transportKind(state jack.TransportState) model.TransportStateKind {
	switch state {
	case jack.TransportRolling:
		return model.TransportRolling
	case jack.TransportStarting:
		return model.TransportStarting
	default:
		return model.TransportStopped
	}
}

// ListPorts returns every port currently visible in the JACK graph.
func (a *Adapter) ListPorts() ([]model.JackPort, error) {
	a.ClientLock.Lock()
	defer a.ClientLock.Unlock()
	if a.client == nil {
		return nil, skerr.New(skerr.KindJackUnavailable, "JACK server is not reachable")
	}
	names := a.client.GetPorts("", "", 0)
	ports := make([]model.JackPort, 0, len(names))
	for _, name := range names {
		p := a.client.GetPortByName(name)
		if p == nil {
			continue
		}
		ports = append(ports, portToModel(p))
	}
	return ports, nil
}

// PortFilter narrows ListPorts/StatusSnapshot results. A zero value
// matches every port.
type PortFilter struct {
	Direction model.Direction
	Type      model.PortType
}

func (f PortFilter) matches(p model.JackPort) bool {
	if f.Direction != "" && p.Direction != f.Direction {
		return false
	}
	if f.Type != "" && p.Type != f.Type {
		return false
	}
	return true
}

// FilterPorts returns the subset of ports matching filter, per spec.md
// §4.2's list_ports(filter).
func FilterPorts(ports []model.JackPort, filter PortFilter) []model.JackPort {
	out := make([]model.JackPort, 0, len(ports))
	for _, p := range ports {
		if filter.matches(p) {
			out = append(out, p)
		}
	}
	return out
}

// Connections returns the current connection graph as source port name
// -> list of connected sink port names, per spec.md §4.2's connection map.
func (a *Adapter) Connections() (map[string][]string, error) {
	a.ClientLock.Lock()
	defer a.ClientLock.Unlock()
	if a.client == nil {
		return nil, skerr.New(skerr.KindJackUnavailable, "JACK server is not reachable")
	}
	names := a.client.GetPorts("", "", 0)
	out := make(map[string][]string)
	for _, name := range names {
		p := a.client.GetPortByName(name)
		if p == nil || p.GetFlags()&jack.PortIsOutput == 0 {
			continue
		}
		if conns := p.GetConnections(); len(conns) > 0 {
			out[name] = conns
		}
	}
	return out, nil
}

// StatusSnapshot is the full body spec.md §4.2's status() returns:
// running flag (as a label), sample rate, port list split by direction,
// and the connection map. A disconnected adapter returns the synthetic
// "not_running" record of spec.md §8 scenario 5 rather than an error.
type StatusSnapshot struct {
	Status      string                   `json:"status"`
	Ports       PortsByDirection         `json:"ports"`
	Connections map[string][]string      `json:"connections"`
	Transport   model.TransportStateKind `json:"transport_state"`
	SampleRate  uint32                   `json:"sample_rate,omitempty"`
}

// PortsByDirection groups port names by direction plus a total count.
type PortsByDirection struct {
	Source []string `json:"source"`
	Sink   []string `json:"sink"`
	Total  int      `json:"total"`
}

// Snapshot builds the full jack_status tool body. It never fails: a
// missing JACK connection yields the "not_running" record instead of
// an error, matching spec.md §4.2's "status calls return a synthetic
// not running record rather than throwing".
func (a *Adapter) Snapshot() StatusSnapshot {
	if !a.Running() {
		return StatusSnapshot{
			Status:      "not_running",
			Ports:       PortsByDirection{Source: []string{}, Sink: []string{}},
			Connections: map[string][]string{},
			Transport:   model.TransportStopped,
		}
	}

	ports, err := a.ListPorts()
	if err != nil {
		return StatusSnapshot{
			Status:      "not_running",
			Ports:       PortsByDirection{Source: []string{}, Sink: []string{}},
			Connections: map[string][]string{},
			Transport:   model.TransportStopped,
		}
	}
	connections, _ := a.Connections()
	if connections == nil {
		connections = map[string][]string{}
	}
	state := a.Status()

	byDir := PortsByDirection{Source: []string{}, Sink: []string{}, Total: len(ports)}
	for _, p := range ports {
		if p.Direction == model.DirectionSource {
			byDir.Source = append(byDir.Source, p.Name)
		} else {
			byDir.Sink = append(byDir.Sink, p.Name)
		}
	}

	return StatusSnapshot{
		Status:      "running",
		Ports:       byDir,
		Connections: connections,
		Transport:   state.State,
		SampleRate:  state.SampleRate,
	}
}

func portToModel(p *jack.Port) model.JackPort {
	flags := p.GetFlags()
	dir := model.DirectionSink
	if flags&jack.PortIsOutput != 0 {
		dir = model.DirectionSource
	}
	typ := model.PortAudio
	if strings.Contains(p.GetType(), "midi") {
		typ = model.PortMIDI
	}
	return model.JackPort{
		Name:      p.GetName(),
		Direction: dir,
		Type:      typ,
		Physical:  flags&jack.PortIsPhysical != 0,
		Terminal:  flags&jack.PortIsTerminal != 0,
	}
}

// Connect establishes a directed connection from src to dest. Surfaces
// endpoint_missing, direction_mismatch, and already_connected per the
// stable wire error taxonomy.
func (a *Adapter) Connect(src, dest string) error {
	a.ClientLock.Lock()
	defer a.ClientLock.Unlock()
	if a.client == nil {
		return skerr.New(skerr.KindJackUnavailable, "JACK server is not reachable")
	}
	srcPort := a.client.GetPortByName(src)
	destPort := a.client.GetPortByName(dest)
	if srcPort == nil {
		return skerr.New(skerr.KindEndpointMissing, "port not found: %s", src)
	}
	if destPort == nil {
		return skerr.New(skerr.KindEndpointMissing, "port not found: %s", dest)
	}
	if srcPort.GetFlags()&jack.PortIsOutput == 0 {
		return skerr.New(skerr.KindDirectionMismatch, "%s is not an output port", src)
	}
	if destPort.GetFlags()&jack.PortIsInput == 0 {
		return skerr.New(skerr.KindDirectionMismatch, "%s is not an input port", dest)
	}
	for _, conn := range srcPort.GetConnections() {
		if conn == dest {
			return skerr.New(skerr.KindAlreadyConnected, "%s is already connected to %s", src, dest)
		}
	}
	if code := a.client.Connect(src, dest); code != 0 {
		return skerr.New(skerr.KindInternal, "connect %s -> %s: %s", src, dest, jack.StrError(code))
	}
	a.bus.Publish(eventbus.Event{Kind: eventbus.KindJackConnectionChanged, Payload: model.JackConnection{Source: src, Sink: dest}})
	return nil
}

// Disconnect removes a directed connection from src to dest.
func (a *Adapter) Disconnect(src, dest string) error {
	a.ClientLock.Lock()
	defer a.ClientLock.Unlock()
	if a.client == nil {
		return skerr.New(skerr.KindJackUnavailable, "JACK server is not reachable")
	}
	srcPort := a.client.GetPortByName(src)
	if srcPort == nil {
		return skerr.New(skerr.KindEndpointMissing, "port not found: %s", src)
	}
	connected := false
	for _, conn := range srcPort.GetConnections() {
		if conn == dest {
			connected = true
			break
		}
	}
	if !connected {
		return skerr.New(skerr.KindNotConnected, "%s is not connected to %s", src, dest)
	}
	if code := a.client.Disconnect(src, dest); code != 0 {
		return skerr.New(skerr.KindInternal, "disconnect %s -> %s: %s", src, dest, jack.StrError(code))
	}
	a.bus.Publish(eventbus.Event{Kind: eventbus.KindJackConnectionChanged, Payload: model.JackConnection{Source: src, Sink: dest}})
	return nil
}

// TransportStart begins JACK transport playback.
func (a *Adapter) TransportStart() error {
	a.ClientLock.Lock()
	defer a.ClientLock.Unlock()
	if a.client == nil {
		return skerr.New(skerr.KindJackUnavailable, "JACK server is not reachable")
	}
	a.client.TransportStart()
	a.bus.Publish(eventbus.Event{Kind: eventbus.KindJackTransportChanged, Payload: model.TransportStarting})
	return nil
}

// TransportStop halts JACK transport playback.
func (a *Adapter) TransportStop() error {
	a.ClientLock.Lock()
	defer a.ClientLock.Unlock()
	if a.client == nil {
		return skerr.New(skerr.KindJackUnavailable, "JACK server is not reachable")
	}
	a.client.TransportStop()
	a.bus.Publish(eventbus.Event{Kind: eventbus.KindJackTransportChanged, Payload: model.TransportStopped})
	return nil
}

// TransportLocate repositions the JACK transport playhead to frame.
func (a *Adapter) TransportLocate(frame uint64) error {
	a.ClientLock.Lock()
	defer a.ClientLock.Unlock()
	if a.client == nil {
		return skerr.New(skerr.KindJackUnavailable, "JACK server is not reachable")
	}
	a.client.TransportLocate(jack.NFrames(frame))
	return nil
}

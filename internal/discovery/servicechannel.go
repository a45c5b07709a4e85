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
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// ServiceChannelPath is the HTTP path peers connect to when subscribing
// to this node's service channel.
const ServiceChannelPath = "/v1/services/stream"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// ServiceChannelServer publishes local ServiceEvents to every connected
// subscriber. It mirrors the teacher's heartbeat-over-websocket shape,
// but fans a single outbound stream to many peers instead of one.
type ServiceChannelServer struct {
	log   logr.Logger
	table *ServiceTable

	mu   sync.Mutex
	subs map[*websocket.Conn]chan ServiceEvent
}

// NewServiceChannelServer constructs a ServiceChannelServer backed by table.
func NewServiceChannelServer(log logr.Logger, table *ServiceTable) *ServiceChannelServer {
	return &ServiceChannelServer{
		log:   log.WithName("servicechannel"),
		table: table,
		subs:  make(map[*websocket.Conn]chan ServiceEvent),
	}
}

// Register mounts the subscription endpoint on router.
func (s *ServiceChannelServer) Register(router *mux.Router) {
	router.HandleFunc(ServiceChannelPath, s.handleSubscribe).Methods(http.MethodGet)
}

func (s *ServiceChannelServer) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Info("failed to upgrade service channel subscriber", "error", err.Error())
		return
	}

	// Warm the subscriber's cache with a snapshot before relying on deltas.
	for _, svc := range s.table.Snapshot() {
		snapEvent := ServiceEvent{Action: ServiceRegistered, Service: svc}
		if err := conn.WriteJSON(snapEvent); err != nil {
			conn.Close()
			return
		}
	}

	ch := make(chan ServiceEvent, 64)
	s.mu.Lock()
	s.subs[conn] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.subs, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for ev := range ch {
		if err := conn.WriteJSON(ev); err != nil {
			s.log.Info("failed to send service event, dropping subscriber", "error", err.Error())
			return
		}
	}
}

// Publish fans ev out to every connected subscriber. A send failure on
// one subscriber's queue does not affect delivery to the others.
func (s *ServiceChannelServer) Publish(ev ServiceEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.log.Info("service channel subscriber queue full, dropping event")
			delete(s.subs, conn)
			close(ch)
		}
	}
}

// ServiceChannelClient subscribes to one peer's service channel and
// forwards received deltas into a local ServiceTable. Grounded directly
// on the teacher's WebSocketManager: a guarded *websocket.Conn plus an
// IsInitialized flag, reconnected with backoff on read failure.
type ServiceChannelClient struct {
	log   logr.Logger
	table *ServiceTable
	peerURL string

	mu            sync.Mutex
	conn          *websocket.Conn
	isInitialized bool
}

// NewServiceChannelClient constructs a client that will subscribe to
// peerHTTPOrigin (e.g. "http://10.0.0.5:9000").
func NewServiceChannelClient(log logr.Logger, table *ServiceTable, peerHTTPOrigin string) (*ServiceChannelClient, error) {
	u, err := url.Parse(peerHTTPOrigin)
	if err != nil {
		return nil, err
	}
	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	wsURL := url.URL{Scheme: scheme, Host: u.Host, Path: ServiceChannelPath}
	return &ServiceChannelClient{
		log:     log.WithName("servicechannel.client"),
		table:   table,
		peerURL: wsURL.String(),
	}, nil
}

// Run dials the peer and forwards events until stop is closed,
// reconnecting with backoff after any read failure (a dropped
// subscription is re-established with a full state resync via the
// server's snapshot-on-subscribe behavior).
func (c *ServiceChannelClient) Run(stop <-chan struct{}) {
	backoff := []time.Duration{1 * time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second}
	attempt := 0
	for {
		select {
		case <-stop:
			return
		default:
		}
		if err := c.connectAndDrain(stop); err != nil {
			c.log.Info("service channel subscription dropped, reconnecting", "error", err.Error())
		}
		wait := backoff[attempt]
		if attempt < len(backoff)-1 {
			attempt++
		}
		select {
		case <-stop:
			return
		case <-time.After(wait):
		}
	}
}

func (c *ServiceChannelClient) connectAndDrain(stop <-chan struct{}) error {
	conn, _, err := websocket.DefaultDialer.Dial(c.peerURL, nil)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.isInitialized = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.isInitialized = false
		c.mu.Unlock()
		conn.Close()
	}()

	for {
		select {
		case <-stop:
			return nil
		default:
		}
		var ev ServiceEvent
		if err := conn.ReadJSON(&ev); err != nil {
			return err
		}
		c.table.Apply(ev)
	}
}

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

// Package config loads the single DaemonConfig YAML file a node daemon
// is assembled from at startup. spec.md explicitly scopes "CLI argument
// parsing, packaging, logging setup, file I/O conveniences" out of the
// core, but the ambient stack still needs a concrete config surface --
// this is that surface, kept as small as the daemon's own wiring needs.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/skeleton-crew/agentd/internal/model"
)

// DaemonConfig is the top-level shape of a node's config file.
type DaemonConfig struct {
	NodeID   string   `yaml:"node_id"`
	NodeName string   `yaml:"node_name"`
	Host     string   `yaml:"host"`
	Roles    []string `yaml:"roles"`

	Discovery DiscoveryConfig `yaml:"discovery"`
	Transport TransportConfig `yaml:"transport"`
	JACK      JACKConfig      `yaml:"jack"`
	Voice     VoiceConfig     `yaml:"voice"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Recorder  RecorderConfig  `yaml:"recorder"`

	// StoreDSN is the optional sqlite DSN backing internal/store. An
	// empty value is a supported degraded mode: the store becomes a
	// no-op and core operation continues without persistence.
	StoreDSN string `yaml:"store_dsn,omitempty"`
}

// DiscoveryConfig configures the beacon and service channel.
// BeaconInterval is defaulted on load, but the beacon sends on its own
// fixed 2s (±250ms) schedule and does not read it.
type DiscoveryConfig struct {
	BroadcastAddr   string        `yaml:"broadcast_addr"`
	ControlPort     uint16        `yaml:"control_port"`
	LivenessWindow  time.Duration `yaml:"liveness_window"`
	BeaconInterval  time.Duration `yaml:"beacon_interval"`
}

// TransportConfig configures the Transport Agent / Coordinator.
type TransportConfig struct {
	AgentListenAddr string            `yaml:"agent_listen_addr,omitempty"`
	Agents          []TransportAgent  `yaml:"agents,omitempty"`
}

// TransportAgent is one statically-configured coordinator peer.
type TransportAgent struct {
	Name string `yaml:"name"`
	Addr string `yaml:"addr"`
}

// JACKConfig holds the JACK client name. ClientName is defaulted on
// load, but the JACK Adapter registers under its own fixed client name
// ("skeletond") and does not read it.
type JACKConfig struct {
	ClientName string `yaml:"client_name,omitempty"`
}

// VoiceConfig configures the voice pipeline.
type VoiceConfig struct {
	Enabled          bool                    `yaml:"enabled"`
	InputPort        string                  `yaml:"input_port,omitempty"`
	RecognizerURL    string                  `yaml:"recognizer_url,omitempty"`
	RecognizerRate   int                     `yaml:"recognizer_rate,omitempty"`
	ListeningWindow  time.Duration           `yaml:"listening_window,omitempty"`
	WakeWords        map[string]string       `yaml:"wake_words,omitempty"`
	Aliases          []model.CommandAlias    `yaml:"aliases,omitempty"`
}

// GatewayConfig configures the Remote Invocation Gateway.
type GatewayConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	DefaultTimeout time.Duration `yaml:"default_timeout,omitempty"`
}

// RecorderConfig configures the FLAC/HLS recorder.
type RecorderConfig struct {
	MediaDir string `yaml:"media_dir,omitempty"`
}

// DefaultLivenessWindow is applied when DiscoveryConfig.LivenessWindow
// is unset, per spec.md §6.
const DefaultLivenessWindow = 10 * time.Second

// DefaultBeaconInterval is applied when DiscoveryConfig.BeaconInterval
// is unset, per spec.md §6.
const DefaultBeaconInterval = 2 * time.Second

// DefaultRemoteTimeout is applied when GatewayConfig.DefaultTimeout is
// unset, per spec.md §5.
const DefaultRemoteTimeout = 5 * time.Second

// Load reads and parses a DaemonConfig from path, applying defaults for
// any duration fields the file leaves zero.
func Load(path string) (*DaemonConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg DaemonConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *DaemonConfig) applyDefaults() {
	if c.Discovery.LivenessWindow <= 0 {
		c.Discovery.LivenessWindow = DefaultLivenessWindow
	}
	if c.Discovery.BeaconInterval <= 0 {
		c.Discovery.BeaconInterval = DefaultBeaconInterval
	}
	if c.Gateway.DefaultTimeout <= 0 {
		c.Gateway.DefaultTimeout = DefaultRemoteTimeout
	}
	if c.JACK.ClientName == "" {
		c.JACK.ClientName = "skeletond"
	}
	if c.Voice.RecognizerRate <= 0 {
		c.Voice.RecognizerRate = 16000
	}
	if c.Voice.ListeningWindow <= 0 {
		c.Voice.ListeningWindow = 5 * time.Second
	}
	if c.Recorder.MediaDir == "" {
		c.Recorder.MediaDir = "/var/lib/skeletond/media"
	}
}

// Validate reports a configuration error (exit code 2, per spec.md §6)
// for the fields the daemon cannot start without.
func (c *DaemonConfig) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("config: node_id is required")
	}
	if c.Discovery.ControlPort == 0 {
		return fmt.Errorf("config: discovery.control_port is required")
	}
	return nil
}

// Roleset converts the configured string roles into model.Role values,
// dropping any that are not in the closed vocabulary.
func (c *DaemonConfig) Roleset() []model.Role {
	known := map[string]model.Role{
		string(model.RoleAudioHub):           model.RoleAudioHub,
		string(model.RoleSTTRealtime):        model.RoleSTTRealtime,
		string(model.RoleSTTBatch):           model.RoleSTTBatch,
		string(model.RoleTTS):                model.RoleTTS,
		string(model.RoleLLM):                model.RoleLLM,
		string(model.RoleRAG):                model.RoleRAG,
		string(model.RoleTransportAgent):      model.RoleTransportAgent,
		string(model.RoleTransportCoordinator): model.RoleTransportCoordinator,
	}
	var out []model.Role
	for _, r := range c.Roles {
		if role, ok := known[r]; ok {
			out = append(out, role)
		}
	}
	return out
}

// HasRole reports whether role is present in c.Roles.
func (c *DaemonConfig) HasRole(role model.Role) bool {
	for _, r := range c.Roleset() {
		if r == role {
			return true
		}
	}
	return false
}

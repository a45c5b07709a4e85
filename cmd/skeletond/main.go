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

// skeletond is the node daemon: it loads a DaemonConfig and wires up
// every core component -- the JACK adapter, the tool registry, discovery,
// the transport agent/coordinator, the voice pipeline, the recorder, and
// the remote invocation gateway -- behind one HTTP router.
package main

import (
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-logr/zapr"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/skeleton-crew/agentd/internal/clock"
	"github.com/skeleton-crew/agentd/internal/config"
	"github.com/skeleton-crew/agentd/internal/discovery"
	"github.com/skeleton-crew/agentd/internal/eventbus"
	"github.com/skeleton-crew/agentd/internal/gateway"
	"github.com/skeleton-crew/agentd/internal/jackadapter"
	"github.com/skeleton-crew/agentd/internal/model"
	"github.com/skeleton-crew/agentd/internal/recorder"
	"github.com/skeleton-crew/agentd/internal/registry"
	"github.com/skeleton-crew/agentd/internal/skerr"
	"github.com/skeleton-crew/agentd/internal/store"
	"github.com/skeleton-crew/agentd/internal/supervisor"
	"github.com/skeleton-crew/agentd/internal/transport"
	"github.com/skeleton-crew/agentd/internal/voice"
)

var zLogger, _ = zap.NewProduction()
var log = zapr.NewLogger(zLogger).WithName("skeletond")

// toolHistorySize bounds the registry's in-memory audit ring.
const toolHistorySize = 500

// jackStartupGrace is how long main waits for an initial JACK
// connection before deciding an audio_hub node can't do its job.
const jackStartupGrace = 2 * time.Second

func main() {
	configPath := flag.String("c", "/etc/skeletond/daemon.yaml", "path to the node daemon config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error(err, "failed to load configuration")
		os.Exit(2)
	}

	os.Exit(run(cfg))
}

// run wires every component together and blocks until shutdown,
// returning the process exit code per spec.md §6.
func run(cfg *config.DaemonConfig) int {
	bus := eventbus.New(log)
	sysClock := clock.NewSystem()
	sched := clock.NewScheduler(sysClock)
	defer sched.Stop()

	sup := supervisor.NewSystemd(log)
	jackAdapter := jackadapter.New(log, bus, sup)
	if err := jackAdapter.Start(); err != nil {
		log.Info("initial JACK connection failed, continuing in background-retry mode", "error", err.Error())
	}
	defer jackAdapter.Stop()

	if cfg.HasRole(model.RoleAudioHub) {
		time.Sleep(jackStartupGrace)
		if !jackAdapter.Running() {
			log.Error(nil, "audio_hub role requires JACK at startup and none was reachable")
			return 3
		}
	}

	var st store.Store = store.Noop{}
	if cfg.StoreDSN != "" {
		sqlStore, err := store.Open(cfg.StoreDSN)
		if err != nil {
			log.Error(err, "failed to open persistent store")
			return 2
		}
		defer sqlStore.Close()
		st = sqlStore
	}

	self := model.NodeDescriptor{
		ID:          cfg.NodeID,
		Name:        cfg.NodeName,
		Host:        cfg.Host,
		ControlPort: cfg.Discovery.ControlPort,
		Roles:       cfg.Roleset(),
		Tags:        map[string]string{},
		Status:      model.NodeOnline,
		LastSeen:    sysClock.Now(),
	}

	disc, err := discovery.New(log, bus, self, cfg.Discovery.BroadcastAddr, cfg.Discovery.LivenessWindow)
	if err != nil {
		log.Error(err, "failed to initialize discovery")
		return 2
	}
	disc.Start()
	defer disc.Stop()

	bus.Subscribe(eventbus.KindNodeUpdated, eventbus.Async, func(e eventbus.Event) {
		if n, ok := e.Payload.(model.NodeDescriptor); ok {
			_ = st.SaveNode(n)
		}
	})
	bus.Subscribe(eventbus.KindNodeDiscovered, eventbus.Async, func(e eventbus.Event) {
		if n, ok := e.Payload.(model.NodeDescriptor); ok {
			_ = st.SaveNode(n)
		}
	})
	bus.Subscribe(eventbus.KindToolInvocationFinished, eventbus.Async, func(e eventbus.Event) {
		if inv, ok := e.Payload.(model.ToolInvocation); ok {
			_ = st.SaveInvocation(inv)
		}
	})

	reg := registry.New(log, bus, toolHistorySize)

	rec := recorder.New(log, cfg.Recorder.MediaDir)
	if err := rec.Start(); err != nil {
		log.Info("recorder failed to reach JACK at startup, will retry on demand", "error", err.Error())
	}
	defer rec.Stop()

	coordinator := transport.NewCoordinator(log)
	for _, a := range cfg.Transport.Agents {
		coordinator.AddAgent(a.Addr, a.Name)
	}

	agent := transport.NewAgent(log, bus, sysClock, sched, jackAdapter)
	stopTransport := make(chan struct{})
	if cfg.Transport.AgentListenAddr != "" {
		go func() {
			if err := agent.ListenUDP(cfg.Transport.AgentListenAddr, stopTransport); err != nil {
				log.Error(err, "transport agent UDP listener exited")
			}
		}()
	}
	defer close(stopTransport)

	gatewayClient := gateway.NewClient(log, cfg.Gateway.DefaultTimeout)
	registerTools(reg, jackAdapter, rec, disc, self, coordinator)

	gatewayServer := gateway.NewServer(log, reg)
	router := mux.NewRouter()
	disc.RegisterHTTPRoutes(router)
	gatewayServer.Register(router)

	var wg sync.WaitGroup
	wg.Add(1)
	go runHTTPServer(&wg, cfg.Gateway.ListenAddr, router)

	var stopVoice chan struct{}
	var voiceCapture *voice.Capture
	if cfg.Voice.Enabled {
		stopVoice = make(chan struct{})
		voiceCapture = startVoicePipeline(cfg, bus, reg, disc, gatewayClient, stopVoice)
	}

	code := waitForShutdown()

	if stopVoice != nil {
		close(stopVoice)
		voiceCapture.Stop()
	}
	log.Info("shutting down")
	return code
}

// runHTTPServer serves router on addr until the process exits, logging
// a fatal-looking error rather than crashing the whole daemon outright.
func runHTTPServer(wg *sync.WaitGroup, addr string, router *mux.Router) {
	defer wg.Done()
	log.Info("starting HTTP server", "addr", addr)
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Error(err, "HTTP server exited")
	}
}

// waitForShutdown blocks until SIGINT/SIGTERM, returning the process
// exit code spec.md §6 assigns to an interrupted run.
func waitForShutdown() int {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	return 130
}

// localOrRemoteDispatcher routes a voice command to the local registry
// when its target node is this node, otherwise to the target's gateway
// over HTTP, resolved through the discovery node table.
type localOrRemoteDispatcher struct {
	selfID string
	reg    *registry.Registry
	nodes  *discovery.NodeTable
	client *gateway.Client
}

// voiceCommandArgs builds the trigger_voice_command tool's argument set,
// per spec.md §4.7 step 6: a command event is delivered to the registry
// as a trigger_voice_command invocation, never by executing the
// resolved command name as a tool in its own right.
func voiceCommandArgs(cmd voice.Command) map[string]interface{} {
	return map[string]interface{}{
		"command":    cmd.Command,
		"raw_text":   cmd.RawText,
		"confidence": cmd.Confidence,
	}
}

func (d *localOrRemoteDispatcher) Dispatch(cmd voice.Command) error {
	if cmd.TargetNode == "" || cmd.TargetNode == d.selfID {
		_, err := d.reg.Execute("trigger_voice_command", voiceCommandArgs(cmd), d.selfID)
		return err
	}

	node, ok := d.nodes.Snapshot()[cmd.TargetNode]
	if !ok {
		return skerr.New(skerr.KindEndpointMissing, "unknown target node: %s", cmd.TargetNode)
	}
	origin := "http://" + net.JoinHostPort(node.Host, portString(node.ControlPort))
	resp, err := d.client.Invoke(origin, gateway.Request{
		ToolName: "trigger_voice_command",
		Args:     voiceCommandArgs(cmd),
		CallerID: d.selfID,
	}, 0)
	if err != nil {
		return err
	}
	if resp.Outcome == "error" {
		return skerr.New(skerr.Kind(resp.ErrorKind), "%s", resp.Message)
	}
	return nil
}

func portString(p uint16) string {
	return strconv.Itoa(int(p))
}

// startVoicePipeline constructs and launches the capture/recognize/
// dispatch pipeline per spec.md §4.7. Returns the capture tap so the
// caller can stop it on shutdown.
func startVoicePipeline(cfg *config.DaemonConfig, bus *eventbus.Bus, reg *registry.Registry, disc *discovery.Discovery, client *gateway.Client, stop <-chan struct{}) *voice.Capture {
	queue := voice.NewCaptureQueue(256)
	capture := voice.NewCapture(log, queue, cfg.Voice.InputPort)
	if err := capture.Start(); err != nil {
		log.Info("voice capture failed to reach JACK at startup", "error", err.Error())
	}

	recognizer := voice.NewWSRecognizer(log, cfg.Voice.RecognizerURL)
	gate := voice.NewWakeGate(cfg.Voice.WakeWords, cfg.Voice.ListeningWindow)
	aliases := voice.NewAliasTable(cfg.Voice.Aliases)
	dispatcher := &localOrRemoteDispatcher{selfID: cfg.NodeID, reg: reg, nodes: disc.Nodes, client: client}

	jackRate := cfg.Voice.RecognizerRate
	if capture.SampleRate() > 0 {
		jackRate = capture.SampleRate()
	}
	pipeline := voice.NewPipeline(log, bus, queue, recognizer, gate, aliases, dispatcher, jackRate, cfg.Voice.RecognizerRate)
	go pipeline.Run(stop)
	return capture
}

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

package voice

import (
	"time"

	"github.com/go-logr/logr"

	"github.com/skeleton-crew/agentd/internal/eventbus"
)

// Dispatcher delivers a resolved Command to whichever node owns it.
// The daemon's implementation (cmd/skeletond) runs the local registry's
// trigger_voice_command tool for the local node and goes through
// internal/gateway for a remote target. Kept as a seam so the pipeline
// never imports either directly.
type Dispatcher interface {
	Dispatch(cmd Command) error
}

// Pipeline wires capture -> resample -> recognize -> wake-gate ->
// command-extraction -> dispatch, matching spec.md §4.7's stage list.
type Pipeline struct {
	log        logr.Logger
	bus        *eventbus.Bus
	queue      *CaptureQueue
	recognizer Recognizer
	gate       *WakeGate
	aliases    *AliasTable
	dispatcher Dispatcher

	jackRate  int
	recogRate int
}

// NewPipeline constructs a Pipeline. jackRate/recogRate drive the
// resample stage; recogRate is typically 16000.
func NewPipeline(log logr.Logger, bus *eventbus.Bus, queue *CaptureQueue, recognizer Recognizer, gate *WakeGate, aliases *AliasTable, dispatcher Dispatcher, jackRate, recogRate int) *Pipeline {
	p := &Pipeline{
		log:        log.WithName("voice.pipeline"),
		bus:        bus,
		queue:      queue,
		recognizer: recognizer,
		gate:       gate,
		aliases:    aliases,
		dispatcher: dispatcher,
		jackRate:   jackRate,
		recogRate:  recogRate,
	}
	recognizer.OnResult(p.onResult)
	return p
}

// Run drains the capture queue on the calling goroutine (the dedicated
// pipeline thread) until stop is closed. A second goroutine sweeps
// expired listening windows independently of audio flow, since a
// window must time out even during silence.
func (p *Pipeline) Run(stop <-chan struct{}) {
	go p.sweepWakeWindows(stop)
	for {
		samples, ok := p.queue.Wait(stop)
		if !ok {
			return
		}
		resampled := Resample(samples, p.jackRate, p.recogRate)
		if err := p.recognizer.Feed(resampled); err != nil {
			p.log.Info("recognizer feed failed", "error", err.Error())
		}
	}
}

// sweepWakeWindows periodically checks for listening windows that
// closed with no command match and emits wake_timeout for each.
func (p *Pipeline) sweepWakeWindows(stop <-chan struct{}) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			for _, nodeID := range p.gate.SweepExpired(now) {
				p.bus.Publish(eventbus.Event{Kind: eventbus.KindVoiceWakeTimeout, Payload: nodeID})
			}
		}
	}
}

// onResult is the recognizer's result callback: the wake-gate check and
// command extraction both happen here, on whatever goroutine the
// recognizer invokes callbacks on.
func (p *Pipeline) onResult(r Result) {
	now := time.Now()

	if nodeID := p.gate.Check(r.Text, now); nodeID != "" {
		p.bus.Publish(eventbus.Event{Kind: eventbus.KindVoiceWake, Payload: nodeID})
	}

	if !r.IsFinal {
		return
	}

	for _, nodeID := range p.gate.OpenNodes(now) {
		normalized := Normalize(r.Text)
		cmd, ok := p.aliases.Resolve(nodeID, normalized)
		if !ok {
			continue
		}
		command := Command{TargetNode: nodeID, Command: cmd, RawText: r.Text, Confidence: r.Confidence}
		p.gate.Close(nodeID)
		p.bus.Publish(eventbus.Event{Kind: eventbus.KindVoiceCommand, Payload: command})
		if err := p.dispatcher.Dispatch(command); err != nil {
			p.log.Info("voice command dispatch failed", "node", nodeID, "command", cmd, "error", err.Error())
		}
		return
	}
}

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
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"

	"github.com/skeleton-crew/agentd/internal/eventbus"
	"github.com/skeleton-crew/agentd/internal/model"
)

// fakeRecognizer is a Recognizer stand-in driven directly by tests: it
// records every Feed call and exposes the result callback so a test can
// simulate recognizer output without a real speech engine in the loop.
type fakeRecognizer struct {
	fed      [][]float32
	finalize int
	cb       ResultFunc
}

func (f *fakeRecognizer) Feed(pcm []float32) error {
	f.fed = append(f.fed, pcm)
	return nil
}

func (f *fakeRecognizer) Finalize() error {
	f.finalize++
	return nil
}

func (f *fakeRecognizer) OnResult(fn ResultFunc) {
	f.cb = fn
}

// fakeDispatcher records every command it was asked to dispatch.
type fakeDispatcher struct {
	dispatched []Command
	err        error
}

func (f *fakeDispatcher) Dispatch(cmd Command) error {
	f.dispatched = append(f.dispatched, cmd)
	return f.err
}

func newTestPipeline(gate *WakeGate, aliases *AliasTable, dispatcher Dispatcher) (*Pipeline, *fakeRecognizer, *eventbus.Bus) {
	bus := eventbus.New(logr.Discard())
	recognizer := &fakeRecognizer{}
	p := NewPipeline(logr.Discard(), bus, nil, recognizer, gate, aliases, dispatcher, 48000, 16000)
	return p, recognizer, bus
}

func TestPipelineCommandRequiresPriorWakeWordWithinWindow(t *testing.T) {
	assert := assert.New(t)
	gate := NewWakeGate(map[string]string{"n1": "hey studio"}, time.Minute)
	aliases := NewAliasTable([]model.CommandAlias{{Phrase: "play", Command: "transport_start"}})
	dispatcher := &fakeDispatcher{}
	_, recognizer, _ := newTestPipeline(gate, aliases, dispatcher)

	// A final result matching a known command, but with no preceding
	// wake word, must never reach the dispatcher.
	recognizer.cb(Result{Text: "play", IsFinal: true, Confidence: 0.9})
	assert.Empty(dispatcher.dispatched)
}

func TestPipelineDispatchesCommandAfterWakeWordOpensWindow(t *testing.T) {
	assert := assert.New(t)
	gate := NewWakeGate(map[string]string{"n1": "hey studio"}, time.Minute)
	aliases := NewAliasTable([]model.CommandAlias{{Phrase: "play", Command: "transport_start"}})
	dispatcher := &fakeDispatcher{}
	_, recognizer, bus := newTestPipeline(gate, aliases, dispatcher)

	var wakeEvents, commandEvents int
	bus.Subscribe(eventbus.KindVoiceWake, eventbus.Inline, func(eventbus.Event) { wakeEvents++ })
	bus.Subscribe(eventbus.KindVoiceCommand, eventbus.Inline, func(eventbus.Event) { commandEvents++ })

	recognizer.cb(Result{Text: "hey studio", IsFinal: false})
	recognizer.cb(Result{Text: "play", IsFinal: true, Confidence: 0.95})

	assert.Equal(1, wakeEvents)
	assert.Equal(1, commandEvents)
	if assert.Len(dispatcher.dispatched, 1) {
		cmd := dispatcher.dispatched[0]
		assert.Equal("n1", cmd.TargetNode)
		assert.Equal("transport_start", cmd.Command)
		assert.Equal("play", cmd.RawText)
		assert.Equal(0.95, cmd.Confidence)
	}
	assert.False(gate.IsOpen("n1", time.Now()))
}

func TestPipelineUnmatchedFinalTextLeavesWindowOpen(t *testing.T) {
	assert := assert.New(t)
	gate := NewWakeGate(map[string]string{"n1": "hey studio"}, time.Minute)
	aliases := NewAliasTable([]model.CommandAlias{{Phrase: "play", Command: "transport_start"}})
	dispatcher := &fakeDispatcher{}
	_, recognizer, _ := newTestPipeline(gate, aliases, dispatcher)

	recognizer.cb(Result{Text: "hey studio", IsFinal: false})
	recognizer.cb(Result{Text: "what is the weather", IsFinal: true, Confidence: 0.8})

	assert.Empty(dispatcher.dispatched)
	assert.True(gate.IsOpen("n1", time.Now()))
}

func TestPipelineIgnoresNonFinalResultsForCommandExtraction(t *testing.T) {
	assert := assert.New(t)
	gate := NewWakeGate(map[string]string{"n1": "hey studio"}, time.Minute)
	aliases := NewAliasTable([]model.CommandAlias{{Phrase: "play", Command: "transport_start"}})
	dispatcher := &fakeDispatcher{}
	_, recognizer, _ := newTestPipeline(gate, aliases, dispatcher)

	recognizer.cb(Result{Text: "hey studio", IsFinal: false})
	recognizer.cb(Result{Text: "play", IsFinal: false, Confidence: 0.95})

	assert.Empty(dispatcher.dispatched)
}

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
	"sync"

	"github.com/go-logr/logr"
	"github.com/xthexder/go-jack"

	"github.com/skeleton-crew/agentd/internal/skerr"
)

// clientName is the JACK client name the capture tap registers under.
const clientName = "skeletond-voice"

// Capture owns a dedicated JACK client with a single input port and
// pushes every process callback's buffer onto a CaptureQueue, the same
// tap-and-forward shape internal/recorder uses for its own input port.
type Capture struct {
	log       logr.Logger
	queue     *CaptureQueue
	inputPort string

	mu         sync.Mutex
	client     *jack.Client
	port       *jack.Port
	sampleRate int
}

// NewCapture constructs a Capture feeding queue. inputPort, if set, is
// connected to automatically once the client activates; otherwise
// routing is left to whatever connects into the tap's own port.
func NewCapture(log logr.Logger, queue *CaptureQueue, inputPort string) *Capture {
	return &Capture{log: log.WithName("voice.capture"), queue: queue, inputPort: inputPort}
}

// Start opens the JACK client and activates the capture callback.
func (c *Capture) Start() error {
	client, code := jack.ClientOpen(clientName, jack.NoStartServer)
	if client == nil || code != 0 {
		return skerr.New(skerr.KindJackUnavailable, "open JACK client: %s", jack.StrError(code))
	}
	port := client.PortRegister("in", jack.DEFAULT_AUDIO_TYPE, jack.PortIsInput, 0)
	client.SetProcessCallback(c.process)
	if code := client.Activate(); code != 0 {
		client.Close()
		return skerr.New(skerr.KindJackUnavailable, "activate JACK client: %s", jack.StrError(code))
	}

	c.mu.Lock()
	c.client = client
	c.port = port
	c.sampleRate = int(client.GetSampleRate())
	c.mu.Unlock()

	if c.inputPort != "" {
		if code := client.Connect(c.inputPort, client.GetName()+":in"); code != 0 {
			c.log.Info("failed to auto-connect voice capture input", "port", c.inputPort, "error", jack.StrError(code))
		}
	}
	return nil
}

// Stop closes the JACK client.
func (c *Capture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}

// SampleRate reports the JACK server's sample rate, valid once Start
// has succeeded.
func (c *Capture) SampleRate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sampleRate
}

// process runs on the JACK realtime thread: it copies the port's
// buffer and hands it to the queue, which never blocks the caller.
func (c *Capture) process(nframes uint32) int {
	c.mu.Lock()
	port := c.port
	c.mu.Unlock()
	if port == nil {
		return 0
	}
	raw := port.GetBuffer(nframes)
	samples := make([]float32, len(raw))
	for i, s := range raw {
		samples[i] = float32(s)
	}
	c.queue.Push(samples)
	return 0
}

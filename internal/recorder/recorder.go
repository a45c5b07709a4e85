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

// Package recorder implements the record_start/record_stop tools named
// in spec.md §4.3 but left without a home there: it taps the same JACK
// input port the voice pipeline listens on, FLAC-encodes rotated
// segments, and maintains an HLS playlist, directly adapted from the
// teacher's cmd/recorder.go -- generalized from one fixed public-radio
// stream into an arbitrary per-invocation recording session.
package recorder

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/grafov/m3u8"
	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
	"github.com/mewkiz/pkg/pathutil"
	"github.com/xthexder/go-jack"

	"github.com/skeleton-crew/agentd/internal/skerr"
)

// NumChannels is the number of input channels tapped per session.
const NumChannels = 2

// BitDepth is the bit resolution used when encoding FLAC frames.
const BitDepth = 16

// FileDuration is the duration, in seconds, of each rotated audio segment.
const FileDuration = 5

// FileCountLimit is the maximum number of rotated segment files kept on disk.
const FileCountLimit = 10

// clientName is the JACK client name the recorder's tap registers under.
const clientName = "skeletond-recorder"

// Recorder owns a dedicated JACK client that taps an input port and
// records whatever invocation is currently active to FLAC + HLS. Only
// one recording session may be active at a time, matching the
// teacher's single always-on tap generalized to start/stop by invocation.
type Recorder struct {
	log      logr.Logger
	mediaDir string

	clientLock sync.Mutex
	client     *jack.Client
	ports      []*jack.Port
	sampleRate int
	bufferSize int

	rawChan chan [][]jack.AudioSample

	mu      sync.Mutex
	active  *session
	closeCh chan struct{}
}

type session struct {
	invocationID string
	startedAt    time.Time
	frameBuffer  []frame.Frame
	filenames    []string
	playlist     *m3u8.MasterPlaylist
}

// New constructs a Recorder that writes segments under mediaDir.
func New(log logr.Logger, mediaDir string) *Recorder {
	return &Recorder{
		log:      log.WithName("recorder"),
		mediaDir: mediaDir,
		rawChan:  make(chan [][]jack.AudioSample, 500),
		closeCh:  make(chan struct{}),
	}
}

// Start opens the recorder's JACK client and begins the frame-assembly
// worker loop. Safe to call even if JACK is not yet reachable; it will
// simply make record_start fail with jack_unavailable until retried.
func (r *Recorder) Start() error {
	go r.run()
	return r.ensureClient()
}

// Stop closes the JACK client and the worker loop.
func (r *Recorder) Stop() {
	select {
	case <-r.closeCh:
	default:
		close(r.closeCh)
	}
	r.clientLock.Lock()
	defer r.clientLock.Unlock()
	if r.client != nil {
		r.client.Close()
		r.client = nil
	}
}

func (r *Recorder) ensureClient() error {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()
	if r.client != nil {
		return nil
	}
	client, code := jack.ClientOpen(clientName, jack.NoStartServer)
	if client == nil || code != 0 {
		return skerr.New(skerr.KindJackUnavailable, "open JACK client: %s", jack.StrError(code))
	}
	var ports []*jack.Port
	for i := 1; i <= NumChannels; i++ {
		port := client.PortRegister(fmt.Sprintf("in_%d", i), jack.DEFAULT_AUDIO_TYPE, jack.PortIsInput, 0)
		ports = append(ports, port)
	}
	client.SetProcessCallback(r.processBuffer)
	if code := client.Activate(); code != 0 {
		client.Close()
		return skerr.New(skerr.KindJackUnavailable, "activate JACK client: %s", jack.StrError(code))
	}
	r.client = client
	r.ports = ports
	r.sampleRate = int(client.GetSampleRate())
	r.bufferSize = int(client.GetBufferSize())
	return nil
}

// processBuffer runs on the JACK realtime thread: it only copies
// buffers onto rawChan, never blocking or allocating beyond the copy.
func (r *Recorder) processBuffer(nframes uint32) int {
	if r.sampleRate <= 0 || r.bufferSize <= 0 {
		return 0
	}
	raw := make([][]jack.AudioSample, 0, len(r.ports))
	for _, port := range r.ports {
		buf := port.GetBuffer(nframes)
		samples := make([]jack.AudioSample, len(buf))
		copy(samples, buf)
		raw = append(raw, samples)
	}
	select {
	case r.rawChan <- raw:
	default:
	}
	return 0
}

func (r *Recorder) run() {
	for {
		select {
		case <-r.closeCh:
			return
		case raw := <-r.rawChan:
			r.mu.Lock()
			s := r.active
			r.mu.Unlock()
			if s != nil {
				r.addFrame(s, raw)
			}
		}
	}
}

// StartSession begins recording under invocationID. Fails with an
// internal error if a session is already active, or jack_unavailable if
// the JACK tap could not be established.
func (r *Recorder) StartSession(invocationID string) error {
	if err := r.ensureClient(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return skerr.New(skerr.KindInternal, "a recording session is already active: %s", r.active.invocationID)
	}
	if err := os.MkdirAll(r.mediaDir, 0755); err != nil {
		return skerr.New(skerr.KindInternal, "create media dir: %s", err.Error())
	}
	playlist := m3u8.NewMasterPlaylist()
	playlist.SetVersion(7)
	r.active = &session{invocationID: invocationID, startedAt: time.Now(), playlist: playlist}
	r.log.Info("recording session started", "invocation", invocationID)
	return nil
}

// StopSession ends the currently active session, flushing any
// buffered frames, and returns the list of segment files it produced.
func (r *Recorder) StopSession(invocationID string) ([]string, error) {
	r.mu.Lock()
	s := r.active
	if s == nil || s.invocationID != invocationID {
		r.mu.Unlock()
		return nil, skerr.New(skerr.KindInternal, "no active recording session for invocation %s", invocationID)
	}
	r.active = nil
	r.mu.Unlock()

	if len(s.frameBuffer) > 0 {
		r.flush(s)
	}
	r.log.Info("recording session stopped", "invocation", invocationID, "segments", len(s.filenames))
	return s.filenames, nil
}

// Active reports the invocation id of the currently recording session,
// or "" if none is active.
func (r *Recorder) Active() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return ""
	}
	return r.active.invocationID
}

func (r *Recorder) addFrame(s *session, audioSamples [][]jack.AudioSample) {
	sampleRate, bufferSize := r.sampleRate, r.bufferSize
	if sampleRate <= 0 || bufferSize <= 0 {
		return
	}
	if len(s.frameBuffer) >= sampleRate*FileDuration/bufferSize {
		r.flush(s)
		s.frameBuffer = nil
	}
	subframes := make([]*frame.Subframe, NumChannels)
	for i := range subframes {
		subframes[i] = &frame.Subframe{
			SubHeader: frame.SubHeader{Pred: frame.PredVerbatim},
			NSamples:  bufferSize,
			Samples:   make([]int32, bufferSize),
		}
	}
	for i, samples := range audioSamples {
		if i >= NumChannels {
			break
		}
		for j, sample := range samples {
			subframes[i].Samples[j] = int32(uint16(sample * math.MaxInt16))
		}
	}
	header := frame.Header{
		BlockSize:     uint16(bufferSize),
		SampleRate:    uint32(sampleRate),
		Channels:      frame.ChannelsLR,
		BitsPerSample: BitDepth,
	}
	s.frameBuffer = append(s.frameBuffer, frame.Frame{Header: header, Subframes: subframes})
}

func (r *Recorder) flush(s *session) {
	if len(s.frameBuffer) == 0 {
		return
	}
	fh, err := os.Create(filepath.Join(r.mediaDir, fmt.Sprintf("%s-%d.flac", s.invocationID, time.Now().Unix())))
	if err != nil {
		r.log.Info("failed to create FLAC segment", "error", err.Error())
		return
	}
	defer fh.Close()

	s.filenames = append(s.filenames, fh.Name())
	if len(s.filenames) > FileCountLimit {
		r.cleanStale(s.filenames[0])
		s.filenames = s.filenames[1:]
	}

	encoder, err := flac.NewEncoder(fh, &meta.StreamInfo{
		BlockSizeMin: 16, BlockSizeMax: 65535,
		SampleRate: uint32(r.sampleRate), NChannels: NumChannels, BitsPerSample: BitDepth,
	})
	if err != nil {
		r.log.Info("failed to create FLAC encoder", "error", err.Error())
		return
	}
	defer encoder.Close()
	for i := range s.frameBuffer {
		if err := encoder.WriteFrame(&s.frameBuffer[i]); err != nil {
			r.log.Info("failed to write FLAC frame", "error", err.Error())
			return
		}
	}
	r.updatePlaylist(s)
}

func (r *Recorder) updatePlaylist(s *session) {
	playlistName := fmt.Sprintf("%s.m3u8", s.invocationID)
	if len(s.playlist.Variants) == 0 {
		s.playlist.Append(playlistName, nil, m3u8.VariantParams{ProgramId: 1, Bandwidth: 1411000, Codecs: "flac"})
	}
	if err := os.WriteFile(filepath.Join(r.mediaDir, "index-"+s.invocationID+".m3u8"), s.playlist.Encode().Bytes(), 0644); err != nil {
		r.log.Info("failed to write HLS master playlist", "error", err.Error())
	}
}

func (r *Recorder) cleanStale(filename string) {
	prefix := pathutil.TrimExt(filename)
	matches, _ := filepath.Glob(prefix + "*")
	for _, f := range matches {
		os.Remove(f)
	}
}

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
	"regexp"
	"strings"
	"sync"
	"time"
)

// DefaultListeningWindow is how long a wake match keeps a node's
// command window open, per spec.md §4.7.
const DefaultListeningWindow = 5 * time.Second

// WakeGate tracks, per node id, the configured wake phrase and whether
// a listening window is currently open.
type WakeGate struct {
	mu      sync.Mutex
	phrases map[string]string // nodeID -> wake phrase
	windows map[string]time.Time // nodeID -> window expiry
	window  time.Duration
}

// NewWakeGate constructs a WakeGate with the given per-node wake
// phrases and listening window duration (DefaultListeningWindow if zero).
func NewWakeGate(phrases map[string]string, window time.Duration) *WakeGate {
	if window <= 0 {
		window = DefaultListeningWindow
	}
	p := make(map[string]string, len(phrases))
	for k, v := range phrases {
		p[k] = v
	}
	return &WakeGate{phrases: p, windows: make(map[string]time.Time), window: window}
}

// Check inspects text (from any partial or final result) against every
// configured wake phrase. A match whose phrase is a suffix of text opens
// a listening window for that node and returns its id. Returns "" if no
// phrase matched.
func (g *WakeGate) Check(text string, now time.Time) string {
	norm := Normalize(text)
	g.mu.Lock()
	defer g.mu.Unlock()
	for nodeID, phrase := range g.phrases {
		if phrase == "" {
			continue
		}
		if strings.HasSuffix(norm, Normalize(phrase)) {
			g.windows[nodeID] = now.Add(g.window)
			return nodeID
		}
	}
	return ""
}

// IsOpen reports whether nodeID's listening window is still open at now.
func (g *WakeGate) IsOpen(nodeID string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	expiry, ok := g.windows[nodeID]
	return ok && now.Before(expiry)
}

// Close ends nodeID's listening window immediately, used on first
// successful command emission. Expired windows are removed by
// SweepExpired instead.
func (g *WakeGate) Close(nodeID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.windows, nodeID)
}

// OpenNodes returns every node id whose listening window is still open
// at now, used by the pipeline to match a final result against every
// node that is currently listening.
func (g *WakeGate) OpenNodes(now time.Time) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for id, expiry := range g.windows {
		if now.Before(expiry) {
			out = append(out, id)
		}
	}
	return out
}

// SweepExpired removes and returns every node id whose listening window
// has expired as of now without a command match, so the pipeline can
// emit exactly one wake_timeout per window (spec.md §4.7 step 5: "on
// window close with no hit, emit a wake_timeout event").
func (g *WakeGate) SweepExpired(now time.Time) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for id, expiry := range g.windows {
		if !now.Before(expiry) {
			out = append(out, id)
			delete(g.windows, id)
		}
	}
	return out
}

var punctuation = regexp.MustCompile(`[^\w\s]`)
var whitespace = regexp.MustCompile(`\s+`)

// Normalize lowercases text, strips punctuation, and collapses
// whitespace, per spec.md §4.7's command-extraction normalization.
func Normalize(text string) string {
	lower := strings.ToLower(text)
	stripped := punctuation.ReplaceAllString(lower, "")
	return strings.TrimSpace(whitespace.ReplaceAllString(stripped, " "))
}

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
	"encoding/binary"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"
)

// WSRecognizer is a Recognizer that streams PCM to an external speech
// engine over a websocket and decodes its partial/final results, the
// same dial-and-keepalive shape the teacher's webSocketConnector uses
// to talk to the API server.
type WSRecognizer struct {
	log logr.Logger
	url string

	mu   sync.Mutex
	conn *websocket.Conn
	cb   ResultFunc
}

// NewWSRecognizer constructs a WSRecognizer that dials wsURL lazily, on
// the first Feed call.
func NewWSRecognizer(log logr.Logger, wsURL string) *WSRecognizer {
	return &WSRecognizer{log: log.WithName("voice.recognizer"), url: wsURL}
}

// OnResult implements Recognizer.
func (r *WSRecognizer) OnResult(fn ResultFunc) {
	r.mu.Lock()
	r.cb = fn
	r.mu.Unlock()
}

func (r *WSRecognizer) ensureConn() (*websocket.Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		return r.conn, nil
	}
	conn, _, err := websocket.DefaultDialer.Dial(r.url, nil)
	if err != nil {
		return nil, err
	}
	r.conn = conn
	go r.receiveLoop(conn)
	return conn, nil
}

// Feed implements Recognizer: it PCM16-encodes samples and ships them
// as a single binary websocket frame.
func (r *WSRecognizer) Feed(pcm []float32) error {
	if len(pcm) == 0 {
		return nil
	}
	conn, err := r.ensureConn()
	if err != nil {
		return err
	}
	buf := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		v := int16(math.Max(-1, math.Min(1, float64(s))) * math.MaxInt16)
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	conn.SetWriteDeadline(time.Now().Add(3 * time.Second))
	return conn.WriteMessage(websocket.BinaryMessage, buf)
}

// Finalize asks the remote engine to flush and emit a final result for
// whatever audio it has buffered.
func (r *WSRecognizer) Finalize() error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.WriteMessage(websocket.TextMessage, []byte(`{"op":"finalize"}`))
}

type wireResult struct {
	Text       string  `json:"text"`
	IsFinal    bool    `json:"is_final"`
	Confidence float64 `json:"confidence"`
}

func (r *WSRecognizer) receiveLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			r.log.Info("recognizer connection closed", "error", err.Error())
			r.mu.Lock()
			if r.conn == conn {
				r.conn = nil
			}
			r.mu.Unlock()
			return
		}
		var wr wireResult
		if err := json.Unmarshal(message, &wr); err != nil {
			r.log.Info("dropped malformed recognizer result", "error", err.Error())
			continue
		}
		r.mu.Lock()
		cb := r.cb
		r.mu.Unlock()
		if cb != nil {
			cb(Result{Text: wr.Text, IsFinal: wr.IsFinal, Confidence: wr.Confidence})
		}
	}
}

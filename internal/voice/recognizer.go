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

// Result is one recognizer output, partial or final.
type Result struct {
	Text       string
	IsFinal    bool
	Confidence float64
}

// ResultFunc receives recognizer results as they are produced.
type ResultFunc func(Result)

// Recognizer is the pipeline's external collaborator: a streaming
// speech recognition engine running out of process (e.g. over its own
// gRPC or websocket transport), per spec.md §4.7. The pipeline asks
// only for this much.
type Recognizer interface {
	// Feed submits resampled PCM (mono, the recognizer's required rate).
	Feed(pcm []float32) error
	// Finalize flushes any buffered audio and forces a final Result.
	Finalize() error
	// OnResult registers the callback invoked for every partial and
	// final result. Called once, before Feed.
	OnResult(ResultFunc)
}

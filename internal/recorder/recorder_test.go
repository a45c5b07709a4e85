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

package recorder

import (
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"

	"github.com/skeleton-crew/agentd/internal/skerr"
)

func newTestRecorder(t *testing.T) *Recorder {
	return New(logr.Discard(), t.TempDir())
}

func TestActiveReportsNoneByDefault(t *testing.T) {
	assert := assert.New(t)
	r := newTestRecorder(t)
	assert.Equal("", r.Active())
}

func TestStopSessionWithoutActiveSessionErrors(t *testing.T) {
	assert := assert.New(t)
	r := newTestRecorder(t)
	_, err := r.StopSession("inv-1")
	assert.Error(err)
}

func TestStartSessionFailsWithoutJack(t *testing.T) {
	assert := assert.New(t)
	r := newTestRecorder(t)
	err := r.StartSession("inv-1")
	assert.True(skerr.Is(err, skerr.KindJackUnavailable))
	assert.Equal("", r.Active())
}

func TestAddFrameNoopsWithoutSampleRate(t *testing.T) {
	assert := assert.New(t)
	r := newTestRecorder(t)
	s := &session{invocationID: "inv-1"}
	r.addFrame(s, nil)
	assert.Empty(s.frameBuffer)
}

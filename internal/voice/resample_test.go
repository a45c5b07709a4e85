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

	"github.com/stretchr/testify/assert"
)

func TestResamplePassesThroughWhenRatesMatch(t *testing.T) {
	assert := assert.New(t)
	in := []float32{0.1, 0.2, 0.3}
	assert.Equal(in, Resample(in, 16000, 16000))
}

func TestResampleEmptyInputReturnsEmpty(t *testing.T) {
	assert := assert.New(t)
	assert.Empty(Resample(nil, 48000, 16000))
}

func TestResampleDownsamplesIntegerRatio(t *testing.T) {
	assert := assert.New(t)
	in := []float32{0, 1, 2, 3, 4, 5, 6, 7}
	out := Resample(in, 48000, 16000) // ratio 3
	assert.Equal(len(in)/3, len(out))
	assert.InDelta(0, out[0], 1e-6)
	assert.InDelta(3, out[1], 1e-6)
}

// 44100 -> 16000 is a non-integer ratio (2.75625...); spec requires the
// resampler not to panic or silently truncate to an integer-ratio
// approximation for rates the JACK input port might actually report.
func TestResampleHandlesNonIntegerRatio(t *testing.T) {
	assert := assert.New(t)
	srcRate, dstRate := 44100, 16000
	in := make([]float32, srcRate) // one second of a rising ramp
	for i := range in {
		in[i] = float32(i) / float32(srcRate)
	}

	out := Resample(in, srcRate, dstRate)

	ratio := float64(srcRate) / float64(dstRate)
	wantLen := int(float64(len(in)) / ratio)
	assert.Equal(wantLen, len(out))

	// The resampled ramp should still be monotonically non-decreasing
	// and span roughly the same [0,1) range as the source.
	for i := 1; i < len(out); i++ {
		assert.GreaterOrEqual(out[i], out[i-1])
	}
	assert.InDelta(0, out[0], 0.01)
	assert.InDelta(1, out[len(out)-1], 0.05)
}

func TestResampleUpsamplesNonIntegerRatio(t *testing.T) {
	assert := assert.New(t)
	in := []float32{0, 1, 2, 3, 4}
	out := Resample(in, 16000, 44100) // ratio < 1, upsampling
	assert.Greater(len(out), len(in))
}

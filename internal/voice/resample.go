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

// Resample converts samples from srcRate to dstRate using linear
// interpolation. When the rates match it returns samples unchanged,
// the pass-through case spec.md §4.7 calls out explicitly.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	ratio := float64(srcRate) / float64(dstRate)
	outLen := int(float64(len(samples)) / ratio)
	out := make([]float32, outLen)
	for i := range out {
		srcPos := float64(i) * ratio
		i0 := int(srcPos)
		i1 := i0 + 1
		frac := float32(srcPos - float64(i0))
		if i1 >= len(samples) {
			out[i] = samples[i0]
			continue
		}
		out[i] = samples[i0]*(1-frac) + samples[i1]*frac
	}
	return out
}

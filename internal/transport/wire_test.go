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

package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	assert := assert.New(t)
	target := 12345.678
	in := Message{Address: AddrLocateStart, Frame: 48000, TargetInstant: &target}

	data, err := Encode(in)
	assert.NoError(err)

	out, err := Decode(data)
	assert.NoError(err)
	assert.Equal(in.Address, out.Address)
	assert.Equal(in.Frame, out.Frame)
	assert.Equal(*in.TargetInstant, *out.TargetInstant)
}

func TestDecodeMalformedReturnsError(t *testing.T) {
	assert := assert.New(t)
	_, err := Decode([]byte("not json"))
	assert.Error(err)
}

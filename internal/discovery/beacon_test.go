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

package discovery

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/skeleton-crew/agentd/internal/model"
)

func TestBeaconPayloadRoundTrip(t *testing.T) {
	assert := assert.New(t)
	in := beaconPayload{
		WireVersion: WireVersion,
		NodeID:      "n1",
		NodeName:    "studio-a",
		Host:        "10.0.0.5",
		ControlPort: 9000,
		Roles:       []model.Role{model.RoleAudioHub},
		Tags:        map[string]string{"room": "a"},
		TimestampMs: 1234,
	}
	data, err := json.Marshal(in)
	assert.NoError(err)

	var out beaconPayload
	assert.NoError(json.Unmarshal(data, &out))
	assert.Equal(in, out)
}

func TestDefaultBeaconPortMatchesSpec(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(5557, DefaultBeaconPort)
}

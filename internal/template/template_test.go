// Copyright 2025 Azure Formation Authors
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

package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhackathon/azureformation/internal/api"
	"github.com/openhackathon/azureformation/internal/asm"
)

const validTemplate = `{
	"expr_name": "e1",
	"storage_account": {
		"service_name": "sa1",
		"description": "experiment storage",
		"label": "sa1",
		"location": "East US"
	},
	"container": "vhds",
	"cloud_service": {"service_name": "cs1", "label": "cs1", "location": "East US"},
	"deployment": {"deployment_name": "d1", "deployment_slot": "Production"},
	"virtual_environments": [
		{
			"role_name": "r",
			"role_size": "Small",
			"os_virtual_hard_disk": {"source_image_name": "ubuntu-14", "media_link": "http://sa1.blob.core.windows.net/vhds/r.vhd", "os": "Linux"},
			"system_config": {"os_family": "Linux", "hostname": "r", "user_name": "azureuser", "user_password": "secret"},
			"network_config": {
				"configuration_set_type": "NetworkConfiguration",
				"input_endpoints": [
					{"name": "ssh", "protocol": "TCP", "port": 22, "local_port": 22},
					{"name": "http", "protocol": "TCP", "port": 80, "local_port": 80}
				]
			},
			"remote": {"provider": "guacamole", "port_name": "ssh", "paras": {"protocol": "ssh"}}
		}
	]
}`

func TestParse(t *testing.T) {
	tmpl, err := Parse([]byte(validTemplate))
	require.NoError(t, err)

	assert.Equal(t, "e1", tmpl.ExprName())
	assert.Equal(t, "sa1", tmpl.StorageAccount().ServiceName)
	assert.Equal(t, "vhds", tmpl.Container())
	assert.Equal(t, "cs1", tmpl.CloudService().ServiceName)
	assert.Equal(t, "d1", tmpl.DeploymentName())
	assert.Equal(t, asm.SlotProduction, tmpl.DeploymentSlot())

	units := tmpl.Units()
	require.Len(t, units, 1)
	assert.Equal(t, "r", units[0].RoleName())
	assert.Equal(t, "r-17", units[0].EffectiveRoleName(17))
	assert.Equal(t, "Small", units[0].RoleSize())
	assert.False(t, units[0].IsVMImage())
	assert.Equal(t, "ubuntu-14", units[0].ImageName())
	assert.Equal(t, "ssh", units[0].RemotePortName())
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "bad json", doc: `{"expr_name": `},
		{name: "missing expr_name", doc: `{"storage_account": {"service_name": "sa1", "location": "East US"}}`},
		{
			name: "missing image",
			doc: `{
				"expr_name": "e1",
				"storage_account": {"service_name": "sa1", "location": "East US"},
				"container": "vhds",
				"cloud_service": {"service_name": "cs1", "location": "East US"},
				"deployment": {"deployment_name": "d1", "deployment_slot": "Production"},
				"virtual_environments": [
					{"role_name": "r", "role_size": "Small",
					 "network_config": {"configuration_set_type": "NetworkConfiguration", "input_endpoints": []}}
				]
			}`,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Parse([]byte(test.doc))
			require.Error(t, err)
			assert.Equal(t, api.ErrorKindInvalidTemplate, api.KindOf(err))
		})
	}
}

func TestSystemConfig(t *testing.T) {
	tmpl, err := Parse([]byte(validTemplate))
	require.NoError(t, err)

	config := tmpl.Units()[0].SystemConfig()
	assert.Equal(t, asm.ConfigurationSetTypeLinuxProvisioning, config.ConfigurationSetType)
	assert.Equal(t, "r", config.HostName)
	assert.Equal(t, "azureuser", config.UserName)
	assert.Equal(t, "secret", config.UserPassword)
}

func TestNetworkConfigPortCollision(t *testing.T) {
	tmpl, err := Parse([]byte(validTemplate))
	require.NoError(t, err)
	unit := tmpl.Units()[0]

	tests := []struct {
		name     string
		assigned []int
		expected []int
	}{
		{name: "no collision", assigned: nil, expected: []int{22, 80}},
		{name: "ssh taken", assigned: []int{22}, expected: []int{23, 80}},
		{name: "run of taken ports", assigned: []int{22, 23, 24}, expected: []int{25, 80}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			network := unit.NetworkConfig(test.assigned)
			require.Len(t, network.InputEndpoints, 2)
			ports := []int{network.InputEndpoints[0].Port, network.InputEndpoints[1].Port}
			assert.Equal(t, test.expected, ports)
			// Order and names stay as the template wrote them.
			assert.Equal(t, "ssh", network.InputEndpoints[0].Name)
			assert.Equal(t, "http", network.InputEndpoints[1].Name)
		})
	}
}

func TestRemoteParas(t *testing.T) {
	tmpl, err := Parse([]byte(validTemplate))
	require.NoError(t, err)

	paras := tmpl.Units()[0].RemoteParas("r-17", "1.2.3.4", 22)
	assert.Equal(t, "r-17", paras["name"])
	assert.Equal(t, "1.2.3.4", paras["host"])
	assert.Equal(t, 22, paras["port"])
	assert.Equal(t, "ssh", paras["protocol"])
}

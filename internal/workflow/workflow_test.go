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

package workflow_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhackathon/azureformation/internal/api"
	"github.com/openhackathon/azureformation/internal/asm"
	"github.com/openhackathon/azureformation/internal/audit"
	"github.com/openhackathon/azureformation/internal/database"
	"github.com/openhackathon/azureformation/internal/job"
	"github.com/openhackathon/azureformation/internal/template"
	"github.com/openhackathon/azureformation/internal/workflow"
)

const testTemplate = `{
	"expr_name": "e1",
	"storage_account": {"service_name": "sa1", "description": "d", "label": "sa1", "location": "East US"},
	"container": "vhds",
	"cloud_service": {"service_name": "cs1", "label": "cs1", "location": "East US"},
	"deployment": {"deployment_name": "d1", "deployment_slot": "Production"},
	"virtual_environments": [
		{
			"role_name": "r",
			"role_size": "Small",
			"os_virtual_hard_disk": {"source_image_name": "ubuntu-14", "media_link": "http://sa1.blob/vhds/r.vhd", "os": "Linux"},
			"system_config": {"os_family": "Linux", "hostname": "r", "user_name": "u", "user_password": "p"},
			"network_config": {
				"configuration_set_type": "NetworkConfiguration",
				"input_endpoints": [{"name": "ssh", "protocol": "TCP", "port": 22, "local_port": 22}]
			},
			"remote": {"provider": "guacamole", "port_name": "ssh", "paras": {}}
		}
	]
}`

const updateTemplate = `{
	"expr_name": "e1",
	"storage_account": {"service_name": "sa1", "description": "d", "label": "sa1", "location": "East US"},
	"container": "vhds",
	"cloud_service": {"service_name": "cs1", "label": "cs1", "location": "East US"},
	"deployment": {"deployment_name": "d1", "deployment_slot": "Production"},
	"virtual_environments": [
		{
			"role_name": "r",
			"role_size": "Medium",
			"os_virtual_hard_disk": {"source_image_name": "ubuntu-14", "media_link": "http://sa1.blob/vhds/r.vhd", "os": "Linux"},
			"system_config": {"os_family": "Linux", "hostname": "r", "user_name": "u", "user_password": "p"},
			"network_config": {
				"configuration_set_type": "NetworkConfiguration",
				"input_endpoints": [
					{"name": "ssh", "protocol": "TCP", "port": 2222, "local_port": 22},
					{"name": "http", "protocol": "TCP", "port": 80, "local_port": 80}
				]
			},
			"remote": {"provider": "guacamole", "port_name": "ssh", "paras": {}}
		}
	]
}`

type harness struct {
	ctx          context.Context
	repo         *database.FakeRepository
	client       *asm.FakeClient
	formation    *workflow.Formation
	experimentID int64
	roleName     string
}

func newHarness(t *testing.T, templateJSON string) *harness {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	repo := database.NewFakeRepository()
	client := asm.NewFakeClient()
	parsed, err := template.Parse([]byte(templateJSON))
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := job.NewRegistry()
	runner := job.NewRunner(registry, logger, prometheus.NewRegistry())
	runner.Start(ctx)

	formation := workflow.New(workflow.Config{
		Repository: repo,
		Audit:      audit.NewLogger(repo, logger),
		Runner:     runner,
		Logger:     logger,
		Tick:       time.Millisecond,
		Loops:      3,
		Sessions: func(ctx context.Context, experimentID int64) (*workflow.Session, error) {
			if _, err := repo.GetExperiment(ctx, experimentID); err != nil {
				return nil, err
			}
			return &workflow.Session{Client: client, SubscriptionID: "sub-1", Template: parsed}, nil
		},
	}, registry)

	user, err := repo.CreateUserInfo(ctx, "alice", "alice@example.com")
	require.NoError(t, err)
	templateRow, err := repo.CreateTemplate(ctx, "/tmp/template.json", database.TemplateKindCreate)
	require.NoError(t, err)
	userTemplate, err := repo.CreateUserTemplate(ctx, user.ID, templateRow.ID)
	require.NoError(t, err)
	experiment, err := repo.CreateExperiment(ctx, userTemplate.ID)
	require.NoError(t, err)

	return &harness{
		ctx:          ctx,
		repo:         repo,
		client:       client,
		formation:    formation,
		experimentID: experiment.ID,
		roleName:     fmt.Sprintf("r-%d", experiment.ID),
	}
}

func (h *harness) records(t *testing.T) []database.AuditLog {
	t.Helper()
	records, err := h.repo.AuditLogsSince(h.ctx, h.experimentID, "", 0)
	require.NoError(t, err)
	return records
}

// waitTerminal blocks until the named operation reaches a terminal record.
func (h *harness) waitTerminal(t *testing.T, operation api.OperationName) database.AuditLog {
	t.Helper()
	var terminal database.AuditLog
	require.Eventually(t, func() bool {
		for _, record := range h.records(t) {
			if record.Operation == operation && record.Status.IsTerminal() {
				terminal = record
				return true
			}
		}
		return false
	}, 5*time.Second, 2*time.Millisecond, "operation %q never reached a terminal status", operation)
	return terminal
}

func (h *harness) endedOperations(t *testing.T) []api.OperationName {
	t.Helper()
	var ended []api.OperationName
	for _, record := range h.records(t) {
		if record.Status == api.StatusEnd {
			ended = append(ended, record.Operation)
		}
	}
	return ended
}

// seedProvider populates the fake provider with every template resource,
// including the deployment with the experiment's role.
func (h *harness) seedProvider(size string) {
	h.client.StorageAccounts["sa1"] = true
	h.client.CloudServices["cs1"] = true
	h.client.Deployments["cs1/d1"] = &asm.Deployment{
		Name:           "d1",
		DeploymentSlot: asm.SlotProduction,
		Status:         asm.DeploymentStatusRunning,
		URL:            "http://cs1.cloudapp.net/",
		RoleInstances: []asm.RoleInstance{
			{
				RoleName:       h.roleName,
				InstanceName:   h.roleName,
				InstanceStatus: api.RoleInstanceStatusReadyRole,
				InstanceSize:   size,
				IPAddress:      "10.0.0.9",
			},
		},
	}
	h.client.Slots["cs1/Production"] = "d1"
	h.client.Roles["cs1/d1/"+h.roleName] = &asm.Role{
		RoleName: h.roleName,
		RoleSize: size,
		ConfigurationSets: []asm.ConfigurationSet{
			{
				ConfigurationSetType: asm.ConfigurationSetTypeNetwork,
				InputEndpoints: []asm.InputEndpoint{
					{Name: "ssh", Protocol: "TCP", Port: 22, LocalPort: 22},
				},
			},
		},
	}
}

// seedRepository records the template resources as previously created by
// this engine.
func (h *harness) seedRepository(t *testing.T) (*database.CloudService, *database.Deployment, *database.VirtualMachine) {
	t.Helper()
	ctx := h.ctx

	_, err := h.repo.CreateStorageAccount(ctx, &database.StorageAccount{
		ExperimentID: h.experimentID, Name: "sa1", Status: api.ResourceStatusRunning, CreatedByUs: true,
	})
	require.NoError(t, err)
	cloudService, err := h.repo.CreateCloudService(ctx, &database.CloudService{
		ExperimentID: h.experimentID, Name: "cs1", Status: api.ResourceStatusRunning, CreatedByUs: true,
	})
	require.NoError(t, err)
	deployment, err := h.repo.CreateDeployment(ctx, &database.Deployment{
		CloudServiceID: cloudService.ID, ExperimentID: h.experimentID,
		CloudServiceName: "cs1", Name: "d1", Slot: asm.SlotProduction,
		Status: api.ResourceStatusRunning, CreatedByUs: true,
	})
	require.NoError(t, err)
	vm, err := h.repo.CreateVirtualMachine(ctx, &database.VirtualMachine{
		DeploymentID: deployment.ID, ExperimentID: h.experimentID,
		CloudServiceName: "cs1", DeploymentName: "d1", Name: h.roleName,
		Status: string(api.RoleInstanceStatusReadyRole), CreatedByUs: true,
	})
	require.NoError(t, err)
	require.NoError(t, h.repo.ReplaceEndpoints(ctx, vm.ID, []database.Endpoint{
		{CloudServiceID: cloudService.ID, Name: "ssh", Protocol: "TCP", PublicPort: 22, LocalPort: 22},
	}))
	_, err = h.repo.CreateVirtualEnvironment(ctx, &database.VirtualEnvironment{
		ExperimentID: h.experimentID, VirtualMachineID: vm.ID,
		Provider: database.VirtualEnvironmentProviderAzureVM, Name: h.roleName,
		Status: database.VirtualEnvironmentRunning,
	})
	require.NoError(t, err)
	return cloudService, deployment, vm
}

func TestCreateFresh(t *testing.T) {
	h := newHarness(t, testTemplate)

	require.NoError(t, h.formation.Create(h.ctx, h.experimentID))
	terminal := h.waitTerminal(t, api.OperationCreate)
	assert.Equal(t, api.StatusEnd, terminal.Status)

	assert.Equal(t, []api.OperationName{
		api.OperationCreateStorageAccount,
		api.OperationCreateCloudService,
		api.OperationCreateDeployment,
		api.OperationCreateVirtualMachine,
		api.OperationCreateVirtualMachines,
		api.OperationCreate,
	}, h.endedOperations(t))

	require.Len(t, h.repo.StorageAccounts, 1)
	assert.True(t, h.repo.StorageAccounts[0].CreatedByUs)
	require.Len(t, h.repo.CloudServices, 1)
	assert.True(t, h.repo.CloudServices[0].CreatedByUs)
	require.Len(t, h.repo.Deployments, 1)
	assert.Equal(t, "d1", h.repo.Deployments[0].Name)
	require.Len(t, h.repo.VirtualMachines, 1)
	assert.Equal(t, h.roleName, h.repo.VirtualMachines[0].Name)
	assert.True(t, h.repo.VirtualMachines[0].CreatedByUs)
	require.Len(t, h.repo.Endpoints, 1)
	require.NotNil(t, h.repo.Endpoints[0].VirtualMachineID)
	assert.Equal(t, h.repo.VirtualMachines[0].ID, *h.repo.Endpoints[0].VirtualMachineID)
	require.Len(t, h.repo.VirtualEnvironments, 1)
}

func TestCreateIsIdempotent(t *testing.T) {
	h := newHarness(t, testTemplate)

	require.NoError(t, h.formation.Create(h.ctx, h.experimentID))
	h.waitTerminal(t, api.OperationCreate)

	callsAfterFirst := len(h.client.Calls)

	require.NoError(t, h.formation.Create(h.ctx, h.experimentID))
	require.Eventually(t, func() bool {
		var terminals int
		for _, record := range h.records(t) {
			if record.Operation == api.OperationCreate && record.Status.IsTerminal() {
				terminals++
			}
		}
		return terminals == 2
	}, 5*time.Second, 2*time.Millisecond)

	for _, record := range h.records(t) {
		assert.NotEqual(t, api.StatusFail, record.Status, "unexpected FAIL: %v", record)
	}
	assert.Equal(t, callsAfterFirst, len(h.client.Calls),
		"second create must not issue provider write calls")
	assert.Len(t, h.repo.VirtualMachines, 1)
	assert.Len(t, h.repo.Endpoints, 1)
}

func TestCreateAdoptsExistingResources(t *testing.T) {
	h := newHarness(t, testTemplate)
	h.seedProvider("Small")

	require.NoError(t, h.formation.Create(h.ctx, h.experimentID))
	terminal := h.waitTerminal(t, api.OperationCreate)
	assert.Equal(t, api.StatusEnd, terminal.Status)

	assert.Empty(t, h.client.Calls, "adoption must not issue provider write calls")

	require.Len(t, h.repo.StorageAccounts, 1)
	assert.False(t, h.repo.StorageAccounts[0].CreatedByUs)
	require.Len(t, h.repo.CloudServices, 1)
	assert.False(t, h.repo.CloudServices[0].CreatedByUs)
	require.Len(t, h.repo.Deployments, 1)
	assert.False(t, h.repo.Deployments[0].CreatedByUs)
	require.Len(t, h.repo.VirtualMachines, 1)
	assert.False(t, h.repo.VirtualMachines[0].CreatedByUs)

	for _, record := range h.records(t) {
		if record.Status == api.StatusEnd && record.Note != nil {
			assert.Contains(t, *record.Note, "exist")
			assert.Contains(t, *record.Note, "before")
		}
	}
}

func TestCreateQuotaExhausted(t *testing.T) {
	h := newHarness(t, testTemplate)
	h.client.Subscription.MaxStorageAccounts = 0

	require.NoError(t, h.formation.Create(h.ctx, h.experimentID))
	terminal := h.waitTerminal(t, api.OperationCreateStorageAccount)

	assert.Equal(t, api.StatusFail, terminal.Status)
	require.NotNil(t, terminal.StepIndex)
	assert.Equal(t, 2, *terminal.StepIndex)
	require.NotNil(t, terminal.Note)
	assert.Contains(t, *terminal.Note, "subscription not enough")

	var storageFails int
	for _, record := range h.records(t) {
		assert.NotEqual(t, api.OperationCreateCloudService, record.Operation,
			"downstream steps must not run after a quota failure")
		if record.Operation == api.OperationCreateStorageAccount && record.Status == api.StatusFail {
			storageFails++
		}
	}
	assert.Equal(t, 1, storageFails)
}

func TestUpdateSizeAndEndpoints(t *testing.T) {
	h := newHarness(t, updateTemplate)
	h.seedProvider("Small")
	cloudService, _, vm := h.seedRepository(t)

	require.NoError(t, h.formation.Update(h.ctx, h.experimentID))
	terminal := h.waitTerminal(t, api.OperationUpdate)
	assert.Equal(t, api.StatusEnd, terminal.Status)

	role := h.client.Roles["cs1/d1/"+h.roleName]
	assert.Equal(t, "Medium", role.RoleSize)

	endpoints, err := h.repo.ListEndpoints(h.ctx, vm.ID)
	require.NoError(t, err)
	require.Len(t, endpoints, 2, "old endpoints must be fully replaced")
	byName := map[string]database.Endpoint{}
	for _, endpoint := range endpoints {
		byName[endpoint.Name] = endpoint
		assert.Equal(t, cloudService.ID, endpoint.CloudServiceID)
	}
	assert.Equal(t, 2222, byName["ssh"].PublicPort)
	assert.Equal(t, 22, byName["ssh"].LocalPort)
	assert.Equal(t, 80, byName["http"].PublicPort)

	updated, err := h.repo.GetVirtualMachine(h.ctx, "cs1", "d1", h.roleName)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.9", updated.PrivateIP)
}

func TestDeleteLastRoleDeletesDeployment(t *testing.T) {
	h := newHarness(t, testTemplate)
	h.seedProvider("Small")
	h.seedRepository(t)

	require.NoError(t, h.formation.Delete(h.ctx, h.experimentID, false))
	terminal := h.waitTerminal(t, api.OperationDelete)
	assert.Equal(t, api.StatusEnd, terminal.Status)

	assert.Contains(t, h.client.Calls, "DeleteDeployment cs1/d1")
	for _, call := range h.client.Calls {
		assert.NotContains(t, call, "DeleteRole ", "the sole role must be removed with its deployment")
	}

	assert.Empty(t, h.repo.Deployments)
	assert.Empty(t, h.repo.VirtualMachines)
	assert.Empty(t, h.repo.Endpoints)

	ended := h.endedOperations(t)
	assert.Contains(t, ended, api.OperationDeleteDeployment)
	assert.Contains(t, ended, api.OperationDeleteVirtualMachine)
}

func TestDeleteRefusesAdoptedResources(t *testing.T) {
	h := newHarness(t, testTemplate)
	h.seedProvider("Small")
	_, _, vm := h.seedRepository(t)

	// Flip the row to adopted.
	for i := range h.repo.VirtualMachines {
		if h.repo.VirtualMachines[i].ID == vm.ID {
			h.repo.VirtualMachines[i].CreatedByUs = false
		}
	}

	require.NoError(t, h.formation.Delete(h.ctx, h.experimentID, false))
	terminal := h.waitTerminal(t, api.OperationDeleteVirtualMachine)

	assert.Equal(t, api.StatusFail, terminal.Status)
	require.NotNil(t, terminal.Note)
	assert.Contains(t, *terminal.Note, "refuse to delete")
	assert.NotContains(t, h.client.Calls, "DeleteDeployment cs1/d1")
	assert.Len(t, h.repo.VirtualMachines, 1, "adopted rows must stay in place")
}

func TestStopRejectsIllegalTransition(t *testing.T) {
	h := newHarness(t, testTemplate)
	h.seedProvider("Small")
	h.seedRepository(t)
	h.client.SetInstanceStatus("cs1", "d1", h.roleName, api.RoleInstanceStatusStoppedDeallocated)

	callsBefore := len(h.client.Calls)

	require.NoError(t, h.formation.Stop(h.ctx, h.experimentID, api.ActionStopped))
	terminal := h.waitTerminal(t, api.OperationStopVirtualMachine)

	assert.Equal(t, api.StatusFail, terminal.Status)
	require.NotNil(t, terminal.StepIndex)
	assert.Equal(t, 1, *terminal.StepIndex)
	require.NotNil(t, terminal.Note)
	assert.Contains(t, *terminal.Note, "need status")
	assert.Contains(t, *terminal.Note, "now status")
	assert.Equal(t, callsBefore, len(h.client.Calls), "no provider call may be issued")
}

func TestStopAndStartRoundTrip(t *testing.T) {
	h := newHarness(t, testTemplate)
	h.seedProvider("Small")
	h.seedRepository(t)

	require.NoError(t, h.formation.Stop(h.ctx, h.experimentID, api.ActionStoppedDeallocated))
	terminal := h.waitTerminal(t, api.OperationStop)
	assert.Equal(t, api.StatusEnd, terminal.Status)

	vm, err := h.repo.GetVirtualMachine(h.ctx, "cs1", "d1", h.roleName)
	require.NoError(t, err)
	assert.Equal(t, string(api.RoleInstanceStatusStoppedDeallocated), vm.Status)
	require.Len(t, h.repo.VirtualEnvironments, 1)
	assert.Equal(t, database.VirtualEnvironmentStopped, h.repo.VirtualEnvironments[0].Status)

	require.NoError(t, h.formation.Start(h.ctx, h.experimentID))
	terminal = h.waitTerminal(t, api.OperationStart)
	assert.Equal(t, api.StatusEnd, terminal.Status)

	vm, err = h.repo.GetVirtualMachine(h.ctx, "cs1", "d1", h.roleName)
	require.NoError(t, err)
	assert.Equal(t, string(api.RoleInstanceStatusReadyRole), vm.Status)
	assert.Equal(t, "10.0.0.9", vm.PrivateIP)
	assert.Equal(t, database.VirtualEnvironmentRunning, h.repo.VirtualEnvironments[0].Status)
}

func TestCreateUnknownRoleSizeFails(t *testing.T) {
	h := newHarness(t, `{
		"expr_name": "e1",
		"storage_account": {"service_name": "sa1", "description": "d", "label": "sa1", "location": "East US"},
		"container": "vhds",
		"cloud_service": {"service_name": "cs1", "label": "cs1", "location": "East US"},
		"deployment": {"deployment_name": "d1", "deployment_slot": "Production"},
		"virtual_environments": [
			{
				"role_name": "r",
				"role_size": "Gigantic",
				"os_virtual_hard_disk": {"source_image_name": "ubuntu-14", "media_link": "http://sa1.blob/vhds/r.vhd", "os": "Linux"},
				"system_config": {"os_family": "Linux", "hostname": "r", "user_name": "u", "user_password": "p"},
				"network_config": {"configuration_set_type": "NetworkConfiguration", "input_endpoints": []}
			}
		]
	}`)

	require.NoError(t, h.formation.Create(h.ctx, h.experimentID))
	terminal := h.waitTerminal(t, api.OperationCreateVirtualMachine)

	assert.Equal(t, api.StatusFail, terminal.Status)
	require.NotNil(t, terminal.Note)
	assert.Contains(t, *terminal.Note, "unknown role size")
}

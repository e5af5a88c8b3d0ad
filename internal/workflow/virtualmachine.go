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

package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/openhackathon/azureformation/internal/api"
	"github.com/openhackathon/azureformation/internal/asm"
	"github.com/openhackathon/azureformation/internal/audit"
	"github.com/openhackathon/azureformation/internal/database"
	"github.com/openhackathon/azureformation/internal/job"
)

// createVirtualMachine is the VM-stage entry step. It reconciles the
// unit's deployment and role: reuse both when this engine created them
// before, adopt a foreign deployment, or drive creation through the
// waiter-gated continuation chain. The whole stage is serialized on its
// deployment queue key.
func (f *Formation) createVirtualMachine(ctx context.Context, s *stepContext) error {
	experimentID := s.args.ExperimentID
	slot := s.session.Template.DeploymentSlot()
	cloudServiceName := s.session.Template.CloudService().ServiceName
	roleName := s.unit.EffectiveRoleName(experimentID)

	if s.args.UnitIndex == 0 {
		if err := f.audit.Start(ctx, experimentID, api.OperationCreateVirtualMachines); err != nil {
			return err
		}
	}
	if err := f.audit.Start(ctx, experimentID, api.OperationCreateDeployment); err != nil {
		return err
	}
	if err := f.audit.Start(ctx, experimentID, api.OperationCreateVirtualMachine); err != nil {
		return err
	}

	// The quota check needs the unit's core count; an unknown size is a
	// validation failure rather than a zero-core default.
	cores, err := coresForSize(s.unit.RoleSize())
	if err != nil {
		return f.failVirtualMachineStage(ctx, s, string(slot), roleName, noteFor(err), 0)
	}
	subscription, err := s.session.Client.GetSubscription(ctx)
	if err != nil {
		return f.failVirtualMachineStage(ctx, s, string(slot), roleName, noteFor(err), 0)
	}
	if subscription.AvailableCoreCount() < cores {
		if err := f.audit.Fail(ctx, experimentID, api.OperationCreateDeployment,
			fmt.Sprintf(createDeploymentError[1], deploymentKind, slot), 1); err != nil {
			return err
		}
		note := fmt.Sprintf(createVirtualMachineError[1], virtualMachineKind, roleName)
		return f.failVirtualMachine(ctx, s, roleName, note, 1)
	}

	deploymentExists, err := s.session.Client.DeploymentExistsBySlot(ctx, cloudServiceName, slot)
	if err != nil {
		return f.failVirtualMachineStage(ctx, s, string(slot), roleName, noteFor(err), 0)
	}

	if deploymentExists {
		return f.addRoleToDeployment(ctx, s, cloudServiceName, slot, roleName)
	}
	return f.createDeploymentWithRole(ctx, s, cloudServiceName, slot, roleName)
}

// addRoleToDeployment reuses or adopts the deployment occupying the slot,
// then adds the unit's role to it unless the role already exists.
func (f *Formation) addRoleToDeployment(ctx context.Context, s *stepContext, cloudServiceName string, slot asm.DeploymentSlot, roleName string) error {
	experimentID := s.args.ExperimentID

	// Use the deployment name from the provider, not the template.
	deploymentName, err := s.session.Client.GetDeploymentNameBySlot(ctx, cloudServiceName, slot)
	if err != nil {
		return f.failVirtualMachineStage(ctx, s, string(slot), roleName, noteFor(err), 0)
	}

	if _, err := f.repository.GetDeploymentBySlot(ctx, cloudServiceName, string(slot)); errors.Is(err, database.ErrNotFound) {
		note := fmt.Sprintf(createDeploymentInfo[2], deploymentKind, deploymentName, api.ProgramName)
		if err := f.commitDeploymentRow(ctx, s, cloudServiceName, deploymentName, slot, false); err != nil {
			return f.failVirtualMachineStage(ctx, s, deploymentName, roleName, noteFor(err), 0)
		}
		if err := f.audit.End(ctx, experimentID, api.OperationCreateDeployment, note, 2); err != nil {
			return err
		}
	} else if err != nil {
		return f.failVirtualMachineStage(ctx, s, deploymentName, roleName, noteFor(err), 0)
	} else {
		note := fmt.Sprintf(createDeploymentInfo[1], deploymentKind, deploymentName, api.ProgramName)
		if err := f.audit.End(ctx, experimentID, api.OperationCreateDeployment, note, 1); err != nil {
			return err
		}
	}

	roleExists, err := s.session.Client.RoleExists(ctx, cloudServiceName, deploymentName, roleName)
	if err != nil {
		return f.failVirtualMachine(ctx, s, roleName, noteFor(err), 0)
	}
	if roleExists {
		if _, err := f.repository.GetVirtualMachine(ctx, cloudServiceName, deploymentName, roleName); errors.Is(err, database.ErrNotFound) {
			// Present on the provider but never recorded by this engine:
			// adopt the role as not-ours and proceed.
			return f.adoptVirtualMachine(ctx, s, cloudServiceName, deploymentName, roleName)
		} else if err != nil {
			return f.failVirtualMachine(ctx, s, roleName, noteFor(err), 0)
		}
		note := fmt.Sprintf(createVirtualMachineInfo[1], virtualMachineKind, roleName)
		if err := f.audit.End(ctx, experimentID, api.OperationCreateVirtualMachine, note, 1); err != nil {
			return err
		}
		return f.finishCreate(ctx, s)
	}

	// Drop stale rows for a role the provider no longer has.
	if vm, err := f.repository.GetVirtualMachine(ctx, cloudServiceName, deploymentName, roleName); err == nil {
		if err := f.repository.DeleteVirtualMachineCascade(ctx, vm.ID); err != nil {
			return f.failVirtualMachine(ctx, s, roleName, noteFor(err), 0)
		}
	} else if !errors.Is(err, database.ErrNotFound) {
		return f.failVirtualMachine(ctx, s, roleName, noteFor(err), 0)
	}

	network, err := f.precommitEndpoints(ctx, s, cloudServiceName)
	if err != nil {
		return f.failVirtualMachine(ctx, s, roleName, noteFor(err), 0)
	}

	requestID, err := s.session.Client.AddRole(ctx, cloudServiceName, deploymentName, asm.AddRoleParams{
		RoleName:          roleName,
		RoleSize:          s.unit.RoleSize(),
		VMImageName:       s.unit.VMImageName(),
		OSVirtualHardDisk: s.unit.OSVirtualHardDisk(),
		SystemConfig:      s.unit.SystemConfig(),
		NetworkConfig:     network,
	})
	if err != nil {
		f.rollbackEndpoints(ctx, s, cloudServiceName)
		return f.failVirtualMachine(ctx, s, roleName, noteFor(err), 0)
	}

	wait := job.MustNew(handlerAsyncWait, asyncArgs{ExperimentID: experimentID, RequestID: string(requestID)}).
		WithKey(f.queueKey(s.session, cloudServiceName, slot)).
		WithContinuations(
			job.MustNew(handlerVirtualMachineAddRoleOK, s.args),
			job.MustNew(handlerVirtualMachineFailAsync, s.args),
		)
	return f.runner.Submit(wait)
}

// createDeploymentWithRole creates the deployment seeded with the unit's
// role and chains deployment readiness behind the async waiter.
func (f *Formation) createDeploymentWithRole(ctx context.Context, s *stepContext, cloudServiceName string, slot asm.DeploymentSlot, roleName string) error {
	experimentID := s.args.ExperimentID
	deploymentName := s.session.Template.DeploymentName()

	// Drop stale rows for a deployment the provider no longer has.
	if stale, err := f.repository.GetDeploymentBySlot(ctx, cloudServiceName, string(slot)); err == nil {
		if err := f.repository.DeleteDeploymentCascade(ctx, stale.ID); err != nil {
			return f.failVirtualMachineStage(ctx, s, deploymentName, roleName, noteFor(err), 0)
		}
	} else if !errors.Is(err, database.ErrNotFound) {
		return f.failVirtualMachineStage(ctx, s, deploymentName, roleName, noteFor(err), 0)
	}

	network, err := f.precommitEndpoints(ctx, s, cloudServiceName)
	if err != nil {
		return f.failVirtualMachineStage(ctx, s, deploymentName, roleName, noteFor(err), 0)
	}

	requestID, err := s.session.Client.CreateVirtualMachineDeployment(ctx, cloudServiceName, asm.CreateDeploymentParams{
		Name:  deploymentName,
		Slot:  slot,
		Label: s.unit.RoleLabel(),
		Role: asm.AddRoleParams{
			RoleName:          roleName,
			RoleSize:          s.unit.RoleSize(),
			VMImageName:       s.unit.VMImageName(),
			OSVirtualHardDisk: s.unit.OSVirtualHardDisk(),
			SystemConfig:      s.unit.SystemConfig(),
			NetworkConfig:     network,
		},
	})
	if err != nil {
		f.rollbackEndpoints(ctx, s, cloudServiceName)
		return f.failVirtualMachineStage(ctx, s, deploymentName, roleName, noteFor(err), 0)
	}

	deploymentReady := job.MustNew(handlerDeploymentWait, deploymentWaitArgs{
		ExperimentID:   experimentID,
		CloudService:   cloudServiceName,
		DeploymentName: deploymentName,
		Target:         string(asm.DeploymentStatusRunning),
	}).WithContinuations(
		job.MustNew(handlerDeploymentCommit, s.args),
		job.MustNew(handlerDeploymentFailReady, s.args),
	)

	wait := job.MustNew(handlerAsyncWait, asyncArgs{ExperimentID: experimentID, RequestID: string(requestID)}).
		WithKey(f.queueKey(s.session, cloudServiceName, slot)).
		WithContinuations(
			deploymentReady,
			job.MustNew(handlerDeploymentFailAsync, s.args),
		)
	return f.runner.Submit(wait)
}

// commitDeployment runs once a created deployment reports Running: it
// commits the deployment row as ours and chains role readiness.
func (f *Formation) commitDeployment(ctx context.Context, s *stepContext) error {
	experimentID := s.args.ExperimentID
	slot := s.session.Template.DeploymentSlot()
	cloudServiceName := s.session.Template.CloudService().ServiceName
	deploymentName := s.session.Template.DeploymentName()
	roleName := s.unit.EffectiveRoleName(experimentID)

	if err := f.commitDeploymentRow(ctx, s, cloudServiceName, deploymentName, slot, true); err != nil {
		return f.failVirtualMachine(ctx, s, roleName, noteFor(err), 0)
	}
	note := fmt.Sprintf(createDeploymentInfo[0], deploymentKind, slot)
	if err := f.audit.End(ctx, experimentID, api.OperationCreateDeployment, note, 0); err != nil {
		return err
	}

	roleReady := job.MustNew(handlerRoleWait, roleWaitArgs{
		ExperimentID:   experimentID,
		CloudService:   cloudServiceName,
		DeploymentName: deploymentName,
		RoleName:       roleName,
		Target:         string(api.RoleInstanceStatusReadyRole),
	}).WithContinuations(
		job.MustNew(handlerVirtualMachineCommit, s.args),
		job.MustNew(handlerVirtualMachineFailReady, s.args),
	)
	roleReady.WithKey(f.queueKey(s.session, cloudServiceName, slot))
	return f.runner.Submit(roleReady)
}

// virtualMachineAddRoleOK runs after a succeeded add_role. Roles created
// from a VM image carry the image's network configuration, so the
// template's endpoints are applied with a follow-up network update before
// waiting for readiness.
func (f *Formation) virtualMachineAddRoleOK(ctx context.Context, s *stepContext) error {
	experimentID := s.args.ExperimentID
	slot := s.session.Template.DeploymentSlot()
	cloudServiceName := s.session.Template.CloudService().ServiceName
	roleName := s.unit.EffectiveRoleName(experimentID)

	deploymentName, err := s.session.Client.GetDeploymentNameBySlot(ctx, cloudServiceName, slot)
	if err != nil {
		return f.failVirtualMachine(ctx, s, roleName, noteFor(err), 0)
	}

	roleReady := job.MustNew(handlerRoleWait, roleWaitArgs{
		ExperimentID:   experimentID,
		CloudService:   cloudServiceName,
		DeploymentName: deploymentName,
		RoleName:       roleName,
		Target:         string(api.RoleInstanceStatusReadyRole),
	}).WithContinuations(
		job.MustNew(handlerVirtualMachineCommit, s.args),
		job.MustNew(handlerVirtualMachineFailReady, s.args),
	)

	roleReady.WithKey(f.queueKey(s.session, cloudServiceName, slot))
	if !s.unit.IsVMImage() {
		return f.runner.Submit(roleReady)
	}

	assignedPorts, err := s.session.Client.GetAssignedEndpointPorts(ctx, cloudServiceName)
	if err != nil {
		return f.failVirtualMachine(ctx, s, roleName, noteFor(err), 0)
	}
	requestID, err := s.session.Client.UpdateRoleNetwork(ctx, cloudServiceName, deploymentName, roleName, s.unit.NetworkConfig(assignedPorts))
	if err != nil {
		return f.failVirtualMachine(ctx, s, roleName, noteFor(err), 0)
	}

	wait := job.MustNew(handlerAsyncWait, asyncArgs{ExperimentID: experimentID, RequestID: string(requestID)}).
		WithKey(f.queueKey(s.session, cloudServiceName, slot)).
		WithContinuations(
			roleReady,
			job.MustNew(handlerVirtualMachineFailNet, s.args),
		)
	return f.runner.Submit(wait)
}

// commitVirtualMachine runs once the role reports ReadyRole: it resolves
// the machine's addresses, commits the virtual machine, virtual
// environment and endpoint rows and closes the unit's create operations.
func (f *Formation) commitVirtualMachine(ctx context.Context, s *stepContext) error {
	experimentID := s.args.ExperimentID
	slot := s.session.Template.DeploymentSlot()
	cloudServiceName := s.session.Template.CloudService().ServiceName
	roleName := s.unit.EffectiveRoleName(experimentID)

	deploymentName, err := s.session.Client.GetDeploymentNameBySlot(ctx, cloudServiceName, slot)
	if err != nil {
		return f.failVirtualMachine(ctx, s, roleName, noteFor(err), 0)
	}
	deployment, err := s.session.Client.GetDeployment(ctx, cloudServiceName, deploymentName)
	if err != nil {
		return f.failVirtualMachine(ctx, s, roleName, noteFor(err), 0)
	}

	deploymentRow, err := f.repository.GetDeploymentByName(ctx, cloudServiceName, deploymentName)
	if err != nil {
		return f.failVirtualMachine(ctx, s, roleName, noteFor(err), 0)
	}
	cloudServiceRow, err := f.repository.GetCloudServiceByName(ctx, cloudServiceName)
	if err != nil {
		return f.failVirtualMachine(ctx, s, roleName, noteFor(err), 0)
	}

	publicIP, remotePort := instanceAddress(deployment, roleName, s.unit.RemotePortName())
	privateIP := deployment.RoleInstancePrivateIP(roleName)
	dns := deploymentDNS(deployment)

	vm, err := f.repository.CreateVirtualMachine(ctx, &database.VirtualMachine{
		DeploymentID:     deploymentRow.ID,
		ExperimentID:     experimentID,
		CloudServiceName: cloudServiceName,
		DeploymentName:   deploymentName,
		Name:             roleName,
		Label:            s.unit.RoleLabel(),
		Status:           string(api.RoleInstanceStatusReadyRole),
		DNS:              dns,
		PublicIP:         publicIP,
		PrivateIP:        privateIP,
		CreatedByUs:      true,
	})
	if err != nil {
		return f.failVirtualMachine(ctx, s, roleName, noteFor(err), 0)
	}

	remoteParas, err := json.Marshal(s.unit.RemoteParas(roleName, publicIP, remotePort))
	if err != nil {
		return f.failVirtualMachine(ctx, s, roleName, noteFor(err), 0)
	}
	if _, err := f.repository.CreateVirtualEnvironment(ctx, &database.VirtualEnvironment{
		ExperimentID:     experimentID,
		VirtualMachineID: vm.ID,
		Provider:         database.VirtualEnvironmentProviderAzureVM,
		Name:             roleName,
		Image:            s.unit.ImageName(),
		Status:           database.VirtualEnvironmentRunning,
		RemoteProvider:   database.VirtualEnvironmentRemoteGuacamole,
		RemoteParas:      string(remoteParas),
	}); err != nil {
		return f.failVirtualMachine(ctx, s, roleName, noteFor(err), 0)
	}

	if err := f.repository.BindUnboundEndpoints(ctx, cloudServiceRow.ID, vm.ID); err != nil {
		return f.failVirtualMachine(ctx, s, roleName, noteFor(err), 0)
	}

	note := fmt.Sprintf(createVirtualMachineInfo[0], virtualMachineKind, roleName)
	if err := f.audit.End(ctx, experimentID, api.OperationCreateVirtualMachine, note, 0); err != nil {
		return err
	}
	return f.finishCreate(ctx, s)
}

// adoptVirtualMachine records a pre-existing provider role as not-ours,
// together with its environment and its current endpoint set, then moves
// on without touching the provider.
func (f *Formation) adoptVirtualMachine(ctx context.Context, s *stepContext, cloudServiceName, deploymentName, roleName string) error {
	experimentID := s.args.ExperimentID

	deployment, err := s.session.Client.GetDeployment(ctx, cloudServiceName, deploymentName)
	if err != nil {
		return f.failVirtualMachine(ctx, s, roleName, noteFor(err), 0)
	}
	deploymentRow, err := f.repository.GetDeploymentByName(ctx, cloudServiceName, deploymentName)
	if err != nil {
		return f.failVirtualMachine(ctx, s, roleName, noteFor(err), 0)
	}
	cloudServiceRow, err := f.repository.GetCloudServiceByName(ctx, cloudServiceName)
	if err != nil {
		return f.failVirtualMachine(ctx, s, roleName, noteFor(err), 0)
	}

	publicIP, remotePort := instanceAddress(deployment, roleName, s.unit.RemotePortName())
	status := deployment.RoleInstanceStatus(roleName)
	if status == "" {
		status = api.RoleInstanceStatusReadyRole
	}

	vm, err := f.repository.CreateVirtualMachine(ctx, &database.VirtualMachine{
		DeploymentID:     deploymentRow.ID,
		ExperimentID:     experimentID,
		CloudServiceName: cloudServiceName,
		DeploymentName:   deploymentName,
		Name:             roleName,
		Label:            s.unit.RoleLabel(),
		Status:           string(status),
		DNS:              deploymentDNS(deployment),
		PublicIP:         publicIP,
		PrivateIP:        deployment.RoleInstancePrivateIP(roleName),
		CreatedByUs:      false,
	})
	if err != nil {
		return f.failVirtualMachine(ctx, s, roleName, noteFor(err), 0)
	}

	remoteParas, err := json.Marshal(s.unit.RemoteParas(roleName, publicIP, remotePort))
	if err != nil {
		return f.failVirtualMachine(ctx, s, roleName, noteFor(err), 0)
	}
	if _, err := f.repository.CreateVirtualEnvironment(ctx, &database.VirtualEnvironment{
		ExperimentID:     experimentID,
		VirtualMachineID: vm.ID,
		Provider:         database.VirtualEnvironmentProviderAzureVM,
		Name:             roleName,
		Image:            s.unit.ImageName(),
		Status:           database.VirtualEnvironmentRunning,
		RemoteProvider:   database.VirtualEnvironmentRemoteGuacamole,
		RemoteParas:      string(remoteParas),
	}); err != nil {
		return f.failVirtualMachine(ctx, s, roleName, noteFor(err), 0)
	}

	// Mirror the role's current endpoint set.
	if role, err := s.session.Client.GetRole(ctx, cloudServiceName, deploymentName, roleName); err == nil {
		if network := role.NetworkConfiguration(); network != nil {
			endpoints := make([]database.Endpoint, 0, len(network.InputEndpoints))
			for _, endpoint := range network.InputEndpoints {
				endpoints = append(endpoints, database.Endpoint{
					CloudServiceID: cloudServiceRow.ID,
					Name:           endpoint.Name,
					Protocol:       endpoint.Protocol,
					PublicPort:     endpoint.Port,
					LocalPort:      endpoint.LocalPort,
				})
			}
			if err := f.repository.ReplaceEndpoints(ctx, vm.ID, endpoints); err != nil {
				return f.failVirtualMachine(ctx, s, roleName, noteFor(err), 0)
			}
		}
	}

	note := fmt.Sprintf(createVirtualMachineInfo[2], virtualMachineKind, roleName, api.ProgramName)
	if err := f.audit.End(ctx, experimentID, api.OperationCreateVirtualMachine, note, 2); err != nil {
		return err
	}
	return f.finishCreate(ctx, s)
}

// Failure continuations of the VM-stage waiters.

func (f *Formation) failVirtualMachineAsync(ctx context.Context, s *stepContext) error {
	roleName := s.unit.EffectiveRoleName(s.args.ExperimentID)
	note := fmt.Sprintf(createVirtualMachineError[2], virtualMachineKind, roleName)
	return f.failVirtualMachine(ctx, s, roleName, note, 2)
}

func (f *Formation) failVirtualMachineNetwork(ctx context.Context, s *stepContext) error {
	roleName := s.unit.EffectiveRoleName(s.args.ExperimentID)
	note := fmt.Sprintf(createVirtualMachineError[3], virtualMachineKind, roleName)
	return f.failVirtualMachine(ctx, s, roleName, note, 3)
}

func (f *Formation) failVirtualMachineReady(ctx context.Context, s *stepContext) error {
	roleName := s.unit.EffectiveRoleName(s.args.ExperimentID)
	note := fmt.Sprintf(createVirtualMachineError[5], virtualMachineKind, roleName)
	return f.failVirtualMachine(ctx, s, roleName, note, 5)
}

func (f *Formation) failDeploymentAsync(ctx context.Context, s *stepContext) error {
	experimentID := s.args.ExperimentID
	slot := s.session.Template.DeploymentSlot()
	roleName := s.unit.EffectiveRoleName(experimentID)
	if err := f.audit.Fail(ctx, experimentID, api.OperationCreateDeployment,
		fmt.Sprintf(createDeploymentError[2], deploymentKind, slot), 2); err != nil {
		return err
	}
	note := fmt.Sprintf(createVirtualMachineError[2], virtualMachineKind, roleName)
	return f.failVirtualMachine(ctx, s, roleName, note, 2)
}

func (f *Formation) failDeploymentReady(ctx context.Context, s *stepContext) error {
	experimentID := s.args.ExperimentID
	slot := s.session.Template.DeploymentSlot()
	roleName := s.unit.EffectiveRoleName(experimentID)
	if err := f.audit.Fail(ctx, experimentID, api.OperationCreateDeployment,
		fmt.Sprintf(createDeploymentError[3], deploymentKind, slot), 3); err != nil {
		return err
	}
	note := fmt.Sprintf(createVirtualMachineError[5], virtualMachineKind, roleName)
	return f.failVirtualMachine(ctx, s, roleName, note, 5)
}

// failVirtualMachine closes the VM operation, rolls pre-committed endpoint
// rows back and fails the enclosing operations. Pre-committed endpoints are
// the one persistence rollback the engine performs: the machine they were
// to belong to never appeared.
func (f *Formation) failVirtualMachine(ctx context.Context, s *stepContext, roleName, note string, stepIndex int) error {
	experimentID := s.args.ExperimentID
	f.rollbackEndpoints(ctx, s, s.session.Template.CloudService().ServiceName)
	if err := f.audit.Fail(ctx, experimentID, api.OperationCreateVirtualMachine, note, stepIndex); err != nil {
		return err
	}
	if err := f.audit.Fail(ctx, experimentID, api.OperationCreateVirtualMachines, note, audit.NoStep); err != nil {
		return err
	}
	f.failCreate(ctx, experimentID, note)
	return errors.New(note)
}

// failVirtualMachineStage additionally closes the deployment operation,
// for failures before the deployment branch resolves.
func (f *Formation) failVirtualMachineStage(ctx context.Context, s *stepContext, deploymentName, roleName, detail string, stepIndex int) error {
	experimentID := s.args.ExperimentID
	if err := f.audit.Fail(ctx, experimentID, api.OperationCreateDeployment,
		fmt.Sprintf(createDeploymentError[0], deploymentKind, deploymentName, detail), stepIndex); err != nil {
		return err
	}
	note := fmt.Sprintf(createVirtualMachineError[0], virtualMachineKind, roleName, detail)
	return f.failVirtualMachine(ctx, s, roleName, note, stepIndex)
}

// commitDeploymentRow inserts a deployment row under the unit's cloud service.
func (f *Formation) commitDeploymentRow(ctx context.Context, s *stepContext, cloudServiceName, deploymentName string, slot asm.DeploymentSlot, ours bool) error {
	cloudServiceRow, err := f.repository.GetCloudServiceByName(ctx, cloudServiceName)
	if err != nil {
		return err
	}
	_, err = f.repository.CreateDeployment(ctx, &database.Deployment{
		CloudServiceID:   cloudServiceRow.ID,
		ExperimentID:     s.args.ExperimentID,
		CloudServiceName: cloudServiceName,
		Name:             deploymentName,
		Slot:             slot,
		Status:           api.ResourceStatusRunning,
		CreatedByUs:      ours,
	})
	return err
}

// precommitEndpoints records the unit's endpoints against the cloud
// service before the role exists and returns the network configuration the
// provider call should carry. Ports already assigned on the service are
// resolved to free ones first.
func (f *Formation) precommitEndpoints(ctx context.Context, s *stepContext, cloudServiceName string) (*asm.ConfigurationSet, error) {
	assignedPorts, err := s.session.Client.GetAssignedEndpointPorts(ctx, cloudServiceName)
	if err != nil {
		return nil, err
	}
	network := s.unit.NetworkConfig(assignedPorts)

	cloudServiceRow, err := f.repository.GetCloudServiceByName(ctx, cloudServiceName)
	if err != nil {
		return nil, err
	}
	for _, endpoint := range network.InputEndpoints {
		if err := f.repository.AddUnboundEndpoint(ctx, &database.Endpoint{
			CloudServiceID: cloudServiceRow.ID,
			Name:           endpoint.Name,
			Protocol:       endpoint.Protocol,
			PublicPort:     endpoint.Port,
			LocalPort:      endpoint.LocalPort,
		}); err != nil {
			return nil, err
		}
	}
	return network, nil
}

func (f *Formation) rollbackEndpoints(ctx context.Context, s *stepContext, cloudServiceName string) {
	cloudServiceRow, err := f.repository.GetCloudServiceByName(ctx, cloudServiceName)
	if err != nil {
		return
	}
	if err := f.repository.RollbackUnboundEndpoints(ctx, cloudServiceRow.ID); err != nil {
		f.logger.Error(fmt.Sprintf("Failed to roll back pre-committed endpoints: %v", err))
	}
}

// instanceAddress resolves the public IP of a role instance and the public
// port of its remote-access endpoint.
func instanceAddress(deployment *asm.Deployment, roleName, remotePortName string) (string, int) {
	for _, instance := range deployment.RoleInstances {
		if instance.InstanceName != roleName {
			continue
		}
		var publicIP string
		var remotePort int
		for _, endpoint := range instance.InstanceEndpoints {
			if publicIP == "" {
				publicIP = endpoint.VIP
			}
			if endpoint.Name == remotePortName {
				remotePort = endpoint.PublicPort
			}
		}
		return publicIP, remotePort
	}
	return "", 0
}

// deploymentDNS extracts the deployment's DNS name from its URL.
func deploymentDNS(deployment *asm.Deployment) string {
	parsed, err := url.Parse(deployment.URL)
	if err != nil || parsed.Host == "" {
		return deployment.URL
	}
	return parsed.Host
}

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
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/openhackathon/azureformation/internal/api"
	"github.com/openhackathon/azureformation/internal/asm"
	"github.com/openhackathon/azureformation/internal/audit"
	"github.com/openhackathon/azureformation/internal/database"
	"github.com/openhackathon/azureformation/internal/template"
	"github.com/openhackathon/azureformation/internal/waiter"
)

// opContext carries the resolved state the synchronous experiment-level
// operations share.
type opContext struct {
	experimentID     int64
	session          *Session
	waiter           *waiter.Waiter
	cloudServiceRow  *database.CloudService
	deploymentRow    *database.Deployment
	cloudServiceName string
	deploymentName   string
}

// precheckResources verifies that the cloud service, deployment and every
// virtual machine of the template exist both in the repository and on the
// provider. Any miss fails the enclosing operation before provider writes
// are attempted.
func (f *Formation) precheckResources(ctx context.Context, experimentID int64, operation api.OperationName) (*opContext, error) {
	session, err := f.sessions(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	o := &opContext{
		experimentID:     experimentID,
		session:          session,
		waiter:           waiter.NewWithClock(session.Client, f.clock),
		cloudServiceName: session.Template.CloudService().ServiceName,
		deploymentName:   session.Template.DeploymentName(),
	}

	fail := func(note string) error {
		if err := f.audit.Fail(ctx, experimentID, operation, note, audit.NoStep); err != nil {
			return err
		}
		return errors.New(note)
	}

	o.cloudServiceRow, err = f.repository.GetCloudServiceByName(ctx, o.cloudServiceName)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fail(fmt.Sprintf("cloud service %s not exist in database", o.cloudServiceName))
	} else if err != nil {
		return nil, fail(noteFor(err))
	}

	exists, err := session.Client.CloudServiceExists(ctx, o.cloudServiceName)
	if err != nil {
		return nil, fail(noteFor(err))
	}
	if !exists {
		return nil, fail(fmt.Sprintf("cloud service %s not exist in azure", o.cloudServiceName))
	}

	o.deploymentRow, err = f.repository.GetDeploymentByName(ctx, o.cloudServiceName, o.deploymentName)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fail(fmt.Sprintf("deployment %s not exist in database", o.deploymentName))
	} else if err != nil {
		return nil, fail(noteFor(err))
	}

	if _, err := session.Client.GetDeployment(ctx, o.cloudServiceName, o.deploymentName); err != nil {
		if asm.IsNotFound(err) {
			return nil, fail(fmt.Sprintf("deployment %s not exist in azure", o.deploymentName))
		}
		return nil, fail(noteFor(err))
	}

	for _, unit := range session.Template.Units() {
		roleName := unit.EffectiveRoleName(experimentID)
		if _, err := f.repository.GetVirtualMachine(ctx, o.cloudServiceName, o.deploymentName, roleName); errors.Is(err, database.ErrNotFound) {
			return nil, fail(fmt.Sprintf("virtual machine %s not exist in database", roleName))
		} else if err != nil {
			return nil, fail(noteFor(err))
		}
		roleExists, err := session.Client.RoleExists(ctx, o.cloudServiceName, o.deploymentName, roleName)
		if err != nil {
			return nil, fail(noteFor(err))
		}
		if !roleExists {
			return nil, fail(fmt.Sprintf("virtual machine %s not exist in azure", roleName))
		}
	}

	return o, nil
}

// experimentUpdate applies the template's role size and network
// configuration to every virtual machine, one at a time: update, wait for
// async, wait for readiness, verify, then replace the persisted endpoint
// set atomically.
func (f *Formation) experimentUpdate(ctx context.Context, args operationArgs) error {
	experimentID := args.ExperimentID
	if err := f.audit.Start(ctx, experimentID, api.OperationUpdate); err != nil {
		return err
	}

	o, err := f.precheckResources(ctx, experimentID, api.OperationUpdate)
	if err != nil {
		return err
	}

	for _, unit := range o.session.Template.Units() {
		if err := f.updateVirtualMachine(ctx, o, unit); err != nil {
			_ = f.audit.Fail(ctx, experimentID, api.OperationUpdate, noteFor(err), audit.NoStep)
			return err
		}
	}

	return f.audit.End(ctx, experimentID, api.OperationUpdate, "", audit.NoStep)
}

func (f *Formation) updateVirtualMachine(ctx context.Context, o *opContext, unit template.Unit) error {
	roleName := unit.EffectiveRoleName(o.experimentID)

	if err := f.audit.Start(ctx, o.experimentID, api.OperationUpdateVirtualMachine); err != nil {
		return err
	}

	fail := func(note string, stepIndex int) error {
		if err := f.audit.Fail(ctx, o.experimentID, api.OperationUpdateVirtualMachine, note, stepIndex); err != nil {
			return err
		}
		return errors.New(note)
	}

	network := asm.NewNetworkConfiguration(requestedEndpoints(unit))

	requestID, err := o.session.Client.UpdateRole(ctx, o.cloudServiceName, o.deploymentName, roleName, network, unit.RoleSize())
	if err != nil {
		return fail(fmt.Sprintf(updateVirtualMachineError[0], virtualMachineKind, roleName, noteFor(err)), 0)
	}

	if err := o.waiter.ForAsync(ctx, requestID, f.tick, f.loops); err != nil {
		return fail(fmt.Sprintf(updateVirtualMachineError[3], virtualMachineKind, roleName), 3)
	}
	if err := o.waiter.ForRole(ctx, o.cloudServiceName, o.deploymentName, roleName, api.RoleInstanceStatusReadyRole, f.tick, f.loops); err != nil {
		return fail(fmt.Sprintf(updateVirtualMachineError[4], virtualMachineKind, roleName), 4)
	}

	// Re-fetch the role and verify the provider applied what was asked.
	role, err := o.session.Client.GetRole(ctx, o.cloudServiceName, o.deploymentName, roleName)
	if err != nil {
		return fail(fmt.Sprintf(updateVirtualMachineError[0], virtualMachineKind, roleName, noteFor(err)), 0)
	}
	if !strings.EqualFold(role.RoleSize, unit.RoleSize()) || !sameNetworkConfig(role.NetworkConfiguration(), network) {
		return fail(fmt.Sprintf(updateVirtualMachineError[5], virtualMachineKind, roleName), 5)
	}

	vmRow, err := f.repository.GetVirtualMachine(ctx, o.cloudServiceName, o.deploymentName, roleName)
	if err != nil {
		return fail(noteFor(err), 0)
	}

	endpoints := make([]database.Endpoint, 0, len(network.InputEndpoints))
	for _, endpoint := range network.InputEndpoints {
		endpoints = append(endpoints, database.Endpoint{
			CloudServiceID: o.cloudServiceRow.ID,
			Name:           endpoint.Name,
			Protocol:       endpoint.Protocol,
			PublicPort:     endpoint.Port,
			LocalPort:      endpoint.LocalPort,
		})
	}
	if err := f.repository.ReplaceEndpoints(ctx, vmRow.ID, endpoints); err != nil {
		return fail(noteFor(err), 0)
	}

	// Refresh the private IP from the current deployment.
	deployment, err := o.session.Client.GetDeployment(ctx, o.cloudServiceName, o.deploymentName)
	if err == nil {
		_ = f.repository.UpdateVirtualMachinePrivateIP(ctx, vmRow.ID, deployment.RoleInstancePrivateIP(roleName))
	}

	return f.audit.End(ctx, o.experimentID, api.OperationUpdateVirtualMachine, "", audit.NoStep)
}

// experimentDelete removes every virtual machine of the template: the
// whole deployment when the machine is its last role, the single role
// otherwise. Provider-side absence is verified before persistence rows are
// cascaded, and adopted rows are refused unless forced.
func (f *Formation) experimentDelete(ctx context.Context, args operationArgs) error {
	experimentID := args.ExperimentID
	if err := f.audit.Start(ctx, experimentID, api.OperationDelete); err != nil {
		return err
	}

	o, err := f.precheckResources(ctx, experimentID, api.OperationDelete)
	if err != nil {
		return err
	}

	for _, unit := range o.session.Template.Units() {
		if err := f.deleteVirtualMachine(ctx, o, unit, args.Force); err != nil {
			_ = f.audit.Fail(ctx, experimentID, api.OperationDelete, noteFor(err), audit.NoStep)
			return err
		}
	}

	return f.audit.End(ctx, experimentID, api.OperationDelete, "", audit.NoStep)
}

func (f *Formation) deleteVirtualMachine(ctx context.Context, o *opContext, unit template.Unit, force bool) error {
	roleName := unit.EffectiveRoleName(o.experimentID)

	vmRow, err := f.repository.GetVirtualMachine(ctx, o.cloudServiceName, o.deploymentName, roleName)
	if err != nil {
		return err
	}
	if !vmRow.CreatedByUs && !force {
		if err := f.audit.Start(ctx, o.experimentID, api.OperationDeleteVirtualMachine); err != nil {
			return err
		}
		note := fmt.Sprintf(deleteVirtualMachineError[5], virtualMachineKind, roleName, api.ProgramName)
		if err := f.audit.Fail(ctx, o.experimentID, api.OperationDeleteVirtualMachine, note, 5); err != nil {
			return err
		}
		return errors.New(note)
	}

	deployment, err := o.session.Client.GetDeployment(ctx, o.cloudServiceName, o.deploymentName)
	if err != nil {
		return err
	}

	if len(deployment.RoleInstances) == 1 {
		return f.deleteLastRole(ctx, o, roleName)
	}
	return f.deleteSingleRole(ctx, o, vmRow, roleName)
}

// deleteLastRole removes the deployment holding its sole virtual machine.
func (f *Formation) deleteLastRole(ctx context.Context, o *opContext, roleName string) error {
	experimentID := o.experimentID

	if err := f.audit.Start(ctx, experimentID, api.OperationDeleteDeployment); err != nil {
		return err
	}
	if err := f.audit.Start(ctx, experimentID, api.OperationDeleteVirtualMachine); err != nil {
		return err
	}

	failBoth := func(deploymentNote, vmNote string, deploymentStep, vmStep int) error {
		if err := f.audit.Fail(ctx, experimentID, api.OperationDeleteDeployment, deploymentNote, deploymentStep); err != nil {
			return err
		}
		if err := f.audit.Fail(ctx, experimentID, api.OperationDeleteVirtualMachine, vmNote, vmStep); err != nil {
			return err
		}
		return errors.New(deploymentNote)
	}

	requestID, err := o.session.Client.DeleteDeployment(ctx, o.cloudServiceName, o.deploymentName)
	if err != nil {
		detail := noteFor(err)
		return failBoth(
			fmt.Sprintf(deleteDeploymentError[0], deploymentKind, o.deploymentName, detail),
			fmt.Sprintf(deleteVirtualMachineError[0], virtualMachineKind, roleName, detail),
			0, 0)
	}

	if err := o.waiter.ForAsync(ctx, requestID, f.tick, f.loops); err != nil {
		return failBoth(
			fmt.Sprintf(deleteDeploymentError[1], deploymentKind, o.deploymentName),
			fmt.Sprintf(deleteVirtualMachineError[3], virtualMachineKind, roleName),
			1, 3)
	}

	// Verify absence before touching persistence.
	if _, err := o.session.Client.GetDeployment(ctx, o.cloudServiceName, o.deploymentName); err == nil {
		return failBoth(
			fmt.Sprintf(deleteDeploymentError[2], deploymentKind, o.deploymentName),
			fmt.Sprintf(deleteVirtualMachineError[4], virtualMachineKind, roleName),
			2, 4)
	} else if !asm.IsNotFound(err) {
		return failBoth(
			fmt.Sprintf(deleteDeploymentError[0], deploymentKind, o.deploymentName, noteFor(err)),
			fmt.Sprintf(deleteVirtualMachineError[0], virtualMachineKind, roleName, noteFor(err)),
			0, 0)
	}

	// One commit removes the deployment row, its virtual machines and
	// their endpoints.
	if err := f.repository.DeleteDeploymentCascade(ctx, o.deploymentRow.ID); err != nil {
		return failBoth(
			fmt.Sprintf(deleteDeploymentError[0], deploymentKind, o.deploymentName, noteFor(err)),
			fmt.Sprintf(deleteVirtualMachineError[0], virtualMachineKind, roleName, noteFor(err)),
			0, 0)
	}

	if err := f.audit.End(ctx, experimentID, api.OperationDeleteDeployment, "", audit.NoStep); err != nil {
		return err
	}
	return f.audit.End(ctx, experimentID, api.OperationDeleteVirtualMachine, "", audit.NoStep)
}

// deleteSingleRole removes one role from a deployment that keeps others.
func (f *Formation) deleteSingleRole(ctx context.Context, o *opContext, vmRow *database.VirtualMachine, roleName string) error {
	experimentID := o.experimentID

	if err := f.audit.Start(ctx, experimentID, api.OperationDeleteVirtualMachine); err != nil {
		return err
	}

	fail := func(note string, stepIndex int) error {
		if err := f.audit.Fail(ctx, experimentID, api.OperationDeleteVirtualMachine, note, stepIndex); err != nil {
			return err
		}
		return errors.New(note)
	}

	requestID, err := o.session.Client.DeleteRole(ctx, o.cloudServiceName, o.deploymentName, roleName)
	if err != nil {
		return fail(fmt.Sprintf(deleteVirtualMachineError[0], virtualMachineKind, roleName, noteFor(err)), 0)
	}

	if err := o.waiter.ForAsync(ctx, requestID, f.tick, f.loops); err != nil {
		return fail(fmt.Sprintf(deleteVirtualMachineError[3], virtualMachineKind, roleName), 3)
	}

	stillExists, err := o.session.Client.RoleExists(ctx, o.cloudServiceName, o.deploymentName, roleName)
	if err != nil {
		return fail(fmt.Sprintf(deleteVirtualMachineError[0], virtualMachineKind, roleName, noteFor(err)), 0)
	}
	if stillExists {
		return fail(fmt.Sprintf(deleteVirtualMachineError[4], virtualMachineKind, roleName), 4)
	}

	if err := f.repository.DeleteVirtualMachineCascade(ctx, vmRow.ID); err != nil {
		return fail(fmt.Sprintf(deleteVirtualMachineError[0], virtualMachineKind, roleName, noteFor(err)), 0)
	}

	return f.audit.End(ctx, experimentID, api.OperationDeleteVirtualMachine, "", audit.NoStep)
}

// experimentStop drives every virtual machine toward the stop action's
// target status. A deallocated machine cannot be re-stopped to StoppedVM;
// that transition is rejected before any provider call.
func (f *Formation) experimentStop(ctx context.Context, args operationArgs) error {
	experimentID := args.ExperimentID
	action := args.Action
	if action == "" {
		action = api.ActionStopped
	}

	if err := f.audit.Start(ctx, experimentID, api.OperationStop); err != nil {
		return err
	}

	o, err := f.precheckResources(ctx, experimentID, api.OperationStop)
	if err != nil {
		return err
	}

	for _, unit := range o.session.Template.Units() {
		if err := f.stopVirtualMachine(ctx, o, unit, action); err != nil {
			_ = f.audit.Fail(ctx, experimentID, api.OperationStop, noteFor(err), audit.NoStep)
			return err
		}
	}

	return f.audit.End(ctx, experimentID, api.OperationStop, "", audit.NoStep)
}

func (f *Formation) stopVirtualMachine(ctx context.Context, o *opContext, unit template.Unit, action api.StopAction) error {
	experimentID := o.experimentID
	roleName := unit.EffectiveRoleName(experimentID)
	needStatus := action.NeedStatus()

	if err := f.audit.Start(ctx, experimentID, api.OperationStopVirtualMachine); err != nil {
		return err
	}

	fail := func(note string, stepIndex int) error {
		if err := f.audit.Fail(ctx, experimentID, api.OperationStopVirtualMachine, note, stepIndex); err != nil {
			return err
		}
		return errors.New(note)
	}

	deployment, err := o.session.Client.GetDeployment(ctx, o.cloudServiceName, o.deploymentName)
	if err != nil {
		return fail(fmt.Sprintf(stopVirtualMachineError[0], virtualMachineKind, roleName, noteFor(err)), 0)
	}
	nowStatus := deployment.RoleInstanceStatus(roleName)

	// Re-stopping a deallocated machine would re-bill it; the provider
	// rejects the transition, so refuse it before any call.
	if needStatus == api.RoleInstanceStatusStoppedVM && nowStatus == api.RoleInstanceStatusStoppedDeallocated {
		return fail(fmt.Sprintf(stopVirtualMachineError[1], virtualMachineKind, roleName,
			api.RoleInstanceStatusStoppedVM, api.RoleInstanceStatusStoppedDeallocated), 1)
	}

	if nowStatus == needStatus {
		vmRow, err := f.repository.GetVirtualMachine(ctx, o.cloudServiceName, o.deploymentName, roleName)
		if err != nil {
			return fail(noteFor(err), 0)
		}
		if vmRow.Status == string(needStatus) {
			note := fmt.Sprintf(stopVirtualMachineInfo[1], virtualMachineKind, roleName, needStatus, api.ProgramName)
			return f.audit.End(ctx, experimentID, api.OperationStopVirtualMachine, note, 1)
		}
		if err := f.markVirtualMachineStopped(ctx, vmRow.ID, needStatus); err != nil {
			return fail(noteFor(err), 0)
		}
		note := fmt.Sprintf(stopVirtualMachineInfo[2], virtualMachineKind, roleName, needStatus, api.ProgramName)
		return f.audit.End(ctx, experimentID, api.OperationStopVirtualMachine, note, 2)
	}

	requestID, err := o.session.Client.StopRole(ctx, o.cloudServiceName, o.deploymentName, roleName, action)
	if err != nil {
		return fail(fmt.Sprintf(stopVirtualMachineError[0], virtualMachineKind, roleName, noteFor(err)), 0)
	}

	if err := o.waiter.ForAsync(ctx, requestID, f.tick, f.loops); err != nil {
		return fail(fmt.Sprintf(stopVirtualMachineError[2], virtualMachineKind, roleName), 2)
	}
	if err := o.waiter.ForRole(ctx, o.cloudServiceName, o.deploymentName, roleName, needStatus, f.tick, f.loops); err != nil {
		return fail(fmt.Sprintf(stopVirtualMachineError[3], virtualMachineKind, roleName), 3)
	}

	vmRow, err := f.repository.GetVirtualMachine(ctx, o.cloudServiceName, o.deploymentName, roleName)
	if err != nil {
		return fail(noteFor(err), 0)
	}
	if err := f.markVirtualMachineStopped(ctx, vmRow.ID, needStatus); err != nil {
		return fail(noteFor(err), 0)
	}

	note := fmt.Sprintf(stopVirtualMachineInfo[0], virtualMachineKind, roleName, action)
	return f.audit.End(ctx, experimentID, api.OperationStopVirtualMachine, note, 0)
}

func (f *Formation) markVirtualMachineStopped(ctx context.Context, vmID int64, status api.RoleInstanceStatus) error {
	if err := f.repository.UpdateVirtualMachineStatus(ctx, vmID, string(status)); err != nil {
		return err
	}
	return f.repository.UpdateVirtualEnvironmentStatus(ctx, vmID, database.VirtualEnvironmentStopped)
}

// experimentStart drives every virtual machine back to ReadyRole and
// refreshes its private IP, which changes when a deallocated machine is
// reallocated.
func (f *Formation) experimentStart(ctx context.Context, args operationArgs) error {
	experimentID := args.ExperimentID
	if err := f.audit.Start(ctx, experimentID, api.OperationStart); err != nil {
		return err
	}

	o, err := f.precheckResources(ctx, experimentID, api.OperationStart)
	if err != nil {
		return err
	}

	for _, unit := range o.session.Template.Units() {
		if err := f.startVirtualMachine(ctx, o, unit); err != nil {
			_ = f.audit.Fail(ctx, experimentID, api.OperationStart, noteFor(err), audit.NoStep)
			return err
		}
	}

	return f.audit.End(ctx, experimentID, api.OperationStart, "", audit.NoStep)
}

func (f *Formation) startVirtualMachine(ctx context.Context, o *opContext, unit template.Unit) error {
	experimentID := o.experimentID
	roleName := unit.EffectiveRoleName(experimentID)

	if err := f.audit.Start(ctx, experimentID, api.OperationStartVirtualMachine); err != nil {
		return err
	}

	fail := func(note string, stepIndex int) error {
		if err := f.audit.Fail(ctx, experimentID, api.OperationStartVirtualMachine, note, stepIndex); err != nil {
			return err
		}
		return errors.New(note)
	}

	deployment, err := o.session.Client.GetDeployment(ctx, o.cloudServiceName, o.deploymentName)
	if err != nil {
		return fail(fmt.Sprintf(startVirtualMachineError[0], virtualMachineKind, roleName, noteFor(err)), 0)
	}

	if deployment.RoleInstanceStatus(roleName) == api.RoleInstanceStatusReadyRole {
		vmRow, err := f.repository.GetVirtualMachine(ctx, o.cloudServiceName, o.deploymentName, roleName)
		if err != nil {
			return fail(noteFor(err), 0)
		}
		if vmRow.Status == string(api.RoleInstanceStatusReadyRole) {
			note := fmt.Sprintf(startVirtualMachineInfo[1], virtualMachineKind, roleName, api.ProgramName)
			return f.audit.End(ctx, experimentID, api.OperationStartVirtualMachine, note, 1)
		}
		if err := f.markVirtualMachineStarted(ctx, o, vmRow.ID, roleName); err != nil {
			return fail(noteFor(err), 0)
		}
		note := fmt.Sprintf(startVirtualMachineInfo[2], virtualMachineKind, roleName, api.ProgramName)
		return f.audit.End(ctx, experimentID, api.OperationStartVirtualMachine, note, 2)
	}

	requestID, err := o.session.Client.StartRole(ctx, o.cloudServiceName, o.deploymentName, roleName)
	if err != nil {
		return fail(fmt.Sprintf(startVirtualMachineError[0], virtualMachineKind, roleName, noteFor(err)), 0)
	}

	if err := o.waiter.ForAsync(ctx, requestID, f.tick, f.loops); err != nil {
		return fail(fmt.Sprintf(startVirtualMachineError[1], virtualMachineKind, roleName), 1)
	}
	if err := o.waiter.ForRole(ctx, o.cloudServiceName, o.deploymentName, roleName, api.RoleInstanceStatusReadyRole, f.tick, f.loops); err != nil {
		return fail(fmt.Sprintf(startVirtualMachineError[2], virtualMachineKind, roleName), 2)
	}

	vmRow, err := f.repository.GetVirtualMachine(ctx, o.cloudServiceName, o.deploymentName, roleName)
	if err != nil {
		return fail(noteFor(err), 0)
	}
	if err := f.markVirtualMachineStarted(ctx, o, vmRow.ID, roleName); err != nil {
		return fail(noteFor(err), 0)
	}

	note := fmt.Sprintf(startVirtualMachineInfo[0], virtualMachineKind, roleName)
	return f.audit.End(ctx, experimentID, api.OperationStartVirtualMachine, note, 0)
}

func (f *Formation) markVirtualMachineStarted(ctx context.Context, o *opContext, vmID int64, roleName string) error {
	if err := f.repository.UpdateVirtualMachineStatus(ctx, vmID, string(api.RoleInstanceStatusReadyRole)); err != nil {
		return err
	}
	if err := f.repository.UpdateVirtualEnvironmentStatus(ctx, vmID, database.VirtualEnvironmentRunning); err != nil {
		return err
	}
	deployment, err := o.session.Client.GetDeployment(ctx, o.cloudServiceName, o.deploymentName)
	if err != nil {
		return err
	}
	return f.repository.UpdateVirtualMachinePrivateIP(ctx, vmID, deployment.RoleInstancePrivateIP(roleName))
}

// requestedEndpoints converts the template's ordered endpoint list.
func requestedEndpoints(unit template.Unit) []asm.InputEndpoint {
	specs := unit.Endpoints()
	endpoints := make([]asm.InputEndpoint, 0, len(specs))
	for _, spec := range specs {
		endpoints = append(endpoints, asm.InputEndpoint{
			Name:      spec.Name,
			Protocol:  spec.Protocol,
			Port:      spec.Port,
			LocalPort: spec.LocalPort,
		})
	}
	return endpoints
}

// sameNetworkConfig compares two network configurations by endpoint set:
// order-independent, matched by name, protocol, public port and local port.
func sameNetworkConfig(got, want *asm.ConfigurationSet) bool {
	if got == nil || want == nil {
		return got == want
	}
	a := append([]asm.InputEndpoint(nil), got.InputEndpoints...)
	b := append([]asm.InputEndpoint(nil), want.InputEndpoints...)
	if len(a) != len(b) {
		return false
	}
	sort.Slice(a, func(i, j int) bool { return a[i].Name < a[j].Name })
	sort.Slice(b, func(i, j int) bool { return b[i].Name < b[j].Name })
	for i := range a {
		if a[i].Name != b[i].Name || a[i].Protocol != b[i].Protocol ||
			a[i].Port != b[i].Port || a[i].LocalPort != b[i].LocalPort {
			return false
		}
	}
	return true
}

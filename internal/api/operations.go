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

package api

// ProgramName identifies rows and audit notes written by this system, as
// opposed to resources adopted from the subscription.
const ProgramName = "Azure Formation"

// OperationName is the name of an orchestrated operation as recorded in the
// audit log. Per-resource operations are composed from a verb and a resource
// noun so the audit query endpoint can filter by verb prefix.
type OperationName string

const (
	OperationCreate                OperationName = "create"
	OperationCreateStorageAccount  OperationName = "create storage account"
	OperationCreateCloudService    OperationName = "create cloud service"
	OperationCreateVirtualMachines OperationName = "create virtual machines"
	OperationCreateDeployment      OperationName = "create deployment"
	OperationCreateVirtualMachine  OperationName = "create virtual machine"

	OperationUpdate               OperationName = "update"
	OperationUpdateVirtualMachine OperationName = "update virtual machine"

	OperationDelete               OperationName = "delete"
	OperationDeleteDeployment     OperationName = "delete deployment"
	OperationDeleteVirtualMachine OperationName = "delete virtual machine"

	OperationStop               OperationName = "stop"
	OperationStopVirtualMachine OperationName = "stop virtual machine"

	OperationStart               OperationName = "start"
	OperationStartVirtualMachine OperationName = "start virtual machine"
)

// AuditStatus is the lifecycle status of an audit record. Every operation
// writes exactly one StatusStart and exactly one terminal record.
type AuditStatus string

const (
	StatusStart AuditStatus = "start"
	StatusFail  AuditStatus = "fail"
	StatusEnd   AuditStatus = "end"
)

// IsTerminal returns true for the statuses that close an operation.
func (s AuditStatus) IsTerminal() bool {
	return s == StatusFail || s == StatusEnd
}

// ResourceStatus is the persisted status of a mirrored provider resource.
type ResourceStatus string

const (
	ResourceStatusRunning ResourceStatus = "Running"
	ResourceStatusStopped ResourceStatus = "Stopped"
	ResourceStatusDeleted ResourceStatus = "Deleted"
)

// RoleInstanceStatus is the provider-side status of a role instance.
type RoleInstanceStatus string

const (
	RoleInstanceStatusReadyRole          RoleInstanceStatus = "ReadyRole"
	RoleInstanceStatusStoppedVM          RoleInstanceStatus = "StoppedVM"
	RoleInstanceStatusStoppedDeallocated RoleInstanceStatus = "StoppedDeallocated"
)

// StopAction selects how a virtual machine is stopped. ActionStopped keeps
// the stopped VM allocated (and billed); ActionStoppedDeallocated releases
// its compute resources.
type StopAction string

const (
	ActionStopped            StopAction = "Stopped"
	ActionStoppedDeallocated StopAction = "StoppedDeallocated"
)

// NeedStatus returns the role instance status a stop action drives toward.
func (a StopAction) NeedStatus() RoleInstanceStatus {
	if a == ActionStopped {
		return RoleInstanceStatusStoppedVM
	}
	return RoleInstanceStatusStoppedDeallocated
}

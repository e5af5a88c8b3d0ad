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

package database

import (
	"context"
	"errors"
)

// ErrNotFound is returned by single-row lookups when no row matches.
var ErrNotFound = errors.New("not found")

// Repository is the narrow persistence interface the engine depends on.
// Implementations carry no business logic; every mutating method commits
// atomically.
type Repository interface {
	// CreateUserInfo inserts a user and returns it with its assigned ID.
	CreateUserInfo(ctx context.Context, name, email string) (*UserInfo, error)

	// FindUserInfoByEmail fetches the most recent user with the given
	// email, or ErrNotFound.
	FindUserInfoByEmail(ctx context.Context, email string) (*UserInfo, error)

	// GetUserInfo fetches a user by ID.
	GetUserInfo(ctx context.Context, id int64) (*UserInfo, error)

	// FindCredential fetches the management credential binding a user to a
	// subscription, or ErrNotFound.
	FindCredential(ctx context.Context, userInfoID int64, subscriptionID string) (*ManagementCredential, error)

	// FindCredentialByUser fetches the user's most recent management
	// credential, or ErrNotFound.
	FindCredentialByUser(ctx context.Context, userInfoID int64) (*ManagementCredential, error)

	// CreateCredential inserts a management credential.
	CreateCredential(ctx context.Context, credential *ManagementCredential) (*ManagementCredential, error)

	// CreateTemplate inserts a template reference.
	CreateTemplate(ctx context.Context, url string, kind TemplateKind) (*Template, error)

	// GetTemplate fetches a template by ID.
	GetTemplate(ctx context.Context, id int64) (*Template, error)

	// CreateUserTemplate binds a user to a template.
	CreateUserTemplate(ctx context.Context, userInfoID, templateID int64) (*UserTemplate, error)

	// GetUserTemplate fetches a user template by ID.
	GetUserTemplate(ctx context.Context, id int64) (*UserTemplate, error)

	// CreateExperiment opens a new experiment over a user template.
	CreateExperiment(ctx context.Context, userTemplateID int64) (*Experiment, error)

	// GetExperiment fetches an experiment by ID.
	GetExperiment(ctx context.Context, id int64) (*Experiment, error)

	// AppendAuditLog appends one lifecycle record.
	AppendAuditLog(ctx context.Context, record *AuditLog) error

	// AuditLogsSince lists audit records for an experiment whose operation
	// matches the given prefix and whose ID is greater than afterID, in ID
	// order. An empty prefix matches every operation.
	AuditLogsSince(ctx context.Context, experimentID int64, operationPrefix string, afterID int64) ([]AuditLog, error)

	// GetStorageAccountByName fetches a storage account row by provider name.
	GetStorageAccountByName(ctx context.Context, name string) (*StorageAccount, error)

	// DeleteStorageAccountByName removes stale rows for a provider name.
	DeleteStorageAccountByName(ctx context.Context, name string) error

	// CreateStorageAccount inserts a storage account row.
	CreateStorageAccount(ctx context.Context, account *StorageAccount) (*StorageAccount, error)

	// GetCloudServiceByName fetches a cloud service row by provider name.
	GetCloudServiceByName(ctx context.Context, name string) (*CloudService, error)

	// DeleteCloudServiceByName removes stale rows for a provider name.
	DeleteCloudServiceByName(ctx context.Context, name string) error

	// CreateCloudService inserts a cloud service row.
	CreateCloudService(ctx context.Context, service *CloudService) (*CloudService, error)

	// DeleteCloudServiceCascade removes a cloud service row together with
	// its deployments, their virtual machines and their endpoints, in one
	// commit.
	DeleteCloudServiceCascade(ctx context.Context, id int64) error

	// GetDeploymentBySlot fetches a deployment row by cloud service name and slot.
	GetDeploymentBySlot(ctx context.Context, cloudServiceName, slot string) (*Deployment, error)

	// GetDeploymentByName fetches a deployment row by cloud service name and deployment name.
	GetDeploymentByName(ctx context.Context, cloudServiceName, deploymentName string) (*Deployment, error)

	// CreateDeployment inserts a deployment row.
	CreateDeployment(ctx context.Context, deployment *Deployment) (*Deployment, error)

	// DeleteDeploymentCascade removes a deployment row together with its
	// virtual machines and their endpoints, in one commit.
	DeleteDeploymentCascade(ctx context.Context, id int64) error

	// GetVirtualMachine fetches a virtual machine row by its containment path.
	GetVirtualMachine(ctx context.Context, cloudServiceName, deploymentName, name string) (*VirtualMachine, error)

	// CreateVirtualMachine inserts a virtual machine row.
	CreateVirtualMachine(ctx context.Context, vm *VirtualMachine) (*VirtualMachine, error)

	// UpdateVirtualMachineStatus sets a virtual machine row's status.
	UpdateVirtualMachineStatus(ctx context.Context, id int64, status string) error

	// UpdateVirtualMachinePrivateIP refreshes a virtual machine row's private IP.
	UpdateVirtualMachinePrivateIP(ctx context.Context, id int64, privateIP string) error

	// DeleteVirtualMachineCascade removes a virtual machine row and its
	// endpoints in one commit.
	DeleteVirtualMachineCascade(ctx context.Context, id int64) error

	// AddUnboundEndpoint pre-commits an endpoint row against a cloud
	// service before the owning virtual machine exists.
	AddUnboundEndpoint(ctx context.Context, endpoint *Endpoint) error

	// BindUnboundEndpoints attaches every unbound endpoint of a cloud
	// service to a virtual machine.
	BindUnboundEndpoints(ctx context.Context, cloudServiceID, virtualMachineID int64) error

	// RollbackUnboundEndpoints deletes the unbound endpoints of a cloud
	// service after a failed virtual machine creation.
	RollbackUnboundEndpoints(ctx context.Context, cloudServiceID int64) error

	// ListEndpoints lists the endpoints bound to a virtual machine.
	ListEndpoints(ctx context.Context, virtualMachineID int64) ([]Endpoint, error)

	// ReplaceEndpoints atomically replaces the endpoint set of a virtual
	// machine: old rows deleted, new rows inserted, single commit.
	ReplaceEndpoints(ctx context.Context, virtualMachineID int64, endpoints []Endpoint) error

	// CreateVirtualEnvironment inserts a virtual environment row.
	CreateVirtualEnvironment(ctx context.Context, environment *VirtualEnvironment) (*VirtualEnvironment, error)

	// UpdateVirtualEnvironmentStatus sets the status of the virtual
	// environment attached to a virtual machine.
	UpdateVirtualEnvironmentStatus(ctx context.Context, virtualMachineID int64, status string) error
}

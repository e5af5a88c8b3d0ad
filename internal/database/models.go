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
	"time"

	"github.com/openhackathon/azureformation/internal/api"
	"github.com/openhackathon/azureformation/internal/asm"
)

// UserInfo is a registered user.
type UserInfo struct {
	ID            int64     `db:"id"`
	Name          string    `db:"name"`
	Email         string    `db:"email"`
	CreateTime    time.Time `db:"create_time"`
	LastLoginTime time.Time `db:"last_login_time"`
}

// ManagementCredential links a user to a subscription and the on-disk
// management certificate pair materialized at registration.
type ManagementCredential struct {
	ID             int64     `db:"id"`
	UserInfoID     int64     `db:"user_info_id"`
	SubscriptionID string    `db:"subscription_id"`
	ManagementHost string    `db:"management_host"`
	PEMPath        string    `db:"pem_path"`
	CertPath       string    `db:"cert_path"`
	CreateTime     time.Time `db:"create_time"`
	LastModifyTime time.Time `db:"last_modify_time"`
}

// TemplateKind tags a template document's intent.
type TemplateKind string

const (
	TemplateKindCreate TemplateKind = "create"
	TemplateKindUpdate TemplateKind = "update"
)

// Template is a stored reference to a template document.
type Template struct {
	ID             int64        `db:"id"`
	URL            string       `db:"url"`
	Kind           TemplateKind `db:"kind"`
	CreateTime     time.Time    `db:"create_time"`
	LastModifyTime time.Time    `db:"last_modify_time"`
}

// UserTemplate binds a user to a submitted template.
type UserTemplate struct {
	ID             int64     `db:"id"`
	UserInfoID     int64     `db:"user_info_id"`
	TemplateID     int64     `db:"template_id"`
	CreateTime     time.Time `db:"create_time"`
	LastModifyTime time.Time `db:"last_modify_time"`
}

// Experiment is a live provisioning instance of a user template and the
// correlation key for audit records and provisioned resources.
type Experiment struct {
	ID             int64     `db:"id"`
	UserTemplateID int64     `db:"user_template_id"`
	Status         string    `db:"status"`
	CreateTime     time.Time `db:"create_time"`
	LastModifyTime time.Time `db:"last_modify_time"`
}

// AuditLog is one append-only operation lifecycle record.
type AuditLog struct {
	ID           int64             `db:"id"`
	ExperimentID int64             `db:"experiment_id"`
	Operation    api.OperationName `db:"operation"`
	Status       api.AuditStatus   `db:"status"`
	Note         *string           `db:"note"`
	StepIndex    *int              `db:"step_index"`
	ExecTime     time.Time         `db:"exec_time"`
}

// StorageAccount mirrors a provider storage account we created or adopted.
type StorageAccount struct {
	ID             int64              `db:"id"`
	ExperimentID   int64              `db:"experiment_id"`
	Name           string             `db:"name"`
	Description    string             `db:"description"`
	Label          string             `db:"label"`
	Location       string             `db:"location"`
	Status         api.ResourceStatus `db:"status"`
	CreatedByUs    bool               `db:"created_by_us"`
	CreateTime     time.Time          `db:"create_time"`
	LastModifyTime time.Time          `db:"last_modify_time"`
}

// CloudService mirrors a provider hosted service.
type CloudService struct {
	ID             int64              `db:"id"`
	ExperimentID   int64              `db:"experiment_id"`
	Name           string             `db:"name"`
	Label          string             `db:"label"`
	Location       string             `db:"location"`
	Status         api.ResourceStatus `db:"status"`
	CreatedByUs    bool               `db:"created_by_us"`
	CreateTime     time.Time          `db:"create_time"`
	LastModifyTime time.Time          `db:"last_modify_time"`
}

// Deployment mirrors a provider deployment under a cloud service slot.
type Deployment struct {
	ID               int64              `db:"id"`
	CloudServiceID   int64              `db:"cloud_service_id"`
	ExperimentID     int64              `db:"experiment_id"`
	CloudServiceName string             `db:"cloud_service_name"`
	Name             string             `db:"name"`
	Slot             asm.DeploymentSlot `db:"slot"`
	Status           api.ResourceStatus `db:"status"`
	CreatedByUs      bool               `db:"created_by_us"`
	CreateTime       time.Time          `db:"create_time"`
	LastModifyTime   time.Time          `db:"last_modify_time"`
}

// VirtualMachine mirrors a provider role. A row exists only when its
// containing Deployment and CloudService rows exist.
type VirtualMachine struct {
	ID               int64     `db:"id"`
	DeploymentID     int64     `db:"deployment_id"`
	ExperimentID     int64     `db:"experiment_id"`
	CloudServiceName string    `db:"cloud_service_name"`
	DeploymentName   string    `db:"deployment_name"`
	Name             string    `db:"name"`
	Label            string    `db:"label"`
	Status           string    `db:"status"`
	DNS              string    `db:"dns"`
	PublicIP         string    `db:"public_ip"`
	PrivateIP        string    `db:"private_ip"`
	CreatedByUs      bool      `db:"created_by_us"`
	CreateTime       time.Time `db:"create_time"`
	LastModifyTime   time.Time `db:"last_modify_time"`
}

// Endpoint is a persisted input endpoint. Rows are pre-committed against
// the cloud service before the owning virtual machine exists and bound to
// it afterwards, so VirtualMachineID is nullable in between.
type Endpoint struct {
	ID               int64  `db:"id"`
	CloudServiceID   int64  `db:"cloud_service_id"`
	VirtualMachineID *int64 `db:"virtual_machine_id"`
	Name             string `db:"name"`
	Protocol         string `db:"protocol"`
	PublicPort       int    `db:"public_port"`
	LocalPort        int    `db:"local_port"`
}

// VirtualEnvironment is the remote-access descriptor attached to a
// provisioned virtual machine.
type VirtualEnvironment struct {
	ID               int64     `db:"id"`
	ExperimentID     int64     `db:"experiment_id"`
	VirtualMachineID int64     `db:"virtual_machine_id"`
	Provider         string    `db:"provider"`
	Name             string    `db:"name"`
	Image            string    `db:"image"`
	Status           string    `db:"status"`
	RemoteProvider   string    `db:"remote_provider"`
	RemoteParas      string    `db:"remote_paras"`
	CreateTime       time.Time `db:"create_time"`
	LastModifyTime   time.Time `db:"last_modify_time"`
}

// Virtual environment statuses.
const (
	VirtualEnvironmentRunning = "Running"
	VirtualEnvironmentStopped = "Stopped"
)

// Virtual environment providers.
const (
	VirtualEnvironmentProviderAzureVM = "AzureVM"
	VirtualEnvironmentRemoteGuacamole = "Guacamole"
)

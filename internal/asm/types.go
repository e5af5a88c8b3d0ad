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

package asm

import (
	"encoding/xml"

	"github.com/openhackathon/azureformation/internal/api"
)

// RequestID is the handle of an asynchronous management operation, taken
// from the x-ms-request-id response header. Its terminal status is fetched
// by polling GetOperationStatus.
type RequestID string

// OperationState is the state of an asynchronous management operation.
type OperationState string

const (
	OperationInProgress OperationState = "InProgress"
	OperationSucceeded  OperationState = "Succeeded"
	OperationFailed     OperationState = "Failed"
)

// OperationResult is the polled status of an asynchronous operation.
type OperationResult struct {
	XMLName        xml.Name       `xml:"Operation"`
	ID             string         `xml:"ID"`
	Status         OperationState `xml:"Status"`
	HTTPStatusCode int            `xml:"HttpStatusCode"`
	Error          *ServiceError  `xml:"Error"`
}

// ServiceError is the error body the management API attaches to failed
// operations and non-2xx responses.
type ServiceError struct {
	XMLName xml.Name `xml:"Error"`
	Code    string   `xml:"Code"`
	Message string   `xml:"Message"`
}

// Subscription carries the quota counters the engine consults before
// creating storage accounts and virtual machines.
type Subscription struct {
	XMLName                xml.Name `xml:"Subscription"`
	SubscriptionID         string   `xml:"SubscriptionID"`
	MaxStorageAccounts     int      `xml:"MaxStorageAccounts"`
	CurrentStorageAccounts int      `xml:"CurrentStorageAccounts"`
	MaxCoreCount           int      `xml:"MaxCoreCount"`
	CurrentCoreCount       int      `xml:"CurrentCoreCount"`
}

// AvailableStorageAccountCount returns how many storage accounts may still
// be created under the subscription.
func (s *Subscription) AvailableStorageAccountCount() int {
	return s.MaxStorageAccounts - s.CurrentStorageAccounts
}

// AvailableCoreCount returns how many cores may still be allocated under
// the subscription.
func (s *Subscription) AvailableCoreCount() int {
	return s.MaxCoreCount - s.CurrentCoreCount
}

// DeploymentSlot is the named slot of a cloud service.
type DeploymentSlot string

const (
	SlotProduction DeploymentSlot = "Production"
	SlotStaging    DeploymentSlot = "Staging"
)

// DeploymentStatus is the provider-side status of a deployment.
type DeploymentStatus string

const (
	DeploymentStatusRunning   DeploymentStatus = "Running"
	DeploymentStatusSuspended DeploymentStatus = "Suspended"
	DeploymentStatusDeploying DeploymentStatus = "Deploying"
	DeploymentStatusDeleting  DeploymentStatus = "Deleting"
)

// Deployment is a provider-level container of role instances under a named
// slot of a cloud service.
type Deployment struct {
	XMLName          xml.Name         `xml:"Deployment"`
	Name             string           `xml:"Name"`
	DeploymentSlot   DeploymentSlot   `xml:"DeploymentSlot"`
	Status           DeploymentStatus `xml:"Status"`
	Label            string           `xml:"Label"`
	URL              string           `xml:"Url"`
	RoleInstances    []RoleInstance   `xml:"RoleInstanceList>RoleInstance"`
	Roles            []Role           `xml:"RoleList>Role"`
	VirtualNetworkID string           `xml:"VirtualNetworkName"`
}

// RoleInstanceStatus reports the instance status of a named role, or ""
// when the deployment holds no instance by that name.
func (d *Deployment) RoleInstanceStatus(roleName string) api.RoleInstanceStatus {
	for _, instance := range d.RoleInstances {
		if instance.InstanceName == roleName {
			return instance.InstanceStatus
		}
	}
	return ""
}

// RoleInstancePrivateIP reports the private IP of a named role instance,
// or "" when the deployment holds no instance by that name.
func (d *Deployment) RoleInstancePrivateIP(roleName string) string {
	for _, instance := range d.RoleInstances {
		if instance.InstanceName == roleName {
			return instance.IPAddress
		}
	}
	return ""
}

// RoleInstance is the runtime view of a single virtual machine inside a
// deployment.
type RoleInstance struct {
	RoleName          string                 `xml:"RoleName"`
	InstanceName      string                 `xml:"InstanceName"`
	InstanceStatus    api.RoleInstanceStatus `xml:"InstanceStatus"`
	InstanceSize      string                 `xml:"InstanceSize"`
	IPAddress         string                 `xml:"IpAddress"`
	InstanceEndpoints []InstanceEndpoint     `xml:"InstanceEndpoints>InstanceEndpoint"`
}

// InstanceEndpoint is a provisioned endpoint on a role instance, including
// the public virtual IP assigned by the provider.
type InstanceEndpoint struct {
	Name       string `xml:"Name"`
	VIP        string `xml:"Vip"`
	PublicPort int    `xml:"PublicPort"`
	LocalPort  int    `xml:"LocalPort"`
	Protocol   string `xml:"Protocol"`
}

// Role is the configured view of a single virtual machine.
type Role struct {
	RoleName          string             `xml:"RoleName"`
	RoleType          string             `xml:"RoleType"`
	RoleSize          string             `xml:"RoleSize"`
	VMImageName       string             `xml:"VMImageName,omitempty"`
	OSVirtualHardDisk *OSVirtualHardDisk `xml:"OSVirtualHardDisk"`
	ConfigurationSets []ConfigurationSet `xml:"ConfigurationSets>ConfigurationSet"`
}

// NetworkConfiguration returns the role's network configuration set, or nil.
func (r *Role) NetworkConfiguration() *ConfigurationSet {
	for i := range r.ConfigurationSets {
		if r.ConfigurationSets[i].ConfigurationSetType == ConfigurationSetTypeNetwork {
			return &r.ConfigurationSets[i]
		}
	}
	return nil
}

// OSVirtualHardDisk locates the OS disk of a role created from a platform
// or user image.
type OSVirtualHardDisk struct {
	SourceImageName string `xml:"SourceImageName,omitempty"`
	MediaLink       string `xml:"MediaLink,omitempty"`
	OS              string `xml:"OS,omitempty"`
}

const (
	// ConfigurationSetTypeNetwork marks a ConfigurationSet carrying input
	// endpoints rather than provisioning configuration.
	ConfigurationSetTypeNetwork = "NetworkConfiguration"

	ConfigurationSetTypeLinuxProvisioning   = "LinuxProvisioningConfiguration"
	ConfigurationSetTypeWindowsProvisioning = "WindowsProvisioningConfiguration"
)

// ConfigurationSet is either a provisioning configuration or the network
// configuration of a role.
type ConfigurationSet struct {
	ConfigurationSetType string          `xml:"ConfigurationSetType"`
	ComputerName         string          `xml:"ComputerName,omitempty"`
	HostName             string          `xml:"HostName,omitempty"`
	UserName             string          `xml:"UserName,omitempty"`
	UserPassword         string          `xml:"UserPassword,omitempty"`
	AdminUserName        string          `xml:"AdminUsername,omitempty"`
	AdminPassword        string          `xml:"AdminPassword,omitempty"`
	InputEndpoints       []InputEndpoint `xml:"InputEndpoints>InputEndpoint"`
}

// InputEndpoint is a (public port -> local port, protocol) mapping on a
// role's network configuration.
type InputEndpoint struct {
	Name      string `xml:"Name"`
	Protocol  string `xml:"Protocol"`
	Port      int    `xml:"Port"`
	LocalPort int    `xml:"LocalPort"`
}

// NewNetworkConfiguration builds a network ConfigurationSet from an ordered
// endpoint list.
func NewNetworkConfiguration(endpoints []InputEndpoint) *ConfigurationSet {
	return &ConfigurationSet{
		ConfigurationSetType: ConfigurationSetTypeNetwork,
		InputEndpoints:       endpoints,
	}
}

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
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/openhackathon/azureformation/internal/api"
	"github.com/openhackathon/azureformation/internal/asm"
)

// Document is the raw template JSON. A template describes one experiment:
// one storage account, one container, one cloud service, one deployment and
// an ordered list of virtual environments.
type Document struct {
	ExprName            string               `json:"expr_name" validate:"required"`
	StorageAccount      StorageAccountSpec   `json:"storage_account" validate:"required"`
	Container           string               `json:"container" validate:"required"`
	CloudService        CloudServiceSpec     `json:"cloud_service" validate:"required"`
	Deployment          DeploymentSpec       `json:"deployment" validate:"required"`
	VirtualEnvironments []VirtualEnvironment `json:"virtual_environments" validate:"required,min=1,dive"`
}

// StorageAccountSpec names the storage account backing the experiment.
type StorageAccountSpec struct {
	ServiceName string `json:"service_name" validate:"required"`
	Description string `json:"description"`
	Label       string `json:"label"`
	Location    string `json:"location" validate:"required"`
}

// CloudServiceSpec names the hosted service containing the deployment.
type CloudServiceSpec struct {
	ServiceName string `json:"service_name" validate:"required"`
	Label       string `json:"label"`
	Location    string `json:"location" validate:"required"`
}

// DeploymentSpec names the deployment and its slot.
type DeploymentSpec struct {
	DeploymentName string `json:"deployment_name" validate:"required"`
	DeploymentSlot string `json:"deployment_slot" validate:"required,oneof=Production Staging production staging"`
}

// VirtualEnvironment describes one virtual machine of the topology.
type VirtualEnvironment struct {
	Provider          string                 `json:"provider"`
	RoleName          string                 `json:"role_name" validate:"required"`
	RoleSize          string                 `json:"role_size" validate:"required"`
	VMImageName       string                 `json:"vm_image_name"`
	OSVirtualHardDisk *OSVirtualHardDiskSpec `json:"os_virtual_hard_disk"`
	SystemConfig      SystemConfigSpec       `json:"system_config"`
	NetworkConfig     NetworkConfigSpec      `json:"network_config" validate:"required"`
	Remote            *RemoteSpec            `json:"remote"`
}

// OSVirtualHardDiskSpec locates the OS disk for roles not created from a
// VM image.
type OSVirtualHardDiskSpec struct {
	SourceImageName string `json:"source_image_name"`
	MediaLink       string `json:"media_link"`
	OS              string `json:"os"`
}

// SystemConfigSpec is the provisioning configuration of a role.
type SystemConfigSpec struct {
	OSFamily     string `json:"os_family"`
	Hostname     string `json:"hostname"`
	UserName     string `json:"user_name"`
	UserPassword string `json:"user_password"`
}

// OS family names accepted in system_config.
const (
	OSFamilyWindows = "Windows"
	OSFamilyLinux   = "Linux"
)

// NetworkConfigSpec carries the ordered input endpoint list of a role.
type NetworkConfigSpec struct {
	ConfigurationSetType string         `json:"configuration_set_type" validate:"required,eq=NetworkConfiguration"`
	InputEndpoints       []EndpointSpec `json:"input_endpoints" validate:"dive"`
}

// EndpointSpec is one requested input endpoint.
type EndpointSpec struct {
	Name      string `json:"name" validate:"required"`
	Protocol  string `json:"protocol" validate:"required"`
	Port      int    `json:"port" validate:"required"`
	LocalPort int    `json:"local_port" validate:"required"`
}

// RemoteSpec configures remote access to the provisioned machine.
type RemoteSpec struct {
	Provider string         `json:"provider"`
	PortName string         `json:"port_name"`
	Paras    map[string]any `json:"paras"`
}

var validate = validator.New()

// Template is a parsed and validated template document. It exposes typed
// accessors only and never mutates.
type Template struct {
	doc Document
}

// Load reads and parses the template document at path.
func Load(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, api.NewError(api.ErrorKindInvalidTemplate, "%s not exist", path)
	}
	return Parse(data)
}

// Parse parses and validates a template document.
func Parse(data []byte) (*Template, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, api.NewError(api.ErrorKindInvalidTemplate, "ugly json format: %v", err)
	}
	if err := validate.Struct(doc); err != nil {
		return nil, api.NewError(api.ErrorKindInvalidTemplate, "missing required fields: %v", err)
	}
	for i, environment := range doc.VirtualEnvironments {
		if environment.VMImageName == "" && environment.OSVirtualHardDisk == nil {
			return nil, api.NewError(api.ErrorKindInvalidTemplate,
				"virtual environment %d: either vm_image_name or os_virtual_hard_disk is required", i)
		}
	}
	return &Template{doc: doc}, nil
}

// ExprName returns the experiment name.
func (t *Template) ExprName() string {
	return t.doc.ExprName
}

// StorageAccount returns the storage account spec.
func (t *Template) StorageAccount() StorageAccountSpec {
	return t.doc.StorageAccount
}

// Container returns the blob container name.
func (t *Template) Container() string {
	return t.doc.Container
}

// CloudService returns the cloud service spec.
func (t *Template) CloudService() CloudServiceSpec {
	return t.doc.CloudService
}

// DeploymentName returns the deployment name used when this engine creates
// the deployment itself.
func (t *Template) DeploymentName() string {
	return t.doc.Deployment.DeploymentName
}

// DeploymentSlot returns the deployment slot.
func (t *Template) DeploymentSlot() asm.DeploymentSlot {
	switch t.doc.Deployment.DeploymentSlot {
	case "staging", string(asm.SlotStaging):
		return asm.SlotStaging
	default:
		return asm.SlotProduction
	}
}

// Units returns one Unit per virtual environment, in template order.
func (t *Template) Units() []Unit {
	units := make([]Unit, len(t.doc.VirtualEnvironments))
	for i := range t.doc.VirtualEnvironments {
		units[i] = Unit{template: t, environment: &t.doc.VirtualEnvironments[i]}
	}
	return units
}

// Unit is the typed accessor over one virtual environment.
type Unit struct {
	template    *Template
	environment *VirtualEnvironment
}

// RoleName returns the role name base from the template.
func (u Unit) RoleName() string {
	return u.environment.RoleName
}

// EffectiveRoleName appends the experiment ID to the role name base. This
// is the uniqueness barrier when one user provisions multiple experiments
// from the same template.
func (u Unit) EffectiveRoleName(experimentID int64) string {
	return fmt.Sprintf("%s-%d", u.environment.RoleName, experimentID)
}

// RoleSize returns the requested role size.
func (u Unit) RoleSize() string {
	return u.environment.RoleSize
}

// RoleLabel returns the label applied to the role and its deployment.
func (u Unit) RoleLabel() string {
	return u.environment.RoleName
}

// IsVMImage reports whether the role is created from a VM image. Such
// roles carry the image's own network configuration, so the template's
// endpoints are applied with a follow-up network update.
func (u Unit) IsVMImage() bool {
	return u.environment.VMImageName != ""
}

// VMImageName returns the VM image name, or "".
func (u Unit) VMImageName() string {
	return u.environment.VMImageName
}

// ImageName returns whichever image the role boots from.
func (u Unit) ImageName() string {
	if u.environment.VMImageName != "" {
		return u.environment.VMImageName
	}
	if u.environment.OSVirtualHardDisk != nil {
		return u.environment.OSVirtualHardDisk.SourceImageName
	}
	return ""
}

// OSVirtualHardDisk builds the OS disk description, or nil for VM images.
func (u Unit) OSVirtualHardDisk() *asm.OSVirtualHardDisk {
	disk := u.environment.OSVirtualHardDisk
	if disk == nil {
		return nil
	}
	return &asm.OSVirtualHardDisk{
		SourceImageName: disk.SourceImageName,
		MediaLink:       disk.MediaLink,
		OS:              disk.OS,
	}
}

// SystemConfig builds the provisioning configuration set.
func (u Unit) SystemConfig() *asm.ConfigurationSet {
	config := u.environment.SystemConfig
	if config.OSFamily == OSFamilyWindows {
		return &asm.ConfigurationSet{
			ConfigurationSetType: asm.ConfigurationSetTypeWindowsProvisioning,
			ComputerName:         config.Hostname,
			AdminUserName:        config.UserName,
			AdminPassword:        config.UserPassword,
		}
	}
	return &asm.ConfigurationSet{
		ConfigurationSetType: asm.ConfigurationSetTypeLinuxProvisioning,
		HostName:             config.Hostname,
		UserName:             config.UserName,
		UserPassword:         config.UserPassword,
	}
}

// Endpoints returns the ordered endpoint list from the template.
func (u Unit) Endpoints() []EndpointSpec {
	return u.environment.NetworkConfig.InputEndpoints
}

// NetworkConfig builds the network configuration set. Requested public
// ports that collide with ports already assigned on the cloud service are
// moved to the next free port, preserving template order.
func (u Unit) NetworkConfig(assignedPorts []int) *asm.ConfigurationSet {
	assigned := map[int]struct{}{}
	for _, port := range assignedPorts {
		assigned[port] = struct{}{}
	}

	endpoints := make([]asm.InputEndpoint, 0, len(u.environment.NetworkConfig.InputEndpoints))
	for _, endpoint := range u.environment.NetworkConfig.InputEndpoints {
		port := endpoint.Port
		for {
			if _, taken := assigned[port]; !taken {
				break
			}
			port++
		}
		assigned[port] = struct{}{}
		endpoints = append(endpoints, asm.InputEndpoint{
			Name:      endpoint.Name,
			Protocol:  endpoint.Protocol,
			Port:      port,
			LocalPort: endpoint.LocalPort,
		})
	}
	return asm.NewNetworkConfiguration(endpoints)
}

// RemoteProvider returns the remote-access provider name, or "".
func (u Unit) RemoteProvider() string {
	if u.environment.Remote == nil {
		return ""
	}
	return u.environment.Remote.Provider
}

// RemotePortName returns the endpoint name remote access attaches to, or "".
func (u Unit) RemotePortName() string {
	if u.environment.Remote == nil {
		return ""
	}
	return u.environment.Remote.PortName
}

// RemoteParas merges the template's remote parameters with the machine's
// connection coordinates.
func (u Unit) RemoteParas(name, publicIP string, port int) map[string]any {
	paras := map[string]any{
		"name": name,
		"host": publicIP,
		"port": port,
	}
	if u.environment.Remote != nil {
		for key, value := range u.environment.Remote.Paras {
			paras[key] = value
		}
	}
	return paras
}

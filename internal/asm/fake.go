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
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/openhackathon/azureformation/internal/api"
)

// FakeClient is an in-memory ClientSpec for tests. Mutations apply
// immediately and every returned request reports Succeeded unless the test
// scripts a failure through Errors or AsyncFailures. Each call is appended
// to Calls so tests can assert which provider operations were issued.
type FakeClient struct {
	mu sync.Mutex

	Subscription     Subscription
	StorageAccounts  map[string]bool
	CloudServices    map[string]bool
	UnavailableNames map[string]bool

	// Deployments is keyed "service/name"; Slots maps "service/slot" to a
	// deployment name; Roles is keyed "service/deployment/role".
	Deployments map[string]*Deployment
	Slots       map[string]string
	Roles       map[string]*Role

	// Errors scripts a synchronous error per method name.
	Errors map[string]error
	// AsyncFailures scripts a Failed terminal for requests issued by the
	// named method.
	AsyncFailures map[string]bool

	Calls []string

	requests    map[RequestID]*OperationResult
	scriptedOps map[RequestID][]OperationState
	nextRequest int
}

var _ ClientSpec = &FakeClient{}

// NewFakeClient builds an empty fake with generous quota.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		Subscription: Subscription{
			MaxStorageAccounts: 20,
			MaxCoreCount:       20,
		},
		StorageAccounts:  map[string]bool{},
		CloudServices:    map[string]bool{},
		UnavailableNames: map[string]bool{},
		Deployments:      map[string]*Deployment{},
		Slots:            map[string]string{},
		Roles:            map[string]*Role{},
		Errors:           map[string]error{},
		AsyncFailures:    map[string]bool{},
		requests:         map[RequestID]*OperationResult{},
		scriptedOps:      map[RequestID][]OperationState{},
	}
}

// ScriptOperation registers a request whose polled status advances through
// the given states, holding the last one.
func (f *FakeClient) ScriptOperation(requestID RequestID, states ...OperationState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scriptedOps[requestID] = states
}

func (f *FakeClient) record(format string, args ...any) {
	f.Calls = append(f.Calls, fmt.Sprintf(format, args...))
}

func (f *FakeClient) scripted(method string) error {
	return f.Errors[method]
}

func (f *FakeClient) newRequest(method string) RequestID {
	f.nextRequest++
	id := RequestID(fmt.Sprintf("req-%d", f.nextRequest))
	status := OperationSucceeded
	if f.AsyncFailures[method] {
		status = OperationFailed
	}
	result := &OperationResult{ID: string(id), Status: status}
	if status == OperationFailed {
		result.Error = &ServiceError{Code: "InternalError", Message: "operation failed"}
	}
	f.requests[id] = result
	return id
}

func (f *FakeClient) GetSubscription(ctx context.Context) (*Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.scripted("GetSubscription"); err != nil {
		return nil, err
	}
	subscription := f.Subscription
	return &subscription, nil
}

func (f *FakeClient) StorageAccountExists(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.StorageAccounts[name], f.scripted("StorageAccountExists")
}

func (f *FakeClient) CheckStorageAccountNameAvailable(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.UnavailableNames[name], f.scripted("CheckStorageAccountNameAvailable")
}

func (f *FakeClient) CreateStorageAccount(ctx context.Context, name, description, label, location string) (RequestID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateStorageAccount %s", name)
	if err := f.scripted("CreateStorageAccount"); err != nil {
		return "", err
	}
	f.StorageAccounts[name] = true
	f.Subscription.CurrentStorageAccounts++
	return f.newRequest("CreateStorageAccount"), nil
}

func (f *FakeClient) CloudServiceExists(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.CloudServices[name], f.scripted("CloudServiceExists")
}

func (f *FakeClient) CheckCloudServiceNameAvailable(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.UnavailableNames[name], f.scripted("CheckCloudServiceNameAvailable")
}

func (f *FakeClient) CreateCloudService(ctx context.Context, name, label, location string) (RequestID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateCloudService %s", name)
	if err := f.scripted("CreateCloudService"); err != nil {
		return "", err
	}
	f.CloudServices[name] = true
	return f.newRequest("CreateCloudService"), nil
}

func (f *FakeClient) DeploymentExistsBySlot(ctx context.Context, serviceName string, slot DeploymentSlot) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.Slots[serviceName+"/"+string(slot)]
	return ok, f.scripted("DeploymentExistsBySlot")
}

func (f *FakeClient) GetDeploymentNameBySlot(ctx context.Context, serviceName string, slot DeploymentSlot) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, ok := f.Slots[serviceName+"/"+string(slot)]
	if !ok {
		return "", &Error{StatusCode: http.StatusNotFound, Code: ErrorCodeResourceNotFound, Message: "deployment slot not found"}
	}
	return name, nil
}

func (f *FakeClient) GetDeployment(ctx context.Context, serviceName, deploymentName string) (*Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getDeploymentLocked(serviceName, deploymentName)
}

func (f *FakeClient) getDeploymentLocked(serviceName, deploymentName string) (*Deployment, error) {
	deployment, ok := f.Deployments[serviceName+"/"+deploymentName]
	if !ok {
		return nil, &Error{StatusCode: http.StatusNotFound, Code: ErrorCodeResourceNotFound, Message: "deployment not found"}
	}
	clone := *deployment
	return &clone, nil
}

func (f *FakeClient) RoleExists(ctx context.Context, serviceName, deploymentName, roleName string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.Roles[roleKey(serviceName, deploymentName, roleName)]
	return ok, f.scripted("RoleExists")
}

func (f *FakeClient) GetRole(ctx context.Context, serviceName, deploymentName, roleName string) (*Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	role, ok := f.Roles[roleKey(serviceName, deploymentName, roleName)]
	if !ok {
		return nil, &Error{StatusCode: http.StatusNotFound, Code: ErrorCodeResourceNotFound, Message: "role not found"}
	}
	clone := *role
	return &clone, nil
}

func (f *FakeClient) CreateVirtualMachineDeployment(ctx context.Context, serviceName string, params CreateDeploymentParams) (RequestID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateVirtualMachineDeployment %s/%s", serviceName, params.Name)
	if err := f.scripted("CreateVirtualMachineDeployment"); err != nil {
		return "", err
	}
	deployment := &Deployment{
		Name:           params.Name,
		DeploymentSlot: params.Slot,
		Status:         DeploymentStatusRunning,
	}
	f.Deployments[serviceName+"/"+params.Name] = deployment
	f.Slots[serviceName+"/"+string(params.Slot)] = params.Name
	f.addRoleLocked(serviceName, params.Name, params.Role)
	return f.newRequest("CreateVirtualMachineDeployment"), nil
}

func (f *FakeClient) AddRole(ctx context.Context, serviceName, deploymentName string, params AddRoleParams) (RequestID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("AddRole %s/%s/%s", serviceName, deploymentName, params.RoleName)
	if err := f.scripted("AddRole"); err != nil {
		return "", err
	}
	f.addRoleLocked(serviceName, deploymentName, params)
	return f.newRequest("AddRole"), nil
}

func (f *FakeClient) addRoleLocked(serviceName, deploymentName string, params AddRoleParams) {
	role := &Role{
		RoleName:          params.RoleName,
		RoleType:          roleTypePersistentVM,
		RoleSize:          params.RoleSize,
		VMImageName:       params.VMImageName,
		OSVirtualHardDisk: params.OSVirtualHardDisk,
	}
	if params.NetworkConfig != nil {
		role.ConfigurationSets = []ConfigurationSet{*params.NetworkConfig}
	}
	f.Roles[roleKey(serviceName, deploymentName, params.RoleName)] = role

	deployment := f.Deployments[serviceName+"/"+deploymentName]
	deployment.Roles = append(deployment.Roles, *role)
	deployment.RoleInstances = append(deployment.RoleInstances, RoleInstance{
		RoleName:       params.RoleName,
		InstanceName:   params.RoleName,
		InstanceStatus: api.RoleInstanceStatusReadyRole,
		InstanceSize:   params.RoleSize,
		IPAddress:      fmt.Sprintf("10.0.0.%d", len(deployment.RoleInstances)+4),
	})
}

func (f *FakeClient) UpdateRole(ctx context.Context, serviceName, deploymentName, roleName string, network *ConfigurationSet, roleSize string) (RequestID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("UpdateRole %s/%s/%s", serviceName, deploymentName, roleName)
	if err := f.scripted("UpdateRole"); err != nil {
		return "", err
	}
	role, ok := f.Roles[roleKey(serviceName, deploymentName, roleName)]
	if !ok {
		return "", &Error{StatusCode: http.StatusNotFound, Code: ErrorCodeResourceNotFound, Message: "role not found"}
	}
	if roleSize != "" {
		role.RoleSize = roleSize
	}
	if network != nil {
		role.ConfigurationSets = []ConfigurationSet{*network}
	}
	return f.newRequest("UpdateRole"), nil
}

func (f *FakeClient) UpdateRoleNetwork(ctx context.Context, serviceName, deploymentName, roleName string, network *ConfigurationSet) (RequestID, error) {
	return f.UpdateRole(ctx, serviceName, deploymentName, roleName, network, "")
}

func (f *FakeClient) DeleteRole(ctx context.Context, serviceName, deploymentName, roleName string) (RequestID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DeleteRole %s/%s/%s", serviceName, deploymentName, roleName)
	if err := f.scripted("DeleteRole"); err != nil {
		return "", err
	}
	delete(f.Roles, roleKey(serviceName, deploymentName, roleName))
	if deployment, ok := f.Deployments[serviceName+"/"+deploymentName]; ok {
		deployment.RoleInstances = deleteInstance(deployment.RoleInstances, roleName)
	}
	return f.newRequest("DeleteRole"), nil
}

func (f *FakeClient) DeleteDeployment(ctx context.Context, serviceName, deploymentName string) (RequestID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DeleteDeployment %s/%s", serviceName, deploymentName)
	if err := f.scripted("DeleteDeployment"); err != nil {
		return "", err
	}
	deployment, ok := f.Deployments[serviceName+"/"+deploymentName]
	if ok {
		delete(f.Slots, serviceName+"/"+string(deployment.DeploymentSlot))
		for _, instance := range deployment.RoleInstances {
			delete(f.Roles, roleKey(serviceName, deploymentName, instance.InstanceName))
		}
	}
	delete(f.Deployments, serviceName+"/"+deploymentName)
	return f.newRequest("DeleteDeployment"), nil
}

func (f *FakeClient) StopRole(ctx context.Context, serviceName, deploymentName, roleName string, action api.StopAction) (RequestID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("StopRole %s/%s/%s %s", serviceName, deploymentName, roleName, action)
	if err := f.scripted("StopRole"); err != nil {
		return "", err
	}
	f.setInstanceStatusLocked(serviceName, deploymentName, roleName, action.NeedStatus())
	return f.newRequest("StopRole"), nil
}

func (f *FakeClient) StartRole(ctx context.Context, serviceName, deploymentName, roleName string) (RequestID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("StartRole %s/%s/%s", serviceName, deploymentName, roleName)
	if err := f.scripted("StartRole"); err != nil {
		return "", err
	}
	f.setInstanceStatusLocked(serviceName, deploymentName, roleName, api.RoleInstanceStatusReadyRole)
	return f.newRequest("StartRole"), nil
}

// SetInstanceStatus overrides a role instance's status, for arranging
// preconditions in tests.
func (f *FakeClient) SetInstanceStatus(serviceName, deploymentName, roleName string, status api.RoleInstanceStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setInstanceStatusLocked(serviceName, deploymentName, roleName, status)
}

func (f *FakeClient) setInstanceStatusLocked(serviceName, deploymentName, roleName string, status api.RoleInstanceStatus) {
	deployment, ok := f.Deployments[serviceName+"/"+deploymentName]
	if !ok {
		return
	}
	for i := range deployment.RoleInstances {
		if deployment.RoleInstances[i].InstanceName == roleName {
			deployment.RoleInstances[i].InstanceStatus = status
		}
	}
}

func (f *FakeClient) GetOperationStatus(ctx context.Context, requestID RequestID) (*OperationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.scripted("GetOperationStatus"); err != nil {
		return nil, err
	}
	if states, ok := f.scriptedOps[requestID]; ok && len(states) > 0 {
		state := states[0]
		if len(states) > 1 {
			f.scriptedOps[requestID] = states[1:]
		}
		result := &OperationResult{ID: string(requestID), Status: state}
		if state == OperationFailed {
			result.Error = &ServiceError{Code: "InternalError", Message: "operation failed"}
		}
		return result, nil
	}
	result, ok := f.requests[requestID]
	if !ok {
		return nil, &Error{StatusCode: http.StatusNotFound, Code: ErrorCodeResourceNotFound, Message: "request not found"}
	}
	clone := *result
	return &clone, nil
}

func (f *FakeClient) GetAssignedEndpointPorts(ctx context.Context, serviceName string) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.scripted("GetAssignedEndpointPorts"); err != nil {
		return nil, err
	}
	assigned := map[int]struct{}{}
	for key, role := range f.Roles {
		if !isServiceRole(key, serviceName) {
			continue
		}
		network := role.NetworkConfiguration()
		if network == nil {
			continue
		}
		for _, endpoint := range network.InputEndpoints {
			assigned[endpoint.Port] = struct{}{}
		}
	}
	ports := make([]int, 0, len(assigned))
	for port := range assigned {
		ports = append(ports, port)
	}
	return ports, nil
}

func roleKey(serviceName, deploymentName, roleName string) string {
	return serviceName + "/" + deploymentName + "/" + roleName
}

func isServiceRole(key, serviceName string) bool {
	return len(key) > len(serviceName) && key[:len(serviceName)] == serviceName && key[len(serviceName)] == '/'
}

func deleteInstance(instances []RoleInstance, roleName string) []RoleInstance {
	kept := instances[:0]
	for _, instance := range instances {
		if instance.InstanceName != roleName {
			kept = append(kept, instance)
		}
	}
	return kept
}

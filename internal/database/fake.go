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
	"sort"
	"strings"
	"sync"
	"time"
)

// FakeRepository is an in-memory Repository for tests.
type FakeRepository struct {
	mu sync.Mutex

	nextID int64

	Users               []UserInfo
	Credentials         []ManagementCredential
	Templates           []Template
	UserTemplates       []UserTemplate
	Experiments         []Experiment
	AuditLogs           []AuditLog
	StorageAccounts     []StorageAccount
	CloudServices       []CloudService
	Deployments         []Deployment
	VirtualMachines     []VirtualMachine
	Endpoints           []Endpoint
	VirtualEnvironments []VirtualEnvironment
}

var _ Repository = &FakeRepository{}

// NewFakeRepository builds an empty in-memory repository.
func NewFakeRepository() *FakeRepository {
	return &FakeRepository{}
}

func (f *FakeRepository) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *FakeRepository) CreateUserInfo(ctx context.Context, name, email string) (*UserInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := UserInfo{ID: f.id(), Name: name, Email: email, CreateTime: time.Now(), LastLoginTime: time.Now()}
	f.Users = append(f.Users, user)
	return &user, nil
}

func (f *FakeRepository) FindUserInfoByEmail(ctx context.Context, email string) (*UserInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.Users) - 1; i >= 0; i-- {
		if f.Users[i].Email == email {
			user := f.Users[i]
			return &user, nil
		}
	}
	return nil, ErrNotFound
}

func (f *FakeRepository) GetUserInfo(ctx context.Context, id int64) (*UserInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.Users {
		if f.Users[i].ID == id {
			user := f.Users[i]
			return &user, nil
		}
	}
	return nil, ErrNotFound
}

func (f *FakeRepository) FindCredential(ctx context.Context, userInfoID int64, subscriptionID string) (*ManagementCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.Credentials {
		if f.Credentials[i].UserInfoID == userInfoID && f.Credentials[i].SubscriptionID == subscriptionID {
			credential := f.Credentials[i]
			return &credential, nil
		}
	}
	return nil, ErrNotFound
}

func (f *FakeRepository) FindCredentialByUser(ctx context.Context, userInfoID int64) (*ManagementCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.Credentials) - 1; i >= 0; i-- {
		if f.Credentials[i].UserInfoID == userInfoID {
			credential := f.Credentials[i]
			return &credential, nil
		}
	}
	return nil, ErrNotFound
}

func (f *FakeRepository) CreateCredential(ctx context.Context, credential *ManagementCredential) (*ManagementCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	created := *credential
	created.ID = f.id()
	created.CreateTime = time.Now()
	created.LastModifyTime = time.Now()
	f.Credentials = append(f.Credentials, created)
	return &created, nil
}

func (f *FakeRepository) CreateTemplate(ctx context.Context, url string, kind TemplateKind) (*Template, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	template := Template{ID: f.id(), URL: url, Kind: kind, CreateTime: time.Now(), LastModifyTime: time.Now()}
	f.Templates = append(f.Templates, template)
	return &template, nil
}

func (f *FakeRepository) GetTemplate(ctx context.Context, id int64) (*Template, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.Templates {
		if f.Templates[i].ID == id {
			template := f.Templates[i]
			return &template, nil
		}
	}
	return nil, ErrNotFound
}

func (f *FakeRepository) CreateUserTemplate(ctx context.Context, userInfoID, templateID int64) (*UserTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userTemplate := UserTemplate{ID: f.id(), UserInfoID: userInfoID, TemplateID: templateID, CreateTime: time.Now(), LastModifyTime: time.Now()}
	f.UserTemplates = append(f.UserTemplates, userTemplate)
	return &userTemplate, nil
}

func (f *FakeRepository) GetUserTemplate(ctx context.Context, id int64) (*UserTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.UserTemplates {
		if f.UserTemplates[i].ID == id {
			userTemplate := f.UserTemplates[i]
			return &userTemplate, nil
		}
	}
	return nil, ErrNotFound
}

func (f *FakeRepository) CreateExperiment(ctx context.Context, userTemplateID int64) (*Experiment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	experiment := Experiment{ID: f.id(), UserTemplateID: userTemplateID, Status: "Running", CreateTime: time.Now(), LastModifyTime: time.Now()}
	f.Experiments = append(f.Experiments, experiment)
	return &experiment, nil
}

func (f *FakeRepository) GetExperiment(ctx context.Context, id int64) (*Experiment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.Experiments {
		if f.Experiments[i].ID == id {
			experiment := f.Experiments[i]
			return &experiment, nil
		}
	}
	return nil, ErrNotFound
}

func (f *FakeRepository) AppendAuditLog(ctx context.Context, record *AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	appended := *record
	appended.ID = f.id()
	appended.ExecTime = time.Now()
	f.AuditLogs = append(f.AuditLogs, appended)
	return nil
}

func (f *FakeRepository) AuditLogsSince(ctx context.Context, experimentID int64, operationPrefix string, afterID int64) ([]AuditLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var records []AuditLog
	for _, record := range f.AuditLogs {
		if record.ExperimentID == experimentID && record.ID > afterID &&
			strings.HasPrefix(string(record.Operation), operationPrefix) {
			records = append(records, record)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

func (f *FakeRepository) GetStorageAccountByName(ctx context.Context, name string) (*StorageAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.StorageAccounts) - 1; i >= 0; i-- {
		if f.StorageAccounts[i].Name == name {
			account := f.StorageAccounts[i]
			return &account, nil
		}
	}
	return nil, ErrNotFound
}

func (f *FakeRepository) DeleteStorageAccountByName(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.StorageAccounts[:0]
	for _, account := range f.StorageAccounts {
		if account.Name != name {
			kept = append(kept, account)
		}
	}
	f.StorageAccounts = kept
	return nil
}

func (f *FakeRepository) CreateStorageAccount(ctx context.Context, account *StorageAccount) (*StorageAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	created := *account
	created.ID = f.id()
	created.CreateTime = time.Now()
	created.LastModifyTime = time.Now()
	f.StorageAccounts = append(f.StorageAccounts, created)
	return &created, nil
}

func (f *FakeRepository) GetCloudServiceByName(ctx context.Context, name string) (*CloudService, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.CloudServices) - 1; i >= 0; i-- {
		if f.CloudServices[i].Name == name {
			service := f.CloudServices[i]
			return &service, nil
		}
	}
	return nil, ErrNotFound
}

func (f *FakeRepository) DeleteCloudServiceByName(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.CloudServices[:0]
	for _, service := range f.CloudServices {
		if service.Name != name {
			kept = append(kept, service)
		}
	}
	f.CloudServices = kept
	return nil
}

func (f *FakeRepository) CreateCloudService(ctx context.Context, service *CloudService) (*CloudService, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	created := *service
	created.ID = f.id()
	created.CreateTime = time.Now()
	created.LastModifyTime = time.Now()
	f.CloudServices = append(f.CloudServices, created)
	return &created, nil
}

func (f *FakeRepository) DeleteCloudServiceCascade(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.CloudServices[:0]
	found := false
	for _, service := range f.CloudServices {
		if service.ID == id {
			found = true
			continue
		}
		kept = append(kept, service)
	}
	f.CloudServices = kept
	if !found {
		return ErrNotFound
	}

	var deploymentIDs []int64
	keptDeployments := f.Deployments[:0]
	for _, deployment := range f.Deployments {
		if deployment.CloudServiceID == id {
			deploymentIDs = append(deploymentIDs, deployment.ID)
			continue
		}
		keptDeployments = append(keptDeployments, deployment)
	}
	f.Deployments = keptDeployments
	for _, deploymentID := range deploymentIDs {
		f.deleteDeploymentChildrenLocked(deploymentID)
	}

	keptEndpoints := f.Endpoints[:0]
	for _, endpoint := range f.Endpoints {
		if endpoint.CloudServiceID != id {
			keptEndpoints = append(keptEndpoints, endpoint)
		}
	}
	f.Endpoints = keptEndpoints
	return nil
}

func (f *FakeRepository) GetDeploymentBySlot(ctx context.Context, cloudServiceName, slot string) (*Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.Deployments) - 1; i >= 0; i-- {
		if f.Deployments[i].CloudServiceName == cloudServiceName && string(f.Deployments[i].Slot) == slot {
			deployment := f.Deployments[i]
			return &deployment, nil
		}
	}
	return nil, ErrNotFound
}

func (f *FakeRepository) GetDeploymentByName(ctx context.Context, cloudServiceName, deploymentName string) (*Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.Deployments) - 1; i >= 0; i-- {
		if f.Deployments[i].CloudServiceName == cloudServiceName && f.Deployments[i].Name == deploymentName {
			deployment := f.Deployments[i]
			return &deployment, nil
		}
	}
	return nil, ErrNotFound
}

func (f *FakeRepository) CreateDeployment(ctx context.Context, deployment *Deployment) (*Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	created := *deployment
	created.ID = f.id()
	created.CreateTime = time.Now()
	created.LastModifyTime = time.Now()
	f.Deployments = append(f.Deployments, created)
	return &created, nil
}

func (f *FakeRepository) DeleteDeploymentCascade(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.Deployments[:0]
	found := false
	for _, deployment := range f.Deployments {
		if deployment.ID == id {
			found = true
			continue
		}
		kept = append(kept, deployment)
	}
	f.Deployments = kept
	if !found {
		return ErrNotFound
	}
	f.deleteDeploymentChildrenLocked(id)
	return nil
}

func (f *FakeRepository) deleteDeploymentChildrenLocked(deploymentID int64) {
	var vmIDs []int64
	keptVMs := f.VirtualMachines[:0]
	for _, vm := range f.VirtualMachines {
		if vm.DeploymentID == deploymentID {
			vmIDs = append(vmIDs, vm.ID)
			continue
		}
		keptVMs = append(keptVMs, vm)
	}
	f.VirtualMachines = keptVMs
	for _, vmID := range vmIDs {
		f.deleteVirtualMachineChildrenLocked(vmID)
	}
}

func (f *FakeRepository) deleteVirtualMachineChildrenLocked(vmID int64) {
	keptEndpoints := f.Endpoints[:0]
	for _, endpoint := range f.Endpoints {
		if endpoint.VirtualMachineID == nil || *endpoint.VirtualMachineID != vmID {
			keptEndpoints = append(keptEndpoints, endpoint)
		}
	}
	f.Endpoints = keptEndpoints

	keptEnvironments := f.VirtualEnvironments[:0]
	for _, environment := range f.VirtualEnvironments {
		if environment.VirtualMachineID != vmID {
			keptEnvironments = append(keptEnvironments, environment)
		}
	}
	f.VirtualEnvironments = keptEnvironments
}

func (f *FakeRepository) GetVirtualMachine(ctx context.Context, cloudServiceName, deploymentName, name string) (*VirtualMachine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.VirtualMachines) - 1; i >= 0; i-- {
		vm := f.VirtualMachines[i]
		if vm.CloudServiceName == cloudServiceName && vm.DeploymentName == deploymentName && vm.Name == name {
			return &vm, nil
		}
	}
	return nil, ErrNotFound
}

func (f *FakeRepository) CreateVirtualMachine(ctx context.Context, vm *VirtualMachine) (*VirtualMachine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	created := *vm
	created.ID = f.id()
	created.CreateTime = time.Now()
	created.LastModifyTime = time.Now()
	f.VirtualMachines = append(f.VirtualMachines, created)
	return &created, nil
}

func (f *FakeRepository) UpdateVirtualMachineStatus(ctx context.Context, id int64, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.VirtualMachines {
		if f.VirtualMachines[i].ID == id {
			f.VirtualMachines[i].Status = status
			f.VirtualMachines[i].LastModifyTime = time.Now()
			return nil
		}
	}
	return ErrNotFound
}

func (f *FakeRepository) UpdateVirtualMachinePrivateIP(ctx context.Context, id int64, privateIP string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.VirtualMachines {
		if f.VirtualMachines[i].ID == id {
			f.VirtualMachines[i].PrivateIP = privateIP
			f.VirtualMachines[i].LastModifyTime = time.Now()
			return nil
		}
	}
	return ErrNotFound
}

func (f *FakeRepository) DeleteVirtualMachineCascade(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.VirtualMachines[:0]
	found := false
	for _, vm := range f.VirtualMachines {
		if vm.ID == id {
			found = true
			continue
		}
		kept = append(kept, vm)
	}
	f.VirtualMachines = kept
	if !found {
		return ErrNotFound
	}
	f.deleteVirtualMachineChildrenLocked(id)
	return nil
}

func (f *FakeRepository) AddUnboundEndpoint(ctx context.Context, endpoint *Endpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	added := *endpoint
	added.ID = f.id()
	added.VirtualMachineID = nil
	f.Endpoints = append(f.Endpoints, added)
	return nil
}

func (f *FakeRepository) BindUnboundEndpoints(ctx context.Context, cloudServiceID, virtualMachineID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.Endpoints {
		if f.Endpoints[i].CloudServiceID == cloudServiceID && f.Endpoints[i].VirtualMachineID == nil {
			vmID := virtualMachineID
			f.Endpoints[i].VirtualMachineID = &vmID
		}
	}
	return nil
}

func (f *FakeRepository) RollbackUnboundEndpoints(ctx context.Context, cloudServiceID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.Endpoints[:0]
	for _, endpoint := range f.Endpoints {
		if endpoint.CloudServiceID == cloudServiceID && endpoint.VirtualMachineID == nil {
			continue
		}
		kept = append(kept, endpoint)
	}
	f.Endpoints = kept
	return nil
}

func (f *FakeRepository) ListEndpoints(ctx context.Context, virtualMachineID int64) ([]Endpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var endpoints []Endpoint
	for _, endpoint := range f.Endpoints {
		if endpoint.VirtualMachineID != nil && *endpoint.VirtualMachineID == virtualMachineID {
			endpoints = append(endpoints, endpoint)
		}
	}
	return endpoints, nil
}

func (f *FakeRepository) ReplaceEndpoints(ctx context.Context, virtualMachineID int64, endpoints []Endpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.Endpoints[:0]
	for _, endpoint := range f.Endpoints {
		if endpoint.VirtualMachineID != nil && *endpoint.VirtualMachineID == virtualMachineID {
			continue
		}
		kept = append(kept, endpoint)
	}
	f.Endpoints = kept
	for _, endpoint := range endpoints {
		added := endpoint
		added.ID = f.id()
		vmID := virtualMachineID
		added.VirtualMachineID = &vmID
		f.Endpoints = append(f.Endpoints, added)
	}
	return nil
}

func (f *FakeRepository) CreateVirtualEnvironment(ctx context.Context, environment *VirtualEnvironment) (*VirtualEnvironment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	created := *environment
	created.ID = f.id()
	created.CreateTime = time.Now()
	created.LastModifyTime = time.Now()
	f.VirtualEnvironments = append(f.VirtualEnvironments, created)
	return &created, nil
}

func (f *FakeRepository) UpdateVirtualEnvironmentStatus(ctx context.Context, virtualMachineID int64, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.VirtualEnvironments {
		if f.VirtualEnvironments[i].VirtualMachineID == virtualMachineID {
			f.VirtualEnvironments[i].Status = status
			f.VirtualEnvironments[i].LastModifyTime = time.Now()
		}
	}
	return nil
}

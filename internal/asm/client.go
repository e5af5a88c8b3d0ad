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
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/openhackathon/azureformation/internal/api"
)

const (
	apiVersion         = "2014-06-01"
	headerRequestID    = "x-ms-request-id"
	headerVersion      = "x-ms-version"
	contentTypeXML     = "application/xml"
	defaultHTTPTimeout = 90 * time.Second
)

// ClientSpec is the typed facade over the classic Service Management API
// that the orchestration engine relies on. Mutating calls return a
// RequestID whose terminal status is polled through GetOperationStatus.
type ClientSpec interface {
	// GetSubscription fetches the subscription's quota counters.
	GetSubscription(ctx context.Context) (*Subscription, error)

	// StorageAccountExists checks for a storage account under the subscription.
	StorageAccountExists(ctx context.Context, name string) (bool, error)

	// CheckStorageAccountNameAvailable checks global name availability.
	CheckStorageAccountNameAvailable(ctx context.Context, name string) (bool, error)

	// CreateStorageAccount starts creation of a storage account.
	CreateStorageAccount(ctx context.Context, name, description, label, location string) (RequestID, error)

	// CloudServiceExists checks for a hosted service under the subscription.
	CloudServiceExists(ctx context.Context, name string) (bool, error)

	// CheckCloudServiceNameAvailable checks global name availability.
	CheckCloudServiceNameAvailable(ctx context.Context, name string) (bool, error)

	// CreateCloudService creates a hosted service. The call is synchronous
	// on the provider side but still yields a request handle.
	CreateCloudService(ctx context.Context, name, label, location string) (RequestID, error)

	// DeploymentExistsBySlot checks whether the slot of a hosted service is occupied.
	DeploymentExistsBySlot(ctx context.Context, serviceName string, slot DeploymentSlot) (bool, error)

	// GetDeploymentNameBySlot resolves the deployment name occupying a slot.
	GetDeploymentNameBySlot(ctx context.Context, serviceName string, slot DeploymentSlot) (string, error)

	// GetDeployment fetches a deployment with its role and instance lists.
	GetDeployment(ctx context.Context, serviceName, deploymentName string) (*Deployment, error)

	// RoleExists checks for a role inside a deployment.
	RoleExists(ctx context.Context, serviceName, deploymentName, roleName string) (bool, error)

	// GetRole fetches the configured view of a role.
	GetRole(ctx context.Context, serviceName, deploymentName, roleName string) (*Role, error)

	// CreateVirtualMachineDeployment creates a deployment seeded with one role.
	CreateVirtualMachineDeployment(ctx context.Context, serviceName string, params CreateDeploymentParams) (RequestID, error)

	// AddRole adds a role to an existing deployment.
	AddRole(ctx context.Context, serviceName, deploymentName string, params AddRoleParams) (RequestID, error)

	// UpdateRole replaces a role's size and network configuration.
	UpdateRole(ctx context.Context, serviceName, deploymentName, roleName string, network *ConfigurationSet, roleSize string) (RequestID, error)

	// UpdateRoleNetwork replaces only a role's network configuration.
	UpdateRoleNetwork(ctx context.Context, serviceName, deploymentName, roleName string, network *ConfigurationSet) (RequestID, error)

	// DeleteRole removes a role from a deployment.
	DeleteRole(ctx context.Context, serviceName, deploymentName, roleName string) (RequestID, error)

	// DeleteDeployment removes a deployment and every role in it.
	DeleteDeployment(ctx context.Context, serviceName, deploymentName string) (RequestID, error)

	// StopRole shuts a role down with the given post-shutdown action.
	StopRole(ctx context.Context, serviceName, deploymentName, roleName string, action api.StopAction) (RequestID, error)

	// StartRole starts a stopped role.
	StartRole(ctx context.Context, serviceName, deploymentName, roleName string) (RequestID, error)

	// GetOperationStatus polls the status of an asynchronous operation.
	GetOperationStatus(ctx context.Context, requestID RequestID) (*OperationResult, error)

	// GetAssignedEndpointPorts lists every public port already assigned
	// across all deployments of a hosted service.
	GetAssignedEndpointPorts(ctx context.Context, serviceName string) ([]int, error)
}

// Config configures a Client. The management certificate is the PEM
// produced at registration: it holds both the certificate and the private
// key and authenticates every request via mutual TLS.
type Config struct {
	SubscriptionID string
	ManagementHost string
	PEMPath        string

	// HTTPClient overrides the TLS-configured default, for tests.
	HTTPClient *http.Client
}

// Client implements ClientSpec against a management host.
type Client struct {
	subscriptionID string
	baseURL        string
	httpClient     *http.Client
}

var _ ClientSpec = &Client{}

// NewClient builds a Client from per-user management credentials.
func NewClient(cfg Config) (*Client, error) {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		cert, err := tls.LoadX509KeyPair(cfg.PEMPath, cfg.PEMPath)
		if err != nil {
			return nil, fmt.Errorf("loading management certificate %s: %w", cfg.PEMPath, err)
		}
		httpClient = &http.Client{
			Timeout: defaultHTTPTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					Certificates: []tls.Certificate{cert},
				},
			},
		}
	}
	return &Client{
		subscriptionID: cfg.SubscriptionID,
		baseURL:        fmt.Sprintf("https://%s/%s", cfg.ManagementHost, cfg.SubscriptionID),
		httpClient:     httpClient,
	}, nil
}

// NewClientForEndpoint builds a Client against an explicit base URL with a
// caller-supplied transport. Intended for tests against httptest servers.
func NewClientForEndpoint(subscriptionID, baseURL string, httpClient *http.Client) *Client {
	return &Client{
		subscriptionID: subscriptionID,
		baseURL:        fmt.Sprintf("%s/%s", baseURL, subscriptionID),
		httpClient:     httpClient,
	}
}

// do performs one management request. A non-nil in is marshaled as the XML
// body; a non-nil out receives the unmarshaled response body. The returned
// RequestID is empty for requests the provider answers synchronously.
func (c *Client) do(ctx context.Context, method, path string, in, out any) (RequestID, error) {
	var body io.Reader
	if in != nil {
		data, err := xml.Marshal(in)
		if err != nil {
			return "", err
		}
		body = bytes.NewReader(append([]byte(xml.Header), data...))
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return "", err
	}
	request.Header.Set(headerVersion, apiVersion)
	if in != nil {
		request.Header.Set("Content-Type", contentTypeXML)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return "", api.WrapError(api.ErrorKindProviderTransport, err)
	}
	defer response.Body.Close()

	data, err := io.ReadAll(response.Body)
	if err != nil {
		return "", api.WrapError(api.ErrorKindProviderTransport, err)
	}

	if response.StatusCode >= 400 {
		asmErr := &Error{StatusCode: response.StatusCode}
		var serviceError ServiceError
		if xml.Unmarshal(data, &serviceError) == nil {
			asmErr.Code = serviceError.Code
			asmErr.Message = serviceError.Message
		}
		return "", asmErr
	}

	if out != nil {
		if err := xml.Unmarshal(data, out); err != nil {
			return "", fmt.Errorf("decoding management response: %w", err)
		}
	}

	return RequestID(response.Header.Get(headerRequestID)), nil
}

// existsResult folds the not-found sentinel into a boolean.
func existsResult(err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	if IsNotFound(err) {
		return false, nil
	}
	return false, err
}

func (c *Client) GetSubscription(ctx context.Context) (*Subscription, error) {
	var subscription Subscription
	if _, err := c.do(ctx, http.MethodGet, "", nil, &subscription); err != nil {
		return nil, err
	}
	return &subscription, nil
}

func (c *Client) StorageAccountExists(ctx context.Context, name string) (bool, error) {
	_, err := c.do(ctx, http.MethodGet, "/services/storageservices/"+name, nil, nil)
	return existsResult(err)
}

type availabilityResponse struct {
	XMLName xml.Name `xml:"AvailabilityResponse"`
	Result  bool     `xml:"Result"`
}

func (c *Client) CheckStorageAccountNameAvailable(ctx context.Context, name string) (bool, error) {
	var availability availabilityResponse
	if _, err := c.do(ctx, http.MethodGet, "/services/storageservices/operations/isavailable/"+name, nil, &availability); err != nil {
		return false, err
	}
	return availability.Result, nil
}

type createStorageServiceInput struct {
	XMLName     xml.Name `xml:"http://schemas.microsoft.com/windowsazure CreateStorageServiceInput"`
	ServiceName string   `xml:"ServiceName"`
	Description string   `xml:"Description,omitempty"`
	Label       string   `xml:"Label"`
	Location    string   `xml:"Location"`
}

func (c *Client) CreateStorageAccount(ctx context.Context, name, description, label, location string) (RequestID, error) {
	return c.do(ctx, http.MethodPost, "/services/storageservices", &createStorageServiceInput{
		ServiceName: name,
		Description: description,
		Label:       encodeLabel(label),
		Location:    location,
	}, nil)
}

func (c *Client) CloudServiceExists(ctx context.Context, name string) (bool, error) {
	_, err := c.do(ctx, http.MethodGet, "/services/hostedservices/"+name, nil, nil)
	return existsResult(err)
}

func (c *Client) CheckCloudServiceNameAvailable(ctx context.Context, name string) (bool, error) {
	var availability availabilityResponse
	if _, err := c.do(ctx, http.MethodGet, "/services/hostedservices/operations/isavailable/"+name, nil, &availability); err != nil {
		return false, err
	}
	return availability.Result, nil
}

type createHostedServiceInput struct {
	XMLName     xml.Name `xml:"http://schemas.microsoft.com/windowsazure CreateHostedService"`
	ServiceName string   `xml:"ServiceName"`
	Label       string   `xml:"Label"`
	Location    string   `xml:"Location"`
}

func (c *Client) CreateCloudService(ctx context.Context, name, label, location string) (RequestID, error) {
	return c.do(ctx, http.MethodPost, "/services/hostedservices", &createHostedServiceInput{
		ServiceName: name,
		Label:       encodeLabel(label),
		Location:    location,
	}, nil)
}

func (c *Client) DeploymentExistsBySlot(ctx context.Context, serviceName string, slot DeploymentSlot) (bool, error) {
	_, err := c.getDeploymentBySlot(ctx, serviceName, slot)
	return existsResult(err)
}

func (c *Client) GetDeploymentNameBySlot(ctx context.Context, serviceName string, slot DeploymentSlot) (string, error) {
	deployment, err := c.getDeploymentBySlot(ctx, serviceName, slot)
	if err != nil {
		return "", err
	}
	return deployment.Name, nil
}

func (c *Client) getDeploymentBySlot(ctx context.Context, serviceName string, slot DeploymentSlot) (*Deployment, error) {
	var deployment Deployment
	path := fmt.Sprintf("/services/hostedservices/%s/deploymentslots/%s", serviceName, slot)
	if _, err := c.do(ctx, http.MethodGet, path, nil, &deployment); err != nil {
		return nil, err
	}
	return &deployment, nil
}

func (c *Client) GetDeployment(ctx context.Context, serviceName, deploymentName string) (*Deployment, error) {
	var deployment Deployment
	path := fmt.Sprintf("/services/hostedservices/%s/deployments/%s", serviceName, deploymentName)
	if _, err := c.do(ctx, http.MethodGet, path, nil, &deployment); err != nil {
		return nil, err
	}
	return &deployment, nil
}

func (c *Client) RoleExists(ctx context.Context, serviceName, deploymentName, roleName string) (bool, error) {
	_, err := c.GetRole(ctx, serviceName, deploymentName, roleName)
	return existsResult(err)
}

func (c *Client) GetRole(ctx context.Context, serviceName, deploymentName, roleName string) (*Role, error) {
	var role struct {
		XMLName xml.Name `xml:"PersistentVMRole"`
		Role
	}
	path := fmt.Sprintf("/services/hostedservices/%s/deployments/%s/roles/%s", serviceName, deploymentName, roleName)
	if _, err := c.do(ctx, http.MethodGet, path, nil, &role); err != nil {
		return nil, err
	}
	return &role.Role, nil
}

// CreateDeploymentParams seeds a new deployment with its first role.
type CreateDeploymentParams struct {
	Name  string
	Slot  DeploymentSlot
	Label string
	Role  AddRoleParams
}

// AddRoleParams describes a role to create inside a deployment.
type AddRoleParams struct {
	RoleName          string
	RoleSize          string
	VMImageName       string
	OSVirtualHardDisk *OSVirtualHardDisk
	SystemConfig      *ConfigurationSet
	NetworkConfig     *ConfigurationSet
}

const roleTypePersistentVM = "PersistentVMRole"

type persistentVMRole struct {
	XMLName           xml.Name           `xml:"http://schemas.microsoft.com/windowsazure PersistentVMRole"`
	RoleName          string             `xml:"RoleName"`
	RoleType          string             `xml:"RoleType"`
	ConfigurationSets []ConfigurationSet `xml:"ConfigurationSets>ConfigurationSet,omitempty"`
	VMImageName       string             `xml:"VMImageName,omitempty"`
	OSVirtualHardDisk *OSVirtualHardDisk `xml:"OSVirtualHardDisk,omitempty"`
	RoleSize          string             `xml:"RoleSize,omitempty"`
}

func newPersistentVMRole(params AddRoleParams) persistentVMRole {
	role := persistentVMRole{
		RoleName:          params.RoleName,
		RoleType:          roleTypePersistentVM,
		VMImageName:       params.VMImageName,
		OSVirtualHardDisk: params.OSVirtualHardDisk,
		RoleSize:          params.RoleSize,
	}
	if params.SystemConfig != nil {
		role.ConfigurationSets = append(role.ConfigurationSets, *params.SystemConfig)
	}
	// A role created from a VM image carries the image's own network
	// configuration; the engine applies the template's endpoints with a
	// follow-up UpdateRoleNetwork once the role exists.
	if params.NetworkConfig != nil && params.VMImageName == "" {
		role.ConfigurationSets = append(role.ConfigurationSets, *params.NetworkConfig)
	}
	return role
}

type createDeploymentInput struct {
	XMLName xml.Name           `xml:"http://schemas.microsoft.com/windowsazure Deployment"`
	Name    string             `xml:"Name"`
	Slot    DeploymentSlot     `xml:"DeploymentSlot"`
	Label   string             `xml:"Label"`
	Roles   []persistentVMRole `xml:"RoleList>Role"`
}

func (c *Client) CreateVirtualMachineDeployment(ctx context.Context, serviceName string, params CreateDeploymentParams) (RequestID, error) {
	path := fmt.Sprintf("/services/hostedservices/%s/deployments", serviceName)
	return c.do(ctx, http.MethodPost, path, &createDeploymentInput{
		Name:  params.Name,
		Slot:  params.Slot,
		Label: encodeLabel(params.Label),
		Roles: []persistentVMRole{newPersistentVMRole(params.Role)},
	}, nil)
}

func (c *Client) AddRole(ctx context.Context, serviceName, deploymentName string, params AddRoleParams) (RequestID, error) {
	path := fmt.Sprintf("/services/hostedservices/%s/deployments/%s/roles", serviceName, deploymentName)
	role := newPersistentVMRole(params)
	return c.do(ctx, http.MethodPost, path, &role, nil)
}

func (c *Client) UpdateRole(ctx context.Context, serviceName, deploymentName, roleName string, network *ConfigurationSet, roleSize string) (RequestID, error) {
	path := fmt.Sprintf("/services/hostedservices/%s/deployments/%s/roles/%s", serviceName, deploymentName, roleName)
	role := persistentVMRole{
		RoleName: roleName,
		RoleType: roleTypePersistentVM,
		RoleSize: roleSize,
	}
	if network != nil {
		role.ConfigurationSets = []ConfigurationSet{*network}
	}
	return c.do(ctx, http.MethodPut, path, &role, nil)
}

func (c *Client) UpdateRoleNetwork(ctx context.Context, serviceName, deploymentName, roleName string, network *ConfigurationSet) (RequestID, error) {
	return c.UpdateRole(ctx, serviceName, deploymentName, roleName, network, "")
}

func (c *Client) DeleteRole(ctx context.Context, serviceName, deploymentName, roleName string) (RequestID, error) {
	path := fmt.Sprintf("/services/hostedservices/%s/deployments/%s/roles/%s", serviceName, deploymentName, roleName)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) DeleteDeployment(ctx context.Context, serviceName, deploymentName string) (RequestID, error) {
	path := fmt.Sprintf("/services/hostedservices/%s/deployments/%s", serviceName, deploymentName)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

type shutdownRoleOperation struct {
	XMLName            xml.Name `xml:"http://schemas.microsoft.com/windowsazure ShutdownRoleOperation"`
	OperationType      string   `xml:"OperationType"`
	PostShutdownAction string   `xml:"PostShutdownAction"`
}

func (c *Client) StopRole(ctx context.Context, serviceName, deploymentName, roleName string, action api.StopAction) (RequestID, error) {
	path := fmt.Sprintf("/services/hostedservices/%s/deployments/%s/roleinstances/%s/Operations", serviceName, deploymentName, roleName)
	return c.do(ctx, http.MethodPost, path, &shutdownRoleOperation{
		OperationType:      "ShutdownRoleOperation",
		PostShutdownAction: string(action),
	}, nil)
}

type startRoleOperation struct {
	XMLName       xml.Name `xml:"http://schemas.microsoft.com/windowsazure StartRoleOperation"`
	OperationType string   `xml:"OperationType"`
}

func (c *Client) StartRole(ctx context.Context, serviceName, deploymentName, roleName string) (RequestID, error) {
	path := fmt.Sprintf("/services/hostedservices/%s/deployments/%s/roleinstances/%s/Operations", serviceName, deploymentName, roleName)
	return c.do(ctx, http.MethodPost, path, &startRoleOperation{OperationType: "StartRoleOperation"}, nil)
}

func (c *Client) GetOperationStatus(ctx context.Context, requestID RequestID) (*OperationResult, error) {
	var result OperationResult
	if _, err := c.do(ctx, http.MethodGet, "/operations/"+string(requestID), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

type hostedServiceDetail struct {
	XMLName     xml.Name     `xml:"HostedService"`
	Deployments []Deployment `xml:"Deployments>Deployment"`
}

func (c *Client) GetAssignedEndpointPorts(ctx context.Context, serviceName string) ([]int, error) {
	var detail hostedServiceDetail
	path := fmt.Sprintf("/services/hostedservices/%s?embed-detail=true", serviceName)
	if _, err := c.do(ctx, http.MethodGet, path, nil, &detail); err != nil {
		return nil, err
	}

	assigned := map[int]struct{}{}
	for _, deployment := range detail.Deployments {
		for _, role := range deployment.Roles {
			network := role.NetworkConfiguration()
			if network == nil {
				continue
			}
			for _, endpoint := range network.InputEndpoints {
				assigned[endpoint.Port] = struct{}{}
			}
		}
	}

	ports := make([]int, 0, len(assigned))
	for port := range assigned {
		ports = append(ports, port)
	}
	sort.Ints(ports)
	return ports, nil
}

// encodeLabel base64-encodes a human-readable label the way the management
// API expects.
func encodeLabel(label string) string {
	return base64.StdEncoding.EncodeToString([]byte(label))
}

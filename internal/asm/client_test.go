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
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhackathon/azureformation/internal/api"
)

const testSubscription = "sub-1234"

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClientForEndpoint(testSubscription, server.URL, server.Client())
}

func TestStorageAccountExists(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		expected   bool
		expectErr  bool
	}{
		{
			name:       "present",
			statusCode: http.StatusOK,
			body:       `<StorageService><ServiceName>sa1</ServiceName></StorageService>`,
			expected:   true,
		},
		{
			name:       "absent",
			statusCode: http.StatusNotFound,
			body:       `<Error><Code>ResourceNotFound</Code><Message>The storage account was not found.</Message></Error>`,
			expected:   false,
		},
		{
			name:       "other error",
			statusCode: http.StatusConflict,
			body:       `<Error><Code>ConflictError</Code><Message>busy</Message></Error>`,
			expectErr:  true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/"+testSubscription+"/services/storageservices/sa1", r.URL.Path)
				assert.Equal(t, apiVersion, r.Header.Get(headerVersion))
				w.WriteHeader(test.statusCode)
				_, _ = w.Write([]byte(test.body))
			}))

			exists, err := client.StorageAccountExists(context.Background(), "sa1")
			if test.expectErr {
				require.Error(t, err)
				var asmErr *Error
				require.ErrorAs(t, err, &asmErr)
				assert.Equal(t, "ConflictError", asmErr.Code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expected, exists)
		})
	}
}

func TestCreateStorageAccount(t *testing.T) {
	var requestBody string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/"+testSubscription+"/services/storageservices", r.URL.Path)
		data, _ := io.ReadAll(r.Body)
		requestBody = string(data)
		w.Header().Set(headerRequestID, "req-42")
		w.WriteHeader(http.StatusAccepted)
	}))

	requestID, err := client.CreateStorageAccount(context.Background(), "sa1", "experiment storage", "my label", "East US")
	require.NoError(t, err)
	assert.Equal(t, RequestID("req-42"), requestID)

	assert.Contains(t, requestBody, "<ServiceName>sa1</ServiceName>")
	assert.Contains(t, requestBody, "<Location>East US</Location>")
	encodedLabel := base64.StdEncoding.EncodeToString([]byte("my label"))
	assert.Contains(t, requestBody, "<Label>"+encodedLabel+"</Label>")
}

func TestGetOperationStatus(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/"+testSubscription+"/operations/req-7", r.URL.Path)
		_, _ = w.Write([]byte(`<Operation>
			<ID>req-7</ID>
			<Status>Failed</Status>
			<HttpStatusCode>400</HttpStatusCode>
			<Error><Code>BadRequest</Code><Message>bad size</Message></Error>
		</Operation>`))
	}))

	result, err := client.GetOperationStatus(context.Background(), "req-7")
	require.NoError(t, err)
	assert.Equal(t, OperationFailed, result.Status)
	require.NotNil(t, result.Error)
	assert.Equal(t, "BadRequest", result.Error.Code)
	assert.Equal(t, "bad size", result.Error.Message)
}

func TestGetDeployment(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<Deployment>
			<Name>d1</Name>
			<DeploymentSlot>Production</DeploymentSlot>
			<Status>Running</Status>
			<Url>http://cs1.cloudapp.net/</Url>
			<RoleInstanceList>
				<RoleInstance>
					<RoleName>web</RoleName>
					<InstanceName>web</InstanceName>
					<InstanceStatus>ReadyRole</InstanceStatus>
					<IpAddress>10.0.0.4</IpAddress>
				</RoleInstance>
			</RoleInstanceList>
		</Deployment>`))
	}))

	deployment, err := client.GetDeployment(context.Background(), "cs1", "d1")
	require.NoError(t, err)
	assert.Equal(t, "d1", deployment.Name)
	assert.Equal(t, DeploymentStatusRunning, deployment.Status)
	assert.Equal(t, api.RoleInstanceStatusReadyRole, deployment.RoleInstanceStatus("web"))
	assert.Equal(t, "10.0.0.4", deployment.RoleInstancePrivateIP("web"))
	assert.Empty(t, deployment.RoleInstanceStatus("missing"))
}

func TestGetAssignedEndpointPorts(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "embed-detail=true", r.URL.RawQuery)
		_, _ = w.Write([]byte(`<HostedService>
			<Deployments><Deployment>
				<Name>d1</Name>
				<RoleList><Role>
					<RoleName>web</RoleName>
					<ConfigurationSets><ConfigurationSet>
						<ConfigurationSetType>NetworkConfiguration</ConfigurationSetType>
						<InputEndpoints>
							<InputEndpoint><Name>ssh</Name><Protocol>TCP</Protocol><Port>22</Port><LocalPort>22</LocalPort></InputEndpoint>
							<InputEndpoint><Name>http</Name><Protocol>TCP</Protocol><Port>80</Port><LocalPort>80</LocalPort></InputEndpoint>
						</InputEndpoints>
					</ConfigurationSet></ConfigurationSets>
				</Role></RoleList>
			</Deployment></Deployments>
		</HostedService>`))
	}))

	ports, err := client.GetAssignedEndpointPorts(context.Background(), "cs1")
	require.NoError(t, err)
	assert.Equal(t, []int{22, 80}, ports)
}

func TestStopRoleBody(t *testing.T) {
	var requestBody string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/roleinstances/web/Operations"))
		data, _ := io.ReadAll(r.Body)
		requestBody = string(data)
		w.Header().Set(headerRequestID, "req-9")
		w.WriteHeader(http.StatusAccepted)
	}))

	requestID, err := client.StopRole(context.Background(), "cs1", "d1", "web", api.ActionStoppedDeallocated)
	require.NoError(t, err)
	assert.Equal(t, RequestID("req-9"), requestID)
	assert.Contains(t, requestBody, "<OperationType>ShutdownRoleOperation</OperationType>")
	assert.Contains(t, requestBody, "<PostShutdownAction>StoppedDeallocated</PostShutdownAction>")
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(&Error{StatusCode: http.StatusNotFound}))
	assert.True(t, IsNotFound(&Error{StatusCode: http.StatusConflict, Code: ErrorCodeResourceNotFound}))
	assert.False(t, IsNotFound(&Error{StatusCode: http.StatusConflict, Code: ErrorCodeConflict}))
	assert.False(t, IsNotFound(nil))
}

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

package frontend

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhackathon/azureformation/internal/api"
	"github.com/openhackathon/azureformation/internal/asm"
	"github.com/openhackathon/azureformation/internal/audit"
	"github.com/openhackathon/azureformation/internal/credentials"
	"github.com/openhackathon/azureformation/internal/database"
	"github.com/openhackathon/azureformation/internal/job"
	"github.com/openhackathon/azureformation/internal/template"
	"github.com/openhackathon/azureformation/internal/workflow"
)

const testTemplate = `{
	"expr_name": "e1",
	"storage_account": {"service_name": "sa1", "description": "d", "label": "sa1", "location": "East US"},
	"container": "vhds",
	"cloud_service": {"service_name": "cs1", "label": "cs1", "location": "East US"},
	"deployment": {"deployment_name": "d1", "deployment_slot": "Production"},
	"virtual_environments": [
		{
			"role_name": "r",
			"role_size": "Small",
			"os_virtual_hard_disk": {"source_image_name": "ubuntu-14", "media_link": "http://sa1.blob/vhds/r.vhd", "os": "Linux"},
			"system_config": {"os_family": "Linux", "hostname": "r", "user_name": "u", "user_password": "p"},
			"network_config": {"configuration_set_type": "NetworkConfiguration", "input_endpoints": []}
		}
	]
}`

func newTestFrontend(t *testing.T) (*httptest.Server, *database.FakeRepository) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	repo := database.NewFakeRepository()
	client := asm.NewFakeClient()
	parsed, err := template.Parse([]byte(testTemplate))
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := job.NewRegistry()
	runner := job.NewRunner(registry, logger, prometheus.NewRegistry())
	runner.Start(ctx)

	formation := workflow.New(workflow.Config{
		Repository: repo,
		Audit:      audit.NewLogger(repo, logger),
		Runner:     runner,
		Logger:     logger,
		Tick:       time.Millisecond,
		Loops:      3,
		Sessions: func(ctx context.Context, experimentID int64) (*workflow.Session, error) {
			if _, err := repo.GetExperiment(ctx, experimentID); err != nil {
				return nil, err
			}
			return &workflow.Session{Client: client, SubscriptionID: "sub-1", Template: parsed}, nil
		},
	}, registry)

	registrar := credentials.NewRegistrar(repo, t.TempDir(), logger)
	f := NewFrontend(logger, nil, repo, formation, registrar)

	server := httptest.NewServer(f.server.Handler)
	t.Cleanup(server.Close)
	return server, repo
}

func TestNotFound(t *testing.T) {
	server, _ := newTestFrontend(t)

	response, err := http.Get(server.URL + "/nope")
	require.NoError(t, err)
	defer response.Body.Close()
	assert.Equal(t, http.StatusNotFound, response.StatusCode)
}

func TestRegisterUserValidation(t *testing.T) {
	server, _ := newTestFrontend(t)

	response, err := http.Post(server.URL+"/users", "application/json", strings.NewReader(`{"name": "alice"}`))
	require.NoError(t, err)
	defer response.Body.Close()
	assert.Equal(t, http.StatusBadRequest, response.StatusCode)

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(response.Body).Decode(&body))
	assert.Equal(t, "InvalidRequestContent", body.Error.Code)
}

func TestDispatchUnknownExperiment(t *testing.T) {
	server, _ := newTestFrontend(t)

	response, err := http.Post(server.URL+"/experiments/42/create", "application/json", nil)
	require.NoError(t, err)
	defer response.Body.Close()
	assert.Equal(t, http.StatusNotFound, response.StatusCode)
}

func TestDispatchAndListOperations(t *testing.T) {
	server, repo := newTestFrontend(t)
	ctx := context.Background()

	user, err := repo.CreateUserInfo(ctx, "alice", "alice@example.com")
	require.NoError(t, err)
	tmpl, err := repo.CreateTemplate(ctx, "/tmp/t.json", database.TemplateKindCreate)
	require.NoError(t, err)
	userTemplate, err := repo.CreateUserTemplate(ctx, user.ID, tmpl.ID)
	require.NoError(t, err)
	experiment, err := repo.CreateExperiment(ctx, userTemplate.ID)
	require.NoError(t, err)

	response, err := http.Post(server.URL+"/experiments/"+itoa(experiment.ID)+"/create", "application/json", nil)
	require.NoError(t, err)
	response.Body.Close()
	assert.Equal(t, http.StatusAccepted, response.StatusCode)

	require.Eventually(t, func() bool {
		records, err := repo.AuditLogsSince(ctx, experiment.ID, string(api.OperationCreate), 0)
		require.NoError(t, err)
		for _, record := range records {
			if record.Operation == api.OperationCreate && record.Status.IsTerminal() {
				return true
			}
		}
		return false
	}, 5*time.Second, 2*time.Millisecond)

	listResponse, err := http.Get(server.URL + "/experiments/" + itoa(experiment.ID) + "/operations?after=0")
	require.NoError(t, err)
	defer listResponse.Body.Close()
	assert.Equal(t, http.StatusOK, listResponse.StatusCode)

	var records []database.AuditLog
	require.NoError(t, json.NewDecoder(listResponse.Body).Decode(&records))
	assert.NotEmpty(t, records)
}

func TestUnknownAction(t *testing.T) {
	server, _ := newTestFrontend(t)

	response, err := http.Post(server.URL+"/experiments/1/explode", "application/json", nil)
	require.NoError(t, err)
	defer response.Body.Close()
	assert.Equal(t, http.StatusNotFound, response.StatusCode)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

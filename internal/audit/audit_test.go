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

package audit

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhackathon/azureformation/internal/api"
	"github.com/openhackathon/azureformation/internal/database"
)

func newTestLogger(t *testing.T) (*Logger, *database.FakeRepository) {
	t.Helper()
	repository := database.NewFakeRepository()
	return NewLogger(repository, slog.New(slog.NewTextHandler(io.Discard, nil))), repository
}

func TestCommit(t *testing.T) {
	logger, repository := newTestLogger(t)
	ctx := context.Background()

	require.NoError(t, logger.Start(ctx, 1, api.OperationCreateStorageAccount))
	require.NoError(t, logger.Fail(ctx, 1, api.OperationCreateStorageAccount, "storage account [sa1] subscription not enough", 2))
	require.NoError(t, logger.End(ctx, 1, api.OperationCreateCloudService, "", NoStep))

	records := repository.AuditLogs
	require.Len(t, records, 3)

	assert.Equal(t, api.StatusStart, records[0].Status)
	assert.Nil(t, records[0].Note)
	assert.Nil(t, records[0].StepIndex)

	assert.Equal(t, api.StatusFail, records[1].Status)
	require.NotNil(t, records[1].Note)
	assert.Contains(t, *records[1].Note, "subscription not enough")
	require.NotNil(t, records[1].StepIndex)
	assert.Equal(t, 2, *records[1].StepIndex)

	assert.Equal(t, api.StatusEnd, records[2].Status)
	assert.Nil(t, records[2].Note)
	assert.Nil(t, records[2].StepIndex)
}

func TestAuditStatusTerminal(t *testing.T) {
	assert.False(t, api.StatusStart.IsTerminal())
	assert.True(t, api.StatusFail.IsTerminal())
	assert.True(t, api.StatusEnd.IsTerminal())
}

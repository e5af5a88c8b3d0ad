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

package waiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhackathon/azureformation/internal/api"
	"github.com/openhackathon/azureformation/internal/asm"
)

const testTick = time.Millisecond

func TestForAsync(t *testing.T) {
	tests := []struct {
		name         string
		states       []asm.OperationState
		loops        int
		expectedKind api.ErrorKind
	}{
		{
			name:   "succeeds after in progress",
			states: []asm.OperationState{asm.OperationInProgress, asm.OperationInProgress, asm.OperationSucceeded},
			loops:  5,
		},
		{
			name:         "failed terminal is never retried",
			states:       []asm.OperationState{asm.OperationInProgress, asm.OperationFailed},
			loops:        5,
			expectedKind: api.ErrorKindProviderRejected,
		},
		{
			name:         "times out",
			states:       []asm.OperationState{asm.OperationInProgress},
			loops:        2,
			expectedKind: api.ErrorKindAsyncTimeout,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			client := asm.NewFakeClient()
			client.ScriptOperation("req-1", test.states...)
			w := New(client)

			err := w.ForAsync(context.Background(), "req-1", testTick, test.loops)
			if test.expectedKind == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Equal(t, test.expectedKind, api.KindOf(err))
			}
		})
	}
}

func TestForAsyncCancellation(t *testing.T) {
	client := asm.NewFakeClient()
	client.ScriptOperation("req-1", asm.OperationInProgress)
	w := New(client)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.ForAsync(ctx, "req-1", time.Minute, 5)
	}()

	// The waiter is parked in its first sleep; cancellation must release it.
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("waiter did not observe cancellation")
	}
}

func seedDeployment(client *asm.FakeClient, status api.RoleInstanceStatus) {
	client.Deployments["cs1/d1"] = &asm.Deployment{
		Name:           "d1",
		DeploymentSlot: asm.SlotProduction,
		Status:         asm.DeploymentStatusRunning,
		RoleInstances: []asm.RoleInstance{
			{RoleName: "r-1", InstanceName: "r-1", InstanceStatus: status},
		},
	}
	client.Slots["cs1/Production"] = "d1"
}

func TestForDeployment(t *testing.T) {
	client := asm.NewFakeClient()
	seedDeployment(client, api.RoleInstanceStatusReadyRole)
	w := New(client)

	require.NoError(t, w.ForDeployment(context.Background(), "cs1", "d1", asm.DeploymentStatusRunning, testTick, 2))

	err := w.ForDeployment(context.Background(), "cs1", "d1", asm.DeploymentStatusSuspended, testTick, 2)
	require.Error(t, err)
	assert.Equal(t, api.ErrorKindReadinessTimeout, api.KindOf(err))
}

func TestForRole(t *testing.T) {
	client := asm.NewFakeClient()
	seedDeployment(client, api.RoleInstanceStatusReadyRole)
	w := New(client)

	require.NoError(t, w.ForRole(context.Background(), "cs1", "d1", "r-1", api.RoleInstanceStatusReadyRole, testTick, 2))

	err := w.ForRole(context.Background(), "cs1", "d1", "r-1", api.RoleInstanceStatusStoppedVM, testTick, 2)
	require.Error(t, err)
	assert.Equal(t, api.ErrorKindReadinessTimeout, api.KindOf(err))

	err = w.ForRole(context.Background(), "cs1", "d1", "missing", api.RoleInstanceStatusReadyRole, testTick, 1)
	require.Error(t, err)
	assert.Equal(t, api.ErrorKindReadinessTimeout, api.KindOf(err))
}

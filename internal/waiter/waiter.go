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
	"time"

	"k8s.io/utils/clock"

	"github.com/openhackathon/azureformation/internal/api"
	"github.com/openhackathon/azureformation/internal/asm"
)

// Default polling parameters: a 30-second tick with a 60-poll bound puts a
// 30-minute ceiling on every wait.
const (
	DefaultTick  = 30 * time.Second
	DefaultLoops = 60
)

// Waiter polls the provider until an asynchronous request or a named
// resource reaches a terminal or target state. Each sleep between polls is
// a cancellation point.
type Waiter struct {
	client asm.ClientSpec
	clock  clock.Clock
}

// New builds a Waiter over a provider client.
func New(client asm.ClientSpec) *Waiter {
	return &Waiter{client: client, clock: clock.RealClock{}}
}

// NewWithClock builds a Waiter with an injected clock, for tests.
func NewWithClock(client asm.ClientSpec, clk clock.Clock) *Waiter {
	return &Waiter{client: client, clock: clk}
}

// delay sleeps for d or until the context is done.
func (w *Waiter) delay(ctx context.Context, d time.Duration) error {
	timer := w.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ForAsync polls the status of an asynchronous request every tick, up to
// loops polls. It returns nil iff the provider reports Succeeded. Any other
// terminal status is a failure, never a retry.
func (w *Waiter) ForAsync(ctx context.Context, requestID asm.RequestID, tick time.Duration, loops int) error {
	for count := 0; ; count++ {
		result, err := w.client.GetOperationStatus(ctx, requestID)
		if err != nil {
			return err
		}

		switch result.Status {
		case asm.OperationSucceeded:
			return nil
		case asm.OperationInProgress:
		default:
			if result.Error != nil {
				return api.NewError(api.ErrorKindProviderRejected, "%s: %s", result.Error.Code, result.Error.Message)
			}
			return api.NewError(api.ErrorKindProviderRejected, "operation %s reported %s", requestID, result.Status)
		}

		if count+1 >= loops {
			return api.NewError(api.ErrorKindAsyncTimeout, "timed out waiting for operation %s", requestID)
		}
		if err := w.delay(ctx, tick); err != nil {
			return err
		}
	}
}

// ForDeployment polls a deployment every tick until its status equals
// target, up to loops polls.
func (w *Waiter) ForDeployment(ctx context.Context, serviceName, deploymentName string, target asm.DeploymentStatus, tick time.Duration, loops int) error {
	for count := 0; ; count++ {
		deployment, err := w.client.GetDeployment(ctx, serviceName, deploymentName)
		if err != nil {
			return err
		}
		if deployment.Status == target {
			return nil
		}

		if count+1 >= loops {
			return api.NewError(api.ErrorKindReadinessTimeout,
				"timed out waiting for deployment %s to reach %s", deploymentName, target)
		}
		if err := w.delay(ctx, tick); err != nil {
			return err
		}
	}
}

// ForRole polls a deployment every tick until the named role instance
// reports the target status, up to loops polls.
func (w *Waiter) ForRole(ctx context.Context, serviceName, deploymentName, roleName string, target api.RoleInstanceStatus, tick time.Duration, loops int) error {
	for count := 0; ; count++ {
		deployment, err := w.client.GetDeployment(ctx, serviceName, deploymentName)
		if err != nil {
			return err
		}
		if deployment.RoleInstanceStatus(roleName) == target {
			return nil
		}

		if count+1 >= loops {
			return api.NewError(api.ErrorKindReadinessTimeout,
				"timed out waiting for role %s to reach %s", roleName, target)
		}
		if err := w.delay(ctx, tick); err != nil {
			return err
		}
	}
}

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

package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/openhackathon/azureformation/internal/api"
	"github.com/openhackathon/azureformation/internal/audit"
	"github.com/openhackathon/azureformation/internal/database"
	"github.com/openhackathon/azureformation/internal/job"
)

// createStorageAccount reconciles the template's storage account: reuse it
// when it already exists under the subscription, create it otherwise. The
// async creation is chained through the generic waiter job.
func (f *Formation) createStorageAccount(ctx context.Context, s *stepContext) error {
	experimentID := s.args.ExperimentID
	spec := s.session.Template.StorageAccount()

	if err := f.audit.Start(ctx, experimentID, api.OperationCreateStorageAccount); err != nil {
		return err
	}

	exists, err := s.session.Client.StorageAccountExists(ctx, spec.ServiceName)
	if err != nil {
		return f.failStorageAccount(ctx, experimentID,
			fmt.Sprintf(createStorageAccountError[0], storageAccountKind, spec.ServiceName, noteFor(err)), 0)
	}

	if exists {
		// Check whether the storage account was created by this engine before.
		var note string
		if _, err := f.repository.GetStorageAccountByName(ctx, spec.ServiceName); errors.Is(err, database.ErrNotFound) {
			note = fmt.Sprintf(createStorageAccountInfo[0], storageAccountKind, spec.ServiceName, api.ProgramName)
			if _, err := f.repository.CreateStorageAccount(ctx, &database.StorageAccount{
				ExperimentID: experimentID,
				Name:         spec.ServiceName,
				Description:  spec.Description,
				Label:        spec.Label,
				Location:     spec.Location,
				Status:       api.ResourceStatusRunning,
				CreatedByUs:  false,
			}); err != nil {
				return f.failStorageAccount(ctx, experimentID,
					fmt.Sprintf(createStorageAccountError[0], storageAccountKind, spec.ServiceName, noteFor(err)), 0)
			}
		} else if err != nil {
			return f.failStorageAccount(ctx, experimentID,
				fmt.Sprintf(createStorageAccountError[0], storageAccountKind, spec.ServiceName, noteFor(err)), 0)
		} else {
			note = fmt.Sprintf(createStorageAccountInfo[1], storageAccountKind, spec.ServiceName, api.ProgramName)
		}
		if err := f.audit.End(ctx, experimentID, api.OperationCreateStorageAccount, note, audit.NoStep); err != nil {
			return err
		}
		return f.runner.Submit(job.MustNew(handlerCloudServiceCreate, s.args))
	}

	// Avoid the name being taken by another subscription.
	available, err := s.session.Client.CheckStorageAccountNameAvailable(ctx, spec.ServiceName)
	if err != nil {
		return f.failStorageAccount(ctx, experimentID,
			fmt.Sprintf(createStorageAccountError[0], storageAccountKind, spec.ServiceName, noteFor(err)), 0)
	}
	if !available {
		return f.failStorageAccount(ctx, experimentID,
			fmt.Sprintf(createStorageAccountError[1], storageAccountKind, spec.ServiceName), 1)
	}

	// Avoid exhausting the subscription's storage account quota.
	subscription, err := s.session.Client.GetSubscription(ctx)
	if err != nil {
		return f.failStorageAccount(ctx, experimentID,
			fmt.Sprintf(createStorageAccountError[0], storageAccountKind, spec.ServiceName, noteFor(err)), 0)
	}
	if subscription.AvailableStorageAccountCount() < 1 {
		return f.failStorageAccount(ctx, experimentID,
			fmt.Sprintf(createStorageAccountError[2], storageAccountKind, spec.ServiceName), 2)
	}

	// Drop stale rows recorded for the same provider name.
	if err := f.repository.DeleteStorageAccountByName(ctx, spec.ServiceName); err != nil {
		return f.failStorageAccount(ctx, experimentID,
			fmt.Sprintf(createStorageAccountError[0], storageAccountKind, spec.ServiceName, noteFor(err)), 0)
	}

	requestID, err := s.session.Client.CreateStorageAccount(ctx, spec.ServiceName, spec.Description, spec.Label, spec.Location)
	if err != nil {
		return f.failStorageAccount(ctx, experimentID,
			fmt.Sprintf(createStorageAccountError[0], storageAccountKind, spec.ServiceName, noteFor(err)), 0)
	}

	wait := job.MustNew(handlerAsyncWait, asyncArgs{ExperimentID: experimentID, RequestID: string(requestID)}).
		WithContinuations(
			job.MustNew(handlerStorageVerify, s.args),
			job.MustNew(handlerStorageFailAsync, s.args),
		)
	return f.runner.Submit(wait)
}

// verifyStorageAccount runs after a succeeded async creation: it confirms
// the account exists, commits the row as ours and moves on to the cloud
// service stage.
func (f *Formation) verifyStorageAccount(ctx context.Context, s *stepContext) error {
	experimentID := s.args.ExperimentID
	spec := s.session.Template.StorageAccount()

	exists, err := s.session.Client.StorageAccountExists(ctx, spec.ServiceName)
	if err != nil {
		return f.failStorageAccount(ctx, experimentID,
			fmt.Sprintf(createStorageAccountError[0], storageAccountKind, spec.ServiceName, noteFor(err)), 0)
	}
	if !exists {
		return f.failStorageAccount(ctx, experimentID,
			fmt.Sprintf(createStorageAccountError[4], storageAccountKind, spec.ServiceName), 4)
	}

	if _, err := f.repository.CreateStorageAccount(ctx, &database.StorageAccount{
		ExperimentID: experimentID,
		Name:         spec.ServiceName,
		Description:  spec.Description,
		Label:        spec.Label,
		Location:     spec.Location,
		Status:       api.ResourceStatusRunning,
		CreatedByUs:  true,
	}); err != nil {
		return f.failStorageAccount(ctx, experimentID,
			fmt.Sprintf(createStorageAccountError[0], storageAccountKind, spec.ServiceName, noteFor(err)), 0)
	}

	if err := f.audit.End(ctx, experimentID, api.OperationCreateStorageAccount, "", audit.NoStep); err != nil {
		return err
	}
	return f.runner.Submit(job.MustNew(handlerCloudServiceCreate, s.args))
}

// failStorageAccountAsync is the failure continuation of the storage
// account's async waiter.
func (f *Formation) failStorageAccountAsync(ctx context.Context, s *stepContext) error {
	spec := s.session.Template.StorageAccount()
	return f.failStorageAccount(ctx, s.args.ExperimentID,
		fmt.Sprintf(createStorageAccountError[3], storageAccountKind, spec.ServiceName), 3)
}

func (f *Formation) failStorageAccount(ctx context.Context, experimentID int64, note string, stepIndex int) error {
	if err := f.audit.Fail(ctx, experimentID, api.OperationCreateStorageAccount, note, stepIndex); err != nil {
		return err
	}
	f.failCreate(ctx, experimentID, note)
	return errors.New(note)
}

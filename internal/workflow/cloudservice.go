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

// createCloudService reconciles the template's cloud service the same way
// the storage stage does its account: reuse, adopt or create.
func (f *Formation) createCloudService(ctx context.Context, s *stepContext) error {
	experimentID := s.args.ExperimentID
	spec := s.session.Template.CloudService()

	if err := f.audit.Start(ctx, experimentID, api.OperationCreateCloudService); err != nil {
		return err
	}

	exists, err := s.session.Client.CloudServiceExists(ctx, spec.ServiceName)
	if err != nil {
		return f.failCloudService(ctx, experimentID,
			fmt.Sprintf(createCloudServiceError[0], cloudServiceKind, spec.ServiceName, noteFor(err)), 0)
	}

	if exists {
		var note string
		if _, err := f.repository.GetCloudServiceByName(ctx, spec.ServiceName); errors.Is(err, database.ErrNotFound) {
			note = fmt.Sprintf(createCloudServiceInfo[0], cloudServiceKind, spec.ServiceName, api.ProgramName)
			if _, err := f.repository.CreateCloudService(ctx, &database.CloudService{
				ExperimentID: experimentID,
				Name:         spec.ServiceName,
				Label:        spec.Label,
				Location:     spec.Location,
				Status:       api.ResourceStatusRunning,
				CreatedByUs:  false,
			}); err != nil {
				return f.failCloudService(ctx, experimentID,
					fmt.Sprintf(createCloudServiceError[0], cloudServiceKind, spec.ServiceName, noteFor(err)), 0)
			}
		} else if err != nil {
			return f.failCloudService(ctx, experimentID,
				fmt.Sprintf(createCloudServiceError[0], cloudServiceKind, spec.ServiceName, noteFor(err)), 0)
		} else {
			note = fmt.Sprintf(createCloudServiceInfo[1], cloudServiceKind, spec.ServiceName, api.ProgramName)
		}
		if err := f.audit.End(ctx, experimentID, api.OperationCreateCloudService, note, audit.NoStep); err != nil {
			return err
		}
		return f.runner.Submit(f.virtualMachineCreateJob(s))
	}

	available, err := s.session.Client.CheckCloudServiceNameAvailable(ctx, spec.ServiceName)
	if err != nil {
		return f.failCloudService(ctx, experimentID,
			fmt.Sprintf(createCloudServiceError[0], cloudServiceKind, spec.ServiceName, noteFor(err)), 0)
	}
	if !available {
		return f.failCloudService(ctx, experimentID,
			fmt.Sprintf(createCloudServiceError[1], cloudServiceKind, spec.ServiceName), 1)
	}

	if err := f.repository.DeleteCloudServiceByName(ctx, spec.ServiceName); err != nil {
		return f.failCloudService(ctx, experimentID,
			fmt.Sprintf(createCloudServiceError[0], cloudServiceKind, spec.ServiceName, noteFor(err)), 0)
	}

	requestID, err := s.session.Client.CreateCloudService(ctx, spec.ServiceName, spec.Label, spec.Location)
	if err != nil {
		return f.failCloudService(ctx, experimentID,
			fmt.Sprintf(createCloudServiceError[0], cloudServiceKind, spec.ServiceName, noteFor(err)), 0)
	}

	wait := job.MustNew(handlerAsyncWait, asyncArgs{ExperimentID: experimentID, RequestID: string(requestID)}).
		WithContinuations(
			job.MustNew(handlerCloudServiceVerify, s.args),
			job.MustNew(handlerCloudServiceFailAsync, s.args),
		)
	return f.runner.Submit(wait)
}

// verifyCloudService confirms the hosted service exists after async
// success, commits the row as ours and moves on to the virtual machine
// stage.
func (f *Formation) verifyCloudService(ctx context.Context, s *stepContext) error {
	experimentID := s.args.ExperimentID
	spec := s.session.Template.CloudService()

	exists, err := s.session.Client.CloudServiceExists(ctx, spec.ServiceName)
	if err != nil {
		return f.failCloudService(ctx, experimentID,
			fmt.Sprintf(createCloudServiceError[0], cloudServiceKind, spec.ServiceName, noteFor(err)), 0)
	}
	if !exists {
		return f.failCloudService(ctx, experimentID,
			fmt.Sprintf(createCloudServiceError[3], cloudServiceKind, spec.ServiceName), 3)
	}

	if _, err := f.repository.CreateCloudService(ctx, &database.CloudService{
		ExperimentID: experimentID,
		Name:         spec.ServiceName,
		Label:        spec.Label,
		Location:     spec.Location,
		Status:       api.ResourceStatusRunning,
		CreatedByUs:  true,
	}); err != nil {
		return f.failCloudService(ctx, experimentID,
			fmt.Sprintf(createCloudServiceError[0], cloudServiceKind, spec.ServiceName, noteFor(err)), 0)
	}

	if err := f.audit.End(ctx, experimentID, api.OperationCreateCloudService, "", audit.NoStep); err != nil {
		return err
	}
	return f.runner.Submit(f.virtualMachineCreateJob(s))
}

// failCloudServiceAsync is the failure continuation of the cloud service's
// async waiter.
func (f *Formation) failCloudServiceAsync(ctx context.Context, s *stepContext) error {
	spec := s.session.Template.CloudService()
	return f.failCloudService(ctx, s.args.ExperimentID,
		fmt.Sprintf(createCloudServiceError[2], cloudServiceKind, spec.ServiceName), 2)
}

func (f *Formation) failCloudService(ctx context.Context, experimentID int64, note string, stepIndex int) error {
	if err := f.audit.Fail(ctx, experimentID, api.OperationCreateCloudService, note, stepIndex); err != nil {
		return err
	}
	f.failCreate(ctx, experimentID, note)
	return errors.New(note)
}

// virtualMachineCreateJob builds the VM-stage entry job, serialized on the
// deployment the unit targets.
func (f *Formation) virtualMachineCreateJob(s *stepContext) *job.Job {
	return job.MustNew(handlerVirtualMachineCreate, s.args).
		WithKey(f.queueKey(s.session, s.session.Template.CloudService().ServiceName, s.session.Template.DeploymentSlot()))
}

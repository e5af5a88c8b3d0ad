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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"k8s.io/utils/clock"

	"github.com/openhackathon/azureformation/internal/api"
	"github.com/openhackathon/azureformation/internal/asm"
	"github.com/openhackathon/azureformation/internal/audit"
	"github.com/openhackathon/azureformation/internal/database"
	"github.com/openhackathon/azureformation/internal/job"
	"github.com/openhackathon/azureformation/internal/template"
	"github.com/openhackathon/azureformation/internal/waiter"
)

// Handler names. Jobs reference handlers by these stable names so a job
// value stays serializable across process boundaries.
const (
	HandlerExperimentCreate job.HandlerID = "experiment.create"
	HandlerExperimentUpdate job.HandlerID = "experiment.update"
	HandlerExperimentDelete job.HandlerID = "experiment.delete"
	HandlerExperimentStop   job.HandlerID = "experiment.stop"
	HandlerExperimentStart  job.HandlerID = "experiment.start"

	handlerAsyncWait      job.HandlerID = "async.wait"
	handlerDeploymentWait job.HandlerID = "deployment.wait"
	handlerRoleWait       job.HandlerID = "role.wait"

	handlerStorageCreate    job.HandlerID = "storageaccount.create"
	handlerStorageVerify    job.HandlerID = "storageaccount.verify"
	handlerStorageFailAsync job.HandlerID = "storageaccount.failasync"

	handlerCloudServiceCreate    job.HandlerID = "cloudservice.create"
	handlerCloudServiceVerify    job.HandlerID = "cloudservice.verify"
	handlerCloudServiceFailAsync job.HandlerID = "cloudservice.failasync"

	handlerVirtualMachineCreate    job.HandlerID = "virtualmachine.create"
	handlerVirtualMachineAddRoleOK job.HandlerID = "virtualmachine.addrole.ok"
	handlerVirtualMachineCommit    job.HandlerID = "virtualmachine.commit"
	handlerVirtualMachineFailAsync job.HandlerID = "virtualmachine.failasync"
	handlerVirtualMachineFailNet   job.HandlerID = "virtualmachine.failnetwork"
	handlerVirtualMachineFailReady job.HandlerID = "virtualmachine.failready"

	handlerDeploymentCommit    job.HandlerID = "deployment.commit"
	handlerDeploymentFailAsync job.HandlerID = "deployment.failasync"
	handlerDeploymentFailReady job.HandlerID = "deployment.failready"
)

// Session is the per-experiment context a workflow step operates in. Two
// workflows never share mutable orchestrator state; each step resolves its
// own session.
type Session struct {
	Client         asm.ClientSpec
	SubscriptionID string
	Template       *template.Template
}

// SessionFactory resolves the session for an experiment: its management
// client, subscription and parsed template.
type SessionFactory func(ctx context.Context, experimentID int64) (*Session, error)

// Config assembles a Formation.
type Config struct {
	Repository database.Repository
	Audit      *audit.Logger
	Runner     *job.Runner
	Sessions   SessionFactory
	Logger     *slog.Logger

	// Tick and Loops bound every waiter; zero values take the defaults.
	Tick  time.Duration
	Loops int

	// Clock is injectable for tests; nil takes the real clock.
	Clock clock.Clock
}

// Formation drives the per-resource-kind state machines that reconcile a
// template against the provider and the repository.
type Formation struct {
	repository database.Repository
	audit      *audit.Logger
	runner     *job.Runner
	sessions   SessionFactory
	logger     *slog.Logger
	clock      clock.Clock
	tick       time.Duration
	loops      int
}

// New builds a Formation and registers its job handlers.
func New(cfg Config, registry *job.Registry) *Formation {
	f := &Formation{
		repository: cfg.Repository,
		audit:      cfg.Audit,
		runner:     cfg.Runner,
		sessions:   cfg.Sessions,
		logger:     cfg.Logger,
		clock:      cfg.Clock,
		tick:       cfg.Tick,
		loops:      cfg.Loops,
	}
	if f.clock == nil {
		f.clock = clock.RealClock{}
	}
	if f.tick == 0 {
		f.tick = waiter.DefaultTick
	}
	if f.loops == 0 {
		f.loops = waiter.DefaultLoops
	}
	f.register(registry)
	return f
}

func (f *Formation) register(registry *job.Registry) {
	registry.Register(HandlerExperimentCreate, unitHandler(f, f.experimentCreate))
	registry.Register(HandlerExperimentUpdate, typedHandler(f, f.experimentUpdate))
	registry.Register(HandlerExperimentDelete, typedHandler(f, f.experimentDelete))
	registry.Register(HandlerExperimentStop, typedHandler(f, f.experimentStop))
	registry.Register(HandlerExperimentStart, typedHandler(f, f.experimentStart))

	registry.Register(handlerAsyncWait, typedHandler(f, f.waitAsync))
	registry.Register(handlerDeploymentWait, typedHandler(f, f.waitDeployment))
	registry.Register(handlerRoleWait, typedHandler(f, f.waitRole))

	registry.Register(handlerStorageCreate, unitHandler(f, f.createStorageAccount))
	registry.Register(handlerStorageVerify, unitHandler(f, f.verifyStorageAccount))
	registry.Register(handlerStorageFailAsync, unitHandler(f, f.failStorageAccountAsync))

	registry.Register(handlerCloudServiceCreate, unitHandler(f, f.createCloudService))
	registry.Register(handlerCloudServiceVerify, unitHandler(f, f.verifyCloudService))
	registry.Register(handlerCloudServiceFailAsync, unitHandler(f, f.failCloudServiceAsync))

	registry.Register(handlerVirtualMachineCreate, unitHandler(f, f.createVirtualMachine))
	registry.Register(handlerVirtualMachineAddRoleOK, unitHandler(f, f.virtualMachineAddRoleOK))
	registry.Register(handlerVirtualMachineCommit, unitHandler(f, f.commitVirtualMachine))
	registry.Register(handlerVirtualMachineFailAsync, unitHandler(f, f.failVirtualMachineAsync))
	registry.Register(handlerVirtualMachineFailNet, unitHandler(f, f.failVirtualMachineNetwork))
	registry.Register(handlerVirtualMachineFailReady, unitHandler(f, f.failVirtualMachineReady))

	registry.Register(handlerDeploymentCommit, unitHandler(f, f.commitDeployment))
	registry.Register(handlerDeploymentFailAsync, unitHandler(f, f.failDeploymentAsync))
	registry.Register(handlerDeploymentFailReady, unitHandler(f, f.failDeploymentReady))
}

// unitArgs addresses one virtual environment of one experiment.
type unitArgs struct {
	ExperimentID int64 `json:"experiment_id"`
	UnitIndex    int   `json:"unit_index"`
}

// asyncArgs parameterizes the generic async waiter job.
type asyncArgs struct {
	ExperimentID int64  `json:"experiment_id"`
	RequestID    string `json:"request_id"`
}

// deploymentWaitArgs parameterizes the deployment readiness waiter job.
type deploymentWaitArgs struct {
	ExperimentID   int64  `json:"experiment_id"`
	CloudService   string `json:"cloud_service"`
	DeploymentName string `json:"deployment_name"`
	Target         string `json:"target"`
}

// roleWaitArgs parameterizes the role readiness waiter job.
type roleWaitArgs struct {
	ExperimentID   int64  `json:"experiment_id"`
	CloudService   string `json:"cloud_service"`
	DeploymentName string `json:"deployment_name"`
	RoleName       string `json:"role_name"`
	Target         string `json:"target"`
}

// operationArgs parameterizes the synchronous experiment-level operations.
type operationArgs struct {
	ExperimentID int64          `json:"experiment_id"`
	Action       api.StopAction `json:"action,omitempty"`
	Force        bool           `json:"force,omitempty"`
}

// typedHandler adapts a typed step method to the job handler signature.
func typedHandler[T any](f *Formation, fn func(ctx context.Context, args T) error) job.HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) error {
		var args T
		if err := json.Unmarshal(raw, &args); err != nil {
			return fmt.Errorf("decoding job args: %w", err)
		}
		return fn(ctx, args)
	}
}

// unitHandler adapts a unit-scoped step method, resolving the session and
// the addressed template unit before invoking it.
func unitHandler(f *Formation, fn func(ctx context.Context, s *stepContext) error) job.HandlerFunc {
	return typedHandler(f, func(ctx context.Context, args unitArgs) error {
		s, err := f.stepContext(ctx, args)
		if err != nil {
			return err
		}
		return fn(ctx, s)
	})
}

// stepContext is everything a unit-scoped step needs in hand.
type stepContext struct {
	args    unitArgs
	session *Session
	unit    template.Unit
}

func (f *Formation) stepContext(ctx context.Context, args unitArgs) (*stepContext, error) {
	session, err := f.sessions(ctx, args.ExperimentID)
	if err != nil {
		return nil, err
	}
	units := session.Template.Units()
	if args.UnitIndex < 0 || args.UnitIndex >= len(units) {
		return nil, fmt.Errorf("unit index %d out of range", args.UnitIndex)
	}
	return &stepContext{
		args:    args,
		session: session,
		unit:    units[args.UnitIndex],
	}, nil
}

// queueKey builds the serialization key for jobs targeting a deployment.
func (f *Formation) queueKey(session *Session, cloudService string, slot asm.DeploymentSlot) job.QueueKey {
	return job.QueueKey{
		SubscriptionID: session.SubscriptionID,
		CloudService:   cloudService,
		Deployment:     string(slot),
	}
}

// Create dispatches the creation workflow for an experiment. The job chain
// reports through the audit log; Create returns once the work is enqueued.
func (f *Formation) Create(ctx context.Context, experimentID int64) error {
	return f.submitOperation(ctx, HandlerExperimentCreate, operationArgs{ExperimentID: experimentID})
}

// Update dispatches the update workflow for an experiment.
func (f *Formation) Update(ctx context.Context, experimentID int64) error {
	return f.submitOperation(ctx, HandlerExperimentUpdate, operationArgs{ExperimentID: experimentID})
}

// Delete dispatches the delete workflow for an experiment. Adopted
// resources are refused unless force is set.
func (f *Formation) Delete(ctx context.Context, experimentID int64, force bool) error {
	return f.submitOperation(ctx, HandlerExperimentDelete, operationArgs{ExperimentID: experimentID, Force: force})
}

// Stop dispatches the stop workflow for an experiment.
func (f *Formation) Stop(ctx context.Context, experimentID int64, action api.StopAction) error {
	return f.submitOperation(ctx, HandlerExperimentStop, operationArgs{ExperimentID: experimentID, Action: action})
}

// Start dispatches the start workflow for an experiment.
func (f *Formation) Start(ctx context.Context, experimentID int64) error {
	return f.submitOperation(ctx, HandlerExperimentStart, operationArgs{ExperimentID: experimentID})
}

func (f *Formation) submitOperation(ctx context.Context, handler job.HandlerID, args operationArgs) error {
	// Resolve the session up front so synchronous validation failures (bad
	// template, unknown experiment) surface to the caller instead of the
	// audit log.
	session, err := f.sessions(ctx, args.ExperimentID)
	if err != nil {
		return err
	}

	submitted, err := job.New(handler, args)
	if err != nil {
		return err
	}
	if handler != HandlerExperimentCreate {
		// Mutating operations on existing resources serialize against the
		// deployment they target. Creation serializes at its VM stage.
		submitted.WithKey(f.queueKey(session, session.Template.CloudService().ServiceName, session.Template.DeploymentSlot()))
	}
	return f.runner.Submit(submitted)
}

// experimentCreate opens the create workflow: it writes the enclosing START
// record and hands off to the first unit's storage account step.
func (f *Formation) experimentCreate(ctx context.Context, s *stepContext) error {
	if err := f.audit.Start(ctx, s.args.ExperimentID, api.OperationCreate); err != nil {
		return err
	}
	return f.runner.Submit(job.MustNew(handlerStorageCreate, unitArgs{ExperimentID: s.args.ExperimentID}))
}

// finishCreate closes the enclosing operations after the last unit commits.
func (f *Formation) finishCreate(ctx context.Context, s *stepContext) error {
	if s.args.UnitIndex+1 < len(s.session.Template.Units()) {
		return f.runner.Submit(job.MustNew(handlerStorageCreate,
			unitArgs{ExperimentID: s.args.ExperimentID, UnitIndex: s.args.UnitIndex + 1}))
	}
	if err := f.audit.End(ctx, s.args.ExperimentID, api.OperationCreateVirtualMachines, "", audit.NoStep); err != nil {
		return err
	}
	return f.audit.End(ctx, s.args.ExperimentID, api.OperationCreate, "", audit.NoStep)
}

// failCreate closes the enclosing create operation after a step failure.
// Downstream steps are not attempted.
func (f *Formation) failCreate(ctx context.Context, experimentID int64, note string) {
	_ = f.audit.Fail(ctx, experimentID, api.OperationCreate, note, audit.NoStep)
}

// waitAsync is the generic async poller job. Its continuations carry the
// success and failure paths of the step that issued the request.
func (f *Formation) waitAsync(ctx context.Context, args asyncArgs) error {
	session, err := f.sessions(ctx, args.ExperimentID)
	if err != nil {
		return err
	}
	w := waiter.NewWithClock(session.Client, f.clock)
	return w.ForAsync(ctx, asm.RequestID(args.RequestID), f.tick, f.loops)
}

// waitDeployment polls until a deployment reaches its target status.
func (f *Formation) waitDeployment(ctx context.Context, args deploymentWaitArgs) error {
	session, err := f.sessions(ctx, args.ExperimentID)
	if err != nil {
		return err
	}
	w := waiter.NewWithClock(session.Client, f.clock)
	return w.ForDeployment(ctx, args.CloudService, args.DeploymentName, asm.DeploymentStatus(args.Target), f.tick, f.loops)
}

// waitRole polls until a role instance reaches its target status.
func (f *Formation) waitRole(ctx context.Context, args roleWaitArgs) error {
	session, err := f.sessions(ctx, args.ExperimentID)
	if err != nil {
		return err
	}
	w := waiter.NewWithClock(session.Client, f.clock)
	return w.ForRole(ctx, args.CloudService, args.DeploymentName, args.RoleName, api.RoleInstanceStatus(args.Target), f.tick, f.loops)
}

// noteFor renders an error into an audit note, folding cancellation into
// the stable "cancelled" note.
func noteFor(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return err.Error()
}

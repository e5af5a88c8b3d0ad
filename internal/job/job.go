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

package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// HandlerID is the stable name of a job handler. Handlers are looked up at
// execution time so a job value stays serializable and survives process
// boundaries.
type HandlerID string

// HandlerFunc executes one job. A nil return dispatches the job's success
// continuation; an error dispatches the failure continuation.
type HandlerFunc func(ctx context.Context, args json.RawMessage) error

// Registry maps handler names to their implementations.
type Registry struct {
	mu       sync.RWMutex
	handlers map[HandlerID]HandlerFunc
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: map[HandlerID]HandlerFunc{}}
}

// Register binds a handler name. Registering the same name twice is a
// programming error.
func (r *Registry) Register(id HandlerID, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[id]; ok {
		panic(fmt.Sprintf("job handler %q registered twice", id))
	}
	r.handlers[id] = fn
}

// Resolve looks a handler up by name.
func (r *Registry) Resolve(id HandlerID) (HandlerFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[id]
	if !ok {
		return nil, fmt.Errorf("unknown job handler %q", id)
	}
	return fn, nil
}

// QueueKey identifies the serialization domain of a job. Jobs with the
// same non-zero key execute in FIFO submission order, honoring the
// provider's one-async-operation-per-deployment rule. The zero key applies
// no serialization.
type QueueKey struct {
	SubscriptionID string
	CloudService   string
	Deployment     string
}

// IsZero reports whether the key applies no serialization.
func (k QueueKey) IsZero() bool {
	return k == QueueKey{}
}

func (k QueueKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.SubscriptionID, k.CloudService, k.Deployment)
}

// Job is a serializable unit of work: a handler name, its arguments, an
// optional continuation pair and a serialization key. Continuations run in
// the same unit of execution as their parent, so a chain holds its queue
// slot until the whole workflow step completes.
type Job struct {
	ID        string          `json:"id"`
	Handler   HandlerID       `json:"handler"`
	Args      json.RawMessage `json:"args,omitempty"`
	Key       QueueKey        `json:"key,omitempty"`
	OnSuccess *Job            `json:"on_success,omitempty"`
	OnFailure *Job            `json:"on_failure,omitempty"`
}

// New builds a Job for a handler, marshaling args to JSON.
func New(handler HandlerID, args any) (*Job, error) {
	job := &Job{
		ID:      uuid.NewString(),
		Handler: handler,
	}
	if args != nil {
		data, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("marshaling args for %s: %w", handler, err)
		}
		job.Args = data
	}
	return job, nil
}

// MustNew is New for statically known argument types.
func MustNew(handler HandlerID, args any) *Job {
	job, err := New(handler, args)
	if err != nil {
		panic(err)
	}
	return job
}

// WithKey sets the serialization key.
func (j *Job) WithKey(key QueueKey) *Job {
	j.Key = key
	return j
}

// WithContinuations sets the success and failure continuations.
func (j *Job) WithContinuations(onSuccess, onFailure *Job) *Job {
	j.OnSuccess = onSuccess
	j.OnFailure = onFailure
	return j
}

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

package tracing

import (
	"go.opentelemetry.io/otel/attribute"
)

// Job attributes.
const (
	// JobIDKey is the span's attribute Key reporting the unique ID of the
	// job being executed.
	JobIDKey = attribute.Key("formation.job.id")

	// JobHandlerKey is the span's attribute Key reporting the stable
	// handler name of the job being executed.
	JobHandlerKey = attribute.Key("formation.job.handler")

	// QueueKeyKey is the span's attribute Key reporting the serialization
	// key of the job being executed.
	QueueKeyKey = attribute.Key("formation.job.queue_key")
)

// Workflow attributes.
const (
	// ExperimentIDKey is the span's attribute Key reporting the experiment
	// the current operation belongs to.
	ExperimentIDKey = attribute.Key("formation.experiment.id")

	// OperationKey is the span's attribute Key reporting the audit-log
	// operation name of the current step.
	OperationKey = attribute.Key("formation.operation")

	// ResourceNameKey is the span's attribute Key reporting the provider
	// resource name the current step targets.
	ResourceNameKey = attribute.Key("formation.resource.name")
)

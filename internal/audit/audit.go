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
	"fmt"
	"log/slog"

	"github.com/openhackathon/azureformation/internal/api"
	"github.com/openhackathon/azureformation/internal/database"
)

// NoStep marks a record that carries no step index.
const NoStep = -1

// Logger appends operation lifecycle records to the audit log and mirrors
// them to the process log.
type Logger struct {
	repository database.Repository
	logger     *slog.Logger
}

// NewLogger builds an audit Logger over a repository.
func NewLogger(repository database.Repository, logger *slog.Logger) *Logger {
	return &Logger{repository: repository, logger: logger}
}

// Commit appends one record. An empty note and a negative step index are
// stored as NULL.
func (l *Logger) Commit(ctx context.Context, experimentID int64, operation api.OperationName, status api.AuditStatus, note string, stepIndex int) error {
	record := &database.AuditLog{
		ExperimentID: experimentID,
		Operation:    operation,
		Status:       status,
	}
	if note != "" {
		record.Note = &note
	}
	if stepIndex >= 0 {
		step := stepIndex
		record.StepIndex = &step
	}

	if err := l.repository.AppendAuditLog(ctx, record); err != nil {
		l.logger.Error(fmt.Sprintf("Failed to append audit record: %v", err))
		return api.WrapError(api.ErrorKindPersistenceError, err)
	}

	switch status {
	case api.StatusFail:
		l.logger.Error(fmt.Sprintf("%s: %s", operation, note))
	default:
		l.logger.Debug(fmt.Sprintf("%s: %s %s", operation, status, note))
	}
	return nil
}

// Start appends the START record opening an operation.
func (l *Logger) Start(ctx context.Context, experimentID int64, operation api.OperationName) error {
	return l.Commit(ctx, experimentID, operation, api.StatusStart, "", NoStep)
}

// End appends the END record closing an operation successfully.
func (l *Logger) End(ctx context.Context, experimentID int64, operation api.OperationName, note string, stepIndex int) error {
	return l.Commit(ctx, experimentID, operation, api.StatusEnd, note, stepIndex)
}

// Fail appends the FAIL record closing an operation unsuccessfully.
func (l *Logger) Fail(ctx context.Context, experimentID int64, operation api.OperationName, note string, stepIndex int) error {
	return l.Commit(ctx, experimentID, operation, api.StatusFail, note, stepIndex)
}

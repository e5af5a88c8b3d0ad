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

package database

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepository(t *testing.T) (Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(sqlx.NewDb(db, "sqlmock")), mock
}

func TestAuditLogsSince(t *testing.T) {
	repository, mock := newMockRepository(t)

	note := "storage account [sa1] subscription not enough"
	step := 2
	rows := sqlmock.NewRows([]string{"id", "experiment_id", "operation", "status", "note", "step_index", "exec_time"}).
		AddRow(int64(7), int64(1), "create storage account", "fail", note, step, time.Now())

	mock.ExpectQuery(`SELECT \* FROM audit_log`).
		WithArgs(int64(1), "create%", int64(3)).
		WillReturnRows(rows)

	records, err := repository.AuditLogsSince(context.Background(), 1, "create", 3)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(7), records[0].ID)
	require.NotNil(t, records[0].Note)
	assert.Equal(t, note, *records[0].Note)
	require.NotNil(t, records[0].StepIndex)
	assert.Equal(t, 2, *records[0].StepIndex)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceEndpointsIsTransactional(t *testing.T) {
	repository, mock := newMockRepository(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM endpoint WHERE virtual_machine_id = $1`)).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO endpoint`)).
		WithArgs(int64(2), int64(5), "ssh", "TCP", 2222, 22).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO endpoint`)).
		WithArgs(int64(2), int64(5), "http", "TCP", 80, 80).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	err := repository.ReplaceEndpoints(context.Background(), 5, []Endpoint{
		{CloudServiceID: 2, Name: "ssh", Protocol: "TCP", PublicPort: 2222, LocalPort: 22},
		{CloudServiceID: 2, Name: "http", Protocol: "TCP", PublicPort: 80, LocalPort: 80},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceEndpointsRollsBackOnError(t *testing.T) {
	repository, mock := newMockRepository(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM endpoint WHERE virtual_machine_id = $1`)).
		WithArgs(int64(5)).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := repository.ReplaceEndpoints(context.Background(), 5, nil)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteCloudServiceCascadeNotFound(t *testing.T) {
	repository, mock := newMockRepository(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM cloud_service WHERE id = $1`)).
		WithArgs(int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repository.DeleteCloudServiceCascade(context.Background(), 9)
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetStorageAccountByNameNotFound(t *testing.T) {
	repository, mock := newMockRepository(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM storage_account WHERE name = $1`)).
		WithArgs("sa1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repository.GetStorageAccountByName(context.Background(), "sa1")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

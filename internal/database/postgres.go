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
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// postgresRepository implements Repository over a sqlx connection pool.
type postgresRepository struct {
	db *sqlx.DB
}

var _ Repository = &postgresRepository{}

// NewRepository wraps a connected database handle in a Repository.
func NewRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// inTx runs fn inside a transaction, committing on nil and rolling back
// otherwise.
func (r *postgresRepository) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (r *postgresRepository) CreateUserInfo(ctx context.Context, name, email string) (*UserInfo, error) {
	var user UserInfo
	err := r.db.GetContext(ctx, &user,
		`INSERT INTO user_info (name, email) VALUES ($1, $2) RETURNING *`,
		name, email)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *postgresRepository) FindUserInfoByEmail(ctx context.Context, email string) (*UserInfo, error) {
	var user UserInfo
	err := r.db.GetContext(ctx, &user,
		`SELECT * FROM user_info WHERE email = $1 ORDER BY id DESC LIMIT 1`, email)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &user, nil
}

func (r *postgresRepository) GetUserInfo(ctx context.Context, id int64) (*UserInfo, error) {
	var user UserInfo
	err := r.db.GetContext(ctx, &user, `SELECT * FROM user_info WHERE id = $1`, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &user, nil
}

func (r *postgresRepository) FindCredential(ctx context.Context, userInfoID int64, subscriptionID string) (*ManagementCredential, error) {
	var credential ManagementCredential
	err := r.db.GetContext(ctx, &credential,
		`SELECT * FROM management_credential WHERE user_info_id = $1 AND subscription_id = $2`,
		userInfoID, subscriptionID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &credential, nil
}

func (r *postgresRepository) FindCredentialByUser(ctx context.Context, userInfoID int64) (*ManagementCredential, error) {
	var credential ManagementCredential
	err := r.db.GetContext(ctx, &credential,
		`SELECT * FROM management_credential WHERE user_info_id = $1 ORDER BY id DESC LIMIT 1`,
		userInfoID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &credential, nil
}

func (r *postgresRepository) CreateCredential(ctx context.Context, credential *ManagementCredential) (*ManagementCredential, error) {
	var created ManagementCredential
	err := r.db.GetContext(ctx, &created,
		`INSERT INTO management_credential (user_info_id, subscription_id, management_host, pem_path, cert_path)
		 VALUES ($1, $2, $3, $4, $5) RETURNING *`,
		credential.UserInfoID, credential.SubscriptionID, credential.ManagementHost,
		credential.PEMPath, credential.CertPath)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (r *postgresRepository) CreateTemplate(ctx context.Context, url string, kind TemplateKind) (*Template, error) {
	var template Template
	err := r.db.GetContext(ctx, &template,
		`INSERT INTO template (url, kind) VALUES ($1, $2) RETURNING *`, url, kind)
	if err != nil {
		return nil, err
	}
	return &template, nil
}

func (r *postgresRepository) GetTemplate(ctx context.Context, id int64) (*Template, error) {
	var template Template
	err := r.db.GetContext(ctx, &template, `SELECT * FROM template WHERE id = $1`, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &template, nil
}

func (r *postgresRepository) CreateUserTemplate(ctx context.Context, userInfoID, templateID int64) (*UserTemplate, error) {
	var userTemplate UserTemplate
	err := r.db.GetContext(ctx, &userTemplate,
		`INSERT INTO user_template (user_info_id, template_id) VALUES ($1, $2) RETURNING *`,
		userInfoID, templateID)
	if err != nil {
		return nil, err
	}
	return &userTemplate, nil
}

func (r *postgresRepository) GetUserTemplate(ctx context.Context, id int64) (*UserTemplate, error) {
	var userTemplate UserTemplate
	err := r.db.GetContext(ctx, &userTemplate, `SELECT * FROM user_template WHERE id = $1`, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &userTemplate, nil
}

func (r *postgresRepository) CreateExperiment(ctx context.Context, userTemplateID int64) (*Experiment, error) {
	var experiment Experiment
	err := r.db.GetContext(ctx, &experiment,
		`INSERT INTO experiment (user_template_id) VALUES ($1) RETURNING *`, userTemplateID)
	if err != nil {
		return nil, err
	}
	return &experiment, nil
}

func (r *postgresRepository) GetExperiment(ctx context.Context, id int64) (*Experiment, error) {
	var experiment Experiment
	err := r.db.GetContext(ctx, &experiment, `SELECT * FROM experiment WHERE id = $1`, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &experiment, nil
}

func (r *postgresRepository) AppendAuditLog(ctx context.Context, record *AuditLog) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_log (experiment_id, operation, status, note, step_index)
		 VALUES ($1, $2, $3, $4, $5)`,
		record.ExperimentID, record.Operation, record.Status, record.Note, record.StepIndex)
	return err
}

func (r *postgresRepository) AuditLogsSince(ctx context.Context, experimentID int64, operationPrefix string, afterID int64) ([]AuditLog, error) {
	var records []AuditLog
	err := r.db.SelectContext(ctx, &records,
		`SELECT * FROM audit_log
		 WHERE experiment_id = $1 AND operation LIKE $2 AND id > $3
		 ORDER BY id`,
		experimentID, operationPrefix+"%", afterID)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *postgresRepository) GetStorageAccountByName(ctx context.Context, name string) (*StorageAccount, error) {
	var account StorageAccount
	err := r.db.GetContext(ctx, &account,
		`SELECT * FROM storage_account WHERE name = $1 ORDER BY id DESC LIMIT 1`, name)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &account, nil
}

func (r *postgresRepository) DeleteStorageAccountByName(ctx context.Context, name string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM storage_account WHERE name = $1`, name)
	return err
}

func (r *postgresRepository) CreateStorageAccount(ctx context.Context, account *StorageAccount) (*StorageAccount, error) {
	var created StorageAccount
	err := r.db.GetContext(ctx, &created,
		`INSERT INTO storage_account (experiment_id, name, description, label, location, status, created_by_us)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING *`,
		account.ExperimentID, account.Name, account.Description, account.Label,
		account.Location, account.Status, account.CreatedByUs)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (r *postgresRepository) GetCloudServiceByName(ctx context.Context, name string) (*CloudService, error) {
	var service CloudService
	err := r.db.GetContext(ctx, &service,
		`SELECT * FROM cloud_service WHERE name = $1 ORDER BY id DESC LIMIT 1`, name)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &service, nil
}

func (r *postgresRepository) DeleteCloudServiceByName(ctx context.Context, name string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM cloud_service WHERE name = $1`, name)
	return err
}

func (r *postgresRepository) CreateCloudService(ctx context.Context, service *CloudService) (*CloudService, error) {
	var created CloudService
	err := r.db.GetContext(ctx, &created,
		`INSERT INTO cloud_service (experiment_id, name, label, location, status, created_by_us)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING *`,
		service.ExperimentID, service.Name, service.Label, service.Location,
		service.Status, service.CreatedByUs)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (r *postgresRepository) DeleteCloudServiceCascade(ctx context.Context, id int64) error {
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		// Endpoint, virtual machine and deployment rows cascade from their
		// foreign keys; one delete removes the whole containment tree.
		result, err := tx.ExecContext(ctx, `DELETE FROM cloud_service WHERE id = $1`, id)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("cloud service %d: %w", id, ErrNotFound)
		}
		return nil
	})
}

func (r *postgresRepository) GetDeploymentBySlot(ctx context.Context, cloudServiceName, slot string) (*Deployment, error) {
	var deployment Deployment
	err := r.db.GetContext(ctx, &deployment,
		`SELECT * FROM deployment WHERE cloud_service_name = $1 AND slot = $2 ORDER BY id DESC LIMIT 1`,
		cloudServiceName, slot)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &deployment, nil
}

func (r *postgresRepository) GetDeploymentByName(ctx context.Context, cloudServiceName, deploymentName string) (*Deployment, error) {
	var deployment Deployment
	err := r.db.GetContext(ctx, &deployment,
		`SELECT * FROM deployment WHERE cloud_service_name = $1 AND name = $2 ORDER BY id DESC LIMIT 1`,
		cloudServiceName, deploymentName)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &deployment, nil
}

func (r *postgresRepository) CreateDeployment(ctx context.Context, deployment *Deployment) (*Deployment, error) {
	var created Deployment
	err := r.db.GetContext(ctx, &created,
		`INSERT INTO deployment (cloud_service_id, experiment_id, cloud_service_name, name, slot, status, created_by_us)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING *`,
		deployment.CloudServiceID, deployment.ExperimentID, deployment.CloudServiceName,
		deployment.Name, deployment.Slot, deployment.Status, deployment.CreatedByUs)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (r *postgresRepository) DeleteDeploymentCascade(ctx context.Context, id int64) error {
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM deployment WHERE id = $1`, id)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("deployment %d: %w", id, ErrNotFound)
		}
		return nil
	})
}

func (r *postgresRepository) GetVirtualMachine(ctx context.Context, cloudServiceName, deploymentName, name string) (*VirtualMachine, error) {
	var vm VirtualMachine
	err := r.db.GetContext(ctx, &vm,
		`SELECT * FROM virtual_machine
		 WHERE cloud_service_name = $1 AND deployment_name = $2 AND name = $3
		 ORDER BY id DESC LIMIT 1`,
		cloudServiceName, deploymentName, name)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &vm, nil
}

func (r *postgresRepository) CreateVirtualMachine(ctx context.Context, vm *VirtualMachine) (*VirtualMachine, error) {
	var created VirtualMachine
	err := r.db.GetContext(ctx, &created,
		`INSERT INTO virtual_machine
		 (deployment_id, experiment_id, cloud_service_name, deployment_name, name, label, status, dns, public_ip, private_ip, created_by_us)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING *`,
		vm.DeploymentID, vm.ExperimentID, vm.CloudServiceName, vm.DeploymentName,
		vm.Name, vm.Label, vm.Status, vm.DNS, vm.PublicIP, vm.PrivateIP, vm.CreatedByUs)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (r *postgresRepository) UpdateVirtualMachineStatus(ctx context.Context, id int64, status string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE virtual_machine SET status = $2, last_modify_time = now() WHERE id = $1`, id, status)
	return err
}

func (r *postgresRepository) UpdateVirtualMachinePrivateIP(ctx context.Context, id int64, privateIP string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE virtual_machine SET private_ip = $2, last_modify_time = now() WHERE id = $1`, id, privateIP)
	return err
}

func (r *postgresRepository) DeleteVirtualMachineCascade(ctx context.Context, id int64) error {
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM virtual_machine WHERE id = $1`, id)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("virtual machine %d: %w", id, ErrNotFound)
		}
		return nil
	})
}

func (r *postgresRepository) AddUnboundEndpoint(ctx context.Context, endpoint *Endpoint) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO endpoint (cloud_service_id, virtual_machine_id, name, protocol, public_port, local_port)
		 VALUES ($1, NULL, $2, $3, $4, $5)`,
		endpoint.CloudServiceID, endpoint.Name, endpoint.Protocol,
		endpoint.PublicPort, endpoint.LocalPort)
	return err
}

func (r *postgresRepository) BindUnboundEndpoints(ctx context.Context, cloudServiceID, virtualMachineID int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE endpoint SET virtual_machine_id = $2
		 WHERE cloud_service_id = $1 AND virtual_machine_id IS NULL`,
		cloudServiceID, virtualMachineID)
	return err
}

func (r *postgresRepository) RollbackUnboundEndpoints(ctx context.Context, cloudServiceID int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM endpoint WHERE cloud_service_id = $1 AND virtual_machine_id IS NULL`,
		cloudServiceID)
	return err
}

func (r *postgresRepository) ListEndpoints(ctx context.Context, virtualMachineID int64) ([]Endpoint, error) {
	var endpoints []Endpoint
	err := r.db.SelectContext(ctx, &endpoints,
		`SELECT * FROM endpoint WHERE virtual_machine_id = $1 ORDER BY id`, virtualMachineID)
	if err != nil {
		return nil, err
	}
	return endpoints, nil
}

func (r *postgresRepository) ReplaceEndpoints(ctx context.Context, virtualMachineID int64, endpoints []Endpoint) error {
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM endpoint WHERE virtual_machine_id = $1`, virtualMachineID); err != nil {
			return err
		}
		for _, endpoint := range endpoints {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO endpoint (cloud_service_id, virtual_machine_id, name, protocol, public_port, local_port)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				endpoint.CloudServiceID, virtualMachineID, endpoint.Name,
				endpoint.Protocol, endpoint.PublicPort, endpoint.LocalPort); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *postgresRepository) CreateVirtualEnvironment(ctx context.Context, environment *VirtualEnvironment) (*VirtualEnvironment, error) {
	var created VirtualEnvironment
	err := r.db.GetContext(ctx, &created,
		`INSERT INTO virtual_environment
		 (experiment_id, virtual_machine_id, provider, name, image, status, remote_provider, remote_paras)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING *`,
		environment.ExperimentID, environment.VirtualMachineID, environment.Provider,
		environment.Name, environment.Image, environment.Status,
		environment.RemoteProvider, environment.RemoteParas)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (r *postgresRepository) UpdateVirtualEnvironmentStatus(ctx context.Context, virtualMachineID int64, status string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE virtual_environment SET status = $2, last_modify_time = now() WHERE virtual_machine_id = $1`,
		virtualMachineID, status)
	return err
}

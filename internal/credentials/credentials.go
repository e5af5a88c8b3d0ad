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

package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/openhackathon/azureformation/internal/database"
)

// Registrar performs the one-time setup of per-user management
// credentials: a self-signed PEM (certificate plus key) the management
// client presents over mutual TLS, and its DER form the user uploads to
// the subscription.
type Registrar struct {
	repository database.Repository
	dir        string
	logger     *slog.Logger
}

// NewRegistrar builds a Registrar writing certificates under dir.
func NewRegistrar(repository database.Repository, dir string, logger *slog.Logger) *Registrar {
	return &Registrar{repository: repository, dir: dir, logger: logger}
}

// Register creates the user, materializes the certificate pair and records
// the management credential. An existing user with the same email is
// reused, as are its certificate files and credential rows, so
// registration is idempotent per (user, subscription).
func (r *Registrar) Register(ctx context.Context, name, email, subscriptionID, managementHost string) (*database.ManagementCredential, error) {
	user, err := r.repository.FindUserInfoByEmail(ctx, email)
	if errors.Is(err, database.ErrNotFound) {
		user, err = r.repository.CreateUserInfo(ctx, name, email)
	}
	if err != nil {
		return nil, err
	}

	pemPath, certPath, err := r.materialize(ctx, user.ID, subscriptionID)
	if err != nil {
		return nil, err
	}

	credential, err := r.repository.FindCredential(ctx, user.ID, subscriptionID)
	if err == nil {
		r.logger.Debug(fmt.Sprintf("management credential %d already registered", credential.ID))
		return credential, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	return r.repository.CreateCredential(ctx, &database.ManagementCredential{
		UserInfoID:     user.ID,
		SubscriptionID: subscriptionID,
		ManagementHost: managementHost,
		PEMPath:        pemPath,
		CertPath:       certPath,
	})
}

// materialize writes certificates/<userid>-<subscription>.{pem,cer},
// shelling out to the local TLS toolchain. Existing files are not
// re-issued.
func (r *Registrar) materialize(ctx context.Context, userID int64, subscriptionID string) (string, string, error) {
	if err := os.MkdirAll(r.dir, 0o700); err != nil {
		return "", "", err
	}

	base := filepath.Join(r.dir, fmt.Sprintf("%d-%s", userID, subscriptionID))
	pemPath := base + ".pem"
	certPath := base + ".cer"

	if _, err := os.Stat(pemPath); err == nil {
		r.logger.Debug(fmt.Sprintf("%s exist", pemPath))
	} else {
		cmd := exec.CommandContext(ctx, "openssl", "req",
			"-x509", "-nodes", "-days", "365",
			"-newkey", "rsa:1024",
			"-keyout", pemPath, "-out", pemPath,
			"-batch")
		if output, err := cmd.CombinedOutput(); err != nil {
			return "", "", fmt.Errorf("generating %s: %w: %s", pemPath, err, output)
		}
	}

	if _, err := os.Stat(certPath); err == nil {
		r.logger.Debug(fmt.Sprintf("%s exist", certPath))
	} else {
		cmd := exec.CommandContext(ctx, "openssl", "x509",
			"-inform", "pem", "-in", pemPath,
			"-outform", "der", "-out", certPath)
		if output, err := cmd.CombinedOutput(); err != nil {
			return "", "", fmt.Errorf("generating %s: %w: %s", certPath, err, output)
		}
	}

	return pemPath, certPath, nil
}

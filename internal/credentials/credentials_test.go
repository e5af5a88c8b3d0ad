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
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhackathon/azureformation/internal/database"
)

func TestRegisterIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	repository := database.NewFakeRepository()
	registrar := NewRegistrar(repository, dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	// Pre-seed the certificate pair for the user the first registration
	// will resolve to, so neither call shells out to openssl.
	user, err := repository.CreateUserInfo(ctx, "alice", "alice@example.com")
	require.NoError(t, err)
	base := filepath.Join(dir, "1-sub-1")
	require.Equal(t, int64(1), user.ID)
	pemPath := base + ".pem"
	certPath := base + ".cer"
	require.NoError(t, os.WriteFile(pemPath, []byte("dummy pem"), 0o600))
	require.NoError(t, os.WriteFile(certPath, []byte("dummy cer"), 0o600))

	first, err := registrar.Register(ctx, "alice", "alice@example.com", "sub-1", "management.core.windows.net")
	require.NoError(t, err)
	assert.Equal(t, user.ID, first.UserInfoID)
	assert.Equal(t, pemPath, first.PEMPath)
	assert.Equal(t, certPath, first.CertPath)
	assert.Equal(t, "sub-1", first.SubscriptionID)
	assert.Equal(t, "management.core.windows.net", first.ManagementHost)

	// Re-registering the same person and subscription reuses the user,
	// the credential row and the certificate files.
	second, err := registrar.Register(ctx, "alice", "alice@example.com", "sub-1", "management.core.windows.net")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.UserInfoID, second.UserInfoID)
	assert.Equal(t, first.PEMPath, second.PEMPath)

	assert.Len(t, repository.Users, 1, "re-registration must not insert a second user")
	assert.Len(t, repository.Credentials, 1, "re-registration must not insert a second credential")

	data, err := os.ReadFile(pemPath)
	require.NoError(t, err)
	assert.Equal(t, "dummy pem", string(data), "certificate files must not be re-issued")
}

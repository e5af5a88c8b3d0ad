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

// Resource kind names rendered into audit notes.
const (
	storageAccountKind = "storage account"
	cloudServiceKind   = "cloud service"
	deploymentKind     = "deployment"
	virtualMachineKind = "virtual machine"
)

// Per-operation message tables. The position of a message is its stable
// step index, recorded next to the note so the UI can render the same
// string on reruns.

var createStorageAccountError = []string{
	"%s [%s] %s",
	"%s [%s] name not available",
	"%s [%s] subscription not enough",
	"%s [%s] wait for async fail",
	"%s [%s] created but not exist",
}

var createStorageAccountInfo = []string{
	"%s [%s] exist but not created by %s before",
	"%s [%s] exist and created by %s before",
}

var createCloudServiceError = []string{
	"%s [%s] %s",
	"%s [%s] name not available",
	"%s [%s] wait for async fail",
	"%s [%s] created but not exist",
}

var createCloudServiceInfo = []string{
	"%s [%s] exist but not created by %s before",
	"%s [%s] exist and created by %s before",
}

var createDeploymentError = []string{
	"%s [%s] %s",
	"%s [%s] subscription not enough",
	"%s [%s] wait for async fail",
	"%s [%s] wait for deployment fail",
}

var createDeploymentInfo = []string{
	"%s [%s] created",
	"%s [%s] exist and created by %s before",
	"%s [%s] exist but not created by %s before",
}

var createVirtualMachineError = []string{
	"%s [%s] %s",
	"%s [%s] subscription not enough",
	"%s [%s] wait for async fail",
	"%s [%s] wait for async fail (update network config)",
	"%s [%s] exist but not created by %s before",
	"%s [%s] wait for virtual machine fail",
}

var createVirtualMachineInfo = []string{
	"%s [%s] created",
	"%s [%s] exist and created by %s before",
	"%s [%s] exist but not created by %s before",
}

var updateVirtualMachineError = []string{
	"%s [%s] %s",
	"%s [%s] not exist in database",
	"%s [%s] not exist in azure",
	"%s [%s] wait for async fail",
	"%s [%s] updated but not ready",
	"%s [%s] updated but failed",
}

var deleteDeploymentError = []string{
	"%s [%s] %s",
	"%s [%s] wait for async fail",
	"%s [%s] deleted but still exist",
}

var deleteVirtualMachineError = []string{
	"%s [%s] %s",
	"%s [%s] not exist in database",
	"%s [%s] not exist in azure",
	"%s [%s] wait for async fail",
	"%s [%s] deleted but still exist",
	"%s [%s] not created by %s, refuse to delete",
}

var stopVirtualMachineError = []string{
	"%s [%s] %s",
	"%s [%s] need status %s but now status %s",
	"%s [%s] wait for async fail",
	"%s [%s] wait for virtual machine fail",
}

var stopVirtualMachineInfo = []string{
	"%s [%s] %s",
	"%s [%s] %s and by %s before",
	"%s [%s] %s but not by %s before",
}

var startVirtualMachineError = []string{
	"%s [%s] %s",
	"%s [%s] wait for async fail",
	"%s [%s] wait for virtual machine fail",
}

var startVirtualMachineInfo = []string{
	"%s [%s] started",
	"%s [%s] started by %s before",
	"%s [%s] started but not by %s before",
}

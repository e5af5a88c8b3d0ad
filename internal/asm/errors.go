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

package asm

import (
	"errors"
	"fmt"
	"net/http"
)

// Management API error codes the engine inspects.
const (
	ErrorCodeResourceNotFound = "ResourceNotFound"
	ErrorCodeConflict         = "ConflictError"
	ErrorCodeBadRequest       = "BadRequest"
)

// Error is a management API failure. The code and message are preserved
// verbatim so audit notes can surface the provider's own wording.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("management request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsNotFound reports whether err is the provider's "resource not found"
// sentinel. Existence checks normalize this to a false result rather than
// an error.
func IsNotFound(err error) bool {
	var asmErr *Error
	if errors.As(err, &asmErr) {
		return asmErr.StatusCode == http.StatusNotFound || asmErr.Code == ErrorCodeResourceNotFound
	}
	return false
}

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

package api

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an orchestration failure. Kinds are invariant and are
// intended to be consumed programmatically; the Message carries the detail
// rendered into audit notes.
type ErrorKind string

const (
	ErrorKindInvalidTemplate        ErrorKind = "InvalidTemplate"
	ErrorKindNameUnavailable        ErrorKind = "NameUnavailable"
	ErrorKindQuotaExhausted         ErrorKind = "QuotaExhausted"
	ErrorKindProviderTransport      ErrorKind = "ProviderTransport"
	ErrorKindProviderRejected       ErrorKind = "ProviderRejected"
	ErrorKindAsyncTimeout           ErrorKind = "AsyncTimeout"
	ErrorKindReadinessTimeout       ErrorKind = "ReadinessTimeout"
	ErrorKindPostconditionsViolated ErrorKind = "PostconditionsViolated"
	ErrorKindStateIllegal           ErrorKind = "StateIllegal"
	ErrorKindPersistenceError       ErrorKind = "PersistenceError"
)

// Error is a classified orchestration error.
type Error struct {
	Kind    ErrorKind
	Message string
	err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.err
}

// NewError creates a classified error with a formatted message.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError classifies an underlying error, preserving it for errors.Is/As.
func WrapError(kind ErrorKind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: err.Error(), err: err}
}

// KindOf extracts the ErrorKind from err, or "" if err is not classified.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

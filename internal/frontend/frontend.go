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

package frontend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"

	"github.com/openhackathon/azureformation/internal/api"
	"github.com/openhackathon/azureformation/internal/credentials"
	"github.com/openhackathon/azureformation/internal/database"
	"github.com/openhackathon/azureformation/internal/workflow"
)

type contextKey int

// ContextKeyLogger carries the request logger through the middleware chain.
const ContextKeyLogger contextKey = iota

// LoggerFromContext returns the request logger, falling back to the
// process default.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ContextKeyLogger).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// Frontend is the HTTP surface: user registration, template upload,
// operation dispatch and audit-log polling. All provisioning work happens
// in the background job runner; handlers only validate and enqueue.
type Frontend struct {
	logger     *slog.Logger
	listener   net.Listener
	server     http.Server
	repository database.Repository
	formation  *workflow.Formation
	registrar  *credentials.Registrar
	ready      atomic.Value
	done       chan struct{}
}

// NewFrontend builds the HTTP surface over its collaborators.
func NewFrontend(logger *slog.Logger, listener net.Listener, repository database.Repository, formation *workflow.Formation, registrar *credentials.Registrar) *Frontend {
	f := &Frontend{
		logger:     logger,
		listener:   listener,
		repository: repository,
		formation:  formation,
		registrar:  registrar,
		done:       make(chan struct{}),
	}
	f.server = http.Server{
		ErrorLog: slog.NewLogLogger(logger.Handler(), slog.LevelError),
		BaseContext: func(net.Listener) context.Context {
			return context.WithValue(context.Background(), ContextKeyLogger, logger)
		},
	}

	mux := NewMiddlewareMux(
		MiddlewarePanic,
		MiddlewareLogging)

	mux.HandleFunc("/", f.NotFound)
	mux.HandleFunc("GET /healthz/ready", f.HealthzReady)
	mux.HandleFunc("POST /users", f.RegisterUser)
	mux.HandleFunc("POST /templates", f.UploadTemplate)
	mux.HandleFunc("POST /experiments", f.CreateExperiment)
	mux.HandleFunc("POST /experiments/{id}/{action}", f.DispatchOperation)
	mux.HandleFunc("GET /experiments/{id}/operations", f.ListOperations)
	f.server.Handler = mux

	return f
}

// Run serves until the stop channel closes.
func (f *Frontend) Run(ctx context.Context, stop <-chan struct{}) {
	if stop != nil {
		go func() {
			<-stop
			f.ready.Store(false)
			_ = f.server.Shutdown(ctx)
		}()
	}

	f.logger.Info(fmt.Sprintf("listening on %s", f.listener.Addr().String()))

	f.ready.Store(true)

	err := f.server.Serve(f.listener)
	if err != http.ErrServerClosed {
		f.logger.Error(err.Error())
		os.Exit(1)
	}

	close(f.done)
}

// Join waits for the Frontend to gracefully shut down.
func (f *Frontend) Join() {
	<-f.done
}

// CheckReady reports whether the server is accepting requests.
func (f *Frontend) CheckReady() bool {
	ready, ok := f.ready.Load().(bool)
	return ok && ready
}

func (f *Frontend) NotFound(writer http.ResponseWriter, request *http.Request) {
	writeError(writer, http.StatusNotFound, "NotFound", "The requested path could not be found.")
}

func (f *Frontend) HealthzReady(writer http.ResponseWriter, request *http.Request) {
	if f.CheckReady() {
		writer.WriteHeader(http.StatusOK)
	} else {
		writer.WriteHeader(http.StatusInternalServerError)
	}
}

type registerUserRequest struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	SubscriptionID string `json:"subscription_id"`
	ManagementHost string `json:"management_host"`
}

// RegisterUser creates a user and materializes its management credential.
func (f *Frontend) RegisterUser(writer http.ResponseWriter, request *http.Request) {
	var body registerUserRequest
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		writeError(writer, http.StatusBadRequest, "InvalidRequestContent", err.Error())
		return
	}
	if body.Name == "" || body.SubscriptionID == "" || body.ManagementHost == "" {
		writeError(writer, http.StatusBadRequest, "InvalidRequestContent", "name, subscription_id and management_host are required.")
		return
	}

	credential, err := f.registrar.Register(request.Context(), body.Name, body.Email, body.SubscriptionID, body.ManagementHost)
	if err != nil {
		writeError(writer, http.StatusInternalServerError, "InternalServerError", err.Error())
		return
	}
	writeJSON(writer, http.StatusCreated, credential)
}

type uploadTemplateRequest struct {
	UserInfoID int64  `json:"user_info_id"`
	URL        string `json:"url"`
	Kind       string `json:"kind"`
}

// UploadTemplate records a template document and binds it to a user.
func (f *Frontend) UploadTemplate(writer http.ResponseWriter, request *http.Request) {
	var body uploadTemplateRequest
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		writeError(writer, http.StatusBadRequest, "InvalidRequestContent", err.Error())
		return
	}
	if body.URL == "" || body.UserInfoID == 0 {
		writeError(writer, http.StatusBadRequest, "InvalidRequestContent", "user_info_id and url are required.")
		return
	}
	kind := database.TemplateKind(body.Kind)
	if kind == "" {
		kind = database.TemplateKindCreate
	}

	ctx := request.Context()
	tmpl, err := f.repository.CreateTemplate(ctx, body.URL, kind)
	if err != nil {
		writeError(writer, http.StatusInternalServerError, "InternalServerError", err.Error())
		return
	}
	userTemplate, err := f.repository.CreateUserTemplate(ctx, body.UserInfoID, tmpl.ID)
	if err != nil {
		writeError(writer, http.StatusInternalServerError, "InternalServerError", err.Error())
		return
	}
	writeJSON(writer, http.StatusCreated, userTemplate)
}

type createExperimentRequest struct {
	UserTemplateID int64 `json:"user_template_id"`
}

// CreateExperiment opens an experiment over a submitted template.
func (f *Frontend) CreateExperiment(writer http.ResponseWriter, request *http.Request) {
	var body createExperimentRequest
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		writeError(writer, http.StatusBadRequest, "InvalidRequestContent", err.Error())
		return
	}
	if body.UserTemplateID == 0 {
		writeError(writer, http.StatusBadRequest, "InvalidRequestContent", "user_template_id is required.")
		return
	}

	experiment, err := f.repository.CreateExperiment(request.Context(), body.UserTemplateID)
	if err != nil {
		writeError(writer, http.StatusInternalServerError, "InternalServerError", err.Error())
		return
	}
	writeJSON(writer, http.StatusCreated, experiment)
}

type dispatchRequest struct {
	Action string `json:"action,omitempty"`
	Force  bool   `json:"force,omitempty"`
}

// DispatchOperation starts a create/update/delete/stop/start workflow for
// an experiment. The response only acknowledges the dispatch; progress is
// reported through the audit log.
func (f *Frontend) DispatchOperation(writer http.ResponseWriter, request *http.Request) {
	experimentID, err := strconv.ParseInt(request.PathValue("id"), 10, 64)
	if err != nil {
		writeError(writer, http.StatusBadRequest, "InvalidRequestContent", "invalid experiment id")
		return
	}

	var body dispatchRequest
	if request.ContentLength > 0 {
		if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
			writeError(writer, http.StatusBadRequest, "InvalidRequestContent", err.Error())
			return
		}
	}

	ctx := request.Context()
	switch request.PathValue("action") {
	case "create":
		err = f.formation.Create(ctx, experimentID)
	case "update":
		err = f.formation.Update(ctx, experimentID)
	case "delete":
		err = f.formation.Delete(ctx, experimentID, body.Force)
	case "stop":
		action := api.StopAction(body.Action)
		if action == "" {
			action = api.ActionStopped
		}
		err = f.formation.Stop(ctx, experimentID, action)
	case "start":
		err = f.formation.Start(ctx, experimentID)
	default:
		writeError(writer, http.StatusNotFound, "NotFound", "unknown operation")
		return
	}

	if err != nil {
		status := http.StatusInternalServerError
		code := "InternalServerError"
		if errors.Is(err, database.ErrNotFound) {
			status, code = http.StatusNotFound, "NotFound"
		} else if api.KindOf(err) == api.ErrorKindInvalidTemplate {
			status, code = http.StatusBadRequest, "InvalidTemplate"
		}
		writeError(writer, status, code, err.Error())
		return
	}

	writer.WriteHeader(http.StatusAccepted)
}

// ListOperations returns audit records for an experiment newer than the
// given cursor, optionally filtered by operation prefix.
func (f *Frontend) ListOperations(writer http.ResponseWriter, request *http.Request) {
	experimentID, err := strconv.ParseInt(request.PathValue("id"), 10, 64)
	if err != nil {
		writeError(writer, http.StatusBadRequest, "InvalidRequestContent", "invalid experiment id")
		return
	}

	var afterID int64
	if after := request.URL.Query().Get("after"); after != "" {
		afterID, err = strconv.ParseInt(after, 10, 64)
		if err != nil {
			writeError(writer, http.StatusBadRequest, "InvalidRequestContent", "invalid after cursor")
			return
		}
	}
	prefix := request.URL.Query().Get("operation")

	records, err := f.repository.AuditLogsSince(request.Context(), experimentID, prefix, afterID)
	if err != nil {
		writeError(writer, http.StatusInternalServerError, "InternalServerError", err.Error())
		return
	}
	writeJSON(writer, http.StatusOK, records)
}

// errorResponse is the error body shape shared by every endpoint.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(writer http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(writer, statusCode, errorResponse{Error: errorBody{Code: code, Message: message}})
}

func writeJSON(writer http.ResponseWriter, statusCode int, body any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(statusCode)
	_ = json.NewEncoder(writer).Encode(body)
}

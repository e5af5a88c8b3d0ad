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
	"fmt"
	"net/http"
	"runtime/debug"
	"time"
)

// LoggingResponseWriter captures the response status for request logging.
type LoggingResponseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (w *LoggingResponseWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += n
	return n, err
}

func (w *LoggingResponseWriter) WriteHeader(statusCode int) {
	w.ResponseWriter.WriteHeader(statusCode)
	w.statusCode = statusCode
}

// MiddlewareLogging logs one line per request with its status and latency.
func MiddlewareLogging(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	lw := &LoggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

	startTime := time.Now()
	logger := LoggerFromContext(r.Context()).With(
		"request_method", r.Method,
		"request_path", r.URL.Path,
		"request_remote_addr", r.RemoteAddr,
	)

	logger.Info("read request")
	next(lw, r)
	logger.Info("send response",
		"response_status_code", lw.statusCode,
		"response_body_bytes", lw.bytesWritten,
		"duration", time.Since(startTime).Seconds(),
	)
}

// MiddlewarePanic converts handler panics into 500 responses.
func MiddlewarePanic(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	defer func() {
		if e := recover(); e != nil {
			LoggerFromContext(r.Context()).Error(fmt.Sprintf("panic: %#v\n%s\n", e, string(debug.Stack())))
			writeError(w, http.StatusInternalServerError, "InternalServerError", "Internal server error.")
		}
	}()

	next(w, r)
}

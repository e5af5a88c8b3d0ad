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

package job

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRunner(t *testing.T, registry *Registry) *Runner {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	runner := NewRunner(registry, logger, prometheus.NewRegistry())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	runner.Start(ctx)
	return runner
}

func TestRegistryDuplicatePanics(t *testing.T) {
	registry := NewRegistry()
	registry.Register("h", func(ctx context.Context, args json.RawMessage) error { return nil })
	require.Panics(t, func() {
		registry.Register("h", func(ctx context.Context, args json.RawMessage) error { return nil })
	})
}

func TestJobArgsRoundTrip(t *testing.T) {
	type args struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	j, err := New("h", args{Name: "sa1", Count: 3})
	require.NoError(t, err)
	require.NotEmpty(t, j.ID)

	var decoded args
	require.NoError(t, json.Unmarshal(j.Args, &decoded))
	assert.Equal(t, args{Name: "sa1", Count: 3}, decoded)
}

func TestContinuations(t *testing.T) {
	tests := []struct {
		name       string
		mainErr    error
		expectNext string
	}{
		{name: "success dispatches success continuation", mainErr: nil, expectNext: "ok"},
		{name: "failure dispatches failure continuation", mainErr: errors.New("boom"), expectNext: "fail"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			registry := NewRegistry()
			next := make(chan string, 2)
			registry.Register("main", func(ctx context.Context, args json.RawMessage) error {
				return test.mainErr
			})
			registry.Register("ok", func(ctx context.Context, args json.RawMessage) error {
				next <- "ok"
				return nil
			})
			registry.Register("fail", func(ctx context.Context, args json.RawMessage) error {
				next <- "fail"
				return nil
			})
			runner := newTestRunner(t, registry)

			j := MustNew("main", nil).WithContinuations(MustNew("ok", nil), MustNew("fail", nil))
			require.NoError(t, runner.Submit(j))

			select {
			case dispatched := <-next:
				assert.Equal(t, test.expectNext, dispatched)
			case <-time.After(time.Second):
				t.Fatal("no continuation dispatched")
			}
			select {
			case extra := <-next:
				t.Fatalf("unexpected second continuation %q", extra)
			case <-time.After(50 * time.Millisecond):
			}
		})
	}
}

func TestPerKeySerialization(t *testing.T) {
	registry := NewRegistry()

	var mu sync.Mutex
	var running int
	var maxRunning int
	var order []string

	registry.Register("work", func(ctx context.Context, args json.RawMessage) error {
		var name string
		require.NoError(t, json.Unmarshal(args, &name))

		mu.Lock()
		running++
		if running > maxRunning {
			maxRunning = running
		}
		order = append(order, name)
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		running--
		mu.Unlock()
		return nil
	})
	runner := newTestRunner(t, registry)

	key := QueueKey{SubscriptionID: "sub", CloudService: "cs1", Deployment: "Production"}
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, runner.Submit(MustNew("work", name).WithKey(key)))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3 && running == 0
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c"}, order, "same-key jobs must run in submission order")
	assert.Equal(t, 1, maxRunning, "same-key jobs must never overlap")
}

func TestParallelismAcrossKeys(t *testing.T) {
	registry := NewRegistry()

	barrier := make(chan struct{})
	started := make(chan string, 2)
	registry.Register("work", func(ctx context.Context, args json.RawMessage) error {
		var name string
		require.NoError(t, json.Unmarshal(args, &name))
		started <- name
		<-barrier
		return nil
	})
	runner := newTestRunner(t, registry)

	require.NoError(t, runner.Submit(MustNew("work", "a").WithKey(QueueKey{CloudService: "cs1", Deployment: "d1"})))
	require.NoError(t, runner.Submit(MustNew("work", "b").WithKey(QueueKey{CloudService: "cs2", Deployment: "d1"})))

	// Both must be running before either is released.
	seen := map[string]bool{}
	for range 2 {
		select {
		case name := <-started:
			seen[name] = true
		case <-time.After(time.Second):
			t.Fatal("jobs on distinct keys did not run in parallel")
		}
	}
	close(barrier)
	assert.True(t, seen["a"] && seen["b"])
}

func TestUnknownHandlerDispatchesFailure(t *testing.T) {
	registry := NewRegistry()
	failed := make(chan struct{})
	registry.Register("fail", func(ctx context.Context, args json.RawMessage) error {
		close(failed)
		return nil
	})
	runner := newTestRunner(t, registry)

	j := MustNew("nope", nil).WithContinuations(nil, MustNew("fail", nil))
	require.NoError(t, runner.Submit(j))

	select {
	case <-failed:
	case <-time.After(time.Second):
		t.Fatal("failure continuation not dispatched for unknown handler")
	}
}

func TestSubmitBeforeStart(t *testing.T) {
	registry := NewRegistry()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	runner := NewRunner(registry, logger, prometheus.NewRegistry())
	require.Error(t, runner.Submit(MustNew("h", nil)))
}

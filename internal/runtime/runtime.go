/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package runtime declares the RuntimeBackend contract of spec.md §4.8: the
// narrow capability set PodSync depends on, with container runtimes
// (Virtualization.framework, Firecracker, OCI) themselves out of scope per
// spec.md §2. Grounded on the teacher's cloudprovider.CloudProvider
// interface split (pkg/cloudprovider/types.go): a small vtable of verbs the
// controller depends on, with the concrete driver wired in at the agent's
// boot path rather than imported by name anywhere else.
package runtime

import (
	"context"
	"io"
	"time"

	"github.com/k3rs/k3rs/internal/types"
)

// ContainerState is the authoritative runtime-reported state of spec.md §4.8.
type ContainerState string

const (
	StateCreated ContainerState = "Created"
	StateRunning ContainerState = "Running"
	StateStopped ContainerState = "Stopped"
	StateFailed  ContainerState = "Failed"
)

// Status is the result of a state(id) query: State plus, for Stopped, the
// process exit code.
type Status struct {
	State    ContainerState
	ExitCode int
}

// ContainerRef pairs a runtime-assigned container id with the Pod identity
// recorded in its labels/annotations at create time, per spec.md §4.6 step 2.
type ContainerRef struct {
	ContainerID string
	PodID       string
}

// Backend is the RuntimeBackend contract of spec.md §4.8. All operations are
// safe for concurrent use; the implementation owns its own serialization.
type Backend interface {
	PullImage(ctx context.Context, ref string) error
	CreateContainer(ctx context.Context, podID string, spec types.PodSpec) (containerID string, err error)
	StartContainer(ctx context.Context, containerID string) error
	StopContainer(ctx context.Context, containerID string, grace time.Duration) error
	State(ctx context.Context, containerID string) (Status, error)
	List(ctx context.Context) ([]ContainerRef, error)
	Exec(ctx context.Context, containerID string, argv []string) (io.ReadWriteCloser, error)
	Logs(ctx context.Context, containerID string, tail int) (io.ReadCloser, error)
	Cleanup(ctx context.Context, containerID string) error
}

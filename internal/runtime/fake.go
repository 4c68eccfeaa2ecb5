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

package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/k3rs/k3rs/internal/kerrors"
	"github.com/k3rs/k3rs/internal/types"
)

type fakeContainer struct {
	podID  string
	status Status
}

// Fake is an in-process Backend for controller/agent tests, owning no shared
// mutable state beyond its own map (spec.md §9). FailPull/FailCreate/
// FailStart let a test force the ImagePullError/ContainerCreateError/
// ContainerStartError paths of spec.md §4.6 deterministically.
type Fake struct {
	mu         sync.Mutex
	images     map[string]bool
	containers map[string]*fakeContainer

	FailPull   map[string]bool
	FailCreate map[string]bool
	FailStart  map[string]bool
}

func NewFake() *Fake {
	return &Fake{
		images:     map[string]bool{},
		containers: map[string]*fakeContainer{},
		FailPull:   map[string]bool{},
		FailCreate: map[string]bool{},
		FailStart:  map[string]bool{},
	}
}

func (f *Fake) PullImage(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailPull[ref] {
		return fmt.Errorf("%w: %s", kerrors.ImagePullError, ref)
	}
	f.images[ref] = true
	return nil
}

func (f *Fake) CreateContainer(_ context.Context, podID string, spec types.PodSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailCreate[podID] {
		return "", fmt.Errorf("%w: pod %s", kerrors.ContainerCreateError, podID)
	}
	id := uuid.NewString()
	f.containers[id] = &fakeContainer{podID: podID, status: Status{State: StateCreated}}
	return id, nil
}

func (f *Fake) StartContainer(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return fmt.Errorf("%w: container %s", kerrors.ContainerStartError, id)
	}
	if f.FailStart[c.podID] {
		return fmt.Errorf("%w: pod %s", kerrors.ContainerStartError, c.podID)
	}
	c.status = Status{State: StateRunning}
	return nil
}

func (f *Fake) StopContainer(_ context.Context, id string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return nil
	}
	c.status = Status{State: StateStopped, ExitCode: 0}
	return nil
}

func (f *Fake) State(_ context.Context, id string) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return Status{}, kerrors.NotFound
	}
	return c.status, nil
}

func (f *Fake) List(_ context.Context) ([]ContainerRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ContainerRef, 0, len(f.containers))
	for id, c := range f.containers {
		out = append(out, ContainerRef{ContainerID: id, PodID: c.podID})
	}
	return out, nil
}

func (f *Fake) Exec(_ context.Context, _ string, _ []string) (io.ReadWriteCloser, error) {
	return nopReadWriteCloser{bytes.NewBuffer(nil)}, nil
}

func (f *Fake) Logs(_ context.Context, _ string, _ int) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(nil)), nil
}

func (f *Fake) Cleanup(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, id)
	return nil
}

// SetExit lets a test drive a running Fake container to a terminal state, as
// if the process under it exited.
func (f *Fake) SetExit(id string, exitCode int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[id]; ok {
		c.status = Status{State: StateStopped, ExitCode: exitCode}
	}
}

type nopReadWriteCloser struct {
	*bytes.Buffer
}

func (nopReadWriteCloser) Close() error { return nil }

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

package agent

import (
	"context"

	"go.uber.org/multierr"

	"github.com/k3rs/k3rs/internal/log"
	"github.com/k3rs/k3rs/internal/types"
)

// Recover implements spec.md §4.7: the boot path is the reconciliation path,
// with a one-time discovery prefix that adopts already-running containers
// instead of creating duplicates. It is strictly idempotent — running it
// against a healthy agent is a no-op, since every branch below reduces to
// "leave it as is" once running and desired already agree.
func (p *PodSync) Recover(ctx context.Context) error {
	logger := log.FromContext(ctx).With("component", "recovery", "node", p.nodeName)

	running, err := p.rt.List(ctx)
	if err != nil {
		return err
	}
	desired, err := p.desiredPods(ctx)
	if err != nil {
		return err
	}
	desiredByPodID := map[string]types.Pod{}
	for _, pod := range desired {
		desiredByPodID[pod.ID] = pod
	}

	var errs error
	adopted, stopped := 0, 0
	for _, c := range running {
		if pod, ok := desiredByPodID[c.PodID]; ok {
			pod.ContainerID = c.ContainerID
			p.record(pod)
			adopted++
			logger.Infow("adopting desired container", "container_id", c.ContainerID, "pod_id", c.PodID)
			continue
		}
		if err := p.rt.StopContainer(ctx, c.ContainerID, stopGrace); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if err := p.rt.Cleanup(ctx, c.ContainerID); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		stopped++
	}
	// Pods that are desired but not running are left alone: the next
	// PodSync.Tick will create them via the normal path (spec.md §4.7 step 3).

	logger.Infow("recovery complete", "adopted", adopted, "stopped", stopped, "desired", len(desired))
	return errs
}

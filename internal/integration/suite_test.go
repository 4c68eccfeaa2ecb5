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

// Package integration exercises the Deployment -> ReplicaSet -> Pod
// pipeline end to end through the Controllers Manager, the way a real
// server process would run it. Grounded on the teacher's Ginkgo/Gomega
// suite style (pkg/controllers/machine/garbagecollect/garbagecollect_test.go,
// pkg/controllers/nodepool/hash/suite_test.go): a BeforeSuite that wires the
// concrete collaborators once, then Describe/It blocks that observe Store
// state settle via Eventually rather than asserting on a single Reconcile
// call, since the Manager drives controllers concurrently on their own
// tickers.
package integration_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/k3rs/k3rs/internal/controllers"
	"github.com/k3rs/k3rs/internal/controllers/deployment"
	"github.com/k3rs/k3rs/internal/controllers/replicaset"
	"github.com/k3rs/k3rs/internal/eventlog"
	"github.com/k3rs/k3rs/internal/scheduler"
	"github.com/k3rs/k3rs/internal/store"
	"github.com/k3rs/k3rs/internal/storeutil"
	"github.com/k3rs/k3rs/internal/types"
)

func TestIntegration(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "ControllersIntegration")
}

var (
	ctx context.Context
	s   *store.Store
	mgr *controllers.Manager
)

var _ = BeforeEach(func() {
	ctx = context.Background()
	evlog := eventlog.New(zap.NewNop().Sugar(), 1000)
	s = store.New(store.NewMemoryBackend(), evlog, 3)
	sched := scheduler.New()
	mgr = controllers.NewManager(evlog,
		deployment.New(s),
		replicaset.New(s, sched),
	)
	mgr.Start(ctx)
	DeferCleanup(mgr.Stop)
})

var _ = Describe("Deployment rollout", func() {
	It("should materialize a Deployment into bound Pods without any direct ReplicaSet or Pod writes", func() {
		Expect(storeutil.Put(ctx, s, types.NodeKey("n1"), types.Node{
			Name: "n1", Status: types.NodeReady,
			Capacity: types.ResourceList{CPUMillis: 10000, MemoryBytes: 1 << 30, Pods: 100},
		})).To(Succeed())

		d := types.Deployment{Name: "web", Namespace: "default", Spec: types.DeploymentSpec{
			Replicas: 3,
			Selector: map[string]string{"app": "web"},
			Template: types.PodTemplate{Labels: map[string]string{"app": "web"}},
		}}
		Expect(storeutil.Put(ctx, s, d.Key(), d)).To(Succeed())

		Eventually(func() int {
			pods, err := storeutil.List[types.Pod](ctx, s, types.PrefixPods)
			Expect(err).NotTo(HaveOccurred())
			return len(pods)
		}, time.Second, 10*time.Millisecond).Should(Equal(3))

		pods, err := storeutil.List[types.Pod](ctx, s, types.PrefixPods)
		Expect(err).NotTo(HaveOccurred())
		for _, p := range pods {
			Expect(p.NodeName).To(Equal("n1"))
			Expect(p.Status).To(Equal(types.PodScheduled))
		}
	})

	It("should scale Pods down when the Deployment's replica count is reduced", func() {
		Expect(storeutil.Put(ctx, s, types.NodeKey("n1"), types.Node{
			Name: "n1", Status: types.NodeReady,
			Capacity: types.ResourceList{CPUMillis: 10000, MemoryBytes: 1 << 30, Pods: 100},
		})).To(Succeed())

		d := types.Deployment{Name: "web", Namespace: "default", Spec: types.DeploymentSpec{
			Replicas: 3,
			Selector: map[string]string{"app": "web"},
			Template: types.PodTemplate{Labels: map[string]string{"app": "web"}},
		}}
		Expect(storeutil.Put(ctx, s, d.Key(), d)).To(Succeed())
		Eventually(func() int {
			pods, _ := storeutil.List[types.Pod](ctx, s, types.PrefixPods)
			return len(pods)
		}, time.Second, 10*time.Millisecond).Should(Equal(3))

		d.Spec.Replicas = 1
		Expect(storeutil.Put(ctx, s, d.Key(), d)).To(Succeed())

		Eventually(func() int {
			pods, _ := storeutil.List[types.Pod](ctx, s, types.PrefixPods)
			return len(pods)
		}, time.Second, 10*time.Millisecond).Should(Equal(1))
	})
})

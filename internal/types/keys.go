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

package types

import "fmt"

// Key prefixes, the stable on-disk contract of spec.md §3 and §6.
const (
	PrefixNodes        = "/registry/nodes/"
	PrefixNamespaces   = "/registry/namespaces/"
	PrefixPods         = "/registry/pods/"
	PrefixServices     = "/registry/services/"
	PrefixEndpoints    = "/registry/endpoints/"
	PrefixDeployments  = "/registry/deployments/"
	PrefixReplicaSets  = "/registry/replicasets/"
	PrefixDaemonSets   = "/registry/daemonsets/"
	PrefixJobs         = "/registry/jobs/"
	PrefixCronJobs     = "/registry/cronjobs/"
	PrefixHPA          = "/registry/hpa/"
	PrefixConfigMaps   = "/registry/configmaps/"
	PrefixSecrets      = "/registry/secrets/"
	PrefixLeases       = "/registry/leases/"
	PrefixEvents       = "/events/"
	ControllerLeaseKey = PrefixLeases + "controller-leader"
)

// NodeKey and the per-kind namespaced *Key helpers build the stable key for a
// given kind and identity.
func NodeKey(name string) string { return PrefixNodes + name }

func namespacedKey(prefix, ns, name string) string {
	return fmt.Sprintf("%s%s/%s", prefix, ns, name)
}

func PodKey(ns, name string) string        { return namespacedKey(PrefixPods, ns, name) }
func ServiceKey(ns, name string) string     { return namespacedKey(PrefixServices, ns, name) }
func EndpointsKey(ns, name string) string   { return namespacedKey(PrefixEndpoints, ns, name) }
func DeploymentKey(ns, name string) string  { return namespacedKey(PrefixDeployments, ns, name) }
func ReplicaSetKey(ns, name string) string  { return namespacedKey(PrefixReplicaSets, ns, name) }
func DaemonSetKey(ns, name string) string   { return namespacedKey(PrefixDaemonSets, ns, name) }
func JobKey(ns, name string) string         { return namespacedKey(PrefixJobs, ns, name) }
func CronJobKey(ns, name string) string     { return namespacedKey(PrefixCronJobs, ns, name) }
func HPAKey(ns, name string) string         { return namespacedKey(PrefixHPA, ns, name) }
func ConfigMapKey(ns, name string) string   { return namespacedKey(PrefixConfigMaps, ns, name) }
func SecretKey(ns, name string) string      { return namespacedKey(PrefixSecrets, ns, name) }
func PodNamespace(ns, name string) string   { return ns + "/" + name }

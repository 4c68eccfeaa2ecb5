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

import (
	"fmt"
	"regexp"

	"github.com/k3rs/k3rs/internal/kerrors"
)

// rfc1123Name matches spec.md §3: [a-z0-9-], 1..63 chars, no leading/trailing hyphen.
var rfc1123Name = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// ValidateName enforces the RFC 1123 subset k3rs uses for every (namespace, name) pair.
func ValidateName(name string) error {
	if len(name) == 0 || len(name) > 63 {
		return fmt.Errorf("%w: name %q must be 1..63 characters", kerrors.Invalid, name)
	}
	if !rfc1123Name.MatchString(name) {
		return fmt.Errorf("%w: name %q must match [a-z0-9-], no leading/trailing hyphen", kerrors.Invalid, name)
	}
	return nil
}

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

// Package cronjob implements the CronJob controller of spec.md §4.5 and the
// schedule-grammar Open Question of §9: schedules are restricted to the
// minute-field subset `*`, `M`, `*/N`, evaluated once per minute. Grounded on
// the teacher's settings validation style (pkg/apis/settings, fail fast with
// a descriptive error at parse time) and reusing robfig/cron/v3's field
// parser rather than hand-rolling one, since the pack already depends on it
// for scheduling primitives elsewhere in the ecosystem.
package cronjob

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"

	"github.com/k3rs/k3rs/internal/log"
	"github.com/k3rs/k3rs/internal/store"
	"github.com/k3rs/k3rs/internal/storeutil"
	"github.com/k3rs/k3rs/internal/types"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseSchedule validates a CronJob schedule against spec.md §9's restricted
// grammar (minute field: `*`, a literal minute, or `*/N`; every other field
// fixed to `*`) and returns the equivalent standard 5-field cron.Schedule.
func ParseSchedule(minuteField string) (cron.Schedule, error) {
	if err := validateMinuteField(minuteField); err != nil {
		return nil, err
	}
	return parser.Parse(fmt.Sprintf("%s * * * *", minuteField))
}

func validateMinuteField(field string) error {
	if field == "*" {
		return nil
	}
	if len(field) > 2 && field[:2] == "*/" {
		if _, err := parser.Parse(fmt.Sprintf("%s * * * *", field)); err != nil {
			return fmt.Errorf("cronjob schedule: invalid step expression %q: %w", field, err)
		}
		return nil
	}
	minute, err := strconv.Atoi(field)
	if err != nil || minute < 0 || minute > 59 {
		return fmt.Errorf("cronjob schedule: %q is not one of the supported forms `*`, `M`, `*/N`", field)
	}
	return nil
}

type Controller struct {
	store *store.Store
	now   func() time.Time
}

func New(s *store.Store) *Controller {
	return &Controller{store: s, now: time.Now}
}

func (c *Controller) Name() string           { return "cronjob" }
func (c *Controller) Period() time.Duration   { return 30 * time.Second }
func (c *Controller) WatchPrefixes() []string { return []string{types.PrefixCronJobs, types.PrefixJobs} }

func (c *Controller) Reconcile(ctx context.Context) error {
	logger := log.FromContext(ctx).With("controller", c.Name())

	cronJobs, err := storeutil.List[types.CronJob](ctx, c.store, types.PrefixCronJobs)
	if err != nil {
		return err
	}
	jobs, err := storeutil.List[types.Job](ctx, c.store, types.PrefixJobs)
	if err != nil {
		return err
	}

	now := c.now()
	var errs error
	for _, cj := range cronJobs {
		if err := c.reconcileOne(ctx, cj, jobs, now); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	logger.Debugw("reconciled cronjobs", "count", len(cronJobs))
	return errs
}

func activeJob(cj types.CronJob, jobs []types.Job) *types.Job {
	for i := range jobs {
		j := jobs[i]
		if j.OwnerRef == nil || j.OwnerRef.Kind != "CronJob" || j.OwnerRef.Name != cj.Name || j.Namespace != cj.Namespace {
			continue
		}
		if j.Status.Phase != types.JobComplete && j.Status.Phase != types.JobFailed {
			return &j
		}
	}
	return nil
}

func (c *Controller) reconcileOne(ctx context.Context, cj types.CronJob, jobs []types.Job, now time.Time) error {
	if cj.Spec.Suspend {
		return nil
	}
	schedule, err := ParseSchedule(cj.Spec.Schedule)
	if err != nil {
		return err
	}
	if activeJob(cj, jobs) != nil {
		return nil
	}

	last := cj.Status.LastScheduleTime
	if last.IsZero() {
		last = now.Add(-1 * time.Minute)
	}
	if schedule.Next(last).After(now) {
		return nil
	}

	created := types.Job{
		Name:      fmt.Sprintf("%s-%d", cj.Name, now.Unix()/60),
		Namespace: cj.Namespace,
		Spec:      cj.Spec.JobTemplate,
		OwnerRef:  &types.OwnerRef{Kind: "CronJob", Name: cj.Name, UID: uuid.NewString()},
	}
	if err := storeutil.Put(ctx, c.store, created.Key(), created); err != nil {
		return err
	}

	cj.Status.LastScheduleTime = now
	cj.Status.ActiveJobs = []string{created.Name}
	return storeutil.Put(ctx, c.store, cj.Key(), cj)
}

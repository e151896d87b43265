package stability

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"cluster-chaos/internal/cluster"
	"cluster-chaos/internal/retry"
)

// ValidateService checks stability first and health after it, sharing one
// timeout between the two.
func (v *Validator) ValidateService(ctx context.Context, serviceName string, timeout time.Duration, checks Checks) (Report, error) {
	budget := retry.NewBudget(timeout)

	report, err := v.EnsureStability(ctx, serviceName, budget.Remaining(), checks)
	if err != nil || report.Failed {
		return report, err
	}
	health, err := v.ValidateHealth(ctx, serviceName, budget.Remaining(), checks)
	if err != nil {
		return health, err
	}
	return Merge(report, health), nil
}

// ValidateApplication validates every service of an application
// concurrently. All services are waited for before the reports are merged.
func (v *Validator) ValidateApplication(ctx context.Context, applicationName string, timeout time.Duration, checks Checks) (Report, error) {
	budget := retry.NewBudget(timeout)

	services, err := retry.Execute(ctx, v.retry, "GetServiceList", retry.Default, budget.Remaining(), func(ctx context.Context) ([]cluster.Service, error) {
		return v.client.GetServiceList(ctx, applicationName, v.requestTimeout)
	})
	if err != nil {
		return Report{}, errors.Wrapf(err, "list services of %s", applicationName)
	}

	names := make([]string, len(services))
	for i, s := range services {
		names[i] = s.Name
	}
	return fanOut(ctx, names, func(ctx context.Context, name string) (Report, error) {
		return v.ValidateService(ctx, name, budget.Remaining(), checks)
	})
}

// ValidateCluster validates every application concurrently
func (v *Validator) ValidateCluster(ctx context.Context, timeout time.Duration, checks Checks) (Report, error) {
	budget := retry.NewBudget(timeout)

	apps, err := retry.Execute(ctx, v.retry, "GetApplicationList", retry.Default, budget.Remaining(), func(ctx context.Context) ([]cluster.Application, error) {
		return v.client.GetApplicationList(ctx, v.requestTimeout)
	})
	if err != nil {
		return Report{}, errors.Wrap(err, "list applications")
	}

	names := make([]string, len(apps))
	for i, a := range apps {
		names[i] = a.Name
	}
	return fanOut(ctx, names, func(ctx context.Context, name string) (Report, error) {
		return v.ValidateApplication(ctx, name, budget.Remaining(), checks)
	})
}

// fanOut runs validate for every name and waits for all of them. A failing
// branch does not cancel its siblings. Branch errors are combined and
// returned next to the merged report.
func fanOut(ctx context.Context, names []string, validate func(context.Context, string) (Report, error)) (Report, error) {
	var (
		g       errgroup.Group
		mu      sync.Mutex
		reports []Report
		errs    error
	)

	for _, name := range names {
		g.Go(func() error {
			report, err := validate(ctx, name)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = errors.CombineErrors(errs, errors.Wrapf(err, "validate %s", name))
				return nil
			}
			reports = append(reports, report)
			return nil
		})
	}
	_ = g.Wait()

	return Merge(reports...), errs
}

// Package simulate drives a deterministic flaky dependency through a guard
// built from a breaker registry.
package simulate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"golang.org/x/sync/errgroup"

	resilience "github.com/JohnPlummer/jp-go-guard"
)

// ErrDependencyDown is returned by FlakyDependency while it is failing.
var ErrDependencyDown = errors.New("dependency unavailable")

// FlakyDependency fails its first FailFirst invocations with an unavailable
// error and succeeds afterwards.
type FlakyDependency struct {
	failFirst int64
	calls     atomic.Int64
}

// NewFlakyDependency creates a dependency that fails n times.
func NewFlakyDependency(n int) *FlakyDependency {
	return &FlakyDependency{failFirst: int64(n)}
}

// Call invokes the dependency once.
func (d *FlakyDependency) Call(ctx context.Context) (string, error) {
	n := d.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if n <= d.failFirst {
		return "", resilience.NewOperationError(resilience.KindUnavailable, "flaky.call", ErrDependencyDown)
	}
	return fmt.Sprintf("response #%d", n), nil
}

// Invocations returns how many times Call ran.
func (d *FlakyDependency) Invocations() int64 {
	return d.calls.Load()
}

// Options configures a simulation run.
type Options struct {
	// Dependency names the registry breaker to guard the calls with.
	Dependency string
	// Calls is the number of guarded calls.
	Calls int
	// FailFirst is the number of dependency invocations that fail.
	FailFirst int
	// Concurrency bounds the number of guarded calls in flight. Default: 1
	Concurrency int
	// Pause separates call launches.
	Pause time.Duration
	// Retry is the policy of the guard.
	Retry resilience.RetryPolicy
	// Clock times the pauses. Default: real clock
	Clock clockwork.Clock
}

// Report summarizes a simulation run.
type Report struct {
	Dependency  string
	Calls       int
	Invocations int64
	// Outcomes counts guarded calls by resilience.Outcome.
	Outcomes map[string]int
	Health   resilience.HealthStatus
}

// Run performs opts.Calls guarded calls against a fresh FlakyDependency.
// guardOpts configure the retry guard; breaker options belong to the registry.
func Run(ctx context.Context, registry *resilience.Registry, opts Options, guardOpts ...resilience.Option) (Report, error) {
	breaker, ok := registry.Get(opts.Dependency)
	if !ok {
		return Report{}, fmt.Errorf("unknown dependency %q (registered: %s)",
			opts.Dependency, strings.Join(registry.Names(), ", "))
	}
	if opts.Calls < 0 {
		return Report{}, fmt.Errorf("calls must not be negative, got %d", opts.Calls)
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	dep := NewFlakyDependency(opts.FailFirst)
	guarded, err := resilience.WrapWithBreaker(dep.Call, opts.Retry, breaker, guardOpts...)
	if err != nil {
		return Report{}, err
	}

	var (
		g        errgroup.Group
		mu       sync.Mutex
		launched int
		runErr   error
	)
	outcomes := make(map[string]int)
	g.SetLimit(opts.Concurrency)

launch:
	for i := 0; i < opts.Calls; i++ {
		if i > 0 && opts.Pause > 0 {
			select {
			case <-ctx.Done():
				runErr = ctx.Err()
				break launch
			case <-opts.Clock.After(opts.Pause):
			}
		}
		launched++
		g.Go(func() error {
			_, err := guarded(ctx)
			mu.Lock()
			outcomes[resilience.Outcome(err)]++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return Report{
		Dependency:  opts.Dependency,
		Calls:       launched,
		Invocations: dep.Invocations(),
		Outcomes:    outcomes,
		Health:      resilience.NewHealthStatus(breaker.Snapshot()),
	}, runErr
}

// CollectCounters sums every int64 counter collected by reader, keyed by
// instrument name.
func CollectCounters(ctx context.Context, reader *sdkmetric.ManualReader) (map[string]int64, error) {
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		return nil, err
	}

	totals := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				totals[m.Name] += dp.Value
			}
		}
	}
	return totals, nil
}

package servicetree

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/cucumber/godog"
)

// Static errors for lifecycle BDD steps
var (
	errNodeNotDefined   = errors.New("node not defined")
	errUnexpectedState  = errors.New("unexpected node state")
	errUnexpectedStatus = errors.New("unexpected status response")
	errJobNotPending    = errors.New("initialization job not pending")
	errMissingLog       = errors.New("expected log entry not found")
)

// LifecycleBDDTestContext holds the tree under test between steps.
type LifecycleBDDTestContext struct {
	scheduler *fakeScheduler
	logger    *testLogger
	nodes     map[string]*Node
	failing   map[string]*atomic.Bool
	status    StatusMessage
	statusErr error
}

func (c *LifecycleBDDTestContext) reset() {
	c.scheduler = newFakeScheduler()
	c.logger = &testLogger{}
	c.nodes = make(map[string]*Node)
	c.failing = make(map[string]*atomic.Bool)
	c.status = StatusMessage{}
	c.statusErr = nil
}

func (c *LifecycleBDDTestContext) node(label string) (*Node, error) {
	n, ok := c.nodes[label]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errNodeNotDefined, label)
	}
	return n, nil
}

func (c *LifecycleBDDTestContext) aNode(label string) error {
	fail := &atomic.Bool{}
	n, err := NewNode(label,
		WithScheduler(c.scheduler),
		WithLogger(c.logger),
		WithInitializer(InitializerFunc(func(ctx context.Context) error {
			if fail.Load() {
				return errors.New("model artifact unavailable")
			}
			return nil
		})),
	)
	if err != nil {
		return err
	}
	c.nodes[label] = n
	c.failing[label] = fail
	return nil
}

func (c *LifecycleBDDTestContext) aNodeWhoseInitializationFails(label string) error {
	if err := c.aNode(label); err != nil {
		return err
	}
	c.failing[label].Store(true)
	return nil
}

func (c *LifecycleBDDTestContext) isMountedUnder(child, parent, path string) error {
	p, err := c.node(parent)
	if err != nil {
		return err
	}
	ch, err := c.node(child)
	if err != nil {
		return err
	}
	return p.Mount(path, ch, child)
}

func (c *LifecycleBDDTestContext) theInitializationJobShouldBeScheduledAfter(label string, seconds int) error {
	n, err := c.node(label)
	if err != nil {
		return err
	}
	job, ok := c.scheduler.pendingJob(n.JobID())
	if !ok {
		return fmt.Errorf("%w: %s", errJobNotPending, n.JobID())
	}
	if got := int(job.delay.Seconds()); got != seconds {
		return fmt.Errorf("%w: scheduled after %ds, want %ds", errUnexpectedStatus, got, seconds)
	}
	return nil
}

func (c *LifecycleBDDTestContext) theInitializationJobRuns(label string) error {
	n, err := c.node(label)
	if err != nil {
		return err
	}
	// Failing initializers are part of the scenario, not step errors.
	if err := c.scheduler.run(n.JobID()); errors.Is(err, errJobNotScheduled) {
		return err
	}
	return nil
}

func (c *LifecycleBDDTestContext) theInitializationIsFixedAndRescheduled(label string) error {
	n, err := c.node(label)
	if err != nil {
		return err
	}
	c.failing[label].Store(false)
	return n.Reinitialize(0)
}

func (c *LifecycleBDDTestContext) theStateShouldBe(label, state string) error {
	n, err := c.node(label)
	if err != nil {
		return err
	}
	if got := n.State(); string(got) != state {
		return fmt.Errorf("%w: %s is %s, want %s", errUnexpectedState, label, got, state)
	}
	return nil
}

func (c *LifecycleBDDTestContext) iRequestTheStatusOf(label string) error {
	n, err := c.node(label)
	if err != nil {
		return err
	}
	c.status, c.statusErr = n.Status(context.Background())
	return nil
}

func (c *LifecycleBDDTestContext) theStatusShouldBeReadyWithSubapps(subapps string) error {
	if c.statusErr != nil {
		return fmt.Errorf("%w: %v", errUnexpectedStatus, c.statusErr)
	}
	want := []string{}
	if subapps != "" {
		for _, label := range strings.Split(subapps, ",") {
			want = append(want, NormalizeName(label))
		}
	}
	if c.status.APIState != StateReady || strings.Join(c.status.Subapps, ",") != strings.Join(want, ",") {
		return fmt.Errorf("%w: got %+v, want READY with %v", errUnexpectedStatus, c.status, want)
	}
	return nil
}

func (c *LifecycleBDDTestContext) theStatusShouldBeNotReadyWithAPIState(state string) error {
	sig, ok := AsErrorSignal(c.statusErr)
	if !ok {
		return fmt.Errorf("%w: expected a not-ready signal, got %v", errUnexpectedStatus, c.statusErr)
	}
	if sig.HTTPStatusCode != 400 || sig.HTTPMessage != HTTPMessageBadRequest || sig.Description != DescriptionNotInitialized {
		return fmt.Errorf("%w: %v", errUnexpectedStatus, sig)
	}
	if string(sig.APIState) != state {
		return fmt.Errorf("%w: api_state %s, want %s", errUnexpectedStatus, sig.APIState, state)
	}
	return nil
}

func (c *LifecycleBDDTestContext) theLogShouldReportSubappAsNotReady(label string) error {
	name := NormalizeName(label)
	for _, entry := range c.logger.find("Subapp not ready") {
		if entry.value("subapp") == name {
			return nil
		}
	}
	return fmt.Errorf("%w: Subapp not ready for %s", errMissingLog, name)
}

// InitializeLifecycleScenario wires the node lifecycle steps.
func InitializeLifecycleScenario(ctx *godog.ScenarioContext) {
	testCtx := &LifecycleBDDTestContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		testCtx.reset()
		return ctx, nil
	})

	ctx.Step(`^a node "([^"]*)"$`, testCtx.aNode)
	ctx.Step(`^a node "([^"]*)" whose initialization fails$`, testCtx.aNodeWhoseInitializationFails)
	ctx.Step(`^"([^"]*)" is mounted under "([^"]*)" at "([^"]*)"$`, testCtx.isMountedUnder)
	ctx.Step(`^the initialization job of "([^"]*)" should be scheduled after (\d+) seconds$`, testCtx.theInitializationJobShouldBeScheduledAfter)
	ctx.Step(`^the initialization job of "([^"]*)" runs$`, testCtx.theInitializationJobRuns)
	ctx.Step(`^the initialization of "([^"]*)" is fixed and rescheduled$`, testCtx.theInitializationIsFixedAndRescheduled)
	ctx.Step(`^the state of "([^"]*)" should be "([^"]*)"$`, testCtx.theStateShouldBe)
	ctx.Step(`^I request the status of "([^"]*)"$`, testCtx.iRequestTheStatusOf)
	ctx.Step(`^the status should be ready with subapps "([^"]*)"$`, testCtx.theStatusShouldBeReadyWithSubapps)
	ctx.Step(`^the status should be not ready with api_state "([^"]*)"$`, testCtx.theStatusShouldBeNotReadyWithAPIState)
	ctx.Step(`^the log should report subapp "([^"]*)" as not ready$`, testCtx.theLogShouldReportSubappAsNotReady)
}

func TestNodeLifecycleBDD(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeLifecycleScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features/node_lifecycle.feature"},
			TestingT: t,
			Strict:   true,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}

package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/tether/internal/mutation"
	"github.com/roach88/tether/internal/outbox"
	"github.com/roach88/tether/internal/payload"
	"github.com/roach88/tether/internal/provider"
	"github.com/roach88/tether/internal/reliable"
	"github.com/roach88/tether/internal/resilience"
	"github.com/roach88/tether/internal/retry"
	"github.com/roach88/tether/internal/rollout"
	"github.com/roach88/tether/internal/store"
	"github.com/roach88/tether/internal/telemetry"
	"github.com/roach88/tether/internal/testutil"
)

// Seed is the cohort seed every scenario runs with.
const Seed = "harness-seed"

// Harness is the scenario execution engine: the real reliability layer
// wired to simulated dependencies and deterministic clocks.
type Harness struct {
	store    *store.Store
	outbox   *outbox.Outbox
	drainer  *reliable.Drainer
	facade   *reliable.Facade
	guarded  *provider.Guarded
	remote   *simRemote
	provider *simProvider
	events   *telemetry.Recorder

	// breakerClock only moves on advance steps.
	breakerClock *testutil.FakeClock

	seen int // telemetry events already attributed to a step
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Execution flow:
//  1. Create fresh in-memory database and wire the layer under test
//  2. Execute steps, checking expect clauses
//  3. Capture final outbox state and evaluate assertions
//
// The returned error is for harness failures (storage, bad payload
// shapes); expectation and assertion failures are reported on Result.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h, err := newHarness(st, scenario)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Kind(), err)
		}
	}

	if err := h.finish(ctx, result); err != nil {
		return nil, err
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(st *store.Store, s *Scenario) (*Harness, error) {
	cfg := withDefaults(s.Config)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in scenarios

	kinds := make([]mutation.Kind, 0, len(s.Operations))
	for t, schema := range s.Operations {
		kinds = append(kinds, mutation.Kind{Type: mutation.Type(t), Schema: schema})
	}
	registry, err := mutation.NewRegistry(kinds...)
	if err != nil {
		return nil, fmt.Errorf("operations: %w", err)
	}

	events := &telemetry.Recorder{}
	auto := testutil.NewAutoClock()
	manual := testutil.NewFakeClock()

	flags := rollout.New(map[string]rollout.FlagConfig{
		rollout.FlagReliableWrites: {Enabled: *cfg.ReliableWrites, RolloutPercent: 100},
		rollout.FlagAIResilience:   {Enabled: *cfg.AIResilience, RolloutPercent: 100},
	}, st,
		rollout.WithSeedGenerator(func() string { return Seed }),
		rollout.WithLogger(logger))

	ob := outbox.New(st,
		outbox.WithCapacity(cfg.Capacity),
		outbox.WithMaxAttempts(cfg.MaxAttempts),
		outbox.WithClock(auto),
		outbox.WithIDGenerator(testutil.NewSequentialIDs("q")),
		outbox.WithSink(events),
		outbox.WithLogger(logger))

	opts := []reliable.Option{
		reliable.WithClock(auto),
		reliable.WithIDGenerator(testutil.NewSequentialIDs("w")),
		reliable.WithSink(events),
		reliable.WithLogger(logger),
	}
	remote := &simRemote{online: true}
	drainer := reliable.NewDrainer(ob, opts...)
	drainer.RegisterFallback(remote.write)

	retrier := retry.New(retry.Config{MaxAttempts: cfg.RetryAttempts, BaseDelay: retry.DefaultConfig().BaseDelay}, auto, events, logger)

	cooldown, _ := time.ParseDuration(cfg.Cooldown)
	breaker := resilience.NewBreaker(resilience.Config{
		FailureThreshold: cfg.FailureThreshold,
		Cooldown:         cooldown,
		Timeout:          resilience.DefaultConfig().Timeout,
	}, manual)
	guard := resilience.NewGuard("provider", breaker,
		resilience.WithEnabled(func(ctx context.Context) bool {
			return flags.IsEnabled(ctx, rollout.FlagAIResilience)
		}),
		resilience.WithGuardClock(manual),
		resilience.WithGuardSink(events),
		resilience.WithGuardLogger(logger))
	prov := &simProvider{online: true}

	return &Harness{
		store:        st,
		outbox:       ob,
		drainer:      drainer,
		facade:       reliable.NewFacade(registry, drainer, retrier, flags, opts...),
		guarded:      provider.NewGuarded(provider.Func(prov.generate), guard),
		remote:       remote,
		provider:     prov,
		events:       events,
		breakerClock: manual,
	}, nil
}

func withDefaults(c ScenarioConfig) ScenarioConfig {
	if c.Capacity == 0 {
		c.Capacity = outbox.DefaultCapacity
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = retry.DefaultConfig().MaxAttempts
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = resilience.DefaultConfig().FailureThreshold
	}
	if c.Cooldown == "" {
		c.Cooldown = resilience.DefaultConfig().Cooldown.String()
	}
	on := true
	if c.ReliableWrites == nil {
		c.ReliableWrites = &on
	}
	if c.AIResilience == nil {
		c.AIResilience = &on
	}
	return c
}

// executeStep runs one step and appends it to the trace.
func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) error {
	callsBefore := len(h.remote.snapshot())
	kind := step.Kind()

	var fields map[string]any
	switch kind {
	case StepRemote:
		online := step.Remote == "online"
		h.remote.setOnline(online)
		fields = map[string]any{"online": online}

	case StepProvider:
		online := step.Provider == "online"
		h.provider.setOnline(online)
		fields = map[string]any{"online": online}

	case StepWrite:
		outcome, key, err := h.write(ctx, step)
		if err != nil {
			return err
		}
		size, err := h.outbox.Size(ctx)
		if err != nil {
			return err
		}
		fields = map[string]any{
			"operation":    step.Write,
			"actor":        step.Actor,
			"key":          key,
			"outcome":      outcome,
			"outbox_size":  size,
			"remote_calls": len(h.remote.snapshot()) - callsBefore,
		}
		h.checkOutcome(i, step.Expect, outcome, result)

	case StepDrain:
		res, err := h.drainer.Drain(ctx)
		if err != nil {
			return err
		}
		fields = map[string]any{
			"processed":     res.Processed,
			"failed":        res.Failed,
			"dead_lettered": res.DeadLettered,
			"remaining":     res.Remaining,
			"remote_calls":  len(h.remote.snapshot()) - callsBefore,
		}
		h.checkDrain(i, step.Expect, res, result)

	case StepGenerate:
		_, ok := h.guarded.Generate(ctx, step.Generate)
		outcome := "ok"
		if !ok {
			outcome = "unavailable"
		}
		fields = map[string]any{
			"outcome": outcome,
			"circuit": h.guarded.Guard().Stats().State.String(),
		}
		h.checkOutcome(i, step.Expect, outcome, result)

	case StepAdvance:
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return err
		}
		h.breakerClock.Advance(d)
		fields = map[string]any{"duration": d.String()}

	default:
		return fmt.Errorf("invalid step")
	}

	result.AddStep(kind, fields, h.newEvents())
	return nil
}

// write performs a reliable write. Payloads rejected by the registry have
// outcome "rejected".
func (h *Harness) write(ctx context.Context, step Step) (outcome, key string, err error) {
	t := mutation.Type(step.Write)
	p := payload.Object{}
	if step.Payload != nil {
		v, err := payload.FromAny(step.Payload)
		if err != nil {
			return "", "", fmt.Errorf("payload: %w", err)
		}
		p = v.(payload.Object)
	}
	key, err = mutation.Key(t, step.Actor, p)
	if err != nil {
		return "", "", err
	}

	out, err := h.facade.PerformReliableWrite(ctx, t, step.Actor, p, h.remote.write)
	if err != nil {
		var verr *mutation.ValidationError
		if errors.As(err, &verr) || errors.Is(err, mutation.ErrUnknownType) {
			return "rejected", key, nil
		}
		return "", "", err
	}
	return out.String(), key, nil
}

// newEvents returns telemetry emitted since the previous call, or nil.
func (h *Harness) newEvents() []string {
	names := h.events.Names()
	if len(names) <= h.seen {
		return nil
	}
	out := names[h.seen:]
	h.seen = len(names)
	return out
}

func (h *Harness) checkOutcome(i int, exp *Expect, got string, result *Result) {
	if exp == nil || exp.Outcome == "" || exp.Outcome == got {
		return
	}
	result.AddError(fmt.Sprintf("steps[%d]: expected outcome %q, got %q", i, exp.Outcome, got))
}

func (h *Harness) checkDrain(i int, exp *Expect, res outbox.DrainResult, result *Result) {
	if exp == nil {
		return
	}
	check := func(name string, want *int, got int) {
		if want != nil && *want != got {
			result.AddError(fmt.Sprintf("steps[%d]: expected %s %d, got %d", i, name, *want, got))
		}
	}
	check("processed", exp.Processed, res.Processed)
	check("failed", exp.Failed, res.Failed)
	check("dead_lettered", exp.DeadLettered, res.DeadLettered)
	check("remaining", exp.Remaining, res.Remaining)
}

// finish captures the final state on result.
func (h *Harness) finish(ctx context.Context, result *Result) error {
	size, err := h.outbox.Size(ctx)
	if err != nil {
		return err
	}
	dls, err := h.outbox.DeadLetters(ctx)
	if err != nil {
		return err
	}
	result.OutboxSize = size
	result.DeadLetters = len(dls)
	result.RemoteCalls = h.remote.snapshot()
	result.Events = h.events.Names()
	return nil
}

package pipeline

import (
	"context"
	"sync"

	"call-notes-go/internal/dedup"
	"call-notes-go/internal/logger"
	"call-notes-go/internal/types"
)

type Resolver interface {
	Resolve(ctx context.Context, ev types.CallEvent) (types.ResolvedTarget, error)
}

// Dispatcher admits events through the duplicate guard and runs each
// accepted one on its own goroutine.
type Dispatcher struct {
	guard    *dedup.Guard
	resolver Resolver
	orch     *Orchestrator
	log      *logger.Logger
	wg       sync.WaitGroup

	// OnOutcome, when set, observes every finished run.
	OnOutcome func(types.CallEvent, Outcome)
}

func NewDispatcher(guard *dedup.Guard, resolver Resolver, orch *Orchestrator, log *logger.Logger) *Dispatcher {
	return &Dispatcher{guard: guard, resolver: resolver, orch: orch, log: log.WithComponent("dispatcher")}
}

// Submit returns false when the event was already accepted. Accepted events
// run detached from ctx so an HTTP request finishing does not cancel them.
func (d *Dispatcher) Submit(ctx context.Context, ev types.CallEvent) bool {
	if !d.admit(ev) {
		return false
	}
	ctx = context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.process(ctx, ev)
	}()
	return true
}

// RunSync is Submit without the goroutine. The bool is false for duplicates.
func (d *Dispatcher) RunSync(ctx context.Context, ev types.CallEvent) (Outcome, bool) {
	if !d.admit(ev) {
		return Outcome{}, false
	}
	return d.process(ctx, ev), true
}

// Wait blocks until every submitted run has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) admit(ev types.CallEvent) bool {
	key := dedup.KeyFor(ev)
	if d.guard.CheckAndMark(key) {
		d.log.WithField("target_id", ev.RawTargetID).Info("duplicate call event ignored")
		return false
	}
	return true
}

func (d *Dispatcher) process(ctx context.Context, ev types.CallEvent) Outcome {
	log := d.log.WithField("target_id", ev.RawTargetID).WithField("target_kind", ev.TargetKind)

	target, err := d.resolver.Resolve(ctx, ev)
	var out Outcome
	if err != nil {
		log.WithField("error", err.Error()).Error("target resolution failed")
		out = Outcome{Status: Failed, Reached: Received, Stage: StageResolve, Reason: err.Error(), Err: &StageError{Stage: StageResolve, Err: err}}
	} else {
		out = d.orch.Run(ctx, target, ev)
	}
	if d.OnOutcome != nil {
		d.OnOutcome(ev, out)
	}
	return out
}

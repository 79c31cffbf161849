package callback

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config configures a Dispatcher.
type Config struct {
	// FailureThreshold opens a hook's circuit after this many consecutive
	// failures. Zero means DefaultFailureThreshold.
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`
	// HistorySize is the event ring capacity. Zero means
	// DefaultHistorySize.
	HistorySize int `json:"history_size" yaml:"history_size"`
}

// Dispatcher fans lifecycle events out to every registered set, guarding
// each hook with its own circuit breaker.
type Dispatcher struct {
	sets     []Set
	breakers *breakerRegistry
	history  *history
	metrics  *Metrics
	logger   *zap.Logger
	seq      atomic.Uint64
}

// NewDispatcher creates a dispatcher over the given sets. metrics may be
// nil.
func NewDispatcher(cfg Config, logger *zap.Logger, metrics *Metrics, sets ...Set) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		sets:     sets,
		breakers: newBreakerRegistry(cfg.FailureThreshold),
		history:  newHistory(cfg.HistorySize),
		metrics:  metrics,
		logger:   logger.With(zap.String("component", "callback_dispatcher")),
	}
}

// AddSet merges another observer set into the dispatcher.
func (d *Dispatcher) AddSet(set Set) {
	d.sets = append(d.sets, set)
}

func breakerKey(setName string, hook string) string {
	return setName + "#" + hook
}

// Dispatch stamps the event with a sequence number and timestamp, records
// it in the history ring, and fans it out to every set. It never fails:
// handler errors and panics are counted per breaker and logged.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) Event {
	event.Seq = d.seq.Add(1)
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	d.history.append(event)
	d.metrics.incEvent(string(event.Hook))

	for i := range d.sets {
		set := &d.sets[i]
		handler, ok := set.Handlers[event.Hook]
		if !ok || handler == nil {
			continue
		}
		d.guardedInvoke(ctx, set, string(event.Hook), func(ctx context.Context) error {
			return handler(ctx, event)
		})
	}
	return event
}

// guardedInvoke runs one handler under its breaker.
func (d *Dispatcher) guardedInvoke(ctx context.Context, set *Set, hook string, invoke func(context.Context) error) {
	b := d.breakers.get(breakerKey(set.Name, hook))
	if !b.allow() {
		return
	}
	err := d.safeCall(ctx, invoke)
	if err == nil {
		b.recordSuccess()
		return
	}
	d.metrics.incFailure(hook)
	opened := b.recordFailure()
	d.logger.Warn("callback handler failed",
		zap.String("set", set.Name),
		zap.String("hook", hook),
		zap.Error(err))
	if opened {
		d.metrics.incCircuitOpen(hook)
		d.logger.Error("callback circuit opened, sidelining hook",
			zap.String("set", set.Name),
			zap.String("hook", hook))
	}
}

// safeCall converts handler panics into errors.
func (d *Dispatcher) safeCall(ctx context.Context, invoke func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return invoke(ctx)
}

// ShouldContinue merges every set's predicate by logical AND: any false
// wins. A predicate whose circuit is open fails open (reports continue),
// so a broken observer can never pause the workflow.
func (d *Dispatcher) ShouldContinue(ctx context.Context) bool {
	cont := true
	for i := range d.sets {
		set := &d.sets[i]
		if set.ShouldContinue == nil {
			continue
		}
		b := d.breakers.get(breakerKey(set.Name, hookShouldContinue))
		if !b.allow() {
			continue
		}
		var verdict bool
		err := d.safeCall(ctx, func(ctx context.Context) error {
			v, err := set.ShouldContinue(ctx)
			verdict = v
			return err
		})
		if err != nil {
			d.metrics.incFailure(hookShouldContinue)
			if b.recordFailure() {
				d.metrics.incCircuitOpen(hookShouldContinue)
				d.logger.Error("should_continue circuit opened, failing open",
					zap.String("set", set.Name))
			}
			continue
		}
		b.recordSuccess()
		if !verdict {
			cont = false
		}
	}
	return cont
}

// PauseCheck invokes every set's pause handler. Failures are breaker
// counted like any other hook.
func (d *Dispatcher) PauseCheck(ctx context.Context) {
	for i := range d.sets {
		set := &d.sets[i]
		if set.PauseCheck == nil {
			continue
		}
		d.guardedInvoke(ctx, set, "pause_check", set.PauseCheck)
	}
}

// Events returns the retained event history, oldest first.
func (d *Dispatcher) Events() []Event {
	return d.history.snapshot()
}

// CircuitStates returns open/closed per (set, hook) key, for
// introspection and tests.
func (d *Dispatcher) CircuitStates() map[string]bool {
	return d.breakers.states()
}

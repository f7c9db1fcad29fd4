package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRejected matches every call the breaker refused without running it.
var ErrRejected = errors.New("call rejected by circuit breaker")

// RejectedError reports a refused call and when the breaker will next probe.
type RejectedError struct {
	Name       string
	State      State
	RetryAfter time.Duration
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("breaker %s is %s, retry after %s", e.Name, e.State, e.RetryAfter)
}

func (e *RejectedError) Is(target error) bool { return target == ErrRejected }

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings configures a Breaker. Zero values get defaults in New.
type Settings struct {
	// Trials is how many probe calls are let through while half-open, and
	// how many must succeed before closing.
	Trials uint32
	// Threshold is the run of consecutive failures that opens the breaker.
	Threshold uint32
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
	// IsSuccessful classifies a call result. The default treats the
	// caller's own cancellation as neutral and every other error as failure.
	IsSuccessful func(ctx context.Context, err error) (success, counted bool)
	// OnStateChange runs outside the lock after every transition.
	OnStateChange func(name string, from, to State)
	// Now is the clock; tests replace it
	Now func() time.Time
}

// Snapshot is a point-in-time view of the breaker.
type Snapshot struct {
	State               State
	ConsecutiveFailures uint32
	Successes           uint64
	Failures            uint64
	Rejected            uint64
	OpenedAt            time.Time
}

// Breaker guards calls to a dependency that may be down.
type Breaker struct {
	name     string
	settings Settings

	mu        sync.Mutex
	state     State
	epoch     uint64
	streak    uint32 // consecutive failures when closed, successes when half-open
	inFlight  uint32
	openedAt  time.Time
	successes uint64
	failures  uint64
	rejected  uint64
	pending   [][2]State
}

// New returns a closed breaker.
func New(name string, settings Settings) *Breaker {
	if settings.Trials == 0 {
		settings.Trials = 1
	}
	if settings.Threshold == 0 {
		settings.Threshold = 3
	}
	if settings.Cooldown == 0 {
		settings.Cooldown = 30 * time.Second
	}
	if settings.IsSuccessful == nil {
		settings.IsSuccessful = defaultIsSuccessful
	}
	if settings.Now == nil {
		settings.Now = time.Now
	}
	return &Breaker{name: name, settings: settings}
}

func defaultIsSuccessful(ctx context.Context, err error) (bool, bool) {
	if err == nil {
		return true, true
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return false, false
	}
	return false, true
}

func (b *Breaker) Name() string { return b.name }

// State returns the current state, moving open to half-open once the
// cooldown has passed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.unlock()
	b.advance(b.settings.Now())
	return b.state
}

// Snapshot returns counters accumulated since New.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.unlock()
	b.advance(b.settings.Now())
	s := Snapshot{
		State:     b.state,
		Successes: b.successes,
		Failures:  b.failures,
		Rejected:  b.rejected,
		OpenedAt:  b.openedAt,
	}
	if b.state == StateClosed {
		s.ConsecutiveFailures = b.streak
	}
	return s
}

// Do runs fn unless the breaker refuses it, in which case it returns a
// *RejectedError without calling fn. A panic in fn counts as a failure and
// is re-raised.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	epoch, err := b.admit()
	if err != nil {
		return err
	}

	settled := false
	defer func() {
		if !settled {
			b.record(epoch, false, true)
		}
	}()

	err = fn(ctx)
	settled = true
	success, counted := b.settings.IsSuccessful(ctx, err)
	b.record(epoch, success, counted)
	return err
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.unlock()

	now := b.settings.Now()
	b.advance(now)

	switch {
	case b.state == StateOpen:
		b.rejected++
		return 0, &RejectedError{Name: b.name, State: b.state, RetryAfter: b.openedAt.Add(b.settings.Cooldown).Sub(now)}
	case b.state == StateHalfOpen && b.inFlight >= b.settings.Trials:
		b.rejected++
		return 0, &RejectedError{Name: b.name, State: b.state}
	}
	if b.state == StateHalfOpen {
		b.inFlight++
	}
	return b.epoch, nil
}

func (b *Breaker) record(epoch uint64, success, counted bool) {
	b.mu.Lock()
	defer b.unlock()

	now := b.settings.Now()
	b.advance(now)
	if b.state == StateHalfOpen && epoch == b.epoch && b.inFlight > 0 {
		b.inFlight--
	}
	if !counted {
		return
	}
	if success {
		b.successes++
	} else {
		b.failures++
	}
	// results from before the last transition only feed the totals
	if epoch != b.epoch {
		return
	}

	switch {
	case success && b.state == StateClosed:
		b.streak = 0
	case success && b.state == StateHalfOpen:
		b.streak++
		if b.streak >= b.settings.Trials {
			b.transition(StateClosed, now)
		}
	case !success && b.state == StateClosed:
		b.streak++
		if b.streak >= b.settings.Threshold {
			b.transition(StateOpen, now)
		}
	case !success && b.state == StateHalfOpen:
		b.transition(StateOpen, now)
	}
}

// advance applies the time-based open to half-open move. Callers hold mu.
func (b *Breaker) advance(now time.Time) {
	if b.state == StateOpen && !now.Before(b.openedAt.Add(b.settings.Cooldown)) {
		b.transition(StateHalfOpen, now)
	}
}

// transition queues the change for OnStateChange. Callers hold mu.
func (b *Breaker) transition(to State, now time.Time) {
	if b.state == to {
		return
	}
	b.pending = append(b.pending, [2]State{b.state, to})
	b.state = to
	b.epoch++
	b.streak = 0
	b.inFlight = 0
	if to == StateOpen {
		b.openedAt = now
	}
}

// unlock releases mu and then reports queued transitions in order.
func (b *Breaker) unlock() {
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	if b.settings.OnStateChange == nil {
		return
	}
	for _, t := range pending {
		b.settings.OnStateChange(b.name, t[0], t[1])
	}
}

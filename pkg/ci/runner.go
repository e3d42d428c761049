package ci

import (
	"context"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"lab47.dev/foundry/pkg/ops"
)

// State is where a run is in its lifecycle. A run moves from Running to
// exactly one terminal state and never leaves it.
type State string

const (
	StateIdle       State = "Idle"
	StateRunning    State = "Running"
	StateSucceeded  State = "Succeeded"
	StateFailed     State = "Failed"
	StateSuperseded State = "Superseded"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateSuperseded:
		return true
	default:
		return false
	}
}

// ErrNotTriggered indicates the event does not match any workflow
// trigger.
var ErrNotTriggered = errors.New("event does not trigger workflow")

// Pipeline is the work one run performs end to end. Returning
// ops.ErrPublishSkipped still counts as success: the build was fine,
// policy just withheld the publish.
type Pipeline interface {
	Run(ctx context.Context, ev Event) error
}

// Run is one execution of the workflow for one event.
type Run struct {
	Event Event
	Key   string

	mu     sync.Mutex
	state  State
	err    error
	cancel context.CancelFunc
	done   chan struct{}

	// PublishSkipped is set when the run succeeded without publishing.
	PublishSkipped bool
}

func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.state
}

func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.err
}

// Wait blocks until the run reaches a terminal state.
func (r *Run) Wait(ctx context.Context) (State, error) {
	select {
	case <-ctx.Done():
		return r.State(), ctx.Err()
	case <-r.done:
		return r.State(), r.Err()
	}
}

// supersede cancels the run and marks it. Only a Running run can be
// superseded; a finished one keeps its outcome.
func (r *Run) supersede() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateRunning {
		return
	}

	r.state = StateSuperseded
	r.cancel()
}

// finish records the pipeline outcome unless the run was superseded
// while it was executing. A superseded run's outputs are discarded no
// matter how the pipeline exited.
func (r *Run) finish(err error) {
	r.mu.Lock()

	if r.state == StateRunning {
		switch {
		case err == nil:
			r.state = StateSucceeded
		case errors.Is(err, ops.ErrPublishSkipped):
			r.state = StateSucceeded
			r.PublishSkipped = true
		default:
			r.state = StateFailed
			r.err = err
		}
	}

	r.mu.Unlock()

	r.cancel()
	close(r.done)
}

// Runner serializes workflow runs per concurrency key: submitting an
// event while a run with the same key is in flight supersedes the old
// run. There is no retry policy; a terminal state is the final answer
// for its event.
type Runner struct {
	L        hclog.Logger
	Workflow *Workflow
	Pipeline Pipeline

	mu     sync.Mutex
	active map[string]*Run
}

func NewRunner(l hclog.Logger, wf *Workflow, p Pipeline) *Runner {
	if l == nil {
		l = hclog.L()
	}

	return &Runner{
		L:        l,
		Workflow: wf,
		Pipeline: p,
		active:   make(map[string]*Run),
	}
}

// Submit starts a run for the event, superseding any in-flight run with
// the same concurrency key.
func (r *Runner) Submit(ctx context.Context, ev Event) (*Run, error) {
	if !r.Workflow.Matches(ev) {
		return nil, errors.Wrapf(ErrNotTriggered, "%s on %s", ev.Type, ev.Branch)
	}

	key := r.Workflow.Key(ev)

	runCtx, cancel := context.WithCancel(ctx)

	run := &Run{
		Event:  ev,
		Key:    key,
		state:  StateRunning,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	r.mu.Lock()

	prev := r.active[key]
	if prev != nil {
		prev.supersede()

		r.L.Info("superseding in-flight run", "key", key, "commit", prev.Event.Commit)
	}

	r.active[key] = run

	r.mu.Unlock()

	r.L.Info("run started", "key", key, "event", ev.Type, "commit", ev.Commit)

	go func() {
		if prev != nil {
			// The superseded pipeline is still unwinding after its
			// cancellation. It must return before the replacement runs.
			<-prev.done
		}

		err := r.Pipeline.Run(runCtx, ev)

		r.forget(run)

		run.finish(err)

		st := run.State()

		r.L.Info("run finished", "key", key, "state", st)
	}()

	return run, nil
}

// forget drops the run from the active set once its pipeline has
// returned, unless a newer run already replaced it.
func (r *Runner) forget(run *Run) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active[run.Key] == run {
		delete(r.active, run.Key)
	}
}

// Status returns the state of the in-flight run for the key, or Idle
// when nothing is running. Finished runs leave the active set; their
// outcome lives on the Run handle Submit returned.
func (r *Runner) Status(key string) State {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.active[key]
	if !ok {
		return StateIdle
	}

	return run.State()
}

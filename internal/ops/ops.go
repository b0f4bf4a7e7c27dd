// Package ops tracks long-running asynchronous operations. Mutating work
// that is not guaranteed sub-millisecond is spawned here so the control
// surface can return a handle immediately and never block on disk.
package ops

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/kk-code-lab/chronolake/internal/apierror"
	"github.com/kk-code-lab/chronolake/internal/clock"
)

// Status of a tracked operation.
type Status string

const (
	StatusRunning   Status = "Running"
	StatusSuccess   Status = "Success"
	StatusFailed    Status = "Failed"
	StatusCancelled Status = "Cancelled"
)

// Summary is the queryable view of an operation.
type Summary struct {
	ID          uint64    `json:"id"`
	Description string    `json:"description"`
	Status      Status    `json:"status"`
	Error       string    `json:"error,omitempty"`
	Note        string    `json:"note,omitempty"`
	Result      any       `json:"result,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at,omitzero"`
}

// Operation is a handle to spawned work.
type Operation struct {
	id      uint64
	tracker *Tracker
	cancel  context.CancelFunc
	done    chan struct{}

	mu       sync.Mutex
	summary  Summary
	canceled bool
}

// ID returns the operation id.
func (o *Operation) ID() uint64 {
	return o.id
}

// Summary returns the current status snapshot.
func (o *Operation) Summary() Summary {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.summary
}

// Wait blocks until the operation finishes. Tests use it; the control
// surface never does.
func (o *Operation) Wait() {
	<-o.done
}

func (o *Operation) finish(result any, err error) {
	o.mu.Lock()
	o.summary.FinishedAt = o.tracker.clock.Now()
	switch {
	case err != nil && o.canceled && isContextErr(err):
		o.summary.Status = StatusCancelled
	case err != nil:
		o.summary.Status = StatusFailed
		o.summary.Error = err.Error()
	default:
		o.summary.Status = StatusSuccess
		o.summary.Result = result
		if o.canceled {
			o.summary.Note = "cancellation requested but not honored"
		}
	}
	o.mu.Unlock()
	close(o.done)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Tracker registers operations and executes their work off the calling
// goroutine.
type Tracker struct {
	clock clock.Clock

	mu     sync.Mutex
	nextID uint64
	ops    map[uint64]*Operation
}

// NewTracker returns an empty tracker.
func NewTracker(clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Tracker{
		clock: clk,
		ops:   make(map[uint64]*Operation),
	}
}

// Spawn registers an operation and begins executing work without blocking.
// The returned handle is valid immediately.
func (t *Tracker) Spawn(description string, work func(ctx context.Context) (any, error)) *Operation {
	ctx, cancel := context.WithCancel(context.Background())
	op := &Operation{
		tracker: t,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	t.mu.Lock()
	t.nextID++
	op.id = t.nextID
	op.summary = Summary{
		ID:          op.id,
		Description: description,
		Status:      StatusRunning,
		StartedAt:   t.clock.Now(),
	}
	t.ops[op.id] = op
	t.mu.Unlock()

	go func() {
		defer cancel()
		result, err := work(ctx)
		op.finish(result, err)
	}()
	return op
}

// Get returns the status of an operation.
func (t *Tracker) Get(id uint64) (Summary, error) {
	op, err := t.lookup(id)
	if err != nil {
		return Summary{}, err
	}
	return op.Summary(), nil
}

// List returns all tracked operations ordered by id.
func (t *Tracker) List() []Summary {
	t.mu.Lock()
	ops := make([]*Operation, 0, len(t.ops))
	for _, op := range t.ops {
		ops = append(ops, op)
	}
	t.mu.Unlock()

	summaries := make([]Summary, 0, len(ops))
	for _, op := range ops {
		summaries = append(summaries, op.Summary())
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })
	return summaries
}

// Cancel requests cooperative cancellation. Work stops at its next context
// checkpoint; work that never checks the context finishes normally and the
// summary carries a note that cancellation could not be honored.
func (t *Tracker) Cancel(id uint64) error {
	op, err := t.lookup(id)
	if err != nil {
		return err
	}
	op.mu.Lock()
	finished := op.summary.Status != StatusRunning
	if !finished {
		op.canceled = true
	}
	op.mu.Unlock()
	if finished {
		return apierror.InvalidStatef("operation", formatID(id), "operation already finished")
	}
	op.cancel()
	return nil
}

// Ack removes a completed operation from the tracker. Completed operations
// remain queryable until acknowledged.
func (t *Tracker) Ack(id uint64) error {
	op, err := t.lookup(id)
	if err != nil {
		return err
	}
	if op.Summary().Status == StatusRunning {
		return apierror.InvalidStatef("operation", formatID(id), "operation still running")
	}
	t.mu.Lock()
	delete(t.ops, id)
	t.mu.Unlock()
	return nil
}

func (t *Tracker) lookup(id uint64) (*Operation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	op, ok := t.ops[id]
	if !ok {
		return nil, apierror.NotFound("operation", formatID(id))
	}
	return op, nil
}

func formatID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

// Package dispatcher implements the dispatcher runtime of §4.1 and the
// concurrency model of §5: a coalescing, reporter-instrumented front end
// over the git/source-metadata/build-backend/solve operations the other
// packages implement.
package dispatcher

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"pixi.build/dispatcher/errs"
	"pixi.build/dispatcher/go/ctxutil"
	"pixi.build/dispatcher/model"
	"pixi.build/dispatcher/reporter"
)

// pendingTableSize bounds how many settled task entries a single task
// kind's table retains for near-immediate replay before eviction. This is
// a memory bound, not a correctness guarantee: an evicted key simply
// re-runs its work on the next call, exactly as if it had never been seen.
const pendingTableSize = 4096

// Clock is a testable source of time, following the dispatcher's own
// now-injection convention so reporter event timestamps are controllable
// in tests without a real wall-clock dependency.
type Clock func() time.Time

// taskEntry is one row of a task kind's pending/settled table: a single
// in-flight or completed unit of work that every waiter sharing its dedup
// key observes through the same done channel.
type taskEntry struct {
	id     model.TaskID
	done   chan struct{}
	result any
	err    error
}

// Runtime owns the per-task-kind coalescing tables described in §4.1: a
// new request either joins an already-running task sharing its
// deduplication key or spawns a fresh one, and every waiter receives the
// same cloned result. All table mutation happens under mtx; the actual
// work for a task runs on its own goroutine so the table is never held
// locked across a blocking call (§5's "the loop thread never blocks").
type Runtime struct {
	Reporter reporter.Reporter
	Now      Clock

	mtx     sync.Mutex
	closed  bool
	slots   map[model.TaskKind]uint64
	tables  map[model.TaskKind]*lru.Cache
	running sync.WaitGroup
}

// NewRuntime builds a Runtime reporting to rep (reporter.NopReporter{} if
// nil).
func NewRuntime(rep reporter.Reporter) *Runtime {
	if rep == nil {
		rep = reporter.NopReporter{}
	}
	return &Runtime{
		Reporter: rep,
		Now:      time.Now,
		slots:    make(map[model.TaskKind]uint64),
		tables:   make(map[model.TaskKind]*lru.Cache),
	}
}

// Close stops the runtime from accepting new submissions, root and child
// alike (a task still running that submits a child gets
// errs.CancelledErr). Tasks
// already running are not interrupted: per §5, work in flight continues
// and its result still populates the cache, so callers that raced Close
// with a Submit either see it succeed or see errs.CancelledErr, never a
// half-applied side effect. Close blocks until every in-flight task's
// goroutine has returned.
func (rt *Runtime) Close() {
	rt.mtx.Lock()
	rt.closed = true
	rt.mtx.Unlock()
	rt.running.Wait()
}

func (rt *Runtime) tableFor(kind model.TaskKind) *lru.Cache {
	// caller holds mtx
	t, ok := rt.tables[kind]
	if !ok {
		var err error
		t, err = lru.New(pendingTableSize)
		if err != nil {
			// Only size<=0 makes lru.New fail, and pendingTableSize is a
			// positive constant, so this is unreachable.
			panic(err)
		}
		rt.tables[kind] = t
	}
	return t
}

func (rt *Runtime) nextID(kind model.TaskKind) model.TaskID {
	// caller holds mtx
	slot := rt.slots[kind]
	rt.slots[kind] = slot + 1
	return model.TaskID{Kind: kind, Slot: slot}
}

// Submit runs work for a task of kind, deduplicating concurrent callers
// that share dedupKey (§4.1: git checkouts key on (url, reference),
// source metadata on (canonical source, build env, channels, variants;
// the backend protocol version is not part of that key), backend
// instantiation on (spec, init params); conda/pixi
// solves and installs pass "" to opt out of deduplication entirely, each
// call becoming its own task). parent names the ReporterContext of the
// caller for the reporter's causal tree. Cancelling ctx stops forwarding
// the result to this caller only (§5: "dropping a reply channel")-work
// already under way, including by other waiters, always runs to
// completion.
func Submit[R any](ctx context.Context, rt *Runtime, kind model.TaskKind, dedupKey string, parent model.ReporterContext, label string, work func(context.Context, model.ReporterContext) (R, error)) (R, error) {
	var zero R

	ctxutil.ConfirmContextHasDeadline(ctx)

	rt.mtx.Lock()
	if rt.closed {
		rt.mtx.Unlock()
		return zero, errs.CancelledErr()
	}

	table := rt.tableFor(kind)
	dedupe := dedupKey != ""

	var entry *taskEntry
	if dedupe {
		if v, ok := table.Get(dedupKey); ok {
			entry = v.(*taskEntry)
		}
	}

	isNew := entry == nil
	if isNew {
		entry = &taskEntry{id: rt.nextID(kind), done: make(chan struct{})}
		if dedupe {
			table.Add(dedupKey, entry)
		}
	}
	id := entry.id
	now := rt.Now()
	if isNew {
		rt.running.Add(1)
	}
	rt.mtx.Unlock()

	ev := reporter.Event{ID: id, Context: parent, Time: now, Label: label}
	rt.Reporter.Queued(ev)
	if isNew {
		go rt.run(entry, ev, func(c context.Context, self model.ReporterContext) (any, error) {
			return work(c, self)
		})
	}

	select {
	case <-entry.done:
		if entry.err != nil {
			return zero, entry.err
		}
		return entry.result.(R), nil
	case <-ctx.Done():
		return zero, errs.CancelledErr()
	}
}

func (rt *Runtime) run(entry *taskEntry, ev reporter.Event, work func(context.Context, model.ReporterContext) (any, error)) {
	defer rt.running.Done()
	rt.Reporter.Started(ev)

	result, err := work(context.Background(), model.ChildOf(entry.id))

	// Report Finished before releasing waiters, so a caller returning from
	// Submit (including a parent task) already sees this task finished.
	rt.Reporter.Finished(ev, err)

	entry.result = result
	entry.err = err
	close(entry.done)
}

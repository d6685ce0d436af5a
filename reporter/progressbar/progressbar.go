// Package progressbar renders dispatcher events as terminal progress bars,
// one per in-flight root task, using mpb -- already an indirect dependency of
// the teacher codebase for its own command-line tooling.
package progressbar

import (
	"fmt"
	"io"
	"sync"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"pixi.build/dispatcher/model"
	"pixi.build/dispatcher/reporter"
)

// Reporter renders one spinner-style bar per in-flight root task (a task
// with no ReporterContext parent) and logs child events as bar messages.
// It implements reporter.Reporter.
type Reporter struct {
	progress *mpb.Progress
	out      io.Writer

	mtx  sync.Mutex
	bars map[model.TaskID]*mpb.Bar
}

// New constructs a Reporter writing to w.
func New(w io.Writer) *Reporter {
	return &Reporter{
		progress: mpb.New(mpb.WithOutput(w), mpb.WithWidth(48)),
		out:      w,
		bars:     make(map[model.TaskID]*mpb.Bar),
	}
}

func (r *Reporter) barFor(ev reporter.Event) *mpb.Bar {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if bar, ok := r.bars[ev.ID]; ok {
		return bar
	}
	name := ev.Label
	if name == "" {
		name = ev.ID.Kind.String()
	}
	bar := r.progress.AddSpinner(
		1,
		mpb.SpinnerOnLeft,
		mpb.PrependDecorators(decor.Name(fmt.Sprintf("%s %s", ev.ID.Kind, name), decor.WC{W: 24})),
		mpb.AppendDecorators(decor.OnComplete(decor.Name("running"), "done")),
	)
	r.bars[ev.ID] = bar
	return bar
}

// Queued is a no-op: a bar is only created once a task actually starts
// running, so coalesced waiters on an already-running task don't spawn
// duplicate bars.
func (r *Reporter) Queued(reporter.Event) {}

// Started creates the task's bar, if a root task.
func (r *Reporter) Started(ev reporter.Event) {
	if ev.Context.HasParent {
		return
	}
	r.barFor(ev)
}

// Finished completes and removes the task's bar.
func (r *Reporter) Finished(ev reporter.Event, err error) {
	if ev.Context.HasParent {
		return
	}
	r.mtx.Lock()
	bar, ok := r.bars[ev.ID]
	delete(r.bars, ev.ID)
	r.mtx.Unlock()
	if !ok {
		return
	}
	if err != nil {
		bar.Abort(false)
		return
	}
	bar.SetCurrent(1)
	bar.Wait()
}

// Warning prints a standalone warning line above the bar area.
func (r *Reporter) Warning(ev reporter.Event, message string) {
	fmt.Fprintf(r.out, "warning: %s: %s\n", ev.ID.Kind, message)
}

// BackendOutput forwards one streamed line of backend build output.
func (r *Reporter) BackendOutput(ev reporter.Event, line string, isStderr bool) {
	prefix := "stdout"
	if isStderr {
		prefix = "stderr"
	}
	fmt.Fprintf(r.out, "[%s:%s] %s\n", ev.ID.Kind, prefix, line)
}

// Wait blocks until every bar currently owned by the reporter has
// completed rendering, for use before a CLI process exits.
func (r *Reporter) Wait() {
	r.progress.Wait()
}

var _ reporter.Reporter = (*Reporter)(nil)

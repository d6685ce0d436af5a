package dispatcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"pixi.build/dispatcher/model"
	"pixi.build/dispatcher/reporter"
	"pixi.build/dispatcher/solve"
)

// fakeGateway and fakeSolver mirror solve's own test fakes; redeclared here
// since they are unexported there and this package builds a full Handle
// rather than a bare Pipeline.
type fakeGateway struct{}

func (fakeGateway) FetchRecords(solve.RepodataRequest) ([]model.RepodataRecord, error) {
	return nil, nil
}

type fakeSolver struct{ out []model.SolvedRecord }

func (s fakeSolver) Solve(model.SolveCondaEnvironmentSpec) ([]model.SolvedRecord, error) {
	return s.out, nil
}

type fakeInstaller struct{ installed []model.SolvedRecord }

func (f *fakeInstaller) Install(prefix string, records []model.SolvedRecord) error {
	f.installed = records
	return nil
}

// eventByPhaseAndKind finds the first recorded event of phase matching kind.
func eventByPhaseAndKind(t *testing.T, events []reporter.RecordedEvent, phase string, kind model.TaskKind) reporter.RecordedEvent {
	t.Helper()
	for _, e := range events {
		if e.Phase == phase && e.Event.ID.Kind == kind {
			return e
		}
	}
	t.Fatalf("no %s event recorded for task kind %v", phase, kind)
	return reporter.RecordedEvent{}
}

// TestInstallQueuesSolveAsAChild exercises the composite Install -> Solve
// call chain and asserts the causal ordering of §5: a child's queued event
// names its parent's task id, and is observed strictly after the parent's
// own queued event.
func TestInstallQueuesSolveAsAChild(t *testing.T) {
	rec := &reporter.Recording{}
	installer := &fakeInstaller{}
	want := []model.SolvedRecord{{Kind: model.SolvedRecordBinary, Binary: model.RepodataRecord{Name: "widget"}}}

	h := New(Options{
		Reporter:  rec,
		Gateway:   fakeGateway{},
		Solver:    fakeSolver{out: want},
		Installer: installer,
	})

	req := solve.Request{
		Spec: model.PixiEnvironmentSpec{
			Name: "widget-env",
			Requirements: []model.PackageDependency{
				{Name: "widget", Spec: "widget >=1.0"},
			},
			Env: model.BuildEnvironment{HostPlatform: "linux-64"},
		},
	}

	got, err := h.Install(context.Background(), model.RootContext(), "/prefix/widget-env", req)
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.Equal(t, want, installer.installed)

	events := rec.Snapshot()

	installQueued := eventByPhaseAndKind(t, events, "queued", model.TaskPixiInstall)
	solveQueued := eventByPhaseAndKind(t, events, "queued", model.TaskPixiSolve)

	require.True(t, solveQueued.Event.Context.HasParent, "nested solve must carry a parent context")
	require.Equal(t, installQueued.Event.ID, solveQueued.Event.Context.Parent, "nested solve's parent must be the install task's own id")

	installIdx := indexOf(t, events, installQueued)
	solveIdx := indexOf(t, events, solveQueued)
	require.Less(t, installIdx, solveIdx, "a child's queued event must always be observed after its parent's queued event")

	installFinished := eventByPhaseAndKind(t, events, "finished", model.TaskPixiInstall)
	solveFinished := eventByPhaseAndKind(t, events, "finished", model.TaskPixiSolve)
	require.Less(t, indexOf(t, events, solveFinished), indexOf(t, events, installFinished), "the child solve must finish before the parent install reports finished")
}

func indexOf(t *testing.T, events []reporter.RecordedEvent, target reporter.RecordedEvent) int {
	t.Helper()
	for i, e := range events {
		if e == target {
			return i
		}
	}
	t.Fatal("event not found in snapshot")
	return -1
}

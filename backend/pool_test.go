package backend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pixi.build/dispatcher/go/cleanup"
	"pixi.build/dispatcher/model"
)

func systemBackendSpec(name string) model.BackendSpec {
	return model.BackendSpec{
		BackendName: name,
		Command: model.CommandSpec{
			Kind:       model.CommandSpecSystemExecutable,
			Executable: "sh",
			Args:       []string{"-c", fakeBackendScript},
		},
	}
}

func TestPoolReusesHandleForIdenticalSpec(t *testing.T) {
	p := &Pool{}
	spec := systemBackendSpec("widget-backend")

	h1, err := p.Get(spec)
	require.NoError(t, err)
	defer h1.Release()

	h2, err := p.Get(spec)
	require.NoError(t, err)
	defer h2.Release()

	require.Same(t, h1, h2)
}

func TestPoolInMemoryOverrideSkipsProcessSpawn(t *testing.T) {
	mem := &recordingInMemoryBackend{}
	p := &Pool{Overrides: Overrides{InMemory: map[string]InMemoryInstantiator{
		"widget-backend": func(init model.InitParams) (InMemoryBackend, error) { return mem, nil },
	}}}

	h, err := p.Get(systemBackendSpec("widget-backend"))
	require.NoError(t, err)
	defer h.Release()

	require.Nil(t, h.client)
	_, err = h.Outputs(OutputsRequest{})
	require.NoError(t, err)
	require.Equal(t, 1, mem.outputsCalls)
}

func TestPoolCommandOverrideReplacesSpecCommand(t *testing.T) {
	const failScript = `
i=0
while IFS= read -r line; do
  i=$((i+1))
  printf '{"id":%d,"error":{"message":"should not run"}}\n' "$i"
done
`
	p := &Pool{Overrides: Overrides{Commands: map[string]model.CommandSpec{
		"widget-backend": {Kind: model.CommandSpecSystemExecutable, Executable: "sh", Args: []string{"-c", fakeBackendScript}},
	}}}

	spec := systemBackendSpec("widget-backend")
	spec.Command.Args = []string{"-c", failScript}

	h, err := p.Get(spec)
	require.NoError(t, err)
	defer h.Release()
	require.NotNil(t, h.client)
}

func TestPoolEnvironmentSpecRequiresToolEnvInstantiator(t *testing.T) {
	p := &Pool{}
	spec := model.BackendSpec{
		BackendName: "env-backend",
		Command:     model.CommandSpec{Kind: model.CommandSpecEnvironmentSpec, EnvironmentSpecName: "build-tools"},
	}

	_, err := p.Get(spec)
	require.Error(t, err)
}

func TestHandleReleaseKeepsBackendWarmUntilReaped(t *testing.T) {
	p := &Pool{}
	spec := systemBackendSpec("widget-backend")

	h, err := p.Get(spec)
	require.NoError(t, err)

	h2, err := p.Get(spec)
	require.NoError(t, err)
	require.Same(t, h, h2)

	require.NoError(t, h.Release())
	p.mtx.Lock()
	_, stillPresent := p.handles[h.key]
	p.mtx.Unlock()
	require.True(t, stillPresent, "handle should still be pooled while a reference remains")

	require.NoError(t, h2.Release())
	p.mtx.Lock()
	_, stillPresent = p.handles[h.key]
	p.mtx.Unlock()
	require.True(t, stillPresent, "handle should stay pooled, idle, once its last reference drops")

	// Reaping is a no-op with IdleTimeout unset.
	p.reapIdle()
	p.mtx.Lock()
	_, stillPresent = p.handles[h.key]
	p.mtx.Unlock()
	require.True(t, stillPresent, "reapIdle must not close anything while IdleTimeout is zero")
}

func TestPoolReapIdleClosesHandlesPastIdleTimeout(t *testing.T) {
	clock := time.Unix(1000, 0)
	p := &Pool{
		IdleTimeout: time.Minute,
		Now:         func() time.Time { return clock },
	}
	spec := systemBackendSpec("widget-backend")

	h, err := p.Get(spec)
	require.NoError(t, err)
	require.NoError(t, h.Release())

	p.reapIdle()
	p.mtx.Lock()
	_, stillPresent := p.handles[h.key]
	p.mtx.Unlock()
	require.True(t, stillPresent, "handle idle for less than IdleTimeout must survive a sweep")

	clock = clock.Add(2 * time.Minute)
	p.reapIdle()
	p.mtx.Lock()
	_, stillPresent = p.handles[h.key]
	p.mtx.Unlock()
	require.False(t, stillPresent, "handle idle past IdleTimeout must be closed by a sweep")
}

func TestPoolCloseClosesEveryHandleRegardlessOfRefcount(t *testing.T) {
	p := &Pool{}
	h, err := p.Get(systemBackendSpec("widget-backend"))
	require.NoError(t, err)

	p.Close()
	p.mtx.Lock()
	_, stillPresent := p.handles[h.key]
	p.mtx.Unlock()
	require.False(t, stillPresent, "Close must evict handles even while still referenced")
}

func TestPoolActiveHandlesTracksSpawnsAndShutdowns(t *testing.T) {
	p := &Pool{}
	spec := systemBackendSpec("widget-backend")

	h1, err := p.Get(spec)
	require.NoError(t, err)
	require.Equal(t, 1, p.ActiveHandles())

	h2, err := p.Get(spec)
	require.NoError(t, err)
	require.Same(t, h1, h2)
	require.Equal(t, 1, p.ActiveHandles(), "reusing an existing handle must not spawn a second one")

	_, err = p.Get(systemBackendSpec("other-backend"))
	require.NoError(t, err)
	require.Equal(t, 2, p.ActiveHandles())

	p.Close()
	require.Equal(t, 0, p.ActiveHandles())
}

func TestPoolStartReaperClosesEverythingOnCleanup(t *testing.T) {
	p := &Pool{IdleTimeout: time.Hour}
	h, err := p.Get(systemBackendSpec("widget-backend"))
	require.NoError(t, err)
	require.NoError(t, h.Release())

	p.StartReaper(time.Hour)
	cleanup.Cleanup()

	p.mtx.Lock()
	_, stillPresent := p.handles[h.key]
	p.mtx.Unlock()
	require.False(t, stillPresent, "cleanup.Cleanup must invoke the reaper's shutdown hook")
}

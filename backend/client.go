package backend

import (
	"encoding/json"
	"os/exec"
	"sync"
	"time"

	"pixi.build/dispatcher/errs"
	"pixi.build/dispatcher/go/cleanup"
	"pixi.build/dispatcher/go/now"
	"pixi.build/dispatcher/go/sklog"
	"pixi.build/dispatcher/go/util"
	"pixi.build/dispatcher/model"
	"pixi.build/dispatcher/reporter"
)

// currentProtocolVersion is the protocol version a freshly spawned backend
// is assumed to speak when no negotiation has happened yet (the "system
// executable" instantiation path of §4.4 step 2).
const currentProtocolVersion = 1

// InMemoryBackend is a build backend implemented as a Go value instead of a
// subprocess, for the override instantiation path of §4.4 step 1.
type InMemoryBackend interface {
	Outputs(req OutputsRequest) (OutputsResponse, error)
	Build(req BuildRequest) (BuildResponse, error)
}

// InMemoryInstantiator constructs an InMemoryBackend directly from init
// params, skipping process spawning entirely.
type InMemoryInstantiator func(init model.InitParams) (InMemoryBackend, error)

// ToolEnvInstantiator resolves the "environment spec" command-spec variant
// (§4.4 step 3) by recursively soliciting instantiate_tool_env from the
// dispatcher: solving and installing a conda environment containing the
// backend, then returning its prefix and activation environment.
type ToolEnvInstantiator interface {
	InstantiateToolEnv(spec model.BackendSpec) (prefixDir string, activationEnv []string, err error)
}

// Overrides lets a caller substitute either a fixed system command or an
// in-memory instantiator for a named backend, bypassing the spec's own
// command_spec entirely (§4.4 step 1).
type Overrides struct {
	Commands map[string]model.CommandSpec
	InMemory map[string]InMemoryInstantiator
}

// Handle is a reference-counted build-backend connection, shared by every
// in-flight request that resolved to the same (resolved command, init
// params) instantiation key. Releasing the last reference does not close
// the backend: the handle stays in the pool as idle (see Release), and its
// stdin is closed, terminating the backend on its next read, only when the
// idle reaper or Pool.Close shuts it down.
type Handle struct {
	key    string
	pool   *Pool
	client *rpcClient // nil for in-memory backends
	memory InMemoryBackend

	caps Capabilities

	mtx       sync.Mutex
	refs      int
	idleSince time.Time // zero while refs > 0
}

// Capabilities returns the backend's negotiated protocol capabilities.
func (h *Handle) Capabilities() Capabilities { return h.caps }

// Outputs issues conda/outputs, falling back to the legacy conda/getMetadata
// procedure when the backend hasn't advertised outputs support, per the
// Open Question's "expose both, prefer outputs when advertised" guidance.
func (h *Handle) Outputs(req OutputsRequest) (OutputsResponse, error) {
	if h.memory != nil {
		return h.memory.Outputs(req)
	}
	method := "conda/getMetadata"
	if h.caps.SupportsOutputs {
		method = "conda/outputs"
	}
	raw, err := h.client.call(method, req)
	if err != nil {
		return OutputsResponse{}, errs.Wrap(errs.SourceMetadata, err, "backend %s request failed", method)
	}
	var resp OutputsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return OutputsResponse{}, errs.Wrap(errs.SourceMetadata, err, "decoding %s response", method)
	}
	return resp, nil
}

// Build issues conda/build v1.
func (h *Handle) Build(req BuildRequest) (BuildResponse, error) {
	if h.memory != nil {
		return h.memory.Build(req)
	}
	raw, err := h.client.call("conda/build", req)
	if err != nil {
		return BuildResponse{}, errs.Wrap(errs.BackendRpc, err, "conda/build request failed")
	}
	var resp BuildResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return BuildResponse{}, errs.Wrap(errs.BackendRpc, err, "decoding conda/build response")
	}
	return resp, nil
}

// acquire increments the handle's reference count. Callers obtain a Handle
// already holding one reference via Pool.Get; acquire is for callers that
// fan a single resolved handle out to multiple concurrent requests.
func (h *Handle) acquire() {
	h.mtx.Lock()
	h.refs++
	h.idleSince = time.Time{}
	h.mtx.Unlock()
}

// Release drops a reference. The handle is not torn down immediately when
// the last reference drops; it is kept warm in the pool, marked idle as of
// now, so a closely-following request for the same instantiation key can
// reuse it without respawning. A Pool with reaping enabled (StartReaper)
// closes it once it has sat idle past IdleTimeout; Pool.Close closes it
// unconditionally.
func (h *Handle) Release() error {
	h.mtx.Lock()
	h.refs--
	idle := h.refs <= 0
	if idle {
		h.idleSince = h.pool.now()
	}
	h.mtx.Unlock()
	return nil
}

// shutdown closes the handle's backend process (if any) and evicts it from
// the pool, regardless of refcount. Called by the idle reaper and by
// Pool.Close.
func (h *Handle) shutdown() error {
	h.pool.evict(h.key)
	h.pool.spawned.Dec()
	if h.client == nil {
		return nil
	}
	if err := h.client.close(); err != nil {
		sklog.Errorf("backend: closing handle for %s: %s", h.key, err)
		return errs.Wrap(errs.BackendRpc, err, "closing backend process")
	}
	return nil
}

// Pool instantiates and owns build-backend handles keyed by (resolved
// command, init params), per §4.4. A handle whose last reference drops
// stays warm until IdleTimeout elapses (enforced only once StartReaper has
// been called), so that back-to-back requests for the same backend don't
// each pay its spawn cost.
type Pool struct {
	Overrides   Overrides
	ToolEnv     ToolEnvInstantiator
	Reporter    reporter.Reporter
	IdleTimeout time.Duration
	Now         now.NowFunc

	mtx     sync.Mutex
	handles map[string]*Handle
	spawned util.AtomicCounter
}

// ActiveHandles returns the number of backend handles currently spawned
// (process-backed or in-memory), including idle ones not yet reaped.
func (p *Pool) ActiveHandles() int { return p.spawned.Get() }

func (p *Pool) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return now.Now()
}

// Get resolves spec to a Handle, reusing an existing one for the same
// instantiation key if present (incrementing its refcount) and
// instantiating a fresh one otherwise.
func (p *Pool) Get(spec model.BackendSpec) (*Handle, error) {
	key, err := model.HashJSON(spec)
	if err != nil {
		return nil, errs.Wrap(errs.BackendInstantiate, err, "hashing backend spec")
	}

	p.mtx.Lock()
	if h, ok := p.handles[key]; ok {
		p.mtx.Unlock()
		h.acquire()
		return h, nil
	}
	p.mtx.Unlock()

	h, err := p.instantiate(key, spec)
	if err != nil {
		return nil, err
	}
	h.refs = 1
	p.spawned.Inc()

	p.mtx.Lock()
	p.handles[key] = h
	p.mtx.Unlock()
	return h, nil
}

func (p *Pool) evict(key string) {
	p.mtx.Lock()
	if p.handles != nil {
		delete(p.handles, key)
	}
	p.mtx.Unlock()
}

// reapIdle closes every handle that has sat unreferenced for longer than
// IdleTimeout. A zero IdleTimeout disables reaping entirely.
func (p *Pool) reapIdle() {
	if p.IdleTimeout <= 0 {
		return
	}
	now := p.now()

	p.mtx.Lock()
	var stale []*Handle
	for _, h := range p.handles {
		h.mtx.Lock()
		if h.refs <= 0 && !h.idleSince.IsZero() && now.Sub(h.idleSince) > p.IdleTimeout {
			stale = append(stale, h)
		}
		h.mtx.Unlock()
	}
	p.mtx.Unlock()

	for _, h := range stale {
		if err := h.shutdown(); err != nil {
			sklog.Errorf("backend: reaping idle handle %s: %s", h.key, err)
		}
	}
}

// StartReaper registers a periodic sweep, every interval, that closes
// handles idle past IdleTimeout, and arranges for every remaining handle to
// be closed when cleanup.Cleanup runs at process shutdown.
func (p *Pool) StartReaper(interval time.Duration) {
	cleanup.Repeat(interval, p.reapIdle, p.Close)
}

// Close closes every handle currently held by the pool, in or out of use.
func (p *Pool) Close() {
	p.mtx.Lock()
	handles := make([]*Handle, 0, len(p.handles))
	for _, h := range p.handles {
		handles = append(handles, h)
	}
	p.mtx.Unlock()

	for _, h := range handles {
		if err := h.shutdown(); err != nil {
			sklog.Errorf("backend: closing handle %s during pool shutdown: %s", h.key, err)
		}
	}
}

// instantiate implements the three-way dispatch of §4.4's instantiation
// algorithm.
func (p *Pool) instantiate(key string, spec model.BackendSpec) (*Handle, error) {
	if p.handles == nil {
		p.handles = make(map[string]*Handle)
	}

	if factory, ok := p.Overrides.InMemory[spec.BackendName]; ok {
		backend, err := factory(spec.Init)
		if err != nil {
			return nil, errs.Wrap(errs.BackendInstantiate, err, "in-memory backend %s", spec.BackendName)
		}
		return &Handle{key: key, pool: p, memory: backend, caps: Capabilities{ProtocolVersion: currentProtocolVersion, SupportsOutputs: true, SupportsNullName: true}}, nil
	}

	command := spec.Command
	if override, ok := p.Overrides.Commands[spec.BackendName]; ok {
		command = override
	}

	var env []string
	switch command.Kind {
	case model.CommandSpecSystemExecutable:
		// Spawn directly; assume the currently-known protocol version until
		// initialize tells us otherwise.
	case model.CommandSpecEnvironmentSpec:
		if p.ToolEnv == nil {
			return nil, errs.New(errs.BackendInstantiate, "backend %s requires an environment spec but no tool-env instantiator is configured", spec.BackendName)
		}
		prefixDir, activationEnv, err := p.ToolEnv.InstantiateToolEnv(spec)
		if err != nil {
			return nil, errs.Wrap(errs.BackendInstantiate, err, "instantiating tool environment for %s", spec.BackendName)
		}
		env = activationEnv
		if command.Executable == "" {
			command.Executable = resolveInPrefix(prefixDir, command.EnvironmentSpecName)
		}
	default:
		return nil, errs.New(errs.BackendInstantiate, "unknown command spec kind for backend %s", spec.BackendName)
	}

	cmd := exec.Command(command.Executable, command.Args...)
	cmd.Dir = spec.Init.WorkspaceRoot
	if env != nil {
		cmd.Env = env
	}

	reportEv := reporter.Event{Label: spec.BackendName}
	client, err := startRPCClient(cmd, p.Reporter, reportEv)
	if err != nil {
		return nil, err
	}

	h := &Handle{key: key, pool: p, client: client}
	caps, err := h.initialize(spec.Init)
	if err != nil {
		_ = client.close()
		return nil, err
	}
	h.caps = caps
	return h, nil
}

// initialize performs the protocol handshake, negotiating capabilities and
// rejecting a name:None project model the backend can't accept.
func (h *Handle) initialize(init model.InitParams) (Capabilities, error) {
	if init.Project != nil && init.Project.Name == nil {
		// The backend's capabilities aren't known yet; initialize is still
		// attempted so a backend that does support null names succeeds.
		sklog.Debugf("backend: initializing with a name:None project model, deferring MissingName check to capability response")
	}

	raw, err := h.client.call("initialize", initializeParams{
		ManifestPath:  init.ManifestPath,
		WorkspaceRoot: init.WorkspaceRoot,
		SourceDir:     init.SourceDir,
		Project:       init.Project,
		Configuration: init.Configuration,
	})
	if err != nil {
		return Capabilities{}, errs.Wrap(errs.BackendInstantiate, err, "initialize handshake failed")
	}

	var caps Capabilities
	if err := json.Unmarshal(raw, &caps); err != nil {
		return Capabilities{}, errs.Wrap(errs.BackendInstantiate, err, "decoding initialize response")
	}

	if init.Project != nil && init.Project.Name == nil && !caps.SupportsNullName {
		return Capabilities{}, errs.MissingNameErr()
	}
	return caps, nil
}

func resolveInPrefix(prefixDir, executableName string) string {
	if executableName == "" {
		executableName = "build-backend"
	}
	return prefixDir + "/bin/" + executableName
}

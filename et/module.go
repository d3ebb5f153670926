package et

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

// ForwardMethod is the conventional name of a model's main method.
const ForwardMethod = "forward"

// ModuleState is the lifecycle state of a Module.
type ModuleState int

const (
	ModuleUnloaded ModuleState = iota
	ModuleLoaded
	ModuleClosed
)

func (s ModuleState) String() string {
	switch s {
	case ModuleUnloaded:
		return "Unloaded"
	case ModuleLoaded:
		return "Loaded"
	case ModuleClosed:
		return "Closed"
	default:
		return fmt.Sprintf("ModuleState(%d)", int(s))
	}
}

// MethodState is the lifecycle state of a single method within a loaded Module.
type MethodState int

const (
	MethodNotLoaded MethodState = iota
	MethodReady
	MethodExecuting
)

func (s MethodState) String() string {
	switch s {
	case MethodNotLoaded:
		return "NotLoaded"
	case MethodReady:
		return "MethodReady"
	case MethodExecuting:
		return "Executing"
	default:
		return fmt.Sprintf("MethodState(%d)", int(s))
	}
}

// Option configures Load.
type Option func(*moduleConfig) error

type moduleConfig struct {
	engineFactory  EngineFactory
	maxConcurrency int
	resolver       SourceResolver
}

// WithEngineFactory sets the engine constructor. The default loads the native engine.
func WithEngineFactory(factory EngineFactory) Option {
	return func(c *moduleConfig) error {
		if factory == nil {
			return fmt.Errorf("engine factory cannot be nil")
		}
		c.engineFactory = factory
		return nil
	}
}

// WithMaxConcurrency bounds how many engine calls of one Module (and its clones) run at once.
func WithMaxConcurrency(n int) Option {
	return func(c *moduleConfig) error {
		if n <= 0 {
			return fmt.Errorf("max concurrency must be positive, got %d", n)
		}
		c.maxConcurrency = n
		return nil
	}
}

// WithModelStore resolves the model source through r before loading it.
func WithModelStore(r SourceResolver) Option {
	return func(c *moduleConfig) error {
		if r == nil {
			return fmt.Errorf("model store cannot be nil")
		}
		c.resolver = r
		return nil
	}
}

type method struct {
	// mu serializes executions; the engine keeps mutable per-method state.
	mu        sync.Mutex
	meta      *MethodMeta
	executing atomic.Bool
}

// moduleShared is the state every clone of a Module points to.
type moduleShared struct {
	refs   atomic.Int64
	engine Engine
	pool   *workerPool
	path   string

	// mu guards methods. Loading a method takes it exclusively so it never
	// overlaps an execution.
	mu      sync.RWMutex
	methods map[string]*method
	closed  bool
}

// tryRetain takes a reference unless the last one is already gone.
func (s *moduleShared) tryRetain() bool {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return false
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (s *moduleShared) release() error {
	if s.refs.Add(-1) != 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.methods = nil
	if err := s.engine.Close(); err != nil {
		return fmt.Errorf("failed to close engine: %w", err)
	}
	return nil
}

// dispatch runs fn on the pool of s. The caller has already taken a reference
// to s; it is dropped once fn returns or the queued call is abandoned.
func dispatch[T any](ctx context.Context, s *moduleShared, fn func() (T, error)) *Future[T] {
	return Go(func() (T, error) {
		defer func() {
			if err := s.release(); err != nil {
				klog.FromContext(ctx).Error(err, "releasing module")
			}
		}()
		return runOn(ctx, s.pool, fn)
	})
}

// Module is a handle to a loaded model.
//
// Clone returns another handle to the same model; every clone sees the same set
// of loaded methods. The model is released when the last handle is closed and
// every call scheduled through any handle has finished.
type Module struct {
	shared *moduleShared
	closed atomic.Bool
}

// Load loads the model at source on a worker goroutine.
//
// The loaded Module must be closed even when the caller stops waiting for it;
// WaitOrClose does that.
func Load(ctx context.Context, source string, opts ...Option) *Future[*Module] {
	cfg := moduleConfig{engineFactory: newNativeEngine}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return Failed[*Module](&Error{Code: ErrorCodeInvalidArgument, Op: "load", Msg: err.Error()})
		}
	}
	if source == "" {
		return Failed[*Module](&Error{Code: ErrorCodeInvalidArgument, Op: "load", Msg: "model path is empty"})
	}

	pool := newWorkerPool(cfg.maxConcurrency)
	return submit(ctx, pool, func() (*Module, error) {
		log := klog.FromContext(ctx).WithValues("source", source)
		startedAt := time.Now()

		path := source
		if cfg.resolver != nil {
			resolved, err := cfg.resolver.Resolve(ctx, source)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve model source %q: %w", source, err)
			}
			path = resolved
		}

		engine, err := cfg.engineFactory()
		if err != nil {
			return nil, fmt.Errorf("failed to create engine: %w", err)
		}
		if code := engine.Load(path); code != ErrorCodeOK {
			closeErr := engine.Close()
			loadErr := &Error{Code: code, Op: "load", Msg: fmt.Sprintf("failed to load model %q", path)}
			log.Error(loadErr, "loading model")
			return nil, errors.Join(loadErr, closeErr)
		}

		shared := &moduleShared{
			engine:  engine,
			pool:    pool,
			path:    path,
			methods: make(map[string]*method),
		}
		shared.refs.Store(1)
		log.Info("loaded model", "path", path, "duration", time.Since(startedAt))
		return &Module{shared: shared}, nil
	})
}

// Clone returns a new handle sharing this Module's model.
func (m *Module) Clone() (*Module, error) {
	if err := m.retain("clone"); err != nil {
		return nil, err
	}
	return &Module{shared: m.shared}, nil
}

// Close releases this handle. It is safe to call more than once.
func (m *Module) Close() error {
	if m == nil || m.shared == nil || m.closed.Swap(true) {
		return nil
	}
	return m.shared.release()
}

// retain takes a reference for work that may outlive the handle.
func (m *Module) retain(op string) error {
	if m == nil || m.shared == nil || m.closed.Load() || !m.shared.tryRetain() {
		return &Error{Code: ErrorCodeInvalidState, Op: op, Msg: "module is closed"}
	}
	return nil
}

// Path returns the local path the model was loaded from.
func (m *Module) Path() string {
	return m.shared.path
}

// State reports whether the handle is usable.
func (m *Module) State() ModuleState {
	if m == nil || m.shared == nil {
		return ModuleUnloaded
	}
	if m.closed.Load() {
		return ModuleClosed
	}
	return ModuleLoaded
}

// LoadMethod loads a method on a worker goroutine. Loading a method that is
// already loaded succeeds without calling the engine again.
func (m *Module) LoadMethod(ctx context.Context, name string) *Future[struct{}] {
	if err := m.retain("load_method"); err != nil {
		return Failed[struct{}](err)
	}
	s := m.shared
	return dispatch(ctx, s, func() (struct{}, error) {
		log := klog.FromContext(ctx).WithValues("method", name)

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return struct{}{}, &Error{Code: ErrorCodeInvalidState, Op: "load_method", Msg: "module is closed"}
		}
		if _, ok := s.methods[name]; ok {
			log.V(2).Info("method already loaded")
			return struct{}{}, nil
		}
		if code := s.engine.LoadMethod(name); code != ErrorCodeOK {
			return struct{}{}, &Error{Code: code, Op: "load_method", Msg: fmt.Sprintf("failed to load method %q", name)}
		}
		meta, code := s.engine.MethodMeta(name)
		if code != ErrorCodeOK {
			return struct{}{}, &Error{Code: code, Op: "load_method", Msg: fmt.Sprintf("failed to read metadata of method %q", name)}
		}
		s.methods[name] = &method{meta: meta}
		log.Info("loaded method", "inputs", meta.NumInputs(), "outputs", meta.NumOutputs())
		return struct{}{}, nil
	})
}

// HasMethod reports whether the model defines name.
func (m *Module) HasMethod(name string) bool {
	if m.State() != ModuleLoaded {
		return false
	}
	m.shared.mu.RLock()
	defer m.shared.mu.RUnlock()
	return !m.shared.closed && m.shared.engine.HasMethod(name)
}

// MethodNames lists every method in the model, loaded or not.
func (m *Module) MethodNames() ([]string, error) {
	if m.State() != ModuleLoaded {
		return nil, &Error{Code: ErrorCodeInvalidState, Op: "method_names", Msg: "module is closed"}
	}
	m.shared.mu.RLock()
	defer m.shared.mu.RUnlock()
	return m.shared.engine.MethodNames(), nil
}

// LoadedMethods lists the methods loaded so far.
func (m *Module) LoadedMethods() []string {
	if m.State() != ModuleLoaded {
		return nil
	}
	m.shared.mu.RLock()
	defer m.shared.mu.RUnlock()
	names := make([]string, 0, len(m.shared.methods))
	for name := range m.shared.methods {
		names = append(names, name)
	}
	return names
}

// MethodState reports the lifecycle state of one method.
func (m *Module) MethodState(name string) MethodState {
	if m.State() != ModuleLoaded {
		return MethodNotLoaded
	}
	m.shared.mu.RLock()
	defer m.shared.mu.RUnlock()
	me, ok := m.shared.methods[name]
	switch {
	case !ok:
		return MethodNotLoaded
	case me.executing.Load():
		return MethodExecuting
	default:
		return MethodReady
	}
}

// MethodMeta returns the declared signature of name. It does not require the
// method to be loaded, but it fails with InvalidArgument when the model has no
// such method.
func (m *Module) MethodMeta(name string) (*MethodMeta, error) {
	if m.State() != ModuleLoaded {
		return nil, &Error{Code: ErrorCodeInvalidState, Op: "method_meta", Msg: "module is closed"}
	}
	s := m.shared
	s.mu.RLock()
	defer s.mu.RUnlock()
	if me, ok := s.methods[name]; ok {
		return me.meta, nil
	}
	if !s.engine.HasMethod(name) {
		return nil, &Error{Code: ErrorCodeInvalidArgument, Op: "method_meta", Msg: fmt.Sprintf("method %q does not exist", name)}
	}
	meta, code := s.engine.MethodMeta(name)
	if code != ErrorCodeOK {
		return nil, &Error{Code: code, Op: "method_meta", Msg: fmt.Sprintf("failed to read metadata of method %q", name)}
	}
	return meta, nil
}

// Execute runs a loaded method on a worker goroutine.
//
// On success the result holds exactly one value per declared output. On failure
// no outputs are returned. The caller keeps ownership of inputs and receives
// ownership of the outputs.
func (m *Module) Execute(ctx context.Context, name string, inputs []Value) *Future[[]Value] {
	if err := m.retain("execute"); err != nil {
		return Failed[[]Value](err)
	}
	s := m.shared
	return dispatch(ctx, s, func() ([]Value, error) {
		log := klog.FromContext(ctx).WithValues("method", name, "runID", uuid.NewString())

		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.closed {
			return nil, &Error{Code: ErrorCodeInvalidState, Op: "execute", Msg: "module is closed"}
		}
		me, ok := s.methods[name]
		if !ok {
			return nil, &Error{Code: ErrorCodeInvalidState, Op: "execute", Msg: fmt.Sprintf("method %q is not loaded", name)}
		}

		me.mu.Lock()
		defer me.mu.Unlock()
		me.executing.Store(true)
		defer me.executing.Store(false)

		startedAt := time.Now()
		log.V(2).Info("executing method", "inputs", len(inputs))
		outputs := NoneValues(me.meta.NumOutputs())
		produced, code := s.engine.Execute(name, inputs)
		if code != ErrorCodeOK {
			err := &Error{Code: code, Op: "execute", Msg: fmt.Sprintf("method %q failed", name)}
			log.V(1).Info("method execution failed", "err", err, "duration", time.Since(startedAt))
			return nil, err
		}
		if len(produced) != len(outputs) {
			_ = DestroyValues(produced...)
			return nil, &Error{Code: ErrorCodeInternal, Op: "execute", Msg: fmt.Sprintf("method %q produced %d outputs, declared %d", name, len(produced), len(outputs))}
		}
		for i, v := range produced {
			if v != nil {
				outputs[i] = v
			}
		}
		log.V(2).Info("executed method", "outputs", len(outputs), "duration", time.Since(startedAt))
		return outputs, nil
	})
}

// Forward executes the "forward" method.
func (m *Module) Forward(ctx context.Context, inputs []Value) *Future[[]Value] {
	return m.Execute(ctx, ForwardMethod, inputs)
}

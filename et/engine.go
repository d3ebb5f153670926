package et

import "context"

// Engine is the inference runtime a Module drives. All result codes come from the
// shared ErrorCode taxonomy.
//
// Implementations need not be safe for concurrent use of a single method; Module
// serializes execution per method. Different methods may run concurrently.
type Engine interface {
	Load(path string) ErrorCode
	LoadMethod(name string) ErrorCode
	HasMethod(name string) bool
	MethodMeta(name string) (*MethodMeta, ErrorCode)
	// Execute runs a loaded method. On a non-OK code the outputs are ignored.
	Execute(name string, inputs []Value) ([]Value, ErrorCode)
	MethodNames() []string
	Close() error
}

// EngineFactory creates a fresh, unloaded engine for one Module.
type EngineFactory func() (Engine, error)

// SourceResolver turns a model source (a URL or path) into a local file path.
type SourceResolver interface {
	Resolve(ctx context.Context, source string) (string, error)
}

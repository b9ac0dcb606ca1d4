package runtime

import (
	"context"

	"go.uber.org/zap"

	"github.com/reefvm/reef/engine"
	"github.com/reefvm/reef/errors"
	"github.com/reefvm/reef/wasm"
)

// Runtime is the high-level entry point: it holds the host function
// registry and execution limits shared by every instance it creates.
type Runtime struct {
	imports *engine.ImportObject
	cfg     engine.Config
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithMaxFuel caps instructions per invocation. 0 means unlimited.
func WithMaxFuel(n uint64) Option {
	return func(r *Runtime) { r.cfg.MaxFuel = n }
}

// WithMaxCallDepth caps guest call nesting.
func WithMaxCallDepth(n int) Option {
	return func(r *Runtime) { r.cfg.MaxCallDepth = n }
}

// WithMemoryLimitPages caps per-instance memory growth in 64KB pages.
func WithMemoryLimitPages(n uint32) Option {
	return func(r *Runtime) { r.cfg.MemoryLimitPages = n }
}

// New creates a runtime with an empty host registry.
func New(opts ...Option) *Runtime {
	r := &Runtime{imports: engine.NewImportObject()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Imports returns the host registry so embedders can add their own
// functions, globals, memories, and tables.
func (r *Runtime) Imports() *engine.ImportObject {
	return r.imports
}

// RegisterFunc registers a host function under (module, name).
func (r *Runtime) RegisterFunc(module, name string, typ wasm.FuncType, fn engine.HostFuncFn) error {
	return r.imports.RegisterFunc(module, name, typ, fn)
}

// LoadModule decodes and validates a WebAssembly binary.
func (r *Runtime) LoadModule(binary []byte) (*Module, error) {
	m, err := wasm.ParseModule(binary)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseDecode, errors.KindInvalidData, err, "parse module")
	}
	if err := m.Validate(); err != nil {
		return nil, errors.Wrap(errors.PhaseValidate, errors.KindInvalidData, err, "validate module")
	}
	Logger().Debug("module loaded",
		zap.Int("size", len(binary)),
		zap.Int("functions", m.NumFuncs()),
		zap.Int("exports", len(m.Exports)))
	return &Module{wasm: m, binary: binary}, nil
}

// Instantiate creates a running instance of a loaded module, resolving
// its imports against the runtime's registry.
func (r *Runtime) Instantiate(ctx context.Context, mod *Module) (*Instance, error) {
	inst, err := engine.NewInstance(ctx, mod.wasm, r.imports, &r.cfg)
	if err != nil {
		return nil, err
	}
	return &Instance{engine: inst, mod: mod}, nil
}

// Module is a decoded, validated module ready for instantiation.
type Module struct {
	wasm   *wasm.Module
	binary []byte
}

// Wasm returns the decoded module.
func (m *Module) Wasm() *wasm.Module {
	return m.wasm
}

// Binary returns the original binary the module was loaded from.
func (m *Module) Binary() []byte {
	return m.binary
}

// ExportedFunctions returns the module's function exports in declaration
// order.
func (m *Module) ExportedFunctions() []wasm.Export {
	var out []wasm.Export
	for _, exp := range m.wasm.Exports {
		if exp.Kind == wasm.KindFunc {
			out = append(out, exp)
		}
	}
	return out
}

// entryCandidates are tried in order when no entry export is named.
var entryCandidates = []string{"reef_main", "main", "__main_void", "__original_main"}

// EntryExport picks the function export to invoke: preferred if non-empty,
// otherwise the first conventional entry name present.
func (m *Module) EntryExport(preferred string) (string, bool) {
	if preferred != "" {
		exp := m.wasm.GetExport(preferred)
		return preferred, exp != nil && exp.Kind == wasm.KindFunc
	}
	for _, name := range entryCandidates {
		if exp := m.wasm.GetExport(name); exp != nil && exp.Kind == wasm.KindFunc {
			return name, true
		}
	}
	return "", false
}

// Instance is a running module instance.
type Instance struct {
	engine *engine.Instance
	mod    *Module
}

// Invoke calls an exported function by name.
func (i *Instance) Invoke(ctx context.Context, name string, args ...engine.Value) ([]engine.Value, error) {
	return i.engine.Invoke(ctx, name, args...)
}

// Module returns the module this instance was created from.
func (i *Instance) Module() *Module {
	return i.mod
}

// Engine returns the underlying engine instance for direct access to
// memory, tables, and globals.
func (i *Instance) Engine() *engine.Instance {
	return i.engine
}

// FuncType returns the signature of a function export, or nil.
func (i *Instance) FuncType(name string) *wasm.FuncType {
	return i.engine.FuncType(name)
}

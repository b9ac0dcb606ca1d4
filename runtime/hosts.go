package runtime

import (
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/reefvm/reef/engine"
	"github.com/reefvm/reef/wasm"
)

// HostModule is the module name guests import driver functions under.
const HostModule = "reef"

// HostConfig configures the standard host module.
type HostConfig struct {
	// LogWriter receives reef.log payloads, one write per call.
	// nil discards them.
	LogWriter io.Writer

	// OnProgress receives reef.progress reports in [0, 1]. nil ignores
	// them.
	OnProgress func(float32)
}

// RegisterHostModule registers the standard "reef" host functions:
//
//	reef.log(ptr i32, len i32)  - forwards a guest memory range to the sink
//	reef.progress(frac f32)     - reports fractional progress in [0, 1]
func RegisterHostModule(imports *engine.ImportObject, cfg HostConfig) error {
	logType := wasm.FuncType{Params: []wasm.ValType{wasm.ValI32, wasm.ValI32}}
	err := imports.RegisterFunc(HostModule, "log", logType,
		func(cc *engine.CallContext, args []engine.Value) ([]engine.Value, error) {
			ptr := uint32(args[0].I32())
			length := uint32(args[1].I32())

			mem := cc.Memory()
			if mem == nil {
				return nil, fmt.Errorf("reef.log: module has no memory")
			}
			data, ok := mem.Read(ptr, length)
			if !ok {
				return nil, fmt.Errorf("reef.log: range [%d, %d) out of bounds", ptr, uint64(ptr)+uint64(length))
			}

			Logger().Debug("reef.log", zap.Uint32("ptr", ptr), zap.Uint32("len", length))
			if cfg.LogWriter != nil {
				if _, err := cfg.LogWriter.Write(data); err != nil {
					return nil, fmt.Errorf("reef.log: %w", err)
				}
			}
			return nil, nil
		})
	if err != nil {
		return err
	}

	progressType := wasm.FuncType{Params: []wasm.ValType{wasm.ValF32}}
	return imports.RegisterFunc(HostModule, "progress", progressType,
		func(cc *engine.CallContext, args []engine.Value) ([]engine.Value, error) {
			frac := args[0].F32()
			if !(frac >= 0 && frac <= 1) { // rejects NaN too
				return nil, fmt.Errorf("reef.progress: %g outside [0, 1]", frac)
			}
			if cfg.OnProgress != nil {
				cfg.OnProgress(frac)
			}
			return nil, nil
		})
}

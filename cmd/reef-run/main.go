package main

import (
	"context"
	goerrors "errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/reefvm/reef/engine"
	"github.com/reefvm/reef/errors"
	"github.com/reefvm/reef/runtime"
	"github.com/reefvm/reef/wasm"
)

const (
	exitOK       = 0
	exitUsage    = 1
	exitDecode   = 2
	exitValidate = 3
	exitLink     = 4
	exitTrap     = 5
)

func main() {
	var (
		invoke      = flag.String("invoke", "", "Exported function to call (default: entry point)")
		argList     = flag.String("args", "", "Arguments for the function (comma-separated)")
		fuel        = flag.Uint64("fuel", 0, "Instruction budget, 0 = unlimited")
		depth       = flag.Int("depth", engine.DefaultMaxCallDepth, "Maximum call depth")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 || flag.NArg() > 2 {
		usage()
		os.Exit(exitUsage)
	}
	wasmFile := flag.Arg(0)

	verbose := false
	if flag.NArg() == 2 {
		switch flag.Arg(1) {
		case "0":
		case "1":
			verbose = true
		default:
			fmt.Fprintf(os.Stderr, "invalid mode %q: want 0 or 1\n", flag.Arg(1))
			os.Exit(exitUsage)
		}
	}

	if verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitUsage)
		}
		defer logger.Sync()
		engine.SetLogger(logger)
		runtime.SetLogger(logger)
	}

	if *interactive {
		if err := runInteractive(wasmFile, *fuel, *depth); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(exitUsage)
		}
		return
	}

	if err := run(wasmFile, *invoke, *argList, *fuel, *depth); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: reef-run [flags] <module.wasm> [mode]")
	fmt.Fprintln(os.Stderr, "       mode: 0 = quiet (default), 1 = verbose logging")
	fmt.Fprintln(os.Stderr, "       reef-run -invoke name -args 1,2 <module.wasm>")
	fmt.Fprintln(os.Stderr, "       reef-run -i <module.wasm>  (interactive mode)")
	flag.PrintDefaults()
}

func run(wasmFile, funcName, argList string, fuel uint64, depth int) error {
	ctx := context.Background()

	data, err := os.ReadFile(wasmFile)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	r := runtime.New(
		runtime.WithMaxFuel(fuel),
		runtime.WithMaxCallDepth(depth),
	)
	if err := runtime.RegisterHostModule(r.Imports(), runtime.HostConfig{
		LogWriter: os.Stdout,
	}); err != nil {
		return fmt.Errorf("register host module: %w", err)
	}

	mod, err := r.LoadModule(data)
	if err != nil {
		return err
	}

	entry, ok := mod.EntryExport(funcName)
	if !ok {
		if funcName != "" {
			return errors.NotFound(errors.PhaseRuntime, "export", funcName)
		}
		return fmt.Errorf("no entry point found; use -invoke to name an export")
	}

	inst, err := r.Instantiate(ctx, mod)
	if err != nil {
		return err
	}

	ft := inst.FuncType(entry)
	args, err := parseArgs(argList, ft.Params)
	if err != nil {
		return fmt.Errorf("parse arguments: %w", err)
	}

	results, err := inst.Invoke(ctx, entry, args...)
	if err != nil {
		return fmt.Errorf("call %s: %w", entry, err)
	}

	for _, v := range results {
		fmt.Println(v.String())
	}
	return nil
}

// parseArgs converts comma-separated literals to values of the given
// types. Without -args, every parameter defaults to its zero value so
// entry points that take arguments still run.
func parseArgs(argList string, params []wasm.ValType) ([]engine.Value, error) {
	if argList == "" {
		args := make([]engine.Value, len(params))
		for i, t := range params {
			args[i] = zeroArg(t)
		}
		return args, nil
	}
	fields := strings.Split(argList, ",")
	if len(fields) != len(params) {
		return nil, fmt.Errorf("want %d arguments, got %d", len(params), len(fields))
	}
	args := make([]engine.Value, len(fields))
	for i, f := range fields {
		v, err := parseValue(strings.TrimSpace(f), params[i])
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		args[i] = v
	}
	return args, nil
}

func zeroArg(t wasm.ValType) engine.Value {
	switch t {
	case wasm.ValI64:
		return engine.I64(0)
	case wasm.ValF32:
		return engine.F32(0)
	case wasm.ValF64:
		return engine.F64(0)
	case wasm.ValFuncRef, wasm.ValExtern:
		return engine.NullRef(t)
	default:
		return engine.I32(0)
	}
}

func parseValue(s string, t wasm.ValType) (engine.Value, error) {
	switch t {
	case wasm.ValI32:
		v, err := strconv.ParseInt(s, 0, 32)
		if err != nil {
			return engine.Value{}, err
		}
		return engine.I32(int32(v)), nil
	case wasm.ValI64:
		v, err := strconv.ParseInt(s, 0, 64)
		if err != nil {
			return engine.Value{}, err
		}
		return engine.I64(v), nil
	case wasm.ValF32:
		v, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return engine.Value{}, err
		}
		return engine.F32(float32(v)), nil
	case wasm.ValF64:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return engine.Value{}, err
		}
		return engine.F64(v), nil
	default:
		return engine.Value{}, fmt.Errorf("cannot parse %s argument from the command line", t)
	}
}

func exitCode(err error) int {
	var te *errors.TrapError
	if goerrors.As(err, &te) {
		return exitTrap
	}
	var e *errors.Error
	if goerrors.As(err, &e) {
		switch e.Phase {
		case errors.PhaseDecode:
			return exitDecode
		case errors.PhaseValidate:
			return exitValidate
		case errors.PhaseLink, errors.PhaseHost:
			return exitLink
		}
	}
	return exitUsage
}

package runner

import (
	"context"
	"fmt"
	"strings"

	"github.com/dop251/goja"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// expressionEnv wraps a goja runtime prepared for evaluating transform
// expressions against records. Node-style globals are stripped and a small set
// of string helpers is injected. A single env is owned by one transform runner
// and must not be shared across goroutines.
type expressionEnv struct {
	vm      *goja.Runtime
	program *goja.Program
}

// dangerous globals removed from every expression VM
var removedGlobals = []string{
	"require", "module", "exports", "process", "global",
	"__dirname", "__filename", "Buffer", "setImmediate", "clearImmediate",
}

// newExpressionEnv compiles the expression once and prepares a restricted VM.
// The expression is wrapped so that record fields resolve as bare identifiers,
// matching how conditions like "age > 18" are written in node configs.
func newExpressionEnv(expression string) (*expressionEnv, error) {
	wrapped := fmt.Sprintf("(function(record) { with (record) { return (%s); } })(__record__)", expression)
	program, err := goja.Compile("expression", wrapped, false)
	if err != nil {
		return nil, fmt.Errorf("cannot compile expression %q: %w", expression, err)
	}

	vm := goja.New()
	for _, name := range removedGlobals {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return nil, fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	if err := injectStringHelpers(vm); err != nil {
		return nil, err
	}

	return &expressionEnv{vm: vm, program: program}, nil
}

// injectStringHelpers exposes upper/lower/title to expressions. Title casing
// goes through x/text so that it behaves correctly beyond ASCII.
func injectStringHelpers(vm *goja.Runtime) error {
	titleCaser := cases.Title(language.English)
	helpers := map[string]interface{}{
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"title": func(s string) string { return titleCaser.String(s) },
		"trim":  strings.TrimSpace,
	}
	for name, fn := range helpers {
		if err := vm.Set(name, fn); err != nil {
			return fmt.Errorf("failed to register helper %s: %w", name, err)
		}
	}
	return nil
}

// eval runs the compiled expression against one record. Evaluation is
// interrupted when the context is cancelled so a runaway expression cannot
// outlive the node's timeout.
func (e *expressionEnv) eval(ctx context.Context, record Record) (goja.Value, error) {
	if err := e.vm.Set("__record__", map[string]interface{}(record)); err != nil {
		return nil, err
	}

	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			e.vm.Interrupt(ctx.Err())
		case <-watchDone:
		}
	}()

	value, err := e.vm.RunProgram(e.program)
	if err != nil {
		if _, interrupted := err.(*goja.InterruptedError); interrupted {
			e.vm.ClearInterrupt()
			return nil, ctx.Err()
		}
		return nil, err
	}
	return value, nil
}

// evalBool evaluates the expression and coerces the result to a boolean.
func (e *expressionEnv) evalBool(ctx context.Context, record Record) (bool, error) {
	value, err := e.eval(ctx, record)
	if err != nil {
		return false, err
	}
	return value.ToBoolean(), nil
}

// evalObject evaluates the expression and expects an object result, returned
// as a record.
func (e *expressionEnv) evalObject(ctx context.Context, record Record) (Record, error) {
	value, err := e.eval(ctx, record)
	if err != nil {
		return nil, err
	}
	exported := value.Export()
	obj, ok := exported.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("map expression must evaluate to an object, got %T", exported)
	}
	return Record(obj), nil
}

package rules

import (
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// evalTimeout bounds a single condition evaluation. Conditions are plain
// expressions so anything near this limit is a runaway loop.
const evalTimeout = 100 * time.Millisecond

// compileCondition compiles a when expression once at install time. The
// expression is wrapped in parentheses so object literals and other
// statement-ambiguous forms parse as expressions.
func compileCondition(name, expr string) (*goja.Program, error) {
	return goja.Compile(name, "("+expr+")", false)
}

// evaluate runs a compiled condition on a fresh VM with the given bindings.
// A fresh VM per evaluation keeps rules from leaking state into each other.
func evaluate(program *goja.Program, scope map[string]any) (matched bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("condition panicked: %v", r)
		}
	}()

	vm := goja.New()
	for name, value := range scope {
		if err := vm.Set(name, value); err != nil {
			return false, fmt.Errorf("bind %s: %w", name, err)
		}
	}

	timer := time.AfterFunc(evalTimeout, func() {
		vm.Interrupt("condition evaluation timed out")
	})
	defer timer.Stop()

	res, err := vm.RunProgram(program)
	if err != nil {
		return false, err
	}
	return res.ToBoolean(), nil
}

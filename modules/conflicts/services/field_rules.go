package services

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/types"
)

// Smart-merge field rules are either a literal source ("local", "remote") or
// a CEL expression over `field`, `local` and `remote` that evaluates to one of
// those two strings, e.g.
//
//	size(string(local)) >= size(string(remote)) ? "local" : "remote"
var newFieldRuleCELEnv = func() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("field", cel.StringType),
		cel.Variable("local", cel.DynType),
		cel.Variable("remote", cel.DynType),
	)
}

var fieldRuleProgramCache sync.Map

// CompileFieldRule validates a rule without evaluating it.
func CompileFieldRule(rule string) error {
	rule = strings.TrimSpace(rule)
	if _, err := types.ParseSource(rule); err == nil {
		return nil
	}
	_, err := loadOrCompileFieldRule(rule)
	return err
}

// EvalFieldRule picks the winning side for one differing field.
func EvalFieldRule(rule string, field string, local any, remote any) (types.Source, error) {
	rule = strings.TrimSpace(rule)
	if src, err := types.ParseSource(rule); err == nil {
		return src, nil
	}
	program, err := loadOrCompileFieldRule(rule)
	if err != nil {
		return "", types.NewValidationError("field rule for " + field + ": " + err.Error())
	}
	out, _, err := program.Eval(map[string]any{
		"field":  field,
		"local":  celValue(local),
		"remote": celValue(remote),
	})
	if err != nil {
		return "", types.NewValidationError("field rule for " + field + ": " + err.Error())
	}
	s, ok := out.Value().(string)
	if !ok {
		return "", types.NewValidationError("field rule for " + field + " must return a string")
	}
	src, err := types.ParseSource(s)
	if err != nil {
		return "", types.NewValidationError("field rule for " + field + " returned " + s)
	}
	return src, nil
}

func loadOrCompileFieldRule(expr string) (cel.Program, error) {
	if expr == "" {
		return nil, errors.New("expression required")
	}
	if cached, ok := fieldRuleProgramCache.Load(expr); ok {
		return cached.(cel.Program), nil
	}
	env, err := newFieldRuleCELEnv()
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if ast.OutputType() != cel.StringType && ast.OutputType() != cel.DynType {
		return nil, errors.New("expression output type mismatch")
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	fieldRuleProgramCache.Store(expr, program)
	return program, nil
}

// celValue maps snapshot scalars onto CEL-native values; numbers become
// doubles so rules can compare them directly.
func celValue(v any) any {
	if v == nil {
		return nil
	}
	if d, ok := types.NumericValue(v); ok {
		f, _ := d.Float64()
		return f
	}
	return v
}

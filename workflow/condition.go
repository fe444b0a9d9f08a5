package workflow

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

var (
	celEnvOnce sync.Once
	celEnv     *cel.Env
	celEnvErr  error
)

// conditionEnv 条件表达式环境：唯一变量 state 为通道名到值的映射
func conditionEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("state", cel.MapType(cel.StringType, cel.DynType)),
			cel.CrossTypeNumericComparisons(true),
		)
	})
	return celEnv, celEnvErr
}

// exprCondition 编译后的 CEL 边条件，例如 `state.done == true` 或 `state.score >= 3`
type exprCondition struct {
	expr    string
	program cel.Program
}

// compileCondition 编译表达式，结果类型必须是 bool（或 dyn，在求值时检查）
func compileCondition(expr string) (*exprCondition, error) {
	env, err := conditionEnv()
	if err != nil {
		return nil, fmt.Errorf("cel environment: %w", err)
	}

	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", expr, iss.Err())
	}
	switch out := ast.OutputType().String(); out {
	case "bool", "dyn":
	default:
		return nil, fmt.Errorf("condition %q yields %s, want bool", expr, out)
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", expr, err)
	}
	return &exprCondition{expr: expr, program: prg}, nil
}

// Eval 在状态快照上求值
func (c *exprCondition) Eval(state map[string]any) (bool, error) {
	out, _, err := c.program.Eval(map[string]any{"state": state})
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", c.expr, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition %q yielded %T, want bool", c.expr, out.Value())
	}
	return b, nil
}

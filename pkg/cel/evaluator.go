package cel

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"halia/pkg/message"
)

// MessageVar is the variable name a filter expression uses to reach the
// message fields, e.g. `msg.temp > 20.0 && msg.unit == "C"`.
const MessageVar = "msg"

type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable(MessageVar, cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("batch_name", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

// Predicate is a compiled boolean expression over one message.
type Predicate struct {
	expression string
	program    cel.Program
}

// CompilePredicate compiles expression once and checks that it yields a bool.
func (e *Evaluator) CompilePredicate(expression string) (*Predicate, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile CEL expression: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("filter expression must return bool, got %v", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return &Predicate{expression: expression, program: program}, nil
}

func (p *Predicate) String() string { return p.expression }

// Eval runs the predicate. Evaluation errors, such as a missing key, are
// returned to the caller which decides how to treat them.
func (p *Predicate) Eval(ctx context.Context, batchName string, msg *message.Message) (bool, error) {
	vars := map[string]interface{}{
		MessageVar:   msg.ToMap(),
		"batch_name": batchName,
	}

	result, _, err := p.program.ContextEval(ctx, vars)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}

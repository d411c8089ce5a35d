package cel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"halia/pkg/message"
)

func TestNewEvaluator(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)
	assert.NotNil(t, eval)
}

func TestExamplesCompile(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	for name, expr := range filterExpressionExamples {
		t.Run(name, func(t *testing.T) {
			_, err := eval.CompilePredicate(expr)
			assert.NoError(t, err)
		})
	}
}

func TestCompilePredicate(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	tests := []struct {
		name      string
		expr      string
		wantError bool
	}{
		{name: "bool expression", expr: `msg.status == "active"`},
		{name: "non-bool expression", expr: `msg.temp`, wantError: true},
		{name: "syntax error", expr: `invalid syntax here!!!`, wantError: true},
		{name: "undefined variable", expr: `payload.x == 1`, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := eval.CompilePredicate(tt.expr)
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPredicate_Eval(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	msg := message.NewMessage()
	msg.Set("status", message.String("active"))
	msg.Set("temp", message.Float(42.5))
	msg.Set("meta", message.Object(map[string]message.Value{"line": message.String("A")}))

	tests := []struct {
		name      string
		expr      string
		want      bool
		wantError bool
	}{
		{name: "match", expr: `msg.status == "active"`, want: true},
		{name: "no match", expr: `msg.temp > 50.0`, want: false},
		{name: "nested", expr: `msg.meta.line == "A"`, want: true},
		{name: "batch name", expr: `batch_name == "line-a"`, want: true},
		{name: "missing key", expr: `msg.missing == "x"`, wantError: true},
	}

	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := eval.CompilePredicate(tt.expr)
			require.NoError(t, err)
			got, err := p.Eval(ctx, "line-a", msg)
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// filterExpressionExamples lists expressions the filter `expr` rule type accepts.
var filterExpressionExamples = map[string]string{
	"simple_equals":        `msg.status == "active"`,
	"simple_not_equals":    `msg.status != "inactive"`,
	"numeric_greater_than": `msg.temp > 20.0`,
	"string_contains":      `msg.device.contains("plc")`,
	"in_list":              `msg.status in ["active", "pending"]`,
	"range_check":          `msg.temp >= 10.0 && msg.temp <= 80.0`,
	"nested_field":         `msg.meta.line == "A"`,
	"has_field":            `has(msg.alarm) && msg.alarm == true`,
	"batch_name":           `batch_name == "plc-1"`,
}

package conditionals

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

var (
	exprEnvOnce sync.Once
	exprEnv     *cel.Env
	exprEnvErr  error

	programs sync.Map // expression -> cel.Program
)

func environment() (*cel.Env, error) {
	exprEnvOnce.Do(func() {
		exprEnv, exprEnvErr = cel.NewEnv(
			cel.Variable("player", cel.MapType(cel.StringType, cel.AnyType)),
			cel.Variable("flags", cel.MapType(cel.StringType, cel.AnyType)),
		)
	})
	return exprEnv, exprEnvErr
}

// CompileExpr checks that an expression compiles. Used at catalog load time.
func CompileExpr(expr string) error {
	_, err := program(expr)
	return err
}

func program(expr string) (cel.Program, error) {
	if cached, ok := programs.Load(expr); ok {
		return cached.(cel.Program), nil
	}
	env, err := environment()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression environment: %w", err)
	}
	ast, iss := env.Compile(expr)
	if iss.Err() != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", expr, iss.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to plan expression %q: %w", expr, err)
	}
	programs.Store(expr, prg)
	return prg, nil
}

// EvalExpr evaluates a boolean expression against the player view.
//
// Variables:
//
//	player.level, player.affection, player.relationship_status,
//	player.location, player.time_of_day, player.inventory
//	flags.<key>
func EvalExpr(expr string, view PlayerView) (bool, error) {
	prg, err := program(expr)
	if err != nil {
		return false, err
	}

	inventory := view.GetInventory()
	items := make([]any, 0, len(inventory))
	for _, item := range inventory {
		items = append(items, item)
	}

	out, _, err := prg.Eval(map[string]any{
		"player": map[string]any{
			"level":               int64(view.GetLevel()),
			"affection":           int64(view.GetAffection()),
			"relationship_status": view.GetRelationshipStatus(),
			"location":            view.GetLocation(),
			"time_of_day":         view.GetTimeOfDay(),
			"inventory":           items,
		},
		"flags": view.GetFlags().Natives(),
	})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate expression %q: %w", expr, err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression %q did not evaluate to a bool", expr)
	}
	return result, nil
}

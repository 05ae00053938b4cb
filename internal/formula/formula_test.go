package formula

import (
	"errors"
	"math"
	"testing"
)

func vars(m map[string]float64) Lookup {
	return func(name string) (float64, bool) {
		v, ok := m[name]
		return v, ok
	}
}

func TestEvaluate_Arithmetic(t *testing.T) {
	lookup := vars(map[string]float64{
		"goals_home":      2,
		"goals_away":      1,
		"shots_home":      10,
		"possession_home": 62.5,
	})

	cases := []struct {
		src  string
		want float64
	}{
		{"1 + 2", 3},
		{"2 * 3 + 4", 10},
		{"2 + 3 * 4", 14},
		{"(2 + 3) * 4", 20},
		{"10 / 4", 2.5},
		{"goals_home - goals_away", 1},
		{"goals_home * shots_home", 20},
		{"possession_home / 100", 0.625},
		{"min(goals_home, goals_away)", 1},
		{"max(goals_home, goals_away, 5)", 5},
		{"abs(goals_away - goals_home)", 1},
		{"min(1, 2) + max(3, 4) * 2", 9},
		{"3.5 * 2", 7},
	}
	for _, tc := range cases {
		got, err := Evaluate(tc.src, lookup)
		if err != nil {
			t.Errorf("%q: unexpected error: %v", tc.src, err)
			continue
		}
		if math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("%q: expected %v, got %v", tc.src, tc.want, got)
		}
	}
}

func TestEvaluate_DivisionByZeroYieldsZero(t *testing.T) {
	lookup := vars(map[string]float64{"goals_away": 0})

	for _, src := range []string{"5 / 0", "1 / goals_away", "3 / (2 - 2)"} {
		got, err := Evaluate(src, lookup)
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", src, err)
		}
		if got != 0 {
			t.Errorf("%q: expected 0, got %v", src, got)
		}
	}
}

func TestParse_RejectsUnsafeExpressions(t *testing.T) {
	// Anything outside the grammar fails before any evaluation.
	unsafe := []string{
		"__import__('os').system('x')",
		"a = 1",
		"goals_home; shots_home",
		"goals[0]",
		"exec(1)",
		"pow(2, 3)",
		"1 ** 2",
		"{}",
		"goals_home!",
		"lambda: 1",
		"'str'",
		"",
		"1 +",
		"(1 + 2",
		"min(1)",
		"abs(1, 2)",
		"1 2",
	}
	for _, src := range unsafe {
		_, err := Parse(src)
		if err == nil {
			t.Errorf("%q: expected rejection, got nil error", src)
			continue
		}
		if !errors.Is(err, ErrUnsafeExpression) {
			t.Errorf("%q: expected ErrUnsafeExpression, got %v", src, err)
		}
	}
}

func TestEvaluate_UnknownVariable(t *testing.T) {
	lookup := vars(map[string]float64{"goals_home": 1})

	_, err := Evaluate("goals_home + nonsense", lookup)
	var uv *UnknownVariableError
	if !errors.As(err, &uv) {
		t.Fatalf("expected UnknownVariableError, got %v", err)
	}
	if uv.Name != "nonsense" {
		t.Errorf("expected offending name %q, got %q", "nonsense", uv.Name)
	}
}

func TestValidate(t *testing.T) {
	lookup := vars(map[string]float64{"goals_home": 1, "xg_away": 0.4})

	if err := Validate("goals_home + xg_away * 2", lookup); err != nil {
		t.Errorf("valid formula rejected: %v", err)
	}
	if err := Validate("goals_home + missing", lookup); err == nil {
		t.Error("expected unknown-variable rejection")
	}
	if err := Validate("import(1)", lookup); !errors.Is(err, ErrUnsafeExpression) {
		t.Errorf("expected ErrUnsafeExpression, got %v", err)
	}
}

func TestParse_DottedIdentifiers(t *testing.T) {
	// Dotted names are single variables, not attribute access.
	expr, err := Parse("pattern.GOAL_SEQUENCE + player.p9.goals")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"pattern.GOAL_SEQUENCE", "player.p9.goals"}
	got := expr.Variables()
	if len(got) != len(want) {
		t.Fatalf("expected %d variables, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("variable %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestExpr_VariablesDeduplicated(t *testing.T) {
	expr, err := Parse("goals_home + goals_home * goals_away")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := len(expr.Variables()); n != 2 {
		t.Errorf("expected 2 distinct variables, got %d: %v", n, expr.Variables())
	}
}

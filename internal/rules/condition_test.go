package rules

import (
	"os"
	"testing"
	"time"
)

func TestAlways(t *testing.T) {
	t.Parallel()
	if !(Always{}).Evaluate(EvalContext{}) {
		t.Error("Always should always evaluate true")
	}
}

func TestTimeRange(t *testing.T) {
	t.Parallel()

	now := time.Now()
	tr := TimeRange{Start: now.Add(-time.Hour), End: now.Add(time.Hour)}

	if !tr.Evaluate(EvalContext{Now: now}) {
		t.Error("expected now to fall within the range")
	}
	if tr.Evaluate(EvalContext{Now: now.Add(-2 * time.Hour)}) {
		t.Error("expected time before range start to not match")
	}
	if tr.Evaluate(EvalContext{Now: now.Add(2 * time.Hour)}) {
		t.Error("expected time after range end to not match")
	}
	if tr.Evaluate(EvalContext{Now: tr.End}) {
		t.Error("range end should be exclusive")
	}
}

func TestUserIdentityMatch(t *testing.T) {
	t.Parallel()

	c := UserIdentityMatch{Identity: "alice"}
	if !c.Evaluate(EvalContext{UserIdentity: "alice"}) {
		t.Error("expected identity match")
	}
	if c.Evaluate(EvalContext{UserIdentity: "bob"}) {
		t.Error("unexpected identity match")
	}
}

func TestFileSizeRange(t *testing.T) {
	t.Parallel()

	c := FileSizeRange{Min: 10, Max: 100}
	if !c.Evaluate(EvalContext{FileSize: 50}) {
		t.Error("expected size within range to match")
	}
	if !c.Evaluate(EvalContext{FileSize: 10}) {
		t.Error("range bounds should be inclusive (min)")
	}
	if !c.Evaluate(EvalContext{FileSize: 100}) {
		t.Error("range bounds should be inclusive (max)")
	}
	if c.Evaluate(EvalContext{FileSize: 101}) {
		t.Error("expected size above range to not match")
	}
}

func TestModifiedWithin(t *testing.T) {
	t.Parallel()

	now := time.Now()
	c := ModifiedWithin{Duration: time.Hour}

	if !c.Evaluate(EvalContext{Now: now, ModifiedAt: now.Add(-30 * time.Minute)}) {
		t.Error("expected modification within the window to match")
	}
	if c.Evaluate(EvalContext{Now: now, ModifiedAt: now.Add(-2 * time.Hour)}) {
		t.Error("expected modification outside the window to not match")
	}
}

func TestEnvVarMatch(t *testing.T) {
	os.Setenv("SHADOWFS_RULE_TEST_VAR", "expected")
	defer os.Unsetenv("SHADOWFS_RULE_TEST_VAR")

	c := EnvVarMatch{Name: "SHADOWFS_RULE_TEST_VAR", Value: "expected"}
	if !c.Evaluate(EvalContext{}) {
		t.Error("expected env var match")
	}

	c2 := EnvVarMatch{Name: "SHADOWFS_RULE_TEST_VAR", Value: "other"}
	if c2.Evaluate(EvalContext{}) {
		t.Error("unexpected env var match")
	}
}

func TestAnd(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		conds []Condition
		want bool
	}{
		{"all true", []Condition{Always{}, Always{}}, true},
		{"one false", []Condition{Always{}, UserIdentityMatch{Identity: "nope"}}, false},
		{"empty is vacuously true", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := And{Conditions: tt.conds}.Evaluate(EvalContext{})
			if got != tt.want {
				t.Errorf("And.Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		conds []Condition
		want  bool
	}{
		{"one true", []Condition{UserIdentityMatch{Identity: "nope"}, Always{}}, true},
		{"all false", []Condition{UserIdentityMatch{Identity: "nope"}}, false},
		{"empty is vacuously false", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Or{Conditions: tt.conds}.Evaluate(EvalContext{})
			if got != tt.want {
				t.Errorf("Or.Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

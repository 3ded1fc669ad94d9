package cronexpr

import (
	"testing"
	"time"
)

func mustParse(t *testing.T, expr string) *Expression {
	t.Helper()
	e, err := Parse(expr)
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", expr, err)
	}
	return e
}

func TestDailyAliasExpansion(t *testing.T) {
	e := mustParse(t, "@daily")
	from := time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC)
	next, err := e.NextExecution(from)
	if err != nil {
		t.Fatalf("NextExecution failed: %v", err)
	}
	want := time.Date(2024, 6, 16, 0, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("got %v, want %v", next, want)
	}
}

func TestSteppedField(t *testing.T) {
	e := mustParse(t, "*/15 * * * *")
	matched := map[int]bool{}
	for m := 0; m < 60; m++ {
		if e.fields[fieldMinute][m] {
			matched[m] = true
		}
	}
	want := map[int]bool{0: true, 15: true, 30: true, 45: true}
	if len(matched) != len(want) {
		t.Fatalf("got %v, want %v", matched, want)
	}
	for m := range want {
		if !matched[m] {
			t.Fatalf("expected minute %d to match", m)
		}
	}
}

func TestInvalidCharacterRejected(t *testing.T) {
	if _, err := Parse("* * * * ?"); err == nil {
		t.Fatal("expected error for disallowed character")
	}
}

func TestNextExecutionIdempotence(t *testing.T) {
	e := mustParse(t, "0 */6 * * *")
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	first, err := e.NextExecution(from)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := e.NextExecution(first)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !second.After(first) {
		t.Fatalf("expected %v to be after %v", second, first)
	}
}

func TestDayOfWeekSundayZero(t *testing.T) {
	e := mustParse(t, "0 0 * * 0")
	from := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC) // Monday
	next, err := e.NextExecution(from)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.Weekday() != time.Sunday {
		t.Fatalf("expected Sunday, got %v", next.Weekday())
	}
}

func TestUnsatisfiableRejected(t *testing.T) {
	e := mustParse(t, "0 0 31 2 *") // Feb 31 never exists
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := e.NextExecution(from); err == nil {
		t.Fatal("expected unsatisfiable error")
	}
}

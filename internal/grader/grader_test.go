package grader

import (
	"context"
	"errors"
	"testing"
)

type stubDelegate struct {
	results []DelegateResult
	errs    []error
	calls   int
}

func (d *stubDelegate) GradeAnswer(ctx context.Context, in DelegateInput) (DelegateResult, error) {
	i := d.calls
	d.calls++
	if i < len(d.errs) && d.errs[i] != nil {
		return DelegateResult{}, d.errs[i]
	}
	if i < len(d.results) {
		return d.results[i], nil
	}
	return DelegateResult{}, errors.New("exhausted")
}

func TestGradeExactMatchTrimAndCaseFold(t *testing.T) {
	g := New(nil)
	got := g.Grade(context.Background(), "Capital of France?", " paris ", "Paris")
	if !got.IsCorrect {
		t.Fatalf("expected correct for trimmed case-insensitive match")
	}
	if got.Score != 100 {
		t.Fatalf("expected score=100, got %d", got.Score)
	}
	if got.Source != "exact" {
		t.Fatalf("expected source=exact, got %s", got.Source)
	}
}

func TestGradeRubricBoundary(t *testing.T) {
	tests := []struct {
		name        string
		score       int
		wantCorrect bool
	}{
		{name: "just below boundary", score: 79, wantCorrect: false},
		{name: "at boundary", score: 80, wantCorrect: true},
		{name: "well above", score: 95, wantCorrect: true},
		{name: "zero", score: 0, wantCorrect: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			g := New(&stubDelegate{results: []DelegateResult{{Score: tc.score}}})
			got := g.Grade(context.Background(), "q", "expected", "something else")
			if got.IsCorrect != tc.wantCorrect {
				t.Fatalf("score=%d: expected is_correct=%v, got %v", tc.score, tc.wantCorrect, got.IsCorrect)
			}
			if got.Score != tc.score {
				t.Fatalf("expected score=%d, got %d", tc.score, got.Score)
			}
			if got.Source != "delegate" {
				t.Fatalf("expected source=delegate, got %s", got.Source)
			}
		})
	}
}

func TestGradeClampsOutOfRangeDelegateScore(t *testing.T) {
	g := New(&stubDelegate{results: []DelegateResult{{Score: 140}}})
	got := g.Grade(context.Background(), "q", "expected", "other")
	if got.Score != 100 || !got.IsCorrect {
		t.Fatalf("expected clamped score=100 correct, got score=%d correct=%v", got.Score, got.IsCorrect)
	}

	g = New(&stubDelegate{results: []DelegateResult{{Score: -5}}})
	got = g.Grade(context.Background(), "q", "expected", "other")
	if got.Score != 0 || got.IsCorrect {
		t.Fatalf("expected clamped score=0 incorrect, got score=%d correct=%v", got.Score, got.IsCorrect)
	}
}

func TestGradeCallsDelegateExactlyOnce(t *testing.T) {
	d := &stubDelegate{results: []DelegateResult{{Score: 85, Feedback: "close enough"}}}
	g := New(d)
	got := g.Grade(context.Background(), "q", "expected", "other")
	if d.calls != 1 {
		t.Fatalf("expected 1 delegate call, got %d", d.calls)
	}
	if !got.IsCorrect || got.Score != 85 {
		t.Fatalf("expected delegate result, got %+v", got)
	}
}

func TestGradeFallsBackToBaselineOnDelegateError(t *testing.T) {
	// The delegate owns the retry budget; the grader must not add its own.
	d := &stubDelegate{errs: []error{errors.New("down"), errors.New("down")}}
	g := New(d)
	got := g.Grade(context.Background(), "q", "expected", "other")
	if d.calls != 1 {
		t.Fatalf("expected exactly 1 delegate call, got %d", d.calls)
	}
	if got.IsCorrect || got.Score != 0 || got.Source != "exact" {
		t.Fatalf("expected baseline fallback miss, got %+v", got)
	}
}

func TestGradeExactMatchSkipsDelegate(t *testing.T) {
	d := &stubDelegate{results: []DelegateResult{{Score: 10}}}
	g := New(d)
	got := g.Grade(context.Background(), "q", "Paris", "paris")
	if d.calls != 0 {
		t.Fatalf("delegate should not be called on exact match")
	}
	if !got.IsCorrect || got.Score != 100 {
		t.Fatalf("expected exact match result, got %+v", got)
	}
}

package grader

import (
	"context"
	"strings"
)

// PassingScore is the rubric boundary: a delegate-graded answer counts as
// correct iff its score reaches this value.
const PassingScore = 80

type Result struct {
	IsCorrect bool   `json:"is_correct"`
	Score     int    `json:"score"`
	Feedback  string `json:"feedback"`
	Source    string `json:"source"`
}

type DelegateInput struct {
	QuestionText  string
	CorrectAnswer string
	StudentAnswer string
}

type DelegateResult struct {
	Score    int
	Feedback string
}

// Delegate is the external judgment service for free-text answers.
type Delegate interface {
	GradeAnswer(ctx context.Context, in DelegateInput) (DelegateResult, error)
}

type Grader struct {
	delegate Delegate
}

// New returns a grader. A nil delegate means baseline-only grading.
func New(delegate Delegate) *Grader {
	return &Grader{delegate: delegate}
}

// Grade evaluates a student's answer. Exact matches short-circuit without a
// delegate round trip. The delegate owns its own retry budget; a delegate
// error here means that budget is spent, so the baseline policy applies
// immediately.
func (g *Grader) Grade(ctx context.Context, questionText, correctAnswer, studentAnswer string) Result {
	if Matches(correctAnswer, studentAnswer) {
		return Result{IsCorrect: true, Score: 100, Feedback: "Exact match.", Source: "exact"}
	}

	if g.delegate == nil {
		return baselineMiss()
	}

	out, err := g.delegate.GradeAnswer(ctx, DelegateInput{
		QuestionText:  questionText,
		CorrectAnswer: correctAnswer,
		StudentAnswer: studentAnswer,
	})
	if err != nil {
		return baselineMiss()
	}

	score := clampScore(out.Score)
	return Result{
		IsCorrect: score >= PassingScore,
		Score:     score,
		Feedback:  out.Feedback,
		Source:    "delegate",
	}
}

// Matches implements the baseline policy: case-insensitive, whitespace-trimmed
// exact comparison.
func Matches(correctAnswer, studentAnswer string) bool {
	return strings.EqualFold(strings.TrimSpace(correctAnswer), strings.TrimSpace(studentAnswer))
}

func baselineMiss() Result {
	return Result{IsCorrect: false, Score: 0, Feedback: "Answer does not match.", Source: "exact"}
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

package attempt

import "math"

// AnswerRecord is the per-question state a finished attempt is scored from.
// TotalQuestions is snapshotted when the attempt starts, so questions added
// to the test afterwards never change a running attempt's denominator.
type AnswerRecord struct {
	QuestionID     int64
	Answered       bool
	IsCorrect      bool
	Score          int
	AttemptsCount  int
	HintsUsed      int
	MaterialViewed bool
}

type Metrics struct {
	FirstAttemptSuccess float64 `json:"first_attempt_success"`
	Engagement          float64 `json:"engagement"`
	Persistence         float64 `json:"persistence"`
	HintDependency      float64 `json:"hint_dependency"`
}

type Scores struct {
	BasicScore int     `json:"basic_score"`
	AIScore    int     `json:"ai_score"`
	Metrics    Metrics `json:"metrics"`
	Mastery    bool    `json:"mastery_achieved"`
}

// MasteryPolicy decides whether a finished attempt counts as mastery.
// Schools tune this; the default is deliberately strict.
type MasteryPolicy func(basicScore, aiScore int, m Metrics) bool

func DefaultMasteryPolicy(basicScore, aiScore int, m Metrics) bool {
	return basicScore >= 80 && aiScore >= 80 && m.HintDependency <= 34
}

// BasicScore is the share of questions answered correctly, over the
// snapshotted question total, rounded to the nearest integer.
func BasicScore(answers []AnswerRecord, totalQuestions int) int {
	if totalQuestions <= 0 {
		return 0
	}
	correct := 0
	for _, a := range answers {
		if a.IsCorrect {
			correct++
		}
	}
	return int(math.Round(100 * float64(correct) / float64(totalQuestions)))
}

// AIScore averages the per-question quality scores over the snapshotted
// total. Unanswered questions contribute zero.
func AIScore(answers []AnswerRecord, totalQuestions int) int {
	if totalQuestions <= 0 {
		return 0
	}
	sum := 0
	for _, a := range answers {
		sum += a.Score
	}
	return int(math.Round(float64(sum) / float64(totalQuestions)))
}

func ComputeMetrics(answers []AnswerRecord, totalQuestions int) Metrics {
	if totalQuestions <= 0 {
		return Metrics{}
	}

	var firstTry, engaged, retried, retriedCorrect, hinted int
	for _, a := range answers {
		if a.IsCorrect && a.AttemptsCount == 1 {
			firstTry++
		}
		if a.MaterialViewed || a.HintsUsed > 0 || a.Answered {
			engaged++
		}
		if a.AttemptsCount > 1 {
			retried++
			if a.IsCorrect {
				retriedCorrect++
			}
		}
		if a.HintsUsed > 0 {
			hinted++
		}
	}

	m := Metrics{
		FirstAttemptSuccess: ratio(firstTry, totalQuestions),
		Engagement:          ratio(engaged, totalQuestions),
		HintDependency:      ratio(hinted, totalQuestions),
	}
	if retried > 0 {
		m.Persistence = ratio(retriedCorrect, retried)
	}
	return m
}

// Score runs the full scoring pass for a finished attempt.
func Score(answers []AnswerRecord, totalQuestions int, policy MasteryPolicy) Scores {
	if policy == nil {
		policy = DefaultMasteryPolicy
	}
	s := Scores{
		BasicScore: BasicScore(answers, totalQuestions),
		AIScore:    AIScore(answers, totalQuestions),
		Metrics:    ComputeMetrics(answers, totalQuestions),
	}
	s.Mastery = policy(s.BasicScore, s.AIScore, s.Metrics)
	return s
}

// ClampTimeTaken guards against clock skew between started_at and the
// completion time. A negative duration is stored as zero and flagged for
// audit.
func ClampTimeTaken(seconds int) (clamped int, flagged bool) {
	if seconds < 0 {
		return 0, true
	}
	return seconds, false
}

func ratio(n, d int) float64 {
	if d <= 0 {
		return 0
	}
	v := 100 * float64(n) / float64(d)
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return math.Round(v*10) / 10
}

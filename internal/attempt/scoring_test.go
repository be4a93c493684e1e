package attempt

import "testing"

func answered(correct bool, score, tries, hints int) AnswerRecord {
	return AnswerRecord{Answered: true, IsCorrect: correct, Score: score, AttemptsCount: tries, HintsUsed: hints}
}

func TestBasicScore(t *testing.T) {
	cases := []struct {
		name    string
		answers []AnswerRecord
		total   int
		want    int
	}{
		{"all correct", []AnswerRecord{answered(true, 100, 1, 0), answered(true, 100, 1, 0)}, 2, 100},
		{"half correct", []AnswerRecord{answered(true, 100, 1, 0), answered(false, 40, 2, 1)}, 2, 50},
		{"none answered", nil, 4, 0},
		{"empty test", nil, 0, 0},
		{"rounds to nearest", []AnswerRecord{answered(true, 100, 1, 0)}, 3, 33},
		{"rounds up", []AnswerRecord{answered(true, 100, 1, 0), answered(true, 100, 1, 0)}, 3, 67},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := BasicScore(tc.answers, tc.total); got != tc.want {
				t.Fatalf("BasicScore = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestBasicScoreIsHundredOnlyWhenAllCorrect(t *testing.T) {
	answers := []AnswerRecord{answered(true, 100, 1, 0), answered(true, 95, 1, 0), answered(false, 60, 1, 0)}
	if got := BasicScore(answers, 3); got == 100 {
		t.Fatal("BasicScore = 100 with an incorrect answer present")
	}
}

func TestAIScoreAveragesOverSnapshotTotal(t *testing.T) {
	// Two answered questions out of a four-question snapshot; the two
	// unanswered ones pull the mean down.
	answers := []AnswerRecord{answered(true, 90, 1, 0), answered(true, 80, 1, 0)}
	if got := AIScore(answers, 4); got != 43 {
		t.Fatalf("AIScore = %d, want 43", got)
	}
	if got := AIScore(answers, 0); got != 0 {
		t.Fatalf("AIScore on empty test = %d, want 0", got)
	}
}

func TestComputeMetrics(t *testing.T) {
	answers := []AnswerRecord{
		answered(true, 100, 1, 0),              // first-try success
		answered(true, 85, 3, 2),               // persistence success, hinted
		answered(false, 40, 2, 1),              // retried, failed, hinted
		{QuestionID: 4, MaterialViewed: true},  // engaged without answering
	}
	m := ComputeMetrics(answers, 5)

	if m.FirstAttemptSuccess != 20 {
		t.Errorf("FirstAttemptSuccess = %v, want 20", m.FirstAttemptSuccess)
	}
	if m.Engagement != 80 {
		t.Errorf("Engagement = %v, want 80", m.Engagement)
	}
	if m.Persistence != 50 {
		t.Errorf("Persistence = %v, want 50", m.Persistence)
	}
	if m.HintDependency != 40 {
		t.Errorf("HintDependency = %v, want 40", m.HintDependency)
	}
}

func TestComputeMetricsEmptyTestIsAllZero(t *testing.T) {
	m := ComputeMetrics(nil, 0)
	if m != (Metrics{}) {
		t.Fatalf("metrics on empty test = %+v, want zeros", m)
	}
}

func TestPersistenceZeroWhenNothingRetried(t *testing.T) {
	answers := []AnswerRecord{answered(true, 100, 1, 0), answered(false, 30, 1, 0)}
	m := ComputeMetrics(answers, 2)
	if m.Persistence != 0 {
		t.Fatalf("Persistence = %v, want 0", m.Persistence)
	}
}

func TestMetricsStayInRange(t *testing.T) {
	answers := []AnswerRecord{
		answered(true, 100, 1, 5),
		answered(true, 100, 1, 5),
		answered(true, 100, 1, 5),
	}
	m := ComputeMetrics(answers, 3)
	for name, v := range map[string]float64{
		"first_attempt_success": m.FirstAttemptSuccess,
		"engagement":            m.Engagement,
		"persistence":           m.Persistence,
		"hint_dependency":       m.HintDependency,
	} {
		if v < 0 || v > 100 {
			t.Errorf("%s = %v, out of [0,100]", name, v)
		}
	}
}

func TestDefaultMasteryPolicy(t *testing.T) {
	cases := []struct {
		name  string
		basic int
		ai    int
		hints float64
		want  bool
	}{
		{"strong independent run", 90, 88, 10, true},
		{"boundary scores", 80, 80, 34, true},
		{"basic below bar", 79, 95, 0, false},
		{"ai below bar", 95, 79, 0, false},
		{"too hint dependent", 95, 95, 35, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DefaultMasteryPolicy(tc.basic, tc.ai, Metrics{HintDependency: tc.hints})
			if got != tc.want {
				t.Fatalf("mastery = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestScoreUsesInjectedPolicy(t *testing.T) {
	always := func(int, int, Metrics) bool { return true }
	s := Score(nil, 0, always)
	if !s.Mastery {
		t.Fatal("injected policy ignored")
	}

	s = Score(nil, 0, nil)
	if s.Mastery {
		t.Fatal("default policy granted mastery on an empty attempt")
	}
}

func TestClampTimeTaken(t *testing.T) {
	if got, flagged := ClampTimeTaken(-15); got != 0 || !flagged {
		t.Fatalf("ClampTimeTaken(-15) = (%d, %v), want (0, true)", got, flagged)
	}
	if got, flagged := ClampTimeTaken(0); got != 0 || flagged {
		t.Fatalf("ClampTimeTaken(0) = (%d, %v), want (0, false)", got, flagged)
	}
	if got, flagged := ClampTimeTaken(480); got != 480 || flagged {
		t.Fatalf("ClampTimeTaken(480) = (%d, %v), want (480, false)", got, flagged)
	}
}

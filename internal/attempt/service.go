package attempt

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"quizkit/internal/grader"
	"quizkit/internal/quiz"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrAttemptNotFound = errors.New("attempt not found")
	ErrAttemptFinished = errors.New("attempt already finished")
	ErrTestNotActive   = errors.New("test is not active")
	ErrForbidden       = errors.New("forbidden")
	ErrNoMoreHints     = errors.New("no more hints for this question")
)

const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusAbandoned  = "abandoned"
)

type Service struct {
	db      *sql.DB
	grader  *grader.Grader
	mastery MasteryPolicy
}

// NewService wires the attempt workflow. A nil policy means the default
// mastery rule.
func NewService(db *sql.DB, g *grader.Grader, policy MasteryPolicy) *Service {
	if policy == nil {
		policy = DefaultMasteryPolicy
	}
	return &Service{db: db, grader: g, mastery: policy}
}

type Attempt struct {
	ID             int64      `json:"id"`
	TestID         int64      `json:"test_id"`
	StudentID      int64      `json:"student_id"`
	Status         string     `json:"status"`
	TotalQuestions int        `json:"total_questions"`
	BasicScore     *int       `json:"basic_score,omitempty"`
	AIScore        *int       `json:"ai_score,omitempty"`
	Metrics        *Metrics   `json:"metrics,omitempty"`
	Mastery        *bool      `json:"mastery_achieved,omitempty"`
	TimeTakenSecs  *int       `json:"time_taken_seconds,omitempty"`
	TimeFlagged    bool       `json:"time_flagged"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

type Answer struct {
	QuestionID     int64  `json:"question_id"`
	AnswerText     string `json:"answer_text"`
	IsCorrect      bool   `json:"is_correct"`
	Score          int    `json:"score"`
	Feedback       string `json:"feedback"`
	Source         string `json:"source"`
	AttemptsCount  int    `json:"attempts_count"`
	HintsUsed      int    `json:"hints_used"`
	MaterialViewed bool   `json:"material_viewed"`
}

type AttemptDetail struct {
	Attempt Attempt  `json:"attempt"`
	Answers []Answer `json:"answers"`
}

// Start opens an attempt on an active test, snapshotting the question count.
// Starting while an in-progress attempt exists resumes it instead of opening
// a second one.
func (s *Service) Start(ctx context.Context, studentID, testID int64) (*Attempt, error) {
	if studentID <= 0 || testID <= 0 {
		return nil, ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin start tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	var questionCount int
	err = tx.QueryRowContext(ctx, `
		SELECT status, question_count FROM tests WHERE id = $1 FOR SHARE
	`, testID).Scan(&status, &questionCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, quiz.ErrTestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load test: %w", err)
	}
	if status != quiz.StatusActive {
		return nil, ErrTestNotActive
	}

	existing, err := s.loadOpenAttempt(ctx, tx, studentID, testID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit start: %w", err)
		}
		return existing, nil
	}

	row := tx.QueryRowContext(ctx, `
		INSERT INTO test_attempts (test_id, student_id, status, total_questions, started_at)
		VALUES ($1, $2, 'in_progress', $3, now())
		RETURNING id, test_id, student_id, status, total_questions, basic_score, ai_score, metrics, mastery_achieved, time_taken_seconds, time_flagged, started_at, completed_at
	`, testID, studentID, questionCount)

	a, err := scanAttempt(row)
	if err != nil {
		return nil, fmt.Errorf("insert attempt: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit start: %w", err)
	}
	return a, nil
}

func (s *Service) Get(ctx context.Context, viewerID int64, viewerRole string, attemptID int64) (*AttemptDetail, error) {
	a, err := s.loadAttempt(ctx, s.db, attemptID, false)
	if err != nil {
		return nil, err
	}
	if viewerRole == "student" && a.StudentID != viewerID {
		return nil, ErrForbidden
	}

	answers, err := s.loadAnswers(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	return &AttemptDetail{Attempt: *a, Answers: answers}, nil
}

// SubmitAnswer grades one answer inside the attempt. Grading happens here, at
// submission time, so completing the attempt later needs no network calls.
// The attempt row is locked for the duration so concurrent submissions on the
// same attempt serialize.
func (s *Service) SubmitAnswer(ctx context.Context, studentID, attemptID, questionID int64, answerText string) (*Answer, error) {
	if strings.TrimSpace(answerText) == "" {
		return nil, ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin submit tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	a, err := s.loadAttempt(ctx, tx, attemptID, true)
	if err != nil {
		return nil, err
	}
	if a.StudentID != studentID {
		return nil, ErrForbidden
	}
	if a.Status != StatusInProgress {
		return nil, ErrAttemptFinished
	}

	var questionText, correctAnswer string
	err = tx.QueryRowContext(ctx, `
		SELECT question_text, correct_answer FROM questions WHERE id = $1 AND test_id = $2
	`, questionID, a.TestID).Scan(&questionText, &correctAnswer)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, quiz.ErrQuestionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load question: %w", err)
	}

	res := s.grader.Grade(ctx, questionText, correctAnswer, answerText)

	ans := &Answer{QuestionID: questionID, AnswerText: answerText, IsCorrect: res.IsCorrect, Score: res.Score, Feedback: res.Feedback, Source: res.Source}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO attempt_answers (attempt_id, question_id, answer_text, is_correct, score, feedback, source, attempts_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1)
		ON CONFLICT (attempt_id, question_id) DO UPDATE SET
			answer_text = EXCLUDED.answer_text,
			is_correct = EXCLUDED.is_correct,
			score = EXCLUDED.score,
			feedback = EXCLUDED.feedback,
			source = EXCLUDED.source,
			attempts_count = attempt_answers.attempts_count + 1,
			updated_at = now()
		RETURNING attempts_count, hints_used, material_viewed
	`, attemptID, questionID, answerText, res.IsCorrect, res.Score, res.Feedback, res.Source).Scan(&ans.AttemptsCount, &ans.HintsUsed, &ans.MaterialViewed)
	if err != nil {
		return nil, fmt.Errorf("upsert answer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit submit: %w", err)
	}
	return ans, nil
}

// RevealHint hands out the next hint in authored order. hints_used and the
// revealed sequence move in a single statement, so they cannot drift apart.
func (s *Service) RevealHint(ctx context.Context, studentID, attemptID, questionID int64) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin hint tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	a, err := s.loadAttempt(ctx, tx, attemptID, true)
	if err != nil {
		return "", err
	}
	if a.StudentID != studentID {
		return "", ErrForbidden
	}
	if a.Status != StatusInProgress {
		return "", ErrAttemptFinished
	}

	var hintsRaw []byte
	err = tx.QueryRowContext(ctx, `
		SELECT hints FROM questions WHERE id = $1 AND test_id = $2
	`, questionID, a.TestID).Scan(&hintsRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", quiz.ErrQuestionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load hints: %w", err)
	}

	var hints []string
	if len(hintsRaw) > 0 {
		if err := json.Unmarshal(hintsRaw, &hints); err != nil {
			return "", fmt.Errorf("decode hints: %w", err)
		}
	}

	var used int
	err = tx.QueryRowContext(ctx, `
		SELECT hints_used FROM attempt_answers WHERE attempt_id = $1 AND question_id = $2
	`, attemptID, questionID).Scan(&used)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("load hint state: %w", err)
	}
	if used >= len(hints) {
		return "", ErrNoMoreHints
	}
	hint := hints[used]

	_, err = tx.ExecContext(ctx, `
		INSERT INTO attempt_answers (attempt_id, question_id, answer_text, hints_used, hint_sequence)
		VALUES ($1, $2, '', 1, jsonb_build_array($3::int))
		ON CONFLICT (attempt_id, question_id) DO UPDATE SET
			hints_used = attempt_answers.hints_used + 1,
			hint_sequence = attempt_answers.hint_sequence || jsonb_build_array($3::int),
			updated_at = now()
	`, attemptID, questionID, used+1)
	if err != nil {
		return "", fmt.Errorf("record hint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit hint: %w", err)
	}
	return hint, nil
}

func (s *Service) MarkMaterialViewed(ctx context.Context, studentID, attemptID, questionID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin material tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	a, err := s.loadAttempt(ctx, tx, attemptID, true)
	if err != nil {
		return err
	}
	if a.StudentID != studentID {
		return ErrForbidden
	}
	if a.Status != StatusInProgress {
		return ErrAttemptFinished
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO attempt_answers (attempt_id, question_id, answer_text, material_viewed)
		VALUES ($1, $2, '', TRUE)
		ON CONFLICT (attempt_id, question_id) DO UPDATE SET
			material_viewed = TRUE,
			updated_at = now()
	`, attemptID, questionID)
	if err != nil {
		return fmt.Errorf("record material view: %w", err)
	}
	return tx.Commit()
}

// Complete scores the attempt and marks it terminal in one transaction. All
// grading already happened at submission time, so a failure here leaves the
// attempt untouched and retryable. Elapsed time is derived from the row's
// own started_at, never taken from the client.
func (s *Service) Complete(ctx context.Context, studentID, attemptID int64) (*Attempt, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin complete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	a, err := s.loadAttempt(ctx, tx, attemptID, true)
	if err != nil {
		return nil, err
	}
	if a.StudentID != studentID {
		return nil, ErrForbidden
	}
	if a.Status != StatusInProgress {
		return nil, ErrAttemptFinished
	}

	records, err := s.loadAnswerRecords(ctx, tx, attemptID)
	if err != nil {
		return nil, err
	}

	scores := Score(records, a.TotalQuestions, s.mastery)
	completedAt := time.Now().UTC()
	taken, flagged := ClampTimeTaken(int(completedAt.Sub(a.StartedAt).Seconds()))

	metricsJSON, err := json.Marshal(scores.Metrics)
	if err != nil {
		return nil, fmt.Errorf("encode metrics: %w", err)
	}

	row := tx.QueryRowContext(ctx, `
		UPDATE test_attempts
		SET status = 'completed',
		    basic_score = $2,
		    ai_score = $3,
		    metrics = $4::jsonb,
		    mastery_achieved = $5,
		    time_taken_seconds = $6,
		    time_flagged = $7,
		    completed_at = $8
		WHERE id = $1
		RETURNING id, test_id, student_id, status, total_questions, basic_score, ai_score, metrics, mastery_achieved, time_taken_seconds, time_flagged, started_at, completed_at
	`, attemptID, scores.BasicScore, scores.AIScore, metricsJSON, scores.Mastery, taken, flagged, completedAt)

	updated, err := scanAttempt(row)
	if err != nil {
		return nil, fmt.Errorf("finalize attempt: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit complete: %w", err)
	}
	return updated, nil
}

func (s *Service) Abandon(ctx context.Context, studentID, attemptID int64) (*Attempt, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin abandon tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	a, err := s.loadAttempt(ctx, tx, attemptID, true)
	if err != nil {
		return nil, err
	}
	if a.StudentID != studentID {
		return nil, ErrForbidden
	}
	if a.Status != StatusInProgress {
		return nil, ErrAttemptFinished
	}

	row := tx.QueryRowContext(ctx, `
		UPDATE test_attempts
		SET status = 'abandoned', completed_at = now()
		WHERE id = $1
		RETURNING id, test_id, student_id, status, total_questions, basic_score, ai_score, metrics, mastery_achieved, time_taken_seconds, time_flagged, started_at, completed_at
	`, attemptID)

	updated, err := scanAttempt(row)
	if err != nil {
		return nil, fmt.Errorf("abandon attempt: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit abandon: %w", err)
	}
	return updated, nil
}

func (s *Service) ListForStudent(ctx context.Context, studentID int64) ([]Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, test_id, student_id, status, total_questions, basic_score, ai_score, metrics, mastery_achieved, time_taken_seconds, time_flagged, started_at, completed_at
		FROM test_attempts
		WHERE student_id = $1
		ORDER BY started_at DESC
	`, studentID)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	out := make([]Attempt, 0)
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return out, nil
}

type queryable interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (s *Service) loadAttempt(ctx context.Context, q queryable, attemptID int64, forUpdate bool) (*Attempt, error) {
	query := `
		SELECT id, test_id, student_id, status, total_questions, basic_score, ai_score, metrics, mastery_achieved, time_taken_seconds, time_flagged, started_at, completed_at
		FROM test_attempts
		WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}

	a, err := scanAttempt(q.QueryRowContext(ctx, query, attemptID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load attempt: %w", err)
	}
	return a, nil
}

func (s *Service) loadOpenAttempt(ctx context.Context, q queryable, studentID, testID int64) (*Attempt, error) {
	a, err := scanAttempt(q.QueryRowContext(ctx, `
		SELECT id, test_id, student_id, status, total_questions, basic_score, ai_score, metrics, mastery_achieved, time_taken_seconds, time_flagged, started_at, completed_at
		FROM test_attempts
		WHERE student_id = $1 AND test_id = $2 AND status = 'in_progress'
		ORDER BY started_at DESC
		LIMIT 1
	`, studentID, testID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load open attempt: %w", err)
	}
	return a, nil
}

func (s *Service) loadAnswers(ctx context.Context, attemptID int64) ([]Answer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT question_id, answer_text, is_correct, score, feedback, source, attempts_count, hints_used, material_viewed
		FROM attempt_answers
		WHERE attempt_id = $1
		ORDER BY question_id
	`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("query answers: %w", err)
	}
	defer rows.Close()

	out := make([]Answer, 0)
	for rows.Next() {
		var a Answer
		if err := rows.Scan(&a.QuestionID, &a.AnswerText, &a.IsCorrect, &a.Score, &a.Feedback, &a.Source, &a.AttemptsCount, &a.HintsUsed, &a.MaterialViewed); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answers: %w", err)
	}
	return out, nil
}

func (s *Service) loadAnswerRecords(ctx context.Context, q queryable, attemptID int64) ([]AnswerRecord, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT question_id, answer_text, is_correct, score, attempts_count, hints_used, material_viewed
		FROM attempt_answers
		WHERE attempt_id = $1
	`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("query answer records: %w", err)
	}
	defer rows.Close()

	out := make([]AnswerRecord, 0)
	for rows.Next() {
		var r AnswerRecord
		var text string
		if err := rows.Scan(&r.QuestionID, &text, &r.IsCorrect, &r.Score, &r.AttemptsCount, &r.HintsUsed, &r.MaterialViewed); err != nil {
			return nil, fmt.Errorf("scan answer record: %w", err)
		}
		r.Answered = strings.TrimSpace(text) != ""
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answer records: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAttempt(row rowScanner) (*Attempt, error) {
	var a Attempt
	var basic, ai, taken sql.NullInt64
	var mastery sql.NullBool
	var metricsRaw []byte
	var completedAt sql.NullTime

	err := row.Scan(&a.ID, &a.TestID, &a.StudentID, &a.Status, &a.TotalQuestions, &basic, &ai, &metricsRaw, &mastery, &taken, &a.TimeFlagged, &a.StartedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	if basic.Valid {
		v := int(basic.Int64)
		a.BasicScore = &v
	}
	if ai.Valid {
		v := int(ai.Int64)
		a.AIScore = &v
	}
	if taken.Valid {
		v := int(taken.Int64)
		a.TimeTakenSecs = &v
	}
	if mastery.Valid {
		a.Mastery = &mastery.Bool
	}
	if len(metricsRaw) > 0 {
		var m Metrics
		if err := json.Unmarshal(metricsRaw, &m); err != nil {
			return nil, fmt.Errorf("decode metrics: %w", err)
		}
		a.Metrics = &m
	}
	if completedAt.Valid {
		a.CompletedAt = &completedAt.Time
	}
	return &a, nil
}

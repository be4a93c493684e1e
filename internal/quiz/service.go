package quiz

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrTestNotFound     = errors.New("test not found")
	ErrQuestionNotFound = errors.New("question not found")
	ErrForbidden        = errors.New("forbidden")
	ErrTestNotDraft     = errors.New("test is not in draft")
	ErrBadTransition    = errors.New("invalid status transition")
	ErrTestHasAttempts  = errors.New("test has attempts")
)

const (
	StatusDraft     = "draft"
	StatusScheduled = "scheduled"
	StatusActive    = "active"
	StatusCompleted = "completed"
)

const maxHints = 3

// HasAttemptsError carries the blocking attempt count so handlers can put it
// in the conflict response.
type HasAttemptsError struct {
	AttemptCount int
}

func (e *HasAttemptsError) Error() string {
	return fmt.Sprintf("test has %d attempts and cannot be deleted", e.AttemptCount)
}

func (e *HasAttemptsError) Is(target error) bool {
	return target == ErrTestHasAttempts
}

type Service struct {
	db              *sql.DB
	defaultDuration int
}

func NewService(db *sql.DB, defaultDurationMinutes int) *Service {
	if defaultDurationMinutes <= 0 {
		defaultDurationMinutes = 15
	}
	return &Service{db: db, defaultDuration: defaultDurationMinutes}
}

type Test struct {
	ID              int64      `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	ScheduledAt     *time.Time `json:"scheduled_at,omitempty"`
	DurationMinutes int        `json:"duration_minutes"`
	Status          string     `json:"status"`
	QuestionCount   int        `json:"question_count"`
	CreatedBy       int64      `json:"created_by"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type Question struct {
	ID            int64    `json:"id"`
	TestID        int64    `json:"test_id"`
	SeqNo         int      `json:"seq_no"`
	QuestionText  string   `json:"question_text"`
	CorrectAnswer string   `json:"correct_answer"`
	Hints         []string `json:"hints"`
	MicroLearning string   `json:"micro_learning"`
}

type TestDetail struct {
	Test      Test       `json:"test"`
	Questions []Question `json:"questions"`
}

type CreateTestInput struct {
	Title           string
	Description     string
	ScheduledAt     *time.Time
	DurationMinutes int
	CreatedBy       int64
}

type UpdateTestInput struct {
	ID              int64
	Title           string
	Description     string
	ScheduledAt     *time.Time
	DurationMinutes int
}

type QuestionInput struct {
	TestID        int64
	QuestionID    int64
	QuestionText  string
	CorrectAnswer string
	Hints         []string
	MicroLearning string
}

func (s *Service) CreateTest(ctx context.Context, in CreateTestInput) (*Test, error) {
	if strings.TrimSpace(in.Title) == "" || in.CreatedBy <= 0 {
		return nil, ErrInvalidInput
	}
	if in.DurationMinutes <= 0 {
		in.DurationMinutes = s.defaultDuration
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO tests (title, description, scheduled_at, duration_minutes, status, question_count, created_by)
		VALUES ($1, $2, $3, $4, 'draft', 0, $5)
		RETURNING id, title, description, scheduled_at, duration_minutes, status, question_count, created_by, created_at, updated_at
	`, strings.TrimSpace(in.Title), in.Description, in.ScheduledAt, in.DurationMinutes, in.CreatedBy)

	t, err := scanTest(row)
	if err != nil {
		return nil, fmt.Errorf("insert test: %w", err)
	}
	return t, nil
}

func (s *Service) ListTests(ctx context.Context, viewerID int64, viewerRole, status string) ([]Test, error) {
	q := `
		SELECT id, title, description, scheduled_at, duration_minutes, status, question_count, created_by, created_at, updated_at
		FROM tests
		WHERE 1=1`
	args := []interface{}{}

	switch viewerRole {
	case "admin":
		// admins see everything
	case "teacher":
		args = append(args, viewerID)
		q += fmt.Sprintf(" AND created_by = $%d", len(args))
	default:
		// students only ever see runnable tests
		q += " AND status = 'active'"
	}
	if status != "" && viewerRole != "student" {
		args = append(args, status)
		q += fmt.Sprintf(" AND status = $%d", len(args))
	}
	q += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query tests: %w", err)
	}
	defer rows.Close()

	out := make([]Test, 0)
	for rows.Next() {
		t, err := scanTest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan test: %w", err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tests: %w", err)
	}
	return out, nil
}

func (s *Service) GetTest(ctx context.Context, testID int64) (*TestDetail, error) {
	t, err := s.loadTest(ctx, s.db, testID)
	if err != nil {
		return nil, err
	}

	questions, err := s.ListQuestions(ctx, testID)
	if err != nil {
		return nil, err
	}
	return &TestDetail{Test: *t, Questions: questions}, nil
}

func (s *Service) UpdateTest(ctx context.Context, actorID int64, actorRole string, in UpdateTestInput) (*Test, error) {
	if in.ID <= 0 || strings.TrimSpace(in.Title) == "" || in.DurationMinutes <= 0 {
		return nil, ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update test tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// the draft check must hold the row lock, or an edit can land after
	// the test leaves draft
	t, err := s.loadTestForUpdate(ctx, tx, in.ID)
	if err != nil {
		return nil, err
	}
	if err := authorizeMutation(actorID, actorRole, t.CreatedBy); err != nil {
		return nil, err
	}
	if t.Status != StatusDraft {
		return nil, ErrTestNotDraft
	}

	row := tx.QueryRowContext(ctx, `
		UPDATE tests
		SET title = $2, description = $3, scheduled_at = $4, duration_minutes = $5, updated_at = now()
		WHERE id = $1
		RETURNING id, title, description, scheduled_at, duration_minutes, status, question_count, created_by, created_at, updated_at
	`, in.ID, strings.TrimSpace(in.Title), in.Description, in.ScheduledAt, in.DurationMinutes)

	updated, err := scanTest(row)
	if err != nil {
		return nil, fmt.Errorf("update test: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update test: %w", err)
	}
	return updated, nil
}

// SetStatus applies one explicit administrator transition along
// draft -> scheduled -> active -> completed. Status is never computed.
func (s *Service) SetStatus(ctx context.Context, actorID int64, actorRole string, testID int64, next string) (*Test, error) {
	if testID <= 0 {
		return nil, ErrInvalidInput
	}

	t, err := s.loadTest(ctx, s.db, testID)
	if err != nil {
		return nil, err
	}
	if err := authorizeMutation(actorID, actorRole, t.CreatedBy); err != nil {
		return nil, err
	}
	if !validTransition(t.Status, next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrBadTransition, t.Status, next)
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE tests
		SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING id, title, description, scheduled_at, duration_minutes, status, question_count, created_by, created_at, updated_at
	`, testID, next)

	updated, err := scanTest(row)
	if err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	return updated, nil
}

// DeleteTest refuses to delete a test that has attempts; attempts are the
// historical record and must keep their parent.
func (s *Service) DeleteTest(ctx context.Context, actorID int64, actorRole string, testID int64) error {
	if testID <= 0 {
		return ErrInvalidInput
	}

	t, err := s.loadTest(ctx, s.db, testID)
	if err != nil {
		return err
	}
	if err := authorizeMutation(actorID, actorRole, t.CreatedBy); err != nil {
		return err
	}

	var attempts int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM test_attempts WHERE test_id = $1
	`, testID).Scan(&attempts); err != nil {
		return fmt.Errorf("count attempts: %w", err)
	}
	if attempts > 0 {
		return &HasAttemptsError{AttemptCount: attempts}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE test_id = $1`, testID); err != nil {
		return fmt.Errorf("delete questions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tests WHERE id = $1`, testID); err != nil {
		return fmt.Errorf("delete test: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

func (s *Service) AddQuestion(ctx context.Context, actorID int64, actorRole string, in QuestionInput) (*Question, error) {
	if err := validateQuestionInput(in); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin add question tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	t, err := s.loadTestForUpdate(ctx, tx, in.TestID)
	if err != nil {
		return nil, err
	}
	if err := authorizeMutation(actorID, actorRole, t.CreatedBy); err != nil {
		return nil, err
	}
	if t.Status != StatusDraft {
		return nil, ErrTestNotDraft
	}

	hintsJSON, err := json.Marshal(normalizeHints(in.Hints))
	if err != nil {
		return nil, fmt.Errorf("encode hints: %w", err)
	}

	q := &Question{TestID: in.TestID}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO questions (test_id, seq_no, question_text, correct_answer, hints, micro_learning)
		VALUES ($1, (SELECT COALESCE(MAX(seq_no), 0) + 1 FROM questions WHERE test_id = $1), $2, $3, $4::jsonb, $5)
		RETURNING id, seq_no
	`, in.TestID, strings.TrimSpace(in.QuestionText), strings.TrimSpace(in.CorrectAnswer), hintsJSON, in.MicroLearning).Scan(&q.ID, &q.SeqNo)
	if err != nil {
		return nil, fmt.Errorf("insert question: %w", err)
	}

	// question_count moves in the same transaction as the question set.
	if _, err := tx.ExecContext(ctx, `
		UPDATE tests SET question_count = question_count + 1, updated_at = now() WHERE id = $1
	`, in.TestID); err != nil {
		return nil, fmt.Errorf("bump question_count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit add question: %w", err)
	}

	q.QuestionText = strings.TrimSpace(in.QuestionText)
	q.CorrectAnswer = strings.TrimSpace(in.CorrectAnswer)
	q.Hints = normalizeHints(in.Hints)
	q.MicroLearning = in.MicroLearning
	return q, nil
}

func (s *Service) UpdateQuestion(ctx context.Context, actorID int64, actorRole string, in QuestionInput) (*Question, error) {
	if in.QuestionID <= 0 {
		return nil, ErrInvalidInput
	}
	if err := validateQuestionInput(in); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update question tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	t, err := s.loadTestForUpdate(ctx, tx, in.TestID)
	if err != nil {
		return nil, err
	}
	if err := authorizeMutation(actorID, actorRole, t.CreatedBy); err != nil {
		return nil, err
	}
	if t.Status != StatusDraft {
		return nil, ErrTestNotDraft
	}

	hintsJSON, err := json.Marshal(normalizeHints(in.Hints))
	if err != nil {
		return nil, fmt.Errorf("encode hints: %w", err)
	}

	row := tx.QueryRowContext(ctx, `
		UPDATE questions
		SET question_text = $3, correct_answer = $4, hints = $5::jsonb, micro_learning = $6
		WHERE id = $2 AND test_id = $1
		RETURNING id, test_id, seq_no, question_text, correct_answer, hints, micro_learning
	`, in.TestID, in.QuestionID, strings.TrimSpace(in.QuestionText), strings.TrimSpace(in.CorrectAnswer), hintsJSON, in.MicroLearning)

	q, err := scanQuestion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("update question: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update question: %w", err)
	}
	return q, nil
}

func (s *Service) DeleteQuestion(ctx context.Context, actorID int64, actorRole string, testID, questionID int64) error {
	if testID <= 0 || questionID <= 0 {
		return ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete question tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	t, err := s.loadTestForUpdate(ctx, tx, testID)
	if err != nil {
		return err
	}
	if err := authorizeMutation(actorID, actorRole, t.CreatedBy); err != nil {
		return err
	}
	if t.Status != StatusDraft {
		return ErrTestNotDraft
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE id = $2 AND test_id = $1`, testID, questionID)
	if err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrQuestionNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE tests SET question_count = question_count - 1, updated_at = now() WHERE id = $1
	`, testID); err != nil {
		return fmt.Errorf("drop question_count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete question: %w", err)
	}
	return nil
}

func (s *Service) ListQuestions(ctx context.Context, testID int64) ([]Question, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, test_id, seq_no, question_text, correct_answer, hints, micro_learning
		FROM questions
		WHERE test_id = $1
		ORDER BY seq_no
	`, testID)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	out := make([]Question, 0)
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		out = append(out, *q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTest(row rowScanner) (*Test, error) {
	var t Test
	var scheduledAt sql.NullTime
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &scheduledAt, &t.DurationMinutes, &t.Status, &t.QuestionCount, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if scheduledAt.Valid {
		t.ScheduledAt = &scheduledAt.Time
	}
	return &t, nil
}

func scanQuestion(row rowScanner) (*Question, error) {
	var q Question
	var hintsRaw []byte
	if err := row.Scan(&q.ID, &q.TestID, &q.SeqNo, &q.QuestionText, &q.CorrectAnswer, &hintsRaw, &q.MicroLearning); err != nil {
		return nil, err
	}
	if len(hintsRaw) > 0 {
		if err := json.Unmarshal(hintsRaw, &q.Hints); err != nil {
			return nil, fmt.Errorf("decode hints: %w", err)
		}
	}
	if q.Hints == nil {
		q.Hints = []string{}
	}
	return &q, nil
}

type queryable interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *Service) loadTest(ctx context.Context, q queryable, testID int64) (*Test, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, title, description, scheduled_at, duration_minutes, status, question_count, created_by, created_at, updated_at
		FROM tests
		WHERE id = $1
	`, testID)
	t, err := scanTest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("load test: %w", err)
	}
	return t, nil
}

func (s *Service) loadTestForUpdate(ctx context.Context, tx *sql.Tx, testID int64) (*Test, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, title, description, scheduled_at, duration_minutes, status, question_count, created_by, created_at, updated_at
		FROM tests
		WHERE id = $1
		FOR UPDATE
	`, testID)
	t, err := scanTest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("load test for update: %w", err)
	}
	return t, nil
}

func authorizeMutation(actorID int64, actorRole string, ownerID int64) error {
	if actorRole == "admin" {
		return nil
	}
	if actorID == ownerID {
		return nil
	}
	return ErrForbidden
}

func validTransition(current, next string) bool {
	switch current {
	case StatusDraft:
		return next == StatusScheduled
	case StatusScheduled:
		return next == StatusActive
	case StatusActive:
		return next == StatusCompleted
	default:
		return false
	}
}

func validateQuestionInput(in QuestionInput) error {
	if in.TestID <= 0 {
		return ErrInvalidInput
	}
	if strings.TrimSpace(in.QuestionText) == "" || strings.TrimSpace(in.CorrectAnswer) == "" {
		return ErrInvalidInput
	}
	if len(normalizeHints(in.Hints)) > maxHints {
		return ErrInvalidInput
	}
	return nil
}

func normalizeHints(in []string) []string {
	out := make([]string, 0, len(in))
	for _, h := range in {
		h = strings.TrimSpace(h)
		if h != "" {
			out = append(out, h)
		}
	}
	return out
}

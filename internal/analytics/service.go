package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"quizkit/internal/attempt"
)

var ErrStudentNotFound = errors.New("student not found")

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Filters narrow the attempt population before any aggregate is computed.
// Zero values mean "no restriction".
type Filters struct {
	TestID   int64
	Status   string
	MinScore int
	Search   string
	From     time.Time
	To       time.Time
}

type Page struct {
	Limit  int
	Offset int
}

func (p Page) normalized() Page {
	if p.Limit <= 0 || p.Limit > 200 {
		p.Limit = 50
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

type Overview struct {
	TotalStudents int     `json:"total_students"`
	ActiveTests   int     `json:"active_tests"`
	AvgScore      float64 `json:"avg_score"`
	TotalAttempts int     `json:"total_attempts"`
}

type TestStats struct {
	TestID           int64          `json:"test_id"`
	Title            string         `json:"title"`
	Attempts         int            `json:"attempts"`
	CompletedCount   int            `json:"completed_count"`
	AvgBasicScore    float64        `json:"avg_basic_score"`
	AvgAIScore       float64        `json:"avg_ai_score"`
	MasteryRate      float64        `json:"mastery_rate"`
	AvgTimeTakenSecs float64        `json:"avg_time_taken_seconds"`
	Scatter          []ScatterPoint `json:"scatter"`
}

type StudentRow struct {
	StudentID     int64   `json:"student_id"`
	Username      string  `json:"username"`
	Attempts      int     `json:"attempts"`
	AvgBasicScore float64 `json:"avg_basic_score"`
	AvgAIScore    float64 `json:"avg_ai_score"`
	MasteryCount  int     `json:"mastery_count"`
}

type StudentMetrics struct {
	StudentID int64           `json:"student_id"`
	Completed int             `json:"completed_attempts"`
	AvgBasic  float64         `json:"avg_basic_score"`
	AvgAI     float64         `json:"avg_ai_score"`
	Metrics   attempt.Metrics `json:"metrics"`
}

// Overview aggregates cohort-wide counters. total_attempts counts every
// attempt regardless of status; avg_score only looks at completed ones.
func (s *Service) Overview(ctx context.Context, f Filters) (*Overview, error) {
	where, args := f.clause(nil)
	where, args = withSearch(f, where, args)

	var o Overview
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT a.student_id),
		       COUNT(*),
		       COALESCE(AVG(a.basic_score) FILTER (WHERE a.status = 'completed'), 0)
		FROM test_attempts a
		JOIN users u ON u.id = a.student_id
	`+where, args...).Scan(&o.TotalStudents, &o.TotalAttempts, &o.AvgScore)
	if err != nil {
		return nil, fmt.Errorf("aggregate attempts: %w", err)
	}
	o.AvgScore = round1(o.AvgScore)

	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tests WHERE status = 'active'
	`).Scan(&o.ActiveTests); err != nil {
		return nil, fmt.Errorf("count active tests: %w", err)
	}
	return &o, nil
}

// TestStats aggregates one test's completed attempts and builds the scatter
// layout: engagement on x, basic score on y, decluttered for rendering.
func (s *Service) TestStats(ctx context.Context, testID int64, f Filters) (*TestStats, error) {
	f.TestID = testID
	where, args := f.clause(nil)

	st := &TestStats{TestID: testID}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'completed'),
		       COALESCE(AVG(basic_score) FILTER (WHERE status = 'completed'), 0),
		       COALESCE(AVG(ai_score) FILTER (WHERE status = 'completed'), 0),
		       COALESCE(AVG(CASE WHEN mastery_achieved THEN 100.0 ELSE 0 END) FILTER (WHERE status = 'completed'), 0),
		       COALESCE(AVG(time_taken_seconds) FILTER (WHERE status = 'completed'), 0)
		FROM test_attempts a
	`+where, args...).Scan(&st.Attempts, &st.CompletedCount, &st.AvgBasicScore, &st.AvgAIScore, &st.MasteryRate, &st.AvgTimeTakenSecs)
	if err != nil {
		return nil, fmt.Errorf("aggregate test stats: %w", err)
	}
	st.AvgBasicScore = round1(st.AvgBasicScore)
	st.AvgAIScore = round1(st.AvgAIScore)
	st.MasteryRate = round1(st.MasteryRate)
	st.AvgTimeTakenSecs = round1(st.AvgTimeTakenSecs)

	if err := s.db.QueryRowContext(ctx, `
		SELECT title FROM tests WHERE id = $1
	`, testID).Scan(&st.Title); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load test title: %w", err)
	}

	points, err := s.scatterPoints(ctx, where, args)
	if err != nil {
		return nil, err
	}
	st.Scatter = Declutter(points)
	return st, nil
}

// scatterPoints builds one point per student: engagement and basic score
// averaged over their completed attempts, sized by the attempt count.
func (s *Service) scatterPoints(ctx context.Context, where string, args []interface{}) ([]ScatterPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.student_id, u.username,
		       COALESCE(AVG((a.metrics->>'engagement')::float), 0),
		       COALESCE(AVG(a.basic_score), 0),
		       COUNT(*)
		FROM test_attempts a
		JOIN users u ON u.id = a.student_id
	`+andCompleted(where)+`
		GROUP BY a.student_id, u.username
		ORDER BY a.student_id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query scatter points: %w", err)
	}
	defer rows.Close()

	out := make([]ScatterPoint, 0)
	for rows.Next() {
		var p ScatterPoint
		if err := rows.Scan(&p.StudentID, &p.Label, &p.X, &p.Y, &p.Size); err != nil {
			return nil, fmt.Errorf("scan scatter point: %w", err)
		}
		p.X = round1(p.X)
		p.Y = round1(p.Y)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scatter points: %w", err)
	}
	return out, nil
}

// ListTestStats rolls up attempt counts and averages per test.
func (s *Service) ListTestStats(ctx context.Context, f Filters) ([]TestStats, error) {
	where, args := f.clause(nil)
	where, args = withSearch(f, where, args)

	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.title,
		       COUNT(a.id),
		       COUNT(a.id) FILTER (WHERE a.status = 'completed'),
		       COALESCE(AVG(a.basic_score) FILTER (WHERE a.status = 'completed'), 0),
		       COALESCE(AVG(a.ai_score) FILTER (WHERE a.status = 'completed'), 0)
		FROM tests t
		JOIN test_attempts a ON a.test_id = t.id
		JOIN users u ON u.id = a.student_id
	`+where+`
		GROUP BY t.id, t.title
		ORDER BY t.id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query per-test stats: %w", err)
	}
	defer rows.Close()

	out := make([]TestStats, 0)
	for rows.Next() {
		var st TestStats
		if err := rows.Scan(&st.TestID, &st.Title, &st.Attempts, &st.CompletedCount, &st.AvgBasicScore, &st.AvgAIScore); err != nil {
			return nil, fmt.Errorf("scan per-test stats: %w", err)
		}
		st.AvgBasicScore = round1(st.AvgBasicScore)
		st.AvgAIScore = round1(st.AvgAIScore)
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate per-test stats: %w", err)
	}
	return out, nil
}

// PerformanceMatrix lists per-student aggregates for the teacher dashboard.
func (s *Service) PerformanceMatrix(ctx context.Context, f Filters, page Page) ([]StudentRow, error) {
	page = page.normalized()
	where, args := f.clause(nil)
	where, args = withSearch(f, where, args)

	args = append(args, page.Limit, page.Offset)
	limitPos := len(args) - 1
	offsetPos := len(args)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT a.student_id, u.username,
		       COUNT(*),
		       COALESCE(AVG(a.basic_score) FILTER (WHERE a.status = 'completed'), 0),
		       COALESCE(AVG(a.ai_score) FILTER (WHERE a.status = 'completed'), 0),
		       COUNT(*) FILTER (WHERE a.mastery_achieved)
		FROM test_attempts a
		JOIN users u ON u.id = a.student_id
		%s
		GROUP BY a.student_id, u.username
		ORDER BY u.username
		LIMIT $%d OFFSET $%d
	`, where, limitPos, offsetPos), args...)
	if err != nil {
		return nil, fmt.Errorf("query performance matrix: %w", err)
	}
	defer rows.Close()

	out := make([]StudentRow, 0)
	for rows.Next() {
		var r StudentRow
		if err := rows.Scan(&r.StudentID, &r.Username, &r.Attempts, &r.AvgBasicScore, &r.AvgAIScore, &r.MasteryCount); err != nil {
			return nil, fmt.Errorf("scan student row: %w", err)
		}
		r.AvgBasicScore = round1(r.AvgBasicScore)
		r.AvgAIScore = round1(r.AvgAIScore)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate student rows: %w", err)
	}
	return out, nil
}

// StudentOverview recomputes one student's behavioral metrics from their
// stored answers instead of averaging the per-attempt snapshots, so late
// corrections to answer rows are reflected.
func (s *Service) StudentOverview(ctx context.Context, studentID int64, f Filters) (*StudentMetrics, error) {
	where, args := f.clause([]interface{}{studentID})

	m := &StudentMetrics{StudentID: studentID}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE status = 'completed'),
		       COALESCE(AVG(basic_score) FILTER (WHERE status = 'completed'), 0),
		       COALESCE(AVG(ai_score) FILTER (WHERE status = 'completed'), 0)
		FROM test_attempts a
		WHERE a.student_id = $1
	`+andClause(where), args...).Scan(&m.Completed, &m.AvgBasic, &m.AvgAI)
	if err != nil {
		return nil, fmt.Errorf("aggregate student attempts: %w", err)
	}
	m.AvgBasic = round1(m.AvgBasic)
	m.AvgAI = round1(m.AvgAI)

	records, total, err := s.studentAnswerRecords(ctx, studentID, f)
	if err != nil {
		return nil, err
	}
	m.Metrics = attempt.ComputeMetrics(records, total)
	return m, nil
}

func (s *Service) studentAnswerRecords(ctx context.Context, studentID int64, f Filters) ([]attempt.AnswerRecord, int, error) {
	where, args := f.clause([]interface{}{studentID})

	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total_questions), 0)
		FROM test_attempts a
		WHERE a.student_id = $1 AND a.status = 'completed'
	`+andClause(where), args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("sum question totals: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT ans.question_id, ans.answer_text <> '', ans.is_correct, ans.score, ans.attempts_count, ans.hints_used, ans.material_viewed
		FROM attempt_answers ans
		JOIN test_attempts a ON a.id = ans.attempt_id
		WHERE a.student_id = $1 AND a.status = 'completed'
	`+andClause(where), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query student answers: %w", err)
	}
	defer rows.Close()

	out := make([]attempt.AnswerRecord, 0)
	for rows.Next() {
		var r attempt.AnswerRecord
		if err := rows.Scan(&r.QuestionID, &r.Answered, &r.IsCorrect, &r.Score, &r.AttemptsCount, &r.HintsUsed, &r.MaterialViewed); err != nil {
			return nil, 0, fmt.Errorf("scan student answer: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate student answers: %w", err)
	}
	return out, total, nil
}

// clause renders the filter set as a WHERE fragment. prefix holds
// positional args already claimed by the caller's query.
func (f Filters) clause(prefix []interface{}) (string, []interface{}) {
	args := prefix
	conds := make([]string, 0, 3)

	if f.TestID > 0 {
		args = append(args, f.TestID)
		conds = append(conds, fmt.Sprintf("a.test_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("a.status = $%d", len(args)))
	}
	if f.MinScore > 0 {
		args = append(args, f.MinScore)
		conds = append(conds, fmt.Sprintf("a.basic_score >= $%d", len(args)))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		conds = append(conds, fmt.Sprintf("a.started_at >= $%d", len(args)))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		conds = append(conds, fmt.Sprintf("a.started_at < $%d", len(args)))
	}

	if len(conds) == 0 {
		return "", args
	}
	where := " WHERE " + conds[0]
	for _, c := range conds[1:] {
		where += " AND " + c
	}
	return where, args
}

// withSearch appends a username match to an already rendered WHERE
// fragment. Callers must have joined users under the alias u.
func withSearch(f Filters, where string, args []interface{}) (string, []interface{}) {
	if f.Search == "" {
		return where, args
	}
	args = append(args, "%"+f.Search+"%")
	cond := fmt.Sprintf("u.username ILIKE $%d", len(args))
	if where == "" {
		return " WHERE " + cond, args
	}
	return where + " AND " + cond, args
}

func andClause(where string) string {
	if where == "" {
		return ""
	}
	// the caller already opened WHERE; reuse the conditions with AND
	return " AND " + where[len(" WHERE "):]
}

func andCompleted(where string) string {
	if where == "" {
		return " WHERE a.status = 'completed'"
	}
	return where + " AND a.status = 'completed'"
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

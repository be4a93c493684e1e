package report

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"quizkit/internal/analytics"
)

var ErrTestNotFound = errors.New("test not found")

type Service struct {
	db        *sql.DB
	analytics *analytics.Service
}

func NewService(db *sql.DB, an *analytics.Service) *Service {
	return &Service{db: db, analytics: an}
}

// ExportCohortExcel renders the per-student performance matrix as a
// spreadsheet for teachers who work offline.
func (s *Service) ExportCohortExcel(ctx context.Context, f analytics.Filters) ([]byte, error) {
	rows, err := s.analytics.PerformanceMatrix(ctx, f, analytics.Page{Limit: 200})
	if err != nil {
		return nil, err
	}

	file := excelize.NewFile()
	sheet := file.GetSheetName(0)

	headers := []string{"student_id", "username", "attempts", "avg_basic_score", "avg_ai_score", "mastery_count"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = file.SetCellValue(sheet, cell, h)
	}
	for i, r := range rows {
		values := []any{r.StudentID, r.Username, r.Attempts, r.AvgBasicScore, r.AvgAIScore, r.MasteryCount}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			_ = file.SetCellValue(sheet, cell, v)
		}
	}
	_ = file.SetColWidth(sheet, "A", "F", 20)

	var buf bytes.Buffer
	if err := file.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}

type attemptExportRow struct {
	AttemptID   int64
	Username    string
	Status      string
	BasicScore  sql.NullInt64
	AIScore     sql.NullInt64
	Mastery     sql.NullBool
	TimeTaken   sql.NullInt64
	CompletedAt sql.NullTime
}

// ExportTestAttemptsExcel lists every attempt on one test, one row per
// attempt, scores blank for unfinished ones.
func (s *Service) ExportTestAttemptsExcel(ctx context.Context, testID int64) ([]byte, error) {
	var title string
	err := s.db.QueryRowContext(ctx, `SELECT title FROM tests WHERE id = $1`, testID).Scan(&title)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load test: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, u.username, a.status, a.basic_score, a.ai_score, a.mastery_achieved, a.time_taken_seconds, a.completed_at
		FROM test_attempts a
		JOIN users u ON u.id = a.student_id
		WHERE a.test_id = $1
		ORDER BY a.started_at
	`, testID)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	file := excelize.NewFile()
	sheet := file.GetSheetName(0)
	_ = file.SetCellValue(sheet, "A1", fmt.Sprintf("Attempts for %q", title))

	headers := []string{"attempt_id", "username", "status", "basic_score", "ai_score", "mastery", "time_taken_seconds", "completed_at"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = file.SetCellValue(sheet, cell, h)
	}

	rowNum := 3
	for rows.Next() {
		var r attemptExportRow
		if err := rows.Scan(&r.AttemptID, &r.Username, &r.Status, &r.BasicScore, &r.AIScore, &r.Mastery, &r.TimeTaken, &r.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}

		values := []any{r.AttemptID, r.Username, r.Status, nullInt(r.BasicScore), nullInt(r.AIScore), nullBool(r.Mastery), nullInt(r.TimeTaken), nullTime(r.CompletedAt)}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, rowNum)
			_ = file.SetCellValue(sheet, cell, v)
		}
		rowNum++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	_ = file.SetColWidth(sheet, "A", "H", 20)

	var buf bytes.Buffer
	if err := file.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}

func nullInt(v sql.NullInt64) any {
	if v.Valid {
		return v.Int64
	}
	return ""
}

func nullBool(v sql.NullBool) any {
	if v.Valid {
		return v.Bool
	}
	return ""
}

func nullTime(v sql.NullTime) any {
	if v.Valid {
		return v.Time.Format(time.RFC3339)
	}
	return ""
}

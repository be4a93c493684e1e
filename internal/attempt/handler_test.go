package attempt

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"quizkit/internal/auth"
)

type mockAttemptService struct {
	startFn          func(ctx context.Context, studentID, testID int64) (*Attempt, error)
	getFn            func(ctx context.Context, viewerID int64, viewerRole string, attemptID int64) (*AttemptDetail, error)
	submitAnswerFn   func(ctx context.Context, studentID, attemptID, questionID int64, answerText string) (*Answer, error)
	revealHintFn     func(ctx context.Context, studentID, attemptID, questionID int64) (string, error)
	materialViewedFn func(ctx context.Context, studentID, attemptID, questionID int64) error
	completeFn       func(ctx context.Context, studentID, attemptID int64) (*Attempt, error)
	abandonFn        func(ctx context.Context, studentID, attemptID int64) (*Attempt, error)
	listFn           func(ctx context.Context, studentID int64) ([]Attempt, error)
}

func (m *mockAttemptService) Start(ctx context.Context, studentID, testID int64) (*Attempt, error) {
	return m.startFn(ctx, studentID, testID)
}

func (m *mockAttemptService) Get(ctx context.Context, viewerID int64, viewerRole string, attemptID int64) (*AttemptDetail, error) {
	return m.getFn(ctx, viewerID, viewerRole, attemptID)
}

func (m *mockAttemptService) SubmitAnswer(ctx context.Context, studentID, attemptID, questionID int64, answerText string) (*Answer, error) {
	return m.submitAnswerFn(ctx, studentID, attemptID, questionID, answerText)
}

func (m *mockAttemptService) RevealHint(ctx context.Context, studentID, attemptID, questionID int64) (string, error) {
	return m.revealHintFn(ctx, studentID, attemptID, questionID)
}

func (m *mockAttemptService) MarkMaterialViewed(ctx context.Context, studentID, attemptID, questionID int64) error {
	return m.materialViewedFn(ctx, studentID, attemptID, questionID)
}

func (m *mockAttemptService) Complete(ctx context.Context, studentID, attemptID int64) (*Attempt, error) {
	return m.completeFn(ctx, studentID, attemptID)
}

func (m *mockAttemptService) Abandon(ctx context.Context, studentID, attemptID int64) (*Attempt, error) {
	return m.abandonFn(ctx, studentID, attemptID)
}

func (m *mockAttemptService) ListForStudent(ctx context.Context, studentID int64) ([]Attempt, error) {
	return m.listFn(ctx, studentID)
}

func withChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func asStudent(r *http.Request, id int64) *http.Request {
	u := &auth.User{ID: id, Username: "s", Role: "student"}
	return r.WithContext(auth.ContextWithUser(r.Context(), u))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
	return body
}

func TestStartAttemptHandler(t *testing.T) {
	svc := &mockAttemptService{
		startFn: func(ctx context.Context, studentID, testID int64) (*Attempt, error) {
			if studentID != 42 || testID != 7 {
				t.Fatalf("got student=%d test=%d", studentID, testID)
			}
			return &Attempt{ID: 1, TestID: testID, StudentID: studentID, Status: StatusInProgress, TotalQuestions: 10}, nil
		},
	}
	h := NewHandler(svc)

	req := asStudent(httptest.NewRequest(http.MethodPost, "/api/attempts", bytes.NewBufferString(`{"test_id":7}`)), 42)
	rec := httptest.NewRecorder()

	h.start(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	body := decodeBody(t, rec)
	data := body["data"].(map[string]interface{})
	if data["total_questions"] != float64(10) {
		t.Fatalf("total_questions = %v, want 10", data["total_questions"])
	}
}

func TestStartAttemptOnInactiveTestConflicts(t *testing.T) {
	svc := &mockAttemptService{
		startFn: func(ctx context.Context, studentID, testID int64) (*Attempt, error) {
			return nil, ErrTestNotActive
		},
	}
	h := NewHandler(svc)

	req := asStudent(httptest.NewRequest(http.MethodPost, "/api/attempts", bytes.NewBufferString(`{"test_id":7}`)), 42)
	rec := httptest.NewRecorder()

	h.start(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestSubmitAnswerOnFinishedAttemptConflicts(t *testing.T) {
	svc := &mockAttemptService{
		submitAnswerFn: func(ctx context.Context, studentID, attemptID, questionID int64, answerText string) (*Answer, error) {
			return nil, ErrAttemptFinished
		},
	}
	h := NewHandler(svc)

	payload := bytes.NewBufferString(`{"question_id":3,"answer_text":"blue"}`)
	req := asStudent(httptest.NewRequest(http.MethodPost, "/api/attempts/1/answers", payload), 42)
	req = withChiParams(req, map[string]string{"attemptID": "1"})
	rec := httptest.NewRecorder()

	h.submitAnswer(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestSubmitAnswerReturnsGrading(t *testing.T) {
	svc := &mockAttemptService{
		submitAnswerFn: func(ctx context.Context, studentID, attemptID, questionID int64, answerText string) (*Answer, error) {
			return &Answer{QuestionID: questionID, AnswerText: answerText, IsCorrect: true, Score: 92, Source: "delegate", AttemptsCount: 2}, nil
		},
	}
	h := NewHandler(svc)

	payload := bytes.NewBufferString(`{"question_id":3,"answer_text":"the water cycle"}`)
	req := asStudent(httptest.NewRequest(http.MethodPost, "/api/attempts/1/answers", payload), 42)
	req = withChiParams(req, map[string]string{"attemptID": "1"})
	rec := httptest.NewRecorder()

	h.submitAnswer(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	data := decodeBody(t, rec)["data"].(map[string]interface{})
	if data["score"] != float64(92) || data["is_correct"] != true {
		t.Fatalf("unexpected grading payload: %v", data)
	}
}

func TestRevealHintExhausted(t *testing.T) {
	svc := &mockAttemptService{
		revealHintFn: func(ctx context.Context, studentID, attemptID, questionID int64) (string, error) {
			return "", ErrNoMoreHints
		},
	}
	h := NewHandler(svc)

	payload := bytes.NewBufferString(`{"question_id":3}`)
	req := asStudent(httptest.NewRequest(http.MethodPost, "/api/attempts/1/hints", payload), 42)
	req = withChiParams(req, map[string]string{"attemptID": "1"})
	rec := httptest.NewRecorder()

	h.revealHint(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestGetAttemptForbiddenForOtherStudent(t *testing.T) {
	svc := &mockAttemptService{
		getFn: func(ctx context.Context, viewerID int64, viewerRole string, attemptID int64) (*AttemptDetail, error) {
			return nil, ErrForbidden
		},
	}
	h := NewHandler(svc)

	req := asStudent(httptest.NewRequest(http.MethodGet, "/api/attempts/9", nil), 42)
	req = withChiParams(req, map[string]string{"attemptID": "9"})
	rec := httptest.NewRecorder()

	h.get(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestCompleteIgnoresClientBody(t *testing.T) {
	// Elapsed time is the server's business. A client claiming a fast finish
	// must not influence what gets stored.
	taken := 312
	svc := &mockAttemptService{
		completeFn: func(ctx context.Context, studentID, attemptID int64) (*Attempt, error) {
			return &Attempt{ID: attemptID, StudentID: studentID, Status: StatusCompleted, TimeTakenSecs: &taken}, nil
		},
	}
	h := NewHandler(svc)

	payload := bytes.NewBufferString(`{"time_taken_seconds":0}`)
	req := asStudent(httptest.NewRequest(http.MethodPost, "/api/attempts/1/complete", payload), 42)
	req = withChiParams(req, map[string]string{"attemptID": "1"})
	rec := httptest.NewRecorder()

	h.complete(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	data := decodeBody(t, rec)["data"].(map[string]interface{})
	if data["time_taken_seconds"] != float64(312) {
		t.Fatalf("time_taken_seconds = %v, want 312", data["time_taken_seconds"])
	}
}

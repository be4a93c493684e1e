package quiz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"quizkit/internal/auth"
)

type mockTestService struct {
	createTestFn     func(ctx context.Context, in CreateTestInput) (*Test, error)
	listTestsFn      func(ctx context.Context, viewerID int64, viewerRole, status string) ([]Test, error)
	getTestFn        func(ctx context.Context, testID int64) (*TestDetail, error)
	updateTestFn     func(ctx context.Context, actorID int64, actorRole string, in UpdateTestInput) (*Test, error)
	setStatusFn      func(ctx context.Context, actorID int64, actorRole string, testID int64, next string) (*Test, error)
	deleteTestFn     func(ctx context.Context, actorID int64, actorRole string, testID int64) error
	addQuestionFn    func(ctx context.Context, actorID int64, actorRole string, in QuestionInput) (*Question, error)
	updateQuestionFn func(ctx context.Context, actorID int64, actorRole string, in QuestionInput) (*Question, error)
	deleteQuestionFn func(ctx context.Context, actorID int64, actorRole string, testID, questionID int64) error
}

func (m *mockTestService) CreateTest(ctx context.Context, in CreateTestInput) (*Test, error) {
	return m.createTestFn(ctx, in)
}

func (m *mockTestService) ListTests(ctx context.Context, viewerID int64, viewerRole, status string) ([]Test, error) {
	return m.listTestsFn(ctx, viewerID, viewerRole, status)
}

func (m *mockTestService) GetTest(ctx context.Context, testID int64) (*TestDetail, error) {
	return m.getTestFn(ctx, testID)
}

func (m *mockTestService) UpdateTest(ctx context.Context, actorID int64, actorRole string, in UpdateTestInput) (*Test, error) {
	return m.updateTestFn(ctx, actorID, actorRole, in)
}

func (m *mockTestService) SetStatus(ctx context.Context, actorID int64, actorRole string, testID int64, next string) (*Test, error) {
	return m.setStatusFn(ctx, actorID, actorRole, testID, next)
}

func (m *mockTestService) DeleteTest(ctx context.Context, actorID int64, actorRole string, testID int64) error {
	return m.deleteTestFn(ctx, actorID, actorRole, testID)
}

func (m *mockTestService) AddQuestion(ctx context.Context, actorID int64, actorRole string, in QuestionInput) (*Question, error) {
	return m.addQuestionFn(ctx, actorID, actorRole, in)
}

func (m *mockTestService) UpdateQuestion(ctx context.Context, actorID int64, actorRole string, in QuestionInput) (*Question, error) {
	return m.updateQuestionFn(ctx, actorID, actorRole, in)
}

func (m *mockTestService) DeleteQuestion(ctx context.Context, actorID int64, actorRole string, testID, questionID int64) error {
	return m.deleteQuestionFn(ctx, actorID, actorRole, testID, questionID)
}

func withChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func asUser(r *http.Request, id int64, role string) *http.Request {
	u := &auth.User{ID: id, Username: "u", Role: role}
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

func TestCreateTestHandler(t *testing.T) {
	svc := &mockTestService{
		createTestFn: func(ctx context.Context, in CreateTestInput) (*Test, error) {
			if in.CreatedBy != 7 {
				t.Fatalf("CreatedBy = %d, want 7", in.CreatedBy)
			}
			return &Test{ID: 1, Title: in.Title, Status: StatusDraft, DurationMinutes: in.DurationMinutes, CreatedBy: in.CreatedBy}, nil
		},
	}
	h := NewHandler(svc)

	payload := bytes.NewBufferString(`{"title":"Fractions quiz","duration_minutes":30}`)
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/tests", payload), 7, "teacher")
	rec := httptest.NewRecorder()

	h.createTest(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	body := decodeBody(t, rec)
	if body["ok"] != true {
		t.Fatalf("ok = %v, want true", body["ok"])
	}
}

func TestCreateTestHandlerRejectsBadJSON(t *testing.T) {
	h := NewHandler(&mockTestService{})

	req := asUser(httptest.NewRequest(http.MethodPost, "/api/tests", bytes.NewBufferString(`{`)), 7, "teacher")
	rec := httptest.NewRecorder()

	h.createTest(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestDeleteTestWithAttemptsReturnsConflictDetail(t *testing.T) {
	svc := &mockTestService{
		deleteTestFn: func(ctx context.Context, actorID int64, actorRole string, testID int64) error {
			return &HasAttemptsError{AttemptCount: 12}
		},
	}
	h := NewHandler(svc)

	req := asUser(httptest.NewRequest(http.MethodDelete, "/api/tests/5", nil), 7, "teacher")
	req = withChiParams(req, map[string]string{"testID": "5"})
	rec := httptest.NewRecorder()

	h.deleteTest(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
	body := decodeBody(t, rec)
	errObj, ok := body["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing error payload: %v", body)
	}
	details, ok := errObj["details"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing error details: %v", errObj)
	}
	if details["attempt_count"] != float64(12) {
		t.Fatalf("attempt_count = %v, want 12", details["attempt_count"])
	}
}

func TestGetTestNotFound(t *testing.T) {
	svc := &mockTestService{
		getTestFn: func(ctx context.Context, testID int64) (*TestDetail, error) {
			return nil, ErrTestNotFound
		},
	}
	h := NewHandler(svc)

	req := withChiParams(httptest.NewRequest(http.MethodGet, "/api/tests/99", nil), map[string]string{"testID": "99"})
	rec := httptest.NewRecorder()

	h.getTest(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestSetStatusRejectsSkippedTransition(t *testing.T) {
	svc := &mockTestService{
		setStatusFn: func(ctx context.Context, actorID int64, actorRole string, testID int64, next string) (*Test, error) {
			return nil, fmt.Errorf("%w: draft -> active", ErrBadTransition)
		},
	}
	h := NewHandler(svc)

	payload := bytes.NewBufferString(`{"status":"active"}`)
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/tests/3/status", payload), 1, "admin")
	req = withChiParams(req, map[string]string{"testID": "3"})
	rec := httptest.NewRecorder()

	h.setStatus(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestUpdateQuestionForbiddenForNonOwner(t *testing.T) {
	svc := &mockTestService{
		updateQuestionFn: func(ctx context.Context, actorID int64, actorRole string, in QuestionInput) (*Question, error) {
			return nil, ErrForbidden
		},
	}
	h := NewHandler(svc)

	payload := bytes.NewBufferString(`{"question_text":"2+2?","correct_answer":"4"}`)
	req := asUser(httptest.NewRequest(http.MethodPut, "/api/tests/3/questions/9", payload), 2, "teacher")
	req = withChiParams(req, map[string]string{"testID": "3", "questionID": "9"})
	rec := httptest.NewRecorder()

	h.updateQuestion(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestListTestsPassesViewerAndStatusFilter(t *testing.T) {
	var gotRole, gotStatus string
	svc := &mockTestService{
		listTestsFn: func(ctx context.Context, viewerID int64, viewerRole, status string) ([]Test, error) {
			gotRole, gotStatus = viewerRole, status
			return []Test{}, nil
		},
	}
	h := NewHandler(svc)

	req := asUser(httptest.NewRequest(http.MethodGet, "/api/tests?status=draft", nil), 4, "teacher")
	rec := httptest.NewRecorder()

	h.listTests(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if gotRole != "teacher" || gotStatus != "draft" {
		t.Fatalf("got role=%q status=%q", gotRole, gotStatus)
	}
}

package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"quizkit/internal/app/apiresp"
	"quizkit/internal/auth"
)

type testService interface {
	CreateTest(ctx context.Context, in CreateTestInput) (*Test, error)
	ListTests(ctx context.Context, viewerID int64, viewerRole, status string) ([]Test, error)
	GetTest(ctx context.Context, testID int64) (*TestDetail, error)
	UpdateTest(ctx context.Context, actorID int64, actorRole string, in UpdateTestInput) (*Test, error)
	SetStatus(ctx context.Context, actorID int64, actorRole string, testID int64, next string) (*Test, error)
	DeleteTest(ctx context.Context, actorID int64, actorRole string, testID int64) error
	AddQuestion(ctx context.Context, actorID int64, actorRole string, in QuestionInput) (*Question, error)
	UpdateQuestion(ctx context.Context, actorID int64, actorRole string, in QuestionInput) (*Question, error)
	DeleteQuestion(ctx context.Context, actorID int64, actorRole string, testID, questionID int64) error
}

type Handler struct {
	svc testService
}

func NewHandler(svc testService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.listTests)
	r.Post("/", h.createTest)
	r.Get("/{testID}", h.getTest)
	r.Put("/{testID}", h.updateTest)
	r.Post("/{testID}/status", h.setStatus)
	r.Delete("/{testID}", h.deleteTest)
	r.Post("/{testID}/questions", h.addQuestion)
	r.Put("/{testID}/questions/{questionID}", h.updateQuestion)
	r.Delete("/{testID}/questions/{questionID}", h.deleteQuestion)
	return r
}

type testRequest struct {
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	ScheduledAt     *time.Time `json:"scheduled_at"`
	DurationMinutes int        `json:"duration_minutes"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type questionRequest struct {
	QuestionText  string   `json:"question_text"`
	CorrectAnswer string   `json:"correct_answer"`
	Hints         []string `json:"hints"`
	MicroLearning string   `json:"micro_learning"`
}

func (h *Handler) createTest(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	if user.Role != "teacher" && user.Role != "admin" {
		apiresp.WriteError(w, r, http.StatusForbidden, "forbidden")
		return
	}

	var req testRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}

	t, err := h.svc.CreateTest(r.Context(), CreateTestInput{
		Title:           req.Title,
		Description:     req.Description,
		ScheduledAt:     req.ScheduledAt,
		DurationMinutes: req.DurationMinutes,
		CreatedBy:       user.ID,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, t)
}

func (h *Handler) listTests(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	tests, err := h.svc.ListTests(r.Context(), user.ID, user.Role, r.URL.Query().Get("status"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]interface{}{"tests": tests})
}

func (h *Handler) getTest(w http.ResponseWriter, r *http.Request) {
	testID, err := pathID(r, "testID")
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid test id")
		return
	}

	detail, err := h.svc.GetTest(r.Context(), testID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, detail)
}

func (h *Handler) updateTest(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	testID, err := pathID(r, "testID")
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid test id")
		return
	}

	var req testRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}

	t, err := h.svc.UpdateTest(r.Context(), user.ID, user.Role, UpdateTestInput{
		ID:              testID,
		Title:           req.Title,
		Description:     req.Description,
		ScheduledAt:     req.ScheduledAt,
		DurationMinutes: req.DurationMinutes,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, t)
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	testID, err := pathID(r, "testID")
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid test id")
		return
	}

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}

	t, err := h.svc.SetStatus(r.Context(), user.ID, user.Role, testID, req.Status)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, t)
}

func (h *Handler) deleteTest(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	testID, err := pathID(r, "testID")
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid test id")
		return
	}

	if err := h.svc.DeleteTest(r.Context(), user.ID, user.Role, testID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]interface{}{"deleted": true})
}

func (h *Handler) addQuestion(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	testID, err := pathID(r, "testID")
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid test id")
		return
	}

	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}

	q, err := h.svc.AddQuestion(r.Context(), user.ID, user.Role, QuestionInput{
		TestID:        testID,
		QuestionText:  req.QuestionText,
		CorrectAnswer: req.CorrectAnswer,
		Hints:         req.Hints,
		MicroLearning: req.MicroLearning,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, q)
}

func (h *Handler) updateQuestion(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	testID, err := pathID(r, "testID")
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid test id")
		return
	}
	questionID, err := pathID(r, "questionID")
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid question id")
		return
	}

	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}

	q, err := h.svc.UpdateQuestion(r.Context(), user.ID, user.Role, QuestionInput{
		TestID:        testID,
		QuestionID:    questionID,
		QuestionText:  req.QuestionText,
		CorrectAnswer: req.CorrectAnswer,
		Hints:         req.Hints,
		MicroLearning: req.MicroLearning,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, q)
}

func (h *Handler) deleteQuestion(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	testID, err := pathID(r, "testID")
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid test id")
		return
	}
	questionID, err := pathID(r, "questionID")
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid question id")
		return
	}

	if err := h.svc.DeleteQuestion(r.Context(), user.ID, user.Role, testID, questionID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]interface{}{"deleted": true})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var hasAttempts *HasAttemptsError
	switch {
	case errors.As(err, &hasAttempts):
		apiresp.WriteErrorDetails(w, r, http.StatusConflict, "test has recorded attempts and cannot be deleted", map[string]any{
			"attempt_count": hasAttempts.AttemptCount,
		})
	case errors.Is(err, ErrInvalidInput):
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid input")
	case errors.Is(err, ErrTestNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, "test not found")
	case errors.Is(err, ErrQuestionNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, "question not found")
	case errors.Is(err, ErrForbidden):
		apiresp.WriteError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, ErrTestNotDraft):
		apiresp.WriteError(w, r, http.StatusConflict, "test is no longer editable")
	case errors.Is(err, ErrBadTransition):
		apiresp.WriteError(w, r, http.StatusConflict, err.Error())
	default:
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

package attempt

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"quizkit/internal/app/apiresp"
	"quizkit/internal/auth"
	"quizkit/internal/quiz"
)

type attemptService interface {
	Start(ctx context.Context, studentID, testID int64) (*Attempt, error)
	Get(ctx context.Context, viewerID int64, viewerRole string, attemptID int64) (*AttemptDetail, error)
	SubmitAnswer(ctx context.Context, studentID, attemptID, questionID int64, answerText string) (*Answer, error)
	RevealHint(ctx context.Context, studentID, attemptID, questionID int64) (string, error)
	MarkMaterialViewed(ctx context.Context, studentID, attemptID, questionID int64) error
	Complete(ctx context.Context, studentID, attemptID int64) (*Attempt, error)
	Abandon(ctx context.Context, studentID, attemptID int64) (*Attempt, error)
	ListForStudent(ctx context.Context, studentID int64) ([]Attempt, error)
}

type Handler struct {
	svc attemptService
}

func NewHandler(svc attemptService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.listMine)
	r.Post("/", h.start)
	r.Get("/{attemptID}", h.get)
	r.Post("/{attemptID}/answers", h.submitAnswer)
	r.Post("/{attemptID}/hints", h.revealHint)
	r.Post("/{attemptID}/material-viewed", h.markMaterialViewed)
	r.Post("/{attemptID}/complete", h.complete)
	r.Post("/{attemptID}/abandon", h.abandon)
	return r
}

type startRequest struct {
	TestID int64 `json:"test_id"`
}

type answerRequest struct {
	QuestionID int64  `json:"question_id"`
	AnswerText string `json:"answer_text"`
}

type questionRef struct {
	QuestionID int64 `json:"question_id"`
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}

	a, err := h.svc.Start(r.Context(), user.ID, req.TestID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, a)
}

func (h *Handler) listMine(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	attempts, err := h.svc.ListForStudent(r.Context(), user.ID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]interface{}{"attempts": attempts})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	attemptID, err := pathID(r, "attemptID")
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid attempt id")
		return
	}

	detail, err := h.svc.Get(r.Context(), user.ID, user.Role, attemptID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, detail)
}

func (h *Handler) submitAnswer(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	attemptID, err := pathID(r, "attemptID")
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid attempt id")
		return
	}

	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ans, err := h.svc.SubmitAnswer(r.Context(), user.ID, attemptID, req.QuestionID, req.AnswerText)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, ans)
}

func (h *Handler) revealHint(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	attemptID, err := pathID(r, "attemptID")
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid attempt id")
		return
	}

	var req questionRef
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}

	hint, err := h.svc.RevealHint(r.Context(), user.ID, attemptID, req.QuestionID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]interface{}{"hint": hint})
}

func (h *Handler) markMaterialViewed(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	attemptID, err := pathID(r, "attemptID")
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid attempt id")
		return
	}

	var req questionRef
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.svc.MarkMaterialViewed(r.Context(), user.ID, attemptID, req.QuestionID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]interface{}{"material_viewed": true})
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	attemptID, err := pathID(r, "attemptID")
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid attempt id")
		return
	}

	a, err := h.svc.Complete(r.Context(), user.ID, attemptID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, a)
}

func (h *Handler) abandon(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	attemptID, err := pathID(r, "attemptID")
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid attempt id")
		return
	}

	a, err := h.svc.Abandon(r.Context(), user.ID, attemptID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, a)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid input")
	case errors.Is(err, ErrAttemptNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, "attempt not found")
	case errors.Is(err, quiz.ErrTestNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, "test not found")
	case errors.Is(err, quiz.ErrQuestionNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, "question not found")
	case errors.Is(err, ErrForbidden):
		apiresp.WriteError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, ErrAttemptFinished):
		apiresp.WriteError(w, r, http.StatusConflict, "attempt is already finished")
	case errors.Is(err, ErrTestNotActive):
		apiresp.WriteError(w, r, http.StatusConflict, "test is not accepting attempts")
	case errors.Is(err, ErrNoMoreHints):
		apiresp.WriteError(w, r, http.StatusConflict, "all hints already revealed")
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

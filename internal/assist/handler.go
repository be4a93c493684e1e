package assist

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"quizkit/internal/app/apiresp"
)

type assistService interface {
	GenerateHint(ctx context.Context, in HintInput) (Hint, error)
	GenerateExplanation(ctx context.Context, in ExplanationInput) (Explanation, error)
	AnalyzeDocument(ctx context.Context, in DocumentAnalysisInput) (*DocumentAnalysis, error)
	ExtractQuestions(ctx context.Context, in ExtractQuestionsInput) ([]ExtractedQuestion, error)
}

type Handler struct {
	svc assistService
}

func NewHandler(svc assistService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/hint", h.hint)
	r.Post("/explanation", h.explanation)
	r.Post("/analyze-document", h.analyzeDocument)
	r.Post("/extract-questions", h.extractQuestions)
	return r
}

type hintRequest struct {
	QuestionText  string `json:"question_text"`
	CorrectAnswer string `json:"correct_answer"`
	StudentAnswer string `json:"student_answer"`
}

type explanationRequest struct {
	QuestionText    string `json:"question_text"`
	CorrectAnswer   string `json:"correct_answer"`
	StudentQuestion string `json:"student_question"`
}

type analyzeRequest struct {
	Text          string `json:"text"`
	Clarification string `json:"clarification"`
}

type extractRequest struct {
	Text   string        `json:"text"`
	Count  int           `json:"count"`
	Locked []LockedField `json:"locked"`
}

func (h *Handler) hint(w http.ResponseWriter, r *http.Request) {
	var req hintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}

	hint, err := h.svc.GenerateHint(r.Context(), HintInput{
		QuestionText:  req.QuestionText,
		CorrectAnswer: req.CorrectAnswer,
		StudentAnswer: req.StudentAnswer,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, hint)
}

func (h *Handler) explanation(w http.ResponseWriter, r *http.Request) {
	var req explanationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}

	exp, err := h.svc.GenerateExplanation(r.Context(), ExplanationInput{
		QuestionText:    req.QuestionText,
		CorrectAnswer:   req.CorrectAnswer,
		StudentQuestion: req.StudentQuestion,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, exp)
}

func (h *Handler) analyzeDocument(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}

	analysis, err := h.svc.AnalyzeDocument(r.Context(), DocumentAnalysisInput{
		Text:          req.Text,
		Clarification: req.Clarification,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, analysis)
}

func (h *Handler) extractQuestions(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}

	questions, err := h.svc.ExtractQuestions(r.Context(), ExtractQuestionsInput{
		Text:   req.Text,
		Count:  req.Count,
		Locked: req.Locked,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]interface{}{"questions": questions})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid input")
	case errors.Is(err, ErrDelegateUnavailable):
		apiresp.WriteError(w, r, http.StatusBadGateway, "assistant is unavailable, try again shortly")
	default:
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
	}
}

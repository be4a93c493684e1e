package report

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"quizkit/internal/analytics"
	"quizkit/internal/app/apiresp"
)

type reportService interface {
	ExportCohortExcel(ctx context.Context, f analytics.Filters) ([]byte, error)
	ExportTestAttemptsExcel(ctx context.Context, testID int64) ([]byte, error)
}

type Handler struct {
	svc reportService
}

func NewHandler(svc reportService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/cohort.xlsx", h.cohort)
	r.Get("/tests/{testID}.xlsx", h.testAttempts)
	return r
}

func (h *Handler) cohort(w http.ResponseWriter, r *http.Request) {
	var f analytics.Filters
	if v := r.URL.Query().Get("test_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			apiresp.WriteError(w, r, http.StatusBadRequest, "invalid test_id filter")
			return
		}
		f.TestID = id
	}

	data, err := h.svc.ExportCohortExcel(r.Context(), f)
	if err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeWorkbook(w, fmt.Sprintf("cohort-%s.xlsx", time.Now().Format("2006-01-02")), data)
}

func (h *Handler) testAttempts(w http.ResponseWriter, r *http.Request) {
	testID, err := strconv.ParseInt(chi.URLParam(r, "testID"), 10, 64)
	if err != nil || testID <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid test id")
		return
	}

	data, err := h.svc.ExportTestAttemptsExcel(r.Context(), testID)
	if err != nil {
		if errors.Is(err, ErrTestNotFound) {
			apiresp.WriteError(w, r, http.StatusNotFound, "test not found")
			return
		}
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeWorkbook(w, fmt.Sprintf("test-%d-attempts.xlsx", testID), data)
}

func writeWorkbook(w http.ResponseWriter, filename string, data []byte) {
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

package analytics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"quizkit/internal/app/apiresp"
)

type analyticsService interface {
	Overview(ctx context.Context, f Filters) (*Overview, error)
	ListTestStats(ctx context.Context, f Filters) ([]TestStats, error)
	TestStats(ctx context.Context, testID int64, f Filters) (*TestStats, error)
	PerformanceMatrix(ctx context.Context, f Filters, page Page) ([]StudentRow, error)
	StudentOverview(ctx context.Context, studentID int64, f Filters) (*StudentMetrics, error)
}

type Handler struct {
	svc analyticsService
}

func NewHandler(svc analyticsService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/overview", h.overview)
	r.Get("/tests", h.listTestStats)
	r.Get("/tests/{testID}", h.testStats)
	r.Get("/students", h.performanceMatrix)
	r.Get("/students/{studentID}", h.studentOverview)
	return r
}

func (h *Handler) overview(w http.ResponseWriter, r *http.Request) {
	f, err := filtersFromQuery(r)
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	o, err := h.svc.Overview(r.Context(), f)
	if err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, o)
}

func (h *Handler) listTestStats(w http.ResponseWriter, r *http.Request) {
	f, err := filtersFromQuery(r)
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := h.svc.ListTestStats(r.Context(), f)
	if err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]interface{}{"tests": stats})
}

func (h *Handler) testStats(w http.ResponseWriter, r *http.Request) {
	testID, err := pathID(r, "testID")
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid test id")
		return
	}
	f, err := filtersFromQuery(r)
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	st, err := h.svc.TestStats(r.Context(), testID, f)
	if err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, st)
}

func (h *Handler) performanceMatrix(w http.ResponseWriter, r *http.Request) {
	f, err := filtersFromQuery(r)
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	page := pageFromQuery(r)

	rows, err := h.svc.PerformanceMatrix(r.Context(), f, page)
	if err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]interface{}{
		"students": rows,
		"limit":    page.normalized().Limit,
		"offset":   page.normalized().Offset,
	})
}

func (h *Handler) studentOverview(w http.ResponseWriter, r *http.Request) {
	studentID, err := pathID(r, "studentID")
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid student id")
		return
	}
	f, err := filtersFromQuery(r)
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	m, err := h.svc.StudentOverview(r.Context(), studentID, f)
	if err != nil {
		if errors.Is(err, ErrStudentNotFound) {
			apiresp.WriteError(w, r, http.StatusNotFound, "student not found")
			return
		}
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, m)
}

func filtersFromQuery(r *http.Request) (Filters, error) {
	var f Filters
	q := r.URL.Query()

	if v := q.Get("test_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return f, errors.New("invalid test_id filter")
		}
		f.TestID = id
	}
	if v := q.Get("status"); v != "" {
		switch v {
		case "in_progress", "completed", "abandoned":
			f.Status = v
		default:
			return f, errors.New("invalid status filter")
		}
	}
	if v := q.Get("min_score"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 100 {
			return f, errors.New("invalid min_score filter")
		}
		f.MinScore = n
	}
	f.Search = strings.TrimSpace(q.Get("search"))
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New("invalid from filter, want RFC 3339")
		}
		f.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New("invalid to filter, want RFC 3339")
		}
		f.To = t
	}
	return f, nil
}

func pageFromQuery(r *http.Request) Page {
	var p Page
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		p.Limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil {
		p.Offset = v
	}
	return p
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

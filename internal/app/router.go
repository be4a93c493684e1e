package app

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"quizkit/internal/analytics"
	"quizkit/internal/app/observability"
	"quizkit/internal/assist"
	"quizkit/internal/attempt"
	"quizkit/internal/auth"
	"quizkit/internal/grader"
	"quizkit/internal/quiz"
	"quizkit/internal/report"
)

func NewRouter(cfg Config, db *sql.DB) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	collector := observability.NewCollector(db)
	r.Use(collector.Middleware)

	limiter := NewIPRateLimiter(cfg.AuthRateLimitPerMin, time.Minute)
	r.Use(RateLimitMiddleware(limiter))
	r.Use(CSRFMiddleware(cfg.CSRFEnforced))

	authSvc := auth.NewService(db)
	authMW := auth.NewMiddleware(authSvc)

	assistSvc := assist.NewService(assist.ServiceConfig{
		APIKey: cfg.GeminiAPIKey,
		Model:  cfg.GeminiModel,
	})
	var delegate grader.Delegate
	if assistSvc.Configured() {
		delegate = assistSvc
	}
	answerGrader := grader.New(delegate)

	quizSvc := quiz.NewService(db, cfg.DefaultDurationMinutes)
	attemptSvc := attempt.NewService(db, answerGrader, nil)
	analyticsSvc := analytics.NewService(db)
	reportSvc := report.NewService(db, analyticsSvc)

	quizHandler := quiz.NewHandler(quizSvc)
	attemptHandler := attempt.NewHandler(attemptSvc)
	analyticsHandler := analytics.NewHandler(analyticsSvc)
	assistHandler := assist.NewHandler(assistSvc)
	reportHandler := report.NewHandler(reportSvc)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Get("/metrics", collector.MetricsHandler)

	r.Route("/api", func(api chi.Router) {
		api.Use(authMW.RequireAuth)

		api.Mount("/attempts", attemptHandler.Routes())
		api.Mount("/assist", assistHandler.Routes())

		api.Group(func(staff chi.Router) {
			staff.Use(authMW.RequireRoles("admin", "teacher"))
			staff.Mount("/analytics", analyticsHandler.Routes())
			staff.Mount("/reports", reportHandler.Routes())
		})

		// reads on /api/tests are open to every authenticated role; the
		// handlers scope mutations to the creator or an admin.
		api.Mount("/tests", quizHandler.Routes())
	})

	return r
}

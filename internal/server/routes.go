package server

import (
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/swaggest/swgui/v5emb"

	"github.com/lifeline-edge/triage/internal/handler/health"
)

func addRoutes(r chi.Router, logger *slog.Logger, d Deps, sessions *Sessions, broker *Broker) {
	r.Get("/openapi.json", handleOpenAPI())
	r.Mount("/docs", v5emb.New("Triage API", "/openapi.json", "/docs"))
	r.Mount("/healthz", health.NewHandler(logger, d.Checks).Routes())
	r.Get("/ws/answer", handleWSAnswer(logger, d.Answerer))

	if d.Origin != nil {
		r.Mount("/origin", d.Origin)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/hazards", handleHazards(d.Content, d.Catalog))
		r.Get("/hazards-meta", handleHazardsMeta(d.Content, d.Catalog))
		r.Get("/hazard-content/{slug}", handleHazardContent(d.Content, d.Catalog))
		r.Get("/warnings", handleWarnings(logger, d.Warnings))

		r.Post("/classify", handleClassify(logger, d.Catalog, d.Classifier))
		r.Post("/risk", handleRisk(d.Catalog))
		r.Post("/plan", handlePlan(d.Planner))
		r.Post("/answer-stream", handleAnswerStream(logger, d.Answerer))

		r.Post("/sessions", handleCreateSession(sessions))
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Use(sessionMiddleware(sessions))
			r.Get("/", handleGetSession())
			r.Delete("/", handleDeleteSession(sessions))
			r.Get("/interview", handleInterview(d.Catalog))
			r.Post("/interview/answer", handleInterviewAnswer(logger, sessions, d.Classifier, broker))
			r.Post("/interview/restart", handleInterviewRestart(d.Catalog, broker))
			r.Get("/tree", handleTree())
			r.Post("/tree", handleOpenTree(d.Content, sessions, broker))
			r.Post("/tree/select", handleTreeSelect(sessions, broker))
			r.Post("/tree/back", handleTreeBack(sessions, broker))
			r.Put("/context", handleContext(sessions, broker))
			r.Post("/sensor", handleSensor())
			r.Post("/plan", handleSessionPlan(d.Planner, d.SensorWindow, broker))
			r.Get("/events", handleEvents(broker))
		})

		r.Route("/prefs/{device}", func(r chi.Router) {
			r.Get("/", handleGetPrefs(d.Prefs))
			r.Put("/", handlePutPrefs(d.Prefs))
			r.Delete("/", handleResetPrefs(d.Prefs))
			r.Post("/favorites/{slug}", handleToggleFavorite(d.Prefs, d.Catalog))
		})

		r.Get("/cache", handleCacheStatus(d.Offline))
		r.Post("/cache/sync", handleCacheSync(logger, d.Offline))
	})

	if d.SPADir != "" {
		if info, err := os.Stat(d.SPADir); err == nil && info.IsDir() {
			logger.Info("serving SPA", "dir", d.SPADir)
			r.NotFound(handleSPA(d.SPADir))
		}
	}
}

// Abyss - Self-Hosted Media Proxy and Access Control Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abyss

// Package restapi is the thin HTTP adapter over the challenge-response
// session service and the resource authorization engine: it exposes the
// external REST surface and translates the internal/apierr taxonomy into
// HTTP status codes. All actual decision logic lives in internal/session
// and internal/resauth; handlers here do argument extraction, token
// retrieval, and response rendering only.
package restapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/tomtom215/abyss/internal/identity"
	"github.com/tomtom215/abyss/internal/metrics"
	"github.com/tomtom215/abyss/internal/middleware"
	"github.com/tomtom215/abyss/internal/resauth"
	"github.com/tomtom215/abyss/internal/session"
)

// Server bundles the core services the adapter dispatches into.
type Server struct {
	sessions *session.Service
	engine   *resauth.Engine
	users    *identity.Store
}

// New builds a Server. None of its fields are optional.
func New(sessions *session.Service, engine *resauth.Engine, users *identity.Store) *Server {
	return &Server{sessions: sessions, engine: engine, users: users}
}

func chiAdapt(mw func(http.HandlerFunc) http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return mw(next.ServeHTTP)
	}
}

// Router builds the full chi.Router: a global middleware stack (request
// ID, panic recovery, CORS, metrics) followed by route groups per
// resource.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chiAdapt(middleware.RequestID))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
	}))
	r.Use(chiAdapt(middleware.PrometheusMetrics))

	r.Route("/api/User", func(r chi.Router) {
		r.Get("/{user}", s.handleChallenge)
		r.Post("/{user}", s.handleVerify)
		r.Patch("/{user}", s.handlePatchUser)
		r.Get("/{user}/open", s.handleOpen)
		r.Post("/validate", s.handleValidate)
		r.Post("/destroy", s.handleDestroy)
	})

	r.Route("/api/Root", func(r chi.Router) {
		r.Post("/init", s.handleRootInit)
		r.Post("/chmod", s.handleRootChmod)
		r.Post("/chown", s.handleRootChown)
		r.Get("/ls", s.handleRootLs)
	})

	r.Route("/api/Video", func(r chi.Router) {
		r.Get("/", s.handleVideoClasses)
		r.Get("/{klass}", s.handleVideoList)
		r.Get("/{klass}/{id}", s.handleVideoSummary)
		r.Get("/{klass}/{id}/cover", s.handleVideoCover)
		r.Get("/{klass}/{id}/gallery/{pic}", s.handleVideoGalleryPic)
		r.Get("/{klass}/{id}/av", s.handleVideoAV)
		r.Get("/{klass}/{id}/subtitle", s.handleVideoSubtitle)
		r.Post("/{klass}/bulkquery", s.handleVideoBulkQuery)
	})

	r.Route("/api/Image", func(r chi.Router) {
		r.Get("/", s.handleImageList)
		r.Get("/{id}", s.handleImageSummary)
		r.Get("/{id}/{file}", s.handleImagePage)
		r.Post("/bulkquery", s.handleImageBulkQuery)
		r.Post("/{id}/bookmark", s.handleImageBookmark)
	})

	r.Route("/api/Live", func(r chi.Router) {
		r.Get("/{id}/{token}/{item}", s.handleLiveItem)
		r.Post("/{id}", s.handleLiveCreate)
		r.Delete("/{id}", s.handleLiveDestroy)
	})

	r.Handle("/metrics", metrics.Handler())
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
		httpSwagger.DeepLinking(true),
	))

	return r
}

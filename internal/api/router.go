// StarSync - GitHub Stars Mirroring and Sync Engine
// Copyright 2026 awillheartwu
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/awillheartwu/starsync

// Package api exposes the admin HTTP surface: manual run triggers, sync
// status, queue counts, maintenance, health, and metrics.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router assembles the HTTP handler tree.
type Router struct {
	handler *Handler
}

// NewRouter creates a router around the given handler.
func NewRouter(h *Handler) *Router {
	return &Router{handler: h}
}

// Setup configures all routes.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", router.handler.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/sync/run", router.handler.TriggerSync)
		r.Get("/sync/status", router.handler.SyncStatus)
		r.Get("/sync/history", router.handler.SyncHistory)
		r.Get("/queue/counts", router.handler.QueueCounts)
		r.Post("/maintenance/run", router.handler.TriggerMaintenance)
		r.Get("/archive", router.handler.ArchivedProjects)
	})

	return r
}

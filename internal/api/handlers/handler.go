// handler.go — APIHandler и регистрация маршрутов HTTP API studydocs.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/arturkryukov/studydocs/internal/api/middleware"
	"github.com/arturkryukov/studydocs/internal/config"
	"github.com/arturkryukov/studydocs/internal/domain/dbstate"
	"github.com/arturkryukov/studydocs/internal/service"
)

// APIHandler — обработчики HTTP API.
type APIHandler struct {
	cfg     *config.Config
	docs    *service.DocumentService
	monitor *service.MonitorService
	state   *dbstate.State
	logger  *slog.Logger
}

// NewAPIHandler создаёт обработчики API.
func NewAPIHandler(
	cfg *config.Config,
	docs *service.DocumentService,
	monitor *service.MonitorService,
	state *dbstate.State,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		cfg:     cfg,
		docs:    docs,
		monitor: monitor,
		state:   state,
		logger:  logger.With(slog.String("component", "api")),
	}
}

// RegisterRoutes регистрирует маршруты API на chi-роутере.
// Административные endpoints защищаются JWT, если он сконфигурирован;
// при jwtAuth == nil admin работает без аутентификации (dev-режим).
func (h *APIHandler) RegisterRoutes(r chi.Router, jwtAuth *middleware.JWTAuth) {
	// Публичное API
	r.Get("/api/documents", h.ListDocuments)
	r.Get("/api/stats/counts", h.Counts)
	r.Get("/api/pdf/{id}", h.DownloadPDF)
	r.Get("/api/health", h.APIHealth)
	r.Get("/api/database/status", h.DatabaseStatus)
	r.Post("/api/database/reconnect", h.DatabaseReconnect)

	// Административное API
	r.Route("/api/admin", func(admin chi.Router) {
		if jwtAuth != nil {
			admin.Use(jwtAuth.Middleware())
		}
		admin.Post("/documents", h.UploadDocument)
		admin.Delete("/documents/{id}", h.DeleteDocument)
	})
}

// writeJSON сериализует ответ в JSON с указанным статус-кодом.
func (h *APIHandler) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Ошибка сериализации ответа",
			slog.String("error", err.Error()),
		)
	}
}

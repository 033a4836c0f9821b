// Package handler exposes the resolve endpoint consumed by the
// document-validation executor.
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"rulegate/internal/resolver/models"
	"rulegate/internal/resolver/service"
	"rulegate/pkg/platform/httputil"
	"rulegate/pkg/requestcontext"
)

type Handler struct {
	svc    *service.Service
	logger *slog.Logger
}

func New(svc *service.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the resolve endpoint.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/resolve", h.resolve)
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[models.ResolveRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	res, err := h.svc.Resolve(ctx, req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

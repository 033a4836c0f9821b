// Package handler exposes the overlay admin API.
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"rulegate/internal/overlay/models"
	"rulegate/internal/overlay/service"
	"rulegate/pkg/domain"
	dErrors "rulegate/pkg/domain-errors"
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

// Routes mounts the overlay admin endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/tenants/{tenant}/overlays", h.createDraft)
	r.Get("/tenants/{tenant}/overlays", h.list)
	r.Get("/tenants/{tenant}/overlays/active", h.getActive)
	r.Post("/overlays/{id}/publish", h.publish)
	r.Get("/overlays/{id}", h.get)
}

type createDraftRequest struct {
	Config models.Config `json:"config"`
}

func (h *Handler) createDraft(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant := domain.TenantID(chi.URLParam(r, "tenant"))

	req, ok := httputil.DecodeAndPrepare[createDraftRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	o, err := h.svc.CreateDraft(ctx, tenant, req.Config)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, o)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	tenant := domain.TenantID(chi.URLParam(r, "tenant"))

	overlays, err := h.svc.List(r.Context(), tenant)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if overlays == nil {
		overlays = []*models.Overlay{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"overlays": overlays})
}

func (h *Handler) getActive(w http.ResponseWriter, r *http.Request) {
	tenant := domain.TenantID(chi.URLParam(r, "tenant"))

	o, err := h.svc.GetActive(r.Context(), tenant)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, o)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseOverlayID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid overlay id"))
		return
	}

	o, err := h.svc.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, o)
}

func (h *Handler) publish(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseOverlayID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid overlay id"))
		return
	}

	o, err := h.svc.Publish(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, o)
}

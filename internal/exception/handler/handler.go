// Package handler exposes the exception admin API.
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"rulegate/internal/exception/models"
	"rulegate/internal/exception/service"
	"rulegate/internal/exception/store"
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

// Routes mounts the exception admin endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/tenants/{tenant}/exceptions", h.create)
	r.Get("/tenants/{tenant}/exceptions", h.listActive)
	r.Delete("/exceptions/{id}", h.delete)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant := domain.TenantID(chi.URLParam(r, "tenant"))

	req, ok := httputil.DecodeAndPrepare[service.CreateRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	e, err := h.svc.Create(ctx, tenant, req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, e)
}

func (h *Handler) listActive(w http.ResponseWriter, r *http.Request) {
	tenant := domain.TenantID(chi.URLParam(r, "tenant"))
	q := r.URL.Query()

	query := store.Query{RuleCode: q.Get("rule_code")}
	if q.Has("client") || q.Has("branch") || q.Has("product") {
		scope := domain.Scope{
			Client:  q.Get("client"),
			Branch:  q.Get("branch"),
			Product: q.Get("product"),
		}.Normalize()
		query.Scope = &scope
	}

	exceptions, err := h.svc.ListActive(r.Context(), tenant, query)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if exceptions == nil {
		exceptions = []*models.Exception{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"exceptions": exceptions})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseExceptionID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid exception id"))
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

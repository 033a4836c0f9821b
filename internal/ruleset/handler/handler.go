// Package handler exposes the ruleset admin API.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"rulegate/internal/ruleset/models"
	"rulegate/internal/ruleset/service"
	"rulegate/internal/ruleset/store"
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

// Routes mounts the ruleset admin endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/rulesets", h.upload)
	r.Get("/rulesets", h.list)
	r.Get("/rulesets/active", h.getActive)
	r.Get("/rulesets/{id}", h.get)
	r.Get("/rulesets/{id}/content", h.getContent)
	r.Post("/rulesets/{id}/publish", h.publish)
	r.Post("/rulesets/{id}/rollback", h.rollback)
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[service.UploadRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	res, err := h.svc.Upload(ctx, req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, res)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseRulesetID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid ruleset id"))
		return
	}

	rs, err := h.svc.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rs)
}

func (h *Handler) getContent(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseRulesetID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid ruleset id"))
		return
	}

	raw, err := h.svc.GetContent(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (h *Handler) getActive(w http.ResponseWriter, r *http.Request) {
	scope := models.ScopeKey{
		Domain:       r.URL.Query().Get("domain"),
		Jurisdiction: r.URL.Query().Get("jurisdiction"),
	}
	if scope.Domain == "" || scope.Jurisdiction == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "domain and jurisdiction query parameters are required"))
		return
	}

	rs, err := h.svc.GetActive(r.Context(), scope)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rs)
}

// listResponse wraps a page of rulesets with the total match count.
type listResponse struct {
	Rulesets []*models.Ruleset `json:"rulesets"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	status, err := models.ParseStatus(q.Get("status"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, err.Error()))
		return
	}
	filter := store.Filter{
		Domain:       q.Get("domain"),
		Jurisdiction: q.Get("jurisdiction"),
		Status:       status,
	}
	page := store.Page{
		Number: atoiOrZero(q.Get("page")),
		Size:   atoiOrZero(q.Get("page_size")),
	}.Normalize()

	rulesets, total, err := h.svc.List(r.Context(), filter, page)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if rulesets == nil {
		rulesets = []*models.Ruleset{}
	}
	httputil.WriteJSON(w, http.StatusOK, listResponse{
		Rulesets: rulesets,
		Total:    total,
		Page:     page.Number,
		PageSize: page.Size,
	})
}

func (h *Handler) publish(w http.ResponseWriter, r *http.Request) {
	h.activate(w, r, h.svc.Publish)
}

func (h *Handler) rollback(w http.ResponseWriter, r *http.Request) {
	h.activate(w, r, h.svc.Rollback)
}

func (h *Handler) activate(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id domain.RulesetID) (*models.Ruleset, error)) {
	id, err := domain.ParseRulesetID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid ruleset id"))
		return
	}

	rs, err := op(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rs)
}

func atoiOrZero(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// Package handler exposes the read-only audit trail API.
package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"rulegate/internal/audit"
	dErrors "rulegate/pkg/domain-errors"
	"rulegate/pkg/platform/httputil"
)

type Handler struct {
	trail  *audit.Publisher
	logger *slog.Logger
}

func New(trail *audit.Publisher, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{trail: trail, logger: logger}
}

// Routes mounts the audit trail endpoint.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/audit", h.list)
}

type listResponse struct {
	Entries []audit.Entry `json:"entries"`
	Total   int           `json:"total"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	from, err := parseTime(q.Get("from"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "from must be RFC 3339"))
		return
	}
	to, err := parseTime(q.Get("to"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "to must be RFC 3339"))
		return
	}

	filter := audit.Filter{
		SubjectType: audit.SubjectType(q.Get("subject_type")),
		SubjectID:   q.Get("subject_id"),
		Action:      audit.Action(q.Get("action")),
		From:        from,
		To:          to,
	}

	entries, err := h.trail.List(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	httputil.WriteJSON(w, http.StatusOK, listResponse{Entries: entries, Total: len(entries)})
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

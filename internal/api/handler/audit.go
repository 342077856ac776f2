package handler

import (
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/handhunter/internal/api/response"
	"github.com/kiranshivaraju/handhunter/internal/audit"
	"github.com/kiranshivaraju/handhunter/internal/cache"
)

// NewLatestAuditHandler returns an http.HandlerFunc for
// GET /api/v1/audit/latest.
func NewLatestAuditHandler(c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, ok, err := audit.Latest(r.Context(), c)
		if err != nil {
			slog.Error("reading audit report", "error", err)
			response.Internal(w)
			return
		}
		if !ok {
			response.Error(w, response.CodeNoAuditYet,
				"No consistency audit has completed yet", nil)
			return
		}
		response.JSON(w, report)
	}
}

package handlers

import (
	"net/http"
	"strings"

	"expense-dashboard/internal/apperr"
	"expense-dashboard/internal/summary"
)

// Summary returns the dashboard for the session user under the filters given
// in the query string: category, chart_mode, filter_mode, filter_date and
// filter_month.
func (h *Handlers) Summary(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r)

	q := r.URL.Query()
	params := summary.Params{
		Category:    strings.TrimSpace(q.Get("category")),
		ChartMode:   summary.Mode(q.Get("chart_mode")),
		FilterMode:  summary.Mode(q.Get("filter_mode")),
		FilterDate:  strings.TrimSpace(q.Get("filter_date")),
		FilterMonth: strings.TrimSpace(q.Get("filter_month")),
	}
	if err := validateStruct(&params); err != nil {
		h.writeError(w, r, err)
		return
	}

	expenses, err := h.store.ListExpenses(r.Context(), user.ID)
	if err != nil {
		h.writeError(w, r, apperr.Internal("Failed to fetch expenses", err))
		return
	}

	writeJSON(w, http.StatusOK, summary.Build(expenses, params))
}

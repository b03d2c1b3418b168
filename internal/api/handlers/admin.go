package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nikhilbhutani/promptvault/internal/audit"
	"github.com/nikhilbhutani/promptvault/internal/auth"
)

type AdminHandler struct {
	auditSvc *audit.Service
}

func NewAdminHandler(auditSvc *audit.Service) *AdminHandler {
	return &AdminHandler{auditSvc: auditSvc}
}

func (h *AdminHandler) Usage(w http.ResponseWriter, r *http.Request) {
	startDate, endDate, ok := dateRange(w, r)
	if !ok {
		return
	}

	summary, err := h.auditSvc.GetUsageSummary(r.Context(), auth.UserID(r.Context()), startDate, endDate)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"usage": summary})
}

func (h *AdminHandler) AuditLogs(w http.ResponseWriter, r *http.Request) {
	startDate, endDate, ok := dateRange(w, r)
	if !ok {
		return
	}

	q := audit.Query{
		Action:    r.URL.Query().Get("action"),
		StartDate: startDate,
		EndDate:   endDate,
	}
	q.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	q.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))

	logs, err := h.auditSvc.GetAuditLogs(r.Context(), auth.UserID(r.Context()), q)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"audit_logs": logs, "count": len(logs)})
}

func dateRange(w http.ResponseWriter, r *http.Request) (start, end *time.Time, ok bool) {
	parse := func(key string) (*time.Time, bool) {
		s := r.URL.Query().Get(key)
		if s == "" {
			return nil, true
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": key + " must be RFC3339"})
			return nil, false
		}
		return &t, true
	}

	if start, ok = parse("start_date"); !ok {
		return nil, nil, false
	}
	if end, ok = parse("end_date"); !ok {
		return nil, nil, false
	}
	return start, end, true
}

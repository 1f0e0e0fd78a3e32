package httpserver

import (
	"net/http"
	"strconv"

	"github.com/OliveiraNt/queuepilot/internal/application"
	"github.com/OliveiraNt/queuepilot/internal/domain"

	"github.com/go-chi/chi/v5"
)

type dlqPage struct {
	Queue    string                   `json:"queue"`
	Total    int64                    `json:"total"`
	Start    int64                    `json:"start"`
	End      int64                    `json:"end"`
	Messages []domain.DeadLetterEntry `json:"messages"`
}

func queryInt(r *http.Request, name string, def int64) (int64, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.ParseInt(v, 10, 64)
	return n, err == nil
}

func (s *Server) apiDLQMessages(w http.ResponseWriter, r *http.Request) {
	queue := s.scoped(r, chi.URLParam(r, "queue"))
	start, ok1 := queryInt(r, "start", 0)
	end, ok2 := queryInt(r, "end", -1)
	if !ok1 || !ok2 {
		writeError(w, http.StatusBadRequest, "start and end must be integers")
		return
	}
	total, err := s.svc.DLQ.Count(r.Context(), queue)
	if err != nil {
		fail(w, r, "dlq count", err)
		return
	}
	msgs, err := s.svc.DLQ.Messages(r.Context(), queue, start, end)
	if err != nil {
		fail(w, r, "dlq messages", err)
		return
	}
	writeJSON(w, http.StatusOK, dlqPage{Queue: queue, Total: total, Start: start, End: end, Messages: msgs})
}

func (s *Server) apiDLQClear(w http.ResponseWriter, r *http.Request) {
	if !s.svc.DLQ.Clear(r.Context(), s.scoped(r, chi.URLParam(r, "queue"))) {
		writeError(w, http.StatusInternalServerError, "dead-letter queue could not be cleared")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) apiDLQAnalysis(w http.ResponseWriter, r *http.Request) {
	a, err := s.svc.DLQ.AnalyzeErrors(r.Context(), s.scoped(r, chi.URLParam(r, "queue")))
	if err != nil {
		fail(w, r, "dlq analysis", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) apiDLQRetry(w http.ResponseWriter, r *http.Request) {
	queue := s.scoped(r, chi.URLParam(r, "queue"))
	index, err := strconv.ParseInt(chi.URLParam(r, "index"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "index must be an integer")
		return
	}
	n, err := s.svc.DLQ.Count(r.Context(), queue)
	if err != nil {
		fail(w, r, "dlq retry", err)
		return
	}
	if index >= n || index < -n {
		fail(w, r, "dlq retry", application.ErrEntryNotFound)
		return
	}
	if !s.svc.DLQ.Retry(r.Context(), queue, index, application.Republish(s.svc.Publisher)) {
		writeError(w, http.StatusBadGateway, "retry failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}


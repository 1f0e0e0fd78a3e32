package httpserver

import (
	"net/http"

	"github.com/prometheus/common/expfmt"
)

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	out, err := s.svc.Metrics.Export()
	if err != nil {
		fail(w, r, "metrics", err)
		return
	}
	w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	_, _ = w.Write([]byte(out))
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.Health.HealthStatus(r.Context())
	if err != nil {
		fail(w, r, "health", err)
		return
	}
	status := http.StatusOK
	if report.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

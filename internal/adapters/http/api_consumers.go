package httpserver

import (
	"net/http"
	"time"

	"github.com/OliveiraNt/queuepilot/internal/domain"

	"github.com/go-chi/chi/v5"
)

type heartbeatRequest struct {
	Topic      string                `json:"topic"`
	Host       string                `json:"host"`
	PID        int                   `json:"pid"`
	Status     domain.ConsumerStatus `json:"status"`
	TTLSeconds int                   `json:"ttl_seconds"`
}

type statusRequest struct {
	Status domain.ConsumerStatus `json:"status"`
}

func (s *Server) apiHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if r.ContentLength != 0 && !decode(w, r, "heartbeat", &req) {
		return
	}
	hb := domain.Heartbeat{
		ConsumerID: chi.URLParam(r, "consumerID"),
		Topic:      req.Topic,
		Host:       req.Host,
		PID:        req.PID,
		Status:     req.Status,
	}
	if hb.Topic != "" {
		hb.Topic = s.scoped(r, hb.Topic)
	}
	if err := s.svc.Health.UpdateHeartbeat(r.Context(), hb, time.Duration(req.TTLSeconds)*time.Second); err != nil {
		fail(w, r, "heartbeat", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) apiConsumerStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !decode(w, r, "consumer status", &req) {
		return
	}
	if err := s.svc.Health.SetConsumerStatus(r.Context(), chi.URLParam(r, "consumerID"), req.Status); err != nil {
		fail(w, r, "consumer status", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) apiClearConsumer(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Health.ClearConsumerHeartbeat(r.Context(), chi.URLParam(r, "consumerID")); err != nil {
		fail(w, r, "clear consumer", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

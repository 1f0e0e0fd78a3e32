package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/OliveiraNt/queuepilot/internal/application"
	"github.com/OliveiraNt/queuepilot/internal/utils"

	"github.com/go-chi/chi/v5"
)

type partitionsBody struct {
	Topic      string `json:"topic"`
	Partitions int    `json:"partitions"`
}

type loadReport struct {
	Count         int64 `json:"count"`
	WindowSeconds int   `json:"window_seconds"`
}

type assignmentBody struct {
	Topic      string           `json:"topic"`
	Partitions int              `json:"partitions"`
	Assignment map[string][]int `json:"assignment"`
}

func (s *Server) apiAssignment(w http.ResponseWriter, r *http.Request) {
	topic := s.scoped(r, chi.URLParam(r, "topic"))
	assignment, err := s.svc.Partitions.Assignment(r.Context(), topic)
	if err != nil {
		fail(w, r, "assignment", err)
		return
	}
	writeJSON(w, http.StatusOK, assignmentBody{
		Topic:      topic,
		Partitions: s.svc.Partitions.PartitionCount(r.Context(), topic),
		Assignment: assignment,
	})
}

func (s *Server) apiConsumerPartitions(w http.ResponseWriter, r *http.Request) {
	topic := s.scoped(r, chi.URLParam(r, "topic"))
	parts, err := s.svc.Partitions.ConsumerPartitions(r.Context(), topic, chi.URLParam(r, "consumerID"))
	if err != nil {
		fail(w, r, "consumer partitions", err)
		return
	}
	writeJSON(w, http.StatusOK, parts)
}

func (s *Server) apiRegisterConsumer(w http.ResponseWriter, r *http.Request) {
	topic := s.scoped(r, chi.URLParam(r, "topic"))
	if !s.svc.Partitions.RegisterConsumer(r.Context(), topic, chi.URLParam(r, "consumerID")) {
		writeError(w, http.StatusInternalServerError, "consumer registration failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) apiUnregisterConsumer(w http.ResponseWriter, r *http.Request) {
	topic := s.scoped(r, chi.URLParam(r, "topic"))
	if !s.svc.Partitions.UnregisterConsumer(r.Context(), topic, chi.URLParam(r, "consumerID")) {
		writeError(w, http.StatusInternalServerError, "consumer unregistration failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) apiGetPartitions(w http.ResponseWriter, r *http.Request) {
	topic := s.scoped(r, chi.URLParam(r, "topic"))
	writeJSON(w, http.StatusOK, partitionsBody{Topic: topic, Partitions: s.svc.Partitions.PartitionCount(r.Context(), topic)})
}

func (s *Server) apiSetPartitions(w http.ResponseWriter, r *http.Request) {
	topic := s.scoped(r, chi.URLParam(r, "topic"))
	var req partitionsBody
	if !decode(w, r, "set partitions", &req) {
		return
	}
	if req.Partitions < 1 {
		fail(w, r, "set partitions", application.ErrInvalidPartitionCount)
		return
	}
	if !s.svc.Partitions.SetPartitionCount(r.Context(), topic, req.Partitions) {
		writeError(w, http.StatusBadGateway, "partition count could not be applied")
		return
	}
	writeJSON(w, http.StatusOK, partitionsBody{Topic: topic, Partitions: req.Partitions})
}

func (s *Server) apiGetLoad(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Load.GetTopicLoad(r.Context(), s.scoped(r, chi.URLParam(r, "topic"))))
}

func (s *Server) apiReportLoad(w http.ResponseWriter, r *http.Request) {
	topic := s.scoped(r, chi.URLParam(r, "topic"))
	var req loadReport
	if !decode(w, r, "report load", &req) {
		return
	}
	if req.Count < 0 {
		writeError(w, http.StatusBadRequest, "count must not be negative")
		return
	}
	if _, err := s.svc.Load.UpdateMessageRate(r.Context(), topic, req.Count, time.Duration(req.WindowSeconds)*time.Second); err != nil {
		fail(w, r, "report load", err)
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Load.GetTopicLoad(r.Context(), topic))
}

func (s *Server) apiScale(w http.ResponseWriter, r *http.Request) {
	topic := s.scoped(r, chi.URLParam(r, "topic"))
	d, err := s.svc.Scaler.CheckAndScale(r.Context(), topic)
	if err != nil {
		fail(w, r, "scale", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) apiScaleHistory(w http.ResponseWriter, r *http.Request) {
	topic := s.scoped(r, chi.URLParam(r, "topic"))
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			utils.Logger.Warn("api scale history bad limit", "limit", v)
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	history, err := s.svc.Scaler.History(r.Context(), topic, limit)
	if err != nil {
		fail(w, r, "scale history", err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

type desiredBody struct {
	Topic            string `json:"topic"`
	DesiredConsumers int    `json:"desired_consumers"`
	Known            bool   `json:"known"`
}

func (s *Server) apiDesiredConsumers(w http.ResponseWriter, r *http.Request) {
	topic := s.scoped(r, chi.URLParam(r, "topic"))
	n, ok, err := s.svc.Scaler.DesiredConsumers(r.Context(), topic)
	if err != nil {
		fail(w, r, "desired consumers", err)
		return
	}
	writeJSON(w, http.StatusOK, desiredBody{Topic: topic, DesiredConsumers: n, Known: ok})
}

type lagBody struct {
	Topic string           `json:"topic"`
	Total int64            `json:"total"`
	Lag   map[string]int64 `json:"lag"`
}

func (s *Server) apiTopicLag(w http.ResponseWriter, r *http.Request) {
	if s.svc.Lag == nil {
		writeError(w, http.StatusNotImplemented, "no broker configured")
		return
	}
	topic := s.scoped(r, chi.URLParam(r, "topic"))
	lag, err := s.svc.Lag.TopicLag(r.Context(), topic)
	if err != nil {
		utils.Logger.Error("api topic lag failed", "topic", topic, "err", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	var total int64
	for _, n := range lag {
		total += n
	}
	writeJSON(w, http.StatusOK, lagBody{Topic: topic, Total: total, Lag: lag})
}

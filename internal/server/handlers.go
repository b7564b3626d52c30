package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/nyaya/internal/models"
	"github.com/hyperjump/nyaya/internal/pipeline"
	"github.com/hyperjump/nyaya/internal/session"
	"go.uber.org/zap"
)

// maxBodyBytes bounds request bodies, which may carry base64 audio.
const maxBodyBytes = 8 << 20

type answerRequest struct {
	Text      string          `json:"text"`
	Language  string          `json:"language,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Modality  models.Modality `json:"modality,omitempty"`
	// Audio is base64 encoded in JSON.
	Audio []byte `json:"audio,omitempty"`
}

func (a answerRequest) query() models.Query {
	if len(a.Audio) > 0 || a.Modality == models.ModalityVoice {
		q := models.NewVoiceQuery(a.Audio, a.Language, a.SessionID)
		q.Text = a.Text
		return q
	}
	return models.NewQuery(a.Text, a.Language, a.SessionID)
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	q := req.query()
	s.logger.Debug("answer request",
		zap.String("session_id", q.SessionID),
		zap.String("language", q.Language),
		zap.String("modality", string(q.Modality)))

	resp := s.engine.Answer(r.Context(), q)
	status := http.StatusOK
	switch resp.Kind {
	case models.KindBusy:
		status = http.StatusTooManyRequests
		w.Header().Set("Retry-After", strconv.Itoa(max(1, resp.RetryAfterSeconds)))
	case models.KindUnavailable:
		status = http.StatusServiceUnavailable
	}
	s.respondJSON(w, status, resp)
}

type startSessionRequest struct {
	Language string `json:"language"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	id, err := s.engine.StartSession(r.Context(), req.Language)
	if err != nil {
		s.logger.Error("start session failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "could not start session")
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"session_id": id})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.EndSession(r.Context(), id); err != nil {
		if session.IsInputError(err) {
			s.respondError(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("end session failed", zap.String("session_id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "could not end session")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"session_id": id, "status": "ended"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	turns, err := s.engine.History(r.Context(), id)
	if err != nil {
		if session.IsInputError(err) {
			s.respondError(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("history failed", zap.String("session_id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "could not load history")
		return
	}
	if turns == nil {
		turns = []models.Turn{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"session_id": id, "turns": turns})
}

type healthResponse struct {
	Status string `json:"status"`
	pipeline.HealthReport
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.engine.Health()
	status := "ok"
	if report.Tier != models.TierFull {
		status = "degraded"
	}
	s.respondJSON(w, http.StatusOK, healthResponse{Status: status, HealthReport: report})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// Package server exposes the webhook endpoints amoCRM and operators call.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"call-notes-go/internal/logger"
	"call-notes-go/internal/types"
	"call-notes-go/internal/webhook"
)

const (
	serviceName = "Voice Transcription Service"
	version     = "1.0.0"
	maxBody     = 1 << 20
)

// Submitter accepts a call event for background processing and reports
// false for a duplicate.
type Submitter interface {
	Submit(ctx context.Context, ev types.CallEvent) bool
}

type Server struct {
	Router *chi.Mux
	sub    Submitter
	log    *logger.Logger
	now    func() time.Time
}

func New(sub Submitter, log *logger.Logger) *Server {
	s := &Server{
		Router: chi.NewRouter(),
		sub:    sub,
		log:    log.WithComponent("server"),
		now:    time.Now,
	}

	s.Router.Use(RequestIDMiddleware)
	s.Router.Use(LoggingMiddleware(s.log))
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "call-notes")
	})

	s.Router.Get("/", s.handleRoot)
	s.Router.Get("/health", s.handleHealth)
	s.Router.Post("/webhook/amocrm", s.handleAmoCRM)
	s.Router.Post("/webhook/test", s.handleTest)
	return s
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": serviceName, "version": version})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleAmoCRM always answers 200 so amoCRM does not redeliver; failures
// are reported in the body.
func (s *Server) handleAmoCRM(w http.ResponseWriter, r *http.Request) {
	reqLog := s.log.WithRequest(r).WithField("handler", "amocrm")

	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := r.ParseForm(); err != nil {
		reqLog.WithError(err).Warn("unreadable webhook body")
		writeJSON(w, http.StatusOK, map[string]string{"status": "error", "message": err.Error()})
		return
	}

	events, err := webhook.FromForm(r.PostForm, s.now())
	if err != nil {
		reqLog.WithError(err).Warn("webhook contained malformed call notes")
		if len(events) == 0 {
			writeJSON(w, http.StatusOK, map[string]string{"status": "error", "message": err.Error()})
			return
		}
	}

	accepted := 0
	for _, ev := range events {
		if s.sub.Submit(r.Context(), ev) {
			accepted++
		}
	}
	reqLog.WithField("events", len(events)).WithField("accepted", accepted).Info("webhook received")
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	reqLog := s.log.WithRequest(r).WithField("handler", "test")

	var p webhook.TestPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid JSON: " + err.Error()})
		return
	}
	ev, err := p.Event(s.now())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Требуются параметры: lead_id, record_url"})
		return
	}

	status := "processing"
	if !s.sub.Submit(r.Context(), ev) {
		status = "duplicate"
	}
	reqLog.WithField("lead_id", ev.RawTargetID).WithField("status", status).Info("test webhook")
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": status, "lead_id": ev.RawTargetID})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/entrhq/pagedock/pkg/actions"
)

func (s *Server) handleVisit(w http.ResponseWriter, r *http.Request) {
	var req actions.VisitRequest
	if status, err := s.decode(w, r, &req); err != nil {
		respondError(w, status, err)
		return
	}

	start := time.Now()
	result, err := s.dispatcher.Visit(r.Context(), req)
	s.observeAction("visit", start, err)
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	respondJSON(w, result)
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	var req actions.ClickRequest
	if status, err := s.decode(w, r, &req); err != nil {
		respondError(w, status, err)
		return
	}

	start := time.Now()
	result, err := s.dispatcher.Click(r.Context(), req)
	s.observeAction("click", start, err)
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	respondJSON(w, result)
}

func (s *Server) handleType(w http.ResponseWriter, r *http.Request) {
	var req actions.TypeRequest
	if status, err := s.decode(w, r, &req); err != nil {
		respondError(w, status, err)
		return
	}

	start := time.Now()
	result, err := s.dispatcher.Type(r.Context(), req)
	s.observeAction("type", start, err)
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	respondJSON(w, result)
}

func (s *Server) handleScroll(w http.ResponseWriter, r *http.Request) {
	var req actions.ScrollRequest
	if status, err := s.decode(w, r, &req); err != nil {
		respondError(w, status, err)
		return
	}

	start := time.Now()
	result, err := s.dispatcher.Scroll(r.Context(), req)
	s.observeAction("scroll", start, err)
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	respondJSON(w, result)
}

func (s *Server) handleWait(w http.ResponseWriter, r *http.Request) {
	var req actions.WaitRequest
	if status, err := s.decode(w, r, &req); err != nil {
		respondError(w, status, err)
		return
	}

	start := time.Now()
	result, err := s.dispatcher.Wait(r.Context(), req)
	s.observeAction("wait", start, err)
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	respondJSON(w, result)
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req actions.ExtractRequest
	if status, err := s.decode(w, r, &req); err != nil {
		respondError(w, status, err)
		return
	}

	start := time.Now()
	result, err := s.dispatcher.Extract(r.Context(), req)
	s.observeAction("extract", start, err)
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	respondJSON(w, result)
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	var req actions.CloseRequest
	if status, err := s.decode(w, r, &req); err != nil {
		respondError(w, status, err)
		return
	}

	start := time.Now()
	result, err := s.dispatcher.CloseSession(r.Context(), req)
	s.observeAction("close", start, err)
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	respondJSON(w, result)
}

func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session_id")

	start := time.Now()
	data, err := s.dispatcher.Screenshot(r.Context(), id)
	s.observeAction("screenshot", start, err)
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session_id")

	start := time.Now()
	result, err := s.dispatcher.Info(r.Context(), id)
	s.observeAction("info", start, err)
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	respondJSON(w, result)
}

func (s *Server) handleOutline(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	id := query.Get("session_id")
	maxLength := parseIntDefault(query.Get("max_length"), 0)

	start := time.Now()
	result, err := s.dispatcher.Outline(r.Context(), id, maxLength)
	s.observeAction("outline", start, err)
	if err != nil {
		respondError(w, statusFor(err), err)
		return
	}
	respondJSON(w, result)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.dispatcher.List())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.dispatcher.Health())
}

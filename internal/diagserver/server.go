// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package diagserver exposes the scan session and the diagnostic log over
// HTTP for operators and remote scan injection.
package diagserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/ffutop/scanintake/internal/diaglog"
	"github.com/ffutop/scanintake/internal/ingest"
	"github.com/ffutop/scanintake/internal/intake"
	"github.com/ffutop/scanintake/payload"
	"github.com/ffutop/scanintake/transport"
	"github.com/ffutop/scanintake/transport/serial"
)

// Link reports the serial link. *serial.Manager satisfies it.
type Link interface {
	State() serial.State
	Link() (serial.PortInfo, int, bool)
}

// Server serves the operator routes.
type Server struct {
	ctrl   *ingest.Controller
	diag   *diaglog.Log
	link   Link
	router *mux.Router
}

// New builds the router. link may be nil when serial mode is unavailable.
func New(ctrl *ingest.Controller, diag *diaglog.Log, link Link) *Server {
	s := &Server{ctrl: ctrl, diag: diag, link: link, router: mux.NewRouter()}

	r := s.router
	r.HandleFunc("/debug/log", s.handleLog).Methods(http.MethodGet)
	r.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	r.HandleFunc("/scan", s.handleScan).Methods(http.MethodPost)
	r.HandleFunc("/mode/{mode}", s.handleOpen).Methods(http.MethodPost)
	r.HandleFunc("/mode", s.handleClose).Methods(http.MethodDelete)
	r.HandleFunc("/pending", s.handleUpdatePending).Methods(http.MethodPut)
	r.HandleFunc("/pending", s.handleDiscard).Methods(http.MethodDelete)
	r.HandleFunc("/pending/confirm", s.handleConfirm).Methods(http.MethodPost)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("diag server listening", "address", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type linkState struct {
	State string           `json:"state"`
	Port  *serial.PortInfo `json:"port,omitempty"`
	Baud  int              `json:"baud,omitempty"`
}

type stateResponse struct {
	ingest.Status
	Serial *linkState `json:"serial,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleLog(w http.ResponseWriter, _ *http.Request) {
	entries := s.diag.Entries()
	if entries == nil {
		entries = []diaglog.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	resp := stateResponse{Status: s.ctrl.Status()}
	if s.link != nil {
		ls := &linkState{State: s.link.State().String()}
		if info, baud, ok := s.link.Link(); ok {
			ls.Port = &info
			ls.Baud = baud
		}
		resp.Serial = ls
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleScan accepts the scan as the raw request body.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if strings.TrimSpace(string(body)) == "" {
		writeError(w, http.StatusBadRequest, "empty scan")
		return
	}
	if err := s.ctrl.Paste(string(body)); err != nil {
		writeError(w, http.StatusConflict, "keyboard mode is not listening")
		return
	}
	writeJSON(w, http.StatusAccepted, s.ctrl.Status())
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	mode, ok := transport.ParseMode(mux.Vars(r)["mode"])
	if !ok {
		writeError(w, http.StatusNotFound, "unknown mode")
		return
	}
	err := s.ctrl.Open(r.Context(), mode)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, s.ctrl.Status())
	case errors.Is(err, ingest.ErrUnknownMode):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ingest.ErrModeActive):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, serial.ErrNoDeviceSelected):
		writeError(w, http.StatusConflict, ingest.MessageFor(err))
	default:
		writeError(w, http.StatusBadGateway, ingest.MessageFor(err))
	}
}

func (s *Server) handleClose(w http.ResponseWriter, _ *http.Request) {
	if err := s.ctrl.Close(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	res, err := s.ctrl.Confirm(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, ingest.ErrNoPending):
		writeError(w, http.StatusNotFound, "no pending intake")
	case errors.Is(err, ingest.ErrNoSubmitter):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusBadGateway, intake.UserMessage(err))
	}
}

func (s *Server) handleUpdatePending(w http.ResponseWriter, r *http.Request) {
	var p payload.ScannedPayload
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rec, err := s.ctrl.UpdatePending(p)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, rec)
	case errors.Is(err, ingest.ErrNoPending):
		writeError(w, http.StatusNotFound, "no pending intake")
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (s *Server) handleDiscard(w http.ResponseWriter, _ *http.Request) {
	if err := s.ctrl.Discard(); err != nil {
		writeError(w, http.StatusNotFound, "no pending intake")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/reproserver/reproserver/pkg/connector"
	"github.com/reproserver/reproserver/pkg/log"
	"github.com/reproserver/reproserver/pkg/storage"
	"github.com/reproserver/reproserver/pkg/types"
)

// Server is the control-plane HTTP API the runner pods talk to.
type Server struct {
	conn  connector.Connector
	store storage.Store
	token string
}

// NewServer creates the runner API.
func NewServer(conn connector.Connector, store storage.Store, token string) *Server {
	return &Server{conn: conn, store: store, token: token}
}

// Router builds the chi router for the /runners subtree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(instrument)
	r.Use(s.authenticate)
	r.Route("/runners/run/{id}", func(r chi.Router) {
		r.Post("/init", s.handleInit)
		r.Post("/start", s.handleStart)
		r.Post("/set-progress", s.handleSetProgress)
		r.Post("/done", s.handleDone)
		r.Post("/failed", s.handleFailed)
		r.Post("/log", s.handleLog)
		r.Put("/output/{name}", s.handleOutput)
	})
	return r
}

// authenticate rejects requests without the shared secret.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(connector.AuthHeader) != s.token {
			log.Info("Unauthenticated runner API request")
			writeError(w, http.StatusForbidden, "Forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// runID parses the id route parameter. A non-numeric id is a client error.
func runID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid run id")
		return 0, false
	}
	return id, true
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}

	info, err := s.conn.InitRunGetInfo(r.Context(), id)
	if err != nil {
		s.writeConnectorError(w, err)
		return
	}

	// Bake the signed links in so the runner never needs store credentials
	link, err := s.conn.GetBundleLink(r.Context(), info)
	if err != nil {
		s.writeConnectorError(w, err)
		return
	}
	info.ExperimentURL = link
	info, err = s.conn.GetInputLinks(r.Context(), info)
	if err != nil {
		s.writeConnectorError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}
	if err := s.conn.RunStarted(r.Context(), id); err != nil {
		s.writeConnectorError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}
	var body struct {
		Percent int    `json:"percent"`
		Text    string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if err := s.conn.RunProgress(r.Context(), id, body.Percent, body.Text); err != nil {
		s.writeConnectorError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDone(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}
	if err := s.conn.RunDone(r.Context(), id); err != nil {
		s.writeConnectorError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFailed(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if err := s.conn.RunFailed(r.Context(), id, body.Error); err != nil {
		s.writeConnectorError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}
	var body struct {
		Lines []struct {
			Msg  string `json:"msg"`
			Time string `json:"time"`
		} `json:"lines"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	entries := make([]types.LogLine, len(body.Lines))
	for i, line := range body.Lines {
		timestamp, err := parseTime(line.Time)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid timestamp %q", line.Time))
			return
		}
		entries[i] = types.LogLine{RunID: id, Timestamp: timestamp, Line: line.Msg}
	}
	if err := s.store.AppendLogLines(id, entries); err != nil {
		s.writeConnectorError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "name")

	// Spool to disk so the body can be hashed then re-read for the upload
	tmp, err := os.CreateTemp("", "output_")
	if err != nil {
		s.writeConnectorError(w, err)
		return
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := io.Copy(tmp, r.Body); err != nil {
		s.writeConnectorError(w, err)
		return
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		s.writeConnectorError(w, err)
		return
	}

	if err := s.conn.UploadOutputFile(r.Context(), id, name, tmp, ""); err != nil {
		s.writeConnectorError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseTime accepts RFC 3339 with or without fractional seconds.
func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// writeConnectorError maps connector errors onto HTTP statuses.
func (s *Server) writeConnectorError(w http.ResponseWriter, err error) {
	switch {
	case connector.IsBadRequest(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, connector.ErrUnknownRun):
		writeError(w, http.StatusNotFound, "Unknown run")
	default:
		log.Errorf("Runner API error", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Errorf("Failed to encode response", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/banshee-data/trackday/internal/db"
	"github.com/banshee-data/trackday/internal/httputil"
	"github.com/banshee-data/trackday/internal/report"
)

// listSessions returns all stored sessions, newest first.
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.db == nil {
		httputil.NotFound(w, "no session store")
		return
	}

	sessions, err := s.db.Sessions(r.Context())
	if err != nil {
		log.Printf("list sessions: %v", err)
		httputil.InternalServerError(w, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []db.Session{}
	}
	httputil.WriteJSONOK(w, sessions)
}

// sessionSubtree routes /api/sessions/{id}[/...]. The id "latest"
// resolves to the most recently started session.
func (s *Server) sessionSubtree(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		httputil.NotFound(w, "no session store")
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/sessions/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		httputil.BadRequest(w, "missing session id")
		return
	}

	sess, ok := s.resolveSession(w, r, parts[0])
	if !ok {
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			httputil.WriteJSONOK(w, sess)
		case http.MethodDelete:
			s.deleteSession(w, r, sess.ID)
		default:
			httputil.MethodNotAllowed(w)
		}
		return
	}

	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	switch parts[1] {
	case "samples":
		s.showSamples(w, r, sess.ID)
	case "laps":
		s.showLaps(w, r, sess.ID)
	case "events":
		s.showEvents(w, r, sess.ID)
	case "power":
		s.showPower(w, r, sess.ID)
	case "export":
		s.exportSession(w, r, sess.ID)
	case "chart":
		if len(parts) < 3 {
			httputil.BadRequest(w, "missing chart name")
			return
		}
		s.sessionChart(w, r, sess, parts[2])
	default:
		httputil.NotFound(w, "unknown session resource")
	}
}

// resolveSession loads the addressed session, writing the error
// response itself when the lookup fails.
func (s *Server) resolveSession(w http.ResponseWriter, r *http.Request, id string) (*db.Session, bool) {
	var (
		sess *db.Session
		err  error
	)
	if id == "latest" {
		sess, err = s.db.LatestSession(r.Context())
	} else {
		sess, err = s.db.Session(r.Context(), id)
	}
	if errors.Is(err, db.ErrNotFound) {
		httputil.NotFound(w, "session not found")
		return nil, false
	}
	if err != nil {
		log.Printf("load session %s: %v", id, err)
		httputil.InternalServerError(w, "failed to load session")
		return nil, false
	}
	return sess, true
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.db.DeleteSession(r.Context(), id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			httputil.NotFound(w, "session not found")
			return
		}
		log.Printf("delete session %s: %v", id, err)
		httputil.InternalServerError(w, "failed to delete session")
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"deleted": id})
}

func (s *Server) showSamples(w http.ResponseWriter, r *http.Request, id string) {
	samples, err := s.db.Samples(r.Context(), id)
	if err != nil {
		log.Printf("load samples %s: %v", id, err)
		httputil.InternalServerError(w, "failed to load samples")
		return
	}
	httputil.WriteJSONOK(w, samples)
}

func (s *Server) showLaps(w http.ResponseWriter, r *http.Request, id string) {
	lapRows, err := s.db.Laps(r.Context(), id)
	if err != nil {
		log.Printf("load laps %s: %v", id, err)
		httputil.InternalServerError(w, "failed to load laps")
		return
	}
	if lapRows == nil {
		lapRows = []db.Lap{}
	}
	httputil.WriteJSONOK(w, lapRows)
}

func (s *Server) showEvents(w http.ResponseWriter, r *http.Request, id string) {
	events, err := s.db.Events(r.Context(), id)
	if err != nil {
		log.Printf("load events %s: %v", id, err)
		httputil.InternalServerError(w, "failed to load events")
		return
	}
	if events == nil {
		events = []db.Event{}
	}
	httputil.WriteJSONOK(w, events)
}

func (s *Server) showPower(w http.ResponseWriter, r *http.Request, id string) {
	points, err := s.db.PowerCurve(r.Context(), id)
	if err != nil {
		log.Printf("load power curve %s: %v", id, err)
		httputil.InternalServerError(w, "failed to load power curve")
		return
	}
	if points == nil {
		points = []db.PowerPoint{}
	}
	httputil.WriteJSONOK(w, points)
}

// exportSession streams the session's raw data in the requested
// format: csv (default), json, or kml.
func (s *Server) exportSession(w http.ResponseWriter, r *http.Request, id string) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}

	samples, err := s.db.Samples(r.Context(), id)
	if err != nil {
		log.Printf("export %s: %v", id, err)
		httputil.InternalServerError(w, "failed to load samples")
		return
	}

	filename := fmt.Sprintf("%s.%s", id, format)
	switch format {
	case "csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		err = report.WriteCSV(w, samples)
	case "json":
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		err = report.WriteJSON(w, samples)
	case "kml":
		kmlBuf := new(strings.Builder)
		err = report.WriteKML(kmlBuf, id, samples)
		if errors.Is(err, report.ErrNoTrack) {
			httputil.NotFound(w, "session has no gps track")
			return
		}
		if err == nil {
			w.Header().Set("Content-Type", "application/vnd.google-earth.kml+xml")
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
			_, err = w.Write([]byte(kmlBuf.String()))
		}
	default:
		httputil.BadRequest(w, "unknown export format: "+format)
		return
	}
	if err != nil {
		log.Printf("export %s as %s: %v", id, format, err)
	}
}

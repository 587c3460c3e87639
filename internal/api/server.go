// Package api serves the acquisition daemon's HTTP surface: the live
// sample feed, sensor status, stored session data, exports, and chart
// pages.
package api

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/trackday/internal/config"
	"github.com/banshee-data/trackday/internal/db"
	"github.com/banshee-data/trackday/internal/httputil"
	"github.com/banshee-data/trackday/internal/recorder"
	"github.com/banshee-data/trackday/internal/telemetry"
	"github.com/banshee-data/trackday/internal/version"
)

// ANSI escape codes for request log coloring.
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Sensor is the status view of one adapter family. Every sensors
// adapter satisfies it through its embedded cache.
type Sensor interface {
	Name() string
	Latest() telemetry.Reading
	Counts() (readings, errors uint64)
}

// Recording reports the live recorder's counters. Nil when the daemon
// is running without a session.
type Recording interface {
	SessionID() string
	Counts() recorder.Counts
}

// Server handles the /api routes. Any of the collaborators may be nil;
// the endpoints that need a missing one answer 404.
type Server struct {
	hub     *telemetry.Hub
	db      *db.DB
	sensors []Sensor
	rec     Recording
	conf    *config.Config
	started time.Time
}

func NewServer(hub *telemetry.Hub, database *db.DB, sensors []Sensor, rec Recording, conf *config.Config) *Server {
	return &Server{
		hub:     hub,
		db:      database,
		sensors: sensors,
		rec:     rec,
		conf:    conf,
		started: time.Now(),
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status, and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/live", s.showLive)
	mux.HandleFunc("/api/live/stream", s.streamLive)
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/schema", s.showSchema)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/api/sessions/", s.sessionSubtree)
	mux.HandleFunc("/api/config", s.showConfig)
	return mux
}

// showLive returns the most recent merged sample.
func (s *Server) showLive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.hub == nil {
		httputil.NotFound(w, "no live feed")
		return
	}
	sample, ok := s.hub.Latest()
	if !ok {
		httputil.NotFound(w, "no sample yet")
		return
	}
	httputil.WriteJSONOK(w, sample)
}

type sensorStatus struct {
	Name      string    `json:"name"`
	Connected bool      `json:"connected"`
	LastAt    time.Time `json:"last_reading_at,omitzero"`
	Readings  uint64    `json:"readings"`
	Errors    uint64    `json:"errors"`
}

type recordingStatus struct {
	ID       string `json:"id"`
	Samples  uint64 `json:"samples"`
	Flushed  uint64 `json:"flushed"`
	Lost     uint64 `json:"lost"`
	Buffered int    `json:"buffered"`
	Degraded bool   `json:"degraded"`
}

type statusResponse struct {
	Now       time.Time        `json:"now"`
	Version   string           `json:"version"`
	UptimeS   float64          `json:"uptime_seconds"`
	Recording *recordingStatus `json:"recording,omitempty"`
	Sensors   []sensorStatus   `json:"sensors"`
}

// showStatus reports per-sensor connection state and counters plus the
// live recorder's counts.
func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	resp := statusResponse{
		Now:     time.Now(),
		Version: version.Version,
		UptimeS: time.Since(s.started).Seconds(),
		Sensors: make([]sensorStatus, 0, len(s.sensors)),
	}
	for _, sensor := range s.sensors {
		reading := sensor.Latest()
		readings, errors := sensor.Counts()
		resp.Sensors = append(resp.Sensors, sensorStatus{
			Name:      sensor.Name(),
			Connected: reading.Connected,
			LastAt:    reading.At,
			Readings:  readings,
			Errors:    errors,
		})
	}
	if s.rec != nil {
		counts := s.rec.Counts()
		resp.Recording = &recordingStatus{
			ID:       s.rec.SessionID(),
			Samples:  counts.Pushed,
			Flushed:  counts.Flushed,
			Lost:     counts.Lost,
			Buffered: counts.Buffered,
			Degraded: counts.Degraded,
		}
	}
	httputil.WriteJSONOK(w, resp)
}

type schemaEntry struct {
	Name    string `json:"name"`
	Unit    string `json:"unit,omitempty"`
	Source  string `json:"source"`
	Boolean bool   `json:"boolean,omitempty"`
}

// showSchema lists the channel registry in stable column order so
// clients can discover names and units without hardcoding them.
func (s *Server) showSchema(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	entries := make([]schemaEntry, 0, len(telemetry.Schema))
	for _, d := range telemetry.Schema {
		entries = append(entries, schemaEntry{
			Name:    d.Name,
			Unit:    d.Unit,
			Source:  d.Source,
			Boolean: d.Kind == telemetry.Boolean,
		})
	}
	httputil.WriteJSONOK(w, entries)
}

// showConfig returns the daemon's loaded configuration file.
func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.conf == nil {
		httputil.NotFound(w, "no config loaded")
		return
	}
	httputil.WriteJSONOK(w, s.conf)
}

package api

import (
	"context"
	"encoding/csv"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/trackday/internal/config"
	"github.com/banshee-data/trackday/internal/db"
	"github.com/banshee-data/trackday/internal/recorder"
	"github.com/banshee-data/trackday/internal/telemetry"
	"github.com/banshee-data/trackday/internal/testutil"
)

var apiT0 = time.Date(2026, 4, 18, 9, 30, 0, 0, time.UTC)

func openTestServer(t *testing.T) (*Server, *db.DB) {
	t.Helper()
	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewServer(nil, database, nil, nil, nil), database
}

func createTestSession(t *testing.T, database *db.DB, id string) {
	t.Helper()
	err := database.CreateSession(context.Background(), recorder.SessionMeta{
		ID:        id,
		Name:      "stint " + id,
		StartedAt: apiT0,
		Vehicle:   config.VehicleSnapshot{Name: "E46 M3", MassKg: 1549},
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
}

func appendTestSamples(t *testing.T, database *db.DB, id string, n int) {
	t.Helper()
	batch := make([]telemetry.Sample, 0, n)
	for i := 0; i < n; i++ {
		batch = append(batch, telemetry.Sample{
			At:      apiT0.Add(time.Duration(i) * 20 * time.Millisecond),
			Elapsed: float64(i) * 0.02,
			Chans: map[string]telemetry.Channel{
				telemetry.ChanRPM:      {Value: 3000 + float64(i), Valid: true},
				telemetry.ChanSpeedMPH: {Value: float64(i), Valid: true},
				telemetry.ChanGPSLat:   {Value: 36.5841 + float64(i)*1e-5, Valid: true},
				telemetry.ChanGPSLon:   {Value: -121.7542, Valid: true},
				telemetry.ChanGPSValid: {Value: 1, Valid: true},
			},
		})
	}
	if err := database.AppendSamples(context.Background(), id, batch); err != nil {
		t.Fatalf("append samples: %v", err)
	}
}

func get(t *testing.T, srv *Server, path string) *http.Response {
	t.Helper()
	w := testutil.NewTestRecorder()
	srv.ServeMux().ServeHTTP(w, testutil.NewTestRequest(http.MethodGet, path))
	return w.Result()
}

func TestListSessions(t *testing.T) {
	srv, database := openTestServer(t)

	resp := get(t, srv, "/api/sessions")
	testutil.AssertStatusCode(t, resp.StatusCode, http.StatusOK)
	var sessions []db.Session
	testutil.DecodeJSON(t, resp.Body, &sessions)
	if len(sessions) != 0 {
		t.Fatalf("empty store listed %d sessions", len(sessions))
	}

	createTestSession(t, database, "ses-1")
	createTestSession(t, database, "ses-2")

	resp = get(t, srv, "/api/sessions")
	testutil.AssertStatusCode(t, resp.StatusCode, http.StatusOK)
	testutil.DecodeJSON(t, resp.Body, &sessions)
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
}

func TestSessionDetail(t *testing.T) {
	srv, database := openTestServer(t)
	createTestSession(t, database, "ses-1")

	resp := get(t, srv, "/api/sessions/ses-1")
	testutil.AssertStatusCode(t, resp.StatusCode, http.StatusOK)
	var sess db.Session
	testutil.DecodeJSON(t, resp.Body, &sess)
	if sess.ID != "ses-1" || sess.Name != "stint ses-1" {
		t.Errorf("session = %+v", sess)
	}

	resp = get(t, srv, "/api/sessions/nope")
	testutil.AssertStatusCode(t, resp.StatusCode, http.StatusNotFound)
}

func TestSessionLatest(t *testing.T) {
	srv, database := openTestServer(t)

	resp := get(t, srv, "/api/sessions/latest")
	testutil.AssertStatusCode(t, resp.StatusCode, http.StatusNotFound)

	createTestSession(t, database, "ses-1")
	err := database.CreateSession(context.Background(), recorder.SessionMeta{
		ID:        "ses-2",
		StartedAt: apiT0.Add(time.Hour),
	})
	testutil.AssertNoError(t, err)

	resp = get(t, srv, "/api/sessions/latest")
	testutil.AssertStatusCode(t, resp.StatusCode, http.StatusOK)
	var sess db.Session
	testutil.DecodeJSON(t, resp.Body, &sess)
	if sess.ID != "ses-2" {
		t.Errorf("latest = %q, want ses-2", sess.ID)
	}
}

func TestDeleteSession(t *testing.T) {
	srv, database := openTestServer(t)
	createTestSession(t, database, "ses-1")

	w := testutil.NewTestRecorder()
	srv.ServeMux().ServeHTTP(w, testutil.NewTestRequest(http.MethodDelete, "/api/sessions/ses-1"))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	resp := get(t, srv, "/api/sessions/ses-1")
	testutil.AssertStatusCode(t, resp.StatusCode, http.StatusNotFound)
}

func TestSessionSamples(t *testing.T) {
	srv, database := openTestServer(t)
	createTestSession(t, database, "ses-1")
	appendTestSamples(t, database, "ses-1", 5)

	resp := get(t, srv, "/api/sessions/ses-1/samples")
	testutil.AssertStatusCode(t, resp.StatusCode, http.StatusOK)
	var samples []telemetry.Sample
	testutil.DecodeJSON(t, resp.Body, &samples)
	if len(samples) != 5 {
		t.Fatalf("got %d samples, want 5", len(samples))
	}
	if v, ok := samples[0].Value(telemetry.ChanRPM); !ok || v != 3000 {
		t.Errorf("first rpm = %v (ok=%v), want 3000", v, ok)
	}
}

func TestSessionAnalysisRoutes(t *testing.T) {
	srv, database := openTestServer(t)
	createTestSession(t, database, "ses-1")
	ctx := context.Background()

	err := database.ReplaceLaps(ctx, "ses-1", []db.Lap{
		{Number: 1, Start: apiT0, End: apiT0.Add(92 * time.Second), DurationS: 92, MaxSpeedMPH: 114},
	})
	testutil.AssertNoError(t, err)
	err = database.ReplaceEvents(ctx, "ses-1", []db.Event{
		{Kind: db.EventAccelRun, Start: apiT0, End: apiT0.Add(5 * time.Second), DurationS: 5, StartMPH: 0, EndMPH: 60},
	})
	testutil.AssertNoError(t, err)
	err = database.ReplacePowerCurve(ctx, "ses-1", []db.PowerPoint{
		{RPM: 4500, PowerHP: 210, TorqueLbFt: 245, Samples: 30},
	})
	testutil.AssertNoError(t, err)

	var lapRows []db.Lap
	resp := get(t, srv, "/api/sessions/ses-1/laps")
	testutil.AssertStatusCode(t, resp.StatusCode, http.StatusOK)
	testutil.DecodeJSON(t, resp.Body, &lapRows)
	if len(lapRows) != 1 || lapRows[0].MaxSpeedMPH != 114 {
		t.Errorf("laps = %+v", lapRows)
	}

	var events []db.Event
	resp = get(t, srv, "/api/sessions/ses-1/events")
	testutil.AssertStatusCode(t, resp.StatusCode, http.StatusOK)
	testutil.DecodeJSON(t, resp.Body, &events)
	if len(events) != 1 || events[0].Kind != db.EventAccelRun {
		t.Errorf("events = %+v", events)
	}

	var points []db.PowerPoint
	resp = get(t, srv, "/api/sessions/ses-1/power")
	testutil.AssertStatusCode(t, resp.StatusCode, http.StatusOK)
	testutil.DecodeJSON(t, resp.Body, &points)
	if len(points) != 1 || points[0].RPM != 4500 {
		t.Errorf("power = %+v", points)
	}
}

func TestExportCSV(t *testing.T) {
	srv, database := openTestServer(t)
	createTestSession(t, database, "ses-1")
	appendTestSamples(t, database, "ses-1", 3)

	resp := get(t, srv, "/api/sessions/ses-1/export?format=csv")
	testutil.AssertStatusCode(t, resp.StatusCode, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("content type = %q", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "ses-1.csv") {
		t.Errorf("content disposition = %q", cd)
	}

	rows, err := csv.NewReader(resp.Body).ReadAll()
	testutil.AssertNoError(t, err)
	if len(rows) != 4 {
		t.Fatalf("got %d rows, want header + 3", len(rows))
	}
	if rows[0][0] != "timestamp" || rows[0][1] != "elapsed_time" {
		t.Errorf("header = %v", rows[0][:2])
	}
}

func TestExportDefaultsToCSV(t *testing.T) {
	srv, database := openTestServer(t)
	createTestSession(t, database, "ses-1")

	resp := get(t, srv, "/api/sessions/ses-1/export")
	testutil.AssertStatusCode(t, resp.StatusCode, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("content type = %q", ct)
	}
}

func TestExportKML(t *testing.T) {
	srv, database := openTestServer(t)
	createTestSession(t, database, "ses-1")
	appendTestSamples(t, database, "ses-1", 3)

	resp := get(t, srv, "/api/sessions/ses-1/export?format=kml")
	testutil.AssertStatusCode(t, resp.StatusCode, http.StatusOK)

	body, err := io.ReadAll(resp.Body)
	testutil.AssertNoError(t, err)
	if !strings.Contains(string(body), "<kml") {
		t.Errorf("kml body missing <kml>: %s", body)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "kml") {
		t.Errorf("content type = %q", ct)
	}
}

func TestExportKMLWithoutTrack(t *testing.T) {
	srv, database := openTestServer(t)
	createTestSession(t, database, "ses-1")

	resp := get(t, srv, "/api/sessions/ses-1/export?format=kml")
	testutil.AssertStatusCode(t, resp.StatusCode, http.StatusNotFound)
}

func TestExportUnknownFormat(t *testing.T) {
	srv, database := openTestServer(t)
	createTestSession(t, database, "ses-1")

	resp := get(t, srv, "/api/sessions/ses-1/export?format=xlsx")
	testutil.AssertStatusCode(t, resp.StatusCode, http.StatusBadRequest)
}

func TestChartTrace(t *testing.T) {
	srv, database := openTestServer(t)
	createTestSession(t, database, "ses-1")
	appendTestSamples(t, database, "ses-1", 10)

	resp := get(t, srv, "/api/sessions/ses-1/chart/trace")
	testutil.AssertStatusCode(t, resp.StatusCode, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content type = %q", ct)
	}
}

func TestChartPowerRequiresAnalysis(t *testing.T) {
	srv, database := openTestServer(t)
	createTestSession(t, database, "ses-1")

	resp := get(t, srv, "/api/sessions/ses-1/chart/power")
	testutil.AssertStatusCode(t, resp.StatusCode, http.StatusNotFound)

	err := database.ReplacePowerCurve(context.Background(), "ses-1", []db.PowerPoint{
		{RPM: 4500, PowerHP: 210, TorqueLbFt: 245, Samples: 30},
	})
	testutil.AssertNoError(t, err)

	resp = get(t, srv, "/api/sessions/ses-1/chart/power")
	testutil.AssertStatusCode(t, resp.StatusCode, http.StatusOK)
}

func TestChartUnknownName(t *testing.T) {
	srv, database := openTestServer(t)
	createTestSession(t, database, "ses-1")

	resp := get(t, srv, "/api/sessions/ses-1/chart/bogus")
	testutil.AssertStatusCode(t, resp.StatusCode, http.StatusNotFound)
}

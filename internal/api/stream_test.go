package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/trackday/internal/telemetry"
)

func TestStreamLive(t *testing.T) {
	hub := telemetry.NewHub()
	srv := NewServer(hub, nil, nil, nil, nil)
	ts := httptest.NewServer(srv.ServeMux())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/live/stream", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)

	// The handler leads with a ping comment; once it arrives the
	// subscription is registered and a push will reach us.
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read ping: %v", err)
	}
	if !strings.HasPrefix(line, ":") {
		t.Fatalf("first line = %q, want ping comment", line)
	}

	hub.Push(liveSample())

	for {
		line, err = reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read event: %v", err)
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var got telemetry.Sample
		payload := strings.TrimSuffix(strings.TrimPrefix(line, "data: "), "\n")
		if err := json.Unmarshal([]byte(payload), &got); err != nil {
			t.Fatalf("decode event %q: %v", payload, err)
		}
		if v, ok := got.Value(telemetry.ChanRPM); !ok || v != 4200 {
			t.Errorf("rpm = %v (ok=%v), want 4200", v, ok)
		}
		return
	}
}

func TestStreamLiveMethodNotAllowed(t *testing.T) {
	srv := NewServer(telemetry.NewHub(), nil, nil, nil, nil)
	w := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/live/stream", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

package api

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hilthontt/roomdrop/internal/application/relay"
	"github.com/hilthontt/roomdrop/internal/application/session"
	"github.com/hilthontt/roomdrop/internal/infrastructure/configs"
	"github.com/hilthontt/roomdrop/internal/infrastructure/keygen"
	"github.com/hilthontt/roomdrop/internal/infrastructure/logging"
	"github.com/hilthontt/roomdrop/internal/infrastructure/metrics"
	"github.com/hilthontt/roomdrop/internal/infrastructure/profile"
	"github.com/hilthontt/roomdrop/internal/infrastructure/repository"
	"github.com/hilthontt/roomdrop/internal/infrastructure/ws"
	healthHandler "github.com/hilthontt/roomdrop/internal/presentation/handler/health"
	roomHandler "github.com/hilthontt/roomdrop/internal/presentation/handler/rooms"
	statsHandler "github.com/hilthontt/roomdrop/internal/presentation/handler/stats"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestApplication(t *testing.T, cfg configs.Config) (*Application, *metrics.Metrics) {
	t.Helper()

	logger := logging.NewNop()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	registry := repository.NewRoomRegistry(keygen.New(), repository.Options{})
	hub := ws.NewHub(ws.HubOptions{Logger: logger, Metrics: m})

	coordinator := session.NewCoordinator(session.Options{
		Registry: registry,
		Emitter:  hub,
		Profiles: profile.NewGenerator(),
		Metrics:  m,
		Logger:   logger,
	})
	relaySvc := relay.NewService(relay.Options{Emitter: hub, Members: registry, Metrics: m, Logger: logger})

	handlers := Handlers{
		Rooms:  roomHandler.NewHandler(hub, coordinator, relaySvc, logger, ws.ClientOptions{SendBuffer: 8}),
		Health: healthHandler.NewHandler(),
		Stats:  statsHandler.NewHandler(registry, hub),
	}

	t.Cleanup(hub.CloseAll)

	return NewApplication(cfg, handlers, hub, logger, m, reg), m
}

func testConfig() configs.Config {
	return configs.Config{
		HTTP: configs.HTTPConfig{
			Host:            "127.0.0.1",
			AllowedOrigins:  []string{"https://drop.example"},
			AllowedHeaders:  []string{"Content-Type"},
			ShutdownTimeout: time.Second,
		},
	}
}

func TestMount_HealthAndStats(t *testing.T) {
	app, _ := newTestApplication(t, testConfig())
	srv := httptest.NewServer(app.Mount())
	defer srv.Close()

	for _, path := range []string{"/api/health", "/api/healthz", "/api/ready", "/api/live"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, resp.StatusCode)
		}
	}

	resp, err := http.Get(srv.URL + "/api/stats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var stats statsHandler.Response
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats != (statsHandler.Response{}) {
		t.Errorf("stats = %+v, want all zero", stats)
	}
}

func TestMount_WebSocketThroughMiddleware(t *testing.T) {
	app, _ := newTestApplication(t, testConfig())
	srv := httptest.NewServer(app.Mount())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	resp.Body.Close()
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first struct {
		Event string `json:"event"`
	}
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatal(err)
	}
	if first.Event != ws.UserUpdateEvent {
		t.Fatalf("first event = %q, want %q", first.Event, ws.UserUpdateEvent)
	}

	resp, err = http.Get(srv.URL + "/api/stats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var stats statsHandler.Response
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.Rooms != 1 || stats.Members != 1 || stats.Connections != 1 {
		t.Errorf("stats = %+v, want one of each", stats)
	}
}

func TestMount_CORSPreflight(t *testing.T) {
	app, _ := newTestApplication(t, testConfig())
	handler := app.Mount()

	req := httptest.NewRequest(http.MethodOptions, "/api/stats", nil)
	req.Header.Set("Origin", "https://drop.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://drop.example" {
		t.Errorf("Allow-Origin = %q, want the configured origin", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/stats", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q for an unlisted origin", got)
	}
}

func TestMount_MetricsEndpoint(t *testing.T) {
	app, m := newTestApplication(t, testConfig())
	handler := app.Mount()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues(http.MethodGet, "/api/health", "200")); got != 1 {
		t.Errorf("http_requests_total{/api/health} = %v, want 1", got)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "roomdrop_http_requests_total") {
		t.Error("/metrics does not expose roomdrop_http_requests_total")
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want 404", rec.Code)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	cfg := testConfig()
	cfg.HTTP.Port = uint16(port)
	app, _ := newTestApplication(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx, app.Mount()) }()

	url := "http://" + cfg.HTTP.Addr() + "/api/health"
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	rec := httptest.NewRecorder()
	app.handlers.Health.GetHealth(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("health after shutdown = %d, want 503", rec.Code)
	}
}

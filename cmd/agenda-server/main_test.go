package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinica/agenda/internal/config"
	"github.com/clinica/agenda/internal/domain/agenda"
	"github.com/clinica/agenda/internal/platform/db"
	"github.com/clinica/agenda/internal/platform/localcache"
	"github.com/clinica/agenda/internal/platform/middleware"
	"github.com/clinica/agenda/internal/platform/remote"
	"github.com/clinica/agenda/internal/platform/websocket"
)

func devConfig() *config.Config {
	return &config.Config{
		Port:                  "8000",
		Env:                   "development",
		RemoteMode:            config.RemoteNone,
		CacheDir:              "unused",
		CORSOrigins:           []string{"http://localhost:3000"},
		RateLimitRPS:          50,
		RateLimitBurst:        100,
		BookingConflictPolicy: "allow",
	}
}

func newTestCoordinator(t *testing.T) *agenda.Coordinator {
	t.Helper()
	cache, err := localcache.OpenMemory()
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	coord, err := agenda.New(agenda.Deps{Cache: cache, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		coord.Close(ctx)
	})
	return coord
}

func serve(t *testing.T, cfg *config.Config, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	coord := newTestCoordinator(t)
	e := newServer(cfg, zerolog.Nop(), coord, websocket.NewHub(zerolog.Nop()), nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestNewServer_Health(t *testing.T) {
	rec := serve(t, devConfig(), http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("expected request id header")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers")
	}
}

func TestNewServer_DevStatusIsOffline(t *testing.T) {
	rec := serve(t, devConfig(), http.MethodGet, "/api/v1/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var state agenda.SyncState
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if state.Status != agenda.StatusOffline {
		t.Errorf("expected offline, got %s", state.Status)
	}
	if rec.Header().Get("X-RateLimit-Limit") != "50" {
		t.Errorf("expected rate limit header, got %q", rec.Header().Get("X-RateLimit-Limit"))
	}
}

func TestNewServer_ProductionRequiresToken(t *testing.T) {
	cfg := devConfig()
	cfg.Env = "production"
	cfg.AuthSigningKey = "secret"

	rec := serve(t, cfg, http.MethodGet, "/api/v1/patients")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	// Health stays outside authentication.
	rec = serve(t, cfg, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for health, got %d", rec.Code)
	}
}

func TestNewServer_RoutesWebsocket(t *testing.T) {
	coord := newTestCoordinator(t)
	e := newServer(devConfig(), zerolog.Nop(), coord, websocket.NewHub(zerolog.Nop()), nil)
	for _, r := range e.Routes() {
		if r.Method == http.MethodGet && r.Path == "/api/v1/ws" {
			return
		}
	}
	t.Fatal("expected GET /api/v1/ws")
}

func TestNewRemote(t *testing.T) {
	ctx := context.Background()

	store, pool, err := newRemote(ctx, &config.Config{RemoteMode: config.RemoteNone})
	if err != nil || store != nil || pool != nil {
		t.Fatalf("expected offline, got %v %v %v", store, pool, err)
	}

	store, pool, err = newRemote(ctx, &config.Config{RemoteRESTURL: "http://backend.local"})
	if err != nil || pool != nil {
		t.Fatalf("unexpected rest setup: %v %v", pool, err)
	}
	if _, ok := store.(*remote.REST); !ok {
		t.Fatalf("expected REST store, got %T", store)
	}

	_, _, err = newRemote(ctx, &config.Config{RemoteMode: config.RemotePostgres, DatabaseURL: "postgres://agenda@db.local:notaport/agenda"})
	if err == nil {
		t.Fatal("expected error for an invalid database url")
	}
}

func TestPrintStatuses(t *testing.T) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	at := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	printStatuses(cmd, "public", []db.MigrationStatus{
		{Version: 1, Name: "001_core.sql", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "002_more.sql"},
	})

	out := buf.String()
	if !strings.Contains(out, "schema: public") {
		t.Errorf("expected schema line, got %s", out)
	}
	if !strings.Contains(out, "applied    2024-03-01 09:30:00") {
		t.Errorf("expected applied row, got %s", out)
	}
	if !strings.Contains(out, "002_more.sql") || !strings.Contains(out, "pending") {
		t.Errorf("expected pending row, got %s", out)
	}
}

func TestMigrateCmd_Subcommands(t *testing.T) {
	cmd := migrateCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
		if f := sub.Flags().Lookup("schema"); f == nil || f.DefValue != db.DefaultSchema {
			t.Errorf("%s: expected --schema defaulting to %s", sub.Name(), db.DefaultSchema)
		}
	}
	if !names["up"] || !names["status"] {
		t.Errorf("expected up and status subcommands, got %v", names)
	}
}

package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jmhodges/clock"

	"github.com/dukerupert/dosekeeper/internal/config"
	"github.com/dukerupert/dosekeeper/internal/database"
)

const secret = "app-secret"

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// Monday 2024-01-01 08:00 UTC
var start = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

func backend(t *testing.T, clk clock.Clock) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		now := clk.Now()
		token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		}).SignedString([]byte(secret))
		json.NewEncoder(w).Encode(map[string]string{"token": token})
	})
	mux.HandleFunc("GET /medicine-reminders", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`[{"id":"L1","medicine_id":"m1","time_of_day":"09:00","frequency":"daily","is_active":true}]`))
	})
	mux.HandleFunc("GET /medicines", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":"m1","name":"Ibuprofen"}]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func setupApp(t *testing.T) (*App, http.Handler) {
	t.Helper()
	clk := clock.NewFake()
	clk.Set(start)

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.API.BaseURL = backend(t, clk).URL
	cfg.API.Standalone = false
	cfg.Session.VerifyKey = secret

	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	a, err := New(cfg, db, clk, discard)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a, a.Handler()
}

func call(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type timeline struct {
	Entries []struct {
		Reminder struct {
			ID    string `json:"id"`
			Kind  string `json:"source_kind"`
			Label string `json:"label"`
		} `json:"reminder"`
		State string `json:"state"`
	} `json:"entries"`
	Badge   int    `json:"badge"`
	Session string `json:"session"`
}

func getTimeline(t *testing.T, a *App, h http.Handler) timeline {
	t.Helper()
	a.Engine.Tick(context.Background())
	rec := call(t, h, "GET", "/api/timeline", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("timeline status = %d", rec.Code)
	}
	var tl timeline
	if err := json.NewDecoder(rec.Body).Decode(&tl); err != nil {
		t.Fatalf("decode timeline: %v", err)
	}
	return tl
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	a, h := setupApp(t)

	rec := call(t, h, "POST", "/api/reminders",
		`{"source_kind":"standalone","label":"Stretch","time_of_day":"08:00","frequency":"daily","is_active":true}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create standalone: status = %d body = %s", rec.Code, rec.Body)
	}

	tl := getTimeline(t, a, h)
	if len(tl.Entries) != 1 || tl.Entries[0].State != "due" {
		t.Fatalf("entries = %+v, want one due standalone", tl.Entries)
	}
	if tl.Badge != 1 || tl.Session != "no_credential" {
		t.Errorf("badge = %d session = %q", tl.Badge, tl.Session)
	}

	rec = call(t, h, "POST", "/api/reminders",
		`{"source_kind":"linked","medicine_id":"m1","time_of_day":"10:00","frequency":"daily","is_active":true}`)
	if rec.Code != http.StatusUnauthorized || !strings.Contains(rec.Body.String(), "unauthenticated") {
		t.Errorf("linked create signed out: status = %d body = %s", rec.Code, rec.Body)
	}

	rec = call(t, h, "POST", "/api/session/login", `{"email":"a@b.c","password":"wrong"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad login: status = %d, want 401", rec.Code)
	}

	rec = call(t, h, "POST", "/api/session/login", `{"email":"a@b.c","password":"pw"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status = %d body = %s", rec.Code, rec.Body)
	}

	tl = getTimeline(t, a, h)
	if len(tl.Entries) != 2 {
		t.Fatalf("entries after login = %+v, want 2", tl.Entries)
	}
	linked := tl.Entries[1]
	if linked.Reminder.Kind != "linked" || linked.Reminder.Label != "Ibuprofen" || linked.State != "upcoming" {
		t.Errorf("linked entry = %+v", linked)
	}

	rec = call(t, h, "POST", "/api/session/logout", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout: status = %d", rec.Code)
	}

	tl = getTimeline(t, a, h)
	if len(tl.Entries) != 1 || tl.Entries[0].Reminder.Kind != "standalone" {
		t.Errorf("entries after logout = %+v, want only the standalone reminder", tl.Entries)
	}
}

func TestMarkTakenOverHTTP(t *testing.T) {
	a, h := setupApp(t)

	rec := call(t, h, "POST", "/api/reminders",
		`{"source_kind":"standalone","label":"Stretch","time_of_day":"08:00","frequency":"daily","is_active":true}`)
	var created struct {
		ID string `json:"id"`
	}
	json.NewDecoder(rec.Body).Decode(&created)
	if created.ID == "" {
		t.Fatalf("create returned no id: %s", rec.Body)
	}

	rec = call(t, h, "POST", "/api/reminders/standalone/"+created.ID+"/taken", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("taken: status = %d body = %s", rec.Code, rec.Body)
	}

	tl := getTimeline(t, a, h)
	if len(tl.Entries) != 1 || tl.Entries[0].State != "taken" {
		t.Errorf("entries = %+v, want taken", tl.Entries)
	}
	if tl.Badge != 0 {
		t.Errorf("badge = %d, want 0", tl.Badge)
	}
}

func TestStartStop(t *testing.T) {
	a, _ := setupApp(t)
	a.Start(context.Background())
	a.Stop()
}

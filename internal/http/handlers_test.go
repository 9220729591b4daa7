package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/example/darbak/internal/catalog"
	"github.com/example/darbak/internal/directory"
	"github.com/example/darbak/internal/lifecycle"
	"github.com/example/darbak/internal/notify"
	"github.com/example/darbak/internal/observability"
	"github.com/example/darbak/internal/session"
	"github.com/example/darbak/internal/storage"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := directory.NewMemory()
	store := storage.NewMemoryStore(dir)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(Deps{
		Engine:   &lifecycle.Engine{Store: store, Dir: dir, Logger: logger},
		Dir:      dir,
		Store:    store,
		Sessions: session.NewMemoryStore(),
		Catalog:  catalog.Default(),
		WSReg:    notify.NewWSRegistry(),
		Logger:   logger,
	})
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

func registerClient(t *testing.T, srv *Server, id int64) {
	t.Helper()
	w := doJSON(t, srv, "POST", "/api/v1/users", map[string]any{
		"id":            id,
		"role":          "client",
		"full_name":     "سارة أحمد الغامدي",
		"phone":         "0541234567",
		"city":          "الرياض",
		"neighborhoods": []string{"النزهة"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register client: status=%d body=%s", w.Code, w.Body.String())
	}
}

func registerCaptain(t *testing.T, srv *Server, id int64) {
	t.Helper()
	w := doJSON(t, srv, "POST", "/api/v1/users", map[string]any{
		"id":            id,
		"role":          "captain",
		"full_name":     "خالد سعود المطيري",
		"phone":         "0534567890",
		"car_model":     "Camry",
		"car_plate":     "أ ب ج 111",
		"seats":         4,
		"city":          "الرياض",
		"neighborhoods": []string{"النزهة", "الملز", "العليا"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register captain: status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestRegister_Validation(t *testing.T) {
	srv := newTestServer(t)

	cases := []struct {
		name string
		body map[string]any
	}{
		{"bad phone", map[string]any{"id": 1, "role": "client", "full_name": "سارة أحمد الغامدي", "phone": "123", "city": "الرياض", "neighborhoods": []string{"النزهة"}}},
		{"short name", map[string]any{"id": 1, "role": "client", "full_name": "سارة", "phone": "0541234567", "city": "الرياض", "neighborhoods": []string{"النزهة"}}},
		{"bad role", map[string]any{"id": 1, "role": "driver", "full_name": "سارة أحمد الغامدي", "phone": "0541234567", "city": "الرياض", "neighborhoods": []string{"النزهة"}}},
		{"bad city", map[string]any{"id": 1, "role": "client", "full_name": "سارة أحمد الغامدي", "phone": "0541234567", "city": "دبي", "neighborhoods": []string{"النزهة"}}},
		{"two neighborhoods for client", map[string]any{"id": 1, "role": "client", "full_name": "سارة أحمد الغامدي", "phone": "0541234567", "city": "الرياض", "neighborhoods": []string{"النزهة", "الملز"}}},
		{"missing id", map[string]any{"role": "client", "full_name": "سارة أحمد الغامدي", "phone": "0541234567", "city": "الرياض", "neighborhoods": []string{"النزهة"}}},
	}
	for _, tc := range cases {
		if w := doJSON(t, srv, "POST", "/api/v1/users", tc.body); w.Code != http.StatusBadRequest {
			t.Fatalf("%s: status=%d body=%s", tc.name, w.Code, w.Body.String())
		}
	}
}

func TestMatchLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	registerClient(t, srv, 1)
	registerCaptain(t, srv, 2)

	w := doJSON(t, srv, "POST", "/api/v1/matches", map[string]any{
		"client_id": 1, "captain_id": 2, "destination": "المطار",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status=%d body=%s", w.Code, w.Body.String())
	}
	var created struct {
		MatchID int64 `json:"match_id"`
	}
	decode(t, w, &created)

	// duplicate while open
	w = doJSON(t, srv, "POST", "/api/v1/matches", map[string]any{
		"client_id": 1, "captain_id": 2, "destination": "المطار",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate: status=%d body=%s", w.Code, w.Body.String())
	}

	base := fmt.Sprintf("/api/v1/matches/%d", created.MatchID)
	for _, step := range []struct {
		path string
		body any
	}{
		{base + "/respond", map[string]any{"accept": true}},
		{base + "/confirm", nil},
		{base + "/complete", nil},
	} {
		if w := doJSON(t, srv, "POST", step.path, step.body); w.Code != http.StatusOK {
			t.Fatalf("%s: status=%d body=%s", step.path, w.Code, w.Body.String())
		}
	}

	// completing twice conflicts
	if w := doJSON(t, srv, "POST", base+"/complete", nil); w.Code != http.StatusConflict {
		t.Fatalf("double complete: status=%d body=%s", w.Code, w.Body.String())
	}

	w = doJSON(t, srv, "POST", base+"/rating", map[string]any{"stars": 5, "comment": "ممتاز"})
	if w.Code != http.StatusOK {
		t.Fatalf("rating: status=%d body=%s", w.Code, w.Body.String())
	}
	var sum struct {
		Average float64 `json:"average"`
		Count   int     `json:"count"`
	}
	decode(t, w, &sum)
	if sum.Count != 1 || sum.Average != 5 {
		t.Fatalf("summary=%+v", sum)
	}
}

func TestMatch_NotFoundAndBadStars(t *testing.T) {
	srv := newTestServer(t)
	registerClient(t, srv, 1)
	registerCaptain(t, srv, 2)

	if w := doJSON(t, srv, "GET", "/api/v1/matches/99", nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing match: status=%d", w.Code)
	}
	if w := doJSON(t, srv, "POST", "/api/v1/matches/99/respond", map[string]any{"accept": true}); w.Code != http.StatusNotFound {
		t.Fatalf("respond to missing match: status=%d", w.Code)
	}

	w := doJSON(t, srv, "POST", "/api/v1/matches", map[string]any{"client_id": 1, "captain_id": 2})
	var created struct {
		MatchID int64 `json:"match_id"`
	}
	decode(t, w, &created)
	path := fmt.Sprintf("/api/v1/matches/%d/rating", created.MatchID)
	if w := doJSON(t, srv, "POST", path, map[string]any{"stars": 9}); w.Code != http.StatusBadRequest {
		t.Fatalf("bad stars: status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestFindCaptainsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	registerClient(t, srv, 1)
	registerCaptain(t, srv, 2)
	registerCaptain(t, srv, 3)

	w := doJSON(t, srv, "GET", "/api/v1/captains?city=الرياض&neighborhood=النزهة", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("captains: status=%d body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		Captains []struct {
			User struct {
				ID int64 `json:"id"`
			} `json:"user"`
		} `json:"captains"`
	}
	decode(t, w, &resp)
	if len(resp.Captains) != 2 || resp.Captains[0].User.ID != 2 {
		t.Fatalf("captains=%+v", resp.Captains)
	}

	if w := doJSON(t, srv, "GET", "/api/v1/captains?city=الرياض", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("missing neighborhood param: status=%d", w.Code)
	}
}

func TestAvailabilityToggle(t *testing.T) {
	srv := newTestServer(t)
	registerClient(t, srv, 1)
	registerCaptain(t, srv, 2)

	if w := doJSON(t, srv, "POST", "/api/v1/users/2/availability", map[string]any{"available": false}); w.Code != http.StatusNoContent {
		t.Fatalf("toggle: status=%d", w.Code)
	}

	// booked captains disappear from search
	w := doJSON(t, srv, "GET", "/api/v1/captains?city=الرياض&neighborhood=النزهة", nil)
	var resp struct {
		Captains []json.RawMessage `json:"captains"`
	}
	decode(t, w, &resp)
	if len(resp.Captains) != 0 {
		t.Fatalf("expected no captains, got %d", len(resp.Captains))
	}

	// and a request against one is refused
	if w := doJSON(t, srv, "POST", "/api/v1/matches", map[string]any{"client_id": 1, "captain_id": 2}); w.Code != http.StatusConflict {
		t.Fatalf("request to unavailable captain: status=%d", w.Code)
	}
}

func TestAvailabilityGaugeTracksRealFlips(t *testing.T) {
	srv := newTestServer(t)
	registerClient(t, srv, 1)
	registerCaptain(t, srv, 2)

	// shared registry, so assert on deltas from wherever the gauge starts
	base := testutil.ToFloat64(observability.CaptainsAvailable)

	if w := doJSON(t, srv, "POST", "/api/v1/users/2/availability", map[string]any{"available": false}); w.Code != http.StatusNoContent {
		t.Fatalf("book captain: status=%d", w.Code)
	}
	if got := testutil.ToFloat64(observability.CaptainsAvailable); got != base-1 {
		t.Fatalf("gauge after booking = %v, want %v", got, base-1)
	}

	// repeating the same value is a no-op
	if w := doJSON(t, srv, "POST", "/api/v1/users/2/availability", map[string]any{"available": false}); w.Code != http.StatusNoContent {
		t.Fatalf("repeat booking: status=%d", w.Code)
	}
	if got := testutil.ToFloat64(observability.CaptainsAvailable); got != base-1 {
		t.Fatalf("gauge after repeat = %v, want %v", got, base-1)
	}

	// clients never move the captain gauge
	if w := doJSON(t, srv, "POST", "/api/v1/users/1/availability", map[string]any{"available": false}); w.Code != http.StatusNoContent {
		t.Fatalf("toggle client: status=%d", w.Code)
	}
	if got := testutil.ToFloat64(observability.CaptainsAvailable); got != base-1 {
		t.Fatalf("gauge after client toggle = %v, want %v", got, base-1)
	}

	if w := doJSON(t, srv, "POST", "/api/v1/users/2/availability", map[string]any{"available": true}); w.Code != http.StatusNoContent {
		t.Fatalf("release captain: status=%d", w.Code)
	}
	if got := testutil.ToFloat64(observability.CaptainsAvailable); got != base {
		t.Fatalf("gauge after release = %v, want %v", got, base)
	}
}

func TestEditProfileEndpoint(t *testing.T) {
	srv := newTestServer(t)
	registerCaptain(t, srv, 2)

	w := doJSON(t, srv, "PATCH", "/api/v1/users/2/profile", map[string]any{
		"phone": "0599887766",
		"car":   map[string]any{"model": "Sonata", "plate": "د و س 9876"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("edit: status=%d body=%s", w.Code, w.Body.String())
	}
	var u struct {
		Phone    string `json:"phone"`
		CarModel string `json:"car_model"`
	}
	decode(t, w, &u)
	if u.Phone != "0599887766" || u.CarModel != "Sonata" {
		t.Fatalf("user=%+v", u)
	}

	if w := doJSON(t, srv, "PATCH", "/api/v1/users/2/profile", map[string]any{"phone": "123"}); w.Code != http.StatusBadRequest {
		t.Fatalf("bad phone: status=%d", w.Code)
	}
	if w := doJSON(t, srv, "PATCH", "/api/v1/users/42/profile", map[string]any{"phone": "0599887766"}); w.Code != http.StatusNotFound {
		t.Fatalf("missing user: status=%d", w.Code)
	}
}

func TestRegistrationDialogueOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, "POST", "/api/v1/dialogue/7/start", map[string]any{"mode": "registration"})
	if w.Code != http.StatusCreated {
		t.Fatalf("start: status=%d body=%s", w.Code, w.Body.String())
	}

	inputs := []string{
		"captain", "monthly", "خالد سعود المطيري", "0534567890",
		"Elantra", "ر ق م 4321", "4", "agree", "الرياض",
		"النزهة", "الملز", "العليا",
	}
	var last *httptest.ResponseRecorder
	for _, in := range inputs {
		last = doJSON(t, srv, "POST", "/api/v1/dialogue/7/input", map[string]any{"value": in})
		if last.Code != http.StatusOK {
			t.Fatalf("input %q: status=%d body=%s", in, last.Code, last.Body.String())
		}
	}
	var resp struct {
		Step string `json:"step"`
		User struct {
			ID        int64 `json:"id"`
			Available bool  `json:"available"`
		} `json:"user"`
	}
	decode(t, last, &resp)
	if resp.Step != "done" || resp.User.ID != 7 || !resp.User.Available {
		t.Fatalf("final response=%+v", resp)
	}

	// the session is gone once the dialogue completes
	if w := doJSON(t, srv, "POST", "/api/v1/dialogue/7/input", map[string]any{"value": "x"}); w.Code != http.StatusNotFound {
		t.Fatalf("input after done: status=%d", w.Code)
	}
}

func TestDialogue_InvalidInputKeepsSession(t *testing.T) {
	srv := newTestServer(t)

	doJSON(t, srv, "POST", "/api/v1/dialogue/8/start", map[string]any{"mode": "registration"})

	if w := doJSON(t, srv, "POST", "/api/v1/dialogue/8/input", map[string]any{"value": "driver"}); w.Code != http.StatusBadRequest {
		t.Fatalf("invalid role: status=%d", w.Code)
	}
	// still on the first step, a valid answer proceeds
	w := doJSON(t, srv, "POST", "/api/v1/dialogue/8/input", map[string]any{"value": "client"})
	if w.Code != http.StatusOK {
		t.Fatalf("valid role after retry: status=%d body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		Step string `json:"step"`
	}
	decode(t, w, &resp)
	if resp.Step != "subscription" {
		t.Fatalf("step=%s, want subscription", resp.Step)
	}

	if w := doJSON(t, srv, "DELETE", "/api/v1/dialogue/8", nil); w.Code != http.StatusNoContent {
		t.Fatalf("cancel dialogue: status=%d", w.Code)
	}
	if w := doJSON(t, srv, "POST", "/api/v1/dialogue/8/input", map[string]any{"value": "daily"}); w.Code != http.StatusNotFound {
		t.Fatalf("input after cancel: status=%d", w.Code)
	}
}

func TestCatalogEndpoints(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, "GET", "/api/v1/catalog/cities", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cities: status=%d", w.Code)
	}
	var cities struct {
		Cities []string `json:"cities"`
	}
	decode(t, w, &cities)
	if len(cities.Cities) == 0 {
		t.Fatal("no cities returned")
	}

	w = doJSON(t, srv, "GET", "/api/v1/catalog/cities/الرياض/neighborhoods", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("neighborhoods: status=%d body=%s", w.Code, w.Body.String())
	}

	if w := doJSON(t, srv, "GET", "/api/v1/catalog/cities/دبي/neighborhoods", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown city: status=%d", w.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	registerClient(t, srv, 1)
	registerCaptain(t, srv, 2)

	w := doJSON(t, srv, "POST", "/api/v1/matches", map[string]any{"client_id": 1, "captain_id": 2})
	var created struct {
		MatchID int64 `json:"match_id"`
	}
	decode(t, w, &created)

	w = doJSON(t, srv, "GET", "/api/v1/users/1/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats: status=%d body=%s", w.Code, w.Body.String())
	}
	var st struct {
		TotalRequests int `json:"total_requests"`
		PendingTrips  int `json:"pending_trips"`
	}
	decode(t, w, &st)
	if st.TotalRequests != 1 || st.PendingTrips != 1 {
		t.Fatalf("stats=%+v", st)
	}
}

package web

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ezville-go-home/internal/coordinator"
	"ezville-go-home/internal/protocol"
	"ezville-go-home/internal/store"
	"ezville-go-home/internal/transport"
)

func setupTestServer(t *testing.T, apiKey string) (*Server, *store.BoltStore, *coordinator.Coordinator) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := store.NewBoltStore(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	events := coordinator.NewEventBus(logger)
	coord := coordinator.New(transport.Config{}, db, events, coordinator.Config{}, logger)

	opts := []ServerOption{WithVersion("test")}
	if apiKey != "" {
		opts = append(opts, WithAPIKey(apiKey))
	}
	srv := NewServer(coord, logger, opts...)
	t.Cleanup(srv.Stop)

	return srv, db, coord
}

func seedState(t *testing.T, coord *coordinator.Coordinator, ev protocol.Event) {
	t.Helper()
	now := time.Now()
	coord.States().Seed(ev, now, now)
}

func seedStored(t *testing.T, db *store.BoltStore, key, family, name string) {
	t.Helper()
	now := time.Now()
	if err := db.SaveDevice(&store.Device{
		Key:       key,
		Family:    family,
		Name:      name,
		State:     json.RawMessage(`{}`),
		FirstSeen: now,
		LastSeen:  now,
	}); err != nil {
		t.Fatal(err)
	}
}

func TestAPIListDevices(t *testing.T) {
	srv, _, coord := setupTestServer(t, "")
	seedState(t, coord, protocol.LightState{Room: 1, Num: 2, On: true})
	seedState(t, coord, protocol.GasState{Closed: true})

	req := httptest.NewRequest("GET", "/api/devices", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var devices []struct {
		Key    string `json:"key"`
		Family string `json:"family"`
	}
	if err := json.NewDecoder(w.Body).Decode(&devices); err != nil {
		t.Fatal(err)
	}
	if len(devices) != 2 {
		t.Fatalf("device count = %d, want 2", len(devices))
	}
	if devices[0].Key != "light_1_2" || devices[0].Family != "light" {
		t.Errorf("first device = %+v", devices[0])
	}
	if devices[1].Key != "gas" {
		t.Errorf("second device key = %q, want gas", devices[1].Key)
	}
}

func TestAPIListDevicesNames(t *testing.T) {
	srv, db, coord := setupTestServer(t, "")
	seedState(t, coord, protocol.LightState{Room: 1, Num: 2, On: true})
	seedStored(t, db, "light_1_2", "light", "Kitchen Light")

	req := httptest.NewRequest("GET", "/api/devices", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var devices []struct {
		Key  string `json:"key"`
		Name string `json:"name"`
	}
	if err := json.NewDecoder(w.Body).Decode(&devices); err != nil {
		t.Fatal(err)
	}
	if len(devices) != 1 {
		t.Fatalf("device count = %d, want 1", len(devices))
	}
	if devices[0].Name != "Kitchen Light" {
		t.Errorf("name = %q, want Kitchen Light", devices[0].Name)
	}
}

func TestAPIGetDevice(t *testing.T) {
	srv, _, coord := setupTestServer(t, "")
	seedState(t, coord, protocol.LightState{Room: 1, Num: 2, On: true})

	req := httptest.NewRequest("GET", "/api/devices/light_1_2", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var dev struct {
		Key    string                 `json:"key"`
		Family string                 `json:"family"`
		State  map[string]interface{} `json:"state"`
	}
	if err := json.NewDecoder(w.Body).Decode(&dev); err != nil {
		t.Fatal(err)
	}
	if dev.Key != "light_1_2" {
		t.Errorf("key = %q", dev.Key)
	}
	if dev.State["on"] != true {
		t.Errorf("state.on = %v, want true", dev.State["on"])
	}
}

func TestAPIGetDeviceNotFound(t *testing.T) {
	srv, _, _ := setupTestServer(t, "")

	req := httptest.NewRequest("GET", "/api/devices/light_9_9", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestAPIRenameDevice(t *testing.T) {
	srv, db, _ := setupTestServer(t, "")
	seedStored(t, db, "light_1_2", "light", "")

	body := `{"name": "Kitchen Light"}`
	req := httptest.NewRequest("PATCH", "/api/devices/light_1_2", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["name"] != "Kitchen Light" {
		t.Errorf("name = %q, want Kitchen Light", resp["name"])
	}

	// Verify device was updated in store.
	dev, err := db.GetDevice("light_1_2")
	if err != nil {
		t.Fatal(err)
	}
	if dev.Name != "Kitchen Light" {
		t.Errorf("stored name = %q, want Kitchen Light", dev.Name)
	}
}

func TestAPIRenameDeviceNotFound(t *testing.T) {
	srv, _, _ := setupTestServer(t, "")

	body := `{"name": "Test"}`
	req := httptest.NewRequest("PATCH", "/api/devices/light_9_9", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestAPIForgetDevice(t *testing.T) {
	srv, db, coord := setupTestServer(t, "")
	seedState(t, coord, protocol.LightState{Room: 1, Num: 2, On: true})
	seedStored(t, db, "light_1_2", "light", "")

	req := httptest.NewRequest("DELETE", "/api/devices/light_1_2", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
	}

	if _, err := db.GetDevice("light_1_2"); err == nil {
		t.Error("expected device to be deleted from store")
	}
	if _, ok := coord.States().Get("light_1_2"); ok {
		t.Error("expected device to be dropped from live state")
	}
}

func TestAPIForgetDeviceNotFound(t *testing.T) {
	srv, _, _ := setupTestServer(t, "")

	req := httptest.NewRequest("DELETE", "/api/devices/light_9_9", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestAPIDeviceCommand(t *testing.T) {
	srv, _, coord := setupTestServer(t, "")

	body := `{"power": "on"}`
	req := httptest.NewRequest("POST", "/api/devices/light_1_2/command", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
	}
	if n := coord.PendingCommands(); n != 1 {
		t.Errorf("pending commands = %d, want 1", n)
	}
}

func TestAPIDeviceCommandThermostat(t *testing.T) {
	srv, _, coord := setupTestServer(t, "")

	body := `{"mode": "heat", "target": 24}`
	req := httptest.NewRequest("POST", "/api/devices/thermostat_1/command", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
	}
	if n := coord.PendingCommands(); n != 2 {
		t.Errorf("pending commands = %d, want 2", n)
	}
}

func TestAPIDeviceCommandValidation(t *testing.T) {
	srv, _, _ := setupTestServer(t, "")

	tests := []struct {
		name string
		key  string
		body string
		want int
	}{
		{"bad json", "light_1_2", `not json`, http.StatusBadRequest},
		{"empty body", "light_1_2", `{}`, http.StatusBadRequest},
		{"bad value type", "light_1_2", `{"power": []}`, http.StatusBadRequest},
		{"bad dual id", "light_9", `{"power": "on"}`, http.StatusBadRequest},
		{"unknown family", "rocket_1", `{"power": "on"}`, http.StatusNotFound},
		{"gas open refused", "gas", `{"valve": "OPEN"}`, http.StatusBadRequest},
		{"read-only attribute", "energy", `{"power": 100}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/devices/"+tt.key+"/command", bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()
			srv.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d, body = %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestAPIEvents(t *testing.T) {
	srv, _, coord := setupTestServer(t, "")

	req := httptest.NewRequest("GET", "/api/events", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var events []json.RawMessage
	if err := json.NewDecoder(w.Body).Decode(&events); err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Fatalf("event count = %d, want 0", len(events))
	}

	coord.Events().Emit(coordinator.Event{
		Type:   coordinator.EventStateUpdate,
		Family: protocol.FamilyLight,
		Key:    "light_1_2",
		State:  protocol.LightState{Room: 1, Num: 2, On: true},
		At:     time.Now(),
	})

	req = httptest.NewRequest("GET", "/api/events", nil)
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	var after []struct {
		Type string `json:"type"`
		Key  string `json:"key"`
	}
	if err := json.NewDecoder(w.Body).Decode(&after); err != nil {
		t.Fatal(err)
	}
	if len(after) != 1 {
		t.Fatalf("event count = %d, want 1", len(after))
	}
	if after[0].Type != "state_update" || after[0].Key != "light_1_2" {
		t.Errorf("event = %+v", after[0])
	}
}

func TestEventLogCap(t *testing.T) {
	l := newEventLog(3)
	for i := 0; i < 5; i++ {
		l.add(coordinator.Event{Key: string(rune('a' + i))})
	}
	got := l.snapshot()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Key != "c" || got[2].Key != "e" {
		t.Errorf("window = [%s..%s], want [c..e]", got[0].Key, got[2].Key)
	}
}

func TestAPIStats(t *testing.T) {
	srv, _, _ := setupTestServer(t, "")

	req := httptest.NewRequest("GET", "/api/stats", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var info map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&info); err != nil {
		t.Fatal(err)
	}
	if info["counters"] == nil {
		t.Error("expected 'counters' in stats")
	}
	if info["capabilities"] == nil {
		t.Error("expected 'capabilities' in stats")
	}
}

func TestAPISendRaw(t *testing.T) {
	srv, _, coord := setupTestServer(t, "")

	body := `{"frame": "F7 0E 11 41 03 01 01 00 00 00"}`
	req := httptest.NewRequest("POST", "/api/send", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
	}
	if n := coord.PendingCommands(); n != 1 {
		t.Errorf("pending commands = %d, want 1", n)
	}
}

func TestAPISendRawInvalid(t *testing.T) {
	srv, _, _ := setupTestServer(t, "")

	body := `{"frame": "zz"}`
	req := httptest.NewRequest("POST", "/api/send", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAPIPoll(t *testing.T) {
	srv, _, coord := setupTestServer(t, "")

	req := httptest.NewRequest("POST", "/api/poll", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if n := coord.PendingCommands(); n == 0 {
		t.Error("expected poll round to queue state requests")
	}
}

func TestAPIHealth(t *testing.T) {
	srv, _, _ := setupTestServer(t, "")

	req := httptest.NewRequest("GET", "/api/health", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status = %q, want ok", resp["status"])
	}
}

func TestAPIVersion(t *testing.T) {
	srv, _, _ := setupTestServer(t, "")

	req := httptest.NewRequest("GET", "/api/version", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["version"] != "test" {
		t.Errorf("version = %q, want test", resp["version"])
	}
}

func TestAuthMiddlewareHeader(t *testing.T) {
	srv, _, _ := setupTestServer(t, "secret-key")

	// With correct key via header.
	req := httptest.NewRequest("GET", "/api/devices", nil)
	req.Header.Set("X-API-Key", "secret-key")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("correct header key: status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestAuthMiddlewareQueryParam(t *testing.T) {
	srv, _, _ := setupTestServer(t, "secret-key")

	// With correct key via query param.
	req := httptest.NewRequest("GET", "/api/devices?api_key=secret-key", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("correct query key: status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestAuthMiddlewareMissing(t *testing.T) {
	srv, _, _ := setupTestServer(t, "secret-key")

	// Missing key.
	req := httptest.NewRequest("GET", "/api/devices", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("missing key: status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAuthMiddlewareWrongKey(t *testing.T) {
	srv, _, _ := setupTestServer(t, "secret-key")

	req := httptest.NewRequest("GET", "/api/devices", nil)
	req.Header.Set("X-API-Key", "wrong-key")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

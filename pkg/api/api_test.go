package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/coop-transport/controller/domain/status"
	"github.com/coop-transport/controller/pkg/clock"
	"github.com/coop-transport/controller/pkg/fleet"
	"github.com/coop-transport/controller/pkg/fsm"
	customlog "github.com/coop-transport/controller/pkg/log"
	"github.com/coop-transport/controller/pkg/mission"
	"github.com/coop-transport/controller/pkg/store"
	"github.com/coop-transport/controller/services"
)

type testEnv struct {
	app     *fiber.App
	config  services.MissionConfigService
	history *store.Store
	coord   *fleet.Coordinator
	status  *status.StatusService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	logger := customlog.NewDiscardLogger()

	configPath := filepath.Join(dir, "mission_config.yaml")
	if err := os.WriteFile(configPath, []byte("config_id: \"api-test\"\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	configService, err := services.NewMissionConfigService(configPath, logger)
	if err != nil {
		t.Fatalf("NewMissionConfigService: %v", err)
	}
	history, err := store.NewStore(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { history.Close() })

	broadcast := fleet.BroadcasterFunc(func(context.Context, fleet.TurnAnnouncement) error { return nil })
	coord := fleet.NewCoordinator(broadcast, clock.NewStepped(time.Unix(0, 0)), logger, fleet.Options{})
	statusService := status.NewStatusService(2, logger)

	app := NewApp("test")
	RegisterRoutes(app, Services{
		RobotIndex:  2,
		Status:      statusService,
		Coordinator: coord,
		Config:      configService,
		History:     history,
	}, logger)

	return &testEnv{app: app, config: configService, history: history, coord: coord, status: statusService}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/x-yaml")
	}
	resp, err := e.app.Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

func TestHealthAndRoot(t *testing.T) {
	e := newTestEnv(t)
	if code, body := e.do(t, "GET", "/health", ""); code != http.StatusOK || !strings.Contains(string(body), "healthy") {
		t.Errorf("GET /health = %d %s", code, body)
	}
	if code, body := e.do(t, "GET", "/", ""); code != http.StatusOK || !strings.Contains(string(body), `"robot_index":2`) {
		t.Errorf("GET / = %d %s", code, body)
	}
}

func TestTurnsEndpoint(t *testing.T) {
	e := newTestEnv(t)
	e.coord.HandleAnnouncement(fleet.TurnAnnouncement{RobotID: 1})
	e.coord.HandleAnnouncement(fleet.TurnAnnouncement{RobotID: 0})

	code, body := e.do(t, "GET", "/api/v1/fleet/turns", "")
	if code != http.StatusOK {
		t.Fatalf("GET turns = %d %s", code, body)
	}
	var got TurnsResponse
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Size != 2 || !got.MyTurn || got.RobotIndex != 2 || len(got.Registered) != 2 {
		t.Errorf("turns = %+v", got)
	}
}

func TestMissionConfigEndpoints(t *testing.T) {
	e := newTestEnv(t)

	code, body := e.do(t, "GET", "/api/v1/config/mission", "")
	if code != http.StatusOK || !strings.Contains(string(body), "api-test") {
		t.Errorf("GET config = %d %s", code, body)
	}

	tests := []struct {
		name string
		body string
		lock bool
		want int
	}{
		{"empty body", "", false, http.StatusBadRequest},
		{"invalid", "robot:\n  angular_sign: 3\n", false, http.StatusBadRequest},
		{"locked by run", "config_id: locked\n", true, http.StatusConflict},
		{"valid", "config_id: updated\n", false, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.lock {
				release := e.config.BeginRun()
				defer release()
			}
			code, body := e.do(t, "PUT", "/api/v1/config/mission", tt.body)
			if code != tt.want {
				t.Errorf("PUT = %d %s, want %d", code, body, tt.want)
			}
		})
	}
	if e.config.GetCurrentConfig().ConfigID != "updated" {
		t.Errorf("config id = %s", e.config.GetCurrentConfig().ConfigID)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	start := time.Unix(100, 0)
	for i, id := range []string{"first", "second"} {
		r := mission.MissionResult{RunID: id, Outcome: mission.OutcomeTransportOK, StartedAt: start.Add(time.Duration(i) * time.Minute)}
		if err := e.history.SaveRun(ctx, r); err != nil {
			t.Fatalf("SaveRun: %v", err)
		}
	}
	if err := e.history.RecordTransition(ctx, fsm.Transition{RunID: "first", Machine: mission.MachineMission, To: mission.StateBoxAttachment}); err != nil {
		t.Fatalf("RecordTransition: %v", err)
	}

	code, body := e.do(t, "GET", "/api/v1/missions/history?limit=1", "")
	if code != http.StatusOK {
		t.Fatalf("GET history = %d %s", code, body)
	}
	var got HistoryResponse
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Runs) != 1 || got.Runs[0].RunID != "second" {
		t.Errorf("history = %+v", got)
	}

	if code, _ := e.do(t, "GET", "/api/v1/missions/history?limit=-1", ""); code != http.StatusBadRequest {
		t.Errorf("negative limit = %d", code)
	}
	if code, body := e.do(t, "GET", "/api/v1/missions/first/transitions", ""); code != http.StatusOK || !strings.Contains(string(body), mission.StateBoxAttachment) {
		t.Errorf("GET transitions = %d %s", code, body)
	}
	if code, _ := e.do(t, "GET", "/api/v1/missions/nope/transitions", ""); code != http.StatusNotFound {
		t.Errorf("unknown run = %d", code)
	}
}

func TestMissionEndpointAndWebSocketGuard(t *testing.T) {
	e := newTestEnv(t)
	e.status.Observe(fsm.Transition{RunID: "r", Machine: mission.MachineMission, To: mission.StateBoxAttachment})

	if code, body := e.do(t, "GET", "/api/v1/mission", ""); code != http.StatusOK || !strings.Contains(string(body), mission.StateBoxAttachment) {
		t.Errorf("GET mission = %d %s", code, body)
	}
	if code, _ := e.do(t, "GET", "/ws/mission", ""); code != http.StatusUpgradeRequired {
		t.Errorf("plain GET /ws/mission = %d, want 426", code)
	}
}

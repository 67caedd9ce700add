package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/coop-transport/controller/pkg/fsm"
	"github.com/coop-transport/controller/pkg/geometry"
	customlog "github.com/coop-transport/controller/pkg/log"
	"github.com/coop-transport/controller/pkg/mission"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStorePersistsRuns(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	base := time.Unix(1_700_000_000, 0).UTC()
	runs := []mission.MissionResult{
		{RunID: "a", RobotIndex: 0, Outcome: mission.OutcomeTransportOK, StartedAt: base, FinishedAt: base.Add(time.Minute),
			Path: geometry.Path{{X: 1, Y: 2}, {X: 3, Y: 4}}},
		{RunID: "b", RobotIndex: 1, Outcome: mission.OutcomeTransportFailed, Error: "plan failed",
			StartedAt: base.Add(time.Hour), FinishedAt: base.Add(time.Hour)},
	}
	for _, r := range runs {
		if err := s.SaveRun(ctx, r); err != nil {
			t.Fatalf("SaveRun(%s): %v", r.RunID, err)
		}
	}

	got, err := s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(got) != 2 || got[0].RunID != "b" || got[1].RunID != "a" {
		t.Fatalf("ListRuns = %+v, want b then a", got)
	}
	if got[0].Error != "plan failed" || got[0].Outcome != mission.OutcomeTransportFailed || len(got[0].Path) != 0 {
		t.Errorf("run b = %+v", got[0])
	}
	if got[1].Path.Len() != 2 || got[1].Path[1].Y != 4 || !got[1].FinishedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("run a = %+v", got[1])
	}

	limited, _ := s.ListRuns(ctx, 1)
	if len(limited) != 1 {
		t.Errorf("ListRuns(1) returned %d", len(limited))
	}

	// Saving again replaces the summary.
	runs[0].Outcome = mission.OutcomeTransportFailed
	if err := s.SaveRun(ctx, runs[0]); err != nil {
		t.Fatalf("SaveRun replace: %v", err)
	}
	a, err := s.GetRun(ctx, "a")
	if err != nil || a.Outcome != mission.OutcomeTransportFailed {
		t.Errorf("GetRun(a) = %+v, %v", a, err)
	}
	if _, err := s.GetRun(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRun(missing) error = %v", err)
	}
}

func TestStoreRecordsTransitions(t *testing.T) {
	s := newStore(t)
	observe := s.Observer(customlog.NewDiscardLogger())

	at := time.Unix(10, 5).UTC()
	observe(fsm.Transition{RunID: "r", Machine: mission.StateBoxAttachment, From: mission.StateWaitForTurn,
		Outcome: mission.OutcomeMyTurn, To: mission.StatePlanTrajectory, At: at})
	observe(fsm.Transition{RunID: "r", Machine: mission.StateBoxAttachment, From: mission.StatePlanTrajectory,
		Outcome: mission.OutcomePlanFailed, To: string(mission.OutcomeAttachmentFailed), At: at, Err: "no path"})
	observe(fsm.Transition{RunID: "other", Machine: mission.MachineMission, At: at})

	got, err := s.Transitions(context.Background(), "r")
	if err != nil {
		t.Fatalf("Transitions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d transitions, want 2", len(got))
	}
	if got[0].Outcome != mission.OutcomeMyTurn || !got[0].At.Equal(at) || got[1].Err != "no path" {
		t.Errorf("transitions = %+v", got)
	}
}

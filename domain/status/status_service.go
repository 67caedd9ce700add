// Package status tracks the mission state machines of this robot for the
// HTTP API and streams transitions to websocket subscribers.
package status

import (
	"sync"

	"github.com/gofiber/fiber/v2"

	"github.com/coop-transport/controller/pkg/fsm"
	customlog "github.com/coop-transport/controller/pkg/log"
	"github.com/coop-transport/controller/pkg/mission"
)

// DefaultHistory is the number of transitions kept per run.
const DefaultHistory = 512

// MissionStatus is the view served by GET /api/v1/mission.
type MissionStatus struct {
	RobotIndex  int                    `json:"robot_index"`
	RunID       string                 `json:"run_id,omitempty"`
	Running     bool                   `json:"running"`
	Current     map[string]string      `json:"current"`
	Transitions []fsm.Transition       `json:"transitions"`
	LastResult  *mission.MissionResult `json:"last_result,omitempty"`
}

// StatusService records transitions and fans them out to subscribers.
// Subscribers get a buffered channel; a transition is dropped for a
// subscriber whose buffer is full.
type StatusService struct {
	robot   int
	history int
	logger  customlog.Logger

	mu          sync.RWMutex
	runID       string
	running     bool
	current     map[string]string
	transitions []fsm.Transition
	lastResult  *mission.MissionResult
	subscribers map[int]chan fsm.Transition
	nextID      int
	dropped     int
}

// NewStatusService creates a status service for robot.
func NewStatusService(robot int, logger customlog.Logger) *StatusService {
	return &StatusService{
		robot:       robot,
		history:     DefaultHistory,
		logger:      logger,
		current:     make(map[string]string),
		subscribers: make(map[int]chan fsm.Transition),
	}
}

// Observe is an fsm.Observer. A transition of a new run resets the log.
func (s *StatusService) Observe(t fsm.Transition) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.RunID != s.runID {
		s.runID = t.RunID
		s.running = true
		s.current = make(map[string]string)
		s.transitions = nil
	}
	s.current[t.Machine] = t.To
	s.transitions = append(s.transitions, t)
	if len(s.transitions) > s.history {
		s.transitions = s.transitions[len(s.transitions)-s.history:]
	}

	for id, ch := range s.subscribers {
		select {
		case ch <- t:
		default:
			s.dropped++
			s.logger.Debugf("Subscriber %d is slow, dropping transition", id)
		}
	}
}

// RecordResult stores the result of a finished run.
func (s *StatusService) RecordResult(r mission.MissionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastResult = &r
	if r.RunID == s.runID {
		s.running = false
	}
}

// Subscribe registers a subscriber with a buffer of size transitions. The
// returned function unsubscribes and closes the channel.
func (s *StatusService) Subscribe(size int) (<-chan fsm.Transition, func()) {
	if size <= 0 {
		size = 1
	}
	ch := make(chan fsm.Transition, size)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subscribers[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// GetStatus returns a copy of the current status.
func (s *StatusService) GetStatus() MissionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := MissionStatus{
		RobotIndex:  s.robot,
		RunID:       s.runID,
		Running:     s.running,
		Current:     make(map[string]string, len(s.current)),
		Transitions: append([]fsm.Transition{}, s.transitions...),
	}
	for k, v := range s.current {
		st.Current[k] = v
	}
	if s.lastResult != nil {
		r := *s.lastResult
		st.LastResult = &r
	}
	return st
}

// Dropped returns how many transitions were dropped for slow subscribers.
func (s *StatusService) Dropped() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}

// GetMissionHandler handles API requests for the mission status
func (s *StatusService) GetMissionHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "success",
		"mission": s.GetStatus(),
	})
}
